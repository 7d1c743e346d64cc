package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/garder500/holystore/pkg/delivery"
	"github.com/garder500/holystore/pkg/storage"
	"github.com/gorilla/mux"
	"github.com/klauspost/compress/gzhttp"
	"github.com/rs/zerolog/log"
)

const (
	// CustomHeader carries the caller JSON stored in the object header.
	CustomHeader = "X-Custom-JSON"
	// ChangelogHeader carries the audit log description of a mutation.
	ChangelogHeader = "X-Changelog"
	// forwardPrefix marks request headers relayed to a push target.
	forwardPrefix = "X-Forward-"
)

// RegisterObjectHandlers registers handlers for object-level operations under /objects.
func RegisterObjectHandlers(r *mux.Router, a *api) {
	r.HandleFunc("/objects", a.insert).Methods(http.MethodPost)
	r.Handle("/objects", gzhttp.GzipHandler(http.HandlerFunc(a.entries))).Methods(http.MethodGet)
	r.HandleFunc("/objects/{id:[0-9]+}", a.update).Methods(http.MethodPut)
	r.HandleFunc("/objects/{id:[0-9]+}", a.remove).Methods(http.MethodDelete)
	r.HandleFunc("/objects/{id:[0-9]+}", a.deliver).Methods(http.MethodGet, http.MethodHead)
	r.Handle("/objects/{id:[0-9]+}/stat", gzhttp.GzipHandler(http.HandlerFunc(a.stat))).Methods(http.MethodGet)
	r.HandleFunc("/objects/{id:[0-9]+}/push", a.push).Methods(http.MethodPost)
}

func writeRequest(req *http.Request) storage.WriteRequest {
	wr := storage.WriteRequest{
		Name:      req.URL.Query().Get("name"),
		Body:      req.Body,
		Changelog: req.Header.Get(ChangelogHeader),
	}
	if c := req.Header.Get(CustomHeader); c != "" {
		wr.Custom = json.RawMessage(c)
	}
	return wr
}

func (a *api) insert(w http.ResponseWriter, req *http.Request) {
	e, err := a.store.Insert(req.Context(), writeRequest(req))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int64{"id": e.ID})
}

func (a *api) update(w http.ResponseWriter, req *http.Request) {
	id, ok := idFromRequest(req)
	if !ok {
		writeError(w, storage.ErrNotFound)
		return
	}
	e, err := a.store.Update(req.Context(), id, writeRequest(req))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (a *api) remove(w http.ResponseWriter, req *http.Request) {
	id, ok := idFromRequest(req)
	if !ok {
		writeError(w, storage.ErrNotFound)
		return
	}
	if err := a.store.Remove(req.Context(), id, req.Header.Get(ChangelogHeader)); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) deliver(w http.ResponseWriter, req *http.Request) {
	sink := &delivery.HTTPSink{W: w, R: req}
	q := req.URL.Query()
	if name := q.Get("name"); name != "" {
		sink.Download = true
		sink.Filename = name
	} else if v := q.Get("download"); v != "" {
		sink.Download, _ = strconv.ParseBool(v)
	}

	// an unparsable id resolves to a missing record and a 404
	id, _ := idFromRequest(req)
	if err := a.deliverer.Pipe(req.Context(), id, sink); err != nil {
		log.Warn().Err(err).Int64("id", id).Msg("delivery failed")
	}
}

func (a *api) stat(w http.ResponseWriter, req *http.Request) {
	id, ok := idFromRequest(req)
	if !ok {
		writeError(w, storage.ErrNotFound)
		return
	}
	h, err := a.store.Stat(req.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, storage.Entry{ID: id, Header: h})
}

func (a *api) entries(w http.ResponseWriter, req *http.Request) {
	list, err := a.store.Entries(req.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if list == nil {
		list = []storage.Entry{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (a *api) push(w http.ResponseWriter, req *http.Request) {
	id, ok := idFromRequest(req)
	if !ok {
		writeError(w, storage.ErrNotFound)
		return
	}
	target := req.URL.Query().Get("url")
	if target == "" || !(strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://")) {
		writeError(w, fmt.Errorf("%w: url must be an absolute http(s) URL", storage.ErrValidation))
		return
	}
	headers := http.Header{}
	for k, vs := range req.Header {
		if name, found := strings.CutPrefix(k, forwardPrefix); found && name != "" {
			headers[name] = vs
		}
	}
	body, err := a.pusher.Push(req.Context(), id, target, headers)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(body))
}
