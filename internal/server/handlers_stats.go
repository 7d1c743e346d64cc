package server

import (
	"errors"
	"net/http"

	"github.com/garder500/holystore/pkg/storage"
	"github.com/gorilla/mux"
	"github.com/klauspost/compress/gzhttp"
)

// RegisterStatsHandlers registers store-wide endpoints: counters, the audit
// log and journal reconciliation.
func RegisterStatsHandlers(r *mux.Router, a *api) {
	r.HandleFunc("/stats", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, a.store.Counters())
	}).Methods(http.MethodGet)

	r.Handle("/changelog", gzhttp.GzipHandler(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		lines, err := a.store.Changelog(req.Context())
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			writeError(w, err)
			return
		}
		if lines == nil {
			lines = []string{}
		}
		writeJSON(w, http.StatusOK, lines)
	}))).Methods(http.MethodGet)

	r.HandleFunc("/changelog", func(w http.ResponseWriter, req *http.Request) {
		if err := a.store.ClearChangelog(req.Context()); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}).Methods(http.MethodDelete)

	r.HandleFunc("/reindex", func(w http.ResponseWriter, req *http.Request) {
		c, err := a.store.Reindex(req.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, c)
	}).Methods(http.MethodPost)
}
