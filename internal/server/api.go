package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/garder500/holystore/pkg/db"
	"github.com/garder500/holystore/pkg/delivery"
	"github.com/garder500/holystore/pkg/push"
	"github.com/garder500/holystore/pkg/storage"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
)

type api struct {
	store     *storage.LocalStorage
	deliverer *delivery.Deliverer
	pusher    *push.Pusher
}

func newAPI(database *db.Database) (*api, error) {
	s, err := database.Storage()
	if err != nil {
		return nil, err
	}
	d, err := database.Delivery()
	if err != nil {
		return nil, err
	}
	p, err := database.Pusher()
	if err != nil {
		return nil, err
	}
	return &api{store: s, deliverer: d, pusher: p}, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("encode response")
	}
}

// writeError maps engine errors to HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var perr *push.ProtocolError
	switch {
	case errors.Is(err, storage.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, storage.ErrValidation), errors.Is(err, storage.ErrHeaderTooLarge):
		status = http.StatusBadRequest
	case errors.As(err, &perr):
		status = http.StatusBadGateway
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func idFromRequest(req *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(req)["id"], 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
