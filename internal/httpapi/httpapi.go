// Package httpapi exposes the local key/value CRUD boundary over HTTP:
// GET /get/:key, PUT /insert/:key/:value, DELETE /remove/:key, and
// GET /status, routed with gorilla/mux.
package httpapi

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/kvsbgp/kvsbgp/internal/codec"
	"github.com/kvsbgp/kvsbgp/internal/store"
)

// Server serves the Key/Value CRUD surface backed by a Store.
type Server struct {
	store  store.Store
	log    *slog.Logger
	router *mux.Router
}

// New builds a Server routing requests to s. If log is nil, requests are
// logged to slog.Default().
func New(s store.Store, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	srv := &Server{store: s, log: log}
	r := mux.NewRouter()
	r.HandleFunc("/status", srv.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/get/{key}", srv.handleGet).Methods(http.MethodGet)
	r.HandleFunc("/insert/{key}/{value}", srv.handleInsert).Methods(http.MethodPut)
	r.HandleFunc("/remove/{key}", srv.handleRemove).Methods(http.MethodDelete)
	srv.router = r
	return srv
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	fmt.Fprintln(w, "Alive!")
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	s.log.Debug("http get", "key", key)
	value, err := s.store.Get(r.Context(), key)
	if errors.Is(err, store.ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Write(value)
}

func (s *Server) handleInsert(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	key, value := vars["key"], vars["value"]
	s.log.Debug("http insert", "key", key)
	// Reject oversize pairs before they ever reach the Store: a pair too
	// large to encode as routes could never be advertised, so admitting it
	// here would silently strand it.
	if _, err := codec.Encode([]byte(key), []byte(value), 0); err != nil {
		s.writeError(w, err)
		return
	}
	if _, err := s.store.Insert(r.Context(), key, []byte(value)); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	s.log.Debug("http remove", "key", key)
	ok, err := s.store.Remove(r.Context(), key)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// writeError maps codec.ErrOversize to 413 Payload Too Large; anything
// else is a 500, since Store/Codec errors this deep indicate an invariant
// violation rather than a malformed request.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	s.log.Warn("http request failed", "error", err)
	switch {
	case errors.Is(err, codec.ErrOversize):
		http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
