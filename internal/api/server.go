// Package api serves progress, cancellation and stored runs over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/san-kum/biosim/internal/logging"
	"github.com/san-kum/biosim/internal/output"
	"github.com/san-kum/biosim/internal/progress"
	"github.com/san-kum/biosim/internal/storage"
)

// Canceler stops the running simulation.
type Canceler interface {
	Cancel()
}

type Server struct {
	Progress *progress.Latest
	Cancel   Canceler
	Store    storage.Store
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
}

type runResponse struct {
	Run    storage.Run   `json:"run"`
	Series output.Series `json:"series"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Handler returns the router. Endpoints whose backing field is nil answer
// 404.
func (s *Server) Handler() http.Handler {
	if s.Logger == nil {
		s.Logger = logging.NewNop()
	}
	r := chi.NewRouter()
	r.Get("/progress", s.getProgress)
	r.Post("/cancel", s.postCancel)
	r.Get("/runs", s.listRuns)
	r.Get("/runs/{id}", s.getRun)
	if s.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.Gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

func (s *Server) getProgress(w http.ResponseWriter, r *http.Request) {
	if s.Progress == nil {
		s.fail(w, http.StatusNotFound, "no simulation attached")
		return
	}
	u, ok := s.Progress.Get()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	s.writeJSON(w, http.StatusOK, u)
}

func (s *Server) postCancel(w http.ResponseWriter, r *http.Request) {
	if s.Cancel == nil {
		s.fail(w, http.StatusNotFound, "no simulation attached")
		return
	}
	s.Cancel.Cancel()
	s.Logger.Info("cancel requested over http", "remote", r.RemoteAddr)
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	if s.Store == nil {
		s.fail(w, http.StatusNotFound, "no store configured")
		return
	}
	runs, err := s.Store.List(r.Context())
	if err != nil {
		s.Logger.Error("list runs failed", "err", err)
		s.fail(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, runs)
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	if s.Store == nil {
		s.fail(w, http.StatusNotFound, "no store configured")
		return
	}
	id := chi.URLParam(r, "id")
	meta, err := s.Store.Load(r.Context(), id)
	if err == nil {
		var series output.Series
		series, err = s.Store.LoadSeries(r.Context(), id)
		if err == nil {
			s.writeJSON(w, http.StatusOK, runResponse{Run: *meta, Series: series})
			return
		}
	}
	if errors.Is(err, storage.ErrNotFound) {
		s.fail(w, http.StatusNotFound, err.Error())
		return
	}
	s.Logger.Error("load run failed", "id", id, "err", err)
	s.fail(w, http.StatusInternalServerError, err.Error())
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.Logger.Error("encode response failed", "err", err)
	}
}

func (s *Server) fail(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorResponse{Error: msg})
}
