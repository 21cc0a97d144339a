package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/hamed0406/outagewatch/internal/domain"
)

// StateSource exposes the pipeline's current view for read-only inspection.
// Implemented by the outage state machine.
type StateSource interface {
	TargetStates() []domain.TargetState
	OpenOutages() []domain.OutageEvent
}

// Server is the ops surface: health, metrics and current state. Strictly
// read-only; the pipeline has no external control protocol.
type Server struct {
	Logger *zap.Logger
	Source StateSource
}

func NewServer(l *zap.Logger, src StateSource) *Server {
	return &Server{Logger: l, Source: src}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(cors.AllowAll().Handler)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/api/state", s.handleState)
	r.Get("/api/outages", s.handleOutages)

	return r
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.Source.TargetStates())
}

func (s *Server) handleOutages(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.Source.OpenOutages())
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
