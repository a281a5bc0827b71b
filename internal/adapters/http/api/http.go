// Package api serves the bridge's admin HTTP surface: metrics, state and
// manual waggle injection.
package api

import (
	"context"
	"net/http"

	"github.com/okian/wddbridge/internal/domain/dedupe"
	"github.com/okian/wddbridge/internal/domain/model"
)

// Dependencies required by HTTP handlers.
type Dependencies interface {
	dedupe.Deduper

	// Enqueue pushes a waggle into the inbound queue without blocking.
	Enqueue(ctx context.Context, ev model.WaggleEvent) error
}

// Server wires HTTP routes for the admin API.
type Server struct {
	healthHandler  *HealthHandler
	statsHandler   *StatsHandler
	wagglesHandler *WagglesHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider) *Server {
	return &Server{
		healthHandler:  NewHealthHandler(),
		statsHandler:   NewStatsHandler(statsProvider),
		wagglesHandler: NewWagglesHandler(deps),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("/waggles", MetricsMiddleware(s.wagglesHandler.HandlePostWaggle, "waggles"))
}
