// Package server exposes the read-only HTTP surface: health, metrics, lane
// snapshots, relay status and cached personas.
package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"nostr-lanes/internal/lane"
	"nostr-lanes/internal/metrics"
	"nostr-lanes/internal/types"
)

// Lanes is the set of views being served.
type Lanes interface {
	Names() []string
	View(name string) (*lane.View, bool)
}

// Relays reports relay pool status.
type Relays interface {
	Relays() []string
	Connections() int
}

// Store is the read side of the persistence gateway.
type Store interface {
	GetPersona(ctx context.Context, pubkey string) (*types.Persona, error)
	CountRelays(ctx context.Context) (int, error)
}

// Deps are the services the router reads from. Metrics may be nil.
type Deps struct {
	Lanes   Lanes
	Relays  Relays
	Store   Store
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// NewRouter creates a chi router with all routes mounted.
func NewRouter(deps Deps) chi.Router {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	h := &handler{deps: deps}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogging(deps.Logger, deps.Metrics))
	r.Use(middleware.Recoverer)

	r.Get("/health/live", h.Live)
	r.Get("/health/ready", h.Ready)
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	r.Get("/lanes", h.ListLanes)
	r.Get("/lanes/{name}", h.GetLane)
	r.Get("/relays", h.ListRelays)
	r.Get("/personas/{pubkey}", h.GetPersona)

	return r
}
