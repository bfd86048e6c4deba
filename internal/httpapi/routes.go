package httpapi

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/maxsam-ai/modelrouter/internal/events"
	"github.com/maxsam-ai/modelrouter/internal/metrics"
	"github.com/maxsam-ai/modelrouter/internal/router"
)

// Reachable is implemented by the local adapter's probe.
type Reachable interface {
	IsReachable(ctx context.Context) bool
}

// Dependencies carries the constructed collaborators for the HTTP surface.
// Tests instantiate their own; there are no package-level singletons.
type Dependencies struct {
	Pipeline *router.Pipeline
	Registry router.RegistryClient
	Local    Reachable
	Metrics  *metrics.Registry
	Bus      *events.Bus
	Version  string
}

// MountRoutes attaches all endpoints to the router.
func MountRoutes(r chi.Router, d Dependencies) {
	r.Get("/health", HealthHandler(d))
	r.Post("/route", RouteHandler(d))
	r.Post("/execute", ExecuteHandler(d))
	r.Post("/run", RunHandler(d))

	if d.Bus != nil {
		r.Get("/events", SSEHandler(d.Bus))
	}
	if d.Metrics != nil {
		r.Handle("/metrics", d.Metrics.Handler())
	}

	// Container-orchestrator liveness alias.
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
}
