package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hafbau/fastflow-sub001/internal/attrs"
	"github.com/hafbau/fastflow-sub001/internal/authz"
	"github.com/hafbau/fastflow-sub001/internal/grants"
	"github.com/hafbau/fastflow-sub001/internal/observability"
	"github.com/hafbau/fastflow-sub001/internal/roles"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger        *slog.Logger
	Config        *Config
	AuthzHandler  *authz.Handler
	RolesHandler  *roles.Handler
	GrantsHandler *grants.Handler
	AttrsHandler  *attrs.Handler
	Metrics       *observability.Metrics
}

// NewRouter constructs the chi.Router with service defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	if !params.Config.IsProduction() {
		r.Use(chimw.Logger)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		params.AuthzHandler.MountRoutes(r)
		params.RolesHandler.MountRoutes(r)
		params.GrantsHandler.MountRoutes(r)
		params.AttrsHandler.MountRoutes(r)
	})

	return r
}
