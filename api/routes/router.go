package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/edulink-io/crm-bridge/api/handlers"
	"github.com/edulink-io/crm-bridge/api/middleware"
	"github.com/edulink-io/crm-bridge/pkg/config"
	"github.com/edulink-io/crm-bridge/pkg/logger"
)

// RouterParams collect the dependencies of the ops API.
type RouterParams struct {
	Config *config.Config
	Logger *logger.Logger
	Events handlers.EventStore
	DB     handlers.Pinger
	Redis  handlers.Pinger
}

// NewRouter builds the ops API: health probes, Prometheus metrics, and the
// event inspection and manual-retry endpoints.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(params.Logger),
		middleware.RequestID(params.Logger),
		middleware.Logging(params.Logger),
	)

	r.Get("/healthz", handlers.HealthLive(params.Config))
	r.Get("/readyz", handlers.HealthReady(params.Config, map[string]handlers.Pinger{
		"database": params.DB,
		"redis":    params.Redis,
	}))
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/events", handlers.ListEvents(params.Logger, params.Events))
		r.Post("/events/{id}/retry", handlers.RetryEvent(params.Logger, params.Events))
	})

	return r
}
