package server

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dmitrymomot/ches/internal/api"
	"github.com/dmitrymomot/ches/internal/metrics"
	"github.com/dmitrymomot/ches/pkg/health"
)

// Routes are the pieces mounted by NewRouter.
type Routes struct {
	API      *api.Handler
	Checks   health.Checks
	Metrics  *metrics.Prometheus
	Gatherer prometheus.Gatherer
	Log      *slog.Logger
}

// NewRouter assembles the HTTP surface: probes, metrics and /api/v1.
func NewRouter(rt Routes) http.Handler {
	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(middleware.RealIP)
	r.Use(Recover(rt.Log))
	if rt.Metrics != nil {
		r.Use(rt.Metrics.Middleware)
	}

	r.Get("/health/live", health.LivenessHandler())
	r.Get("/health/ready", health.ReadinessHandler(rt.Checks, health.WithLogger(rt.Log)))
	if rt.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(rt.Gatherer, promhttp.HandlerOpts{}))
	}
	r.Mount("/api/v1", rt.API.Routes())
	return r
}
