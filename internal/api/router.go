// Package api wires the HTTP boundary: one ingest route plus the
// registry, incident and alert endpoints around it.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tdnguyen/sentryhub/internal/api/gateway"
)

// NewRouter assembles the chi router. limiter may be nil when rate
// limiting is disabled.
func NewRouter(h *Handlers, limiter *gateway.RateLimiter) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", h.handleHealth)
	r.Get("/ready", h.handleReady)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		if limiter != nil {
			r.With(limiter.Middleware).Post("/ingest", h.handleIngest)
		} else {
			r.Post("/ingest", h.handleIngest)
		}

		r.Route("/devices", func(r chi.Router) {
			r.Post("/", h.handleRegisterDevice)
			r.Get("/", h.handleListDevices)
			r.Get("/{id}", h.handleGetDevice)
		})

		r.Route("/incidents", func(r chi.Router) {
			r.Post("/{id}/status", h.handleIncidentStatus)
			r.Get("/by-device/{deviceID}", h.handleIncidentsByDevice)
		})

		r.Get("/alerts/by-incident/{incidentID}", h.handleAlertsByIncident)
	})

	return r
}
