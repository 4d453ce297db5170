// Snapkeep - Scheduled Database Backup Service
// Copyright 2026 Snapkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/snapkeep/snapkeep

// Package api is the operator HTTP surface: artifact and job listings,
// manual backup triggers, retention previews, health probes, and the
// Prometheus endpoint.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/snapkeep/snapkeep/internal/backup"
	"github.com/snapkeep/snapkeep/internal/config"
	"github.com/snapkeep/snapkeep/internal/history"
	"github.com/snapkeep/snapkeep/internal/retention"
	"github.com/snapkeep/snapkeep/internal/scheduler"
)

// Deps are the collaborators the handlers read from and act on.
type Deps struct {
	Store     *backup.Store
	History   *history.Store
	Scheduler *scheduler.Scheduler
	Retention *retention.Manager

	// Databases lists the managed databases in configuration order.
	Databases []Database

	// Clock defaults to the system clock.
	Clock scheduler.Clock
}

// Database is one managed database as exposed through the API.
type Database struct {
	Name string

	// BreakerState reports the source breaker state for /status. Optional.
	BreakerState func() string
}

// NewRouter assembles the chi router. When cfg.APIToken is non-empty, all
// /api/v1 routes require it as a bearer token; health probes and /metrics
// stay open for scrapers and orchestration.
func NewRouter(cfg config.ServerConfig, deps Deps) http.Handler {
	if deps.Clock == nil {
		deps.Clock = scheduler.SystemClock()
	}
	h := &handler{
		deps: deps,
		// Manual triggers are expensive; allow one per minute with a small
		// burst on top of the per-IP request limit.
		triggerLimiter: rate.NewLimiter(rate.Every(time.Minute), 2),
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	}))
	r.Use(securityHeaders)

	r.Get("/healthz", h.healthLive)
	r.Get("/readyz", h.healthReady)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(httprate.LimitByIP(cfg.RateLimitReqs, time.Minute))
		if cfg.APIToken != "" {
			r.Use(bearerAuth(cfg.APIToken))
		}

		r.Get("/status", h.status)
		r.Get("/backups", h.listBackups)
		r.Get("/backups/{id}", h.getBackup)
		r.Post("/backups/trigger", h.triggerBackup)
		r.Get("/jobs", h.listJobs)
		r.Get("/retention/preview", h.retentionPreview)
	})

	return r
}
