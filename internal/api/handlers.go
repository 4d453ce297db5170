// Snapkeep - Scheduled Database Backup Service
// Copyright 2026 Snapkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/snapkeep/snapkeep

package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/snapkeep/snapkeep/internal/backup"
	"github.com/snapkeep/snapkeep/internal/history"
	"github.com/snapkeep/snapkeep/internal/logging"
	"github.com/snapkeep/snapkeep/internal/scheduler"
)

type handler struct {
	deps           Deps
	triggerLimiter *rate.Limiter
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error().Err(err).Msg("Failed to encode API response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (h *handler) healthLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) healthReady(w http.ResponseWriter, _ *http.Request) {
	// Ready means the journal answers queries.
	if _, err := h.deps.History.List(1); err != nil {
		writeError(w, http.StatusServiceUnavailable, "job history unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type databaseStatus struct {
	Name         string     `json:"name"`
	LastSuccess  *time.Time `json:"last_success,omitempty"`
	BreakerState string     `json:"breaker_state,omitempty"`
}

type statusResponse struct {
	Databases  []databaseStatus `json:"databases"`
	Artifacts  int              `json:"artifacts"`
	NextDaily  time.Time        `json:"next_daily"`
	NextAnnual time.Time        `json:"next_annual"`
}

func (h *handler) status(w http.ResponseWriter, _ *http.Request) {
	now := h.deps.Clock.Now()
	resp := statusResponse{
		Databases:  make([]databaseStatus, 0, len(h.deps.Databases)),
		Artifacts:  len(h.deps.Store.List()),
		NextDaily:  h.deps.Scheduler.NextDaily(now),
		NextAnnual: h.deps.Scheduler.NextAnnual(now),
	}
	for _, db := range h.deps.Databases {
		ds := databaseStatus{Name: db.Name}
		if db.BreakerState != nil {
			ds.BreakerState = db.BreakerState()
		}
		if job, ok, err := h.deps.History.LastCompleted(backup.KindDaily, db.Name); err == nil && ok {
			ds.LastSuccess = &job.FinishedAt
		}
		resp.Databases = append(resp.Databases, ds)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) listBackups(w http.ResponseWriter, r *http.Request) {
	artifacts := h.deps.Store.List()
	if db := r.URL.Query().Get("database"); db != "" {
		filtered := artifacts[:0:0]
		for _, a := range artifacts {
			if a.Database == db {
				filtered = append(filtered, a)
			}
		}
		artifacts = filtered
	}
	if artifacts == nil {
		artifacts = []backup.Artifact{}
	}
	writeJSON(w, http.StatusOK, artifacts)
}

func (h *handler) getBackup(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	a, ok := h.deps.Store.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown artifact")
		return
	}
	writeJSON(w, http.StatusOK, a)
}

type triggerRequest struct {
	Kind     string `json:"kind"`
	Database string `json:"database"`
}

type triggerResponse struct {
	JobID    string `json:"job_id"`
	Database string `json:"database"`
	Kind     string `json:"kind"`
	Status   string `json:"status"`
}

func (h *handler) triggerBackup(w http.ResponseWriter, r *http.Request) {
	if !h.triggerLimiter.Allow() {
		writeError(w, http.StatusTooManyRequests, "trigger rate exceeded")
		return
	}

	var req triggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	kind := backup.Kind(req.Kind)
	if req.Kind == "" {
		kind = backup.KindDaily
	}
	if !kind.Valid() {
		writeError(w, http.StatusBadRequest, "kind must be daily or annual")
		return
	}
	database := req.Database
	if database == "" {
		if len(h.deps.Databases) != 1 {
			writeError(w, http.StatusBadRequest, "database is required when more than one is configured")
			return
		}
		database = h.deps.Databases[0].Name
	}

	job, err := h.deps.Scheduler.Execute(r.Context(), database, kind, history.TriggerManual)
	if errors.Is(err, scheduler.ErrUnknownDatabase) {
		writeError(w, http.StatusNotFound, "unknown database")
		return
	}
	if err != nil {
		resp := triggerResponse{Database: database, Kind: string(kind), Status: string(history.StatusFailed)}
		if job != nil {
			resp.JobID = job.ID
			resp.Status = string(job.Status)
		}
		writeJSON(w, http.StatusBadGateway, resp)
		return
	}

	writeJSON(w, http.StatusOK, triggerResponse{
		JobID:    job.ID,
		Database: database,
		Kind:     string(kind),
		Status:   string(job.Status),
	})
}

func (h *handler) listJobs(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if q := r.URL.Query().Get("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n < 1 || n > 1000 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}

	jobs, err := h.deps.History.List(limit)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to list jobs")
		writeError(w, http.StatusInternalServerError, "job history unavailable")
		return
	}
	if jobs == nil {
		jobs = []history.Job{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (h *handler) retentionPreview(w http.ResponseWriter, _ *http.Request) {
	now := h.deps.Clock.Now()
	expired := []backup.Artifact{}
	for _, db := range h.deps.Databases {
		expired = append(expired, h.deps.Retention.Preview(now, db.Name)...)
	}
	writeJSON(w, http.StatusOK, expired)
}
