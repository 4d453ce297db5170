// Snapkeep - Scheduled Database Backup Service
// Copyright 2026 Snapkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/snapkeep/snapkeep

// Package retention prunes daily backup artifacts that have aged out of the
// rolling window. Annual artifacts are permanent and never considered. A
// daily artifact is only deleted when a newer daily for the same database
// exists, so the most recent backup always survives even when the schedule
// has been stalled for months.
package retention

import (
	"errors"
	"fmt"
	"time"

	"github.com/snapkeep/snapkeep/internal/backup"
	"github.com/snapkeep/snapkeep/internal/logging"
)

// ErrRetention marks a sweep that could not delete every expired artifact.
// The sweep still removes what it can; callers log and move on.
var ErrRetention = errors.New("retention: sweep incomplete")

// Policy holds the retention tunables.
type Policy struct {
	// DailyWindowDays is the rolling window. Daily artifacts created at or
	// before now minus this window are expired.
	DailyWindowDays int
}

// Manager applies a Policy against the artifact store.
type Manager struct {
	store  *backup.Store
	policy Policy
}

// New builds a retention manager.
func New(store *backup.Store, policy Policy) *Manager {
	return &Manager{store: store, policy: policy}
}

// expired selects the daily artifacts eligible for deletion at the given
// time, oldest first.
func (m *Manager) expired(now time.Time, database string) []backup.Artifact {
	dailies := m.store.Dailies(database)
	cutoff := now.Add(-time.Duration(m.policy.DailyWindowDays) * 24 * time.Hour)

	var out []backup.Artifact
	for i, a := range dailies {
		if a.CreatedAt.After(cutoff) {
			continue
		}
		// Dailies is ordered oldest first, so any later entry is newer.
		if i == len(dailies)-1 {
			continue
		}
		out = append(out, a)
	}
	return out
}

// Preview returns the artifacts Apply would delete, without deleting.
func (m *Manager) Preview(now time.Time, database string) []backup.Artifact {
	return m.expired(now, database)
}

// Apply deletes expired daily artifacts. Deletion is best-effort: one
// failed removal does not stop the sweep. It returns the deleted
// artifacts and the number of removals that failed; the individual
// failures are joined under ErrRetention.
func (m *Manager) Apply(now time.Time, database string) ([]backup.Artifact, int, error) {
	var deleted []backup.Artifact
	var errs []error

	for _, a := range m.expired(now, database) {
		if err := m.store.Remove(a.ID); err != nil {
			logging.Warn().Err(err).Str("path", a.Path).Msg("Failed to delete expired artifact")
			errs = append(errs, fmt.Errorf("%s: %w", a.Path, err))
			continue
		}
		logging.Info().
			Str("path", a.Path).
			Time("created_at", a.CreatedAt).
			Msg("Deleted expired daily artifact")
		deleted = append(deleted, a)
	}

	if len(errs) > 0 {
		return deleted, len(errs), fmt.Errorf("%w: %w", ErrRetention, errors.Join(errs...))
	}
	return deleted, 0, nil
}
