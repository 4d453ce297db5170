// Snapkeep - Scheduled Database Backup Service
// Copyright 2026 Snapkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/snapkeep/snapkeep

package services

import (
	"context"
	"time"

	"github.com/snapkeep/snapkeep/internal/logging"
)

// GCStore is the subset of the history store the GC loop uses.
type GCStore interface {
	RunGC() error
}

// GCService runs badger value-log garbage collection on an interval.
type GCService struct {
	store    GCStore
	interval time.Duration
}

// NewGCService builds the GC loop.
func NewGCService(store GCStore, interval time.Duration) *GCService {
	if interval <= 0 {
		interval = time.Hour
	}
	return &GCService{store: store, interval: interval}
}

// Serve implements suture.Service.
func (s *GCService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.store.RunGC(); err != nil {
				logging.Warn().Err(err).Msg("History garbage collection failed")
			}
		}
	}
}

func (s *GCService) String() string { return "history-gc" }
