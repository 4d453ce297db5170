// Snapkeep - Scheduled Database Backup Service
// Copyright 2026 Snapkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/snapkeep/snapkeep

package retention

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/snapkeep/snapkeep/internal/backup"
)

func newStore(t *testing.T) *backup.Store {
	t.Helper()

	s, err := backup.OpenStore(t.TempDir())
	if err != nil {
		t.Fatalf("OpenStore() error = %v", err)
	}
	return s
}

func addArtifact(t *testing.T, s *backup.Store, kind backup.Kind, createdAt time.Time) backup.Artifact {
	t.Helper()

	a := backup.Artifact{
		ID:        uuid.NewString(),
		Database:  "appdb",
		Kind:      kind,
		CreatedAt: createdAt,
	}
	a.Path = filepath.Join(s.DirFor(kind), a.ID+".tar.gz")
	if err := os.WriteFile(a.Path, []byte("x"), 0o640); err != nil {
		t.Fatal(err)
	}
	if err := s.Add(a); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	return a
}

// Thirty-one consecutive daily runs leave exactly thirty artifacts once the
// sweep after the thirty-first run completes.
func TestRollingWindowHoldsThirty(t *testing.T) {
	s := newStore(t)
	m := New(s, Policy{DailyWindowDays: 30})

	start := time.Date(2026, 1, 1, 2, 0, 0, 0, time.UTC)
	for day := 0; day < 31; day++ {
		now := start.Add(time.Duration(day) * 24 * time.Hour)
		addArtifact(t, s, backup.KindDaily, now)
		if _, _, err := m.Apply(now, "appdb"); err != nil {
			t.Fatalf("Apply() day %d error = %v", day, err)
		}
	}

	if got := len(s.Dailies("appdb")); got != 30 {
		t.Errorf("after 31 runs, %d dailies remain, want 30", got)
	}

	// The oldest artifact must be the day-1 run; day-0 was swept.
	dailies := s.Dailies("appdb")
	wantOldest := start.Add(24 * time.Hour)
	if !dailies[0].CreatedAt.Equal(wantOldest) {
		t.Errorf("oldest daily = %v, want %v", dailies[0].CreatedAt, wantOldest)
	}
}

func TestAnnualArtifactsAreNeverDeleted(t *testing.T) {
	s := newStore(t)
	m := New(s, Policy{DailyWindowDays: 30})

	now := time.Date(2026, 8, 1, 2, 0, 0, 0, time.UTC)
	annual := addArtifact(t, s, backup.KindAnnual, now.Add(-5*365*24*time.Hour))
	addArtifact(t, s, backup.KindDaily, now)

	if _, _, err := m.Apply(now, "appdb"); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if _, ok := s.Get(annual.ID); !ok {
		t.Error("annual artifact was deleted")
	}
}

// A stalled schedule must not delete the only remaining backup, no matter
// how old it is.
func TestLastDailySurvivesWithoutNewer(t *testing.T) {
	s := newStore(t)
	m := New(s, Policy{DailyWindowDays: 30})

	now := time.Date(2026, 8, 1, 2, 0, 0, 0, time.UTC)
	only := addArtifact(t, s, backup.KindDaily, now.Add(-200*24*time.Hour))

	deleted, _, err := m.Apply(now, "appdb")
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if len(deleted) != 0 {
		t.Errorf("Apply() deleted %d artifacts, want 0", len(deleted))
	}
	if _, ok := s.Get(only.ID); !ok {
		t.Error("sole remaining daily was deleted")
	}
}

func TestExpiredBatchAfterLongStall(t *testing.T) {
	s := newStore(t)
	m := New(s, Policy{DailyWindowDays: 30})

	now := time.Date(2026, 8, 1, 2, 0, 0, 0, time.UTC)
	old1 := addArtifact(t, s, backup.KindDaily, now.Add(-90*24*time.Hour))
	old2 := addArtifact(t, s, backup.KindDaily, now.Add(-60*24*time.Hour))
	fresh := addArtifact(t, s, backup.KindDaily, now)

	deleted, _, err := m.Apply(now, "appdb")
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if len(deleted) != 2 {
		t.Fatalf("Apply() deleted %d, want 2", len(deleted))
	}
	for _, gone := range []backup.Artifact{old1, old2} {
		if _, ok := s.Get(gone.ID); ok {
			t.Errorf("expired artifact %s survived", gone.ID)
		}
	}
	if _, ok := s.Get(fresh.ID); !ok {
		t.Error("fresh artifact was deleted")
	}
}

func TestBoundaryExactlyAtWindow(t *testing.T) {
	s := newStore(t)
	m := New(s, Policy{DailyWindowDays: 30})

	now := time.Date(2026, 8, 1, 2, 0, 0, 0, time.UTC)
	atBoundary := addArtifact(t, s, backup.KindDaily, now.Add(-30*24*time.Hour))
	inside := addArtifact(t, s, backup.KindDaily, now.Add(-30*24*time.Hour).Add(time.Second))

	deleted, _, err := m.Apply(now, "appdb")
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if len(deleted) != 1 || deleted[0].ID != atBoundary.ID {
		t.Errorf("Apply() deleted %v, want exactly the boundary artifact", deleted)
	}
	if _, ok := s.Get(inside.ID); !ok {
		t.Error("artifact inside window was deleted")
	}
}

func TestApplyFailureIsBestEffort(t *testing.T) {
	s := newStore(t)
	m := New(s, Policy{DailyWindowDays: 30})

	now := time.Date(2026, 8, 1, 2, 0, 0, 0, time.UTC)

	// Artifacts whose paths are non-empty directories cannot be removed.
	for _, name := range []string{"stuck-a", "stuck-b"} {
		stuck := backup.Artifact{
			ID:        uuid.NewString(),
			Database:  "appdb",
			Kind:      backup.KindDaily,
			CreatedAt: now.Add(-90 * 24 * time.Hour),
			Path:      filepath.Join(s.DirFor(backup.KindDaily), name),
		}
		if err := os.MkdirAll(filepath.Join(stuck.Path, "child"), 0o750); err != nil {
			t.Fatal(err)
		}
		if err := s.Add(stuck); err != nil {
			t.Fatal(err)
		}
	}
	removable := addArtifact(t, s, backup.KindDaily, now.Add(-60*24*time.Hour))
	addArtifact(t, s, backup.KindDaily, now)

	deleted, failed, err := m.Apply(now, "appdb")
	if !errors.Is(err, ErrRetention) {
		t.Fatalf("Apply() error = %v, want ErrRetention", err)
	}
	if len(deleted) != 1 || deleted[0].ID != removable.ID {
		t.Errorf("Apply() deleted %v, want the removable artifact despite the stuck ones", deleted)
	}
	if failed != 2 {
		t.Errorf("Apply() failed = %d, want one per stuck artifact (2)", failed)
	}
}

func TestPreviewDoesNotDelete(t *testing.T) {
	s := newStore(t)
	m := New(s, Policy{DailyWindowDays: 30})

	now := time.Date(2026, 8, 1, 2, 0, 0, 0, time.UTC)
	old := addArtifact(t, s, backup.KindDaily, now.Add(-90*24*time.Hour))
	addArtifact(t, s, backup.KindDaily, now)

	preview := m.Preview(now, "appdb")
	if len(preview) != 1 || preview[0].ID != old.ID {
		t.Errorf("Preview() = %v, want the expired artifact", preview)
	}
	if _, ok := s.Get(old.ID); !ok {
		t.Error("Preview() must not delete")
	}
}
