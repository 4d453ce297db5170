// Snapkeep - Scheduled Database Backup Service
// Copyright 2026 Snapkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/snapkeep/snapkeep

package backup

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	json "github.com/goccy/go-json"

	"github.com/snapkeep/snapkeep/internal/logging"
)

const (
	indexFile = "artifacts.json"
	annualDir = "Annual"

	// tempPrefix marks in-progress files. Leftovers from a crashed run are
	// swept at startup.
	tempPrefix = ".tmp-"
)

// Store is the artifact index backed by artifacts.json in the backup root.
// All mutations rewrite the index atomically (temp file + rename).
type Store struct {
	mu        sync.Mutex
	root      string
	artifacts map[string]Artifact
}

// OpenStore opens (or initializes) the backup directory layout, loads the
// artifact index, and removes temp files left by interrupted runs.
func OpenStore(root string) (*Store, error) {
	for _, dir := range []string{root, filepath.Join(root, annualDir)} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("creating backup directory %s: %w", dir, err)
		}
	}

	s := &Store{root: root, artifacts: make(map[string]Artifact)}

	data, err := os.ReadFile(s.indexPath())
	switch {
	case err == nil:
		var list []Artifact
		if err := json.Unmarshal(data, &list); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", indexFile, err)
		}
		for _, a := range list {
			s.artifacts[a.ID] = a
		}
	case !os.IsNotExist(err):
		return nil, fmt.Errorf("reading %s: %w", indexFile, err)
	}

	s.sweepTemp()
	return s, nil
}

func (s *Store) indexPath() string { return filepath.Join(s.root, indexFile) }

// Root returns the backup root directory.
func (s *Store) Root() string { return s.root }

// DirFor returns the directory artifacts of the given kind live in.
func (s *Store) DirFor(kind Kind) string {
	if kind == KindAnnual {
		return filepath.Join(s.root, annualDir)
	}
	return s.root
}

// sweepTemp removes leftover in-progress files from both artifact dirs.
func (s *Store) sweepTemp() {
	for _, dir := range []string{s.root, filepath.Join(s.root, annualDir)} {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.IsDir() || !strings.HasPrefix(e.Name(), tempPrefix) {
				continue
			}
			path := filepath.Join(dir, e.Name())
			if err := os.Remove(path); err != nil {
				logging.Warn().Err(err).Str("path", path).Msg("Failed to remove stale temp file")
				continue
			}
			logging.Info().Str("path", path).Msg("Removed stale temp file from interrupted run")
		}
	}
}

// Add records a completed artifact and persists the index.
func (s *Store) Add(a Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.artifacts[a.ID] = a
	return s.save()
}

// Get returns the artifact with the given ID.
func (s *Store) Get(id string) (Artifact, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.artifacts[id]
	return a, ok
}

// List returns all artifacts ordered by creation time, oldest first.
func (s *Store) List() []Artifact {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Artifact, 0, len(s.artifacts))
	for _, a := range s.artifacts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Dailies returns the daily artifacts for a database, oldest first.
func (s *Store) Dailies(database string) []Artifact {
	all := s.List()
	out := make([]Artifact, 0, len(all))
	for _, a := range all {
		if a.Kind == KindDaily && a.Database == database {
			out = append(out, a)
		}
	}
	return out
}

// Remove deletes an artifact's file and drops it from the index. A file
// that is already gone is not an error; the index entry is still dropped.
func (s *Store) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.artifacts[id]
	if !ok {
		return fmt.Errorf("unknown artifact %s", id)
	}
	if err := os.Remove(a.Path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting %s: %w", a.Path, err)
	}
	delete(s.artifacts, id)
	return s.save()
}

// Reconcile drops index entries whose files no longer exist on disk.
func (s *Store) Reconcile() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dirty := false
	for id, a := range s.artifacts {
		if _, err := os.Stat(a.Path); os.IsNotExist(err) {
			logging.Warn().Str("path", a.Path).Str("id", id).Msg("Indexed artifact missing on disk, dropping")
			delete(s.artifacts, id)
			dirty = true
		}
	}
	if !dirty {
		return nil
	}
	return s.save()
}

// save persists the index. Caller holds s.mu.
func (s *Store) save() error {
	list := make([]Artifact, 0, len(s.artifacts))
	for _, a := range s.artifacts {
		list = append(list, a)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.Before(list[j].CreatedAt) })

	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding artifact index: %w", err)
	}

	tmp := filepath.Join(s.root, tempPrefix+indexFile)
	if err := os.WriteFile(tmp, data, 0o640); err != nil {
		return fmt.Errorf("writing artifact index: %w", err)
	}
	if err := os.Rename(tmp, s.indexPath()); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replacing artifact index: %w", err)
	}
	return nil
}
