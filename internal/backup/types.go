// Snapkeep - Scheduled Database Backup Service
// Copyright 2026 Snapkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/snapkeep/snapkeep

// Package backup creates database backup artifacts and tracks them in an
// on-disk index. An artifact is a tar archive (optionally gzipped,
// optionally sealed) containing the SQL export plus a metadata manifest.
// Artifacts become visible only through an atomic rename, so a crash
// mid-run never leaves a partial artifact behind.
package backup

import (
	"time"
)

// Kind distinguishes the two backup classes. Daily artifacts are subject to
// the rolling retention window; annual artifacts are kept permanently.
type Kind string

const (
	KindDaily  Kind = "daily"
	KindAnnual Kind = "annual"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool { return k == KindDaily || k == KindAnnual }

// Artifact describes one completed backup file.
type Artifact struct {
	ID         string    `json:"id"`
	Path       string    `json:"path"`
	Database   string    `json:"database"`
	Kind       Kind      `json:"kind"`
	CreatedAt  time.Time `json:"created_at"`
	SizeBytes  int64     `json:"size_bytes"`
	Checksum   string    `json:"checksum"`
	Compressed bool      `json:"compressed"`
	Encrypted  bool      `json:"encrypted"`
}

// manifest is embedded in every artifact as backup-metadata.json.
type manifest struct {
	Tool      string    `json:"tool"`
	Database  string    `json:"database"`
	Engine    string    `json:"engine"`
	Kind      Kind      `json:"kind"`
	CreatedAt time.Time `json:"created_at"`
	SQLBytes  int64     `json:"sql_bytes"`
}

const manifestTool = "snapkeep"
