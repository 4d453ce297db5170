// Snapkeep - Scheduled Database Backup Service
// Copyright 2026 Snapkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/snapkeep/snapkeep

package backup

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/snapkeep/snapkeep/internal/config"
	"github.com/snapkeep/snapkeep/internal/logging"
	"github.com/snapkeep/snapkeep/internal/source"
)

const manifestName = "backup-metadata.json"

// Executor produces backup artifacts. A run exports the database to SQL,
// wraps it in a tar archive with a metadata manifest, optionally gzips and
// seals it, and publishes the file with an atomic rename into the store.
type Executor struct {
	connector *source.Connector
	store     *Store
	cfg       config.BackupConfig
	database  string
}

// NewExecutor wires an executor for one source database.
func NewExecutor(conn *source.Connector, store *Store, cfg config.BackupConfig, database string) *Executor {
	return &Executor{
		connector: conn,
		store:     store,
		cfg:       cfg,
		database:  database,
	}
}

// artifactName builds the final file name for a run.
func (e *Executor) artifactName(kind Kind, startedAt time.Time) string {
	ext := "tar"
	if e.cfg.Compression.Enabled {
		ext = "tar.gz"
	}
	if e.cfg.Encryption.Enabled {
		ext += ".enc"
	}
	stamp := startedAt.UTC().Format("20060102T150405Z")
	return fmt.Sprintf("snapkeep-%s-%s-%s.%s", e.database, kind, stamp, ext)
}

// Run executes a backup and returns the recorded artifact. On any failure
// all temporary files are removed and no final artifact exists.
func (e *Executor) Run(ctx context.Context, kind Kind, startedAt time.Time) (*Artifact, error) {
	db, err := e.connector.Connect(ctx)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	dir := e.store.DirFor(kind)

	sqlFile, err := os.CreateTemp(dir, tempPrefix+"export-*.sql")
	if err != nil {
		return nil, fmt.Errorf("creating export temp file: %w", err)
	}
	defer func() {
		sqlFile.Close()
		os.Remove(sqlFile.Name())
	}()

	if err := source.Dump(ctx, db, e.connector.Dialect(), sqlFile); err != nil {
		return nil, err
	}
	sqlInfo, err := sqlFile.Stat()
	if err != nil {
		return nil, fmt.Errorf("inspecting export: %w", err)
	}
	if _, err := sqlFile.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewinding export: %w", err)
	}

	m := manifest{
		Tool:      manifestTool,
		Database:  e.database,
		Engine:    e.connector.Dialect().Engine(),
		Kind:      kind,
		CreatedAt: startedAt.UTC(),
		SQLBytes:  sqlInfo.Size(),
	}

	name := e.artifactName(kind, startedAt)
	tmp := filepath.Join(dir, tempPrefix+name)
	final := filepath.Join(dir, name)

	h := sha256.New()
	if err := e.writeArtifactFile(tmp, m, sqlFile, h); err != nil {
		os.Remove(tmp)
		return nil, err
	}

	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return nil, fmt.Errorf("publishing artifact: %w", err)
	}

	info, err := os.Stat(final)
	if err != nil {
		return nil, fmt.Errorf("inspecting artifact: %w", err)
	}

	a := Artifact{
		ID:         uuid.NewString(),
		Path:       final,
		Database:   e.database,
		Kind:       kind,
		CreatedAt:  startedAt.UTC(),
		SizeBytes:  info.Size(),
		Checksum:   hex.EncodeToString(h.Sum(nil)),
		Compressed: e.cfg.Compression.Enabled,
		Encrypted:  e.cfg.Encryption.Enabled,
	}
	if err := e.store.Add(a); err != nil {
		return nil, err
	}

	logging.Info().
		Str("database", e.database).
		Str("kind", string(kind)).
		Str("path", final).
		Int64("size_bytes", a.SizeBytes).
		Msg("Backup artifact created")
	return &a, nil
}

// writeArtifactFile writes the finished (possibly sealed) artifact bytes to
// path while feeding them through h.
func (e *Executor) writeArtifactFile(path string, m manifest, sqlFile *os.File, h io.Writer) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return fmt.Errorf("creating artifact temp file: %w", err)
	}
	defer f.Close()

	if !e.cfg.Encryption.Enabled {
		if err := e.writeArchive(io.MultiWriter(f, h), m, sqlFile); err != nil {
			return err
		}
		return f.Sync()
	}

	// Sealing needs a complete archive stream, so stage the plain archive
	// in another temp file first.
	plain, err := os.CreateTemp(filepath.Dir(path), tempPrefix+"archive-*")
	if err != nil {
		return fmt.Errorf("creating archive temp file: %w", err)
	}
	defer func() {
		plain.Close()
		os.Remove(plain.Name())
	}()

	if err := e.writeArchive(plain, m, sqlFile); err != nil {
		return err
	}
	if _, err := plain.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewinding archive: %w", err)
	}
	if err := Seal(io.MultiWriter(f, h), plain, e.cfg.Encryption.Secret); err != nil {
		return fmt.Errorf("sealing artifact: %w", err)
	}
	return f.Sync()
}

// writeArchive writes the tar (optionally gzip) stream: manifest first,
// then the SQL export under dump/.
func (e *Executor) writeArchive(w io.Writer, m manifest, sqlFile *os.File) error {
	var tw *tar.Writer
	var gzw *gzip.Writer

	if e.cfg.Compression.Enabled {
		var err error
		gzw, err = gzip.NewWriterLevel(w, e.cfg.Compression.Level)
		if err != nil {
			return fmt.Errorf("initializing gzip: %w", err)
		}
		tw = tar.NewWriter(gzw)
	} else {
		tw = tar.NewWriter(w)
	}

	manifestBytes, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}
	if err := writeTarFile(tw, manifestName, manifestBytes, m.CreatedAt); err != nil {
		return err
	}

	hdr := &tar.Header{
		Name:    fmt.Sprintf("dump/%s.sql", e.database),
		Mode:    0o640,
		Size:    m.SQLBytes,
		ModTime: m.CreatedAt,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("writing tar header: %w", err)
	}
	if _, err := io.Copy(tw, sqlFile); err != nil {
		return fmt.Errorf("archiving export: %w", err)
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("finalizing archive: %w", err)
	}
	if gzw != nil {
		if err := gzw.Close(); err != nil {
			return fmt.Errorf("finalizing gzip: %w", err)
		}
	}
	return nil
}

func writeTarFile(tw *tar.Writer, name string, data []byte, modTime time.Time) error {
	hdr := &tar.Header{
		Name:    name,
		Mode:    0o640,
		Size:    int64(len(data)),
		ModTime: modTime,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("writing tar header: %w", err)
	}
	if _, err := tw.Write(data); err != nil {
		return fmt.Errorf("writing %s: %w", name, err)
	}
	return nil
}

// Verify re-hashes an artifact file and compares it to the recorded
// checksum.
func Verify(a Artifact) error {
	f, err := os.Open(a.Path)
	if err != nil {
		return fmt.Errorf("opening artifact: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return fmt.Errorf("hashing artifact: %w", err)
	}
	if got := hex.EncodeToString(h.Sum(nil)); got != a.Checksum {
		return fmt.Errorf("checksum mismatch for %s: recorded %s, computed %s", a.Path, a.Checksum, got)
	}
	return nil
}
