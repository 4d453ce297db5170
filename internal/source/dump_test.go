// Snapkeep - Scheduled Database Backup Service
// Copyright 2026 Snapkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/snapkeep/snapkeep

package source

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/snapkeep/snapkeep/internal/config"
)

// newFixtureDB creates a sqlite database on disk with a small schema and
// returns its path.
func newFixtureDB(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "fixture.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("opening fixture db: %v", err)
	}
	defer db.Close()

	stmts := []string{
		`CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT, avatar BLOB, score REAL)`,
		`CREATE TABLE zz_audit (id INTEGER PRIMARY KEY, note TEXT)`,
		`CREATE VIEW active_users AS SELECT id, name FROM users WHERE score > 0`,
		`INSERT INTO users (id, name, avatar, score) VALUES (1, 'alice', X'cafe', 9.5)`,
		`INSERT INTO users (id, name, avatar, score) VALUES (2, 'bob ''the'' builder', NULL, NULL)`,
		`INSERT INTO zz_audit (id, note) VALUES (1, 'created')`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			t.Fatalf("executing %q: %v", s, err)
		}
	}
	return path
}

func TestDumpSQLite(t *testing.T) {
	path := newFixtureDB(t)

	d, err := ForEngine("sqlite")
	if err != nil {
		t.Fatalf("ForEngine() error = %v", err)
	}
	db, err := d.Open(config.DatabaseConfig{Name: "fixture", Engine: "sqlite", Path: path})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close()

	var buf bytes.Buffer
	if err := Dump(context.Background(), db, d, &buf); err != nil {
		t.Fatalf("Dump() error = %v", err)
	}
	out := buf.String()

	for _, want := range []string{
		`CREATE TABLE users`,
		`CREATE TABLE zz_audit`,
		`CREATE VIEW active_users`,
		`INSERT INTO "users" ("id", "name", "avatar", "score") VALUES (1, 'alice', X'cafe', 9.5);`,
		`VALUES (2, 'bob ''the'' builder', NULL, NULL);`,
		`INSERT INTO "zz_audit"`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("dump missing %q\ndump:\n%s", want, out)
		}
	}

	// All DDL precedes all DML, and view DDL follows table DDL.
	firstInsert := strings.Index(out, "INSERT INTO")
	viewDDL := strings.Index(out, "CREATE VIEW")
	lastTableDDL := strings.LastIndex(out, "CREATE TABLE")
	if viewDDL < lastTableDDL {
		t.Error("view DDL should come after table DDL")
	}
	if firstInsert < viewDDL {
		t.Error("DML should come after all DDL")
	}
}

func TestDumpIsDeterministic(t *testing.T) {
	path := newFixtureDB(t)

	d, _ := ForEngine("sqlite")
	db, err := d.Open(config.DatabaseConfig{Name: "fixture", Engine: "sqlite", Path: path})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close()

	var a, b bytes.Buffer
	if err := Dump(context.Background(), db, d, &a); err != nil {
		t.Fatalf("first Dump() error = %v", err)
	}
	if err := Dump(context.Background(), db, d, &b); err != nil {
		t.Fatalf("second Dump() error = %v", err)
	}
	if a.String() != b.String() {
		t.Error("consecutive dumps of identical data differ")
	}
}

func TestForEngineUnknown(t *testing.T) {
	if _, err := ForEngine("oracle"); err == nil {
		t.Error("ForEngine(oracle) should fail")
	}
}

func TestConnectorBreakerOpens(t *testing.T) {
	c, err := NewConnector(config.DatabaseConfig{
		Name:   "ghost",
		Engine: "sqlite",
		Path:   filepath.Join(t.TempDir(), "does-not-exist.db"),
	})
	if err != nil {
		t.Fatalf("NewConnector() error = %v", err)
	}

	for i := 0; i < breakerFailureThreshold; i++ {
		if _, err := c.Connect(context.Background()); !errors.Is(err, ErrConnection) {
			t.Fatalf("attempt %d: error = %v, want ErrConnection", i, err)
		}
	}

	if got := c.State(); got != "open" {
		t.Errorf("breaker state = %q, want open", got)
	}
	if _, err := c.Connect(context.Background()); !errors.Is(err, ErrConnection) {
		t.Errorf("open breaker error = %v, want ErrConnection", err)
	}
}

func TestConnectorConnects(t *testing.T) {
	path := newFixtureDB(t)

	c, err := NewConnector(config.DatabaseConfig{Name: "fixture", Engine: "sqlite", Path: path})
	if err != nil {
		t.Fatalf("NewConnector() error = %v", err)
	}

	db, err := c.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer db.Close()

	if got := c.State(); got != "closed" {
		t.Errorf("breaker state = %q, want closed", got)
	}
}
