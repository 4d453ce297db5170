// Snapkeep - Scheduled Database Backup Service
// Copyright 2026 Snapkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/snapkeep/snapkeep

// Package source connects to the database being backed up and exports its
// full contents as executable SQL. Engine differences are isolated behind
// the Dialect interface; connection attempts run through a circuit breaker
// so a dead database does not get hammered on every scheduler tick.
package source

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/snapkeep/snapkeep/internal/config"
)

// ObjectType distinguishes schema object kinds in a Catalog.
type ObjectType string

const (
	ObjectTable ObjectType = "table"
	ObjectView  ObjectType = "view"
)

// Object is a single schema object with its creation DDL.
type Object struct {
	Name string
	Type ObjectType
	DDL  string
}

// Catalog is the exportable schema of a database. Tables and Views are
// sorted by name so exports are stable across runs.
type Catalog struct {
	Tables []Object
	Views  []Object
}

// Dialect abstracts engine-specific connection and introspection.
type Dialect interface {
	// Engine returns the config engine name this dialect serves.
	Engine() string

	// Open opens a read-only connection pool. The pool is not pinged.
	Open(cfg config.DatabaseConfig) (*sql.DB, error)

	// Catalog lists the user tables and views with their DDL.
	Catalog(ctx context.Context, db *sql.DB) (*Catalog, error)

	// QuoteIdent quotes an identifier for use in generated SQL.
	QuoteIdent(name string) string
}

// ForEngine returns the dialect for a config engine name.
func ForEngine(engine string) (Dialect, error) {
	switch engine {
	case "sqlite":
		return sqliteDialect{}, nil
	case "duckdb":
		return duckdbDialect{}, nil
	default:
		return nil, fmt.Errorf("unsupported database engine %q", engine)
	}
}

// quoteIdent implements ANSI double-quote identifier quoting, shared by the
// embedded engines.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
