// Snapkeep - Scheduled Database Backup Service
// Copyright 2026 Snapkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/snapkeep/snapkeep

package source

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // pure-Go SQLite driver

	"github.com/snapkeep/snapkeep/internal/config"
)

type sqliteDialect struct{}

func (sqliteDialect) Engine() string { return "sqlite" }

func (sqliteDialect) Open(cfg config.DatabaseConfig) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?mode=ro", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database %s: %w", cfg.Path, err)
	}
	// Exports are sequential reads; one connection avoids lock contention
	// with the owning application.
	db.SetMaxOpenConns(1)
	return db, nil
}

func (sqliteDialect) Catalog(ctx context.Context, db *sql.DB) (*Catalog, error) {
	const q = `SELECT name, type, sql FROM sqlite_master
		WHERE type IN ('table', 'view') AND name NOT LIKE 'sqlite_%'
		ORDER BY name`

	rows, err := db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("reading sqlite_master: %w", err)
	}
	defer rows.Close()

	var cat Catalog
	for rows.Next() {
		var name, typ string
		var ddl sql.NullString
		if err := rows.Scan(&name, &typ, &ddl); err != nil {
			return nil, fmt.Errorf("scanning sqlite_master row: %w", err)
		}
		if !ddl.Valid {
			continue
		}
		obj := Object{Name: name, DDL: ddl.String}
		switch typ {
		case "table":
			obj.Type = ObjectTable
			cat.Tables = append(cat.Tables, obj)
		case "view":
			obj.Type = ObjectView
			cat.Views = append(cat.Views, obj)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sqlite_master: %w", err)
	}
	return &cat, nil
}

func (sqliteDialect) QuoteIdent(name string) string { return quoteIdent(name) }
