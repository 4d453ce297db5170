// Snapkeep - Scheduled Database Backup Service
// Copyright 2026 Snapkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/snapkeep/snapkeep

package source

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/duckdb/duckdb-go/v2" // DuckDB driver

	"github.com/snapkeep/snapkeep/internal/config"
)

type duckdbDialect struct{}

func (duckdbDialect) Engine() string { return "duckdb" }

func (duckdbDialect) Open(cfg config.DatabaseConfig) (*sql.DB, error) {
	// Disable extension auto-install/auto-load so exports cannot hang in
	// restricted network environments.
	dsn := fmt.Sprintf("%s?access_mode=read_only&autoinstall_known_extensions=false&autoload_known_extensions=false", cfg.Path)
	db, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening duckdb database %s: %w", cfg.Path, err)
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

func (duckdbDialect) Catalog(ctx context.Context, db *sql.DB) (*Catalog, error) {
	var cat Catalog

	tables, err := listObjects(ctx, db,
		`SELECT table_name, sql FROM duckdb_tables() WHERE NOT internal ORDER BY table_name`,
		ObjectTable)
	if err != nil {
		return nil, fmt.Errorf("listing duckdb tables: %w", err)
	}
	cat.Tables = tables

	views, err := listObjects(ctx, db,
		`SELECT view_name, sql FROM duckdb_views() WHERE NOT internal ORDER BY view_name`,
		ObjectView)
	if err != nil {
		return nil, fmt.Errorf("listing duckdb views: %w", err)
	}
	cat.Views = views

	return &cat, nil
}

func listObjects(ctx context.Context, db *sql.DB, query string, typ ObjectType) ([]Object, error) {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var objs []Object
	for rows.Next() {
		var name string
		var ddl sql.NullString
		if err := rows.Scan(&name, &ddl); err != nil {
			return nil, err
		}
		if !ddl.Valid {
			continue
		}
		objs = append(objs, Object{Name: name, Type: typ, DDL: ddl.String})
	}
	return objs, rows.Err()
}

func (duckdbDialect) QuoteIdent(name string) string { return quoteIdent(name) }
