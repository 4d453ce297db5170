// Snapkeep - Scheduled Database Backup Service
// Copyright 2026 Snapkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/snapkeep/snapkeep

package source

import (
	"bufio"
	"context"
	"database/sql"
	"fmt"
	"io"
	"strings"
)

// Dump writes a complete SQL export of db to w: DDL for all tables, then
// all views, then one INSERT per row for every table. Objects appear in
// catalog (name) order so consecutive exports of the same data are
// byte-identical.
func Dump(ctx context.Context, db *sql.DB, d Dialect, w io.Writer) error {
	cat, err := d.Catalog(ctx, db)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrExport, err)
	}

	bw := bufio.NewWriterSize(w, 1<<16)

	fmt.Fprintf(bw, "-- snapkeep export (engine: %s)\n\n", d.Engine())

	for _, t := range cat.Tables {
		writeDDL(bw, t.DDL)
	}
	for _, v := range cat.Views {
		writeDDL(bw, v.DDL)
	}
	if len(cat.Tables) > 0 || len(cat.Views) > 0 {
		fmt.Fprintln(bw)
	}

	for _, t := range cat.Tables {
		if err := dumpTable(ctx, db, d, bw, t.Name); err != nil {
			return fmt.Errorf("%w: table %s: %w", ErrExport, t.Name, err)
		}
	}

	if err := bw.Flush(); err != nil {
		return fmt.Errorf("%w: %w", ErrExport, err)
	}
	return nil
}

func writeDDL(w io.Writer, ddl string) {
	ddl = strings.TrimRight(ddl, " \t\n;")
	fmt.Fprintf(w, "%s;\n", ddl)
}

func dumpTable(ctx context.Context, db *sql.DB, d Dialect, w *bufio.Writer, name string) error {
	rows, err := db.QueryContext(ctx, "SELECT * FROM "+d.QuoteIdent(name))
	if err != nil {
		return err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return err
	}

	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = d.QuoteIdent(c)
	}
	prefix := fmt.Sprintf("INSERT INTO %s (%s) VALUES (", d.QuoteIdent(name), strings.Join(quoted, ", "))

	vals := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}

	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return err
		}
		w.WriteString(prefix)
		for i, v := range vals {
			if i > 0 {
				w.WriteString(", ")
			}
			w.WriteString(Literal(v))
		}
		if _, err := w.WriteString(");\n"); err != nil {
			return err
		}
	}
	return rows.Err()
}
