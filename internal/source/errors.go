// Snapkeep - Scheduled Database Backup Service
// Copyright 2026 Snapkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/snapkeep/snapkeep

package source

import "errors"

// Sentinel errors for classifying backup failures. Callers match with
// errors.Is to decide logging detail and notification payloads.
var (
	// ErrConnection marks failures reaching or authenticating against the
	// source database, including a tripped circuit breaker.
	ErrConnection = errors.New("source: connection failed")

	// ErrExport marks failures while reading schema or data out of a
	// database that was reached successfully.
	ErrExport = errors.New("source: export failed")
)
