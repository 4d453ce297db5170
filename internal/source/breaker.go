// Snapkeep - Scheduled Database Backup Service
// Copyright 2026 Snapkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/snapkeep/snapkeep

package source

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/snapkeep/snapkeep/internal/config"
	"github.com/snapkeep/snapkeep/internal/logging"
)

const (
	breakerFailureThreshold = 3
	breakerResetTimeout     = 2 * time.Minute
	pingTimeout             = 10 * time.Second
)

// Connector opens verified connections to the source database. Attempts run
// through a circuit breaker: after breakerFailureThreshold consecutive
// failures the breaker opens and Connect fails fast until the reset timeout
// elapses.
type Connector struct {
	dialect Dialect
	cfg     config.DatabaseConfig
	cb      *gobreaker.CircuitBreaker[*sql.DB]
}

// NewConnector builds a Connector for the configured engine.
func NewConnector(cfg config.DatabaseConfig) (*Connector, error) {
	d, err := ForEngine(cfg.Engine)
	if err != nil {
		return nil, err
	}

	settings := gobreaker.Settings{
		Name:        "source-" + cfg.Name,
		MaxRequests: 1,
		Timeout:     breakerResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerFailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Source circuit breaker state changed")
		},
	}

	return &Connector{
		dialect: d,
		cfg:     cfg,
		cb:      gobreaker.NewCircuitBreaker[*sql.DB](settings),
	}, nil
}

// Dialect returns the engine dialect behind this connector.
func (c *Connector) Dialect() Dialect { return c.dialect }

// State reports the breaker state for monitoring.
func (c *Connector) State() string { return c.cb.State().String() }

// Connect opens and pings a connection. Errors are classified as
// ErrConnection, including fast-fail responses from an open breaker. The
// caller owns the returned pool and must Close it.
func (c *Connector) Connect(ctx context.Context) (*sql.DB, error) {
	db, err := c.cb.Execute(func() (*sql.DB, error) {
		db, err := c.dialect.Open(c.cfg)
		if err != nil {
			return nil, err
		}

		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			db.Close()
			return nil, err
		}
		return db, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnection, err)
	}
	return db, nil
}
