// Snapkeep - Scheduled Database Backup Service
// Copyright 2026 Snapkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/snapkeep/snapkeep

// Package history is the durable job journal backed by BadgerDB. Every
// backup run is recorded from start to finish, and completion indexes keyed
// by day (daily) or year (annual) give the scheduler its idempotency
// checks: one successful backup per kind per period.
package history

import (
	"errors"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	json "github.com/goccy/go-json"

	"github.com/snapkeep/snapkeep/internal/backup"
	"github.com/snapkeep/snapkeep/internal/logging"
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Trigger records why a job ran.
type Trigger string

const (
	TriggerScheduled Trigger = "scheduled"
	TriggerCatchup   Trigger = "catchup"
	TriggerManual    Trigger = "manual"
)

// Job is one backup run, successful or not.
type Job struct {
	ID           string      `json:"id"`
	Database     string      `json:"database"`
	Kind         backup.Kind `json:"kind"`
	Trigger      Trigger     `json:"trigger"`
	Status       Status      `json:"status"`
	StartedAt    time.Time   `json:"started_at"`
	FinishedAt   time.Time   `json:"finished_at"`
	ArtifactID   string      `json:"artifact_id,omitempty"`
	ArtifactPath string      `json:"artifact_path,omitempty"`
	Error        string      `json:"error,omitempty"`
}

const (
	jobPrefix = "job/"
	idxPrefix = "idx/"
)

// Store is the badger-backed journal.
type Store struct {
	db *badger.DB
}

// Open opens (or creates) the journal at path.
func Open(path string) (*Store, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening job history at %s: %w", path, err)
	}

	logging.Info().Str("path", path).Msg("Job history opened")
	return &Store{db: db}, nil
}

// Close flushes and closes the journal.
func (s *Store) Close() error {
	return s.db.Close()
}

// jobKey orders records chronologically so a prefix iteration walks runs in
// start order. The timestamp format is fixed-width; RFC3339Nano drops
// trailing zeros, which breaks lexicographic ordering within a second.
const jobKeyTimeFormat = "2006-01-02T15:04:05.000000000"

func jobKey(j Job) []byte {
	return []byte(jobPrefix + j.StartedAt.UTC().Format(jobKeyTimeFormat) + "/" + j.ID)
}

// periodKey is the idempotency index key for a run's period.
func periodKey(kind backup.Kind, database string, at time.Time) []byte {
	if kind == backup.KindAnnual {
		return []byte(fmt.Sprintf("%sannual/%s/%04d", idxPrefix, database, at.Year()))
	}
	return []byte(fmt.Sprintf("%sdaily/%s/%s", idxPrefix, database, at.Format("2006-01-02")))
}

func putJob(txn *badger.Txn, j Job) error {
	data, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("encoding job %s: %w", j.ID, err)
	}
	return txn.Set(jobKey(j), data)
}

// Append records a newly started job.
func (s *Store) Append(j Job) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return putJob(txn, j)
	})
}

// Finish overwrites the job record with its final state. Completed jobs
// also mark their period index, making HasCompleted true for that period.
func (s *Store) Finish(j Job) error {
	return s.db.Update(func(txn *badger.Txn) error {
		if err := putJob(txn, j); err != nil {
			return err
		}
		if j.Status != StatusCompleted {
			return nil
		}
		return txn.Set(periodKey(j.Kind, j.Database, j.StartedAt), []byte(j.ID))
	})
}

// HasCompleted reports whether a successful run of the given kind already
// exists for the period containing at (calendar day for daily, calendar
// year for annual).
func (s *Store) HasCompleted(kind backup.Kind, database string, at time.Time) (bool, error) {
	var found bool
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(periodKey(kind, database, at))
		switch err {
		case nil:
			found = true
			return nil
		case badger.ErrKeyNotFound:
			return nil
		default:
			return err
		}
	})
	if err != nil {
		return false, fmt.Errorf("checking completion index: %w", err)
	}
	return found, nil
}

// List returns the most recent jobs, newest first, up to limit.
func (s *Store) List(limit int) ([]Job, error) {
	var jobs []Job
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = []byte(jobPrefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration needs a seek target past the whole prefix.
		seek := append([]byte(jobPrefix), 0xff)
		for it.Seek(seek); it.Valid() && (limit <= 0 || len(jobs) < limit); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var j Job
				if err := json.Unmarshal(val, &j); err != nil {
					return fmt.Errorf("decoding job record: %w", err)
				}
				jobs = append(jobs, j)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}
	return jobs, nil
}

// LastCompleted returns the most recent completed job of a kind.
func (s *Store) LastCompleted(kind backup.Kind, database string) (Job, bool, error) {
	jobs, err := s.List(0)
	if err != nil {
		return Job{}, false, err
	}
	for _, j := range jobs {
		if j.Status == StatusCompleted && j.Kind == kind && j.Database == database {
			return j, true, nil
		}
	}
	return Job{}, false, nil
}

// RunGC runs value-log garbage collection until badger reports nothing
// left to rewrite.
func (s *Store) RunGC() error {
	for {
		err := s.db.RunValueLogGC(0.5)
		if errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrRejected) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
