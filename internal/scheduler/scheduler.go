// Snapkeep - Scheduled Database Backup Service
// Copyright 2026 Snapkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/snapkeep/snapkeep

// Package scheduler decides when backups run and drives them through their
// full lifecycle: journal entry, execution, retention sweep, metrics, and
// notification. Per database and calendar day at most one daily backup
// completes, and per database and calendar year at most one annual backup;
// the completion indexes in the job history make triggers idempotent,
// including the catch-up pass after a restart. Databases are backed up one
// at a time, never concurrently.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/snapkeep/snapkeep/internal/backup"
	"github.com/snapkeep/snapkeep/internal/config"
	"github.com/snapkeep/snapkeep/internal/history"
	"github.com/snapkeep/snapkeep/internal/logging"
	"github.com/snapkeep/snapkeep/internal/metrics"
	"github.com/snapkeep/snapkeep/internal/notify"
	"github.com/snapkeep/snapkeep/internal/retention"
	"github.com/snapkeep/snapkeep/internal/source"
)

// ErrUnknownDatabase is returned when a run is requested for a database the
// scheduler does not manage.
var ErrUnknownDatabase = errors.New("scheduler: unknown database")

// Executor runs one backup of a database.
type Executor interface {
	Run(ctx context.Context, kind backup.Kind, startedAt time.Time) (*backup.Artifact, error)
}

// Target binds one database to its executor.
type Target struct {
	Database string
	Executor Executor

	// BreakerState reports the database's source breaker state for the
	// metrics gauge. Optional.
	BreakerState func() string
}

// Deps bundles the collaborators a Scheduler drives.
type Deps struct {
	Targets   []Target
	History   *history.Store
	Retention *retention.Manager
	Bus       *notify.Bus

	// Clock defaults to the system clock.
	Clock Clock
}

// Scheduler owns the backup timetable for all configured databases.
type Scheduler struct {
	cfg  config.ScheduleConfig
	deps Deps

	// runMu serializes backup runs: one database at a time, and a manual
	// trigger cannot overlap a scheduled one.
	runMu sync.Mutex
}

// New builds a scheduler.
func New(cfg config.ScheduleConfig, deps Deps) *Scheduler {
	if deps.Clock == nil {
		deps.Clock = SystemClock()
	}
	return &Scheduler{cfg: cfg, deps: deps}
}

// Databases returns the managed database names in configuration order.
func (s *Scheduler) Databases() []string {
	names := make([]string, len(s.deps.Targets))
	for i, t := range s.deps.Targets {
		names[i] = t.Database
	}
	return names
}

func (s *Scheduler) target(database string) (Target, bool) {
	for _, t := range s.deps.Targets {
		if t.Database == database {
			return t, true
		}
	}
	return Target{}, false
}

// dailyAt returns the daily run time on the same calendar day as t.
func dailyAt(t time.Time, hour int) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), hour, 0, 0, 0, t.Location())
}

// anniversaryAt returns the annual run time in the given year. A February
// 29 anniversary falls back to February 28 in non-leap years.
func anniversaryAt(year int, cfg config.ScheduleConfig, loc *time.Location) time.Time {
	day := cfg.AnnualDay
	if cfg.AnnualMonth == 2 && day == 29 {
		// time.Date would normalize Feb 29 to Mar 1 in off-years.
		probe := time.Date(year, 2, 29, 0, 0, 0, 0, time.UTC)
		if probe.Month() != time.February {
			day = 28
		}
	}
	return time.Date(year, time.Month(cfg.AnnualMonth), day, cfg.PreferredHour, 0, 0, 0, loc)
}

// NextDaily returns the next daily run time strictly after now.
func (s *Scheduler) NextDaily(now time.Time) time.Time {
	next := dailyAt(now, s.cfg.PreferredHour)
	if !next.After(now) {
		next = dailyAt(now.AddDate(0, 0, 1), s.cfg.PreferredHour)
	}
	return next
}

// NextAnnual returns the next annual run time strictly after now.
func (s *Scheduler) NextAnnual(now time.Time) time.Time {
	next := anniversaryAt(now.Year(), s.cfg, now.Location())
	if !next.After(now) {
		next = anniversaryAt(now.Year()+1, s.cfg, now.Location())
	}
	return next
}

// plannedRun is one backup dueRuns has decided to execute.
type plannedRun struct {
	target Target
	kind   backup.Kind
}

// missedPreviousDay reports whether the database has run before but has no
// completed daily for the previous calendar day. A restart before today's
// trigger hour still owes a run in that case: the previous day's trigger
// passed entirely while the daemon was down.
func (s *Scheduler) missedPreviousDay(database string, now time.Time) (bool, error) {
	_, ever, err := s.deps.History.LastCompleted(backup.KindDaily, database)
	if err != nil || !ever {
		return false, err
	}
	covered, err := s.deps.History.HasCompleted(backup.KindDaily, database, now.AddDate(0, 0, -1))
	if err != nil {
		return false, err
	}
	return !covered, nil
}

// dueRuns returns the backups that should run now: the period's trigger
// time has passed (or, for dailies, the previous day's trigger was missed
// during downtime) and no completed run covers the period. Annual runs
// precede daily runs so an anniversary morning produces both, annual first.
func (s *Scheduler) dueRuns(now time.Time) ([]plannedRun, error) {
	var due []plannedRun

	if !now.Before(anniversaryAt(now.Year(), s.cfg, now.Location())) {
		for _, t := range s.deps.Targets {
			done, err := s.deps.History.HasCompleted(backup.KindAnnual, t.Database, now)
			if err != nil {
				return nil, err
			}
			if !done {
				due = append(due, plannedRun{target: t, kind: backup.KindAnnual})
			}
		}
	}

	triggerPassed := !now.Before(dailyAt(now, s.cfg.PreferredHour))
	for _, t := range s.deps.Targets {
		dailyDue := triggerPassed
		if !dailyDue {
			missed, err := s.missedPreviousDay(t.Database, now)
			if err != nil {
				return nil, err
			}
			dailyDue = missed
		}
		if !dailyDue {
			continue
		}
		done, err := s.deps.History.HasCompleted(backup.KindDaily, t.Database, now)
		if err != nil {
			return nil, err
		}
		if !done {
			due = append(due, plannedRun{target: t, kind: backup.KindDaily})
		}
	}

	return due, nil
}

// tick runs every backup currently due. Failures are logged and recorded
// but do not stop the loop; the next tick retries.
func (s *Scheduler) tick(ctx context.Context, trigger history.Trigger) {
	now := s.deps.Clock.Now()
	due, err := s.dueRuns(now)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to determine due backups")
		return
	}
	for _, run := range due {
		if ctx.Err() != nil {
			return
		}
		if _, err := s.Execute(ctx, run.target.Database, run.kind, trigger); err != nil {
			logging.Error().
				Err(err).
				Str("database", run.target.Database).
				Str("kind", string(run.kind)).
				Msg("Backup run failed")
		}
	}
}

// sweepRetention applies the retention policy for every database. It runs
// at startup so a deletion that failed on an earlier sweep is retried
// without waiting for the next successful daily run.
func (s *Scheduler) sweepRetention() {
	if s.deps.Retention == nil {
		return
	}
	for _, t := range s.deps.Targets {
		s.applyRetention(t.Database)
	}
}

func (s *Scheduler) applyRetention(database string) {
	deleted, failed, err := s.deps.Retention.Apply(s.deps.Clock.Now(), database)
	if err != nil {
		// Retention failures never fail a backup run.
		logging.Warn().Err(err).Str("database", database).Msg("Retention sweep incomplete")
	}
	metrics.RecordRetention(len(deleted), failed)
}

// Run is the scheduler loop. On start it performs one catch-up pass for
// periods whose trigger was missed and one retention sweep, then sleeps
// until the next daily or annual run time.
func (s *Scheduler) Run(ctx context.Context) error {
	s.sweepRetention()

	if !s.cfg.Enabled {
		logging.Info().Msg("Scheduler disabled, backups run only on manual trigger")
		<-ctx.Done()
		return ctx.Err()
	}

	s.tick(ctx, history.TriggerCatchup)

	for {
		now := s.deps.Clock.Now()
		nextDaily := s.NextDaily(now)
		nextAnnual := s.NextAnnual(now)

		next := nextDaily
		if nextAnnual.Before(nextDaily) {
			next = nextAnnual
		}

		logging.Info().
			Time("next_daily", nextDaily).
			Time("next_annual", nextAnnual).
			Msg("Scheduler sleeping until next run")

		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			s.tick(ctx, history.TriggerScheduled)
		}
	}
}

// Execute runs one backup of the given database and kind right now and
// blocks until it finishes. Scheduled and catch-up triggers skip the run
// when the period is already covered; manual triggers always run.
func (s *Scheduler) Execute(ctx context.Context, database string, kind backup.Kind, trigger history.Trigger) (*history.Job, error) {
	target, ok := s.target(database)
	if !ok {
		return nil, ErrUnknownDatabase
	}

	s.runMu.Lock()
	defer s.runMu.Unlock()

	now := s.deps.Clock.Now()

	if trigger != history.TriggerManual {
		done, err := s.deps.History.HasCompleted(kind, database, now)
		if err != nil {
			return nil, err
		}
		if done {
			logging.Debug().
				Str("database", database).
				Str("kind", string(kind)).
				Msg("Period already covered, skipping run")
			return nil, nil
		}
	}

	job := history.Job{
		ID:        uuid.NewString(),
		Database:  database,
		Kind:      kind,
		Trigger:   trigger,
		Status:    history.StatusRunning,
		StartedAt: now,
	}
	if err := s.deps.History.Append(job); err != nil {
		return nil, err
	}

	logging.Info().
		Str("job_id", job.ID).
		Str("database", database).
		Str("kind", string(kind)).
		Str("trigger", string(trigger)).
		Msg("Backup run started")

	artifact, runErr := target.Executor.Run(ctx, kind, now)
	job.FinishedAt = s.deps.Clock.Now()
	elapsed := job.FinishedAt.Sub(now)

	if target.BreakerState != nil {
		metrics.SetBreakerState(database, target.BreakerState())
	}

	if runErr != nil {
		job.Status = history.StatusFailed
		job.Error = runErr.Error()
		if err := s.deps.History.Finish(job); err != nil {
			logging.Error().Err(err).Str("job_id", job.ID).Msg("Failed to journal failed run")
		}
		metrics.RecordRun(string(kind), string(trigger), "failed", elapsed)
		s.publish(job, nil)

		switch {
		case errors.Is(runErr, source.ErrConnection):
			logging.Error().Err(runErr).Str("job_id", job.ID).Msg("Backup failed: database unreachable")
		case errors.Is(runErr, source.ErrExport):
			logging.Error().Err(runErr).Str("job_id", job.ID).Msg("Backup failed: export error")
		default:
			logging.Error().Err(runErr).Str("job_id", job.ID).Msg("Backup failed")
		}
		return &job, runErr
	}

	job.Status = history.StatusCompleted
	job.ArtifactID = artifact.ID
	job.ArtifactPath = artifact.Path
	if err := s.deps.History.Finish(job); err != nil {
		logging.Error().Err(err).Str("job_id", job.ID).Msg("Failed to journal completed run")
	}
	metrics.RecordRun(string(kind), string(trigger), "completed", elapsed)
	metrics.RecordSuccess(string(kind), job.FinishedAt, artifact.SizeBytes)
	s.publish(job, artifact)

	logging.Info().
		Str("job_id", job.ID).
		Str("artifact", artifact.Path).
		Dur("elapsed", elapsed).
		Msg("Backup run completed")

	if kind == backup.KindDaily && s.deps.Retention != nil {
		s.applyRetention(database)
	}

	return &job, nil
}

func (s *Scheduler) publish(job history.Job, artifact *backup.Artifact) {
	if s.deps.Bus == nil {
		return
	}
	ev := notify.Event{
		JobID:      job.ID,
		Database:   job.Database,
		Kind:       string(job.Kind),
		Trigger:    string(job.Trigger),
		Status:     string(job.Status),
		StartedAt:  job.StartedAt,
		FinishedAt: job.FinishedAt,
		Error:      job.Error,
	}
	if artifact != nil {
		ev.ArtifactPath = artifact.Path
		ev.SizeBytes = artifact.SizeBytes
	}
	if err := s.deps.Bus.Publish(ev); err != nil {
		logging.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to publish run event")
	}
}
