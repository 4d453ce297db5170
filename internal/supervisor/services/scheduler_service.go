// Snapkeep - Scheduled Database Backup Service
// Copyright 2026 Snapkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/snapkeep/snapkeep

package services

import (
	"context"
)

// Runner is anything with a blocking, context-cancelled Run loop. The
// scheduler and the webhook notifier both satisfy it.
type Runner interface {
	Run(ctx context.Context) error
}

// RunnerService adapts a Runner to suture.Service.
type RunnerService struct {
	name   string
	runner Runner
}

// NewRunnerService wraps a runner under a service name used in supervisor
// logs.
func NewRunnerService(name string, runner Runner) *RunnerService {
	return &RunnerService{name: name, runner: runner}
}

// Serve implements suture.Service.
func (s *RunnerService) Serve(ctx context.Context) error {
	return s.runner.Run(ctx)
}

func (s *RunnerService) String() string { return s.name }
