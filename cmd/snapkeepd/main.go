// Snapkeep - Scheduled Database Backup Service
// Copyright 2026 Snapkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/snapkeep/snapkeep

// Command snapkeepd is the backup daemon. It loads configuration, opens the
// job history and artifact store, and runs the scheduler, notifier, and
// operator API under a supervision tree until SIGINT or SIGTERM.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/snapkeep/snapkeep/internal/api"
	"github.com/snapkeep/snapkeep/internal/backup"
	"github.com/snapkeep/snapkeep/internal/config"
	"github.com/snapkeep/snapkeep/internal/history"
	"github.com/snapkeep/snapkeep/internal/logging"
	"github.com/snapkeep/snapkeep/internal/metrics"
	"github.com/snapkeep/snapkeep/internal/notify"
	"github.com/snapkeep/snapkeep/internal/retention"
	"github.com/snapkeep/snapkeep/internal/scheduler"
	"github.com/snapkeep/snapkeep/internal/source"
	"github.com/snapkeep/snapkeep/internal/supervisor"
	"github.com/snapkeep/snapkeep/internal/supervisor/services"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	configPath := flag.String("config", "config.yaml", "path to the configuration file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("snapkeepd %s\n", version)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "snapkeepd: %v\n", err)
		os.Exit(1)
	}

	if err := setupLogging(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "snapkeepd: %v\n", err)
		os.Exit(1)
	}

	logging.Info().
		Str("version", version).
		Int("databases", len(cfg.Enabled())).
		Msg("Starting snapkeepd")

	if err := run(cfg); err != nil {
		logging.Error().Err(err).Msg("snapkeepd exited with error")
		os.Exit(1)
	}
	logging.Info().Msg("snapkeepd stopped")
}

func setupLogging(cfg *config.Config) error {
	logCfg := logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	}
	if cfg.Logging.Dir == "" {
		logging.Init(logCfg)
		return nil
	}
	return logging.InitWithFile(logCfg, logging.FileConfig{
		Dir:        cfg.Logging.Dir,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
	})
}

func run(cfg *config.Config) error {
	hist, err := history.Open(cfg.History.Path)
	if err != nil {
		return err
	}
	defer hist.Close()

	store, err := backup.OpenStore(cfg.Backup.Dir)
	if err != nil {
		return err
	}
	if err := store.Reconcile(); err != nil {
		return err
	}
	metrics.ArtifactsIndexed.Set(float64(len(store.List())))

	ret := retention.New(store, retention.Policy{DailyWindowDays: cfg.Retention.DailyWindowDays})

	bus := notify.NewBus()
	defer bus.Close()
	webhook := notify.NewWebhook(bus, cfg.Notify)

	var targets []scheduler.Target
	var apiDatabases []api.Database
	for _, db := range cfg.Enabled() {
		conn, err := source.NewConnector(db)
		if err != nil {
			return err
		}
		targets = append(targets, scheduler.Target{
			Database:     db.Name,
			Executor:     backup.NewExecutor(conn, store, cfg.Backup, db.Name),
			BreakerState: conn.State,
		})
		apiDatabases = append(apiDatabases, api.Database{Name: db.Name, BreakerState: conn.State})
		logging.Info().Str("database", db.Name).Str("engine", db.Engine).Msg("Database registered")
	}

	sched := scheduler.New(cfg.Schedule, scheduler.Deps{
		Targets:   targets,
		History:   hist,
		Retention: ret,
		Bus:       bus,
	})

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddDataService(services.NewGCService(hist, cfg.History.GCInterval))
	tree.AddWorkerService(services.NewRunnerService("scheduler", sched))
	if webhook.Enabled() {
		tree.AddWorkerService(services.NewRunnerService("webhook-notifier", webhook))
	}

	if cfg.Server.Enabled {
		router := api.NewRouter(cfg.Server, api.Deps{
			Store:     store,
			History:   hist,
			Scheduler: sched,
			Retention: ret,
			Databases: apiDatabases,
		})
		srv := &http.Server{
			Addr:              net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       cfg.Server.Timeout,
			WriteTimeout:      cfg.Server.Timeout,
		}
		tree.AddAPIService(services.NewHTTPService(srv, 10*time.Second))
		logging.Info().Str("addr", srv.Addr).Msg("Operator API enabled")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = <-tree.ServeBackground(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	if unstopped, repErr := tree.UnstoppedServiceReport(); repErr == nil && len(unstopped) > 0 {
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("Service did not stop within timeout")
		}
	}
	return nil
}
