// Snapkeep - Scheduled Database Backup Service
// Copyright 2026 Snapkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/snapkeep/snapkeep

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "SNAPKEEP_"

// envKeyMap routes flat environment variables to nested config keys.
// SNAPKEEP_LOG_LEVEL becomes logging.level, and so on. Variables without an
// entry are ignored, which keeps the secret vars out of the koanf layers.
var envKeyMap = map[string]string{
	"BACKUP_DIR":          "backup.dir",
	"COMPRESSION":         "backup.compression.enabled",
	"COMPRESSION_LEVEL":   "backup.compression.level",
	"ENCRYPTION":          "backup.encryption.enabled",

	"SCHEDULE_ENABLED": "schedule.enabled",
	"BACKUP_HOUR":      "schedule.preferred_hour",
	"ANNUAL_MONTH":     "schedule.annual_month",
	"ANNUAL_DAY":       "schedule.annual_day",

	"RETENTION_DAYS": "retention.daily_window_days",

	"HISTORY_PATH":        "history.path",
	"HISTORY_GC_INTERVAL": "history.gc_interval",

	"SERVER_ENABLED":  "server.enabled",
	"SERVER_HOST":     "server.host",
	"SERVER_PORT":     "server.port",
	"SERVER_TIMEOUT":  "server.timeout",
	"RATE_LIMIT_REQS": "server.rate_limit_reqs",

	"LOG_LEVEL":        "logging.level",
	"LOG_FORMAT":       "logging.format",
	"LOG_CALLER":       "logging.caller",
	"LOG_DIR":          "logging.dir",
	"LOG_MAX_SIZE_MB":  "logging.max_size_mb",
	"LOG_MAX_AGE_DAYS": "logging.max_age_days",
	"LOG_COMPRESS":     "logging.compress",

	"NOTIFY_ON_SUCCESS":  "notify.on_success",
	"NOTIFY_ON_FAILURE":  "notify.on_failure",
	"NOTIFY_WEBHOOK_URL": "notify.webhook_url",
	"NOTIFY_TIMEOUT":     "notify.timeout",
}

// envTransformFunc maps SNAPKEEP_* environment variable names to nested
// config keys. Variables without a mapping are skipped, which keeps the
// secret variables out of the koanf layers.
func envTransformFunc(key string) string {
	return envKeyMap[strings.TrimPrefix(key, envPrefix)]
}

// applyDatabaseEnv overrides the first configured database from SNAPKEEP_DB_*
// variables. The databases section is a list, so it sits outside the flat
// envKeyMap; the variables keep single-database deployments configurable
// without a file.
func applyDatabaseEnv(cfg *Config) error {
	if len(cfg.Databases) == 0 {
		cfg.Databases = []DatabaseConfig{{Engine: "sqlite", Enabled: true}}
	}
	db := &cfg.Databases[0]

	if v := os.Getenv("SNAPKEEP_DB_NAME"); v != "" {
		db.Name = v
	}
	if v := os.Getenv("SNAPKEEP_DB_ENGINE"); v != "" {
		db.Engine = v
	}
	if v := os.Getenv("SNAPKEEP_DB_PATH"); v != "" {
		db.Path = v
	}
	if v := os.Getenv("SNAPKEEP_DB_HOST"); v != "" {
		db.Host = v
	}
	if v := os.Getenv("SNAPKEEP_DB_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SNAPKEEP_DB_PORT: %w", err)
		}
		db.Port = port
	}
	return nil
}

// Defaults returns the built-in configuration. Daily backups at 02:00 local
// time, annual snapshot on January 1st, and a 30-day rolling window.
func Defaults() Config {
	return Config{
		Databases: []DatabaseConfig{
			{Engine: "sqlite", Enabled: true},
		},
		Backup: BackupConfig{
			Dir: "Backups",
			Compression: CompressionConfig{
				Enabled: true,
				Level:   6,
			},
		},
		Schedule: ScheduleConfig{
			Enabled:       true,
			PreferredHour: 2,
			AnnualMonth:   1,
			AnnualDay:     1,
		},
		Retention: RetentionConfig{
			DailyWindowDays: 30,
		},
		History: HistoryConfig{
			Path:       "Logs/history",
			GCInterval: time.Hour,
		},
		Server: ServerConfig{
			Enabled:       true,
			Host:          "127.0.0.1",
			Port:          7627,
			Timeout:       30 * time.Second,
			RateLimitReqs: 60,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			Dir:        "Logs",
			MaxSizeMB:  10,
			MaxAgeDays: 1,
			Compress:   true,
		},
		Notify: NotifyConfig{
			OnFailure: true,
			Timeout:   10 * time.Second,
		},
	}
}

// Load merges defaults, the YAML file at path (skipped when path is empty
// or the file does not exist), and SNAPKEEP_* environment variables, then
// resolves secrets and validates the result.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := Defaults()
	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("loading config file %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("checking config file %s: %w", path, err)
		}
	}

	envProvider := env.Provider(envPrefix, ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling configuration: %w", err)
	}

	if err := applyDatabaseEnv(&cfg); err != nil {
		return nil, err
	}
	cfg.loadSecrets()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}
