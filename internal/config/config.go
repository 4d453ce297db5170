// Snapkeep - Scheduled Database Backup Service
// Copyright 2026 Snapkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/snapkeep/snapkeep

// Package config loads and validates snapkeep configuration from layered
// sources: built-in defaults, an optional YAML file, and environment
// variables (highest priority).
//
// Database credentials, the artifact encryption secret, and the API token
// are resolved exclusively from environment variables and are never read
// from or written to the config file.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
)

// Environment variables holding secrets. These bypass the koanf layers on
// purpose: they must never appear in config.yaml.
const (
	EnvDBUser           = "SNAPKEEP_DB_USER"
	EnvDBPassword       = "SNAPKEEP_DB_PASSWORD"
	EnvEncryptionSecret = "SNAPKEEP_ENCRYPTION_SECRET"
	EnvAPIToken         = "SNAPKEEP_API_TOKEN"
)

// Config is the root configuration for the snapkeep daemon.
type Config struct {
	Databases []DatabaseConfig `koanf:"databases" validate:"required,min=1,dive"`
	Backup    BackupConfig     `koanf:"backup"`
	Schedule  ScheduleConfig   `koanf:"schedule"`
	Retention RetentionConfig  `koanf:"retention"`
	History   HistoryConfig    `koanf:"history"`
	Server    ServerConfig     `koanf:"server"`
	Logging   LoggingConfig    `koanf:"logging"`
	Notify    NotifyConfig     `koanf:"notify"`
}

// Enabled returns the databases that are switched on for backup.
func (c *Config) Enabled() []DatabaseConfig {
	var out []DatabaseConfig
	for _, db := range c.Databases {
		if db.Enabled {
			out = append(out, db)
		}
	}
	return out
}

// DatabaseConfig identifies one source database to back up. Databases are
// backed up sequentially, never concurrently.
type DatabaseConfig struct {
	// Name is the logical database name, used in artifact file names.
	Name string `koanf:"name" validate:"required"`

	// Enabled switches this database in or out of the schedule.
	Enabled bool `koanf:"enabled"`

	// Engine selects the SQL dialect and driver.
	Engine string `koanf:"engine" validate:"required,oneof=sqlite duckdb"`

	// Path is the database file for embedded engines.
	Path string `koanf:"path"`

	// Host and Port are kept for engines reached over the network and for
	// job-history records.
	Host string `koanf:"host"`
	Port int    `koanf:"port" validate:"omitempty,min=1,max=65535"`

	// User and Password come from SNAPKEEP_DB_USER / SNAPKEEP_DB_PASSWORD.
	User     string `koanf:"-"`
	Password string `koanf:"-"`
}

// BackupConfig controls artifact creation and layout.
type BackupConfig struct {
	// Dir is the root artifact directory. Daily artifacts live directly in
	// it; annual artifacts go to Dir/Annual.
	Dir string `koanf:"dir" validate:"required"`

	Compression CompressionConfig `koanf:"compression"`
	Encryption  EncryptionConfig  `koanf:"encryption"`
}

// CompressionConfig defines gzip settings for artifacts.
type CompressionConfig struct {
	Enabled bool `koanf:"enabled"`
	Level   int  `koanf:"level" validate:"omitempty,min=1,max=9"`
}

// EncryptionConfig defines optional artifact sealing.
type EncryptionConfig struct {
	Enabled bool `koanf:"enabled"`

	// Secret comes from SNAPKEEP_ENCRYPTION_SECRET.
	Secret string `koanf:"-"`
}

// ScheduleConfig defines when backups run.
type ScheduleConfig struct {
	Enabled bool `koanf:"enabled"`

	// PreferredHour is the local hour (0-23) at which daily backups run.
	PreferredHour int `koanf:"preferred_hour" validate:"min=0,max=23"`

	// AnnualMonth and AnnualDay set the anniversary for the permanent
	// yearly snapshot.
	AnnualMonth int `koanf:"annual_month" validate:"min=1,max=12"`
	AnnualDay   int `koanf:"annual_day" validate:"min=1,max=31"`
}

// RetentionConfig defines the rolling window for daily artifacts. Annual
// artifacts are always permanent.
type RetentionConfig struct {
	DailyWindowDays int `koanf:"daily_window_days" validate:"min=1"`
}

// HistoryConfig configures the badger-backed job history store.
type HistoryConfig struct {
	Path       string        `koanf:"path" validate:"required"`
	GCInterval time.Duration `koanf:"gc_interval" validate:"min=1m"`
}

// ServerConfig configures the operator HTTP API.
type ServerConfig struct {
	Enabled bool          `koanf:"enabled"`
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port" validate:"min=1,max=65535"`
	Timeout time.Duration `koanf:"timeout"`

	// RateLimitReqs is the per-IP request budget per minute.
	RateLimitReqs int `koanf:"rate_limit_reqs" validate:"min=1"`

	// APIToken comes from SNAPKEEP_API_TOKEN. Empty disables auth.
	APIToken string `koanf:"-"`
}

// LoggingConfig configures zerolog output and file rotation.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`

	// Dir enables rotated file logging when non-empty.
	Dir        string `koanf:"dir"`
	MaxSizeMB  int    `koanf:"max_size_mb" validate:"min=1"`
	MaxAgeDays int    `koanf:"max_age_days" validate:"min=1"`
	Compress   bool   `koanf:"compress"`
}

// NotifyConfig configures webhook notifications for run outcomes.
type NotifyConfig struct {
	OnSuccess  bool          `koanf:"on_success"`
	OnFailure  bool          `koanf:"on_failure"`
	WebhookURL string        `koanf:"webhook_url" validate:"omitempty,url"`
	Timeout    time.Duration `koanf:"timeout"`
}

// Validate checks field constraints and cross-field invariants.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	seen := make(map[string]bool, len(c.Databases))
	enabled := 0
	for _, db := range c.Databases {
		if seen[db.Name] {
			return fmt.Errorf("duplicate database name %q", db.Name)
		}
		seen[db.Name] = true
		if db.Enabled {
			enabled++
		}
		// Embedded engines read a file on disk.
		if db.Path == "" {
			return fmt.Errorf("databases.%s: path is required for engine %q", db.Name, db.Engine)
		}
	}
	if enabled == 0 {
		return fmt.Errorf("no database is enabled for backup")
	}

	if c.Backup.Encryption.Enabled && len(c.Backup.Encryption.Secret) < 16 {
		return fmt.Errorf("%s must be at least 16 characters when encryption is enabled", EnvEncryptionSecret)
	}

	if d := daysIn(time.Month(c.Schedule.AnnualMonth)); c.Schedule.AnnualDay > d {
		return fmt.Errorf("schedule.annual_day %d is out of range for month %d", c.Schedule.AnnualDay, c.Schedule.AnnualMonth)
	}

	return nil
}

// daysIn returns the maximum day count for a month, allowing Feb 29 so an
// anniversary on a leap day is accepted (it falls back to Feb 28 off-years).
func daysIn(m time.Month) int {
	switch m {
	case time.February:
		return 29
	case time.April, time.June, time.September, time.November:
		return 30
	default:
		return 31
	}
}

// loadSecrets pulls credential material from the environment into the
// config. Called by Load after the koanf layers are merged. The database
// credentials apply to every configured database.
func (c *Config) loadSecrets() {
	user := os.Getenv(EnvDBUser)
	password := os.Getenv(EnvDBPassword)
	for i := range c.Databases {
		c.Databases[i].User = user
		c.Databases[i].Password = password
	}
	c.Backup.Encryption.Secret = os.Getenv(EnvEncryptionSecret)
	c.Server.APIToken = os.Getenv(EnvAPIToken)
}
