// Snapkeep - Scheduled Database Backup Service
// Copyright 2026 Snapkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/snapkeep/snapkeep

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	d := Defaults()

	if d.Schedule.PreferredHour != 2 {
		t.Errorf("PreferredHour = %d, want 2", d.Schedule.PreferredHour)
	}
	if d.Retention.DailyWindowDays != 30 {
		t.Errorf("DailyWindowDays = %d, want 30", d.Retention.DailyWindowDays)
	}
	if d.Server.Port != 7627 {
		t.Errorf("Server.Port = %d, want 7627", d.Server.Port)
	}
	if !d.Backup.Compression.Enabled {
		t.Error("compression should be enabled by default")
	}
	if d.Backup.Encryption.Enabled {
		t.Error("encryption should be disabled by default")
	}
}

func TestLoadDefaultsWithEnv(t *testing.T) {
	t.Setenv("SNAPKEEP_DB_NAME", "appdb")
	t.Setenv("SNAPKEEP_DB_PATH", "/data/app.db")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if len(cfg.Databases) != 1 || cfg.Databases[0].Name != "appdb" {
		t.Errorf("Databases = %+v, want one entry named appdb", cfg.Databases)
	}
	if cfg.Databases[0].Engine != "sqlite" {
		t.Errorf("Engine = %q, want sqlite default", cfg.Databases[0].Engine)
	}
	if !cfg.Databases[0].Enabled {
		t.Error("default database entry should be enabled")
	}
	if cfg.Schedule.PreferredHour != 2 {
		t.Errorf("PreferredHour = %d, want 2", cfg.Schedule.PreferredHour)
	}
}

func TestLoadYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
databases:
  - name: appdb
    enabled: true
    engine: duckdb
    path: /data/app.duckdb
schedule:
  preferred_hour: 4
retention:
  daily_window_days: 14
history:
  gc_interval: 30m
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("writing config file: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if len(cfg.Databases) != 1 || cfg.Databases[0].Engine != "duckdb" {
		t.Errorf("Databases = %+v, want one duckdb entry", cfg.Databases)
	}
	if cfg.Schedule.PreferredHour != 4 {
		t.Errorf("PreferredHour = %d, want 4", cfg.Schedule.PreferredHour)
	}
	if cfg.Retention.DailyWindowDays != 14 {
		t.Errorf("DailyWindowDays = %d, want 14", cfg.Retention.DailyWindowDays)
	}
	if cfg.History.GCInterval != 30*time.Minute {
		t.Errorf("GCInterval = %v, want 30m", cfg.History.GCInterval)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("SNAPKEEP_DB_NAME", "appdb")
	t.Setenv("SNAPKEEP_DB_PATH", "/data/app.db")
	t.Setenv("SNAPKEEP_BACKUP_HOUR", "23")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte("schedule:\n  preferred_hour: 4\n")
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("writing config file: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Schedule.PreferredHour != 23 {
		t.Errorf("PreferredHour = %d, want env override 23", cfg.Schedule.PreferredHour)
	}
}

func TestLoadMissingFileIsNotAnError(t *testing.T) {
	t.Setenv("SNAPKEEP_DB_NAME", "appdb")
	t.Setenv("SNAPKEEP_DB_PATH", "/data/app.db")

	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err != nil {
		t.Fatalf("Load() with missing file error = %v", err)
	}
}

func TestSecretsComeFromEnvOnly(t *testing.T) {
	t.Setenv("SNAPKEEP_DB_NAME", "appdb")
	t.Setenv("SNAPKEEP_DB_PATH", "/data/app.db")
	t.Setenv(EnvDBUser, "backup_svc")
	t.Setenv(EnvDBPassword, "hunter2")
	t.Setenv(EnvAPIToken, "tok")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Databases[0].User != "backup_svc" {
		t.Errorf("User = %q, want backup_svc", cfg.Databases[0].User)
	}
	if cfg.Databases[0].Password != "hunter2" {
		t.Errorf("Password = %q, want hunter2", cfg.Databases[0].Password)
	}
	if cfg.Server.APIToken != "tok" {
		t.Errorf("APIToken = %q, want tok", cfg.Server.APIToken)
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		c := Defaults()
		c.Databases[0].Name = "appdb"
		c.Databases[0].Path = "/data/app.db"
		return c
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"missing name", func(c *Config) { c.Databases[0].Name = "" }, true},
		{"unknown engine", func(c *Config) { c.Databases[0].Engine = "oracle" }, true},
		{"sqlite without path", func(c *Config) { c.Databases[0].Path = "" }, true},
		{"no databases", func(c *Config) { c.Databases = nil }, true},
		{"no enabled database", func(c *Config) { c.Databases[0].Enabled = false }, true},
		{"duplicate names", func(c *Config) {
			c.Databases = append(c.Databases, c.Databases[0])
		}, true},
		{"second database missing path", func(c *Config) {
			c.Databases = append(c.Databases, DatabaseConfig{Name: "metrics", Engine: "duckdb", Enabled: true})
		}, true},
		{"hour out of range", func(c *Config) { c.Schedule.PreferredHour = 24 }, true},
		{"window too small", func(c *Config) { c.Retention.DailyWindowDays = 0 }, true},
		{"annual day past month end", func(c *Config) {
			c.Schedule.AnnualMonth = 4
			c.Schedule.AnnualDay = 31
		}, true},
		{"leap day accepted", func(c *Config) {
			c.Schedule.AnnualMonth = 2
			c.Schedule.AnnualDay = 29
		}, false},
		{"encryption needs secret", func(c *Config) { c.Backup.Encryption.Enabled = true }, true},
		{"encryption with secret", func(c *Config) {
			c.Backup.Encryption.Enabled = true
			c.Backup.Encryption.Secret = "0123456789abcdef"
		}, false},
		{"bad webhook url", func(c *Config) { c.Notify.WebhookURL = "::not-a-url" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadMultipleDatabases(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
databases:
  - name: appdb
    enabled: true
    engine: sqlite
    path: /data/app.db
  - name: analytics
    enabled: false
    engine: duckdb
    path: /data/analytics.duckdb
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("writing config file: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if len(cfg.Databases) != 2 {
		t.Fatalf("Databases = %d entries, want 2", len(cfg.Databases))
	}
	enabled := cfg.Enabled()
	if len(enabled) != 1 || enabled[0].Name != "appdb" {
		t.Errorf("Enabled() = %+v, want only appdb", enabled)
	}
}
