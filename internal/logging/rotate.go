// Snapkeep - Scheduled Database Backup Service
// Copyright 2026 Snapkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/snapkeep/snapkeep

package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// FileConfig holds rotated-file logging configuration.
type FileConfig struct {
	// Dir is the log directory. Empty disables file logging.
	Dir string

	// Filename is the log file name inside Dir. Default: snapkeep.log
	Filename string

	// MaxSizeMB rotates the file once it exceeds this size. Default: 10.
	MaxSizeMB int

	// MaxAgeDays rotates files older than this many days. Default: 1.
	MaxAgeDays int

	// MaxBackups is the number of rotated files to keep. Default: 14.
	MaxBackups int

	// Compress gzips rotated files.
	Compress bool
}

// NewRotatingWriter creates the log directory and returns a size- and
// age-rotated file writer. The defaults rotate at 10 MB or 24 hours,
// whichever comes first.
func NewRotatingWriter(cfg FileConfig) (io.Writer, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("log directory is required")
	}
	if cfg.Filename == "" {
		cfg.Filename = "snapkeep.log"
	}
	if cfg.MaxSizeMB <= 0 {
		cfg.MaxSizeMB = 10
	}
	if cfg.MaxAgeDays <= 0 {
		cfg.MaxAgeDays = 1
	}
	if cfg.MaxBackups <= 0 {
		cfg.MaxBackups = 14
	}

	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("create log directory %s: %w", cfg.Dir, err)
	}

	return &lumberjack.Logger{
		Filename:   filepath.Join(cfg.Dir, cfg.Filename),
		MaxSize:    cfg.MaxSizeMB,
		MaxAge:     cfg.MaxAgeDays,
		MaxBackups: cfg.MaxBackups,
		Compress:   cfg.Compress,
	}, nil
}

// InitWithFile configures the global logger to write to both stderr and a
// rotated file in cfg.Dir. Falls back to stderr-only when the directory
// cannot be created.
func InitWithFile(cfg Config, fileCfg FileConfig) error {
	fw, err := NewRotatingWriter(fileCfg)
	if err != nil {
		Init(cfg)
		return err
	}

	// The file always receives JSON lines so rotation tooling and log
	// shippers see structured output even when stderr is console-formatted.
	var stderr io.Writer = os.Stderr
	if cfg.Format == "console" {
		stderr = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
	}
	cfg.Output = zerolog.MultiLevelWriter(stderr, fw)
	cfg.Format = "json"
	Init(cfg)
	return nil
}
