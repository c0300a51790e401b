// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package logging owns the process-wide logrus logger.
//
// Components take a logrus.FieldLogger through their options and fall back
// to Std(). Events carry an "event" field in upper snake case
// (SESSION_EXPIRED, ALERT_CREATED, AUTH_LOCKOUT) so log lines can be filtered
// the same way the audit trail is.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// Config controls level, format and destination.
type Config struct {
	Level  string `toml:"level" json:"level"`
	Format string `toml:"format" json:"format"` // text | json
	Output string `toml:"output" json:"output"` // stderr | stdout | file
	File   string `toml:"file" json:"file"`
}

// DefaultConfig logs text at info level to stderr.
func DefaultConfig() Config {
	return Config{Level: "info", Format: "text", Output: "stderr"}
}

var (
	std     *logrus.Logger
	stdOnce sync.Once
)

// Std returns the process logger.
func Std() *logrus.Logger {
	stdOnce.Do(func() {
		std = logrus.New()
		std.SetOutput(os.Stderr)
		std.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	})
	return std
}

// Init applies cfg to the process logger. The returned cleanup closes the log
// file when output is "file".
func Init(cfg Config) (func(), error) {
	l := Std()

	level := cfg.Level
	if level == "" {
		level = "info"
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	l.SetLevel(lvl)

	switch strings.ToLower(cfg.Format) {
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{})
	default:
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	cleanup := func() {}
	switch strings.ToLower(cfg.Output) {
	case "stdout":
		l.SetOutput(os.Stdout)
	case "file":
		if cfg.File == "" {
			return nil, fmt.Errorf("log output is file but no file path configured")
		}
		f, err := openLogFile(cfg.File)
		if err != nil {
			return nil, err
		}
		l.SetOutput(f)
		cleanup = func() { _ = f.Close() }
	default:
		l.SetOutput(os.Stderr)
	}

	return cleanup, nil
}

func openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return f, nil
}

// Discard returns a logger that drops everything. Tests use it to keep output
// quiet.
func Discard() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// Event starts an entry tagged with an event type.
func Event(l logrus.FieldLogger, event string) *logrus.Entry {
	if l == nil {
		l = Std()
	}
	return l.WithField("event", event)
}
