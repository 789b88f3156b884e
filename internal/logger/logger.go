// Copyright (C) 2026 Agentpulse
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package logger provides zerolog-based logging with per-package level
// overrides loaded from configuration.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config holds logging configuration. It lives here rather than in the
// config package so that config can log during its own initialization.
type Config struct {
	Level   string            `mapstructure:"level"`
	Format  string            `mapstructure:"format"` // "console" or "json"
	Console bool              `mapstructure:"console"`
	File    FileConfig        `mapstructure:"file"`
	Levels  map[string]string `mapstructure:"levels"` // per-package overrides
}

// FileConfig controls the rotating file output.
type FileConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// Manager manages loggers for different packages.
type Manager struct {
	config         Config
	globalLogger   zerolog.Logger
	packageLoggers map[string]zerolog.Logger
	mu             sync.RWMutex
	closers        []io.Closer
}

// NewManager creates a new logger manager from the given configuration.
func NewManager(cfg Config) (*Manager, error) {
	m := &Manager{
		config:         cfg,
		packageLoggers: make(map[string]zerolog.Logger),
	}

	globalLevel := parseLevel(cfg.Level)
	zerolog.SetGlobalLevel(globalLevel)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	var writers []io.Writer
	if cfg.Console {
		if cfg.Format == "console" {
			writers = append(writers, zerolog.ConsoleWriter{
				Out:        os.Stderr,
				TimeFormat: "15:04:05.000",
			})
		} else {
			writers = append(writers, os.Stderr)
		}
	}
	if cfg.File.Enabled && cfg.File.Path != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File.Path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		lj := &lumberjack.Logger{
			Filename:   cfg.File.Path,
			MaxSize:    cfg.File.MaxSizeMB,
			MaxBackups: cfg.File.MaxBackups,
			MaxAge:     cfg.File.MaxAgeDays,
		}
		m.closers = append(m.closers, lj)
		writers = append(writers, lj)
	}
	if len(writers) == 0 {
		writers = append(writers, io.Discard)
	}

	var w io.Writer = writers[0]
	if len(writers) > 1 {
		w = io.MultiWriter(writers...)
	}
	m.globalLogger = zerolog.New(w).With().Timestamp().Logger().Level(globalLevel)

	return m, nil
}

// GetLogger returns a logger for a specific package, creating it on first use.
func (m *Manager) GetLogger(pkg string) zerolog.Logger {
	m.mu.RLock()
	if l, ok := m.packageLoggers[pkg]; ok {
		m.mu.RUnlock()
		return l
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.packageLoggers[pkg]; ok {
		return l
	}

	level := parseLevel(m.config.Level)
	if pkgLevel, ok := m.config.Levels[pkg]; ok {
		level = parseLevel(pkgLevel)
	}
	l := m.globalLogger.With().Str("pkg", pkg).Logger().Level(level)
	m.packageLoggers[pkg] = l
	return l
}

// Close closes all file writers.
func (m *Manager) Close() error {
	for _, c := range m.closers {
		if err := c.Close(); err != nil {
			return err
		}
	}
	return nil
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToUpper(level) {
	case "TRACE":
		return zerolog.TraceLevel
	case "DEBUG":
		return zerolog.DebugLevel
	case "INFO":
		return zerolog.InfoLevel
	case "WARN", "WARNING":
		return zerolog.WarnLevel
	case "ERROR":
		return zerolog.ErrorLevel
	case "FATAL":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

var (
	globalManager *Manager
	once          sync.Once
)

// Initialize initializes the global logger manager.
func Initialize(cfg Config) error {
	var err error
	once.Do(func() {
		globalManager, err = NewManager(cfg)
	})
	return err
}

// GetLogger returns a logger for the specified package.
// Before Initialize is called it returns a discard logger so that library
// code never pollutes stdout/stderr.
func GetLogger(pkg string) zerolog.Logger {
	if globalManager == nil {
		return zerolog.New(io.Discard).With().Timestamp().Logger()
	}
	return globalManager.GetLogger(pkg)
}

// CloseGlobal closes the global logger manager.
func CloseGlobal() error {
	if globalManager != nil {
		return globalManager.Close()
	}
	return nil
}
