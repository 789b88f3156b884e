// Copyright (C) 2026 Agentpulse
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package history maintains long-term usage rollups (daily, monthly,
// all-time) in a single schema-versioned JSON document, persisted with
// write-then-rename on a debounce interval.
package history

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/agentpulse/agentpulse/internal/config"
	"github.com/agentpulse/agentpulse/internal/logger"
	"github.com/agentpulse/agentpulse/internal/session"
)

var log = logger.GetLogger("history")

// schemaVersion is bumped when the document shape changes; Load migrates
// older documents forward.
const schemaVersion = 1

const (
	dayKeyFormat   = "2006-01-02"
	monthKeyFormat = "2006-01"
)

// ModelRollup is per-model token and cost accumulation within a period.
type ModelRollup struct {
	InputTokens      int     `json:"input_tokens"`
	OutputTokens     int     `json:"output_tokens"`
	CacheWriteTokens int     `json:"cache_write_tokens"`
	CacheReadTokens  int     `json:"cache_read_tokens"`
	CostUSD          float64 `json:"cost_usd"`
	Calls            int     `json:"calls"`
}

// Rollup accumulates usage over one period (a day, a month, or all time).
type Rollup struct {
	InputTokens      int                    `json:"input_tokens"`
	OutputTokens     int                    `json:"output_tokens"`
	CacheWriteTokens int                    `json:"cache_write_tokens"`
	CacheReadTokens  int                    `json:"cache_read_tokens"`
	CostUSD          float64                `json:"cost_usd"`
	MessageCount     int                    `json:"message_count"`
	SessionCount     int                    `json:"session_count"`
	Models           map[string]ModelRollup `json:"models"`
	Tools            map[string]int         `json:"tools"`
	UpdatedAt        time.Time              `json:"updated_at"`
}

func newRollup() *Rollup {
	return &Rollup{
		Models: make(map[string]ModelRollup),
		Tools:  make(map[string]int),
	}
}

// document is the on-disk shape.
type document struct {
	Version   int                `json:"version"`
	Daily     map[string]*Rollup `json:"daily"`
	Monthly   map[string]*Rollup `json:"monthly"`
	AllTime   *Rollup            `json:"all_time"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// Store persists rollups at <dataDir>/history.json.
type Store struct {
	path string

	mu    sync.Mutex
	doc   document
	dirty bool

	stop chan struct{}
	done chan struct{}
}

// NewStore loads any existing history document (a missing file yields a
// fresh store) and starts the debounced flush loop.
func NewStore(dataDir string, cfg config.RecorderConfig) (*Store, error) {
	s := &Store{
		path: filepath.Join(dataDir, "history.json"),
		doc: document{
			Version: schemaVersion,
			Daily:   make(map[string]*Rollup),
			Monthly: make(map[string]*Rollup),
			AllTime: newRollup(),
		},
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	if err := s.load(); err != nil {
		return nil, err
	}

	interval := cfg.FlushInterval
	if interval <= 0 {
		interval = 3 * time.Second
	}
	go s.flushLoop(interval)
	return s, nil
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read history: %w", err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		// Corrupt history is a fresh start, not a fatal error.
		log.Warn().Err(err).Msg("Failed to parse history document, starting fresh")
		return nil
	}
	if doc.Version > schemaVersion {
		log.Warn().Int("version", doc.Version).Msg("History document from a newer version, starting fresh")
		return nil
	}
	if doc.Daily == nil {
		doc.Daily = make(map[string]*Rollup)
	}
	if doc.Monthly == nil {
		doc.Monthly = make(map[string]*Rollup)
	}
	if doc.AllTime == nil {
		doc.AllTime = newRollup()
	}
	doc.Version = schemaVersion
	s.doc = doc
	return nil
}

// RecordSession folds one completed session summary into the daily rollup
// for its end date, the corresponding monthly rollup, and the all-time
// rollup.
func (s *Store) RecordSession(sum session.Summary) {
	s.mu.Lock()
	defer s.mu.Unlock()

	at := sum.EndedAt
	if at.IsZero() {
		at = time.Now()
	}
	dayKey := at.Format(dayKeyFormat)
	monthKey := at.Format(monthKeyFormat)

	daily, ok := s.doc.Daily[dayKey]
	if !ok {
		daily = newRollup()
		s.doc.Daily[dayKey] = daily
	}
	monthly, ok := s.doc.Monthly[monthKey]
	if !ok {
		monthly = newRollup()
		s.doc.Monthly[monthKey] = monthly
	}

	now := time.Now()
	for _, r := range []*Rollup{daily, monthly, s.doc.AllTime} {
		r.InputTokens += sum.InputTokens
		r.OutputTokens += sum.OutputTokens
		r.CacheWriteTokens += sum.CacheWriteTokens
		r.CacheReadTokens += sum.CacheReadTokens
		r.CostUSD += sum.CostUSD
		r.MessageCount += sum.MessageCount
		r.SessionCount++
		for model, mu := range sum.ModelUsage {
			m := r.Models[model]
			m.InputTokens += mu.InputTokens
			m.OutputTokens += mu.OutputTokens
			m.CacheWriteTokens += mu.CacheWriteTokens
			m.CacheReadTokens += mu.CacheReadTokens
			m.CostUSD += mu.CostUSD
			m.Calls += mu.Calls
			r.Models[model] = m
		}
		for tool, n := range sum.ToolCounts {
			r.Tools[tool] += n
		}
		r.UpdatedAt = now
	}

	s.doc.UpdatedAt = now
	s.dirty = true
}

// Daily returns a copy of the rollup for the given day key, if present.
func (s *Store) Daily(key string) (Rollup, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.doc.Daily[key]
	if !ok {
		return Rollup{}, false
	}
	return copyRollup(r), true
}

// Monthly returns a copy of the rollup for the given month key, if present.
func (s *Store) Monthly(key string) (Rollup, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.doc.Monthly[key]
	if !ok {
		return Rollup{}, false
	}
	return copyRollup(r), true
}

// AllTime returns a copy of the all-time rollup.
func (s *Store) AllTime() Rollup {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyRollup(s.doc.AllTime)
}

func copyRollup(r *Rollup) Rollup {
	out := *r
	out.Models = make(map[string]ModelRollup, len(r.Models))
	for k, v := range r.Models {
		out.Models[k] = v
	}
	out.Tools = make(map[string]int, len(r.Tools))
	for k, v := range r.Tools {
		out.Tools[k] = v
	}
	return out
}

func (s *Store) flushLoop(interval time.Duration) {
	defer close(s.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.FlushNow()
		}
	}
}

// FlushNow persists the document if it changed since the last write. The
// write is atomic: temp file then rename.
func (s *Store) FlushNow() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.dirty {
		return
	}
	data, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		log.Error().Err(err).Msg("Failed to encode history document")
		return
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		log.Error().Err(err).Msg("Failed to write history temp file")
		return
	}
	if err := os.Rename(tmp, s.path); err != nil {
		log.Error().Err(err).Msg("Failed to rename history document")
		return
	}
	s.dirty = false
}

// Close stops the flush loop and performs a final synchronous flush.
func (s *Store) Close() {
	close(s.stop)
	<-s.done
	s.FlushNow()
}
