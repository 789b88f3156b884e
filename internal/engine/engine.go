// Copyright (C) 2026 Agentpulse
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package engine wires providers, normalization, the session aggregator and
// the persistence layers into one running unit. A single poll-driven
// goroutine owns event application; public methods are synchronous queries
// or control operations serialized against it.
package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/agentpulse/agentpulse/internal/config"
	"github.com/agentpulse/agentpulse/internal/history"
	"github.com/agentpulse/agentpulse/internal/logger"
	"github.com/agentpulse/agentpulse/internal/normalize"
	"github.com/agentpulse/agentpulse/internal/provider"
	"github.com/agentpulse/agentpulse/internal/quota"
	"github.com/agentpulse/agentpulse/internal/recorder"
	"github.com/agentpulse/agentpulse/internal/session"
)

var log = logger.GetLogger("engine")

// ErrEngineClosed is returned for operations on a closed engine.
var ErrEngineClosed = errors.New("engine is closed")

// ErrNoSession is returned when an operation needs an active session.
var ErrNoSession = errors.New("no active session")

// Engine owns one provider's session lifecycle end to end.
type Engine struct {
	cfg  *config.AppConfig
	prov provider.Provider

	notif *session.Notifications
	agg   *session.Aggregator
	rec   *recorder.Recorder
	hist  *history.Store
	quota *quota.Tracker

	mu        sync.Mutex
	watchDir  string
	reader    provider.Reader
	sidecars  map[string]provider.Reader // subagent transcripts, path keyed
	discovery bool
	closed    bool

	cancel context.CancelFunc
	done   chan struct{}
}

// New builds an engine for the given provider id. The provider must be
// registered; normalizers are expected to be registered at startup.
func New(cfg *config.AppConfig, providerID string) (*Engine, error) {
	prov, ok := provider.Get(providerID)
	if !ok {
		return nil, fmt.Errorf("%w: %q (registered: %s)",
			provider.ErrUnknownProvider, providerID, strings.Join(provider.Registered(), ", "))
	}

	rec, err := recorder.New(cfg.DataDir, cfg.Recorder)
	if err != nil {
		return nil, err
	}
	hist, err := history.NewStore(cfg.DataDir, cfg.Recorder)
	if err != nil {
		rec.Close()
		return nil, err
	}

	notif := session.NewNotifications()
	return &Engine{
		cfg:      cfg,
		prov:     prov,
		notif:    notif,
		agg:      session.New(cfg.Session, cfg.Pricing, notif),
		rec:      rec,
		hist:     hist,
		quota:    quota.NewTracker(cfg.Quota),
		sidecars: make(map[string]provider.Reader),
		done:     make(chan struct{}),
	}, nil
}

// Notifications exposes the aggregator's fan-out surface.
func (e *Engine) Notifications() *session.Notifications {
	return e.notif
}

// Quota exposes the quota tracker.
func (e *Engine) Quota() *quota.Tracker {
	return e.quota
}

// History exposes the rollup store.
func (e *Engine) History() *history.Store {
	return e.hist
}

// Provider returns the engine's provider adapter handle.
func (e *Engine) Provider() provider.Provider {
	return e.prov
}

// Start begins watching dir for session sources and launches the poll loop.
// With no session present yet the engine runs in discovery mode until one
// appears. Returns immediately.
func (e *Engine) Start(ctx context.Context, dir string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrEngineClosed
	}
	if e.cancel != nil {
		return nil // already started
	}

	e.watchDir = dir
	e.setDiscoveryLocked(true)

	loopCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	if e.cfg.Quota.Enabled {
		e.quota.StartRefresh()
	}
	go e.loop(loopCtx)

	log.Info().Str("dir", dir).Str("provider", e.prov.ID()).Msg("Engine started")
	return nil
}

// loop is the single writer: every event applied to the aggregator passes
// through here (or through SwitchToSession, serialized on the same mutex).
func (e *Engine) loop(ctx context.Context) {
	defer close(e.done)

	poll := time.NewTicker(e.cfg.Watch.PollInterval)
	defer poll.Stop()
	scan := time.NewTicker(e.cfg.Watch.SidechainScan)
	defer scan.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-poll.C:
			e.tick(ctx)
		case <-scan.C:
			e.scanSidecars()
		}
	}
}

// tick attaches to a session when in discovery mode, then drains all open
// readers through the normalize/apply path.
func (e *Engine) tick(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}

	if e.reader == nil {
		sessions, err := e.prov.DiscoverSessions(e.watchDir)
		if err != nil || len(sessions) == 0 {
			return
		}
		if err := e.attachLocked(sessions[0]); err != nil {
			log.Warn().Err(err).Str("path", sessions[0].Path).Msg("Failed to attach to session")
			return
		}
	}

	e.drainLocked(ctx, e.reader, false)
	for _, r := range e.sidecars {
		e.drainLocked(ctx, r, true)
	}
}

// drainLocked reads all new records from one reader and applies the
// resulting events. Ingestion errors skip the record, never the session.
func (e *Engine) drainLocked(ctx context.Context, r provider.Reader, sidecar bool) {
	records, err := r.ReadAll(ctx)
	if err != nil {
		log.Warn().Err(err).Str("path", r.Path()).Msg("Failed to read session source")
		return
	}

	for _, rec := range records {
		events, err := normalize.Normalize(e.prov.ID(), rec)
		if err != nil {
			log.Warn().Err(err).Int64("seq", rec.Seq).Msg("Skipping malformed record")
			continue
		}
		for _, ev := range events {
			if sidecar {
				ev.SideChannel = true
			}
			e.agg.ApplyEvent(ev)
			e.rec.Append(ev)
		}
	}
}

// attachLocked opens the session source and starts aggregator and recorder
// streams for it.
func (e *Engine) attachLocked(info provider.SessionInfo) error {
	reader, err := e.prov.CreateReader(info.Path)
	if err != nil {
		return err
	}

	sessionID := info.SessionID
	if sessionID == "" {
		sessionID = filepath.Base(info.Path)
	}
	if err := e.rec.StartSession(e.prov.ID(), sessionID); err != nil {
		log.Warn().Err(err).Msg("Audit recording unavailable for session")
	}

	e.reader = reader
	e.agg.Start(e.prov.ID(), info.Path)
	e.setDiscoveryLocked(false)
	log.Info().Str("path", info.Path).Msg("Attached to session")
	return nil
}

// scanSidecars looks for transcripts that appeared after the active session
// started; their events are treated as side-channel traffic.
func (e *Engine) scanSidecars() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || e.reader == nil {
		return
	}

	sessions, err := e.prov.DiscoverSessions(e.watchDir)
	if err != nil {
		return
	}
	for _, info := range sessions {
		if info.Path == e.reader.Path() {
			continue
		}
		if _, ok := e.sidecars[info.Path]; ok {
			continue
		}
		if info.Modified.Before(e.agg.Stats().StartedAt) {
			continue
		}
		r, err := e.prov.CreateReader(info.Path)
		if err != nil {
			continue
		}
		e.sidecars[info.Path] = r
		log.Info().Str("path", info.Path).Msg("Tracking subagent transcript")
	}
}

func (e *Engine) setDiscoveryLocked(on bool) {
	if e.discovery == on {
		return
	}
	e.discovery = on
	e.notif.DiscoveryModeChange.Publish(on)
}

// GetStats returns a snapshot of the active session's statistics. With no
// active session the snapshot is empty, never an error.
func (e *Engine) GetStats() session.Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.agg.Stats()
}

// IsActive reports whether a session is currently being tracked.
func (e *Engine) IsActive() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.agg.IsActive()
}

// GetSessionPath returns the active session source path, or empty.
func (e *Engine) GetSessionPath() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.agg.SessionPath()
}

// GetAvailableSessions lists discoverable sessions in the watch directory,
// newest first.
func (e *Engine) GetAvailableSessions() ([]provider.SessionInfo, error) {
	e.mu.Lock()
	dir := e.watchDir
	e.mu.Unlock()
	if dir == "" {
		return nil, ErrNoSession
	}
	return e.prov.DiscoverSessions(dir)
}

// SwitchToSession ends the current session and attaches to another source.
// The duplicate session-end notification is suppressed by the aggregator.
func (e *Engine) SwitchToSession(path string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrEngineClosed
	}

	e.closeReadersLocked()
	summary := e.agg.Switch(e.prov.ID(), path)
	if summary.SessionID != "" || summary.MessageCount > 0 {
		e.hist.RecordSession(summary)
	}
	e.rec.EndSession()

	reader, err := e.prov.CreateReader(path)
	if err != nil {
		e.setDiscoveryLocked(true)
		return fmt.Errorf("failed to open session source: %w", err)
	}
	e.reader = reader

	sessionID := filepath.Base(path)
	if err := e.rec.StartSession(e.prov.ID(), sessionID); err != nil {
		log.Warn().Err(err).Msg("Audit recording unavailable for session")
	}
	e.setDiscoveryLocked(false)
	log.Info().Str("path", path).Msg("Switched session")
	return nil
}

func (e *Engine) closeReadersLocked() {
	if e.reader != nil {
		if err := e.reader.Flush(); err != nil {
			log.Warn().Err(err).Msg("Failed to release session reader")
		}
		e.reader = nil
	}
	for path, r := range e.sidecars {
		if err := r.Flush(); err != nil {
			log.Warn().Err(err).Str("path", path).Msg("Failed to release subagent reader")
		}
		delete(e.sidecars, path)
	}
}

// Close stops the poll loop and flushes all durable state. Shutdown order
// is deterministic: loop stop, aggregator end, recorder flush, history
// flush. Safe to call more than once.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	cancel := e.cancel
	e.mu.Unlock()

	if cancel != nil {
		cancel()
		<-e.done
	}
	e.quota.StopRefresh()

	e.mu.Lock()
	e.closeReadersLocked()
	var summary session.Summary
	active := e.agg.IsActive()
	if active {
		summary = e.agg.End()
	}
	e.mu.Unlock()

	if active {
		e.hist.RecordSession(summary)
	}
	e.rec.Close()
	e.hist.Close()
	log.Info().Msg("Engine closed")
}
