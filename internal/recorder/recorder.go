// Copyright (C) 2026 Agentpulse
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package recorder keeps a durable, append-only mirror of the normalized
// event stream: one JSONL audit file per (provider, session), plus a
// manifest enumerating all known logs. Writes are debounced and the
// manifest is rewritten atomically; pruning enforces the configured age
// and aggregate size limits.
package recorder

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/agentpulse/agentpulse/internal/config"
	"github.com/agentpulse/agentpulse/internal/event"
	"github.com/agentpulse/agentpulse/internal/logger"
)

var log = logger.GetLogger("recorder")

// manifestVersion is bumped when the manifest schema changes.
const manifestVersion = 1

// Entry is one audit-log line.
type Entry struct {
	Seq         int64       `json:"seq"`
	ProcessedAt time.Time   `json:"processedAt"`
	ProviderID  string      `json:"providerId"`
	SessionID   string      `json:"sessionId"`
	Event       event.Event `json:"event"`
}

// ManifestEntry describes one audit file.
type ManifestEntry struct {
	ProviderID     string    `json:"provider_id"`
	SessionID      string    `json:"session_id"`
	Path           string    `json:"path"`
	FirstEventTime time.Time `json:"first_event_time"`
	LastEventTime  time.Time `json:"last_event_time"`
	EventCount     int64     `json:"event_count"`
	SizeBytes      int64     `json:"size_bytes"`
}

// manifestDoc is the on-disk manifest shape.
type manifestDoc struct {
	Version int                      `json:"version"`
	Entries map[string]ManifestEntry `json:"entries"` // key: providerID/sessionID
}

// Recorder mirrors normalized events to disk, best-effort.
type Recorder struct {
	cfg config.RecorderConfig
	dir string

	mu       sync.Mutex
	manifest map[string]ManifestEntry
	dirty    bool

	curKey  string
	curFile *os.File
	curBuf  *bufio.Writer
	seq     int64

	lock *flock.Flock
	stop chan struct{}
	done chan struct{}
}

// New creates a recorder rooted at <dataDir>/audit, loading any existing
// manifest, and starts the debounced flush loop.
func New(dataDir string, cfg config.RecorderConfig) (*Recorder, error) {
	dir := filepath.Join(dataDir, "audit")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}

	r := &Recorder{
		cfg:      cfg,
		dir:      dir,
		manifest: make(map[string]ManifestEntry),
		lock:     flock.New(filepath.Join(dir, "manifest.lock")),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	if err := r.loadManifest(); err != nil {
		// A corrupt manifest is rebuilt from scratch rather than fatal.
		log.Warn().Err(err).Msg("Failed to load audit manifest, starting fresh")
		r.manifest = make(map[string]ManifestEntry)
	}

	go r.flushLoop()
	return r, nil
}

func (r *Recorder) manifestPath() string {
	return filepath.Join(r.dir, "manifest.json")
}

func key(providerID, sessionID string) string {
	return providerID + "/" + sessionID
}

// StartSession opens (or reopens, appending) the audit stream for one
// session. Any previously open stream is flushed and closed first.
func (r *Recorder) StartSession(providerID, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closeCurrentLocked()

	k := key(providerID, sessionID)
	path := filepath.Join(r.dir, fmt.Sprintf("%s--%s.jsonl", providerID, sessionID))

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open audit log: %w", err)
	}

	entry, ok := r.manifest[k]
	if !ok {
		entry = ManifestEntry{ProviderID: providerID, SessionID: sessionID, Path: path}
	}
	r.manifest[k] = entry
	r.curKey = k
	r.curFile = f
	r.curBuf = bufio.NewWriter(f)
	r.seq = entry.EventCount
	r.dirty = true
	return nil
}

// Append mirrors one event to the current audit stream. Errors are logged,
// never surfaced: persistence must not block event processing.
func (r *Recorder) Append(ev event.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.curBuf == nil {
		return
	}
	entry, ok := r.manifest[r.curKey]
	if !ok {
		return
	}

	r.seq++
	line := Entry{
		Seq:         r.seq,
		ProcessedAt: time.Now(),
		ProviderID:  entry.ProviderID,
		SessionID:   entry.SessionID,
		Event:       ev,
	}
	data, err := json.Marshal(line)
	if err != nil {
		log.Error().Err(err).Msg("Failed to encode audit entry")
		return
	}
	if _, err := r.curBuf.Write(append(data, '\n')); err != nil {
		log.Error().Err(err).Msg("Failed to buffer audit entry")
		return
	}

	if entry.FirstEventTime.IsZero() {
		entry.FirstEventTime = ev.Timestamp
	}
	entry.LastEventTime = ev.Timestamp
	entry.EventCount = r.seq
	r.manifest[r.curKey] = entry
	r.dirty = true
}

// EndSession flushes and closes the current audit stream.
func (r *Recorder) EndSession() {
	r.mu.Lock()
	r.closeCurrentLocked()
	r.mu.Unlock()
	r.FlushNow()
}

func (r *Recorder) closeCurrentLocked() {
	if r.curBuf != nil {
		if err := r.curBuf.Flush(); err != nil {
			log.Error().Err(err).Msg("Failed to flush audit stream")
		}
		r.curBuf = nil
	}
	if r.curFile != nil {
		if err := r.curFile.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close audit stream")
		}
		r.curFile = nil
	}
	r.curKey = ""
}

// flushLoop persists buffered state on the debounce interval.
func (r *Recorder) flushLoop() {
	defer close(r.done)
	interval := r.cfg.FlushInterval
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.FlushNow()
		}
	}
}

// FlushNow synchronously flushes the audit stream, rewrites the manifest
// if dirty, and applies the retention policy. Failures are logged and
// retried on the next debounce tick.
func (r *Recorder) FlushNow() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.curBuf != nil {
		if err := r.curBuf.Flush(); err != nil {
			log.Error().Err(err).Msg("Failed to flush audit stream")
			return
		}
	}
	if !r.dirty {
		return
	}

	r.refreshSizesLocked()
	r.pruneLocked()
	if err := r.writeManifestLocked(); err != nil {
		log.Error().Err(err).Msg("Failed to write audit manifest")
		return
	}
	r.dirty = false
}

// Close stops the flush loop and forces a final synchronous flush so no
// buffered entry or manifest update is lost at shutdown.
func (r *Recorder) Close() {
	close(r.stop)
	<-r.done

	r.mu.Lock()
	r.closeCurrentLocked()
	r.mu.Unlock()
	r.FlushNow()
}

// Manifest returns a copy of the current manifest entries.
func (r *Recorder) Manifest() []ManifestEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	entries := make([]ManifestEntry, 0, len(r.manifest))
	for _, e := range r.manifest {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].LastEventTime.Before(entries[j].LastEventTime)
	})
	return entries
}

func (r *Recorder) refreshSizesLocked() {
	for k, e := range r.manifest {
		st, err := os.Stat(e.Path)
		if err != nil {
			continue
		}
		e.SizeBytes = st.Size()
		r.manifest[k] = e
	}
}

// pruneLocked removes audit files older than the max age, then evicts
// oldest-first until the aggregate size fits. The active stream is exempt.
func (r *Recorder) pruneLocked() {
	now := time.Now()

	if r.cfg.MaxAgeDays > 0 {
		cutoff := now.AddDate(0, 0, -r.cfg.MaxAgeDays)
		for k, e := range r.manifest {
			if k == r.curKey || e.LastEventTime.IsZero() {
				continue
			}
			if e.LastEventTime.Before(cutoff) {
				r.removeLocked(k, e, "age")
			}
		}
	}

	if r.cfg.MaxTotalSizeMB > 0 {
		limit := int64(r.cfg.MaxTotalSizeMB) * 1024 * 1024
		var total int64
		var keys []string
		for k, e := range r.manifest {
			total += e.SizeBytes
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool {
			return r.manifest[keys[i]].LastEventTime.Before(r.manifest[keys[j]].LastEventTime)
		})
		for _, k := range keys {
			if total <= limit {
				break
			}
			if k == r.curKey {
				continue
			}
			e := r.manifest[k]
			total -= e.SizeBytes
			r.removeLocked(k, e, "size")
		}
	}
}

func (r *Recorder) removeLocked(k string, e ManifestEntry, reason string) {
	if err := os.Remove(e.Path); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Str("path", e.Path).Msg("Failed to prune audit file")
		return
	}
	delete(r.manifest, k)
	log.Info().Str("path", e.Path).Str("reason", reason).Msg("Pruned audit file")
}

// writeManifestLocked rewrites the manifest atomically (temp file + rename)
// under the file lock, so concurrent engine instances do not interleave.
func (r *Recorder) writeManifestLocked() error {
	if err := r.lock.Lock(); err != nil {
		return fmt.Errorf("failed to acquire manifest lock: %w", err)
	}
	defer func() {
		if err := r.lock.Unlock(); err != nil {
			log.Warn().Err(err).Msg("Failed to release manifest lock")
		}
	}()

	doc := manifestDoc{Version: manifestVersion, Entries: r.manifest}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}

	tmp := r.manifestPath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write manifest temp file: %w", err)
	}
	if err := os.Rename(tmp, r.manifestPath()); err != nil {
		return fmt.Errorf("failed to rename manifest: %w", err)
	}
	return nil
}

func (r *Recorder) loadManifest() error {
	data, err := os.ReadFile(r.manifestPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var doc manifestDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to parse manifest: %w", err)
	}
	if doc.Entries != nil {
		r.manifest = doc.Entries
	}
	return nil
}
