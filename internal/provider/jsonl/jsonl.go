// Copyright (C) 2026 Agentpulse
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package jsonl implements the line-delimited provider for Claude Code
// style transcripts: one JSON object per line, files named by session UUID.
package jsonl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/agentpulse/agentpulse/internal/logger"
	"github.com/agentpulse/agentpulse/internal/provider"
)

var log = logger.GetLogger("provider")

// uuidFileRegex matches UUID-named .jsonl files (Claude session transcripts).
var uuidFileRegex = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}\.jsonl$`)

// ProviderID identifies this provider in the registry.
const ProviderID = "claude"

// Provider implements provider.Provider for JSONL transcripts.
type Provider struct{}

// New creates a JSONL provider.
func New() *Provider {
	return &Provider{}
}

func (p *Provider) ID() string {
	return ProviderID
}

// CreateReader opens a cursor-based reader over one transcript file.
// The file may not exist yet; reads return no records until it appears.
func (p *Provider) CreateReader(path string) (provider.Reader, error) {
	dir := filepath.Dir(path)
	if _, err := os.Stat(dir); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("cannot access transcript directory %s: %w", dir, err)
	}
	return &reader{path: path}, nil
}

// DiscoverSessions lists UUID-named .jsonl files under dir, newest first.
func (p *Provider) DiscoverSessions(dir string) ([]provider.SessionInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read session directory: %w", err)
	}

	var sessions []provider.SessionInfo
	for _, entry := range entries {
		if entry.IsDir() || !uuidFileRegex.MatchString(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		sessions = append(sessions, provider.SessionInfo{
			SessionID: strings.TrimSuffix(entry.Name(), ".jsonl"),
			Path:      filepath.Join(dir, entry.Name()),
			Modified:  info.ModTime(),
			SizeBytes: info.Size(),
		})
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].Modified.After(sessions[j].Modified)
	})
	return sessions, nil
}

// reader tails one JSONL file. It owns an explicit byte offset that always
// points just past the last complete line consumed; a trailing partial line
// stays in the file until its newline arrives, so restoring the cursor
// reproduces the exact read position.
type reader struct {
	path    string
	offset  int64
	seq     int64
	skipped int64 // malformed lines dropped so far
}

// Restore positions the reader at a previously saved cursor.
func (r *reader) Restore(c provider.Cursor) {
	r.offset = c.Offset
}

func (r *reader) Path() string {
	return r.path
}

func (r *reader) Cursor() provider.Cursor {
	return provider.Cursor{Offset: r.offset}
}

// ReadAll reads all complete lines appended since the last call.
func (r *reader) ReadAll(ctx context.Context) ([]provider.Record, error) {
	f, err := os.Open(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil // not created yet
		}
		return nil, fmt.Errorf("failed to open transcript: %w", err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat transcript: %w", err)
	}
	if st.Size() < r.offset {
		// File was truncated or replaced; start over.
		log.Warn().Str("file", r.path).Int64("offset", r.offset).Int64("size", st.Size()).
			Msg("Transcript shrank, resetting cursor")
		r.offset = 0
	}
	if st.Size() == r.offset {
		return nil, nil
	}

	if _, err := f.Seek(r.offset, 0); err != nil {
		return nil, fmt.Errorf("failed to seek transcript: %w", err)
	}
	chunk := make([]byte, st.Size()-r.offset)
	n, err := f.Read(chunk)
	if err != nil && n == 0 {
		return nil, fmt.Errorf("failed to read transcript: %w", err)
	}
	chunk = chunk[:n]

	// Only consume up to the last newline; a trailing partial line waits
	// for its terminator.
	lastNL := bytes.LastIndexByte(chunk, '\n')
	if lastNL < 0 {
		return nil, nil
	}
	data := chunk[:lastNL+1]
	r.offset += int64(lastNL + 1)

	var records []provider.Record
	for {
		if err := ctx.Err(); err != nil {
			return records, err
		}
		idx := bytes.IndexByte(data, '\n')
		if idx < 0 {
			break
		}
		line := bytes.TrimSpace(data[:idx])
		data = data[idx+1:]
		if len(line) == 0 {
			continue
		}
		if !json.Valid(line) {
			r.skipped++
			log.Warn().Str("file", r.path).Int64("skipped", r.skipped).Msg("Skipping malformed transcript line")
			continue
		}
		r.seq++
		records = append(records, provider.Record{
			Seq:  r.seq,
			Data: json.RawMessage(append([]byte(nil), line...)),
		})
	}

	return records, nil
}

// Flush is a no-op: the reader opens the file per ReadAll call and holds
// no handles between reads.
func (r *reader) Flush() error {
	return nil
}
