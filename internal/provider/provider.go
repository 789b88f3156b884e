// Copyright (C) 2026 Agentpulse
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package provider defines the source-format reader contract and the
// provider registry. A provider turns a raw session log (JSONL file or
// embedded database) into a finite, restartable sequence of records.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrUnknownProvider is returned when no provider is registered for an id.
var ErrUnknownProvider = errors.New("unknown provider")

// Cursor is the opaque read position of a Reader. Re-reads are idempotent
// given the same cursor: a ReadAll after restoring a cursor returns exactly
// the records that followed it.
type Cursor struct {
	// Offset is the byte offset into a line-delimited log.
	Offset int64 `json:"offset,omitempty"`
	// LastRowID is the last row already returned from a structured store.
	LastRowID int64 `json:"last_row_id,omitempty"`
}

// StoreRow is one already-typed record from a structured-store provider.
type StoreRow struct {
	RowID      int64
	SessionID  string
	Role       string // user, assistant, tool_call, tool_result, plan, summary
	Content    string
	Model      string
	ToolName   string
	ToolCallID string
	IsError    bool
	Tokens     RowTokens
	CreatedAt  time.Time
}

// RowTokens carries per-row token counts from a structured store.
type RowTokens struct {
	Input      int
	Output     int
	CacheWrite int
	CacheRead  int
}

// Record is one raw provider record. Line-delimited providers populate Data;
// structured-store providers populate Row and leave Data nil.
type Record struct {
	Seq  int64           // monotonically increasing within one reader
	Data json.RawMessage // raw JSON line (jsonl provider)
	Row  *StoreRow       // typed row (store provider)
}

// Reader is a lazy, finite, restartable view over one session source.
// ReadAll returns only records not previously returned; re-invocation on a
// still-growing source picks up where the last call left off.
//
// Readers are driven by a single poll loop and need not be safe for
// concurrent use.
type Reader interface {
	ReadAll(ctx context.Context) ([]Record, error)
	Cursor() Cursor
	Flush() error // release file handles / statements; reader stays usable
	Path() string
}

// SessionInfo describes one discoverable session source.
type SessionInfo struct {
	SessionID string    `json:"session_id"`
	Path      string    `json:"path"`
	Modified  time.Time `json:"modified"`
	SizeBytes int64     `json:"size_bytes"`
}

// Provider is a source-format adapter.
type Provider interface {
	// ID returns the provider identifier (e.g. "claude", "store").
	ID() string

	// CreateReader opens a reader positioned at the start of the source.
	CreateReader(path string) (Reader, error)

	// DiscoverSessions lists candidate session sources under dir,
	// newest first.
	DiscoverSessions(dir string) ([]SessionInfo, error)
}
