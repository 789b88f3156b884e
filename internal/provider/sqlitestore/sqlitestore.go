// Copyright (C) 2026 Agentpulse
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package sqlitestore implements the structured-store provider: session
// records kept as rows in an embedded SQLite database rather than as
// JSON lines. Rows arrive already typed, so no payload parsing happens here.
package sqlitestore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/agentpulse/agentpulse/internal/provider"
)

// ProviderID identifies this provider in the registry.
const ProviderID = "store"

// Provider implements provider.Provider over SQLite session databases.
type Provider struct{}

// New creates a structured-store provider.
func New() *Provider {
	return &Provider{}
}

func (p *Provider) ID() string {
	return ProviderID
}

// CreateReader opens a last-rowid cursor over the records table of one
// session database.
func (p *Provider) CreateReader(path string) (provider.Reader, error) {
	return &reader{path: path}, nil
}

// DiscoverSessions lists .db session files under dir, newest first.
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
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".db") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		sessions = append(sessions, provider.SessionInfo{
			SessionID: strings.TrimSuffix(entry.Name(), ".db"),
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

// reader reads typed rows past a last-seen rowid. The database handle is
// opened lazily and held between calls until Flush.
type reader struct {
	path      string
	db        *sql.DB
	lastRowID int64
	seq       int64
}

func (r *reader) Path() string {
	return r.path
}

func (r *reader) Cursor() provider.Cursor {
	return provider.Cursor{LastRowID: r.lastRowID}
}

// Restore positions the reader at a previously saved cursor.
func (r *reader) Restore(c provider.Cursor) {
	r.lastRowID = c.LastRowID
}

func (r *reader) open() error {
	if r.db != nil {
		return nil
	}
	db, err := sql.Open("sqlite", r.path+"?mode=ro&_pragma=busy_timeout(5000)")
	if err != nil {
		return fmt.Errorf("failed to open session database: %w", err)
	}
	r.db = db
	return nil
}

// ReadAll returns rows added since the last call, oldest first.
func (r *reader) ReadAll(ctx context.Context) ([]provider.Record, error) {
	if _, err := os.Stat(r.path); os.IsNotExist(err) {
		return nil, nil // not created yet
	}
	if err := r.open(); err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT rowid, session_id, role, content, model, tool_name, tool_call_id,
		       is_error, input_tokens, output_tokens, cache_write_tokens, cache_read_tokens,
		       created_at
		FROM records
		WHERE rowid > ?
		ORDER BY rowid ASC`, r.lastRowID)
	if err != nil {
		return nil, fmt.Errorf("failed to query session records: %w", err)
	}
	defer rows.Close()

	var records []provider.Record
	for rows.Next() {
		var (
			row       provider.StoreRow
			isError   int
			createdAt string
		)
		if err := rows.Scan(&row.RowID, &row.SessionID, &row.Role, &row.Content,
			&row.Model, &row.ToolName, &row.ToolCallID, &isError,
			&row.Tokens.Input, &row.Tokens.Output, &row.Tokens.CacheWrite, &row.Tokens.CacheRead,
			&createdAt); err != nil {
			return records, fmt.Errorf("failed to scan session record: %w", err)
		}
		row.IsError = isError != 0
		if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			row.CreatedAt = t
		} else {
			row.CreatedAt = time.Now()
		}
		r.lastRowID = row.RowID
		r.seq++
		rowCopy := row
		records = append(records, provider.Record{Seq: r.seq, Row: &rowCopy})
	}
	if err := rows.Err(); err != nil {
		return records, fmt.Errorf("failed to iterate session records: %w", err)
	}
	return records, nil
}

// Flush closes the database handle; the next ReadAll reopens it at the
// same cursor.
func (r *reader) Flush() error {
	if r.db == nil {
		return nil
	}
	err := r.db.Close()
	r.db = nil
	return err
}

// EnsureSchema creates the records table. Used by tests and by tools that
// write session stores.
func EnsureSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS records (
		session_id         TEXT NOT NULL,
		role               TEXT NOT NULL,
		content            TEXT NOT NULL DEFAULT '',
		model              TEXT NOT NULL DEFAULT '',
		tool_name          TEXT NOT NULL DEFAULT '',
		tool_call_id       TEXT NOT NULL DEFAULT '',
		is_error           INTEGER NOT NULL DEFAULT 0,
		input_tokens       INTEGER NOT NULL DEFAULT 0,
		output_tokens      INTEGER NOT NULL DEFAULT 0,
		cache_write_tokens INTEGER NOT NULL DEFAULT 0,
		cache_read_tokens  INTEGER NOT NULL DEFAULT 0,
		created_at         TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_records_session ON records(session_id);
	`
	_, err := db.Exec(schema)
	return err
}
