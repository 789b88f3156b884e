// Copyright (C) 2026 Agentpulse
// SPDX-License-Identifier: AGPL-3.0-or-later

package jsonl

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentpulse/agentpulse/internal/provider"
)

func appendLines(t *testing.T, path string, lines ...string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	require.NoError(t, err)
	defer f.Close()
	for _, line := range lines {
		_, err := f.WriteString(line)
		require.NoError(t, err)
	}
}

func TestReadAllIncremental(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session.jsonl")
	r, err := New().CreateReader(path)
	require.NoError(t, err)

	appendLines(t, path, `{"type":"user"}`+"\n", `{"type":"assistant"}`+"\n")

	records, err := r.ReadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, int64(1), records[0].Seq)
	assert.Equal(t, int64(2), records[1].Seq)

	// No new content, no records.
	records, err = r.ReadAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, records)

	// Appended content picks up where the last call left off.
	appendLines(t, path, `{"type":"summary"}`+"\n")
	records, err = r.ReadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, int64(3), records[0].Seq)
}

func TestPartialLineWaitsForNewline(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session.jsonl")
	r, err := New().CreateReader(path)
	require.NoError(t, err)

	appendLines(t, path, `{"type":"user"}`+"\n", `{"type":"assis`)

	records, err := r.ReadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)

	// The partial tail completes on a later write.
	appendLines(t, path, `tant"}`+"\n")
	records, err = r.ReadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.JSONEq(t, `{"type":"assistant"}`, string(records[0].Data))
}

func TestMalformedLinesSkipped(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session.jsonl")
	r, err := New().CreateReader(path)
	require.NoError(t, err)

	appendLines(t, path, `{"ok":1}`+"\n", "not json at all\n", `{"ok":2}`+"\n")

	records, err := r.ReadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 2)
	// Seq stays contiguous across skips.
	assert.Equal(t, int64(2), records[1].Seq)
}

func TestMissingFileReturnsNoRecords(t *testing.T) {
	dir := t.TempDir()
	r, err := New().CreateReader(filepath.Join(dir, "not-yet.jsonl"))
	require.NoError(t, err)

	records, err := r.ReadAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestTruncationResetsCursor(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session.jsonl")
	r, err := New().CreateReader(path)
	require.NoError(t, err)

	appendLines(t, path, `{"gen":1}`+"\n", `{"gen":1}`+"\n")
	_, err = r.ReadAll(context.Background())
	require.NoError(t, err)

	// Replace with a shorter file, as a new session would.
	require.NoError(t, os.WriteFile(path, []byte(`{"gen":2}`+"\n"), 0644))

	records, err := r.ReadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.JSONEq(t, `{"gen":2}`, string(records[0].Data))
}

func TestCursorRestoreIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session.jsonl")

	first, err := New().CreateReader(path)
	require.NoError(t, err)
	appendLines(t, path, `{"n":1}`+"\n", `{"n":2}`+"\n")
	_, err = first.ReadAll(context.Background())
	require.NoError(t, err)
	cursor := first.Cursor()

	appendLines(t, path, `{"n":3}`+"\n")

	// A fresh reader restored to the same cursor sees exactly the records
	// that followed it.
	second, err := New().CreateReader(path)
	require.NoError(t, err)
	second.(*reader).Restore(cursor)

	records, err := second.ReadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.JSONEq(t, `{"n":3}`, string(records[0].Data))
}

func TestDiscoverSessionsNewestFirst(t *testing.T) {
	dir := t.TempDir()
	older := filepath.Join(dir, "11111111-1111-1111-1111-111111111111.jsonl")
	newer := filepath.Join(dir, "22222222-2222-2222-2222-222222222222.jsonl")
	require.NoError(t, os.WriteFile(older, []byte("{}\n"), 0644))
	require.NoError(t, os.WriteFile(newer, []byte("{}\n"), 0644))

	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(older, past, past))

	sessions, err := New().DiscoverSessions(dir)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "22222222-2222-2222-2222-222222222222", sessions[0].SessionID)
}

func TestDiscoverIgnoresNonSessionFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.jsonl"), []byte("{}\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "readme.md"), []byte("x"), 0644))

	sessions, err := New().DiscoverSessions(dir)
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestDiscoverMissingDirIsEmpty(t *testing.T) {
	sessions, err := New().DiscoverSessions(filepath.Join(t.TempDir(), "absent"))
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

var _ provider.Reader = (*reader)(nil)
