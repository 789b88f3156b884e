// Copyright (C) 2026 Agentpulse
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentpulse/agentpulse/internal/config"
	"github.com/agentpulse/agentpulse/internal/normalize"
	"github.com/agentpulse/agentpulse/internal/provider"
	"github.com/agentpulse/agentpulse/internal/provider/jsonl"
)

func init() {
	provider.Register(jsonl.New())
	normalize.RegisterAll()
}

func testAppConfig(t *testing.T) *config.AppConfig {
	t.Helper()
	return &config.AppConfig{
		DataDir: t.TempDir(),
		Watch: config.WatchConfig{
			PollInterval:    20 * time.Millisecond,
			SidechainScan:   50 * time.Millisecond,
			EventBufferSize: 1000,
		},
		Session: config.SessionConfig{
			TimelineCapacity:   200,
			LatencyHistory:     100,
			PendingCallLimit:   1000,
			BurnRateWindow:     5 * time.Minute,
			ContextWindowLimit: 200_000,
		},
		Recorder: config.RecorderConfig{
			MaxAgeDays:     30,
			MaxTotalSizeMB: 100,
			FlushInterval:  50 * time.Millisecond,
		},
		Quota: config.QuotaConfig{
			CredentialsPath: filepath.Join(t.TempDir(), "absent.json"),
			UsageURL:        "http://127.0.0.1:1",
			RefreshInterval: time.Hour,
		},
	}
}

func writeTranscript(t *testing.T, dir, sessionID string, entries ...map[string]any) string {
	t.Helper()
	path := filepath.Join(dir, sessionID+".jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	require.NoError(t, err)
	defer f.Close()
	for _, entry := range entries {
		entry["sessionId"] = sessionID
		entry["timestamp"] = time.Now().Format(time.RFC3339Nano)
		data, err := json.Marshal(entry)
		require.NoError(t, err)
		_, err = f.Write(append(data, '\n'))
		require.NoError(t, err)
	}
	return path
}

func userEntry(text string) map[string]any {
	return map[string]any{
		"type":    "user",
		"message": map[string]any{"role": "user", "content": text},
	}
}

func assistantEntry(input, output int) map[string]any {
	return map[string]any{
		"type": "assistant",
		"message": map[string]any{
			"role":    "assistant",
			"model":   "modelA",
			"content": []map[string]any{{"type": "text", "text": "done"}},
			"usage":   map[string]any{"input_tokens": input, "output_tokens": output},
		},
	}
}

func TestEngineTailsNewestSession(t *testing.T) {
	cfg := testAppConfig(t)
	watchDir := t.TempDir()
	const sessionID = "3f7c2a10-0000-4000-8000-000000000001"
	writeTranscript(t, watchDir, sessionID, userEntry("hello"), assistantEntry(100, 50))

	eng, err := New(cfg, "claude")
	require.NoError(t, err)
	defer eng.Close()

	require.NoError(t, eng.Start(context.Background(), watchDir))

	require.Eventually(t, func() bool {
		return eng.GetStats().TotalInputTokens == 100
	}, 5*time.Second, 20*time.Millisecond, "engine never ingested the transcript")

	assert.True(t, eng.IsActive())
	assert.Contains(t, eng.GetSessionPath(), sessionID)

	stats := eng.GetStats()
	assert.Equal(t, 50, stats.TotalOutputTokens)
	assert.Equal(t, 1, stats.ModelUsage["modelA"].Calls)

	// Appended lines are picked up on subsequent polls.
	writeTranscript(t, watchDir, sessionID, assistantEntry(10, 5))
	require.Eventually(t, func() bool {
		return eng.GetStats().TotalInputTokens == 110
	}, 5*time.Second, 20*time.Millisecond)
}

func TestEngineAvailableSessionsAndSwitch(t *testing.T) {
	cfg := testAppConfig(t)
	watchDir := t.TempDir()
	const first = "3f7c2a10-0000-4000-8000-000000000001"
	const second = "3f7c2a10-0000-4000-8000-000000000002"
	writeTranscript(t, watchDir, first, userEntry("one"), assistantEntry(10, 1))

	eng, err := New(cfg, "claude")
	require.NoError(t, err)
	defer eng.Close()
	require.NoError(t, eng.Start(context.Background(), watchDir))

	require.Eventually(t, func() bool { return eng.IsActive() }, 5*time.Second, 20*time.Millisecond)

	secondPath := writeTranscript(t, watchDir, second, userEntry("two"), assistantEntry(77, 7))
	sessions, err := eng.GetAvailableSessions()
	require.NoError(t, err)
	require.Len(t, sessions, 2)

	require.NoError(t, eng.SwitchToSession(secondPath))
	require.Eventually(t, func() bool {
		return eng.GetStats().TotalInputTokens == 77
	}, 5*time.Second, 20*time.Millisecond, "switched session never ingested")
	assert.Equal(t, secondPath, eng.GetSessionPath())
}

func TestEngineCloseFlushesDurableState(t *testing.T) {
	cfg := testAppConfig(t)
	watchDir := t.TempDir()
	const sessionID = "3f7c2a10-0000-4000-8000-000000000003"
	writeTranscript(t, watchDir, sessionID, userEntry("hello"), assistantEntry(100, 50))

	eng, err := New(cfg, "claude")
	require.NoError(t, err)
	require.NoError(t, eng.Start(context.Background(), watchDir))
	require.Eventually(t, func() bool {
		return eng.GetStats().TotalInputTokens == 100
	}, 5*time.Second, 20*time.Millisecond)

	eng.Close()

	auditPath := filepath.Join(cfg.DataDir, "audit", fmt.Sprintf("claude--%s.jsonl", sessionID))
	audit, err := os.ReadFile(auditPath)
	require.NoError(t, err)
	assert.NotEmpty(t, audit)

	_, err = os.Stat(filepath.Join(cfg.DataDir, "audit", "manifest.json"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(cfg.DataDir, "history.json"))
	assert.NoError(t, err)

	// Close is idempotent and queries degrade to empty, never panic.
	eng.Close()
	assert.False(t, eng.IsActive())
}

func TestEngineUnknownProvider(t *testing.T) {
	_, err := New(testAppConfig(t), "nope")
	assert.ErrorIs(t, err, provider.ErrUnknownProvider)
	assert.Contains(t, err.Error(), jsonl.ProviderID) // registered ids are named
}

func TestEngineQuotaPollingGatedOnEnabled(t *testing.T) {
	dir := t.TempDir()

	cfg := testAppConfig(t)
	cfg.Quota.Enabled = true
	eng, err := New(cfg, jsonl.ProviderID)
	require.NoError(t, err)
	defer eng.Close()

	sub := eng.Quota().Updates().Subscribe()
	defer sub.Cancel()
	require.NoError(t, eng.Start(context.Background(), dir))
	select {
	case state := <-sub.C():
		assert.NotZero(t, state.FetchedAt)
	case <-time.After(5 * time.Second):
		t.Fatal("enabled quota polling published no update")
	}
}

func TestEngineQuotaPollingDisabled(t *testing.T) {
	dir := t.TempDir()

	cfg := testAppConfig(t)
	cfg.Quota.Enabled = false
	eng, err := New(cfg, jsonl.ProviderID)
	require.NoError(t, err)
	defer eng.Close()

	sub := eng.Quota().Updates().Subscribe()
	defer sub.Cancel()
	require.NoError(t, eng.Start(context.Background(), dir))
	select {
	case <-sub.C():
		t.Fatal("disabled quota polling still published an update")
	case <-time.After(200 * time.Millisecond):
	}
}
