// Copyright (C) 2026 Agentpulse
// SPDX-License-Identifier: AGPL-3.0-or-later

package normalize

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentpulse/agentpulse/internal/event"
	"github.com/agentpulse/agentpulse/internal/provider"
)

// transcriptLine builds a Claude transcript JSONL entry for tests.
func transcriptLine(t *testing.T, entry map[string]any) provider.Record {
	t.Helper()
	if _, ok := entry["timestamp"]; !ok {
		entry["timestamp"] = time.Now().Format(time.RFC3339Nano)
	}
	if _, ok := entry["sessionId"]; !ok {
		entry["sessionId"] = "test-session-123"
	}
	data, err := json.Marshal(entry)
	require.NoError(t, err)
	return provider.Record{Data: data}
}

func TestClaudeUserPrompt(t *testing.T) {
	c := NewClaude()
	rec := transcriptLine(t, map[string]any{
		"type": "user",
		"message": map[string]any{
			"role":    "user",
			"content": "fix the login bug",
		},
	})

	events, err := c.Normalize(rec)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, event.KindUser, events[0].Kind)
	assert.Equal(t, "fix the login bug", events[0].Text)
	assert.Equal(t, "test-session-123", events[0].SessionID)
}

func TestClaudeUserContentArray(t *testing.T) {
	c := NewClaude()
	rec := transcriptLine(t, map[string]any{
		"type": "user",
		"message": map[string]any{
			"role": "user",
			"content": []map[string]any{
				{"type": "text", "text": "first part"},
				{"type": "text", "text": "second part"},
			},
		},
	})

	events, err := c.Normalize(rec)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "first part\nsecond part", events[0].Text)
}

func TestClaudeEmptyUserPromptDropped(t *testing.T) {
	c := NewClaude()
	rec := transcriptLine(t, map[string]any{
		"type":    "user",
		"message": map[string]any{"role": "user", "content": ""},
	})

	events, err := c.Normalize(rec)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestClaudeAssistantWithUsageAndToolUse(t *testing.T) {
	c := NewClaude()
	rec := transcriptLine(t, map[string]any{
		"type": "assistant",
		"message": map[string]any{
			"role":  "assistant",
			"model": "claude-sonnet-4",
			"content": []map[string]any{
				{"type": "text", "text": "Let me check the file."},
				{
					"type": "tool_use", "id": "toolu_01", "name": "Read",
					"input": map[string]any{"file_path": "/src/auth.go"},
				},
			},
			"usage": map[string]any{
				"input_tokens":  100,
				"output_tokens": 50,
			},
		},
	})

	events, err := c.Normalize(rec)
	require.NoError(t, err)
	require.Len(t, events, 2)

	// The assistant turn precedes the tool calls it issues.
	assert.Equal(t, event.KindAssistant, events[0].Kind)
	assert.Equal(t, "claude-sonnet-4", events[0].Model)
	require.NotNil(t, events[0].Usage)
	assert.Equal(t, 100, events[0].Usage.InputTokens)
	assert.Equal(t, 50, events[0].Usage.OutputTokens)

	assert.Equal(t, event.KindToolCall, events[1].Kind)
	assert.Equal(t, "Read", events[1].ToolName)
	assert.Equal(t, "toolu_01", events[1].ToolCallID)
	assert.Equal(t, "/src/auth.go", events[1].FilePath)
}

func TestClaudeThinkingPreview(t *testing.T) {
	c := NewClaude()
	long := ""
	for i := 0; i < 50; i++ {
		long += "thinking hard "
	}
	rec := transcriptLine(t, map[string]any{
		"type": "assistant",
		"message": map[string]any{
			"role": "assistant",
			"content": []map[string]any{
				{"type": "thinking", "thinking": long},
			},
			"usage": map[string]any{"input_tokens": 1, "output_tokens": 1},
		},
	})

	events, err := c.Normalize(rec)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Contains(t, events[0].Text, "[thinking]")
	// Preview, not the full block.
	assert.Less(t, len(events[0].Text), len(long))
}

func TestClaudeToolResult(t *testing.T) {
	c := NewClaude()
	rec := transcriptLine(t, map[string]any{
		"type": "user",
		"message": map[string]any{
			"role": "user",
			"content": []map[string]any{
				{
					"type":        "tool_result",
					"tool_use_id": "toolu_01",
					"content":     "exit status 1",
					"is_error":    true,
				},
			},
		},
	})

	events, err := c.Normalize(rec)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, event.KindToolResult, events[0].Kind)
	assert.Equal(t, "toolu_01", events[0].ToolCallID)
	assert.True(t, events[0].IsError)
	assert.Equal(t, "exit status 1", events[0].Output)
}

func TestClaudeToolResultEditEnrichment(t *testing.T) {
	c := NewClaude()
	rec := transcriptLine(t, map[string]any{
		"type": "user",
		"message": map[string]any{
			"role": "user",
			"content": []map[string]any{
				{"type": "tool_result", "tool_use_id": "toolu_02", "content": "ok"},
			},
		},
		"toolUseResult": map[string]any{
			"type":     "update",
			"filePath": "/src/auth.go",
			"structuredPatch": []map[string]any{
				{"lines": []string{"+new line", "+another", "-old line", " context"}},
			},
		},
	})

	events, err := c.Normalize(rec)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "Edit", events[0].ToolName)
	assert.Equal(t, "/src/auth.go", events[0].FilePath)
	assert.Equal(t, 2, events[0].LinesAdded)
	assert.Equal(t, 1, events[0].LinesRemoved)
}

func TestClaudeTodoWriteEmitsPlanUpdate(t *testing.T) {
	c := NewClaude()
	rec := transcriptLine(t, map[string]any{
		"type": "assistant",
		"message": map[string]any{
			"role": "assistant",
			"content": []map[string]any{
				{
					"type": "tool_use", "id": "toolu_03", "name": "TodoWrite",
					"input": map[string]any{
						"todos": []map[string]any{
							{"content": "write tests", "status": "in_progress"},
							{"content": "ship it", "status": "pending"},
						},
					},
				},
			},
		},
	})

	events, err := c.Normalize(rec)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, event.KindToolCall, events[0].Kind)
	assert.Equal(t, event.KindPlanUpdate, events[1].Kind)
	require.Len(t, events[1].Steps, 2)
	assert.Equal(t, event.StepInProgress, events[1].Steps[0].Status)
	assert.Equal(t, "step-0", events[1].Steps[0].ID)
}

func TestClaudeSidechainTagging(t *testing.T) {
	c := NewClaude()
	rec := transcriptLine(t, map[string]any{
		"type":            "user",
		"isSidechain":     true,
		"parentToolUseId": "toolu_task",
		"message":         map[string]any{"role": "user", "content": "subagent prompt"},
	})

	events, err := c.Normalize(rec)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.True(t, events[0].SideChannel)
	assert.Equal(t, "toolu_task", events[0].ParentID)
}

func TestClaudeSummaryEntry(t *testing.T) {
	c := NewClaude()
	rec := transcriptLine(t, map[string]any{
		"type":    "summary",
		"summary": "Fixed the auth bug",
	})

	events, err := c.Normalize(rec)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, event.KindSummary, events[0].Kind)
	assert.Equal(t, "Fixed the auth bug", events[0].Text)
}

func TestClaudeUnknownEntryTypesDropped(t *testing.T) {
	c := NewClaude()
	for _, typ := range []string{"queue-operation", "file-history-snapshot", "system"} {
		rec := transcriptLine(t, map[string]any{"type": typ})
		events, err := c.Normalize(rec)
		require.NoError(t, err, typ)
		assert.Empty(t, events, typ)
	}
}

func TestClaudeMalformedLineErrors(t *testing.T) {
	c := NewClaude()
	_, err := c.Normalize(provider.Record{Data: []byte(`{"type": "user", "message":`)})
	assert.Error(t, err)
}

func TestClaudeOrderPreservedAcrossBlocks(t *testing.T) {
	c := NewClaude()
	var blocks []map[string]any
	blocks = append(blocks, map[string]any{"type": "text", "text": "working"})
	for i := 0; i < 3; i++ {
		blocks = append(blocks, map[string]any{
			"type": "tool_use", "id": fmt.Sprintf("toolu_%d", i), "name": "Bash",
			"input": map[string]any{"command": fmt.Sprintf("step %d", i)},
		})
	}
	rec := transcriptLine(t, map[string]any{
		"type":    "assistant",
		"message": map[string]any{"role": "assistant", "content": blocks},
	})

	events, err := c.Normalize(rec)
	require.NoError(t, err)
	require.Len(t, events, 4)
	for i := 0; i < 3; i++ {
		assert.Equal(t, fmt.Sprintf("toolu_%d", i), events[i+1].ToolCallID)
	}
}
