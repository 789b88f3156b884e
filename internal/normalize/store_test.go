// Copyright (C) 2026 Agentpulse
// SPDX-License-Identifier: AGPL-3.0-or-later

package normalize

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentpulse/agentpulse/internal/event"
	"github.com/agentpulse/agentpulse/internal/provider"
)

func storeRecord(row provider.StoreRow) provider.Record {
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now()
	}
	if row.SessionID == "" {
		row.SessionID = "sess-1"
	}
	return provider.Record{Row: &row}
}

func TestStoreAssistantRowWithTokens(t *testing.T) {
	s := NewStore()
	events, err := s.Normalize(storeRecord(provider.StoreRow{
		Role:    "assistant",
		Content: "here you go",
		Model:   "modelB",
		Tokens:  provider.RowTokens{Input: 42, Output: 7},
	}))

	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, event.KindAssistant, events[0].Kind)
	assert.Equal(t, "modelB", events[0].Model)
	require.NotNil(t, events[0].Usage)
	assert.Equal(t, 42, events[0].Usage.InputTokens)
}

func TestStoreAssistantRowWithoutTokens(t *testing.T) {
	s := NewStore()
	events, err := s.Normalize(storeRecord(provider.StoreRow{
		Role:    "assistant",
		Content: "plain",
	}))

	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Nil(t, events[0].Usage)
}

func TestStoreToolRows(t *testing.T) {
	s := NewStore()

	call, err := s.Normalize(storeRecord(provider.StoreRow{
		Role: "tool_call", ToolName: "shell", ToolCallID: "c-1", Content: "ls -la",
	}))
	require.NoError(t, err)
	require.Len(t, call, 1)
	assert.Equal(t, event.KindToolCall, call[0].Kind)
	assert.Equal(t, "c-1", call[0].ToolCallID)

	result, err := s.Normalize(storeRecord(provider.StoreRow{
		Role: "tool_result", ToolName: "shell", ToolCallID: "c-1", IsError: true, Content: "boom",
	}))
	require.NoError(t, err)
	require.Len(t, result, 1)
	assert.Equal(t, event.KindToolResult, result[0].Kind)
	assert.True(t, result[0].IsError)
}

func TestStorePlanRowParsesMarkdown(t *testing.T) {
	s := NewStore()
	events, err := s.Normalize(storeRecord(provider.StoreRow{
		Role:    "plan",
		Content: "- [x] A\n- [ ] B",
	}))

	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, event.KindPlanUpdate, events[0].Kind)
	require.Len(t, events[0].Steps, 2)
	assert.Equal(t, event.StepCompleted, events[0].Steps[0].Status)
}

func TestStorePlanRowWithoutStepsDropped(t *testing.T) {
	s := NewStore()
	events, err := s.Normalize(storeRecord(provider.StoreRow{
		Role:    "plan",
		Content: "no structured steps here",
	}))

	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestStoreUnknownRoleDropped(t *testing.T) {
	s := NewStore()
	events, err := s.Normalize(storeRecord(provider.StoreRow{Role: "step_marker"}))

	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestStoreMissingRowErrors(t *testing.T) {
	s := NewStore()
	_, err := s.Normalize(provider.Record{Seq: 3})
	assert.Error(t, err)
}

func TestRegistryDispatch(t *testing.T) {
	RegisterAll()

	events, err := Normalize("store", storeRecord(provider.StoreRow{Role: "user", Content: "hi"}))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, event.KindUser, events[0].Kind)

	_, err = Normalize("unknown-provider", provider.Record{})
	assert.Error(t, err)
}
