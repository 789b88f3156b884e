// Copyright (C) 2026 Agentpulse
// SPDX-License-Identifier: AGPL-3.0-or-later

package normalize

import (
	"fmt"

	"github.com/agentpulse/agentpulse/internal/event"
	"github.com/agentpulse/agentpulse/internal/provider"
)

// Store normalizes rows from the structured-store provider. Rows arrive
// already typed; this normalizer only relabels them into canonical kinds.
// Plans in this format are markdown text on a "plan" row, so steps get
// positional ids and the aggregator matches them to tasks by index.
type Store struct{}

// NewStore creates a structured-store normalizer.
func NewStore() *Store {
	return &Store{}
}

func (s *Store) ProviderID() string {
	return "store"
}

func (s *Store) Normalize(rec provider.Record) ([]event.Event, error) {
	row := rec.Row
	if row == nil {
		return nil, fmt.Errorf("store record %d has no row payload", rec.Seq)
	}

	base := event.Event{
		Timestamp: row.CreatedAt,
		SessionID: row.SessionID,
	}

	switch row.Role {
	case "user":
		base.Kind = event.KindUser
		base.Text = row.Content
	case "assistant":
		base.Kind = event.KindAssistant
		base.Text = row.Content
		base.Model = row.Model
		if row.Tokens != (provider.RowTokens{}) {
			base.Usage = &event.Usage{
				InputTokens:      row.Tokens.Input,
				OutputTokens:     row.Tokens.Output,
				CacheWriteTokens: row.Tokens.CacheWrite,
				CacheReadTokens:  row.Tokens.CacheRead,
			}
		}
	case "tool_call":
		base.Kind = event.KindToolCall
		base.ToolName = row.ToolName
		base.ToolCallID = row.ToolCallID
		base.ToolInput = truncate(row.Content, 100)
	case "tool_result":
		base.Kind = event.KindToolResult
		base.ToolName = row.ToolName
		base.ToolCallID = row.ToolCallID
		base.IsError = row.IsError
		base.Output = truncate(row.Content, 500)
	case "plan":
		base.Kind = event.KindPlanUpdate
		base.Steps = ParseMarkdownPlan(row.Content)
		if len(base.Steps) == 0 {
			return nil, nil
		}
	case "summary":
		base.Kind = event.KindSummary
		base.Text = row.Content
	default:
		return nil, nil // step markers and other bookkeeping rows
	}

	return []event.Event{base}, nil
}
