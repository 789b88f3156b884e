// Copyright (C) 2026 Agentpulse
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package event defines the canonical, provider-agnostic event model.
// This package is designed to have no dependencies to avoid import cycles.
package event

import (
	"encoding/json"
	"time"
)

// Kind discriminates canonical events.
type Kind string

const (
	KindUser       Kind = "user"
	KindAssistant  Kind = "assistant"
	KindToolCall   Kind = "tool_call"
	KindToolResult Kind = "tool_result"
	KindPlanUpdate Kind = "plan_update"
	KindSummary    Kind = "summary"
)

// Usage carries the token accounting from one assistant turn.
type Usage struct {
	InputTokens      int `json:"input_tokens"`
	OutputTokens     int `json:"output_tokens"`
	CacheWriteTokens int `json:"cache_write_tokens,omitempty"`
	CacheReadTokens  int `json:"cache_read_tokens,omitempty"`
}

// Total returns the sum of all token classes in this usage record.
func (u Usage) Total() int {
	return u.InputTokens + u.OutputTokens + u.CacheWriteTokens + u.CacheReadTokens
}

// StepStatus is the lifecycle status of one plan step.
type StepStatus string

const (
	StepPending    StepStatus = "pending"
	StepInProgress StepStatus = "in_progress"
	StepCompleted  StepStatus = "completed"
)

// PlanStep is one ordered entry of a normalized plan.
type PlanStep struct {
	ID     string     `json:"id"`   // "step-<index>"
	Text   string     `json:"text"` // step description, markdown stripped
	Phase  string     `json:"phase,omitempty"`
	Status StepStatus `json:"status"`
}

// Event is the normalized representation of one session occurrence.
// Kind selects which payload fields are meaningful.
type Event struct {
	Kind        Kind      `json:"kind"`
	Timestamp   time.Time `json:"timestamp"`
	SessionID   string    `json:"session_id,omitempty"`
	SideChannel bool      `json:"side_channel,omitempty"` // subagent/sidechain traffic
	ParentID    string    `json:"parent_id,omitempty"`    // tool_use id of the spawning Task call

	// user / assistant / summary
	Text  string `json:"text,omitempty"`
	Model string `json:"model,omitempty"`
	Usage *Usage `json:"usage,omitempty"`

	// tool_call / tool_result
	ToolName     string `json:"tool_name,omitempty"`
	ToolCallID   string `json:"tool_call_id,omitempty"`
	ToolInput    string `json:"tool_input,omitempty"` // human-readable summary
	FilePath     string `json:"file_path,omitempty"`
	IsError      bool   `json:"is_error,omitempty"`
	Output       string `json:"output,omitempty"`
	LinesAdded   int    `json:"lines_added,omitempty"`
	LinesRemoved int    `json:"lines_removed,omitempty"`

	// plan_update
	Steps []PlanStep `json:"steps,omitempty"`

	// Raw provider payload, retained for the audit trail.
	Raw json.RawMessage `json:"raw,omitempty"`
}

// HasUsage reports whether this event carries a non-empty usage record.
func (e *Event) HasUsage() bool {
	return e.Usage != nil && (e.Usage.InputTokens > 0 || e.Usage.OutputTokens > 0 ||
		e.Usage.CacheWriteTokens > 0 || e.Usage.CacheReadTokens > 0)
}
