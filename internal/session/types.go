// Copyright (C) 2026 Agentpulse
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"time"

	"github.com/agentpulse/agentpulse/internal/event"
)

// ModelUsage accumulates token totals and cost for one model.
type ModelUsage struct {
	InputTokens      int     `json:"input_tokens"`
	OutputTokens     int     `json:"output_tokens"`
	CacheWriteTokens int     `json:"cache_write_tokens"`
	CacheReadTokens  int     `json:"cache_read_tokens"`
	Calls            int     `json:"calls"`
	CostUSD          float64 `json:"cost_usd"`
}

// ToolStats is the per-tool analytics record.
type ToolStats struct {
	ToolName      string        `json:"tool_name"`
	SuccessCount  int           `json:"success_count"`
	FailureCount  int           `json:"failure_count"`
	PendingCount  int           `json:"pending_count"`
	TotalDuration time.Duration `json:"total_duration"`
}

// CompletedCount is the number of matched results, success or failure.
func (t ToolStats) CompletedCount() int {
	return t.SuccessCount + t.FailureCount
}

// TimelineEntry is one bounded-history activity item, newest first.
type TimelineEntry struct {
	Timestamp   time.Time  `json:"timestamp"`
	Kind        event.Kind `json:"kind"`
	Label       string     `json:"label"`
	ToolName    string     `json:"tool_name,omitempty"`
	FilePath    string     `json:"file_path,omitempty"`
	IsError     bool       `json:"is_error,omitempty"`
	SideChannel bool       `json:"side_channel,omitempty"`
}

// LatencyCycle is one completed user→assistant round trip.
type LatencyCycle struct {
	RequestTimestamp    time.Time `json:"request_timestamp"`
	FirstTokenLatencyMs int64     `json:"first_token_latency_ms"`
	TotalResponseTimeMs int64     `json:"total_response_time_ms"`
}

// LatencyStats aggregates completed latency cycles.
type LatencyStats struct {
	Count              int     `json:"count"`
	AvgFirstTokenMs    float64 `json:"avg_first_token_ms"`
	MaxFirstTokenMs    int64   `json:"max_first_token_ms"`
	AvgTotalResponseMs float64 `json:"avg_total_response_ms"`
}

// TaskStatus is the lifecycle status of a tracked task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskDeleted    TaskStatus = "deleted"
)

// TrackedTask is one entry of the task-dependency board.
type TrackedTask struct {
	ID          string              `json:"id"`
	Subject     string              `json:"subject"`
	Description string              `json:"description,omitempty"`
	ActiveForm  string              `json:"active_form,omitempty"`
	Status      TaskStatus          `json:"status"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
	BlockedBy   map[string]struct{} `json:"-"`
	Blocks      map[string]struct{} `json:"-"`
	ToolCallIDs []string            `json:"tool_call_ids,omitempty"`
}

// ToolCallInfo describes one tool invocation, matched or still pending.
type ToolCallInfo struct {
	ID           string        `json:"id"`
	ToolName     string        `json:"tool_name"`
	Input        string        `json:"input,omitempty"`
	FilePath     string        `json:"file_path,omitempty"`
	StartedAt    time.Time     `json:"started_at"`
	Completed    bool          `json:"completed"`
	IsError      bool          `json:"is_error,omitempty"`
	Duration     time.Duration `json:"duration,omitempty"`
	LinesAdded   int           `json:"lines_added,omitempty"`
	LinesRemoved int           `json:"lines_removed,omitempty"`
	SideChannel  bool          `json:"side_channel,omitempty"`
}

// SubagentScope isolates one delegated agent run: the Task call that
// spawned it plus the tool calls it made, kept separate from the parent's.
type SubagentScope struct {
	TaskCallID  string         `json:"task_call_id"`
	Description string         `json:"description,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
	ToolCalls   []ToolCallInfo `json:"tool_calls"`
}

// TokenUsage is the token-usage notification payload.
type TokenUsage struct {
	Model     string      `json:"model"`
	Usage     event.Usage `json:"usage"`
	CostUSD   float64     `json:"cost_usd"`
	Timestamp time.Time   `json:"timestamp"`
}

// Stats is a read-only snapshot of session state.
type Stats struct {
	ProviderID  string    `json:"provider_id"`
	SessionPath string    `json:"session_path"`
	SessionID   string    `json:"session_id,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	Active      bool      `json:"active"`

	TotalInputTokens      int     `json:"total_input_tokens"`
	TotalOutputTokens     int     `json:"total_output_tokens"`
	TotalCacheWriteTokens int     `json:"total_cache_write_tokens"`
	TotalCacheReadTokens  int     `json:"total_cache_read_tokens"`
	TotalCostUSD          float64 `json:"total_cost_usd"`
	MessageCount          int     `json:"message_count"`

	ContextTokens      int `json:"context_tokens"` // latest assistant turn occupancy
	ContextWindowLimit int `json:"context_window_limit"`

	ModelUsage map[string]ModelUsage `json:"model_usage"`
	Tools      map[string]ToolStats  `json:"tools"`
	ErrorIndex map[string][]string   `json:"error_index"`

	Timeline []TimelineEntry `json:"timeline"` // newest first
	Latency  LatencyStats    `json:"latency"`

	BurnRatePerMinute float64 `json:"burn_rate_per_minute"`

	Tasks        []TrackedTask    `json:"tasks"` // deleted tasks excluded
	ActiveTaskID string           `json:"active_task_id,omitempty"`
	Plan         []event.PlanStep `json:"plan,omitempty"`

	ToolCalls []ToolCallInfo            `json:"tool_calls"` // primary scope, oldest first
	Subagents map[string]*SubagentScope `json:"subagents,omitempty"`
}
