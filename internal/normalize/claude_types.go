// Copyright (C) 2026 Agentpulse
// SPDX-License-Identifier: AGPL-3.0-or-later

package normalize

import (
	"encoding/json"
	"fmt"
)

// transcriptEntry is a single line of a Claude Code transcript .jsonl file.
type transcriptEntry struct {
	Type            string `json:"type"` // "user", "assistant", "summary", "system", ...
	UUID            string `json:"uuid"`
	ParentUUID      string `json:"parentUuid,omitempty"`
	SessionID       string `json:"sessionId,omitempty"`
	RequestID       string `json:"requestId,omitempty"`
	Timestamp       string `json:"timestamp"`
	IsSidechain     bool   `json:"isSidechain,omitempty"`
	ParentToolUseID string `json:"parentToolUseId,omitempty"` // Task call that spawned this sidechain

	Message *claudeMessage `json:"message,omitempty"`

	// Tool output convenience field on user entries.
	ToolUseResult json.RawMessage `json:"toolUseResult,omitempty"`

	// Summary entries (context compaction).
	Summary string `json:"summary,omitempty"`

	Usage *usageInfo `json:"usage,omitempty"`
}

// claudeMessage is a message with role and variable-shape content.
type claudeMessage struct {
	Role       string         `json:"role"`
	Model      string         `json:"model,omitempty"`
	Content    []contentBlock `json:"-"` // custom unmarshal: string or array
	StopReason *string        `json:"stop_reason,omitempty"`
	Usage      *usageInfo     `json:"usage,omitempty"`
}

// UnmarshalJSON handles content being either a plain string or a block array.
func (m *claudeMessage) UnmarshalJSON(data []byte) error {
	type alias claudeMessage
	var raw struct {
		alias
		Content json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to unmarshal message: %w", err)
	}
	*m = claudeMessage(raw.alias)

	if len(raw.Content) == 0 {
		m.Content = nil
		return nil
	}
	var blocks []contentBlock
	if err := json.Unmarshal(raw.Content, &blocks); err == nil {
		m.Content = blocks
		return nil
	}
	var text string
	if err := json.Unmarshal(raw.Content, &text); err == nil {
		m.Content = []contentBlock{{Type: "text", Text: text}}
		return nil
	}
	return fmt.Errorf("message content is neither array nor string")
}

// contentBlock is one content item in a message.
type contentBlock struct {
	Type string `json:"type"` // "text", "thinking", "tool_use", "tool_result", "image"

	Text     string `json:"text,omitempty"`
	Thinking string `json:"thinking,omitempty"`

	// tool_use
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`

	// tool_result
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   any    `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`
}

// usageInfo is the token accounting block on assistant entries.
type usageInfo struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens,omitempty"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens,omitempty"`
}

// toolUseResult is the pre-parsed tool output metadata Claude Code attaches
// to user entries. The shape varies by tool; fields are a union.
type toolUseResult struct {
	Type string `json:"type,omitempty"` // "text", "create", "update", "delete"

	// Bash (no type field present)
	Stdout string `json:"stdout,omitempty"`
	Stderr string `json:"stderr,omitempty"`

	// Write / Edit
	FilePath        string      `json:"filePath,omitempty"`
	Content         string      `json:"content,omitempty"`
	StructuredPatch []patchHunk `json:"structuredPatch,omitempty"`

	// Read
	File *fileResult `json:"file,omitempty"`

	// Glob
	Filenames []string `json:"filenames,omitempty"`
	NumFiles  int      `json:"numFiles,omitempty"`
}

// patchHunk is one hunk of an Edit result diff.
type patchHunk struct {
	OldStart int      `json:"oldStart"`
	OldLines int      `json:"oldLines"`
	NewStart int      `json:"newStart"`
	NewLines int      `json:"newLines"`
	Lines    []string `json:"lines"`
}

// fileResult is the file metadata from a Read tool result.
type fileResult struct {
	FilePath   string `json:"filePath"`
	Content    string `json:"content"`
	NumLines   int    `json:"numLines"`
	TotalLines int    `json:"totalLines"`
}
