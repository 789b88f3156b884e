// Copyright (C) 2026 Agentpulse
// SPDX-License-Identifier: AGPL-3.0-or-later

package normalize

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/agentpulse/agentpulse/internal/event"
	"github.com/agentpulse/agentpulse/internal/provider"
)

// Claude normalizes Claude Code transcript lines.
type Claude struct{}

// NewClaude creates a Claude normalizer.
func NewClaude() *Claude {
	return &Claude{}
}

func (c *Claude) ProviderID() string {
	return "claude"
}

// Normalize converts one transcript line. Unknown entry types
// (queue-operation, file-history-snapshot, system markers) are dropped.
func (c *Claude) Normalize(rec provider.Record) ([]event.Event, error) {
	var entry transcriptEntry
	if err := json.Unmarshal(rec.Data, &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal transcript entry: %w", err)
	}

	base := event.Event{
		Timestamp:   parseTimestamp(entry.Timestamp),
		SessionID:   entry.SessionID,
		SideChannel: entry.IsSidechain,
		ParentID:    entry.ParentToolUseID,
		Raw:         rec.Data,
	}

	switch entry.Type {
	case "user":
		return c.normalizeUser(entry, base)
	case "assistant":
		return c.normalizeAssistant(entry, base)
	case "summary":
		base.Kind = event.KindSummary
		base.Text = entry.Summary
		return []event.Event{base}, nil
	default:
		return nil, nil
	}
}

// normalizeUser handles user entries: human prompts, or tool outputs that
// Claude routes back through a user message.
func (c *Claude) normalizeUser(entry transcriptEntry, base event.Event) ([]event.Event, error) {
	if entry.Message != nil {
		for _, block := range entry.Message.Content {
			if block.Type == "tool_result" {
				ev := base
				ev.Kind = event.KindToolResult
				ev.ToolCallID = block.ToolUseID
				ev.IsError = block.IsError
				ev.Output = truncate(blockContentText(block.Content), 500)
				enrichFromToolUseResult(&ev, entry.ToolUseResult)
				return []event.Event{ev}, nil
			}
		}
	}
	if entry.ToolUseResult != nil {
		ev := base
		ev.Kind = event.KindToolResult
		enrichFromToolUseResult(&ev, entry.ToolUseResult)
		return []event.Event{ev}, nil
	}

	base.Kind = event.KindUser
	base.Text = flattenContent(entry.Message)
	if base.Text == "" {
		return nil, nil // interrupt markers and empty prompts carry no signal
	}
	return []event.Event{base}, nil
}

// normalizeAssistant flattens text/thinking blocks into one assistant event
// and expands each tool_use block into its own tool_call event. TodoWrite
// calls additionally produce a plan_update carrying the structured steps.
func (c *Claude) normalizeAssistant(entry transcriptEntry, base event.Event) ([]event.Event, error) {
	if entry.Message == nil {
		return nil, nil
	}

	base.Model = entry.Message.Model
	usage := entry.Usage
	if usage == nil {
		usage = entry.Message.Usage
	}

	var events []event.Event
	var textParts []string

	for _, block := range entry.Message.Content {
		switch block.Type {
		case "text":
			if block.Text != "" {
				textParts = append(textParts, block.Text)
			}
		case "thinking":
			if block.Thinking != "" {
				textParts = append(textParts, "[thinking] "+truncate(block.Thinking, thinkingPreviewLen))
			}
		case "tool_use":
			ev := base
			ev.Kind = event.KindToolCall
			ev.ToolName = block.Name
			ev.ToolCallID = block.ID
			ev.ToolInput = toolInputSummary(block.Name, block.Input)
			ev.FilePath = toolFilePath(block.Name, block.Input)
			events = append(events, ev)

			if block.Name == "TodoWrite" {
				if plan := planFromTodoInput(block.Input); plan != nil {
					pl := base
					pl.Kind = event.KindPlanUpdate
					pl.Steps = plan
					events = append(events, pl)
				}
			}
		}
	}

	if len(textParts) > 0 || usage != nil {
		ev := base
		ev.Kind = event.KindAssistant
		ev.Text = strings.Join(textParts, "\n")
		if usage != nil {
			ev.Usage = &event.Usage{
				InputTokens:      usage.InputTokens,
				OutputTokens:     usage.OutputTokens,
				CacheWriteTokens: usage.CacheCreationInputTokens,
				CacheReadTokens:  usage.CacheReadInputTokens,
			}
		}
		// The turn itself precedes the tool calls it issues.
		events = append([]event.Event{ev}, events...)
	}
	return events, nil
}

// enrichFromToolUseResult fills tool name, file path, output and line deltas
// from the pre-parsed toolUseResult field when present.
func enrichFromToolUseResult(ev *event.Event, raw json.RawMessage) {
	if raw == nil {
		return
	}

	// Error messages arrive as plain strings.
	var text string
	if json.Unmarshal(raw, &text) == nil {
		if ev.Output == "" {
			ev.Output = truncate(text, 500)
		}
		return
	}

	var result toolUseResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return
	}

	switch {
	case isBashResult(raw):
		ev.ToolName = "Bash"
		out := result.Stdout
		if result.Stderr != "" {
			if out != "" {
				out += "\n" + result.Stderr
			} else {
				out = result.Stderr
			}
		}
		if out != "" {
			ev.Output = truncate(out, 500)
		}

	case result.Type == "text" && result.File != nil:
		ev.ToolName = "Read"
		ev.FilePath = result.File.FilePath
		ev.Output = fmt.Sprintf("[%s] %d lines", result.File.FilePath, result.File.NumLines)

	case result.Type == "create":
		ev.ToolName = "Write"
		ev.FilePath = result.FilePath
		ev.LinesAdded = strings.Count(result.Content, "\n") + 1
		ev.Output = fmt.Sprintf("Created %s", result.FilePath)

	case result.Type == "update":
		ev.ToolName = "Edit"
		ev.FilePath = result.FilePath
		ev.LinesAdded, ev.LinesRemoved = countPatchLines(result.StructuredPatch)
		ev.Output = fmt.Sprintf("Updated %s", result.FilePath)

	case result.Filenames != nil:
		ev.ToolName = "Glob"
		ev.Output = fmt.Sprintf("Found %d files", result.NumFiles)
	}
}

func countPatchLines(hunks []patchHunk) (added, removed int) {
	for _, h := range hunks {
		for _, line := range h.Lines {
			switch {
			case strings.HasPrefix(line, "+"):
				added++
			case strings.HasPrefix(line, "-"):
				removed++
			}
		}
	}
	return added, removed
}

// isBashResult checks for the Bash result shape: stdout present, no type.
func isBashResult(raw json.RawMessage) bool {
	var probe struct {
		Stdout *string `json:"stdout"`
		Type   *string `json:"type"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return false
	}
	return probe.Stdout != nil && probe.Type == nil
}

// planFromTodoInput extracts the structured step array from TodoWrite input.
func planFromTodoInput(input map[string]any) []event.PlanStep {
	rawTodos, ok := input["todos"]
	if !ok {
		return nil
	}
	data, err := json.Marshal(rawTodos)
	if err != nil {
		return nil
	}
	var todos []todoItem
	if err := json.Unmarshal(data, &todos); err != nil {
		return nil
	}
	return stepsFromTodos(todos)
}

// flattenContent concatenates text blocks and previews thinking blocks.
func flattenContent(msg *claudeMessage) string {
	if msg == nil {
		return ""
	}
	var parts []string
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			if block.Text != "" {
				parts = append(parts, block.Text)
			}
		case "thinking":
			if block.Thinking != "" {
				parts = append(parts, "[thinking] "+truncate(block.Thinking, thinkingPreviewLen))
			}
		}
	}
	return strings.Join(parts, "\n")
}

func blockContentText(content any) string {
	switch v := content.(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(data)
	}
}

func toolInputSummary(toolName string, input map[string]any) string {
	if input == nil {
		return ""
	}
	switch toolName {
	case "Bash":
		if cmd, ok := input["command"].(string); ok {
			return truncate(cmd, 100)
		}
	case "Read", "Write", "Edit":
		if path, ok := input["file_path"].(string); ok {
			return path
		}
	case "Glob", "Grep":
		if pattern, ok := input["pattern"].(string); ok {
			return pattern
		}
	case "WebFetch":
		if url, ok := input["url"].(string); ok {
			return url
		}
	case "WebSearch":
		if query, ok := input["query"].(string); ok {
			return query
		}
	case "Task":
		if prompt, ok := input["prompt"].(string); ok {
			if agentType, ok := input["subagent_type"].(string); ok {
				return "[" + agentType + "] " + truncate(prompt, 80)
			}
			return truncate(prompt, 100)
		}
	case "TodoWrite":
		return "[todo list update]"
	}
	for _, key := range []string{"command", "path", "file_path", "pattern", "query", "url"} {
		if val, ok := input[key].(string); ok {
			return truncate(val, 100)
		}
	}
	return ""
}

// toolFilePath extracts the target path for file-oriented tools, or the
// URL/query for fetch/search tools (consumed alike by the graph builder).
func toolFilePath(toolName string, input map[string]any) string {
	if input == nil {
		return ""
	}
	switch toolName {
	case "Read", "Write", "Edit":
		if path, ok := input["file_path"].(string); ok {
			return path
		}
	case "Glob", "Grep":
		if path, ok := input["path"].(string); ok {
			return path
		}
	case "WebFetch":
		if url, ok := input["url"].(string); ok {
			return url
		}
	case "WebSearch":
		if query, ok := input["query"].(string); ok {
			return query
		}
	}
	return ""
}

func parseTimestamp(ts string) time.Time {
	if ts == "" {
		return time.Now()
	}
	if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, ts); err == nil {
		return t
	}
	return time.Now()
}
