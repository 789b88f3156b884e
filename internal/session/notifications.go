// Copyright (C) 2026 Agentpulse
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import "github.com/agentpulse/agentpulse/internal/bus"

// Notifications is the fan-out surface the aggregator publishes on.
// Consumers subscribe to individual topics; none is required to be listening.
type Notifications struct {
	SessionStart        *bus.Topic[string] // session path
	SessionEnd          *bus.Topic[struct{}]
	TokenUsage          *bus.Topic[TokenUsage]
	ToolCall            *bus.Topic[ToolCallInfo]
	ToolAnalytics       *bus.Topic[map[string]ToolStats]
	TimelineEvent       *bus.Topic[TimelineEntry]
	LatencyUpdate       *bus.Topic[LatencyStats]
	DiscoveryModeChange *bus.Topic[bool]
}

// NewNotifications creates all aggregator topics.
func NewNotifications() *Notifications {
	return &Notifications{
		SessionStart:        bus.NewTopic[string]("session-start"),
		SessionEnd:          bus.NewTopic[struct{}]("session-end"),
		TokenUsage:          bus.NewTopic[TokenUsage]("token-usage"),
		ToolCall:            bus.NewTopic[ToolCallInfo]("tool-call"),
		ToolAnalytics:       bus.NewTopic[map[string]ToolStats]("tool-analytics"),
		TimelineEvent:       bus.NewTopic[TimelineEntry]("timeline-event"),
		LatencyUpdate:       bus.NewTopic[LatencyStats]("latency-update"),
		DiscoveryModeChange: bus.NewTopic[bool]("discovery-mode-change"),
	}
}
