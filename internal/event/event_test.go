// Copyright (C) 2026 Agentpulse
// SPDX-License-Identifier: AGPL-3.0-or-later

package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUsageTotal(t *testing.T) {
	u := Usage{InputTokens: 100, OutputTokens: 50, CacheWriteTokens: 20, CacheReadTokens: 5}
	assert.Equal(t, 175, u.Total())
	assert.Equal(t, 0, Usage{}.Total())
}

func TestHasUsage(t *testing.T) {
	assert.False(t, (&Event{}).HasUsage())
	assert.False(t, (&Event{Usage: &Usage{}}).HasUsage())
	assert.True(t, (&Event{Usage: &Usage{OutputTokens: 1}}).HasUsage())
	assert.True(t, (&Event{Usage: &Usage{CacheReadTokens: 1}}).HasUsage())
}
