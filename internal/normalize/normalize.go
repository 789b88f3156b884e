// Copyright (C) 2026 Agentpulse
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package normalize maps provider-specific record shapes into the canonical
// event model. Normalizers are pure: no state survives between calls, and
// records are never reordered, only relabelled.
package normalize

import (
	"fmt"
	"sync"

	"github.com/agentpulse/agentpulse/internal/event"
	"github.com/agentpulse/agentpulse/internal/provider"
)

// Normalizer converts one raw record into zero or more canonical events.
// A record expands to multiple events only when the source packs several
// content blocks (e.g. text + tool invocations) into one entry; their
// relative order is preserved.
type Normalizer interface {
	// ProviderID returns the provider this normalizer understands.
	ProviderID() string

	// Normalize converts one record. A nil, nil return means the record
	// is a marker row with no canonical representation (dropped).
	Normalize(rec provider.Record) ([]event.Event, error)
}

var (
	normalizers = make(map[string]Normalizer)
	mu          sync.RWMutex
)

// Register adds a normalizer, replacing any previous one for the same
// provider id.
func Register(n Normalizer) {
	mu.Lock()
	defer mu.Unlock()
	normalizers[n.ProviderID()] = n
}

// RegisterAll registers the built-in normalizers. Call once at startup.
func RegisterAll() {
	Register(NewClaude())
	Register(NewStore())
}

// Normalize dispatches a record to the normalizer for providerID.
func Normalize(providerID string, rec provider.Record) ([]event.Event, error) {
	mu.RLock()
	n, ok := normalizers[providerID]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no normalizer registered for provider %q", providerID)
	}
	return n.Normalize(rec)
}

// thinkingPreviewLen is the fixed preview length for thinking blocks.
const thinkingPreviewLen = 200

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen-3]) + "..."
}
