// Copyright (C) 2026 Agentpulse
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import "sync"

// registry holds registered providers by id.
var (
	registry   = make(map[string]Provider)
	registryMu sync.RWMutex
)

// Register adds a provider to the registry, replacing any previous
// registration under the same id.
func Register(p Provider) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[p.ID()] = p
}

// Get returns a provider by id. Returns (nil, false) if none is registered.
func Get(id string) (Provider, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	p, ok := registry[id]
	return p, ok
}

// Registered returns the ids of all registered providers.
func Registered() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	ids := make([]string, 0, len(registry))
	for id := range registry {
		ids = append(ids, id)
	}
	return ids
}

// ResetForTesting clears the registry. Only use in tests.
func ResetForTesting() {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry = make(map[string]Provider)
}
