// Copyright (C) 2026 Agentpulse
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

// timeline is a fixed-capacity ring of activity entries. Insertion beyond
// capacity evicts the oldest entry. Snapshot returns newest first.
type timeline struct {
	entries []TimelineEntry
	head    int // index of the newest entry
	size    int
}

func newTimeline(capacity int) *timeline {
	if capacity <= 0 {
		capacity = 200
	}
	return &timeline{entries: make([]TimelineEntry, capacity)}
}

func (t *timeline) push(e TimelineEntry) {
	if t.size == 0 {
		t.head = 0
		t.entries[0] = e
		t.size = 1
		return
	}
	t.head = (t.head + 1) % len(t.entries)
	t.entries[t.head] = e
	if t.size < len(t.entries) {
		t.size++
	}
}

// snapshot returns the entries newest first.
func (t *timeline) snapshot() []TimelineEntry {
	out := make([]TimelineEntry, 0, t.size)
	for i := 0; i < t.size; i++ {
		idx := (t.head - i + len(t.entries)) % len(t.entries)
		out = append(out, t.entries[idx])
	}
	return out
}
