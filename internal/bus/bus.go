// Copyright (C) 2026 Agentpulse
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package bus provides typed in-process publish/subscribe fan-out.
// Each notification kind gets its own Topic; publishing never blocks.
package bus

import (
	"sync"

	"github.com/agentpulse/agentpulse/internal/logger"
)

var log = logger.GetLogger("bus")

// defaultBuffer is the per-subscriber channel buffer size.
const defaultBuffer = 64

// Topic is a single named notification channel with zero or more subscribers.
// Publish is non-blocking: a subscriber that falls behind loses messages
// rather than stalling the producer.
type Topic[T any] struct {
	name string
	mu   sync.RWMutex
	subs map[int]chan T
	next int
}

// NewTopic creates a named topic.
func NewTopic[T any](name string) *Topic[T] {
	return &Topic[T]{
		name: name,
		subs: make(map[int]chan T),
	}
}

// Subscription is a disposable handle to a topic subscription.
type Subscription[T any] struct {
	topic *Topic[T]
	id    int
	ch    chan T
	once  sync.Once
}

// C returns the delivery channel. It is closed when the subscription is
// cancelled.
func (s *Subscription[T]) C() <-chan T {
	return s.ch
}

// Cancel removes the subscription and closes its channel. Safe to call
// more than once.
func (s *Subscription[T]) Cancel() {
	s.once.Do(func() {
		s.topic.mu.Lock()
		delete(s.topic.subs, s.id)
		s.topic.mu.Unlock()
		close(s.ch)
	})
}

// Subscribe registers a new subscriber with the default buffer size.
func (t *Topic[T]) Subscribe() *Subscription[T] {
	return t.SubscribeBuffered(defaultBuffer)
}

// SubscribeBuffered registers a new subscriber with an explicit buffer size.
func (t *Topic[T]) SubscribeBuffered(buffer int) *Subscription[T] {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.next
	t.next++
	ch := make(chan T, buffer)
	t.subs[id] = ch
	return &Subscription[T]{topic: t, id: id, ch: ch}
}

// Publish delivers msg to every current subscriber without blocking.
// With no subscribers it is a no-op.
func (t *Topic[T]) Publish(msg T) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, ch := range t.subs {
		select {
		case ch <- msg:
		default:
			log.Warn().Str("topic", t.name).Msg("Subscriber buffer full, dropping notification")
		}
	}
}

// SubscriberCount returns the number of active subscriptions.
func (t *Topic[T]) SubscriberCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.subs)
}
