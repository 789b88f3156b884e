// Copyright (C) 2026 Agentpulse
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package burnrate estimates token consumption per minute over a trailing
// window and projects time to quota exhaustion.
package burnrate

import (
	"time"
)

// DefaultWindow is the trailing window when none is configured.
const DefaultWindow = 5 * time.Minute

type sample struct {
	tokens int
	at     time.Time
}

// Estimator keeps a sliding window of (tokens, timestamp) samples.
// It is driven from the single event-apply path and needs no locking.
type Estimator struct {
	window  time.Duration
	samples []sample
	now     func() time.Time // swapped in tests
}

// New creates an estimator with the given window; window <= 0 uses the
// default.
func New(window time.Duration) *Estimator {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Estimator{window: window, now: time.Now}
}

// AddSample records tokens consumed at the given time.
func (e *Estimator) AddSample(tokens int, at time.Time) {
	e.samples = append(e.samples, sample{tokens: tokens, at: at})
}

// Rate returns tokens per minute over the window. Samples strictly older
// than the window are pruned first. With no samples the rate is 0. Elapsed
// time is floored at one minute so a single fresh sample does not project
// an absurd rate.
func (e *Estimator) Rate() float64 {
	now := e.now()
	e.prune(now)
	if len(e.samples) == 0 {
		return 0
	}

	total := 0
	for _, s := range e.samples {
		total += s.tokens
	}
	elapsed := now.Sub(e.samples[0].at).Minutes()
	if elapsed < 1 {
		elapsed = 1
	}
	return float64(total) / elapsed
}

// EstimateTimeToExhaustion returns the minutes until `limit` tokens are
// reached from `used` at the current rate. Returns (0, false) when the rate
// is zero or negative; returns (0, true) when the limit is already reached.
func (e *Estimator) EstimateTimeToExhaustion(used, limit int) (minutes float64, ok bool) {
	rate := e.Rate()
	if rate <= 0 {
		return 0, false
	}
	if used >= limit {
		return 0, true
	}
	return float64(limit-used) / rate, true
}

// SampleCount returns the number of samples currently in the window.
func (e *Estimator) SampleCount() int {
	e.prune(e.now())
	return len(e.samples)
}

// Reset clears all samples. Called on session start and switch.
func (e *Estimator) Reset() {
	e.samples = e.samples[:0]
}

func (e *Estimator) prune(now time.Time) {
	cutoff := now.Add(-e.window)
	idx := 0
	for idx < len(e.samples) && e.samples[idx].at.Before(cutoff) {
		idx++
	}
	if idx > 0 {
		e.samples = append(e.samples[:0], e.samples[idx:]...)
	}
}
