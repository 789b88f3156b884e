// Copyright (C) 2026 Agentpulse
// SPDX-License-Identifier: AGPL-3.0-or-later

package burnrate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// fixedClock pins the estimator's notion of now.
func fixedClock(e *Estimator, at time.Time) {
	e.now = func() time.Time { return at }
}

func TestRateWithNoSamples(t *testing.T) {
	e := New(5 * time.Minute)
	assert.Equal(t, 0.0, e.Rate())
}

func TestSingleSampleElapsedFloor(t *testing.T) {
	e := New(5 * time.Minute)
	now := time.Now()
	fixedClock(e, now)

	e.AddSample(600, now)

	// A single fresh sample divides by the one-minute floor, never less.
	assert.LessOrEqual(t, e.Rate(), 600.0)
	assert.Equal(t, 600.0, e.Rate())
}

func TestRateOverElapsedMinutes(t *testing.T) {
	e := New(10 * time.Minute)
	base := time.Now()
	fixedClock(e, base.Add(4*time.Minute))

	e.AddSample(100, base)
	e.AddSample(300, base.Add(2*time.Minute))

	// 400 tokens over 4 minutes from the oldest sample.
	assert.InDelta(t, 100.0, e.Rate(), 0.01)
}

func TestPruneRemovesSamplesOlderThanWindow(t *testing.T) {
	e := New(5 * time.Minute)
	base := time.Now()

	e.AddSample(1000, base.Add(-10*time.Minute))
	e.AddSample(500, base.Add(-1*time.Minute))
	fixedClock(e, base)

	assert.Equal(t, 1, e.SampleCount())
	// Only the in-window sample contributes.
	assert.InDelta(t, 500.0, e.Rate(), 0.01)
}

func TestEstimateTimeToExhaustion(t *testing.T) {
	e := New(5 * time.Minute)
	now := time.Now()
	fixedClock(e, now)

	_, ok := e.EstimateTimeToExhaustion(0, 1000)
	assert.False(t, ok, "no rate means no estimate")

	e.AddSample(100, now) // 100 tokens/min with the floor

	minutes, ok := e.EstimateTimeToExhaustion(500, 1000)
	assert.True(t, ok)
	assert.InDelta(t, 5.0, minutes, 0.01)

	minutes, ok = e.EstimateTimeToExhaustion(1000, 1000)
	assert.True(t, ok)
	assert.Equal(t, 0.0, minutes, "already at the limit")
}

func TestReset(t *testing.T) {
	e := New(5 * time.Minute)
	now := time.Now()
	fixedClock(e, now)

	e.AddSample(100, now)
	e.Reset()

	assert.Equal(t, 0, e.SampleCount())
	assert.Equal(t, 0.0, e.Rate())
}
