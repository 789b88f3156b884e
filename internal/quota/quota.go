// Copyright (C) 2026 Agentpulse
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package quota polls the subscription usage endpoint and projects rolling
// window utilization to reset time. It is fully decoupled from session
// processing: results are delivered on its own notification topic, and a
// slow or failed fetch never stalls the event loop.
package quota

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/agentpulse/agentpulse/internal/bus"
	"github.com/agentpulse/agentpulse/internal/config"
	"github.com/agentpulse/agentpulse/internal/logger"
)

var log = logger.GetLogger("quota")

// betaHeader is the fixed feature header the usage endpoint requires.
const betaHeader = "oauth-2025-04-20"

// historyCap bounds the per-window utilization history.
const historyCap = 10

// minRateSpan is the minimum history span before a rate is computed.
const minRateSpan = 30 * time.Second

// projectionCap keeps runaway projections presentable.
const projectionCap = 200.0

// Status classifies the tracker's last fetch outcome.
type Status string

const (
	StatusOK             Status = "ok"
	StatusUnavailable    Status = "unavailable"     // no usable credentials
	StatusSignInRequired Status = "signin_required" // endpoint rejected the token
	StatusRateLimited    Status = "rate_limited"
	StatusError          Status = "error"
)

// WindowKind identifies a rolling usage-limit period.
type WindowKind string

const (
	WindowFiveHour WindowKind = "5h"
	WindowSevenDay WindowKind = "7d"
)

// Window is the published view of one quota window.
type Window struct {
	Kind        WindowKind `json:"kind"`
	Utilization float64    `json:"utilization"` // percent, 0-100+
	ResetsAt    time.Time  `json:"resets_at"`
	// RatePerMinute is percent per minute; nil while history is too thin.
	RatePerMinute *float64 `json:"rate_per_minute,omitempty"`
	// ProjectedAtReset is the linear projection of utilization at reset,
	// capped at 200. nil when no rate is known.
	ProjectedAtReset *float64 `json:"projected_at_reset,omitempty"`
}

// State is the quota-update notification payload.
type State struct {
	Status    Status    `json:"status"`
	Message   string    `json:"message,omitempty"`
	FiveHour  *Window   `json:"five_hour,omitempty"`
	SevenDay  *Window   `json:"seven_day,omitempty"`
	FetchedAt time.Time `json:"fetched_at"`
	Cached    bool      `json:"cached,omitempty"` // served from the last good fetch
}

// credentials is the on-disk token shape.
type credentials struct {
	AccessToken string `json:"accessToken"`
	ExpiresAt   int64  `json:"expiresAt,omitempty"` // unix milliseconds, 0 = no expiry
}

// usageResponse is the endpoint's window payload.
type usageResponse struct {
	FiveHour *usageWindow `json:"five_hour"`
	SevenDay *usageWindow `json:"seven_day"`
}

type usageWindow struct {
	Utilization float64 `json:"utilization"`
	ResetsAt    string  `json:"resets_at"`
}

type reading struct {
	utilization float64
	at          time.Time
}

// Tracker polls the usage endpoint on its own timer.
type Tracker struct {
	cfg    config.QuotaConfig
	client *http.Client
	topic  *bus.Topic[State]
	now    func() time.Time

	mu       sync.Mutex
	history  map[WindowKind][]reading
	lastGood *State
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewTracker creates a quota tracker. Call StartRefresh to begin polling.
func NewTracker(cfg config.QuotaConfig) *Tracker {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Tracker{
		cfg:     cfg,
		client:  &http.Client{Timeout: timeout},
		topic:   bus.NewTopic[State]("quota-update"),
		now:     time.Now,
		history: make(map[WindowKind][]reading),
	}
}

// Updates returns the quota-update notification topic.
func (t *Tracker) Updates() *bus.Topic[State] {
	return t.topic
}

// StartRefresh begins the periodic poll. Calling it twice is a no-op.
func (t *Tracker) StartRefresh() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		return
	}
	interval := t.cfg.RefreshInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.done = make(chan struct{})

	go func() {
		defer close(t.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		t.FetchQuota(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				t.FetchQuota(ctx)
			}
		}
	}()
	log.Info().Dur("interval", interval).Msg("Quota refresh started")
}

// StopRefresh stops the periodic poll and waits for it to finish.
func (t *Tracker) StopRefresh() {
	t.mu.Lock()
	cancel, done := t.cancel, t.done
	t.cancel = nil
	t.done = nil
	t.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
		log.Info().Msg("Quota refresh stopped")
	}
}

// FetchQuota performs one usage fetch, publishes the resulting state on
// the update topic, and returns it. The periodic poll and one-shot callers
// both go through here, so subscribers see every outcome. It never returns
// an error: every failure class degrades to a State.
func (t *Tracker) FetchQuota(ctx context.Context) State {
	state := t.fetchState(ctx)
	t.topic.Publish(state)
	return state
}

func (t *Tracker) fetchState(ctx context.Context) State {
	now := t.now()

	token, ok := t.loadToken(now)
	if !ok {
		return State{Status: StatusUnavailable, Message: "no usable credentials", FetchedAt: now}
	}

	resp, err := t.fetch(ctx, token)
	switch {
	case err == nil:
		state := t.applyReadings(resp, now)
		t.mu.Lock()
		t.lastGood = &state
		t.mu.Unlock()
		return state

	case errors.Is(err, errSignInRequired):
		return State{Status: StatusSignInRequired, Message: "sign-in required", FetchedAt: now}

	case errors.Is(err, errRateLimited):
		if cached := t.cached(); cached != nil {
			return *cached
		}
		return State{Status: StatusRateLimited, Message: "usage endpoint rate limited", FetchedAt: now}

	default:
		log.Warn().Err(err).Msg("Quota fetch failed")
		if cached := t.cached(); cached != nil {
			return *cached
		}
		return State{Status: StatusError, Message: err.Error(), FetchedAt: now}
	}
}

var (
	errSignInRequired = errors.New("sign-in required")
	errRateLimited    = errors.New("rate limited")
)

// loadToken reads the credential file. Missing file, missing token or an
// expired token all mean "unavailable", not an error.
func (t *Tracker) loadToken(now time.Time) (string, bool) {
	data, err := os.ReadFile(t.cfg.CredentialsPath)
	if err != nil {
		return "", false
	}
	var creds credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		log.Warn().Err(err).Msg("Failed to parse credential file")
		return "", false
	}
	if creds.AccessToken == "" {
		return "", false
	}
	if creds.ExpiresAt > 0 && time.UnixMilli(creds.ExpiresAt).Before(now) {
		return "", false
	}
	return creds.AccessToken, true
}

func (t *Tracker) fetch(ctx context.Context, token string) (*usageResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.cfg.UsageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build usage request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("anthropic-beta", betaHeader)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("usage request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, errSignInRequired
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, errRateLimited
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("usage endpoint returned %d", resp.StatusCode)
	}

	var usage usageResponse
	if err := json.NewDecoder(resp.Body).Decode(&usage); err != nil {
		return nil, fmt.Errorf("failed to decode usage response: %w", err)
	}
	return &usage, nil
}

// applyReadings appends the new utilization readings and computes rates and
// projections for each window.
func (t *Tracker) applyReadings(resp *usageResponse, now time.Time) State {
	t.mu.Lock()
	defer t.mu.Unlock()

	state := State{Status: StatusOK, FetchedAt: now}
	if resp.FiveHour != nil {
		state.FiveHour = t.windowLocked(WindowFiveHour, resp.FiveHour, now)
	}
	if resp.SevenDay != nil {
		state.SevenDay = t.windowLocked(WindowSevenDay, resp.SevenDay, now)
	}
	return state
}

func (t *Tracker) windowLocked(kind WindowKind, w *usageWindow, now time.Time) *Window {
	resetsAt, _ := time.Parse(time.RFC3339, w.ResetsAt)

	hist := append(t.history[kind], reading{utilization: w.Utilization, at: now})
	if len(hist) > historyCap {
		hist = hist[len(hist)-historyCap:]
	}
	t.history[kind] = hist

	win := &Window{Kind: kind, Utilization: w.Utilization, ResetsAt: resetsAt}

	oldest, newest := hist[0], hist[len(hist)-1]
	span := newest.at.Sub(oldest.at)
	if span < minRateSpan {
		return win // rate unknown until the history spans ≥30s
	}

	delta := newest.utilization - oldest.utilization
	rate := 0.0 // non-positive delta means the window reset
	if delta > 0 {
		rate = delta / span.Minutes()
	}
	win.RatePerMinute = &rate

	if rate > 0 && resetsAt.After(now) {
		projected := w.Utilization + rate*resetsAt.Sub(now).Minutes()
		if projected > projectionCap {
			projected = projectionCap
		}
		win.ProjectedAtReset = &projected
	}
	return win
}

func (t *Tracker) cached() *State {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.lastGood == nil {
		return nil
	}
	state := *t.lastGood
	state.Cached = true
	return &state
}
