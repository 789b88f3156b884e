// Copyright (C) 2026 Agentpulse
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session folds the canonical event stream into live session
// statistics: token totals, tool analytics, a bounded timeline, latency
// cycles, a task board and the burn-rate input series.
//
// The aggregator is owned by a single producer (the engine's event-apply
// loop); it needs no internal locking, only clear ownership.
package session

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/agentpulse/agentpulse/internal/burnrate"
	"github.com/agentpulse/agentpulse/internal/config"
	"github.com/agentpulse/agentpulse/internal/event"
	"github.com/agentpulse/agentpulse/internal/logger"
)

var log = logger.GetLogger("session")

// State is the aggregator lifecycle state.
type State int

const (
	StateIdle State = iota
	StateActive
	StateSwitching
)

// positionalPlanProviders represent plans as numbered/step-id rows, so plan
// steps map to tasks by index. Everything else is matched by fuzzy text.
var positionalPlanProviders = map[string]bool{"store": true}

// pendingCall is one unmatched tool invocation.
type pendingCall struct {
	info     ToolCallInfo
	scopeKey string // "" = primary session, else the spawning Task call id
}

// openCycle tracks an in-flight user→assistant round trip.
type openCycle struct {
	promptAt time.Time
	firstAt  time.Time
	lastAt   time.Time
}

// Summary is the end-of-session record flushed to the historical rollups.
type Summary struct {
	ProviderID       string                `json:"provider_id"`
	SessionID        string                `json:"session_id"`
	SessionPath      string                `json:"session_path"`
	StartedAt        time.Time             `json:"started_at"`
	EndedAt          time.Time             `json:"ended_at"`
	InputTokens      int                   `json:"input_tokens"`
	OutputTokens     int                   `json:"output_tokens"`
	CacheWriteTokens int                   `json:"cache_write_tokens"`
	CacheReadTokens  int                   `json:"cache_read_tokens"`
	CostUSD          float64               `json:"cost_usd"`
	MessageCount     int                   `json:"message_count"`
	ModelUsage       map[string]ModelUsage `json:"model_usage"`
	ToolCounts       map[string]int        `json:"tool_counts"`
}

// Aggregator owns all live session state. Mutated only by event
// application; external callers see copies via Stats().
type Aggregator struct {
	cfg     config.SessionConfig
	pricing config.PricingConfig
	notif   *Notifications

	state       State
	providerID  string
	sessionPath string
	sessionID   string
	startedAt   time.Time
	positional  bool

	totalInput      int
	totalOutput     int
	totalCacheWrite int
	totalCacheRead  int
	totalCost       float64
	messageCount    int
	contextTokens   int

	models     map[string]*ModelUsage
	tools      map[string]*ToolStats
	errorIndex map[string][]string
	timeline   *timeline
	estimator  *burnrate.Estimator

	pendingCalls map[string]*pendingCall
	pendingOrder []string

	promptQueue []time.Time
	cycle       *openCycle
	cycles      []LatencyCycle
	latency     LatencyStats

	tasks          *taskState
	toolCalls      []ToolCallInfo
	subagents      map[string]*SubagentScope
	callScope      map[string]string // call id → subagent key
	lastTaskCallID string
}

// New creates an idle aggregator.
func New(cfg config.SessionConfig, pricing config.PricingConfig, notif *Notifications) *Aggregator {
	if notif == nil {
		notif = NewNotifications()
	}
	a := &Aggregator{
		cfg:     cfg,
		pricing: pricing,
		notif:   notif,
	}
	a.resetState()
	return a
}

// Notifications returns the aggregator's fan-out surface.
func (a *Aggregator) Notifications() *Notifications {
	return a.notif
}

// State returns the current lifecycle state.
func (a *Aggregator) State() State {
	return a.state
}

// IsActive reports whether a session is being aggregated.
func (a *Aggregator) IsActive() bool {
	return a.state == StateActive
}

// SessionPath returns the active session source path, or "".
func (a *Aggregator) SessionPath() string {
	return a.sessionPath
}

// BurnRate returns the session's burn-rate estimator.
func (a *Aggregator) BurnRate() *burnrate.Estimator {
	return a.estimator
}

// Start begins aggregating a new session, resetting all counters and
// correlation state.
func (a *Aggregator) Start(providerID, sessionPath string) {
	a.resetState()
	a.state = StateActive
	a.providerID = providerID
	a.sessionPath = sessionPath
	a.positional = positionalPlanProviders[providerID]
	a.startedAt = time.Now()
	log.Info().Str("provider", providerID).Str("path", sessionPath).Msg("Session started")
	a.notif.SessionStart.Publish(sessionPath)
}

// End stops aggregation and returns the session summary for the rollups.
func (a *Aggregator) End() Summary {
	summary := a.end(false)
	return summary
}

// Switch ends the current session and starts another, suppressing the
// duplicate session-end notification.
func (a *Aggregator) Switch(providerID, sessionPath string) Summary {
	a.state = StateSwitching
	summary := a.end(true)
	a.Start(providerID, sessionPath)
	return summary
}

func (a *Aggregator) end(suppressNotify bool) Summary {
	a.finalizeCycle()
	summary := a.buildSummary()

	a.resetState()
	a.state = StateIdle
	if !suppressNotify {
		a.notif.SessionEnd.Publish(struct{}{})
	}
	log.Info().Str("session", summary.SessionID).Int("messages", summary.MessageCount).Msg("Session ended")
	return summary
}

func (a *Aggregator) resetState() {
	a.providerID = ""
	a.sessionPath = ""
	a.sessionID = ""
	a.totalInput = 0
	a.totalOutput = 0
	a.totalCacheWrite = 0
	a.totalCacheRead = 0
	a.totalCost = 0
	a.messageCount = 0
	a.contextTokens = 0
	a.models = make(map[string]*ModelUsage)
	a.tools = make(map[string]*ToolStats)
	a.errorIndex = make(map[string][]string)
	a.timeline = newTimeline(a.cfg.TimelineCapacity)
	a.estimator = burnrate.New(a.cfg.BurnRateWindow)
	a.pendingCalls = make(map[string]*pendingCall)
	a.pendingOrder = nil
	a.promptQueue = nil
	a.cycle = nil
	a.cycles = nil
	a.latency = LatencyStats{}
	if a.tasks == nil {
		a.tasks = newTaskState()
	} else {
		a.tasks.reset()
	}
	a.toolCalls = nil
	a.subagents = make(map[string]*SubagentScope)
	a.callScope = make(map[string]string)
	a.lastTaskCallID = ""
}

// ApplyEvent folds one canonical event into the session state. It never
// panics across this boundary; events that cannot be applied are logged
// and skipped.
func (a *Aggregator) ApplyEvent(ev event.Event) {
	if a.state != StateActive {
		log.Debug().Str("kind", string(ev.Kind)).Msg("Ignoring event outside active session")
		return
	}
	if a.sessionID == "" && ev.SessionID != "" {
		a.sessionID = ev.SessionID
	}

	switch ev.Kind {
	case event.KindUser:
		a.applyUser(ev)
	case event.KindAssistant:
		a.applyAssistant(ev)
	case event.KindToolCall:
		a.applyToolCall(ev)
	case event.KindToolResult:
		a.applyToolResult(ev)
	case event.KindPlanUpdate:
		a.applyPlanUpdate(ev)
	case event.KindSummary:
		a.pushTimeline(TimelineEntry{
			Timestamp: ev.Timestamp,
			Kind:      ev.Kind,
			Label:     "context compacted",
		})
	default:
		log.Warn().Str("kind", string(ev.Kind)).Msg("Skipping event of unknown kind")
	}
}

func (a *Aggregator) applyUser(ev event.Event) {
	a.messageCount++
	if !ev.SideChannel {
		a.finalizeCycle()
		a.promptQueue = append(a.promptQueue, ev.Timestamp)
		if len(a.promptQueue) > 100 {
			a.promptQueue = a.promptQueue[1:]
		}
	}
	a.pushTimeline(TimelineEntry{
		Timestamp:   ev.Timestamp,
		Kind:        ev.Kind,
		Label:       firstLine(ev.Text, 100),
		SideChannel: ev.SideChannel,
	})
}

func (a *Aggregator) applyAssistant(ev event.Event) {
	a.messageCount++

	if !ev.SideChannel {
		if a.cycle == nil && len(a.promptQueue) > 0 {
			promptAt := a.promptQueue[0]
			a.promptQueue = a.promptQueue[1:]
			a.cycle = &openCycle{promptAt: promptAt, firstAt: ev.Timestamp, lastAt: ev.Timestamp}
		} else if a.cycle != nil {
			a.cycle.lastAt = ev.Timestamp
		}
	}

	if ev.HasUsage() {
		u := *ev.Usage
		a.totalInput += u.InputTokens
		a.totalOutput += u.OutputTokens
		a.totalCacheWrite += u.CacheWriteTokens
		a.totalCacheRead += u.CacheReadTokens

		model := ev.Model
		if model == "" {
			model = "unknown"
		}
		mu, ok := a.models[model]
		if !ok {
			mu = &ModelUsage{}
			a.models[model] = mu
		}
		mu.InputTokens += u.InputTokens
		mu.OutputTokens += u.OutputTokens
		mu.CacheWriteTokens += u.CacheWriteTokens
		mu.CacheReadTokens += u.CacheReadTokens
		mu.Calls++

		cost := a.pricing.CostUSD(model, u.InputTokens, u.OutputTokens, u.CacheWriteTokens, u.CacheReadTokens)
		mu.CostUSD += cost
		a.totalCost += cost

		// Context occupancy is this turn's view, not cumulative.
		if !ev.SideChannel {
			a.contextTokens = u.InputTokens + u.CacheWriteTokens + u.CacheReadTokens
		}

		a.estimator.AddSample(u.InputTokens+u.OutputTokens, ev.Timestamp)
		a.notif.TokenUsage.Publish(TokenUsage{
			Model:     model,
			Usage:     u,
			CostUSD:   cost,
			Timestamp: ev.Timestamp,
		})
	}

	if ev.Text != "" {
		a.pushTimeline(TimelineEntry{
			Timestamp:   ev.Timestamp,
			Kind:        ev.Kind,
			Label:       firstLine(ev.Text, 100),
			SideChannel: ev.SideChannel,
		})
	}
}

func (a *Aggregator) applyToolCall(ev event.Event) {
	id := ev.ToolCallID
	if id == "" {
		id = uuid.NewString()
	}
	info := ToolCallInfo{
		ID:          id,
		ToolName:    ev.ToolName,
		Input:       ev.ToolInput,
		FilePath:    ev.FilePath,
		StartedAt:   ev.Timestamp,
		SideChannel: ev.SideChannel,
	}

	scopeKey := ""
	if ev.SideChannel {
		scopeKey = ev.ParentID
		if scopeKey == "" {
			scopeKey = a.lastTaskCallID
		}
	}
	if scopeKey != "" {
		if _, ok := a.subagents[scopeKey]; !ok {
			a.subagents[scopeKey] = &SubagentScope{TaskCallID: scopeKey, StartedAt: ev.Timestamp}
		}
	}
	if ev.ToolName == "Task" && !ev.SideChannel {
		a.subagents[id] = &SubagentScope{
			TaskCallID:  id,
			Description: ev.ToolInput,
			StartedAt:   ev.Timestamp,
		}
		a.lastTaskCallID = id
	}

	a.registerPending(id, &pendingCall{info: info, scopeKey: scopeKey})
	a.toolStats(ev.ToolName).PendingCount++
	a.tasks.attachToolCall(id)

	a.pushTimeline(TimelineEntry{
		Timestamp:   ev.Timestamp,
		Kind:        ev.Kind,
		Label:       ev.ToolName + " " + firstLine(ev.ToolInput, 80),
		ToolName:    ev.ToolName,
		FilePath:    ev.FilePath,
		SideChannel: ev.SideChannel,
	})
	a.notif.ToolCall.Publish(info)
}

// registerPending inserts a correlation entry, evicting the oldest one when
// the map is at capacity. Unmatched entries are a normal terminal state;
// the cap keeps a long-running session from leaking them.
func (a *Aggregator) registerPending(id string, call *pendingCall) {
	limit := a.cfg.PendingCallLimit
	if limit <= 0 {
		limit = 1000
	}
	for len(a.pendingCalls) >= limit && len(a.pendingOrder) > 0 {
		oldest := a.pendingOrder[0]
		a.pendingOrder = a.pendingOrder[1:]
		if evicted, ok := a.pendingCalls[oldest]; ok {
			delete(a.pendingCalls, oldest)
			ts := a.toolStats(evicted.info.ToolName)
			if ts.PendingCount > 0 {
				ts.PendingCount--
			}
			log.Warn().Str("tool", evicted.info.ToolName).Str("id", oldest).
				Msg("Evicting unmatched tool call from correlation map")
		}
	}
	a.pendingCalls[id] = call
	a.pendingOrder = append(a.pendingOrder, id)
}

func (a *Aggregator) applyToolResult(ev event.Event) {
	call, ok := a.pendingCalls[ev.ToolCallID]
	if !ok {
		// Correlation gap: still best-effort display data, never an error.
		a.pushTimeline(TimelineEntry{
			Timestamp:   ev.Timestamp,
			Kind:        ev.Kind,
			Label:       firstLine(ev.Output, 80),
			ToolName:    ev.ToolName,
			IsError:     ev.IsError,
			SideChannel: ev.SideChannel,
		})
		if ev.IsError {
			a.recordError(ev.ToolName, ev.Output)
		}
		return
	}

	delete(a.pendingCalls, ev.ToolCallID)
	a.pendingOrder = lo.Without(a.pendingOrder, ev.ToolCallID)

	name := call.info.ToolName
	if name == "" {
		name = ev.ToolName
	}
	duration := ev.Timestamp.Sub(call.info.StartedAt)
	if duration < 0 {
		duration = 0
	}

	ts := a.toolStats(name)
	if ts.PendingCount > 0 {
		ts.PendingCount--
	}
	if ev.IsError {
		ts.FailureCount++
		a.recordError(name, ev.Output)
	} else {
		ts.SuccessCount++
	}
	ts.TotalDuration += duration

	info := call.info
	info.Completed = true
	info.IsError = ev.IsError
	info.Duration = duration
	if info.FilePath == "" {
		info.FilePath = ev.FilePath
	}
	info.LinesAdded = ev.LinesAdded
	info.LinesRemoved = ev.LinesRemoved

	if call.scopeKey != "" {
		if scope, ok := a.subagents[call.scopeKey]; ok {
			scope.ToolCalls = append(scope.ToolCalls, info)
		}
	} else {
		a.toolCalls = append(a.toolCalls, info)
	}

	a.pushTimeline(TimelineEntry{
		Timestamp:   ev.Timestamp,
		Kind:        ev.Kind,
		Label:       name + " " + firstLine(ev.Output, 80),
		ToolName:    name,
		FilePath:    info.FilePath,
		IsError:     ev.IsError,
		SideChannel: ev.SideChannel,
	})
	a.notif.ToolAnalytics.Publish(a.toolSnapshot())
}

func (a *Aggregator) applyPlanUpdate(ev event.Event) {
	a.tasks.applyPlan(ev.Steps, a.positional, ev.Timestamp)
	a.pushTimeline(TimelineEntry{
		Timestamp:   ev.Timestamp,
		Kind:        ev.Kind,
		Label:       planLabel(ev.Steps),
		SideChannel: ev.SideChannel,
	})
}

func (a *Aggregator) finalizeCycle() {
	if a.cycle == nil {
		return
	}
	cycle := LatencyCycle{
		RequestTimestamp:    a.cycle.promptAt,
		FirstTokenLatencyMs: a.cycle.firstAt.Sub(a.cycle.promptAt).Milliseconds(),
		TotalResponseTimeMs: a.cycle.lastAt.Sub(a.cycle.promptAt).Milliseconds(),
	}
	a.cycle = nil
	if cycle.FirstTokenLatencyMs < 0 {
		return // clock skew between prompt and response records
	}

	limit := a.cfg.LatencyHistory
	if limit <= 0 {
		limit = 100
	}
	a.cycles = append(a.cycles, cycle)
	if len(a.cycles) > limit {
		a.cycles = a.cycles[len(a.cycles)-limit:]
	}

	a.recomputeLatency()
	a.notif.LatencyUpdate.Publish(a.latency)
}

func (a *Aggregator) recomputeLatency() {
	stats := LatencyStats{Count: len(a.cycles)}
	if stats.Count == 0 {
		a.latency = stats
		return
	}
	var sumFirst, sumTotal int64
	for _, c := range a.cycles {
		sumFirst += c.FirstTokenLatencyMs
		sumTotal += c.TotalResponseTimeMs
		if c.FirstTokenLatencyMs > stats.MaxFirstTokenMs {
			stats.MaxFirstTokenMs = c.FirstTokenLatencyMs
		}
	}
	stats.AvgFirstTokenMs = float64(sumFirst) / float64(stats.Count)
	stats.AvgTotalResponseMs = float64(sumTotal) / float64(stats.Count)
	a.latency = stats
}

func (a *Aggregator) recordError(toolName, message string) {
	key := toolName
	if key == "" {
		key = "unknown"
	}
	msgs := a.errorIndex[key]
	msgs = append(msgs, firstLine(message, 200))
	if len(msgs) > 50 {
		msgs = msgs[len(msgs)-50:]
	}
	a.errorIndex[key] = msgs
}

func (a *Aggregator) toolStats(name string) *ToolStats {
	if name == "" {
		name = "unknown"
	}
	ts, ok := a.tools[name]
	if !ok {
		ts = &ToolStats{ToolName: name}
		a.tools[name] = ts
	}
	return ts
}

func (a *Aggregator) pushTimeline(e TimelineEntry) {
	a.timeline.push(e)
	a.notif.TimelineEvent.Publish(e)
}

func (a *Aggregator) toolSnapshot() map[string]ToolStats {
	return lo.MapValues(a.tools, func(ts *ToolStats, _ string) ToolStats {
		return *ts
	})
}

func (a *Aggregator) buildSummary() Summary {
	return Summary{
		ProviderID:       a.providerID,
		SessionID:        a.sessionID,
		SessionPath:      a.sessionPath,
		StartedAt:        a.startedAt,
		EndedAt:          time.Now(),
		InputTokens:      a.totalInput,
		OutputTokens:     a.totalOutput,
		CacheWriteTokens: a.totalCacheWrite,
		CacheReadTokens:  a.totalCacheRead,
		CostUSD:          a.totalCost,
		MessageCount:     a.messageCount,
		ModelUsage: lo.MapValues(a.models, func(mu *ModelUsage, _ string) ModelUsage {
			return *mu
		}),
		ToolCounts: lo.MapValues(a.tools, func(ts *ToolStats, _ string) int {
			return ts.CompletedCount()
		}),
	}
}

// Stats returns a read-only snapshot of the current session state.
func (a *Aggregator) Stats() Stats {
	return Stats{
		ProviderID:  a.providerID,
		SessionPath: a.sessionPath,
		SessionID:   a.sessionID,
		StartedAt:   a.startedAt,
		Active:      a.state == StateActive,

		TotalInputTokens:      a.totalInput,
		TotalOutputTokens:     a.totalOutput,
		TotalCacheWriteTokens: a.totalCacheWrite,
		TotalCacheReadTokens:  a.totalCacheRead,
		TotalCostUSD:          a.totalCost,
		MessageCount:          a.messageCount,

		ContextTokens:      a.contextTokens,
		ContextWindowLimit: a.cfg.ContextWindowLimit,

		ModelUsage: lo.MapValues(a.models, func(mu *ModelUsage, _ string) ModelUsage {
			return *mu
		}),
		Tools:      a.toolSnapshot(),
		ErrorIndex: copyErrorIndex(a.errorIndex),

		Timeline: a.timeline.snapshot(),
		Latency:  a.latency,

		BurnRatePerMinute: a.estimator.Rate(),

		Tasks:        a.tasks.snapshot(),
		ActiveTaskID: a.tasks.activeTaskID,
		Plan:         append([]event.PlanStep(nil), a.tasks.plan...),

		ToolCalls: append([]ToolCallInfo(nil), a.toolCalls...),
		Subagents: copySubagents(a.subagents),
	}
}

func copyErrorIndex(in map[string][]string) map[string][]string {
	out := make(map[string][]string, len(in))
	for k, v := range in {
		out[k] = append([]string(nil), v...)
	}
	return out
}

func copySubagents(in map[string]*SubagentScope) map[string]*SubagentScope {
	out := make(map[string]*SubagentScope, len(in))
	for k, v := range in {
		scope := *v
		scope.ToolCalls = append([]ToolCallInfo(nil), v.ToolCalls...)
		out[k] = &scope
	}
	return out
}

func planLabel(steps []event.PlanStep) string {
	completed := lo.CountBy(steps, func(s event.PlanStep) bool {
		return s.Status == event.StepCompleted
	})
	return fmt.Sprintf("plan updated (%d/%d steps done)", completed, len(steps))
}

// firstLine truncates text to its first line, capped at maxLen runes.
func firstLine(s string, maxLen int) string {
	for i, r := range s {
		if r == '\n' {
			s = s[:i]
			break
		}
	}
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen-3]) + "..."
}
