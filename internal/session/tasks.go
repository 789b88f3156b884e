// Copyright (C) 2026 Agentpulse
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"time"

	"github.com/samber/lo"

	"github.com/agentpulse/agentpulse/internal/event"
)

// taskState owns the task-dependency board for one session.
type taskState struct {
	tasks        map[string]*TrackedTask
	order        []string // creation order, for stable snapshots
	plan         []event.PlanStep
	activeTaskID string
}

func newTaskState() *taskState {
	return &taskState{tasks: make(map[string]*TrackedTask)}
}

// applyPlan replaces the plan step list and merges it into the task board.
// positional selects id-based matching (providers that number steps as
// tasks); otherwise steps are matched to existing tasks by fuzzy text
// similarity. Tasks absent from the new plan are marked deleted but
// retained for audit.
func (ts *taskState) applyPlan(steps []event.PlanStep, positional bool, at time.Time) {
	ts.plan = steps

	seen := make(map[string]struct{}, len(steps))
	for _, step := range steps {
		task := ts.match(step, positional)
		if task == nil {
			task = &TrackedTask{
				ID:        step.ID,
				Subject:   step.Text,
				CreatedAt: at,
				BlockedBy: make(map[string]struct{}),
				Blocks:    make(map[string]struct{}),
			}
			ts.tasks[task.ID] = task
			ts.order = append(ts.order, task.ID)
		}
		seen[task.ID] = struct{}{}

		prev := task.Status
		task.Subject = step.Text
		task.UpdatedAt = at
		switch step.Status {
		case event.StepCompleted:
			task.Status = TaskCompleted
		case event.StepInProgress:
			task.Status = TaskInProgress
		default:
			task.Status = TaskPending
		}
		if task.Status == TaskInProgress && prev != TaskInProgress {
			// At most one task is active: demote the previous one.
			if ts.activeTaskID != "" && ts.activeTaskID != task.ID {
				if old, ok := ts.tasks[ts.activeTaskID]; ok && old.Status == TaskInProgress {
					old.Status = TaskPending
					old.UpdatedAt = at
				}
			}
			ts.activeTaskID = task.ID
		}
	}

	if ts.activeTaskID != "" {
		if active, ok := ts.tasks[ts.activeTaskID]; !ok || active.Status != TaskInProgress {
			ts.activeTaskID = ""
		}
	}

	// Sequential plans imply a dependency chain: step i blocks step i+1.
	if positional {
		ts.linkSequential(steps)
	}

	for id, task := range ts.tasks {
		if _, ok := seen[id]; !ok && task.Status != TaskDeleted {
			task.Status = TaskDeleted
			task.UpdatedAt = at
			if ts.activeTaskID == id {
				ts.activeTaskID = ""
			}
		}
	}
}

func (ts *taskState) match(step event.PlanStep, positional bool) *TrackedTask {
	if positional {
		return ts.tasks[step.ID]
	}
	// Prefer an exact id hit even in fuzzy mode; TodoWrite reuses ids
	// across consecutive updates.
	if task, ok := ts.tasks[step.ID]; ok && Similarity(task.Subject, step.Text) >= SimilarityThreshold {
		return task
	}
	var best *TrackedTask
	bestScore := 0.0
	for _, id := range ts.order {
		task := ts.tasks[id]
		if task.Status == TaskDeleted {
			continue
		}
		if score := Similarity(task.Subject, step.Text); score >= SimilarityThreshold && score > bestScore {
			best, bestScore = task, score
		}
	}
	return best
}

func (ts *taskState) linkSequential(steps []event.PlanStep) {
	for i := 1; i < len(steps); i++ {
		cur, okCur := ts.tasks[steps[i].ID]
		prev, okPrev := ts.tasks[steps[i-1].ID]
		if !okCur || !okPrev {
			continue
		}
		cur.BlockedBy[prev.ID] = struct{}{}
		prev.Blocks[cur.ID] = struct{}{}
	}
}

// attachToolCall associates a tool invocation with the active task.
func (ts *taskState) attachToolCall(callID string) {
	if ts.activeTaskID == "" {
		return
	}
	if task, ok := ts.tasks[ts.activeTaskID]; ok {
		task.ToolCallIDs = append(task.ToolCallIDs, callID)
	}
}

// snapshot returns non-deleted tasks in creation order, with copied sets.
func (ts *taskState) snapshot() []TrackedTask {
	visible := lo.Filter(ts.order, func(id string, _ int) bool {
		task, ok := ts.tasks[id]
		return ok && task.Status != TaskDeleted
	})
	out := make([]TrackedTask, 0, len(visible))
	for _, id := range visible {
		task := *ts.tasks[id]
		task.BlockedBy = copySet(ts.tasks[id].BlockedBy)
		task.Blocks = copySet(ts.tasks[id].Blocks)
		task.ToolCallIDs = append([]string(nil), ts.tasks[id].ToolCallIDs...)
		out = append(out, task)
	}
	return out
}

func (ts *taskState) reset() {
	ts.tasks = make(map[string]*TrackedTask)
	ts.order = nil
	ts.plan = nil
	ts.activeTaskID = ""
}

func copySet(in map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{}, len(in))
	for k := range in {
		out[k] = struct{}{}
	}
	return out
}
