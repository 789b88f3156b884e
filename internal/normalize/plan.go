// Copyright (C) 2026 Agentpulse
// SPDX-License-Identifier: AGPL-3.0-or-later

package normalize

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/agentpulse/agentpulse/internal/event"
)

var (
	checkboxRegex = regexp.MustCompile(`^\s*[-*]\s*\[([ xX~])\]\s+(.+)$`)
	numberedRegex = regexp.MustCompile(`^\s*(\d+)[.)]\s+(.+)$`)
	phaseRegex    = regexp.MustCompile(`^\s*#{1,3}\s+(?:Phase\s*\d*[:.]?\s*)?(.+)$`)
)

// ParseMarkdownPlan converts a checkbox or numbered markdown plan into an
// ordered step list. "## <heading>" lines group subsequent steps into a
// phase. Step ids are positional: step-0, step-1, ...
func ParseMarkdownPlan(text string) []event.PlanStep {
	var steps []event.PlanStep
	phase := ""

	for _, line := range strings.Split(text, "\n") {
		if m := phaseRegex.FindStringSubmatch(line); m != nil {
			phase = strings.TrimSpace(m[1])
			continue
		}
		if m := checkboxRegex.FindStringSubmatch(line); m != nil {
			status := event.StepPending
			switch m[1] {
			case "x", "X":
				status = event.StepCompleted
			case "~":
				status = event.StepInProgress
			}
			steps = append(steps, event.PlanStep{
				ID:     fmt.Sprintf("step-%d", len(steps)),
				Text:   strings.TrimSpace(m[2]),
				Phase:  phase,
				Status: status,
			})
			continue
		}
		if m := numberedRegex.FindStringSubmatch(line); m != nil {
			steps = append(steps, event.PlanStep{
				ID:     fmt.Sprintf("step-%d", len(steps)),
				Text:   strings.TrimSpace(m[2]),
				Phase:  phase,
				Status: event.StepPending,
			})
		}
	}
	return steps
}

// todoItem is the structured step shape carried by TodoWrite tool input.
type todoItem struct {
	Content    string `json:"content"`
	Status     string `json:"status"` // pending, in_progress, completed
	ActiveForm string `json:"activeForm"`
}

// stepsFromTodos converts a structured todo array into plan steps,
// preserving order and mapping statuses one-to-one.
func stepsFromTodos(todos []todoItem) []event.PlanStep {
	steps := make([]event.PlanStep, 0, len(todos))
	for i, todo := range todos {
		status := event.StepPending
		switch todo.Status {
		case "completed":
			status = event.StepCompleted
		case "in_progress":
			status = event.StepInProgress
		}
		text := todo.Content
		if text == "" {
			text = todo.ActiveForm
		}
		steps = append(steps, event.PlanStep{
			ID:     fmt.Sprintf("step-%d", i),
			Text:   text,
			Status: status,
		})
	}
	return steps
}
