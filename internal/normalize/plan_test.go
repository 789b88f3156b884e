// Copyright (C) 2026 Agentpulse
// SPDX-License-Identifier: AGPL-3.0-or-later

package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentpulse/agentpulse/internal/event"
)

func TestParseMarkdownPlanCheckboxes(t *testing.T) {
	steps := ParseMarkdownPlan("- [x] A\n- [ ] B\n- [ ] C")

	require.Len(t, steps, 3)
	assert.Equal(t, []string{"step-0", "step-1", "step-2"},
		[]string{steps[0].ID, steps[1].ID, steps[2].ID})
	assert.Equal(t, event.StepCompleted, steps[0].Status)
	assert.Equal(t, event.StepPending, steps[1].Status)
	assert.Equal(t, event.StepPending, steps[2].Status)
	assert.Equal(t, "A", steps[0].Text)
}

func TestParseMarkdownPlanInProgressMarker(t *testing.T) {
	steps := ParseMarkdownPlan("- [~] refactoring the codec")

	require.Len(t, steps, 1)
	assert.Equal(t, event.StepInProgress, steps[0].Status)
}

func TestParseMarkdownPlanNumbered(t *testing.T) {
	steps := ParseMarkdownPlan("1. first thing\n2) second thing")

	require.Len(t, steps, 2)
	assert.Equal(t, "first thing", steps[0].Text)
	assert.Equal(t, "second thing", steps[1].Text)
	assert.Equal(t, event.StepPending, steps[0].Status)
}

func TestParseMarkdownPlanPhaseGrouping(t *testing.T) {
	text := "## Phase 1: Setup\n- [x] init repo\n## Phase 2: Build\n- [ ] write code"
	steps := ParseMarkdownPlan(text)

	require.Len(t, steps, 2)
	assert.Equal(t, "Setup", steps[0].Phase)
	assert.Equal(t, "Build", steps[1].Phase)
}

func TestParseMarkdownPlanIgnoresProse(t *testing.T) {
	steps := ParseMarkdownPlan("Here is the plan.\n\nSome discussion.\n- [ ] only real step")

	require.Len(t, steps, 1)
	assert.Equal(t, "only real step", steps[0].Text)
}

func TestStepsFromTodos(t *testing.T) {
	steps := stepsFromTodos([]todoItem{
		{Content: "write code", Status: "completed"},
		{Content: "run tests", Status: "in_progress", ActiveForm: "Running tests"},
		{Status: "pending", ActiveForm: "Shipping it"},
	})

	require.Len(t, steps, 3)
	assert.Equal(t, event.StepCompleted, steps[0].Status)
	assert.Equal(t, event.StepInProgress, steps[1].Status)
	assert.Equal(t, "run tests", steps[1].Text)
	// ActiveForm fills in when content is empty.
	assert.Equal(t, "Shipping it", steps[2].Text)
}
