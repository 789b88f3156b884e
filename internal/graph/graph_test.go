// Copyright (C) 2026 Agentpulse
// SPDX-License-Identifier: AGPL-3.0-or-later

package graph

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentpulse/agentpulse/internal/event"
	"github.com/agentpulse/agentpulse/internal/session"
)

func countEdges(g Graph, kind EdgeKind) int {
	n := 0
	for _, e := range g.Edges {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

func findNode(g Graph, kind NodeKind, label string) *Node {
	for i := range g.Nodes {
		if g.Nodes[i].Kind == kind && g.Nodes[i].Label == label {
			return &g.Nodes[i]
		}
	}
	return nil
}

func TestEmptySessionYieldsRootOnly(t *testing.T) {
	g := Build(session.Stats{SessionID: "sess-1"})

	require.Len(t, g.Nodes, 1)
	assert.Equal(t, NodeSession, g.Nodes[0].Kind)
	assert.Equal(t, "sess-1", g.Nodes[0].Label)
	assert.Empty(t, g.Edges)
}

func TestFileNodesDeduplicatedWithLatestFlag(t *testing.T) {
	stats := session.Stats{
		SessionID: "sess-1",
		ToolCalls: []session.ToolCallInfo{
			{ToolName: "Edit", FilePath: "/src/a.go", LinesAdded: 3, LinesRemoved: 1},
			{ToolName: "Edit", FilePath: "/src/a.go", LinesAdded: 2},
			{ToolName: "Read", FilePath: "/src/b.go"},
		},
	}
	g := Build(stats)

	file := findNode(g, NodeFile, "/src/a.go")
	require.NotNil(t, file)
	assert.Equal(t, 2, file.TouchCount)
	assert.Equal(t, 5, file.LinesAdded)
	assert.Equal(t, 1, file.LinesRemoved)

	// Exactly one latest edge per target, on the most recent touch.
	latest := 0
	for _, e := range g.Edges {
		if e.To == file.ID && e.Latest {
			latest++
		}
	}
	assert.Equal(t, 1, latest)

	// One tool node per distinct tool, linked once from root.
	assert.NotNil(t, findNode(g, NodeTool, "Edit"))
	assert.NotNil(t, findNode(g, NodeTool, "Read"))
}

func TestURLNodesForFetchTools(t *testing.T) {
	stats := session.Stats{
		SessionID: "sess-1",
		ToolCalls: []session.ToolCallInfo{
			{ToolName: "WebFetch", FilePath: "https://example.com/doc"},
			{ToolName: "WebSearch", FilePath: "golang generics"},
		},
	}
	g := Build(stats)

	assert.NotNil(t, findNode(g, NodeURL, "https://example.com/doc"))
	assert.NotNil(t, findNode(g, NodeURL, "golang generics"))
	assert.Nil(t, findNode(g, NodeFile, "https://example.com/doc"))
}

func TestPlanEdgeCounts(t *testing.T) {
	const k = 4
	plan := make([]event.PlanStep, k)
	for i := range plan {
		plan[i] = event.PlanStep{
			ID:     []string{"step-0", "step-1", "step-2", "step-3"}[i],
			Text:   []string{"alpha", "beta", "gamma", "delta"}[i],
			Status: event.StepPending,
		}
	}
	g := Build(session.Stats{SessionID: "sess-1", Plan: plan})

	// k−1 sequential edges, one plan-root containment edge per step.
	assert.Equal(t, k-1, countEdges(g, EdgeSequential))

	planRoot := findNode(g, NodePlanRoot, "Plan")
	require.NotNil(t, planRoot)
	fromPlanRoot := 0
	for _, e := range g.Edges {
		if e.From == planRoot.ID && e.Kind == EdgeContains {
			fromPlanRoot++
		}
	}
	assert.Equal(t, k, fromPlanRoot)
}

func TestEmptyPlanRemovesPlanRoot(t *testing.T) {
	g := Build(session.Stats{SessionID: "sess-1", Plan: nil})
	assert.Nil(t, findNode(g, NodePlanRoot, "Plan"))
}

func TestPlanStepPhasePrefix(t *testing.T) {
	g := Build(session.Stats{
		SessionID: "sess-1",
		Plan: []event.PlanStep{
			{ID: "step-0", Text: "init repo", Phase: "Setup", Status: event.StepCompleted},
		},
	})

	step := findNode(g, NodePlanStep, "Setup: init repo")
	require.NotNil(t, step)
	assert.Equal(t, "completed", step.Status)
}

func TestPlanStepTaskCrossLink(t *testing.T) {
	g := Build(session.Stats{
		SessionID: "sess-1",
		Plan: []event.PlanStep{
			{ID: "step-0", Text: "write the parser", Status: event.StepInProgress},
		},
		Tasks: []session.TrackedTask{
			{ID: "step-0", Subject: "write the parser", Status: session.TaskInProgress},
		},
	})

	assert.Equal(t, 1, countEdges(g, EdgeTaskLink))
	assert.NotNil(t, findNode(g, NodeTask, "write the parser"))
}

func TestSubagentSubtreeIsolation(t *testing.T) {
	stats := session.Stats{
		SessionID: "sess-1",
		ToolCalls: []session.ToolCallInfo{
			{ToolName: "Edit", FilePath: "/src/a.go"},
		},
		Subagents: map[string]*session.SubagentScope{
			"task-1": {
				TaskCallID:  "task-1",
				Description: "research agent",
				StartedAt:   time.Now(),
				ToolCalls: []session.ToolCallInfo{
					{ToolName: "Edit", FilePath: "/src/a.go"},
				},
			},
		},
	}
	g := Build(stats)

	require.NotNil(t, findNode(g, NodeSubagent, "research agent"))

	// The same tool and file under a subagent are distinct nodes, never
	// merged with the parent's.
	edits, files := 0, 0
	for _, n := range g.Nodes {
		if n.Kind == NodeTool && n.Label == "Edit" {
			edits++
		}
		if n.Kind == NodeFile && n.Label == "/src/a.go" {
			files++
		}
	}
	assert.Equal(t, 2, edits)
	assert.Equal(t, 2, files)
}

func TestTodoNodesFromTimeline(t *testing.T) {
	stats := session.Stats{
		SessionID: "sess-1",
		Timeline: []session.TimelineEntry{
			{Label: "TODO: wire the config loader"},
			{Label: "TODO wire the config loader"}, // same text, deduplicated
			{Label: "plain entry, no marker"},
		},
	}
	g := Build(stats)

	todos := 0
	for _, n := range g.Nodes {
		if n.Kind == NodeTodo {
			todos++
		}
	}
	assert.Equal(t, 1, todos)
	assert.NotNil(t, findNode(g, NodeTodo, "wire the config loader"))
}

func TestBuildIsStateless(t *testing.T) {
	stats := session.Stats{
		SessionID: "sess-1",
		ToolCalls: []session.ToolCallInfo{{ToolName: "Bash"}},
	}
	first := Build(stats)
	second := Build(stats)

	assert.Equal(t, len(first.Nodes), len(second.Nodes))
	assert.Equal(t, len(first.Edges), len(second.Edges))
}
