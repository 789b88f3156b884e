// Copyright (C) 2026 Agentpulse
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package graph turns a session stats snapshot into a typed node/edge
// graph. The build is a pure transform: no state survives across calls.
package graph

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/agentpulse/agentpulse/internal/event"
	"github.com/agentpulse/agentpulse/internal/session"
)

// NodeKind discriminates graph nodes.
type NodeKind string

const (
	NodeSession  NodeKind = "session"
	NodeTool     NodeKind = "tool"
	NodeFile     NodeKind = "file"
	NodeURL      NodeKind = "url"
	NodeTodo     NodeKind = "todo"
	NodePlanRoot NodeKind = "plan_root"
	NodePlanStep NodeKind = "plan_step"
	NodeTask     NodeKind = "task"
	NodeSubagent NodeKind = "subagent"
)

// EdgeKind discriminates graph edges.
type EdgeKind string

const (
	EdgeContains   EdgeKind = "contains"   // structural parent→child
	EdgeTouched    EdgeKind = "touched"    // tool→file/url
	EdgeSequential EdgeKind = "sequential" // plan step i→i+1
	EdgeTaskLink   EdgeKind = "task_link"  // plan step→task
)

// Node is one graph vertex.
type Node struct {
	ID           string   `json:"id"`
	Kind         NodeKind `json:"kind"`
	Label        string   `json:"label"`
	TouchCount   int      `json:"touch_count,omitempty"`
	LinesAdded   int      `json:"lines_added,omitempty"`
	LinesRemoved int      `json:"lines_removed,omitempty"`
	Status       string   `json:"status,omitempty"` // plan steps and tasks
}

// Edge is one directed graph edge.
type Edge struct {
	From   string   `json:"from"`
	To     string   `json:"to"`
	Kind   EdgeKind `json:"kind"`
	Latest bool     `json:"latest,omitempty"` // most recent touch of the target
}

// Graph is the full build output.
type Graph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

var todoRegex = regexp.MustCompile(`TODO:?\s+(.+)`)

// urlToolNames maps fetch/search tools whose "file path" is a URL or query.
var urlToolNames = map[string]bool{
	"WebFetch":  true,
	"WebSearch": true,
}

// builder accumulates nodes and edges for one Build call.
type builder struct {
	g    Graph
	seen map[string]int // node id → index in g.Nodes
}

// Build transforms a stats snapshot into a graph. Always emits the root
// session node; everything else depends on what the session contains.
func Build(stats session.Stats) Graph {
	b := &builder{seen: make(map[string]int)}

	label := stats.SessionID
	if label == "" {
		label = stats.SessionPath
	}
	root := b.addNode(Node{ID: "session", Kind: NodeSession, Label: label})

	b.buildToolTree(root, stats.ToolCalls)
	b.buildTodos(root, stats.Timeline)
	b.buildPlan(root, stats.Plan, stats.Tasks)
	b.buildSubagents(root, stats.Subagents)

	return b.g
}

func (b *builder) addNode(n Node) string {
	if idx, ok := b.seen[n.ID]; ok {
		return b.g.Nodes[idx].ID
	}
	b.seen[n.ID] = len(b.g.Nodes)
	b.g.Nodes = append(b.g.Nodes, n)
	return n.ID
}

func (b *builder) node(id string) *Node {
	idx, ok := b.seen[id]
	if !ok {
		return nil
	}
	return &b.g.Nodes[idx]
}

func (b *builder) addEdge(e Edge) {
	b.g.Edges = append(b.g.Edges, e)
}

// buildToolTree emits one tool node per distinct tool under parent, and one
// file/url node per distinct target under its tool, accumulating touch
// counts and line deltas. The newest touch of each target carries the
// latest flag on its edge.
func (b *builder) buildToolTree(parentID string, calls []session.ToolCallInfo) {
	latestEdge := make(map[string]int) // target node id → edge index
	linked := make(map[string]bool)    // tool node id → root edge emitted

	for _, call := range calls {
		if call.ToolName == "" {
			continue
		}
		toolID := parentID + "/tool/" + call.ToolName
		b.addNode(Node{ID: toolID, Kind: NodeTool, Label: call.ToolName})
		if n := b.node(toolID); n != nil {
			n.TouchCount++
		}
		if !linked[toolID] {
			linked[toolID] = true
			b.addEdge(Edge{From: parentID, To: toolID, Kind: EdgeContains})
		}

		if call.FilePath == "" {
			continue
		}
		kind := NodeFile
		if urlToolNames[call.ToolName] {
			kind = NodeURL
		}
		targetID := parentID + "/" + string(kind) + "/" + call.FilePath
		b.addNode(Node{ID: targetID, Kind: kind, Label: call.FilePath})
		if n := b.node(targetID); n != nil {
			n.TouchCount++
			n.LinesAdded += call.LinesAdded
			n.LinesRemoved += call.LinesRemoved
		}

		if prev, ok := latestEdge[targetID]; ok {
			b.g.Edges[prev].Latest = false
		}
		b.addEdge(Edge{From: toolID, To: targetID, Kind: EdgeTouched, Latest: true})
		latestEdge[targetID] = len(b.g.Edges) - 1
	}
}

// buildTodos extracts TODO markers from timeline text as deduplicated leaf
// nodes off the root.
func (b *builder) buildTodos(rootID string, timeline []session.TimelineEntry) {
	seen := make(map[string]bool)
	for _, entry := range timeline {
		m := todoRegex.FindStringSubmatch(entry.Label)
		if m == nil {
			continue
		}
		text := strings.TrimSpace(m[1])
		if text == "" || seen[text] {
			continue
		}
		seen[text] = true
		id := "todo/" + text
		b.addNode(Node{ID: id, Kind: NodeTodo, Label: text})
		b.addEdge(Edge{From: rootID, To: id, Kind: EdgeContains})
	}
}

// buildPlan emits the plan-root, one node per step chained sequentially,
// and cross-links each step to its matching task. An empty plan emits
// nothing, including no plan-root.
func (b *builder) buildPlan(rootID string, plan []event.PlanStep, tasks []session.TrackedTask) {
	if len(plan) == 0 {
		return
	}

	planRoot := b.addNode(Node{ID: "plan", Kind: NodePlanRoot, Label: "Plan"})
	b.addEdge(Edge{From: rootID, To: planRoot, Kind: EdgeContains})

	taskByID := make(map[string]session.TrackedTask, len(tasks))
	for _, t := range tasks {
		taskByID[t.ID] = t
	}

	var prevID string
	for i, step := range plan {
		label := step.Text
		if step.Phase != "" {
			label = step.Phase + ": " + label
		}
		stepID := fmt.Sprintf("plan/%s", step.ID)
		b.addNode(Node{ID: stepID, Kind: NodePlanStep, Label: label, Status: string(step.Status)})
		b.addEdge(Edge{From: planRoot, To: stepID, Kind: EdgeContains})
		if i > 0 {
			b.addEdge(Edge{From: prevID, To: stepID, Kind: EdgeSequential})
		}
		prevID = stepID

		b.linkStepToTask(stepID, step, taskByID, tasks)
	}
}

// linkStepToTask cross-links a plan step to a task node, matching by id
// when the provider numbers steps as tasks and by fuzzy text otherwise.
func (b *builder) linkStepToTask(stepID string, step event.PlanStep, byID map[string]session.TrackedTask, tasks []session.TrackedTask) {
	var matched *session.TrackedTask
	if t, ok := byID[step.ID]; ok {
		matched = &t
	} else {
		best := session.SimilarityThreshold
		for i := range tasks {
			score := session.Similarity(step.Text, tasks[i].Subject)
			if score >= best {
				best = score
				matched = &tasks[i]
			}
		}
	}
	if matched == nil {
		return
	}

	taskID := "task/" + matched.ID
	b.addNode(Node{ID: taskID, Kind: NodeTask, Label: matched.Subject, Status: string(matched.Status)})
	b.addEdge(Edge{From: stepID, To: taskID, Kind: EdgeTaskLink})
}

// buildSubagents gives each subagent a node off the root with its own
// isolated tool/file subtree, never merged into the parent's nodes.
func (b *builder) buildSubagents(rootID string, scopes map[string]*session.SubagentScope) {
	keys := make([]string, 0, len(scopes))
	for k := range scopes {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		scope := scopes[k]
		label := scope.Description
		if label == "" {
			label = "subagent " + scope.TaskCallID
		}
		subID := "subagent/" + scope.TaskCallID
		b.addNode(Node{ID: subID, Kind: NodeSubagent, Label: label})
		b.addEdge(Edge{From: rootID, To: subID, Kind: EdgeContains})
		b.buildToolTree(subID, scope.ToolCalls)
	}
}
