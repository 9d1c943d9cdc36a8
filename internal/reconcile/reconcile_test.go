package reconcile

import (
	"testing"

	"github.com/cloudrt/cloudrt/internal/rterrors"
)

func TestDiffClassifiesCreatesUpdatesDeletes(t *testing.T) {
	previous := []Node{
		{ID: "a", Path: "A#0", ConstructType: "Bucket", Props: map[string]any{"name": "a"}},
		{ID: "b", Path: "B#0", ConstructType: "Bucket", Props: map[string]any{"name": "b"}},
	}
	current := []Node{
		{ID: "a", Path: "A#0", ConstructType: "Bucket", Props: map[string]any{"name": "a-renamed"}},
		{ID: "c", Path: "C#0", ConstructType: "Bucket", Props: map[string]any{"name": "c"}},
	}

	cs, err := Diff(previous, current)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := cs.Creates; len(got) != 1 || got[0] != "c" {
		t.Fatalf("expected creates=[c], got %v", got)
	}
	if got := cs.Deletes; len(got) != 1 || got[0] != "b" {
		t.Fatalf("expected deletes=[b], got %v", got)
	}
	if got := cs.Updates; len(got) != 1 || got[0] != "a" {
		t.Fatalf("expected updates=[a], got %v", got)
	}
}

func TestDiffIdenticalPropsIsNotAnUpdate(t *testing.T) {
	nodes := []Node{{ID: "a", Path: "A#0", ConstructType: "Bucket", Props: map[string]any{"name": "a", "count": 1}}}
	cs, err := Diff(nodes, nodes)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cs.Updates) != 0 {
		t.Fatalf("expected no updates for identical props, got %v", cs.Updates)
	}
}

func TestDiffConstructTypeChangeIsAReplacement(t *testing.T) {
	previous := []Node{{ID: "a", Path: "A#0", ConstructType: "Bucket", Props: map[string]any{}}}
	current := []Node{{ID: "a", Path: "A#0", ConstructType: "Queue", Props: map[string]any{}}}
	cs, err := Diff(previous, current)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cs.Replacements) != 1 || cs.Replacements[0] != "a" {
		t.Fatalf("expected replacements=[a], got %v", cs.Replacements)
	}
}

func TestDiffImmutablePropChangeIsAReplacement(t *testing.T) {
	previous := []Node{{ID: "a", Path: "A#0", ConstructType: "Bucket", Props: map[string]any{"region": "us-east-1"}, Immutable: map[string]bool{"region": true}}}
	current := []Node{{ID: "a", Path: "A#0", ConstructType: "Bucket", Props: map[string]any{"region": "us-west-2"}, Immutable: map[string]bool{"region": true}}}
	cs, err := Diff(previous, current)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cs.Replacements) != 1 {
		t.Fatalf("expected an immutable-prop change to force a replacement, got %v", cs.Replacements)
	}
}

func TestOrderRespectsPathParenthoodAndOutputReads(t *testing.T) {
	current := []Node{
		{ID: "parent", Path: "App#0", ConstructType: "Stack"},
		{ID: "child", Path: "App#0.Bucket#0", ConstructType: "Bucket"},
		{ID: "dependent", Path: "Other#0", ConstructType: "Queue", Reads: []string{"child"}},
	}
	cs, err := Diff(nil, current)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	idx := map[string]int{}
	for i, id := range cs.DeploymentOrder {
		idx[id] = i
	}
	if idx["parent"] >= idx["child"] {
		t.Fatalf("expected parent before child in deployment order, got %v", cs.DeploymentOrder)
	}
	if idx["child"] >= idx["dependent"] {
		t.Fatalf("expected child before dependent in deployment order, got %v", cs.DeploymentOrder)
	}
}

func TestOrderDetectsCycle(t *testing.T) {
	current := []Node{
		{ID: "a", Path: "A#0", ConstructType: "X", Reads: []string{"b"}},
		{ID: "b", Path: "B#0", ConstructType: "X", Reads: []string{"a"}},
	}
	_, err := Diff(nil, current)
	if err == nil {
		t.Fatalf("expected CycleInDependencies")
	}
	if !rterrors.Is(err, rterrors.CodeCycleInDependencies) {
		t.Fatalf("expected CodeCycleInDependencies, got %v", err)
	}
}

func TestParallelBatchesGroupIndependentNodes(t *testing.T) {
	current := []Node{
		{ID: "a", Path: "A#0", ConstructType: "X"},
		{ID: "b", Path: "B#0", ConstructType: "X"},
	}
	cs, err := Diff(nil, current)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cs.ParallelBatches) != 1 || len(cs.ParallelBatches[0]) != 2 {
		t.Fatalf("expected one batch containing both independent nodes, got %v", cs.ParallelBatches)
	}
}
