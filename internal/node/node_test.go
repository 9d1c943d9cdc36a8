package node

import (
	"testing"

	"github.com/cloudrt/cloudrt/internal/addr"
	"github.com/cloudrt/cloudrt/internal/rterrors"
)

func pathFor(name string) addr.Path {
	return addr.Path{addr.NewIndexedSegment(name, 0)}
}

func TestDeclareCreatesThenReuses(t *testing.T) {
	r := NewRegistry()
	p := pathFor("Bucket")

	r.Tick()
	n1, err := r.Declare(p, "Root#0", "Bucket", map[string]any{"name": "a"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	r.Tick()
	n2, err := r.Declare(p, "Root#0", "Bucket", map[string]any{"name": "b"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n1 != n2 {
		t.Fatalf("expected the same node across renders for the same path")
	}
	if got := n2.Props()["name"]; got != "b" {
		t.Fatalf("expected updated props to stick, got %v", got)
	}
}

func TestDeclareSameIDDifferentFiberIsDuplicate(t *testing.T) {
	r := NewRegistry()
	p := pathFor("Bucket")

	r.Tick()
	if _, err := r.Declare(p, "Root.A#0", "Bucket", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err := r.Declare(p, "Root.B#0", "Bucket", nil)
	if err == nil {
		t.Fatalf("expected DuplicateNodeId error")
	}
	if !rterrors.Is(err, rterrors.CodeDuplicateNodeID) {
		t.Fatalf("expected CodeDuplicateNodeID, got %v", err)
	}
}

func TestDeclareSameFiberAcrossGenerationsIsNotDuplicate(t *testing.T) {
	r := NewRegistry()
	p := pathFor("Bucket")

	r.Tick()
	if _, err := r.Declare(p, "Root.A#0", "Bucket", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r.Tick() // a later render pass
	if _, err := r.Declare(p, "Root.A#0", "Bucket", nil); err != nil {
		t.Fatalf("re-declaring from the same fiber in a later pass should be fine: %v", err)
	}
}

func TestOutputsSnapshotAndSeed(t *testing.T) {
	r := NewRegistry()
	p := pathFor("Bucket")
	r.Tick()
	n, err := r.Declare(p, "Root#0", "Bucket", map[string]any{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := n.Output("arn").Read(); got != nil {
		t.Fatalf("expected undefined output before any write, got %v", got)
	}

	n.Output("arn").Write("arn:aws:s3:::bucket")
	if got := n.Outputs()["arn"]; got != "arn:aws:s3:::bucket" {
		t.Fatalf("expected written output in snapshot, got %v", got)
	}

	fresh := NewRegistry().GetOrCreate("node-x", p, "Bucket")
	fresh.SeedOutputs(map[string]any{"arn": "seeded"})
	if got := fresh.Output("arn").Read(); got != "seeded" {
		t.Fatalf("expected seeded output, got %v", got)
	}
}

func TestStoreSeparateFromOutputs(t *testing.T) {
	r := NewRegistry()
	p := pathFor("Bucket")
	r.Tick()
	n, err := r.Declare(p, "Root#0", "Bucket", map[string]any{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	n.SetState("counter", 1)
	n.Output("counter").Write("not-the-same-namespace")

	if v, _ := n.GetState("counter"); v != 1 {
		t.Fatalf("expected state namespace unaffected by output write, got %v", v)
	}
}
