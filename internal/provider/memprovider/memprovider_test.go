package memprovider

import (
	"context"
	"testing"

	"github.com/cloudrt/cloudrt/internal/addr"
	"github.com/cloudrt/cloudrt/internal/node"
)

func newTestNode(t *testing.T, reg *node.Registry, name, constructType string, props map[string]any) *node.Node {
	t.Helper()
	p := addr.Path{addr.NewKeyedSegment(name, name)}
	n, err := reg.Declare(p, "root", constructType, props)
	if err != nil {
		t.Fatalf("unexpected declare error: %v", err)
	}
	return n
}

func TestApplyDispatchesToRegisteredConstructType(t *testing.T) {
	p := New()
	p.Register("demo:bucket", func(props, _ map[string]any) (map[string]any, error) {
		return map[string]any{"arn": "arn:demo:" + props["name"].(string)}, nil
	})

	reg := node.NewRegistry()
	n := newTestNode(t, reg, "bucket", "demo:bucket", map[string]any{"name": "a"})

	outputs, err := p.Apply(context.Background(), n)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outputs["arn"] != "arn:demo:a" {
		t.Fatalf("unexpected outputs: %+v", outputs)
	}
}

func TestApplyFallsBackToIdentityForUnregisteredConstructType(t *testing.T) {
	p := New()
	reg := node.NewRegistry()
	n := newTestNode(t, reg, "widget", "demo:widget", map[string]any{"color": "red"})

	outputs, err := p.Apply(context.Background(), n)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outputs["color"] != "red" {
		t.Fatalf("expected identity apply to echo props, got %+v", outputs)
	}
	if _, ok := outputs["id"]; !ok {
		t.Fatalf("expected identity apply to synthesize an id, got %+v", outputs)
	}
}

func TestApplyPassesPreviousOutputsForIdempotentReapply(t *testing.T) {
	p := New()
	var seenPrev map[string]any
	p.Register("demo:bucket", func(props, prev map[string]any) (map[string]any, error) {
		seenPrev = prev
		return map[string]any{"arn": "arn:demo:" + props["name"].(string)}, nil
	})

	reg := node.NewRegistry()
	n := newTestNode(t, reg, "bucket", "demo:bucket", map[string]any{"name": "a"})

	if _, err := p.Apply(context.Background(), n); err != nil {
		t.Fatalf("unexpected error on first apply: %v", err)
	}
	if seenPrev != nil {
		t.Fatalf("expected nil previous outputs on first apply, got %+v", seenPrev)
	}

	if _, err := p.Apply(context.Background(), n); err != nil {
		t.Fatalf("unexpected error on second apply: %v", err)
	}
	if seenPrev["arn"] != "arn:demo:a" {
		t.Fatalf("expected second apply to observe first apply's outputs, got %+v", seenPrev)
	}
}

func TestDestroyForgetsAppliedOutputs(t *testing.T) {
	p := New()
	var seenPrev map[string]any
	p.Register("demo:bucket", func(props, prev map[string]any) (map[string]any, error) {
		seenPrev = prev
		return map[string]any{"arn": "arn:demo:" + props["name"].(string)}, nil
	})

	reg := node.NewRegistry()
	n := newTestNode(t, reg, "bucket", "demo:bucket", map[string]any{"name": "a"})

	if _, err := p.Apply(context.Background(), n); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := p.Destroy(context.Background(), n); err != nil {
		t.Fatalf("unexpected destroy error: %v", err)
	}
	if _, err := p.Apply(context.Background(), n); err != nil {
		t.Fatalf("unexpected error on reapply: %v", err)
	}
	if seenPrev != nil {
		t.Fatalf("expected a fresh apply after Destroy to see no previous outputs, got %+v", seenPrev)
	}
}

func TestApplyWrapsProviderErrors(t *testing.T) {
	p := New()
	p.Register("demo:bucket", func(map[string]any, map[string]any) (map[string]any, error) {
		return nil, errApplyBoom
	})

	reg := node.NewRegistry()
	n := newTestNode(t, reg, "bucket", "demo:bucket", map[string]any{"name": "a"})

	if _, err := p.Apply(context.Background(), n); err == nil {
		t.Fatalf("expected an error from a failing ApplyFunc")
	}
}

var errApplyBoom = applyBoom{}

type applyBoom struct{}

func (applyBoom) Error() string { return "provider boom" }
