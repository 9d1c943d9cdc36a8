package converge

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/cloudrt/cloudrt/internal/backend/memory"
	"github.com/cloudrt/cloudrt/internal/element"
	"github.com/cloudrt/cloudrt/internal/fiber"
	"github.com/cloudrt/cloudrt/internal/hooks"
	"github.com/cloudrt/cloudrt/internal/provider/memprovider"
)

func bucket(props element.Props) element.Children {
	if _, err := hooks.UseInstance("mem:bucket", map[string]any{"name": props["name"]}); err != nil {
		panic(err)
	}
	return nil
}

func bucketWithConsumer(element.Props) element.Children {
	producer, err := hooks.UseInstance("mem:bucket", map[string]any{"name": "source"})
	if err != nil {
		panic(err)
	}
	return element.CreateElement(element.Component(policyConsumer), element.Props{"arn": hooks.Output[string](producer, "arn")})
}

func policyConsumer(props element.Props) element.Children {
	if _, err := hooks.UseInstance("mem:policy", map[string]any{"arn": props["arn"]}); err != nil {
		panic(err)
	}
	return nil
}

func rootOf(child element.Element) element.Element {
	return element.CreateElement(element.Component(func(element.Props) element.Children {
		return child
	}), nil)
}

func newTestDriver(t *testing.T) (*Driver, *memory.Backend, *memprovider.Provider) {
	t.Helper()
	b := memory.New()
	p := memprovider.New()
	p.Register("mem:bucket", func(props, _ map[string]any) (map[string]any, error) {
		return map[string]any{"arn": "arn:bucket:" + props["name"].(string)}, nil
	})
	p.Register("mem:policy", func(props, _ map[string]any) (map[string]any, error) {
		return map[string]any{"id": "policy-for-" + props["arn"].(string)}, nil
	})
	r := fiber.NewRenderer()
	d := New(r, b, p, Options{Stack: "stack-a", Holder: "test-holder"})
	return d, b, p
}

func TestRunConvergesAndDeploysAllNodes(t *testing.T) {
	d, b, _ := newTestDriver(t)
	ctx := context.Background()

	root := rootOf(element.CreateElement(element.Component(bucket), element.Props{"name": "a"}))

	snap, err := d.Run(ctx, root)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(snap.Nodes) != 1 {
		t.Fatalf("expected 1 deployed node, got %d", len(snap.Nodes))
	}
	if snap.Phase != "DEPLOYED" {
		t.Fatalf("expected DEPLOYED phase, got %s", snap.Phase)
	}

	persisted, err := b.Read(ctx, "stack-a")
	if err != nil {
		t.Fatalf("unexpected error reading back: %v", err)
	}
	if persisted.Nodes[0].Outputs["arn"] != "arn:bucket:a" {
		t.Fatalf("unexpected persisted outputs: %+v", persisted.Nodes[0])
	}
}

func TestRunPropagatesOutputsAcrossDependentNodes(t *testing.T) {
	d, _, _ := newTestDriver(t)
	ctx := context.Background()

	root := rootOf(element.CreateElement(element.Component(bucketWithConsumer), nil))

	snap, err := d.Run(ctx, root)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(snap.Nodes) != 2 {
		t.Fatalf("expected 2 deployed nodes (bucket + consumer's policy), got %d", len(snap.Nodes))
	}

	var sawPolicy bool
	for _, n := range snap.Nodes {
		if n.ConstructType == "mem:policy" {
			sawPolicy = true
			if n.Outputs["id"] != "policy-for-arn:bucket:source" {
				t.Fatalf("consumer did not observe producer's output: %+v", n.Outputs)
			}
		}
	}
	if !sawPolicy {
		t.Fatalf("expected a mem:policy node in the snapshot: %+v", snap.Nodes)
	}
}

func TestRunIsIdempotentOnSecondCallWithNoChanges(t *testing.T) {
	b := memory.New()
	p := memprovider.New()
	calls := 0
	p.Register("mem:bucket", func(props, _ map[string]any) (map[string]any, error) {
		calls++
		return map[string]any{"arn": "arn:bucket:" + props["name"].(string)}, nil
	})

	ctx := context.Background()
	d1 := New(fiber.NewRenderer(), b, p, Options{Stack: "stack-a", Holder: "h1"})
	root1 := rootOf(element.CreateElement(element.Component(bucket), element.Props{"name": "a"}))
	if _, err := d1.Run(ctx, root1); err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected exactly 1 apply call after first run, got %d", calls)
	}

	d2 := New(fiber.NewRenderer(), b, p, Options{Stack: "stack-a", Holder: "h2"})
	root2 := rootOf(element.CreateElement(element.Component(bucket), element.Props{"name": "a"}))
	if _, err := d2.Run(ctx, root2); err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected no new apply calls on an unchanged second run, got %d total", calls)
	}
}

func TestRunFailsDeploymentOnProviderError(t *testing.T) {
	b := memory.New()
	p := memprovider.New()
	p.Register("mem:bucket", func(map[string]any, map[string]any) (map[string]any, error) {
		return nil, errBoom
	})

	root := rootOf(element.CreateElement(element.Component(bucket), element.Props{"name": "a"}))

	d := New(fiber.NewRenderer(), b, p, Options{Stack: "stack-a", Holder: "h1"})
	ctx := context.Background()
	if _, err := d.Run(ctx, root); err == nil {
		t.Fatalf("expected an error from a failing provider")
	}

	snap, err := b.Read(ctx, "stack-a")
	if err != nil {
		t.Fatalf("unexpected error reading back: %v", err)
	}
	if snap.Phase != "FAILED" {
		t.Fatalf("expected FAILED phase after a provider error, got %s", snap.Phase)
	}
}

var errBoom = errors.New("provider boom")

func manyBuckets(props element.Props) element.Children {
	count := props["count"].(int)
	children := make([]element.Element, count)
	for i := 0; i < count; i++ {
		children[i] = element.CreateElement(element.Component(bucket), element.Props{"name": string(rune('a' + i))})
	}
	return children
}

// TestRunBoundsBatchConcurrencyWithMaxConcurrency deploys several
// independent (sibling) nodes landing in the same parallel batch and checks
// that no more than Options.MaxConcurrency of their Apply calls ever run at
// once.
func TestRunBoundsBatchConcurrencyWithMaxConcurrency(t *testing.T) {
	b := memory.New()
	p := memprovider.New()

	const limit = 2
	var inFlight, maxSeen int64
	p.Register("mem:bucket", func(props, _ map[string]any) (map[string]any, error) {
		cur := atomic.AddInt64(&inFlight, 1)
		defer atomic.AddInt64(&inFlight, -1)
		for {
			seen := atomic.LoadInt64(&maxSeen)
			if cur <= seen || atomic.CompareAndSwapInt64(&maxSeen, seen, cur) {
				break
			}
		}
		return map[string]any{"arn": "arn:bucket:" + props["name"].(string)}, nil
	})

	root := rootOf(element.CreateElement(element.Component(manyBuckets), element.Props{"count": 6}))

	d := New(fiber.NewRenderer(), b, p, Options{Stack: "stack-a", Holder: "h1", MaxConcurrency: limit})
	ctx := context.Background()
	if _, err := d.Run(ctx, root); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := atomic.LoadInt64(&maxSeen); got > limit {
		t.Fatalf("expected at most %d concurrent applies, observed %d", limit, got)
	}
}
