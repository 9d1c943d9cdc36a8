// Package provider defines the cloud provider contract the convergence
// driver calls into to actually apply or destroy a node, plus an in-memory
// reference implementation for tests and demos. Concrete cloud providers
// (AWS/Azure/GCP resources) are not provided; this package only defines the
// seam and a fake good enough to exercise the whole convergence loop end to
// end.
package provider

import (
	"context"

	"github.com/cloudrt/cloudrt/internal/node"
)

// Provider is the contract every cloud provider implementation satisfies.
// Apply must be idempotent given an identical (ID, Props) pair.
type Provider interface {
	Apply(ctx context.Context, n *node.Node) (outputs map[string]any, err error)
	Destroy(ctx context.Context, n *node.Node) error

	// PreDeploy/PostDeploy/OnError are optional lifecycle hooks; a Provider
	// that doesn't need them embeds NopLifecycle.
	PreDeploy(ctx context.Context, nodes []*node.Node) error
	PostDeploy(ctx context.Context, nodes []*node.Node, outputs map[string]map[string]any) error
	OnError(ctx context.Context, err error, nodes []*node.Node)
}

// NopLifecycle implements the optional Provider lifecycle hooks as no-ops,
// so a reference Provider only has to implement Apply/Destroy.
type NopLifecycle struct{}

func (NopLifecycle) PreDeploy(context.Context, []*node.Node) error { return nil }
func (NopLifecycle) PostDeploy(context.Context, []*node.Node, map[string]map[string]any) error {
	return nil
}
func (NopLifecycle) OnError(context.Context, error, []*node.Node) {}
