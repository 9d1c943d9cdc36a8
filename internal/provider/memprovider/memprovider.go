// Package memprovider is a reference Provider that "provisions" resources
// entirely in memory, keyed by a per-construct-type apply function the
// caller registers. It exists so tests and the cmd/cloudrt demo can drive
// the whole render -> reconcile -> deploy -> fill-outputs loop without any
// real cloud dependency.
package memprovider

import (
	"context"
	"fmt"
	"sync"

	"github.com/cloudrt/cloudrt/internal/node"
	"github.com/cloudrt/cloudrt/internal/provider"
	"github.com/cloudrt/cloudrt/internal/rterrors"
)

// ApplyFunc computes a node's outputs from its current props and any
// previously-applied outputs (for idempotent re-apply). Returning an error
// fails that node's deployment.
type ApplyFunc func(props map[string]any, previousOutputs map[string]any) (map[string]any, error)

// Provider dispatches Apply/Destroy by construct type to registered
// ApplyFuncs, defaulting to an identity provider (outputs = props) for any
// construct type without one, which is enough to exercise dependency
// propagation in tests without bespoke fixtures.
type Provider struct {
	provider.NopLifecycle

	mu      sync.Mutex
	applies map[string]ApplyFunc
	applied map[string]map[string]any // nodeID -> last outputs, for idempotent re-apply and Destroy bookkeeping
}

// New constructs an empty memory provider; register construct types with
// Register before using it.
func New() *Provider {
	return &Provider{applies: map[string]ApplyFunc{}, applied: map[string]map[string]any{}}
}

// Register installs fn as the ApplyFunc for constructType.
func (p *Provider) Register(constructType string, fn ApplyFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.applies[constructType] = fn
}

func (p *Provider) Apply(_ context.Context, n *node.Node) (map[string]any, error) {
	p.mu.Lock()
	fn, ok := p.applies[n.ConstructType]
	prevOutputs := p.applied[n.ID]
	p.mu.Unlock()

	if !ok {
		fn = identityApply
	}
	outputs, err := fn(n.Props(), prevOutputs)
	if err != nil {
		return nil, rterrors.ProviderApplyFailed(n.ID, err)
	}

	p.mu.Lock()
	p.applied[n.ID] = outputs
	p.mu.Unlock()
	return outputs, nil
}

func (p *Provider) Destroy(_ context.Context, n *node.Node) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.applied, n.ID)
	return nil
}

// identityApply is the fallback for any construct type nobody registered an
// ApplyFunc for: it just echoes props back as outputs, plus a synthesized
// id, which is enough for most reconciliation/propagation tests.
func identityApply(props map[string]any, _ map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(props)+1)
	for k, v := range props {
		out[k] = v
	}
	if _, ok := out["id"]; !ok {
		out["id"] = fmt.Sprintf("mem-%p", props)
	}
	return out, nil
}
