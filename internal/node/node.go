// Package node implements the node registry: the stable identity map from
// hierarchical path to declared resource node, owning that node's output
// signals. The placeholder accessors over those signals live in package
// hooks.
package node

import (
	"sync"

	"github.com/cloudrt/cloudrt/internal/addr"
	"github.com/cloudrt/cloudrt/internal/idgen"
	"github.com/cloudrt/cloudrt/internal/reactive"
	"github.com/cloudrt/cloudrt/internal/rterrors"
)

// Node is a declared cloud resource: {id, path, constructType, props,
// outputSignals, state?}.
type Node struct {
	ID            string
	Path          addr.Path
	ConstructType string

	mu    sync.Mutex
	props map[string]any

	outMu   sync.Mutex
	outputs map[string]*reactive.Signal[any]

	stateMu sync.Mutex
	state   map[string]any

	// Immutable marks output-irrelevant prop keys that, if changed, force a
	// replacement rather than an in-place update: delegated to the
	// provider/construct, modeled here as a declared set per construct
	// type; see DESIGN.md.
	Immutable map[string]bool

	registry *Registry // set at creation, used only to record new output signals' ownership
}

// Props returns a shallow copy of the node's current declared properties.
func (n *Node) Props() map[string]any {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make(map[string]any, len(n.props))
	for k, v := range n.props {
		out[k] = v
	}
	return out
}

func (n *Node) setProps(props map[string]any) {
	n.mu.Lock()
	n.props = props
	n.mu.Unlock()
}

// Output returns the signal backing output key, creating it (holding
// undefined/nil) on first reference. This is the only way to obtain a
// writable handle to an output signal, and only the provider-result-fill
// step in package converge ever calls Write on it.
func (n *Node) Output(key string) *reactive.Signal[any] {
	n.outMu.Lock()
	defer n.outMu.Unlock()
	s, ok := n.outputs[key]
	if !ok {
		s = reactive.NewSignal[any](nil)
		n.outputs[key] = s
		if n.registry != nil {
			n.registry.recordSignalOwner(s, n.ID)
		}
	}
	return s
}

// Outputs returns a snapshot of every output key that has been referenced so
// far, for persistence.
func (n *Node) Outputs() map[string]any {
	n.outMu.Lock()
	defer n.outMu.Unlock()
	out := make(map[string]any, len(n.outputs))
	for k, s := range n.outputs {
		out[k] = s.Read()
	}
	return out
}

// SeedOutputs primes output signals from persisted state without going
// through Write/Batch, used once at driver startup to seed the node
// registry's output signals from the previous snapshot's node outputs.
func (n *Node) SeedOutputs(outputs map[string]any) {
	n.outMu.Lock()
	defer n.outMu.Unlock()
	for k, v := range outputs {
		if _, ok := n.outputs[k]; !ok {
			s := reactive.NewSignal[any](v)
			n.outputs[k] = s
			if n.registry != nil {
				n.registry.recordSignalOwner(s, n.ID)
			}
		}
	}
}

// State returns a shallow copy of this node's store namespace (useStore
// persistence, kept separate from Outputs ).
func (n *Node) State() map[string]any {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	out := make(map[string]any, len(n.state))
	for k, v := range n.state {
		out[k] = v
	}
	return out
}

func (n *Node) SetState(key string, value any) {
	n.stateMu.Lock()
	if n.state == nil {
		n.state = map[string]any{}
	}
	n.state[key] = value
	n.stateMu.Unlock()
}

func (n *Node) GetState(key string) (any, bool) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	v, ok := n.state[key]
	return v, ok
}

// SeedState primes the store namespace from persisted state.
func (n *Node) SeedState(state map[string]any) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	if n.state == nil {
		n.state = map[string]any{}
	}
	for k, v := range state {
		n.state[k] = v
	}
}

// Registry is the stable identity map from path to declared node.
type Registry struct {
	mu   sync.Mutex
	byID map[string]*Node

	gen               uint64
	declaredInGenByID map[string]uint64
	declaredByFiber   map[string]string // id -> declaring fiber path, within the current generation

	signalOwnerMu sync.Mutex
	signalOwner   map[any]string // output signal (as subscription) -> owning node id
}

func NewRegistry() *Registry {
	return &Registry{
		byID:              map[string]*Node{},
		declaredInGenByID: map[string]uint64{},
		declaredByFiber:   map[string]string{},
		signalOwner:       map[any]string{},
	}
}

func (r *Registry) recordSignalOwner(sig any, nodeID string) {
	r.signalOwnerMu.Lock()
	r.signalOwner[sig] = nodeID
	r.signalOwnerMu.Unlock()
}

// SignalOwner returns the id of the node whose output signal sig is, if
// any. sig is the opaque value returned by reactive.Computation.Sources.
func (r *Registry) SignalOwner(sig any) (string, bool) {
	r.signalOwnerMu.Lock()
	defer r.signalOwnerMu.Unlock()
	id, ok := r.signalOwner[sig]
	return id, ok
}

// Tick starts a new declaration generation; the fiber renderer calls
// this once before each render pass (the initial render, and each
// re-render-dirty drain) so Declare can detect two different fibers
// producing the same node id within that one pass and reject it as a
// DuplicateNodeId.
func (r *Registry) Tick() {
	r.mu.Lock()
	r.gen++
	r.mu.Unlock()
}

// Declare registers (or updates) the node at nodePath, as called by
// hooks.UseInstance. declaringFiberPath identifies the fiber making the
// call, solely for the cross-fiber collision check described above.
func (r *Registry) Declare(nodePath addr.Path, declaringFiberPath, constructType string, props map[string]any) (*Node, error) {
	id := idgen.NodeID(nodePath)

	r.mu.Lock()
	defer r.mu.Unlock()

	if gen, ok := r.declaredInGenByID[id]; ok && gen == r.gen {
		if prior := r.declaredByFiber[id]; prior != declaringFiberPath {
			return nil, rterrors.DuplicateNodeID(id, prior, declaringFiberPath)
		}
	}
	r.declaredInGenByID[id] = r.gen
	r.declaredByFiber[id] = declaringFiberPath

	n, ok := r.byID[id]
	if !ok {
		n = &Node{ID: id, Path: nodePath, outputs: map[string]*reactive.Signal[any]{}, registry: r}
		r.byID[id] = n
	}
	n.Path = nodePath // authoritative: overwrites whatever a seed stub guessed
	n.ConstructType = constructType
	n.setProps(props)
	return n, nil
}

// Get looks up a node by id without declaring it or creating it.
func (r *Registry) Get(id string) (*Node, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.byID[id]
	return n, ok
}

// GetOrCreate is used by the driver when seeding output/state from persisted
// nodes that a render hasn't (yet) declared this run.
func (r *Registry) GetOrCreate(id string, path addr.Path, constructType string) *Node {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.byID[id]
	if !ok {
		n = &Node{ID: id, Path: path, ConstructType: constructType, outputs: map[string]*reactive.Signal[any]{}, registry: r}
		r.byID[id] = n
	}
	return n
}

// All returns every node currently known to the registry, in no particular
// order; callers that need a stable order (persistence, reconciliation) sort
// by ID themselves.
func (r *Registry) All() []*Node {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Node, 0, len(r.byID))
	for _, n := range r.byID {
		out = append(out, n)
	}
	return out
}

// Delete removes a node entirely, called once the provider has destroyed
// the node for a change-set delete; its output signals are discarded with
// it, since they are only ever cleared when the node itself is deleted.
func (r *Registry) Delete(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, id)
}
