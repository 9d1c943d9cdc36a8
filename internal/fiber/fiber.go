// Package fiber implements the component-instance tree: fiber records,
// hook-slot dispatch, and the renderer that walks an element tree into a
// fiber tree. The dynamically-scoped "current fiber" pointer generalizes
// the same SetCurrentFiber/GetCurrentFiber shape a single reactive package
// would use into the renderer's own hook-dispatch mechanism.
package fiber

import (
	"sync/atomic"

	"github.com/cloudrt/cloudrt/internal/addr"
	"github.com/cloudrt/cloudrt/internal/element"
	"github.com/cloudrt/cloudrt/internal/node"
	"github.com/cloudrt/cloudrt/internal/reactive"
	"github.com/cloudrt/cloudrt/internal/rterrors"
)

// hookSlot records one hook call's positional identity and state, so a
// second render of the same fiber can detect a hook called out of order.
type hookSlot struct {
	kind  string
	state any
}

// Fiber is the runtime record for one element occurrence: a component
// instance.
type Fiber struct {
	Path     addr.Path
	Key      string
	Elem     element.Element
	Parent   *Fiber
	Children []*Fiber
	renderer *Renderer

	hooks          []hookSlot
	hookIdx        int
	declared       []*node.Node
	instanceCounts map[string]int // per-construct-type call counter, for UseInstance's auto disambiguator

	contextDeps map[any]struct{} // context identities read during the last render
	tracker     *reactive.Computation
	dirty       bool
	renderCount int
}

// Tracker exposes the fiber's render-tracking Computation so the
// convergence driver can mark it for re-render (via the reactive package's
// dirty-flag scheduling) and so a provider output write that this fiber
// reads schedules it.
func (f *Fiber) Tracker() *reactive.Computation { return f.tracker }

// Dirty reports whether this fiber has been scheduled for re-render since
// its last render.
func (f *Fiber) Dirty() bool { return f.dirty }

// ClearDirty resets the dirty flag once the driver has re-rendered this
// fiber.
func (f *Fiber) ClearDirty() { f.dirty = false }

// RenderCount returns how many times this fiber has executed its component
// function, used by tests asserting re-render behavior.
func (f *Fiber) RenderCount() int { return f.renderCount }

// DeclaredNodes returns the nodes declared by this fiber's most recent
// render, in call order.
func (f *Fiber) DeclaredNodes() []*node.Node { return f.declared }

// AppendDeclaredNode is called by hooks.UseInstance to register a node
// declared during the current render.
func (f *Fiber) AppendDeclaredNode(n *node.Node) { f.declared = append(f.declared, n) }

// Renderer returns the Renderer this fiber belongs to, so package hooks can
// reach its node registry without fiber needing to know anything about
// hooks itself.
func (f *Fiber) Renderer() *Renderer { return f.renderer }

// NextInstanceIndex returns, and then advances, this fiber's per-render call
// counter for constructType, used by UseInstance to disambiguate repeated
// calls with no explicit name: a per-fiber, per-construct-type call index.
func (f *Fiber) NextInstanceIndex(constructType string) int {
	if f.instanceCounts == nil {
		f.instanceCounts = map[string]int{}
	}
	idx := f.instanceCounts[constructType]
	f.instanceCounts[constructType]++
	return idx
}

// currentFiber is the dynamically-scoped "which fiber is executing right
// now" pointer hook implementations read. It is process-wide by design: the
// renderer, like the reactive layer beneath it, is a single-threaded
// cooperative scheduler, so only one fiber renders at a time
// across the whole process; distinct Runtime instances stay independent
// because all of their real state (fiber trees, node registries, contexts)
// lives on the instance, not here. See DESIGN.md for the discussion.
var currentFiber atomic.Pointer[Fiber]

// Current returns the fiber currently executing its component function, or
// nil outside of any render.
func Current() *Fiber { return currentFiber.Load() }

// nextHookSlot advances the per-render hook cursor, validating that this
// call site agrees with what was recorded during the previous render at the
// same index.
func (f *Fiber) nextHookSlot(kind string, zero func() any) (*hookSlot, error) {
	idx := f.hookIdx
	f.hookIdx++
	if idx < len(f.hooks) {
		if f.hooks[idx].kind != kind {
			return nil, rterrors.HookOrderViolated(f.Path.String(), idx, f.hooks[idx].kind, kind)
		}
		return &f.hooks[idx], nil
	}
	f.hooks = append(f.hooks, hookSlot{kind: kind, state: zero()})
	return &f.hooks[idx], nil
}

// WalkSlots lets package hooks scan this fiber's hook slots of a given
// kind (e.g. "effect") without fiber needing to know hooks' own slot
// payload types; fn receives a pointer into the live slot so it can both
// read and update the stored state in place.
func (f *Fiber) WalkSlots(kind string, fn func(idx int, state *any)) {
	for i := range f.hooks {
		if f.hooks[i].kind == kind {
			fn(i, &f.hooks[i].state)
		}
	}
}

// UseSlot is the primitive every hook in package hooks builds on: it returns
// a pointer to this fiber's kind-tagged slot state at the current position,
// creating it with zero() on first render and erroring with
// HookOrderViolated if a later render calls a different hook kind at the
// same position. zero is only invoked the first time the slot is created.
func UseSlot(kind string, zero func() any) (*any, error) {
	f := Current()
	if f == nil {
		return nil, rterrors.ValidationFailed("hook called outside of a component render")
	}
	slot, err := f.nextHookSlot(kind, zero)
	if err != nil {
		return nil, err
	}
	return &slot.state, nil
}
