package fiber

import (
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/cloudrt/cloudrt/internal/addr"
	"github.com/cloudrt/cloudrt/internal/element"
	"github.com/cloudrt/cloudrt/internal/node"
	"github.com/cloudrt/cloudrt/internal/reactive"
	"github.com/cloudrt/cloudrt/internal/rterrors"
)

// Renderer walks an element tree into a fiber tree. Each Renderer owns its
// own fiber table and context stacks, so distinct Renderer instances never
// share state; see fiber.go's doc comment on currentFiber for the one
// piece of ambient state they do share, and why that's safe under this
// package's single-threaded cooperative scheduling model.
type Renderer struct {
	mu           sync.Mutex
	rendering    atomic.Bool
	root         *Fiber
	byPath       map[string]*Fiber
	dirty        map[*Fiber]struct{}
	dirtyMu      sync.Mutex
	ctxStacks    map[any][]ctxFrame
	ctxConsumers map[any]map[*Fiber]struct{}

	// Registry is this renderer's node registry, consulted by
	// hooks.UseInstance to resolve a fiber's declared node. Each Renderer
	// gets its own, keeping distinct runtime instances independent.
	Registry *node.Registry

	storeMu      sync.Mutex
	pendingStore []func()
}

// DeferStoreWrite queues a useStore setter call made during a render for
// application once the render pass finishes: writes made inside a render
// are staged for after render, to avoid mid-render inconsistency.
func (r *Renderer) DeferStoreWrite(fn func()) {
	r.storeMu.Lock()
	r.pendingStore = append(r.pendingStore, fn)
	r.storeMu.Unlock()
}

// FlushStoreWrites applies every store write deferred during the render
// pass that just completed, coalesced under a single reactive.Batch so any
// fiber reading that store value becomes dirty exactly once. The
// convergence driver calls this right after Render/RerenderDirty returns.
func (r *Renderer) FlushStoreWrites() error {
	r.storeMu.Lock()
	pending := r.pendingStore
	r.pendingStore = nil
	r.storeMu.Unlock()
	if len(pending) == 0 {
		return nil
	}
	return reactive.Batch(func() {
		for _, fn := range pending {
			fn()
		}
	})
}

// NewRenderer constructs an empty, independent renderer instance with its
// own node registry.
func NewRenderer() *Renderer {
	return &Renderer{
		byPath:       map[string]*Fiber{},
		dirty:        map[*Fiber]struct{}{},
		ctxStacks:    map[any][]ctxFrame{},
		ctxConsumers: map[any]map[*Fiber]struct{}{},
		Registry:     node.NewRegistry(),
	}
}

// Root returns the fiber produced by the most recent Render call.
func (r *Renderer) Root() *Fiber { return r.root }

// MarkDirty schedules f for re-render on the next RerenderDirty call. It is
// safe to call from inside a reactive.Batch (that's how output writes reach
// dependent fibers) or from outside one.
func (r *Renderer) MarkDirty(f *Fiber) {
	f.dirty = true
	r.dirtyMu.Lock()
	r.dirty[f] = struct{}{}
	r.dirtyMu.Unlock()
}

// HasDirty reports whether any fiber is currently scheduled for re-render.
func (r *Renderer) HasDirty() bool {
	r.dirtyMu.Lock()
	defer r.dirtyMu.Unlock()
	return len(r.dirty) > 0
}

// Render performs the full, from-the-root walk: render(rootElement) ->
// rootFiber. It is not re-entrant on the same Renderer.
func (r *Renderer) Render(root element.Element) (*Fiber, error) {
	if !r.rendering.CompareAndSwap(false, true) {
		return nil, rterrors.ValidationFailed("Render called re-entrantly on the same runtime instance")
	}
	defer r.rendering.Store(false)

	r.Registry.Tick()
	visited := map[string]bool{}
	fibers, err := r.renderChildren(nil, element.Children(root), visited)
	if err != nil {
		return nil, err
	}
	if len(fibers) != 1 {
		return nil, rterrors.ValidationFailed("root render must produce exactly one fiber")
	}
	r.root = fibers[0]
	r.prune("", visited)
	return r.root, nil
}

// RerenderDirty re-renders every currently-dirty fiber (and, transitively,
// whatever of its subtree its component returns), in path order so parents
// run before children, draining newly-dirtied fibers produced along the way
// before returning. It returns every fiber actually re-rendered, so the
// driver can collect freshly declared nodes from them.
func (r *Renderer) RerenderDirty() ([]*Fiber, error) {
	r.Registry.Tick()
	var rendered []*Fiber
	for r.HasDirty() {
		r.dirtyMu.Lock()
		batch := make([]*Fiber, 0, len(r.dirty))
		for f := range r.dirty {
			batch = append(batch, f)
		}
		r.dirty = map[*Fiber]struct{}{}
		r.dirtyMu.Unlock()

		sort.Slice(batch, func(i, j int) bool { return batch[i].Path.String() < batch[j].Path.String() })

		for _, f := range batch {
			if !f.dirty {
				continue // already re-rendered as part of an ancestor's subtree this pass
			}
			if err := r.rerenderOne(f); err != nil {
				return rendered, err
			}
			rendered = append(rendered, f)
		}
	}
	return rendered, nil
}

func (r *Renderer) rerenderOne(f *Fiber) error {
	f.ClearDirty()
	visited := map[string]bool{}
	prefix := f.Path.String()
	visited[prefix] = true

	children, err := r.renderOneFiber(f)
	if err != nil {
		return err
	}
	kids, err := r.renderChildren(f, children, visited)
	if err != nil {
		return err
	}
	f.Children = kids
	r.prune(prefix, visited)
	return nil
}

// renderChildren flattens, paths, and renders zero or more children under
// parent (nil for the root), returning the resulting fibers in order.
func (r *Renderer) renderChildren(parent *Fiber, children element.Children, visited map[string]bool) ([]*Fiber, error) {
	flat := flatten(children)
	counts := map[string]int{}
	used := map[string]bool{}
	out := make([]*Fiber, 0, len(flat))

	for _, c := range flat {
		el, ok := c.(element.Element)
		if !ok {
			continue // a non-Element leaf (shouldn't normally occur post-flatten)
		}
		name := element.DisplayName(el.Type)
		var seg addr.Segment
		if el.Key != "" {
			seg = addr.NewKeyedSegment(name, el.Key)
		} else {
			seg = addr.NewIndexedSegment(name, counts[name])
		}
		counts[name]++

		var path addr.Path
		if parent == nil {
			path = addr.Path{seg}
		} else {
			path = parent.Path.Child(seg)
		}
		pathStr := path.String()
		if used[pathStr] {
			return nil, rterrors.ValidationFailed("duplicate sibling key/path at " + pathStr)
		}
		used[pathStr] = true
		visited[pathStr] = true

		f, ok := r.byPath[pathStr]
		if !ok {
			f = &Fiber{Path: path, Key: el.Key, Parent: parent, renderer: r}
			f.tracker = reactive.NewTracker(pathStr, func() { r.MarkDirty(f) })
			f.contextDeps = map[any]struct{}{}
			r.byPath[pathStr] = f
		}
		f.Elem = el
		f.Parent = parent

		f.ClearDirty()
		grandchildren, err := r.renderOneFiber(f)
		if err != nil {
			return nil, err
		}
		kids, err := func() ([]*Fiber, error) {
			if pe, ok := f.Elem.Type.(providerElement); ok {
				pe.push(r)
				defer pe.pop(r)
			}
			return r.renderChildren(f, grandchildren, visited)
		}()
		if err != nil {
			return nil, err
		}
		f.Children = kids
		out = append(out, f)
	}
	return out, nil
}

// renderOneFiber executes f.Elem once (dispatching hooks if it's a
// Component, or simply passing through Props["children"] for a Provider,
// Fragment or intrinsic) and returns the Children it produced. A Provider's
// context value is pushed and popped by renderChildren, around the
// rendering of those children.
func (r *Renderer) renderOneFiber(f *Fiber) (element.Children, error) {
	var result element.Children
	var capturedErr error

	f.tracker.Track(func() {
		switch t := f.Elem.Type.(type) {
		case providerElement:
			result = f.Elem.Props["children"]

		case element.Component:
			prev := currentFiber.Swap(f)
			f.hookIdx = 0
			f.declared = nil
			f.instanceCounts = nil
			f.contextDeps = map[any]struct{}{}
			defer currentFiber.Store(prev)
			defer func() {
				if p := recover(); p != nil {
					if e, ok := p.(error); ok {
						capturedErr = e
					} else {
						panic(p)
					}
				}
			}()
			result = t(f.Elem.Props)
			f.renderCount++

		default:
			// Fragment or intrinsic string: pass through children untouched.
			result = f.Elem.Props["children"]
		}
	})
	if capturedErr != nil {
		return nil, capturedErr
	}
	return result, nil
}

// prune removes any fiber whose path falls under prefix (or, when prefix is
// "", the whole table) that was not visited by the render pass that just
// completed, releasing its render-tracker subscriptions and context
// consumer registrations: a fiber is destroyed once its parent no longer
// renders that occurrence.
func (r *Renderer) prune(prefix string, visited map[string]bool) {
	for path, f := range r.byPath {
		if prefix != "" && path != prefix && !strings.HasPrefix(path, prefix+".") {
			continue
		}
		if visited[path] {
			continue
		}
		delete(r.byPath, path)
		f.tracker.Dispose()
		for id, set := range r.ctxConsumers {
			delete(set, f)
			if len(set) == 0 {
				delete(r.ctxConsumers, id)
			}
		}
	}
}

// flatten skips nil, false, and undefined children and flattens nested
// slices.
func flatten(children element.Children) []any {
	var out []any
	var walk func(c any)
	walk = func(c any) {
		switch v := c.(type) {
		case nil:
			return
		case bool:
			if v {
				// A bare `true` isn't a valid child either way, so this is
				// unreachable for well-formed trees and intentionally a
				// no-op rather than an error.
				return
			}
			return
		case element.Element:
			out = append(out, v)
		case []element.Children:
			for _, cc := range v {
				walk(cc)
			}
		case []element.Element:
			for _, cc := range v {
				out = append(out, cc)
			}
		case []any:
			for _, cc := range v {
				walk(cc)
			}
		default:
			out = append(out, v)
		}
	}
	walk(children)
	return out
}
