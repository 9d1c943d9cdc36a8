package reactive

import "sync"

// Computation is a tracked reaction over signals: a component render, an
// effect, or a derived (Computed) value. Track re-runs fn with this
// computation set as the current tracker, dropping subscriptions to sources
// it no longer reads and collecting the ones it does.
type Computation struct {
	name       string
	mu         sync.Mutex
	sources    []subscription
	onSchedule func()
}

// NewComputation runs fn once, tracking it, and arranges for fn to re-run
// (fully re-tracking its sources) whenever any of those sources next
// changes. This is the derived-value / effect shape.
func NewComputation(name string, fn func()) *Computation {
	c := &Computation{name: name}
	c.onSchedule = func() { c.Track(fn) }
	c.Track(fn)
	return c
}

// NewTracker builds a computation whose scheduling is driven externally: the
// caller supplies onDirty, invoked (once per flush, coalesced) when a
// tracked source changes, and is responsible for calling Track again itself
// to resume tracking. This is what the fiber renderer uses: marking a fiber
// dirty must not synchronously re-render it out of path order, so the
// convergence driver's re-render pass calls Track, not the flush itself.
func NewTracker(name string, onDirty func()) *Computation {
	return &Computation{name: name, onSchedule: onDirty}
}

// Track runs fn with c as the current dependency tracker, replacing c's
// previous source set with whatever fn reads this time.
func (c *Computation) Track(fn func()) {
	c.mu.Lock()
	old := c.sources
	c.sources = nil
	c.mu.Unlock()
	for _, s := range old {
		s.unsubscribe(c)
	}

	prev := currentComputation.Swap(c)
	defer currentComputation.Store(prev)
	fn()
}

func (c *Computation) addSource(s subscription) {
	c.mu.Lock()
	c.sources = append(c.sources, s)
	c.mu.Unlock()
}

// Name identifies the computation in CycleDetected diagnostics.
func (c *Computation) Name() string { return c.name }

// Sources returns the signals (as opaque, identity-comparable values) this
// computation read the last time it ran, used by package converge to
// derive the "nodes whose output signals this node's declaring fiber read"
// dependency edge.
func (c *Computation) Sources() []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]any, len(c.sources))
	for i, s := range c.sources {
		out[i] = s
	}
	return out
}

// Dispose drops every subscription this computation holds, used when a fiber
// is torn down so its stale render-tracker cannot be scheduled again.
func (c *Computation) Dispose() {
	c.mu.Lock()
	old := c.sources
	c.sources = nil
	c.mu.Unlock()
	for _, s := range old {
		s.unsubscribe(c)
	}
}
