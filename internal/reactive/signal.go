// Package reactive implements the fine-grained signal layer: signals,
// computations, and batched propagation. A signal tracks a
// dynamically-scoped "current computation" and notifies subscribers on
// write, with batched, synchronous-flush semantics layered on top so a
// burst of writes inside a Batch flushes its dependents exactly once.
package reactive

import (
	"reflect"
	"sync"
	"sync/atomic"
)

// cycleCap bounds how many times a single computation may be re-scheduled
// within one flush before the flush is considered a runaway cycle. Small on
// purpose: real convergence happens in a handful of passes.
const cycleCap = 64

// subscription is the signal-shaped half of the dependency edge between a
// signal and a Computation; it lets Computation.Track drop stale edges
// without needing to know the signal's value type.
type subscription interface {
	unsubscribe(c *Computation)
}

// currentComputation is the dynamically-scoped tracker, the reactive-graph
// analogue of a fiber-scheduler's atomic.Pointer[Fiber] "current" cursor.
var currentComputation atomic.Pointer[Computation]

// Signal is a reactive value cell. Reads made while a Computation is being
// tracked subscribe that computation; writes that actually change the value
// (by the equality function, identity equality by default) schedule every
// subscriber for the current or an ad-hoc flush.
type Signal[T any] struct {
	mu          sync.Mutex
	value       T
	version     uint64
	subscribers map[*Computation]struct{}
	equal       func(a, b T) bool
}

// NewSignal creates a signal cell directly; most callers should use
// CreateSignal for the read/write closure pair, but node output signals
// are held as *Signal[T] directly so their write-ownership
// is enforced by only the node package holding a reference with write
// access.
func NewSignal[T any](initial T) *Signal[T] {
	return &Signal[T]{value: initial, subscribers: map[*Computation]struct{}{}, equal: defaultEqual[T]}
}

// CreateSignal implements createSignal<T>(initial) -> (read, write).
func CreateSignal[T any](initial T) (read func() T, write func(T)) {
	s := NewSignal(initial)
	return s.Read, s.Write
}

func defaultEqual[T any](a, b T) bool {
	ai, bi := any(a), any(b)
	if ai == nil || bi == nil {
		// A nil interface has no dynamic type to ask about comparability.
		return ai == nil && bi == nil
	}
	if !reflect.TypeOf(ai).Comparable() || !reflect.TypeOf(bi).Comparable() {
		// Slices, maps, and funcs are never identity-equal to a freshly
		// constructed replacement; treat every such write as a change.
		return false
	}
	return ai == bi
}

// Read returns the current value and, if called while a Computation is
// tracking, subscribes that computation to future writes.
func (s *Signal[T]) Read() T {
	s.mu.Lock()
	v := s.value
	s.mu.Unlock()

	if c := currentComputation.Load(); c != nil {
		s.mu.Lock()
		s.subscribers[c] = struct{}{}
		s.mu.Unlock()
		c.addSource(s)
	}
	return v
}

// Write updates the value if it differs from the current one and schedules
// every subscriber. Writes made inside a Batch are deferred to that batch's
// synchronous flush; writes made outside one flush immediately.
func (s *Signal[T]) Write(v T) {
	s.mu.Lock()
	if s.equal(s.value, v) {
		s.mu.Unlock()
		return
	}
	s.value = v
	s.version++
	subs := make([]*Computation, 0, len(s.subscribers))
	for c := range s.subscribers {
		subs = append(subs, c)
	}
	s.mu.Unlock()

	// A write made outside of Batch drains its own ad-hoc flush immediately
	// (there is no microtask queue to defer to in this runtime) and has no
	// caller-visible error channel, so a cycle detected there panics; writes
	// during deployment are always wrapped in Batch, which returns the error
	// instead.
	if err := enqueueSubs(subs); err != nil {
		panic(err)
	}
}

func (s *Signal[T]) unsubscribe(c *Computation) {
	s.mu.Lock()
	delete(s.subscribers, c)
	s.mu.Unlock()
}

// Update atomically reads, transforms, and writes the value — the
// functional-update form callers reach for instead of a
// Read-then-Write pair that could race with a concurrent writer. fn runs
// while the signal's lock is held, so it must not read or write s itself.
func (s *Signal[T]) Update(fn func(T) T) {
	s.mu.Lock()
	v := fn(s.value)
	if s.equal(s.value, v) {
		s.mu.Unlock()
		return
	}
	s.value = v
	s.version++
	subs := make([]*Computation, 0, len(s.subscribers))
	for c := range s.subscribers {
		subs = append(subs, c)
	}
	s.mu.Unlock()

	if err := enqueueSubs(subs); err != nil {
		panic(err)
	}
}
