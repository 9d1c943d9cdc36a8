package reactive

import (
	"sync"

	"github.com/cloudrt/cloudrt/internal/rterrors"
)

// runner is one flush's scheduling queue: a FIFO of computations to run,
// with in-queue coalescing (a computation scheduled twice before it runs is
// only queued once) and a per-computation run count used to detect runaway
// cycles.
type runner struct {
	pending  []*Computation
	inQueue  map[*Computation]bool
	runCount map[*Computation]int
}

func newRunner() *runner {
	return &runner{inQueue: map[*Computation]bool{}, runCount: map[*Computation]int{}}
}

func (r *runner) push(c *Computation) {
	if r.inQueue[c] {
		return
	}
	r.inQueue[c] = true
	r.pending = append(r.pending, c)
}

// drain runs every queued computation, appending any computation it
// re-schedules (a cascading write) to the same queue, until the queue is
// empty or a computation exceeds cycleCap re-schedulings in this flush.
func (r *runner) drain() error {
	for len(r.pending) > 0 {
		c := r.pending[0]
		r.pending = r.pending[1:]
		r.inQueue[c] = false

		r.runCount[c]++
		if r.runCount[c] > cycleCap {
			return rterrors.CycleDetected(c.name, cycleCap)
		}
		c.onSchedule()
	}
	return nil
}

var (
	flushMu      sync.Mutex
	currentFlush *runner
)

// enqueueSubs schedules every computation in subs. If a Batch is currently
// open, they join its flush queue and Batch's own drain reports any error;
// otherwise an ad-hoc runner is created and drained immediately.
func enqueueSubs(subs []*Computation) error {
	flushMu.Lock()
	r := currentFlush
	owned := r == nil
	if owned {
		r = newRunner()
	}
	for _, c := range subs {
		r.push(c)
	}
	flushMu.Unlock()

	if !owned {
		return nil // the enclosing Batch will drain it
	}
	return r.drain()
}

// batchDepth tracks nesting so only the outermost Batch call drains.
var batchDepth int

// Batch suspends subscriber notification until fn returns, then flushes
// every computation scheduled during fn synchronously, in the order they
// were first scheduled. Nested Batch calls defer their flush to the
// outermost one. This is the mechanism that makes output-signal writes
// during deployment atomic: every dependent fiber becomes dirty before the
// driver inspects the dirty set.
func Batch(fn func()) error {
	flushMu.Lock()
	outermost := currentFlush == nil
	if outermost {
		currentFlush = newRunner()
	}
	batchDepth++
	flushMu.Unlock()

	var panicVal any
	func() {
		defer func() { panicVal = recover() }()
		fn()
	}()

	flushMu.Lock()
	batchDepth--
	flushMu.Unlock()

	if !outermost {
		if panicVal != nil {
			panic(panicVal)
		}
		return nil
	}

	// currentFlush is left pointing at this flush's runner through drain
	// so a cascading Signal.Write triggered by one of its own computations
	// joins the same queue instead of spinning up a fresh runner with a
	// fresh cycleCap budget; it is only cleared once the flush is fully
	// drained.
	flushMu.Lock()
	r := currentFlush
	flushMu.Unlock()

	var err error
	if panicVal == nil {
		err = r.drain()
	}

	flushMu.Lock()
	currentFlush = nil
	flushMu.Unlock()

	if panicVal != nil {
		panic(panicVal)
	}
	return err
}
