package reactive

import (
	"testing"

	"github.com/cloudrt/cloudrt/internal/rterrors"
)

func TestSignalReadWrite(t *testing.T) {
	read, write := CreateSignal(1)
	if got := read(); got != 1 {
		t.Fatalf("got %d, want 1", got)
	}
	write(2)
	if got := read(); got != 2 {
		t.Fatalf("got %d, want 2", got)
	}
}

func TestWriteSameValueDoesNotSchedule(t *testing.T) {
	s := NewSignal(5)
	runs := 0
	c := NewTracker("t", func() { runs++ })
	c.Track(func() { s.Read() })

	s.Write(5) // identical value: no-op
	if runs != 0 {
		t.Fatalf("expected no schedule on identical write, got %d", runs)
	}
	s.Write(6)
	if runs != 1 {
		t.Fatalf("expected exactly one schedule, got %d", runs)
	}
}

func TestBatchDefersAndCoalesces(t *testing.T) {
	s := NewSignal(0)
	runs := 0
	c := NewTracker("t", func() { runs++ })
	c.Track(func() { s.Read() })

	err := Batch(func() {
		s.Write(1)
		s.Write(2)
		s.Write(3)
		if runs != 0 {
			t.Fatalf("computation ran before batch flushed")
		}
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if runs != 1 {
		t.Fatalf("expected coalesced single schedule, got %d", runs)
	}
}

func TestNestedBatchDefersToOutermost(t *testing.T) {
	s := NewSignal(0)
	runs := 0
	c := NewTracker("t", func() { runs++ })
	c.Track(func() { s.Read() })

	err := Batch(func() {
		_ = Batch(func() {
			s.Write(1)
		})
		if runs != 0 {
			t.Fatalf("inner batch flushed before outer batch completed")
		}
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if runs != 1 {
		t.Fatalf("expected exactly one schedule after outer batch, got %d", runs)
	}
}

func TestComputationUnsubscribesStaleSourcesOnRetrack(t *testing.T) {
	a := NewSignal(true)
	b := NewSignal(0)
	reads := 0
	var c *Computation
	c = NewTracker("cond", func() {
		c.Track(func() {
			if a.Read() {
				b.Read()
			}
			reads++
		})
	})
	c.Track(func() {
		if a.Read() {
			b.Read()
		}
		reads++
	})

	a.Write(false) // re-tracks, no longer reads b
	if reads != 2 {
		t.Fatalf("expected 2 runs so far, got %d", reads)
	}

	b.Write(42) // should no longer be subscribed
	if reads != 2 {
		t.Fatalf("expected stale source to be unsubscribed, reads=%d", reads)
	}
}

func TestCascadingWriteExceedsCycleCap(t *testing.T) {
	s := NewSignal(0)
	var c *Computation
	cascade := func() {
		v := s.Read()
		s.Write(v + 1) // always schedules itself again
	}
	c = NewTracker("cycle", func() {
		c.Track(cascade)
	})
	c.Track(func() { s.Read() }) // initial subscribe, read-only so it doesn't itself cascade

	err := Batch(func() {
		s.Write(1)
	})
	if err == nil {
		t.Fatalf("expected CycleDetected error")
	}
	if !rterrors.Is(err, rterrors.CodeCycleDetected) {
		t.Fatalf("expected CodeCycleDetected, got %v", err)
	}
}
