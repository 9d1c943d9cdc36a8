package errorhandling

import (
	"errors"
	"testing"
)

func TestSafeReturnsUnderlyingError(t *testing.T) {
	boom := errors.New("boom")
	err := Safe(func() error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("expected %v, got %v", boom, err)
	}
}

func TestSafeReturnsNilOnSuccess(t *testing.T) {
	if err := Safe(func() error { return nil }); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestSafeConvertsPanicToError(t *testing.T) {
	err := Safe(func() error {
		panic("effect exploded")
	})
	if err == nil {
		t.Fatalf("expected a non-nil error from a recovered panic")
	}
	if err.Error() != "effect exploded" {
		t.Fatalf("unexpected error message: %q", err.Error())
	}
}

func TestSafeConvertsPanicValueThatIsAnErrorDirectly(t *testing.T) {
	boom := errors.New("panicked with an error value")
	err := Safe(func() error {
		panic(boom)
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected the panicked error to surface via errors.Is, got %v", err)
	}
}
