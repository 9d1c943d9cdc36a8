package addr

import "testing"

func TestSegmentStringUsesKeyWhenPresent(t *testing.T) {
	s := NewKeyedSegment("Bucket", "primary")
	if got, want := s.String(), "Bucket[primary]"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestSegmentStringFallsBackToIndex(t *testing.T) {
	s := NewIndexedSegment("Bucket", 2)
	if got, want := s.String(), "Bucket#2"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestPathChildAppendsWithoutMutatingParent(t *testing.T) {
	root := Path{NewKeyedSegment("Stack", "demo")}
	child := root.Child(NewIndexedSegment("Bucket", 0))

	if len(root) != 1 {
		t.Fatalf("expected Child to leave the parent untouched, got len %d", len(root))
	}
	if len(child) != 2 {
		t.Fatalf("expected child path of length 2, got %d", len(child))
	}
	if got, want := child.String(), "Stack[demo].Bucket#0"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestPathChildDoesNotAliasSiblingPaths(t *testing.T) {
	root := Path{NewKeyedSegment("Stack", "demo")}
	a := root.Child(NewIndexedSegment("Bucket", 0))
	b := root.Child(NewIndexedSegment("Bucket", 1))

	if a.Equal(b) {
		t.Fatalf("expected distinct sibling paths to compare unequal")
	}
	if !a.Equal(a) {
		t.Fatalf("expected a path to equal itself")
	}
}

func TestPathEqualRequiresSameLength(t *testing.T) {
	short := Path{NewKeyedSegment("Stack", "demo")}
	long := short.Child(NewIndexedSegment("Bucket", 0))
	if short.Equal(long) {
		t.Fatalf("expected paths of different lengths to compare unequal")
	}
}
