// Package addr implements the hierarchical path identity used to match
// fibers and nodes across renders and across runs. A Segment is derived
// deterministically from a component's display name plus an explicit key or
// a sibling index, an IntKey/StringKey split applied one level up, to
// component occurrences rather than resource instances.
package addr

import (
	"strconv"
	"strings"
)

// Segment identifies one step from a parent fiber to a child: the child's
// display name, plus either an explicit key or, absent one, its index among
// same-type siblings.
type Segment struct {
	Name string
	Key  string // explicit key, if any
	Idx  int    // sibling index among same-type siblings, used when Key == ""
}

// String renders a segment the same way for any caller that needs a human
// legible path (debug dumps, DuplicateNodeID messages).
func (s Segment) String() string {
	if s.Key != "" {
		return s.Name + "[" + s.Key + "]"
	}
	return s.Name + "#" + strconv.Itoa(s.Idx)
}

// NewKeyedSegment builds a segment disambiguated by an explicit key (e.g.
// props.name or props.key).
func NewKeyedSegment(name, key string) Segment {
	return Segment{Name: name, Key: key}
}

// NewIndexedSegment builds a segment disambiguated by sibling position.
func NewIndexedSegment(name string, idx int) Segment {
	return Segment{Name: name, Idx: idx}
}

// Path is the ordered sequence of segments from the root. Two paths built
// from the same segments in the same order always compare equal, which is
// what gives a node a stable identity across renders.
type Path []Segment

// Child returns a new path with seg appended; Path values are never mutated
// in place so a fiber can safely hand its Path to children without risking
// aliasing bugs across renders.
func (p Path) Child(seg Segment) Path {
	out := make(Path, len(p)+1)
	copy(out, p)
	out[len(p)] = seg
	return out
}

// String renders the full dotted path, used for node ids and debug output.
func (p Path) String() string {
	var b strings.Builder
	for i, s := range p {
		if i > 0 {
			b.WriteByte('.')
		}
		b.WriteString(s.String())
	}
	return b.String()
}

// Equal reports structural equality, used by the fiber reconciliation pass
// to decide whether a previous-render fiber can be reused.
func (p Path) Equal(other Path) bool {
	if len(p) != len(other) {
		return false
	}
	for i := range p {
		if p[i] != other[i] {
			return false
		}
	}
	return true
}
