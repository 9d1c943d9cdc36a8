// Package reconcile implements the reconciler: a pure function
// from (previousNodes, currentNodes) to a change-set, dependency-ordered
// into parallel deployment batches via topological layering of a
// dependency DAG into ordered "parallelBatches", with cycle detection
// over that same node/output-read dependency model.
package reconcile

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/go-cmp/cmp"
	"github.com/xlab/treeprint"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/gocty"

	"github.com/cloudrt/cloudrt/internal/rterrors"
)

// Node is the reconciler's input/output shape: a flat
// {id, path, constructType, props}. It is
// deliberately its own small struct (not node.Node) so this package stays a
// pure function over plain data, independent of the renderer/registry's
// live signal-backed bookkeeping.
type Node struct {
	ID            string
	Path          string
	ConstructType string
	Props         map[string]any

	// Reads lists the ids of other nodes whose output signals this node's
	// declaring fiber read during the render that produced it — the second
	// dependency source alongside path-prefix parenthood.
	Reads []string

	// Immutable names the prop keys whose change forces a replacement
	// rather than an in-place update (provider-declared): changing one of
	// these keys always forces a replacement rather than an update.
	Immutable map[string]bool
}

// ChangeSet is the reconciler's full output.
type ChangeSet struct {
	Creates         []string
	Deletes         []string
	Updates         []string
	Replacements    []string
	DeploymentOrder []string
	ParallelBatches [][]string
}

// DebugRepr renders the change-set as a human-readable tree, one branch
// per parallel batch.
func (cs ChangeSet) DebugRepr() string {
	root := treeprint.New()
	kinds := root.AddBranch(fmt.Sprintf("creates=%d updates=%d deletes=%d replacements=%d",
		len(cs.Creates), len(cs.Updates), len(cs.Deletes), len(cs.Replacements)))
	for i, batch := range cs.ParallelBatches {
		b := kinds.AddBranch(fmt.Sprintf("batch %d", i))
		for _, id := range batch {
			b.AddNode(id)
		}
	}
	return root.String()
}

// Diff computes the change-set between a previous and current flat node
// list.
func Diff(previous, current []Node) (ChangeSet, error) {
	prevByID := indexByID(previous)
	curByID := indexByID(current)

	var cs ChangeSet
	for id := range curByID {
		if _, ok := prevByID[id]; !ok {
			cs.Creates = append(cs.Creates, id)
		}
	}
	for id := range prevByID {
		if _, ok := curByID[id]; !ok {
			cs.Deletes = append(cs.Deletes, id)
		}
	}
	replacements := map[string]bool{}
	for id, cur := range curByID {
		prev, ok := prevByID[id]
		if !ok {
			continue
		}
		constructChanged := cur.ConstructType != prev.ConstructType
		if !constructChanged && propsEqual(prev.Props, cur.Props) {
			continue
		}
		cs.Updates = append(cs.Updates, id)
		if constructChanged || immutableChanged(prev, cur) {
			replacements[id] = true
		}
	}
	for id := range replacements {
		cs.Replacements = append(cs.Replacements, id)
	}

	sort.Strings(cs.Creates)
	sort.Strings(cs.Deletes)
	sort.Strings(cs.Updates)
	sort.Strings(cs.Replacements)

	touched := map[string]bool{}
	for _, id := range cs.Creates {
		touched[id] = true
	}
	for _, id := range cs.Updates {
		touched[id] = true
	}

	order, batches, err := order(touched, curByID)
	if err != nil {
		return ChangeSet{}, err
	}
	cs.DeploymentOrder = order
	cs.ParallelBatches = batches
	return cs, nil
}

func indexByID(nodes []Node) map[string]Node {
	out := make(map[string]Node, len(nodes))
	for _, n := range nodes {
		out[n.ID] = n
	}
	return out
}

// propsEqual compares props by structural equality, ignoring output-only
// fields: props never carry output-only fields (those live in a separate
// map), so a direct structural comparison suffices. It goes through go-cty
// so numeric/string/bool/collection values compare by value rather than by
// Go representation quirks (e.g. int(1) vs float64(1) from a JSON round
// trip), with go-cmp as a fallback for any prop value that doesn't convert.
func propsEqual(a, b map[string]any) bool {
	ca, aok := toCty(a)
	cb, bok := toCty(b)
	if aok && bok {
		return ca.RawEquals(cb)
	}
	return cmp.Equal(a, b)
}

func toCty(m map[string]any) (cty.Value, bool) {
	vals := make(map[string]cty.Value, len(m))
	for k, v := range m {
		cv, ok := ctyValue(v)
		if !ok {
			return cty.NilVal, false
		}
		vals[k] = cv
	}
	if len(vals) == 0 {
		return cty.EmptyObjectVal, true
	}
	return cty.ObjectVal(vals), true
}

func ctyValue(v any) (cty.Value, bool) {
	switch t := v.(type) {
	case nil:
		return cty.NullVal(cty.DynamicPseudoType), true
	case string:
		return cty.StringVal(t), true
	case bool:
		return cty.BoolVal(t), true
	case int:
		cv, err := gocty.ToCtyValue(t, cty.Number)
		return cv, err == nil
	case int64:
		cv, err := gocty.ToCtyValue(t, cty.Number)
		return cv, err == nil
	case float64:
		cv, err := gocty.ToCtyValue(t, cty.Number)
		return cv, err == nil
	case map[string]any:
		return toCty(t)
	case []any:
		elems := make([]cty.Value, 0, len(t))
		for _, e := range t {
			cv, ok := ctyValue(e)
			if !ok {
				return cty.NilVal, false
			}
			elems = append(elems, cv)
		}
		if len(elems) == 0 {
			return cty.EmptyTupleVal, true
		}
		return cty.TupleVal(elems), true
	default:
		return cty.NilVal, false
	}
}

func immutableChanged(prev, cur Node) bool {
	for k := range cur.Immutable {
		if !cmp.Equal(prev.Props[k], cur.Props[k]) {
			return true
		}
	}
	return false
}

// order computes the topological deployment order and its parallel
// batching for the touched id set, using path-prefix parenthood and
// recorded output reads as the two dependency sources.
func order(touched map[string]bool, byID map[string]Node) ([]string, [][]string, error) {
	deps := map[string]map[string]bool{}
	for id := range touched {
		deps[id] = map[string]bool{}
	}
	for id := range touched {
		n := byID[id]
		for other := range touched {
			if other == id {
				continue
			}
			if isPathParent(byID[other].Path, n.Path) {
				deps[id][other] = true
			}
		}
		for _, r := range n.Reads {
			if touched[r] {
				deps[id][r] = true
			}
		}
	}

	var deployOrder []string
	var batches [][]string
	remaining := map[string]bool{}
	for id := range touched {
		remaining[id] = true
	}

	for len(remaining) > 0 {
		var batch []string
		for id := range remaining {
			ready := true
			for dep := range deps[id] {
				if remaining[dep] {
					ready = false
					break
				}
			}
			if ready {
				batch = append(batch, id)
			}
		}
		if len(batch) == 0 {
			return nil, nil, rterrors.CycleInDependencies(cyclePath(remaining, deps))
		}
		sort.Strings(batch) // lexicographic tie-breaking within a batch
		batches = append(batches, batch)
		deployOrder = append(deployOrder, batch...)
		for _, id := range batch {
			delete(remaining, id)
		}
	}
	return deployOrder, batches, nil
}

// isPathParent reports whether parent is a strict path-prefix ancestor of
// child, the first of the reconciler's two dependency sources.
func isPathParent(parent, child string) bool {
	if parent == "" || parent == child {
		return false
	}
	return strings.HasPrefix(child, parent+".")
}

func cyclePath(remaining map[string]bool, deps map[string]map[string]bool) []string {
	out := make([]string, 0, len(remaining))
	for id := range remaining {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
