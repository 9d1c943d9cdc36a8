// Package hooks implements the public hook surface components call during
// render: useInstance, useContext, useStore/useState, and useEffect, all
// built from fiber.UseSlot, the reactive signal layer, and the node
// registry.
package hooks

import (
	"github.com/cloudrt/cloudrt/internal/addr"
	"github.com/cloudrt/cloudrt/internal/fiber"
	"github.com/cloudrt/cloudrt/internal/node"
	"github.com/cloudrt/cloudrt/internal/rterrors"
)

// Outputs is the accessor object UseInstance returns: for each output key
// k of the declared construct, Output[T](outputs, k) reads signals[k].
// Go has no structural union type for "T|undefined", so a key that was
// never filled (including every key on a placeholder instance) simply
// reads back nil; use the generic Output helper below for a typed read
// with a zero-value fallback.
type Outputs struct {
	n *node.Node
}

// Get reads output key as the renderer's internal any-typed signal value,
// registering a dependency on it for the currently-rendering fiber exactly
// like any other signal read. A placeholder Outputs (no backing node) or an
// unreferenced key both read as nil.
func (o Outputs) Get(key string) any {
	if o.n == nil {
		return nil
	}
	return o.n.Output(key).Read()
}

// IsPlaceholder reports whether this accessors object was returned because
// one or more props were undefined.
func (o Outputs) IsPlaceholder() bool { return o.n == nil }

// Output reads output key as T, returning T's zero value if the output is
// undefined or holds some other type. This is the typed counterpart to
// Outputs.Get for callers that know the shape of O at the call site.
func Output[T any](o Outputs, key string) T {
	var zero T
	v := o.Get(key)
	if v == nil {
		return zero
	}
	t, ok := v.(T)
	if !ok {
		return zero
	}
	return t
}

// UseInstance is useInstance<O>(constructClass, props) -> OutputAccessors<O>,
// with O represented by the caller's use of Output[T] against the returned
// Outputs rather than a reified type parameter (see DESIGN.md).
func UseInstance(constructType string, props map[string]any) (Outputs, error) {
	f := fiber.Current()
	if f == nil {
		return Outputs{}, rterrors.ValidationFailed("useInstance called outside of a component render")
	}

	nodePath := instancePath(f, constructType, props)

	cleaned, ok := cleanProps(props)
	if !ok {
		// Placeholder: no node is created. Whatever signal reads produced
		// the undefined prop already ran earlier in this render and are
		// already tracked by the fiber, so re-rendering with defined props
		// will naturally re-trigger this call site.
		return Outputs{}, nil
	}

	r := f.Renderer()
	n, err := r.Registry.Declare(nodePath, f.Path.String(), constructType, cleaned)
	if err != nil {
		return Outputs{}, err
	}
	f.AppendDeclaredNode(n)
	return Outputs{n: n}, nil
}

// instancePath computes a node's path: the parent fiber's path plus a
// segment keyed by an explicit name/key prop, or else the fiber's own
// per-construct-type call counter.
func instancePath(f *fiber.Fiber, constructType string, props map[string]any) addr.Path {
	var explicit string
	if v, ok := props["name"].(string); ok && v != "" {
		explicit = v
	} else if v, ok := props["key"].(string); ok && v != "" {
		explicit = v
	}

	var seg addr.Segment
	if explicit != "" {
		seg = addr.NewKeyedSegment(constructType, explicit)
	} else {
		seg = addr.NewIndexedSegment(constructType, f.NextInstanceIndex(constructType))
	}
	return f.Path.Child(seg)
}

// cleanProps runs a documented cleaning pass over props:
// a nil top-level value marks the whole props invalid (the call returns a
// placeholder); a nil entry inside a map-valued prop (an "env-style" map of
// optional values) is simply dropped rather than invalidating the props.
func cleanProps(props map[string]any) (map[string]any, bool) {
	cleaned := make(map[string]any, len(props))
	valid := true
	for k, v := range props {
		if v == nil {
			valid = false
			continue
		}
		if m, ok := v.(map[string]any); ok {
			sub := make(map[string]any, len(m))
			for mk, mv := range m {
				if mv != nil {
					sub[mk] = mv
				}
			}
			cleaned[k] = sub
			continue
		}
		cleaned[k] = v
	}
	return cleaned, valid
}
