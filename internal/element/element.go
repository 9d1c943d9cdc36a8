// Package element implements the immutable element tree the renderer walks:
// CreateElement, Fragment, and the type-erased Type union (component
// function, intrinsic string, or the fragment marker).
package element

// Component is a user-authored render function: given props, it returns the
// children to render (another Element, a slice of Elements, or nil).
type Component func(props Props) Children

// Props is the property bag passed to a component or intrinsic. It is an
// open map so call sites can pass any shape; UseInstance treats a nil entry
// specially (see hooks.UseInstance).
type Props map[string]any

// Children is whatever a component or Element's Props["children"] produced:
// nil, a single Element, or a slice possibly containing nested slices
// (flattened by the renderer) and nil/false/"skip" placeholders.
type Children any

// fragmentMarker is the sentinel Type value used for Fragment elements,
// which render their children without introducing a path segment of their
// own beyond "Fragment" itself (so two sibling fragments at the same index
// still disambiguate correctly).
type fragmentMarker struct{}

// Fragment is the Type used to group children without an intrinsic wrapper.
var Fragment = fragmentMarker{}

// Element is an immutable description of one component invocation:
// {Type, Props, Key}. Type is a Component, an intrinsic string, or Fragment.
type Element struct {
	Type  any
	Props Props
	Key   string
}

// CreateElement is the language-neutral, non-JSX element constructor:
// createElement(type, props, ...children).
func CreateElement(typ any, props Props, children ...Children) Element {
	if props == nil {
		props = Props{}
	} else {
		cloned := make(Props, len(props))
		for k, v := range props {
			cloned[k] = v
		}
		props = cloned
	}
	explicitKey, _ := props["key"].(string)
	if _, has := props["key"]; has {
		// key is carried on Element.Key, not left in Props, so props
		// comparisons during reconciliation never see it as a data field.
		delete(props, "key")
	}
	if len(children) == 1 {
		props["children"] = children[0]
	} else if len(children) > 1 {
		anySlice := make([]Children, len(children))
		copy(anySlice, children)
		props["children"] = anySlice
	}
	key, _ := props["__key"].(string)
	if explicitKey != "" {
		key = explicitKey
	}
	delete(props, "__key")
	return Element{Type: typ, Props: props, Key: key}
}

// WithKey returns a copy of el carrying the given identity key, used by
// authors that need stable identity across a changing element list (the
// equivalent of a React "key" prop).
func WithKey(el Element, key string) Element {
	el.Key = key
	return el
}

// DisplayName returns the name used in path segments: a component's
// function name, the intrinsic string itself, or "Fragment".
func DisplayName(typ any) string {
	switch t := typ.(type) {
	case string:
		return t
	case fragmentMarker:
		return "Fragment"
	case interface{ Name() string }:
		return t.Name()
	default:
		return componentFuncName(typ)
	}
}
