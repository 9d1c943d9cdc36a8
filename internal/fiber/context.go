package fiber

import "github.com/cloudrt/cloudrt/internal/element"

// Context system: a provider/consumer value stack keyed by context
// identity. It lives in this package (rather than in
// package hooks, where most of the public hook surface sits) because the
// renderer itself must special-case the Provider element type to push and
// pop the stack exactly around the rendering of that provider's children,
// including when a child render panics.

// Context is a typed provider/consumer channel. Two Context[T] values are
// distinct identities even if T and the default value are equal; identity
// is the pointer to the Context itself.
type Context[T any] struct {
	id       *Context[T]
	def      T
	required bool
}

// CreateContext creates a new context identity with the given default
// value. Call Required() on it if reading it without an enclosing Provider
// should be a ValidationFailed error rather than silently returning def.
func CreateContext[T any](def T) *Context[T] {
	c := &Context[T]{def: def}
	c.id = c
	return c
}

// Required marks the context so Read fails fast (ValidationFailed) instead
// of returning the default when no Provider is present, for contexts whose
// default genuinely doesn't make sense as a value when no provider is
// present.
func (c *Context[T]) Required() *Context[T] {
	c.required = true
	return c
}

// providerElement is the Type value produced by Context.Provider; the
// renderer recognizes it and pushes/pops the stack around the provided
// children instead of invoking it as an ordinary component function.
type providerElement struct {
	push func(r *Renderer)
	pop  func(r *Renderer)
}

// Provider returns an Element that, for as long as its children are being
// rendered, makes value the current value read by c.Read().
func (c *Context[T]) Provider(value T, children ...element.Children) element.Element {
	props := element.Props{}
	if len(children) == 1 {
		props["children"] = children[0]
	} else if len(children) > 1 {
		anySlice := make([]element.Children, len(children))
		copy(anySlice, children)
		props["children"] = anySlice
	}
	return element.Element{
		Type: providerElement{
			push: func(r *Renderer) { r.pushContext(c.id, value) },
			pop:  func(r *Renderer) { r.popContext(c.id) },
		},
		Props: props,
	}
}

// Read returns the current value of c, recording the context identity as a
// dependency of the currently-rendering fiber.
func (c *Context[T]) Read() (T, error) {
	f := Current()
	if f == nil {
		var zero T
		return zero, errOutsideRender("Context.Read")
	}
	f.contextDeps[c.id] = struct{}{}
	f.renderer.registerConsumer(c.id, f)
	v, ok := f.renderer.topContext(c.id)
	if !ok {
		if c.required {
			var zero T
			return zero, errMissingProvider(f.Path.String())
		}
		return c.def, nil
	}
	return v.(T), nil
}

type ctxFrame struct {
	value any
}

func (r *Renderer) pushContext(id any, value any) {
	r.ctxStacks[id] = append(r.ctxStacks[id], ctxFrame{value: value})
}

func (r *Renderer) popContext(id any) {
	stack := r.ctxStacks[id]
	r.ctxStacks[id] = stack[:len(stack)-1]
}

func (r *Renderer) topContext(id any) (any, bool) {
	stack := r.ctxStacks[id]
	if len(stack) == 0 {
		return nil, false
	}
	return stack[len(stack)-1].value, true
}

func (r *Renderer) registerConsumer(id any, f *Fiber) {
	set, ok := r.ctxConsumers[id]
	if !ok {
		set = map[*Fiber]struct{}{}
		r.ctxConsumers[id] = set
	}
	set[f] = struct{}{}
}

// notifyProviderValueChanged marks every fiber currently registered as a
// consumer of id dirty, via Renderer.MarkDirty.
func (r *Renderer) notifyProviderValueChanged(id any) {
	for f := range r.ctxConsumers[id] {
		r.MarkDirty(f)
	}
}
