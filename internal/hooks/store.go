package hooks

import (
	"github.com/cloudrt/cloudrt/internal/fiber"
	"github.com/cloudrt/cloudrt/internal/idgen"
	"github.com/cloudrt/cloudrt/internal/node"
	"github.com/cloudrt/cloudrt/internal/reactive"
	"github.com/cloudrt/cloudrt/internal/rterrors"
)

// UseStore is useStore(initial): a state cell scoped to the fiber, whose
// value survives across renders (it's a signal, read-tracked like any
// other) and is mirrored into the fiber's store node's separate state
// namespace. It is not persisted across runs: the convergence driver's
// snapshot holds only nodes declared through UseInstance, so the store
// node's state is never written to the backend and a new run starts from
// initial. UseState is the identical primitive under a more familiar name.
func UseStore[T any](initial T) (T, func(T), func(func(T) T), error) {
	f := fiber.Current()
	if f == nil {
		var zero T
		return zero, nil, nil, rterrors.ValidationFailed("useStore called outside of a component render")
	}
	storeNode := storeNodeFor(f)

	slot, err := fiber.UseSlot("store", func() any {
		v := initial
		if raw, ok := storeNode.GetState("value"); ok {
			if typed, ok := raw.(T); ok {
				v = typed
			}
		}
		return reactive.NewSignal(v)
	})
	if err != nil {
		var zero T
		return zero, nil, nil, err
	}
	s := (*slot).(*reactive.Signal[T])

	deferred := func(apply func()) {
		if fiber.Current() != nil {
			// Called synchronously during a render: stage it rather than
			// applying now, to avoid mid-render inconsistency.
			f.Renderer().DeferStoreWrite(apply)
			return
		}
		apply()
	}

	set := func(v T) {
		deferred(func() {
			s.Write(v)
			storeNode.SetState("value", v)
		})
	}
	// update is the functional-setState form: it reads the current value and
	// writes its transform atomically via Signal.Update, so a caller
	// computing the next value from the current one (a counter increment, an
	// append to a persisted slice) never races a concurrent writer between
	// its own read and write.
	update := func(fn func(T) T) {
		deferred(func() {
			s.Update(fn)
			storeNode.SetState("value", s.Read())
		})
	}
	return s.Read(), set, update, nil
}

// UseState is the useState alias alongside UseStore.
func UseState[T any](initial T) (T, func(T), func(func(T) T), error) {
	return UseStore(initial)
}

// storeNodeFor resolves the node.Node that owns a fiber's persisted store
// namespace, keyed by the fiber's own path rather than any useInstance call
// it may or may not also make.
func storeNodeFor(f *fiber.Fiber) *node.Node {
	id := idgen.NodeID(f.Path)
	return f.Renderer().Registry.GetOrCreate(id, f.Path, "__store__")
}
