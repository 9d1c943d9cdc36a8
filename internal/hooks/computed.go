package hooks

import (
	"github.com/cloudrt/cloudrt/internal/fiber"
	"github.com/cloudrt/cloudrt/internal/reactive"
	"github.com/cloudrt/cloudrt/internal/rterrors"
)

// UseComputed is useMemo built directly on reactive.Computed: fn runs once,
// on the fiber's first render, to seed the memoized value, then
// automatically re-runs whenever a signal it reads changes — independent of
// whether the owning fiber itself re-renders. Read subscribes the calling
// Computation the same way reading any other signal would, so a computed
// value can itself feed another UseComputed or an effect.
func UseComputed[T any](name string, fn func() T) (T, error) {
	if fiber.Current() == nil {
		var zero T
		return zero, rterrors.ValidationFailed("useComputed called outside of a component render")
	}
	slot, err := fiber.UseSlot("computed", func() any {
		return reactive.NewComputed(name, fn)
	})
	if err != nil {
		var zero T
		return zero, err
	}
	c := (*slot).(*reactive.Computed[T])
	return c.Read(), nil
}
