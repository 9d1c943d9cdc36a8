package hooks

import (
	"reflect"

	"github.com/hashicorp/go-multierror"

	"github.com/cloudrt/cloudrt/internal/errorhandling"
	"github.com/cloudrt/cloudrt/internal/fiber"
	"github.com/cloudrt/cloudrt/internal/reactive"
	"github.com/cloudrt/cloudrt/internal/rterrors"
)

// effectState is the per-call-site bookkeeping UseEffect stores in its hook
// slot: the callback to run, its last two dependency lists, and whether it
// has ever run.
type effectState struct {
	fn       func() error
	deps     []any
	lastDeps []any
	hasRun   bool
}

// UseEffect registers fn as a post-deploy callback on the current fiber.
// It never runs fn itself; the convergence driver calls
// RunDueEffects once the render loop reaches a fixed point. Omitting deps
// (passing none) means "run on every fixed point"; passing deps means "run
// only when one of them differs by identity from last time."
func UseEffect(fn func() error, deps ...any) error {
	f := fiber.Current()
	if f == nil {
		return rterrors.ValidationFailed("useEffect called outside of a component render")
	}
	slot, err := fiber.UseSlot("effect", func() any { return &effectState{} })
	if err != nil {
		return err
	}
	st := (*slot).(*effectState)
	st.fn = fn
	st.deps = deps
	return nil
}

// RunDueEffects walks the fiber tree rooted at root, runs every effect whose
// dependencies changed (or that declared none) since it last ran, and
// returns their aggregated errors. Every due effect runs inside a single
// reactive.Batch, so effects that call store writers get the same
// atomic-flush guarantee deployment output writes get.
func RunDueEffects(root *fiber.Fiber) error {
	var due []*effectState
	var walk func(f *fiber.Fiber)
	walk = func(f *fiber.Fiber) {
		f.WalkSlots("effect", func(_ int, state *any) {
			st, ok := (*state).(*effectState)
			if !ok || st.fn == nil {
				return
			}
			if !st.hasRun || depsChanged(st.lastDeps, st.deps) {
				due = append(due, st)
			}
		})
		for _, c := range f.Children {
			walk(c)
		}
	}
	walk(root)
	if len(due) == 0 {
		return nil
	}

	var errs *multierror.Error
	batchErr := reactive.Batch(func() {
		for _, st := range due {
			if err := errorhandling.Safe(st.fn); err != nil {
				errs = multierror.Append(errs, err)
			}
			st.lastDeps = st.deps
			st.hasRun = true
		}
	})
	if batchErr != nil {
		errs = multierror.Append(errs, batchErr)
	}
	return errs.ErrorOrNil()
}

// depsChanged reports whether next differs from prev under identity
// equality, element-wise; omitted deps (next == nil) always count as
// changed, matching UseEffect's "omitted: always fires" rule.
func depsChanged(prev, next []any) bool {
	if next == nil {
		return true
	}
	if len(prev) != len(next) {
		return true
	}
	for i := range next {
		if !identityEqual(prev[i], next[i]) {
			return true
		}
	}
	return false
}

func identityEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb || !ta.Comparable() {
		return false
	}
	return a == b
}
