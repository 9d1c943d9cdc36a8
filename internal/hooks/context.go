package hooks

import "github.com/cloudrt/cloudrt/internal/fiber"

// UseContext is the hook-surface read side, named to match the rest of the
// hook surface; it is a thin pass-through to Context.Read since the
// provider/consumer stack has to live in package fiber (the renderer
// special-cases the Provider element type).
func UseContext[T any](ctx *fiber.Context[T]) (T, error) {
	return ctx.Read()
}
