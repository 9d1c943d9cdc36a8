package element

import (
	"path"
	"reflect"
	"runtime"
	"strings"
)

// componentFuncName recovers a stable, readable name for a Component value
// using its function pointer, so two elements of the same component
// function produce the same path segment name across renders without the
// author needing to register a name explicitly.
func componentFuncName(typ any) string {
	v := reflect.ValueOf(typ)
	if v.Kind() != reflect.Func {
		return "Anonymous"
	}
	full := runtime.FuncForPC(v.Pointer()).Name()
	full = path.Base(full)
	if idx := strings.LastIndex(full, "."); idx >= 0 {
		full = full[idx+1:]
	}
	full = strings.TrimSuffix(full, "-fm")
	if full == "" {
		return "Anonymous"
	}
	return full
}
