// Package logging sets up the module's single structured root logger:
// a sync.OnceValue-cached named root, with per-subsystem children via
// Named and With.
package logging

import (
	"os"
	"sync"

	hclog "github.com/hashicorp/go-hclog"
)

var root = sync.OnceValue(func() hclog.Logger {
	level := hclog.LevelFromString(os.Getenv("CLOUDRT_LOG"))
	if level == hclog.NoLevel {
		level = hclog.Warn
	}
	return hclog.New(&hclog.LoggerOptions{
		Name:            "cloudrt",
		Level:           level,
		Output:          os.Stderr,
		IncludeLocation: level <= hclog.Debug,
	})
})

// HCLogger returns the process-wide root logger. Subsystems should call
// Named on the result rather than constructing their own logger.
func HCLogger() hclog.Logger {
	return root()
}

// For names child loggers the same way every subsystem here does:
// logging.For("converge").With("stack", name).
func For(subsystem string) hclog.Logger {
	return root().Named(subsystem)
}
