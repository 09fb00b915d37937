// Package klog wires the kernel's structured logging to the
// joeycumines/logiface front end with the stumpy JSON writer backend,
// the same pairing the teacher monorepo ships as its "model" logger
// (stumpy's own doc.go describes itself as "the most performant, by
// virtue of being the most direct").
//
// A package-level default logger follows the teacher's
// SetStructuredLogger/getGlobalLogger indirection (eventloop's
// logging.go): components take no logger argument by default and fall
// back to Default(), but the scheduler constructor also accepts an
// explicit *Logger (kernel.WithLogger) for tests that want a Noop sink
// or a buffer to assert against.
package klog

import (
	"io"
	"sync"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// Logger is the concrete logger type used throughout the kernel.
type Logger = logiface.Logger[*stumpy.Event]

// New builds a stumpy-backed structured logger writing JSON lines to w
// at the given minimum level.
func New(w io.Writer, level logiface.Level) *Logger {
	return stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(w)),
		logiface.WithLevel(level),
	)
}

// Noop returns a logger with logging disabled; every Build call is a
// cheap no-op, matching the teacher's NewNoOpLogger.
func Noop() *Logger {
	return stumpy.L.New(logiface.WithLevel(logiface.LevelDisabled))
}

var (
	mu      sync.RWMutex
	current *Logger
)

// SetDefault installs l as the package-level default logger.
func SetDefault(l *Logger) {
	mu.Lock()
	defer mu.Unlock()
	current = l
}

// Default returns the package-level default logger, or a Noop logger
// if none has been installed.
func Default() *Logger {
	mu.RLock()
	defer mu.RUnlock()
	if current != nil {
		return current
	}
	return Noop()
}
