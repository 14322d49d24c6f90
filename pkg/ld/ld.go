package ld

import (
	"log/slog"
)

// Version of the linker. Embedded into RAP metadata and printed by the CLI.
const Version = "1.0.0"

// Verbosity levels. Each level includes everything below it.
const (
	VerboseOff = iota
	VerboseInfo
	VerboseDetails
	VerboseTrace
	VerboseTraceSymbols
	VerboseTraceFiles
	VerboseFullDebug
)

// Context carries the per-invocation state shared across the link pipeline:
// the verbosity level and the diagnostics logger. A fresh Context must be
// created for every link so that no state leaks between invocations.
type Context struct {
	Verbosity int
	Logger    *slog.Logger
}

// NewContext creates a context with the given verbosity logging to the
// default slog logger.
func NewContext(verbosity int) *Context {
	return &Context{
		Verbosity: verbosity,
		Logger:    slog.Default(),
	}
}

// Verbose reports whether diagnostics gated at the given level should be
// emitted.
func (c *Context) Verbose(level int) bool {
	return c != nil && c.Verbosity >= level
}

// Log emits a diagnostics line if the context verbosity reaches level.
func (c *Context) Log(level int, msg string, args ...any) {
	if c.Verbose(level) {
		c.Logger.Info(msg, args...)
	}
}
