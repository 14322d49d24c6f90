package ld

import (
	"io"
	"log/slog"
	"os"

	slogmulti "github.com/samber/slog-multi"
)

// slogLevel maps a linker verbosity to the level the handlers filter on.
// Verbosity gating happens in Context.Log; the handler level only needs to
// let everything the context emits through.
func slogLevel(verbosity int) slog.Level {
	if verbosity >= VerboseTrace {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

// SetupLogging builds the diagnostics logger for one invocation. Output goes
// to the console; when traceFile names a path the same stream is also
// appended there so long link traces can be kept.
func SetupLogging(verbosity int, traceFile string) (*slog.Logger, func(), error) {
	opts := &slog.HandlerOptions{Level: slogLevel(verbosity)}

	handlers := []slog.Handler{
		slog.NewTextHandler(os.Stderr, opts),
	}
	cleanup := func() {}

	if traceFile != "" {
		f, err := os.OpenFile(traceFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, err
		}
		handlers = append(handlers, slog.NewTextHandler(io.Writer(f), opts))
		cleanup = func() { f.Close() }
	}

	return slog.New(slogmulti.Fanout(handlers...)), cleanup, nil
}

// NewLoggedContext builds a link context with its logging configured.
func NewLoggedContext(verbosity int, traceFile string) (*Context, func(), error) {
	logger, cleanup, err := SetupLogging(verbosity, traceFile)
	if err != nil {
		return nil, nil, err
	}
	return &Context{Verbosity: verbosity, Logger: logger}, cleanup, nil
}
