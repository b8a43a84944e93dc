// Package logging builds the single structured logger used across the
// supervisor. There is no package-level singleton: New is called once at
// process start and the returned logger is threaded explicitly through
// every component constructor.
package logging

import (
	"io"
	"os"

	"github.com/joeycumines/goroutineid"
	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// Logger is the concrete logger type shared by every component.
type Logger = logiface.Logger[*stumpy.Event]

// Context is a sub-logger under construction, see Task and Execution.
type Context = logiface.Context[*stumpy.Event]

// Builder is a single log event under construction.
type Builder = logiface.Builder[*stumpy.Event]

// New builds a Logger writing newline-delimited JSON to w. A nil w defaults
// to os.Stderr.
func New(w io.Writer) *Logger {
	if w == nil {
		w = os.Stderr
	}
	return stumpy.L.New(
		stumpy.L.WithStumpy(),
		stumpy.L.WithWriter(w),
	)
}

// Task returns a sub-logger of l with task_id attached to every event built
// from it or its descendants.
func Task(l *Logger, taskID string) *Logger {
	return l.Clone().Str("task_id", taskID).Logger()
}

// Execution returns a sub-logger of l with execution_id attached, typically
// chained onto a Task logger.
func Execution(l *Logger, executionID string) *Logger {
	return l.Clone().Str("execution_id", executionID).Logger()
}

// WithGoroutineTag annotates b with the calling goroutine's id, mirroring
// how the teacher's termtest console tags its PTY reader loop for
// diagnostic correlation.
func WithGoroutineTag(b *Builder) *Builder {
	return b.Int64("goroutine_id", int64(goroutineid.Get()))
}
