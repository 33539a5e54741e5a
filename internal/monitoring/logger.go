// Package monitoring holds the process-wide diagnostic log streams used by
// the fusion packages.
//
// Three streams exist:
//   - ops: actionable warnings, errors and lifecycle events
//   - diag: day-to-day diagnostics such as the selected topology
//   - trace: high-frequency per-message and per-cycle telemetry
//
// Each stream writes to its own io.Writer. A nil writer mutes the stream.
package monitoring

import (
	"io"
	"log"
	"os"
	"sync"
)

// LogWriters holds the io.Writers for each logging stream.
type LogWriters struct {
	Ops   io.Writer
	Diag  io.Writer
	Trace io.Writer
}

type stream int

const (
	ops stream = iota
	diag
	trace
	numStreams
)

var (
	mu      sync.RWMutex
	loggers = [numStreams]*log.Logger{ops: newLogger(os.Stderr)}
)

// SetLogWriters replaces all three streams. A nil writer mutes its stream.
func SetLogWriters(w LogWriters) {
	next := [numStreams]*log.Logger{
		ops:   newLogger(w.Ops),
		diag:  newLogger(w.Diag),
		trace: newLogger(w.Trace),
	}
	mu.Lock()
	loggers = next
	mu.Unlock()
}

// DefaultLogWriters returns the startup configuration: ops to stderr,
// diag and trace muted.
func DefaultLogWriters() LogWriters {
	return LogWriters{Ops: os.Stderr}
}

func newLogger(w io.Writer) *log.Logger {
	if w == nil {
		return nil
	}
	return log.New(w, "[fusion] ", log.LstdFlags|log.Lmicroseconds)
}

func logger(s stream) *log.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return loggers[s]
}

func printf(s stream, format string, args []interface{}) {
	if l := logger(s); l != nil {
		l.Printf(format, args...)
	}
}

// Opsf logs to the ops stream.
func Opsf(format string, args ...interface{}) { printf(ops, format, args) }

// Diagf logs to the diag stream.
func Diagf(format string, args ...interface{}) { printf(diag, format, args) }

// Tracef logs to the trace stream.
func Tracef(format string, args ...interface{}) { printf(trace, format, args) }

// TraceEnabled reports whether the trace stream has a writer. Callers use it
// to skip building expensive trace arguments.
func TraceEnabled() bool { return logger(trace) != nil }
