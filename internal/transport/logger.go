package transport

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/banshee-data/fusion-bridge/internal/monitoring"
)

// Logger routes watermill's log calls into the monitoring streams: errors
// to ops, info to diag, debug and trace to trace.
type Logger struct {
	fields watermill.LogFields
}

// NewLogger returns a Logger without fields.
func NewLogger() *Logger { return &Logger{} }

var _ watermill.LoggerAdapter = (*Logger)(nil)

func (l *Logger) Error(msg string, err error, fields watermill.LogFields) {
	monitoring.Opsf("[Transport] error: %s: %v%s", msg, err, l.format(fields))
}

func (l *Logger) Info(msg string, fields watermill.LogFields) {
	monitoring.Diagf("[Transport] %s%s", msg, l.format(fields))
}

func (l *Logger) Debug(msg string, fields watermill.LogFields) {
	if monitoring.TraceEnabled() {
		monitoring.Tracef("[Transport] %s%s", msg, l.format(fields))
	}
}

func (l *Logger) Trace(msg string, fields watermill.LogFields) {
	l.Debug(msg, fields)
}

func (l *Logger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &Logger{fields: l.fields.Add(fields)}
}

// format renders the merged fields sorted by key.
func (l *Logger) format(fields watermill.LogFields) string {
	all := l.fields.Add(fields)
	if len(all) == 0 {
		return ""
	}
	keys := make([]string, 0, len(all))
	for k := range all {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, all[k])
	}
	return b.String()
}
