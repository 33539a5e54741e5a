package transport

import (
	"errors"
	"strings"
	"testing"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/banshee-data/fusion-bridge/internal/monitoring"
)

func TestLoggerRoutesStreams(t *testing.T) {
	var ops, diag, trace strings.Builder
	monitoring.SetLogWriters(monitoring.LogWriters{Ops: &ops, Diag: &diag, Trace: &trace})
	defer monitoring.SetLogWriters(monitoring.DefaultLogWriters())

	l := NewLogger().With(watermill.LogFields{"topic": "odom"})
	l.Error("subscribe failed", errors.New("closed"), watermill.LogFields{"attempt": 2})
	l.Info("subscribed", nil)
	l.Debug("message", nil)

	if got := ops.String(); !strings.Contains(got, "subscribe failed: closed attempt=2 topic=odom") {
		t.Errorf("ops = %q", got)
	}
	if got := diag.String(); !strings.Contains(got, "[Transport] subscribed topic=odom") {
		t.Errorf("diag = %q", got)
	}
	if got := trace.String(); !strings.Contains(got, "[Transport] message topic=odom") {
		t.Errorf("trace = %q", got)
	}
}
