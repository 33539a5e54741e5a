// Package gate implements the rate and backpressure gate in front of the
// observation assembler.
package gate

import (
	"sync"
	"time"

	"github.com/banshee-data/fusion-bridge/internal/timeutil"
)

// MinInterval is the minimum time between two admitted cycles.
const MinInterval = 100 * time.Millisecond

// BusyReporter reports whether the consumer is still working on a previous
// event. Implementations are polled without locking.
type BusyReporter interface {
	IsBusyOdometry() bool
	IsBusyStatistics() bool
}

// Decision is the outcome of one Admit call.
type Decision int

const (
	Admitted Decision = iota
	RejectedRate
	RejectedBusy
)

func (d Decision) String() string {
	switch d {
	case Admitted:
		return "admitted"
	case RejectedRate:
		return "rate"
	case RejectedBusy:
		return "busy"
	}
	return "unknown"
}

// Gate admits at most one cycle per MinInterval and none while the consumer
// is busy. Rejected cycles are dropped, never queued.
type Gate struct {
	clock    timeutil.Clock
	consumer BusyReporter

	mu   sync.Mutex
	last time.Time
}

// New returns a Gate. A nil clock selects the real clock; a nil consumer is
// treated as always idle.
func New(clock timeutil.Clock, consumer BusyReporter) *Gate {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Gate{clock: clock, consumer: consumer}
}

// Admit reports whether a cycle may run now and records the admission time
// when it may. The first call is admitted if the consumer is idle.
func (g *Gate) Admit() bool { return g.Decide() == Admitted }

// Decide is Admit with the rejection reason.
func (g *Gate) Decide() Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clock.Now()
	if !g.last.IsZero() && now.Sub(g.last) < MinInterval {
		return RejectedRate
	}
	if g.consumer != nil && (g.consumer.IsBusyOdometry() || g.consumer.IsBusyStatistics()) {
		return RejectedBusy
	}
	g.last = now
	return Admitted
}

// Reset forgets the last admission.
func (g *Gate) Reset() {
	g.mu.Lock()
	g.last = time.Time{}
	g.mu.Unlock()
}
