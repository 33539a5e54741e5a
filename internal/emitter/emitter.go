// Package emitter hands fused events to the consumer without blocking the
// producer.
package emitter

import (
	"sync"
	"sync/atomic"

	"github.com/banshee-data/fusion-bridge/internal/assembler"
	"github.com/banshee-data/fusion-bridge/internal/monitoring"
)

// DefaultBuffer is the hand-off queue length used when none is given.
const DefaultBuffer = 8

// Consumer is the downstream mapping or visualisation core.
type Consumer interface {
	IsBusyOdometry() bool
	IsBusyStatistics() bool
	ProcessOdometry(*assembler.Observation)
	ProcessStatistics(*assembler.Statistics)
}

type event struct {
	obs   *assembler.Observation
	stats *assembler.Statistics
}

// Emitter delivers events to a Consumer on a single worker goroutine, so
// the consumer never sees two events concurrently. Emits never block: when
// the queue is full the event is dropped.
type Emitter struct {
	consumer Consumer
	ch       chan event
	done     chan struct{}

	mu     sync.RWMutex // guards closed against concurrent sends
	closed bool

	delivered atomic.Uint64
	dropped   atomic.Uint64
}

// New starts an Emitter with the given queue length.
func New(c Consumer, buffer int) *Emitter {
	if buffer < 1 {
		buffer = DefaultBuffer
	}
	e := &Emitter{
		consumer: c,
		ch:       make(chan event, buffer),
		done:     make(chan struct{}),
	}
	go e.worker()
	return e
}

func (e *Emitter) worker() {
	defer close(e.done)
	for ev := range e.ch {
		switch {
		case ev.obs != nil:
			e.consumer.ProcessOdometry(ev.obs)
		case ev.stats != nil:
			e.consumer.ProcessStatistics(ev.stats)
		}
		e.delivered.Add(1)
	}
}

// EmitObservation queues obs and reports whether it was accepted.
func (e *Emitter) EmitObservation(obs *assembler.Observation) bool {
	if obs == nil {
		return false
	}
	return e.send(event{obs: obs})
}

// EmitStatistics queues s and reports whether it was accepted.
func (e *Emitter) EmitStatistics(s *assembler.Statistics) bool {
	if s == nil {
		return false
	}
	return e.send(event{stats: s})
}

func (e *Emitter) send(ev event) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		e.dropped.Add(1)
		return false
	}
	select {
	case e.ch <- ev:
		return true
	default:
		dropped := e.dropped.Add(1)
		monitoring.Tracef("[Emitter] dropped event, queue full (total dropped: %d)", dropped)
		return false
	}
}

// Delivered returns how many events the consumer has processed.
func (e *Emitter) Delivered() uint64 { return e.delivered.Load() }

// Dropped returns how many events were discarded.
func (e *Emitter) Dropped() uint64 { return e.dropped.Load() }

// Close stops accepting events and waits for the queue to drain.
func (e *Emitter) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		<-e.done
		return
	}
	e.closed = true
	close(e.ch)
	e.mu.Unlock()
	<-e.done
}
