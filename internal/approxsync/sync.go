// Package approxsync matches messages from N independently clocked streams
// into tuples whose timestamps lie within a bounded window.
package approxsync

import (
	"math"
	"sync"
	"time"

	"github.com/banshee-data/fusion-bridge/internal/sensor"
)

// DefaultQueueDepth is the per-stream buffer size used when none is given.
const DefaultQueueDepth = 10

// DropReason says why a buffered message was discarded.
type DropReason int

const (
	// DropOverflow: the stream's queue exceeded its depth.
	DropOverflow DropReason = iota
	// DropStale: the message is older than the last message consumed on
	// its stream.
	DropStale
	// DropUnmatchable: no partner exists within the window.
	DropUnmatchable
	// DropSuperseded: a newer message on the same stream gives a tighter match.
	DropSuperseded
)

func (r DropReason) String() string {
	switch r {
	case DropOverflow:
		return "overflow"
	case DropStale:
		return "stale"
	case DropUnmatchable:
		return "unmatchable"
	case DropSuperseded:
		return "superseded"
	}
	return "unknown"
}

// Options configures a Synchronizer.
type Options struct {
	// QueueDepth bounds each stream's pending buffer.
	QueueDepth int
	// MaxInterval is the widest timestamp span a tuple may have. Zero or
	// negative means unbounded.
	MaxInterval time.Duration
	// OnDrop, if set, is called for every discarded message while the
	// synchronizer lock is held.
	OnDrop func(stream int, reason DropReason)
}

// Stats counts synchronizer activity.
type Stats struct {
	Matched uint64 `json:"matched"`
	Dropped uint64 `json:"dropped"`
}

// Synchronizer buffers per-stream messages and calls back with one message
// per stream when an approximate-time match is found. Tuples are delivered
// in non-decreasing timestamp order on every stream and each message is
// delivered at most once. The callback runs synchronously on the goroutine
// whose Add completed the match, with the synchronizer locked.
type Synchronizer struct {
	mu       sync.Mutex
	opts     Options
	interval float64
	queues   [][]sensor.Stamped
	last     []float64
	consumed bool
	stats    Stats
	callback func([]sensor.Stamped)
}

// New returns a Synchronizer over n streams.
func New(n int, opts Options, callback func([]sensor.Stamped)) *Synchronizer {
	if opts.QueueDepth < 1 {
		opts.QueueDepth = DefaultQueueDepth
	}
	interval := math.Inf(1)
	if opts.MaxInterval > 0 {
		interval = opts.MaxInterval.Seconds()
	}
	return &Synchronizer{
		opts:     opts,
		interval: interval,
		queues:   make([][]sensor.Stamped, n),
		last:     make([]float64, n),
		callback: callback,
	}
}

// Stats returns a snapshot of the counters.
func (s *Synchronizer) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Reset clears every queue and the per-stream consumption history.
func (s *Synchronizer) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.queues {
		s.queues[i] = nil
		s.last[i] = 0
	}
	s.consumed = false
}

// Add buffers msg on stream i and emits every match that becomes available.
// Out-of-range stream indices are ignored.
func (s *Synchronizer) Add(i int, msg sensor.Stamped) {
	if i < 0 || i >= len(s.queues) || msg == nil {
		return
	}
	stamp := msg.MessageHeader().Stamp

	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.queues[i]
	if (s.consumed && stamp < s.last[i]) || (len(q) > 0 && stamp < stampOf(q[len(q)-1])) {
		s.drop(i, DropStale)
		return
	}
	q = append(q, msg)
	if len(q) > s.opts.QueueDepth {
		q = q[1:]
		s.drop(i, DropOverflow)
	}
	s.queues[i] = q
	s.process()
}

func (s *Synchronizer) drop(i int, reason DropReason) {
	s.stats.Dropped++
	if s.opts.OnDrop != nil {
		s.opts.OnDrop(i, reason)
	}
}

func stampOf(m sensor.Stamped) float64 { return m.MessageHeader().Stamp }

func (s *Synchronizer) process() {
	for {
		full := false
		for _, q := range s.queues {
			if len(q) == 0 {
				return
			}
			if len(q) >= s.opts.QueueDepth {
				full = true
			}
		}

		m := 0
		tmin, tmax := stampOf(s.queues[0][0]), stampOf(s.queues[0][0])
		for i := 1; i < len(s.queues); i++ {
			t := stampOf(s.queues[i][0])
			if t < tmin {
				tmin, m = t, i
			}
			if t > tmax {
				tmax = t
			}
		}
		span := tmax - tmin

		if span > s.interval {
			s.popHead(m, DropUnmatchable)
			continue
		}
		if span == 0 {
			s.emit()
			continue
		}
		qm := s.queues[m]
		if len(qm) > 1 {
			if s.spanWithout(m, stampOf(qm[1]), tmax) < span {
				s.popHead(m, DropSuperseded)
				continue
			}
			s.emit()
			continue
		}
		if full {
			s.emit()
			continue
		}
		// A later message on stream m could still tighten the match.
		return
	}
}

// spanWithout is the tuple span if stream m's head were replaced by next.
func (s *Synchronizer) spanWithout(m int, next, tmax float64) float64 {
	lo, hi := next, math.Max(next, tmax)
	for i, q := range s.queues {
		if i == m {
			continue
		}
		if t := stampOf(q[0]); t < lo {
			lo = t
		}
	}
	return hi - lo
}

func (s *Synchronizer) popHead(i int, reason DropReason) {
	s.queues[i] = s.queues[i][1:]
	s.drop(i, reason)
}

func (s *Synchronizer) emit() {
	tuple := make([]sensor.Stamped, len(s.queues))
	for i, q := range s.queues {
		tuple[i] = q[0]
		s.last[i] = stampOf(q[0])
		s.queues[i] = q[1:]
	}
	s.consumed = true
	s.stats.Matched++
	if s.callback != nil {
		s.callback(tuple)
	}
}
