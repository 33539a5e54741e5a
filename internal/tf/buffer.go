// Package tf holds a time-indexed tree of rigid transforms between named
// frames and the resolver the fusion pipeline uses to query it.
package tf

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/banshee-data/fusion-bridge/internal/geom"
	"github.com/banshee-data/fusion-bridge/internal/sensor"
)

// DefaultCacheTime is how many seconds of history each edge keeps.
const DefaultCacheTime = 10.0

var (
	// ErrUnknownFrame is returned when a frame has never been seen.
	ErrUnknownFrame = errors.New("tf: unknown frame")
	// ErrNotConnected is returned when two frames share no common ancestor.
	ErrNotConnected = errors.New("tf: frames not connected")
	// ErrExtrapolation is returned when the requested time is outside an
	// edge's buffered history.
	ErrExtrapolation = errors.New("tf: extrapolation")
	// ErrInvalidTransform is returned by Set for malformed updates.
	ErrInvalidTransform = errors.New("tf: invalid transform")
)

type sample struct {
	stamp float64
	t     geom.Transform // parent_T_child
}

type edge struct {
	parent  string
	static  bool
	samples []sample // sorted by stamp
}

// Buffer is a concurrency-safe transform tree. Each child frame has exactly
// one parent edge; edges hold a bounded, time-sorted history.
type Buffer struct {
	mu        sync.RWMutex
	cacheTime float64
	edges     map[string]*edge // keyed by child frame
	parents   map[string]int   // frame -> number of children, for known-frame checks
	changed   chan struct{}    // closed and replaced on every Set
}

// NewBuffer creates a Buffer keeping cacheTime seconds of history per edge.
// Non-positive cacheTime selects DefaultCacheTime.
func NewBuffer(cacheTime float64) *Buffer {
	if cacheTime <= 0 {
		cacheTime = DefaultCacheTime
	}
	return &Buffer{
		cacheTime: cacheTime,
		edges:     make(map[string]*edge),
		parents:   make(map[string]int),
		changed:   make(chan struct{}),
	}
}

// Set inserts one edge sample. Header.FrameID is the parent and
// ChildFrameID the child. Static samples are valid at every time and
// replace any previous history.
func (b *Buffer) Set(ts sensor.TransformStamped, static bool) error {
	parent, child := ts.FrameID, ts.ChildFrameID
	if parent == "" || child == "" || parent == child {
		return fmt.Errorf("%w: parent=%q child=%q", ErrInvalidTransform, parent, child)
	}
	t := ts.Transform.Transform()
	if t.IsNull() {
		return fmt.Errorf("%w: %s -> %s has zero rotation", ErrInvalidTransform, parent, child)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.edges[child]
	if !ok || e.parent != parent || e.static != static {
		if ok {
			b.parents[e.parent]--
		}
		e = &edge{parent: parent, static: static}
		b.edges[child] = e
		b.parents[parent]++
	}

	s := sample{stamp: ts.Stamp, t: t}
	if static {
		e.samples = []sample{s}
	} else {
		i := sort.Search(len(e.samples), func(i int) bool { return e.samples[i].stamp >= s.stamp })
		if i < len(e.samples) && e.samples[i].stamp == s.stamp {
			e.samples[i] = s
		} else {
			e.samples = append(e.samples, sample{})
			copy(e.samples[i+1:], e.samples[i:])
			e.samples[i] = s
		}
		b.prune(e)
	}

	close(b.changed)
	b.changed = make(chan struct{})
	return nil
}

// SetMessage inserts every edge of msg, returning the first error.
func (b *Buffer) SetMessage(msg sensor.TFMessage, static bool) error {
	var first error
	for _, ts := range msg.Transforms {
		if err := b.Set(ts, static); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (b *Buffer) prune(e *edge) {
	newest := e.samples[len(e.samples)-1].stamp
	cut := 0
	for cut < len(e.samples)-1 && e.samples[cut].stamp < newest-b.cacheTime {
		cut++
	}
	if cut > 0 {
		e.samples = append(e.samples[:0], e.samples[cut:]...)
	}
}

// Frames returns the number of known frames.
func (b *Buffer) Frames() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := len(b.edges)
	for f := range b.parents {
		if _, ok := b.edges[f]; !ok && b.parents[f] > 0 {
			n++
		}
	}
	return n
}

// Lookup returns target_T_source at stamp: the transform that maps points
// expressed in source into target. Stamp 0 selects the latest time common
// to every edge on the path.
func (b *Buffer) Lookup(target, source string, stamp float64) (geom.Transform, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lookupLocked(target, source, stamp)
}

// WaitFor blocks until Lookup(target, source, stamp) can succeed or ctx is
// done. On cancellation the last lookup error is wrapped with ctx.Err().
func (b *Buffer) WaitFor(ctx context.Context, target, source string, stamp float64) error {
	for {
		b.mu.RLock()
		_, err := b.lookupLocked(target, source, stamp)
		changed := b.changed
		b.mu.RUnlock()
		if err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ctx.Err(), err)
		case <-changed:
		}
	}
}

func (b *Buffer) known(frame string) bool {
	if _, ok := b.edges[frame]; ok {
		return true
	}
	return b.parents[frame] > 0
}

// chain returns the frames from f up to its root, inclusive.
func (b *Buffer) chain(f string) []string {
	out := []string{f}
	seen := map[string]bool{f: true}
	for {
		e, ok := b.edges[f]
		if !ok || seen[e.parent] {
			return out
		}
		f = e.parent
		seen[f] = true
		out = append(out, f)
	}
}

func (b *Buffer) lookupLocked(target, source string, stamp float64) (geom.Transform, error) {
	if target == source {
		return geom.Identity(), nil
	}
	for _, f := range []string{target, source} {
		if !b.known(f) {
			return geom.Null(), fmt.Errorf("%w: %q", ErrUnknownFrame, f)
		}
	}

	srcChain, tgtChain := b.chain(source), b.chain(target)
	tgtIndex := make(map[string]int, len(tgtChain))
	for i, f := range tgtChain {
		tgtIndex[f] = i
	}
	si, ti := -1, -1
	for i, f := range srcChain {
		if j, ok := tgtIndex[f]; ok {
			si, ti = i, j
			break
		}
	}
	if si < 0 {
		return geom.Null(), fmt.Errorf("%w: %q and %q", ErrNotConnected, target, source)
	}

	path := append(append([]string{}, srcChain[:si]...), tgtChain[:ti]...)
	if stamp == 0 {
		stamp = b.latestCommon(path)
	}

	ancSrc, err := b.compose(srcChain[:si], stamp)
	if err != nil {
		return geom.Null(), err
	}
	ancTgt, err := b.compose(tgtChain[:ti], stamp)
	if err != nil {
		return geom.Null(), err
	}
	return ancTgt.Inverse().Mul(ancSrc), nil
}

// latestCommon is the newest stamp available on every dynamic edge of path.
func (b *Buffer) latestCommon(path []string) float64 {
	latest := 0.0
	first := true
	for _, child := range path {
		e := b.edges[child]
		if e.static {
			continue
		}
		s := e.samples[len(e.samples)-1].stamp
		if first || s < latest {
			latest, first = s, false
		}
	}
	return latest
}

// compose returns ancestor_T_child for the child-first list of frames.
func (b *Buffer) compose(children []string, stamp float64) (geom.Transform, error) {
	out := geom.Identity()
	for _, child := range children {
		e := b.edges[child]
		t, err := e.at(child, stamp)
		if err != nil {
			return geom.Null(), err
		}
		out = t.Mul(out)
	}
	return out, nil
}

func (e *edge) at(child string, stamp float64) (geom.Transform, error) {
	if e.static {
		return e.samples[0].t, nil
	}
	n := len(e.samples)
	first, last := e.samples[0], e.samples[n-1]
	if stamp < first.stamp || stamp > last.stamp {
		return geom.Null(), fmt.Errorf("%w: %s -> %s requested %.6f, available [%.6f, %.6f]",
			ErrExtrapolation, e.parent, child, stamp, first.stamp, last.stamp)
	}
	i := sort.Search(n, func(i int) bool { return e.samples[i].stamp >= stamp })
	if e.samples[i].stamp == stamp {
		return e.samples[i].t, nil
	}
	lo, hi := e.samples[i-1], e.samples[i]
	ratio := (stamp - lo.stamp) / (hi.stamp - lo.stamp)
	return lo.t.Interpolate(hi.t, ratio), nil
}
