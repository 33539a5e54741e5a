package tf

import (
	"context"
	"time"

	"github.com/banshee-data/fusion-bridge/internal/geom"
	"github.com/banshee-data/fusion-bridge/internal/monitoring"
)

// DefaultWaitTimeout bounds how long Resolve blocks for a transform.
const DefaultWaitTimeout = time.Second

// Provider is a source of transforms. Buffer implements it.
type Provider interface {
	Lookup(target, source string, stamp float64) (geom.Transform, error)
	WaitFor(ctx context.Context, target, source string, stamp float64) error
}

// Resolver answers transform queries for the assembler. It never returns an
// error: failures are logged and reported as the null transform.
type Resolver struct {
	provider Provider
	wait     bool

	// WaitTimeout bounds the blocking wait when waiting is enabled.
	WaitTimeout time.Duration
}

// NewResolver returns a Resolver over p. When wait is true, lookups with a
// non-zero stamp block up to WaitTimeout for the transform to arrive.
func NewResolver(p Provider, wait bool) *Resolver {
	return &Resolver{provider: p, wait: wait, WaitTimeout: DefaultWaitTimeout}
}

// Resolve returns from_T_to at stamp, mapping points expressed in frame to
// into frame from, or the null transform if it cannot be resolved.
func (r *Resolver) Resolve(ctx context.Context, from, to string, stamp float64) geom.Transform {
	t, err := r.provider.Lookup(from, to, stamp)
	if err == nil {
		return t
	}

	if r.wait && stamp != 0 {
		wctx, cancel := context.WithTimeout(ctx, r.WaitTimeout)
		werr := r.provider.WaitFor(wctx, from, to, stamp)
		cancel()
		if werr != nil {
			monitoring.Opsf("[Resolver] warning: could not get transform from %s to %s after %v (stamp=%.6f): %v",
				from, to, r.WaitTimeout, stamp, werr)
			return geom.Null()
		}
		if t, err = r.provider.Lookup(from, to, stamp); err == nil {
			return t
		}
	}

	monitoring.Opsf("[Resolver] warning: (getting transform %s -> %s) %v", from, to, err)
	return geom.Null()
}
