// -------------------------------------------------------------------------------
// Group - Keyed Single-Flight Calls
//
// Author: Alex Freidah
//
// Collapses concurrent calls for the same key into one execution. A key is
// registered while its call is in flight and removed as soon as it settles, so
// the next call after completion runs fresh.
// -------------------------------------------------------------------------------

package coalesce

import (
	"context"

	"golang.org/x/sync/singleflight"
)

// Group coalesces concurrent calls keyed by string. The zero value is ready to
// use.
type Group[V any] struct {
	sf singleflight.Group
}

// Do runs fn once for all concurrent callers sharing key. fn receives a context
// detached from the caller's cancellation so one caller giving up does not fail
// the others; a caller whose own ctx ends returns ctx.Err() without waiting.
// shared reports whether the result was delivered to more than one caller.
func (g *Group[V]) Do(ctx context.Context, key string, fn func(context.Context) (V, error)) (v V, shared bool, err error) {
	detached := context.WithoutCancel(ctx)
	ch := g.sf.DoChan(key, func() (any, error) {
		return fn(detached)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return v, res.Shared, res.Err
		}
		return res.Val.(V), res.Shared, nil
	case <-ctx.Done():
		return v, false, ctx.Err()
	}
}

// Forget drops key so the next Do starts a new call even if one is in flight.
func (g *Group[V]) Forget(key string) {
	g.sf.Forget(key)
}
