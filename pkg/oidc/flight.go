package oidc

import (
	"context"

	"golang.org/x/sync/singleflight"
)

// shared runs fn at most once per key among concurrent callers. fn gets a
// context that keeps ctx's values but not its cancellation, so callers that
// joined the flight are unaffected when the one that started it gives up.
// Each caller still returns as soon as its own ctx is done.
func shared(ctx context.Context, g *singleflight.Group, key string, fn func(context.Context) (any, error)) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	detached := context.WithoutCancel(ctx)
	ch := g.DoChan(key, func() (any, error) {
		return fn(detached)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		return res.Val, res.Err
	}
}
