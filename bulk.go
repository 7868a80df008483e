package rtcache

import (
	"context"
	"sync"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// BulkResult holds the outcome of every kind in a fan-out refresh.
// A nil entry is a success (or a cache hit).
type BulkResult map[Kind]error

// Failed lists kinds whose refresh failed, in declaration order.
// Cancelled refreshes are not failures.
func (r BulkResult) Failed() []Kind {
	var out []Kind
	for _, k := range allKinds {
		if err, ok := r[k]; ok && err != nil && !IsCancelled(err) {
			out = append(out, k)
		}
	}
	return out
}

// Succeeded lists kinds refreshed without error, in declaration order.
func (r BulkResult) Succeeded() []Kind {
	var out []Kind
	for _, k := range allKinds {
		if err, ok := r[k]; ok && err == nil {
			out = append(out, k)
		}
	}
	return out
}

// Err combines every failure into one error, or nil.
func (r BulkResult) Err() error {
	var err error
	for _, k := range r.Failed() {
		err = multierr.Append(err, r[k])
	}
	return err
}

func (c *cache[V]) RefreshAll(ctx context.Context) BulkResult {
	res := c.refreshKinds(ctx, allKinds[:], Force())
	if failed := res.Failed(); len(failed) > 0 {
		c.log.Info("refresh all: partial failure", Fields{
			"failed":     failed,
			"succeeded":  len(res.Succeeded()),
			"activation": c.id,
		})
	}
	return res
}

// refreshKinds refreshes kinds concurrently with all-settle semantics: every
// refresh runs to completion and none can abort another.
func (c *cache[V]) refreshKinds(ctx context.Context, kinds []Kind, opts ...RefreshOption) BulkResult {
	res := make(BulkResult, len(kinds))
	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	if c.maxConc > 0 {
		g.SetLimit(c.maxConc)
	}
	for _, k := range kinds {
		k := k
		g.Go(func() error {
			err := c.Refresh(ctx, k, opts...)
			mu.Lock()
			res[k] = err
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return res
}
