package rtcache

import (
	"context"
	"sync/atomic"
)

// Guard tracks whether the owning consumer is still active.
// It starts active and flips to inactive exactly once; it is never
// resurrected. Every async continuation checks Active immediately before
// mutating a slot.
type Guard struct {
	active atomic.Bool
	ctx    context.Context
	cancel context.CancelFunc
}

// NewGuard returns an active guard.
func NewGuard() *Guard {
	g := &Guard{}
	g.ctx, g.cancel = context.WithCancel(context.Background())
	g.active.Store(true)
	return g
}

func (g *Guard) Active() bool { return g.active.Load() }

// Deactivate flips the guard and cancels its context. It reports whether
// this call performed the flip.
func (g *Guard) Deactivate() bool {
	if !g.active.CompareAndSwap(true, false) {
		return false
	}
	g.cancel()
	return true
}

// Context is cancelled once the guard is deactivated.
func (g *Guard) Context() context.Context { return g.ctx }

// bind derives a context from parent that keeps parent's values, ignores
// parent's cancellation, and is cancelled when the guard deactivates.
func (g *Guard) bind(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	stop := context.AfterFunc(g.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
