// Package asynchook makes any rtcache.Hooks non-blocking.
//
// usage:
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{
//	    SelfHealEvery: 10, // sample logs: ~every 10th self-heal
//	})
//	hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
//	defer hooks.Close()
//
//	cache, _ := rtcache.New[Resource](rtcache.Options[Resource]{
//	    Fetcher:  client,
//	    Sessions: sessions,
//	    Hooks:    hooks, // or `raw` if you don't want async
//	})
//
// Events are dropped when the queue is full; Dropped reports how many.
package asynchook

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/unkn0wn-root/rtcache"
)

type Hooks struct {
	inner   rtcache.Hooks
	q       chan func()
	wg      sync.WaitGroup
	once    sync.Once
	mu      sync.RWMutex // guards closed against send-on-closed
	closed  bool
	dropped atomic.Uint64
}

var _ rtcache.Hooks = (*Hooks)(nil)

func New(inner rtcache.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

// Close drains queued events and stops the workers. Events after Close are
// dropped.
func (h *Hooks) Close() {
	h.once.Do(func() {
		h.mu.Lock()
		h.closed = true
		close(h.q)
		h.mu.Unlock()
		h.wg.Wait()
	})
}

func (h *Hooks) Dropped() uint64 { return h.dropped.Load() }

func (h *Hooks) try(f func()) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		h.dropped.Add(1)
		return
	}
	select {
	case h.q <- f:
	default: // drop
		h.dropped.Add(1)
	}
}

func (h *Hooks) CacheHit(k rtcache.Kind) { h.try(func() { h.inner.CacheHit(k) }) }
func (h *Hooks) FetchSucceeded(k rtcache.Kind, took time.Duration) {
	h.try(func() { h.inner.FetchSucceeded(k, took) })
}
func (h *Hooks) FetchFailed(k rtcache.Kind, err error) { h.try(func() { h.inner.FetchFailed(k, err) }) }
func (h *Hooks) ResultDiscarded(k rtcache.Kind, r string) {
	h.try(func() { h.inner.ResultDiscarded(k, r) })
}
func (h *Hooks) SelfHeal(k rtcache.Kind, r string)  { h.try(func() { h.inner.SelfHeal(k, r) }) }
func (h *Hooks) ProviderSetRejected(k rtcache.Kind) { h.try(func() { h.inner.ProviderSetRejected(k) }) }
func (h *Hooks) GenSnapshotError(k rtcache.Kind, err error) {
	h.try(func() { h.inner.GenSnapshotError(k, err) })
}
func (h *Hooks) GenBumpError(k rtcache.Kind, err error) {
	h.try(func() { h.inner.GenBumpError(k, err) })
}
func (h *Hooks) SessionRefreshFailed(err error) { h.try(func() { h.inner.SessionRefreshFailed(err) }) }
func (h *Hooks) Cleared(r string)               { h.try(func() { h.inner.Cleared(r) }) }
