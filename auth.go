package rtcache

import (
	"context"
	"sync"
	"time"
)

// authListener owns the auth subscription of one activation and the
// background work it starts. stop unsubscribes exactly once, cancels pending
// settle timers and waits for running refreshes.
type authListener struct {
	mu          sync.Mutex
	unsubscribe func()
	timers      map[*time.Timer]struct{}
	wg          sync.WaitGroup
	stopped     bool
}

func (c *cache[V]) subscribeAuth() {
	unsub := c.sessions.OnAuthStateChange(c.onAuthEvent)
	c.auth.mu.Lock()
	c.auth.unsubscribe = unsub
	c.auth.mu.Unlock()
}

func (c *cache[V]) onAuthEvent(event AuthEvent, s *Session) {
	if !c.guard.Active() {
		return
	}
	hasUser := s != nil && s.User != nil && s.User.ID != ""

	switch event {
	case SignedOut:
		// synchronous: a signed-out view must never show the previous user's data
		if err := c.clear(context.Background(), "signed_out"); err != nil {
			c.log.Warn("clear on sign-out incomplete", Fields{"err": err, "activation": c.id})
		}
	case SignedIn:
		if !hasUser {
			return
		}
		c.auth.after(c.settle, func() { c.refreshEssential("signed_in") })
	case TokenRefreshed:
		if !hasUser {
			return
		}
		c.auth.spawn(func() { c.refreshEssential("token_refreshed") })
	default:
		c.log.Debug("auth event ignored", Fields{"event": event})
	}
}

// refreshEssential force-refreshes the essential subset only, to avoid a
// refresh storm on login.
func (c *cache[V]) refreshEssential(trigger string) {
	if !c.guard.Active() {
		return
	}
	res := c.refreshKinds(context.Background(), c.essential, Force())
	if failed := res.Failed(); len(failed) > 0 {
		c.log.Warn("essential refresh incomplete", Fields{
			"trigger":    trigger,
			"failed":     failed,
			"err":        res.Err(),
			"activation": c.id,
		})
		return
	}
	c.log.Debug("essential refresh done", Fields{"trigger": trigger, "kinds": c.essential})
}

func (l *authListener) after(d time.Duration, f func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return
	}
	if l.timers == nil {
		l.timers = make(map[*time.Timer]struct{})
	}
	l.wg.Add(1)
	var t *time.Timer
	t = time.AfterFunc(d, func() {
		defer l.wg.Done()
		l.mu.Lock()
		delete(l.timers, t)
		l.mu.Unlock()
		f()
	})
	l.timers[t] = struct{}{}
}

func (l *authListener) spawn(f func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return
	}
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		f()
	}()
}

func (l *authListener) stop() {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	l.stopped = true
	if l.unsubscribe != nil {
		l.unsubscribe()
		l.unsubscribe = nil
	}
	for t := range l.timers {
		if t.Stop() {
			l.wg.Done()
		}
		delete(l.timers, t)
	}
	l.mu.Unlock()
	l.wg.Wait()
}
