// Package session provides rtcache.SessionProvider implementations.
//
// Memory holds a session in process and emits auth events on sign-in,
// sign-out and refresh. OAuth2Provider builds on Memory and refreshes access tokens
// through an OAuth2 token endpoint.
//
// Handlers are always invoked outside the provider's lock, so they may call
// back into the provider (rtcache clears synchronously on SIGNED_OUT).
package session

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/unkn0wn-root/rtcache"
)

// ErrNoRefresher is returned by RefreshSession when no refresh is configured.
var ErrNoRefresher = errors.New("session: refresh not supported")

// RefreshFunc exchanges the current session for a fresh one.
type RefreshFunc func(ctx context.Context, current *rtcache.Session) (*rtcache.Session, error)

type subscriber struct {
	id string
	h  rtcache.AuthHandler
}

// Memory is an in-process SessionProvider.
type Memory struct {
	mu      sync.Mutex
	current *rtcache.Session
	subs    []subscriber
	refresh RefreshFunc
}

var _ rtcache.SessionProvider = (*Memory)(nil)

// NewMemory returns an empty provider. refresh may be nil.
func NewMemory(refresh RefreshFunc) *Memory {
	return &Memory{refresh: refresh}
}

func (m *Memory) GetSession(context.Context) (*rtcache.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copySession(m.current), nil
}

// RefreshSession runs the configured RefreshFunc and, on success, stores the
// result and emits TOKEN_REFRESHED.
func (m *Memory) RefreshSession(ctx context.Context) (*rtcache.Session, error) {
	m.mu.Lock()
	cur, refresh := copySession(m.current), m.refresh
	m.mu.Unlock()

	if refresh == nil {
		return nil, ErrNoRefresher
	}
	if cur == nil {
		return nil, rtcache.ErrNotAuthenticated
	}
	next, err := refresh(ctx, cur)
	if err != nil {
		return nil, err
	}
	if next == nil || next.AccessToken == "" {
		return nil, errors.New("session: refresh returned empty session")
	}
	if next.User == nil {
		next.User = cur.User
	}
	m.set(next, rtcache.TokenRefreshed)
	return copySession(next), nil
}

func (m *Memory) OnAuthStateChange(h rtcache.AuthHandler) func() {
	id := uuid.NewString()
	m.mu.Lock()
	m.subs = append(m.subs, subscriber{id: id, h: h})
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			for i, s := range m.subs {
				if s.id == id {
					m.subs = append(m.subs[:i:i], m.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// SignIn stores s and emits SIGNED_IN.
func (m *Memory) SignIn(s *rtcache.Session) { m.set(copySession(s), rtcache.SignedIn) }

// SignOut drops the session and emits SIGNED_OUT with a nil session.
func (m *Memory) SignOut() { m.set(nil, rtcache.SignedOut) }

// Restore stores s without emitting an event, like a persisted session
// loaded at startup.
func (m *Memory) Restore(s *rtcache.Session) {
	m.mu.Lock()
	m.current = copySession(s)
	m.mu.Unlock()
}

// UpdateUser replaces the user on the current session and emits
// USER_UPDATED. It is a no-op when signed out.
func (m *Memory) UpdateUser(u rtcache.User) {
	m.mu.Lock()
	if m.current == nil {
		m.mu.Unlock()
		return
	}
	next := copySession(m.current)
	next.User = &u
	m.mu.Unlock()
	m.set(next, rtcache.UserUpdated)
}

// Subscribers reports how many handlers are registered.
func (m *Memory) Subscribers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

func (m *Memory) set(s *rtcache.Session, ev rtcache.AuthEvent) {
	m.mu.Lock()
	m.current = s
	subs := append([]subscriber(nil), m.subs...)
	m.mu.Unlock()

	for _, sub := range subs {
		sub.h(ev, copySession(s))
	}
}

func copySession(s *rtcache.Session) *rtcache.Session {
	if s == nil {
		return nil
	}
	cp := *s
	if s.User != nil {
		u := *s.User
		u.Roles = append([]string(nil), s.User.Roles...)
		cp.User = &u
	}
	return &cp
}
