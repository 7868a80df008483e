package rtcache

import (
	"context"
	"fmt"
	"time"
)

// User is the authenticated principal attached to a Session.
type User struct {
	ID    string   `json:"id"`
	Email string   `json:"email,omitempty"`
	Roles []string `json:"roles,omitempty"`
}

// Session is what a SessionProvider hands out.
type Session struct {
	AccessToken  string
	RefreshToken string
	User         *User
	ExpiresAt    time.Time // zero => no known expiry
}

// Credential is the resolved, usable bearer credential for one fetch.
// It is re-resolved on every refresh and never cached by rtcache.
type Credential struct {
	Token     string
	UserID    string
	ExpiresAt time.Time
}

func (c Credential) expiresWithin(now time.Time, margin time.Duration) bool {
	return !c.ExpiresAt.IsZero() && c.ExpiresAt.Sub(now) <= margin
}

func credentialOf(s *Session) (Credential, bool) {
	if s == nil || s.AccessToken == "" {
		return Credential{}, false
	}
	c := Credential{Token: s.AccessToken, ExpiresAt: s.ExpiresAt}
	if s.User != nil {
		c.UserID = s.User.ID
	}
	return c, true
}

// AuthEvent is a session lifecycle transition.
type AuthEvent string

const (
	SignedIn       AuthEvent = "SIGNED_IN"
	SignedOut      AuthEvent = "SIGNED_OUT"
	TokenRefreshed AuthEvent = "TOKEN_REFRESHED"
	UserUpdated    AuthEvent = "USER_UPDATED"
)

// AuthHandler receives session lifecycle events. session is nil on SignedOut.
type AuthHandler func(event AuthEvent, session *Session)

// SessionProvider supplies credentials and lifecycle events.
// GetSession returns (nil, nil) when no session exists (yet).
type SessionProvider interface {
	GetSession(ctx context.Context) (*Session, error)
	RefreshSession(ctx context.Context) (*Session, error)
	// OnAuthStateChange registers h and returns its unsubscribe func.
	OnAuthStateChange(h AuthHandler) (unsubscribe func())
}

// GateOptions tune credential resolution. Zero values take the defaults.
type GateOptions struct {
	Attempts     int           // 0 => 3
	RetryDelay   time.Duration // 0 => 300ms; between attempts, never before the first
	ExpiryMargin time.Duration // 0 => 60s; refresh when expiring within this window
}

// Gate resolves a usable credential before any fetch is attempted.
// It absorbs the startup race where the provider is still restoring a
// persisted session by polling a bounded number of times.
type Gate struct {
	sessions SessionProvider
	attempts int
	delay    time.Duration
	margin   time.Duration
	now      func() time.Time
	log      Logger
	hooks    Hooks
}

// NewGate builds a Gate over sessions. log, hooks and now may be nil.
func NewGate(sessions SessionProvider, opts GateOptions, log Logger, hooks Hooks, now func() time.Time) *Gate {
	g := &Gate{
		sessions: sessions,
		attempts: coalesce(opts.Attempts, 3),
		delay:    coalesce(opts.RetryDelay, 300*time.Millisecond),
		margin:   coalesce(opts.ExpiryMargin, time.Minute),
		now:      now,
		log:      coalesce[Logger](log, NopLogger{}),
		hooks:    coalesce[Hooks](hooks, NopHooks{}),
	}
	if g.attempts < 1 {
		g.attempts = 1
	}
	if g.now == nil {
		g.now = time.Now
	}
	return g
}

// Resolve returns a credential or ErrNotAuthenticated after the configured
// number of attempts. A near-expiry credential is refreshed once; if that
// fails the original credential is returned.
func (g *Gate) Resolve(ctx context.Context) (Credential, error) {
	if g.sessions == nil {
		return Credential{}, ErrNotAuthenticated
	}

	var (
		cred    Credential
		found   bool
		lastErr error
	)
	for attempt := 1; attempt <= g.attempts; attempt++ {
		if attempt > 1 {
			t := time.NewTimer(g.delay)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
				return Credential{}, fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
			}
		}
		s, err := g.sessions.GetSession(ctx)
		if err != nil {
			lastErr = err
			g.log.Debug("session lookup failed", Fields{"attempt": attempt, "err": err})
			continue
		}
		if cred, found = credentialOf(s); found {
			break
		}
	}
	if !found {
		if lastErr != nil {
			return Credential{}, fmt.Errorf("%w: %v", ErrNotAuthenticated, lastErr)
		}
		return Credential{}, ErrNotAuthenticated
	}

	if !cred.expiresWithin(g.now(), g.margin) {
		return cred, nil
	}
	s, err := g.sessions.RefreshSession(ctx)
	if refreshed, ok := credentialOf(s); err == nil && ok {
		return refreshed, nil
	}
	if err == nil {
		err = fmt.Errorf("refresh returned no session")
	}
	g.hooks.SessionRefreshFailed(err)
	g.log.Warn("session refresh failed; using current credential", Fields{
		"err":       err,
		"expiresAt": cred.ExpiresAt,
	})
	return cred, nil
}
