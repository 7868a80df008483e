package rtcache

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestSignedInRefreshesEssentialKindsAfterSettle(t *testing.T) {
	env := newTestEnv(t, nil, func(o *Options[string]) { o.SettleDelay = 30 * time.Millisecond })

	env.sessions.emit(SignedIn, signedIn("u1"))
	if env.fetcher.total() != 0 {
		t.Fatalf("refresh started before the settle delay")
	}

	eventually(t, "essential refresh", func() bool {
		return env.fetcher.count(KindProfile) == 1 && env.fetcher.count(KindStats) == 1
	})
	time.Sleep(20 * time.Millisecond)
	if n := env.fetcher.total(); n != 2 {
		t.Fatalf("sign-in refreshed non-essential kinds: %d fetches", n)
	}
}

func TestCustomEssentialKinds(t *testing.T) {
	env := newTestEnv(t, nil, func(o *Options[string]) {
		o.EssentialKinds = []Kind{KindConversations}
	})
	env.sessions.emit(SignedIn, signedIn("u1"))
	eventually(t, "conversations refresh", func() bool {
		return env.fetcher.count(KindConversations) == 1
	})
	if env.fetcher.count(KindProfile) != 0 {
		t.Fatalf("default essential kinds used")
	}
}

func TestAuthEventsWithoutUserAreIgnored(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	env.sessions.emit(SignedIn, nil)
	env.sessions.emit(TokenRefreshed, &Session{AccessToken: "tok"})
	env.sessions.emit(UserUpdated, signedIn("u1"))
	time.Sleep(40 * time.Millisecond)

	if n := env.fetcher.total(); n != 0 {
		t.Fatalf("events without a user triggered %d fetches", n)
	}
}

func TestTokenRefreshedForcesRefresh(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil, nil)
	if err := env.cache.Refresh(ctx, KindProfile); err != nil {
		t.Fatal(err)
	}

	env.sessions.emit(TokenRefreshed, signedIn("u1"))
	eventually(t, "forced profile refresh", func() bool {
		return env.fetcher.count(KindProfile) == 2
	})
	eventually(t, "new profile value", func() bool {
		return env.cache.View(KindProfile).Value == "profile#2"
	})
}

func TestSignedOutClearsSynchronously(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil, nil)
	for _, k := range []Kind{KindProfile, KindOffers} {
		if err := env.cache.Refresh(ctx, k); err != nil {
			t.Fatal(err)
		}
	}

	env.sessions.emit(SignedOut, nil)

	for _, k := range []Kind{KindProfile, KindOffers} {
		if v := env.cache.View(k); v.HasValue || !v.LastUpdated.IsZero() {
			t.Fatalf("%s survived sign-out: %+v", k, v)
		}
	}
	if got := env.hooks.snapshot().cleared; len(got) != 1 || got[0] != "signed_out" {
		t.Fatalf("cleared hooks: %v", got)
	}
}

func TestSignOutDuringFetchDiscardsResult(t *testing.T) {
	ctx := context.Background()
	l := newLatch()
	env := newTestEnv(t, newFakeFetcher(func(context.Context, FetchRequest) (string, error) {
		l.wait()
		return "previous user data", nil
	}), nil)

	done := make(chan error, 1)
	go func() { done <- env.cache.Refresh(ctx, KindOffers) }()
	l.awaitStart(t)

	env.sessions.emit(SignedOut, nil)
	l.open()

	if err := <-done; !errors.Is(err, ErrCancelled) {
		t.Fatalf("want ErrCancelled, got %v", err)
	}
	v := env.cache.View(KindOffers)
	if v.HasValue || v.Loading || v.Err != nil {
		t.Fatalf("result written after sign-out: %+v", v)
	}
	discards := env.hooks.snapshot().discards
	if len(discards) != 1 || discards[0] != "gen_mismatch" {
		t.Fatalf("discard reasons: %v", discards)
	}

	// the slot is usable again for the next user
	if err := env.cache.Refresh(ctx, KindOffers); err != nil {
		t.Fatal(err)
	}
}

func TestRefreshAfterSignOutStartsNewFlight(t *testing.T) {
	ctx := context.Background()
	l := newLatch()
	var calls atomic.Int32
	env := newTestEnv(t, newFakeFetcher(func(context.Context, FetchRequest) (string, error) {
		if calls.Add(1) == 1 {
			l.wait()
			return "previous user data", nil
		}
		return "next user data", nil
	}), nil)

	first := make(chan error, 1)
	go func() { first <- env.cache.Refresh(ctx, KindProfile) }()
	l.awaitStart(t)

	env.sessions.emit(SignedOut, nil)
	if err := env.cache.Refresh(ctx, KindProfile, Force()); err != nil {
		t.Fatalf("refresh after sign-out joined the old flight: %v", err)
	}
	if n := env.fetcher.count(KindProfile); n != 2 {
		t.Fatalf("fetch calls: got %d want 2", n)
	}

	l.open()
	if err := <-first; !errors.Is(err, ErrCancelled) {
		t.Fatalf("old flight: want ErrCancelled, got %v", err)
	}
	v := env.cache.View(KindProfile)
	if !v.HasValue || v.Value != "next user data" || v.Loading {
		t.Fatalf("view: %+v", v)
	}
}

func TestSignInWhileOldFetchInFlight(t *testing.T) {
	ctx := context.Background()
	l := newLatch()
	var calls atomic.Int32
	env := newTestEnv(t, newFakeFetcher(func(_ context.Context, req FetchRequest) (string, error) {
		if req.Kind == KindProfile && calls.Add(1) == 1 {
			l.wait()
			return "u1 profile", nil
		}
		return string(req.Kind) + " for u2", nil
	}), nil)
	defer l.open()

	go func() { _ = env.cache.Refresh(ctx, KindProfile) }()
	l.awaitStart(t)

	env.sessions.emit(SignedOut, nil)
	env.sessions.setSession(signedIn("u2"))
	env.sessions.emit(SignedIn, signedIn("u2"))

	eventually(t, "sign-in refresh of profile", func() bool {
		return env.cache.View(KindProfile).Value == "profile for u2"
	})
}

func TestCloseStopsPendingSettleTimers(t *testing.T) {
	env := newTestEnv(t, nil, func(o *Options[string]) { o.SettleDelay = 20 * time.Millisecond })

	env.sessions.emit(SignedIn, signedIn("u1"))
	if err := env.cache.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
	if env.sessions.handlerCount() != 0 {
		t.Fatalf("handler still subscribed after Close")
	}
	time.Sleep(60 * time.Millisecond)
	if n := env.fetcher.total(); n != 0 {
		t.Fatalf("settle timer fired after Close: %d fetches", n)
	}

	// late events from a provider that ignores unsubscribe are no-ops
	env.cache.onAuthEvent(TokenRefreshed, signedIn("u1"))
	time.Sleep(20 * time.Millisecond)
	if n := env.fetcher.total(); n != 0 {
		t.Fatalf("event after Close fetched")
	}
}

func TestCloseWaitsForRunningRefresh(t *testing.T) {
	l := newLatch()
	env := newTestEnv(t, newFakeFetcher(func(ctx context.Context, _ FetchRequest) (string, error) {
		l.wait()
		return "", ctx.Err()
	}), func(o *Options[string]) { o.EssentialKinds = []Kind{KindProfile} })

	env.sessions.emit(TokenRefreshed, signedIn("u1"))
	l.awaitStart(t)

	closed := make(chan struct{})
	go func() {
		_ = env.cache.Close(context.Background())
		close(closed)
	}()
	select {
	case <-closed:
		t.Fatal("Close returned while an auth-triggered refresh was running")
	case <-time.After(30 * time.Millisecond):
	}
	l.open()
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close never returned")
	}
}
