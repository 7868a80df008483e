package rtcache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	pr "github.com/unkn0wn-root/rtcache/provider"
)

type memProvider struct {
	mu     sync.Mutex
	m      map[string][]byte
	reject bool
	closed bool
	onSet  func(key string) // runs before a write, outside the lock
}

var _ pr.Provider = (*memProvider)(nil)

func newMemProvider() *memProvider { return &memProvider{m: make(map[string][]byte)} }

func (p *memProvider) Get(_ context.Context, key string) ([]byte, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.m[key]
	return v, ok, nil
}

func (p *memProvider) Set(_ context.Context, key string, value []byte, _ int64, _ time.Duration) (bool, error) {
	p.mu.Lock()
	hook := p.onSet
	p.mu.Unlock()
	if hook != nil {
		hook(key)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.reject {
		return false, nil
	}
	p.m[key] = value
	return true, nil
}

func (p *memProvider) Del(_ context.Context, key string) error {
	p.mu.Lock()
	delete(p.m, key)
	p.mu.Unlock()
	return nil
}

func (p *memProvider) Close(context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

func (p *memProvider) put(key string, v []byte) {
	p.mu.Lock()
	p.m[key] = v
	p.mu.Unlock()
}

func (p *memProvider) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.m)
}

// fakeFetcher returns "<kind>#<n>" for the n-th call of a kind unless fn is
// set.
type fakeFetcher struct {
	mu    sync.Mutex
	calls map[Kind]int
	reqs  []FetchRequest
	fn    func(ctx context.Context, req FetchRequest) (string, error)
}

func newFakeFetcher(fn func(ctx context.Context, req FetchRequest) (string, error)) *fakeFetcher {
	return &fakeFetcher{calls: make(map[Kind]int), fn: fn}
}

func (f *fakeFetcher) Fetch(ctx context.Context, req FetchRequest) (string, error) {
	f.mu.Lock()
	f.calls[req.Kind]++
	n := f.calls[req.Kind]
	f.reqs = append(f.reqs, req)
	fn := f.fn
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx, req)
	}
	return fmt.Sprintf("%s#%d", req.Kind, n), nil
}

func (f *fakeFetcher) count(k Kind) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[k]
}

func (f *fakeFetcher) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reqs)
}

func (f *fakeFetcher) lastReq() FetchRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reqs[len(f.reqs)-1]
}

type fakeSessions struct {
	mu        sync.Mutex
	sess      *Session
	get       func(n int) (*Session, error) // overrides sess when set
	gets      int
	refresh   func() (*Session, error)
	refreshes int
	handlers  map[int]AuthHandler
	next      int
}

var _ SessionProvider = (*fakeSessions)(nil)

func newFakeSessions(s *Session) *fakeSessions {
	return &fakeSessions{sess: s, handlers: make(map[int]AuthHandler)}
}

func signedIn(userID string) *Session {
	return &Session{AccessToken: "tok-" + userID, User: &User{ID: userID}}
}

func (f *fakeSessions) GetSession(context.Context) (*Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	if f.get != nil {
		return f.get(f.gets)
	}
	if f.sess == nil {
		return nil, nil
	}
	cp := *f.sess
	return &cp, nil
}

func (f *fakeSessions) RefreshSession(context.Context) (*Session, error) {
	f.mu.Lock()
	f.refreshes++
	fn := f.refresh
	f.mu.Unlock()
	if fn == nil {
		return nil, errors.New("refresh unsupported")
	}
	return fn()
}

func (f *fakeSessions) OnAuthStateChange(h AuthHandler) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.next
	f.next++
	f.handlers[id] = h
	return func() {
		f.mu.Lock()
		delete(f.handlers, id)
		f.mu.Unlock()
	}
}

func (f *fakeSessions) setSession(s *Session) {
	f.mu.Lock()
	f.sess = s
	f.mu.Unlock()
}

// emit delivers ev to every handler outside the lock.
func (f *fakeSessions) emit(ev AuthEvent, s *Session) {
	f.mu.Lock()
	hs := make([]AuthHandler, 0, len(f.handlers))
	for _, h := range f.handlers {
		hs = append(hs, h)
	}
	f.mu.Unlock()
	for _, h := range hs {
		h(ev, s)
	}
}

func (f *fakeSessions) handlerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handlers)
}

func (f *fakeSessions) getCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gets
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type recHooks struct {
	NopHooks
	mu        sync.Mutex
	hits      int
	heals     []string
	discards  []string
	cleared   []string
	rejected  int
	refreshes int
}

func (h *recHooks) CacheHit(Kind) {
	h.mu.Lock()
	h.hits++
	h.mu.Unlock()
}

func (h *recHooks) SelfHeal(_ Kind, reason string) {
	h.mu.Lock()
	h.heals = append(h.heals, reason)
	h.mu.Unlock()
}

func (h *recHooks) ResultDiscarded(_ Kind, reason string) {
	h.mu.Lock()
	h.discards = append(h.discards, reason)
	h.mu.Unlock()
}

func (h *recHooks) Cleared(reason string) {
	h.mu.Lock()
	h.cleared = append(h.cleared, reason)
	h.mu.Unlock()
}

func (h *recHooks) ProviderSetRejected(Kind) {
	h.mu.Lock()
	h.rejected++
	h.mu.Unlock()
}

func (h *recHooks) SessionRefreshFailed(error) {
	h.mu.Lock()
	h.refreshes++
	h.mu.Unlock()
}

func (h *recHooks) snapshot() recHooks {
	h.mu.Lock()
	defer h.mu.Unlock()
	return recHooks{
		hits:      h.hits,
		heals:     append([]string(nil), h.heals...),
		discards:  append([]string(nil), h.discards...),
		cleared:   append([]string(nil), h.cleared...),
		rejected:  h.rejected,
		refreshes: h.refreshes,
	}
}

type testEnv struct {
	cache    *cache[string]
	fetcher  *fakeFetcher
	sessions *fakeSessions
	provider *memProvider
	clock    *fakeClock
	hooks    *recHooks
}

func newTestEnv(t *testing.T, fetcher *fakeFetcher, mut func(*Options[string])) *testEnv {
	t.Helper()
	if fetcher == nil {
		fetcher = newFakeFetcher(nil)
	}
	env := &testEnv{
		fetcher:  fetcher,
		sessions: newFakeSessions(signedIn("u1")),
		provider: newMemProvider(),
		clock:    newFakeClock(),
		hooks:    &recHooks{},
	}
	opts := Options[string]{
		Fetcher:     fetcher,
		Sessions:    env.sessions,
		Provider:    env.provider,
		Hooks:       env.hooks,
		Now:         env.clock.Now,
		Gate:        GateOptions{RetryDelay: 5 * time.Millisecond},
		SettleDelay: 10 * time.Millisecond,
	}
	if mut != nil {
		mut(&opts)
	}
	cc, err := New[string](opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	env.cache = mustImpl(t, cc)
	t.Cleanup(func() { _ = cc.Close(context.Background()) })
	return env
}

func mustImpl[V any](t *testing.T, c Cache[V]) *cache[V] {
	t.Helper()
	impl, ok := c.(*cache[V])
	if !ok {
		t.Fatalf("unexpected concrete type for Cache")
	}
	return impl
}

// latch blocks fetches until released and reports when one has started.
type latch struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func newLatch() *latch {
	return &latch{started: make(chan struct{}, 16), release: make(chan struct{})}
}

func (l *latch) wait() {
	l.started <- struct{}{}
	<-l.release
}

func (l *latch) open() { l.once.Do(func() { close(l.release) }) }

func (l *latch) awaitStart(t *testing.T) {
	t.Helper()
	select {
	case <-l.started:
	case <-time.After(2 * time.Second):
		t.Fatal("fetch never started")
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
