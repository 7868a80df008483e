package rtcache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/unkn0wn-root/rtcache/codec"
	gen "github.com/unkn0wn-root/rtcache/genstore"
	"github.com/unkn0wn-root/rtcache/internal/util"
	"github.com/unkn0wn-root/rtcache/internal/wire"
	pr "github.com/unkn0wn-root/rtcache/provider"
	"github.com/unkn0wn-root/rtcache/provider/ristretto"
)

// slot is the in-memory half of a Resource Slot. The payload itself lives in
// the Provider under util.SlotKey, framed with the generation it was fetched
// under.
type slot struct {
	hasValue    bool
	err         error
	lastUpdated time.Time
	inflight    int // fetches started and not yet settled
}

func (s *slot) loading() bool { return s.inflight > 0 && !s.hasValue }

func (s *slot) reset() {
	s.hasValue = false
	s.err = nil
	s.lastUpdated = time.Time{}
}

type cache[V any] struct {
	id        string
	ns        string
	fetcher   Fetcher[V]
	sessions  SessionProvider
	provider  pr.Provider
	codec     codec.Codec[V]
	gens      gen.GenStore
	ownsGens  bool
	policy    Policy
	gate      *Gate
	essential []Kind
	settle    time.Duration
	maxConc   int
	log       Logger
	hooks     Hooks
	now       func() time.Time
	enabled   bool

	guard *Guard

	// mu guards slots and epoch. No storage or genstore I/O runs under it.
	mu      sync.Mutex
	slots   map[Kind]*slot
	epoch   uint64 // bumped by every clear; settles from older epochs are dropped

	// clearing is held for writing for the whole of a clear, so a flight's
	// generation snapshot and its epoch always come from the same side of it.
	clearing sync.RWMutex
	flights singleflight.Group

	auth authListener

	closeOnce sync.Once
	closeErr  error
}

func newCache[V any](opts Options[V]) (*cache[V], error) {
	if opts.Fetcher == nil {
		return nil, fmt.Errorf("rtcache: fetcher is required")
	}

	c := &cache[V]{
		id:       uuid.NewString(),
		fetcher:  opts.Fetcher,
		sessions: opts.Sessions,
		enabled:  !opts.Disabled,
		guard:    NewGuard(),
		slots:    make(map[Kind]*slot, len(allKinds)),
	}

	// defaults
	c.ns = coalesce(opts.Namespace, defaultNamespace)
	c.log = coalesce[Logger](opts.Logger, NopLogger{})
	c.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})
	c.settle = coalesce(opts.SettleDelay, defaultSettleDelay)
	c.maxConc = opts.MaxConcurrency
	c.now = opts.Now
	if c.now == nil {
		c.now = time.Now
	}
	c.policy = opts.Policy
	if c.policy == nil {
		c.policy = DefaultPolicy()
	}
	c.essential = opts.EssentialKinds
	if len(c.essential) == 0 {
		c.essential = defaultEssentialKinds
	}
	for _, k := range c.essential {
		if !k.Valid() {
			return nil, fmt.Errorf("rtcache: essential kinds: %w: %q", ErrUnknownKind, k)
		}
	}

	if opts.Codec != nil {
		c.codec = opts.Codec
	} else {
		c.codec = codec.JSON[V]{}
	}

	if opts.Provider != nil {
		c.provider = opts.Provider
	} else {
		p, err := ristretto.New(ristretto.DefaultConfig())
		if err != nil {
			return nil, fmt.Errorf("rtcache: default provider: %w", err)
		}
		c.provider = p
	}

	if opts.GenStore != nil {
		c.gens = opts.GenStore
	} else {
		c.gens = gen.NewLocalGenStore(defaultGenSweep, defaultGenRetain)
		c.ownsGens = true
	}

	c.gate = NewGate(opts.Sessions, opts.Gate, c.log, c.hooks, c.now)

	for _, k := range allKinds {
		c.slots[k] = &slot{}
	}

	if c.sessions != nil && c.enabled {
		c.subscribeAuth()
	}
	return c, nil
}

func (c *cache[V]) Enabled() bool { return c.enabled }

func (c *cache[V]) Refresh(ctx context.Context, kind Kind, opts ...RefreshOption) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	if !c.guard.Active() {
		return ErrClosed
	}
	if !c.enabled {
		return nil
	}

	var rc refreshConfig
	for _, o := range opts {
		o(&rc)
	}
	fkey := rc.filters.Key()

	// cache hit: fresh, non-empty and no filter override
	if !rc.force && fkey == "" && c.fresh(ctx, kind) {
		c.hooks.CacheHit(kind)
		return nil
	}

	// a clear moves the epoch, so calls made after it never join a flight
	// that observed the previous generation
	c.clearing.RLock()
	ep := c.currentEpoch()
	c.clearing.RUnlock()
	flightKey := fmt.Sprintf("%s|%d", kind, ep)
	if fkey != "" {
		flightKey += "|" + fkey
	}
	ch := c.flights.DoChan(flightKey, func() (any, error) {
		return nil, c.run(ctx, kind, rc.filters, ep)
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		// the shared fetch keeps going for the other waiters
		return ctx.Err()
	}
}

// run performs one fetch for kind and settles the slot. It is executed once
// per flight, on behalf of every caller sharing that flight. ep is the clear
// epoch the flight was keyed under.
func (c *cache[V]) run(parent context.Context, kind Kind, filters Filters, ep uint64) error {
	ctx, cancel := c.guard.bind(parent)
	defer cancel()

	c.clearing.RLock()
	obs := c.snapshotGen(ctx, kind)
	stale := c.currentEpoch() != ep
	c.clearing.RUnlock()
	if stale {
		// issued before a clear that has since completed
		c.hooks.ResultDiscarded(kind, "gen_mismatch")
		return ErrCancelled
	}
	if !c.begin(kind) {
		return ErrCancelled
	}

	cred, err := c.gate.Resolve(ctx)
	if err != nil {
		if IsCancelled(err) || !c.guard.Active() {
			c.discard(kind, "cancelled")
			return ErrCancelled
		}
		c.log.Debug("refresh skipped: not authenticated", Fields{"kind": kind, "activation": c.id})
		c.finish(kind, ep, func(s *slot) { s.err = ErrNotAuthenticated })
		return ErrNotAuthenticated
	}

	start := c.now()
	v, err := c.fetcher.Fetch(ctx, FetchRequest{Kind: kind, Filters: filters, Credential: cred})

	// owner torn down while we were waiting: zero observable effect
	if !c.guard.Active() {
		c.hooks.ResultDiscarded(kind, "inactive")
		return ErrCancelled
	}

	if err != nil {
		if IsCancelled(err) {
			c.discard(kind, "cancelled")
			return ErrCancelled
		}
		fe := asFetchError(kind, err)
		if !c.finish(kind, ep, func(s *slot) { s.err = fe }) {
			return ErrCancelled
		}
		c.hooks.FetchFailed(kind, fe)
		c.log.Error("refresh failed", Fields{
			"kind":       kind,
			"filtered":   len(filters) > 0,
			"status":     fe.Status,
			"err":        fe,
			"activation": c.id,
		})
		return fe
	}

	payload, err := c.codec.Encode(v)
	if err != nil {
		fe := &FetchError{Kind: kind, Op: "encode", Err: err}
		c.finish(kind, ep, func(s *slot) { s.err = fe })
		return fe
	}

	// storage I/O stays outside c.mu; the entry carries obs, so a write that
	// loses a race with Clear is rejected on read as a generation mismatch
	if cur := c.snapshotGen(ctx, kind); cur != obs || c.currentEpoch() != ep {
		c.discard(kind, "gen_mismatch")
		return ErrCancelled
	}
	entry := wire.EncodeEntry(obs, payload)
	ok, storeErr := c.provider.Set(ctx, c.key(kind), entry, int64(len(entry)), 0)

	written := c.finish(kind, ep, func(s *slot) {
		switch {
		case storeErr != nil:
			s.err = &FetchError{Kind: kind, Op: "store", Err: storeErr}
		case !ok:
			// value not retained; keep whatever was there before
		default:
			s.hasValue = true
			s.err = nil
			s.lastUpdated = c.now()
		}
	})
	if !written {
		return ErrCancelled
	}
	if storeErr != nil {
		c.log.Error("slot write failed", Fields{"kind": kind, "err": storeErr, "activation": c.id})
		return &FetchError{Kind: kind, Op: "store", Err: storeErr}
	}
	if !ok {
		c.hooks.ProviderSetRejected(kind)
		c.log.Debug("slot write rejected by provider (pressure)", Fields{"kind": kind})
		return nil
	}
	c.hooks.FetchSucceeded(kind, c.now().Sub(start))
	return nil
}

// begin clears the slot error and marks a fetch in flight.
func (c *cache[V]) begin(kind Kind) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.guard.Active() {
		return false
	}
	s := c.slots[kind]
	s.err = nil
	s.inflight++
	return true
}

// finish settles one in-flight fetch. mutate runs under c.mu only when the
// guard is active and no clear happened since epoch ep. It reports false
// when the result was discarded.
func (c *cache[V]) finish(kind Kind, ep uint64, mutate func(*slot)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.guard.Active() {
		// Close already reset the slot
		c.hooks.ResultDiscarded(kind, "inactive")
		return false
	}
	s := c.slots[kind]
	if s.inflight > 0 {
		s.inflight--
	}
	if c.epoch != ep {
		c.hooks.ResultDiscarded(kind, "gen_mismatch")
		c.log.Debug("refresh result skipped (cleared)", Fields{"kind": kind, "epoch": ep, "cur": c.epoch})
		return false
	}
	if mutate != nil {
		mutate(s)
	}
	return true
}

func (c *cache[V]) currentEpoch() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch
}

// discard settles a cancelled fetch without touching value or error.
func (c *cache[V]) discard(kind Kind, reason string) {
	c.mu.Lock()
	if c.guard.Active() {
		if s := c.slots[kind]; s.inflight > 0 {
			s.inflight--
		}
	}
	c.mu.Unlock()
	c.hooks.ResultDiscarded(kind, reason)
	c.log.Debug("refresh result discarded", Fields{"kind": kind, "reason": reason})
}

// fresh reports whether kind holds a present, non-stale value.
func (c *cache[V]) fresh(ctx context.Context, kind Kind) bool {
	c.mu.Lock()
	s := c.slots[kind]
	ok := s.hasValue && !c.policy.Stale(kind, s.lastUpdated, c.now())
	c.mu.Unlock()
	if !ok {
		return false
	}
	_, present := c.peek(ctx, kind)
	return present
}

func (c *cache[V]) View(kind Kind) View[V] {
	v := View[V]{Kind: kind}
	if !kind.Valid() {
		v.Err = fmt.Errorf("%w: %q", ErrUnknownKind, kind)
		return v
	}
	c.mu.Lock()
	s, ok := c.slots[kind]
	if ok {
		v.HasValue = s.hasValue
		v.Loading = s.loading()
		v.Err = s.err
		v.LastUpdated = s.lastUpdated
	}
	c.mu.Unlock()
	if !v.HasValue {
		return v
	}

	val, ok := c.load(context.Background(), kind)
	if !ok {
		v.HasValue = false
		v.LastUpdated = time.Time{}
		c.mu.Lock()
		v.Loading = c.slots[kind].inflight > 0
		c.mu.Unlock()
		return v
	}
	v.Value = val
	return v
}

func (c *cache[V]) Views() map[Kind]View[V] {
	out := make(map[Kind]View[V], len(allKinds))
	for _, k := range allKinds {
		out[k] = c.View(k)
	}
	return out
}

func (c *cache[V]) IsAnyLoading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.slots {
		if s.loading() {
			return true
		}
	}
	return false
}

func (c *cache[V]) Clear(ctx context.Context) error {
	if !c.guard.Active() {
		return ErrClosed
	}
	return c.clear(ctx, "manual")
}

// clear resets slot metadata and moves the epoch under c.mu, then bumps
// every generation and drops every payload. In-flight counters are kept so
// loading settles correctly when those fetches return.
func (c *cache[V]) clear(ctx context.Context, reason string) error {
	keys := make([]string, len(allKinds))
	for i, k := range allKinds {
		keys[i] = c.key(k)
	}

	c.clearing.Lock()
	defer c.clearing.Unlock()

	c.mu.Lock()
	c.epoch++
	for _, k := range allKinds {
		c.slots[k].reset()
	}
	c.mu.Unlock()

	var errs []error
	if err := c.gens.BumpMany(ctx, keys); err != nil {
		for _, k := range allKinds {
			c.hooks.GenBumpError(k, err)
		}
		errs = append(errs, fmt.Errorf("bump generations: %w", err))
	}
	for i, k := range allKinds {
		if err := c.provider.Del(ctx, keys[i]); err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", k, err))
		}
	}

	c.hooks.Cleared(reason)
	c.log.Info("cache cleared", Fields{"reason": reason, "activation": c.id})
	return errors.Join(errs...)
}

func (c *cache[V]) Close(ctx context.Context) error {
	c.closeOnce.Do(func() {
		if !c.guard.Deactivate() {
			return
		}
		c.auth.stop()

		c.mu.Lock()
		c.epoch++
		for _, k := range allKinds {
			c.slots[k] = &slot{}
		}
		c.mu.Unlock()
		for _, k := range allKinds {
			_ = c.provider.Del(ctx, c.key(k))
		}
		c.hooks.Cleared("teardown")

		var errs []error
		if c.ownsGens {
			if err := c.gens.Close(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		if err := c.provider.Close(ctx); err != nil {
			errs = append(errs, err)
		}
		c.closeErr = errors.Join(errs...)
		c.log.Debug("cache closed", Fields{"activation": c.id})
	})
	return c.closeErr
}

// peek returns the validated payload bytes for kind, self-healing the slot
// when the stored entry is gone, corrupt or from an older generation.
func (c *cache[V]) peek(ctx context.Context, kind Kind) ([]byte, bool) {
	k := c.key(kind)
	raw, ok, err := c.provider.Get(ctx, k)
	if err != nil {
		c.log.Warn("slot read failed", Fields{"kind": kind, "err": err})
		return nil, false
	}
	if !ok {
		c.heal(ctx, kind, "missing", false)
		return nil, false
	}
	g, payload, err := wire.DecodeEntry(raw)
	if err != nil {
		c.heal(ctx, kind, "corrupt", true)
		return nil, false
	}
	if g != c.snapshotGen(ctx, kind) {
		c.heal(ctx, kind, "gen_mismatch", true)
		return nil, false
	}
	return payload, true
}

func (c *cache[V]) load(ctx context.Context, kind Kind) (V, bool) {
	var zero V
	payload, ok := c.peek(ctx, kind)
	if !ok {
		return zero, false
	}
	v, err := c.codec.Decode(payload)
	if err != nil {
		c.heal(ctx, kind, "value_decode", true)
		return zero, false
	}
	return v, true
}

// heal marks the slot empty so the next refresh fetches, keeping the error
// and in-flight state intact.
func (c *cache[V]) heal(ctx context.Context, kind Kind, reason string, del bool) {
	if del {
		_ = c.provider.Del(ctx, c.key(kind))
	}
	c.mu.Lock()
	if s, ok := c.slots[kind]; ok && c.guard.Active() {
		s.hasValue = false
		s.lastUpdated = time.Time{}
	}
	c.mu.Unlock()
	c.hooks.SelfHeal(kind, reason)
}

func (c *cache[V]) snapshotGen(ctx context.Context, kind Kind) uint64 {
	g, err := c.gens.Snapshot(ctx, c.key(kind))
	if err != nil {
		// conservative: treat as 0, reads self-heal
		c.hooks.GenSnapshotError(kind, err)
		c.log.Warn("gen snapshot error", Fields{"kind": kind, "err": err})
		return 0
	}
	return g
}

func (c *cache[V]) key(kind Kind) string {
	return util.SlotKey(c.ns, string(kind))
}
