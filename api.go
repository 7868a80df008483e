package rtcache

import (
	"context"
	"time"

	"github.com/unkn0wn-root/rtcache/codec"
	gen "github.com/unkn0wn-root/rtcache/genstore"
	pr "github.com/unkn0wn-root/rtcache/provider"
)

// FetchRequest is one remote fetch for one kind.
type FetchRequest struct {
	Kind       Kind
	Filters    Filters
	Credential Credential
}

// Fetcher is the remote data service. Expected conditions (empty result
// sets) must not be errors; errors are reserved for transport failures,
// policy violations and cancellation.
type Fetcher[V any] interface {
	Fetch(ctx context.Context, req FetchRequest) (V, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc[V any] func(ctx context.Context, req FetchRequest) (V, error)

func (f FetcherFunc[V]) Fetch(ctx context.Context, req FetchRequest) (V, error) { return f(ctx, req) }

// View is a read-only snapshot of one slot for the presentation layer.
type View[V any] struct {
	Kind        Kind
	Value       V
	HasValue    bool
	Loading     bool // a fetch is in flight and no value is cached yet
	Err         error
	LastUpdated time.Time // zero until the first success
}

// Cache is the consumer-facing API. One Cache is one consumer activation:
// build it on activation, Close it on teardown.
type Cache[V any] interface {
	Enabled() bool

	// Refresh brings kind up to date. Without Force or filters it is a no-op
	// when the slot is fresh and non-empty.
	Refresh(ctx context.Context, kind Kind, opts ...RefreshOption) error

	// RefreshAll force-refreshes every kind concurrently and waits for all
	// outcomes. Individual failures never abort the others.
	RefreshAll(ctx context.Context) BulkResult

	View(kind Kind) View[V]
	Views() map[Kind]View[V]
	IsAnyLoading() bool

	// Clear resets every slot to empty. Fetches in flight at the time of the
	// call cannot repopulate the slots.
	Clear(ctx context.Context) error

	// Close tears the activation down: deactivates the lifecycle guard,
	// unsubscribes from auth events, resets slots and releases storage.
	Close(ctx context.Context) error
}

type refreshConfig struct {
	force   bool
	filters Filters
}

// RefreshOption tunes a single Refresh call.
type RefreshOption func(*refreshConfig)

// Force bypasses the staleness check.
func Force() RefreshOption { return func(rc *refreshConfig) { rc.force = true } }

// WithFilters passes filters to the data service. Filtered refreshes always
// fetch, even when the slot is fresh.
func WithFilters(f Filters) RefreshOption {
	return func(rc *refreshConfig) { rc.filters = f.clone() }
}

// Options tune the cache. Only Fetcher is required.
type Options[V any] struct {
	Fetcher  Fetcher[V]
	Sessions SessionProvider // nil => every refresh fails with ErrNotAuthenticated

	Namespace string         // storage key namespace; "" => "rtcache"
	Provider  pr.Provider    // nil => in-process Ristretto
	Codec     codec.Codec[V] // nil => codec.JSON[V]
	GenStore  gen.GenStore   // nil => genstore.LocalGenStore

	Policy         Policy // nil => DefaultPolicy(); missing kinds => DefaultTTL
	Gate           GateOptions
	EssentialKinds []Kind        // refreshed on sign-in/token refresh; nil => profile, stats
	SettleDelay    time.Duration // wait after SIGNED_IN before refreshing; 0 => 300ms
	MaxConcurrency int           // RefreshAll fan-out bound; 0 => all kinds at once

	Logger Logger
	Hooks  Hooks
	Now    func() time.Time // nil => time.Now
	// Disabled turns every Refresh into a no-op; views stay empty.
	Disabled bool
}

func New[V any](opts Options[V]) (Cache[V], error) {
	return newCache[V](opts)
}
