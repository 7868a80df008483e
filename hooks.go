package rtcache

import "time"

// Hooks are lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking; wrap slow sinks with
// hooks/async.
type Hooks interface {
	// A non-forced refresh was served from a fresh slot.
	CacheHit(kind Kind)

	// A remote fetch completed and its result was written to the slot.
	FetchSucceeded(kind Kind, took time.Duration)

	// A remote fetch failed; the slot kept its previous value.
	FetchFailed(kind Kind, err error)

	// A fetch result was dropped without touching the slot.
	// reason ∈ {"inactive", "cancelled", "gen_mismatch"}
	ResultDiscarded(kind Kind, reason string)

	// A slot payload was dropped on read.
	// reason ∈ {"missing", "corrupt", "gen_mismatch", "value_decode"}
	SelfHeal(kind Kind, reason string)

	// Provider returned ok=false on Set (backpressure/eviction).
	ProviderSetRejected(kind Kind)

	// GenStore errors.
	GenSnapshotError(kind Kind, err error)
	GenBumpError(kind Kind, err error)

	// The session was near expiry and could not be refreshed; the old
	// credential was used.
	SessionRefreshFailed(err error)

	// All slots were reset. reason ∈ {"signed_out", "teardown", "manual"}
	Cleared(reason string)
}

// NopHooks is the default no-op.
type NopHooks struct{}

func (NopHooks) CacheHit(Kind)                     {}
func (NopHooks) FetchSucceeded(Kind, time.Duration) {}
func (NopHooks) FetchFailed(Kind, error)           {}
func (NopHooks) ResultDiscarded(Kind, string)      {}
func (NopHooks) SelfHeal(Kind, string)             {}
func (NopHooks) ProviderSetRejected(Kind)          {}
func (NopHooks) GenSnapshotError(Kind, error)      {}
func (NopHooks) GenBumpError(Kind, error)          {}
func (NopHooks) SessionRefreshFailed(error)        {}
func (NopHooks) Cleared(string)                    {}

// MultiHooks fans every event out to each hook in order.
type MultiHooks []Hooks

func (m MultiHooks) CacheHit(k Kind) {
	for _, h := range m {
		h.CacheHit(k)
	}
}

func (m MultiHooks) FetchSucceeded(k Kind, took time.Duration) {
	for _, h := range m {
		h.FetchSucceeded(k, took)
	}
}

func (m MultiHooks) FetchFailed(k Kind, err error) {
	for _, h := range m {
		h.FetchFailed(k, err)
	}
}

func (m MultiHooks) ResultDiscarded(k Kind, reason string) {
	for _, h := range m {
		h.ResultDiscarded(k, reason)
	}
}

func (m MultiHooks) SelfHeal(k Kind, reason string) {
	for _, h := range m {
		h.SelfHeal(k, reason)
	}
}

func (m MultiHooks) ProviderSetRejected(k Kind) {
	for _, h := range m {
		h.ProviderSetRejected(k)
	}
}

func (m MultiHooks) GenSnapshotError(k Kind, err error) {
	for _, h := range m {
		h.GenSnapshotError(k, err)
	}
}

func (m MultiHooks) GenBumpError(k Kind, err error) {
	for _, h := range m {
		h.GenBumpError(k, err)
	}
}

func (m MultiHooks) SessionRefreshFailed(err error) {
	for _, h := range m {
		h.SessionRefreshFailed(err)
	}
}

func (m MultiHooks) Cleared(reason string) {
	for _, h := range m {
		h.Cleared(reason)
	}
}
