package rtcache

import "time"

// DefaultTTL applies to kinds missing from a Policy.
const DefaultTTL = 30 * time.Second

// Policy maps each kind to the maximum age of its cached value.
type Policy map[Kind]time.Duration

// DefaultPolicy returns the stock staleness table.
func DefaultPolicy() Policy {
	return Policy{
		KindProfile:            10 * time.Minute,
		KindEstablishments:     5 * time.Minute,
		KindQRCodes:            5 * time.Minute,
		KindStats:              2 * time.Minute,
		KindOffers:             2 * time.Minute,
		KindApplications:       2 * time.Minute,
		KindCollaborations:     2 * time.Minute,
		KindWeeklyReservations: 2 * time.Minute,
		KindConversations:      time.Minute,
	}
}

// TTL returns the configured TTL for kind, or DefaultTTL.
func (p Policy) TTL(kind Kind) time.Duration {
	if ttl, ok := p[kind]; ok && ttl > 0 {
		return ttl
	}
	return DefaultTTL
}

// Stale reports whether a value fetched at lastUpdated must be refetched at now.
// A zero lastUpdated is always stale.
func (p Policy) Stale(kind Kind, lastUpdated, now time.Time) bool {
	if lastUpdated.IsZero() {
		return true
	}
	return now.Sub(lastUpdated) > p.TTL(kind)
}

// With returns a copy of p with the given overrides applied.
func (p Policy) With(overrides Policy) Policy {
	out := make(Policy, len(p)+len(overrides))
	for k, v := range p {
		out[k] = v
	}
	for k, v := range overrides {
		if v > 0 {
			out[k] = v
		}
	}
	return out
}
