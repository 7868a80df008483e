package rtcache

import (
	"fmt"

	"github.com/unkn0wn-root/rtcache/internal/util"
)

// Kind names one category of remote data cached independently.
// Each kind maps 1:1 to a remote fetch operation and a TTL.
type Kind string

const (
	KindProfile            Kind = "profile"
	KindStats              Kind = "stats"
	KindOffers             Kind = "offers"
	KindApplications       Kind = "applications"
	KindCollaborations     Kind = "collaborations"
	KindEstablishments     Kind = "establishments"
	KindQRCodes            Kind = "qrCodes"
	KindWeeklyReservations Kind = "weeklyReservations"
	KindConversations      Kind = "conversations"
)

var allKinds = [...]Kind{
	KindProfile,
	KindStats,
	KindOffers,
	KindApplications,
	KindCollaborations,
	KindEstablishments,
	KindQRCodes,
	KindWeeklyReservations,
	KindConversations,
}

// AllKinds returns every known kind in declaration order.
func AllKinds() []Kind {
	out := make([]Kind, len(allKinds))
	copy(out, allKinds[:])
	return out
}

func (k Kind) String() string { return string(k) }

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	for _, x := range allKinds {
		if x == k {
			return true
		}
	}
	return false
}

// ParseKind maps a wire name (e.g. "qrCodes") to its Kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !k.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
	return k, nil
}

// Filters are passed through opaquely to the data service.
// A refresh carrying filters always fetches and never shares a flight
// with an unfiltered refresh of the same kind.
type Filters map[string]string

// Key returns a deterministic, order-independent identifier for f.
// Empty filters yield "".
func (f Filters) Key() string {
	if len(f) == 0 {
		return ""
	}
	pairs := make([]string, 0, len(f))
	for k, v := range f {
		pairs = append(pairs, k+"="+v)
	}
	return util.HashedKey("f", pairs)
}

func (f Filters) clone() Filters {
	if len(f) == 0 {
		return nil
	}
	out := make(Filters, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}
