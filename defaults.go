package rtcache

import "time"

const (
	defaultNamespace   = "rtcache"
	defaultSettleDelay = 300 * time.Millisecond
	defaultGenSweep    = time.Hour
	defaultGenRetain   = 24 * time.Hour
)

// defaultEssentialKinds are force-refreshed on sign-in and token refresh.
var defaultEssentialKinds = []Kind{KindProfile, KindStats}

// coalesce returns def when v is the zero value of T - otherwise v.
func coalesce[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}
