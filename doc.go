// Package rtcache implements a session-gated, multi-resource read-through
// cache that sits between a client application and a remote data service.
//
// Every resource kind (profile, stats, offers, ...) has its own slot with a
// staleness TTL. A refresh on a fresh, non-empty slot is a no-op; otherwise
// the cache resolves a credential through the Gate, fetches, and writes the
// slot. A failed refresh keeps the previous value (stale-while-revalidate).
//
// Components:
//   - Provider: byte store for slot payloads (Ristretto, BigCache, Redis).
//   - Codec[V]: (de)serializes V <-> []byte.
//   - GenStore: generation counter per slot. Clear bumps every generation, so
//     fetches that were in flight during a sign-out cannot write back.
//   - Gate: resolves a credential from the SessionProvider with a bounded
//     retry (3 attempts, 300ms apart) and a one-shot refresh near expiry.
//   - Guard: lifecycle flag of the owning activation; results that settle
//     after Close have no observable effect.
//
// Keys:
//
//	slot:<ns>:<kind>  - framed payload (see internal/wire)
//
// Typical use:
//
//	cache, _ := rtcache.New[Resource](rtcache.Options[Resource]{
//	    Fetcher:  client,   // e.g. dataservice.Client
//	    Sessions: sessions, // e.g. session.Memory or session.OAuth2Provider
//	})
//	defer cache.Close(ctx)
//
//	_ = cache.Refresh(ctx, rtcache.KindProfile)
//	v := cache.View(rtcache.KindProfile) // {Value, Loading, Err, LastUpdated}
package rtcache
