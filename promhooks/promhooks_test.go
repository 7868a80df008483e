package promhooks

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unkn0wn-root/rtcache"
)

// gather returns metric families by name from reg.
func gather(t *testing.T, reg *prometheus.Registry) map[string]*dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	out := make(map[string]*dto.MetricFamily, len(families))
	for _, fam := range families {
		out[fam.GetName()] = fam
	}
	return out
}

// counter returns the value of the series in fam whose labels match all of want.
func counter(t *testing.T, fam *dto.MetricFamily, want map[string]string) float64 {
	t.Helper()
	require.NotNil(t, fam)
	for _, m := range fam.GetMetric() {
		got := make(map[string]string, len(m.GetLabel()))
		for _, lp := range m.GetLabel() {
			got[lp.GetName()] = lp.GetValue()
		}
		match := true
		for k, v := range want {
			if got[k] != v {
				match = false
				break
			}
		}
		if match {
			return m.GetCounter().GetValue()
		}
	}
	t.Fatalf("no series %v in %s", want, fam.GetName())
	return 0
}

func TestHooks_FetchOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	h := New(reg, "app")

	h.FetchSucceeded(rtcache.KindProfile, 20*time.Millisecond)
	h.FetchFailed(rtcache.KindStats, errors.New("timeout"))
	h.FetchFailed(rtcache.KindStats, &rtcache.FetchError{Kind: rtcache.KindStats, Status: 401})

	fams := gather(t, reg)
	fetches := fams["app_fetches_total"]
	assert.Equal(t, 1.0, counter(t, fetches, map[string]string{"kind": "profile", "outcome": "success"}))
	assert.Equal(t, 1.0, counter(t, fetches, map[string]string{"kind": "stats", "outcome": "failure"}))
	assert.Equal(t, 1.0, counter(t, fetches, map[string]string{"kind": "stats", "outcome": "policy_violation"}))

	hist := fams["app_fetch_duration_seconds"]
	require.NotNil(t, hist)
	require.Len(t, hist.GetMetric(), 1)
	assert.Equal(t, uint64(1), hist.GetMetric()[0].GetHistogram().GetSampleCount())
}

func TestHooks_LifecycleCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	h := New(reg, "")

	h.CacheHit(rtcache.KindOffers)
	h.CacheHit(rtcache.KindOffers)
	h.ResultDiscarded(rtcache.KindOffers, "gen_mismatch")
	h.SelfHeal(rtcache.KindOffers, "missing")
	h.Cleared("signed_out")
	h.GenBumpError(rtcache.KindProfile, errors.New("down"))
	h.SessionRefreshFailed(errors.New("expired"))

	fams := gather(t, reg)
	assert.Equal(t, 2.0, counter(t, fams["rtcache_cache_hits_total"], map[string]string{"kind": "offers"}))
	assert.Equal(t, 1.0, counter(t, fams["rtcache_results_discarded_total"], map[string]string{"reason": "gen_mismatch"}))
	assert.Equal(t, 1.0, counter(t, fams["rtcache_self_heals_total"], map[string]string{"reason": "missing"}))
	assert.Equal(t, 1.0, counter(t, fams["rtcache_clears_total"], map[string]string{"reason": "signed_out"}))
	assert.Equal(t, 1.0, counter(t, fams["rtcache_generation_errors_total"], map[string]string{"op": "bump"}))
	assert.Equal(t, 1.0, counter(t, fams["rtcache_session_refresh_failures_total"], nil))
}

func TestHooks_DoubleRegisterPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg, "dup")
	assert.Panics(t, func() { New(reg, "dup") })
}
