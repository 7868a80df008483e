// Package promhooks exports rtcache hook events as Prometheus metrics.
package promhooks

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/unkn0wn-root/rtcache"
)

type Hooks struct {
	hits           *prometheus.CounterVec
	fetches        *prometheus.CounterVec
	fetchDuration  *prometheus.HistogramVec
	discarded      *prometheus.CounterVec
	selfHeals      *prometheus.CounterVec
	setRejected    *prometheus.CounterVec
	genErrors      *prometheus.CounterVec
	sessionRefresh prometheus.Counter
	cleared        *prometheus.CounterVec
}

var _ rtcache.Hooks = (*Hooks)(nil)

// New registers the metrics on reg (prometheus.DefaultRegisterer when nil).
// Registering twice on the same registry panics, like promauto.
func New(reg prometheus.Registerer, namespace string) *Hooks {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "rtcache"
	}
	f := promauto.With(reg)

	return &Hooks{
		hits: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Refreshes served from a fresh slot without fetching",
		}, []string{"kind"}),
		fetches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetches_total",
			Help:      "Remote fetches by outcome",
		}, []string{"kind", "outcome"}),
		fetchDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Duration of successful remote fetches in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		discarded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "results_discarded_total",
			Help:      "Fetch results dropped without touching the slot",
		}, []string{"kind", "reason"}),
		selfHeals: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "self_heals_total",
			Help:      "Slot payloads dropped on read",
		}, []string{"kind", "reason"}),
		setRejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_set_rejected_total",
			Help:      "Slot writes the storage provider refused to retain",
		}, []string{"kind"}),
		genErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_errors_total",
			Help:      "Generation store failures",
		}, []string{"kind", "op"}),
		sessionRefresh: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_refresh_failures_total",
			Help:      "Near-expiry session refreshes that failed",
		}),
		cleared: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "clears_total",
			Help:      "Full cache resets by reason",
		}, []string{"reason"}),
	}
}

func (h *Hooks) CacheHit(kind rtcache.Kind) {
	h.hits.WithLabelValues(string(kind)).Inc()
}

func (h *Hooks) FetchSucceeded(kind rtcache.Kind, took time.Duration) {
	h.fetches.WithLabelValues(string(kind), "success").Inc()
	h.fetchDuration.WithLabelValues(string(kind)).Observe(took.Seconds())
}

func (h *Hooks) FetchFailed(kind rtcache.Kind, err error) {
	outcome := "failure"
	if rtcache.IsPolicyViolation(err) {
		outcome = "policy_violation"
	}
	h.fetches.WithLabelValues(string(kind), outcome).Inc()
}

func (h *Hooks) ResultDiscarded(kind rtcache.Kind, reason string) {
	h.discarded.WithLabelValues(string(kind), reason).Inc()
}

func (h *Hooks) SelfHeal(kind rtcache.Kind, reason string) {
	h.selfHeals.WithLabelValues(string(kind), reason).Inc()
}

func (h *Hooks) ProviderSetRejected(kind rtcache.Kind) {
	h.setRejected.WithLabelValues(string(kind)).Inc()
}

func (h *Hooks) GenSnapshotError(kind rtcache.Kind, _ error) {
	h.genErrors.WithLabelValues(string(kind), "snapshot").Inc()
}

func (h *Hooks) GenBumpError(kind rtcache.Kind, _ error) {
	h.genErrors.WithLabelValues(string(kind), "bump").Inc()
}

func (h *Hooks) SessionRefreshFailed(error) { h.sessionRefresh.Inc() }

func (h *Hooks) Cleared(reason string) { h.cleared.WithLabelValues(reason).Inc() }
