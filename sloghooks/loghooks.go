// Package sloghooks logs rtcache hook events through log/slog.
package sloghooks

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/unkn0wn-root/rtcache"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	SelfHealEvery uint64
	CacheHitEvery uint64
	// Optional redactor for error text that may carry user data.
	// Defaults to a SHA-256 prefix.
	Redact func(string) string
	// LogErrors logs raw error text instead of the redacted digest.
	LogErrors bool
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	selfHealCtr atomic.Uint64
	hitCtr      atomic.Uint64
}

var _ rtcache.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(s string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(s)
	}
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:8])
}

func (h *Hooks) errAttr(err error) slog.Attr {
	if err == nil {
		return slog.String("err", "")
	}
	if h.opts.LogErrors {
		return slog.String("err", err.Error())
	}
	return slog.String("err_digest", h.redact(err.Error()))
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) CacheHit(kind rtcache.Kind) {
	if h.l == nil || !sample(h.opts.CacheHitEvery, &h.hitCtr) {
		return
	}
	h.l.Debug("rtcache.cache_hit", "kind", kind)
}

func (h *Hooks) FetchSucceeded(kind rtcache.Kind, took time.Duration) {
	if h.l == nil {
		return
	}
	h.l.Debug("rtcache.fetch_succeeded", "kind", kind, "took", took)
}

func (h *Hooks) FetchFailed(kind rtcache.Kind, err error) {
	if h.l == nil {
		return
	}
	h.l.LogAttrs(context.Background(), slog.LevelWarn, "rtcache.fetch_failed",
		slog.Any("kind", kind),
		slog.Bool("policy_violation", rtcache.IsPolicyViolation(err)),
		h.errAttr(err))
}

func (h *Hooks) ResultDiscarded(kind rtcache.Kind, reason string) {
	if h.l == nil {
		return
	}
	h.l.Debug("rtcache.result_discarded", "kind", kind, "reason", reason)
}

func (h *Hooks) SelfHeal(kind rtcache.Kind, reason string) {
	if h.l == nil || !sample(h.opts.SelfHealEvery, &h.selfHealCtr) {
		return
	}
	h.l.Debug("rtcache.self_heal", "kind", kind, "reason", reason)
}

func (h *Hooks) ProviderSetRejected(kind rtcache.Kind) {
	if h.l == nil {
		return
	}
	h.l.Warn("rtcache.provider_set_rejected", "kind", kind)
}

func (h *Hooks) GenSnapshotError(kind rtcache.Kind, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("rtcache.gen_snapshot_error", "kind", kind, "err", err)
}

func (h *Hooks) GenBumpError(kind rtcache.Kind, err error) {
	if h.l == nil {
		return
	}
	h.l.Error("rtcache.gen_bump_error", "kind", kind, "err", err)
}

func (h *Hooks) SessionRefreshFailed(err error) {
	if h.l == nil {
		return
	}
	h.l.LogAttrs(context.Background(), slog.LevelWarn, "rtcache.session_refresh_failed", h.errAttr(err))
}

func (h *Hooks) Cleared(reason string) {
	if h.l == nil {
		return
	}
	h.l.Info("rtcache.cleared", "reason", reason)
}
