// Command rtcache loads every resource kind once through the cache and
// prints the resulting slot views as JSON.
//
// Configuration comes from RTCACHE_* environment variables (see package
// config). The process exits non-zero only when the configuration is
// unusable; fetch failures are reported per kind in the output.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/oauth2"

	"github.com/unkn0wn-root/rtcache"
	"github.com/unkn0wn-root/rtcache/config"
	"github.com/unkn0wn-root/rtcache/dataservice"
	asynchook "github.com/unkn0wn-root/rtcache/hooks/async"
	"github.com/unkn0wn-root/rtcache/promhooks"
	"github.com/unkn0wn-root/rtcache/session"
	"github.com/unkn0wn-root/rtcache/sloghooks"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		slog.Error("fatal error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("rtcache", flag.ContinueOnError)
	kindsFlag := fs.String("kinds", "", "comma-separated kinds to refresh (default: all)")
	metrics := fs.Bool("metrics", false, "print hook counters to stderr on exit")
	timeout := fs.Duration("timeout", 30*time.Second, "overall deadline")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	kinds, err := parseKinds(*kindsFlag)
	if err != nil {
		return err
	}

	log, flush, err := newLogger(cfg.LogFormat, cfg.LogLevel, os.Stderr)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer flush()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	ctx, cancelTimeout := context.WithTimeout(ctx, *timeout)
	defer cancelTimeout()

	client, err := dataservice.New(cfg.DataServiceConfig(), log)
	if err != nil {
		return fmt.Errorf("data service: %w", err)
	}
	sessions := newSessions(ctx, cfg.Auth, log)

	reg := prometheus.NewRegistry()
	hooks := asynchook.New(rtcache.MultiHooks{
		sloghooks.New(slog.New(slog.NewTextHandler(os.Stderr, nil)), sloghooks.Options{SelfHealEvery: 10}),
		promhooks.New(reg, "rtcache"),
	}, 1, 256)

	opts, err := config.Options[dataservice.Resource](ctx, cfg, client, sessions)
	if err != nil {
		hooks.Close()
		return fmt.Errorf("cache options: %w", err)
	}
	opts.Logger = log
	opts.Hooks = hooks

	cache, err := rtcache.New(opts)
	if err != nil {
		hooks.Close()
		return fmt.Errorf("build cache: %w", err)
	}

	var res rtcache.BulkResult
	if len(kinds) == 0 {
		res = cache.RefreshAll(ctx)
	} else {
		res = make(rtcache.BulkResult, len(kinds))
		for _, k := range kinds {
			res[k] = cache.Refresh(ctx, k, rtcache.Force())
		}
	}
	views := cache.Views()

	// close before printing metrics so every hook event has been delivered
	if err := cache.Close(context.Background()); err != nil {
		log.Warn("close cache", rtcache.Fields{"err": err})
	}
	hooks.Close()

	if err := writeViews(out, views, res); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	if *metrics {
		dumpMetrics(os.Stderr, reg)
	}
	return nil
}

func parseKinds(s string) ([]rtcache.Kind, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var out []rtcache.Kind
	for _, part := range strings.Split(s, ",") {
		k, err := rtcache.ParseKind(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("-kinds: %w", err)
		}
		out = append(out, k)
	}
	return out, nil
}

// newSessions picks the session source. A failed OAuth2 exchange is not a
// configuration error; the cache then reports "Not authenticated".
func newSessions(ctx context.Context, a config.Auth, log rtcache.Logger) rtcache.SessionProvider {
	if a.UsesOAuth2() {
		p := session.NewOAuth2Provider(&oauth2.Config{
			ClientID:     a.ClientID,
			ClientSecret: a.ClientSecret,
			Endpoint:     oauth2.Endpoint{TokenURL: a.TokenURL},
		})
		if _, err := p.RestoreRefreshToken(ctx, a.RefreshToken); err != nil {
			log.Warn("refresh token exchange failed", rtcache.Fields{"err": err})
		}
		return p
	}
	m := session.NewMemory(nil)
	if a.AccessToken != "" {
		m.Restore(&rtcache.Session{
			AccessToken: a.AccessToken,
			User:        &rtcache.User{ID: a.UserID},
		})
	}
	return m
}

type viewJSON struct {
	HasValue    bool            `json:"hasValue"`
	Loading     bool            `json:"loading"`
	Error       string          `json:"error,omitempty"`
	LastUpdated *time.Time      `json:"lastUpdated,omitempty"`
	Data        json.RawMessage `json:"data,omitempty"`
}

func writeViews(w io.Writer, views map[rtcache.Kind]rtcache.View[dataservice.Resource], res rtcache.BulkResult) error {
	out := make(map[string]viewJSON, len(res))
	for k := range res {
		v := views[k]
		vj := viewJSON{HasValue: v.HasValue, Loading: v.Loading}
		if v.Err != nil {
			vj.Error = v.Err.Error()
		} else if err := res[k]; err != nil && !rtcache.IsCancelled(err) {
			vj.Error = err.Error()
		}
		if !v.LastUpdated.IsZero() {
			t := v.LastUpdated
			vj.LastUpdated = &t
		}
		if v.HasValue && !v.Value.Empty() {
			vj.Data = v.Value.Data
		}
		out[string(k)] = vj
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func dumpMetrics(w io.Writer, g prometheus.Gatherer) {
	families, err := g.Gather()
	if err != nil {
		fmt.Fprintf(w, "gather metrics: %v\n", err)
		return
	}
	var lines []string
	for _, fam := range families {
		for _, m := range fam.GetMetric() {
			var labels []string
			for _, lp := range m.GetLabel() {
				labels = append(labels, lp.GetName()+"="+lp.GetValue())
			}
			val := m.GetCounter().GetValue()
			if h := m.GetHistogram(); h != nil {
				val = float64(h.GetSampleCount())
			}
			lines = append(lines, fmt.Sprintf("%s{%s} %g", fam.GetName(), strings.Join(labels, ","), val))
		}
	}
	sort.Strings(lines)
	for _, l := range lines {
		fmt.Fprintln(w, l)
	}
}
