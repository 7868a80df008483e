// Package config loads rtcache settings from the environment and turns them
// into cache options.
package config

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	goredis "github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/rtcache"
	"github.com/unkn0wn-root/rtcache/codec"
	"github.com/unkn0wn-root/rtcache/dataservice"
	"github.com/unkn0wn-root/rtcache/genstore"
	"github.com/unkn0wn-root/rtcache/provider"
	"github.com/unkn0wn-root/rtcache/provider/bigcache"
	"github.com/unkn0wn-root/rtcache/provider/redis"
	"github.com/unkn0wn-root/rtcache/provider/ristretto"
)

// Config is the environment-backed configuration.
type Config struct {
	Namespace      string        `env:"RTCACHE_NAMESPACE" envDefault:"rtcache"`
	Backend        string        `env:"RTCACHE_BACKEND" envDefault:"ristretto"` // ristretto|bigcache|redis
	Codec          string        `env:"RTCACHE_CODEC" envDefault:"json"`        // json|cbor|msgpack
	MaxPayload     int           `env:"RTCACHE_MAX_PAYLOAD_BYTES" envDefault:"0"`
	EssentialKinds []string      `env:"RTCACHE_ESSENTIAL_KINDS" envSeparator:"," envDefault:"profile,stats"`
	SettleDelay    time.Duration `env:"RTCACHE_SETTLE_DELAY" envDefault:"300ms"`
	MaxConcurrency int           `env:"RTCACHE_MAX_CONCURRENCY" envDefault:"0"`
	LogLevel       string        `env:"RTCACHE_LOG_LEVEL" envDefault:"info"`
	LogFormat      string        `env:"RTCACHE_LOG_FORMAT" envDefault:"zap"` // zap|logrus|zerolog|slog

	TTL         TTL
	Gate        Gate
	Redis       Redis
	Bigcache    Bigcache
	DataService DataService
	Auth        Auth
}

// TTL overrides the default staleness policy per kind; 0 keeps the default.
type TTL struct {
	Profile            time.Duration `env:"RTCACHE_TTL_PROFILE"`
	Stats              time.Duration `env:"RTCACHE_TTL_STATS"`
	Offers             time.Duration `env:"RTCACHE_TTL_OFFERS"`
	Applications       time.Duration `env:"RTCACHE_TTL_APPLICATIONS"`
	Collaborations     time.Duration `env:"RTCACHE_TTL_COLLABORATIONS"`
	Establishments     time.Duration `env:"RTCACHE_TTL_ESTABLISHMENTS"`
	QRCodes            time.Duration `env:"RTCACHE_TTL_QRCODES"`
	WeeklyReservations time.Duration `env:"RTCACHE_TTL_WEEKLYRESERVATIONS"`
	Conversations      time.Duration `env:"RTCACHE_TTL_CONVERSATIONS"`
}

type Gate struct {
	Attempts     int           `env:"RTCACHE_GATE_ATTEMPTS" envDefault:"3"`
	RetryDelay   time.Duration `env:"RTCACHE_GATE_RETRY_DELAY" envDefault:"300ms"`
	ExpiryMargin time.Duration `env:"RTCACHE_GATE_EXPIRY_MARGIN" envDefault:"60s"`
}

type Redis struct {
	Addr     string        `env:"RTCACHE_REDIS_ADDR" envDefault:"localhost:6379"`
	Password string        `env:"RTCACHE_REDIS_PASSWORD"`
	DB       int           `env:"RTCACHE_REDIS_DB" envDefault:"0"`
	MaxTTL   time.Duration `env:"RTCACHE_REDIS_MAX_TTL" envDefault:"24h"`
	GenTTL   time.Duration `env:"RTCACHE_REDIS_GEN_TTL" envDefault:"48h"`
}

type Bigcache struct {
	Shards      int           `env:"RTCACHE_BIGCACHE_SHARDS" envDefault:"16"`
	LifeWindow  time.Duration `env:"RTCACHE_BIGCACHE_LIFE_WINDOW" envDefault:"1h"`
	HardMaxMB   int           `env:"RTCACHE_BIGCACHE_HARD_MAX_MB" envDefault:"64"`
	CleanWindow time.Duration `env:"RTCACHE_BIGCACHE_CLEAN_WINDOW" envDefault:"5m"`
}

type DataService struct {
	URL             string        `env:"RTCACHE_DATA_URL"`
	Timeout         time.Duration `env:"RTCACHE_DATA_TIMEOUT" envDefault:"15s"`
	MaxRetries      int           `env:"RTCACHE_DATA_MAX_RETRIES" envDefault:"2"`
	RetryWaitMin    time.Duration `env:"RTCACHE_DATA_RETRY_WAIT_MIN" envDefault:"200ms"`
	RetryWaitMax    time.Duration `env:"RTCACHE_DATA_RETRY_WAIT_MAX" envDefault:"2s"`
	RateLimit       float64       `env:"RTCACHE_DATA_RATE_LIMIT" envDefault:"0"`
	RateBurst       int           `env:"RTCACHE_DATA_RATE_BURST" envDefault:"1"`
	BreakerDisabled bool          `env:"RTCACHE_DATA_BREAKER_DISABLED" envDefault:"false"`
}

// Auth configures how the CLI obtains a session: a static bearer token, or
// an OAuth2 refresh token exchanged at TokenURL.
type Auth struct {
	AccessToken  string `env:"RTCACHE_ACCESS_TOKEN"`
	UserID       string `env:"RTCACHE_USER_ID"`
	RefreshToken string `env:"RTCACHE_REFRESH_TOKEN"`
	TokenURL     string `env:"RTCACHE_TOKEN_URL"`
	ClientID     string `env:"RTCACHE_CLIENT_ID"`
	ClientSecret string `env:"RTCACHE_CLIENT_SECRET"`
}

// UsesOAuth2 reports whether a refresh-token flow is configured.
func (a Auth) UsesOAuth2() bool { return a.RefreshToken != "" && a.TokenURL != "" }

// Load parses environment variables into a Config and validates it.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks enumerations and kind names.
func (c Config) Validate() error {
	var errs []error
	switch c.Backend {
	case "ristretto", "bigcache", "redis":
	default:
		errs = append(errs, fmt.Errorf("backend: unsupported %q", c.Backend))
	}
	switch c.Codec {
	case "json", "cbor", "msgpack":
	default:
		errs = append(errs, fmt.Errorf("codec: unsupported %q", c.Codec))
	}
	switch c.LogFormat {
	case "zap", "logrus", "zerolog", "slog":
	default:
		errs = append(errs, fmt.Errorf("log format: unsupported %q", c.LogFormat))
	}
	if _, err := c.Kinds(); err != nil {
		errs = append(errs, err)
	}
	if c.MaxPayload < 0 {
		errs = append(errs, errors.New("max payload: must be >= 0"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Kinds parses EssentialKinds.
func (c Config) Kinds() ([]rtcache.Kind, error) {
	out := make([]rtcache.Kind, 0, len(c.EssentialKinds))
	for _, s := range c.EssentialKinds {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		k, err := rtcache.ParseKind(s)
		if err != nil {
			return nil, fmt.Errorf("essential kinds: %w", err)
		}
		out = append(out, k)
	}
	return out, nil
}

// Policy returns DefaultPolicy with the non-zero TTL overrides applied.
func (c Config) Policy() rtcache.Policy {
	return rtcache.DefaultPolicy().With(rtcache.Policy{
		rtcache.KindProfile:            c.TTL.Profile,
		rtcache.KindStats:              c.TTL.Stats,
		rtcache.KindOffers:             c.TTL.Offers,
		rtcache.KindApplications:       c.TTL.Applications,
		rtcache.KindCollaborations:     c.TTL.Collaborations,
		rtcache.KindEstablishments:     c.TTL.Establishments,
		rtcache.KindQRCodes:            c.TTL.QRCodes,
		rtcache.KindWeeklyReservations: c.TTL.WeeklyReservations,
		rtcache.KindConversations:      c.TTL.Conversations,
	})
}

func (c Config) GateOptions() rtcache.GateOptions {
	return rtcache.GateOptions{
		Attempts:     c.Gate.Attempts,
		RetryDelay:   c.Gate.RetryDelay,
		ExpiryMargin: c.Gate.ExpiryMargin,
	}
}

func (c Config) DataServiceConfig() dataservice.Config {
	ds := dataservice.DefaultConfig(c.DataService.URL)
	ds.Timeout = c.DataService.Timeout
	ds.MaxRetries = c.DataService.MaxRetries
	ds.RetryWaitMin = c.DataService.RetryWaitMin
	ds.RetryWaitMax = c.DataService.RetryWaitMax
	ds.RateLimit = c.DataService.RateLimit
	ds.RateBurst = c.DataService.RateBurst
	ds.Breaker.Disabled = c.DataService.BreakerDisabled
	return ds
}

// Storage builds the payload provider for Backend. For redis the generation
// store shares the client so every process sees the same generations;
// otherwise gens is nil and the cache uses its local store.
func (c Config) Storage(ctx context.Context) (p provider.Provider, gens genstore.GenStore, err error) {
	switch c.Backend {
	case "ristretto":
		p, err = ristretto.New(ristretto.DefaultConfig())
	case "bigcache":
		p, err = bigcache.New(ctx, bigcache.Config{
			LifeWindow:         c.Bigcache.LifeWindow,
			CleanWindow:        c.Bigcache.CleanWindow,
			Shards:             c.Bigcache.Shards,
			HardMaxCacheSizeMB: c.Bigcache.HardMaxMB,
		})
	case "redis":
		client := goredis.NewClient(&goredis.Options{
			Addr:     c.Redis.Addr,
			Password: c.Redis.Password,
			DB:       c.Redis.DB,
		})
		p, err = redis.New(redis.Config{Client: client, CloseClient: true, MaxTTL: c.Redis.MaxTTL})
		if err == nil {
			gens = genstore.NewRedisGenStore(client, c.Namespace, c.Redis.GenTTL, false)
		}
	default:
		err = fmt.Errorf("backend: unsupported %q", c.Backend)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("storage %s: %w", c.Backend, err)
	}
	return p, gens, nil
}

// NewCodec returns the configured codec for V, size-limited when
// MaxPayload is set.
func NewCodec[V any](c Config) (codec.Codec[V], error) {
	cd, err := codec.ByName[V](c.Codec)
	if err != nil {
		return nil, err
	}
	if c.MaxPayload > 0 {
		cd = codec.Limit[V]{Inner: cd, MaxEncode: c.MaxPayload, MaxDecode: c.MaxPayload}
	}
	return cd, nil
}

// Options assembles cache options. The caller supplies the fetcher, the
// session provider and the ambient logger/hooks.
func Options[V any](ctx context.Context, c Config, fetcher rtcache.Fetcher[V], sessions rtcache.SessionProvider) (rtcache.Options[V], error) {
	kinds, err := c.Kinds()
	if err != nil {
		return rtcache.Options[V]{}, err
	}
	cd, err := NewCodec[V](c)
	if err != nil {
		return rtcache.Options[V]{}, err
	}
	p, gens, err := c.Storage(ctx)
	if err != nil {
		return rtcache.Options[V]{}, err
	}
	return rtcache.Options[V]{
		Fetcher:        fetcher,
		Sessions:       sessions,
		Namespace:      c.Namespace,
		Provider:       p,
		Codec:          cd,
		GenStore:       gens,
		Policy:         c.Policy(),
		Gate:           c.GateOptions(),
		EssentialKinds: kinds,
		SettleDelay:    c.SettleDelay,
		MaxConcurrency: c.MaxConcurrency,
	}, nil
}
