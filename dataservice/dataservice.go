// Package dataservice is an HTTP client for the remote data service.
//
// Each resource kind maps to GET <BaseURL>/<kind>; filters become query
// parameters and the credential is sent as a bearer token. Responses use the
// envelope
//
//	{"data": <payload>, "error": {"code": "...", "message": "..."}}
//
// where a null or empty data field is a valid, empty result.
package dataservice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/unkn0wn-root/rtcache"
)

// Resource is the payload of one kind as returned by the service.
type Resource struct {
	Kind rtcache.Kind    `json:"kind" cbor:"kind" msgpack:"kind"`
	Data json.RawMessage `json:"data,omitempty" cbor:"data" msgpack:"data"`
}

// Empty reports whether the service returned no data.
func (r Resource) Empty() bool {
	d := bytes.TrimSpace(r.Data)
	return len(d) == 0 || bytes.Equal(d, []byte("null"))
}

// Decode unmarshals the payload into v. Empty payloads leave v untouched.
func (r Resource) Decode(v any) error {
	if r.Empty() {
		return nil
	}
	return json.Unmarshal(r.Data, v)
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Config holds data service client configuration.
type Config struct {
	BaseURL         string
	Timeout         time.Duration
	MaxRetries      int
	RetryWaitMin    time.Duration
	RetryWaitMax    time.Duration
	MaxConnsPerHost int
	// RateLimit is the client-side request rate per second; 0 disables it.
	RateLimit float64
	RateBurst int
	Breaker   BreakerConfig
	// Paths overrides the request path per kind; default "/<kind>".
	Paths     map[rtcache.Kind]string
	UserAgent string
}

// DefaultConfig returns sensible defaults for baseURL.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:         baseURL,
		Timeout:         15 * time.Second,
		MaxRetries:      2,
		RetryWaitMin:    200 * time.Millisecond,
		RetryWaitMax:    2 * time.Second,
		MaxConnsPerHost: 16,
		Breaker:         DefaultBreakerConfig(),
		UserAgent:       "rtcache",
	}
}

// Client fetches resources from the data service. It implements
// rtcache.Fetcher[Resource].
type Client struct {
	base      *url.URL
	cfg       Config
	transport *transport
	breaker   *gobreaker.CircuitBreaker[*http.Response]
	log       rtcache.Logger
}

var _ rtcache.Fetcher[Resource] = (*Client)(nil)

// New builds a Client. log may be nil.
func New(cfg Config, log rtcache.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("dataservice: base URL is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("dataservice: parse base URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("dataservice: unsupported scheme %q", base.Scheme)
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if log == nil {
		log = rtcache.NopLogger{}
	}
	return &Client{
		base:      base,
		cfg:       cfg,
		transport: newTransport(cfg),
		breaker:   newBreaker("dataservice:"+base.Host, cfg.Breaker, log),
		log:       log,
	}, nil
}

// State returns the breaker state; StateClosed when the breaker is disabled.
func (c *Client) State() gobreaker.State {
	if c.breaker == nil {
		return gobreaker.StateClosed
	}
	return c.breaker.State()
}

// Fetch retrieves one kind. Failures come back as *rtcache.FetchError,
// except cancellation which is returned as the context error.
func (c *Client) Fetch(ctx context.Context, req rtcache.FetchRequest) (Resource, error) {
	res := Resource{Kind: req.Kind}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(req), http.NoBody)
	if err != nil {
		return res, &rtcache.FetchError{Kind: req.Kind, Message: "build request", Err: err}
	}
	httpReq.Header.Set("Accept", "application/json")
	if c.cfg.UserAgent != "" {
		httpReq.Header.Set("User-Agent", c.cfg.UserAgent)
	}
	if req.Credential.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.Credential.Token)
	}

	resp, err := c.execute(ctx, httpReq)
	if err != nil {
		return res, c.transportError(ctx, req.Kind, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return res, c.transportError(ctx, req.Kind, err)
	}

	var env envelope
	decodeErr := json.Unmarshal(body, &env)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		fe := &rtcache.FetchError{Kind: req.Kind, Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		if decodeErr == nil && env.Error != nil {
			fe.Message = env.Error.Message
			fe.Err = fmt.Errorf("code %s", env.Error.Code)
		}
		return res, fe
	}
	if decodeErr != nil {
		return res, &rtcache.FetchError{Kind: req.Kind, Status: resp.StatusCode, Message: "decode response", Err: decodeErr}
	}
	if env.Error != nil {
		return res, &rtcache.FetchError{
			Kind:    req.Kind,
			Status:  resp.StatusCode,
			Message: env.Error.Message,
			Err:     fmt.Errorf("code %s", env.Error.Code),
		}
	}
	res.Data = env.Data
	return res, nil
}

func (c *Client) endpoint(req rtcache.FetchRequest) string {
	p, ok := c.cfg.Paths[req.Kind]
	if !ok {
		p = "/" + string(req.Kind)
	}
	u := *c.base
	u.Path = c.base.Path + "/" + strings.TrimLeft(p, "/")
	if len(req.Filters) > 0 {
		q := make(url.Values, len(req.Filters))
		for k, v := range req.Filters {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func (c *Client) transportError(ctx context.Context, kind rtcache.Kind, err error) error {
	// cancellation is not a failure; the cache discards it
	if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
		return context.Canceled
	}
	var se *serverError
	if errors.As(err, &se) {
		return &rtcache.FetchError{Kind: kind, Status: se.status, Message: http.StatusText(se.status), Err: se}
	}
	if errors.Is(err, ErrCircuitOpen) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &rtcache.FetchError{Kind: kind, Message: "service unavailable", Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &rtcache.FetchError{Kind: kind, Message: "timeout", Err: err}
	}
	return &rtcache.FetchError{Kind: kind, Message: "transport", Err: err}
}
