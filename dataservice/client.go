package dataservice

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// transport wraps http.Client with a client-side rate limit and retry with
// exponential backoff.
type transport struct {
	httpClient *http.Client
	limiter    *rate.Limiter // nil => unlimited
	cfg        Config
}

func newTransport(cfg Config) *transport {
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   cfg.MaxConnsPerHost,
		MaxConnsPerHost:       cfg.MaxConnsPerHost,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	t := &transport{
		httpClient: &http.Client{Transport: tr, Timeout: cfg.Timeout},
		cfg:        cfg,
	}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst < 1 {
			burst = 1
		}
		t.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return t
}

// do sends req, retrying network errors and 5xx (except 501). The final
// response is returned as is, whatever its status.
func (t *transport) do(ctx context.Context, req *http.Request) (*http.Response, error) {
	req = req.WithContext(ctx)

	var (
		resp *http.Response
		err  error
	)
	for attempt := 0; attempt <= t.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			wait := t.cfg.RetryWaitMin * time.Duration(1<<uint(attempt-1))
			if wait > t.cfg.RetryWaitMax {
				wait = t.cfg.RetryWaitMax
			}
			timer := time.NewTimer(wait)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			}
		}
		if t.limiter != nil {
			if err := t.limiter.Wait(ctx); err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return nil, ctxErr
				}
				return nil, fmt.Errorf("rate limit: %w", err)
			}
		}

		resp, err = t.httpClient.Do(req)
		if err != nil {
			if isRetryableError(err) && attempt < t.cfg.MaxRetries {
				continue
			}
			return nil, fmt.Errorf("http request failed after %d attempts: %w", attempt+1, err)
		}

		if resp.StatusCode >= 500 && resp.StatusCode != http.StatusNotImplemented && attempt < t.cfg.MaxRetries {
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
			_ = resp.Body.Close()
			continue
		}
		return resp, nil
	}
	return resp, err
}

// isRetryableError reports network failures worth another attempt. Context
// errors never are.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var ne net.Error
	return errors.As(err, &ne)
}
