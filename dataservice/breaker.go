package dataservice

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/unkn0wn-root/rtcache"
)

// BreakerConfig configures the circuit breaker in front of the data service.
type BreakerConfig struct {
	// MaxRequests allowed in the half-open state. 0 means 1.
	MaxRequests uint32
	// Interval clears counts in the closed state. 0 never clears.
	Interval time.Duration
	// Timeout is how long the breaker stays open before half-open.
	Timeout time.Duration
	// FailureRatio trips the breaker once MinRequests have been seen.
	FailureRatio float64
	MinRequests  uint32
	// Disabled bypasses the breaker.
	Disabled bool
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:  1,
		Interval:     60 * time.Second,
		Timeout:      30 * time.Second,
		FailureRatio: 0.5,
		MinRequests:  5,
	}
}

// ErrCircuitOpen is returned while the breaker rejects requests.
var ErrCircuitOpen = gobreaker.ErrOpenState

// serverError is a 5xx that survived all retries.
type serverError struct {
	status int
	body   []byte
}

func (e *serverError) Error() string {
	return fmt.Sprintf("server error %d: %s", e.status, e.body)
}

func newBreaker(name string, cfg BreakerConfig, log rtcache.Logger) *gobreaker.CircuitBreaker[*http.Response] {
	if cfg.Disabled {
		return nil
	}
	return gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio
		},
		// cancellations say nothing about the service's health
		IsSuccessful: func(err error) bool {
			return err == nil || rtcache.IsCancelled(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state change", rtcache.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			})
		},
	})
}

// execute runs the transport call through the breaker. 5xx responses are
// failures for the breaker and come back as *serverError; 4xx are not.
func (c *Client) execute(ctx context.Context, req *http.Request) (*http.Response, error) {
	call := func() (*http.Response, error) {
		resp, err := c.transport.do(ctx, req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 500 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
			_ = resp.Body.Close()
			return nil, &serverError{status: resp.StatusCode, body: body}
		}
		return resp, nil
	}
	if c.breaker == nil {
		return call()
	}
	return c.breaker.Execute(call)
}
