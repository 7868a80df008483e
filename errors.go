package rtcache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNotAuthenticated means no usable credential could be resolved.
	// It is expected during startup races and is never logged as an error.
	// Unlike the other sentinels its text has no package prefix: slots store
	// it as is and the presentation layer shows it verbatim.
	ErrNotAuthenticated = errors.New("Not authenticated")

	// ErrCancelled marks a result that was discarded because its owner went
	// away or the fetch was aborted. Cancelled results never reach a slot.
	ErrCancelled = errors.New("rtcache: cancelled")

	// ErrClosed is returned by operations invoked after Close.
	ErrClosed = errors.New("rtcache: closed")

	ErrUnknownKind = errors.New("rtcache: unknown resource kind")
)

// FetchError is a failed refresh for one kind. It covers transport
// failures (network, timeout, 5xx) and policy violations (401/403), which
// share the same shape and are not separately recoverable.
type FetchError struct {
	Kind    Kind
	Op      string // "fetch", "encode" or "store"; "" reads as "fetch"
	Status  int    // HTTP-like status when known; 0 otherwise
	Message string // human-readable, safe to show
	Err     error
}

func (e *FetchError) Error() string {
	op := e.Op
	if op == "" {
		op = "fetch"
	}
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s %s: %s: %v", op, e.Kind, e.Message, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s %s: %s", op, e.Kind, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s %s: %v", op, e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s %s: unknown error", op, e.Kind)
	}
}

func (e *FetchError) Unwrap() error { return e.Err }

// PolicyViolation reports whether the service refused the request for the
// resolved credential (e.g. a missing role).
func (e *FetchError) PolicyViolation() bool {
	return e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden
}

// IsPolicyViolation reports whether err carries a *FetchError with a 401/403.
func IsPolicyViolation(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.PolicyViolation()
}

// IsCancelled reports whether err is a cancellation signal rather than a
// failure. Deadline expiry is a failure, not a cancellation.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled)
}

// asFetchError normalizes any fetch failure into a *FetchError for kind.
func asFetchError(kind Kind, err error) *FetchError {
	var fe *FetchError
	if errors.As(err, &fe) {
		if fe.Kind == "" {
			cp := *fe
			cp.Kind = kind
			return &cp
		}
		return fe
	}
	return &FetchError{Kind: kind, Err: err}
}
