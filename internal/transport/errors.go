// Package transport carries analysis progress from the remote service to
// the session controller over one of two interchangeable drivers: a
// long-lived event stream or interval polling of the status endpoint.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorKind classifies a transport error. The session controller maps kinds
// to its failure semantics: connection errors trigger fallback-or-fail,
// exhaustion is terminal, cancellation is not a failure at all.
type ErrorKind string

const (
	KindConnection ErrorKind = "connection"          // transport-level; recoverable by fallback
	KindParse      ErrorKind = "parse"               // a single frame; recovered by skipping
	KindSession    ErrorKind = "session"             // fatal to the session
	KindCancelled  ErrorKind = "cancelled"           // caller cancelled; not a failure
	KindExhausted  ErrorKind = "transport_exhausted" // both transports gave out; terminal
)

// Error wraps a transport failure with classification metadata.
type Error struct {
	Err        error
	Kind       ErrorKind
	HTTPStatus int // HTTP status code if applicable, 0 otherwise
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("transport error: %s", e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// WrapError classifies err. Context cancellation wins over any other
// classification so a user-initiated teardown never masquerades as a
// network failure.
func WrapError(err error, kind ErrorKind, httpStatus int) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		kind = KindCancelled
	}
	return &Error{Err: err, Kind: kind, HTTPStatus: httpStatus}
}

// KindOf extracts the classification of err, defaulting to KindConnection
// for unclassified errors so unknown failures stay recoverable.
func KindOf(err error) ErrorKind {
	var terr *Error
	if errors.As(err, &terr) {
		return terr.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	return KindConnection
}

// IsRetryable reports whether a status request that failed with err is
// worth repeating on the next poll tick. Client-side errors (4xx other
// than 408/429) are deterministic and never heal by retrying.
func IsRetryable(err error) bool {
	var terr *Error
	if errors.As(err, &terr) {
		if terr.Kind == KindCancelled || terr.Kind == KindSession {
			return false
		}
		switch terr.HTTPStatus {
		case 0, http.StatusRequestTimeout, http.StatusTooManyRequests:
			return true
		}
		if terr.HTTPStatus >= 500 {
			return true
		}
		if terr.HTTPStatus >= 400 {
			return false
		}
		return true
	}

	errStr := strings.ToLower(err.Error())
	if strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "no such host") ||
		strings.Contains(errStr, "temporary failure") {
		return true
	}
	return true
}
