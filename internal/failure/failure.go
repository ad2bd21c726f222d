// Package failure maps errors from collaborators onto a closed set of kinds and holds the
// single retry policy table every worker consults.
package failure

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"

	"github.com/jonesrussell/north-cloud/listings/infrastructure/circuitbreaker"
	"github.com/jonesrussell/north-cloud/listings/infrastructure/retry"
)

// Kind is the class of a failure.
type Kind string

const (
	KindNetwork     Kind = "network"
	KindTimeout     Kind = "timeout"
	KindRateLimited Kind = "rate_limited"
	KindUpstream    Kind = "upstream"
	KindNotFound    Kind = "not_found"
	KindBlocked     Kind = "blocked"
	KindInvalidData Kind = "invalid_data"
	KindNotLoaded   Kind = "not_loaded"
	KindCancelled   Kind = "cancelled"
	KindInternal    Kind = "internal"
)

// Kinds lists every kind in the closed set.
func Kinds() []Kind {
	return []Kind{
		KindNetwork, KindTimeout, KindRateLimited, KindUpstream, KindNotFound,
		KindBlocked, KindInvalidData, KindNotLoaded, KindCancelled, KindInternal,
	}
}

// StatusError is returned by HTTP collaborators for non-2xx responses.
type StatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *StatusError) Error() string {
	if e.URL == "" {
		return fmt.Sprintf("unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("unexpected status %d from %s", e.StatusCode, e.URL)
}

// Error tags an error with an explicit kind. Packages use it for their own sentinels,
// for example a page with no loaded signal or a reasoning result that fails validation.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string { return e.Err.Error() }

func (e *Error) Unwrap() error { return e.Err }

// Wrap tags err with kind. A nil err stays nil.
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// Classify maps any error onto a Kind. A nil error has no kind.
func Classify(err error) Kind {
	if err == nil {
		return ""
	}

	var tagged *Error
	if errors.As(err, &tagged) {
		return tagged.Kind
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return ClassifyStatus(statusErr.StatusCode)
	}

	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, retry.ErrContextCancelled):
		return KindCancelled
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, http.ErrHandlerTimeout):
		return KindTimeout
	case errors.Is(err, circuitbreaker.ErrCircuitOpen):
		return KindUpstream
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}

	var opErr *net.OpError
	var dnsErr *net.DNSError
	if errors.As(err, &opErr) || errors.As(err, &dnsErr) ||
		errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return KindNetwork
	}

	return KindInternal
}

// ClassifyStatus maps an HTTP status code onto a Kind.
func ClassifyStatus(code int) Kind {
	switch {
	case code == http.StatusTooManyRequests:
		return KindRateLimited
	case code == http.StatusRequestTimeout, code == http.StatusGatewayTimeout:
		return KindTimeout
	case code == http.StatusNotFound, code == http.StatusGone:
		return KindNotFound
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return KindBlocked
	case code >= http.StatusInternalServerError:
		return KindUpstream
	case code >= http.StatusBadRequest:
		return KindInvalidData
	default:
		return KindInternal
	}
}

// IsRetryable reports whether the policy for err's kind allows another attempt.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return PolicyFor(Classify(err)).Retryable
}

// RetryConfig builds a retry configuration for in-process retries of a call whose failures
// are classified by this package. Attempts are capped by the caller.
func RetryConfig(maxAttempts int) retry.Config {
	cfg := retry.DefaultConfig()
	cfg.MaxAttempts = maxAttempts
	cfg.IsRetryable = func(err error) bool {
		// Rate limits are retried by the queue with the policy delay, never in a tight loop.
		kind := Classify(err)
		return kind != KindRateLimited && PolicyFor(kind).Retryable
	}
	return cfg
}
