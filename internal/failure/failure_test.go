package failure_test

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/north-cloud/listings/infrastructure/circuitbreaker"
	"github.com/jonesrussell/north-cloud/listings/internal/failure"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	t.Parallel()

	errBadResult := errors.New("missing field")

	tests := []struct {
		name string
		err  error
		want failure.Kind
	}{
		{"nil", nil, ""},
		{"rate limited", &failure.StatusError{StatusCode: http.StatusTooManyRequests}, failure.KindRateLimited},
		{"wrapped 503", fmt.Errorf("fetch page: %w", &failure.StatusError{StatusCode: 503}), failure.KindUpstream},
		{"gone", &failure.StatusError{StatusCode: http.StatusGone}, failure.KindNotFound},
		{"forbidden", &failure.StatusError{StatusCode: http.StatusForbidden}, failure.KindBlocked},
		{"bad request", &failure.StatusError{StatusCode: http.StatusBadRequest}, failure.KindInvalidData},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), failure.KindTimeout},
		{"cancelled", context.Canceled, failure.KindCancelled},
		{"net timeout", timeoutErr{}, failure.KindTimeout},
		{"dial", &net.OpError{Op: "dial", Err: errors.New("connection refused")}, failure.KindNetwork},
		{"breaker open", fmt.Errorf("x: %w", circuitbreaker.ErrCircuitOpen), failure.KindUpstream},
		{"tagged", failure.Wrap(failure.KindInvalidData, errBadResult), failure.KindInvalidData},
		{"unknown", errors.New("boom"), failure.KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, failure.Classify(tt.err))
		})
	}
}

func TestWrap_PreservesChain(t *testing.T) {
	t.Parallel()

	sentinel := errors.New("page not loaded")
	err := fmt.Errorf("extract: %w", failure.Wrap(failure.KindNotLoaded, sentinel))

	require.ErrorIs(t, err, sentinel)
	assert.Equal(t, failure.KindNotLoaded, failure.Classify(err))
	assert.NoError(t, failure.Wrap(failure.KindInternal, nil))
}

func TestPolicyTable_CoversEveryKind(t *testing.T) {
	t.Parallel()

	for _, k := range failure.Kinds() {
		p := failure.PolicyFor(k)
		assert.GreaterOrEqual(t, p.MaxAttempts, 1, "kind %s", k)
		assert.NotEmpty(t, p.GroupOutcome, "kind %s", k)
	}

	assert.Equal(t, failure.GroupRequeue, failure.PolicyFor(failure.KindRateLimited).GroupOutcome)
	assert.Equal(t, failure.GroupReview, failure.PolicyFor(failure.KindInvalidData).GroupOutcome)
	assert.Equal(t, failure.PolicyFor(failure.KindInternal), failure.PolicyFor("bogus"))
}

func TestDecide(t *testing.T) {
	t.Parallel()

	kind, _, retry := failure.Decide(&failure.StatusError{StatusCode: 502}, 1)
	assert.Equal(t, failure.KindUpstream, kind)
	assert.True(t, retry)

	_, _, retry = failure.Decide(&failure.StatusError{StatusCode: 502}, 3)
	assert.False(t, retry, "attempts exhausted")

	_, _, retry = failure.Decide(&failure.StatusError{StatusCode: 404}, 0)
	assert.False(t, retry)
}

func TestPolicy_Backoff(t *testing.T) {
	t.Parallel()

	p := failure.Policy{BaseDelay: time.Second}
	assert.Equal(t, time.Second, p.Backoff(1))
	assert.Equal(t, 4*time.Second, p.Backoff(3))
	assert.Equal(t, 30*time.Minute, p.Backoff(40))
	assert.Zero(t, failure.Policy{}.Backoff(2))
}

func TestRetryConfig_SkipsRateLimits(t *testing.T) {
	t.Parallel()

	cfg := failure.RetryConfig(3)
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.True(t, cfg.IsRetryable(&failure.StatusError{StatusCode: 503}))
	assert.False(t, cfg.IsRetryable(&failure.StatusError{StatusCode: 429}))
	assert.False(t, cfg.IsRetryable(&failure.StatusError{StatusCode: 404}))
}
