package failure

import (
	"math"
	"time"
)

// GroupOutcome is where a listing group goes when unification fails with a given kind.
type GroupOutcome string

const (
	// GroupRequeue returns the group to pending_ai for a later attempt.
	GroupRequeue GroupOutcome = "requeue"
	// GroupReview moves the group to pending_review with the failure reason.
	GroupReview GroupOutcome = "review"
)

// maxBackoff caps Policy.Backoff.
const maxBackoff = 30 * time.Minute

// Policy is the retry treatment for one kind.
type Policy struct {
	Retryable    bool
	MaxAttempts  int
	BaseDelay    time.Duration
	GroupOutcome GroupOutcome
}

var policies = map[Kind]Policy{
	KindNetwork:     {Retryable: true, MaxAttempts: 4, BaseDelay: 5 * time.Second, GroupOutcome: GroupReview},
	KindTimeout:     {Retryable: true, MaxAttempts: 3, BaseDelay: 10 * time.Second, GroupOutcome: GroupReview},
	KindRateLimited: {Retryable: true, MaxAttempts: 6, BaseDelay: time.Minute, GroupOutcome: GroupRequeue},
	KindUpstream:    {Retryable: true, MaxAttempts: 3, BaseDelay: 30 * time.Second, GroupOutcome: GroupReview},
	KindNotFound:    {Retryable: false, MaxAttempts: 1, GroupOutcome: GroupReview},
	KindBlocked:     {Retryable: true, MaxAttempts: 2, BaseDelay: 5 * time.Minute, GroupOutcome: GroupReview},
	KindInvalidData: {Retryable: false, MaxAttempts: 1, GroupOutcome: GroupReview},
	KindNotLoaded:   {Retryable: true, MaxAttempts: 2, BaseDelay: time.Minute, GroupOutcome: GroupReview},
	KindCancelled:   {Retryable: true, MaxAttempts: 3, BaseDelay: 0, GroupOutcome: GroupRequeue},
	KindInternal:    {Retryable: false, MaxAttempts: 1, GroupOutcome: GroupReview},
}

// PolicyFor returns the policy for kind. Unknown kinds get the internal policy.
func PolicyFor(kind Kind) Policy {
	if p, ok := policies[kind]; ok {
		return p
	}
	return policies[KindInternal]
}

// ShouldRetry reports whether a unit that has made attempts attempts may try again.
func (p Policy) ShouldRetry(attempts int) bool {
	return p.Retryable && attempts < p.MaxAttempts
}

// Backoff returns the delay before retry number attempt (1-based): BaseDelay doubled per attempt.
func (p Policy) Backoff(attempt int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}
	d := time.Duration(float64(p.BaseDelay) * math.Pow(2, float64(attempt-1)))
	if d <= 0 || d > maxBackoff {
		return maxBackoff
	}
	return d
}

// Decide classifies err and returns its kind together with whether a unit that has already
// made attempts attempts should be retried.
func Decide(err error, attempts int) (Kind, Policy, bool) {
	kind := Classify(err)
	p := PolicyFor(kind)
	return kind, p, p.ShouldRetry(attempts)
}
