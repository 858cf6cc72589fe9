package client

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for retry operations.
var (
	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "apiclient_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	retryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "apiclient_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error class",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"error_class"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "apiclient_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error class",
	}, []string{"error_class"})
)

// Default retry settings.
const (
	DefaultMaxAttempts    = 3
	DefaultInitialBackoff = 1 * time.Second
)

// RetryPolicy is the remaining attempt budget of a request and the delay
// before its next attempt. Policies are values: each retry derives a new one
// with one attempt fewer and twice the delay.
type RetryPolicy struct {
	attempts int
	delay    time.Duration
}

// SingleAttempt returns a policy that never retries.
func SingleAttempt() RetryPolicy {
	return RetryPolicy{attempts: 1}
}

// MultipleAttempts returns a policy making up to count attempts in total,
// waiting initialDelay before the first retry.
func MultipleAttempts(count int, initialDelay time.Duration) RetryPolicy {
	if count < 1 {
		count = 1
	}
	if initialDelay < 0 {
		initialDelay = 0
	}
	return RetryPolicy{attempts: count, delay: initialDelay}
}

// DefaultRetryPolicy returns the default multi-attempt policy.
func DefaultRetryPolicy() RetryPolicy {
	return MultipleAttempts(DefaultMaxAttempts, DefaultInitialBackoff)
}

// AttemptsRemaining returns the number of attempts left, including the
// current one.
func (p RetryPolicy) AttemptsRemaining() int {
	return p.attempts
}

// Delay returns the wait before the next attempt.
func (p RetryPolicy) Delay() time.Duration {
	return p.delay
}

func (p RetryPolicy) canRetry() bool {
	return p.attempts > 1
}

// next returns the policy for the following attempt.
func (p RetryPolicy) next() RetryPolicy {
	return RetryPolicy{attempts: p.attempts - 1, delay: p.delay * 2}
}
