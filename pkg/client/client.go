// Package client provides the request orchestrator: it serves requests from
// the response cache, the network, or both, retries failed attempts and maps
// raw payloads to typed models.
package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Sternrassler/apiclient/pkg/cache"
	"github.com/Sternrassler/apiclient/pkg/notify"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for client operations.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "apiclient_requests_total",
		Help: "Total submissions by method and final outcome",
	}, []string{"method", "outcome"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "apiclient_request_duration_seconds",
		Help:    "Time from submission to final outcome in seconds by method",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	}, []string{"method"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "apiclient_errors_total",
		Help: "Total failed network attempts by class",
	}, []string{"class"})

	fallbacksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "apiclient_cache_fallbacks_total",
		Help: "Total network failures answered from the cache",
	})

	discardedCacheResultsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "apiclient_discarded_cache_results_total",
		Help: "Total cache lookups discarded because the network answered first",
	})
)

// Outcome labels.
const (
	outcomeSuccess   = "success"
	outcomeCached    = "cached"
	outcomeFailure   = "failure"
	outcomeMalformed = "malformed"
)

// Config holds the client configuration.
type Config struct {
	// Transport issues network calls (REQUIRED)
	Transport Transport

	// Cache stores validated response payloads (REQUIRED)
	Cache ResponseCache

	// Executor delivers completions. Defaults to a SerialExecutor owned by
	// the client.
	Executor Executor

	// Scheduler schedules retries. Defaults to SystemScheduler.
	Scheduler Scheduler

	// Publisher receives service-health and credential notifications.
	// Defaults to the process-wide notify bus.
	Publisher Publisher

	// Logger defaults to the global logger with component "api-client".
	Logger *zerolog.Logger
}

// Client is the request orchestrator.
type Client struct {
	transport Transport
	cache     ResponseCache
	executor  Executor
	scheduler Scheduler
	publisher Publisher
	logger    zerolog.Logger

	// set when the client created its executor
	ownedExecutor *SerialExecutor
}

// New creates a new client.
func New(cfg Config) (*Client, error) {
	if cfg.Transport == nil {
		return nil, fmt.Errorf("transport is required")
	}

	if cfg.Cache == nil {
		return nil, fmt.Errorf("response cache is required")
	}

	c := &Client{
		transport: cfg.Transport,
		cache:     cfg.Cache,
		executor:  cfg.Executor,
		scheduler: cfg.Scheduler,
		publisher: cfg.Publisher,
	}

	if cfg.Logger != nil {
		c.logger = *cfg.Logger
	} else {
		c.logger = log.With().Str("component", "api-client").Logger()
	}
	if c.executor == nil {
		c.ownedExecutor = NewSerialExecutor()
		c.executor = c.ownedExecutor
	}
	if c.scheduler == nil {
		c.scheduler = SystemScheduler
	}
	if c.publisher == nil {
		c.publisher = notify.Default()
	}

	return c, nil
}

// Cache returns the response cache.
func (c *Client) Cache() ResponseCache {
	return c.cache
}

// Close stops the executor created by New, after delivering queued
// completions. It must not be called from a completion.
func (c *Client) Close() error {
	if c.ownedExecutor != nil {
		c.ownedExecutor.Close()
	}
	return nil
}

// RequestToken cancels a submission. Cancelling stops the in-flight transport
// call and any pending retry; afterwards no completion is delivered for the
// submission.
type RequestToken struct {
	id string

	mu        sync.Mutex
	cancelled bool
	task      Task
	timer     Timer
}

// ID returns the submission ID used in log lines.
func (t *RequestToken) ID() string {
	return t.id
}

// Cancel cancels the submission. Calling it more than once has no effect.
func (t *RequestToken) Cancel() {
	t.mu.Lock()
	if t.cancelled {
		t.mu.Unlock()
		return
	}
	t.cancelled = true
	task, timer := t.task, t.timer
	t.task, t.timer = nil, nil
	t.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
	if task != nil {
		task.Cancel()
	}
}

// Cancelled reports whether Cancel was called.
func (t *RequestToken) Cancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelled
}

// setTask records the current transport task. It reports false when the
// token is already cancelled.
func (t *RequestToken) setTask(task Task) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancelled {
		return false
	}
	t.task = task
	return true
}

// setTimer records the pending retry timer. It reports false when the token
// is already cancelled.
func (t *RequestToken) setTimer(timer Timer) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancelled {
		return false
	}
	t.timer = timer
	return true
}

// Submit dispatches req according to its fetch policy and delivers results
// to completion on the client's executor. It returns the token of the
// network leg, or nil for CacheOnly requests.
func Submit[T any](c *Client, req Request[T], completion Completion[T]) *RequestToken {
	s := newSubmission(c, req, completion)

	s.logger.Debug().
		Str("policy", req.FetchPolicy().String()).
		Int("attempts", req.RetryPolicy().AttemptsRemaining()).
		Msg("Submitting request")

	switch req.FetchPolicy() {
	case CacheOnly:
		s.fetchCached(req)
		return nil
	case CacheThenNetwork:
		s.fetchIntermediate(req)
		s.dispatch(req)
	default:
		s.dispatch(req)
	}
	return s.token
}

// Await submits req and waits for its final result. Non-final responses are
// skipped. When ctx ends first, the submission is cancelled and ctx's error
// is returned.
func Await[T any](ctx context.Context, c *Client, req Request[T]) (Response[T], error) {
	results := make(chan Result[T], 1)
	token := Submit(c, req, func(r Result[T]) {
		if r.Err == nil && !r.Response.IsFinalResponse {
			return
		}
		results <- r
	})

	select {
	case r := <-results:
		return r.Response, r.Err
	case <-ctx.Done():
		if token != nil {
			token.Cancel()
		}
		return Response[T]{}, ctx.Err()
	}
}

// submission is the state of one logical request across its attempts,
// retries and fallback.
type submission[T any] struct {
	client     *Client
	token      *RequestToken
	completion Completion[T]
	logger     zerolog.Logger
	started    time.Time
	retried    bool

	mu          sync.Mutex
	networkDone bool
}

func newSubmission[T any](c *Client, req Request[T], completion Completion[T]) *submission[T] {
	if completion == nil {
		completion = func(Result[T]) {}
	}

	id := uuid.NewString()
	return &submission[T]{
		client:     c,
		token:      &RequestToken{id: id},
		completion: completion,
		started:    time.Now(),
		logger: c.logger.With().
			Str("request_id", id).
			Str("method", string(req.Method())).
			Str("path", req.Path()).
			Logger(),
	}
}

// deliver hands result to the executor. The cancellation check runs again on
// the executor so that a cancel between enqueue and delivery is honored.
func (s *submission[T]) deliver(result Result[T]) {
	if s.token.Cancelled() {
		return
	}
	s.client.executor.Execute(func() {
		if s.token.Cancelled() {
			return
		}
		s.completion(result)
	})
}

// finish delivers the final result of the submission.
func (s *submission[T]) finish(method Method, result Result[T], outcome string) {
	requestsTotal.WithLabelValues(string(method), outcome).Inc()
	requestDuration.WithLabelValues(string(method)).Observe(time.Since(s.started).Seconds())

	if result.Err != nil {
		s.logger.Error().Err(result.Err).Str("kind", string(KindOf(result.Err))).Msg("Request failed")
	} else {
		s.logger.Debug().Bool("cached", result.Response.IsCachedResponse).Msg("Request completed")
	}

	result.Response.IsFinalResponse = true
	s.deliver(result)
}

// markNetworkDone records that a network attempt completed. Cache lookups
// resolving afterwards are discarded.
func (s *submission[T]) markNetworkDone() {
	s.mu.Lock()
	s.networkDone = true
	s.mu.Unlock()
}

// fetchCached answers the request from the cache alone.
func (s *submission[T]) fetchCached(req Request[T]) {
	key := req.CacheKey()

	s.client.cache.Fetch(key, func(payload cache.Payload, err error) {
		if s.token.Cancelled() {
			return
		}
		if err != nil {
			s.finish(req.Method(), Result[T]{Err: cacheError(err)}, outcomeFailure)
			return
		}

		resp, err := s.cachedResponse(req, payload)
		if err != nil {
			s.evictUnmappable(req, err)
			s.finish(req.Method(), Result[T]{Err: err}, outcomeFailure)
			return
		}
		s.finish(req.Method(), Result[T]{Response: resp}, outcomeCached)
	})
}

// fetchIntermediate runs the cache leg of a CacheThenNetwork request. A hit
// is delivered as non-final unless a network attempt completed first. Misses
// and errors are absorbed.
func (s *submission[T]) fetchIntermediate(req Request[T]) {
	key := req.CacheKey()

	s.client.cache.Fetch(key, func(payload cache.Payload, err error) {
		if s.token.Cancelled() {
			return
		}
		if err != nil {
			s.logger.Debug().Err(err).Msg("Cache leg found no usable record")
			return
		}

		resp, err := s.cachedResponse(req, payload)

		s.mu.Lock()
		defer s.mu.Unlock()
		if err != nil {
			// A completed network attempt may already have stored a fresh
			// record under the same key.
			if !s.networkDone {
				s.evictUnmappable(req, err)
			}
			return
		}
		if s.networkDone {
			discardedCacheResultsTotal.Inc()
			s.logger.Debug().Msg("Discarding cache hit, network answered first")
			return
		}
		s.deliver(Result[T]{Response: resp})
	})
}

// cachedResponse maps a cached payload.
func (s *submission[T]) cachedResponse(req Request[T], payload cache.Payload) (Response[T], error) {
	if req.ResultKind() == ResultEmpty {
		return Response[T]{Payload: payload, IsCachedResponse: true}, nil
	}

	model, err := req.modelMapper().Map(payload, req.ModelKeyPath())
	if err != nil {
		return Response[T]{}, &Error{Kind: KindResponseShapeInvalid, Op: "map cached response", Err: err}
	}
	return Response[T]{Model: model, Payload: payload, IsCachedResponse: true}, nil
}

// evictUnmappable removes a cached record that no longer maps to the model.
func (s *submission[T]) evictUnmappable(req Request[T], err error) {
	s.logger.Warn().Err(err).Msg("Cached payload failed mapping, evicting")
	s.client.cache.Evict(req.CacheKey())
}

// dispatch starts one network attempt.
func (s *submission[T]) dispatch(req Request[T]) {
	if s.token.Cancelled() {
		return
	}

	task := s.client.transport.Dispatch(req.Method(), req.Path(), req.Params(),
		func(_ Task, body any) { s.handleSuccess(req, body) },
		func(_ Task, err error) { s.handleFailure(req, err) },
	)

	if task == nil {
		s.handleFailure(req, &Error{Kind: KindRequestMalformed, Op: "dispatch", Err: ErrRequestMalformed})
		return
	}

	if !s.token.setTask(task) {
		task.Cancel()
	}
}

func (s *submission[T]) handleSuccess(req Request[T], body any) {
	if s.token.Cancelled() {
		return
	}
	s.markNetworkDone()

	if req.ResultKind() == ResultEmpty {
		s.finish(req.Method(), Result[T]{}, outcomeSuccess)
		return
	}

	payload, ok := body.(map[string]any)
	if !ok {
		s.handleFailure(req, &Error{
			Kind: KindResponseShapeInvalid,
			Op:   "decode response",
			Err:  fmt.Errorf("%w: body is %T, want object", ErrInvalidResponse, body),
		})
		return
	}

	model, err := req.modelMapper().Map(payload, req.ModelKeyPath())
	if err != nil {
		s.handleFailure(req, &Error{Kind: KindResponseShapeInvalid, Op: "map response", Err: err})
		return
	}

	if req.ShouldCacheResponse() {
		s.client.cache.Store(req.CacheKey(), payload)
	}

	s.finish(req.Method(), Result[T]{Response: Response[T]{Model: model, Payload: payload}}, outcomeSuccess)
}

func (s *submission[T]) handleFailure(req Request[T], err error) {
	if IsCancellation(err) || s.token.Cancelled() {
		s.logger.Debug().Msg("Request cancelled")
		return
	}
	s.markNetworkDone()

	failure := transportError("network", err)
	class := ClassifyError(err)
	errorsTotal.WithLabelValues(string(class)).Inc()
	s.notify(failure)

	policy := req.RetryPolicy()
	if policy.canRetry() {
		s.scheduleRetry(req, policy, class, err)
		return
	}

	if s.retried {
		retryExhaustedTotal.WithLabelValues(string(class)).Inc()
	}

	if req.FetchPolicy() == TryNetworkThenCache {
		fallbacksTotal.Inc()
		s.logger.Info().Err(err).Msg("Network failed, falling back to cache")
		s.fetchCached(req.withFetchPolicy(CacheOnly))
		return
	}

	outcome := outcomeFailure
	if failure.Kind == KindRequestMalformed {
		outcome = outcomeMalformed
	}
	s.finish(req.Method(), Result[T]{Err: failure}, outcome)
}

func (s *submission[T]) scheduleRetry(req Request[T], policy RetryPolicy, class ErrorClass, cause error) {
	next := req.withRetryPolicy(policy.next())
	s.retried = true

	retriesTotal.WithLabelValues(string(class)).Inc()
	retryBackoffSeconds.WithLabelValues(string(class)).Observe(policy.Delay().Seconds())

	s.logger.Warn().
		Err(cause).
		Str("error_class", string(class)).
		Int("attempts_remaining", next.RetryPolicy().AttemptsRemaining()).
		Dur("backoff", policy.Delay()).
		Msg("Retrying request after backoff")

	timer := s.client.scheduler.AfterFunc(policy.Delay(), func() {
		s.dispatch(next)
	})
	if !s.token.setTimer(timer) {
		timer.Stop()
	}
}

// notify publishes the notification matching a classified failure.
func (s *submission[T]) notify(err *Error) {
	var kind notify.Kind
	switch err.Kind {
	case KindServiceUnavailable:
		kind = notify.ServiceUnavailable
	case KindInvalidCredential:
		kind = notify.InvalidCredential
	default:
		return
	}
	s.client.publisher.Publish(kind, err)
}

