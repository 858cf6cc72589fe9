// Package transport implements the client's network collaborator over
// net/http.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/apiclient/pkg/client"
	"github.com/Sternrassler/apiclient/pkg/credential"
	"github.com/Sternrassler/apiclient/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"
)

// Prometheus metrics for HTTP calls.
var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "apiclient_http_requests_total",
		Help: "Total HTTP calls by method and status",
	}, []string{"method", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "apiclient_http_request_duration_seconds",
		Help:    "HTTP call duration in seconds by method",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	}, []string{"method"})

	httpInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "apiclient_http_in_flight",
		Help: "HTTP calls currently holding a concurrency slot",
	})
)

// Defaults applied by New.
const (
	DefaultAccept         = "application/json"
	DefaultTimeout        = 30 * time.Second
	DefaultMaxConcurrency = 5
	DefaultCredentialKey  = "access_token"
)

// Config holds the transport configuration.
type Config struct {
	// BaseURL is the API root, e.g. "https://api.example.com" (REQUIRED)
	BaseURL string

	// User-Agent header (REQUIRED)
	// Format: "AppName/Version (contact@example.com)"
	UserAgent string

	// Accept header, e.g. a versioned media type
	Accept string

	// Timeout per HTTP call
	Timeout time.Duration

	// MaxConcurrency caps parallel HTTP calls
	MaxConcurrency int

	// Credentials holds the bearer token under CredentialKey (optional)
	Credentials   credential.Store
	CredentialKey string

	// RateLimiter gates calls and learns from response headers (optional)
	RateLimiter *ratelimit.Tracker

	// HTTPClient overrides the client built from Timeout
	HTTPClient *http.Client
}

// HTTPTransport issues API calls over HTTP. Each dispatched call runs on its
// own goroutine.
type HTTPTransport struct {
	baseURL       *url.URL
	userAgent     string
	accept        string
	httpClient    *http.Client
	sem           *semaphore.Weighted
	credentials   credential.Store
	credentialKey string
	rateLimiter   *ratelimit.Tracker
	logger        zerolog.Logger
}

// New creates an HTTP transport.
func New(cfg Config) (*HTTPTransport, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}

	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}

	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base url must be absolute: %q", cfg.BaseURL)
	}

	if cfg.Accept == "" {
		cfg.Accept = DefaultAccept
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = DefaultMaxConcurrency
	}
	if cfg.CredentialKey == "" {
		cfg.CredentialKey = DefaultCredentialKey
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &HTTPTransport{
		baseURL:       base,
		userAgent:     cfg.UserAgent,
		accept:        cfg.Accept,
		httpClient:    cfg.HTTPClient,
		sem:           semaphore.NewWeighted(int64(cfg.MaxConcurrency)),
		credentials:   cfg.Credentials,
		credentialKey: cfg.CredentialKey,
		rateLimiter:   cfg.RateLimiter,
		logger:        log.With().Str("component", "transport").Logger(),
	}, nil
}

// task is a dispatched call.
type task struct {
	cancel context.CancelFunc
}

func (t *task) Cancel() { t.cancel() }

// Dispatch starts the call on a new goroutine. It returns nil when no
// request can be built from method and path.
func (t *HTTPTransport) Dispatch(method client.Method, path string, params map[string]string,
	onSuccess func(client.Task, any), onFailure func(client.Task, error)) client.Task {

	target, err := t.resolve(method, path, params)
	if err != nil {
		t.logger.Error().Err(err).Str("method", string(method)).Str("path", path).Msg("Cannot build request")
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	tk := &task{cancel: cancel}

	go func() {
		defer cancel()

		body, err := t.do(ctx, method, target, params)
		if err != nil {
			onFailure(tk, err)
			return
		}
		onSuccess(tk, body)
	}()

	return tk
}

// resolve builds the target URL. GET and DELETE carry params in the query.
func (t *HTTPTransport) resolve(method client.Method, path string, params map[string]string) (*url.URL, error) {
	switch method {
	case client.MethodGet, client.MethodDelete, client.MethodPost, client.MethodPut, client.MethodPatch:
	default:
		return nil, fmt.Errorf("unsupported method %q", method)
	}

	ref, err := url.Parse(path)
	if err != nil {
		return nil, fmt.Errorf("parse path: %w", err)
	}
	if ref.IsAbs() {
		return nil, fmt.Errorf("path must be relative: %q", path)
	}

	target := t.baseURL.JoinPath(ref.Path)
	query := ref.Query()
	if sendsQuery(method) {
		for k, v := range params {
			query.Set(k, v)
		}
	}
	target.RawQuery = query.Encode()
	return target, nil
}

func sendsQuery(m client.Method) bool {
	return m == client.MethodGet || m == client.MethodDelete
}

func (t *HTTPTransport) do(ctx context.Context, method client.Method, target *url.URL, params map[string]string) (any, error) {
	if err := t.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer t.sem.Release(1)
	httpInFlight.Inc()
	defer httpInFlight.Dec()

	if t.rateLimiter != nil {
		if err := t.rateLimiter.Gate(ctx); err != nil {
			return nil, err
		}
	}

	req, err := t.newRequest(ctx, method, target, params)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := t.httpClient.Do(req)
	httpRequestDuration.WithLabelValues(string(method)).Observe(time.Since(start).Seconds())
	if err != nil {
		httpRequestsTotal.WithLabelValues(string(method), "network_error").Inc()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	httpRequestsTotal.WithLabelValues(string(method), strconv.Itoa(resp.StatusCode)).Inc()

	if t.rateLimiter != nil {
		if err := t.rateLimiter.UpdateFromHeaders(ctx, resp.Header); err != nil {
			t.logger.Warn().Err(err).Msg("Failed to update rate limit from headers")
		}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		httpErr := newHTTPError(resp, data)
		t.logger.Warn().
			Str("method", string(method)).
			Str("path", target.Path).
			Int("status_code", resp.StatusCode).
			Msg("API request error")
		return nil, httpErr
	}

	t.logger.Debug().
		Str("method", string(method)).
		Str("path", target.Path).
		Int("status_code", resp.StatusCode).
		Int("bytes", len(data)).
		Msg("API request completed")

	if resp.StatusCode == http.StatusNoContent || len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	var body any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&body); err != nil {
		return nil, fmt.Errorf("decode response body: %w", err)
	}
	return body, nil
}

func (t *HTTPTransport) newRequest(ctx context.Context, method client.Method, target *url.URL, params map[string]string) (*http.Request, error) {
	var body io.Reader
	if !sendsQuery(method) && len(params) > 0 {
		encoded, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("encode parameters: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, string(method), target.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("User-Agent", t.userAgent)
	req.Header.Set("Accept", t.accept)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	token, err := t.token(ctx)
	if err != nil {
		return nil, err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

func (t *HTTPTransport) token(ctx context.Context) (string, error) {
	if t.credentials == nil {
		return "", nil
	}
	value, err := t.credentials.Get(ctx, t.credentialKey)
	if err != nil {
		return "", fmt.Errorf("load credential: %w", err)
	}
	return strings.TrimSpace(string(value)), nil
}
