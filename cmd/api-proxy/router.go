package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Sternrassler/apiclient/pkg/cache"
	"github.com/Sternrassler/apiclient/pkg/client"
	"github.com/Sternrassler/apiclient/pkg/metrics"
	"github.com/Sternrassler/apiclient/pkg/querystring"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Proxy headers.
const (
	headerCachePolicy = "X-Cache-Policy"
	headerCache       = "X-Cache"
)

type handlerOptions struct {
	defaultPolicy client.CacheFetchPolicy
	retry         client.RetryPolicy
}

// newRouter builds the proxy's HTTP routes. rdb may be nil when Redis is not
// configured.
func newRouter(rdb *redis.Client, c *client.Client, opts handlerOptions) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", healthHandler)
	r.Get("/ready", readyHandler(rdb))
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Get("/api/*", apiProxyHandler(c, opts))

	return r
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// readyHandler reports ready when Redis, if configured, answers a ping.
func readyHandler(rdb *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if rdb != nil {
			if err := rdb.Ping(r.Context()).Err(); err != nil {
				log.Warn().Err(err).Msg("Readiness check failed")
				http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}
}

// apiProxyHandler forwards GET /api/<path>?<query> to the API through the
// client and writes the final payload as JSON.
func apiProxyHandler(c *client.Client, opts handlerOptions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		policy := opts.defaultPolicy
		if name := r.Header.Get(headerCachePolicy); name != "" {
			p, err := client.ParseCacheFetchPolicy(name)
			if err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}
			policy = p
		}

		path := "/" + chi.URLParam(r, "*")
		req := client.NewRequest[cache.Payload](client.MethodGet, path,
			client.WithParams(querystring.Parse(r.URL.RawQuery)),
			client.WithFetchPolicy(policy),
			client.WithRetryPolicy(opts.retry),
		)

		resp, err := client.Await(r.Context(), c, req)
		if err != nil {
			status := statusFor(err)
			log.Warn().
				Err(err).
				Str("path", path).
				Str("policy", policy.String()).
				Int("status", status).
				Msg("Proxied request failed")
			writeError(w, status, err)
			return
		}

		if resp.IsCachedResponse {
			w.Header().Set(headerCache, "HIT")
		} else {
			w.Header().Set(headerCache, "MISS")
		}

		if resp.Payload == nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp.Payload); err != nil {
			log.Error().Err(err).Str("path", path).Msg("Failed to write response")
		}
	}
}

// statusFor maps a request failure to the proxy's response status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, client.ErrCachedResponseNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
