package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/Sternrassler/apiclient/pkg/cache"
	"github.com/Sternrassler/apiclient/pkg/client"
	"github.com/Sternrassler/apiclient/pkg/config"
	"github.com/Sternrassler/apiclient/pkg/credential"
	"github.com/Sternrassler/apiclient/pkg/logging"
	"github.com/Sternrassler/apiclient/pkg/notify"
	"github.com/Sternrassler/apiclient/pkg/ratelimit"
	"github.com/Sternrassler/apiclient/pkg/transport"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// credentialService namespaces the proxy's credentials in Redis.
const credentialService = "api-proxy"

func main() {
	path := os.Getenv(config.EnvPrefix + "CONFIG")
	if len(os.Args) > 1 {
		path = os.Args[1]
	}

	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}

	logging.Setup(cfg.LoggingSetup())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("API proxy failed")
	}
}

// proxy bundles the components built from the configuration.
type proxy struct {
	redis  *redis.Client
	cache  *cache.ResponseCache
	client *client.Client
}

func (p *proxy) Close() {
	p.client.Close()
	p.cache.Close()
	if p.redis != nil {
		p.redis.Close()
	}
}

// build wires Redis, the transport, the response cache and the client.
func build(ctx context.Context, cfg *config.Config) (*proxy, error) {
	p := &proxy{}

	var stateStore ratelimit.StateStore
	var credentials credential.Store
	if cfg.Redis.Addr != "" {
		p.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := p.redis.Ping(ctx).Err(); err != nil {
			p.redis.Close()
			return nil, fmt.Errorf("connect to redis at %s: %w", cfg.Redis.Addr, err)
		}
		log.Info().Str("addr", cfg.Redis.Addr).Msg("Connected to Redis")

		stateStore = ratelimit.NewRedisStateStore(p.redis)
		credentials = credential.Watch(credential.NewRedisStore(p.redis, credentialService),
			cfg.API.CredentialKey, notify.Default())
	}

	tracker := ratelimit.NewTracker(stateStore, logging.NewLogger("rate-limit"))

	tr, err := transport.New(transport.Config{
		BaseURL:        cfg.API.BaseURL,
		UserAgent:      cfg.API.UserAgent,
		Timeout:        cfg.API.Timeout,
		MaxConcurrency: cfg.API.MaxConcurrency,
		Credentials:    credentials,
		CredentialKey:  cfg.API.CredentialKey,
		RateLimiter:    tracker,
	})
	if err != nil {
		p.closeRedis()
		return nil, fmt.Errorf("create transport: %w", err)
	}

	memory, err := cache.NewMemoryStore(cfg.Cache.MemoryEntries)
	if err != nil {
		p.closeRedis()
		return nil, fmt.Errorf("create memory cache: %w", err)
	}
	disk := cache.OpenDiskStore(cfg.Cache.Dir, logging.NewLogger("disk-cache"))
	p.cache = cache.NewResponseCache(memory, disk,
		cache.WithDiskPromotion(cfg.Cache.PromoteHits),
		cache.WithLogger(logging.NewLogger("response-cache")),
	)

	p.client, err = client.New(client.Config{Transport: tr, Cache: p.cache})
	if err != nil {
		p.cache.Close()
		p.closeRedis()
		return nil, fmt.Errorf("create client: %w", err)
	}

	return p, nil
}

func (p *proxy) closeRedis() {
	if p.redis != nil {
		p.redis.Close()
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	p, err := build(ctx, cfg)
	if err != nil {
		return err
	}
	defer p.Close()

	unsubscribe := watchNotifications(notify.Default())
	defer unsubscribe()

	policy, err := client.ParseCacheFetchPolicy(cfg.Server.DefaultPolicy)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Server.Port),
		Handler:           newRouter(p.redis, p.client, handlerOptions{defaultPolicy: policy, retry: cfg.RetryPolicy()}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", srv.Addr).
			Str("base_url", cfg.API.BaseURL).
			Str("user_agent", cfg.API.UserAgent).
			Msg("Starting API proxy server")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down API proxy server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// watchNotifications logs service-health and credential notifications.
func watchNotifications(bus *notify.Bus) func() {
	logger := logging.NewLogger("notifications")
	handler := func(e notify.Event) {
		logger.Warn().Str("kind", string(e.Kind)).Str("payload", fmt.Sprint(e.Payload)).Msg("API notification")
	}

	unsubs := []func(){
		bus.Subscribe(notify.ServiceUnavailable, handler),
		bus.Subscribe(notify.InvalidCredential, handler),
		bus.Subscribe(notify.AuthenticatedAccountChanged, handler),
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}
