// Package config loads the configuration of the API proxy from a YAML file
// and APICLIENT_* environment variables.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/Sternrassler/apiclient/pkg/client"
	"github.com/Sternrassler/apiclient/pkg/logging"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "APICLIENT_"

// Config is the complete proxy configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	API     APIConfig     `yaml:"api"`
	Cache   CacheConfig   `yaml:"cache"`
	Retry   RetryConfig   `yaml:"retry"`
	Redis   RedisConfig   `yaml:"redis"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Port int `yaml:"port"`

	// DefaultPolicy applies when a request carries no X-Cache-Policy header
	DefaultPolicy string `yaml:"default_policy"`
}

// APIConfig configures the upstream API and the HTTP transport.
type APIConfig struct {
	BaseURL        string        `yaml:"base_url"`
	UserAgent      string        `yaml:"user_agent"`
	Timeout        time.Duration `yaml:"timeout"`
	MaxConcurrency int           `yaml:"max_concurrency"`
	CredentialKey  string        `yaml:"credential_key"`
}

// CacheConfig configures the response cache.
type CacheConfig struct {
	Dir           string `yaml:"dir"`
	MemoryEntries int    `yaml:"memory_entries"`
	PromoteHits   bool   `yaml:"promote_disk_hits"`
}

// RetryConfig configures the retry policy of proxied requests.
type RetryConfig struct {
	Attempts       int           `yaml:"attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
}

// RedisConfig configures the optional Redis instance used for credentials
// and shared rate-limit state. An empty Addr disables Redis.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// LoggingConfig configures the global logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// DefaultConfig returns the defaults applied before the file and the
// environment are read.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Port:          8080,
			DefaultPolicy: client.CacheThenNetwork.String(),
		},
		API: APIConfig{
			UserAgent:      "apiclient/0.1.0",
			Timeout:        30 * time.Second,
			MaxConcurrency: 5,
			CredentialKey:  "access_token",
		},
		Cache: CacheConfig{
			Dir:           "cache",
			MemoryEntries: 1000,
		},
		Retry: RetryConfig{
			Attempts:       client.DefaultMaxAttempts,
			InitialBackoff: client.DefaultInitialBackoff,
		},
		Logging: LoggingConfig{
			Level: string(logging.LevelInfo),
		},
	}
}

// Load reads the YAML file at path over the defaults and applies
// environment overrides. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config YAML: %w", err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv overrides fields from APICLIENT_* variables.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			*dst = v
		}
	}
	num := func(name string, dst *int) error {
		v, ok := lookup(EnvPrefix + name)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
		}
		*dst = n
		return nil
	}
	dur := func(name string, dst *time.Duration) error {
		v, ok := lookup(EnvPrefix + name)
		if !ok || v == "" {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
		}
		*dst = d
		return nil
	}

	str("BASE_URL", &c.API.BaseURL)
	str("USER_AGENT", &c.API.UserAgent)
	str("CREDENTIAL_KEY", &c.API.CredentialKey)
	str("DEFAULT_POLICY", &c.Server.DefaultPolicy)
	str("CACHE_DIR", &c.Cache.Dir)
	str("REDIS_ADDR", &c.Redis.Addr)
	str("REDIS_PASSWORD", &c.Redis.Password)
	str("LOG_LEVEL", &c.Logging.Level)

	for name, dst := range map[string]*int{
		"PORT":            &c.Server.Port,
		"MAX_CONCURRENCY": &c.API.MaxConcurrency,
		"MEMORY_ENTRIES":  &c.Cache.MemoryEntries,
		"RETRY_ATTEMPTS":  &c.Retry.Attempts,
		"REDIS_DB":        &c.Redis.DB,
	} {
		if err := num(name, dst); err != nil {
			return err
		}
	}

	if err := dur("TIMEOUT", &c.API.Timeout); err != nil {
		return err
	}
	return dur("RETRY_BACKOFF", &c.Retry.InitialBackoff)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}

	if _, err := client.ParseCacheFetchPolicy(c.Server.DefaultPolicy); err != nil {
		return fmt.Errorf("invalid default policy: %w", err)
	}

	if c.API.BaseURL == "" {
		return fmt.Errorf("api base url is required")
	}
	if u, err := url.Parse(c.API.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("api base url must be absolute, got: %s", c.API.BaseURL)
	}

	if c.API.UserAgent == "" {
		return fmt.Errorf("user agent is required")
	}

	if c.API.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got: %s", c.API.Timeout)
	}

	if c.API.MaxConcurrency <= 0 {
		return fmt.Errorf("max concurrency must be positive, got: %d", c.API.MaxConcurrency)
	}

	if c.Cache.Dir == "" {
		return fmt.Errorf("cache dir is required")
	}

	if c.Cache.MemoryEntries <= 0 {
		return fmt.Errorf("memory entries must be positive, got: %d", c.Cache.MemoryEntries)
	}

	if c.Retry.Attempts < 1 {
		return fmt.Errorf("retry attempts must be at least 1, got: %d", c.Retry.Attempts)
	}

	if c.Retry.InitialBackoff < 0 {
		return fmt.Errorf("retry backoff must not be negative, got: %s", c.Retry.InitialBackoff)
	}

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}

	return nil
}

// RetryPolicy returns the configured retry policy.
func (c *Config) RetryPolicy() client.RetryPolicy {
	return client.MultipleAttempts(c.Retry.Attempts, c.Retry.InitialBackoff)
}

// LoggingSetup returns the logger configuration for the configured level.
func (c *Config) LoggingSetup() logging.Config {
	level, err := logging.ParseLevel(c.Logging.Level)
	if err != nil {
		level = logging.LevelInfo
	}
	cfg := logging.DefaultConfig()
	cfg.Level = level
	cfg.Pretty = c.Logging.Pretty
	return cfg
}
