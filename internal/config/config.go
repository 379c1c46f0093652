// Package config loads livecached settings: defaults, then a YAML file, then
// LIVECACHE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

type HTTPConfig struct {
	Addr string `yaml:"addr" env:"LIVECACHE_HTTP_ADDR"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"LIVECACHE_LOG_LEVEL"`
	Format string `yaml:"format" env:"LIVECACHE_LOG_FORMAT"` // json | console
}

type BackendConfig struct {
	BaseURL string        `yaml:"base_url" env:"LIVECACHE_BACKEND_URL"`
	APIKey  string        `yaml:"api_key" env:"LIVECACHE_BACKEND_API_KEY"`
	Token   string        `yaml:"token" env:"LIVECACHE_BACKEND_TOKEN"`
	Timeout time.Duration `yaml:"timeout" env:"LIVECACHE_BACKEND_TIMEOUT"`
	Retries int           `yaml:"retries" env:"LIVECACHE_BACKEND_RETRIES"`
}

type CacheConfig struct {
	FetchTimeout    time.Duration `yaml:"fetch_timeout" env:"LIVECACHE_FETCH_TIMEOUT"`
	MutationTimeout time.Duration `yaml:"mutation_timeout" env:"LIVECACHE_MUTATION_TIMEOUT"`
}

// TierConfig selects the shared tier in front of catalog loads.
type TierConfig struct {
	Provider       string        `yaml:"provider" env:"LIVECACHE_TIER_PROVIDER"` // "", ristretto, bigcache, redis
	Codec          string        `yaml:"codec" env:"LIVECACHE_TIER_CODEC"`       // json, cbor, msgpack
	TTL            time.Duration `yaml:"ttl" env:"LIVECACHE_TIER_TTL"`
	MaxAge         time.Duration `yaml:"max_age" env:"LIVECACHE_TIER_MAX_AGE"`
	MaxCostBytes   int64         `yaml:"max_cost_bytes" env:"LIVECACHE_TIER_MAX_COST_BYTES"`
	MaxDecodeBytes int           `yaml:"max_decode_bytes" env:"LIVECACHE_TIER_MAX_DECODE_BYTES"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr" env:"LIVECACHE_REDIS_ADDR"`
	Password string `yaml:"password" env:"LIVECACHE_REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"LIVECACHE_REDIS_DB"`
}

type PushConfig struct {
	NodeID          string        `yaml:"node_id" env:"LIVECACHE_NODE_ID"`
	Redis           bool          `yaml:"redis" env:"LIVECACHE_PUSH_REDIS"`
	RedisChannel    string        `yaml:"redis_channel" env:"LIVECACHE_PUSH_REDIS_CHANNEL"`
	Postgres        bool          `yaml:"postgres" env:"LIVECACHE_PUSH_POSTGRES"`
	PostgresDSN     string        `yaml:"postgres_dsn" env:"LIVECACHE_PG_DSN"`
	PostgresChannel string        `yaml:"postgres_channel" env:"LIVECACHE_PUSH_PG_CHANNEL"`
	DispatchTimeout time.Duration `yaml:"dispatch_timeout" env:"LIVECACHE_PUSH_DISPATCH_TIMEOUT"`
}

type MetricsConfig struct {
	Namespace string `yaml:"namespace" env:"LIVECACHE_METRICS_NAMESPACE"`
}

type Config struct {
	HTTP    HTTPConfig    `yaml:"http"`
	Log     LogConfig     `yaml:"log"`
	Backend BackendConfig `yaml:"backend"`
	Cache   CacheConfig   `yaml:"cache"`
	Tier    TierConfig    `yaml:"tier"`
	Redis   RedisConfig   `yaml:"redis"`
	Push    PushConfig    `yaml:"push"`
	Metrics MetricsConfig `yaml:"metrics"`
}

func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{Addr: ":8080"},
		Log:  LogConfig{Level: "info", Format: "json"},
		Backend: BackendConfig{
			Timeout: 10 * time.Second,
			Retries: 2,
		},
		Cache: CacheConfig{
			FetchTimeout:    15 * time.Second,
			MutationTimeout: 15 * time.Second,
		},
		Tier: TierConfig{
			Codec:          "json",
			TTL:            10 * time.Minute,
			MaxAge:         time.Minute,
			MaxCostBytes:   64 << 20,
			MaxDecodeBytes: 8 << 20,
		},
		Redis:   RedisConfig{Addr: "localhost:6379"},
		Push:    PushConfig{DispatchTimeout: 15 * time.Second},
		Metrics: MetricsConfig{Namespace: "livecache"},
	}
}

// Load builds the configuration. path may be empty to skip the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Backend.BaseURL == "" {
		errs = append(errs, errors.New("backend.base_url is required"))
	}
	switch c.Tier.Provider {
	case "", "ristretto", "bigcache", "redis":
	default:
		errs = append(errs, fmt.Errorf("tier.provider: unknown provider %q", c.Tier.Provider))
	}
	switch c.Tier.Codec {
	case "json", "cbor", "msgpack":
	default:
		errs = append(errs, fmt.Errorf("tier.codec: unknown codec %q", c.Tier.Codec))
	}
	if c.Push.Postgres && c.Push.PostgresDSN == "" {
		errs = append(errs, errors.New("push.postgres_dsn is required when push.postgres is set"))
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("log.format: unknown format %q", c.Log.Format))
	}
	return errors.Join(errs...)
}
