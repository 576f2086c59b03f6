package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/odvcencio/indexq/internal/models"
)

const (
	envPrefix            = "INDEXQ_"
	defaultJWTSecret     = "change-me-in-production"
	defaultTokenDuration = 24 * time.Hour
)

type Config struct {
	Server    ServerConfig     `yaml:"server"`
	Database  DatabaseConfig   `yaml:"database"`
	Redis     RedisConfig      `yaml:"redis"`
	Auth      AuthConfig       `yaml:"auth"`
	Operators []OperatorConfig `yaml:"operators"`
	Indexing  IndexingConfig   `yaml:"indexing"`
	Tracing   TracingConfig    `yaml:"tracing"`
	Sites     []SiteConfig     `yaml:"sites"`
}

type ServerConfig struct {
	Host              string   `yaml:"host" env:"HOST"`
	Port              int      `yaml:"port" env:"PORT"`
	TrustedProxies    []string `yaml:"trusted_proxies" env:"TRUSTED_PROXIES"`
	TrustProxy        bool     `yaml:"trust_proxy" env:"TRUST_PROXY"` // trust every peer when TrustedProxies is empty
	AdminAllowedCIDRs []string `yaml:"admin_allowed_cidrs" env:"ADMIN_ALLOWED_CIDRS"`
	EnableAdminHealth bool     `yaml:"enable_admin_health" env:"ENABLE_ADMIN_HEALTH"`
	EnablePprof       bool     `yaml:"enable_pprof" env:"ENABLE_PPROF"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver" env:"DB_DRIVER"` // "sqlite" or "postgres"
	DSN    string `yaml:"dsn" env:"DB_DSN"`       // file path for sqlite, connection string for postgres
}

type RedisConfig struct {
	URL    string `yaml:"url" env:"REDIS_URL"`
	Prefix string `yaml:"prefix" env:"REDIS_PREFIX"`
}

type AuthConfig struct {
	JWTSecret     string `yaml:"jwt_secret" env:"JWT_SECRET"`
	TokenDuration string `yaml:"token_duration" env:"TOKEN_DURATION"` // e.g. "24h"
	// OperatorPassword is only read by hash-password and never from the config file.
	OperatorPassword string `yaml:"-" env:"OPERATOR_PASSWORD"`
}

// OperatorConfig is an administrator allowed to log in. PasswordHash is a bcrypt hash.
type OperatorConfig struct {
	Username     string `yaml:"username"`
	PasswordHash string `yaml:"password_hash"`
}

type IndexingConfig struct {
	BatchSize          int             `yaml:"batch_size" env:"INDEX_BATCH_SIZE"`
	DocumentsPerSecond float64         `yaml:"documents_per_second" env:"INDEX_DOCUMENTS_PER_SECOND"`
	Scheduler          SchedulerConfig `yaml:"scheduler"`
}

type SchedulerConfig struct {
	Enabled   bool   `yaml:"enabled" env:"SCHEDULER_ENABLED"`
	Interval  string `yaml:"interval" env:"SCHEDULER_INTERVAL"`
	BatchSize int    `yaml:"batch_size" env:"SCHEDULER_BATCH_SIZE"`
}

// TracingConfig configures the OTLP/HTTP span exporter. Tracing is off while Endpoint is empty.
type TracingConfig struct {
	Endpoint    string  `yaml:"endpoint" env:"OTEL_EXPORTER_OTLP_ENDPOINT"` // host:port or http(s) URL
	Insecure    bool    `yaml:"insecure" env:"OTEL_EXPORTER_OTLP_INSECURE"`
	ServiceName string  `yaml:"service_name" env:"OTEL_SERVICE_NAME"`
	SampleRatio float64 `yaml:"sample_ratio" env:"OTEL_TRACES_SAMPLE_RATIO"`
}

func (t TracingConfig) Enabled() bool {
	return strings.TrimSpace(t.Endpoint) != ""
}

type SiteConfig struct {
	ID             string            `yaml:"id"`
	Name           string            `yaml:"name"`
	Base           string            `yaml:"base"`
	Backends       []BackendConfig   `yaml:"backends"`
	Configurations []SiteIndexConfig `yaml:"configurations"`
}

type BackendConfig struct {
	Name       string   `yaml:"name"`
	Addresses  []string `yaml:"addresses"`
	Index      string   `yaml:"index"`
	Username   string   `yaml:"username"`
	Password   string   `yaml:"password"`
	MaxRetries int      `yaml:"max_retries"`
}

// SiteIndexConfig describes one named indexing configuration of a site.
type SiteIndexConfig struct {
	Name     string `yaml:"name"`
	Type     string `yaml:"type"`  // content record type selected by the configuration
	Queue    string `yaml:"queue"` // queue implementation; empty selects the database queue
	Priority int    `yaml:"priority"`
	Disabled bool   `yaml:"disabled"`
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func (c *Config) TokenTTL() time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(c.Auth.TokenDuration))
	if err != nil || d <= 0 {
		return defaultTokenDuration
	}
	return d
}

func (c *Config) SchedulerInterval() time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(c.Indexing.Scheduler.Interval))
	if err != nil || d <= 0 {
		return time.Minute
	}
	return d
}

func (c *Config) ValidateServe() error {
	if c == nil {
		return fmt.Errorf("config is required")
	}
	if c.Auth.JWTSecret == "" || c.Auth.JWTSecret == defaultJWTSecret {
		return fmt.Errorf("INDEXQ_JWT_SECRET must be set to a non-default value (example: INDEXQ_JWT_SECRET=dev-jwt-secret-change-this)")
	}
	if len(c.Auth.JWTSecret) < 16 {
		return fmt.Errorf("INDEXQ_JWT_SECRET must be at least 16 characters (current length: %d)", len(c.Auth.JWTSecret))
	}
	return c.Validate()
}

// Validate checks the parts of the configuration every command depends on.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}

	seen := make(map[string]bool, len(c.Sites))
	for i, s := range c.Sites {
		id := strings.TrimSpace(s.ID)
		if id == "" {
			return fmt.Errorf("sites[%d]: id is required", i)
		}
		if seen[id] {
			return fmt.Errorf("sites[%d]: duplicate site id %q", i, id)
		}
		seen[id] = true

		names := make(map[string]bool, len(s.Configurations))
		for _, ic := range s.Configurations {
			name := strings.TrimSpace(ic.Name)
			if name == "" {
				return fmt.Errorf("site %s: configuration name is required", id)
			}
			if names[name] {
				return fmt.Errorf("site %s: duplicate configuration %q", id, name)
			}
			names[name] = true
			if strings.TrimSpace(ic.Type) == "" {
				return fmt.Errorf("site %s: configuration %s: type is required", id, name)
			}
			switch models.QueueImplementationID(ic.Queue) {
			case "", models.QueueImplementationDatabase:
			case models.QueueImplementationRedis:
				if strings.TrimSpace(c.Redis.URL) == "" {
					return fmt.Errorf("site %s: configuration %s uses the redis queue but redis.url is empty", id, name)
				}
			default:
				return fmt.Errorf("site %s: configuration %s: unknown queue %q", id, name, ic.Queue)
			}
		}
		for _, b := range s.Backends {
			if len(b.Addresses) == 0 {
				return fmt.Errorf("site %s: backend %q has no addresses", id, b.Name)
			}
		}
	}
	if r := c.Tracing.SampleRatio; r < 0 || r > 1 {
		return fmt.Errorf("tracing.sample_ratio must be between 0 and 1, got %v", r)
	}
	return nil
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 3000,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "indexq.db",
		},
		Redis: RedisConfig{
			Prefix: "indexq",
		},
		Auth: AuthConfig{
			JWTSecret:     defaultJWTSecret,
			TokenDuration: "24h",
		},
		Indexing: IndexingConfig{
			BatchSize: 1,
			Scheduler: SchedulerConfig{
				Interval:  "1m",
				BatchSize: 50,
			},
		},
		Tracing: TracingConfig{
			ServiceName: "indexq",
			SampleRatio: 1,
		},
	}
}

func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	opts := env.Options{Prefix: envPrefix}
	for _, target := range []any{&cfg.Server, &cfg.Database, &cfg.Redis, &cfg.Auth, &cfg.Indexing, &cfg.Tracing} {
		if err := env.ParseWithOptions(target, opts); err != nil {
			return fmt.Errorf("parse environment: %w", err)
		}
	}
	cfg.Server.TrustedProxies = normalizeList(cfg.Server.TrustedProxies)
	cfg.Server.AdminAllowedCIDRs = normalizeList(cfg.Server.AdminAllowedCIDRs)
	return nil
}

func normalizeList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, raw := range values {
		value := strings.TrimSpace(raw)
		if value == "" {
			continue
		}
		out = append(out, value)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
