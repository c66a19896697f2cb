package config

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Config is the configuration of the auth backend (authd).
type Config struct {
	Port     string `env:"PORT,      default=8080"`
	Env      string `env:"ENV,       default=development"`
	LogLevel string `env:"LOG_LEVEL, default=info"`

	Auth  AuthConfig
	Mongo MongoConfig
	Redis RedisConfig

	AuditWorkers int `env:"AUDIT_WORKERS, default=4"`
}

type AuthConfig struct {
	JWTSecret       string        `env:"JWT_SECRET, required"`
	AccessTokenTTL  time.Duration `env:"ACCESS_TOKEN_TTL,  default=1h"`
	RefreshTokenTTL time.Duration `env:"REFRESH_TOKEN_TTL, default=720h"`
}

type MongoConfig struct {
	URI      string `env:"MONGO_URI, default=mongodb://localhost:27017"`
	Database string `env:"MONGO_DB,  default=fitcoach"`
}

type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR,     default=localhost:6379"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB,       default=0"`
}

// ClientConfig is the configuration of session clients (coachctl).
type ClientConfig struct {
	LogLevel   string `env:"LOG_LEVEL,   default=info"`
	BackendURL string `env:"BACKEND_URL, default=http://localhost:8080"`

	// RoleRetryBase is the first backoff delay of the role resolver.
	RoleRetryBase  time.Duration `env:"ROLE_RETRY_BASE,  default=1s"`
	RoleMaxRetries int           `env:"ROLE_MAX_RETRIES, default=3"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT,  default=10s"`

	// RedisAddr enables the remote auth event feed when set.
	RedisAddr string `env:"REDIS_ADDR"`
}

// Load reads the backend configuration from environment variables.
func Load(ctx context.Context) (*Config, error) {
	return LoadFrom(ctx, envconfig.OsLookuper())
}

// LoadFrom reads the backend configuration from l.
func LoadFrom(ctx context.Context, l envconfig.Lookuper) (*Config, error) {
	var cfg Config
	if err := process(ctx, &cfg, l); err != nil {
		return nil, err
	}
	if cfg.AuditWorkers <= 0 {
		return nil, fmt.Errorf("config: AUDIT_WORKERS must be positive, got %d", cfg.AuditWorkers)
	}
	return &cfg, nil
}

// LoadClient reads the client configuration from environment variables.
func LoadClient(ctx context.Context) (*ClientConfig, error) {
	return LoadClientFrom(ctx, envconfig.OsLookuper())
}

// LoadClientFrom reads the client configuration from l.
func LoadClientFrom(ctx context.Context, l envconfig.Lookuper) (*ClientConfig, error) {
	var cfg ClientConfig
	if err := process(ctx, &cfg, l); err != nil {
		return nil, err
	}
	if cfg.RoleMaxRetries < 0 {
		return nil, fmt.Errorf("config: ROLE_MAX_RETRIES must not be negative, got %d", cfg.RoleMaxRetries)
	}
	return &cfg, nil
}

func process(ctx context.Context, target any, l envconfig.Lookuper) error {
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{Target: target, Lookuper: l}); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// IsDevelopment reports whether the service runs in a local environment.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development" || c.Env == "local"
}
