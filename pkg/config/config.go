package config

import (
	"fmt"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server struct {
		Port    string        `env:"PORT" envDefault:"8080"`
		Env     string        `env:"APP_ENV" envDefault:"development"`
		Timeout time.Duration `env:"SERVER_TIMEOUT" envDefault:"30s"`
		// BaseURL is the public address used to recognise links to our own file endpoint
		BaseURL  string `env:"BASE_URL" envDefault:"http://localhost:8080"`
		GRPCPort string `env:"GRPC_HEALTH_PORT" envDefault:"9090"`
	}

	// Database configuration
	Database struct {
		Driver   string        `env:"STORAGE_DRIVER" envDefault:"postgres"`
		Host     string        `env:"DB_HOST" envDefault:"localhost"`
		Port     string        `env:"DB_PORT" envDefault:"5432"`
		User     string        `env:"DB_USER" envDefault:"postgres"`
		Password string        `env:"DB_PASSWORD" envDefault:"postgres"`
		Name     string        `env:"DB_NAME" envDefault:"ai_chat"`
		SSLMode  string        `env:"DB_SSL_MODE" envDefault:"disable"`
		MaxConns int           `env:"DB_MAX_CONNS" envDefault:"20"`
		Timeout  time.Duration `env:"DB_TIMEOUT" envDefault:"5s"`
	}

	// JWT configuration
	JWT struct {
		Secret string        `env:"JWT_SECRET" envDefault:"default-jwt-secret-do-not-use-in-production"`
		Expiry time.Duration `env:"JWT_EXPIRY" envDefault:"24h"`
		Issuer string        `env:"JWT_ISSUER" envDefault:"ai-chat"`
	}

	// Security configuration
	Security struct {
		RateLimit      float64  `env:"RATE_LIMIT" envDefault:"5"`
		RateLimitBurst int      `env:"RATE_LIMIT_BURST" envDefault:"10"`
		AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`
		TrustedProxies []string `env:"TRUSTED_PROXIES" envSeparator:"," envDefault:"127.0.0.1"`
		MaxBodySize    int64    `env:"MAX_BODY_SIZE" envDefault:"10485760"`
	}

	// Logging configuration
	Logging struct {
		Level  string `env:"LOG_LEVEL" envDefault:"info"`
		Format string `env:"LOG_FORMAT" envDefault:"json"`
	}

	// Provider holds the upstream AI endpoint settings
	Provider struct {
		BaseURL      string        `env:"AI_BASE_URL" envDefault:"https://openrouter.ai/api/v1"`
		APIKey       string        `env:"AI_API_KEY"`
		TextModel    string        `env:"AI_TEXT_MODEL" envDefault:"openai/gpt-4.1-nano"`
		VisionModel  string        `env:"AI_VISION_MODEL" envDefault:"openai/gpt-4.1-nano"`
		ImageModel   string        `env:"AI_IMAGE_MODEL" envDefault:"dall-e-3"`
		TextTimeout  time.Duration `env:"AI_TEXT_TIMEOUT" envDefault:"30s"`
		ImageTimeout time.Duration `env:"AI_IMAGE_TIMEOUT" envDefault:"60s"`
		MaxTokens    int           `env:"AI_MAX_TOKENS" envDefault:"1000"`
		Temperature  float64       `env:"AI_TEMPERATURE" envDefault:"0.7"`
		ImageSize    string        `env:"AI_IMAGE_SIZE" envDefault:"1024x1024"`
		ImageQuality string        `env:"AI_IMAGE_QUALITY" envDefault:"standard"`
		ImageDetail  string        `env:"AI_IMAGE_DETAIL" envDefault:"auto"`
		// BreakerThreshold is the number of consecutive failures that opens the circuit
		BreakerThreshold uint          `env:"AI_BREAKER_THRESHOLD" envDefault:"5"`
		BreakerCooldown  time.Duration `env:"AI_BREAKER_COOLDOWN" envDefault:"30s"`
	}

	// Storage holds the blob store settings for uploads
	Storage struct {
		UploadPath   string        `env:"UPLOAD_PATH" envDefault:"./uploads"`
		MaxFileSize  int64         `env:"MAX_FILE_SIZE" envDefault:"52428800"`
		OrphanMaxAge time.Duration `env:"ORPHAN_MAX_AGE" envDefault:"24h"`
		SweepPeriod  time.Duration `env:"ORPHAN_SWEEP_PERIOD" envDefault:"1h"`
	}

	// Cache settings
	Cache struct {
		Enabled     bool          `env:"CACHE_ENABLED" envDefault:"true"`
		Backend     string        `env:"CACHE_BACKEND" envDefault:"memory"`
		TTL         time.Duration `env:"CACHE_TTL" envDefault:"5m"`
		MaxSize     int           `env:"CACHE_MAX_SIZE" envDefault:"1000"`
		PurgeWindow time.Duration `env:"CACHE_PURGE_WINDOW" envDefault:"10m"`
	}

	// Redis connection, used when Cache.Backend is "redis"
	Redis struct {
		Addr     string `env:"REDIS_URL" envDefault:"localhost:6379"`
		Password string `env:"REDIS_PASSWORD"`
		DB       int    `env:"REDIS_DB" envDefault:"0"`
	}

	// Vault settings for secret resolution
	Vault struct {
		Enabled     bool          `env:"VAULT_ENABLED" envDefault:"false"`
		Address     string        `env:"VAULT_ADDR"`
		Token       string        `env:"VAULT_TOKEN"`
		Namespace   string        `env:"VAULT_NAMESPACE"`
		SecretsPath string        `env:"VAULT_SECRETS_PATH" envDefault:"ai-chat"`
		Timeout     time.Duration `env:"VAULT_TIMEOUT" envDefault:"10s"`
	}

	// Observability settings
	Observability struct {
		ServiceName    string `env:"OTEL_SERVICE_NAME" envDefault:"ai-chat-backend"`
		TracingEnabled bool   `env:"TRACING_ENABLED" envDefault:"false"`
		MetricsEnabled bool   `env:"METRICS_ENABLED" envDefault:"true"`
		OpenAPISchema  string `env:"OPENAPI_SCHEMA_PATH"`
	}
}

// DefaultJWTSecret mirrors the JWT_SECRET envDefault and is refused in production
const DefaultJWTSecret = "default-jwt-secret-do-not-use-in-production"

var (
	instance *Config
	once     sync.Once
)

// New creates the Config singleton from the environment, loading .env first when present
func New() *Config {
	once.Do(func() {
		_ = godotenv.Load()

		cfg, err := Load()
		if err != nil {
			panic(err)
		}
		instance = cfg
	})

	return instance
}

// Load parses a fresh Config from the current environment without touching the singleton
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// Get returns the singleton Config instance
func Get() *Config {
	if instance == nil {
		return New()
	}
	return instance
}

// IsProduction reports whether the server runs with APP_ENV=production
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

// Validate rejects settings that are only acceptable outside production.
// Run it after secrets have been applied.
func (c *Config) Validate() error {
	if c.IsProduction() && (c.JWT.Secret == "" || c.JWT.Secret == DefaultJWTSecret) {
		return fmt.Errorf("JWT_SECRET must be set in production")
	}
	return nil
}
