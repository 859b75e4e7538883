package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/luguanhuang/nano-banana/pkg/observability"
	"github.com/luguanhuang/nano-banana/pkg/storage"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Storage       storage.Config
	Payment       PaymentConfig
	Auth          AuthConfig
	Usage         UsageConfig
	ImageGen      ImageGenConfig
	Reconcile     ReconcileConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Addr            string
	SiteURL         string
	Environment     string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	MaxBodyBytes    int64
	CORSOrigins     []string
	RateLimit       int // requests per user per minute on metered routes, 0 disables
}

// PaymentConfig selects and configures the payment provider
type PaymentConfig struct {
	Provider            string // "fake", "creem" or "stripe"
	CreemAPIKey         string
	CreemAPIURL         string
	WebhookSecret       string
	StripeSecretKey     string
	StripeWebhookSecret string
	Timeout             time.Duration
}

// AuthConfig configures bearer token verification
type AuthConfig struct {
	Mode         string // "jwt", "oidc" or "static"
	JWTSecret    string
	OIDCIssuer   string
	OIDCAudience string
	StaticTokens string // token=user_id:email pairs, comma separated
	CacheTTL     time.Duration
	CacheSize    int
}

// UsageConfig configures the usage ledger and plan catalog
type UsageConfig struct {
	Backend              string // "sql" or "redis"
	FreeGenerationsLimit int
	PlansFile            string
}

// ImageGenConfig configures the image model client
type ImageGenConfig struct {
	APIKey  string
	Model   string
	URL     string
	Timeout time.Duration
}

// ReconcileConfig configures the background reconciliation job
type ReconcileConfig struct {
	Schedule    string
	BatchSize   int
	Concurrency int
	// MaxAttempts caps failed replays per dead letter. A fresh letter has
	// zero attempts, so it is replayed at most MaxAttempts times.
	MaxAttempts int
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel observability.LogLevel

	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
}

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Storage:       loadStorageConfig(),
		Payment:       loadPaymentConfig(),
		Auth:          loadAuthConfig(),
		Usage:         loadUsageConfig(),
		ImageGen:      loadImageGenConfig(),
		Reconcile:     loadReconcileConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Addr:            getEnv("SERVER_ADDR", ":8080"),
		SiteURL:         strings.TrimRight(getEnv("SITE_URL", "http://localhost:3000"), "/"),
		Environment:     getEnv("ENVIRONMENT", EnvDevelopment),
		ReadTimeout:     getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("SERVER_WRITE_TIMEOUT", 120*time.Second),
		IdleTimeout:     getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
		MaxBodyBytes:    getEnvInt64("SERVER_MAX_BODY_BYTES", 20*1024*1024),
		CORSOrigins:     splitList(getEnv("CORS_ALLOWED_ORIGINS", "")),
		RateLimit:       getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
	}
}

func loadStorageConfig() storage.Config {
	cfg := storage.DefaultConfig()

	cfg.Driver = getEnv("DATABASE_DRIVER", cfg.Driver)
	cfg.DatabaseURL = getEnv("DATABASE_URL", cfg.DatabaseURL)
	if maxOpen := getEnvInt("DATABASE_MAX_OPEN_CONNS", 0); maxOpen > 0 {
		cfg.MaxOpenConns = maxOpen
	}
	if maxIdle := getEnvInt("DATABASE_MAX_IDLE_CONNS", 0); maxIdle > 0 {
		cfg.MaxIdleConns = maxIdle
	}
	cfg.ConnectTimeout = getEnvDuration("DATABASE_CONNECT_TIMEOUT", cfg.ConnectTimeout)

	cfg.RedisURL = getEnv("REDIS_URL", "")
	cfg.RedisPassword = getEnv("REDIS_PASSWORD", "")
	cfg.RedisDB = getEnvInt("REDIS_DB", cfg.RedisDB)
	if poolSize := getEnvInt("REDIS_POOL_SIZE", 0); poolSize > 0 {
		cfg.RedisPoolSize = poolSize
	}

	cfg.S3Bucket = getEnv("S3_BUCKET", "")
	cfg.S3Region = getEnv("S3_REGION", cfg.S3Region)
	cfg.S3Endpoint = getEnv("S3_ENDPOINT", "")
	cfg.S3AccessKey = getEnv("S3_ACCESS_KEY", "")
	cfg.S3SecretKey = getEnv("S3_SECRET_KEY", "")
	cfg.S3UsePathStyle = getEnvBool("S3_USE_PATH_STYLE", false)
	cfg.S3EnsureBucket = getEnvBool("S3_ENSURE_BUCKET", false)

	return cfg
}

func loadPaymentConfig() PaymentConfig {
	return PaymentConfig{
		Provider:            strings.ToLower(getEnv("PAYMENT_PROVIDER", "fake")),
		CreemAPIKey:         getEnv("CREEM_API_KEY", ""),
		CreemAPIURL:         getEnv("CREEM_API_URL", "https://test-api.creem.io"),
		WebhookSecret:       getEnv("PAYMENT_WEBHOOK_SECRET", ""),
		StripeSecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
		Timeout:             getEnvDuration("PAYMENT_TIMEOUT", 15*time.Second),
	}
}

func loadAuthConfig() AuthConfig {
	return AuthConfig{
		Mode:         strings.ToLower(getEnv("AUTH_MODE", "jwt")),
		JWTSecret:    getEnv("AUTH_JWT_SECRET", ""),
		OIDCIssuer:   getEnv("AUTH_OIDC_ISSUER", ""),
		OIDCAudience: getEnv("AUTH_OIDC_AUDIENCE", ""),
		StaticTokens: getEnv("AUTH_STATIC_TOKENS", ""),
		CacheTTL:     getEnvDuration("AUTH_CACHE_TTL", 5*time.Minute),
		CacheSize:    getEnvInt("AUTH_CACHE_SIZE", 10000),
	}
}

func loadUsageConfig() UsageConfig {
	return UsageConfig{
		Backend:              strings.ToLower(getEnv("USAGE_BACKEND", "sql")),
		FreeGenerationsLimit: getEnvInt("FREE_GENERATIONS_LIMIT", 5),
		PlansFile:            getEnv("PLANS_FILE", ""),
	}
}

func loadImageGenConfig() ImageGenConfig {
	return ImageGenConfig{
		APIKey:  getEnv("OPENROUTER_API_KEY", ""),
		Model:   getEnv("OPENROUTER_MODEL", "google/gemini-2.5-flash-image"),
		URL:     getEnv("OPENROUTER_URL", "https://openrouter.ai/api/v1"),
		Timeout: getEnvDuration("OPENROUTER_TIMEOUT", 90*time.Second),
	}
}

func loadReconcileConfig() ReconcileConfig {
	return ReconcileConfig{
		Schedule:    getEnv("RECONCILE_SCHEDULE", "@every 10m"),
		BatchSize:   getEnvInt("RECONCILE_BATCH_SIZE", 100),
		Concurrency: getEnvInt("RECONCILE_CONCURRENCY", 4),
		MaxAttempts: getEnvInt("RECONCILE_MAX_ATTEMPTS", 10),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(getEnv("LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("OTEL_SERVICE_NAME", "nano-banana"),
		OTelServiceVersion: getEnv("OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("OTEL_INSECURE", true),
	}
}

// IsDevelopment reports whether the server runs in development mode
func (c *Config) IsDevelopment() bool {
	return c.Server.Environment == EnvDevelopment
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server address is required")
	}
	if c.Server.SiteURL == "" {
		return fmt.Errorf("site URL is required")
	}

	if _, err := storage.DialectFor(c.Storage.Driver); err != nil {
		return err
	}
	if c.Storage.DatabaseURL == "" {
		return fmt.Errorf("database URL is required")
	}

	switch c.Payment.Provider {
	case "fake":
		if c.Server.Environment == EnvProduction {
			return fmt.Errorf("fake payment provider is not allowed in production")
		}
	case "creem":
		if c.Payment.CreemAPIKey == "" {
			return fmt.Errorf("CREEM_API_KEY is required for the creem provider")
		}
		if c.Payment.WebhookSecret == "" {
			return fmt.Errorf("PAYMENT_WEBHOOK_SECRET is required for the creem provider")
		}
	case "stripe":
		if c.Payment.StripeSecretKey == "" {
			return fmt.Errorf("STRIPE_SECRET_KEY is required for the stripe provider")
		}
		if c.Payment.StripeWebhookSecret == "" {
			return fmt.Errorf("STRIPE_WEBHOOK_SECRET is required for the stripe provider")
		}
	default:
		return fmt.Errorf("invalid payment provider: %s (must be fake, creem, or stripe)", c.Payment.Provider)
	}

	switch c.Auth.Mode {
	case "jwt":
		if c.Auth.JWTSecret == "" {
			return fmt.Errorf("AUTH_JWT_SECRET is required for jwt auth")
		}
	case "oidc":
		if c.Auth.OIDCIssuer == "" || c.Auth.OIDCAudience == "" {
			return fmt.Errorf("AUTH_OIDC_ISSUER and AUTH_OIDC_AUDIENCE are required for oidc auth")
		}
	case "static":
		if c.Server.Environment == EnvProduction {
			return fmt.Errorf("static auth is not allowed in production")
		}
	default:
		return fmt.Errorf("invalid auth mode: %s (must be jwt, oidc, or static)", c.Auth.Mode)
	}

	switch c.Usage.Backend {
	case "sql":
	case "redis":
		if c.Storage.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required for the redis usage backend")
		}
	default:
		return fmt.Errorf("invalid usage backend: %s (must be sql or redis)", c.Usage.Backend)
	}
	if c.Usage.FreeGenerationsLimit < 0 {
		return fmt.Errorf("free generations limit must not be negative")
	}

	if c.Reconcile.Concurrency < 1 {
		return fmt.Errorf("reconcile concurrency must be at least 1")
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
