// Package config provides application configuration management from environment variables.
//
// # Configuration Structure
//
// Server settings:
//
//	SERVER_ADDR=":8080"
//	SITE_URL="https://nanobanana.example.com"
//	ENVIRONMENT="development"  # development, production
//	RATE_LIMIT_PER_MINUTE="30"
//
// Storage settings:
//
//	DATABASE_DRIVER="postgres"  # postgres, sqlite3
//	DATABASE_URL="postgres://localhost/nano_banana?sslmode=disable"
//	REDIS_URL="redis://localhost:6379/0"
//	S3_BUCKET="nano-banana-generations"
//
// Payment settings:
//
//	PAYMENT_PROVIDER="creem"  # fake, creem, stripe
//	CREEM_API_KEY="..."
//	PAYMENT_WEBHOOK_SECRET="..."
//	STRIPE_SECRET_KEY="sk_live_..."
//	STRIPE_WEBHOOK_SECRET="whsec_..."
//
// Auth and usage settings:
//
//	AUTH_MODE="jwt"  # jwt, oidc, static
//	AUTH_JWT_SECRET="..."
//	USAGE_BACKEND="sql"  # sql, redis
//	FREE_GENERATIONS_LIMIT="5"
//	PLANS_FILE="/etc/nano-banana/plans.yaml"
//
// Observability settings:
//
//	LOG_LEVEL="info"  # debug, info, warn, error
//	OTEL_ENABLED="true"
//	OTEL_EXPORTER_OTLP_ENDPOINT="otel-collector:4317"
//
// # Usage Example
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//
// Validation rejects real payment providers without their secrets and
// development-only settings (fake provider, static auth) in production.
//
// # Related Packages
//
//   - pkg/storage: Uses storage configuration
//   - pkg/observability: Uses observability configuration
package config
