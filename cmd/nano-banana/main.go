package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/luguanhuang/nano-banana/pkg/api"
	"github.com/luguanhuang/nano-banana/pkg/auth"
	"github.com/luguanhuang/nano-banana/pkg/billing"
	"github.com/luguanhuang/nano-banana/pkg/config"
	"github.com/luguanhuang/nano-banana/pkg/imagegen"
	"github.com/luguanhuang/nano-banana/pkg/middleware"
	"github.com/luguanhuang/nano-banana/pkg/observability"
	"github.com/luguanhuang/nano-banana/pkg/payment"
	"github.com/luguanhuang/nano-banana/pkg/plans"
	"github.com/luguanhuang/nano-banana/pkg/storage"
	"github.com/luguanhuang/nano-banana/pkg/usage"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	migrateOnly := flag.Bool("migrate-only", false, "Apply database migrations and exit")
	flag.Parse()

	if err := run(*migrateOnly); err != nil {
		fmt.Fprintf(os.Stderr, "nano-banana: %v\n", err)
		os.Exit(1)
	}
}

func run(migrateOnly bool) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout).WithFields(map[string]interface{}{
		"service":     "nano-banana",
		"version":     version,
		"environment": cfg.Server.Environment,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	otelProviders, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: version,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(registry)
	if otelProviders != nil {
		otelMetrics, err := observability.NewOTelMetrics()
		if err != nil {
			return err
		}
		metrics.AttachOTel(otelMetrics)
	}

	db, dialect, err := storage.OpenDB(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	if err := storage.Migrate(ctx, db, dialect); err != nil {
		db.Close()
		return err
	}
	logger.WithField("driver", dialect.Driver()).Info("Database ready")
	if migrateOnly {
		return db.Close()
	}

	var redisClient *redis.Client
	if cfg.Storage.RedisEnabled() {
		redisClient, err = storage.NewRedisClient(ctx, cfg.Storage)
		if err != nil {
			db.Close()
			return err
		}
		logger.Info("Redis connected")
	}

	catalog, err := plans.NewRegistryFromFile(cfg.Usage.PlansFile, cfg.Usage.FreeGenerationsLimit, logger, metrics)
	if err != nil {
		return err
	}
	if err := catalog.Watch(ctx); err != nil {
		logger.WithError(err).Warn("Plan catalog watcher not started")
	}

	var ledger usage.Ledger
	switch cfg.Usage.Backend {
	case "redis":
		if redisClient == nil {
			return errors.New("USAGE_BACKEND=redis requires REDIS_URL")
		}
		ledger = usage.NewRedisLedger(redisClient, metrics)
	default:
		ledger = usage.NewSQLLedger(db, dialect, metrics)
	}
	logger.WithField("backend", cfg.Usage.Backend).Info("Usage ledger ready")

	provider, decoder, err := payment.New(cfg.Payment, payment.Options{SiteURL: cfg.Server.SiteURL})
	if err != nil {
		return err
	}
	logger.WithField("provider", provider.Name()).Info("Payment provider ready")

	verifier, err := auth.NewVerifier(ctx, cfg.Auth)
	if err != nil {
		return err
	}

	store := billing.NewSQLStore(db, dialect)
	billingService := billing.NewService(billing.ServiceConfig{
		Store:    store,
		Provider: provider,
		Ledger:   ledger,
		Catalog:  catalog,
		SiteURL:  cfg.Server.SiteURL,
		Logger:   logger,
		Metrics:  metrics,
	})
	reconciler := billing.NewReconciler(store, catalog, logger, metrics)
	gate := usage.NewGate(ledger, billingService, metrics)

	health := observability.NewHealthChecker(db, redisClient, version)

	var generator api.Generator
	if cfg.ImageGen.APIKey != "" {
		var archive imagegen.Archive
		if cfg.Storage.ArchiveEnabled() {
			objects, err := storage.NewObjectStore(ctx, cfg.Storage)
			if err != nil {
				return err
			}
			archive = objects
			health.AddCheck("archive", objects.HealthCheck)
			logger.WithField("bucket", objects.Bucket()).Info("Image archive enabled")
		}
		client := imagegen.NewClient(cfg.ImageGen, cfg.Server.SiteURL, nil, metrics)
		generator = imagegen.NewGenerator(client, archive, metrics)
	} else {
		logger.Warn("OPENROUTER_API_KEY not set, image generation disabled")
	}

	var rateLimit *middleware.RateLimitMiddleware
	if cfg.Server.RateLimit > 0 {
		rateLimit = middleware.NewDistributedRateLimitMiddleware(redisClient, middleware.PerMinuteRateLimitConfig(cfg.Server.RateLimit))
		rateLimit.StartCleanup(ctx)
	}

	server := api.NewServer(api.Options{
		Billing:      billingService,
		Webhooks:     reconciler,
		Decoder:      decoder,
		Verifier:     verifier,
		Quota:        gate,
		Generator:    generator,
		Plans:        catalog,
		RateLimit:    rateLimit,
		Health:       health,
		Metrics:      metrics,
		Gatherer:     registry,
		Logger:       logger,
		CORSOrigins:  cfg.Server.CORSOrigins,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
	})

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      observability.InstrumentHandler(server, "nano-banana"),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := observability.NewShutdownManager(logger, httpServer, cfg.Server.ShutdownTimeout)
	shutdown.Register("database", func(ctx context.Context) error {
		return db.Close()
	})
	if redisClient != nil {
		shutdown.Register("redis", func(ctx context.Context) error {
			return redisClient.Close()
		})
	}
	shutdown.Register("otel", func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, otelProviders, logger)
	})
	shutdown.Register("background", func(ctx context.Context) error {
		cancel()
		return nil
	})

	serverErr := make(chan error, 1)
	go func() {
		logger.Infof("Starting nano-banana API on %s", cfg.Server.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	waitCtx, stopWaiting := context.WithCancel(ctx)
	defer stopWaiting()
	go func() {
		if err, ok := <-serverErr; ok {
			logger.WithError(err).Error("HTTP server failed")
			stopWaiting()
		}
	}()

	start := time.Now()
	err = shutdown.WaitForShutdown(waitCtx)
	logger.WithField("uptime", time.Since(start).String()).Info("nano-banana stopped")
	return err
}
