package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/luguanhuang/nano-banana/pkg/billing"
	"github.com/luguanhuang/nano-banana/pkg/config"
	"github.com/luguanhuang/nano-banana/pkg/observability"
	"github.com/luguanhuang/nano-banana/pkg/payment"
	"github.com/luguanhuang/nano-banana/pkg/plans"
	"github.com/luguanhuang/nano-banana/pkg/reconcile"
	"github.com/luguanhuang/nano-banana/pkg/storage"
)

var (
	runOnce     = flag.Bool("once", false, "Run a single reconciliation pass and exit")
	schedule    = flag.String("schedule", "", "Cron schedule, overrides RECONCILE_SCHEDULE")
	metricsAddr = flag.String("metrics-addr", "", "Address to serve /metrics on, empty disables")
	logFormat   = flag.String("log-format", "json", "Log format (json, text)")
)

// Reconciler replays dead-lettered webhook events and resyncs lapsed
// subscriptions from the payment provider on a cron schedule
func main() {
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	logger := setupLogger(cfg.Observability.LogLevel.String(), *logFormat)
	if *schedule != "" {
		cfg.Reconcile.Schedule = *schedule
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, dialect, err := storage.OpenDB(ctx, cfg.Storage)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := storage.Migrate(ctx, db, dialect); err != nil {
		logger.Fatalf("Failed to migrate database: %v", err)
	}

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	// billing logs through the service logger; the job itself uses logrus
	serviceLogger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout).WithField("service", "reconciler")

	catalog, err := plans.NewRegistryFromFile(cfg.Usage.PlansFile, cfg.Usage.FreeGenerationsLimit, serviceLogger, metrics)
	if err != nil {
		logger.Fatalf("Failed to load plan catalog: %v", err)
	}

	provider, _, err := payment.New(cfg.Payment, payment.Options{SiteURL: cfg.Server.SiteURL})
	if err != nil {
		logger.Fatalf("Failed to create payment provider: %v", err)
	}

	store := billing.NewSQLStore(db, dialect)
	reconciler := billing.NewReconciler(store, catalog, serviceLogger, metrics)
	job := reconcile.NewJob(store, reconciler, provider, cfg.Reconcile, logger.WithField("provider", provider.Name()), metrics)

	if *runOnce {
		if err := job.Run(ctx); err != nil {
			logger.Fatalf("Reconciliation failed: %v", err)
		}
		logger.Info("Reconciliation completed successfully")
		return
	}

	if *metricsAddr != "" {
		go serveMetrics(*metricsAddr, registry, logger)
	}

	if err := catalog.Watch(ctx); err != nil {
		logger.Warnf("Plan catalog watcher not started: %v", err)
	}

	cronLogger := cron.PrintfLogger(logger)
	c := cron.New(
		cron.WithLogger(cronLogger),
		cron.WithChain(
			cron.SkipIfStillRunning(cronLogger),
			cron.Recover(cronLogger),
		),
	)

	_, err = c.AddFunc(cfg.Reconcile.Schedule, func() {
		if err := job.Run(ctx); err != nil {
			logger.Errorf("Scheduled reconciliation failed: %v", err)
		}
	})
	if err != nil {
		logger.Fatalf("Failed to schedule reconciliation %q: %v", cfg.Reconcile.Schedule, err)
	}

	c.Start()
	logger.WithFields(logrus.Fields{
		"schedule":     cfg.Reconcile.Schedule,
		"batch_size":   cfg.Reconcile.BatchSize,
		"concurrency":  cfg.Reconcile.Concurrency,
		"max_attempts": cfg.Reconcile.MaxAttempts,
	}).Info("Reconciler started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	logger.Info("Shutting down gracefully...")

	cancel()
	stopCtx := c.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(cfg.Server.ShutdownTimeout):
		logger.Warn("Timed out waiting for running pass to finish")
	}

	logger.Info("Reconciler stopped")
}

func setupLogger(level, format string) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)

	if strings.ToLower(format) == "text" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	logger.SetLevel(parsed)

	return logger
}

func serveMetrics(addr string, registry *prometheus.Registry, logger *logrus.Logger) {
	router := mux.NewRouter()
	router.Handle("/metrics", observability.MetricsHandler(registry)).Methods("GET")

	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	logger.Infof("Serving metrics on %s", addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Errorf("Metrics server failed: %v", err)
	}
}
