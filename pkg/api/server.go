package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/luguanhuang/nano-banana/pkg/auth"
	"github.com/luguanhuang/nano-banana/pkg/billing"
	"github.com/luguanhuang/nano-banana/pkg/httputil"
	"github.com/luguanhuang/nano-banana/pkg/imagegen"
	"github.com/luguanhuang/nano-banana/pkg/middleware"
	"github.com/luguanhuang/nano-banana/pkg/observability"
	"github.com/luguanhuang/nano-banana/pkg/plans"
)

const (
	defaultMaxBodyBytes = 20 << 20
	maxWebhookBodyBytes = 1 << 20
)

// BillingService is the subset of *billing.Service the handlers use
type BillingService interface {
	GetStatus(ctx context.Context, userID string) (*billing.StatusView, error)
	CreateCheckout(ctx context.Context, req billing.CheckoutRequest) (*billing.CheckoutSession, error)
	CancelSubscription(ctx context.Context, userID string) error
}

// WebhookProcessor applies a verified event. *billing.Reconciler implements it.
type WebhookProcessor interface {
	Handle(ctx context.Context, ev *billing.Event) billing.Result
}

// Generator runs an image generation. *imagegen.Generator implements it.
type Generator interface {
	Generate(ctx context.Context, userID string, req imagegen.Request) (*imagegen.Output, error)
}

// PlanSource returns the current catalog. *plans.Registry implements it.
type PlanSource interface {
	Catalog() *plans.Catalog
}

// Options holds the server collaborators. Generator, RateLimit, Health and
// Gatherer are optional.
type Options struct {
	Billing   BillingService
	Webhooks  WebhookProcessor
	Decoder   billing.WebhookDecoder
	Verifier  auth.Verifier
	Quota     middleware.Consumer
	Generator Generator
	Plans     PlanSource
	RateLimit *middleware.RateLimitMiddleware
	Health    *observability.HealthChecker
	Metrics   *observability.Metrics
	Gatherer  prometheus.Gatherer
	Logger    *observability.Logger

	CORSOrigins  []string
	MaxBodyBytes int64
}

// Server represents our API server
type Server struct {
	opts    Options
	router  *mux.Router
	handler http.Handler
}

// NewServer creates the API server and its routes
func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = observability.NopLogger()
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}

	s := &Server{
		opts:   opts,
		router: mux.NewRouter(),
	}
	s.setupRoutes()

	s.handler = httputil.Chain(
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(opts.Logger),
		httputil.RecoveryMiddleware(opts.Logger),
		httputil.CORSMiddleware(opts.CORSOrigins),
	)(s.router)

	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	if s.opts.Metrics != nil {
		s.router.Use(observability.HTTPMetricsMiddleware(s.opts.Metrics))
	}

	authenticated := middleware.Authenticate(s.opts.Verifier)
	limited := func(h http.Handler) http.Handler {
		if s.opts.RateLimit == nil {
			return h
		}
		return s.opts.RateLimit.Handler(h)
	}
	bodyLimit := httputil.MaxBytesMiddleware(s.opts.MaxBodyBytes)

	api := s.router.PathPrefix("/api").Subrouter()

	// Webhooks
	api.HandleFunc("/webhooks/payments", s.handleWebhook).Methods(http.MethodPost)
	api.HandleFunc("/webhooks/creem", s.handleWebhook).Methods(http.MethodPost)

	// Billing
	checkout := authenticated(bodyLimit(http.HandlerFunc(s.createCheckout)))
	api.Handle("/checkout", checkout).Methods(http.MethodPost)
	api.Handle("/create-checkout-session", checkout).Methods(http.MethodPost)
	api.Handle("/subscription/status", authenticated(http.HandlerFunc(s.getSubscriptionStatus))).Methods(http.MethodGet)
	api.Handle("/subscription/cancel", authenticated(http.HandlerFunc(s.cancelSubscription))).Methods(http.MethodPost)
	api.HandleFunc("/plans", s.listPlans).Methods(http.MethodGet)

	// Usage
	api.Handle("/usage/check", authenticated(middleware.QuotaGate(s.opts.Quota)(http.HandlerFunc(s.usageCheck)))).Methods(http.MethodPost)
	api.Handle("/generate", authenticated(limited(bodyLimit(http.HandlerFunc(s.generate))))).Methods(http.MethodPost)

	// Operations
	if s.opts.Health != nil {
		s.opts.Health.RegisterRoutes(s.router)
	}
	if s.opts.Gatherer != nil {
		s.router.Handle("/metrics", observability.MetricsHandler(s.opts.Gatherer)).Methods(http.MethodGet)
	}
}

// Router returns the underlying router
func (s *Server) Router() *mux.Router {
	return s.router
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}
