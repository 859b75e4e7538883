package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "nano_banana"

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Quota metrics
	QuotaDecisionsTotal *prometheus.CounterVec
	LedgerDuration      *prometheus.HistogramVec

	// Webhook metrics
	WebhookEventsTotal   *prometheus.CounterVec
	WebhookRejectedTotal *prometheus.CounterVec
	DeadLettersTotal     *prometheus.CounterVec

	// Upstream provider metrics
	UpstreamRequestsTotal   *prometheus.CounterVec
	UpstreamRequestDuration *prometheus.HistogramVec

	// Background jobs
	ReconcileRunsTotal  *prometheus.CounterVec
	ReconcileItemsTotal *prometheus.CounterVec
	PlanReloadsTotal    *prometheus.CounterVec

	// Business metrics
	GenerationsTotal *prometheus.CounterVec

	otel *OTelMetrics
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		QuotaDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "quota_decisions_total",
				Help:      "Quota gate decisions by result (allowed, denied, error)",
			},
			[]string{"result"},
		),
		LedgerDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "usage_ledger_duration_seconds",
				Help:      "Usage ledger operation duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"backend", "operation"},
		),

		WebhookEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "webhook_events_total",
				Help:      "Webhook events processed by type and outcome",
			},
			[]string{"type", "outcome"},
		),
		WebhookRejectedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "webhook_rejected_total",
				Help:      "Webhook deliveries rejected before dispatch",
			},
			[]string{"reason"},
		),
		DeadLettersTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "webhook_dead_letters_total",
				Help:      "Acknowledged webhook events whose handler failed",
			},
			[]string{"type"},
		),

		UpstreamRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "upstream_requests_total",
				Help:      "Calls to external providers",
			},
			[]string{"provider", "operation", "status"},
		),
		UpstreamRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "upstream_request_duration_seconds",
				Help:      "External provider call duration in seconds",
				Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"provider", "operation"},
		),

		ReconcileRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reconcile_runs_total",
				Help:      "Reconciliation job runs by task and status",
			},
			[]string{"task", "status"},
		),
		ReconcileItemsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reconcile_items_total",
				Help:      "Items handled by the reconciliation job",
			},
			[]string{"task", "outcome"},
		),
		PlanReloadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "plan_catalog_reloads_total",
				Help:      "Plan catalog reloads by status",
			},
			[]string{"status"},
		),

		GenerationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "generations_total",
				Help:      "Image generation requests by status",
			},
			[]string{"status"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.QuotaDecisionsTotal,
		m.LedgerDuration,
		m.WebhookEventsTotal,
		m.WebhookRejectedTotal,
		m.DeadLettersTotal,
		m.UpstreamRequestsTotal,
		m.UpstreamRequestDuration,
		m.ReconcileRunsTotal,
		m.ReconcileItemsTotal,
		m.PlanReloadsTotal,
		m.GenerationsTotal,
	)

	return m
}

// The Observe* helpers are nil-safe so components can run without metrics.

// ObserveQuotaDecision records a quota gate outcome
func (m *Metrics) ObserveQuotaDecision(result string) {
	if m == nil {
		return
	}
	m.QuotaDecisionsTotal.WithLabelValues(result).Inc()
	m.otel.recordQuotaDecision(result)
}

// ObserveLedger records the duration of a usage ledger call
func (m *Metrics) ObserveLedger(backend, operation string, start time.Time) {
	if m == nil {
		return
	}
	m.LedgerDuration.WithLabelValues(backend, operation).Observe(time.Since(start).Seconds())
}

// ObserveWebhookEvent records a dispatched webhook event
func (m *Metrics) ObserveWebhookEvent(eventType, outcome string) {
	if m == nil {
		return
	}
	m.WebhookEventsTotal.WithLabelValues(eventType, outcome).Inc()
	m.otel.recordWebhookEvent(eventType, outcome)
}

// ObserveWebhookRejected records a webhook rejected before dispatch
func (m *Metrics) ObserveWebhookRejected(reason string) {
	if m == nil {
		return
	}
	m.WebhookRejectedTotal.WithLabelValues(reason).Inc()
}

// ObserveDeadLetter records a failed-but-acknowledged webhook event
func (m *Metrics) ObserveDeadLetter(eventType string) {
	if m == nil {
		return
	}
	m.DeadLettersTotal.WithLabelValues(eventType).Inc()
	m.otel.recordDeadLetter(eventType)
}

// ObserveUpstream records a call to an external provider
func (m *Metrics) ObserveUpstream(provider, operation string, start time.Time, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.UpstreamRequestsTotal.WithLabelValues(provider, operation, status).Inc()
	m.UpstreamRequestDuration.WithLabelValues(provider, operation).Observe(time.Since(start).Seconds())
}

// ObserveReconcileRun records one reconciliation task run
func (m *Metrics) ObserveReconcileRun(task string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.ReconcileRunsTotal.WithLabelValues(task, status).Inc()
}

// ObserveReconcileItem records one item handled by a reconciliation task
func (m *Metrics) ObserveReconcileItem(task, outcome string) {
	if m == nil {
		return
	}
	m.ReconcileItemsTotal.WithLabelValues(task, outcome).Inc()
}

// ObservePlanReload records a plan catalog reload
func (m *Metrics) ObservePlanReload(err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.PlanReloadsTotal.WithLabelValues(status).Inc()
}

// ObserveGeneration records an image generation result
func (m *Metrics) ObserveGeneration(status string) {
	if m == nil {
		return
	}
	m.GenerationsTotal.WithLabelValues(status).Inc()
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics.
// Requests are labelled by route template to keep cardinality bounded.
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			route := routeTemplate(r)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// MetricsHandler serves the registry in the Prometheus exposition format
func MetricsHandler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
