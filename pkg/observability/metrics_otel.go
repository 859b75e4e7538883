package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTelMetrics mirrors the billing counters onto the OpenTelemetry meter so
// they reach the OTLP collector alongside traces.
type OTelMetrics struct {
	quotaDecisions metric.Int64Counter
	webhookEvents  metric.Int64Counter
	deadLetters    metric.Int64Counter
}

// NewOTelMetrics creates instruments on the global meter provider
func NewOTelMetrics() (*OTelMetrics, error) {
	meter := otel.Meter("github.com/luguanhuang/nano-banana")

	m := &OTelMetrics{}
	var err error

	m.quotaDecisions, err = meter.Int64Counter(
		"quota.decisions",
		metric.WithDescription("Quota gate decisions"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create quota.decisions counter: %w", err)
	}

	m.webhookEvents, err = meter.Int64Counter(
		"webhook.events",
		metric.WithDescription("Webhook events by type and outcome"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create webhook.events counter: %w", err)
	}

	m.deadLetters, err = meter.Int64Counter(
		"webhook.dead_letters",
		metric.WithDescription("Acknowledged webhook events whose handler failed"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create webhook.dead_letters counter: %w", err)
	}

	return m, nil
}

// AttachOTel forwards quota and webhook observations to the OTel instruments
func (m *Metrics) AttachOTel(o *OTelMetrics) {
	if m == nil {
		return
	}
	m.otel = o
}

func (o *OTelMetrics) recordQuotaDecision(result string) {
	if o == nil {
		return
	}
	o.quotaDecisions.Add(context.Background(), 1, metric.WithAttributes(attribute.String("result", result)))
}

func (o *OTelMetrics) recordWebhookEvent(eventType, outcome string) {
	if o == nil {
		return
	}
	o.webhookEvents.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("type", eventType),
		attribute.String("outcome", outcome),
	))
}

func (o *OTelMetrics) recordDeadLetter(eventType string) {
	if o == nil {
		return
	}
	o.deadLetters.Add(context.Background(), 1, metric.WithAttributes(attribute.String("type", eventType)))
}
