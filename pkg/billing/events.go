package billing

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Webhook event types
const (
	EventCheckoutCompleted     = "checkout.session.completed"
	EventSubscriptionCreated   = "subscription.created"
	EventSubscriptionUpdated   = "subscription.updated"
	EventSubscriptionCancelled = "subscription.cancelled"
	EventPaymentSucceeded      = "payment.succeeded"
	EventPaymentFailed         = "payment.failed"
)

var eventAliases = map[string]string{
	"checkout.completed":    EventCheckoutCompleted,
	"subscription.canceled": EventSubscriptionCancelled,
}

// NormalizeEventType maps alternate spellings onto the canonical type
func NormalizeEventType(t string) string {
	t = strings.TrimSpace(t)
	if canonical, ok := eventAliases[t]; ok {
		return canonical
	}
	return t
}

// Event is a provider lifecycle event
type Event struct {
	ID   string    `json:"id,omitempty"`
	Type string    `json:"type"`
	Data EventData `json:"data"`
}

// EventData is the union of the fields the handlers read. Periods are
// epoch seconds; zero means absent.
type EventData struct {
	ID                 string   `json:"id,omitempty"`
	CustomerID         string   `json:"customer_id,omitempty"`
	SubscriptionID     string   `json:"subscription_id,omitempty"`
	PriceID            string   `json:"price_id,omitempty"`
	Status             string   `json:"status,omitempty"`
	CurrentPeriodStart int64    `json:"current_period_start,omitempty"`
	CurrentPeriodEnd   int64    `json:"current_period_end,omitempty"`
	Amount             int64    `json:"amount,omitempty"`
	Currency           string   `json:"currency,omitempty"`
	FailureReason      string   `json:"failure_reason,omitempty"`
	Metadata           Metadata `json:"metadata,omitempty"`
}

// PeriodStart returns the period start as UTC, or nil when absent
func (d EventData) PeriodStart() *time.Time {
	return epoch(d.CurrentPeriodStart)
}

// PeriodEnd returns the period end as UTC, or nil when absent
func (d EventData) PeriodEnd() *time.Time {
	return epoch(d.CurrentPeriodEnd)
}

// SubscriptionRef is the external subscription id the event refers to.
// Subscription events carry it as data.id, checkout and payment events as
// data.subscription_id.
func (d EventData) SubscriptionRef(eventType string) string {
	if strings.HasPrefix(eventType, "subscription.") && d.ID != "" {
		return d.ID
	}
	return d.SubscriptionID
}

func epoch(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}

// ParseEvent decodes an already authenticated webhook body
func ParseEvent(body []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	ev.Type = NormalizeEventType(ev.Type)
	if ev.Type == "" {
		return nil, fmt.Errorf("%w: missing event type", ErrMalformedPayload)
	}
	return &ev, nil
}
