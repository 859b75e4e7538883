package billing

import (
	"context"
	"net/http"
	"time"
)

// Provider is the external payment provider. Implementations live in
// pkg/payment and are selected once at startup.
type Provider interface {
	// Name identifies the provider in logs and metrics
	Name() string
	CreateCheckoutSession(ctx context.Context, params CheckoutParams) (*CheckoutSession, error)
	GetSubscription(ctx context.Context, subscriptionID string) (*ProviderSubscription, error)
	CancelSubscription(ctx context.Context, subscriptionID string) error
}

// WebhookDecoder authenticates a raw webhook delivery and decodes it into
// an Event. It returns ErrInvalidSignature or ErrMalformedPayload.
type WebhookDecoder interface {
	Decode(body []byte, header http.Header) (*Event, error)
}

// CheckoutParams is what the provider needs to open a hosted checkout
type CheckoutParams struct {
	PriceID       string
	PlanID        string
	CustomerEmail string
	SuccessURL    string
	CancelURL     string
	Metadata      Metadata
}

// CheckoutSession is a created provider checkout
type CheckoutSession struct {
	ID  string `json:"session_id"`
	URL string `json:"url"`
}

// ProviderSubscription is the provider's view of a subscription
type ProviderSubscription struct {
	ID                 string
	CustomerID         string
	Status             string
	PriceID            string
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
	Metadata           Metadata
}

// AsEvent renders provider state as a subscription.updated event so it is
// applied through the same path as a webhook
func (s *ProviderSubscription) AsEvent() *Event {
	data := EventData{
		ID:         s.ID,
		CustomerID: s.CustomerID,
		Status:     s.Status,
		PriceID:    s.PriceID,
		Metadata:   s.Metadata,
	}
	if !s.CurrentPeriodStart.IsZero() {
		data.CurrentPeriodStart = s.CurrentPeriodStart.Unix()
	}
	if !s.CurrentPeriodEnd.IsZero() {
		data.CurrentPeriodEnd = s.CurrentPeriodEnd.Unix()
	}
	return &Event{Type: EventSubscriptionUpdated, Data: data}
}
