package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"
	"github.com/stripe/stripe-go/v81/webhook"

	"github.com/luguanhuang/nano-banana/pkg/billing"
)

// StripeSignatureHeader carries the Stripe webhook signature
const StripeSignatureHeader = "Stripe-Signature"

// StripeOptions tunes the Stripe client
type StripeOptions struct {
	HTTPClient *http.Client
	// APIURL overrides https://api.stripe.com
	APIURL string
}

// StripeProvider implements billing.Provider with stripe-go
type StripeProvider struct {
	api *client.API
}

// NewStripeProvider creates a Stripe client. The client never retries;
// callers see the first failure.
func NewStripeProvider(secretKey string, opts StripeOptions) *StripeProvider {
	backendCfg := &stripe.BackendConfig{
		HTTPClient:        opts.HTTPClient,
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelError},
	}
	if opts.APIURL != "" {
		backendCfg.URL = stripe.String(opts.APIURL)
	}
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, backendCfg)

	api := &client.API{}
	api.Init(secretKey, &stripe.Backends{API: backend, Connect: backend, Uploads: backend})
	return &StripeProvider{api: api}
}

func (p *StripeProvider) Name() string { return ProviderStripe }

// CreateCheckoutSession opens a subscription-mode checkout. Metadata is set
// on both the session and the subscription so every later event carries
// the user id.
func (p *StripeProvider) CreateCheckoutSession(ctx context.Context, params billing.CheckoutParams) (*billing.CheckoutSession, error) {
	sp := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(params.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(params.SuccessURL),
		CancelURL:  stripe.String(params.CancelURL),
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string(params.Metadata),
		},
	}
	sp.Context = ctx
	if params.CustomerEmail != "" {
		sp.CustomerEmail = stripe.String(params.CustomerEmail)
	}
	if userID := params.Metadata.UserID(); userID != "" {
		sp.ClientReferenceID = stripe.String(userID)
	}
	for k, v := range params.Metadata {
		sp.AddMetadata(k, v)
	}

	sess, err := p.api.CheckoutSessions.New(sp)
	if err != nil {
		return nil, stripeError("create checkout", err)
	}
	return &billing.CheckoutSession{ID: sess.ID, URL: sess.URL}, nil
}

// GetSubscription fetches a subscription
func (p *StripeProvider) GetSubscription(ctx context.Context, id string) (*billing.ProviderSubscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx

	sub, err := p.api.Subscriptions.Get(id, params)
	if err != nil {
		return nil, stripeError("get subscription", err)
	}
	return providerSubscription(sub), nil
}

// CancelSubscription cancels a subscription immediately
func (p *StripeProvider) CancelSubscription(ctx context.Context, id string) error {
	params := &stripe.SubscriptionCancelParams{}
	params.Context = ctx

	if _, err := p.api.Subscriptions.Cancel(id, params); err != nil {
		return stripeError("cancel subscription", err)
	}
	return nil
}

func stripeError(operation string, err error) error {
	status := 0
	var se *stripe.Error
	if errors.As(err, &se) {
		status = se.HTTPStatusCode
	}
	return &billing.UpstreamError{Provider: ProviderStripe, Operation: operation, StatusCode: status, Err: err}
}

func providerSubscription(sub *stripe.Subscription) *billing.ProviderSubscription {
	out := &billing.ProviderSubscription{
		ID:       sub.ID,
		Status:   normalizeStatus(string(sub.Status)),
		PriceID:  subscriptionPrice(sub),
		Metadata: billing.Metadata(sub.Metadata),
	}
	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
	}
	if sub.CurrentPeriodStart > 0 {
		out.CurrentPeriodStart = time.Unix(sub.CurrentPeriodStart, 0).UTC()
	}
	if sub.CurrentPeriodEnd > 0 {
		out.CurrentPeriodEnd = time.Unix(sub.CurrentPeriodEnd, 0).UTC()
	}
	return out
}

func subscriptionPrice(sub *stripe.Subscription) string {
	if sub.Items == nil {
		return ""
	}
	for _, item := range sub.Items.Data {
		if item != nil && item.Price != nil {
			return item.Price.ID
		}
	}
	return ""
}

// StripeWebhookDecoder verifies Stripe-Signature and translates Stripe
// events into billing events
type StripeWebhookDecoder struct {
	secret string
}

// NewStripeWebhookDecoder creates a decoder for an endpoint secret
func NewStripeWebhookDecoder(secret string) *StripeWebhookDecoder {
	return &StripeWebhookDecoder{secret: secret}
}

// Decode implements billing.WebhookDecoder
func (d *StripeWebhookDecoder) Decode(body []byte, header http.Header) (*billing.Event, error) {
	signature := header.Get(StripeSignatureHeader)
	if d.secret == "" || signature == "" {
		return nil, billing.ErrInvalidSignature
	}

	event, err := webhook.ConstructEventWithOptions(body, signature, d.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		switch {
		case errors.Is(err, webhook.ErrNotSigned),
			errors.Is(err, webhook.ErrNoValidSignature),
			errors.Is(err, webhook.ErrInvalidHeader),
			errors.Is(err, webhook.ErrTooOld):
			return nil, billing.ErrInvalidSignature
		default:
			return nil, fmt.Errorf("%w: %v", billing.ErrMalformedPayload, err)
		}
	}
	if event.Data == nil {
		return nil, fmt.Errorf("%w: event %s has no data", billing.ErrMalformedPayload, event.ID)
	}

	ev, err := translateStripeEvent(event)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", billing.ErrMalformedPayload, err)
	}
	return ev, nil
}

func translateStripeEvent(event stripe.Event) (*billing.Event, error) {
	ev := &billing.Event{ID: event.ID, Type: string(event.Type)}

	switch string(event.Type) {
	case "checkout.session.completed":
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			return nil, fmt.Errorf("invalid checkout session: %w", err)
		}
		ev.Type = billing.EventCheckoutCompleted
		ev.Data = billing.EventData{
			ID:       sess.ID,
			Metadata: billing.Metadata(sess.Metadata),
		}
		if sess.Customer != nil {
			ev.Data.CustomerID = sess.Customer.ID
		}
		if sess.Subscription != nil {
			ev.Data.SubscriptionID = sess.Subscription.ID
		}
		if sess.ClientReferenceID != "" && ev.Data.Metadata.UserID() == "" {
			if ev.Data.Metadata == nil {
				ev.Data.Metadata = billing.Metadata{}
			}
			ev.Data.Metadata["user_id"] = sess.ClientReferenceID
		}

	case "customer.subscription.created", "customer.subscription.updated", "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return nil, fmt.Errorf("invalid subscription: %w", err)
		}
		ps := providerSubscription(&sub)
		ev.Data = billing.EventData{
			ID:         ps.ID,
			CustomerID: ps.CustomerID,
			Status:     ps.Status,
			PriceID:    ps.PriceID,
			Metadata:   ps.Metadata,
		}
		ev.Data.CurrentPeriodStart = sub.CurrentPeriodStart
		ev.Data.CurrentPeriodEnd = sub.CurrentPeriodEnd

		switch string(event.Type) {
		case "customer.subscription.created":
			ev.Type = billing.EventSubscriptionCreated
		case "customer.subscription.updated":
			ev.Type = billing.EventSubscriptionUpdated
		default:
			ev.Type = billing.EventSubscriptionCancelled
		}

	case "invoice.payment_succeeded", "invoice.payment_failed":
		var inv stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return nil, fmt.Errorf("invalid invoice: %w", err)
		}
		ev.Data = billing.EventData{
			ID:       inv.ID,
			Currency: string(inv.Currency),
		}
		if inv.Subscription != nil {
			ev.Data.SubscriptionID = inv.Subscription.ID
		}
		if inv.SubscriptionDetails != nil {
			ev.Data.Metadata = billing.Metadata(inv.SubscriptionDetails.Metadata)
		}
		if string(event.Type) == "invoice.payment_succeeded" {
			ev.Type = billing.EventPaymentSucceeded
			ev.Data.Amount = inv.AmountPaid
		} else {
			ev.Type = billing.EventPaymentFailed
			ev.Data.Amount = inv.AmountDue
			ev.Data.FailureReason = fmt.Sprintf("payment attempt %d failed", inv.AttemptCount)
		}
	}

	return ev, nil
}
