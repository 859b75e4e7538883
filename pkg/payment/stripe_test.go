package payment

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v81/webhook"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luguanhuang/nano-banana/pkg/billing"
)

const stripeTestSecret = "whsec_stripe_test"

func newStripeTestProvider(t *testing.T, handler http.HandlerFunc) *StripeProvider {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewStripeProvider("sk_test_123", StripeOptions{HTTPClient: server.Client(), APIURL: server.URL})
}

func TestStripeProvider_CreateCheckoutSession(t *testing.T) {
	p := newStripeTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/checkout/sessions", r.URL.Path)
		assert.Equal(t, "Bearer sk_test_123", r.Header.Get("Authorization"))

		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "subscription", r.PostForm.Get("mode"))
		assert.Equal(t, "price_max_monthly", r.PostForm.Get("line_items[0][price]"))
		assert.Equal(t, "1", r.PostForm.Get("line_items[0][quantity]"))
		assert.Equal(t, "u1", r.PostForm.Get("metadata[user_id]"))
		assert.Equal(t, "max", r.PostForm.Get("metadata[planId]"))
		assert.Equal(t, "u1", r.PostForm.Get("subscription_data[metadata][user_id]"))
		assert.Equal(t, "u1", r.PostForm.Get("client_reference_id"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"cs_test_1","object":"checkout.session","url":"https://checkout.stripe.com/c/pay/cs_test_1"}`))
	})

	session, err := p.CreateCheckoutSession(context.Background(), billing.CheckoutParams{
		PriceID:    "price_max_monthly",
		PlanID:     "max",
		SuccessURL: "https://app.example.com/checkout/success",
		CancelURL:  "https://app.example.com/checkout/cancel",
		Metadata:   billing.NewCheckoutMetadata("u1", "max", "u1@example.com"),
	})
	require.NoError(t, err)
	assert.Equal(t, "cs_test_1", session.ID)
	assert.Equal(t, "https://checkout.stripe.com/c/pay/cs_test_1", session.URL)
}

func TestStripeProvider_ErrorCarriesStatus(t *testing.T) {
	p := newStripeTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"type":"invalid_request_error","message":"No such price: 'price_x'"}}`))
	})

	_, err := p.CreateCheckoutSession(context.Background(), billing.CheckoutParams{PriceID: "price_x"})
	var upstream *billing.UpstreamError
	require.ErrorAs(t, err, &upstream)
	assert.Equal(t, ProviderStripe, upstream.Provider)
	assert.Equal(t, http.StatusBadRequest, upstream.StatusCode)
}

func TestStripeProvider_GetAndCancelSubscription(t *testing.T) {
	subJSON := `{
		"id": "sub_1",
		"object": "subscription",
		"status": "active",
		"customer": "cus_1",
		"current_period_start": 1700000000,
		"current_period_end": 1702592000,
		"metadata": {"user_id": "u1"},
		"items": {"object": "list", "data": [{"id": "si_1", "object": "subscription_item", "price": {"id": "price_pro_monthly", "object": "price"}}]}
	}`

	var deleted bool
	p := newStripeTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/subscriptions/sub_1", r.URL.Path)
		if r.Method == http.MethodDelete {
			deleted = true
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(subJSON))
	})

	sub, err := p.GetSubscription(context.Background(), "sub_1")
	require.NoError(t, err)
	assert.Equal(t, "cus_1", sub.CustomerID)
	assert.Equal(t, "price_pro_monthly", sub.PriceID)
	assert.Equal(t, time.Unix(1702592000, 0).UTC(), sub.CurrentPeriodEnd)
	assert.Equal(t, "u1", sub.Metadata.UserID())

	require.NoError(t, p.CancelSubscription(context.Background(), "sub_1"))
	assert.True(t, deleted)
}

func signStripe(t *testing.T, body string) http.Header {
	t.Helper()
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(body),
		Secret:    stripeTestSecret,
		Timestamp: time.Now(),
	})
	h := http.Header{}
	h.Set(StripeSignatureHeader, signed.Header)
	return h
}

func TestStripeWebhookDecoder_TranslatesEvents(t *testing.T) {
	decoder := NewStripeWebhookDecoder(stripeTestSecret)

	tests := []struct {
		name  string
		body  string
		check func(t *testing.T, ev *billing.Event)
	}{
		{
			name: "checkout completed",
			body: `{"id":"evt_1","object":"event","type":"checkout.session.completed","data":{"object":{"id":"cs_1","object":"checkout.session","customer":"cus_1","subscription":"sub_1","client_reference_id":"u1","metadata":{"plan_id":"pro"}}}}`,
			check: func(t *testing.T, ev *billing.Event) {
				assert.Equal(t, billing.EventCheckoutCompleted, ev.Type)
				assert.Equal(t, "evt_1", ev.ID)
				assert.Equal(t, "cus_1", ev.Data.CustomerID)
				assert.Equal(t, "sub_1", ev.Data.SubscriptionID)
				assert.Equal(t, "u1", ev.Data.Metadata.UserID())
				assert.Equal(t, "pro", ev.Data.Metadata.PlanID())
			},
		},
		{
			name: "subscription deleted",
			body: `{"id":"evt_2","object":"event","type":"customer.subscription.deleted","data":{"object":{"id":"sub_1","object":"subscription","status":"canceled","current_period_end":1702592000}}}`,
			check: func(t *testing.T, ev *billing.Event) {
				assert.Equal(t, billing.EventSubscriptionCancelled, ev.Type)
				assert.Equal(t, "sub_1", ev.Data.ID)
				assert.Equal(t, billing.StatusCancelled, ev.Data.Status)
				assert.Equal(t, int64(1702592000), ev.Data.CurrentPeriodEnd)
			},
		},
		{
			name: "invoice failed",
			body: `{"id":"evt_3","object":"event","type":"invoice.payment_failed","data":{"object":{"id":"in_1","object":"invoice","amount_due":1950,"currency":"usd","attempt_count":2,"subscription":"sub_1"}}}`,
			check: func(t *testing.T, ev *billing.Event) {
				assert.Equal(t, billing.EventPaymentFailed, ev.Type)
				assert.Equal(t, "in_1", ev.Data.ID)
				assert.Equal(t, int64(1950), ev.Data.Amount)
				assert.Equal(t, "usd", ev.Data.Currency)
				assert.Equal(t, "sub_1", ev.Data.SubscriptionID)
				assert.Equal(t, "payment attempt 2 failed", ev.Data.FailureReason)
			},
		},
		{
			name: "unhandled type passes through",
			body: `{"id":"evt_4","object":"event","type":"customer.created","data":{"object":{"id":"cus_1","object":"customer"}}}`,
			check: func(t *testing.T, ev *billing.Event) {
				assert.Equal(t, "customer.created", ev.Type)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := decoder.Decode([]byte(tt.body), signStripe(t, tt.body))
			require.NoError(t, err)
			tt.check(t, ev)
		})
	}
}

func TestStripeWebhookDecoder_RejectsBadSignature(t *testing.T) {
	body := `{"id":"evt_1","object":"event","type":"customer.created","data":{"object":{}}}`
	decoder := NewStripeWebhookDecoder(stripeTestSecret)

	_, err := decoder.Decode([]byte(body), http.Header{})
	assert.True(t, errors.Is(err, billing.ErrInvalidSignature))

	header := signStripe(t, body)
	_, err = decoder.Decode([]byte(body+" "), header)
	assert.True(t, errors.Is(err, billing.ErrInvalidSignature))

	_, err = NewStripeWebhookDecoder("").Decode([]byte(body), header)
	assert.True(t, errors.Is(err, billing.ErrInvalidSignature))
}

func TestStripeWebhookDecoder_MalformedBody(t *testing.T) {
	body := `{"id":`
	_, err := NewStripeWebhookDecoder(stripeTestSecret).Decode([]byte(body), signStripe(t, body))
	assert.True(t, errors.Is(err, billing.ErrMalformedPayload))
}
