package api

import (
	"net/http"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luguanhuang/nano-banana/pkg/billing"
)

const checkoutEvent = `{"id":"evt_1","type":"checkout.session.completed","data":{"id":"cs_1","customer_id":"cus_1","subscription_id":"sub_1","current_period_start":1700000000,"current_period_end":1702592000,"metadata":{"user_id":"u1","planId":"pro"}}}`

func TestWebhook_AppliesSignedEventOnce(t *testing.T) {
	env := newTestEnv(t, nil)
	body := []byte(checkoutEvent)

	for i := 0; i < 2; i++ {
		rec := env.webhook("/api/webhooks/payments", body, billing.SignatureHeader, billing.Sign(body, testSecret))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.JSONEq(t, `{"received":true}`, rec.Body.String())
	}

	assert.Equal(t, 1, env.count(t, "SELECT COUNT(*) FROM user_subscriptions WHERE user_id = 'u1'"))
	assert.Equal(t, float64(2), testutil.ToFloat64(env.metrics.WebhookEventsTotal.WithLabelValues(billing.EventCheckoutCompleted, "applied")))

	status := env.do(http.MethodGet, "/api/subscription/status", "tok-u1", nil)
	require.Equal(t, http.StatusOK, status.Code)
	assert.JSONEq(t, `{"plan":"pro","status":"active","isActive":true,"currentPeriodEnd":"2023-12-14T22:13:20Z","usage":{"used":0,"limit":400}}`, status.Body.String())
}

func TestWebhook_LegacyRouteAndHeader(t *testing.T) {
	env := newTestEnv(t, nil)
	body := []byte(checkoutEvent)

	rec := env.webhook("/api/webhooks/creem", body, billing.LegacySignatureHeader, billing.Sign(body, testSecret))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, env.count(t, "SELECT COUNT(*) FROM user_subscriptions"))
}

func TestWebhook_Rejections(t *testing.T) {
	body := []byte(checkoutEvent)
	mutated := append([]byte(nil), body...)
	mutated[10] ^= 0x01
	sig := billing.Sign(body, testSecret)
	badSig := []byte(sig)
	badSig[0] ^= 0x01

	tests := []struct {
		name      string
		body      []byte
		header    string
		signature string
		wantError string
		reason    string
	}{
		{name: "missing signature", body: body, wantError: "Invalid signature", reason: "invalid_signature"},
		{name: "wrong secret", body: body, header: billing.SignatureHeader, signature: billing.Sign(body, "other"), wantError: "Invalid signature", reason: "invalid_signature"},
		{name: "mutated body", body: mutated, header: billing.SignatureHeader, signature: sig, wantError: "Invalid signature", reason: "invalid_signature"},
		{name: "mutated signature", body: body, header: billing.SignatureHeader, signature: string(badSig), wantError: "Invalid signature", reason: "invalid_signature"},
		{name: "malformed json", body: []byte(`{"type":`), header: billing.SignatureHeader, signature: billing.Sign([]byte(`{"type":`), testSecret), wantError: "Malformed payload", reason: "malformed"},
		{name: "missing type", body: []byte(`{"data":{}}`), header: billing.SignatureHeader, signature: billing.Sign([]byte(`{"data":{}}`), testSecret), wantError: "Malformed payload", reason: "malformed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil)

			rec := env.webhook("/api/webhooks/payments", tt.body, tt.header, tt.signature)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.wantError, decodeBody(t, rec)["error"])
			assert.Equal(t, float64(1), testutil.ToFloat64(env.metrics.WebhookRejectedTotal.WithLabelValues(tt.reason)))
			assert.Equal(t, 0, env.count(t, "SELECT COUNT(*) FROM user_subscriptions"))
		})
	}
}

func TestWebhook_HandlerFailureIsAcknowledged(t *testing.T) {
	env := newTestEnv(t, nil)
	body := []byte(`{"id":"evt_2","type":"checkout.session.completed","data":{"subscription_id":"sub_2","metadata":{"plan_id":"pro"}}}`)

	rec := env.webhook("/api/webhooks/payments", body, billing.SignatureHeader, billing.Sign(body, testSecret))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"received":true}`, rec.Body.String())
	assert.Equal(t, 1, env.count(t, "SELECT COUNT(*) FROM webhook_dead_letters WHERE event_id = 'evt_2'"))
	assert.Equal(t, float64(1), testutil.ToFloat64(env.metrics.DeadLettersTotal.WithLabelValues(billing.EventCheckoutCompleted)))
}

func TestWebhook_UnknownTypeIgnored(t *testing.T) {
	env := newTestEnv(t, nil)
	body := []byte(`{"type":"customer.created","data":{}}`)

	rec := env.webhook("/api/webhooks/payments", body, billing.SignatureHeader, billing.Sign(body, testSecret))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), testutil.ToFloat64(env.metrics.WebhookEventsTotal.WithLabelValues("customer.created", "ignored")))
}

func TestWebhook_UpdateForUnknownSubscription(t *testing.T) {
	env := newTestEnv(t, nil)
	body := []byte(`{"type":"subscription.updated","data":{"id":"sub_missing","status":"active","current_period_start":1700000000,"current_period_end":1702592000}}`)

	rec := env.webhook("/api/webhooks/payments", body, billing.SignatureHeader, billing.Sign(body, testSecret))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, env.count(t, "SELECT COUNT(*) FROM user_subscriptions"))
	assert.Equal(t, float64(1), testutil.ToFloat64(env.metrics.WebhookEventsTotal.WithLabelValues(billing.EventSubscriptionUpdated, "noop")))
}
