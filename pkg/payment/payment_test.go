package payment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luguanhuang/nano-banana/pkg/billing"
	"github.com/luguanhuang/nano-banana/pkg/config"
)

func TestNew_SelectsProvider(t *testing.T) {
	tests := []struct {
		provider    string
		wantName    string
		wantDecoder interface{}
	}{
		{ProviderFake, ProviderFake, &billing.HMACDecoder{}},
		{ProviderCreem, ProviderCreem, &billing.HMACDecoder{}},
		{ProviderStripe, ProviderStripe, &StripeWebhookDecoder{}},
	}

	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			provider, decoder, err := New(config.PaymentConfig{
				Provider:            tt.provider,
				CreemAPIKey:         "key",
				WebhookSecret:       "secret",
				StripeSecretKey:     "sk_test",
				StripeWebhookSecret: "whsec",
			}, Options{SiteURL: "http://localhost:3000"})
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, provider.Name())
			assert.IsType(t, tt.wantDecoder, decoder)
		})
	}
}

func TestNew_UnknownProvider(t *testing.T) {
	_, _, err := New(config.PaymentConfig{Provider: "paypal"}, Options{})
	assert.Error(t, err)
}
