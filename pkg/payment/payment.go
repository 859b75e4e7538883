package payment

import (
	"fmt"
	"net/http"
	"time"

	"github.com/luguanhuang/nano-banana/pkg/billing"
	"github.com/luguanhuang/nano-banana/pkg/config"
	"github.com/luguanhuang/nano-banana/pkg/observability"
)

// Provider names accepted in PAYMENT_PROVIDER
const (
	ProviderFake   = "fake"
	ProviderCreem  = "creem"
	ProviderStripe = "stripe"
)

const defaultTimeout = 30 * time.Second

// Options carries process-level settings the providers need
type Options struct {
	SiteURL    string
	HTTPClient *http.Client
}

// New builds the configured provider and its webhook decoder
func New(cfg config.PaymentConfig, opts Options) (billing.Provider, billing.WebhookDecoder, error) {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{
			Timeout:   timeout,
			Transport: observability.InstrumentTransport(nil),
		}
	}

	switch cfg.Provider {
	case ProviderFake, "":
		return NewFakeProvider(opts.SiteURL), billing.NewHMACDecoder(cfg.WebhookSecret), nil
	case ProviderCreem:
		return NewCreemProvider(cfg.CreemAPIURL, cfg.CreemAPIKey, httpClient), billing.NewHMACDecoder(cfg.WebhookSecret), nil
	case ProviderStripe:
		return NewStripeProvider(cfg.StripeSecretKey, StripeOptions{HTTPClient: httpClient}), NewStripeWebhookDecoder(cfg.StripeWebhookSecret), nil
	default:
		return nil, nil, fmt.Errorf("unknown payment provider: %s", cfg.Provider)
	}
}
