package payment

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/luguanhuang/nano-banana/pkg/billing"
)

// FakeProvider is an in-memory provider for development and tests
type FakeProvider struct {
	siteURL string

	mu            sync.Mutex
	sessions      map[string]billing.CheckoutParams
	subscriptions map[string]*billing.ProviderSubscription
	now           func() time.Time
}

// NewFakeProvider creates a fake provider whose checkout URLs point at the
// mock checkout page under siteURL
func NewFakeProvider(siteURL string) *FakeProvider {
	if siteURL == "" {
		siteURL = "http://localhost:3000"
	}
	return &FakeProvider{
		siteURL:       strings.TrimRight(siteURL, "/"),
		sessions:      make(map[string]billing.CheckoutParams),
		subscriptions: make(map[string]*billing.ProviderSubscription),
		now:           time.Now,
	}
}

func (p *FakeProvider) Name() string { return ProviderFake }

// CreateCheckoutSession records the session and returns the mock checkout
// page URL
func (p *FakeProvider) CreateCheckoutSession(ctx context.Context, params billing.CheckoutParams) (*billing.CheckoutSession, error) {
	id := fmt.Sprintf("mock_session_%d_%s", p.now().Unix(), uuid.NewString()[:8])

	q := url.Values{}
	q.Set("plan", params.PlanID)
	q.Set("session_id", id)

	p.mu.Lock()
	p.sessions[id] = params
	p.mu.Unlock()

	return &billing.CheckoutSession{
		ID:  id,
		URL: p.siteURL + "/checkout?" + q.Encode(),
	}, nil
}

// Session returns the parameters a mock session was created with
func (p *FakeProvider) Session(id string) (billing.CheckoutParams, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	params, ok := p.sessions[id]
	return params, ok
}

// PutSubscription stores provider-side subscription state
func (p *FakeProvider) PutSubscription(sub billing.ProviderSubscription) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subscriptions[sub.ID] = &sub
}

func (p *FakeProvider) GetSubscription(ctx context.Context, id string) (*billing.ProviderSubscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	sub, ok := p.subscriptions[id]
	if !ok {
		return nil, fmt.Errorf("subscription %s not found", id)
	}
	cp := *sub
	return &cp, nil
}

// CancelSubscription always succeeds
func (p *FakeProvider) CancelSubscription(ctx context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if sub, ok := p.subscriptions[id]; ok {
		sub.Status = billing.StatusCancelled
	}
	return nil
}
