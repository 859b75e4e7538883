package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/luguanhuang/nano-banana/pkg/billing"
)

const (
	defaultCreemURL  = "https://test-api.creem.io"
	maxErrorBodySize = 4096
)

// CreemProvider talks to the Creem REST API
type CreemProvider struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewCreemProvider creates a Creem client
func NewCreemProvider(baseURL, apiKey string, httpClient *http.Client) *CreemProvider {
	if baseURL == "" {
		baseURL = defaultCreemURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &CreemProvider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: httpClient,
	}
}

func (p *CreemProvider) Name() string { return ProviderCreem }

type creemLineItem struct {
	Price    string `json:"price"`
	Quantity int    `json:"quantity"`
}

type creemCheckoutRequest struct {
	SuccessURL    string            `json:"success_url"`
	CancelURL     string            `json:"cancel_url"`
	LineItems     []creemLineItem   `json:"line_items"`
	CustomerEmail string            `json:"customer_email,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

type creemCheckoutResponse struct {
	ID          string `json:"id"`
	URL         string `json:"url"`
	CheckoutURL string `json:"checkout_url"`
}

// CreateCheckoutSession creates a hosted checkout for one unit of the price
func (p *CreemProvider) CreateCheckoutSession(ctx context.Context, params billing.CheckoutParams) (*billing.CheckoutSession, error) {
	req := creemCheckoutRequest{
		SuccessURL:    params.SuccessURL,
		CancelURL:     params.CancelURL,
		LineItems:     []creemLineItem{{Price: params.PriceID, Quantity: 1}},
		CustomerEmail: params.CustomerEmail,
		Metadata:      params.Metadata,
	}

	var resp creemCheckoutResponse
	if err := p.do(ctx, "create checkout", http.MethodPost, "/checkout/sessions", req, &resp); err != nil {
		return nil, err
	}

	checkoutURL := resp.URL
	if checkoutURL == "" {
		checkoutURL = resp.CheckoutURL
	}
	if resp.ID == "" || checkoutURL == "" {
		return nil, &billing.UpstreamError{Provider: ProviderCreem, Operation: "create checkout", Err: errors.New("response has no session id or url")}
	}
	return &billing.CheckoutSession{ID: resp.ID, URL: checkoutURL}, nil
}

type creemSubscription struct {
	ID                     string           `json:"id"`
	Status                 string           `json:"status"`
	CustomerID             string           `json:"customer_id"`
	Customer               json.RawMessage  `json:"customer"`
	PriceID                string           `json:"price_id"`
	CurrentPeriodStart     int64            `json:"current_period_start"`
	CurrentPeriodEnd       int64            `json:"current_period_end"`
	CurrentPeriodStartDate *time.Time       `json:"current_period_start_date"`
	CurrentPeriodEndDate   *time.Time       `json:"current_period_end_date"`
	Metadata               billing.Metadata `json:"metadata"`
}

func (s creemSubscription) customerID() string {
	if s.CustomerID != "" {
		return s.CustomerID
	}
	if len(s.Customer) == 0 {
		return ""
	}
	var id string
	if err := json.Unmarshal(s.Customer, &id); err == nil {
		return id
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(s.Customer, &obj); err == nil {
		return obj.ID
	}
	return ""
}

func periodTime(sec int64, date *time.Time) time.Time {
	if date != nil {
		return date.UTC()
	}
	if sec > 0 {
		return time.Unix(sec, 0).UTC()
	}
	return time.Time{}
}

// GetSubscription fetches the provider's view of a subscription
func (p *CreemProvider) GetSubscription(ctx context.Context, id string) (*billing.ProviderSubscription, error) {
	var sub creemSubscription
	if err := p.do(ctx, "get subscription", http.MethodGet, "/subscriptions/"+url.PathEscape(id), nil, &sub); err != nil {
		return nil, err
	}
	return &billing.ProviderSubscription{
		ID:                 sub.ID,
		CustomerID:         sub.customerID(),
		Status:             normalizeStatus(sub.Status),
		PriceID:            sub.PriceID,
		CurrentPeriodStart: periodTime(sub.CurrentPeriodStart, sub.CurrentPeriodStartDate),
		CurrentPeriodEnd:   periodTime(sub.CurrentPeriodEnd, sub.CurrentPeriodEndDate),
		Metadata:           sub.Metadata,
	}, nil
}

// CancelSubscription cancels a subscription at Creem
func (p *CreemProvider) CancelSubscription(ctx context.Context, id string) error {
	return p.do(ctx, "cancel subscription", http.MethodPost, "/subscriptions/"+url.PathEscape(id)+"/cancel", struct{}{}, nil)
}

// Customer is a Creem customer record
type Customer struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// GetCustomer fetches a customer record
func (p *CreemProvider) GetCustomer(ctx context.Context, id string) (*Customer, error) {
	var c Customer
	if err := p.do(ctx, "get customer", http.MethodGet, "/customers/"+url.PathEscape(id), nil, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (p *CreemProvider) do(ctx context.Context, operation, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode %s request: %w", operation, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", operation, err)
	}
	req.Header.Set("x-api-key", p.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return &billing.UpstreamError{Provider: ProviderCreem, Operation: operation, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		return &billing.UpstreamError{
			Provider:   ProviderCreem,
			Operation:  operation,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected response: %s", strings.TrimSpace(string(msg))),
		}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &billing.UpstreamError{Provider: ProviderCreem, Operation: operation, StatusCode: resp.StatusCode, Err: fmt.Errorf("invalid response body: %w", err)}
	}
	return nil
}

// normalizeStatus maps provider spellings onto the stored statuses
func normalizeStatus(status string) string {
	switch strings.ToLower(status) {
	case "canceled", "cancelled":
		return billing.StatusCancelled
	case "incomplete_expired":
		return billing.StatusExpired
	default:
		return status
	}
}
