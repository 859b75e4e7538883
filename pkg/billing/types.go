package billing

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Subscription statuses written by this service. Providers may report
// others (incomplete, unpaid, ...); those are stored verbatim.
const (
	StatusActive    = "active"
	StatusCancelled = "cancelled"
	StatusPastDue   = "past_due"
	StatusTrialing  = "trialing"
	StatusPaused    = "paused"
	StatusExpired   = "expired"

	// StatusInactive is reported by the status view for users without an
	// active subscription. It is never stored.
	StatusInactive = "inactive"
)

// Subscription is a user's subscription record
type Subscription struct {
	ID                     int64      `json:"id"`
	UserID                 string     `json:"user_id"`
	PlanID                 string     `json:"plan_id"`
	ExternalSubscriptionID string     `json:"external_subscription_id,omitempty"`
	ExternalCustomerID     string     `json:"external_customer_id,omitempty"`
	Status                 string     `json:"status"`
	CurrentPeriodStart     *time.Time `json:"current_period_start,omitempty"`
	CurrentPeriodEnd       *time.Time `json:"current_period_end,omitempty"`
	CancelledAt            *time.Time `json:"cancelled_at,omitempty"`
	CreatedAt              time.Time  `json:"created_at"`
	UpdatedAt              time.Time  `json:"updated_at"`
}

// IsActive reports whether the subscription grants its plan
func (s *Subscription) IsActive() bool {
	return s != nil && s.Status == StatusActive
}

// SubscriptionUpsert creates or replaces the record owned by UserID
type SubscriptionUpsert struct {
	UserID                 string
	PlanID                 string // empty keeps the stored plan
	ExternalSubscriptionID string
	ExternalCustomerID     string
	Status                 string
	CurrentPeriodStart     *time.Time
	CurrentPeriodEnd       *time.Time
}

// SubscriptionUpdate changes the record with a given external id. Nil
// periods and an empty plan leave the stored values.
type SubscriptionUpdate struct {
	Status             string
	PlanID             string
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
}

// Payment log statuses
const (
	PaymentSucceeded = "succeeded"
	PaymentFailed    = "failed"
)

// PaymentLog is a write-once record of a provider payment event
type PaymentLog struct {
	ExternalPaymentID      string    `json:"external_payment_id"`
	UserID                 string    `json:"user_id,omitempty"`
	ExternalSubscriptionID string    `json:"external_subscription_id,omitempty"`
	Amount                 int64     `json:"amount"`
	Currency               string    `json:"currency"`
	Status                 string    `json:"status"`
	FailureReason          string    `json:"failure_reason,omitempty"`
	CreatedAt              time.Time `json:"created_at"`
}

// DeadLetter is a webhook event whose handler failed after the delivery
// was acknowledged
type DeadLetter struct {
	ID         int64
	EventID    string
	EventType  string
	Payload    []byte
	Error      string
	Attempts   int
	CreatedAt  time.Time
	ResolvedAt *time.Time
}

// UsageView is the usage part of the status view
type UsageView struct {
	Used  int `json:"used"`
	Limit int `json:"limit"`
}

// StatusView is what the subscription status endpoint returns
type StatusView struct {
	Plan             string     `json:"plan"`
	Status           string     `json:"status"`
	IsActive         bool       `json:"isActive"`
	CurrentPeriodEnd *time.Time `json:"currentPeriodEnd"`
	Usage            UsageView  `json:"usage"`
}

// Metadata is the key/value bag a checkout carries through the provider
// and back in webhook events. Non-string JSON scalars are kept in their
// textual form.
type Metadata map[string]string

// UserID returns user_id, or the userId alias
func (m Metadata) UserID() string {
	return m.first("user_id", "userId")
}

// PlanID returns plan_id, or the planId alias
func (m Metadata) PlanID() string {
	return m.first("plan_id", "planId")
}

// UserEmail returns user_email, or the userEmail alias
func (m Metadata) UserEmail() string {
	return m.first("user_email", "userEmail")
}

func (m Metadata) first(keys ...string) string {
	for _, k := range keys {
		if v := m[k]; v != "" {
			return v
		}
	}
	return ""
}

// UnmarshalJSON accepts string, number and boolean values. Null values are
// dropped.
func (m *Metadata) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(Metadata, len(raw))
	for k, v := range raw {
		if bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
			continue
		}
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			out[k] = s
			continue
		}
		var scalar interface{}
		if err := json.Unmarshal(v, &scalar); err != nil {
			return err
		}
		switch scalar.(type) {
		case float64, bool:
			out[k] = string(v)
		default:
			return fmt.Errorf("metadata value for %q must be a scalar", k)
		}
	}
	*m = out
	return nil
}

// NewCheckoutMetadata builds checkout metadata with both key spellings so
// either form reads back from webhook events
func NewCheckoutMetadata(userID, planID, email string) Metadata {
	return Metadata{
		"user_id":    userID,
		"plan_id":    planID,
		"user_email": email,
		"userId":     userID,
		"planId":     planID,
		"userEmail":  email,
	}
}
