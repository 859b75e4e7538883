package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/luguanhuang/nano-banana/pkg/observability"
	"github.com/luguanhuang/nano-banana/pkg/plans"
	"github.com/luguanhuang/nano-banana/pkg/usage"
)

// CheckoutRequest is a caller's request to buy a plan
type CheckoutRequest struct {
	UserID  string
	Email   string
	PriceID string
	PlanID  string
}

// Service composes the subscription store, the payment provider and the
// usage ledger into the user-facing billing operations
type Service struct {
	store    Store
	provider Provider
	ledger   usage.Ledger
	catalog  PlanCatalog
	siteURL  string
	logger   *observability.Logger
	metrics  *observability.Metrics
	now      func() time.Time
}

// ServiceConfig holds the Service collaborators
type ServiceConfig struct {
	Store    Store
	Provider Provider
	Ledger   usage.Ledger
	Catalog  PlanCatalog
	SiteURL  string
	Logger   *observability.Logger
	Metrics  *observability.Metrics
}

// NewService creates a billing service
func NewService(cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Service{
		store:    cfg.Store,
		provider: cfg.Provider,
		ledger:   cfg.Ledger,
		catalog:  cfg.Catalog,
		siteURL:  strings.TrimRight(cfg.SiteURL, "/"),
		logger:   logger,
		metrics:  cfg.Metrics,
		now:      time.Now,
	}
}

// Entitlement implements usage.EntitlementResolver. An active subscription
// grants its plan limit over its billing period; everyone else gets the
// free limit over the current UTC calendar month.
func (s *Service) Entitlement(ctx context.Context, userID string) (usage.Entitlement, error) {
	sub, err := s.activeSubscription(ctx, userID)
	if err != nil {
		return usage.Entitlement{}, err
	}
	return s.entitlementFor(sub), nil
}

func (s *Service) activeSubscription(ctx context.Context, userID string) (*Subscription, error) {
	sub, err := s.store.ActiveSubscription(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return sub, err
}

func (s *Service) entitlementFor(sub *Subscription) usage.Entitlement {
	now := s.now()
	if !sub.IsActive() {
		return usage.FreeEntitlement(plans.Free, s.catalog.FreeLimit(), now)
	}

	ent := usage.FreeEntitlement(sub.PlanID, s.catalog.Limit(sub.PlanID), now)
	if sub.CurrentPeriodStart != nil && sub.CurrentPeriodEnd != nil && sub.CurrentPeriodEnd.After(*sub.CurrentPeriodStart) {
		ent.PeriodStart = sub.CurrentPeriodStart.UTC()
		ent.PeriodEnd = sub.CurrentPeriodEnd.UTC()
	}
	return ent
}

// GetStatus returns the caller's plan and usage. It never creates a usage
// row.
func (s *Service) GetStatus(ctx context.Context, userID string) (*StatusView, error) {
	sub, err := s.activeSubscription(ctx, userID)
	if err != nil {
		return nil, err
	}
	ent := s.entitlementFor(sub)

	u, err := s.ledger.Get(ctx, userID, ent)
	if err != nil {
		return nil, fmt.Errorf("failed to read usage: %w", err)
	}

	view := &StatusView{
		Plan:   plans.Free,
		Status: StatusInactive,
		Usage:  UsageView{Used: u.Used, Limit: u.Limit},
	}
	if sub.IsActive() {
		view.Plan = sub.PlanID
		view.Status = sub.Status
		view.IsActive = true
		view.CurrentPeriodEnd = sub.CurrentPeriodEnd
	}
	return view, nil
}

// CreateCheckout opens a provider checkout for a paid plan. The price must
// be one the catalog sells under that plan. Nothing is written locally;
// the subscription appears when the provider's webhook arrives.
func (s *Service) CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	if req.UserID == "" {
		return nil, validationError("user is required")
	}
	if req.PriceID == "" {
		return nil, validationError("price_id is required")
	}
	if req.PlanID == "" {
		return nil, validationError("plan_id is required")
	}

	plan, ok := s.catalog.Plan(req.PlanID)
	if !ok {
		return nil, validationError("unknown plan %q", req.PlanID)
	}
	if !plan.Paid() {
		return nil, validationError("plan %q cannot be purchased", req.PlanID)
	}
	if pricePlan, ok := s.catalog.PlanForPrice(req.PriceID); !ok || pricePlan.ID != plan.ID {
		return nil, validationError("price %q is not sold under plan %q", req.PriceID, req.PlanID)
	}

	start := time.Now()
	session, err := s.provider.CreateCheckoutSession(ctx, CheckoutParams{
		PriceID:       req.PriceID,
		PlanID:        req.PlanID,
		CustomerEmail: req.Email,
		SuccessURL:    s.siteURL + "/checkout/success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:     s.siteURL + "/checkout/cancel",
		Metadata:      NewCheckoutMetadata(req.UserID, req.PlanID, req.Email),
	})
	s.metrics.ObserveUpstream(s.provider.Name(), "create_checkout", start, err)
	if err != nil {
		return nil, NewUpstreamError(s.provider.Name(), "create checkout", 0, err)
	}

	s.logger.WithFields(map[string]interface{}{
		"user_id":    req.UserID,
		"plan_id":    req.PlanID,
		"session_id": session.ID,
	}).Info("checkout session created")
	return session, nil
}

// CancelSubscription cancels the caller's active subscription at the
// provider, then marks the local record cancelled
func (s *Service) CancelSubscription(ctx context.Context, userID string) error {
	sub, err := s.activeSubscription(ctx, userID)
	if err != nil {
		return err
	}
	if sub == nil {
		return ErrNoActiveSubscription
	}

	if sub.ExternalSubscriptionID != "" {
		start := time.Now()
		err := s.provider.CancelSubscription(ctx, sub.ExternalSubscriptionID)
		s.metrics.ObserveUpstream(s.provider.Name(), "cancel_subscription", start, err)
		if err != nil {
			return NewUpstreamError(s.provider.Name(), "cancel subscription", 0, err)
		}
	}

	if err := s.store.MarkCancelled(ctx, sub.ID, s.now()); err != nil {
		return err
	}

	s.logger.WithFields(map[string]interface{}{
		"user_id":         userID,
		"subscription_id": sub.ExternalSubscriptionID,
	}).Info("subscription cancelled")
	return nil
}
