package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/luguanhuang/nano-banana/pkg/observability"
	"github.com/luguanhuang/nano-banana/pkg/plans"
)

// Outcome is the result class of applying one event
type Outcome string

const (
	OutcomeApplied Outcome = "applied"
	OutcomeNoop    Outcome = "noop"
	OutcomeIgnored Outcome = "ignored"
	OutcomeFailed  Outcome = "failed"
)

// Result reports what a handler did with an event
type Result struct {
	EventType string
	Outcome   Outcome
	Err       error
}

// PlanCatalog resolves plans. Both *plans.Catalog and *plans.Registry
// satisfy it.
type PlanCatalog interface {
	Plan(id string) (plans.Plan, bool)
	PlanForPrice(priceID string) (plans.Plan, bool)
	Limit(id string) int
	FreeLimit() int
}

// Reconciler applies provider lifecycle events to the subscription store
type Reconciler struct {
	store   Store
	catalog PlanCatalog
	logger  *observability.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

// NewReconciler creates a reconciler
func NewReconciler(store Store, catalog PlanCatalog, logger *observability.Logger, metrics *observability.Metrics) *Reconciler {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Reconciler{
		store:   store,
		catalog: catalog,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
}

// Handle applies an event received over HTTP. A failed handler is logged,
// counted and dead-lettered; the caller still acknowledges the delivery.
func (r *Reconciler) Handle(ctx context.Context, ev *Event) Result {
	res := r.Apply(ctx, ev)
	r.metrics.ObserveWebhookEvent(res.EventType, string(res.Outcome))

	logger := r.logger.WithFields(map[string]interface{}{
		"event_id":   ev.ID,
		"event_type": res.EventType,
		"outcome":    string(res.Outcome),
	})

	if res.Outcome != OutcomeFailed {
		logger.Info("webhook event processed")
		return res
	}

	logger.WithError(res.Err).Error("webhook handler failed")
	r.metrics.ObserveDeadLetter(res.EventType)

	payload, err := json.Marshal(ev)
	if err != nil {
		logger.WithError(err).Error("failed to encode dead letter")
		return res
	}
	dl := DeadLetter{
		EventID:   ev.ID,
		EventType: res.EventType,
		Payload:   payload,
		Error:     res.Err.Error(),
	}
	if err := r.store.InsertDeadLetter(ctx, dl); err != nil {
		logger.WithError(err).Error("failed to write dead letter")
	}
	return res
}

// Apply dispatches an event to its handler without dead-lettering. The
// reconciliation job uses it to replay stored events.
func (r *Reconciler) Apply(ctx context.Context, ev *Event) Result {
	eventType := NormalizeEventType(ev.Type)

	var (
		outcome Outcome
		err     error
	)
	switch eventType {
	case EventCheckoutCompleted:
		outcome, err = r.handleCheckoutCompleted(ctx, ev.Data)
	case EventSubscriptionCreated:
		outcome, err = r.handleSubscriptionCreated(ctx, ev.Data)
	case EventSubscriptionUpdated:
		outcome, err = r.handleSubscriptionUpdated(ctx, ev.Data)
	case EventSubscriptionCancelled:
		outcome, err = r.handleSubscriptionCancelled(ctx, ev.Data)
	case EventPaymentSucceeded:
		outcome, err = r.handlePayment(ctx, ev.Data, PaymentSucceeded)
	case EventPaymentFailed:
		outcome, err = r.handlePayment(ctx, ev.Data, PaymentFailed)
	default:
		r.logger.WithField("event_type", eventType).Info("ignoring unhandled webhook event")
		outcome = OutcomeIgnored
	}

	if err != nil {
		return Result{EventType: eventType, Outcome: OutcomeFailed, Err: err}
	}
	return Result{EventType: eventType, Outcome: outcome}
}

func (r *Reconciler) handleCheckoutCompleted(ctx context.Context, data EventData) (Outcome, error) {
	userID := data.Metadata.UserID()
	if userID == "" {
		return OutcomeFailed, errors.New("checkout event has no user_id in metadata")
	}
	planID := r.resolvePlan(data)
	if planID == "" {
		return OutcomeFailed, fmt.Errorf("checkout event for user %s has no resolvable plan", userID)
	}

	err := r.store.UpsertSubscription(ctx, SubscriptionUpsert{
		UserID:                 userID,
		PlanID:                 planID,
		ExternalSubscriptionID: data.SubscriptionRef(EventCheckoutCompleted),
		ExternalCustomerID:     data.CustomerID,
		Status:                 StatusActive,
		CurrentPeriodStart:     data.PeriodStart(),
		CurrentPeriodEnd:       data.PeriodEnd(),
	})
	if err != nil {
		return OutcomeFailed, err
	}
	return OutcomeApplied, nil
}

func (r *Reconciler) handleSubscriptionCreated(ctx context.Context, data EventData) (Outcome, error) {
	userID := data.Metadata.UserID()
	if userID == "" {
		return OutcomeFailed, errors.New("subscription.created event has no user_id in metadata")
	}
	status := data.Status
	if status == "" {
		status = StatusActive
	}

	err := r.store.UpsertSubscription(ctx, SubscriptionUpsert{
		UserID:                 userID,
		PlanID:                 r.resolvePlan(data),
		ExternalSubscriptionID: data.SubscriptionRef(EventSubscriptionCreated),
		ExternalCustomerID:     data.CustomerID,
		Status:                 status,
		CurrentPeriodStart:     data.PeriodStart(),
		CurrentPeriodEnd:       data.PeriodEnd(),
	})
	if err != nil {
		return OutcomeFailed, err
	}
	return OutcomeApplied, nil
}

func (r *Reconciler) handleSubscriptionUpdated(ctx context.Context, data EventData) (Outcome, error) {
	externalID := data.SubscriptionRef(EventSubscriptionUpdated)
	if externalID == "" {
		return OutcomeFailed, errors.New("subscription.updated event has no subscription id")
	}
	if data.Status == "" {
		return OutcomeFailed, fmt.Errorf("subscription.updated event for %s has no status", externalID)
	}

	found, err := r.store.UpdateSubscription(ctx, externalID, SubscriptionUpdate{
		Status:             data.Status,
		PlanID:             r.resolvePlan(data),
		CurrentPeriodStart: data.PeriodStart(),
		CurrentPeriodEnd:   data.PeriodEnd(),
	})
	if err != nil {
		return OutcomeFailed, err
	}
	if !found {
		r.logger.WithField("subscription_id", externalID).Warn("subscription.updated for unknown or cancelled subscription")
		return OutcomeNoop, nil
	}
	return OutcomeApplied, nil
}

func (r *Reconciler) handleSubscriptionCancelled(ctx context.Context, data EventData) (Outcome, error) {
	externalID := data.SubscriptionRef(EventSubscriptionCancelled)
	if externalID == "" {
		return OutcomeFailed, errors.New("subscription.cancelled event has no subscription id")
	}

	found, err := r.store.CancelByExternalID(ctx, externalID, r.now())
	if err != nil {
		return OutcomeFailed, err
	}
	if !found {
		r.logger.WithField("subscription_id", externalID).Warn("subscription.cancelled for unknown or already cancelled subscription")
		return OutcomeNoop, nil
	}
	return OutcomeApplied, nil
}

func (r *Reconciler) handlePayment(ctx context.Context, data EventData, status string) (Outcome, error) {
	if data.ID == "" {
		return OutcomeFailed, fmt.Errorf("payment %s event has no payment id", status)
	}

	inserted, err := r.store.InsertPaymentLog(ctx, PaymentLog{
		ExternalPaymentID:      data.ID,
		UserID:                 data.Metadata.UserID(),
		ExternalSubscriptionID: data.SubscriptionID,
		Amount:                 data.Amount,
		Currency:               data.Currency,
		Status:                 status,
		FailureReason:          data.FailureReason,
	})
	if err != nil {
		return OutcomeFailed, err
	}
	if !inserted {
		return OutcomeNoop, nil
	}
	return OutcomeApplied, nil
}

// resolvePlan prefers the plan named in metadata, then the catalog entry
// for the event's price. Unknown plan ids are rejected.
func (r *Reconciler) resolvePlan(data EventData) string {
	if id := data.Metadata.PlanID(); id != "" {
		if _, ok := r.catalog.Plan(id); ok {
			return id
		}
		r.logger.WithField("plan_id", id).Warn("event names unknown plan")
	}
	if data.PriceID != "" {
		if p, ok := r.catalog.PlanForPrice(data.PriceID); ok {
			return p.ID
		}
	}
	return ""
}
