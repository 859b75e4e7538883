package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/luguanhuang/nano-banana/pkg/billing"
	"github.com/luguanhuang/nano-banana/pkg/config"
	"github.com/luguanhuang/nano-banana/pkg/observability"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Task names used in logs and metrics
const (
	TaskDeadLetters = "dead_letters"
	TaskResync      = "resync"
)

// Item outcomes used in metrics
const (
	ItemResolved = "resolved"
	ItemRetry    = "retry"
	ItemSynced   = "synced"
	ItemFailed   = "failed"
)

// Store is the subset of the billing store the job works on
type Store interface {
	PendingDeadLetters(ctx context.Context, maxAttempts, limit int) ([]billing.DeadLetter, error)
	ResolveDeadLetter(ctx context.Context, id int64, at time.Time) error
	RetryDeadLetter(ctx context.Context, id int64, errMsg string) error
	StaleSubscriptions(ctx context.Context, endedBefore time.Time, limit int) ([]billing.Subscription, error)
}

// Applier applies a normalized event. *billing.Reconciler satisfies it.
type Applier interface {
	Apply(ctx context.Context, ev *billing.Event) billing.Result
}

// SubscriptionSource fetches provider-side subscription state
type SubscriptionSource interface {
	GetSubscription(ctx context.Context, id string) (*billing.ProviderSubscription, error)
}

// Stats summarizes one task run
type Stats struct {
	Processed int
	Succeeded int
	Failed    int
}

// Job runs the reconciliation tasks
type Job struct {
	store    Store
	applier  Applier
	provider SubscriptionSource
	cfg      config.ReconcileConfig
	logger   logrus.FieldLogger
	metrics  *observability.Metrics
	now      func() time.Time
}

// NewJob creates a reconciliation job. Zero config values fall back to the
// loader defaults.
func NewJob(store Store, applier Applier, provider SubscriptionSource, cfg config.ReconcileConfig, logger logrus.FieldLogger, metrics *observability.Metrics) *Job {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 10
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Job{
		store:    store,
		applier:  applier,
		provider: provider,
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Run executes both tasks in order. A failing task does not prevent the
// other from running; their errors are joined.
func (j *Job) Run(ctx context.Context) error {
	start := j.now()
	j.logger.Info("Starting reconciliation pass")

	var errs []error
	if _, err := j.ReplayDeadLetters(ctx); err != nil {
		errs = append(errs, err)
	}
	if _, err := j.ResyncSubscriptions(ctx); err != nil {
		errs = append(errs, err)
	}

	err := errors.Join(errs...)
	entry := j.logger.WithField("duration", j.now().Sub(start).String())
	if err != nil {
		entry.WithError(err).Error("Reconciliation pass finished with errors")
	} else {
		entry.Info("Reconciliation pass finished")
	}
	return err
}

// ReplayDeadLetters re-applies unresolved dead letters
func (j *Job) ReplayDeadLetters(ctx context.Context) (Stats, error) {
	letters, err := j.store.PendingDeadLetters(ctx, j.cfg.MaxAttempts, j.cfg.BatchSize)
	if err != nil {
		err = fmt.Errorf("failed to list dead letters: %w", err)
		j.metrics.ObserveReconcileRun(TaskDeadLetters, err)
		return Stats{}, err
	}
	if len(letters) == 0 {
		j.logger.Debug("No dead letters to replay")
		j.metrics.ObserveReconcileRun(TaskDeadLetters, nil)
		return Stats{}, nil
	}

	j.logger.Infof("Replaying %d dead letters", len(letters))

	stats, err := j.fanOut(ctx, len(letters), func(ctx context.Context, i int) bool {
		return j.replay(ctx, letters[i])
	})
	j.metrics.ObserveReconcileRun(TaskDeadLetters, err)
	j.logTask(TaskDeadLetters, stats)
	return stats, err
}

func (j *Job) replay(ctx context.Context, dl billing.DeadLetter) bool {
	entry := j.logger.WithFields(logrus.Fields{
		"dead_letter_id": dl.ID,
		"event_type":     dl.EventType,
		"attempts":       dl.Attempts,
	})

	var ev billing.Event
	var applyErr error
	if err := json.Unmarshal(dl.Payload, &ev); err != nil {
		applyErr = fmt.Errorf("failed to decode payload: %w", err)
	} else if res := j.applier.Apply(ctx, &ev); res.Outcome == billing.OutcomeFailed {
		applyErr = res.Err
		if applyErr == nil {
			applyErr = errors.New("handler failed")
		}
	}

	if applyErr != nil {
		entry.WithError(applyErr).Warn("Dead letter replay failed")
		if err := j.store.RetryDeadLetter(ctx, dl.ID, applyErr.Error()); err != nil {
			entry.WithError(err).Error("Failed to record dead letter attempt")
		}
		j.metrics.ObserveReconcileItem(TaskDeadLetters, ItemRetry)
		return false
	}

	if err := j.store.ResolveDeadLetter(ctx, dl.ID, j.now()); err != nil {
		entry.WithError(err).Error("Failed to resolve dead letter")
		j.metrics.ObserveReconcileItem(TaskDeadLetters, ItemFailed)
		return false
	}
	entry.Info("Dead letter resolved")
	j.metrics.ObserveReconcileItem(TaskDeadLetters, ItemResolved)
	return true
}

// ResyncSubscriptions refreshes active subscriptions whose period has ended
// from the provider
func (j *Job) ResyncSubscriptions(ctx context.Context) (Stats, error) {
	if j.provider == nil {
		j.logger.Debug("No payment provider, skipping resync")
		return Stats{}, nil
	}

	subs, err := j.store.StaleSubscriptions(ctx, j.now(), j.cfg.BatchSize)
	if err != nil {
		err = fmt.Errorf("failed to list stale subscriptions: %w", err)
		j.metrics.ObserveReconcileRun(TaskResync, err)
		return Stats{}, err
	}
	if len(subs) == 0 {
		j.logger.Debug("No stale subscriptions")
		j.metrics.ObserveReconcileRun(TaskResync, nil)
		return Stats{}, nil
	}

	j.logger.Infof("Resyncing %d stale subscriptions", len(subs))

	stats, err := j.fanOut(ctx, len(subs), func(ctx context.Context, i int) bool {
		return j.resync(ctx, subs[i])
	})
	j.metrics.ObserveReconcileRun(TaskResync, err)
	j.logTask(TaskResync, stats)
	return stats, err
}

func (j *Job) resync(ctx context.Context, sub billing.Subscription) bool {
	entry := j.logger.WithFields(logrus.Fields{
		"user_id":         sub.UserID,
		"subscription_id": sub.ExternalSubscriptionID,
	})

	remote, err := j.provider.GetSubscription(ctx, sub.ExternalSubscriptionID)
	if err != nil {
		entry.WithError(err).Warn("Failed to fetch subscription from provider")
		j.metrics.ObserveReconcileItem(TaskResync, ItemFailed)
		return false
	}

	res := j.applier.Apply(ctx, remote.AsEvent())
	if res.Outcome == billing.OutcomeFailed {
		entry.WithError(res.Err).Warn("Failed to apply provider state")
		j.metrics.ObserveReconcileItem(TaskResync, ItemFailed)
		return false
	}

	entry.WithFields(logrus.Fields{
		"status":  remote.Status,
		"outcome": string(res.Outcome),
	}).Info("Subscription resynced")
	j.metrics.ObserveReconcileItem(TaskResync, ItemSynced)
	return true
}

// fanOut runs fn for n items with bounded concurrency. Item failures are
// counted; only context cancellation is returned as an error.
func (j *Job) fanOut(ctx context.Context, n int, fn func(ctx context.Context, i int) bool) (Stats, error) {
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(j.cfg.Concurrency)

	var succeeded, failed atomic.Int64
	for i := 0; i < n; i++ {
		if gctx.Err() != nil {
			break
		}
		eg.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if fn(gctx, i) {
				succeeded.Add(1)
			} else {
				failed.Add(1)
			}
			return nil
		})
	}

	err := eg.Wait()
	if err == nil {
		err = ctx.Err()
	}
	s, f := int(succeeded.Load()), int(failed.Load())
	return Stats{Processed: s + f, Succeeded: s, Failed: f}, err
}

func (j *Job) logTask(task string, stats Stats) {
	j.logger.WithFields(logrus.Fields{
		"task":      task,
		"processed": stats.Processed,
		"succeeded": stats.Succeeded,
		"failed":    stats.Failed,
	}).Info("Reconciliation task finished")
}
