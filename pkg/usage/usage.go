package usage

import (
	"context"
	"time"

	"github.com/luguanhuang/nano-banana/pkg/storage"
)

// ErrStoreUnavailable is returned when the ledger or subscription store
// cannot be reached. The quota gate fails closed on it.
var ErrStoreUnavailable = storage.ErrUnavailable

// Entitlement is the allowance in effect for a user: the plan limit and the
// billing period it applies to
type Entitlement struct {
	PlanID      string
	Limit       int
	PeriodStart time.Time
	PeriodEnd   time.Time
}

// Usage is the counter for one user in one period
type Usage struct {
	Used        int       `json:"used"`
	Limit       int       `json:"limit"`
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`
}

// Remaining returns how many generations are left
func (u Usage) Remaining() int {
	if u.Used >= u.Limit {
		return 0
	}
	return u.Limit - u.Used
}

// Ledger counts consumed generations per user and period
type Ledger interface {
	// Consume atomically increments the counter when it is below the
	// entitlement limit. The bool reports whether a unit was consumed;
	// a refused increment leaves the counter unchanged.
	Consume(ctx context.Context, userID string, ent Entitlement) (Usage, bool, error)

	// Get reads the counter without creating it. A missing counter reads
	// as zero used.
	Get(ctx context.Context, userID string, ent Entitlement) (Usage, error)
}

// EntitlementResolver decides which allowance applies to a user right now
type EntitlementResolver interface {
	Entitlement(ctx context.Context, userID string) (Entitlement, error)
}

// CalendarMonth returns the UTC calendar month containing t as a half-open
// interval
func CalendarMonth(t time.Time) (time.Time, time.Time) {
	t = t.UTC()
	start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0)
}

// FreeEntitlement is the allowance for users without an active
// subscription
func FreeEntitlement(planID string, limit int, now time.Time) Entitlement {
	start, end := CalendarMonth(now)
	return Entitlement{PlanID: planID, Limit: limit, PeriodStart: start, PeriodEnd: end}
}
