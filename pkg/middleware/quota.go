package middleware

import (
	"context"
	"net/http"
	"strconv"

	"github.com/luguanhuang/nano-banana/pkg/auth"
	"github.com/luguanhuang/nano-banana/pkg/httputil"
	"github.com/luguanhuang/nano-banana/pkg/observability"
	"github.com/luguanhuang/nano-banana/pkg/usage"
)

// Body of a refused metered request
const (
	QuotaExceededMessage = "Usage limit exceeded"
	QuotaExceededDetail  = "You have reached your monthly generation limit. Please upgrade your plan to continue."
)

// Consumer consumes one metered unit for a user. *usage.Gate implements it.
type Consumer interface {
	Consume(ctx context.Context, userID string) (usage.Usage, bool, error)
}

// QuotaMiddleware enforces the generation quota before the metered handler runs.
//
// It must be placed after the auth middleware in the chain:
//
//	router.Use(authMiddleware.Handler)
//	router.Use(quotaMiddleware.Handler)
//
// The unit is consumed before the handler runs and is not refunded if the
// handler fails.
type QuotaMiddleware struct {
	gate Consumer
}

// NewQuotaMiddleware creates a new quota middleware
func NewQuotaMiddleware(gate Consumer) *QuotaMiddleware {
	return &QuotaMiddleware{gate: gate}
}

// QuotaGate is shorthand for NewQuotaMiddleware(gate).Handler
func QuotaGate(gate Consumer) func(http.Handler) http.Handler {
	return NewQuotaMiddleware(gate).Handler
}

// Handler returns the HTTP middleware handler
func (m *QuotaMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := auth.FromContext(r.Context())
		if !ok {
			httputil.WriteUnauthorized(w, "Authentication required")
			return
		}

		u, allowed, err := m.gate.Consume(r.Context(), identity.UserID)
		if err != nil {
			// Fail closed: an unreachable ledger never grants a generation.
			observability.FromContext(r.Context()).WithError(err).Error("quota check failed")
			httputil.WriteInternalError(w, "Failed to check usage limit")
			return
		}

		w.Header().Set("X-Usage-Limit", strconv.Itoa(u.Limit))
		w.Header().Set("X-Usage-Remaining", strconv.Itoa(u.Remaining()))

		if !allowed {
			httputil.WriteDetailedError(w, http.StatusTooManyRequests, QuotaExceededMessage, QuotaExceededDetail)
			return
		}

		next.ServeHTTP(w, r)
	})
}
