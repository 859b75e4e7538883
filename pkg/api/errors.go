package api

import (
	"errors"
	"net/http"

	"github.com/luguanhuang/nano-banana/pkg/auth"
	"github.com/luguanhuang/nano-banana/pkg/billing"
	"github.com/luguanhuang/nano-banana/pkg/httputil"
	"github.com/luguanhuang/nano-banana/pkg/imagegen"
	"github.com/luguanhuang/nano-banana/pkg/middleware"
	"github.com/luguanhuang/nano-banana/pkg/observability"
	"github.com/luguanhuang/nano-banana/pkg/usage"
)

// writeError maps a service error to its HTTP status. Internal details are
// logged and never written to the response; fallback is the 500 message.
func writeError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	logger := observability.FromContext(r.Context()).WithError(err)

	var billingUpstream *billing.UpstreamError
	var modelUpstream *imagegen.UpstreamError

	switch {
	case errors.Is(err, auth.ErrAuthRequired), errors.Is(err, auth.ErrInvalidToken):
		httputil.WriteUnauthorized(w, "Authentication required")
	case errors.Is(err, billing.ErrValidation), errors.Is(err, imagegen.ErrInvalidInput):
		httputil.WriteBadRequest(w, err.Error())
	case errors.Is(err, imagegen.ErrRefused):
		reason, _ := imagegen.RefusalReason(err)
		httputil.WriteDetailedError(w, http.StatusBadRequest, "Generation refused", reason)
	case errors.Is(err, usage.ErrQuotaExceeded):
		httputil.WriteDetailedError(w, http.StatusTooManyRequests, middleware.QuotaExceededMessage,
			middleware.QuotaExceededDetail)
	case errors.Is(err, billing.ErrInvalidSignature):
		httputil.WriteBadRequest(w, "Invalid signature")
	case errors.Is(err, billing.ErrMalformedPayload):
		httputil.WriteBadRequest(w, "Malformed payload")
	case errors.Is(err, billing.ErrNoActiveSubscription):
		httputil.WriteNotFound(w, "No active subscription found")
	case errors.As(err, &billingUpstream):
		logger.Error("payment provider call failed")
		httputil.WriteInternalError(w, billingUpstream.SafeMessage())
	case errors.As(err, &modelUpstream):
		logger.Error("image model call failed")
		httputil.WriteInternalError(w, modelUpstream.SafeMessage())
	case errors.Is(err, imagegen.ErrNotConfigured):
		logger.Error("image generation requested without configuration")
		httputil.WriteServiceUnavailable(w, "Image generation is not available")
	default:
		// Includes billing.ErrStoreUnavailable: fail closed.
		logger.Error(fallback)
		httputil.WriteInternalError(w, fallback)
	}
}
