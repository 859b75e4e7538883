package api

import (
	"errors"
	"net/http"

	"github.com/luguanhuang/nano-banana/pkg/billing"
	"github.com/luguanhuang/nano-banana/pkg/httputil"
	"github.com/luguanhuang/nano-banana/pkg/observability"
)

// WebhookResponse acknowledges a delivery
type WebhookResponse struct {
	Received bool `json:"received"`
}

// handleWebhook verifies and applies one provider event. Only signature and
// parse failures are rejected; a failing handler is dead-lettered by the
// reconciler and the delivery is still acknowledged so the provider does
// not retry it.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	logger := observability.FromContext(r.Context())

	body, err := httputil.ReadBody(r, maxWebhookBodyBytes)
	if err != nil {
		s.opts.Metrics.ObserveWebhookRejected("unreadable")
		httputil.WriteBadRequest(w, "Unreadable body")
		return
	}

	ev, err := s.opts.Decoder.Decode(body, r.Header)
	if err != nil {
		reason := "malformed"
		if errors.Is(err, billing.ErrInvalidSignature) {
			reason = "invalid_signature"
		}
		s.opts.Metrics.ObserveWebhookRejected(reason)
		logger.WithError(err).WithField("reason", reason).Warn("webhook rejected")
		writeError(w, r, err, "Malformed payload")
		return
	}

	res := s.opts.Webhooks.Handle(r.Context(), ev)
	logger.WithFields(map[string]interface{}{
		"event_id":   ev.ID,
		"event_type": res.EventType,
		"outcome":    string(res.Outcome),
	}).Debug("webhook acknowledged")

	httputil.WriteSuccess(w, WebhookResponse{Received: true})
}
