package api

import (
	"net/http"

	"github.com/luguanhuang/nano-banana/pkg/auth"
	"github.com/luguanhuang/nano-banana/pkg/billing"
	"github.com/luguanhuang/nano-banana/pkg/httputil"
	"github.com/luguanhuang/nano-banana/pkg/plans"
)

// CheckoutRequest is the body of POST /api/checkout. Both snake and camel
// spellings are accepted.
type CheckoutRequest struct {
	PriceID      string `json:"price_id"`
	PlanID       string `json:"plan_id"`
	PriceIDCamel string `json:"priceId"`
	PlanIDCamel  string `json:"planId"`
}

func (r CheckoutRequest) price() string {
	if r.PriceID != "" {
		return r.PriceID
	}
	return r.PriceIDCamel
}

func (r CheckoutRequest) plan() string {
	if r.PlanID != "" {
		return r.PlanID
	}
	return r.PlanIDCamel
}

// CheckoutResponse carries the hosted checkout location
type CheckoutResponse struct {
	URL       string `json:"url"`
	SessionID string `json:"session_id"`
}

// PlansResponse lists the catalog
type PlansResponse struct {
	Plans     []plans.Plan `json:"plans"`
	FreeLimit int          `json:"free_limit"`
}

func (s *Server) createCheckout(w http.ResponseWriter, r *http.Request) {
	identity, _ := auth.FromContext(r.Context())

	var req CheckoutRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	session, err := s.opts.Billing.CreateCheckout(r.Context(), billing.CheckoutRequest{
		UserID:  identity.UserID,
		Email:   identity.Email,
		PriceID: req.price(),
		PlanID:  req.plan(),
	})
	if err != nil {
		writeError(w, r, err, "Failed to create checkout session")
		return
	}

	httputil.WriteSuccess(w, CheckoutResponse{URL: session.URL, SessionID: session.ID})
}

func (s *Server) getSubscriptionStatus(w http.ResponseWriter, r *http.Request) {
	identity, _ := auth.FromContext(r.Context())

	view, err := s.opts.Billing.GetStatus(r.Context(), identity.UserID)
	if err != nil {
		writeError(w, r, err, "Failed to fetch subscription")
		return
	}

	httputil.WriteSuccess(w, view)
}

func (s *Server) cancelSubscription(w http.ResponseWriter, r *http.Request) {
	identity, _ := auth.FromContext(r.Context())

	if err := s.opts.Billing.CancelSubscription(r.Context(), identity.UserID); err != nil {
		writeError(w, r, err, "Failed to cancel subscription")
		return
	}

	httputil.WriteSuccess(w, map[string]bool{"success": true})
}

// usageCheck runs behind the quota gate, which has already consumed a unit
func (s *Server) usageCheck(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, map[string]bool{"success": true})
}

func (s *Server) listPlans(w http.ResponseWriter, r *http.Request) {
	catalog := s.opts.Plans.Catalog()
	httputil.WriteSuccess(w, PlansResponse{
		Plans:     catalog.Plans(),
		FreeLimit: catalog.FreeLimit(),
	})
}
