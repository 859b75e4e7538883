package middleware

import (
	"errors"
	"net/http"

	"github.com/luguanhuang/nano-banana/pkg/auth"
	"github.com/luguanhuang/nano-banana/pkg/httputil"
	"github.com/luguanhuang/nano-banana/pkg/observability"
)

// AuthMiddleware resolves the caller identity from a bearer token
type AuthMiddleware struct {
	verifier auth.Verifier
	optional bool
}

// NewAuthMiddleware creates a new authentication middleware.
// When optional is true, requests without an Authorization header pass
// through anonymously; a header that fails verification is still rejected.
func NewAuthMiddleware(verifier auth.Verifier, optional bool) *AuthMiddleware {
	return &AuthMiddleware{
		verifier: verifier,
		optional: optional,
	}
}

// Authenticate is shorthand for a required-auth middleware
func Authenticate(verifier auth.Verifier) func(http.Handler) http.Handler {
	return NewAuthMiddleware(verifier, false).Handler
}

// Handler returns the HTTP middleware handler
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := auth.BearerToken(r.Header.Get("Authorization"))
		if err != nil {
			if m.optional && errors.Is(err, auth.ErrAuthRequired) {
				next.ServeHTTP(w, r)
				return
			}
			unauthorizedResponse(w, err)
			return
		}

		identity, err := m.verifier.Verify(r.Context(), token)
		if err != nil {
			observability.FromContext(r.Context()).WithError(err).Debug("bearer token rejected")
			unauthorizedResponse(w, err)
			return
		}

		ctx := auth.WithIdentity(r.Context(), identity)
		ctx = observability.WithLogger(ctx, observability.GetLogger(ctx).WithUserID(identity.UserID))

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// unauthorizedResponse never echoes verifier details back to the caller
func unauthorizedResponse(w http.ResponseWriter, err error) {
	message := "Authentication required"
	if errors.Is(err, auth.ErrInvalidToken) {
		message = "Invalid or expired token"
	}
	httputil.WriteUnauthorized(w, message)
}
