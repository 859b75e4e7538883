package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/luguanhuang/nano-banana/pkg/contextkeys"
)

var (
	// ErrAuthRequired is returned when a request carries no credentials
	ErrAuthRequired = errors.New("authentication required")

	// ErrInvalidToken is returned when a token fails verification
	ErrInvalidToken = errors.New("invalid or expired token")
)

// Identity is the verified caller
type Identity struct {
	UserID string `json:"user_id"`
	Email  string `json:"email,omitempty"`
	// ExpiresAt is when the credential stops being valid; zero if unknown
	ExpiresAt time.Time `json:"-"`
}

// Verifier turns a bearer token into an Identity
type Verifier interface {
	Verify(ctx context.Context, token string) (*Identity, error)
}

// BearerToken extracts the token from an Authorization header value
func BearerToken(header string) (string, error) {
	if header == "" {
		return "", ErrAuthRequired
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", ErrInvalidToken
	}
	return strings.TrimSpace(parts[1]), nil
}

// WithIdentity stores the identity and its user id in ctx
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	ctx = contextkeys.WithIdentity(ctx, id)
	return contextkeys.WithUserID(ctx, id.UserID)
}

// FromContext returns the identity set by the auth middleware
func FromContext(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(contextkeys.IdentityKey).(*Identity)
	return id, ok && id != nil
}
