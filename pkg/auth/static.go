package auth

import (
	"context"
	"crypto/subtle"
	"fmt"
	"strings"
)

// StaticVerifier maps fixed tokens to identities. Development only.
type StaticVerifier struct {
	tokens map[string]Identity
}

// NewStaticVerifier creates a verifier from a token map
func NewStaticVerifier(tokens map[string]Identity) *StaticVerifier {
	return &StaticVerifier{tokens: tokens}
}

// ParseStaticTokens parses "token=user_id:email,token2=user_id2" pairs
func ParseStaticTokens(raw string) (map[string]Identity, error) {
	tokens := make(map[string]Identity)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		token, subject, ok := strings.Cut(pair, "=")
		if !ok || token == "" || subject == "" {
			return nil, fmt.Errorf("invalid static token entry %q", pair)
		}
		userID, email, _ := strings.Cut(subject, ":")
		if userID == "" {
			return nil, fmt.Errorf("static token entry %q has no user id", pair)
		}
		tokens[token] = Identity{UserID: userID, Email: email}
	}
	return tokens, nil
}

func (v *StaticVerifier) Verify(ctx context.Context, token string) (*Identity, error) {
	for candidate, id := range v.tokens {
		if subtle.ConstantTimeCompare([]byte(candidate), []byte(token)) == 1 {
			out := id
			return &out, nil
		}
	}
	return nil, ErrInvalidToken
}
