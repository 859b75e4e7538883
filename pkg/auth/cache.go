package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// CachingVerifier remembers successful verifications for a TTL. Entries
// are keyed by token hash and never outlive the token itself.
type CachingVerifier struct {
	next  Verifier
	cache *expirable.LRU[string, Identity]
	now   func() time.Time
}

// NewCachingVerifier wraps next with an LRU of the given size and TTL
func NewCachingVerifier(next Verifier, size int, ttl time.Duration) *CachingVerifier {
	if size <= 0 {
		size = 10000
	}
	return &CachingVerifier{
		next:  next,
		cache: expirable.NewLRU[string, Identity](size, nil, ttl),
		now:   time.Now,
	}
}

func (v *CachingVerifier) Verify(ctx context.Context, token string) (*Identity, error) {
	key := tokenKey(token)
	if id, ok := v.cache.Get(key); ok {
		if id.ExpiresAt.IsZero() || v.now().Before(id.ExpiresAt) {
			return &id, nil
		}
		v.cache.Remove(key)
	}

	id, err := v.next.Verify(ctx, token)
	if err != nil {
		return nil, err
	}
	v.cache.Add(key, *id)
	return id, nil
}

// Len returns the number of cached identities
func (v *CachingVerifier) Len() int {
	return v.cache.Len()
}

func tokenKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
