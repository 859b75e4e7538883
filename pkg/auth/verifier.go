package auth

import (
	"context"
	"fmt"

	"github.com/luguanhuang/nano-banana/pkg/config"
)

// NewVerifier builds the verifier selected by cfg.Mode, wrapped in a cache
// when cfg.CacheTTL is positive
func NewVerifier(ctx context.Context, cfg config.AuthConfig) (Verifier, error) {
	var v Verifier
	switch cfg.Mode {
	case "jwt":
		v = NewJWTVerifier(cfg.JWTSecret, "")
	case "oidc":
		ov, err := NewOIDCVerifier(ctx, cfg.OIDCIssuer, cfg.OIDCAudience)
		if err != nil {
			return nil, err
		}
		v = ov
	case "static":
		tokens, err := ParseStaticTokens(cfg.StaticTokens)
		if err != nil {
			return nil, err
		}
		v = NewStaticVerifier(tokens)
	default:
		return nil, fmt.Errorf("unknown auth mode: %s", cfg.Mode)
	}

	if cfg.CacheTTL > 0 {
		v = NewCachingVerifier(v, cfg.CacheSize, cfg.CacheTTL)
	}
	return v, nil
}
