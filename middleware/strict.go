package middleware

import (
	"context"
	"net/http"

	"github.com/MrEthical07/authflow/jwt"
)

// RequireStrict is Guard plus a liveness check, typically a revocation
// lookup by token ID.
func RequireStrict(v Verifier, scope jwt.Scope, live func(ctx context.Context, claims *jwt.AccessClaims) bool) func(http.Handler) http.Handler {
	return guard(v, scope, live)
}
