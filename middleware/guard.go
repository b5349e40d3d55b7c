package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/MrEthical07/authflow/jwt"
)

// Verifier checks a bearer token for one scope.
type Verifier interface {
	ParseAccess(token string, scope jwt.Scope) (*jwt.AccessClaims, error)
}

type claimsContextKey struct{}

// ClaimsFromContext returns the claims a guard stored on the request.
func ClaimsFromContext(ctx context.Context) (*jwt.AccessClaims, bool) {
	c, ok := ctx.Value(claimsContextKey{}).(*jwt.AccessClaims)
	return c, ok
}

// Guard rejects requests without a valid bearer token of the given scope.
func Guard(v Verifier, scope jwt.Scope) func(http.Handler) http.Handler {
	return guard(v, scope, nil)
}

func guard(v Verifier, scope jwt.Scope, live func(context.Context, *jwt.AccessClaims) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if v == nil {
				unauthorized(w)
				return
			}
			token, ok := BearerToken(r.Header.Get("Authorization"))
			if !ok {
				unauthorized(w)
				return
			}
			claims, err := v.ParseAccess(token, scope)
			if err != nil {
				unauthorized(w)
				return
			}
			if live != nil && !live(r.Context(), claims) {
				unauthorized(w)
				return
			}
			ctx := context.WithValue(r.Context(), claimsContextKey{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
}

// BearerToken extracts the token of an Authorization header value.
func BearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}
	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}
	return token, true
}
