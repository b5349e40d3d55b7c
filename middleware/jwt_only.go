package middleware

import (
	"net/http"

	"github.com/MrEthical07/authflow/jwt"
)

// RequireJWTOnly accepts any correctly signed, unexpired session token
// without consulting revocation state.
func RequireJWTOnly(v Verifier) func(http.Handler) http.Handler {
	return Guard(v, jwt.ScopeAccess)
}
