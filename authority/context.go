package authority

import "context"

type deferredSessionKey struct{}

// WithDeferredSession marks ctx so that a successful login does not write the
// session. The caller becomes responsible for committing it.
func WithDeferredSession(ctx context.Context) context.Context {
	return context.WithValue(ctx, deferredSessionKey{}, true)
}

func sessionDeferred(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	deferred, _ := ctx.Value(deferredSessionKey{}).(bool)
	return deferred
}
