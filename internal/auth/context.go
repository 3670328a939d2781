package auth

import "context"

type contextKey string

const contextKeyUser contextKey = "user"

// WithUser attaches the authenticated user identifier (a stable email) to
// the request context.
func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, contextKeyUser, userID)
}

// UserFromContext extracts the authenticated user identifier.
func UserFromContext(ctx context.Context) (string, bool) {
	u, ok := ctx.Value(contextKeyUser).(string)
	return u, ok && u != ""
}
