// Package httpmw holds the request middleware chain: response cache lookup,
// session authentication, and API key verification.
package httpmw

import (
	"context"

	"github.com/quillcms/quillgate/internal/access"
	"github.com/quillcms/quillgate/internal/session"
)

type contextKey int

const (
	userKey contextKey = iota
	sessionKey
	apiKeyKey
)

// WithUser attaches an authenticated user and session to the context.
func WithUser(ctx context.Context, user session.User, sess session.Session) context.Context {
	ctx = context.WithValue(ctx, userKey, user)
	return context.WithValue(ctx, sessionKey, sess)
}

// WithAPIKey marks the context as authenticated by a valid API key.
func WithAPIKey(ctx context.Context) context.Context {
	return context.WithValue(ctx, apiKeyKey, true)
}

// UserFromContext returns the authenticated user, if any.
func UserFromContext(ctx context.Context) (session.User, bool) {
	u, ok := ctx.Value(userKey).(session.User)
	return u, ok
}

// SessionFromContext returns the validated session, if any.
func SessionFromContext(ctx context.Context) (session.Session, bool) {
	s, ok := ctx.Value(sessionKey).(session.Session)
	return s, ok
}

// APIKeyFromContext reports whether the request carried a valid API key.
func APIKeyFromContext(ctx context.Context) bool {
	ok, _ := ctx.Value(apiKeyKey).(bool)
	return ok
}

// CallerFromContext assembles the access caller for policy evaluation.
func CallerFromContext(ctx context.Context) access.Caller {
	var caller access.Caller
	if u, ok := UserFromContext(ctx); ok {
		caller.User = &u
	}
	caller.APIKey = APIKeyFromContext(ctx)
	return caller
}
