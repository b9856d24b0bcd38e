package httpmw

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/quillcms/quillgate/internal/config"
	"github.com/quillcms/quillgate/internal/session"
)

func authConfig() config.AuthConfig {
	return config.AuthConfig{
		CookieName:  "session",
		AdminPrefix: "/admin",
		LoginPath:   "/admin/login",
		HomePath:    "/admin",
	}
}

func seededSessionStore(t *testing.T) session.Store {
	t.Helper()
	store := session.NewMemory()
	sess := session.Session{ID: "valid-token", UserID: "u-1", ExpiresAt: time.Now().Add(time.Hour)}
	require.NoError(t, store.Put(context.Background(), sess, session.User{ID: "u-1", Role: "editor"}))
	return store
}

func identityEcho(t *testing.T, sawUser *bool) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, ok := UserFromContext(r.Context())
		*sawUser = ok
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthMiddlewareAttachesUser(t *testing.T) {
	mw := NewAuthMiddleware(authConfig(), seededSessionStore(t), testLogger(), nil)

	sawUser := false
	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.AddCookie(&http.Cookie{Name: "session", Value: "valid-token"})
	res := httptest.NewRecorder()
	mw.Wrap(identityEcho(t, &sawUser)).ServeHTTP(res, req)

	require.Equal(t, http.StatusOK, res.Code)
	require.True(t, sawUser, "handler should see the authenticated user")
}

func TestAuthMiddlewareAnonymousAdminRedirects(t *testing.T) {
	mw := NewAuthMiddleware(authConfig(), session.NewMemory(), testLogger(), nil)

	sawUser := false
	req := httptest.NewRequest(http.MethodGet, "/admin/posts", nil)
	res := httptest.NewRecorder()
	mw.Wrap(identityEcho(t, &sawUser)).ServeHTTP(res, req)

	require.Equal(t, http.StatusFound, res.Code)
	require.Equal(t, "/admin/login", res.Header().Get("Location"))
}

func TestAuthMiddlewareAnonymousAPIPathPassesThrough(t *testing.T) {
	mw := NewAuthMiddleware(authConfig(), session.NewMemory(), testLogger(), nil)

	sawUser := false
	req := httptest.NewRequest(http.MethodGet, "/api/v1/posts", nil)
	res := httptest.NewRecorder()
	mw.Wrap(identityEcho(t, &sawUser)).ServeHTTP(res, req)

	require.Equal(t, http.StatusOK, res.Code)
	require.False(t, sawUser)
}

func TestAuthMiddlewareLoginPageIsPublic(t *testing.T) {
	mw := NewAuthMiddleware(authConfig(), session.NewMemory(), testLogger(), nil)

	sawUser := false
	req := httptest.NewRequest(http.MethodGet, "/admin/login", nil)
	res := httptest.NewRecorder()
	mw.Wrap(identityEcho(t, &sawUser)).ServeHTTP(res, req)

	require.Equal(t, http.StatusOK, res.Code)
}

func TestAuthMiddlewareAuthenticatedLoginPageRedirectsHome(t *testing.T) {
	mw := NewAuthMiddleware(authConfig(), seededSessionStore(t), testLogger(), nil)

	sawUser := false
	req := httptest.NewRequest(http.MethodGet, "/admin/login", nil)
	req.AddCookie(&http.Cookie{Name: "session", Value: "valid-token"})
	res := httptest.NewRecorder()
	mw.Wrap(identityEcho(t, &sawUser)).ServeHTTP(res, req)

	require.Equal(t, http.StatusFound, res.Code)
	require.Equal(t, "/admin", res.Header().Get("Location"))
}

func TestAuthMiddlewareUnknownTokenClearsCookie(t *testing.T) {
	mw := NewAuthMiddleware(authConfig(), session.NewMemory(), testLogger(), nil)

	sawUser := false
	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.AddCookie(&http.Cookie{Name: "session", Value: "stale-token"})
	res := httptest.NewRecorder()
	mw.Wrap(identityEcho(t, &sawUser)).ServeHTTP(res, req)

	require.Equal(t, http.StatusFound, res.Code, "stale session resolves as anonymous")
	require.Equal(t, "/admin/login", res.Header().Get("Location"))

	cookies := res.Result().Cookies()
	require.Len(t, cookies, 1)
	require.Equal(t, "session", cookies[0].Name)
	require.Empty(t, cookies[0].Value)
	require.True(t, cookies[0].MaxAge < 0 || cookies[0].Expires.Before(time.Now()),
		"cookie should be expired on the client")
}

func TestAuthMiddlewareExpiredSessionClearsCookie(t *testing.T) {
	store := session.NewMemory()
	sess := session.Session{ID: "expired-token", UserID: "u-1", ExpiresAt: time.Now().Add(-time.Minute)}
	require.NoError(t, store.Put(context.Background(), sess, session.User{ID: "u-1", Role: "admin"}))
	mw := NewAuthMiddleware(authConfig(), store, testLogger(), nil)

	sawUser := false
	req := httptest.NewRequest(http.MethodGet, "/api/v1/posts", nil)
	req.AddCookie(&http.Cookie{Name: "session", Value: "expired-token"})
	res := httptest.NewRecorder()
	mw.Wrap(identityEcho(t, &sawUser)).ServeHTTP(res, req)

	require.Equal(t, http.StatusOK, res.Code, "API paths pass through as anonymous")
	require.False(t, sawUser)
	require.NotEmpty(t, res.Result().Cookies(), "expired session should clear the cookie")
}
