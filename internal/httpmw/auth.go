package httpmw

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/quillcms/quillgate/internal/config"
	"github.com/quillcms/quillgate/internal/metrics"
	"github.com/quillcms/quillgate/internal/session"
)

// AuthMiddleware resolves the caller's session cookie before the request
// reaches a handler. Admin pages require a valid session; authenticated
// users are bounced away from the login and register pages.
type AuthMiddleware struct {
	store   session.Store
	logger  *slog.Logger
	metrics *metrics.Recorder

	cookieName  string
	adminPrefix string
	loginPath   string
	homePath    string
	publicPaths []string
}

func NewAuthMiddleware(cfg config.AuthConfig, store session.Store, logger *slog.Logger, m *metrics.Recorder) *AuthMiddleware {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthMiddleware{
		store:       store,
		logger:      logger.With(slog.String("component", "auth")),
		metrics:     m,
		cookieName:  cfg.CookieName,
		adminPrefix: cfg.AdminPrefix,
		loginPath:   cfg.LoginPath,
		homePath:    cfg.HomePath,
		publicPaths: []string{cfg.LoginPath, strings.TrimRight(cfg.AdminPrefix, "/") + "/register"},
	}
}

// Wrap returns the handler with session resolution in front of next.
func (a *AuthMiddleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(a.cookieName)
		if err != nil || cookie.Value == "" {
			a.resolveAnonymous(w, r, next)
			return
		}

		user, sess, err := a.store.Validate(r.Context(), cookie.Value)
		if err != nil {
			if errors.Is(err, session.ErrNotFound) || errors.Is(err, session.ErrExpired) {
				// Stale cookie: expire it on the client so the browser
				// stops replaying it.
				a.clearCookie(w)
				a.logger.Debug("session rejected",
					slog.String("session", tokenPrefix(cookie.Value)),
					slog.String("path", r.URL.Path),
					slog.Any("error", err))
				a.resolveAnonymous(w, r, next)
				return
			}
			a.logger.Warn("session validation failed",
				slog.String("session", tokenPrefix(cookie.Value)),
				slog.Any("error", err))
			a.resolveAnonymous(w, r, next)
			return
		}

		a.metrics.ObserveAuth(metrics.AuthAuthenticated)
		a.logger.Debug("session resolved",
			slog.String("session", tokenPrefix(cookie.Value)),
			slog.String("user", user.ID),
			slog.String("path", r.URL.Path))

		if a.isPublicAdminPage(r.URL.Path) {
			// Already signed in; the login and register pages are pointless.
			a.metrics.ObserveAuth(metrics.AuthRedirect)
			http.Redirect(w, r, a.homePath, http.StatusFound)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user, sess)))
	})
}

func (a *AuthMiddleware) resolveAnonymous(w http.ResponseWriter, r *http.Request, next http.Handler) {
	if a.requiresSession(r.URL.Path) {
		a.metrics.ObserveAuth(metrics.AuthRedirect)
		a.logger.Debug("anonymous redirect",
			slog.String("path", r.URL.Path),
			slog.String("target", a.loginPath))
		http.Redirect(w, r, a.loginPath, http.StatusFound)
		return
	}
	a.metrics.ObserveAuth(metrics.AuthAnonymous)
	next.ServeHTTP(w, r)
}

// requiresSession reports whether the path is an admin page that anonymous
// callers may not see.
func (a *AuthMiddleware) requiresSession(path string) bool {
	if !strings.HasPrefix(path, a.adminPrefix) {
		return false
	}
	return !a.isPublicAdminPage(path)
}

func (a *AuthMiddleware) isPublicAdminPage(path string) bool {
	for _, p := range a.publicPaths {
		if path == p {
			return true
		}
	}
	return false
}

func (a *AuthMiddleware) clearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     a.cookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
	})
}

// tokenPrefix truncates a session token for logging without leaking it.
func tokenPrefix(token string) string {
	if len(token) <= 8 {
		return token
	}
	return token[:8]
}
