package httpmw

import (
	"crypto/subtle"
	"net/http"

	"github.com/quillcms/quillgate/internal/config"
)

// APIKeyMiddleware marks requests carrying the configured API key header.
// It only annotates the context; policy evaluation decides what an API key
// caller may do. With no secret configured the middleware is inert.
type APIKeyMiddleware struct {
	header string
	secret string
}

func NewAPIKeyMiddleware(cfg config.AuthConfig) *APIKeyMiddleware {
	return &APIKeyMiddleware{header: cfg.APIKeyHeader, secret: cfg.APIKey}
}

func (a *APIKeyMiddleware) Wrap(next http.Handler) http.Handler {
	if a.secret == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		presented := r.Header.Get(a.header)
		if presented != "" && subtle.ConstantTimeCompare([]byte(presented), []byte(a.secret)) == 1 {
			r = r.WithContext(WithAPIKey(r.Context()))
		}
		next.ServeHTTP(w, r)
	})
}
