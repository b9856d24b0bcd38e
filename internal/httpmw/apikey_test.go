package httpmw

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/quillcms/quillgate/internal/config"
)

func apiKeyEcho(marked *bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*marked = APIKeyFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
}

func TestAPIKeyMiddlewareMatch(t *testing.T) {
	mw := NewAPIKeyMiddleware(config.AuthConfig{APIKeyHeader: "x-api-key", APIKey: "secret-key"})

	marked := false
	req := httptest.NewRequest(http.MethodPost, "/api/v1/upload", nil)
	req.Header.Set("x-api-key", "secret-key")
	mw.Wrap(apiKeyEcho(&marked)).ServeHTTP(httptest.NewRecorder(), req)

	if !marked {
		t.Fatal("expected matching key to mark the context")
	}
}

func TestAPIKeyMiddlewareMismatch(t *testing.T) {
	mw := NewAPIKeyMiddleware(config.AuthConfig{APIKeyHeader: "x-api-key", APIKey: "secret-key"})

	marked := false
	req := httptest.NewRequest(http.MethodPost, "/api/v1/upload", nil)
	req.Header.Set("x-api-key", "wrong")
	mw.Wrap(apiKeyEcho(&marked)).ServeHTTP(httptest.NewRecorder(), req)

	if marked {
		t.Fatal("wrong key must not mark the context")
	}
}

func TestAPIKeyMiddlewareAbsentHeader(t *testing.T) {
	mw := NewAPIKeyMiddleware(config.AuthConfig{APIKeyHeader: "x-api-key", APIKey: "secret-key"})

	marked := false
	req := httptest.NewRequest(http.MethodPost, "/api/v1/upload", nil)
	mw.Wrap(apiKeyEcho(&marked)).ServeHTTP(httptest.NewRecorder(), req)

	if marked {
		t.Fatal("absent header must not mark the context")
	}
}

func TestAPIKeyMiddlewareDisabledWithoutSecret(t *testing.T) {
	mw := NewAPIKeyMiddleware(config.AuthConfig{APIKeyHeader: "x-api-key"})

	marked := false
	req := httptest.NewRequest(http.MethodPost, "/api/v1/upload", nil)
	req.Header.Set("x-api-key", "")
	mw.Wrap(apiKeyEcho(&marked)).ServeHTTP(httptest.NewRecorder(), req)

	if marked {
		t.Fatal("middleware must stay inert without a configured secret")
	}
}

func TestCallerFromContext(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	caller := CallerFromContext(req.Context())
	if caller.User != nil || caller.APIKey {
		t.Fatalf("expected anonymous caller, got %+v", caller)
	}

	ctx := WithAPIKey(req.Context())
	caller = CallerFromContext(ctx)
	if !caller.APIKey {
		t.Fatal("expected API key flag to carry through")
	}
}
