package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"slices"

	"github.com/quillcms/quillgate/internal/access"
	"github.com/quillcms/quillgate/internal/config"
	"github.com/quillcms/quillgate/internal/httpmw"
	"github.com/quillcms/quillgate/internal/metrics"
	"github.com/quillcms/quillgate/internal/templates"
	"github.com/quillcms/quillgate/internal/upload"
)

// maxUploadMemory bounds how much of a multipart body is held in memory
// before spilling to temp files.
const maxUploadMemory = 32 << 20

// uploadTable is the policy table consulted for the upload route when one
// is configured.
const uploadTable = "media"

// Router wires the HTTP surface: upload API, admin pages and metrics,
// wrapped by the cache, API-key and auth middlewares.
type Router struct {
	cfg      config.ServerConfig
	logger   *slog.Logger
	uploads  *upload.Service
	renderer *templates.Renderer
	policies *access.Evaluator
	metrics  *metrics.Recorder

	cache  *httpmw.CacheMiddleware
	apiKey *httpmw.APIKeyMiddleware
	auth   *httpmw.AuthMiddleware
}

func NewRouter(
	cfg config.ServerConfig,
	logger *slog.Logger,
	uploads *upload.Service,
	renderer *templates.Renderer,
	policies *access.Evaluator,
	m *metrics.Recorder,
	cache *httpmw.CacheMiddleware,
	apiKey *httpmw.APIKeyMiddleware,
	auth *httpmw.AuthMiddleware,
) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "router")),
		uploads:  uploads,
		renderer: renderer,
		policies: policies,
		metrics:  m,
		cache:    cache,
		apiKey:   apiKey,
		auth:     auth,
	}
}

// Handler assembles the mux and middleware chain. Cache runs first so hits
// skip everything else; API-key and session resolution follow so handlers
// see a fully resolved caller.
func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/upload", rt.handleUpload)
	mux.HandleFunc("GET "+rt.cfg.Auth.LoginPath, rt.handleLoginPage)
	mux.HandleFunc("GET "+rt.cfg.Auth.AdminPrefix+"/register", rt.handleRegisterPage)
	mux.HandleFunc("GET "+rt.cfg.Auth.AdminPrefix, rt.handleAdminHome)
	mux.Handle("GET /metrics", rt.metrics.Handler())
	mux.HandleFunc("/", rt.handleNotFound)

	var h http.Handler = mux
	h = rt.auth.Wrap(h)
	h = rt.apiKey.Wrap(h)
	h = rt.cache.Wrap(h)
	return h
}

func (rt *Router) handleUpload(w http.ResponseWriter, r *http.Request) {
	caller := httpmw.CallerFromContext(r.Context())
	if !rt.uploadAllowed(caller) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{
			"error": "authentication required",
		})
		return
	}

	if err := rt.uploads.Ping(r.Context()); err != nil {
		rt.logger.Error("storage preflight failed", slog.Any("error", err))
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error":   "storage backend unavailable",
			"details": err.Error(),
		})
		return
	}

	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error": "invalid multipart request",
		})
		return
	}
	defer r.MultipartForm.RemoveAll()

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error": "no files provided",
		})
		return
	}

	files := make([]upload.File, 0, len(headers))
	opened := make([]io.Closer, 0, len(headers))
	defer func() {
		for _, f := range opened {
			f.Close()
		}
	}()
	for _, hdr := range headers {
		f, err := hdr.Open()
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"error": "unreadable file " + hdr.Filename,
			})
			return
		}
		opened = append(opened, f)
		files = append(files, upload.File{
			Name:        hdr.Filename,
			ContentType: hdr.Header.Get("Content-Type"),
			Size:        hdr.Size,
			Body:        f,
		})
	}

	results := rt.uploads.Store(r.Context(), files)

	urls := make([]string, 0, len(results))
	failed := make([]map[string]string, 0)
	for _, res := range results {
		if res.Success {
			urls = append(urls, res.URL)
			continue
		}
		failed = append(failed, map[string]string{
			"fileName": res.FileName,
			"error":    res.Error,
		})
	}

	if len(failed) > 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":         "some files failed to upload",
			"failedUploads": failed,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"urls":    urls,
		"count":   len(urls),
	})
}

// uploadAllowed prefers a configured media table policy; without one the
// route falls back to the built-in editor-or-api-key rule.
func (rt *Router) uploadAllowed(caller access.Caller) bool {
	if rt.policies != nil && slices.Contains(rt.policies.Tables(), uploadTable) {
		return rt.policies.CanPerform(uploadTable, access.OpCreate, caller)
	}
	return access.IsAdminOrEditorOrAPIKey(caller)
}

func (rt *Router) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	registerPath := ""
	if rt.cfg.Admin.UsersCanRegister {
		registerPath = rt.cfg.Auth.AdminPrefix + "/register"
	}
	rt.renderPage(w, "login", map[string]any{
		"Title":        "Sign in",
		"Action":       rt.cfg.Auth.LoginPath,
		"RegisterPath": registerPath,
	})
}

func (rt *Router) handleRegisterPage(w http.ResponseWriter, r *http.Request) {
	if !rt.cfg.Admin.UsersCanRegister {
		http.NotFound(w, r)
		return
	}
	rt.renderPage(w, "register", map[string]any{
		"Title":     "Create account",
		"Action":    rt.cfg.Auth.AdminPrefix + "/register",
		"LoginPath": rt.cfg.Auth.LoginPath,
	})
}

func (rt *Router) handleAdminHome(w http.ResponseWriter, r *http.Request) {
	user, ok := httpmw.UserFromContext(r.Context())
	if !ok {
		// Unreachable when the auth middleware is in front; kept as a
		// guard for direct handler use in tests.
		http.Redirect(w, r, rt.cfg.Auth.LoginPath, http.StatusFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user": user.ID,
		"role": user.Role,
	})
}

func (rt *Router) handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, map[string]any{"error": "not found"})
}

func (rt *Router) renderPage(w http.ResponseWriter, name string, data map[string]any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := rt.renderer.Render(w, name, data); err != nil {
		rt.logger.Error("page render failed",
			slog.String("page", name), slog.Any("error", err))
	}
}

func writeJSON(w http.ResponseWriter, status int, payload map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}
