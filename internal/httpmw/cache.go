package httpmw

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/quillcms/quillgate/internal/cachereq"
	"github.com/quillcms/quillgate/internal/config"
	"github.com/quillcms/quillgate/internal/kv"
	"github.com/quillcms/quillgate/internal/metrics"
)

// CacheMiddleware serves eligible API reads straight from the kv store and
// records misses for asynchronous pre-warming. It never fails a request: a
// broken cache degrades to a pass-through.
type CacheMiddleware struct {
	store    kv.Store
	recorder *cachereq.Recorder
	logger   *slog.Logger
	metrics  *metrics.Recorder

	disabled    bool
	apiPrefix   string
	bypassPaths []string
}

func NewCacheMiddleware(cfg config.CacheConfig, store kv.Store, recorder *cachereq.Recorder, logger *slog.Logger, m *metrics.Recorder) *CacheMiddleware {
	if logger == nil {
		logger = slog.Default()
	}
	return &CacheMiddleware{
		store:       store,
		recorder:    recorder,
		logger:      logger.With(slog.String("component", "cache")),
		metrics:     m,
		disabled:    cfg.Disabled,
		apiPrefix:   cfg.APIPrefix,
		bypassPaths: cfg.BypassPaths,
	}
}

// shouldBypass reports whether the request is ineligible for cache serving.
// Only GET and HEAD requests under the API prefix qualify, and paths whose
// responses depend on caller identity or mutate state are always skipped.
func (c *CacheMiddleware) shouldBypass(r *http.Request) bool {
	if c.disabled || c.store == nil {
		return true
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		return true
	}
	path := r.URL.Path
	if !strings.HasPrefix(path, c.apiPrefix) {
		return true
	}
	for _, p := range c.bypassPaths {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// Wrap returns the handler with cache lookup in front of next.
func (c *CacheMiddleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c.shouldBypass(r) {
			c.metrics.ObserveCacheLookup(metrics.CacheLookupBypass, 0)
			next.ServeHTTP(w, r)
			return
		}

		key := cacheKey(r)
		start := time.Now()
		entry, found, err := c.store.Lookup(r.Context(), key)
		elapsed := time.Since(start)

		if err != nil {
			// A failing cache backend must not take down reads.
			c.metrics.ObserveCacheLookup(metrics.CacheLookupError, elapsed)
			c.logger.Warn("cache lookup failed",
				slog.String("key", key), slog.Any("error", err))
			next.ServeHTTP(w, r)
			return
		}
		if !found {
			c.metrics.ObserveCacheLookup(metrics.CacheLookupMiss, elapsed)
			c.logger.Debug("cache miss", slog.String("key", key))
			if c.recorder != nil {
				c.recorder.Record(key)
			}
			next.ServeHTTP(w, r)
			return
		}

		c.metrics.ObserveCacheLookup(metrics.CacheLookupHit, elapsed)
		c.writeCached(w, entry, elapsed)
	})
}

// writeCached replays the stored response body, annotated so clients can
// tell a cached answer from a live one.
func (c *CacheMiddleware) writeCached(w http.ResponseWriter, entry kv.Entry, elapsed time.Duration) {
	var payload map[string]any
	if err := json.Unmarshal(entry.Body, &payload); err != nil {
		// Stored body is not a JSON object; replay it verbatim.
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(entry.Body)
		return
	}
	payload["executionTime"] = elapsed.Milliseconds()
	payload["source"] = "KV"

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		c.logger.Debug("cache response write failed", slog.Any("error", err))
	}
}

// cacheKey identifies a cacheable response by host, path and query. Callers
// should keep identity-dependent responses on the bypass list since the key
// carries no caller identity.
func cacheKey(r *http.Request) string {
	return r.Host + r.URL.RequestURI()
}
