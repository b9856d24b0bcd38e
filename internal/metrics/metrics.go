package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// CacheLookupOutcome captures the result of a response cache lookup.
type CacheLookupOutcome string

const (
	// CacheLookupHit indicates the request was served from cache.
	CacheLookupHit CacheLookupOutcome = "hit"
	// CacheLookupMiss indicates no cached response was present.
	CacheLookupMiss CacheLookupOutcome = "miss"
	// CacheLookupError indicates the lookup failed and degraded to a miss.
	CacheLookupError CacheLookupOutcome = "error"
	// CacheLookupBypass indicates the request never qualified for caching.
	CacheLookupBypass CacheLookupOutcome = "bypass"
)

// AuthOutcome captures how the auth gate resolved a request.
type AuthOutcome string

const (
	// AuthAuthenticated indicates a valid session was attached.
	AuthAuthenticated AuthOutcome = "authenticated"
	// AuthAnonymous indicates no usable session was present.
	AuthAnonymous AuthOutcome = "anonymous"
	// AuthRedirect indicates the gate answered with a redirect.
	AuthRedirect AuthOutcome = "redirect"
)

// UploadOutcome captures the result of a single file upload.
type UploadOutcome string

const (
	// UploadStored indicates the object landed in the storage backend.
	UploadStored UploadOutcome = "stored"
	// UploadRejected indicates validation refused the file before upload.
	UploadRejected UploadOutcome = "rejected"
	// UploadError indicates the storage backend failed.
	UploadError UploadOutcome = "error"
)

// Recorder publishes Prometheus metrics for gateway activity.
type Recorder struct {
	gatherer prometheus.Gatherer
	handler  http.Handler

	authResolutions *prometheus.CounterVec

	cacheLookups     *prometheus.CounterVec
	cacheLatency     *prometheus.HistogramVec
	cacheRequestDrop prometheus.Counter

	uploadFiles   *prometheus.CounterVec
	uploadLatency *prometheus.HistogramVec
}

// NewRecorder constructs a Prometheus-backed Recorder. When reg is nil a
// dedicated registry is created so multiple recorders can coexist without
// conflicting with the global default registerer.
func NewRecorder(reg *prometheus.Registry) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	reg.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	authResolutions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "quillgate",
		Subsystem: "auth",
		Name:      "resolutions_total",
		Help:      "Requests resolved by the auth gate, by outcome.",
	}, []string{"outcome"})

	cacheLookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "quillgate",
		Subsystem: "cache",
		Name:      "lookups_total",
		Help:      "Response cache lookups executed by the cache layer.",
	}, []string{"result"})

	cacheLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "quillgate",
		Subsystem: "cache",
		Name:      "lookup_duration_seconds",
		Help:      "Latency distribution for response cache lookups.",
		Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
	}, []string{"result"})

	cacheRequestDrop := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "quillgate",
		Subsystem: "cache",
		Name:      "request_records_dropped_total",
		Help:      "Cache-miss records dropped because the recorder queue was full.",
	})

	uploadFiles := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "quillgate",
		Subsystem: "upload",
		Name:      "files_total",
		Help:      "Files processed by the upload pipeline, by outcome.",
	}, []string{"outcome"})

	uploadLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "quillgate",
		Subsystem: "upload",
		Name:      "file_duration_seconds",
		Help:      "Latency distribution for per-file storage uploads.",
		Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"outcome"})

	reg.MustRegister(authResolutions, cacheLookups, cacheLatency, cacheRequestDrop, uploadFiles, uploadLatency)

	handler := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})

	return &Recorder{
		gatherer:         reg,
		handler:          handler,
		authResolutions:  authResolutions,
		cacheLookups:     cacheLookups,
		cacheLatency:     cacheLatency,
		cacheRequestDrop: cacheRequestDrop,
		uploadFiles:      uploadFiles,
		uploadLatency:    uploadLatency,
	}
}

// Handler exposes the Prometheus HTTP handler for the recorder's registry.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "metrics unavailable", http.StatusServiceUnavailable)
		})
	}
	return r.handler
}

// Gatherer returns the underlying Prometheus gatherer for tests and advanced
// integrations.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.gatherer
}

// ObserveAuth records how the auth gate resolved a request.
func (r *Recorder) ObserveAuth(outcome AuthOutcome) {
	if r == nil {
		return
	}
	r.authResolutions.WithLabelValues(normalizeLabel(string(outcome))).Inc()
}

// ObserveCacheLookup records the result and latency of a cache lookup.
func (r *Recorder) ObserveCacheLookup(result CacheLookupOutcome, duration time.Duration) {
	if r == nil {
		return
	}
	label := string(result)
	if label == "" {
		label = string(CacheLookupMiss)
	}
	r.cacheLookups.WithLabelValues(label).Inc()
	r.cacheLatency.WithLabelValues(label).Observe(duration.Seconds())
}

// ObserveCacheRequestDropped counts a cache-miss record lost to backpressure.
func (r *Recorder) ObserveCacheRequestDropped() {
	if r == nil {
		return
	}
	r.cacheRequestDrop.Inc()
}

// ObserveUpload records the outcome and latency for one file in a batch.
func (r *Recorder) ObserveUpload(outcome UploadOutcome, duration time.Duration) {
	if r == nil {
		return
	}
	label := normalizeLabel(string(outcome))
	r.uploadFiles.WithLabelValues(label).Inc()
	r.uploadLatency.WithLabelValues(label).Observe(duration.Seconds())
}

func normalizeLabel(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
