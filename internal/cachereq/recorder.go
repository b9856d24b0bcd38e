package cachereq

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quillcms/quillgate/internal/kv"
	"github.com/quillcms/quillgate/internal/metrics"
)

// KeyPrefix namespaces cache-miss records inside the kv store so the
// pre-warming worker can scan them apart from cached responses.
const KeyPrefix = "cacheRequest:"

// Request is one recorded cache miss awaiting asynchronous pre-warming.
type Request struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"createdAt"`
}

// DefaultQueueSize bounds the recorder's in-flight miss records.
const DefaultQueueSize = 256

// recordTTL keeps miss records around long enough for a pre-warming pass
// without accumulating forever.
const recordTTL = 24 * time.Hour

// Recorder persists cache-miss records off the request path. Record never
// blocks: when the queue is full the miss is dropped and counted, because a
// lost pre-warming hint must never delay or fail the primary response.
type Recorder struct {
	store   kv.Store
	logger  *slog.Logger
	metrics *metrics.Recorder

	ch         chan Request
	done       chan struct{}
	workerDone chan struct{}
	closeOnce  sync.Once
}

// NewRecorder starts the background worker draining miss records into the
// store.
func NewRecorder(store kv.Store, logger *slog.Logger, recorder *metrics.Recorder, queueSize int) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	r := &Recorder{
		store:   store,
		logger:  logger.With(slog.String("component", "cachereq")),
		metrics: recorder,
		ch:         make(chan Request, queueSize),
		done:       make(chan struct{}),
		workerDone: make(chan struct{}),
	}
	go r.run()
	return r
}

// Record enqueues a miss for the given URL. Fire-and-forget: the caller gets
// no result and the request path never waits on persistence.
func (r *Recorder) Record(url string) {
	req := Request{
		ID:        uuid.NewString(),
		URL:       url,
		CreatedAt: time.Now().UTC(),
	}
	select {
	case r.ch <- req:
	case <-r.done:
	default:
		r.metrics.ObserveCacheRequestDropped()
		r.logger.Debug("cache request dropped", slog.String("url", url))
	}
}

// Close stops accepting records and waits for the queue to drain or the
// context to expire.
func (r *Recorder) Close(ctx context.Context) error {
	r.closeOnce.Do(func() {
		close(r.done)
	})
	select {
	case <-r.workerDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Recorder) run() {
	defer close(r.workerDone)
	for {
		select {
		case req := <-r.ch:
			r.persist(req)
		case <-r.done:
			// Drain whatever is queued before exiting.
			for {
				select {
				case req := <-r.ch:
					r.persist(req)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) persist(req Request) {
	body, err := json.Marshal(req)
	if err != nil {
		r.logger.Error("cache request marshal failed", slog.Any("error", err))
		return
	}
	now := time.Now().UTC()
	entry := kv.Entry{
		Body:      body,
		Source:    "cacheRequest",
		StoredAt:  now,
		ExpiresAt: now.Add(recordTTL),
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.store.Set(ctx, KeyPrefix+req.ID, entry); err != nil {
		// Persistence failure is not surfaced to the request path.
		r.logger.Debug("cache request store failed",
			slog.String("url", req.URL), slog.Any("error", err))
	}
}
