package upload

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/quillcms/quillgate/internal/metrics"
	"github.com/quillcms/quillgate/internal/objstore"
)

// File is one item of an upload batch.
type File struct {
	Name        string
	ContentType string
	Size        int64
	Body        io.Reader
}

// Result reports the outcome for a single file. Exactly one of URL and
// Error is set.
type Result struct {
	FileName string
	Success  bool
	URL      string
	Error    string
}

// Service stores upload batches concurrently. Files within a batch do not
// affect each other: a failed file never aborts its siblings.
type Service struct {
	store     objstore.Store
	logger    *slog.Logger
	metrics   *metrics.Recorder
	keyPrefix string

	now func() time.Time
}

func NewService(store objstore.Store, logger *slog.Logger, recorder *metrics.Recorder, keyPrefix string) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     store,
		logger:    logger.With(slog.String("component", "upload")),
		metrics:   recorder,
		keyPrefix: keyPrefix,
		now:       time.Now,
	}
}

// Store validates and persists a batch, one goroutine per file. Results come
// back in input order. Each file either succeeds with its public URL or
// fails with a message naming the file; in-flight siblings always run to
// completion.
func (s *Service) Store(ctx context.Context, files []File) []Result {
	results := make([]Result, len(files))
	var wg sync.WaitGroup
	for i := range files {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = s.storeOne(ctx, files[i])
		}(i)
	}
	wg.Wait()
	return results
}

func (s *Service) storeOne(ctx context.Context, f File) Result {
	start := s.now()
	if err := ValidateFile(f.Name, f.ContentType, f.Size); err != nil {
		s.metrics.ObserveUpload(metrics.UploadRejected, s.now().Sub(start))
		return Result{FileName: f.Name, Error: err.Error()}
	}
	key := ObjectKey(s.keyPrefix, start.UnixMilli(), f.Name)
	url, err := s.store.Put(ctx, key, f.Body, f.ContentType)
	if err != nil {
		s.metrics.ObserveUpload(metrics.UploadError, s.now().Sub(start))
		s.logger.Error("upload failed",
			slog.String("file", f.Name), slog.Any("error", err))
		return Result{FileName: f.Name, Error: "failed to store " + f.Name}
	}
	s.metrics.ObserveUpload(metrics.UploadStored, s.now().Sub(start))
	s.logger.Info("file stored",
		slog.String("file", f.Name),
		slog.String("key", key),
		slog.Int64("bytes", f.Size))
	return Result{FileName: f.Name, Success: true, URL: url}
}

// Ping verifies the backing store before a batch is accepted.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}
