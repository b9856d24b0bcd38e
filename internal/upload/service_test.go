package upload

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quillcms/quillgate/internal/objstore"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubStore struct {
	mu      sync.Mutex
	keys    []string
	failFor string
	pingErr error
}

func (s *stubStore) Put(_ context.Context, key string, body io.Reader, contentType string) (string, error) {
	s.mu.Lock()
	s.keys = append(s.keys, key)
	s.mu.Unlock()
	if s.failFor != "" && strings.Contains(key, s.failFor) {
		return "", errors.New("backend unavailable")
	}
	io.Copy(io.Discard, body)
	return objstore.PublicURL("media.example.com", key), nil
}

func (s *stubStore) Ping(context.Context) error { return s.pingErr }

func batchFile(name, contentType string, size int64) File {
	return File{Name: name, ContentType: contentType, Size: size, Body: strings.NewReader("data")}
}

func TestServiceStoresBatchInOrder(t *testing.T) {
	store := &stubStore{}
	svc := NewService(store, testLogger(), nil, "blog-posts")

	results := svc.Store(context.Background(), []File{
		batchFile("first.jpg", "image/jpeg", 10),
		batchFile("second.png", "image/png", 10),
		batchFile("third.webp", "image/webp", 10),
	})

	require.Len(t, results, 3)
	for i, name := range []string{"first.jpg", "second.png", "third.webp"} {
		res := results[i]
		require.Equal(t, name, res.FileName, "result %d out of order", i)
		require.True(t, res.Success, "result %d failed: %s", i, res.Error)
		require.True(t, strings.HasPrefix(res.URL, "https://media.example.com/blog-posts/"), "result %d unexpected url %q", i, res.URL)
		require.True(t, strings.HasSuffix(res.URL, "-"+name), "result %d url should end with sanitized name: %q", i, res.URL)
	}
}

func TestServiceRejectsInvalidWithoutStoreCall(t *testing.T) {
	store := &stubStore{}
	svc := NewService(store, testLogger(), nil, "blog-posts")

	results := svc.Store(context.Background(), []File{
		batchFile("doc.pdf", "application/pdf", 10),
	})

	require.False(t, results[0].Success, "expected validation failure")
	require.Equal(t, "doc.pdf", results[0].FileName, "failure should name the file")
	require.Empty(t, store.keys, "validation must run before any storage call")
}

func TestServiceFailureDoesNotAbortSiblings(t *testing.T) {
	store := &stubStore{failFor: "bad"}
	svc := NewService(store, testLogger(), nil, "blog-posts")

	results := svc.Store(context.Background(), []File{
		batchFile("good-one.jpg", "image/jpeg", 10),
		batchFile("bad.jpg", "image/jpeg", 10),
		batchFile("good-two.png", "image/png", 10),
	})

	require.True(t, results[0].Success, "siblings of a failed upload must still complete: %+v", results)
	require.True(t, results[2].Success, "siblings of a failed upload must still complete: %+v", results)
	require.False(t, results[1].Success, "expected middle upload to fail")
	require.NotEmpty(t, results[1].Error, "failure should carry a message")
	require.Equal(t, "bad.jpg", results[1].FileName)
}

func TestServicePing(t *testing.T) {
	store := &stubStore{pingErr: errors.New("no bucket")}
	svc := NewService(store, testLogger(), nil, "blog-posts")

	require.Error(t, svc.Ping(context.Background()), "ping must surface store errors")
}
