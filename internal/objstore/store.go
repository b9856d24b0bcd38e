// Package objstore persists uploaded media and hands back the public URL
// each object is served from.
package objstore

import (
	"context"
	"io"
)

// Store writes media objects to a backing store.
type Store interface {
	// Put stores the object under key and returns its public URL.
	Put(ctx context.Context, key string, body io.Reader, contentType string) (string, error)
	// Ping verifies the backing store is reachable and writable enough to
	// accept uploads.
	Ping(ctx context.Context) error
}
