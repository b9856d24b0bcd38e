package kv

import (
	"context"
	"encoding/json"
	"time"
)

// Entry is one cached API response. Body holds the serialized response
// payload exactly as the handler produced it; Source tags where a served
// response came from once the cache layer annotates it.
type Entry struct {
	Body      json.RawMessage `json:"body"`
	Source    string          `json:"source"`
	StoredAt  time.Time       `json:"storedAt"`
	ExpiresAt time.Time       `json:"expiresAt"`
}

// Store is the response cache keyed by full request URL. Implementations must
// treat a missing key as (Entry{}, false, nil) so the cache layer can degrade
// to a miss without branching on backend-specific errors.
type Store interface {
	Lookup(ctx context.Context, key string) (Entry, bool, error)
	Set(ctx context.Context, key string, entry Entry) error
	Delete(ctx context.Context, key string) error
	Size(ctx context.Context) (int64, error)
	Close(ctx context.Context) error
}
