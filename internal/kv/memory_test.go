package kv

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	store := NewMemory(time.Minute)
	ctx := context.Background()

	entry := Entry{Body: json.RawMessage(`{"posts":[]}`), Source: "origin"}
	if err := store.Set(ctx, "example.com/api/v1/posts", entry); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	got, ok, err := store.Lookup(ctx, "example.com/api/v1/posts")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if !ok {
		t.Fatal("expected entry to be present")
	}
	if string(got.Body) != `{"posts":[]}` {
		t.Fatalf("unexpected body: %s", got.Body)
	}
	if got.StoredAt.IsZero() || got.ExpiresAt.IsZero() {
		t.Fatalf("expected timestamps to be filled in: %+v", got)
	}

	size, err := store.Size(ctx)
	if err != nil {
		t.Fatalf("size failed: %v", err)
	}
	if size != 1 {
		t.Fatalf("expected size 1, got %d", size)
	}
}

func TestMemoryStoreMiss(t *testing.T) {
	store := NewMemory(time.Minute)

	_, ok, err := store.Lookup(context.Background(), "example.com/api/v1/unknown")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if ok {
		t.Fatal("expected a miss for an unknown key")
	}
}

func TestMemoryStoreExpiry(t *testing.T) {
	store := NewMemory(time.Minute)
	ctx := context.Background()

	now := time.Now().UTC()
	entry := Entry{
		Body:      json.RawMessage(`{}`),
		StoredAt:  now.Add(-2 * time.Minute),
		ExpiresAt: now.Add(-time.Minute),
	}
	if err := store.Set(ctx, "stale", entry); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	_, ok, err := store.Lookup(ctx, "stale")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if ok {
		t.Fatal("expected expired entry to read as a miss")
	}

	// Expired entries are removed on lookup.
	size, err := store.Size(ctx)
	if err != nil {
		t.Fatalf("size failed: %v", err)
	}
	if size != 0 {
		t.Fatalf("expected expired entry to be evicted, size %d", size)
	}
}

func TestMemoryStoreDelete(t *testing.T) {
	store := NewMemory(time.Minute)
	ctx := context.Background()

	if err := store.Set(ctx, "key", Entry{Body: json.RawMessage(`1`)}); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if err := store.Delete(ctx, "key"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	_, ok, _ := store.Lookup(ctx, "key")
	if ok {
		t.Fatal("expected key to be gone after delete")
	}
}

func TestMemoryStoreCloneIsolation(t *testing.T) {
	store := NewMemory(time.Minute)
	ctx := context.Background()

	body := []byte(`{"n":1}`)
	if err := store.Set(ctx, "key", Entry{Body: body}); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	body[5] = '2'

	got, _, _ := store.Lookup(ctx, "key")
	if string(got.Body) != `{"n":1}` {
		t.Fatalf("stored body should not alias caller memory: %s", got.Body)
	}
}
