package session

import (
	"context"
	"sync"
	"time"
)

type record struct {
	session Session
	user    User
}

type memoryStore struct {
	mu      sync.Mutex
	records map[string]record
}

// NewMemory returns an in-process Store for single-instance deployments and
// tests.
func NewMemory() Store {
	return &memoryStore{records: make(map[string]record)}
}

func (s *memoryStore) Validate(_ context.Context, token string) (User, Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[token]
	if !ok {
		return User{}, Session{}, ErrNotFound
	}
	if time.Now().After(rec.session.ExpiresAt) {
		delete(s.records, token)
		return User{}, Session{}, ErrExpired
	}
	return rec.user, rec.session, nil
}

func (s *memoryStore) Put(_ context.Context, sess Session, user User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[sess.ID] = record{session: sess, user: user}
	return nil
}

func (s *memoryStore) Invalidate(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, token)
	return nil
}

func (s *memoryStore) Close(context.Context) error {
	return nil
}
