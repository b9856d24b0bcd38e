package session

import (
	"context"
	"errors"
	"time"
)

// User is the identity a session resolves to. The middleware treats it as
// read-only; roles come from a small closed set (admin, editor, user).
type User struct {
	ID   string `json:"id"`
	Role string `json:"role"`
}

// Session is the server-side record behind a cookie token. Created at login,
// read on every request needing identity, invalidated at logout or expiry.
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

var (
	// ErrNotFound indicates no session exists for the token.
	ErrNotFound = errors.New("session: not found")
	// ErrExpired indicates the session exists but its expiry has passed.
	ErrExpired = errors.New("session: expired")
)

// Store owns session records. Validate resolves a token to its user and
// session; expired sessions are removed as a side effect so the next lookup
// is a clean miss.
type Store interface {
	Validate(ctx context.Context, token string) (User, Session, error)
	Put(ctx context.Context, sess Session, user User) error
	Invalidate(ctx context.Context, token string) error
	Close(ctx context.Context) error
}
