package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	valkey "github.com/valkey-io/valkey-go"
)

// RedisConfig points the session store at a Redis-protocol (valkey) server.
type RedisConfig struct {
	Address  string
	Username string
	Password string
	DB       int
}

const keyPrefix = "session:"

type redisStore struct {
	client valkey.Client
}

type redisRecord struct {
	Session Session `json:"session"`
	User    User    `json:"user"`
}

// NewRedis connects to the configured valkey server and verifies it with a
// ping before handing the store to callers.
func NewRedis(cfg RedisConfig) (Store, error) {
	if cfg.Address == "" {
		return nil, errors.New("session: redis address required")
	}

	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress:       []string{cfg.Address},
		Username:          cfg.Username,
		Password:          cfg.Password,
		SelectDB:          cfg.DB,
		AlwaysRESP2:       true,
		ForceSingleClient: true,
		DisableCache:      true,
	})
	if err != nil {
		return nil, fmt.Errorf("session: redis client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("session: redis ping: %w", err)
	}

	return &redisStore{client: client}, nil
}

func (s *redisStore) Validate(ctx context.Context, token string) (User, Session, error) {
	resp := s.client.Do(ctx, s.client.B().Get().Key(keyPrefix+token).Build())
	if err := resp.Error(); err != nil {
		if errors.Is(err, valkey.Nil) {
			return User{}, Session{}, ErrNotFound
		}
		return User{}, Session{}, fmt.Errorf("session: redis get: %w", err)
	}
	payload, err := resp.AsBytes()
	if err != nil {
		return User{}, Session{}, fmt.Errorf("session: redis get bytes: %w", err)
	}
	var rec redisRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		return User{}, Session{}, fmt.Errorf("session: redis unmarshal: %w", err)
	}
	if time.Now().After(rec.Session.ExpiresAt) {
		// Best effort removal; the TTL on the key covers the common path.
		_ = s.Invalidate(ctx, token)
		return User{}, Session{}, ErrExpired
	}
	return rec.User, rec.Session, nil
}

func (s *redisStore) Put(ctx context.Context, sess Session, user User) error {
	ttl := time.Until(sess.ExpiresAt)
	if ttl <= 0 {
		return errors.New("session: redis session already expired")
	}
	payload, err := json.Marshal(redisRecord{Session: sess, User: user})
	if err != nil {
		return fmt.Errorf("session: redis marshal: %w", err)
	}
	cmd := s.client.B().Set().Key(keyPrefix + sess.ID).Value(string(payload)).Px(ttl).Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("session: redis set: %w", err)
	}
	return nil
}

func (s *redisStore) Invalidate(ctx context.Context, token string) error {
	if err := s.client.Do(ctx, s.client.B().Del().Key(keyPrefix+token).Build()).Error(); err != nil {
		return fmt.Errorf("session: redis del: %w", err)
	}
	return nil
}

func (s *redisStore) Close(context.Context) error {
	s.client.Close()
	return nil
}
