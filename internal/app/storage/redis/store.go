// Package redis keeps keyed request results in Redis so every API replica
// answers a retried request the same way.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"github.com/savepop/savepop/internal/app/storage"
)

const defaultPrefix = "savepop:idem:"

// Store implements storage.IdempotencyStore.
type Store struct {
	client goredis.Cmdable
	prefix string
}

var _ storage.IdempotencyStore = (*Store)(nil)

// New wraps an existing client. An empty prefix uses the default namespace.
func New(client goredis.Cmdable, prefix string) *Store {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Store{client: client, prefix: prefix}
}

// Dial connects to addr and verifies the connection with a PING.
func Dial(ctx context.Context, addr, password string, db int) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return client, nil
}

func (s *Store) LoadResult(ctx context.Context, key string) ([]byte, bool, error) {
	payload, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load result %s: %w", key, err)
	}
	return payload, true, nil
}

// SaveResult keeps the first result stored under key until it expires.
func (s *Store) SaveResult(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := s.client.SetNX(ctx, s.prefix+key, payload, ttl).Err(); err != nil {
		return fmt.Errorf("save result %s: %w", key, err)
	}
	return nil
}
