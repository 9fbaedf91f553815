package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// --- IdempotencyStore -------------------------------------------------------

func (s *Store) LoadResult(ctx context.Context, key string) ([]byte, bool, error) {
	var payload []byte
	err := s.db.GetContext(ctx, &payload, `
		SELECT payload
		FROM savepop_idempotency
		WHERE key = $1 AND (expires_at IS NULL OR expires_at > $2)
	`, key, s.now())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return payload, true, nil
}

// SaveResult keeps the first live result for a key. An expired row is
// replaced.
func (s *Store) SaveResult(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	now := s.now()
	var expires sql.NullTime
	if ttl > 0 {
		expires = sql.NullTime{Time: now.Add(ttl), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO savepop_idempotency (key, payload, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE
		SET payload = EXCLUDED.payload, expires_at = EXCLUDED.expires_at
		WHERE savepop_idempotency.expires_at IS NOT NULL AND savepop_idempotency.expires_at <= $4
	`, key, payload, expires, now)
	return err
}
