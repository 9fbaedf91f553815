package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/savepop/savepop/internal/app/storage"
	apperrors "github.com/savepop/savepop/internal/errors"
)

// Store implements the storage interfaces backed by PostgreSQL. Mutators run
// inside a transaction that locks the target row with SELECT ... FOR UPDATE.
type Store struct {
	db  *sqlx.DB
	now func() time.Time
}

var _ storage.GoalStore = (*Store)(nil)
var _ storage.LedgerStore = (*Store)(nil)
var _ storage.GridStore = (*Store)(nil)
var _ storage.VetoStore = (*Store)(nil)
var _ storage.QuestStore = (*Store)(nil)
var _ storage.IdempotencyStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{
		db:  sqlx.NewDb(db, "postgres"),
		now: func() time.Time { return time.Now().UTC() },
	}
}

// DB exposes the underlying handle, mainly for migrations.
func (s *Store) DB() *sql.DB {
	return s.db.DB
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func notFound(err error, resource, id string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return apperrors.NotFound(resource, id)
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func toNullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func fromNullTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

func toNullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
