package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/savepop/savepop/internal/app/domain/reward"
	"github.com/savepop/savepop/internal/app/storage"
)

const balanceColumns = `user_id, points, coins, streak, longest_streak, last_active_on, updated_at`

var errDuplicateEntry = errors.New("ledger entry already recorded")

type balanceRow struct {
	UserID        string       `db:"user_id"`
	Points        int64        `db:"points"`
	Coins         int64        `db:"coins"`
	Streak        int          `db:"streak"`
	LongestStreak int          `db:"longest_streak"`
	LastActiveOn  sql.NullTime `db:"last_active_on"`
	UpdatedAt     time.Time    `db:"updated_at"`
}

func (r balanceRow) toBalance() reward.Balance {
	return reward.Balance{
		UserID:        r.UserID,
		Points:        r.Points,
		Coins:         r.Coins,
		Streak:        r.Streak,
		LongestStreak: r.LongestStreak,
		LastActiveOn:  fromNullTime(r.LastActiveOn),
		UpdatedAt:     r.UpdatedAt.UTC(),
	}
}

type entryRow struct {
	ID             string         `db:"id"`
	UserID         string         `db:"user_id"`
	Points         int64          `db:"points"`
	Coins          int64          `db:"coins"`
	Reason         string         `db:"reason"`
	IdempotencyKey sql.NullString `db:"idempotency_key"`
	CreatedAt      time.Time      `db:"created_at"`
}

func loadBalance(ctx context.Context, q sqlx.QueryerContext, userID string) (reward.Balance, error) {
	var row balanceRow
	err := sqlx.GetContext(ctx, q, &row, `SELECT `+balanceColumns+` FROM savepop_balances WHERE user_id = $1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return reward.Balance{UserID: userID}, nil
	}
	if err != nil {
		return reward.Balance{}, err
	}
	return row.toBalance(), nil
}

// --- LedgerStore ------------------------------------------------------------

func (s *Store) GetBalance(ctx context.Context, userID string) (reward.Balance, error) {
	return loadBalance(ctx, s.db, userID)
}

func (s *Store) MutateBalance(ctx context.Context, userID string, entry *reward.Entry, fn storage.BalanceMutator) (reward.Balance, bool, error) {
	var (
		result  reward.Balance
		applied bool
	)
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		if entry != nil && entry.IdempotencyKey != "" {
			var seen bool
			if err := tx.GetContext(ctx, &seen, `
				SELECT EXISTS (SELECT 1 FROM savepop_ledger_entries WHERE idempotency_key = $1)
			`, entry.IdempotencyKey); err != nil {
				return err
			}
			if seen {
				bal, err := loadBalance(ctx, tx, userID)
				result = bal
				return err
			}
		}

		now := s.now()
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO savepop_balances (user_id, updated_at)
			VALUES ($1, $2)
			ON CONFLICT (user_id) DO NOTHING
		`, userID, now); err != nil {
			return fmt.Errorf("ensure balance: %w", err)
		}

		var row balanceRow
		if err := tx.GetContext(ctx, &row, `SELECT `+balanceColumns+` FROM savepop_balances WHERE user_id = $1 FOR UPDATE`, userID); err != nil {
			return err
		}
		working := row.toBalance()
		if fn != nil {
			if err := fn(&working); err != nil {
				return err
			}
		}
		working.UserID = userID
		working.UpdatedAt = now

		if _, err := tx.ExecContext(ctx, `
			UPDATE savepop_balances
			SET points = $2, coins = $3, streak = $4, longest_streak = $5, last_active_on = $6, updated_at = $7
			WHERE user_id = $1
		`, userID, working.Points, working.Coins, working.Streak, working.LongestStreak,
			toNullTime(working.LastActiveOn), working.UpdatedAt); err != nil {
			return fmt.Errorf("update balance: %w", err)
		}

		if entry != nil {
			rec := *entry
			if rec.ID == "" {
				rec.ID = uuid.NewString()
			}
			if rec.CreatedAt.IsZero() {
				rec.CreatedAt = now
			}
			_, err := tx.ExecContext(ctx, `
				INSERT INTO savepop_ledger_entries (id, user_id, points, coins, reason, idempotency_key, created_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7)
			`, rec.ID, userID, rec.Points, rec.Coins, rec.Reason, toNullString(rec.IdempotencyKey), rec.CreatedAt)
			if isUniqueViolation(err) {
				return errDuplicateEntry
			}
			if err != nil {
				return fmt.Errorf("insert ledger entry: %w", err)
			}
		}
		result = working
		applied = true
		return nil
	})

	// A concurrent writer recorded the same key between our check and insert.
	if errors.Is(err, errDuplicateEntry) {
		bal, err := s.GetBalance(ctx, userID)
		return bal, false, err
	}
	if err != nil {
		return reward.Balance{}, false, err
	}
	return result, applied, nil
}

func (s *Store) ListBalances(ctx context.Context, limit int) ([]reward.Balance, error) {
	query := `SELECT ` + balanceColumns + ` FROM savepop_balances ORDER BY points DESC, user_id`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}
	var rows []balanceRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	result := make([]reward.Balance, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toBalance())
	}
	return result, nil
}

func (s *Store) CountPointsAbove(ctx context.Context, points int64) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM savepop_balances WHERE points > $1`, points); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *Store) ListEntries(ctx context.Context, userID string, limit int) ([]reward.Entry, error) {
	query := `
		SELECT id, user_id, points, coins, reason, idempotency_key, created_at
		FROM savepop_ledger_entries
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC`
	args := []any{userID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	var rows []entryRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	result := make([]reward.Entry, 0, len(rows))
	for _, row := range rows {
		result = append(result, reward.Entry{
			ID:             row.ID,
			UserID:         row.UserID,
			Points:         row.Points,
			Coins:          row.Coins,
			Reason:         row.Reason,
			IdempotencyKey: row.IdempotencyKey.String,
			CreatedAt:      row.CreatedAt.UTC(),
		})
	}
	return result, nil
}
