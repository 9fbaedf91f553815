package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/savepop/savepop/internal/app/domain/quest"
	"github.com/savepop/savepop/internal/app/storage"
)

const assignmentColumns = `id, user_id, kind, status, accepted_at, expires_at, completed_at`

type assignmentRow struct {
	ID          string       `db:"id"`
	UserID      string       `db:"user_id"`
	Kind        string       `db:"kind"`
	Status      string       `db:"status"`
	AcceptedAt  time.Time    `db:"accepted_at"`
	ExpiresAt   time.Time    `db:"expires_at"`
	CompletedAt sql.NullTime `db:"completed_at"`
}

func (r assignmentRow) toAssignment() quest.Assignment {
	return quest.Assignment{
		ID:          r.ID,
		UserID:      r.UserID,
		Kind:        r.Kind,
		Status:      quest.Status(r.Status),
		AcceptedAt:  r.AcceptedAt.UTC(),
		ExpiresAt:   r.ExpiresAt.UTC(),
		CompletedAt: fromNullTime(r.CompletedAt),
	}
}

// --- QuestStore -------------------------------------------------------------

func (s *Store) CreateAssignment(ctx context.Context, a quest.Assignment) (quest.Assignment, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO savepop_quest_assignments (`+assignmentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, a.ID, a.UserID, a.Kind, string(a.Status), a.AcceptedAt, a.ExpiresAt, toNullTime(a.CompletedAt)); err != nil {
		return quest.Assignment{}, fmt.Errorf("insert quest assignment: %w", err)
	}
	return a, nil
}

func (s *Store) GetAssignment(ctx context.Context, id string) (quest.Assignment, error) {
	var row assignmentRow
	if err := s.db.GetContext(ctx, &row, `SELECT `+assignmentColumns+` FROM savepop_quest_assignments WHERE id = $1`, id); err != nil {
		return quest.Assignment{}, notFound(err, "quest assignment", id)
	}
	return row.toAssignment(), nil
}

func (s *Store) UpdateAssignment(ctx context.Context, id string, fn storage.AssignmentMutator) (quest.Assignment, error) {
	var updated quest.Assignment
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var row assignmentRow
		if err := tx.GetContext(ctx, &row, `SELECT `+assignmentColumns+` FROM savepop_quest_assignments WHERE id = $1 FOR UPDATE`, id); err != nil {
			return notFound(err, "quest assignment", id)
		}
		original := row.toAssignment()
		working := original
		if err := fn(&working); err != nil {
			return err
		}
		working.ID = original.ID
		working.UserID = original.UserID

		if _, err := tx.ExecContext(ctx, `
			UPDATE savepop_quest_assignments
			SET kind = $2, status = $3, accepted_at = $4, expires_at = $5, completed_at = $6
			WHERE id = $1
		`, id, working.Kind, string(working.Status), working.AcceptedAt, working.ExpiresAt,
			toNullTime(working.CompletedAt)); err != nil {
			return fmt.Errorf("update quest assignment: %w", err)
		}
		updated = working
		return nil
	})
	if err != nil {
		return quest.Assignment{}, err
	}
	return updated, nil
}

func (s *Store) ListAssignments(ctx context.Context, userID string) ([]quest.Assignment, error) {
	var rows []assignmentRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT `+assignmentColumns+`
		FROM savepop_quest_assignments
		WHERE user_id = $1
		ORDER BY accepted_at DESC
	`, userID); err != nil {
		return nil, err
	}
	result := make([]quest.Assignment, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toAssignment())
	}
	return result, nil
}

func (s *Store) ExpireAssignments(ctx context.Context, now time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE savepop_quest_assignments
		SET status = $1
		WHERE status = $2 AND expires_at < $3
	`, string(quest.StatusExpired), string(quest.StatusAccepted), now)
	if err != nil {
		return 0, fmt.Errorf("expire quest assignments: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}
