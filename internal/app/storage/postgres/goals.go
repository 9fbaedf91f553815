package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/savepop/savepop/internal/app/domain/goal"
	"github.com/savepop/savepop/internal/app/storage"
	apperrors "github.com/savepop/savepop/internal/errors"
)

const goalColumns = `id, user_id, name, category, target_amount, current_amount, target_date,
	status, queue_order, total_levels, level_thresholds, current_level, rewarded_level, daily_target, copy,
	saved_today, last_saved_on, completed_at, created_at, updated_at`

const insertGoalSQL = `
	INSERT INTO savepop_goals (` + goalColumns + `)
	VALUES (:id, :user_id, :name, :category, :target_amount, :current_amount, :target_date,
		:status, :queue_order, :total_levels, :level_thresholds, :current_level, :rewarded_level, :daily_target, :copy,
		:saved_today, :last_saved_on, :completed_at, :created_at, :updated_at)
`

const updateGoalSQL = `
	UPDATE savepop_goals
	SET name = :name, category = :category, target_amount = :target_amount,
		current_amount = :current_amount, target_date = :target_date, status = :status,
		queue_order = :queue_order, total_levels = :total_levels, level_thresholds = :level_thresholds,
		current_level = :current_level, rewarded_level = :rewarded_level, daily_target = :daily_target, copy = :copy,
		saved_today = :saved_today, last_saved_on = :last_saved_on, completed_at = :completed_at,
		updated_at = :updated_at
	WHERE id = :id
`

// goalRow mirrors savepop_goals. JSONB columns travel as strings because
// lib/pq encodes []byte as bytea.
type goalRow struct {
	ID            string          `db:"id"`
	UserID        string          `db:"user_id"`
	Name          string          `db:"name"`
	Category      string          `db:"category"`
	TargetAmount  decimal.Decimal `db:"target_amount"`
	CurrentAmount decimal.Decimal `db:"current_amount"`
	TargetDate    sql.NullTime    `db:"target_date"`
	Status        string          `db:"status"`
	Order         int             `db:"queue_order"`
	TotalLevels   int             `db:"total_levels"`
	Thresholds    string          `db:"level_thresholds"`
	CurrentLevel  int             `db:"current_level"`
	RewardedLevel int             `db:"rewarded_level"`
	DailyTarget   decimal.Decimal `db:"daily_target"`
	Copy          string          `db:"copy"`
	SavedToday    decimal.Decimal `db:"saved_today"`
	LastSavedOn   sql.NullTime    `db:"last_saved_on"`
	CompletedAt   sql.NullTime    `db:"completed_at"`
	CreatedAt     time.Time       `db:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at"`
}

func goalRowFrom(g goal.Goal) (goalRow, error) {
	thresholds := g.Thresholds
	if thresholds == nil {
		thresholds = []decimal.Decimal{}
	}
	thresholdsJSON, err := json.Marshal(thresholds)
	if err != nil {
		return goalRow{}, fmt.Errorf("encode thresholds: %w", err)
	}
	copyJSON, err := json.Marshal(g.Copy)
	if err != nil {
		return goalRow{}, fmt.Errorf("encode copy: %w", err)
	}
	return goalRow{
		ID:            g.ID,
		UserID:        g.UserID,
		Name:          g.Name,
		Category:      string(g.Category),
		TargetAmount:  g.TargetAmount,
		CurrentAmount: g.CurrentAmount,
		TargetDate:    toNullTime(g.TargetDate),
		Status:        string(g.Status),
		Order:         g.Order,
		TotalLevels:   g.TotalLevels,
		Thresholds:    string(thresholdsJSON),
		CurrentLevel:  g.CurrentLevel,
		RewardedLevel: g.RewardedLevel,
		DailyTarget:   g.DailyTarget,
		Copy:          string(copyJSON),
		SavedToday:    g.SavedToday,
		LastSavedOn:   toNullTime(g.LastSavedOn),
		CompletedAt:   toNullTime(g.CompletedAt),
		CreatedAt:     g.CreatedAt,
		UpdatedAt:     g.UpdatedAt,
	}, nil
}

func (r goalRow) toGoal() (goal.Goal, error) {
	var thresholds []decimal.Decimal
	if r.Thresholds != "" {
		if err := json.Unmarshal([]byte(r.Thresholds), &thresholds); err != nil {
			return goal.Goal{}, fmt.Errorf("decode thresholds for goal %s: %w", r.ID, err)
		}
	}
	var cp goal.Copy
	if r.Copy != "" {
		if err := json.Unmarshal([]byte(r.Copy), &cp); err != nil {
			return goal.Goal{}, fmt.Errorf("decode copy for goal %s: %w", r.ID, err)
		}
	}
	return goal.Goal{
		ID:            r.ID,
		UserID:        r.UserID,
		Name:          r.Name,
		Category:      goal.Category(r.Category),
		TargetAmount:  r.TargetAmount,
		CurrentAmount: r.CurrentAmount,
		TargetDate:    fromNullTime(r.TargetDate),
		Status:        goal.Status(r.Status),
		Order:         r.Order,
		TotalLevels:   r.TotalLevels,
		Thresholds:    thresholds,
		CurrentLevel:  r.CurrentLevel,
		RewardedLevel: r.RewardedLevel,
		DailyTarget:   r.DailyTarget,
		Copy:          cp,
		SavedToday:    r.SavedToday,
		LastSavedOn:   fromNullTime(r.LastSavedOn),
		CompletedAt:   fromNullTime(r.CompletedAt),
		CreatedAt:     r.CreatedAt.UTC(),
		UpdatedAt:     r.UpdatedAt.UTC(),
	}, nil
}

// --- GoalStore --------------------------------------------------------------

func (s *Store) CreateGoal(ctx context.Context, g goal.Goal) (goal.Goal, error) {
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	if g.CreatedAt.IsZero() {
		g.CreatedAt = s.now()
	}
	g.UpdatedAt = g.CreatedAt

	row, err := goalRowFrom(g)
	if err != nil {
		return goal.Goal{}, err
	}
	if _, err := s.db.NamedExecContext(ctx, insertGoalSQL, row); err != nil {
		return goal.Goal{}, fmt.Errorf("insert goal: %w", err)
	}
	return g.Clone(), nil
}

func (s *Store) GetGoal(ctx context.Context, id string) (goal.Goal, error) {
	var row goalRow
	err := s.db.GetContext(ctx, &row, `SELECT `+goalColumns+` FROM savepop_goals WHERE id = $1`, id)
	if err != nil {
		return goal.Goal{}, notFound(err, "goal", id)
	}
	return row.toGoal()
}

func (s *Store) ListGoals(ctx context.Context, userID string) ([]goal.Goal, error) {
	var rows []goalRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+goalColumns+`
		FROM savepop_goals
		WHERE user_id = $1
		ORDER BY queue_order, created_at
	`, userID)
	if err != nil {
		return nil, err
	}
	result := make([]goal.Goal, 0, len(rows))
	for _, row := range rows {
		g, err := row.toGoal()
		if err != nil {
			return nil, err
		}
		result = append(result, g)
	}
	return result, nil
}

func (s *Store) UpdateGoal(ctx context.Context, id string, fn storage.GoalMutator) (goal.Goal, error) {
	var updated goal.Goal
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var row goalRow
		if err := tx.GetContext(ctx, &row, `SELECT `+goalColumns+` FROM savepop_goals WHERE id = $1 FOR UPDATE`, id); err != nil {
			return notFound(err, "goal", id)
		}
		original, err := row.toGoal()
		if err != nil {
			return err
		}
		working := original.Clone()
		if err := fn(&working); err != nil {
			return err
		}
		working.ID = original.ID
		working.UserID = original.UserID
		working.CreatedAt = original.CreatedAt
		working.UpdatedAt = s.now()

		next, err := goalRowFrom(working)
		if err != nil {
			return err
		}
		if _, err := tx.NamedExecContext(ctx, updateGoalSQL, next); err != nil {
			return fmt.Errorf("update goal: %w", err)
		}
		updated = working
		return nil
	})
	if err != nil {
		return goal.Goal{}, err
	}
	return updated, nil
}

func (s *Store) DeleteGoal(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM savepop_goals WHERE id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return apperrors.NotFound("goal", id)
	}
	return nil
}

func (s *Store) ListGoalOwners(ctx context.Context) ([]string, error) {
	owners := make([]string, 0)
	if err := s.db.SelectContext(ctx, &owners, `SELECT DISTINCT user_id FROM savepop_goals ORDER BY user_id`); err != nil {
		return nil, err
	}
	return owners, nil
}
