package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/savepop/savepop/internal/app/domain/grid"
	apperrors "github.com/savepop/savepop/internal/errors"
)

type cellRow struct {
	Cell     int       `db:"cell"`
	Item     string    `db:"item"`
	PlacedAt time.Time `db:"placed_at"`
}

// --- GridStore --------------------------------------------------------------

func (s *Store) GetBoard(ctx context.Context, userID string) (grid.Board, error) {
	var rows []cellRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT cell, item, placed_at
		FROM savepop_grid_cells
		WHERE user_id = $1
	`, userID); err != nil {
		return grid.Board{}, err
	}
	board := grid.Board{UserID: userID, Cells: make(map[int]string, len(rows))}
	for _, row := range rows {
		board.Cells[row.Cell] = row.Item
		if row.PlacedAt.After(board.UpdatedAt) {
			board.UpdatedAt = row.PlacedAt.UTC()
		}
	}
	return board, nil
}

func (s *Store) PlaceCell(ctx context.Context, p grid.Placement) (grid.Board, error) {
	if p.PlacedAt.IsZero() {
		p.PlacedAt = s.now()
	}
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO savepop_grid_cells (user_id, cell, item, placed_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, cell) DO NOTHING
	`, p.UserID, p.Cell, p.Item, p.PlacedAt)
	if err != nil {
		return grid.Board{}, fmt.Errorf("place cell: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return grid.Board{}, err
	}
	if affected == 0 {
		return grid.Board{}, apperrors.AlreadyOccupied(p.Cell)
	}
	return s.GetBoard(ctx, p.UserID)
}
