package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/savepop/savepop/internal/app/domain/veto"
	"github.com/savepop/savepop/internal/app/storage"
)

const requestColumns = `id, requester_id, item, amount, reason, status, created_at, decided_at`

type requestRow struct {
	ID          string          `db:"id"`
	RequesterID string          `db:"requester_id"`
	Item        string          `db:"item"`
	Amount      decimal.Decimal `db:"amount"`
	Reason      string          `db:"reason"`
	Status      string          `db:"status"`
	CreatedAt   time.Time       `db:"created_at"`
	DecidedAt   sql.NullTime    `db:"decided_at"`
}

func (r requestRow) toRequest(votes []veto.Vote) veto.Request {
	if votes == nil {
		votes = []veto.Vote{}
	}
	return veto.Request{
		ID:          r.ID,
		RequesterID: r.RequesterID,
		Item:        r.Item,
		Amount:      r.Amount,
		Reason:      r.Reason,
		Votes:       votes,
		Status:      veto.Status(r.Status),
		CreatedAt:   r.CreatedAt.UTC(),
		DecidedAt:   fromNullTime(r.DecidedAt),
	}
}

type voteRow struct {
	RequestID string    `db:"request_id"`
	VoterID   string    `db:"voter_id"`
	Verdict   string    `db:"verdict"`
	CastAt    time.Time `db:"cast_at"`
}

func (r voteRow) toVote() veto.Vote {
	return veto.Vote{VoterID: r.VoterID, Verdict: veto.Verdict(r.Verdict), CastAt: r.CastAt.UTC()}
}

func loadVotes(ctx context.Context, q sqlx.QueryerContext, requestID string) ([]veto.Vote, error) {
	var rows []voteRow
	if err := sqlx.SelectContext(ctx, q, &rows, `
		SELECT request_id, voter_id, verdict, cast_at
		FROM savepop_veto_votes
		WHERE request_id = $1
		ORDER BY position
	`, requestID); err != nil {
		return nil, err
	}
	votes := make([]veto.Vote, 0, len(rows))
	for _, row := range rows {
		votes = append(votes, row.toVote())
	}
	return votes, nil
}

func insertVotes(ctx context.Context, tx *sqlx.Tx, requestID string, votes []veto.Vote, from int) error {
	for i := from; i < len(votes); i++ {
		v := votes[i]
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO savepop_veto_votes (request_id, voter_id, verdict, position, cast_at)
			VALUES ($1, $2, $3, $4, $5)
		`, requestID, v.VoterID, string(v.Verdict), i, v.CastAt); err != nil {
			return fmt.Errorf("insert vote: %w", err)
		}
	}
	return nil
}

// --- VetoStore --------------------------------------------------------------

func (s *Store) CreateRequest(ctx context.Context, req veto.Request) (veto.Request, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = s.now()
	}
	if req.Status == "" {
		req.Status = veto.StatusPending
	}
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO savepop_veto_requests (`+requestColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, req.ID, req.RequesterID, req.Item, req.Amount, req.Reason, string(req.Status),
			req.CreatedAt, toNullTime(req.DecidedAt)); err != nil {
			return fmt.Errorf("insert veto request: %w", err)
		}
		return insertVotes(ctx, tx, req.ID, req.Votes, 0)
	})
	if err != nil {
		return veto.Request{}, err
	}
	return req.Clone(), nil
}

func (s *Store) GetRequest(ctx context.Context, id string) (veto.Request, error) {
	var row requestRow
	if err := s.db.GetContext(ctx, &row, `SELECT `+requestColumns+` FROM savepop_veto_requests WHERE id = $1`, id); err != nil {
		return veto.Request{}, notFound(err, "veto request", id)
	}
	votes, err := loadVotes(ctx, s.db, id)
	if err != nil {
		return veto.Request{}, err
	}
	return row.toRequest(votes), nil
}

// UpdateRequest treats votes as append-only: votes the mutator adds after the
// stored ones are inserted, earlier positions are never rewritten.
func (s *Store) UpdateRequest(ctx context.Context, id string, fn storage.RequestMutator) (veto.Request, error) {
	var updated veto.Request
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var row requestRow
		if err := tx.GetContext(ctx, &row, `SELECT `+requestColumns+` FROM savepop_veto_requests WHERE id = $1 FOR UPDATE`, id); err != nil {
			return notFound(err, "veto request", id)
		}
		votes, err := loadVotes(ctx, tx, id)
		if err != nil {
			return err
		}
		original := row.toRequest(votes)
		working := original.Clone()
		if err := fn(&working); err != nil {
			return err
		}
		working.ID = original.ID
		working.RequesterID = original.RequesterID
		working.CreatedAt = original.CreatedAt

		if _, err := tx.ExecContext(ctx, `
			UPDATE savepop_veto_requests
			SET item = $2, amount = $3, reason = $4, status = $5, decided_at = $6
			WHERE id = $1
		`, id, working.Item, working.Amount, working.Reason, string(working.Status),
			toNullTime(working.DecidedAt)); err != nil {
			return fmt.Errorf("update veto request: %w", err)
		}
		if err := insertVotes(ctx, tx, id, working.Votes, len(original.Votes)); err != nil {
			return err
		}
		updated = working
		return nil
	})
	if err != nil {
		return veto.Request{}, err
	}
	return updated, nil
}

func (s *Store) ListVisibleRequests(ctx context.Context, viewerID string) ([]veto.Request, error) {
	var rows []requestRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT `+requestColumns+`
		FROM savepop_veto_requests
		WHERE status = $1 OR requester_id = $2
		ORDER BY created_at DESC, id DESC
	`, string(veto.StatusPending), viewerID); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return []veto.Request{}, nil
	}

	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}
	var voteRows []voteRow
	if err := s.db.SelectContext(ctx, &voteRows, `
		SELECT request_id, voter_id, verdict, cast_at
		FROM savepop_veto_votes
		WHERE request_id = ANY($1)
		ORDER BY request_id, position
	`, pq.Array(ids)); err != nil {
		return nil, err
	}
	byRequest := make(map[string][]veto.Vote, len(rows))
	for _, v := range voteRows {
		byRequest[v.RequestID] = append(byRequest[v.RequestID], v.toVote())
	}

	result := make([]veto.Request, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toRequest(byRequest[row.ID]))
	}
	return result, nil
}

func (s *Store) CountApprovalsBy(ctx context.Context, voterID string) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, `
		SELECT COUNT(*) FROM savepop_veto_votes WHERE voter_id = $1 AND verdict = $2
	`, voterID, string(veto.VerdictApprove)); err != nil {
		return 0, err
	}
	return n, nil
}
