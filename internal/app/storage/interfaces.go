package storage

import (
	"context"
	"time"

	"github.com/savepop/savepop/internal/app/domain/goal"
	"github.com/savepop/savepop/internal/app/domain/grid"
	"github.com/savepop/savepop/internal/app/domain/quest"
	"github.com/savepop/savepop/internal/app/domain/reward"
	"github.com/savepop/savepop/internal/app/domain/veto"
)

// GoalMutator edits a goal in place. Returning an error aborts the update and
// leaves the stored goal untouched.
type GoalMutator func(g *goal.Goal) error

// GoalStore persists savings goals. UpdateGoal is the only way to change an
// existing goal and runs the mutator against the latest persisted state.
type GoalStore interface {
	CreateGoal(ctx context.Context, g goal.Goal) (goal.Goal, error)
	GetGoal(ctx context.Context, id string) (goal.Goal, error)
	ListGoals(ctx context.Context, userID string) ([]goal.Goal, error)
	UpdateGoal(ctx context.Context, id string, fn GoalMutator) (goal.Goal, error)
	DeleteGoal(ctx context.Context, id string) error
	ListGoalOwners(ctx context.Context) ([]string, error)
}

// BalanceMutator validates and edits a balance in place.
type BalanceMutator func(b *reward.Balance) error

// LedgerStore persists balances and the entries that produced them.
type LedgerStore interface {
	// GetBalance returns a zero balance for users that have never earned.
	GetBalance(ctx context.Context, userID string) (reward.Balance, error)
	// MutateBalance runs fn against the latest balance and records entry in the
	// same atomic step. When entry carries an idempotency key that was already
	// recorded, nothing is applied and applied is false.
	MutateBalance(ctx context.Context, userID string, entry *reward.Entry, fn BalanceMutator) (bal reward.Balance, applied bool, err error)
	ListBalances(ctx context.Context, limit int) ([]reward.Balance, error)
	CountPointsAbove(ctx context.Context, points int64) (int, error)
	ListEntries(ctx context.Context, userID string, limit int) ([]reward.Entry, error)
}

// GridStore persists placement boards.
type GridStore interface {
	// GetBoard returns an empty board for users without placements.
	GetBoard(ctx context.Context, userID string) (grid.Board, error)
	// PlaceCell fills a cell only if it is empty; otherwise it returns an
	// AlreadyOccupied error.
	PlaceCell(ctx context.Context, p grid.Placement) (grid.Board, error)
}

// RequestMutator edits a veto request in place.
type RequestMutator func(r *veto.Request) error

// VetoStore persists veto requests and their votes.
type VetoStore interface {
	CreateRequest(ctx context.Context, req veto.Request) (veto.Request, error)
	GetRequest(ctx context.Context, id string) (veto.Request, error)
	UpdateRequest(ctx context.Context, id string, fn RequestMutator) (veto.Request, error)
	// ListVisibleRequests returns every pending request plus the viewer's own,
	// newest first.
	ListVisibleRequests(ctx context.Context, viewerID string) ([]veto.Request, error)
	// CountApprovalsBy counts approve votes cast by voter across all requests.
	CountApprovalsBy(ctx context.Context, voterID string) (int, error)
}

// AssignmentMutator edits a quest assignment in place.
type AssignmentMutator func(a *quest.Assignment) error

// QuestStore persists accepted side quests.
type QuestStore interface {
	CreateAssignment(ctx context.Context, a quest.Assignment) (quest.Assignment, error)
	GetAssignment(ctx context.Context, id string) (quest.Assignment, error)
	UpdateAssignment(ctx context.Context, id string, fn AssignmentMutator) (quest.Assignment, error)
	ListAssignments(ctx context.Context, userID string) ([]quest.Assignment, error)
	// ExpireAssignments marks every accepted assignment past its deadline as
	// expired and returns how many changed.
	ExpireAssignments(ctx context.Context, now time.Time) (int, error)
}

// IdempotencyStore remembers the outcome of keyed requests so retries can be
// answered without re-applying them.
type IdempotencyStore interface {
	LoadResult(ctx context.Context, key string) ([]byte, bool, error)
	SaveResult(ctx context.Context, key string, payload []byte, ttl time.Duration) error
}
