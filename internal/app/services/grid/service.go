package grid

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/savepop/savepop/internal/app/core/keylock"
	"github.com/savepop/savepop/internal/app/core/service"
	"github.com/savepop/savepop/internal/app/domain/grid"
	"github.com/savepop/savepop/internal/app/domain/reward"
	"github.com/savepop/savepop/internal/app/events"
	"github.com/savepop/savepop/internal/app/metrics"
	"github.com/savepop/savepop/internal/app/services/ledger"
	"github.com/savepop/savepop/internal/app/storage"
	"github.com/savepop/savepop/internal/errors"
	"github.com/savepop/savepop/pkg/logger"
)

const maxItemLength = 64

// ApprovalCounter reports how many approve votes a user has cast.
type ApprovalCounter interface {
	CountApprovalsBy(ctx context.Context, voterID string) (int, error)
}

// View is a board together with its derived tally.
type View struct {
	Board grid.Board `json:"board"`
	Tally grid.Tally `json:"tally"`
}

// Service runs the placement grid economy.
type Service struct {
	store     storage.GridStore
	ledger    *ledger.Service
	approvals ApprovalCounter
	events    events.Publisher
	locks     *keylock.Locker
	log       *logger.Logger
	now       func() time.Time
}

// New creates a grid service. approvals may be nil when no court is wired, in
// which case no approve tokens are ever consumed.
func New(store storage.GridStore, ledgerSvc *ledger.Service, approvals ApprovalCounter, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("grid")
	}
	return &Service{
		store:     store,
		ledger:    ledgerSvc,
		approvals: approvals,
		events:    events.Nop{},
		locks:     keylock.New(),
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// WithEvents publishes placement events to p.
func (s *Service) WithEvents(p events.Publisher) *Service {
	s.events = events.OrNop(p)
	return s
}

func (s *Service) Descriptor() service.Descriptor {
	return service.Descriptor{
		Name:         "grid",
		Domain:       "economy",
		Layer:        service.LayerGameplay,
		Capabilities: []string{"place", "tokens"},
		DependsOn:    []string{"ledger"},
	}
}

// Place buys a cell for item. Checks run in order: index, item, occupancy,
// funds. The purchase and the cell write are separate commits; a cell write
// that loses a race after payment is refunded.
func (s *Service) Place(ctx context.Context, userID string, cell int, item string) (View, error) {
	if strings.TrimSpace(userID) == "" {
		return View{}, errors.Unauthenticated("user id required")
	}
	if cell < 0 || cell >= grid.Size {
		metrics.RecordPlacement("invalid")
		return View{}, errors.InvalidIndex(cell, grid.Size)
	}
	item = strings.TrimSpace(item)
	if item == "" || len(item) > maxItemLength {
		metrics.RecordPlacement("invalid")
		return View{}, errors.InvalidItem(fmt.Sprintf("item label must be 1-%d characters", maxItemLength))
	}

	unlock := s.locks.Lock(userID)
	defer unlock()

	board, err := s.store.GetBoard(ctx, userID)
	if err != nil {
		return View{}, err
	}
	if _, taken := board.Cells[cell]; taken {
		metrics.RecordPlacement("occupied")
		return View{}, errors.AlreadyOccupied(cell)
	}

	if _, err := s.ledger.Award(ctx, userID, reward.ActivityGridPlacement, ledger.Options{}); err != nil {
		metrics.RecordPlacement("rejected")
		return View{}, err
	}

	board, err = s.store.PlaceCell(ctx, grid.Placement{UserID: userID, Cell: cell, Item: item, PlacedAt: s.now()})
	if err != nil {
		s.refund(ctx, userID, cell)
		metrics.RecordPlacement("rejected")
		return View{}, err
	}

	view, err := s.view(ctx, board)
	if err != nil {
		return View{}, err
	}
	metrics.RecordPlacement("placed")
	s.events.Publish(ctx, events.New(events.GridPlaced, userID, map[string]any{
		"cell":  cell,
		"item":  item,
		"tally": view.Tally,
	}))
	s.log.WithField("user_id", userID).
		WithField("cell", cell).
		WithField("item", item).
		Info("grid cell placed")
	return view, nil
}

// Board returns the user's board and tally.
func (s *Service) Board(ctx context.Context, userID string) (View, error) {
	board, err := s.store.GetBoard(ctx, userID)
	if err != nil {
		return View{}, err
	}
	return s.view(ctx, board)
}

// Tokens returns only the derived tally. It satisfies the court's TokenSource.
func (s *Service) Tokens(ctx context.Context, userID string) (grid.Tally, error) {
	view, err := s.Board(ctx, userID)
	if err != nil {
		return grid.Tally{}, err
	}
	return view.Tally, nil
}

func (s *Service) view(ctx context.Context, board grid.Board) (View, error) {
	spent := 0
	if s.approvals != nil {
		n, err := s.approvals.CountApprovalsBy(ctx, board.UserID)
		if err != nil {
			return View{}, fmt.Errorf("count approvals: %w", err)
		}
		spent = n
	}
	return View{Board: board, Tally: grid.Compute(board.Cells, spent)}, nil
}

// refund returns the coins for a placement whose cell write failed. The
// points stay credited.
func (s *Service) refund(ctx context.Context, userID string, cell int) {
	key := fmt.Sprintf("grid-refund:%s:%d:%d", userID, cell, s.now().UnixNano())
	if _, err := s.ledger.Credit(ctx, userID, 0, grid.PlacementCost, ledger.Options{Reason: "grid_refund", IdempotencyKey: key}); err != nil {
		s.log.WithError(err).WithField("user_id", userID).WithField("cell", cell).Error("grid refund failed")
	}
}
