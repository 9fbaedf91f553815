package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/savepop/savepop/internal/app/domain/goal"
	"github.com/savepop/savepop/internal/app/domain/grid"
	"github.com/savepop/savepop/internal/app/domain/quest"
	"github.com/savepop/savepop/internal/app/domain/reward"
	"github.com/savepop/savepop/internal/app/domain/veto"
	"github.com/savepop/savepop/internal/app/storage"
	"github.com/savepop/savepop/internal/errors"
)

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use and is primarily intended for tests and local development.
// Every mutator runs under the write lock, which gives each entity an atomic
// read-modify-write.
type Store struct {
	mu          sync.RWMutex
	nextID      int64
	goals       map[string]goal.Goal
	balances    map[string]reward.Balance
	entries     map[string][]reward.Entry
	entryKeys   map[string]struct{}
	boards      map[string]map[int]grid.Placement
	requests    map[string]veto.Request
	requestSeq  []string
	assignments map[string]quest.Assignment
	results     map[string]cachedResult
	now         func() time.Time
}

type cachedResult struct {
	payload   []byte
	expiresAt time.Time
}

var _ storage.GoalStore = (*Store)(nil)
var _ storage.LedgerStore = (*Store)(nil)
var _ storage.GridStore = (*Store)(nil)
var _ storage.VetoStore = (*Store)(nil)
var _ storage.QuestStore = (*Store)(nil)
var _ storage.IdempotencyStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		nextID:      1,
		goals:       make(map[string]goal.Goal),
		balances:    make(map[string]reward.Balance),
		entries:     make(map[string][]reward.Entry),
		entryKeys:   make(map[string]struct{}),
		boards:      make(map[string]map[int]grid.Placement),
		requests:    make(map[string]veto.Request),
		assignments: make(map[string]quest.Assignment),
		results:     make(map[string]cachedResult),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) nextIDLocked() string {
	id := s.nextID
	s.nextID++
	return fmt.Sprintf("%d", id)
}

// GoalStore implementation ----------------------------------------------------

func (s *Store) CreateGoal(_ context.Context, g goal.Goal) (goal.Goal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if g.ID == "" {
		g.ID = s.nextIDLocked()
	} else if _, exists := s.goals[g.ID]; exists {
		return goal.Goal{}, fmt.Errorf("goal %s already exists", g.ID)
	}
	now := s.now()
	if g.CreatedAt.IsZero() {
		g.CreatedAt = now
	}
	g.UpdatedAt = g.CreatedAt

	s.goals[g.ID] = g.Clone()
	return g.Clone(), nil
}

func (s *Store) GetGoal(_ context.Context, id string) (goal.Goal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.goals[id]
	if !ok {
		return goal.Goal{}, errors.NotFound("goal", id)
	}
	return g.Clone(), nil
}

func (s *Store) ListGoals(_ context.Context, userID string) ([]goal.Goal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]goal.Goal, 0)
	for _, g := range s.goals {
		if g.UserID == userID {
			result = append(result, g.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Order != result[j].Order {
			return result[i].Order < result[j].Order
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (s *Store) UpdateGoal(_ context.Context, id string, fn storage.GoalMutator) (goal.Goal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.goals[id]
	if !ok {
		return goal.Goal{}, errors.NotFound("goal", id)
	}
	working := original.Clone()
	if err := fn(&working); err != nil {
		return goal.Goal{}, err
	}
	working.ID = original.ID
	working.UserID = original.UserID
	working.CreatedAt = original.CreatedAt
	working.UpdatedAt = s.now()

	s.goals[id] = working.Clone()
	return working, nil
}

func (s *Store) DeleteGoal(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.goals[id]; !ok {
		return errors.NotFound("goal", id)
	}
	delete(s.goals, id)
	return nil
}

func (s *Store) ListGoalOwners(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, g := range s.goals {
		seen[g.UserID] = struct{}{}
	}
	owners := make([]string, 0, len(seen))
	for id := range seen {
		owners = append(owners, id)
	}
	sort.Strings(owners)
	return owners, nil
}

// LedgerStore implementation --------------------------------------------------

func (s *Store) GetBalance(_ context.Context, userID string) (reward.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return cloneBalance(s.balanceLocked(userID)), nil
}

func (s *Store) balanceLocked(userID string) reward.Balance {
	bal, ok := s.balances[userID]
	if !ok {
		return reward.Balance{UserID: userID}
	}
	return bal
}

func (s *Store) MutateBalance(_ context.Context, userID string, entry *reward.Entry, fn storage.BalanceMutator) (reward.Balance, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry != nil && entry.IdempotencyKey != "" {
		if _, seen := s.entryKeys[entry.IdempotencyKey]; seen {
			return cloneBalance(s.balanceLocked(userID)), false, nil
		}
	}

	working := cloneBalance(s.balanceLocked(userID))
	if fn != nil {
		if err := fn(&working); err != nil {
			return reward.Balance{}, false, err
		}
	}
	working.UserID = userID
	working.UpdatedAt = s.now()
	s.balances[userID] = working

	if entry != nil {
		rec := *entry
		if rec.ID == "" {
			rec.ID = s.nextIDLocked()
		}
		rec.UserID = userID
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = working.UpdatedAt
		}
		s.entries[userID] = append(s.entries[userID], rec)
		if rec.IdempotencyKey != "" {
			s.entryKeys[rec.IdempotencyKey] = struct{}{}
		}
	}
	return cloneBalance(working), true, nil
}

func (s *Store) ListBalances(_ context.Context, limit int) ([]reward.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]reward.Balance, 0, len(s.balances))
	for _, bal := range s.balances {
		result = append(result, cloneBalance(bal))
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Points != result[j].Points {
			return result[i].Points > result[j].Points
		}
		return result[i].UserID < result[j].UserID
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CountPointsAbove(_ context.Context, points int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, bal := range s.balances {
		if bal.Points > points {
			n++
		}
	}
	return n, nil
}

func (s *Store) ListEntries(_ context.Context, userID string, limit int) ([]reward.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.entries[userID]
	result := make([]reward.Entry, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		result = append(result, all[i])
		if limit > 0 && len(result) == limit {
			break
		}
	}
	return result, nil
}

// GridStore implementation ----------------------------------------------------

func (s *Store) GetBoard(_ context.Context, userID string) (grid.Board, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.boardLocked(userID), nil
}

func (s *Store) boardLocked(userID string) grid.Board {
	board := grid.Board{UserID: userID, Cells: make(map[int]string)}
	for idx, p := range s.boards[userID] {
		board.Cells[idx] = p.Item
		if p.PlacedAt.After(board.UpdatedAt) {
			board.UpdatedAt = p.PlacedAt
		}
	}
	return board
}

func (s *Store) PlaceCell(_ context.Context, p grid.Placement) (grid.Board, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cells, ok := s.boards[p.UserID]
	if !ok {
		cells = make(map[int]grid.Placement)
		s.boards[p.UserID] = cells
	}
	if _, taken := cells[p.Cell]; taken {
		return grid.Board{}, errors.AlreadyOccupied(p.Cell)
	}
	if p.PlacedAt.IsZero() {
		p.PlacedAt = s.now()
	}
	cells[p.Cell] = p
	return s.boardLocked(p.UserID), nil
}

// VetoStore implementation ----------------------------------------------------

func (s *Store) CreateRequest(_ context.Context, req veto.Request) (veto.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if req.ID == "" {
		req.ID = s.nextIDLocked()
	} else if _, exists := s.requests[req.ID]; exists {
		return veto.Request{}, fmt.Errorf("veto request %s already exists", req.ID)
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = s.now()
	}
	s.requests[req.ID] = req.Clone()
	s.requestSeq = append(s.requestSeq, req.ID)
	return req.Clone(), nil
}

func (s *Store) GetRequest(_ context.Context, id string) (veto.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	req, ok := s.requests[id]
	if !ok {
		return veto.Request{}, errors.NotFound("veto request", id)
	}
	return req.Clone(), nil
}

func (s *Store) UpdateRequest(_ context.Context, id string, fn storage.RequestMutator) (veto.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.requests[id]
	if !ok {
		return veto.Request{}, errors.NotFound("veto request", id)
	}
	working := original.Clone()
	if err := fn(&working); err != nil {
		return veto.Request{}, err
	}
	working.ID = original.ID
	working.RequesterID = original.RequesterID
	working.CreatedAt = original.CreatedAt

	s.requests[id] = working.Clone()
	return working, nil
}

func (s *Store) ListVisibleRequests(_ context.Context, viewerID string) ([]veto.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]veto.Request, 0)
	for i := len(s.requestSeq) - 1; i >= 0; i-- {
		req := s.requests[s.requestSeq[i]]
		if req.Status == veto.StatusPending || req.RequesterID == viewerID {
			result = append(result, req.Clone())
		}
	}
	return result, nil
}

func (s *Store) CountApprovalsBy(_ context.Context, voterID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, req := range s.requests {
		for _, v := range req.Votes {
			if v.VoterID == voterID && v.Verdict == veto.VerdictApprove {
				n++
			}
		}
	}
	return n, nil
}

// QuestStore implementation ---------------------------------------------------

func (s *Store) CreateAssignment(_ context.Context, a quest.Assignment) (quest.Assignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a.ID == "" {
		a.ID = s.nextIDLocked()
	} else if _, exists := s.assignments[a.ID]; exists {
		return quest.Assignment{}, fmt.Errorf("quest assignment %s already exists", a.ID)
	}
	s.assignments[a.ID] = cloneAssignment(a)
	return cloneAssignment(a), nil
}

func (s *Store) GetAssignment(_ context.Context, id string) (quest.Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.assignments[id]
	if !ok {
		return quest.Assignment{}, errors.NotFound("quest assignment", id)
	}
	return cloneAssignment(a), nil
}

func (s *Store) UpdateAssignment(_ context.Context, id string, fn storage.AssignmentMutator) (quest.Assignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.assignments[id]
	if !ok {
		return quest.Assignment{}, errors.NotFound("quest assignment", id)
	}
	working := cloneAssignment(original)
	if err := fn(&working); err != nil {
		return quest.Assignment{}, err
	}
	working.ID = original.ID
	working.UserID = original.UserID
	s.assignments[id] = cloneAssignment(working)
	return working, nil
}

func (s *Store) ListAssignments(_ context.Context, userID string) ([]quest.Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]quest.Assignment, 0)
	for _, a := range s.assignments {
		if a.UserID == userID {
			result = append(result, cloneAssignment(a))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].AcceptedAt.After(result[j].AcceptedAt)
	})
	return result, nil
}

func (s *Store) ExpireAssignments(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, a := range s.assignments {
		if a.Overdue(now) {
			a.Status = quest.StatusExpired
			s.assignments[id] = a
			n++
		}
	}
	return n, nil
}

// IdempotencyStore implementation ---------------------------------------------

func (s *Store) LoadResult(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	res, ok := s.results[key]
	if !ok {
		return nil, false, nil
	}
	if !res.expiresAt.IsZero() && s.now().After(res.expiresAt) {
		return nil, false, nil
	}
	return append([]byte(nil), res.payload...), true, nil
}

func (s *Store) SaveResult(_ context.Context, key string, payload []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if res, ok := s.results[key]; ok && (res.expiresAt.IsZero() || s.now().Before(res.expiresAt)) {
		return nil
	}
	var expires time.Time
	if ttl > 0 {
		expires = s.now().Add(ttl)
	}
	s.results[key] = cachedResult{payload: append([]byte(nil), payload...), expiresAt: expires}
	return nil
}

func cloneBalance(b reward.Balance) reward.Balance {
	if b.LastActiveOn != nil {
		t := *b.LastActiveOn
		b.LastActiveOn = &t
	}
	return b
}

func cloneAssignment(a quest.Assignment) quest.Assignment {
	if a.CompletedAt != nil {
		t := *a.CompletedAt
		a.CompletedAt = &t
	}
	return a
}
