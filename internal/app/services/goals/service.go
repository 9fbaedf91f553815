package goals

import (
	"context"
	stderrors "errors"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/savepop/savepop/internal/app/core/keylock"
	"github.com/savepop/savepop/internal/app/core/service"
	"github.com/savepop/savepop/internal/app/domain/goal"
	"github.com/savepop/savepop/internal/app/domain/reward"
	"github.com/savepop/savepop/internal/app/events"
	"github.com/savepop/savepop/internal/app/metrics"
	"github.com/savepop/savepop/internal/app/services/levels"
	"github.com/savepop/savepop/internal/app/storage"
	"github.com/savepop/savepop/internal/errors"
	"github.com/savepop/savepop/pkg/logger"
)

// BalanceReader exposes the streak the level engine forwards to the advisor.
type BalanceReader interface {
	GetBalance(ctx context.Context, userID string) (reward.Balance, error)
}

// CreateParams describes a new goal.
type CreateParams struct {
	Name          string
	Category      string
	TargetAmount  decimal.Decimal
	CurrentAmount decimal.Decimal
	TargetDate    *time.Time
}

// UpdateParams carries the editable fields. Nil fields are left unchanged.
type UpdateParams struct {
	Name            *string
	Category        *string
	TargetAmount    *decimal.Decimal
	TargetDate      *time.Time
	ClearTargetDate bool
}

// Service manages the per-user goal queue and the contribution allocator.
type Service struct {
	store    storage.GoalStore
	engine   *levels.Engine
	profiles levels.ProfileProvider
	balances BalanceReader
	events   events.Publisher
	locks    *keylock.Locker
	log      *logger.Logger
	now      func() time.Time
}

// New creates a goal service. A nil engine uses an offline level engine.
func New(store storage.GoalStore, engine *levels.Engine, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("goals")
	}
	if engine == nil {
		engine = levels.NewEngine(nil, 0, log)
	}
	return &Service{
		store:    store,
		engine:   engine,
		profiles: levels.NewStaticProfiles(),
		events:   events.Nop{},
		locks:    keylock.New(),
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithProfiles sets the financial profile source used for level planning.
func (s *Service) WithProfiles(p levels.ProfileProvider) *Service {
	if p != nil {
		s.profiles = p
	}
	return s
}

// WithBalances lets level planning see the user's streak.
func (s *Service) WithBalances(b BalanceReader) *Service {
	s.balances = b
	return s
}

// WithEvents publishes level-up and completion events to p.
func (s *Service) WithEvents(p events.Publisher) *Service {
	s.events = events.OrNop(p)
	return s
}

// WithClock overrides the service clock.
func (s *Service) WithClock(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

func (s *Service) Descriptor() service.Descriptor {
	return service.Descriptor{
		Name:         "goals",
		Domain:       "savings",
		Layer:        service.LayerGameplay,
		Capabilities: []string{"goal-queue", "contribute", "reorder", "expiry"},
		DependsOn:    []string{"levels"},
	}
}

// Create adds a goal at the back of the user's queue.
func (s *Service) Create(ctx context.Context, userID string, p CreateParams) (goal.Goal, error) {
	if err := requireUser(userID); err != nil {
		return goal.Goal{}, err
	}
	name := strings.TrimSpace(p.Name)
	if name == "" {
		return goal.Goal{}, errors.InvalidInput("goal name required")
	}
	if !p.TargetAmount.IsPositive() {
		return goal.Goal{}, errors.InvalidAmount("target amount must be positive")
	}
	if p.CurrentAmount.IsNegative() {
		return goal.Goal{}, errors.InvalidAmount("current amount must not be negative")
	}
	current := decimal.Min(p.CurrentAmount, p.TargetAmount)

	unlock := s.locks.Lock(userID)
	defer unlock()

	existing, err := s.store.ListGoals(ctx, userID)
	if err != nil {
		return goal.Goal{}, err
	}
	order := 0
	hasActive := false
	for _, g := range existing {
		if g.Order >= order {
			order = g.Order + 1
		}
		if g.Status == goal.StatusActive {
			hasActive = true
		}
	}

	g := goal.Goal{
		UserID:        userID,
		Name:          name,
		Category:      goal.ParseCategory(p.Category),
		TargetAmount:  p.TargetAmount,
		CurrentAmount: current,
		TargetDate:    dateOnly(p.TargetDate),
		Status:        goal.StatusQueued,
		Order:         order,
	}
	if !hasActive {
		g.Status = goal.StatusActive
	}
	s.applyPlan(&g, s.plan(ctx, g))
	if g.CurrentAmount.GreaterThanOrEqual(g.TargetAmount) {
		now := s.now()
		g.Status = goal.StatusCompleted
		g.CompletedAt = &now
	}

	created, err := s.store.CreateGoal(ctx, g)
	if err != nil {
		return goal.Goal{}, err
	}
	s.log.WithField("goal_id", created.ID).
		WithField("user_id", userID).
		WithField("status", created.Status).
		WithField("levels", created.TotalLevels).
		Info("goal created")
	return created, nil
}

// Get returns a goal owned by userID.
func (s *Service) Get(ctx context.Context, userID, goalID string) (goal.Goal, error) {
	g, err := s.store.GetGoal(ctx, goalID)
	if err != nil {
		return goal.Goal{}, err
	}
	if g.UserID != userID {
		return goal.Goal{}, errors.Unauthorized("goal belongs to another user")
	}
	return g, nil
}

// List returns the user's goals in queue order, optionally filtered by status.
// Expired goals are swept first.
func (s *Service) List(ctx context.Context, userID string, status goal.Status) ([]goal.Goal, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	if _, err := s.CheckExpired(ctx, userID); err != nil {
		return nil, err
	}
	all, err := s.store.ListGoals(ctx, userID)
	if err != nil {
		return nil, err
	}
	if status == "" {
		return all, nil
	}
	out := make([]goal.Goal, 0, len(all))
	for _, g := range all {
		if g.Status == status {
			out = append(out, g)
		}
	}
	return out, nil
}

// Update edits an open goal. Levels are recomputed only when the target
// amount or date changes; renames and category changes keep them.
func (s *Service) Update(ctx context.Context, userID, goalID string, p UpdateParams) (goal.Goal, error) {
	if p.Name != nil && strings.TrimSpace(*p.Name) == "" {
		return goal.Goal{}, errors.InvalidInput("goal name required")
	}
	if p.TargetAmount != nil && !p.TargetAmount.IsPositive() {
		return goal.Goal{}, errors.InvalidAmount("target amount must be positive")
	}

	unlock := s.locks.Lock(userID)
	defer unlock()

	current, err := s.Get(ctx, userID, goalID)
	if err != nil {
		return goal.Goal{}, err
	}
	if !current.Status.Open() {
		return goal.Goal{}, errors.IllegalTransition(string(current.Status), "edited")
	}

	draft := current.Clone()
	editGoal(&draft, p)
	if draft.TargetAmount.LessThan(draft.CurrentAmount) {
		return goal.Goal{}, errors.InvalidAmount("target amount cannot be below the amount already saved")
	}
	var plan *levels.Plan
	if retargeted(current, draft) {
		pl := s.plan(ctx, draft)
		plan = &pl
	}

	updated, err := s.store.UpdateGoal(ctx, goalID, func(g *goal.Goal) error {
		if !g.Status.Open() {
			return errors.IllegalTransition(string(g.Status), "edited")
		}
		editGoal(g, p)
		if g.TargetAmount.LessThan(g.CurrentAmount) {
			return errors.InvalidAmount("target amount cannot be below the amount already saved")
		}
		if plan != nil {
			s.applyPlan(g, *plan)
		}
		return nil
	})
	if err != nil {
		return goal.Goal{}, err
	}
	s.log.WithField("goal_id", goalID).
		WithField("replanned", plan != nil).
		Info("goal updated")
	return updated, nil
}

// retargeted reports whether an edit moved the target amount or date.
func retargeted(before, after goal.Goal) bool {
	if !before.TargetAmount.Equal(after.TargetAmount) {
		return true
	}
	switch {
	case before.TargetDate == nil && after.TargetDate == nil:
		return false
	case before.TargetDate == nil || after.TargetDate == nil:
		return true
	default:
		return !before.TargetDate.Equal(*after.TargetDate)
	}
}

// Reorder assigns order = position for every owned id in ids; unknown and
// foreign ids are skipped. Unlisted goals keep their relative order behind the
// listed ones. The first open goal then becomes active and a displaced active
// goal is paused.
func (s *Service) Reorder(ctx context.Context, userID string, ids []string) ([]goal.Goal, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	unlock := s.locks.Lock(userID)
	defer unlock()

	all, err := s.store.ListGoals(ctx, userID)
	if err != nil {
		return nil, err
	}
	owned := make(map[string]bool, len(all))
	for _, g := range all {
		owned[g.ID] = true
	}

	orders := make(map[string]int, len(all))
	for i, id := range ids {
		if !owned[id] {
			continue
		}
		if _, dup := orders[id]; dup {
			continue
		}
		orders[id] = i
	}
	next := len(ids)
	for _, g := range all {
		if _, listed := orders[g.ID]; !listed {
			orders[g.ID] = next
			next++
		}
	}

	for _, g := range all {
		order := orders[g.ID]
		if order == g.Order {
			continue
		}
		if _, err := s.store.UpdateGoal(ctx, g.ID, func(cur *goal.Goal) error {
			cur.Order = order
			return nil
		}); err != nil {
			return nil, err
		}
	}

	if err := s.normalizeLocked(ctx, userID); err != nil {
		return nil, err
	}
	metrics.RecordGoalEvent("reordered", 1)
	return s.store.ListGoals(ctx, userID)
}

// normalizeLocked makes the highest-priority open goal the active one.
func (s *Service) normalizeLocked(ctx context.Context, userID string) error {
	all, err := s.store.ListGoals(ctx, userID)
	if err != nil {
		return err
	}
	var top *goal.Goal
	var actives []goal.Goal
	for i := range all {
		if !all[i].Status.Open() {
			continue
		}
		if top == nil {
			top = &all[i]
		}
		if all[i].Status == goal.StatusActive {
			actives = append(actives, all[i])
		}
	}
	if top == nil {
		return nil
	}
	for _, a := range actives {
		if a.ID == top.ID {
			continue
		}
		if err := s.transition(ctx, a.ID, goal.StatusPaused); err != nil {
			return err
		}
	}
	if top.Status != goal.StatusActive {
		return s.transition(ctx, top.ID, goal.StatusActive)
	}
	return nil
}

// CheckExpired moves active or queued goals whose target date has passed with
// nothing saved to pending and returns the goals it changed.
func (s *Service) CheckExpired(ctx context.Context, userID string) ([]goal.Goal, error) {
	unlock := s.locks.Lock(userID)
	defer unlock()

	all, err := s.store.ListGoals(ctx, userID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	var changed []goal.Goal
	for _, g := range all {
		if !expirable(g, now) {
			continue
		}
		updated, err := s.store.UpdateGoal(ctx, g.ID, func(cur *goal.Goal) error {
			if !expirable(*cur, now) {
				return errUnchanged
			}
			cur.Status = goal.StatusPending
			return nil
		})
		if stderrors.Is(err, errUnchanged) {
			continue
		}
		if err != nil {
			return changed, err
		}
		changed = append(changed, updated)
	}
	if len(changed) > 0 {
		metrics.RecordGoalEvent("expired", len(changed))
		s.log.WithField("user_id", userID).
			WithField("count", len(changed)).
			Info("goals moved to pending")
	}
	return changed, nil
}

// SweepExpired runs CheckExpired for every goal owner.
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	owners, err := s.store.ListGoalOwners(ctx)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, owner := range owners {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		changed, err := s.CheckExpired(ctx, owner)
		total += len(changed)
		if err != nil {
			s.log.WithError(err).WithField("user_id", owner).Warn("expiry sweep failed")
		}
	}
	return total, nil
}

// Archive retires a completed or pending goal.
func (s *Service) Archive(ctx context.Context, userID, goalID string) (goal.Goal, error) {
	unlock := s.locks.Lock(userID)
	defer unlock()

	if _, err := s.Get(ctx, userID, goalID); err != nil {
		return goal.Goal{}, err
	}
	updated, err := s.store.UpdateGoal(ctx, goalID, func(g *goal.Goal) error {
		if !goal.CanTransition(g.Status, goal.StatusArchived) {
			return errors.IllegalTransition(string(g.Status), string(goal.StatusArchived))
		}
		g.Status = goal.StatusArchived
		return nil
	})
	if err != nil {
		return goal.Goal{}, err
	}
	metrics.RecordGoalEvent("archived", 1)
	s.log.WithField("goal_id", goalID).Info("goal archived")
	return updated, nil
}

// Delete removes an archived goal.
func (s *Service) Delete(ctx context.Context, userID, goalID string) error {
	unlock := s.locks.Lock(userID)
	defer unlock()

	g, err := s.Get(ctx, userID, goalID)
	if err != nil {
		return err
	}
	if g.Status != goal.StatusArchived {
		return errors.IllegalTransition(string(g.Status), "deleted")
	}
	if err := s.store.DeleteGoal(ctx, goalID); err != nil {
		return err
	}
	s.log.WithField("goal_id", goalID).Info("goal deleted")
	return nil
}

func (s *Service) transition(ctx context.Context, goalID string, to goal.Status) error {
	_, err := s.store.UpdateGoal(ctx, goalID, func(g *goal.Goal) error {
		if !goal.CanTransition(g.Status, to) {
			return errors.IllegalTransition(string(g.Status), string(to))
		}
		g.Status = to
		return nil
	})
	return err
}

func (s *Service) plan(ctx context.Context, g goal.Goal) levels.Plan {
	profile, err := s.profiles.Profile(ctx, g.UserID)
	if err != nil {
		s.log.WithError(err).WithField("user_id", g.UserID).Warn("profile unavailable; using default")
		profile = levels.DefaultProfile()
	}
	streak := 0
	if s.balances != nil {
		if bal, err := s.balances.GetBalance(ctx, g.UserID); err == nil {
			streak = bal.Streak
		}
	}
	return s.engine.Compute(ctx, levels.Input{
		Name:       g.Name,
		Category:   g.Category,
		Target:     g.TargetAmount,
		Current:    g.CurrentAmount,
		TargetDate: g.TargetDate,
		Streak:     streak,
	}, profile)
}

// applyPlan stores a plan on g. Thresholds are rebuilt from g's own amounts so
// a plan computed before a concurrent write still yields consistent levels.
func (s *Service) applyPlan(g *goal.Goal, plan levels.Plan) {
	rem := g.Remaining()
	g.TotalLevels = plan.TotalLevels
	g.Thresholds = levels.Thresholds(g.CurrentAmount, rem, g.TargetAmount, plan.TotalLevels)
	g.CurrentLevel = goal.LevelFor(g.CurrentAmount, g.Thresholds)
	g.RewardedLevel = max(g.RewardedLevel, g.CurrentLevel)
	g.DailyTarget = plan.DailyTarget
	g.Copy = plan.Copy
}

func editGoal(g *goal.Goal, p UpdateParams) {
	if p.Name != nil {
		g.Name = strings.TrimSpace(*p.Name)
	}
	if p.Category != nil {
		g.Category = goal.ParseCategory(*p.Category)
	}
	if p.TargetAmount != nil {
		g.TargetAmount = *p.TargetAmount
	}
	if p.ClearTargetDate {
		g.TargetDate = nil
	} else if p.TargetDate != nil {
		g.TargetDate = dateOnly(p.TargetDate)
	}
}

func expirable(g goal.Goal, now time.Time) bool {
	if g.Status != goal.StatusActive && g.Status != goal.StatusQueued {
		return false
	}
	if g.TargetDate == nil || !g.CurrentAmount.IsZero() {
		return false
	}
	return g.TargetDate.Before(reward.Day(now))
}

func dateOnly(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	d := reward.Day(*t)
	return &d
}

func requireUser(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return errors.Unauthenticated("user id required")
	}
	return nil
}

func sortByOrder(gs []goal.Goal) {
	sort.SliceStable(gs, func(i, j int) bool { return gs[i].Order < gs[j].Order })
}
