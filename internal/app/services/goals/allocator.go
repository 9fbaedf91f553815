package goals

import (
	"context"
	stderrors "errors"

	"github.com/shopspring/decimal"

	"github.com/savepop/savepop/internal/app/domain/goal"
	"github.com/savepop/savepop/internal/app/domain/reward"
	"github.com/savepop/savepop/internal/app/events"
	"github.com/savepop/savepop/internal/app/metrics"
	"github.com/savepop/savepop/internal/errors"
)

// errUnchanged aborts a store mutator when there is nothing to write.
var errUnchanged = stderrors.New("goal unchanged")

// Step is the allocator's effect on a single goal.
type Step struct {
	Goal           goal.Goal       `json:"goal"`
	Applied        decimal.Decimal `json:"applied"`
	LevelBefore    int             `json:"level_before"`
	LevelAfter     int             `json:"level_after"`
	RewardedBefore int             `json:"rewarded_before"`
	JustCompleted  bool            `json:"just_completed"`
	DailyTargetMet bool            `json:"daily_target_met"`
	Promoted       string          `json:"promoted_goal_id,omitempty"`
}

// LevelsGained is never negative.
func (s Step) LevelsGained() int {
	if s.LevelAfter > s.LevelBefore {
		return s.LevelAfter - s.LevelBefore
	}
	return 0
}

// RewardableLevels is the inclusive range of levels this step pays rewards
// for. Levels the goal already paid out are skipped; from > to means none.
func (s Step) RewardableLevels() (from, to int) {
	return max(s.LevelBefore, s.RewardedBefore) + 1, s.LevelAfter
}

// OnTime reports whether a just-completed goal finished by its target date.
func (s Step) OnTime() bool {
	if !s.JustCompleted || s.Goal.TargetDate == nil || s.Goal.CompletedAt == nil {
		return false
	}
	return !reward.Day(*s.Goal.CompletedAt).After(*s.Goal.TargetDate)
}

// Allocation is the full outcome of one contribution.
type Allocation struct {
	Steps     []Step          `json:"steps"`
	Remainder decimal.Decimal `json:"remainder"`
}

// Applied sums what the steps stored.
func (a Allocation) Applied() decimal.Decimal {
	total := decimal.Zero
	for _, s := range a.Steps {
		total = total.Add(s.Applied)
	}
	return total
}

// Contribute adds amount to goalID and routes any overflow down the queue.
// Each step commits on its own; on failure the steps already committed stand
// and the partial allocation is returned with the error.
func (s *Service) Contribute(ctx context.Context, userID, goalID string, amount decimal.Decimal) (Allocation, error) {
	if !amount.IsPositive() {
		return Allocation{}, errors.InvalidAmount("contribution must be positive")
	}

	unlock := s.locks.Lock(userID)
	defer unlock()

	first, err := s.Get(ctx, userID, goalID)
	if err != nil {
		return Allocation{}, err
	}
	if !acceptsContribution(first.Status) {
		return Allocation{}, errors.IllegalTransition(string(first.Status), "contributed")
	}

	all, err := s.store.ListGoals(ctx, userID)
	if err != nil {
		return Allocation{}, err
	}
	bound := len(all)

	alloc := Allocation{Remainder: amount}
	visited := make(map[string]bool, bound)
	next := first.ID
	for next != "" && len(alloc.Steps) < bound {
		step, err := s.applyStep(ctx, userID, next, alloc.Remainder)
		if err != nil {
			metrics.RecordContribution("error", len(alloc.Steps))
			return alloc, err
		}
		visited[next] = true
		alloc.Steps = append(alloc.Steps, step)
		alloc.Remainder = alloc.Remainder.Sub(step.Applied)
		if !alloc.Remainder.IsPositive() {
			break
		}
		next, err = s.nextActive(ctx, userID, visited)
		if err != nil {
			metrics.RecordContribution("error", len(alloc.Steps))
			return alloc, err
		}
	}

	outcome := "applied"
	if alloc.Remainder.IsPositive() {
		outcome = "spillover"
	}
	metrics.RecordContribution(outcome, len(alloc.Steps))
	s.log.WithField("user_id", userID).
		WithField("goal_id", goalID).
		WithField("amount", amount.String()).
		WithField("steps", len(alloc.Steps)).
		WithField("remainder", alloc.Remainder.String()).
		Info("contribution allocated")
	return alloc, nil
}

func (s *Service) applyStep(ctx context.Context, userID, goalID string, amount decimal.Decimal) (Step, error) {
	now := s.now()
	today := reward.Day(now)
	var step Step

	updated, err := s.store.UpdateGoal(ctx, goalID, func(g *goal.Goal) error {
		if !acceptsContribution(g.Status) {
			return errors.IllegalTransition(string(g.Status), "contributed")
		}
		apply := decimal.Min(amount, g.Remaining())
		step = Step{Applied: apply, LevelBefore: g.CurrentLevel, LevelAfter: g.CurrentLevel, RewardedBefore: g.RewardedLevel}
		if !apply.IsPositive() {
			return errUnchanged
		}

		g.CurrentAmount = g.CurrentAmount.Add(apply)
		g.CurrentLevel = goal.LevelFor(g.CurrentAmount, g.Thresholds)
		g.RewardedLevel = max(g.RewardedLevel, g.CurrentLevel)
		step.LevelAfter = g.CurrentLevel

		if g.LastSavedOn == nil || !g.LastSavedOn.Equal(today) {
			g.SavedToday = decimal.Zero
		}
		before := g.SavedToday
		g.SavedToday = g.SavedToday.Add(apply)
		g.LastSavedOn = &today
		if g.DailyTarget.IsPositive() && before.LessThan(g.DailyTarget) && g.SavedToday.GreaterThanOrEqual(g.DailyTarget) {
			step.DailyTargetMet = true
		}

		if g.CurrentAmount.GreaterThanOrEqual(g.TargetAmount) && g.Status != goal.StatusCompleted {
			g.Status = goal.StatusCompleted
			g.CompletedAt = &now
			step.JustCompleted = true
		}
		return nil
	})
	switch {
	case stderrors.Is(err, errUnchanged):
		updated, err = s.store.GetGoal(ctx, goalID)
		if err != nil {
			return Step{}, err
		}
	case err != nil:
		return Step{}, err
	}
	step.Goal = updated

	if step.LevelsGained() > 0 {
		metrics.RecordGoalEvent("level_up", step.LevelsGained())
		s.events.Publish(ctx, events.New(events.GoalLevelUp, userID, map[string]any{
			"goal_id":   updated.ID,
			"goal_name": updated.Name,
			"level":     step.LevelAfter,
			"total":     updated.TotalLevels,
			"levels_up": step.LevelsGained(),
			"current":   updated.CurrentAmount.String(),
			"remaining": updated.Remaining().String(),
			"milestone": milestoneCopy(updated, step.LevelAfter),
		}))
	}
	if step.JustCompleted {
		metrics.RecordGoalEvent("completed", 1)
		s.events.Publish(ctx, events.New(events.GoalCompleted, userID, map[string]any{
			"goal_id":   updated.ID,
			"goal_name": updated.Name,
			"message":   updated.Copy.Completion,
		}))
		promoted, err := s.promoteAfter(ctx, userID, updated)
		if err != nil {
			return step, err
		}
		step.Promoted = promoted
	}
	return step, nil
}

// promoteAfter activates the next queued or paused goal behind a completed one
// when the user is left without an active goal.
func (s *Service) promoteAfter(ctx context.Context, userID string, done goal.Goal) (string, error) {
	all, err := s.store.ListGoals(ctx, userID)
	if err != nil {
		return "", err
	}
	var candidate *goal.Goal
	for i := range all {
		g := &all[i]
		if g.ID == done.ID {
			continue
		}
		if g.Status == goal.StatusActive {
			return "", nil
		}
		if g.Status != goal.StatusQueued && g.Status != goal.StatusPaused {
			continue
		}
		if g.Order <= done.Order {
			continue
		}
		if candidate == nil || g.Order < candidate.Order {
			candidate = g
		}
	}
	if candidate == nil {
		return "", nil
	}
	if err := s.transition(ctx, candidate.ID, goal.StatusActive); err != nil {
		return "", err
	}
	metrics.RecordGoalEvent("promoted", 1)
	s.log.WithField("user_id", userID).
		WithField("goal_id", candidate.ID).
		Info("goal promoted to active")
	return candidate.ID, nil
}

func (s *Service) nextActive(ctx context.Context, userID string, visited map[string]bool) (string, error) {
	all, err := s.store.ListGoals(ctx, userID)
	if err != nil {
		return "", err
	}
	sortByOrder(all)
	for _, g := range all {
		if g.Status == goal.StatusActive && !visited[g.ID] {
			return g.ID, nil
		}
	}
	return "", nil
}

func acceptsContribution(st goal.Status) bool {
	return st.Open() || st == goal.StatusCompleted
}

// milestoneCopy picks the quarter message crossed by level, if any.
func milestoneCopy(g goal.Goal, level int) string {
	if g.TotalLevels == 0 {
		return ""
	}
	pct := level * 100 / g.TotalLevels
	switch {
	case pct >= 100:
		return g.Copy.Completion
	case pct >= 75:
		return g.Copy.ThreeQuart
	case pct >= 50:
		return g.Copy.Half
	case pct >= 25:
		return g.Copy.Quarter
	}
	return ""
}
