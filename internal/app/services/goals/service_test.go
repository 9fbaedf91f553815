package goals

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/savepop/savepop/internal/app/domain/goal"
	"github.com/savepop/savepop/internal/app/events"
	"github.com/savepop/savepop/internal/app/storage/memory"
	"github.com/savepop/savepop/internal/errors"
)

var now = time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)

func newService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	store := memory.New()
	svc := New(store, nil, nil).WithClock(func() time.Time { return now })
	return svc, store
}

func dec(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func mustCreate(t *testing.T, svc *Service, user, name, target string) goal.Goal {
	t.Helper()
	g, err := svc.Create(context.Background(), user, CreateParams{Name: name, TargetAmount: dec(target)})
	require.NoError(t, err)
	return g
}

func TestCreateAssignsQueuePositions(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	first := mustCreate(t, svc, "alice", "Car", "5000")
	second := mustCreate(t, svc, "alice", "Trip", "800")

	assert.Equal(t, goal.StatusActive, first.Status)
	assert.Equal(t, 0, first.Order)
	assert.Equal(t, 30, first.TotalLevels)
	assert.Equal(t, goal.StatusQueued, second.Status)
	assert.Equal(t, 1, second.Order)
	assert.Equal(t, goal.CategoryOther, second.Category)

	_, err := svc.Create(ctx, "alice", CreateParams{Name: "  ", TargetAmount: dec("10")})
	require.ErrorIs(t, err, errors.ErrInvalidInput)
	_, err = svc.Create(ctx, "alice", CreateParams{Name: "x", TargetAmount: dec("0")})
	require.ErrorIs(t, err, errors.ErrInvalidAmount)
	_, err = svc.Create(ctx, "alice", CreateParams{Name: "x", TargetAmount: dec("10"), CurrentAmount: dec("-1")})
	require.ErrorIs(t, err, errors.ErrInvalidAmount)

	full, err := svc.Create(ctx, "bob", CreateParams{Name: "Shoes", Category: "Shopping", TargetAmount: dec("10"), CurrentAmount: dec("20")})
	require.NoError(t, err)
	assert.True(t, full.CurrentAmount.Equal(dec("10")))
	assert.Equal(t, goal.StatusCompleted, full.Status)
	assert.Equal(t, goal.CategoryShopping, full.Category)
	assert.Equal(t, full.TotalLevels, full.CurrentLevel)
}

func TestGetRequiresOwner(t *testing.T) {
	svc, _ := newService(t)
	g := mustCreate(t, svc, "alice", "Car", "100")

	_, err := svc.Get(context.Background(), "bob", g.ID)
	require.ErrorIs(t, err, errors.ErrUnauthorized)
	_, err = svc.Get(context.Background(), "alice", "missing")
	require.ErrorIs(t, err, errors.ErrNotFound)
}

func TestContributeKeepsLevelConsistent(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()
	g := mustCreate(t, svc, "alice", "Car", "1000")

	for _, amt := range []string{"12.50", "80", "333.33", "0.01"} {
		_, err := svc.Contribute(ctx, "alice", g.ID, dec(amt))
		require.NoError(t, err)
		stored, err := store.GetGoal(ctx, g.ID)
		require.NoError(t, err)
		assert.Equal(t, goal.LevelFor(stored.CurrentAmount, stored.Thresholds), stored.CurrentLevel)
	}
}

func TestContributeOverflowReturnsRemainder(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	g := mustCreate(t, svc, "alice", "Phone", "100")

	alloc, err := svc.Contribute(ctx, "alice", g.ID, dec("150"))
	require.NoError(t, err)
	require.Len(t, alloc.Steps, 1)
	step := alloc.Steps[0]
	assert.True(t, step.Applied.Equal(dec("100")))
	assert.True(t, alloc.Remainder.Equal(dec("50")))
	assert.True(t, step.JustCompleted)
	assert.Equal(t, goal.StatusCompleted, step.Goal.Status)
	assert.NotNil(t, step.Goal.CompletedAt)
	assert.Equal(t, 0, step.LevelBefore)
	assert.Equal(t, 10, step.LevelAfter)
}

func TestContributeCascadesToNextGoal(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()
	rec := &events.Recorder{}
	svc.WithEvents(rec)

	a := mustCreate(t, svc, "alice", "A", "10")
	b := mustCreate(t, svc, "alice", "B", "50")

	alloc, err := svc.Contribute(ctx, "alice", a.ID, dec("30"))
	require.NoError(t, err)
	require.Len(t, alloc.Steps, 2)
	assert.True(t, alloc.Remainder.IsZero())

	assert.Equal(t, a.ID, alloc.Steps[0].Goal.ID)
	assert.True(t, alloc.Steps[0].JustCompleted)
	assert.Equal(t, b.ID, alloc.Steps[0].Promoted)
	assert.Equal(t, b.ID, alloc.Steps[1].Goal.ID)
	assert.True(t, alloc.Steps[1].Applied.Equal(dec("20")))
	assert.True(t, alloc.Applied().Equal(dec("30")))

	storedB, err := store.GetGoal(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, goal.StatusActive, storedB.Status)
	assert.True(t, storedB.CurrentAmount.Equal(dec("20")))
	assert.Equal(t, 4, storedB.CurrentLevel)

	assert.Equal(t, []string{events.GoalLevelUp, events.GoalCompleted, events.GoalLevelUp}, rec.Types())
}

func TestContributeWithoutQueueReturnsSpillover(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	g := mustCreate(t, svc, "alice", "A", "10")
	_, err := svc.Contribute(ctx, "alice", g.ID, dec("10"))
	require.NoError(t, err)

	alloc, err := svc.Contribute(ctx, "alice", g.ID, dec("25"))
	require.NoError(t, err)
	require.Len(t, alloc.Steps, 1)
	assert.True(t, alloc.Steps[0].Applied.IsZero())
	assert.False(t, alloc.Steps[0].JustCompleted)
	assert.True(t, alloc.Remainder.Equal(dec("25")))
}

func TestContributePromotesPausedGoal(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()
	a := mustCreate(t, svc, "alice", "A", "100")
	b := mustCreate(t, svc, "alice", "B", "10")

	// B jumps ahead; A is paused behind it
	_, err := svc.Reorder(ctx, "alice", []string{b.ID, a.ID})
	require.NoError(t, err)
	// A goes back to the front, B is paused at order 1
	_, err = svc.Reorder(ctx, "alice", []string{a.ID, b.ID})
	require.NoError(t, err)

	alloc, err := svc.Contribute(ctx, "alice", a.ID, dec("150"))
	require.NoError(t, err)
	assert.Equal(t, b.ID, alloc.Steps[0].Promoted)
	require.Len(t, alloc.Steps, 2)
	assert.True(t, alloc.Remainder.Equal(dec("40")))

	storedB, err := store.GetGoal(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, goal.StatusCompleted, storedB.Status)
}

func TestContributeErrors(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	g := mustCreate(t, svc, "alice", "A", "10")

	_, err := svc.Contribute(ctx, "alice", g.ID, dec("0"))
	require.ErrorIs(t, err, errors.ErrInvalidAmount)
	_, err = svc.Contribute(ctx, "alice", "nope", dec("5"))
	require.ErrorIs(t, err, errors.ErrNotFound)
	_, err = svc.Contribute(ctx, "bob", g.ID, dec("5"))
	require.ErrorIs(t, err, errors.ErrUnauthorized)

	_, err = svc.Contribute(ctx, "alice", g.ID, dec("10"))
	require.NoError(t, err)
	_, err = svc.Archive(ctx, "alice", g.ID)
	require.NoError(t, err)
	_, err = svc.Contribute(ctx, "alice", g.ID, dec("5"))
	require.ErrorIs(t, err, errors.ErrIllegalTransition)
}

func TestDailyTargetMetOncePerDay(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	g := mustCreate(t, svc, "alice", "Fund", "1000")
	require.Equal(t, "5.56", g.DailyTarget.StringFixed(2))

	met := func(amount string) bool {
		alloc, err := svc.Contribute(ctx, "alice", g.ID, dec(amount))
		require.NoError(t, err)
		return alloc.Steps[0].DailyTargetMet
	}
	assert.False(t, met("3"))
	assert.True(t, met("3"))
	assert.False(t, met("3"))

	now = now.Add(24 * time.Hour)
	defer func() { now = now.Add(-24 * time.Hour) }()
	assert.True(t, met("6"))
}

func TestDeleteRequiresArchive(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()
	g := mustCreate(t, svc, "alice", "A", "10")

	require.ErrorIs(t, svc.Delete(ctx, "alice", g.ID), errors.ErrIllegalTransition)
	_, err := svc.Archive(ctx, "alice", g.ID)
	require.ErrorIs(t, err, errors.ErrIllegalTransition)

	_, err = svc.Contribute(ctx, "alice", g.ID, dec("10"))
	require.NoError(t, err)
	require.ErrorIs(t, svc.Delete(ctx, "alice", g.ID), errors.ErrIllegalTransition)

	archived, err := svc.Archive(ctx, "alice", g.ID)
	require.NoError(t, err)
	assert.Equal(t, goal.StatusArchived, archived.Status)
	require.ErrorIs(t, svc.Delete(ctx, "bob", g.ID), errors.ErrUnauthorized)
	require.NoError(t, svc.Delete(ctx, "alice", g.ID))

	_, err = store.GetGoal(ctx, g.ID)
	require.ErrorIs(t, err, errors.ErrNotFound)
}

func TestCheckExpiredIsIdempotent(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	past := now.AddDate(0, 0, -3)

	stale, err := svc.Create(ctx, "alice", CreateParams{Name: "Stale", TargetAmount: dec("100"), TargetDate: &past})
	require.NoError(t, err)
	started, err := svc.Create(ctx, "alice", CreateParams{Name: "Started", TargetAmount: dec("100"), CurrentAmount: dec("5"), TargetDate: &past})
	require.NoError(t, err)
	future := now.AddDate(0, 1, 0)
	_, err = svc.Create(ctx, "alice", CreateParams{Name: "Future", TargetAmount: dec("100"), TargetDate: &future})
	require.NoError(t, err)

	changed, err := svc.CheckExpired(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, changed, 1)
	assert.Equal(t, stale.ID, changed[0].ID)
	assert.Equal(t, goal.StatusPending, changed[0].Status)

	changed, err = svc.CheckExpired(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, changed)

	kept, err := svc.Get(ctx, "alice", started.ID)
	require.NoError(t, err)
	assert.Equal(t, goal.StatusQueued, kept.Status)

	_, err = svc.Contribute(ctx, "alice", stale.ID, dec("1"))
	require.ErrorIs(t, err, errors.ErrIllegalTransition)

	archived, err := svc.Archive(ctx, "alice", stale.ID)
	require.NoError(t, err)
	assert.Equal(t, goal.StatusArchived, archived.Status)
}

func TestSweepExpiredCoversEveryOwner(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	past := now.AddDate(0, 0, -1)
	for _, user := range []string{"alice", "bob"} {
		_, err := svc.Create(ctx, user, CreateParams{Name: "Old", TargetAmount: dec("50"), TargetDate: &past})
		require.NoError(t, err)
	}
	n, err := svc.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = svc.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestListRunsExpiryAndFilters(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	past := now.AddDate(0, 0, -1)
	_, err := svc.Create(ctx, "alice", CreateParams{Name: "Old", TargetAmount: dec("50"), TargetDate: &past})
	require.NoError(t, err)
	mustCreate(t, svc, "alice", "New", "50")

	pending, err := svc.List(ctx, "alice", goal.StatusPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "Old", pending[0].Name)

	all, err := svc.List(ctx, "alice", "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestReorderPromotesFirstOpenGoal(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	a := mustCreate(t, svc, "alice", "A", "100")
	b := mustCreate(t, svc, "alice", "B", "100")
	c := mustCreate(t, svc, "alice", "C", "100")
	foreign := mustCreate(t, svc, "bob", "X", "100")

	list, err := svc.Reorder(ctx, "alice", []string{c.ID, a.ID, foreign.ID, b.ID, "unknown"})
	require.NoError(t, err)
	require.Len(t, list, 3)

	byID := map[string]goal.Goal{}
	for _, g := range list {
		byID[g.ID] = g
	}
	assert.Equal(t, goal.StatusActive, byID[c.ID].Status)
	assert.Equal(t, 0, byID[c.ID].Order)
	assert.Equal(t, goal.StatusPaused, byID[a.ID].Status)
	assert.Equal(t, 1, byID[a.ID].Order)
	assert.Equal(t, goal.StatusQueued, byID[b.ID].Status)
	assert.Equal(t, 3, byID[b.ID].Order)
	assert.Equal(t, c.ID, list[0].ID)

	untouched, err := svc.Get(ctx, "bob", foreign.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, untouched.Order)
	assert.Equal(t, goal.StatusActive, untouched.Status)
}

func TestUpdateRecomputesLevels(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	g := mustCreate(t, svc, "alice", "A", "100")
	_, err := svc.Contribute(ctx, "alice", g.ID, dec("50"))
	require.NoError(t, err)

	target := dec("1000")
	name := "Bigger A"
	updated, err := svc.Update(ctx, "alice", g.ID, UpdateParams{Name: &name, TargetAmount: &target})
	require.NoError(t, err)
	assert.Equal(t, "Bigger A", updated.Name)
	assert.Equal(t, 20, updated.TotalLevels)
	require.Len(t, updated.Thresholds, 20)
	assert.True(t, updated.Thresholds[19].Equal(target))
	assert.Equal(t, goal.LevelFor(updated.CurrentAmount, updated.Thresholds), updated.CurrentLevel)
	assert.Equal(t, 0, updated.CurrentLevel)
	assert.Equal(t, 5, updated.RewardedLevel)

	alloc, err := svc.Contribute(ctx, "alice", g.ID, dec("475"))
	require.NoError(t, err)
	require.Len(t, alloc.Steps, 1)
	assert.Equal(t, 10, alloc.Steps[0].LevelAfter)
	from, to := alloc.Steps[0].RewardableLevels()
	assert.Equal(t, 6, from)
	assert.Equal(t, 10, to)

	low := dec("40")
	_, err = svc.Update(ctx, "alice", g.ID, UpdateParams{TargetAmount: &low})
	require.ErrorIs(t, err, errors.ErrInvalidAmount)

	_, err = svc.Contribute(ctx, "alice", g.ID, dec("475"))
	require.NoError(t, err)
	_, err = svc.Update(ctx, "alice", g.ID, UpdateParams{Name: &name})
	require.ErrorIs(t, err, errors.ErrIllegalTransition)
}

func TestUpdateWithoutRetargetKeepsLevels(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	g := mustCreate(t, svc, "alice", "A", "1000")
	_, err := svc.Contribute(ctx, "alice", g.ID, dec("900"))
	require.NoError(t, err)
	before, err := svc.Get(ctx, "alice", g.ID)
	require.NoError(t, err)
	require.Equal(t, 18, before.CurrentLevel)

	name := "Renamed"
	category := "vacation"
	updated, err := svc.Update(ctx, "alice", g.ID, UpdateParams{Name: &name, Category: &category})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", updated.Name)
	assert.Equal(t, goal.CategoryVacation, updated.Category)
	assert.Equal(t, before.CurrentLevel, updated.CurrentLevel)
	require.Len(t, updated.Thresholds, len(before.Thresholds))
	for i := range before.Thresholds {
		assert.True(t, before.Thresholds[i].Equal(updated.Thresholds[i]), "threshold %d", i)
	}

	same := dec("1000.00")
	updated, err = svc.Update(ctx, "alice", g.ID, UpdateParams{TargetAmount: &same})
	require.NoError(t, err)
	assert.Equal(t, before.CurrentLevel, updated.CurrentLevel)

	alloc, err := svc.Contribute(ctx, "alice", g.ID, dec("100"))
	require.NoError(t, err)
	require.Len(t, alloc.Steps, 1)
	from, to := alloc.Steps[0].RewardableLevels()
	assert.Equal(t, 19, from)
	assert.Equal(t, 20, to)
}
