package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/savepop/savepop/internal/app/domain/reward"
	"github.com/savepop/savepop/internal/app/storage/memory"
	"github.com/savepop/savepop/internal/errors"
)

func day(n int) time.Time {
	return time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC).AddDate(0, 0, n)
}

func TestCreditAndSpend(t *testing.T) {
	ctx := context.Background()
	svc := New(memory.New(), nil)

	res, err := svc.Credit(ctx, "alice", 40, 30, Options{})
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.Equal(t, int64(40), res.Balance.Points)
	assert.Equal(t, int64(30), res.Balance.Coins)

	res, err = svc.Spend(ctx, "alice", 20, Options{Reason: "shop"})
	require.NoError(t, err)
	assert.Equal(t, int64(10), res.Balance.Coins)
	assert.Equal(t, int64(40), res.Balance.Points)

	_, err = svc.Spend(ctx, "alice", 11, Options{})
	require.ErrorIs(t, err, errors.ErrInsufficientFunds)

	_, err = svc.Spend(ctx, "alice", 0, Options{})
	require.ErrorIs(t, err, errors.ErrInvalidAmount)

	_, err = svc.Credit(ctx, "alice", -1, 0, Options{})
	require.ErrorIs(t, err, errors.ErrInvalidAmount)

	_, err = svc.Credit(ctx, " ", 1, 1, Options{})
	require.ErrorIs(t, err, errors.ErrUnauthenticated)

	acct, err := svc.Balance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(10), acct.Coins)
}

func TestCreditIsIdempotentWithKey(t *testing.T) {
	ctx := context.Background()
	svc := New(memory.New(), nil)

	first, err := svc.Credit(ctx, "alice", 50, 25, Options{IdempotencyKey: "contrib:1"})
	require.NoError(t, err)
	assert.True(t, first.Applied)

	second, err := svc.Credit(ctx, "alice", 50, 25, Options{IdempotencyKey: "contrib:1"})
	require.NoError(t, err)
	assert.False(t, second.Applied)
	assert.Equal(t, int64(50), second.Balance.Points)

	history, err := svc.History(ctx, "alice", 0)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestPurchaseIsAtomic(t *testing.T) {
	ctx := context.Background()
	svc := New(memory.New(), nil)

	_, err := svc.Purchase(ctx, "alice", 25, 25, Options{})
	require.ErrorIs(t, err, errors.ErrInsufficientFunds)

	acct, err := svc.Balance(ctx, "alice")
	require.NoError(t, err)
	assert.Zero(t, acct.Points)

	_, err = svc.Credit(ctx, "alice", 0, 30, Options{})
	require.NoError(t, err)
	res, err := svc.Award(ctx, "alice", reward.ActivityGridPlacement, Options{})
	require.NoError(t, err)
	assert.Equal(t, int64(25), res.Balance.Points)
	assert.Equal(t, int64(5), res.Balance.Coins)

	history, err := svc.History(ctx, "alice", 1)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "grid_placement", history[0].Reason)
	assert.Equal(t, int64(-25), history[0].Coins)
}

func TestAwardN(t *testing.T) {
	ctx := context.Background()
	svc := New(memory.New(), nil)

	res, err := svc.AwardN(ctx, "alice", reward.ActivityLevelUp, 3, Options{})
	require.NoError(t, err)
	assert.Equal(t, int64(150), res.Balance.Points)
	assert.Equal(t, int64(75), res.Balance.Coins)

	_, err = svc.Award(ctx, "alice", reward.Activity(999), Options{})
	require.ErrorIs(t, err, errors.ErrInvalidInput)

	_, err = svc.AwardN(ctx, "alice", reward.ActivityLevelUp, 0, Options{})
	require.ErrorIs(t, err, errors.ErrInvalidAmount)
}

func TestTouchStreakAwardsMilestones(t *testing.T) {
	ctx := context.Background()
	svc := New(memory.New(), nil)

	for i := 0; i < 2; i++ {
		bal, bonuses, err := svc.TouchStreak(ctx, "alice", day(i))
		require.NoError(t, err)
		assert.Empty(t, bonuses)
		assert.Equal(t, i+1, bal.Streak)
	}

	bal, bonuses, err := svc.TouchStreak(ctx, "alice", day(2))
	require.NoError(t, err)
	assert.Equal(t, []reward.Activity{reward.ActivityStreak3}, bonuses)
	assert.Equal(t, 3, bal.Streak)
	assert.Equal(t, int64(30), bal.Points)
	assert.Equal(t, int64(15), bal.Coins)

	// same day again changes nothing
	bal, bonuses, err = svc.TouchStreak(ctx, "alice", day(2).Add(5*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, bonuses)
	assert.Equal(t, int64(30), bal.Points)

	// a gap resets, and climbing back to 3 earns the bonus again
	bal, _, err = svc.TouchStreak(ctx, "alice", day(5))
	require.NoError(t, err)
	assert.Equal(t, 1, bal.Streak)
	assert.Equal(t, 3, bal.LongestStreak)

	_, _, err = svc.TouchStreak(ctx, "alice", day(6))
	require.NoError(t, err)
	bal, bonuses, err = svc.TouchStreak(ctx, "alice", day(7))
	require.NoError(t, err)
	assert.Equal(t, []reward.Activity{reward.ActivityStreak3}, bonuses)
	assert.Equal(t, int64(60), bal.Points)
}

func TestBalanceRankAndLeaderboard(t *testing.T) {
	ctx := context.Background()
	svc := New(memory.New(), nil)

	for user, points := range map[string]int64{"carol": 100, "alice": 100, "bob": 200, "dave": 10} {
		_, err := svc.Credit(ctx, user, points, 0, Options{})
		require.NoError(t, err)
	}

	acct, err := svc.Balance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, acct.Rank)

	acct, err = svc.Balance(ctx, "nobody")
	require.NoError(t, err)
	assert.Equal(t, 5, acct.Rank)
	assert.Zero(t, acct.Points)

	board, err := svc.Leaderboard(ctx, 0)
	require.NoError(t, err)
	require.Len(t, board, 4)
	got := []string{board[0].UserID, board[1].UserID, board[2].UserID, board[3].UserID}
	assert.Equal(t, []string{"bob", "alice", "carol", "dave"}, got)
	assert.Equal(t, []int{1, 2, 2, 4}, []int{board[0].Rank, board[1].Rank, board[2].Rank, board[3].Rank})

	top, err := svc.Leaderboard(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, top, 2)
}

func TestHistoryNewestFirst(t *testing.T) {
	ctx := context.Background()
	svc := New(memory.New(), nil)

	_, err := svc.Award(ctx, "alice", reward.ActivityDailyLogin, Options{})
	require.NoError(t, err)
	_, err = svc.Award(ctx, "alice", reward.ActivityDailyTargetMet, Options{})
	require.NoError(t, err)

	history, err := svc.History(ctx, "alice", 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "daily_target_met", history[0].Reason)
	assert.Equal(t, "daily_login", history[1].Reason)
}
