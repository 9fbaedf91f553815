package goal

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestLevelForCountsReachedThresholds(t *testing.T) {
	thresholds := []decimal.Decimal{
		decimal.NewFromInt(100),
		decimal.NewFromInt(200),
		decimal.NewFromInt(300),
	}

	assert.Equal(t, 0, LevelFor(decimal.Zero, thresholds))
	assert.Equal(t, 0, LevelFor(decimal.RequireFromString("99.99"), thresholds))
	assert.Equal(t, 1, LevelFor(decimal.NewFromInt(100), thresholds))
	assert.Equal(t, 2, LevelFor(decimal.RequireFromString("250.5"), thresholds))
	assert.Equal(t, 3, LevelFor(decimal.NewFromInt(300), thresholds))
}

func TestRemainingNeverNegative(t *testing.T) {
	g := Goal{TargetAmount: decimal.NewFromInt(50), CurrentAmount: decimal.NewFromInt(60)}
	assert.True(t, g.Remaining().IsZero())

	g.CurrentAmount = decimal.NewFromInt(20)
	assert.True(t, g.Remaining().Equal(decimal.NewFromInt(30)))
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(StatusActive, StatusCompleted))
	assert.True(t, CanTransition(StatusQueued, StatusPending))
	assert.True(t, CanTransition(StatusPending, StatusArchived))
	assert.False(t, CanTransition(StatusActive, StatusArchived))
	assert.False(t, CanTransition(StatusArchived, StatusActive))
	assert.False(t, CanTransition(StatusPaused, StatusPending))
}

func TestParseCategory(t *testing.T) {
	assert.Equal(t, CategoryVacation, ParseCategory(" Vacation "))
	assert.Equal(t, CategoryOther, ParseCategory("yacht"))
}

func TestCloneCopiesThresholds(t *testing.T) {
	g := Goal{Thresholds: []decimal.Decimal{decimal.NewFromInt(1)}}
	cp := g.Clone()
	cp.Thresholds[0] = decimal.NewFromInt(9)
	assert.True(t, g.Thresholds[0].Equal(decimal.NewFromInt(1)))
}
