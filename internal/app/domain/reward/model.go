package reward

import "time"

// Balance is a user's dual-currency position and activity streak.
type Balance struct {
	UserID        string     `json:"user_id"`
	Points        int64      `json:"points"`
	Coins         int64      `json:"coins"`
	Streak        int        `json:"current_streak"`
	LongestStreak int        `json:"longest_streak"`
	LastActiveOn  *time.Time `json:"last_activity_date,omitempty"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Entry records one change applied to a balance.
type Entry struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	Points         int64     `json:"points"`
	Coins          int64     `json:"coins"`
	Reason         string    `json:"reason"`
	IdempotencyKey string    `json:"idempotency_key,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Standing is a leaderboard row.
type Standing struct {
	Rank   int    `json:"rank"`
	UserID string `json:"user_id"`
	Points int64  `json:"points"`
	Coins  int64  `json:"coins"`
	Streak int    `json:"current_streak"`
}

// Day truncates a timestamp to its UTC calendar day.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// AdvanceStreak applies one reward-worthy activity on day `at` and reports
// whether the streak value changed.
func (b *Balance) AdvanceStreak(at time.Time) bool {
	today := Day(at)
	switch {
	case b.LastActiveOn == nil:
		b.Streak = 1
	case Day(*b.LastActiveOn).Equal(today):
		return false
	case Day(*b.LastActiveOn).Add(24 * time.Hour).Equal(today):
		b.Streak++
	default:
		b.Streak = 1
	}
	if b.Streak > b.LongestStreak {
		b.LongestStreak = b.Streak
	}
	b.LastActiveOn = &today
	return true
}
