package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/savepop/savepop/internal/app/core/service"
	"github.com/savepop/savepop/internal/app/domain/reward"
	"github.com/savepop/savepop/internal/app/metrics"
	"github.com/savepop/savepop/internal/app/storage"
	"github.com/savepop/savepop/internal/errors"
	"github.com/savepop/savepop/pkg/logger"
)

const (
	DefaultLeaderboardLimit = 100
	MaxLeaderboardLimit     = 1000
	DefaultHistoryLimit     = 50
)

// Options tune a single ledger write.
type Options struct {
	// Reason labels the ledger entry. Defaults to the operation name.
	Reason string
	// IdempotencyKey makes the write apply at most once.
	IdempotencyKey string
}

// Result is the outcome of a ledger write.
type Result struct {
	Balance reward.Balance `json:"balance"`
	Applied bool           `json:"applied"`
}

// Account is a balance together with its leaderboard rank.
type Account struct {
	reward.Balance
	Rank int `json:"rank"`
}

// Service is the sole writer of balances. All changes go through the store's
// atomic MutateBalance so concurrent credits never lose updates.
type Service struct {
	store storage.LedgerStore
	log   *logger.Logger
	now   func() time.Time
}

// New creates a ledger service.
func New(store storage.LedgerStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("ledger")
	}
	return &Service{
		store: store,
		log:   log,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the clock used for streak days.
func (s *Service) WithClock(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

func (s *Service) Descriptor() service.Descriptor {
	return service.Descriptor{
		Name:         "ledger",
		Domain:       "rewards",
		Layer:        service.LayerEngine,
		Capabilities: []string{"credit", "spend", "purchase", "award", "streak", "leaderboard"},
	}
}

// Credit adds points and coins.
func (s *Service) Credit(ctx context.Context, userID string, points, coins int64, opts Options) (Result, error) {
	if err := requireUser(userID); err != nil {
		return Result{}, err
	}
	if points < 0 || coins < 0 {
		return Result{}, errors.InvalidAmount("credit amounts must not be negative")
	}
	entry := s.entry(points, coins, opts, "credit")
	return s.apply(ctx, userID, entry, func(b *reward.Balance) error {
		b.Points += points
		b.Coins += coins
		return nil
	})
}

// Spend debits coins.
func (s *Service) Spend(ctx context.Context, userID string, coins int64, opts Options) (Result, error) {
	if err := requireUser(userID); err != nil {
		return Result{}, err
	}
	if coins <= 0 {
		return Result{}, errors.InvalidAmount("spend amount must be positive")
	}
	entry := s.entry(0, -coins, opts, "spend")
	return s.apply(ctx, userID, entry, func(b *reward.Balance) error {
		if b.Coins < coins {
			return errors.InsufficientFunds(b.Coins, coins)
		}
		b.Coins -= coins
		return nil
	})
}

// Purchase debits cost coins and credits points in one atomic step.
func (s *Service) Purchase(ctx context.Context, userID string, cost, points int64, opts Options) (Result, error) {
	if err := requireUser(userID); err != nil {
		return Result{}, err
	}
	if cost <= 0 {
		return Result{}, errors.InvalidAmount("purchase cost must be positive")
	}
	if points < 0 {
		return Result{}, errors.InvalidAmount("purchase points must not be negative")
	}
	entry := s.entry(points, -cost, opts, "purchase")
	return s.apply(ctx, userID, entry, func(b *reward.Balance) error {
		if b.Coins < cost {
			return errors.InsufficientFunds(b.Coins, cost)
		}
		b.Coins -= cost
		b.Points += points
		return nil
	})
}

// Award credits the payout for one occurrence of an activity.
func (s *Service) Award(ctx context.Context, userID string, act reward.Activity, opts Options) (Result, error) {
	return s.AwardN(ctx, userID, act, 1, opts)
}

// AwardN credits n occurrences of an activity in a single entry. Activities
// with a negative coin payout are purchases.
func (s *Service) AwardN(ctx context.Context, userID string, act reward.Activity, n int, opts Options) (Result, error) {
	if _, ok := reward.ParseActivity(act.String()); !ok {
		return Result{}, errors.InvalidInput(fmt.Sprintf("unknown activity %s", act))
	}
	if n <= 0 {
		return Result{}, errors.InvalidAmount("award count must be positive")
	}
	if opts.Reason == "" {
		opts.Reason = act.String()
	}
	p := act.Payout()
	points, coins := p.Points*int64(n), p.Coins*int64(n)
	if coins < 0 {
		return s.Purchase(ctx, userID, -coins, points, opts)
	}
	return s.Credit(ctx, userID, points, coins, opts)
}

// TouchStreak records a reward-worthy activity at `at`. When the streak lands
// on a milestone the matching bonus is awarded, keyed by user, streak value and
// day so a replay of the same day cannot pay twice.
func (s *Service) TouchStreak(ctx context.Context, userID string, at time.Time) (reward.Balance, []reward.Activity, error) {
	if err := requireUser(userID); err != nil {
		return reward.Balance{}, nil, err
	}
	if at.IsZero() {
		at = s.now()
	}

	changed := false
	bal, _, err := s.store.MutateBalance(ctx, userID, nil, func(b *reward.Balance) error {
		changed = b.AdvanceStreak(at)
		return nil
	})
	if err != nil {
		return reward.Balance{}, nil, err
	}
	if !changed {
		return bal, nil, nil
	}

	act, ok := reward.StreakMilestone(bal.Streak)
	if !ok {
		return bal, nil, nil
	}
	key := fmt.Sprintf("streak:%s:%d:%s", userID, bal.Streak, reward.Day(at).Format("2006-01-02"))
	res, err := s.Award(ctx, userID, act, Options{IdempotencyKey: key})
	if err != nil {
		return bal, nil, err
	}
	if !res.Applied {
		return res.Balance, nil, nil
	}
	s.log.WithField("user_id", userID).
		WithField("streak", bal.Streak).
		Info("streak milestone reached")
	return res.Balance, []reward.Activity{act}, nil
}

// Balance returns the user's balance and rank.
func (s *Service) Balance(ctx context.Context, userID string) (Account, error) {
	if err := requireUser(userID); err != nil {
		return Account{}, err
	}
	bal, err := s.store.GetBalance(ctx, userID)
	if err != nil {
		return Account{}, err
	}
	above, err := s.store.CountPointsAbove(ctx, bal.Points)
	if err != nil {
		return Account{}, err
	}
	return Account{Balance: bal, Rank: above + 1}, nil
}

// Leaderboard returns the top balances. Equal points share a rank.
func (s *Service) Leaderboard(ctx context.Context, limit int) ([]reward.Standing, error) {
	if limit <= 0 {
		limit = DefaultLeaderboardLimit
	}
	if limit > MaxLeaderboardLimit {
		limit = MaxLeaderboardLimit
	}
	balances, err := s.store.ListBalances(ctx, limit)
	if err != nil {
		return nil, err
	}
	out := make([]reward.Standing, len(balances))
	for i, b := range balances {
		rank := i + 1
		if i > 0 && b.Points == balances[i-1].Points {
			rank = out[i-1].Rank
		}
		out[i] = reward.Standing{
			Rank:   rank,
			UserID: b.UserID,
			Points: b.Points,
			Coins:  b.Coins,
			Streak: b.Streak,
		}
	}
	return out, nil
}

// History returns the user's ledger entries, newest first.
func (s *Service) History(ctx context.Context, userID string, limit int) ([]reward.Entry, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return s.store.ListEntries(ctx, userID, limit)
}

func (s *Service) entry(points, coins int64, opts Options, fallback string) *reward.Entry {
	reason := strings.TrimSpace(opts.Reason)
	if reason == "" {
		reason = fallback
	}
	return &reward.Entry{
		Points:         points,
		Coins:          coins,
		Reason:         reason,
		IdempotencyKey: strings.TrimSpace(opts.IdempotencyKey),
		CreatedAt:      s.now(),
	}
}

func (s *Service) apply(ctx context.Context, userID string, entry *reward.Entry, fn storage.BalanceMutator) (Result, error) {
	bal, applied, err := s.store.MutateBalance(ctx, userID, entry, fn)
	if err != nil {
		if errors.GetServiceError(err) == nil {
			metrics.RecordLedgerEntry(entry.Reason, false)
			return Result{}, fmt.Errorf("mutate balance for %s: %w", userID, err)
		}
		return Result{}, err
	}
	metrics.RecordLedgerEntry(entry.Reason, applied)
	if applied {
		s.log.WithField("user_id", userID).
			WithField("reason", entry.Reason).
			WithField("points", entry.Points).
			WithField("coins", entry.Coins).
			Debug("ledger entry applied")
	} else {
		s.log.WithField("user_id", userID).
			WithField("idempotency_key", entry.IdempotencyKey).
			Debug("ledger entry already applied")
	}
	return Result{Balance: bal, Applied: applied}, nil
}

func requireUser(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return errors.Unauthenticated("user id required")
	}
	return nil
}
