// Package progress turns allocator results into ledger credits and streak
// updates, and deduplicates keyed retries.
package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/savepop/savepop/internal/app/core/keylock"
	"github.com/savepop/savepop/internal/app/core/service"
	"github.com/savepop/savepop/internal/app/domain/reward"
	"github.com/savepop/savepop/internal/app/services/goals"
	"github.com/savepop/savepop/internal/app/services/ledger"
	"github.com/savepop/savepop/internal/app/storage"
	"github.com/savepop/savepop/pkg/logger"
)

// DefaultResultTTL is how long a keyed contribution outcome is remembered.
const DefaultResultTTL = 24 * time.Hour

// milestoneEvery marks levels that earn the milestone bonus.
const milestoneEvery = 10

// Reward is one ledger credit produced by a contribution.
type Reward struct {
	GoalID   string `json:"goal_id,omitempty"`
	Activity string `json:"activity"`
	Points   int64  `json:"points"`
	Coins    int64  `json:"coins"`
	Applied  bool   `json:"applied"`
}

// Outcome is the recorded result of a contribution.
type Outcome struct {
	Allocation    goals.Allocation `json:"allocation"`
	Rewards       []Reward         `json:"rewards"`
	StreakBonuses []string         `json:"streak_bonuses,omitempty"`
	Balance       reward.Balance   `json:"balance"`
	Replayed      bool             `json:"replayed"`
}

// LoginResult is returned by DailyLogin.
type LoginResult struct {
	Awarded       bool           `json:"awarded"`
	StreakBonuses []string       `json:"streak_bonuses,omitempty"`
	Balance       reward.Balance `json:"balance"`
}

// Service wires the goal allocator to the reward ledger.
type Service struct {
	goals   *goals.Service
	ledger  *ledger.Service
	results storage.IdempotencyStore
	ttl     time.Duration
	locks   *keylock.Locker
	log     *logger.Logger
	now     func() time.Time
}

// New creates a progress service. A nil results store disables replay.
func New(goalSvc *goals.Service, ledgerSvc *ledger.Service, results storage.IdempotencyStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("progress")
	}
	return &Service{
		goals:   goalSvc,
		ledger:  ledgerSvc,
		results: results,
		ttl:     DefaultResultTTL,
		locks:   keylock.New(),
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithResultTTL overrides how long keyed outcomes are kept.
func (s *Service) WithResultTTL(ttl time.Duration) *Service {
	if ttl > 0 {
		s.ttl = ttl
	}
	return s
}

// WithClock overrides the clock used for streaks and daily keys.
func (s *Service) WithClock(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

func (s *Service) Descriptor() service.Descriptor {
	return service.Descriptor{
		Name:         "progress",
		Domain:       "savings",
		Layer:        service.LayerGameplay,
		Capabilities: []string{"contribute", "daily-login", "idempotent-retry"},
		DependsOn:    []string{"goals", "ledger"},
	}
}

// allocationRecord marks that the allocator already ran for a key. A retry
// that finds one only re-issues the rewards.
type allocationRecord struct {
	Allocation goals.Allocation `json:"allocation"`
	At         time.Time        `json:"at"`
}

// Contribute allocates amount and credits the rewards it earns. With a
// non-empty key a retry returns the recorded outcome without re-applying.
// The allocation is recorded before any reward is credited, so a retry after
// a failed credit never moves money into the goals twice.
func (s *Service) Contribute(ctx context.Context, userID, goalID string, amount decimal.Decimal, key string) (Outcome, error) {
	key = strings.TrimSpace(key)
	resultKey := ""
	var rec allocationRecord
	recorded := false
	if key != "" && s.results != nil {
		resultKey = fmt.Sprintf("contribution:%s:%s", userID, key)
		unlock := s.locks.Lock(resultKey)
		defer unlock()

		if out, ok, err := s.load(ctx, resultKey); err != nil {
			return Outcome{}, err
		} else if ok {
			s.log.WithField("user_id", userID).
				WithField("idempotency_key", key).
				Info("contribution replayed")
			return out, nil
		}
		var err error
		if rec, recorded, err = s.loadAllocation(ctx, allocationKey(resultKey)); err != nil {
			return Outcome{}, err
		}
	}

	if recorded {
		s.log.WithField("user_id", userID).
			WithField("idempotency_key", key).
			Info("resuming rewards for recorded contribution")
	} else {
		alloc, err := s.goals.Contribute(ctx, userID, goalID, amount)
		if err != nil && len(alloc.Steps) == 0 {
			return Outcome{}, err
		}
		rec = allocationRecord{Allocation: alloc, At: s.now()}
		if resultKey != "" {
			if serr := s.saveAllocation(ctx, allocationKey(resultKey), rec); serr != nil {
				s.log.WithError(serr).WithField("key", resultKey).Error("record contribution allocation")
			}
		}
		if err != nil {
			return Outcome{Allocation: alloc}, err
		}
	}

	out := Outcome{Allocation: rec.Allocation}
	if err := s.creditSteps(ctx, &out, userID, key, rec.At); err != nil {
		return out, err
	}

	bal, bonuses, err := s.ledger.TouchStreak(ctx, userID, s.now())
	if err != nil {
		return out, err
	}
	out.Balance = bal
	out.StreakBonuses = activityNames(bonuses)

	if resultKey != "" {
		s.save(ctx, resultKey, out)
	}
	return out, nil
}

// creditSteps awards every step of out.Allocation. Keyed contributions derive
// one ledger key per award so re-running the loop never credits twice.
func (s *Service) creditSteps(ctx context.Context, out *Outcome, userID, key string, at time.Time) error {
	for i, step := range out.Allocation.Steps {
		prefix := ""
		if key != "" {
			prefix = fmt.Sprintf("contribution:%s:%s:%d:", userID, key, i)
		}
		goalID := step.Goal.ID

		if from, to := step.RewardableLevels(); to >= from {
			if err := s.award(ctx, out, userID, goalID, reward.ActivityLevelUp, to-from+1, keyed(prefix, "level_up")); err != nil {
				return err
			}
			for lvl := from; lvl <= to; lvl++ {
				if lvl%milestoneEvery != 0 {
					continue
				}
				if err := s.award(ctx, out, userID, goalID, reward.ActivityMilestoneLevel, 1, keyed(prefix, fmt.Sprintf("milestone:%d", lvl))); err != nil {
					return err
				}
			}
		}
		if step.JustCompleted {
			if err := s.award(ctx, out, userID, goalID, reward.ActivityGoalCompleted, 1, keyed(prefix, "completed")); err != nil {
				return err
			}
			if step.OnTime() {
				if err := s.award(ctx, out, userID, goalID, reward.ActivityGoalOnTime, 1, keyed(prefix, "on_time")); err != nil {
					return err
				}
			}
		}
		if step.DailyTargetMet {
			dailyKey := fmt.Sprintf("daily_target:%s:%s", goalID, reward.Day(at).Format("2006-01-02"))
			if err := s.award(ctx, out, userID, goalID, reward.ActivityDailyTargetMet, 1, dailyKey); err != nil {
				return err
			}
		}
	}
	return nil
}

// DailyLogin awards the login bonus once per calendar day and touches the
// streak.
func (s *Service) DailyLogin(ctx context.Context, userID string) (LoginResult, error) {
	now := s.now()
	key := fmt.Sprintf("login:%s:%s", userID, reward.Day(now).Format("2006-01-02"))
	res, err := s.ledger.Award(ctx, userID, reward.ActivityDailyLogin, ledger.Options{IdempotencyKey: key})
	if err != nil {
		return LoginResult{}, err
	}
	bal, bonuses, err := s.ledger.TouchStreak(ctx, userID, now)
	if err != nil {
		return LoginResult{}, err
	}
	return LoginResult{
		Awarded:       res.Applied,
		StreakBonuses: activityNames(bonuses),
		Balance:       bal,
	}, nil
}

func (s *Service) award(ctx context.Context, out *Outcome, userID, goalID string, act reward.Activity, n int, key string) error {
	res, err := s.ledger.AwardN(ctx, userID, act, n, ledger.Options{IdempotencyKey: key})
	if err != nil {
		return fmt.Errorf("award %s for goal %s: %w", act, goalID, err)
	}
	p := act.Payout()
	out.Rewards = append(out.Rewards, Reward{
		GoalID:   goalID,
		Activity: act.String(),
		Points:   p.Points * int64(n),
		Coins:    p.Coins * int64(n),
		Applied:  res.Applied,
	})
	return nil
}

func (s *Service) load(ctx context.Context, key string) (Outcome, bool, error) {
	raw, ok, err := s.results.LoadResult(ctx, key)
	if err != nil {
		return Outcome{}, false, fmt.Errorf("load contribution result: %w", err)
	}
	if !ok {
		return Outcome{}, false, nil
	}
	var out Outcome
	if err := json.Unmarshal(raw, &out); err != nil {
		s.log.WithError(err).WithField("key", key).Warn("discarding unreadable contribution result")
		return Outcome{}, false, nil
	}
	out.Replayed = true
	return out, true, nil
}

func (s *Service) loadAllocation(ctx context.Context, key string) (allocationRecord, bool, error) {
	raw, ok, err := s.results.LoadResult(ctx, key)
	if err != nil {
		return allocationRecord{}, false, fmt.Errorf("load contribution allocation: %w", err)
	}
	if !ok {
		return allocationRecord{}, false, nil
	}
	var rec allocationRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return allocationRecord{}, false, fmt.Errorf("decode contribution allocation: %w", err)
	}
	return rec, true, nil
}

func (s *Service) saveAllocation(ctx context.Context, key string, rec allocationRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.results.SaveResult(ctx, key, raw, s.ttl)
}

func allocationKey(resultKey string) string {
	return resultKey + ":allocation"
}

func (s *Service) save(ctx context.Context, key string, out Outcome) {
	raw, err := json.Marshal(out)
	if err != nil {
		s.log.WithError(err).Warn("encode contribution result")
		return
	}
	if err := s.results.SaveResult(ctx, key, raw, s.ttl); err != nil {
		s.log.WithError(err).WithField("key", key).Warn("save contribution result")
	}
}

func keyed(prefix, suffix string) string {
	if prefix == "" {
		return ""
	}
	return prefix + suffix
}

func activityNames(acts []reward.Activity) []string {
	if len(acts) == 0 {
		return nil
	}
	out := make([]string, len(acts))
	for i, a := range acts {
		out[i] = a.String()
	}
	return out
}
