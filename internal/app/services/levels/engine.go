package levels

import (
	"context"
	stderrors "errors"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/savepop/savepop/internal/app/core/service"
	"github.com/savepop/savepop/internal/app/domain/goal"
	"github.com/savepop/savepop/internal/app/metrics"
	"github.com/savepop/savepop/pkg/logger"
)

const (
	// DefaultHorizonDays is used when a goal has no target date.
	DefaultHorizonDays = 180
	// MinHorizonDays floors the horizon for near or past target dates.
	MinHorizonDays = 30
	// DefaultAdvisorTimeout bounds a single advisory call.
	DefaultAdvisorTimeout = 3 * time.Second

	SourceFallback = "fallback"
	SourceAdvisor  = "advisor"
)

// Input is everything the engine needs to plan a goal's levels.
type Input struct {
	Name       string
	Category   goal.Category
	Target     decimal.Decimal
	Current    decimal.Decimal
	TargetDate *time.Time
	Streak     int
}

// Plan is the engine output stored on the goal.
type Plan struct {
	TotalLevels int
	Thresholds  []decimal.Decimal
	DailyTarget decimal.Decimal
	Copy        goal.Copy
	Source      string
}

// Summary is the goal description sent to the advisory hook.
type Summary struct {
	Name        string          `json:"name"`
	Category    goal.Category   `json:"category"`
	Target      decimal.Decimal `json:"target_amount"`
	Current     decimal.Decimal `json:"current_amount"`
	Remaining   decimal.Decimal `json:"remaining"`
	HorizonDays int             `json:"days_remaining"`
	Streak      int             `json:"current_streak"`
}

// Suggestion is what an advisor may return. Nil or empty fields are ignored.
type Suggestion struct {
	TotalLevels *int
	DailyTarget *decimal.Decimal
	Copy        goal.Copy
}

// Advisor suggests level counts, daily targets and motivational copy.
type Advisor interface {
	SuggestLevels(ctx context.Context, summary Summary, profile Profile) (Suggestion, error)
}

// Engine computes level plans. It holds no goal state; the optional advisor
// is consulted under a bounded timeout and every failure falls back.
type Engine struct {
	advisor Advisor
	timeout time.Duration
	now     func() time.Time
	log     *logger.Logger
}

// NewEngine builds an engine. A nil advisor disables the advisory hook.
func NewEngine(advisor Advisor, timeout time.Duration, log *logger.Logger) *Engine {
	if log == nil {
		log = logger.NewDefault("levels")
	}
	if timeout <= 0 {
		timeout = DefaultAdvisorTimeout
	}
	return &Engine{
		advisor: advisor,
		timeout: timeout,
		now:     func() time.Time { return time.Now().UTC() },
		log:     log,
	}
}

// WithClock overrides the engine's notion of today.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	if now != nil {
		e.now = now
	}
	return e
}

func (e *Engine) Descriptor() service.Descriptor {
	d := service.Descriptor{
		Name:         "levels",
		Domain:       "savings",
		Layer:        service.LayerEngine,
		Capabilities: []string{"tiered-levels", "daily-target"},
	}
	if e.advisor != nil {
		d = d.WithCapabilities("advisor")
	}
	return d
}

// Compute returns the level plan for a goal. It never fails: advisory errors
// are logged and absorbed.
func (e *Engine) Compute(ctx context.Context, in Input, profile Profile) Plan {
	today := e.now()
	plan := Fallback(in, today)
	if e.advisor == nil {
		return plan
	}

	summary := Summary{
		Name:        in.Name,
		Category:    in.Category,
		Target:      in.Target,
		Current:     in.Current,
		Remaining:   remaining(in),
		HorizonDays: HorizonDays(in.TargetDate, today),
		Streak:      in.Streak,
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	suggestion, err := e.callAdvisor(callCtx, summary, profile)
	elapsed := time.Since(start)
	if err != nil {
		outcome := "error"
		if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(callCtx.Err(), context.DeadlineExceeded) {
			outcome = "timeout"
		}
		metrics.RecordAdvisorCall(outcome, elapsed)
		e.log.WithError(err).WithField("outcome", outcome).Warn("advisor unavailable; using fallback levels")
		return plan
	}

	merged, applied := merge(plan, suggestion, in)
	if !applied {
		metrics.RecordAdvisorCall("ignored", elapsed)
		return plan
	}
	metrics.RecordAdvisorCall("ok", elapsed)
	return merged
}

// callAdvisor runs the advisor in its own goroutine so a hook that ignores
// its context still cannot hold the caller past the deadline.
func (e *Engine) callAdvisor(ctx context.Context, summary Summary, profile Profile) (Suggestion, error) {
	type result struct {
		s   Suggestion
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("advisor panic: %v", r)}
			}
		}()
		s, err := e.advisor.SuggestLevels(ctx, summary, profile)
		done <- result{s: s, err: err}
	}()

	select {
	case res := <-done:
		return res.s, res.err
	case <-ctx.Done():
		return Suggestion{}, ctx.Err()
	}
}

// merge applies the valid parts of a suggestion to the fallback plan.
func merge(plan Plan, s Suggestion, in Input) (Plan, bool) {
	applied := false
	if s.TotalLevels != nil && *s.TotalLevels >= goal.MinLevels && *s.TotalLevels <= goal.MaxLevels {
		plan.TotalLevels = *s.TotalLevels
		plan.Thresholds = Thresholds(in.Current, remaining(in), in.Target, plan.TotalLevels)
		applied = true
	}
	if s.DailyTarget != nil && !s.DailyTarget.IsNegative() {
		plan.DailyTarget = s.DailyTarget.Round(2)
		applied = true
	}
	if s.Copy.Tip != "" {
		plan.Copy.Tip = s.Copy.Tip
		applied = true
	}
	if s.Copy.Quarter != "" {
		plan.Copy.Quarter = s.Copy.Quarter
		applied = true
	}
	if s.Copy.Half != "" {
		plan.Copy.Half = s.Copy.Half
		applied = true
	}
	if s.Copy.ThreeQuart != "" {
		plan.Copy.ThreeQuart = s.Copy.ThreeQuart
		applied = true
	}
	if s.Copy.Completion != "" {
		plan.Copy.Completion = s.Copy.Completion
		applied = true
	}
	if applied {
		plan.Source = SourceAdvisor
	}
	return plan, applied
}

// Fallback is the deterministic offline plan.
func Fallback(in Input, today time.Time) Plan {
	rem := remaining(in)
	total := TierLevels(rem)
	days := HorizonDays(in.TargetDate, today)
	daily := rem.Div(decimal.NewFromInt(int64(days))).Round(2)

	return Plan{
		TotalLevels: total,
		Thresholds:  Thresholds(in.Current, rem, in.Target, total),
		DailyTarget: daily,
		Copy:        FallbackCopy(daily),
		Source:      SourceFallback,
	}
}

// TierLevels picks the level count from the remaining-amount bucket. The
// 30-level bucket includes 5000 itself.
func TierLevels(rem decimal.Decimal) int {
	switch {
	case rem.LessThan(decimal.NewFromInt(500)):
		return 10
	case rem.LessThan(decimal.NewFromInt(2000)):
		return 20
	case rem.LessThanOrEqual(decimal.NewFromInt(5000)):
		return 30
	default:
		return 50
	}
}

// Thresholds spreads rem evenly over total levels starting at current. The
// last threshold is pinned to target so rounding never leaves a gap.
func Thresholds(current, rem, target decimal.Decimal, total int) []decimal.Decimal {
	out := make([]decimal.Decimal, total)
	step := rem.Div(decimal.NewFromInt(int64(total)))
	for i := 0; i < total; i++ {
		out[i] = current.Add(step.Mul(decimal.NewFromInt(int64(i + 1)))).Round(2)
	}
	if total > 0 && rem.IsPositive() {
		out[total-1] = target
	}
	return out
}

// HorizonDays is the number of whole days until the target date, floored at
// MinHorizonDays, or DefaultHorizonDays when no date is set.
func HorizonDays(targetDate *time.Time, today time.Time) int {
	if targetDate == nil {
		return DefaultHorizonDays
	}
	days := int(math.Floor(targetDate.Sub(today).Hours() / 24))
	if days < MinHorizonDays {
		return MinHorizonDays
	}
	return days
}

// FallbackCopy is the motivational text used without an advisor.
func FallbackCopy(daily decimal.Decimal) goal.Copy {
	return goal.Copy{
		Tip:        fmt.Sprintf("Save $%s per day to reach your goal", daily.StringFixed(2)),
		Quarter:    "Quarter way there! Keep going!",
		Half:       "Halfway done! You're crushing it!",
		ThreeQuart: "Almost there! Sprint to the finish!",
		Completion: "Goal achieved! Time to celebrate!",
	}
}

func remaining(in Input) decimal.Decimal {
	rem := in.Target.Sub(in.Current)
	if rem.IsNegative() {
		return decimal.Zero
	}
	return rem
}
