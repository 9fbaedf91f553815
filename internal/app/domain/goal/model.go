package goal

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Status tracks where a goal sits in the user's queue.
type Status string

const (
	StatusActive    Status = "active"
	StatusQueued    Status = "queued"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusPending   Status = "pending"
	StatusArchived  Status = "archived"
)

// Category classifies what the user is saving for.
type Category string

const (
	CategoryHouse     Category = "house"
	CategoryVacation  Category = "vacation"
	CategoryDebt      Category = "debt"
	CategoryShopping  Category = "shopping"
	CategoryEmergency Category = "emergency"
	CategoryOther     Category = "other"
)

const (
	MinLevels = 5
	MaxLevels = 50
)

// ParseCategory normalises free-form input, mapping unknown values to other.
func ParseCategory(raw string) Category {
	switch c := Category(strings.ToLower(strings.TrimSpace(raw))); c {
	case CategoryHouse, CategoryVacation, CategoryDebt, CategoryShopping, CategoryEmergency:
		return c
	default:
		return CategoryOther
	}
}

// Copy is the motivational text shown alongside a goal.
type Copy struct {
	Tip        string `json:"tip"`
	Quarter    string `json:"milestone_message_25"`
	Half       string `json:"milestone_message_50"`
	ThreeQuart string `json:"milestone_message_75"`
	Completion string `json:"completion_message"`
}

// Goal is a tracked savings target with a queue position and a leveling scheme.
type Goal struct {
	ID            string            `json:"id"`
	UserID        string            `json:"user_id"`
	Name          string            `json:"name"`
	Category      Category          `json:"category"`
	TargetAmount  decimal.Decimal   `json:"target_amount"`
	CurrentAmount decimal.Decimal   `json:"current_amount"`
	TargetDate    *time.Time        `json:"target_date,omitempty"`
	Status        Status            `json:"status"`
	Order         int               `json:"order"`
	TotalLevels   int               `json:"total_levels"`
	Thresholds    []decimal.Decimal `json:"level_thresholds"`
	CurrentLevel  int               `json:"current_level"`
	// RewardedLevel is the highest level whose rewards were paid out. It never
	// goes down, even when a retarget resets CurrentLevel.
	RewardedLevel int               `json:"rewarded_level"`
	DailyTarget   decimal.Decimal   `json:"daily_target"`
	Copy          Copy              `json:"copy"`
	SavedToday    decimal.Decimal   `json:"saved_today"`
	LastSavedOn   *time.Time        `json:"last_saved_on,omitempty"`
	CompletedAt   *time.Time        `json:"completed_at,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// Remaining is the capacity left before the goal is full, never negative.
func (g Goal) Remaining() decimal.Decimal {
	rem := g.TargetAmount.Sub(g.CurrentAmount)
	if rem.IsNegative() {
		return decimal.Zero
	}
	return rem
}

// LevelFor counts the thresholds already reached by amount.
func LevelFor(amount decimal.Decimal, thresholds []decimal.Decimal) int {
	level := 0
	for _, th := range thresholds {
		if amount.GreaterThanOrEqual(th) {
			level++
		}
	}
	return level
}

// Open reports whether the goal still takes part in queue promotion.
func (s Status) Open() bool {
	return s == StatusActive || s == StatusQueued || s == StatusPaused
}

var transitions = map[Status][]Status{
	StatusActive:    {StatusCompleted, StatusPaused, StatusQueued, StatusPending},
	StatusQueued:    {StatusActive, StatusCompleted, StatusPending},
	StatusPaused:    {StatusActive, StatusCompleted},
	StatusCompleted: {StatusArchived},
	StatusPending:   {StatusArchived},
}

// CanTransition reports whether the state machine allows from -> to.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so stores never share slices with callers.
func (g Goal) Clone() Goal {
	cp := g
	if g.Thresholds != nil {
		cp.Thresholds = append([]decimal.Decimal(nil), g.Thresholds...)
	}
	cp.TargetDate = cloneTime(g.TargetDate)
	cp.CompletedAt = cloneTime(g.CompletedAt)
	cp.LastSavedOn = cloneTime(g.LastSavedOn)
	return cp
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
