package quest

import (
	"time"

	"github.com/savepop/savepop/internal/app/domain/reward"
)

// Category groups quests in the catalog.
type Category string

const (
	CategoryMilestone   Category = "milestone"
	CategoryNoSpend     Category = "no-spend"
	CategoryAccelerator Category = "accelerator"
	CategorySocial      Category = "social"
)

// Status of a user's quest assignment.
type Status string

const (
	StatusAccepted  Status = "accepted"
	StatusCompleted Status = "completed"
	StatusExpired   Status = "expired"
)

// Template describes a quest a user can accept.
type Template struct {
	Kind          string          `json:"kind"`
	Name          string          `json:"name"`
	Description   string          `json:"description"`
	Category      Category        `json:"category"`
	DurationHours int             `json:"duration_hours"`
	Activity      reward.Activity `json:"-"`
	Points        int64           `json:"points"`
	Coins         int64           `json:"coins"`
}

// Assignment is a quest accepted by a user.
type Assignment struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	Kind        string     `json:"kind"`
	Status      Status     `json:"status"`
	AcceptedAt  time.Time  `json:"accepted_at"`
	ExpiresAt   time.Time  `json:"expires_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Overdue reports whether an open assignment has passed its deadline.
func (a Assignment) Overdue(now time.Time) bool {
	return a.Status == StatusAccepted && now.After(a.ExpiresAt)
}

func template(kind, name, desc string, cat Category, hours int, act reward.Activity) Template {
	p := act.Payout()
	return Template{
		Kind:          kind,
		Name:          name,
		Description:   desc,
		Category:      cat,
		DurationHours: hours,
		Activity:      act,
		Points:        p.Points,
		Coins:         p.Coins,
	}
}

// Catalog lists every quest template in display order.
func Catalog() []Template {
	return []Template{
		template("no_spend_2x", "No-Spend Double", "Go two days without discretionary spending.", CategoryNoSpend, 48, reward.ActivityQuestNoSpend2x),
		template("zero_spend_day", "Zero Spend Day", "Spend nothing at all for a full day.", CategoryNoSpend, 24, reward.ActivityQuestZeroSpendDay),
		template("skip_coffee_week", "Skip the Coffee Run", "Make coffee at home for a week.", CategoryNoSpend, 168, reward.ActivityQuestSkipCoffeeWeek),
		template("cook_5_days", "Home Chef", "Cook at home five days in a row.", CategoryNoSpend, 120, reward.ActivityQuestCook5Days),
		template("extra_20_week", "Extra Twenty", "Save an extra $20 this week.", CategoryAccelerator, 168, reward.ActivityQuestExtra20Week),
		template("auto_transfer", "Set and Forget", "Set up an automatic transfer to savings.", CategoryAccelerator, 72, reward.ActivityQuestAutoTransfer),
		template("cancel_subscription", "Subscription Sweep", "Cancel a subscription you no longer use.", CategoryAccelerator, 72, reward.ActivityQuestCancelSubscription),
		template("sell_unused", "Declutter for Cash", "Sell something you no longer need.", CategoryAccelerator, 168, reward.ActivityQuestSellUnused),
		template("review_budget", "Budget Check-in", "Review last month's spending.", CategoryMilestone, 24, reward.ActivityQuestReviewBudget),
		template("pay_off_credit", "Card Crusher", "Pay a credit card balance in full.", CategoryMilestone, 168, reward.ActivityQuestPayOffCredit),
		template("share_tip", "Share a Tip", "Share a savings tip with a friend.", CategorySocial, 24, reward.ActivityQuestShareTip),
		template("group_challenge", "Group Challenge", "Finish a savings challenge with friends.", CategorySocial, 168, reward.ActivityQuestGroupChallenge),
	}
}

// Lookup finds a template by kind.
func Lookup(kind string) (Template, bool) {
	for _, t := range Catalog() {
		if t.Kind == kind {
			return t, true
		}
	}
	return Template{}, false
}
