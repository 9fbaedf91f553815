package reward

import "fmt"

// Activity enumerates every reward-worthy event. Payouts live in the table
// below so an unknown activity is a compile error, not a runtime lookup miss.
type Activity int

const (
	ActivityDailyLogin Activity = iota + 1
	ActivityDailyTargetMet
	ActivityLevelUp
	ActivityMilestoneLevel
	ActivityGoalCompleted
	ActivityGoalOnTime
	ActivityStreak3
	ActivityStreak7
	ActivityStreak14
	ActivityStreak21
	ActivityStreak30
	ActivityGridPlacement
	ActivityQuestNoSpend2x
	ActivityQuestZeroSpendDay
	ActivityQuestSkipCoffeeWeek
	ActivityQuestCook5Days
	ActivityQuestExtra20Week
	ActivityQuestAutoTransfer
	ActivityQuestCancelSubscription
	ActivityQuestSellUnused
	ActivityQuestReviewBudget
	ActivityQuestPayOffCredit
	ActivityQuestShareTip
	ActivityQuestGroupChallenge
)

// Payout is the credit granted for one occurrence of an activity.
type Payout struct {
	Points int64
	Coins  int64
}

type activityInfo struct {
	key    string
	payout Payout
}

var activities = [...]activityInfo{
	ActivityDailyLogin:              {"daily_login", Payout{5, 2}},
	ActivityDailyTargetMet:          {"daily_target_met", Payout{10, 5}},
	ActivityLevelUp:                 {"level_up", Payout{50, 25}},
	ActivityMilestoneLevel:          {"milestone_level", Payout{150, 75}},
	ActivityGoalCompleted:           {"goal_completed", Payout{10, 0}},
	ActivityGoalOnTime:              {"goal_on_time", Payout{5, 0}},
	ActivityStreak3:                 {"streak_3", Payout{30, 15}},
	ActivityStreak7:                 {"streak_7", Payout{100, 50}},
	ActivityStreak14:                {"streak_14", Payout{200, 100}},
	ActivityStreak21:                {"streak_21", Payout{300, 150}},
	ActivityStreak30:                {"streak_30", Payout{500, 250}},
	ActivityGridPlacement:           {"grid_placement", Payout{25, -25}},
	ActivityQuestNoSpend2x:          {"quest_no_spend_2x", Payout{20, 15}},
	ActivityQuestZeroSpendDay:       {"quest_zero_spend_day", Payout{50, 30}},
	ActivityQuestSkipCoffeeWeek:     {"quest_skip_coffee_week", Payout{40, 25}},
	ActivityQuestCook5Days:          {"quest_cook_5_days", Payout{60, 35}},
	ActivityQuestExtra20Week:        {"quest_extra_20_week", Payout{60, 30}},
	ActivityQuestAutoTransfer:       {"quest_auto_transfer", Payout{50, 25}},
	ActivityQuestCancelSubscription: {"quest_cancel_subscription", Payout{80, 40}},
	ActivityQuestSellUnused:         {"quest_sell_unused", Payout{100, 50}},
	ActivityQuestReviewBudget:       {"quest_review_budget", Payout{30, 15}},
	ActivityQuestPayOffCredit:       {"quest_pay_off_credit", Payout{200, 100}},
	ActivityQuestShareTip:           {"quest_share_tip", Payout{20, 10}},
	ActivityQuestGroupChallenge:     {"quest_group_challenge", Payout{80, 40}},
}

func (a Activity) valid() bool {
	return a > 0 && int(a) < len(activities)
}

// Payout returns the credit for one occurrence.
func (a Activity) Payout() Payout {
	if !a.valid() {
		return Payout{}
	}
	return activities[a].payout
}

func (a Activity) String() string {
	if !a.valid() {
		return fmt.Sprintf("activity(%d)", int(a))
	}
	return activities[a].key
}

// ParseActivity resolves a wire key such as "daily_login".
func ParseActivity(key string) (Activity, bool) {
	for i := 1; i < len(activities); i++ {
		if activities[i].key == key {
			return Activity(i), true
		}
	}
	return 0, false
}

// StreakMilestone returns the bonus activity for a streak value, if any.
func StreakMilestone(streak int) (Activity, bool) {
	switch streak {
	case 3:
		return ActivityStreak3, true
	case 7:
		return ActivityStreak7, true
	case 14:
		return ActivityStreak14, true
	case 21:
		return ActivityStreak21, true
	case 30:
		return ActivityStreak30, true
	}
	return 0, false
}
