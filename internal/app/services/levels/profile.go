package levels

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"
)

// Profile is the financial context forwarded to the advisory hook.
type Profile struct {
	MonthlyIncome decimal.Decimal `json:"monthly_income"`
	AvgExpenses   decimal.Decimal `json:"avg_expenses"`
}

// DefaultProfile is used when no statement data exists for a user.
func DefaultProfile() Profile {
	return Profile{
		MonthlyIncome: decimal.NewFromInt(3000),
		AvgExpenses:   decimal.NewFromInt(2200),
	}
}

// ProfileProvider supplies a user's financial profile.
type ProfileProvider interface {
	Profile(ctx context.Context, userID string) (Profile, error)
}

// StaticProfiles serves profiles registered in process, falling back to
// DefaultProfile for unknown users.
type StaticProfiles struct {
	mu       sync.RWMutex
	profiles map[string]Profile
}

// NewStaticProfiles returns an empty provider.
func NewStaticProfiles() *StaticProfiles {
	return &StaticProfiles{profiles: make(map[string]Profile)}
}

// Set registers a profile for a user.
func (p *StaticProfiles) Set(userID string, profile Profile) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.profiles[userID] = profile
}

func (p *StaticProfiles) Profile(_ context.Context, userID string) (Profile, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if profile, ok := p.profiles[userID]; ok {
		return profile, nil
	}
	return DefaultProfile(), nil
}
