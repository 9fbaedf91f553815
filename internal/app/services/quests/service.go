package quests

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/savepop/savepop/internal/app/core/keylock"
	"github.com/savepop/savepop/internal/app/core/service"
	"github.com/savepop/savepop/internal/app/domain/quest"
	"github.com/savepop/savepop/internal/app/events"
	"github.com/savepop/savepop/internal/app/services/ledger"
	"github.com/savepop/savepop/internal/app/storage"
	"github.com/savepop/savepop/internal/errors"
	"github.com/savepop/savepop/pkg/logger"
)

// Completion is the result of finishing a quest.
type Completion struct {
	Assignment quest.Assignment `json:"assignment"`
	Reward     ledger.Result    `json:"reward"`
}

// Service manages side quests.
type Service struct {
	store  storage.QuestStore
	ledger *ledger.Service
	events events.Publisher
	locks  *keylock.Locker
	log    *logger.Logger
	now    func() time.Time
}

// New creates a quest service.
func New(store storage.QuestStore, ledgerSvc *ledger.Service, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("quests")
	}
	return &Service{
		store:  store,
		ledger: ledgerSvc,
		events: events.Nop{},
		locks:  keylock.New(),
		log:    log,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithEvents publishes quest completions to p.
func (s *Service) WithEvents(p events.Publisher) *Service {
	s.events = events.OrNop(p)
	return s
}

// WithClock overrides the service clock.
func (s *Service) WithClock(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

func (s *Service) Descriptor() service.Descriptor {
	return service.Descriptor{
		Name:         "quests",
		Domain:       "rewards",
		Layer:        service.LayerGameplay,
		Capabilities: []string{"catalog", "accept", "complete", "expiry"},
		DependsOn:    []string{"ledger"},
	}
}

// Catalog lists the quests users can accept.
func (s *Service) Catalog() []quest.Template {
	return quest.Catalog()
}

// Accept starts a quest. A user holds at most one open assignment per kind.
func (s *Service) Accept(ctx context.Context, userID, kind string) (quest.Assignment, error) {
	if strings.TrimSpace(userID) == "" {
		return quest.Assignment{}, errors.Unauthenticated("user id required")
	}
	tmpl, ok := quest.Lookup(strings.TrimSpace(kind))
	if !ok {
		return quest.Assignment{}, errors.NotFound("quest", kind)
	}

	unlock := s.locks.Lock(userID)
	defer unlock()

	current, err := s.listLocked(ctx, userID)
	if err != nil {
		return quest.Assignment{}, err
	}
	for _, a := range current {
		if a.Kind == tmpl.Kind && a.Status == quest.StatusAccepted {
			return quest.Assignment{}, errors.IllegalTransition(string(quest.StatusAccepted), string(quest.StatusAccepted)).
				WithDetails("assignment_id", a.ID)
		}
	}

	now := s.now()
	a, err := s.store.CreateAssignment(ctx, quest.Assignment{
		UserID:     userID,
		Kind:       tmpl.Kind,
		Status:     quest.StatusAccepted,
		AcceptedAt: now,
		ExpiresAt:  now.Add(time.Duration(tmpl.DurationHours) * time.Hour),
	})
	if err != nil {
		return quest.Assignment{}, err
	}
	s.log.WithField("user_id", userID).
		WithField("quest", tmpl.Kind).
		WithField("assignment_id", a.ID).
		Info("quest accepted")
	return a, nil
}

// Complete finishes an open assignment and credits its payout exactly once.
// Completing an already completed assignment re-issues the credit, which the
// ledger key turns into a no-op once it has landed.
func (s *Service) Complete(ctx context.Context, userID, assignmentID string) (Completion, error) {
	unlock := s.locks.Lock(userID)
	defer unlock()

	a, err := s.store.GetAssignment(ctx, assignmentID)
	if err != nil {
		return Completion{}, err
	}
	if a.UserID != userID {
		return Completion{}, errors.Unauthorized("quest belongs to another user")
	}
	tmpl, ok := quest.Lookup(a.Kind)
	if !ok {
		return Completion{}, errors.Internal(fmt.Sprintf("quest kind %s missing from catalog", a.Kind), nil)
	}

	updated := a
	if a.Status != quest.StatusCompleted {
		now := s.now()
		updated, err = s.store.UpdateAssignment(ctx, assignmentID, func(cur *quest.Assignment) error {
			if cur.Overdue(now) {
				cur.Status = quest.StatusExpired
				return nil
			}
			if cur.Status != quest.StatusAccepted {
				return errors.IllegalTransition(string(cur.Status), string(quest.StatusCompleted))
			}
			cur.Status = quest.StatusCompleted
			cur.CompletedAt = &now
			return nil
		})
		if err != nil {
			return Completion{}, err
		}
		if updated.Status == quest.StatusExpired {
			return Completion{}, errors.IllegalTransition(string(quest.StatusExpired), string(quest.StatusCompleted))
		}
	}

	res, err := s.ledger.Award(ctx, userID, tmpl.Activity, ledger.Options{IdempotencyKey: "quest:" + updated.ID})
	if err != nil {
		return Completion{}, err
	}
	if !res.Applied {
		return Completion{Assignment: updated, Reward: res}, nil
	}
	s.events.Publish(ctx, events.New(events.QuestCompleted, userID, map[string]any{
		"assignment_id": updated.ID,
		"quest":         tmpl.Kind,
		"points":        tmpl.Points,
		"coins":         tmpl.Coins,
	}))
	s.log.WithField("user_id", userID).
		WithField("quest", tmpl.Kind).
		Info("quest completed")
	return Completion{Assignment: updated, Reward: res}, nil
}

// List returns the user's assignments, newest first, expiring overdue ones.
func (s *Service) List(ctx context.Context, userID string) ([]quest.Assignment, error) {
	unlock := s.locks.Lock(userID)
	defer unlock()
	return s.listLocked(ctx, userID)
}

// SweepExpired expires every overdue assignment.
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	n, err := s.store.ExpireAssignments(ctx, s.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.WithField("count", n).Info("quest assignments expired")
	}
	return n, nil
}

func (s *Service) listLocked(ctx context.Context, userID string) ([]quest.Assignment, error) {
	all, err := s.store.ListAssignments(ctx, userID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	for i, a := range all {
		if !a.Overdue(now) {
			continue
		}
		updated, err := s.store.UpdateAssignment(ctx, a.ID, func(cur *quest.Assignment) error {
			if cur.Overdue(now) {
				cur.Status = quest.StatusExpired
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		all[i] = updated
	}
	return all, nil
}
