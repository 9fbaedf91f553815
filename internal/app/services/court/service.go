package court

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/savepop/savepop/internal/app/core/keylock"
	"github.com/savepop/savepop/internal/app/core/service"
	"github.com/savepop/savepop/internal/app/domain/grid"
	"github.com/savepop/savepop/internal/app/domain/veto"
	"github.com/savepop/savepop/internal/app/events"
	"github.com/savepop/savepop/internal/app/metrics"
	"github.com/savepop/savepop/internal/app/storage"
	"github.com/savepop/savepop/internal/errors"
	"github.com/savepop/savepop/pkg/logger"
)

// TokenSource exposes a user's grid tally.
type TokenSource interface {
	Tokens(ctx context.Context, userID string) (grid.Tally, error)
}

// Service runs the veto court: requesters ask, other users approve or veto.
type Service struct {
	store  storage.VetoStore
	tokens TokenSource
	quorum int
	events events.Publisher
	locks  *keylock.Locker
	log    *logger.Logger
	now    func() time.Time
}

// New creates a court service.
func New(store storage.VetoStore, tokens TokenSource, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("court")
	}
	return &Service{
		store:  store,
		tokens: tokens,
		events: events.Nop{},
		locks:  keylock.New(),
		log:    log,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithQuorum approves a request once it holds q approve votes and no veto.
// Zero disables approval so only a veto decides.
func (s *Service) WithQuorum(q int) *Service {
	if q < 0 {
		q = 0
	}
	s.quorum = q
	return s
}

// WithEvents publishes court events to p.
func (s *Service) WithEvents(p events.Publisher) *Service {
	s.events = events.OrNop(p)
	return s
}

func (s *Service) Descriptor() service.Descriptor {
	return service.Descriptor{
		Name:         "court",
		Domain:       "social",
		Layer:        service.LayerSocial,
		Capabilities: []string{"veto-requests", "votes"},
		DependsOn:    []string{"grid"},
	}
}

// Create files a new pending request.
func (s *Service) Create(ctx context.Context, requesterID, item string, amount decimal.Decimal, reason string) (veto.Request, error) {
	if strings.TrimSpace(requesterID) == "" {
		return veto.Request{}, errors.Unauthenticated("user id required")
	}
	item = strings.TrimSpace(item)
	if item == "" {
		return veto.Request{}, errors.InvalidItem("item required")
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return veto.Request{}, errors.InvalidInput("reason required")
	}
	if amount.IsNegative() {
		return veto.Request{}, errors.InvalidAmount("amount must not be negative")
	}

	req, err := s.store.CreateRequest(ctx, veto.Request{
		RequesterID: requesterID,
		Item:        item,
		Amount:      amount,
		Reason:      reason,
		Status:      veto.StatusPending,
		CreatedAt:   s.now(),
	})
	if err != nil {
		return veto.Request{}, err
	}
	s.events.Publish(ctx, events.New(events.VetoCreated, requesterID, req))
	s.log.WithField("request_id", req.ID).
		WithField("requester_id", requesterID).
		Info("veto request created")
	return req, nil
}

// Vote records voterID's verdict. A single veto rejects the request; an
// approve vote spends one of the voter's approve tokens.
func (s *Service) Vote(ctx context.Context, requestID, voterID, rawVerdict string) (veto.Request, error) {
	if strings.TrimSpace(voterID) == "" {
		return veto.Request{}, errors.Unauthenticated("user id required")
	}

	unlock := s.locks.Lock(voterID)
	defer unlock()

	req, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		return veto.Request{}, err
	}
	if req.RequesterID == voterID {
		metrics.RecordVote(rawVerdict, "self_vote")
		return veto.Request{}, errors.SelfVote()
	}
	verdict, ok := veto.ParseVerdict(rawVerdict)
	if !ok {
		metrics.RecordVote("invalid", "invalid")
		return veto.Request{}, errors.InvalidInput(fmt.Sprintf("verdict must be %q or %q", veto.VerdictApprove, veto.VerdictVeto))
	}
	if err := checkOpen(req, voterID); err != nil {
		metrics.RecordVote(string(verdict), "rejected")
		return veto.Request{}, err
	}

	if verdict == veto.VerdictApprove {
		if s.tokens == nil {
			return veto.Request{}, errors.NoTokensAvailable()
		}
		tally, err := s.tokens.Tokens(ctx, voterID)
		if err != nil {
			return veto.Request{}, fmt.Errorf("load approve tokens: %w", err)
		}
		if tally.ApproveTokens < 1 {
			metrics.RecordVote(string(verdict), "no_tokens")
			return veto.Request{}, errors.NoTokensAvailable()
		}
	}

	now := s.now()
	updated, err := s.store.UpdateRequest(ctx, requestID, func(r *veto.Request) error {
		if err := checkOpen(*r, voterID); err != nil {
			return err
		}
		r.Votes = append(r.Votes, veto.Vote{VoterID: voterID, Verdict: verdict, CastAt: now})
		switch {
		case verdict == veto.VerdictVeto:
			r.Status = veto.StatusRejected
			r.DecidedAt = &now
		case s.quorum > 0 && r.Approvals() >= s.quorum:
			r.Status = veto.StatusApproved
			r.DecidedAt = &now
		}
		return nil
	})
	if err != nil {
		metrics.RecordVote(string(verdict), "rejected")
		return veto.Request{}, err
	}

	metrics.RecordVote(string(verdict), "recorded")
	s.events.Publish(ctx, events.New(events.VetoVoted, updated.RequesterID, map[string]any{
		"request_id": updated.ID,
		"voter_id":   voterID,
		"verdict":    verdict,
	}))
	if updated.Status != veto.StatusPending {
		s.events.Publish(ctx, events.New(events.VetoDecided, updated.RequesterID, updated))
		s.log.WithField("request_id", updated.ID).
			WithField("status", updated.Status).
			Info("veto request decided")
	}
	return updated, nil
}

// Get returns a single request under the same visibility as List: pending
// requests and the viewer's own. Anything else reads as missing.
func (s *Service) Get(ctx context.Context, requestID, viewerID string) (veto.Request, error) {
	if strings.TrimSpace(viewerID) == "" {
		return veto.Request{}, errors.Unauthenticated("user id required")
	}
	req, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		return veto.Request{}, err
	}
	if req.Status != veto.StatusPending && req.RequesterID != viewerID {
		return veto.Request{}, errors.NotFound("veto request", requestID)
	}
	return req, nil
}

// List returns every pending request plus the viewer's own, newest first.
func (s *Service) List(ctx context.Context, viewerID string) ([]veto.Request, error) {
	if strings.TrimSpace(viewerID) == "" {
		return nil, errors.Unauthenticated("user id required")
	}
	return s.store.ListVisibleRequests(ctx, viewerID)
}

func checkOpen(r veto.Request, voterID string) error {
	if r.Status != veto.StatusPending {
		return errors.AlreadyDecided(string(r.Status))
	}
	if r.HasVoted(voterID) {
		return errors.DuplicateVote(voterID)
	}
	return nil
}
