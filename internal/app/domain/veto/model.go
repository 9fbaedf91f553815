package veto

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Status of a spending request.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Verdict is a single voter's decision.
type Verdict string

const (
	VerdictApprove Verdict = "approve"
	VerdictVeto    Verdict = "veto"
)

// ParseVerdict accepts "approve" or "veto" in any case.
func ParseVerdict(raw string) (Verdict, bool) {
	switch v := Verdict(strings.ToLower(strings.TrimSpace(raw))); v {
	case VerdictApprove, VerdictVeto:
		return v, true
	default:
		return "", false
	}
}

// Vote is one entry in a request's ordered vote list.
type Vote struct {
	VoterID string    `json:"voter_id"`
	Verdict Verdict   `json:"verdict"`
	CastAt  time.Time `json:"cast_at"`
}

// Request asks other users for permission to spend.
type Request struct {
	ID          string          `json:"id"`
	RequesterID string          `json:"requester_id"`
	Item        string          `json:"item"`
	Amount      decimal.Decimal `json:"amount"`
	Reason      string          `json:"reason"`
	Votes       []Vote          `json:"votes"`
	Status      Status          `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
	DecidedAt   *time.Time      `json:"decided_at,omitempty"`
}

// HasVoted reports whether voter already appears in the vote list.
func (r Request) HasVoted(voter string) bool {
	for _, v := range r.Votes {
		if v.VoterID == voter {
			return true
		}
	}
	return false
}

// Approvals counts approve votes.
func (r Request) Approvals() int {
	n := 0
	for _, v := range r.Votes {
		if v.Verdict == VerdictApprove {
			n++
		}
	}
	return n
}

// Clone copies the vote slice.
func (r Request) Clone() Request {
	cp := r
	cp.Votes = append([]Vote(nil), r.Votes...)
	if r.DecidedAt != nil {
		t := *r.DecidedAt
		cp.DecidedAt = &t
	}
	return cp
}
