// Package events carries domain notifications from services to the stream hub.
package events

import (
	"context"
	"sync"
	"time"
)

const (
	GoalCompleted  = "goal.completed"
	GoalLevelUp    = "goal.level_up"
	GridPlaced     = "grid.placed"
	VetoCreated    = "veto.created"
	VetoVoted      = "veto.voted"
	VetoDecided    = "veto.decided"
	QuestCompleted = "quest.completed"
)

// Event is one domain notification. UserID names the user it concerns and is
// not part of the wire payload.
type Event struct {
	Type   string    `json:"type"`
	UserID string    `json:"-"`
	Data   any       `json:"data"`
	At     time.Time `json:"at"`
}

// Publisher accepts events. Implementations must not block the caller for long
// and never fail the operation that produced the event.
type Publisher interface {
	Publish(ctx context.Context, evt Event)
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) {}

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, evt Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Types lists recorded event types in publish order.
func (r *Recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

// Fanout forwards each event to every publisher in order.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, evt Event) {
	for _, p := range f {
		if p != nil {
			p.Publish(ctx, evt)
		}
	}
}

// New stamps an event with the current time.
func New(kind, userID string, data any) Event {
	return Event{Type: kind, UserID: userID, Data: data, At: time.Now().UTC()}
}

// OrNop returns p, or Nop when p is nil.
func OrNop(p Publisher) Publisher {
	if p == nil {
		return Nop{}
	}
	return p
}
