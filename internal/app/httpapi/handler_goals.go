package httpapi

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/savepop/savepop/internal/app/domain/goal"
	"github.com/savepop/savepop/internal/app/services/goals"
	"github.com/savepop/savepop/internal/errors"
)

// dateParam accepts either a calendar date or an RFC 3339 timestamp.
type dateParam struct {
	time.Time
}

func (d *dateParam) UnmarshalJSON(b []byte) error {
	raw := string(bytes.Trim(b, `"`))
	if raw == "" || raw == "null" {
		return nil
	}
	for _, layout := range []string{"2006-01-02", time.RFC3339} {
		if t, err := time.Parse(layout, raw); err == nil {
			d.Time = t.UTC()
			return nil
		}
	}
	return fmt.Errorf("target_date %q is not a date", raw)
}

func (d *dateParam) ptr() *time.Time {
	if d == nil || d.IsZero() {
		return nil
	}
	t := d.Time
	return &t
}

func (h *handler) createGoal(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Name          string          `json:"name"`
		Category      string          `json:"category"`
		TargetAmount  decimal.Decimal `json:"target_amount"`
		CurrentAmount decimal.Decimal `json:"current_amount"`
		TargetDate    *dateParam      `json:"target_date"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, err)
		return
	}

	created, err := h.app.Goals.Create(r.Context(), UserID(r.Context()), goals.CreateParams{
		Name:          payload.Name,
		Category:      payload.Category,
		TargetAmount:  payload.TargetAmount,
		CurrentAmount: payload.CurrentAmount,
		TargetDate:    payload.TargetDate.ptr(),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *handler) listGoals(w http.ResponseWriter, r *http.Request) {
	status := goal.Status(strings.ToLower(strings.TrimSpace(r.URL.Query().Get("status"))))
	switch status {
	case "", goal.StatusActive, goal.StatusQueued, goal.StatusPaused,
		goal.StatusCompleted, goal.StatusPending, goal.StatusArchived:
	default:
		writeError(w, errors.InvalidInput(fmt.Sprintf("unknown status %q", status)))
		return
	}
	list, err := h.app.Goals.List(r.Context(), UserID(r.Context()), status)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(list))
}

func (h *handler) reorderGoals(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		GoalIDs []string `json:"goal_ids"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, err)
		return
	}
	list, err := h.app.Goals.Reorder(r.Context(), UserID(r.Context()), payload.GoalIDs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(list))
}

func (h *handler) expireGoals(w http.ResponseWriter, r *http.Request) {
	changed, err := h.app.Goals.CheckExpired(r.Context(), UserID(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"expired": nonNil(changed)})
}

func (h *handler) getGoal(w http.ResponseWriter, r *http.Request) {
	g, err := h.app.Goals.Get(r.Context(), UserID(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (h *handler) updateGoal(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Name            *string          `json:"name"`
		Category        *string          `json:"category"`
		TargetAmount    *decimal.Decimal `json:"target_amount"`
		TargetDate      *dateParam       `json:"target_date"`
		ClearTargetDate bool             `json:"clear_target_date"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, err)
		return
	}
	updated, err := h.app.Goals.Update(r.Context(), UserID(r.Context()), mux.Vars(r)["id"], goals.UpdateParams{
		Name:            payload.Name,
		Category:        payload.Category,
		TargetAmount:    payload.TargetAmount,
		TargetDate:      payload.TargetDate.ptr(),
		ClearTargetDate: payload.ClearTargetDate,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *handler) deleteGoal(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Goals.Delete(r.Context(), UserID(r.Context()), mux.Vars(r)["id"]); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) archiveGoal(w http.ResponseWriter, r *http.Request) {
	g, err := h.app.Goals.Archive(r.Context(), UserID(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (h *handler) contribute(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Amount decimal.Decimal `json:"amount"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, err)
		return
	}
	out, err := h.app.Progress.Contribute(r.Context(), UserID(r.Context()), mux.Vars(r)["id"],
		payload.Amount, r.Header.Get("Idempotency-Key"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// nonNil keeps empty lists rendering as [] rather than null.
func nonNil[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
