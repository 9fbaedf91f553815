package httpapi

import (
	"net/http"

	"github.com/savepop/savepop/internal/app/services/ledger"
)

func (h *handler) balance(w http.ResponseWriter, r *http.Request) {
	acct, err := h.app.Ledger.Balance(r.Context(), UserID(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

func (h *handler) leaderboard(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r, ledger.DefaultLeaderboardLimit)
	if err != nil {
		writeError(w, err)
		return
	}
	rows, err := h.app.Ledger.Leaderboard(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(rows))
}

func (h *handler) history(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r, ledger.DefaultHistoryLimit)
	if err != nil {
		writeError(w, err)
		return
	}
	entries, err := h.app.Ledger.History(r.Context(), UserID(r.Context()), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(entries))
}

func (h *handler) dailyLogin(w http.ResponseWriter, r *http.Request) {
	res, err := h.app.Progress.DailyLogin(r.Context(), UserID(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
