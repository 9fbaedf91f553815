package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
)

func (h *handler) listVetoRequests(w http.ResponseWriter, r *http.Request) {
	list, err := h.app.Court.List(r.Context(), UserID(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(list))
}

func (h *handler) createVetoRequest(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Item   string          `json:"item"`
		Amount decimal.Decimal `json:"amount"`
		Reason string          `json:"reason"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, err)
		return
	}
	req, err := h.app.Court.Create(r.Context(), UserID(r.Context()), payload.Item, payload.Amount, payload.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

func (h *handler) getVetoRequest(w http.ResponseWriter, r *http.Request) {
	req, err := h.app.Court.Get(r.Context(), mux.Vars(r)["id"], UserID(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (h *handler) vote(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Verdict string `json:"verdict"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, err)
		return
	}
	req, err := h.app.Court.Vote(r.Context(), mux.Vars(r)["id"], UserID(r.Context()), payload.Verdict)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}
