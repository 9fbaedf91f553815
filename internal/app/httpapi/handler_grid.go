package httpapi

import "net/http"

func (h *handler) board(w http.ResponseWriter, r *http.Request) {
	view, err := h.app.Grid.Board(r.Context(), UserID(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *handler) place(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Cell *int   `json:"cell"`
		Item string `json:"item"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, err)
		return
	}
	cell := -1
	if payload.Cell != nil {
		cell = *payload.Cell
	}
	view, err := h.app.Grid.Place(r.Context(), UserID(r.Context()), cell, payload.Item)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}
