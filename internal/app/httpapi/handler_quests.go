package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"
)

func (h *handler) questCatalog(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.app.Quests.Catalog())
}

func (h *handler) listAssignments(w http.ResponseWriter, r *http.Request) {
	list, err := h.app.Quests.List(r.Context(), UserID(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(list))
}

func (h *handler) acceptQuest(w http.ResponseWriter, r *http.Request) {
	a, err := h.app.Quests.Accept(r.Context(), UserID(r.Context()), mux.Vars(r)["kind"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

func (h *handler) completeQuest(w http.ResponseWriter, r *http.Request) {
	done, err := h.app.Quests.Complete(r.Context(), UserID(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, done)
}
