package handlers

import (
	"net/http"

	"github.com/villagehq/village/pkg/core/calls"
	"github.com/villagehq/village/pkg/core/directory"
)

// ElderHandler handles GET /api/elder/{id}: the elder profile plus their
// village roster.
type ElderHandler struct {
	Directory directory.Directory
}

func (h ElderHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	elder, err := h.Directory.Elder(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, elder)
}

// ElderHistoryHandler handles GET /api/elder/{id}/history: completed calls
// for one elder, newest first, optionally limited.
type ElderHistoryHandler struct {
	Directory directory.Directory
	Calls     *calls.Service
}

func (h ElderHistoryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	elderID := r.PathValue("id")
	if _, err := h.Directory.Elder(r.Context(), elderID); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"elder_id": elderID,
		"calls":    h.Calls.History(elderID, parseLimit(r)),
	})
}
