package handlers

import (
	"net/http"

	"github.com/villagehq/village/pkg/core"
	"github.com/villagehq/village/pkg/core/village"
)

// ActionsHandler handles GET /api/village/actions: the global escalation
// index, filterable by call session and status.
type ActionsHandler struct {
	Village *village.Service
}

func (h ActionsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	status := core.ActionStatus(q.Get("status"))
	switch status {
	case "", core.ActionInitiated, core.ActionCalling, core.ActionRinging, core.ActionConnected, core.ActionFailed:
	default:
		writeError(w, r, core.NewInvalidRequestErrorWithParam("unknown status", "status"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"actions": h.Village.List(q.Get("call_id"), status),
	})
}
