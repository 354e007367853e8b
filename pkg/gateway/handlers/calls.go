package handlers

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/villagehq/village/pkg/core"
	"github.com/villagehq/village/pkg/core/calls"
	"github.com/villagehq/village/pkg/gateway/lifecycle"
)

// CallStartHandler handles POST /api/call/start.
type CallStartHandler struct {
	Calls     *calls.Service
	Lifecycle *lifecycle.Lifecycle
	Logger    *slog.Logger
}

func (h CallStartHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.Lifecycle.IsDraining() {
		writeError(w, r, core.NewOverloadedError("gateway is draining"))
		return
	}

	var req struct {
		ElderID string `json:"elder_id"`
		Type    string `json:"type"`
	}
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.ElderID) == "" {
		writeError(w, r, core.NewInvalidRequestErrorWithParam("elder_id is required", "elder_id"))
		return
	}

	session, err := h.Calls.Start(r.Context(), req.ElderID, req.Type)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

// CallEndHandler handles POST /api/call/{id}/end.
type CallEndHandler struct {
	Calls *calls.Service
}

func (h CallEndHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	session, err := h.Calls.End(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// CallGetHandler handles GET /api/call/{id}, live or completed.
type CallGetHandler struct {
	Calls *calls.Service
}

func (h CallGetHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	session, err := h.Calls.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// CallsListHandler handles GET /api/calls. Live calls by default;
// ?include=history appends completed ones. elder_id and limit narrow
// the result.
type CallsListHandler struct {
	Calls *calls.Service
}

func (h CallsListHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	elderID := strings.TrimSpace(q.Get("elder_id"))
	limit := parseLimit(r)

	out := h.Calls.Active()
	if elderID != "" {
		filtered := out[:0]
		for _, s := range out {
			if s.ElderID == elderID {
				filtered = append(filtered, s)
			}
		}
		out = filtered
	}
	if q.Get("include") == "history" {
		out = append(out, h.Calls.History(elderID, limit)...)
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	writeJSON(w, http.StatusOK, map[string]any{"calls": out})
}

// TranscriptHandler handles POST /api/transcript/stream: one utterance from
// the voice pipeline, appended to its live call.
type TranscriptHandler struct {
	Calls *calls.Service
}

func (h TranscriptHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CallID      string     `json:"call_id"`
		Speaker     string     `json:"speaker"`
		SpeakerName string     `json:"speaker_name"`
		Text        string     `json:"text"`
		Timestamp   *time.Time `json:"timestamp"`
	}
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.CallID) == "" {
		writeError(w, r, core.NewInvalidRequestErrorWithParam("call_id is required", "call_id"))
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, r, core.NewInvalidRequestErrorWithParam("text is required", "text"))
		return
	}

	line := core.TranscriptLine{
		Speaker:     req.Speaker,
		SpeakerName: req.SpeakerName,
		Text:        req.Text,
	}
	if req.Timestamp != nil {
		line.Timestamp = *req.Timestamp
	}

	line, err := h.Calls.IngestLine(r.Context(), req.CallID, line)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":             "received",
		"call_id":            req.CallID,
		"transcript_line_id": line.ID,
	})
}

func parseLimit(r *http.Request) int {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
