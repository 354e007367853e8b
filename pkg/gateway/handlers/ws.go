package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/villagehq/village/pkg/core"
	"github.com/villagehq/village/pkg/gateway/config"
	"github.com/villagehq/village/pkg/gateway/events"
	"github.com/villagehq/village/pkg/gateway/lifecycle"
	"github.com/villagehq/village/pkg/gateway/mw"
)

// WSHandler handles /ws observer connections. Observers receive global call
// lifecycle events immediately and per-call detail events after subscribing
// to that call.
type WSHandler struct {
	Config    config.Config
	Hub       *events.Hub
	Lifecycle *lifecycle.Lifecycle
	Logger    *slog.Logger
}

func (h WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		reqID, _ := mw.RequestIDFrom(r.Context())
		writeCoreErrorJSON(w, reqID, &core.Error{
			Type:    core.ErrInvalidRequest,
			Message: "method not allowed",
			Code:    "method_not_allowed",
		}, http.StatusMethodNotAllowed)
		return
	}
	if h.Lifecycle.IsDraining() {
		reqID, _ := mw.RequestIDFrom(r.Context())
		writeCoreErrorJSON(w, reqID, &core.Error{
			Type:    core.ErrOverloaded,
			Message: "gateway is draining",
			Code:    "draining",
		}, http.StatusServiceUnavailable)
		return
	}
	if h.Config.WSMaxClients > 0 && h.Hub.ConnectionCount() >= h.Config.WSMaxClients {
		reqID, _ := mw.RequestIDFrom(r.Context())
		writeCoreErrorJSON(w, reqID, &core.Error{
			Type:    core.ErrOverloaded,
			Message: "too many observers",
			Code:    "observer_limit",
		}, http.StatusServiceUnavailable)
		return
	}
	if !h.originAllowed(r) {
		reqID, _ := mw.RequestIDFrom(r.Context())
		writeCoreErrorJSON(w, reqID, &core.Error{
			Type:    core.ErrPermission,
			Message: "origin is not allowed",
			Param:   "Origin",
		}, http.StatusForbidden)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	if h.Config.WSMaxReadBytes > 0 {
		conn.SetReadLimit(h.Config.WSMaxReadBytes)
	}

	client := h.Hub.Register(conn)
	h.Hub.SendDirect(client, core.Event{Type: core.EventConnected, Data: map[string]any{
		"message": "connected to the village",
	}})

	// Read loop. The hub owns all writes; this loop only decodes client
	// frames and reacts. Any read error tears the client down.
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			h.Hub.Unregister(client)
			return
		}

		msg, err := events.DecodeClientMessage(data)
		if err != nil {
			var decodeErr *events.DecodeError
			if errors.As(err, &decodeErr) {
				// Malformed frames get an error event; the connection
				// stays open.
				h.Hub.SendDirect(client, core.Event{Type: core.EventError, Data: map[string]any{
					"code":    decodeErr.Code,
					"message": decodeErr.Message,
				}})
				continue
			}
			h.Hub.Unregister(client)
			return
		}

		switch m := msg.(type) {
		case events.ClientSubscribe:
			h.Hub.Subscribe(client, m.CallID)
			h.Hub.SendDirect(client, core.Event{Type: core.EventSubscribed, Data: map[string]any{
				"call_id": m.CallID,
			}})
		case events.ClientPing:
			h.Hub.SendDirect(client, core.Event{Type: core.EventPong, Data: map[string]any{}})
		case nil:
			// Unknown but well-formed message types are ignored.
		}
	}
}

func (h WSHandler) originAllowed(r *http.Request) bool {
	// No allowlist means non-browser clients only; browsers always send
	// Origin, so an empty header passes.
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" || len(h.Config.CORSAllowedOrigins) == 0 {
		return true
	}
	_, ok := h.Config.CORSAllowedOrigins[origin]
	return ok
}
