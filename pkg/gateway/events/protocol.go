package events

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DecodeError describes a malformed inbound observer message. It maps to
// an `error` event on the wire; the connection stays open.
type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badRequest(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_request", Message: message, Param: param}
}

// ClientSubscribe asks for updates about one call. Subscriptions are
// additive across calls.
type ClientSubscribe struct {
	Type   string `json:"type"`
	CallID string `json:"call_id"`
}

// ClientPing is the keepalive request; it is answered with a pong event.
type ClientPing struct {
	Type string `json:"type"`
}

// DecodeClientMessage parses one inbound observer frame into a typed
// message. Unknown types decode to nil with no error so the read loop can
// log and move on without closing the connection.
func DecodeClientMessage(data []byte) (any, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badRequest("invalid json frame", "")
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return nil, badRequest("missing type", "type")
	}

	switch typ {
	case "subscribe_call":
		var msg ClientSubscribe
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid subscribe_call frame", "")
		}
		if strings.TrimSpace(msg.CallID) == "" {
			return nil, badRequest("subscribe_call.call_id is required", "call_id")
		}
		msg.CallID = strings.TrimSpace(msg.CallID)
		return msg, nil
	case "ping":
		return ClientPing{Type: typ}, nil
	default:
		return nil, nil
	}
}
