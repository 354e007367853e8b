package core

// Event is the {type, data} envelope delivered to WebSocket observers.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Event types published by the orchestration core.
const (
	EventCallStarted         = "call_started"
	EventCallStatus          = "call_status"
	EventTranscriptUpdate    = "transcript_update"
	EventWellbeingUpdate     = "wellbeing_update"
	EventConcernDetected     = "concern_detected"
	EventProfileUpdate       = "profile_update"
	EventVillageActionStart  = "village_action_started"
	EventVillageActionUpdate = "village_action_update"
	EventCallEnded           = "call_ended"
	EventConnected           = "connected"
	EventSubscribed          = "subscribed"
	EventPong                = "pong"
	EventError               = "error"
)

// Publisher fans events out to observers. Implementations are best-effort:
// a delivery failure to one observer never surfaces to the caller.
type Publisher interface {
	PublishGlobal(ev Event)
	PublishToCall(callID string, ev Event)
}

// NopPublisher discards all events. Useful in tests and as a default.
type NopPublisher struct{}

func (NopPublisher) PublishGlobal(Event) {}

func (NopPublisher) PublishToCall(string, Event) {}

// CallStartedEvent builds a call_started envelope carrying the full
// session so late-joining dashboards can render without a fetch.
func CallStartedEvent(session *CallSession) Event {
	return Event{Type: EventCallStarted, Data: session}
}

// CallStatusEvent builds a call_status envelope.
func CallStatusEvent(callID string, status CallStatus) Event {
	return Event{Type: EventCallStatus, Data: map[string]any{
		"call_id": callID,
		"status":  string(status),
	}}
}

// CallEndedEvent builds a call_ended envelope. The summary key is omitted
// when no summary was produced.
func CallEndedEvent(callID string, summary *CallSummary) Event {
	data := map[string]any{"call_id": callID}
	if summary != nil {
		data["summary"] = summary
	}
	return Event{Type: EventCallEnded, Data: data}
}

// VillageActionUpdateEvent builds a village_action_update envelope.
func VillageActionUpdateEvent(actionID string, status ActionStatus, response string) Event {
	data := map[string]any{
		"id":     actionID,
		"status": string(status),
	}
	if response != "" {
		data["response"] = response
	}
	return Event{Type: EventVillageActionUpdate, Data: data}
}
