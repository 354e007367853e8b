// Package core holds the domain model shared by the call, village, and
// analysis services and the canonical error taxonomy.
package core

import (
	"time"
)

// CallStatus is the lifecycle state of a monitored call session.
type CallStatus string

const (
	CallRinging    CallStatus = "ringing"
	CallInProgress CallStatus = "in_progress"
	CallCompleted  CallStatus = "completed"
)

// ActionStatus is the lifecycle state of an outbound village action.
type ActionStatus string

const (
	ActionInitiated ActionStatus = "initiated"
	ActionCalling   ActionStatus = "calling"
	ActionRinging   ActionStatus = "ringing"
	ActionConnected ActionStatus = "connected"
	ActionFailed    ActionStatus = "failed"
)

// Terminal reports whether s is a terminal action status.
func (s ActionStatus) Terminal() bool {
	return s == ActionConnected || s == ActionFailed
}

// TranscriptLine is one utterance in a call. Immutable once appended;
// transcript order is arrival order.
type TranscriptLine struct {
	ID          string    `json:"id"`
	Speaker     string    `json:"speaker"`
	SpeakerName string    `json:"speaker_name"`
	Text        string    `json:"text"`
	Timestamp   time.Time `json:"timestamp"`
}

// Concern is a wellbeing concern surfaced by the analyzer. Append-only.
type Concern struct {
	ID             string    `json:"id"`
	Type           string    `json:"type,omitempty"`
	Severity       string    `json:"severity"`
	Description    string    `json:"description"`
	Quote          string    `json:"quote,omitempty"`
	DetectedAt     time.Time `json:"detected_at"`
	ActionRequired bool      `json:"action_required"`
}

// ProfileFact is a durable fact about the elder learned mid-call.
type ProfileFact struct {
	ID           string    `json:"id"`
	Fact         string    `json:"fact"`
	Category     string    `json:"category,omitempty"`
	Context      string    `json:"context,omitempty"`
	LearnedAt    time.Time `json:"learned_at"`
	SourceCallID string    `json:"source_call_id,omitempty"`
}

// Wellbeing is the analyzer's current read of the elder across the five
// assessment dimensions. Last write wins within a call.
type Wellbeing struct {
	Emotional           string `json:"emotional,omitempty"`
	Mental              string `json:"mental,omitempty"`
	Social              string `json:"social,omitempty"`
	Physical            string `json:"physical,omitempty"`
	Cognitive           string `json:"cognitive,omitempty"`
	OverallConcernLevel string `json:"overall_concern_level"`
}

// CallSummary is the post-call wrap-up, when one was produced.
type CallSummary struct {
	Overview        string   `json:"overview"`
	EmotionalShift  string   `json:"emotional_shift,omitempty"`
	NextCallPrompts []string `json:"next_call_prompts,omitempty"`
	MemorableMoment string   `json:"memorable_moment,omitempty"`
}

// VillageAction is one outbound escalation attempt to a village member.
// It is owned by its call session and mirrored in the global action index;
// terminal states are retained for audit.
type VillageAction struct {
	ID                    string       `json:"id"`
	CallSessionID         string       `json:"call_session_id"`
	TriggeredAt           time.Time    `json:"triggered_at"`
	Type                  string       `json:"type"`
	Reason                string       `json:"reason"`
	TargetMemberID        string       `json:"target_member_id"`
	TargetMemberName      string       `json:"target_member_name"`
	TargetMemberPhone     string       `json:"target_member_phone"`
	Status                ActionStatus `json:"status"`
	Response              string       `json:"response,omitempty"`
	EstimatedResponseTime int          `json:"estimated_response_time,omitempty"`
}

// CallSession is one monitored conversation with its accumulated findings.
// ended_at and duration_seconds are set together, only on completion.
type CallSession struct {
	ID              string           `json:"id"`
	ElderID         string           `json:"elder_id"`
	Type            string           `json:"type"`
	StartedAt       time.Time        `json:"started_at"`
	EndedAt         *time.Time       `json:"ended_at,omitempty"`
	DurationSeconds *int             `json:"duration_seconds,omitempty"`
	Status          CallStatus       `json:"status"`
	Transcript      []TranscriptLine `json:"transcript"`
	Concerns        []Concern        `json:"concerns"`
	ProfileUpdates  []ProfileFact    `json:"profile_updates"`
	VillageActions  []*VillageAction `json:"village_actions"`
	Wellbeing       *Wellbeing       `json:"wellbeing,omitempty"`
	Summary         *CallSummary     `json:"summary,omitempty"`
}

// Clone returns a deep copy of the session for handing to collaborators
// outside the store lock. Village actions are copied by value so a
// snapshot never aliases state another goroutine may still be writing.
func (s *CallSession) Clone() *CallSession {
	if s == nil {
		return nil
	}
	out := *s
	out.Transcript = make([]TranscriptLine, len(s.Transcript))
	copy(out.Transcript, s.Transcript)
	out.Concerns = make([]Concern, len(s.Concerns))
	copy(out.Concerns, s.Concerns)
	out.ProfileUpdates = make([]ProfileFact, len(s.ProfileUpdates))
	copy(out.ProfileUpdates, s.ProfileUpdates)
	out.VillageActions = make([]*VillageAction, len(s.VillageActions))
	for i, a := range s.VillageActions {
		cp := *a
		out.VillageActions[i] = &cp
	}
	if s.Wellbeing != nil {
		w := *s.Wellbeing
		out.Wellbeing = &w
	}
	if s.Summary != nil {
		sum := *s.Summary
		out.Summary = &sum
	}
	return &out
}

// VillageMember is a contact eligible to receive an escalation call.
type VillageMember struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Role         string `json:"role"`
	Relationship string `json:"relationship,omitempty"`
	Phone        string `json:"phone"`
	Availability string `json:"availability,omitempty"`
	Notes        string `json:"notes,omitempty"`
}

// Elder is the monitored call participant. Read-only to the orchestration
// core; supplied by the directory collaborator.
type Elder struct {
	ID      string          `json:"id"`
	Name    string          `json:"name"`
	Age     int             `json:"age,omitempty"`
	Phone   string          `json:"phone,omitempty"`
	Address string          `json:"address,omitempty"`
	Village []VillageMember `json:"village"`
}

// Member returns the village member with the given id, if present.
func (e *Elder) Member(id string) (VillageMember, bool) {
	if e == nil {
		return VillageMember{}, false
	}
	for _, m := range e.Village {
		if m.ID == id {
			return m, true
		}
	}
	return VillageMember{}, false
}
