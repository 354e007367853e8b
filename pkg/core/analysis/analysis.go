// Package analysis bridges the call state machine to the transcript
// analyzer without blocking transcript ingestion. Each transcript line gets
// one independent analysis run; a failed run is logged and swallowed, never
// surfaced to the call.
package analysis

import (
	"context"

	"github.com/villagehq/village/pkg/core"
)

// Urgency levels on suggested actions. Only immediate suggestions trigger
// unattended escalation; the rest are recorded for human follow-up.
const (
	UrgencyImmediate = "immediate"
	UrgencyToday     = "today"
	UrgencyThisWeek  = "this_week"
)

// SuggestedAction is the closed escalation suggestion contract. The target
// member is required for immediate urgency; a missing target is rejected at
// the orchestrator boundary as an invalid-target error.
type SuggestedAction struct {
	Type                  string              `json:"type"`
	Reason                string              `json:"reason"`
	Urgency               string              `json:"urgency"`
	EstimatedResponseTime int                 `json:"estimated_response_time,omitempty"`
	TargetMember          *core.VillageMember `json:"target_member,omitempty"`
}

// Result is the structured outcome of analyzing one transcript line.
// Every part is optional.
type Result struct {
	Wellbeing        *core.Wellbeing    `json:"wellbeing_update,omitempty"`
	Concerns         []core.Concern     `json:"concerns,omitempty"`
	ProfileFacts     []core.ProfileFact `json:"profile_facts,omitempty"`
	SuggestedActions []SuggestedAction  `json:"suggested_actions,omitempty"`
	Summary          *core.CallSummary  `json:"summary,omitempty"`
}

// Empty reports whether the result carries no findings at all.
func (r *Result) Empty() bool {
	return r == nil || (r.Wellbeing == nil && len(r.Concerns) == 0 &&
		len(r.ProfileFacts) == 0 && len(r.SuggestedActions) == 0 && r.Summary == nil)
}

// Analyzer is the transcript analysis collaborator. It receives a session
// snapshot, never the live session, and may fail; failures are handled by
// the orchestrator.
type Analyzer interface {
	Analyze(ctx context.Context, session *core.CallSession, elder *core.Elder, line core.TranscriptLine) (*Result, error)
}

// Disabled is the analyzer used when no provider is configured. It returns
// empty results so the call pipeline runs end to end without an LLM key.
type Disabled struct{}

func (Disabled) Analyze(context.Context, *core.CallSession, *core.Elder, core.TranscriptLine) (*Result, error) {
	return &Result{}, nil
}
