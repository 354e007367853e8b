package analysis

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/villagehq/village/pkg/core"
)

// SessionSink applies analysis findings to a live call session. Every
// method returns a not-found error when the call has already ended; the
// orchestrator treats that as the finding arriving too late.
type SessionSink interface {
	SetWellbeing(callID string, w *core.Wellbeing) error
	AddConcern(callID string, c core.Concern) error
	AddProfileFact(callID string, f core.ProfileFact) error
	SetSummary(callID string, s *core.CallSummary) error
}

// Escalator creates a village action from an immediate suggestion.
type Escalator interface {
	Escalate(ctx context.Context, session *core.CallSession, elder *core.Elder, suggestion SuggestedAction) (*core.VillageAction, error)
}

// Orchestrator runs one analysis pass per transcript line: call the
// analyzer, apply each finding to the session store, publish the matching
// event, and hand immediate suggestions to the escalator. Findings are
// applied in a fixed order (wellbeing, concerns, facts, suggestions,
// summary) so subscribers see a deterministic sequence per line.
type Orchestrator struct {
	analyzer  Analyzer
	sink      SessionSink
	escalator Escalator
	hub       core.Publisher
	logger    *slog.Logger
	timeout   time.Duration
}

// NewOrchestrator wires an orchestrator. A zero timeout disables the
// analyzer deadline. Escalator may be nil; suggestions are then dropped
// with a warning.
func NewOrchestrator(analyzer Analyzer, sink SessionSink, escalator Escalator, hub core.Publisher, logger *slog.Logger, timeout time.Duration) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if hub == nil {
		hub = core.NopPublisher{}
	}
	return &Orchestrator{
		analyzer:  analyzer,
		sink:      sink,
		escalator: escalator,
		hub:       hub,
		logger:    logger,
		timeout:   timeout,
	}
}

// Run executes one analysis pass. It is the body of a background task: it
// never returns an error and never panics out, so one bad line cannot take
// down the call or its siblings.
func (o *Orchestrator) Run(ctx context.Context, session *core.CallSession, elder *core.Elder, line core.TranscriptLine) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("analysis pass panicked",
				"call_id", session.ID, "line_id", line.ID, "panic", r)
		}
	}()

	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	result, err := o.analyzer.Analyze(ctx, session, elder, line)
	if err != nil {
		o.logger.Warn("transcript analysis failed",
			"call_id", session.ID, "line_id", line.ID, "error", err)
		return
	}
	if result.Empty() {
		return
	}

	o.applyWellbeing(session.ID, result.Wellbeing)
	o.applyConcerns(session.ID, result.Concerns)
	o.applyFacts(session.ID, result.ProfileFacts)
	o.applySuggestions(ctx, session, elder, result.SuggestedActions)
	o.applySummary(session.ID, result.Summary)
}

func (o *Orchestrator) applyWellbeing(callID string, w *core.Wellbeing) {
	if w == nil {
		return
	}
	if err := o.sink.SetWellbeing(callID, w); err != nil {
		o.logger.Debug("wellbeing update skipped", "call_id", callID, "error", err)
		return
	}
	o.hub.PublishToCall(callID, core.Event{Type: core.EventWellbeingUpdate, Data: map[string]any{
		"call_id":   callID,
		"wellbeing": w,
	}})
}

func (o *Orchestrator) applyConcerns(callID string, concerns []core.Concern) {
	for _, c := range concerns {
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		if c.DetectedAt.IsZero() {
			c.DetectedAt = time.Now().UTC()
		}
		if err := o.sink.AddConcern(callID, c); err != nil {
			o.logger.Debug("concern skipped", "call_id", callID, "error", err)
			continue
		}
		o.hub.PublishToCall(callID, core.Event{Type: core.EventConcernDetected, Data: map[string]any{
			"call_id": callID,
			"concern": c,
		}})
	}
}

func (o *Orchestrator) applyFacts(callID string, facts []core.ProfileFact) {
	for _, f := range facts {
		if f.ID == "" {
			f.ID = uuid.NewString()
		}
		if f.LearnedAt.IsZero() {
			f.LearnedAt = time.Now().UTC()
		}
		if f.SourceCallID == "" {
			f.SourceCallID = callID
		}
		if err := o.sink.AddProfileFact(callID, f); err != nil {
			o.logger.Debug("profile fact skipped", "call_id", callID, "error", err)
			continue
		}
		o.hub.PublishToCall(callID, core.Event{Type: core.EventProfileUpdate, Data: map[string]any{
			"call_id": callID,
			"fact":    f,
		}})
	}
}

func (o *Orchestrator) applySuggestions(ctx context.Context, session *core.CallSession, elder *core.Elder, suggestions []SuggestedAction) {
	for _, s := range suggestions {
		if s.Urgency != UrgencyImmediate {
			o.logger.Info("non-immediate suggestion recorded",
				"call_id", session.ID, "type", s.Type, "urgency", s.Urgency)
			continue
		}
		if o.escalator == nil {
			o.logger.Warn("immediate suggestion dropped, no escalator wired",
				"call_id", session.ID, "type", s.Type)
			continue
		}
		if _, err := o.escalator.Escalate(ctx, session, elder, s); err != nil {
			o.logger.Warn("escalation failed",
				"call_id", session.ID, "type", s.Type, "error", err)
		}
	}
}

func (o *Orchestrator) applySummary(callID string, s *core.CallSummary) {
	if s == nil {
		return
	}
	if err := o.sink.SetSummary(callID, s); err != nil {
		o.logger.Debug("summary skipped", "call_id", callID, "error", err)
	}
}
