// Package calls owns the call session state machine: an in-memory live
// store, the completed-call history, transcript ingestion, and the fan-out
// of per-call analysis work. All session state lives behind one mutex; the
// rest of the system only ever sees snapshots.
package calls

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/villagehq/village/pkg/core"
	"github.com/villagehq/village/pkg/core/directory"
	"github.com/villagehq/village/pkg/core/tasks"
)

// DefaultCallType is used when a start request does not name one.
const DefaultCallType = "wellness_check"

// AnalysisRunner executes one background analysis pass for a transcript
// line. Implementations never block ingestion and never return errors.
type AnalysisRunner interface {
	Run(ctx context.Context, session *core.CallSession, elder *core.Elder, line core.TranscriptLine)
}

// SessionArchiver persists completed sessions. May be a disabled archive.
type SessionArchiver interface {
	SaveSession(ctx context.Context, s *core.CallSession) error
	Enabled() bool
}

// Service is the call session orchestrator.
type Service struct {
	hub      core.Publisher
	dir      directory.Directory
	analyzer AnalysisRunner
	tracker  *tasks.Tracker
	archive  SessionArchiver
	logger   *slog.Logger
	now      func() time.Time

	mu      sync.Mutex
	live    map[string]*core.CallSession
	history []*core.CallSession
}

// NewService wires the call service. Analyzer and archive may be nil.
func NewService(hub core.Publisher, dir directory.Directory, analyzer AnalysisRunner, tracker *tasks.Tracker, archive SessionArchiver, logger *slog.Logger) *Service {
	if hub == nil {
		hub = core.NopPublisher{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		hub:      hub,
		dir:      dir,
		analyzer: analyzer,
		tracker:  tracker,
		archive:  archive,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
		live:     map[string]*core.CallSession{},
	}
}

// SetAnalyzer wires the background analyzer after construction. The
// orchestrator reads from and writes back into this service, so the two are
// built in sequence and connected here, before the gateway starts serving.
func (s *Service) SetAnalyzer(a AnalysisRunner) {
	s.analyzer = a
}

// Start creates a live session in the ringing state and announces it to
// all observers.
func (s *Service) Start(ctx context.Context, elderID, callType string) (*core.CallSession, error) {
	elder, err := s.dir.Elder(ctx, elderID)
	if err != nil {
		return nil, err
	}
	if callType == "" {
		callType = DefaultCallType
	}

	session := &core.CallSession{
		ID:             uuid.NewString(),
		ElderID:        elder.ID,
		Type:           callType,
		StartedAt:      s.now(),
		Status:         core.CallRinging,
		Transcript:     []core.TranscriptLine{},
		Concerns:       []core.Concern{},
		ProfileUpdates: []core.ProfileFact{},
		VillageActions: []*core.VillageAction{},
	}

	s.mu.Lock()
	s.live[session.ID] = session
	snap := session.Clone()
	s.mu.Unlock()

	s.hub.PublishGlobal(core.CallStartedEvent(snap))
	s.logger.Info("call started", "call_id", session.ID, "elder_id", elder.ID, "type", callType)
	return snap, nil
}

// IngestLine appends one transcript line to a live call, publishes it, and
// kicks off a background analysis pass. The first line answers the call:
// ringing flips to in_progress. Lines for ended or unknown calls are
// rejected with a not-found error.
func (s *Service) IngestLine(ctx context.Context, callID string, line core.TranscriptLine) (core.TranscriptLine, error) {
	if line.ID == "" {
		line.ID = uuid.NewString()
	}
	if line.Timestamp.IsZero() {
		line.Timestamp = s.now()
	}

	s.mu.Lock()
	session, ok := s.live[callID]
	if !ok {
		s.mu.Unlock()
		return core.TranscriptLine{}, core.NewNotFoundError("call not live: " + callID)
	}
	session.Transcript = append(session.Transcript, line)
	answered := session.Status == core.CallRinging
	if answered {
		session.Status = core.CallInProgress
	}
	snap := session.Clone()
	s.mu.Unlock()

	s.hub.PublishToCall(callID, core.Event{Type: core.EventTranscriptUpdate, Data: map[string]any{
		"call_id": callID,
		"line":    line,
	}})
	if answered {
		s.hub.PublishGlobal(core.CallStatusEvent(callID, core.CallInProgress))
	}

	if s.analyzer != nil {
		elder, err := s.dir.Elder(ctx, snap.ElderID)
		if err != nil {
			s.logger.Warn("elder lookup failed, analyzing without profile",
				"call_id", callID, "elder_id", snap.ElderID, "error", err)
		}
		s.tracker.Go(callID, tasks.KindAnalysis, func() {
			s.analyzer.Run(context.Background(), snap, elder, line)
		})
	}
	return line, nil
}

// End completes a live call: stamps ended_at and duration together, flips
// the status, and moves the session to history in one critical section so
// no reader ever sees it in both stores. Ending twice reports not-found.
func (s *Service) End(ctx context.Context, callID string) (*core.CallSession, error) {
	s.mu.Lock()
	session, ok := s.live[callID]
	if !ok {
		s.mu.Unlock()
		return nil, core.NewNotFoundError("call not live: " + callID)
	}
	ended := s.now()
	dur := int(ended.Sub(session.StartedAt).Seconds())
	if dur < 0 {
		dur = 0
	}
	session.EndedAt = &ended
	session.DurationSeconds = &dur
	session.Status = core.CallCompleted
	delete(s.live, callID)
	s.history = append(s.history, session)
	snap := session.Clone()
	s.mu.Unlock()

	s.hub.PublishGlobal(core.CallStatusEvent(callID, core.CallCompleted))
	s.hub.PublishToCall(callID, core.CallEndedEvent(callID, snap.Summary))
	s.logger.Info("call ended", "call_id", callID, "duration_seconds", dur)

	if s.archive != nil && s.archive.Enabled() {
		s.tracker.Go(callID, tasks.KindArchive, func() {
			actx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := s.archive.SaveSession(actx, snap); err != nil {
				s.logger.Warn("session archive failed", "call_id", callID, "error", err)
			}
		})
	}
	return snap, nil
}

// Get returns a snapshot of a session, live or completed.
func (s *Service) Get(callID string) (*core.CallSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if session, ok := s.live[callID]; ok {
		return session.Clone(), nil
	}
	for _, session := range s.history {
		if session.ID == callID {
			return session.Clone(), nil
		}
	}
	return nil, core.NewNotFoundError("call not found: " + callID)
}

// Active returns snapshots of all live sessions, newest first.
func (s *Service) Active() []*core.CallSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*core.CallSession, 0, len(s.live))
	for _, session := range s.live {
		out = append(out, session.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}

// History returns snapshots of completed sessions, newest first, optionally
// filtered by elder. A non-positive limit returns everything.
func (s *Service) History(elderID string, limit int) []*core.CallSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*core.CallSession
	for i := len(s.history) - 1; i >= 0; i-- {
		session := s.history[i]
		if elderID != "" && session.ElderID != elderID {
			continue
		}
		out = append(out, session.Clone())
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// ActiveCount reports the number of live sessions.
func (s *Service) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live)
}

// withLive runs fn on a live session under the store lock. Completed
// sessions are immutable, so mutators report not-found for them.
func (s *Service) withLive(callID string, fn func(*core.CallSession)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.live[callID]
	if !ok {
		return core.NewNotFoundError("call not live: " + callID)
	}
	fn(session)
	return nil
}

// SetWellbeing replaces the session's wellbeing read. Last write wins.
func (s *Service) SetWellbeing(callID string, w *core.Wellbeing) error {
	return s.withLive(callID, func(session *core.CallSession) {
		cp := *w
		session.Wellbeing = &cp
	})
}

// AddConcern appends a detected concern.
func (s *Service) AddConcern(callID string, c core.Concern) error {
	return s.withLive(callID, func(session *core.CallSession) {
		session.Concerns = append(session.Concerns, c)
	})
}

// AddProfileFact appends a learned profile fact.
func (s *Service) AddProfileFact(callID string, f core.ProfileFact) error {
	return s.withLive(callID, func(session *core.CallSession) {
		session.ProfileUpdates = append(session.ProfileUpdates, f)
	})
}

// SetSummary sets the session summary. Last write wins.
func (s *Service) SetSummary(callID string, sum *core.CallSummary) error {
	return s.withLive(callID, func(session *core.CallSession) {
		cp := *sum
		session.Summary = &cp
	})
}

// AppendAction attaches a village action to its owning session. The session
// keeps its own copy; the escalation service reports later status changes
// through UpdateAction so all session state stays behind this store's lock.
func (s *Service) AppendAction(callID string, action *core.VillageAction) error {
	return s.withLive(callID, func(session *core.CallSession) {
		cp := *action
		session.VillageActions = append(session.VillageActions, &cp)
	})
}

// UpdateAction applies an escalation status change to the session's copy of
// the action. Reports not-found when the call has ended or the action was
// never attached.
func (s *Service) UpdateAction(callID, actionID string, status core.ActionStatus, response string) error {
	found := false
	err := s.withLive(callID, func(session *core.CallSession) {
		for _, a := range session.VillageActions {
			if a.ID == actionID {
				a.Status = status
				if response != "" {
					a.Response = response
				}
				found = true
				return
			}
		}
	})
	if err != nil {
		return err
	}
	if !found {
		return core.NewNotFoundError("action not attached to call: " + actionID)
	}
	return nil
}
