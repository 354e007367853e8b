// Package village runs outbound escalation calls to an elder's support
// network. Each escalation is a small state machine driven by a background
// task: initiated, calling, ringing, then connected or failed. Terminal
// actions are never reopened.
package village

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/villagehq/village/pkg/core"
	"github.com/villagehq/village/pkg/core/analysis"
	"github.com/villagehq/village/pkg/core/directory"
	"github.com/villagehq/village/pkg/core/notify"
	"github.com/villagehq/village/pkg/core/tasks"
	"github.com/villagehq/village/pkg/core/telephony"
)

// DefaultEstimatedResponseTime is reported on actions whose suggestion did
// not carry an estimate, in seconds.
const DefaultEstimatedResponseTime = 78

// SessionActions is the call store's view of escalation state. The session
// keeps its own copy of each action; status changes are reported through
// UpdateAction so the two services never share mutable state.
type SessionActions interface {
	AppendAction(callID string, action *core.VillageAction) error
	UpdateAction(callID, actionID string, status core.ActionStatus, response string) error
}

// Archiver persists terminal actions. May be a disabled archive.
type Archiver interface {
	SaveAction(ctx context.Context, action *core.VillageAction) error
	Enabled() bool
}

// Config carries the service's tunable delays. Zero values get defaults
// suited for production; tests shrink them.
type Config struct {
	// DedupWindow suppresses a second escalation to the same member for
	// the same reason within this window.
	DedupWindow time.Duration

	// SimulateDialDelay and SimulateAnswerDelay pace the simulated state
	// machine used when no telephony provider is configured.
	SimulateDialDelay   time.Duration
	SimulateAnswerDelay time.Duration

	// ConnectSettleDelay is how long a real placed call sits in ringing
	// before it is considered connected.
	ConnectSettleDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.DedupWindow == 0 {
		c.DedupWindow = 5 * time.Minute
	}
	if c.SimulateDialDelay == 0 {
		c.SimulateDialDelay = 2 * time.Second
	}
	if c.SimulateAnswerDelay == 0 {
		c.SimulateAnswerDelay = 3 * time.Second
	}
	if c.ConnectSettleDelay == 0 {
		c.ConnectSettleDelay = 5 * time.Second
	}
	return c
}

// Service owns the global village action index and drives each action to a
// terminal state.
type Service struct {
	cfg      Config
	hub      core.Publisher
	phone    telephony.Placer
	dir      directory.Directory
	sessions SessionActions
	tracker  *tasks.Tracker
	notifier notify.Notifier
	archive  Archiver
	logger   *slog.Logger

	mu      sync.Mutex
	actions []*core.VillageAction
	recent  map[string]time.Time
}

// NewService wires the escalation service. Notifier and archive may be nil.
func NewService(cfg Config, hub core.Publisher, phone telephony.Placer, dir directory.Directory, sessions SessionActions, tracker *tasks.Tracker, notifier notify.Notifier, archive Archiver, logger *slog.Logger) *Service {
	if hub == nil {
		hub = core.NopPublisher{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cfg:      cfg.withDefaults(),
		hub:      hub,
		phone:    phone,
		dir:      dir,
		sessions: sessions,
		tracker:  tracker,
		notifier: notifier,
		archive:  archive,
		logger:   logger,
		recent:   map[string]time.Time{},
	}
}

// Escalate creates a village action from an immediate suggestion, attaches
// it to the call session, announces it, and starts driving it in the
// background. A duplicate suggestion inside the dedup window is skipped and
// returns nil, nil.
func (s *Service) Escalate(ctx context.Context, session *core.CallSession, elder *core.Elder, sug analysis.SuggestedAction) (*core.VillageAction, error) {
	target, err := s.resolveTarget(elder, sug)
	if err != nil {
		return nil, err
	}

	dedupKey := target.ID + "|" + sug.Reason
	now := time.Now().UTC()

	s.mu.Lock()
	if last, ok := s.recent[dedupKey]; ok && now.Sub(last) < s.cfg.DedupWindow {
		s.mu.Unlock()
		s.logger.Info("duplicate escalation skipped",
			"call_id", session.ID, "target", target.ID, "reason", sug.Reason)
		return nil, nil
	}
	// Expired keys can never suppress anything again; sweep them here so
	// the map stays bounded over a long-lived process.
	for k, at := range s.recent {
		if now.Sub(at) >= s.cfg.DedupWindow {
			delete(s.recent, k)
		}
	}
	s.recent[dedupKey] = now

	estimate := sug.EstimatedResponseTime
	if estimate <= 0 {
		estimate = DefaultEstimatedResponseTime
	}
	action := &core.VillageAction{
		ID:                    uuid.NewString(),
		CallSessionID:         session.ID,
		TriggeredAt:           now,
		Type:                  sug.Type,
		Reason:                sug.Reason,
		TargetMemberID:        target.ID,
		TargetMemberName:      target.Name,
		TargetMemberPhone:     target.Phone,
		Status:                core.ActionInitiated,
		EstimatedResponseTime: estimate,
	}
	s.actions = append(s.actions, action)
	s.mu.Unlock()

	if s.sessions != nil {
		if err := s.sessions.AppendAction(session.ID, action); err != nil {
			s.logger.Warn("action not attached to session",
				"call_id", session.ID, "action_id", action.ID, "error", err)
		}
	}

	s.hub.PublishToCall(session.ID, core.Event{Type: core.EventVillageActionStart, Data: s.snapshot(action)})

	elderName := ""
	if elder != nil {
		elderName = elder.Name
	}
	// Snapshot before the drive goroutine starts; the caller must never see
	// the index's mutable copy.
	out := s.snapshotPtr(action)
	s.tracker.Go(session.ID, tasks.KindEscalation, func() {
		s.drive(action, elderName)
	})

	s.logger.Info("village action started",
		"call_id", session.ID, "action_id", action.ID,
		"type", action.Type, "target", action.TargetMemberID)
	return out, nil
}

// resolveTarget validates the suggested contact, filling in phone and name
// from the directory when the suggestion carries only an id.
func (s *Service) resolveTarget(elder *core.Elder, sug analysis.SuggestedAction) (core.VillageMember, error) {
	t := sug.TargetMember
	if t == nil || (t.ID == "" && t.Phone == "") {
		return core.VillageMember{}, core.NewInvalidTargetError("suggestion has no target member")
	}
	target := *t
	if target.Phone == "" || target.Name == "" {
		if m, ok := elder.Member(target.ID); ok {
			if target.Phone == "" {
				target.Phone = m.Phone
			}
			if target.Name == "" {
				target.Name = m.Name
			}
		} else if s.dir != nil && elder != nil {
			m, err := s.dir.Member(context.Background(), elder.ID, target.ID)
			if err == nil {
				if target.Phone == "" {
					target.Phone = m.Phone
				}
				if target.Name == "" {
					target.Name = m.Name
				}
			}
		}
	}
	return target, nil
}

// drive runs the action to a terminal state. It is the body of a tracked
// background task and never returns an error.
func (s *Service) drive(action *core.VillageAction, elderName string) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("escalation panicked", "action_id", action.ID, "panic", r)
			s.transition(action, core.ActionFailed, fmt.Sprintf("internal error: %v", r))
		}
	}()

	if s.phone == nil || !s.phone.Configured() {
		s.simulate(action)
		return
	}

	s.transition(action, core.ActionCalling, "")

	phone := telephony.NormalizePhone(action.TargetMemberPhone)
	if phone == "" {
		s.transition(action, core.ActionFailed,
			fmt.Sprintf("no phone number on file for %s", action.TargetMemberName))
		return
	}

	ref, err := s.phone.PlaceCall(context.Background(), telephony.PlaceRequest{
		ToPhone:     phone,
		RoomName:    "village-" + action.ID,
		Identity:    "village-member-" + action.TargetMemberID,
		DisplayName: action.TargetMemberName,
		Attributes: map[string]string{
			"action_id":  action.ID,
			"call_id":    action.CallSessionID,
			"elder_name": elderName,
			"reason":     action.Reason,
		},
	})
	if err != nil {
		s.transition(action, core.ActionFailed, fmt.Sprintf("call failed: %v", err))
		return
	}

	s.transition(action, core.ActionRinging, "")
	s.logger.Debug("outbound call placed",
		"action_id", action.ID, "participant_id", ref.ParticipantID, "room", ref.RoomName)

	time.Sleep(s.cfg.ConnectSettleDelay)
	s.transition(action, core.ActionConnected,
		fmt.Sprintf("Called %s about %s. Reason: %s", action.TargetMemberName, elderName, action.Reason))
}

// simulate walks the action through the same states without a telephony
// provider, so the whole pipeline works in development.
func (s *Service) simulate(action *core.VillageAction) {
	time.Sleep(s.cfg.SimulateDialDelay)
	s.transition(action, core.ActionCalling, "")
	time.Sleep(s.cfg.SimulateAnswerDelay)
	s.transition(action, core.ActionConnected,
		fmt.Sprintf("%s answered and is heading over now", action.TargetMemberName))
}

// transition moves the action to the next state, mirrors it onto the call
// session, and publishes the update. Transitions out of a terminal state
// are ignored.
func (s *Service) transition(action *core.VillageAction, status core.ActionStatus, response string) {
	s.mu.Lock()
	if action.Status.Terminal() {
		s.mu.Unlock()
		return
	}
	action.Status = status
	if response != "" {
		action.Response = response
	}
	s.mu.Unlock()

	if s.sessions != nil {
		if err := s.sessions.UpdateAction(action.CallSessionID, action.ID, status, response); err != nil {
			// The call may have ended while the drive was in flight.
			s.logger.Debug("session action update skipped",
				"call_id", action.CallSessionID, "action_id", action.ID, "error", err)
		}
	}

	s.hub.PublishToCall(action.CallSessionID, core.VillageActionUpdateEvent(action.ID, status, response))

	if status.Terminal() {
		s.finish(s.snapshotPtr(action))
	}
}

// finish handles the side effects of reaching a terminal state. It receives
// a snapshot, never the index's mutable copy.
func (s *Service) finish(action *core.VillageAction) {
	s.logger.Info("village action finished",
		"action_id", action.ID, "status", action.Status, "response", action.Response)

	if s.notifier != nil {
		s.notifier.ActionFinished(context.Background(), action)
	}
	if s.archive != nil && s.archive.Enabled() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.archive.SaveAction(ctx, action); err != nil {
			s.logger.Warn("action archive failed", "action_id", action.ID, "error", err)
		}
	}
}

// List returns copies of actions in the global index, newest first,
// optionally filtered by call session and status.
func (s *Service) List(callID string, status core.ActionStatus) []core.VillageAction {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]core.VillageAction, 0, len(s.actions))
	for i := len(s.actions) - 1; i >= 0; i-- {
		a := s.actions[i]
		if callID != "" && a.CallSessionID != callID {
			continue
		}
		if status != "" && a.Status != status {
			continue
		}
		out = append(out, *a)
	}
	return out
}

// Get returns a copy of one action by id.
func (s *Service) Get(id string) (core.VillageAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.actions {
		if a.ID == id {
			return *a, nil
		}
	}
	return core.VillageAction{}, core.NewNotFoundError("village action not found: " + id)
}

// snapshot returns a value copy safe to hand to the event bus.
func (s *Service) snapshot(action *core.VillageAction) core.VillageAction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *action
}

func (s *Service) snapshotPtr(action *core.VillageAction) *core.VillageAction {
	cp := s.snapshot(action)
	return &cp
}
