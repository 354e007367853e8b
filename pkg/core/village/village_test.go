package village

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/villagehq/village/pkg/core"
	"github.com/villagehq/village/pkg/core/analysis"
	"github.com/villagehq/village/pkg/core/tasks"
	"github.com/villagehq/village/pkg/core/telephony"
)

type fakePlacer struct {
	mu         sync.Mutex
	configured bool
	err        error
	placed     []telephony.PlaceRequest
}

func (f *fakePlacer) Configured() bool { return f.configured }

func (f *fakePlacer) PlaceCall(_ context.Context, req telephony.PlaceRequest) (telephony.CallRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.placed = append(f.placed, req)
	if f.err != nil {
		return telephony.CallRef{}, f.err
	}
	return telephony.CallRef{ParticipantID: "p1", RoomName: req.RoomName}, nil
}

type statusUpdate struct {
	actionID string
	status   core.ActionStatus
	response string
}

type fakeSessions struct {
	mu       sync.Mutex
	appended []core.VillageAction
	updates  []statusUpdate
	err      error
}

func (f *fakeSessions) AppendAction(_ string, a *core.VillageAction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.appended = append(f.appended, *a)
	return nil
}

func (f *fakeSessions) UpdateAction(_, actionID string, status core.ActionStatus, response string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.updates = append(f.updates, statusUpdate{actionID: actionID, status: status, response: response})
	return nil
}

func (f *fakeSessions) updateStatuses() []core.ActionStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []core.ActionStatus
	for _, u := range f.updates {
		out = append(out, u.status)
	}
	return out
}

type recordingPublisher struct {
	mu     sync.Mutex
	byCall map[string][]core.Event
}

func newRecordingPublisher() *recordingPublisher {
	return &recordingPublisher{byCall: map[string][]core.Event{}}
}

func (p *recordingPublisher) PublishGlobal(core.Event) {}

func (p *recordingPublisher) PublishToCall(callID string, ev core.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.byCall[callID] = append(p.byCall[callID], ev)
}

func (p *recordingPublisher) eventTypes(callID string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, ev := range p.byCall[callID] {
		out = append(out, ev.Type)
	}
	return out
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discard{}, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func fastConfig() Config {
	return Config{
		DedupWindow:         time.Minute,
		SimulateDialDelay:   time.Millisecond,
		SimulateAnswerDelay: time.Millisecond,
		ConnectSettleDelay:  time.Millisecond,
	}
}

func testElder() *core.Elder {
	return &core.Elder{
		ID:   "margaret",
		Name: "Margaret",
		Village: []core.VillageMember{
			{ID: "sarah", Name: "Sarah", Role: "daughter", Phone: "+15551234567"},
			{ID: "james", Name: "James", Role: "neighbor"},
		},
	}
}

func suggestion(targetID, reason string) analysis.SuggestedAction {
	return analysis.SuggestedAction{
		Type:         "call_family",
		Reason:       reason,
		Urgency:      analysis.UrgencyImmediate,
		TargetMember: &core.VillageMember{ID: targetID},
	}
}

func waitDrained(t *testing.T, tr *tasks.Tracker) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if !tr.Wait(ctx) {
		t.Fatal("escalation tasks did not drain")
	}
}

func TestEscalateSimulatedRunsToConnected(t *testing.T) {
	pub := newRecordingPublisher()
	sessions := &fakeSessions{}
	tracker := tasks.NewTracker()
	svc := NewService(fastConfig(), pub, nil, nil, sessions, tracker, nil, nil, quietLogger())

	session := &core.CallSession{ID: "call-1", ElderID: "margaret"}
	action, err := svc.Escalate(context.Background(), session, testElder(), suggestion("sarah", "possible fall"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if action.Status != core.ActionInitiated {
		t.Fatalf("expected initiated, got %s", action.Status)
	}
	if action.TargetMemberPhone != "+15551234567" {
		t.Fatalf("phone not resolved from roster: %q", action.TargetMemberPhone)
	}
	if len(sessions.appended) != 1 {
		t.Fatalf("action not attached to session")
	}

	waitDrained(t, tracker)

	got, err := svc.Get(action.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != core.ActionConnected {
		t.Fatalf("expected connected, got %s", got.Status)
	}
	if got.Response == "" {
		t.Fatal("expected a simulated response")
	}

	types := pub.eventTypes("call-1")
	want := []string{core.EventVillageActionStart, core.EventVillageActionUpdate, core.EventVillageActionUpdate}
	if len(types) != len(want) {
		t.Fatalf("expected events %v, got %v", want, types)
	}
}

func TestEscalateMirrorsStatusOntoSession(t *testing.T) {
	sessions := &fakeSessions{}
	tracker := tasks.NewTracker()
	svc := NewService(fastConfig(), nil, nil, nil, sessions, tracker, nil, nil, quietLogger())

	session := &core.CallSession{ID: "call-1", ElderID: "margaret"}
	action, err := svc.Escalate(context.Background(), session, testElder(), suggestion("sarah", "possible fall"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitDrained(t, tracker)

	got := sessions.updateStatuses()
	want := []core.ActionStatus{core.ActionCalling, core.ActionConnected}
	if len(got) != len(want) {
		t.Fatalf("expected updates %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("update[%d] = %s, want %s", i, got[i], want[i])
		}
	}

	// The returned action is a copy; the index's state never leaks out.
	action.Status = core.ActionFailed
	stored, err := svc.Get(action.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stored.Status != core.ActionConnected {
		t.Fatalf("caller mutation leaked into index: %s", stored.Status)
	}
}

func TestTerminalStateAbsorbsLateTransitions(t *testing.T) {
	pub := newRecordingPublisher()
	sessions := &fakeSessions{}
	tracker := tasks.NewTracker()
	svc := NewService(fastConfig(), pub, nil, nil, sessions, tracker, nil, nil, quietLogger())

	session := &core.CallSession{ID: "call-1", ElderID: "margaret"}
	action, err := svc.Escalate(context.Background(), session, testElder(), suggestion("sarah", "possible fall"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitDrained(t, tracker)

	events := len(pub.eventTypes("call-1"))
	updates := len(sessions.updateStatuses())

	svc.mu.Lock()
	live := svc.actions[0]
	svc.mu.Unlock()
	svc.transition(live, core.ActionFailed, "late failure")

	got, err := svc.Get(action.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != core.ActionConnected {
		t.Fatalf("terminal state was reopened: %s", got.Status)
	}
	if n := len(pub.eventTypes("call-1")); n != events {
		t.Fatalf("late transition published an event: %d -> %d", events, n)
	}
	if n := len(sessions.updateStatuses()); n != updates {
		t.Fatalf("late transition reached the session: %d -> %d", updates, n)
	}
}

func TestDedupMapSweepsExpiredKeys(t *testing.T) {
	cfg := fastConfig()
	cfg.DedupWindow = 5 * time.Millisecond
	tracker := tasks.NewTracker()
	svc := NewService(cfg, nil, nil, nil, nil, tracker, nil, nil, quietLogger())
	session := &core.CallSession{ID: "call-1"}

	if _, err := svc.Escalate(context.Background(), session, testElder(), suggestion("sarah", "r1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	if _, err := svc.Escalate(context.Background(), session, testElder(), suggestion("sarah", "r2")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitDrained(t, tracker)

	svc.mu.Lock()
	defer svc.mu.Unlock()
	if len(svc.recent) != 1 {
		t.Fatalf("expired dedup keys not swept: %d entries", len(svc.recent))
	}
	if _, ok := svc.recent["sarah|r2"]; !ok {
		t.Fatal("latest dedup key missing after sweep")
	}
}

func TestEscalateRejectsMissingTarget(t *testing.T) {
	svc := NewService(fastConfig(), nil, nil, nil, nil, tasks.NewTracker(), nil, nil, quietLogger())
	session := &core.CallSession{ID: "call-1"}

	_, err := svc.Escalate(context.Background(), session, testElder(), analysis.SuggestedAction{
		Type:    "call_family",
		Urgency: analysis.UrgencyImmediate,
	})
	if !core.IsInvalidTarget(err) {
		t.Fatalf("expected invalid target error, got %v", err)
	}
}

func TestEscalateDedupesWithinWindow(t *testing.T) {
	tracker := tasks.NewTracker()
	svc := NewService(fastConfig(), nil, nil, nil, nil, tracker, nil, nil, quietLogger())
	session := &core.CallSession{ID: "call-1"}

	first, err := svc.Escalate(context.Background(), session, testElder(), suggestion("sarah", "possible fall"))
	if err != nil || first == nil {
		t.Fatalf("first escalation failed: %v", err)
	}
	second, err := svc.Escalate(context.Background(), session, testElder(), suggestion("sarah", "possible fall"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second != nil {
		t.Fatal("duplicate escalation should be skipped")
	}

	// A different reason is a different escalation.
	third, err := svc.Escalate(context.Background(), session, testElder(), suggestion("sarah", "chest pain"))
	if err != nil || third == nil {
		t.Fatalf("distinct reason should escalate: %v", err)
	}

	waitDrained(t, tracker)
	if n := len(svc.List("", "")); n != 2 {
		t.Fatalf("expected 2 actions in index, got %d", n)
	}
}

func TestEscalatePlacesRealCall(t *testing.T) {
	pub := newRecordingPublisher()
	placer := &fakePlacer{configured: true}
	tracker := tasks.NewTracker()
	svc := NewService(fastConfig(), pub, placer, nil, nil, tracker, nil, nil, quietLogger())

	session := &core.CallSession{ID: "call-1"}
	action, err := svc.Escalate(context.Background(), session, testElder(), suggestion("sarah", "possible fall"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitDrained(t, tracker)

	placer.mu.Lock()
	defer placer.mu.Unlock()
	if len(placer.placed) != 1 {
		t.Fatalf("expected 1 placed call, got %d", len(placer.placed))
	}
	req := placer.placed[0]
	if req.ToPhone != "+15551234567" {
		t.Fatalf("unexpected dial target: %q", req.ToPhone)
	}
	if req.Attributes["action_id"] != action.ID {
		t.Fatalf("action id missing from call attributes: %+v", req.Attributes)
	}

	got, _ := svc.Get(action.ID)
	if got.Status != core.ActionConnected {
		t.Fatalf("expected connected, got %s", got.Status)
	}
}

func TestEscalateFailsWhenPlacerErrors(t *testing.T) {
	placer := &fakePlacer{configured: true, err: errors.New("trunk unavailable")}
	tracker := tasks.NewTracker()
	svc := NewService(fastConfig(), nil, placer, nil, nil, tracker, nil, nil, quietLogger())

	session := &core.CallSession{ID: "call-1"}
	action, err := svc.Escalate(context.Background(), session, testElder(), suggestion("sarah", "possible fall"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitDrained(t, tracker)

	got, _ := svc.Get(action.ID)
	if got.Status != core.ActionFailed {
		t.Fatalf("expected failed, got %s", got.Status)
	}
	if got.Response == "" {
		t.Fatal("expected failure reason in response")
	}
}

func TestEscalateFailsWithoutPhoneNumber(t *testing.T) {
	placer := &fakePlacer{configured: true}
	tracker := tasks.NewTracker()
	svc := NewService(fastConfig(), nil, placer, nil, nil, tracker, nil, nil, quietLogger())

	session := &core.CallSession{ID: "call-1"}
	action, err := svc.Escalate(context.Background(), session, testElder(), suggestion("james", "wellness check"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitDrained(t, tracker)

	got, _ := svc.Get(action.ID)
	if got.Status != core.ActionFailed {
		t.Fatalf("expected failed, got %s", got.Status)
	}
	placer.mu.Lock()
	defer placer.mu.Unlock()
	if len(placer.placed) != 0 {
		t.Fatal("no call should be placed without a phone number")
	}
}

func TestListFilters(t *testing.T) {
	tracker := tasks.NewTracker()
	svc := NewService(fastConfig(), nil, nil, nil, nil, tracker, nil, nil, quietLogger())

	a, _ := svc.Escalate(context.Background(), &core.CallSession{ID: "call-1"}, testElder(), suggestion("sarah", "r1"))
	b, _ := svc.Escalate(context.Background(), &core.CallSession{ID: "call-2"}, testElder(), suggestion("sarah", "r2"))
	waitDrained(t, tracker)

	if got := svc.List("call-1", ""); len(got) != 1 || got[0].ID != a.ID {
		t.Fatalf("call filter failed: %+v", got)
	}
	if got := svc.List("", core.ActionConnected); len(got) != 2 {
		t.Fatalf("status filter failed: %+v", got)
	}
	if got := svc.List("call-2", core.ActionFailed); len(got) != 0 {
		t.Fatalf("combined filter failed: %+v", got)
	}
	_ = b

	if _, err := svc.Get("missing"); !core.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}
