package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/villagehq/village/pkg/core"
	"github.com/villagehq/village/pkg/core/analysis"
	"github.com/villagehq/village/pkg/core/calls"
	"github.com/villagehq/village/pkg/core/directory"
	"github.com/villagehq/village/pkg/core/tasks"
	"github.com/villagehq/village/pkg/core/village"
	"github.com/villagehq/village/pkg/gateway/config"
	"github.com/villagehq/village/pkg/gateway/events"
	"github.com/villagehq/village/pkg/gateway/lifecycle"
	"github.com/villagehq/village/pkg/gateway/server"
)

// fallAnalyzer reports a fall with an immediate escalation the first time
// the transcript mentions one, and nothing otherwise.
type fallAnalyzer struct{}

func (fallAnalyzer) Analyze(_ context.Context, _ *core.CallSession, elder *core.Elder, line core.TranscriptLine) (*analysis.Result, error) {
	if !strings.Contains(strings.ToLower(line.Text), "fell") {
		return &analysis.Result{}, nil
	}
	target := elder.Village[0]
	return &analysis.Result{
		Wellbeing: &core.Wellbeing{
			Emotional:           "distressed",
			Physical:            "injured",
			OverallConcernLevel: "high",
		},
		Concerns: []core.Concern{{
			Type:        "fall",
			Severity:    "critical",
			Description: "Reported falling and cannot get up",
		}},
		SuggestedActions: []analysis.SuggestedAction{{
			Type:         "call_family",
			Reason:       "elder reported a fall",
			Urgency:      analysis.UrgencyImmediate,
			TargetMember: &target,
		}},
	}, nil
}

func TestFallEscalationEndToEnd(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.Config{
		AuthMode:           config.AuthModeDisabled,
		CORSAllowedOrigins: map[string]struct{}{},
		WSMaxClients:       16,
		WSMaxReadBytes:     32 * 1024,
	}

	hub := events.NewHub(events.Config{}, logger)
	tracker := tasks.NewTracker()
	dir := directory.NewInMemory(directory.DemoElder())
	callSvc := calls.NewService(hub, dir, nil, tracker, nil, logger)
	villageSvc := village.NewService(village.Config{
		DedupWindow:         time.Minute,
		SimulateDialDelay:   time.Millisecond,
		SimulateAnswerDelay: time.Millisecond,
		ConnectSettleDelay:  time.Millisecond,
	}, hub, nil, dir, callSvc, tracker, nil, nil, logger)
	callSvc.SetAnalyzer(analysis.NewOrchestrator(fallAnalyzer{}, callSvc, villageSvc, hub, logger, 5*time.Second))

	gw := server.New(cfg, server.Deps{
		Calls:     callSvc,
		Village:   villageSvc,
		Directory: dir,
		Hub:       hub,
		Lifecycle: &lifecycle.Lifecycle{},
	}, logger)
	ts := httptest.NewServer(gw.Handler())
	defer ts.Close()

	// Start a call over HTTP.
	resp, err := http.Post(ts.URL+"/api/call/start", "application/json",
		bytes.NewReader([]byte(`{"elder_id":"margaret"}`)))
	if err != nil {
		t.Fatalf("start call: %v", err)
	}
	var session core.CallSession
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	resp.Body.Close()

	// Observe the call over WebSocket.
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("ws dial: %v", err)
	}
	defer conn.Close()

	next := func() core.Event {
		t.Helper()
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		var ev core.Event
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("read ws event: %v", err)
		}
		return ev
	}

	if ev := next(); ev.Type != core.EventConnected {
		t.Fatalf("first event = %s, want connected", ev.Type)
	}
	if err := conn.WriteJSON(map[string]string{"type": "subscribe_call", "call_id": session.ID}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if ev := next(); ev.Type != core.EventSubscribed {
		t.Fatalf("expected subscribed ack, got %s", ev.Type)
	}

	// The elder reports a fall.
	resp, err = http.Post(ts.URL+"/api/transcript/stream", "application/json",
		bytes.NewReader([]byte(`{"call_id":"`+session.ID+`","speaker":"elder","text":"I fell in the kitchen and I can't get up"}`)))
	if err != nil {
		t.Fatalf("transcript post: %v", err)
	}
	resp.Body.Close()

	want := []string{
		core.EventTranscriptUpdate,
		core.EventCallStatus, // ringing -> in_progress
		core.EventWellbeingUpdate,
		core.EventConcernDetected,
		core.EventVillageActionStart,
		core.EventVillageActionUpdate, // calling
		core.EventVillageActionUpdate, // connected
	}
	var got []string
	for range want {
		got = append(got, next().Type)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event[%d] = %s, want %s (full sequence %v)", i, got[i], want[i], got)
		}
	}

	waitCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if !tracker.Wait(waitCtx) {
		t.Fatal("background tasks did not drain")
	}

	// The escalation landed on the session and reached a terminal state.
	final, err := callSvc.Get(session.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if len(final.Concerns) != 1 || final.Concerns[0].Type != "fall" {
		t.Fatalf("concern not recorded: %+v", final.Concerns)
	}
	if final.Wellbeing == nil || final.Wellbeing.OverallConcernLevel != "high" {
		t.Fatalf("wellbeing not recorded: %+v", final.Wellbeing)
	}
	if len(final.VillageActions) != 1 {
		t.Fatalf("expected 1 village action, got %d", len(final.VillageActions))
	}
	action := final.VillageActions[0]
	if action.Status != core.ActionConnected || action.TargetMemberID != "sarah" {
		t.Fatalf("unexpected action: %+v", action)
	}

	// The actions index exposes it over HTTP too.
	resp, err = http.Get(ts.URL + "/api/village/actions?call_id=" + session.ID)
	if err != nil {
		t.Fatalf("actions get: %v", err)
	}
	var index map[string][]core.VillageAction
	if err := json.NewDecoder(resp.Body).Decode(&index); err != nil {
		t.Fatalf("decode actions: %v", err)
	}
	resp.Body.Close()
	if len(index["actions"]) != 1 || index["actions"][0].ID != action.ID {
		t.Fatalf("actions index mismatch: %+v", index["actions"])
	}
}
