package analysis

import (
	"strings"
	"testing"

	"github.com/villagehq/village/pkg/core"
)

func TestParseResultPlainJSON(t *testing.T) {
	res, err := ParseResult(`{"concerns":[{"type":"fall","severity":"high","description":"fell"}]}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Concerns) != 1 || res.Concerns[0].Type != "fall" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestParseResultStripsFence(t *testing.T) {
	res, err := ParseResult("```json\n{\"wellbeing_update\":{\"overall_concern_level\":\"low\"}}\n```")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Wellbeing == nil || res.Wellbeing.OverallConcernLevel != "low" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestParseResultRejectsGarbage(t *testing.T) {
	if _, err := ParseResult("not json at all"); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestBuildPromptIncludesRosterAndRecentLines(t *testing.T) {
	elder := &core.Elder{
		ID:   "margaret",
		Name: "Margaret",
		Age:  78,
		Village: []core.VillageMember{
			{ID: "sarah", Name: "Sarah", Role: "daughter", Phone: "+15551234567"},
		},
	}
	session := &core.CallSession{ID: "c1", ElderID: "margaret"}
	for i := 0; i < 20; i++ {
		session.Transcript = append(session.Transcript, core.TranscriptLine{
			Speaker: "elder", Text: "line",
		})
	}
	line := core.TranscriptLine{Speaker: "elder", Text: "my hip hurts"}
	session.Transcript = append(session.Transcript, line)

	prompt := BuildPrompt(session, elder, line)
	if !strings.Contains(prompt, "id=sarah") {
		t.Fatalf("roster missing from prompt:\n%s", prompt)
	}
	if !strings.Contains(prompt, "my hip hurts") {
		t.Fatalf("new line missing from prompt:\n%s", prompt)
	}
	if n := strings.Count(prompt, "elder: line"); n != contextLines {
		t.Fatalf("expected %d context lines, got %d", contextLines, n)
	}
}
