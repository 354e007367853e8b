package analysis

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/villagehq/village/pkg/core"
)

// SystemPrompt instructs the model to act as the wellbeing analyst. Both
// providers share it so switching providers does not change behavior.
const SystemPrompt = `You are a wellbeing analyst for an elder-care calling service.
You receive one new line from a live phone call transcript, plus recent context.
Analyze ONLY the new line and respond with a single JSON object matching this shape:

{
  "wellbeing_update": {"emotional": "...", "mental": "...", "social": "...", "physical": "...", "cognitive": "...", "overall_concern_level": "low|medium|high"} or null,
  "concerns": [{"type": "...", "severity": "low|medium|high", "description": "...", "quote": "...", "action_required": true|false}],
  "profile_facts": [{"fact": "...", "category": "...", "context": "..."}],
  "suggested_actions": [{"type": "...", "reason": "...", "urgency": "immediate|today|this_week", "estimated_response_time": 0, "target_member": {"id": "...", "name": "...", "phone": "..."}}],
  "summary": null
}

Rules:
- Omit or null every part that does not apply. Most lines produce nothing.
- Use "immediate" urgency only for situations needing action within minutes
  (falls, chest pain, confusion about critical medication, signs of crisis).
- For immediate suggestions pick the single best-suited village member from
  the roster and copy their id, name, and phone exactly.
- Never invent village members or phone numbers.`

// contextLines is how many trailing transcript lines accompany the new line.
const contextLines = 10

// BuildPrompt renders the analyzer user prompt for one transcript line.
func BuildPrompt(session *core.CallSession, elder *core.Elder, line core.TranscriptLine) string {
	var b strings.Builder

	if elder != nil {
		fmt.Fprintf(&b, "Elder: %s (age %d)\n", elder.Name, elder.Age)
		if len(elder.Village) > 0 {
			b.WriteString("Village roster:\n")
			for _, m := range elder.Village {
				fmt.Fprintf(&b, "- id=%s name=%q role=%s phone=%s\n", m.ID, m.Name, m.Role, m.Phone)
			}
		}
	}

	if n := len(session.Transcript); n > 1 {
		b.WriteString("\nRecent transcript:\n")
		start := n - 1 - contextLines
		if start < 0 {
			start = 0
		}
		for _, prev := range session.Transcript[start : n-1] {
			fmt.Fprintf(&b, "%s: %s\n", prev.Speaker, prev.Text)
		}
	}

	fmt.Fprintf(&b, "\nNew line:\n%s: %s\n", line.Speaker, line.Text)
	return b.String()
}

// ParseResult decodes a model response into a Result. Models occasionally
// wrap JSON in a markdown fence; strip it before decoding.
func ParseResult(text string) (*Result, error) {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if i := strings.LastIndex(text, "```"); i >= 0 {
			text = text[:i]
		}
		text = strings.TrimSpace(text)
	}
	var res Result
	if err := json.Unmarshal([]byte(text), &res); err != nil {
		return nil, fmt.Errorf("decode analysis response: %w", err)
	}
	return &res, nil
}
