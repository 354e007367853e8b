// Package notify posts escalation outcomes to an ops channel. Best-effort:
// notification failures are logged and never affect the escalation itself.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/slack-go/slack"

	"github.com/villagehq/village/pkg/core"
)

// Notifier reports terminal escalation outcomes.
type Notifier interface {
	ActionFinished(ctx context.Context, action *core.VillageAction)
}

// Slack posts to an incoming webhook.
type Slack struct {
	webhookURL string
	logger     *slog.Logger
	post       func(ctx context.Context, url string, msg *slack.WebhookMessage) error
}

// NewSlack builds a Slack notifier. An empty webhook URL returns nil,
// which callers treat as notifications disabled.
func NewSlack(webhookURL string, logger *slog.Logger) *Slack {
	webhookURL = strings.TrimSpace(webhookURL)
	if webhookURL == "" {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Slack{
		webhookURL: webhookURL,
		logger:     logger,
		post:       slack.PostWebhookContext,
	}
}

func (s *Slack) ActionFinished(ctx context.Context, action *core.VillageAction) {
	if s == nil || action == nil {
		return
	}

	var text string
	switch action.Status {
	case core.ActionConnected:
		text = fmt.Sprintf("Village action %s connected: %s reached for %q", action.ID, action.TargetMemberName, action.Reason)
	case core.ActionFailed:
		text = fmt.Sprintf("Village action %s FAILED: could not reach %s for %q (%s)", action.ID, action.TargetMemberName, action.Reason, action.Response)
	default:
		return
	}

	if err := s.post(ctx, s.webhookURL, &slack.WebhookMessage{Text: text}); err != nil {
		s.logger.Warn("slack notification failed",
			"action_id", action.ID,
			"status", action.Status,
			"error", err,
		)
	}
}
