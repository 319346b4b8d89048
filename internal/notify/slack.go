// Package notify delivers chat notifications through a Slack incoming
// webhook. Delivery is best-effort: the pipeline never fails because a
// notification did not go out.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/slack-go/slack"
)

// Slack posts plain-text messages to one incoming webhook.
type Slack struct {
	webhookURL string
	timeout    time.Duration
	logger     *slog.Logger
}

// NewSlack builds a notifier for the given webhook URL. An empty URL yields
// a notifier that drops every message with a warning; useful in development.
func NewSlack(webhookURL string, timeout time.Duration, logger *slog.Logger) *Slack {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Slack{webhookURL: webhookURL, timeout: timeout, logger: logger}
}

// Post sends one message. The returned error is informational; callers log
// it and move on.
func (s *Slack) Post(ctx context.Context, text string) error {
	if s.webhookURL == "" {
		s.logger.Warn("Slack webhook not configured, dropping notification.")
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	err := slack.PostWebhookContext(ctx, s.webhookURL, &slack.WebhookMessage{Text: text})
	if err != nil {
		return fmt.Errorf("post slack webhook: %w", err)
	}
	return nil
}
