package slack

import (
	"context"
	"fmt"
	"log/slog"

	goslack "github.com/slack-go/slack"
)

// Notifier posts ops alerts to a Slack channel.
type Notifier struct {
	client  *goslack.Client
	channel string
	logger  *slog.Logger
}

// NewNotifier creates a Slack Notifier. If botToken is empty, the notifier
// is a noop (logging only) — this lets the agent run without Slack wired
// in dev/test.
func NewNotifier(botToken, channel string, logger *slog.Logger) *Notifier {
	var client *goslack.Client
	if botToken != "" {
		client = goslack.New(botToken)
	}
	return &Notifier{client: client, channel: channel, logger: logger}
}

// IsEnabled returns true if the notifier has a valid Slack client.
func (n *Notifier) IsEnabled() bool {
	return n.client != nil && n.channel != ""
}

// PostAlert sends an ops alert to the configured channel.
func (n *Notifier) PostAlert(ctx context.Context, alert AlertInfo) error {
	if !n.IsEnabled() {
		n.logger.Debug("slack notifier disabled, skipping alert post", "alert_id", alert.AlertID, "title", alert.Title)
		return nil
	}

	opts := []goslack.MsgOption{
		goslack.MsgOptionBlocks(AlertNotificationBlocks(alert)...),
		goslack.MsgOptionText(fmt.Sprintf("%s %s", SeverityEmoji(alert.Severity), alert.Title), false),
	}

	channelID, ts, err := n.client.PostMessageContext(ctx, n.channel, opts...)
	if err != nil {
		return fmt.Errorf("posting alert to slack: %w", err)
	}
	n.logger.Info("posted alert to slack", "alert_id", alert.AlertID, "channel", channelID, "ts", ts)
	return nil
}

// NotifyFailure adapts the orchestrator's and scheduler's generic failure
// hook onto PostAlert, so either can raise an ops alert without importing
// this package's types directly.
func (n *Notifier) NotifyFailure(ctx context.Context, title, subject, description string) error {
	return n.PostAlert(ctx, AlertInfo{
		AlertID:     subject,
		Title:       title,
		Severity:    "critical",
		Description: description,
		Subject:     subject,
	})
}
