// Package slack sends clinical alert notifications to Slack via incoming
// webhooks.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/linnemanlabs/pulse/internal/alert"
	"github.com/linnemanlabs/pulse/internal/engine"
)

const (
	maxMessageLen = 3000
	httpTimeout   = 10 * time.Second
)

// Notifier posts alerts to a Slack webhook. Alerts below the minimum
// severity are dropped silently; during a busy encounter only the findings
// worth interrupting someone for should page a channel.
type Notifier struct {
	webhookURL  string
	minSeverity alert.Severity
	client      *http.Client
}

// New creates a new Slack notifier. If webhookURL is empty, Notify is a
// no-op.
func New(webhookURL string, minSeverity alert.Severity) *Notifier {
	return &Notifier{
		webhookURL:  webhookURL,
		minSeverity: minSeverity,
		client:      &http.Client{Timeout: httpTimeout},
	}
}

// Notify posts one alert to the configured Slack webhook.
func (n *Notifier) Notify(ctx context.Context, key engine.Key, a alert.Alert) error {
	if n.webhookURL == "" || a.Severity < n.minSeverity {
		return nil
	}

	body, err := json.Marshal(buildMessage(key, a))
	if err != nil {
		return fmt.Errorf("slack: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req) //nolint:gosec // G704: webhookURL is from trusted config, not user input
	if err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack: webhook returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

func buildMessage(key engine.Key, a alert.Alert) map[string]any {
	blocks := []map[string]any{
		headerBlock(a),
		{"type": "divider"},
		fieldsBlock(key, a),
		{"type": "divider"},
		messageBlock(a),
	}
	if a.Suggestion != "" {
		blocks = append(blocks, suggestionBlock(a))
	}
	blocks = append(blocks, map[string]any{"type": "divider"}, contextBlock(a))
	return map[string]any{"blocks": blocks}
}

func headerBlock(a alert.Alert) map[string]any {
	text := fmt.Sprintf("%s Clinical Alert: %s", severityEmoji(a.Severity), a.Type)
	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": text,
		},
	}
}

func fieldsBlock(key engine.Key, a alert.Alert) map[string]any {
	fields := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Patient:* %s", key.PatientID),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Encounter:* %s", key.EncounterID),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Severity:* %s", a.Severity),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Type:* %s", a.Type),
		},
	}

	return map[string]any{
		"type":   "section",
		"fields": fields,
	}
}

func messageBlock(a alert.Alert) map[string]any {
	text := truncate(a.Message, maxMessageLen)
	if text == "" {
		text = "_No detail available._"
	}

	return map[string]any{
		"type": "section",
		"text": map[string]any{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Finding*\n\n%s", text),
		},
	}
}

func suggestionBlock(a alert.Alert) map[string]any {
	return map[string]any{
		"type": "section",
		"text": map[string]any{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Suggested action*\n\n%s", truncate(a.Suggestion, maxMessageLen)),
		},
	}
}

func contextBlock(a alert.Alert) map[string]any {
	elements := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("pulse • alert %s • %s", a.ID, a.Timestamp.UTC().Format("2006-01-02 15:04 UTC")),
		},
	}

	return map[string]any{
		"type":     "context",
		"elements": elements,
	}
}

func severityEmoji(s alert.Severity) string {
	switch s {
	case alert.SeverityCritical:
		return "\U0001f534" // red circle
	case alert.SeverityWarning:
		return "\U0001f7e1" // yellow circle
	default:
		return "\U0001f7e2" // green circle
	}
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}
