// Package slack posts triage referrals to Slack via incoming webhooks.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/medtriage/internal/triage"
)

const (
	maxSectionLen = 3000
	httpTimeout   = 10 * time.Second
)

// Notifier sends referrals to a Slack webhook.
type Notifier struct {
	webhookURL string
	client     *http.Client
	logger     log.Logger
}

// New creates a new Slack notifier. If webhookURL is empty, NotifyReferral is
// a no-op.
func New(webhookURL string, logger log.Logger) *Notifier {
	if logger == nil {
		logger = log.Nop()
	}
	return &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: httpTimeout},
		logger:     logger,
	}
}

// NotifyReferral posts ref to the configured Slack webhook.
func (n *Notifier) NotifyReferral(ctx context.Context, ref *triage.Referral) error {
	if n.webhookURL == "" {
		return nil
	}

	body, err := json.Marshal(buildMessage(ref))
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

	n.logger.Info(ctx, "referral posted to slack",
		"correlation_id", ref.CorrelationID,
		"specialty", ref.Specialty,
	)
	return nil
}

func buildMessage(r *triage.Referral) map[string]any {
	return map[string]any{
		"blocks": []map[string]any{
			headerBlock(r),
			{"type": "divider"},
			fieldsBlock(r),
			{"type": "divider"},
			codesBlock(r),
			{"type": "divider"},
			contextBlock(r),
		},
	}
}

func headerBlock(r *triage.Referral) map[string]any {
	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": fmt.Sprintf("%s Referral: %s", specialtyEmoji(r.Specialty), r.Specialty),
		},
	}
}

func fieldsBlock(r *triage.Referral) map[string]any {
	symptoms := strings.Join(r.Symptoms, ", ")
	if symptoms == "" {
		symptoms = "none"
	}
	fields := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Specialty:* %s", r.Specialty),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Codes:* %d", countCoded(r.Items)),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Symptoms:* %s", truncate(symptoms, maxSectionLen/2)),
		},
	}

	return map[string]any{
		"type":   "section",
		"fields": fields,
	}
}

func codesBlock(r *triage.Referral) map[string]any {
	var b strings.Builder
	for _, it := range r.Items {
		if it.Code == "" {
			fmt.Fprintf(&b, "• %s: _no matching code_\n", it.Symptom)
			continue
		}
		fmt.Fprintf(&b, "• %s: `%s` %s (%.2f)\n", it.Symptom, it.Code, it.Label, it.Score)
	}
	text := truncate(strings.TrimSuffix(b.String(), "\n"), maxSectionLen)
	if text == "" {
		text = "_No codes matched._"
	}

	return map[string]any{
		"type": "section",
		"text": map[string]any{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Codes*\n\n%s", text),
		},
	}
}

func contextBlock(r *triage.Referral) map[string]any {
	ts := r.CreatedAt
	if ts.IsZero() {
		ts = time.Now()
	}

	elements := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("medtriage • turn %s • %s", r.CorrelationID, ts.UTC().Format("2006-01-02 15:04 UTC")),
		},
	}

	return map[string]any{
		"type":     "context",
		"elements": elements,
	}
}

func specialtyEmoji(specialty string) string {
	switch specialty {
	case "Cardiology":
		return "\U0001f534" // red circle
	case "Pulmonology", "Neurology":
		return "\U0001f7e1" // yellow circle
	default:
		return "\U0001f7e2" // green circle
	}
}

func countCoded(items []triage.ICD10Item) int {
	n := 0
	for _, it := range items {
		if it.Code != "" {
			n++
		}
	}
	return n
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}

var _ triage.Notifier = (*Notifier)(nil)
