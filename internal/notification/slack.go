package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/procuresight/procuresight/internal/models"
)

// SlackSink posts alert summaries to a Slack-compatible incoming webhook.
// With no webhook URL configured the sink drops everything silently, so the
// pipeline works unchanged in local development.
type SlackSink struct {
	webhookURL string
	appBaseURL string
	client     *http.Client
	logger     *zap.Logger
}

// NewSlackSink creates a webhook sink. appBaseURL, when set, is used to
// append a deep link to the invoice review page.
func NewSlackSink(webhookURL, appBaseURL string, timeout time.Duration, logger *zap.Logger) *SlackSink {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &SlackSink{
		webhookURL: webhookURL,
		appBaseURL: appBaseURL,
		client:     &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// Name identifies the sink in dispatcher logs.
func (s *SlackSink) Name() string { return "slack_webhook" }

// Deliver posts the alert summary as a {"text": ...} payload.
func (s *SlackSink) Deliver(ctx context.Context, alert models.Alert) error {
	if s.webhookURL == "" {
		s.logger.Debug("Slack webhook not configured, dropping alert",
			zap.String("alert_id", alert.ID))
		return nil
	}

	text := SummaryText(alert)
	if s.appBaseURL != "" && alert.InvoiceID != "" {
		text += fmt.Sprintf("\n%s/invoices/%s", s.appBaseURL, alert.InvoiceID)
	}

	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	s.logger.Debug("Delivered alert to chat webhook",
		zap.String("alert_id", alert.ID),
		zap.String("severity", string(alert.Severity)))
	return nil
}
