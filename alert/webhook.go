// alert/webhook.go
package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"auto_guard_go/breaker"
)

// WebhookNotifier posts alerts to a chat webhook (Discord-compatible embed
// payload).
type WebhookNotifier struct {
	webhookURL string
	client     *http.Client
}

func NewWebhookNotifier(webhookURL string, timeout time.Duration) *WebhookNotifier {
	return &WebhookNotifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: timeout},
	}
}

func (w *WebhookNotifier) Name() string { return "webhook" }

func (w *WebhookNotifier) Send(ctx context.Context, ev breaker.TriggerEvent, priority breaker.Priority) error {
	color := 0xE67E22 // orange for high
	if priority == breaker.PriorityCritical {
		color = 0xE74C3C // red
	}

	description := fmt.Sprintf("Reason: **%s**\nThreshold: %.4f, Actual: %.4f\nInitiator: %s",
		ev.Reason, ev.Threshold, ev.Actual, ev.Initiator)
	if ev.StrategyID != "" {
		description += fmt.Sprintf("\nStrategy: %s", ev.StrategyID)
	}

	payload := map[string]interface{}{
		"embeds": []map[string]interface{}{
			{
				"title":       fmt.Sprintf("Circuit breaker escalated to %s", ev.Level),
				"description": description,
				"color":       color,
				"footer": map[string]string{
					"text": "Safety Controller Alert",
				},
				"timestamp": ev.Timestamp.Format(time.RFC3339),
			},
		},
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.webhookURL, bytes.NewBuffer(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status: %d", resp.StatusCode)
	}
	return nil
}
