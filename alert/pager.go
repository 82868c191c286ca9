// alert/pager.go
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

// PagerNotifier raises incidents against a paging provider's events API.
// Registered as a critical-only channel: it never fires below critical.
type PagerNotifier struct {
	endpoint   string
	routingKey string
	client     *http.Client
}

func NewPagerNotifier(endpoint, routingKey string, timeout time.Duration) *PagerNotifier {
	return &PagerNotifier{
		endpoint:   endpoint,
		routingKey: routingKey,
		client:     &http.Client{Timeout: timeout},
	}
}

func (p *PagerNotifier) Name() string { return "pager" }

func (p *PagerNotifier) Send(ctx context.Context, ev breaker.TriggerEvent, priority breaker.Priority) error {
	payload := map[string]interface{}{
		"routing_key":  p.routingKey,
		"event_action": "trigger",
		"dedup_key":    ev.ID,
		"payload": map[string]interface{}{
			"summary":  fmt.Sprintf("Circuit breaker escalated to %s: %s", ev.Level, ev.Reason),
			"source":   ev.Source,
			"severity": "critical",
			"custom_details": map[string]interface{}{
				"threshold":   ev.Threshold,
				"actual":      ev.Actual,
				"strategy_id": ev.StrategyID,
				"initiator":   ev.Initiator,
			},
		},
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewBuffer(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("pager returned status: %d", resp.StatusCode)
	}
	return nil
}
