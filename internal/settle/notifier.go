// Package settle delivers milestone finalizations to the market
// settlement service. Delivery is at-least-once; receivers dedupe on the
// Idempotency-Key header (the milestone ID, with the dispute ID in the
// payload when a dispute produced the outcome).
package settle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"blueprintcourt/internal/config"
	"blueprintcourt/internal/domain"
)

const defaultTimeout = 5 * time.Second

// Notifier is the engine's outbound settlement contract.
type Notifier interface {
	NotifyResolved(ctx context.Context, s domain.Settlement) error
}

// WebhookNotifier POSTs settlement payloads to each configured webhook.
type WebhookNotifier struct {
	Webhooks []config.WebhookConfig
	Client   *http.Client
}

func NewWebhookNotifier(webhooks []config.WebhookConfig) *WebhookNotifier {
	return &WebhookNotifier{
		Webhooks: webhooks,
		Client:   &http.Client{Timeout: defaultTimeout},
	}
}

type payload struct {
	MilestoneID string  `json:"milestone_id"`
	DisputeID   *string `json:"dispute_id,omitempty"`
	Outcome     bool    `json:"outcome"`
	Overturned  bool    `json:"overturned"`
	ResolvedAt  string  `json:"resolved_at"`
}

func (n *WebhookNotifier) NotifyResolved(ctx context.Context, s domain.Settlement) error {
	body, err := json.Marshal(payload{
		MilestoneID: s.MilestoneID,
		DisputeID:   s.DisputeID,
		Outcome:     s.Outcome,
		Overturned:  s.Overturned,
		ResolvedAt:  s.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("marshal settlement: %w", err)
	}
	for _, wh := range n.Webhooks {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, wh.URL, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Idempotency-Key", s.MilestoneID)
		if wh.Secret != "" {
			req.Header.Set("X-Webhook-Secret", wh.Secret)
		}
		res, err := n.Client.Do(req)
		if err != nil {
			return fmt.Errorf("settlement webhook %s: %w", wh.URL, err)
		}
		res.Body.Close()
		if res.StatusCode < 200 || res.StatusCode >= 300 {
			return fmt.Errorf("settlement webhook %s: status %d", wh.URL, res.StatusCode)
		}
	}
	return nil
}

// LogNotifier records settlements to the process log. Used when no
// webhook is configured so finalizations still leave a trace.
type LogNotifier struct {
	Logger *log.Logger
}

func (n LogNotifier) NotifyResolved(_ context.Context, s domain.Settlement) error {
	logger := n.Logger
	if logger == nil {
		logger = log.Default()
	}
	disputeID := ""
	if s.DisputeID != nil {
		disputeID = *s.DisputeID
	}
	logger.Printf("settlement: milestone=%s outcome=%t overturned=%t dispute=%s", s.MilestoneID, s.Outcome, s.Overturned, disputeID)
	return nil
}

// ForConfig picks the webhook notifier when webhooks are configured,
// otherwise the log notifier.
func ForConfig(cfg *config.Config) Notifier {
	if cfg != nil && len(cfg.Webhooks) > 0 {
		return NewWebhookNotifier(cfg.Webhooks)
	}
	return LogNotifier{}
}
