// Package alert delivers operational alerts to a webhook. Delivery is
// best-effort and rate limited so an alert storm cannot flood the endpoint
// or block a pipeline.
package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/minted-network/bridge-relay/pkg/config"
)

// Severity grades an alert.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Event is one operational alert.
type Event struct {
	Severity Severity          `json:"severity"`
	Kind     string            `json:"kind"`
	Message  string            `json:"message"`
	Fields   map[string]string `json:"fields,omitempty"`
	Service  string            `json:"service"`
	At       time.Time         `json:"at"`
}

// Notifier sends alert events.
type Notifier interface {
	Notify(ctx context.Context, event Event)
}

// NewNotifier returns a webhook notifier, or a no-op one when no webhook is
// configured.
func NewNotifier(cfg *config.AlertingConfig, logger *zap.Logger) Notifier {
	if cfg.WebhookURL == "" {
		logger.Info("alerting disabled, no webhook configured")
		return nopNotifier{}
	}
	return &webhookNotifier{
		url:     cfg.WebhookURL,
		service: cfg.Service,
		client:  &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(rate.Every(5*time.Second), 6),
		logger:  logger,
	}
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, Event) {}

type webhookNotifier struct {
	url     string
	service string
	client  *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// Notify posts the event to the webhook. Events beyond the rate limit are
// dropped with a log line; alerting never applies backpressure to the
// pipelines that raise alerts.
func (n *webhookNotifier) Notify(ctx context.Context, event Event) {
	if !n.limiter.Allow() {
		n.logger.Warn("alert dropped by rate limit",
			zap.String("kind", event.Kind),
			zap.String("message", event.Message))
		return
	}

	event.Service = n.service
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}

	if err := n.post(ctx, event); err != nil {
		n.logger.Error("alert delivery failed",
			zap.String("kind", event.Kind),
			zap.Error(err))
	}
}

func (n *webhookNotifier) post(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create alert request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	}
	return nil
}
