package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/shawnbow/eidos-miner/internal/metrics"
)

// Type categorizes the kind of alert.
type Type string

const (
	TypeSubmissionFailed Type = "SUBMISSION_FAILED"
	TypeFunding          Type = "INSUFFICIENT_FUNDING"
	TypeEndpointDown     Type = "ENDPOINT_DOWN"
)

// Event is one operator-facing alert.
type Event struct {
	Type    Type
	Title   string
	Message string
	Fields  map[string]string
}

// Alerter sends alerts to an operator channel.
type Alerter interface {
	Send(ctx context.Context, event Event) error
}

// Webhook posts alerts as JSON to a generic HTTP webhook, suppressing
// repeats of the same alert type within a cooldown window.
type Webhook struct {
	url      string
	cooldown time.Duration
	client   *http.Client
	logger   *slog.Logger

	mu       sync.Mutex
	lastSent map[Type]time.Time
}

func NewWebhook(url string, cooldown time.Duration, logger *slog.Logger) *Webhook {
	return &Webhook{
		url:      url,
		cooldown: cooldown,
		client:   &http.Client{Timeout: 10 * time.Second},
		logger:   logger.With("component", "alerter"),
		lastSent: make(map[Type]time.Time),
	}
}

func (w *Webhook) Send(ctx context.Context, event Event) error {
	w.mu.Lock()
	if last, ok := w.lastSent[event.Type]; ok && time.Since(last) < w.cooldown {
		w.mu.Unlock()
		w.logger.Debug("alert suppressed by cooldown", "type", event.Type)
		metrics.AlertsCooldownSkipped.WithLabelValues(string(event.Type)).Inc()
		return nil
	}
	w.lastSent[event.Type] = time.Now()
	w.mu.Unlock()

	payload := map[string]any{
		"type":    string(event.Type),
		"title":   event.Title,
		"message": event.Message,
		"fields":  event.Fields,
		"time":    time.Now().UTC().Format(time.RFC3339),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook alert: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	metrics.AlertsSentTotal.WithLabelValues(string(event.Type)).Inc()
	return nil
}

// Noop does nothing. Used when no alert channel is configured.
type Noop struct{}

func (Noop) Send(context.Context, Event) error { return nil }
