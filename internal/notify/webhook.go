// File: internal/notify/webhook.go
package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"
)

// Webhook posts the Message as JSON, retrying transient failures.
type Webhook struct {
	url     string
	client  *http.Client
	logger  *zap.Logger
	backoff func() backoff.BackOff
}

// NewWebhook creates a webhook notifier. A zero timeout leaves the client unbounded
// and relies on the caller's context.
func NewWebhook(url string, timeout time.Duration, logger *zap.Logger) *Webhook {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Webhook{
		url:    url,
		client: &http.Client{Timeout: timeout},
		logger: logger.Named("webhook"),
		backoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = time.Second
			b.MaxInterval = 10 * time.Second
			b.MaxElapsedTime = 30 * time.Second
			return b
		},
	}
}

func (w *Webhook) Name() string { return "webhook" }

// Notify delivers msg. 4xx answers other than 429 are not retried.
func (w *Webhook) Notify(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	attempt := 0
	operation := func() error {
		attempt++
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create webhook request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := w.client.Do(req)
		if err != nil {
			w.logger.Warn("Webhook delivery failed, retrying.", zap.Int("attempt", attempt), zap.Error(err))
			return fmt.Errorf("webhook request failed: %w", err)
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return nil
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			w.logger.Warn("Webhook returned a transient status, retrying.", zap.Int("attempt", attempt), zap.Int("status", resp.StatusCode))
			return fmt.Errorf("webhook returned status %d", resp.StatusCode)
		default:
			return backoff.Permanent(fmt.Errorf("webhook returned status %d", resp.StatusCode))
		}
	}

	if err := backoff.Retry(operation, backoff.WithContext(w.backoff(), ctx)); err != nil {
		return err
	}
	w.logger.Debug("Webhook delivered.", zap.Int("attempts", attempt))
	return nil
}
