package webhooks

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/yourusername/storefront-gateway/internal/models"
)

const (
	// DefaultTimeout bounds a single delivery attempt.
	DefaultTimeout = 30 * time.Second

	userAgent = "Storefront-Webhooks/1.0"

	// StatusTimeout is logged when the attempt hit its deadline.
	StatusTimeout = http.StatusRequestTimeout
	// StatusNetworkError is logged when no HTTP response was received.
	StatusNetworkError = 0
)

// DeliveryLogger persists delivery attempts.
type DeliveryLogger interface {
	LogDelivery(ctx context.Context, d *models.WebhookDelivery) error
}

// DeliveryRecorder receives per-attempt metrics.
type DeliveryRecorder interface {
	RecordWebhookDelivery(event string, success bool, duration time.Duration)
}

// Deliverer performs exactly one POST per call. It never retries.
type Deliverer struct {
	client  *http.Client
	store   DeliveryLogger
	metrics DeliveryRecorder
	timeout time.Duration
}

func NewDeliverer(store DeliveryLogger, metrics DeliveryRecorder, timeout time.Duration) *Deliverer {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Deliverer{
		client:  &http.Client{},
		store:   store,
		metrics: metrics,
		timeout: timeout,
	}
}

// Deliver posts body to hook and logs the attempt. The returned error reports
// a failed attempt; it is only returned after the attempt has been logged.
func (d *Deliverer) Deliver(ctx context.Context, hook *models.Webhook, env *Envelope, body []byte) error {
	start := time.Now()
	statusCode, deliverErr := d.post(ctx, hook, env, body)
	elapsed := time.Since(start)

	success := deliverErr == nil
	record := &models.WebhookDelivery{
		WebhookID:      hook.ID,
		EventType:      env.Event,
		StatusCode:     statusCode,
		ResponseTimeMs: int(elapsed.Milliseconds()),
		Success:        success,
		Payload:        body,
	}
	if deliverErr != nil {
		msg := deliverErr.Error()
		record.ErrorMessage = &msg
	}

	// ctx may already be done; the attempt is logged regardless.
	if err := d.store.LogDelivery(context.WithoutCancel(ctx), record); err != nil {
		log.Error().Err(err).
			Str("webhook_id", hook.ID.String()).
			Str("event", env.Event).
			Msg("Failed to log webhook delivery")
	}

	if d.metrics != nil {
		d.metrics.RecordWebhookDelivery(env.Event, success, elapsed)
	}

	if deliverErr != nil {
		return fmt.Errorf("webhook %s: %w", hook.ID, deliverErr)
	}
	return nil
}

func (d *Deliverer) post(ctx context.Context, hook *models.Webhook, env *Envelope, body []byte) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(body))
	if err != nil {
		return StatusNetworkError, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-Webhook-Event", env.Event)
	req.Header.Set("X-Webhook-Timestamp", env.Timestamp)
	req.Header.Set("X-Webhook-Source", env.Source)
	if hook.Secret != "" {
		req.Header.Set("X-Webhook-Signature", Sign(hook.Secret, body))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		if isTimeout(err) {
			return StatusTimeout, fmt.Errorf("request timed out after %s", d.timeout)
		}
		return StatusNetworkError, err
	}
	defer resp.Body.Close()

	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
