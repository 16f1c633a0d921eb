package webhooks

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/yourusername/storefront-gateway/internal/models"
)

// DefaultSource labels events raised by the gateway itself.
const DefaultSource = "api-gateway"

// Event names
const (
	EventOrderCreated = "order.created"
)

// Envelope is the body every subscriber receives for one event.
type Envelope struct {
	Event     string `json:"event"`
	Data      any    `json:"data"`
	Timestamp string `json:"timestamp"`
	Source    string `json:"source"`
}

// DispatchResult summarizes one fan-out.
type DispatchResult struct {
	Delivered int `json:"delivered"`
	Failed    int `json:"failed"`
	Total     int `json:"total"`
}

// SubscriptionStore finds the subscribers for an event.
type SubscriptionStore interface {
	ListActiveWebhooksForEvent(ctx context.Context, event string) ([]models.Webhook, error)
}

type Dispatcher struct {
	store     SubscriptionStore
	deliverer *Deliverer
	now       func() time.Time
}

func NewDispatcher(store SubscriptionStore, deliverer *Deliverer) *Dispatcher {
	return &Dispatcher{
		store:     store,
		deliverer: deliverer,
		now:       time.Now,
	}
}

// Dispatch delivers event to every active subscriber concurrently and waits
// for all attempts to settle. Individual delivery failures only show up in
// the counts.
func (d *Dispatcher) Dispatch(ctx context.Context, event string, data any, source string) (*DispatchResult, error) {
	hooks, err := d.store.ListActiveWebhooksForEvent(ctx, event)
	if err != nil {
		return nil, fmt.Errorf("failed to load webhooks: %w", err)
	}
	if len(hooks) == 0 {
		return &DispatchResult{}, nil
	}

	if source == "" {
		source = DefaultSource
	}
	env := &Envelope{
		Event:     event,
		Data:      data,
		Timestamp: d.now().UTC().Format(time.RFC3339Nano),
		Source:    source,
	}
	body, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}

	var delivered, failed atomic.Int64
	var g errgroup.Group
	for i := range hooks {
		hook := &hooks[i]
		g.Go(func() error {
			if err := d.deliverer.Deliver(ctx, hook, env, body); err != nil {
				failed.Add(1)
				log.Warn().Err(err).Str("event", event).Str("url", hook.URL).Msg("Webhook delivery failed")
				return nil
			}
			delivered.Add(1)
			return nil
		})
	}
	// Goroutines never return an error, so one failure cannot cancel siblings.
	_ = g.Wait()

	result := &DispatchResult{
		Delivered: int(delivered.Load()),
		Failed:    int(failed.Load()),
		Total:     len(hooks),
	}

	log.Info().
		Str("event", event).
		Int("delivered", result.Delivered).
		Int("failed", result.Failed).
		Msg("Webhook dispatch complete")

	return result, nil
}
