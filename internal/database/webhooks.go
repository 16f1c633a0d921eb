package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/yourusername/storefront-gateway/internal/models"
)

const webhookColumns = `id, name, url, events, secret, is_active, user_id, created_at`

func scanWebhook(row rowScanner) (*models.Webhook, error) {
	var (
		w      models.Webhook
		events pq.StringArray
		secret sql.NullString
		userID uuid.NullUUID
	)

	if err := row.Scan(&w.ID, &w.Name, &w.URL, &events, &secret, &w.IsActive, &userID, &w.CreatedAt); err != nil {
		return nil, err
	}

	w.Events = []string(events)
	w.Secret = secret.String
	if userID.Valid {
		w.UserID = &userID.UUID
	}
	return &w, nil
}

func (db *DB) queryWebhooks(ctx context.Context, query string, args ...any) ([]models.Webhook, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("couldn't list webhooks: %w", err)
	}
	defer rows.Close()

	webhooks := []models.Webhook{}
	for rows.Next() {
		w, err := scanWebhook(rows)
		if err != nil {
			return nil, fmt.Errorf("scan error: %w", err)
		}
		webhooks = append(webhooks, *w)
	}
	return webhooks, rows.Err()
}

func (db *DB) ListWebhooks(ctx context.Context) ([]models.Webhook, error) {
	return db.queryWebhooks(ctx, `SELECT `+webhookColumns+` FROM webhooks ORDER BY created_at DESC`)
}

// ListActiveWebhooksForEvent returns active subscriptions whose event set
// contains event.
func (db *DB) ListActiveWebhooksForEvent(ctx context.Context, event string) ([]models.Webhook, error) {
	return db.queryWebhooks(ctx,
		`SELECT `+webhookColumns+` FROM webhooks WHERE is_active = true AND events @> $1`,
		pq.Array([]string{event}),
	)
}

func (db *DB) CreateWebhook(ctx context.Context, w *models.Webhook) error {
	query := `
		INSERT INTO webhooks (id, name, url, events, secret, is_active, user_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	if w.CreatedAt.IsZero() {
		w.CreatedAt = time.Now().UTC()
	}

	_, err := db.conn.ExecContext(ctx, query,
		w.ID,
		w.Name,
		w.URL,
		pq.Array(w.Events),
		nullString(w.Secret),
		w.IsActive,
		uuidOrNil(w.UserID),
		w.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("couldn't create webhook: %w", err)
	}
	return nil
}

func (db *DB) SetWebhookActive(ctx context.Context, id uuid.UUID, active bool) error {
	result, err := db.conn.ExecContext(ctx, `UPDATE webhooks SET is_active = $2 WHERE id = $1`, id, active)
	if err != nil {
		return fmt.Errorf("couldn't update webhook: %w", err)
	}
	return checkAffected(result)
}

func (db *DB) LogDelivery(ctx context.Context, d *models.WebhookDelivery) error {
	query := `
		INSERT INTO webhook_deliveries (id, webhook_id, event_type, status_code, response_time_ms, success, error_message, payload, delivered_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	if d.DeliveredAt.IsZero() {
		d.DeliveredAt = time.Now().UTC()
	}

	_, err := db.conn.ExecContext(ctx, query,
		d.ID,
		d.WebhookID,
		d.EventType,
		d.StatusCode,
		d.ResponseTimeMs,
		d.Success,
		d.ErrorMessage,
		[]byte(d.Payload),
		d.DeliveredAt,
	)
	if err != nil {
		return fmt.Errorf("couldn't log webhook delivery: %w", err)
	}
	return nil
}

func (db *DB) ListDeliveries(ctx context.Context, webhookID uuid.UUID, limit int) ([]models.WebhookDelivery, error) {
	query := `
		SELECT id, webhook_id, event_type, status_code, response_time_ms, success, error_message, payload, delivered_at
		FROM webhook_deliveries
		WHERE webhook_id = $1
		ORDER BY delivered_at DESC
		LIMIT $2
	`

	rows, err := db.conn.QueryContext(ctx, query, webhookID, limit)
	if err != nil {
		return nil, fmt.Errorf("couldn't list deliveries: %w", err)
	}
	defer rows.Close()

	deliveries := []models.WebhookDelivery{}
	for rows.Next() {
		var (
			d       models.WebhookDelivery
			errMsg  sql.NullString
			payload []byte
		)
		err := rows.Scan(&d.ID, &d.WebhookID, &d.EventType, &d.StatusCode, &d.ResponseTimeMs, &d.Success, &errMsg, &payload, &d.DeliveredAt)
		if err != nil {
			return nil, fmt.Errorf("scan error: %w", err)
		}
		if errMsg.Valid {
			d.ErrorMessage = &errMsg.String
		}
		d.Payload = payload
		deliveries = append(deliveries, d)
	}
	return deliveries, rows.Err()
}
