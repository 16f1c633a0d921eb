package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/yourusername/storefront-gateway/internal/models"
)

func (db *DB) LogRequest(ctx context.Context, log *models.RequestLog) error {
	query := `
		INSERT INTO api_requests (id, api_key_id, endpoint, method, status_code, response_time_ms, ip_address, user_agent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	if log.ID == uuid.Nil {
		log.ID = uuid.New()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}

	_, err := db.conn.ExecContext(ctx, query,
		log.ID,
		uuidOrNil(log.APIKeyID),
		log.Endpoint,
		log.Method,
		log.StatusCode,
		log.ResponseTimeMs,
		nullString(log.IPAddress),
		nullString(log.UserAgent),
		log.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("couldn't log request: %w", err)
	}

	return nil
}

// CountRequestsSince counts logged requests for a key at or after since.
func (db *DB) CountRequestsSince(ctx context.Context, apiKeyID uuid.UUID, since time.Time) (int, error) {
	var count int
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM api_requests WHERE api_key_id = $1 AND created_at >= $2`,
		apiKeyID, since,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("couldn't count requests: %w", err)
	}
	return count, nil
}
