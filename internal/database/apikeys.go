package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/yourusername/storefront-gateway/internal/models"
)

const apiKeyColumns = `id, name, key_hash, key_prefix, permissions, rate_limit, is_active, user_id, last_used_at, expires_at, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAPIKey(row rowScanner) (*models.APIKey, error) {
	var (
		apiKey      models.APIKey
		permissions pq.StringArray
		userID      uuid.NullUUID
		lastUsedAt  sql.NullTime
		expiresAt   sql.NullTime
	)

	err := row.Scan(
		&apiKey.ID,
		&apiKey.Name,
		&apiKey.KeyHash,
		&apiKey.KeyPrefix,
		&permissions,
		&apiKey.RateLimit,
		&apiKey.IsActive,
		&userID,
		&lastUsedAt,
		&expiresAt,
		&apiKey.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	apiKey.Permissions = []string(permissions)
	if userID.Valid {
		apiKey.UserID = &userID.UUID
	}
	if lastUsedAt.Valid {
		apiKey.LastUsedAt = &lastUsedAt.Time
	}
	if expiresAt.Valid {
		apiKey.ExpiresAt = &expiresAt.Time
	}

	return &apiKey, nil
}

// GetActiveAPIKeyByHash returns the active key whose stored hash equals hash.
func (db *DB) GetActiveAPIKeyByHash(ctx context.Context, hash string) (*models.APIKey, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys WHERE key_hash = $1 AND is_active = true`

	apiKey, err := scanAPIKey(db.conn.QueryRowContext(ctx, query, hash))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}

	return apiKey, nil
}

func (db *DB) CreateAPIKey(ctx context.Context, apiKey *models.APIKey) error {
	query := `
		INSERT INTO api_keys (id, name, key_hash, key_prefix, permissions, rate_limit, is_active, user_id, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	if apiKey.ID == uuid.Nil {
		apiKey.ID = uuid.New()
	}
	if apiKey.CreatedAt.IsZero() {
		apiKey.CreatedAt = time.Now().UTC()
	}

	_, err := db.conn.ExecContext(ctx, query,
		apiKey.ID,
		apiKey.Name,
		apiKey.KeyHash,
		apiKey.KeyPrefix,
		pq.Array(apiKey.Permissions),
		apiKey.RateLimit,
		apiKey.IsActive,
		uuidOrNil(apiKey.UserID),
		apiKey.ExpiresAt,
		apiKey.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("couldn't create API key: %w", err)
	}

	return nil
}

func (db *DB) ListAPIKeys(ctx context.Context) ([]models.APIKey, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys ORDER BY created_at DESC`

	rows, err := db.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("couldn't list API keys: %w", err)
	}
	defer rows.Close()

	apiKeys := []models.APIKey{}
	for rows.Next() {
		apiKey, err := scanAPIKey(rows)
		if err != nil {
			return nil, fmt.Errorf("scan error: %w", err)
		}
		apiKeys = append(apiKeys, *apiKey)
	}

	return apiKeys, rows.Err()
}

// DeactivateAPIKey soft-disables a key. Keys are never deleted so that the
// request log keeps pointing at them.
func (db *DB) DeactivateAPIKey(ctx context.Context, id uuid.UUID) error {
	result, err := db.conn.ExecContext(ctx, `UPDATE api_keys SET is_active = false WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("couldn't deactivate API key: %w", err)
	}
	return checkAffected(result)
}

func (db *DB) TouchAPIKey(ctx context.Context, id uuid.UUID, usedAt time.Time) error {
	_, err := db.conn.ExecContext(ctx, `UPDATE api_keys SET last_used_at = $2 WHERE id = $1`, id, usedAt)
	if err != nil {
		return fmt.Errorf("couldn't update last_used_at: %w", err)
	}
	return nil
}

func uuidOrNil(id *uuid.UUID) any {
	if id == nil {
		return nil
	}
	return *id
}
