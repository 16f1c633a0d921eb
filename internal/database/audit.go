package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/yourusername/storefront-gateway/internal/models"
)

// CreateAuditLog appends one audit record. Audit rows are never updated.
func (db *DB) CreateAuditLog(ctx context.Context, entry *models.AuditLog) error {
	query := `
		INSERT INTO audit_logs (id, user_id, action, resource_type, resource_id, details, severity, ip_address, user_agent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	var details any
	if len(entry.Details) > 0 {
		details = []byte(entry.Details)
	}

	_, err := db.conn.ExecContext(ctx, query,
		entry.ID,
		uuidOrNil(entry.UserID),
		entry.Action,
		entry.ResourceType,
		nullString(entry.ResourceID),
		details,
		entry.Severity,
		nullString(entry.IPAddress),
		nullString(entry.UserAgent),
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("couldn't create audit log: %w", err)
	}
	return nil
}
