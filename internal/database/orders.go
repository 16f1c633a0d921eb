package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/yourusername/storefront-gateway/internal/models"
)

const orderColumns = `id, order_number, customer_name, customer_email, customer_phone, shipping_address, items,
	subtotal, tax, total_amount, status, payment_method, notes, user_id, created_at`

func scanOrder(row rowScanner) (*models.Order, error) {
	var (
		o      models.Order
		items  []byte
		userID uuid.NullUUID
	)

	err := row.Scan(
		&o.ID,
		&o.OrderNumber,
		&o.CustomerName,
		&o.CustomerEmail,
		&o.CustomerPhone,
		&o.ShippingAddress,
		&items,
		&o.Subtotal,
		&o.Tax,
		&o.TotalAmount,
		&o.Status,
		&o.PaymentMethod,
		&o.Notes,
		&userID,
		&o.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(items) > 0 {
		if err := json.Unmarshal(items, &o.Items); err != nil {
			return nil, fmt.Errorf("couldn't decode order items: %w", err)
		}
	}
	if userID.Valid {
		o.UserID = &userID.UUID
	}

	return &o, nil
}

func (db *DB) ListOrders(ctx context.Context, opts ListOptions) ([]models.Order, int, error) {
	var total int
	if err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("couldn't count orders: %w", err)
	}

	query := `SELECT ` + orderColumns + ` FROM orders ORDER BY created_at DESC LIMIT $1 OFFSET $2`
	rows, err := db.conn.QueryContext(ctx, query, opts.Limit, opts.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("couldn't list orders: %w", err)
	}
	defer rows.Close()

	orders := []models.Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan error: %w", err)
		}
		orders = append(orders, *o)
	}

	return orders, total, rows.Err()
}

func (db *DB) CreateOrder(ctx context.Context, order *models.Order) error {
	query := `
		INSERT INTO orders (id, order_number, customer_name, customer_email, customer_phone, shipping_address, items,
			subtotal, tax, total_amount, status, payment_method, notes, user_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`

	items, err := json.Marshal(order.Items)
	if err != nil {
		return fmt.Errorf("couldn't encode order items: %w", err)
	}

	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}

	_, err = db.conn.ExecContext(ctx, query,
		order.ID,
		order.OrderNumber,
		order.CustomerName,
		order.CustomerEmail,
		order.CustomerPhone,
		order.ShippingAddress,
		items,
		order.Subtotal,
		order.Tax,
		order.TotalAmount,
		order.Status,
		order.PaymentMethod,
		order.Notes,
		uuidOrNil(order.UserID),
		order.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("couldn't create order: %w", err)
	}

	return nil
}

// OrderSummary aggregates orders created at or after since. PeriodDays and
// GeneratedAt are left for the caller.
func (db *DB) OrderSummary(ctx context.Context, since time.Time) (*models.AnalyticsSummary, error) {
	query := `
		SELECT
			COUNT(*),
			COALESCE(SUM(total_amount), 0),
			COUNT(*) FILTER (WHERE status = $2)
		FROM orders
		WHERE created_at >= $1
	`

	summary := &models.AnalyticsSummary{}
	err := db.conn.QueryRowContext(ctx, query, since, models.OrderStatusCompleted).Scan(
		&summary.TotalOrders,
		&summary.TotalRevenue,
		&summary.CompletedOrders,
	)
	if err != nil {
		return nil, fmt.Errorf("couldn't summarize orders: %w", err)
	}

	if summary.TotalOrders > 0 {
		summary.AvgOrderValue = summary.TotalRevenue / float64(summary.TotalOrders)
	}

	return summary, nil
}
