package handlers

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/yourusername/storefront-gateway/internal/database"
	"github.com/yourusername/storefront-gateway/internal/models"
	"github.com/yourusername/storefront-gateway/internal/requestctx"
	"github.com/yourusername/storefront-gateway/internal/webhooks"
)

const CodeOrderCreateFailed = "ORDER_CREATE_FAILED"

// CreateOrderRequest is the body of POST /orders. New orders always start
// pending; status changes are not accepted on create.
type CreateOrderRequest struct {
	CustomerName    string             `json:"customer_name" validate:"required"`
	CustomerEmail   string             `json:"customer_email" validate:"required,email"`
	CustomerPhone   string             `json:"customer_phone"`
	ShippingAddress string             `json:"shipping_address"`
	Items           []models.OrderItem `json:"items" validate:"required,min=1,dive"`
	Tax             float64            `json:"tax" validate:"gte=0"`
	PaymentMethod   string             `json:"payment_method"`
	Notes           string             `json:"notes"`
}

// Validate returns every problem with the request, or nil.
func (req *CreateOrderRequest) Validate() []string {
	req.CustomerName = strings.TrimSpace(req.CustomerName)
	req.CustomerEmail = strings.TrimSpace(req.CustomerEmail)
	return validateRequest(req)
}

func (h *APIHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r)

	orders, total, err := h.orders.ListOrders(r.Context(), database.ListOptions{
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to list orders")
		InternalError(w)
		return
	}

	JSON(w, http.StatusOK, Envelope{
		Data: orders,
		Meta: pageMeta(total, limit, offset),
	})
}

func (h *APIHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		ErrorWithExtra(w, http.StatusBadRequest, CodeValidationError, "Invalid request body",
			map[string]any{"details": []string{err.Error()}})
		return
	}

	if problems := req.Validate(); len(problems) > 0 {
		ErrorWithExtra(w, http.StatusBadRequest, CodeValidationError, "Invalid order",
			map[string]any{"details": problems})
		return
	}

	now := h.clock.Now().UTC()
	order := &models.Order{
		ID:              uuid.New(),
		OrderNumber:     newOrderNumber(now),
		CustomerName:    req.CustomerName,
		CustomerEmail:   req.CustomerEmail,
		CustomerPhone:   req.CustomerPhone,
		ShippingAddress: req.ShippingAddress,
		Items:           req.Items,
		Tax:             roundCents(req.Tax),
		Status:          models.OrderStatusPending,
		PaymentMethod:   req.PaymentMethod,
		Notes:           req.Notes,
		CreatedAt:       now,
	}
	for _, item := range req.Items {
		order.Subtotal += item.Price * float64(item.Quantity)
	}
	order.Subtotal = roundCents(order.Subtotal)
	order.TotalAmount = roundCents(order.Subtotal + order.Tax)

	if key := requestctx.APIKey(r.Context()); key != nil {
		order.UserID = key.UserID
	}

	if err := h.orders.CreateOrder(r.Context(), order); err != nil {
		log.Error().Err(err).Msg("Failed to create order")
		ErrorWithExtra(w, http.StatusBadRequest, CodeOrderCreateFailed, "Failed to create order",
			map[string]any{"details": err.Error()})
		return
	}

	log.Info().Str("order_number", order.OrderNumber).Float64("total", order.TotalAmount).Msg("Order created")

	h.publish(r.Context(), webhooks.EventOrderCreated, order)

	JSON(w, http.StatusCreated, Envelope{Data: order})
}

// publish dispatches event in the background. Its outcome never affects the
// response, and it outlives the request.
func (h *APIHandler) publish(ctx context.Context, event string, data any) {
	if h.events == nil {
		return
	}

	ctx = context.WithoutCancel(ctx)
	go func() {
		if _, err := h.events.Dispatch(ctx, event, data, webhooks.DefaultSource); err != nil {
			log.Error().Err(err).Str("event", event).Msg("Failed to dispatch event")
		}
	}()
}

func newOrderNumber(t time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return fmt.Sprintf("ORD-%s-%s", t.Format("20060102"), suffix)
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}
