package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/yourusername/storefront-gateway/internal/database"
	"github.com/yourusername/storefront-gateway/internal/models"
	"github.com/yourusername/storefront-gateway/internal/requestctx"
	"github.com/yourusername/storefront-gateway/internal/services"
)

const (
	CodeAPIKeyNotFound  = "API_KEY_NOT_FOUND"
	CodeWebhookNotFound = "WEBHOOK_NOT_FOUND"

	defaultRateLimit = 1000
)

type APIKeyStore interface {
	ListAPIKeys(ctx context.Context) ([]models.APIKey, error)
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	DeactivateAPIKey(ctx context.Context, id uuid.UUID) error
}

type WebhookStore interface {
	ListWebhooks(ctx context.Context) ([]models.Webhook, error)
	CreateWebhook(ctx context.Context, w *models.Webhook) error
	SetWebhookActive(ctx context.Context, id uuid.UUID, active bool) error
	ListDeliveries(ctx context.Context, webhookID uuid.UUID, limit int) ([]models.WebhookDelivery, error)
}

// AdminHandler serves /api/v1/admin: key and webhook management.
type AdminHandler struct {
	keys     APIKeyStore
	webhooks WebhookStore
	hasher   *services.KeyHasher
	events   EventDispatcher
}

func NewAdminHandler(keys APIKeyStore, webhooks WebhookStore, hasher *services.KeyHasher, events EventDispatcher) *AdminHandler {
	return &AdminHandler{
		keys:     keys,
		webhooks: webhooks,
		hasher:   hasher,
		events:   events,
	}
}

func (h *AdminHandler) route(w http.ResponseWriter, r *http.Request, params []string) {
	if len(params) == 0 {
		endpointNotFound(w, r)
		return
	}

	switch params[0] {
	case "keys":
		h.routeKeys(w, r, params[1:])
	case "webhooks":
		h.routeWebhooks(w, r, params[1:])
	default:
		resourceNotFound(w, "admin/"+params[0])
	}
}

func (h *AdminHandler) routeKeys(w http.ResponseWriter, r *http.Request, params []string) {
	switch len(params) {
	case 0:
		switch r.Method {
		case http.MethodGet:
			h.ListAPIKeys(w, r)
		case http.MethodPost:
			h.CreateAPIKey(w, r)
		default:
			methodNotAllowed(w, http.MethodGet, http.MethodPost)
		}
	case 1:
		if r.Method != http.MethodDelete {
			methodNotAllowed(w, http.MethodDelete)
			return
		}
		h.DeactivateAPIKey(w, r, params[0])
	default:
		endpointNotFound(w, r)
	}
}

func (h *AdminHandler) routeWebhooks(w http.ResponseWriter, r *http.Request, params []string) {
	switch {
	case len(params) == 0:
		switch r.Method {
		case http.MethodGet:
			h.ListWebhooks(w, r)
		case http.MethodPost:
			h.CreateWebhook(w, r)
		default:
			methodNotAllowed(w, http.MethodGet, http.MethodPost)
		}
	case len(params) == 1 && params[0] == "dispatch":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, http.MethodPost)
			return
		}
		h.DispatchEvent(w, r)
	case len(params) == 1:
		if r.Method != http.MethodPut {
			methodNotAllowed(w, http.MethodPut)
			return
		}
		h.ToggleWebhook(w, r, params[0])
	case len(params) == 2 && params[1] == "deliveries":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, http.MethodGet)
			return
		}
		h.ListDeliveries(w, r, params[0])
	default:
		endpointNotFound(w, r)
	}
}

type CreateAPIKeyRequest struct {
	Name        string     `json:"name" validate:"required"`
	Permissions []string   `json:"permissions" validate:"dive,oneof=read write admin"`
	RateLimit   int        `json:"rate_limit" validate:"gt=0"`
	ExpiresAt   *time.Time `json:"expires_at" validate:"omitempty,gt"`
}

// CreatedAPIKey is the only response that ever carries the plaintext key.
type CreatedAPIKey struct {
	*models.APIKey
	Key string `json:"key"`
}

func (h *AdminHandler) CreateAPIKey(w http.ResponseWriter, r *http.Request) {
	var req CreateAPIKeyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, CodeBadRequest, "Invalid request body")
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	if len(req.Permissions) == 0 {
		req.Permissions = []string{models.ScopeRead}
	}
	if req.RateLimit == 0 {
		req.RateLimit = defaultRateLimit
	}
	if problems := validateRequest(&req); len(problems) > 0 {
		ErrorWithExtra(w, http.StatusBadRequest, CodeValidationError, "Invalid API key request",
			map[string]any{"details": problems})
		return
	}

	generated, err := h.hasher.Generate()
	if err != nil {
		log.Error().Err(err).Msg("Failed to generate API key")
		InternalError(w)
		return
	}

	apiKey := &models.APIKey{
		ID:          uuid.New(),
		Name:        req.Name,
		KeyHash:     generated.Hash,
		KeyPrefix:   generated.Prefix,
		Permissions: req.Permissions,
		RateLimit:   req.RateLimit,
		IsActive:    true,
		ExpiresAt:   req.ExpiresAt,
		CreatedAt:   time.Now().UTC(),
	}
	if caller := requestctx.APIKey(r.Context()); caller != nil {
		apiKey.UserID = caller.UserID
	}

	if err := h.keys.CreateAPIKey(r.Context(), apiKey); err != nil {
		log.Error().Err(err).Msg("Failed to create API key")
		InternalError(w)
		return
	}

	log.Info().Str("name", apiKey.Name).Str("prefix", apiKey.KeyPrefix).Msg("Created new API key")

	JSON(w, http.StatusCreated, Envelope{Data: CreatedAPIKey{APIKey: apiKey, Key: generated.Plaintext}})
}

func (h *AdminHandler) ListAPIKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := h.keys.ListAPIKeys(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to list API keys")
		InternalError(w)
		return
	}

	JSON(w, http.StatusOK, Envelope{Data: keys})
}

// DeactivateAPIKey soft-disables a key; rows are never deleted so request
// history stays attributable.
func (h *AdminHandler) DeactivateAPIKey(w http.ResponseWriter, r *http.Request, rawID string) {
	id, err := uuid.Parse(rawID)
	if err != nil {
		Error(w, http.StatusNotFound, CodeAPIKeyNotFound, "API key not found")
		return
	}

	err = h.keys.DeactivateAPIKey(r.Context(), id)
	if errors.Is(err, database.ErrNotFound) {
		Error(w, http.StatusNotFound, CodeAPIKeyNotFound, "API key not found")
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("Failed to deactivate API key")
		InternalError(w)
		return
	}

	log.Info().Str("api_key_id", id.String()).Msg("Deactivated API key")

	JSON(w, http.StatusOK, Envelope{Data: map[string]any{"id": id, "is_active": false}})
}

type CreateWebhookRequest struct {
	Name   string   `json:"name" validate:"required"`
	URL    string   `json:"url" validate:"required,http_url"`
	Events []string `json:"events" validate:"required,min=1,dive,required"`
	Secret string   `json:"secret"`
}

func (h *AdminHandler) CreateWebhook(w http.ResponseWriter, r *http.Request) {
	var req CreateWebhookRequest
	if err := decodeJSON(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, CodeBadRequest, "Invalid request body")
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	if problems := validateRequest(&req); len(problems) > 0 {
		ErrorWithExtra(w, http.StatusBadRequest, CodeValidationError, "Invalid webhook request",
			map[string]any{"details": problems})
		return
	}

	hook := &models.Webhook{
		ID:        uuid.New(),
		Name:      req.Name,
		URL:       req.URL,
		Events:    req.Events,
		Secret:    req.Secret,
		IsActive:  true,
		CreatedAt: time.Now().UTC(),
	}
	if caller := requestctx.APIKey(r.Context()); caller != nil {
		hook.UserID = caller.UserID
	}

	if err := h.webhooks.CreateWebhook(r.Context(), hook); err != nil {
		log.Error().Err(err).Msg("Failed to create webhook")
		InternalError(w)
		return
	}

	log.Info().Str("name", hook.Name).Strs("events", hook.Events).Msg("Created webhook")

	JSON(w, http.StatusCreated, Envelope{Data: hook})
}

func (h *AdminHandler) ListWebhooks(w http.ResponseWriter, r *http.Request) {
	hooks, err := h.webhooks.ListWebhooks(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to list webhooks")
		InternalError(w)
		return
	}

	JSON(w, http.StatusOK, Envelope{Data: hooks})
}

type ToggleWebhookRequest struct {
	Active *bool `json:"active" validate:"required"`
}

func (h *AdminHandler) ToggleWebhook(w http.ResponseWriter, r *http.Request, rawID string) {
	id, err := uuid.Parse(rawID)
	if err != nil {
		Error(w, http.StatusNotFound, CodeWebhookNotFound, "Webhook not found")
		return
	}

	var req ToggleWebhookRequest
	if err := decodeJSON(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, CodeBadRequest, "Invalid request body")
		return
	}
	if problems := validateRequest(&req); len(problems) > 0 {
		ErrorWithExtra(w, http.StatusBadRequest, CodeValidationError, "Invalid webhook update",
			map[string]any{"details": problems})
		return
	}

	err = h.webhooks.SetWebhookActive(r.Context(), id, *req.Active)
	if errors.Is(err, database.ErrNotFound) {
		Error(w, http.StatusNotFound, CodeWebhookNotFound, "Webhook not found")
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("Failed to update webhook")
		InternalError(w)
		return
	}

	log.Info().Str("webhook_id", id.String()).Bool("active", *req.Active).Msg("Toggled webhook")

	JSON(w, http.StatusOK, Envelope{Data: map[string]any{"id": id, "is_active": *req.Active}})
}

func (h *AdminHandler) ListDeliveries(w http.ResponseWriter, r *http.Request, rawID string) {
	id, err := uuid.Parse(rawID)
	if err != nil {
		Error(w, http.StatusNotFound, CodeWebhookNotFound, "Webhook not found")
		return
	}

	limit := defaultPageLimit
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil {
		limit = v
	}
	limit = max(1, min(limit, maxPageLimit))

	deliveries, err := h.webhooks.ListDeliveries(r.Context(), id, limit)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list webhook deliveries")
		InternalError(w)
		return
	}

	JSON(w, http.StatusOK, Envelope{Data: deliveries})
}

type DispatchRequest struct {
	Event  string          `json:"event" validate:"required"`
	Data   json.RawMessage `json:"data"`
	Source string          `json:"source"`
}

// DispatchEvent fans an event out synchronously and reports the counts.
func (h *AdminHandler) DispatchEvent(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		Error(w, http.StatusServiceUnavailable, CodeInternalError, "Webhook dispatch is not configured")
		return
	}

	var req DispatchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, CodeBadRequest, "Invalid request body")
		return
	}
	req.Event = strings.TrimSpace(req.Event)
	if problems := validateRequest(&req); len(problems) > 0 {
		ErrorWithExtra(w, http.StatusBadRequest, CodeValidationError, "Invalid dispatch request",
			map[string]any{"details": problems})
		return
	}

	var data any
	if len(req.Data) > 0 {
		data = req.Data
	}

	// Deliveries run to completion even if the caller disconnects.
	result, err := h.events.Dispatch(context.WithoutCancel(r.Context()), req.Event, data, req.Source)
	if err != nil {
		log.Error().Err(err).Str("event", req.Event).Msg("Failed to dispatch event")
		InternalError(w)
		return
	}

	JSON(w, http.StatusOK, result)
}
