package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/yourusername/storefront-gateway/internal/auth"
	"github.com/yourusername/storefront-gateway/internal/models"
	"github.com/yourusername/storefront-gateway/internal/requestctx"
)

type AuditStore interface {
	CreateAuditLog(ctx context.Context, entry *models.AuditLog) error
}

// AuditHandler appends audit records. The actor is taken from an optional
// bearer token; anonymous records are stored with a null user.
type AuditHandler struct {
	store  AuditStore
	tokens *auth.TokenVerifier
}

func NewAuditHandler(store AuditStore, tokens *auth.TokenVerifier) *AuditHandler {
	return &AuditHandler{store: store, tokens: tokens}
}

type AuditRequest struct {
	Action       string          `json:"action" validate:"required"`
	ResourceType string          `json:"resource_type" validate:"required"`
	ResourceID   string          `json:"resource_id"`
	Details      json.RawMessage `json:"details"`
	Severity     string          `json:"severity" validate:"oneof=info warning critical"`
}

func (h *AuditHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	var req AuditRequest
	if err := decodeJSON(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, CodeBadRequest, "Invalid request body")
		return
	}

	req.Action = strings.TrimSpace(req.Action)
	req.ResourceType = strings.TrimSpace(req.ResourceType)
	if req.Severity == "" {
		req.Severity = models.SeverityInfo
	}
	if problems := validateRequest(&req); len(problems) > 0 {
		ErrorWithExtra(w, http.StatusBadRequest, CodeValidationError, "Invalid audit entry",
			map[string]any{"details": problems})
		return
	}

	entry := &models.AuditLog{
		ID:           uuid.New(),
		UserID:       h.tokens.UserIDFromRequest(r),
		Action:       req.Action,
		ResourceType: req.ResourceType,
		ResourceID:   req.ResourceID,
		Details:      req.Details,
		Severity:     req.Severity,
		IPAddress:    requestctx.ClientIP(r),
		UserAgent:    r.UserAgent(),
	}

	if err := h.store.CreateAuditLog(r.Context(), entry); err != nil {
		log.Error().Err(err).Str("action", req.Action).Msg("Failed to write audit log")
		InternalError(w)
		return
	}

	event := log.Info()
	if entry.Severity == models.SeverityCritical {
		event = log.Warn()
	}
	event.Str("action", entry.Action).Str("resource_type", entry.ResourceType).Msg("Audit event")

	JSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"audit_id": entry.ID,
	})
}
