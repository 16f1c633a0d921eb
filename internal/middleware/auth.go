package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/yourusername/storefront-gateway/internal/database"
	"github.com/yourusername/storefront-gateway/internal/handlers"
	"github.com/yourusername/storefront-gateway/internal/models"
	"github.com/yourusername/storefront-gateway/internal/requestctx"
	"github.com/yourusername/storefront-gateway/internal/services"
)

// APIKeyHeader carries the caller's plaintext key.
const APIKeyHeader = "X-API-Key"

// KeyStore resolves a key hash to an active key.
type KeyStore interface {
	GetActiveAPIKeyByHash(ctx context.Context, hash string) (*models.APIKey, error)
}

type AuthMiddleware struct {
	keys   KeyStore
	hasher *services.KeyHasher
	clock  services.Clock
}

func NewAuthMiddleware(keys KeyStore, hasher *services.KeyHasher, clock services.Clock) *AuthMiddleware {
	if clock == nil {
		clock = services.SystemClock{}
	}
	return &AuthMiddleware{keys: keys, hasher: hasher, clock: clock}
}

func (m *AuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get(APIKeyHeader)
		if raw == "" {
			log.Debug().Str("method", r.Method).Str("path", r.URL.Path).Msg("Request without API key")
			handlers.Error(w, http.StatusUnauthorized, handlers.CodeMissingAPIKey,
				"Missing API key. Please provide the X-API-Key header.")
			return
		}

		key, err := m.keys.GetActiveAPIKeyByHash(r.Context(), m.hasher.Hash(raw))
		if err != nil && !errors.Is(err, database.ErrNotFound) {
			log.Error().Err(err).Msg("Database error validating API key")
			handlers.InternalError(w)
			return
		}

		// Unknown, inactive and expired keys all look the same to the caller.
		if key == nil || !key.IsActive || key.Expired(m.clock.Now()) {
			log.Warn().Str("path", r.URL.Path).Str("ip", requestctx.ClientIP(r)).Msg("Invalid API key attempted")
			handlers.Error(w, http.StatusUnauthorized, handlers.CodeInvalidAPIKey, "Invalid API key")
			return
		}

		requestctx.SetAPIKey(r.Context(), key)

		next.ServeHTTP(w, r)
	})
}
