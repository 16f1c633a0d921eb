package middleware

import (
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/yourusername/storefront-gateway/internal/handlers"
	"github.com/yourusername/storefront-gateway/internal/requestctx"
	"github.com/yourusername/storefront-gateway/internal/services"
)

// RateLimitMiddleware enforces the hourly quota of the authenticated key.
type RateLimitMiddleware struct {
	limiter          services.RateLimiter
	metricsCollector *services.MetricsCollector
}

func NewRateLimitMiddleware(limiter services.RateLimiter, metricsCollector *services.MetricsCollector) *RateLimitMiddleware {
	return &RateLimitMiddleware{
		limiter:          limiter,
		metricsCollector: metricsCollector,
	}
}

func (m *RateLimitMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		state := requestctx.StateFrom(r.Context())
		if state == nil || state.APIKey == nil {
			// Auth runs first; without a key there is nothing to count.
			next.ServeHTTP(w, r)
			return
		}
		apiKey := state.APIKey

		result, err := m.limiter.Allow(r.Context(), apiKey)
		if err != nil {
			log.Error().Err(err).Str("api_key_id", apiKey.ID.String()).Msg("Rate limiter error")
			handlers.Error(w, http.StatusInternalServerError, handlers.CodeRateLimitError, "Rate limit check failed")
			return
		}

		state.RateLimit = result
		result.SetHeaders(w.Header())

		if !result.Allowed {
			log.Warn().Str("api_key", apiKey.Name).Int("limit", result.Limit).Msg("Rate limit exceeded")
			if m.metricsCollector != nil {
				m.metricsCollector.RecordRateLimitHit()
			}
			handlers.ErrorWithExtra(w, http.StatusTooManyRequests, handlers.CodeRateLimitExceeded,
				"Rate limit exceeded. Try again later.",
				map[string]any{
					"limit":     result.Limit,
					"remaining": result.Remaining,
					"reset":     result.Reset.Unix(),
				})
			return
		}

		next.ServeHTTP(w, r)
	})
}
