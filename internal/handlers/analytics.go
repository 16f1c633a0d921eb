package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	defaultAnalyticsDays = 30
	maxAnalyticsDays     = 365
)

func parseDays(r *http.Request) int {
	days := defaultAnalyticsDays
	if v, err := strconv.Atoi(r.URL.Query().Get("days")); err == nil {
		days = v
	}
	return max(1, min(days, maxAnalyticsDays))
}

func (h *APIHandler) getAnalytics(w http.ResponseWriter, r *http.Request) {
	days := parseDays(r)

	var cacheKey string
	if h.cache != nil {
		cacheKey = h.cache.GenerateCacheKey("analytics", strconv.Itoa(days))

		cached, err := h.cache.Get(r.Context(), cacheKey)
		if err != nil {
			// Continue without cache on error
			log.Warn().Err(err).Msg("Cache get error")
		} else if cached != nil {
			w.Header().Set("X-Cache", "HIT")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(cached)
			return
		}
	}

	now := h.clock.Now().UTC()
	summary, err := h.orders.OrderSummary(r.Context(), now.AddDate(0, 0, -days))
	if err != nil {
		log.Error().Err(err).Int("days", days).Msg("Failed to compute analytics")
		InternalError(w)
		return
	}
	summary.PeriodDays = days
	summary.GeneratedAt = now.Format(time.RFC3339)

	body, err := json.Marshal(Envelope{Data: summary})
	if err != nil {
		log.Error().Err(err).Msg("Failed to encode analytics")
		InternalError(w)
		return
	}

	if h.cache != nil {
		w.Header().Set("X-Cache", "MISS")
		if err := h.cache.Set(r.Context(), cacheKey, body, 0); err != nil {
			log.Warn().Err(err).Msg("Failed to cache analytics")
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}
