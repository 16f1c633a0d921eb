package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/yourusername/storefront-gateway/internal/services"
)

// Pinger is satisfied by the database handle.
type Pinger interface {
	Ping(ctx context.Context) error
}

// MetricsHandler handles the operational endpoints
type MetricsHandler struct {
	metricsCollector *services.MetricsCollector
	db               Pinger
	redis            *redis.Client
}

// NewMetricsHandler creates a new metrics handler. redisClient may be nil when the
// gateway runs without it.
func NewMetricsHandler(metricsCollector *services.MetricsCollector, db Pinger, redisClient *redis.Client) *MetricsHandler {
	return &MetricsHandler{
		metricsCollector: metricsCollector,
		db:               db,
		redis:            redisClient,
	}
}

// Prometheus serves the exposition format.
func (h *MetricsHandler) Prometheus() http.Handler {
	return h.metricsCollector.Handler()
}

// GetSummary returns current counters as JSON
func (h *MetricsHandler) GetSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	JSON(w, http.StatusOK, h.metricsCollector.GetSnapshot())
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Services  map[string]string `json:"services"`
}

// HealthCheck checks the health of the system and its dependencies
func (h *MetricsHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	health := &HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Services:  make(map[string]string),
	}

	// Failure details go to the log only; they can carry connection strings.
	if err := h.db.Ping(ctx); err != nil {
		health.Services["postgresql"] = "unhealthy"
		health.Status = "degraded"
		log.Warn().Err(err).Msg("PostgreSQL health check failed")
	} else {
		health.Services["postgresql"] = "healthy"
	}

	switch {
	case h.redis == nil:
		health.Services["redis"] = "disabled"
	case h.redis.Ping(ctx).Err() != nil:
		health.Services["redis"] = "unhealthy"
		health.Status = "degraded"
		log.Warn().Msg("Redis health check failed")
	default:
		health.Services["redis"] = "healthy"
	}

	statusCode := http.StatusOK
	if health.Status == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}

	JSON(w, statusCode, health)
}
