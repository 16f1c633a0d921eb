package middleware

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/yourusername/storefront-gateway/internal/handlers"
	"github.com/yourusername/storefront-gateway/internal/models"
	"github.com/yourusername/storefront-gateway/internal/requestctx"
	"github.com/yourusername/storefront-gateway/internal/services"
)

// RequestStore persists request log rows and last-used timestamps.
type RequestStore interface {
	LogRequest(ctx context.Context, entry *models.RequestLog) error
	TouchAPIKey(ctx context.Context, id uuid.UUID, usedAt time.Time) error
}

// RequestLogMiddleware is the outermost gateway stage. It writes exactly one
// request log row for every request that reaches it, including rejections
// and recovered panics, before any byte of the response is sent.
type RequestLogMiddleware struct {
	store            RequestStore
	metricsCollector *services.MetricsCollector
}

func NewRequestLogMiddleware(store RequestStore, metricsCollector *services.MetricsCollector) *RequestLogMiddleware {
	return &RequestLogMiddleware{
		store:            store,
		metricsCollector: metricsCollector,
	}
}

// responseWriter holds headers, status and body until the log row is
// written. Nothing reaches the client before flush.
type responseWriter struct {
	http.ResponseWriter
	header      http.Header
	statusCode  int
	wroteHeader bool
	body        *bytes.Buffer
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{
		ResponseWriter: w,
		header:         http.Header{},
		statusCode:     http.StatusOK,
		body:           &bytes.Buffer{},
	}
}

func (rw *responseWriter) Header() http.Header {
	return rw.header
}

func (rw *responseWriter) WriteHeader(statusCode int) {
	if rw.wroteHeader {
		return
	}
	rw.statusCode = statusCode
	rw.wroteHeader = true
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	return rw.body.Write(b)
}

// reset drops whatever the handler produced so an error can replace it.
// Quota headers survive because the check already happened.
func (rw *responseWriter) reset(state *requestctx.State) {
	clear(rw.header)
	if state != nil && state.RateLimit != nil {
		state.RateLimit.SetHeaders(rw.header)
	}
	rw.statusCode = http.StatusOK
	rw.wroteHeader = false
	rw.body.Reset()
}

func (rw *responseWriter) flush() {
	dst := rw.ResponseWriter.Header()
	for k, v := range rw.header {
		dst[k] = v
	}
	rw.ResponseWriter.WriteHeader(rw.statusCode)
	if rw.body.Len() > 0 {
		if _, err := rw.ResponseWriter.Write(rw.body.Bytes()); err != nil {
			log.Debug().Err(err).Msg("Client went away before response was written")
		}
	}
}

func (m *RequestLogMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ctx, state := requestctx.WithState(r.Context())
		r = r.WithContext(ctx)

		rw := newResponseWriter(w)
		serveRecovering(rw, r, next)

		elapsed := time.Since(start)
		m.record(r, state, rw.statusCode, elapsed)

		if rw.statusCode < http.StatusBadRequest {
			w.Header().Set("X-Response-Time", fmt.Sprintf("%dms", elapsed.Milliseconds()))
		}
		rw.flush()
	})
}

func serveRecovering(rw *responseWriter, r *http.Request, next http.Handler) {
	defer func() {
		if err := recover(); err != nil {
			log.Error().
				Interface("error", err).
				Str("stack", string(debug.Stack())).
				Str("path", r.URL.Path).
				Msg("Panic recovered")

			rw.reset(requestctx.StateFrom(r.Context()))
			handlers.InternalError(rw)
		}
	}()
	next.ServeHTTP(rw, r)
}

func (m *RequestLogMiddleware) record(r *http.Request, state *requestctx.State, status int, elapsed time.Duration) {
	// The client may already be gone; the row is written regardless.
	ctx := context.WithoutCancel(r.Context())

	entry := &models.RequestLog{
		Endpoint:       r.URL.Path,
		Method:         r.Method,
		StatusCode:     status,
		ResponseTimeMs: int(elapsed.Milliseconds()),
		IPAddress:      requestctx.ClientIP(r),
		UserAgent:      r.UserAgent(),
	}
	if state.APIKey != nil {
		id := state.APIKey.ID
		entry.APIKeyID = &id
	}

	if err := m.store.LogRequest(ctx, entry); err != nil {
		log.Error().Err(err).Str("path", r.URL.Path).Msg("Failed to write request log")
	}

	if state.APIKey != nil && status < http.StatusBadRequest {
		if err := m.store.TouchAPIKey(ctx, state.APIKey.ID, time.Now().UTC()); err != nil {
			log.Warn().Err(err).Str("api_key_id", state.APIKey.ID.String()).Msg("Failed to update last_used_at")
		}
	}

	if m.metricsCollector != nil {
		m.metricsCollector.RecordRequest(r.Method, resourceLabel(r.URL.Path), status, elapsed)
	}

	event := log.Info()
	if status >= http.StatusInternalServerError {
		event = log.Error()
	} else if status >= http.StatusBadRequest {
		event = log.Warn()
	}
	if entry.APIKeyID != nil {
		event = event.Str("api_key_id", entry.APIKeyID.String())
	}
	event.
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Int("status", status).
		Dur("duration", elapsed).
		Msg("Request completed")
}

// resourceLabel keeps metric cardinality bounded: ids never become labels.
func resourceLabel(path string) string {
	rest, ok := strings.CutPrefix(path, services.APIPrefix+"/")
	if !ok {
		return "other"
	}
	resource, _, _ := strings.Cut(rest, "/")
	switch resource {
	case "products", "orders", "analytics", "admin":
		return resource
	}
	return "unknown"
}
