package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/storefront-gateway/internal/database"
	"github.com/yourusername/storefront-gateway/internal/models"
	"github.com/yourusername/storefront-gateway/internal/requestctx"
	"github.com/yourusername/storefront-gateway/internal/services"
)

// memStore backs keys, request logs and the log-count limiter.
type memStore struct {
	mu      sync.Mutex
	clock   services.Clock
	keys    map[string]*models.APIKey
	logs    []models.RequestLog
	touched []uuid.UUID
	keyErr  error
}

func newMemStore(clock services.Clock) *memStore {
	return &memStore{clock: clock, keys: map[string]*models.APIKey{}}
}

func (s *memStore) GetActiveAPIKeyByHash(_ context.Context, hash string) (*models.APIKey, error) {
	if s.keyErr != nil {
		return nil, s.keyErr
	}
	k, ok := s.keys[hash]
	if !ok || !k.IsActive {
		return nil, database.ErrNotFound
	}
	return k, nil
}

func (s *memStore) LogRequest(_ context.Context, entry *models.RequestLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.clock.Now()
	}
	s.logs = append(s.logs, *entry)
	return nil
}

func (s *memStore) TouchAPIKey(_ context.Context, id uuid.UUID, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touched = append(s.touched, id)
	return nil
}

func (s *memStore) CountRequestsSince(_ context.Context, id uuid.UUID, since time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, l := range s.logs {
		if l.APIKeyID != nil && *l.APIKeyID == id && !l.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

type errLimiter struct{}

func (errLimiter) Allow(context.Context, *models.APIKey) (*services.RateLimitResult, error) {
	return nil, errors.New("redis down")
}

type gateway struct {
	handler http.Handler
	store   *memStore
	hasher  *services.KeyHasher
	clock   *services.FixedClock
}

func newGateway(t *testing.T, final http.Handler, limiter services.RateLimiter) *gateway {
	t.Helper()

	clock := services.NewFixedClock(time.Date(2026, 5, 1, 10, 30, 0, 0, time.UTC))
	store := newMemStore(clock)
	hasher := services.NewKeyHasher("test-pepper")
	if limiter == nil {
		limiter = services.NewLogLimiter(store, clock)
	}

	auth := NewAuthMiddleware(store, hasher, clock)
	rl := NewRateLimitMiddleware(limiter, services.NewMetricsCollector())
	reqLog := NewRequestLogMiddleware(store, services.NewMetricsCollector())

	h := CORS(reqLog.Middleware(auth.Middleware(rl.Middleware(RequirePermission(final)))))
	return &gateway{handler: h, store: store, hasher: hasher, clock: clock}
}

func (g *gateway) addKey(plaintext string, key *models.APIKey) *models.APIKey {
	if key.ID == uuid.Nil {
		key.ID = uuid.New()
	}
	g.store.keys[g.hasher.Hash(plaintext)] = key
	return key
}

func (g *gateway) do(method, path, apiKey string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(method, path, nil)
	if apiKey != "" {
		r.Header.Set(APIKeyHeader, apiKey)
	}
	w := httptest.NewRecorder()
	g.handler.ServeHTTP(w, r)
	return w
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[]}`))
	})
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestGateway_MissingKey(t *testing.T) {
	g := newGateway(t, okHandler(), nil)

	w := g.do(http.MethodGet, "/api/v1/products", "")

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "MISSING_API_KEY", decodeBody(t, w)["code"])
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	require.Len(t, g.store.logs, 1)
	assert.Nil(t, g.store.logs[0].APIKeyID)
	assert.Equal(t, http.StatusUnauthorized, g.store.logs[0].StatusCode)
	assert.Equal(t, "/api/v1/products", g.store.logs[0].Endpoint)
	assert.Empty(t, g.store.touched)
}

func TestGateway_InvalidKeysAreIndistinguishable(t *testing.T) {
	g := newGateway(t, okHandler(), nil)

	past := g.clock.Now().Add(-time.Hour)
	g.addKey("sk_inactive", &models.APIKey{IsActive: false, Permissions: []string{"read"}, RateLimit: 10})
	g.addKey("sk_expired", &models.APIKey{IsActive: true, Permissions: []string{"read"}, RateLimit: 10, ExpiresAt: &past})

	var bodies []string
	for _, key := range []string{"sk_unknown", "sk_inactive", "sk_expired"} {
		w := g.do(http.MethodGet, "/api/v1/products", key)
		assert.Equal(t, http.StatusUnauthorized, w.Code, key)
		assert.Equal(t, "INVALID_API_KEY", decodeBody(t, w)["code"], key)
		bodies = append(bodies, w.Body.String())
	}
	assert.Equal(t, bodies[0], bodies[1])
	assert.Equal(t, bodies[0], bodies[2])

	require.Len(t, g.store.logs, 3)
	for _, l := range g.store.logs {
		assert.Nil(t, l.APIKeyID)
	}
}

func TestGateway_KeyStoreError(t *testing.T) {
	g := newGateway(t, okHandler(), nil)
	g.store.keyErr = errors.New("connection refused")

	w := g.do(http.MethodGet, "/api/v1/products", "sk_any")

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "connection refused")
	assert.Len(t, g.store.logs, 1)
}

func TestGateway_RateLimitExceeded(t *testing.T) {
	g := newGateway(t, okHandler(), nil)
	key := g.addKey("sk_limited", &models.APIKey{IsActive: true, Permissions: []string{"read"}, RateLimit: 3})

	for i := 0; i < 3; i++ {
		w := g.do(http.MethodGet, "/api/v1/products", "sk_limited")
		require.Equal(t, http.StatusOK, w.Code, "request %d", i+1)
		assert.Equal(t, strconv.Itoa(3-i), w.Header().Get("X-RateLimit-Remaining"))
	}

	w := g.do(http.MethodGet, "/api/v1/products", "sk_limited")

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", body["code"])
	assert.EqualValues(t, 0, body["remaining"])
	assert.EqualValues(t, 3, body["limit"])

	reset := time.Date(2026, 5, 1, 11, 0, 0, 0, time.UTC).Unix()
	assert.EqualValues(t, reset, body["reset"])
	assert.Equal(t, "3", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, strconv.FormatInt(reset, 10), w.Header().Get("X-RateLimit-Reset"))
	assert.Empty(t, w.Header().Get("X-Response-Time"))

	// The rejection is logged against the real key.
	require.Len(t, g.store.logs, 4)
	last := g.store.logs[3]
	require.NotNil(t, last.APIKeyID)
	assert.Equal(t, key.ID, *last.APIKeyID)
	assert.Equal(t, http.StatusTooManyRequests, last.StatusCode)

	// A new clock hour resets the window.
	g.clock.Set(time.Date(2026, 5, 1, 11, 0, 0, 0, time.UTC))
	w = g.do(http.MethodGet, "/api/v1/products", "sk_limited")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestGateway_LimiterError(t *testing.T) {
	g := newGateway(t, okHandler(), errLimiter{})
	g.addKey("sk_ok", &models.APIKey{IsActive: true, Permissions: []string{"read"}, RateLimit: 3})

	w := g.do(http.MethodGet, "/api/v1/products", "sk_ok")

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "RATE_LIMIT_ERROR", decodeBody(t, w)["code"])
	assert.Len(t, g.store.logs, 1)
}

func TestGateway_InsufficientPermissions(t *testing.T) {
	g := newGateway(t, okHandler(), nil)
	g.addKey("sk_read", &models.APIKey{IsActive: true, Permissions: []string{"read"}, RateLimit: 100})

	w := g.do(http.MethodPost, "/api/v1/orders", "sk_read")

	assert.Equal(t, http.StatusForbidden, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "INSUFFICIENT_PERMISSIONS", body["code"])
	assert.Equal(t, "write", body["required"])
	assert.Equal(t, []any{"read"}, body["granted"])

	// Headers from the quota check are still present.
	assert.Equal(t, "100", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "100", w.Header().Get("X-RateLimit-Remaining"))
}

func TestGateway_AdminDoesNotImplyRead(t *testing.T) {
	g := newGateway(t, okHandler(), nil)
	g.addKey("sk_admin", &models.APIKey{IsActive: true, Permissions: []string{"admin"}, RateLimit: 100})

	assert.Equal(t, http.StatusOK, g.do(http.MethodGet, "/api/v1/admin/keys", "sk_admin").Code)
	assert.Equal(t, http.StatusForbidden, g.do(http.MethodGet, "/api/v1/products", "sk_admin").Code)
}

func TestGateway_Success(t *testing.T) {
	var seen *models.APIKey
	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = requestctx.APIKey(r.Context())
		okHandler().ServeHTTP(w, r)
	})
	g := newGateway(t, final, nil)
	key := g.addKey("sk_good", &models.APIKey{IsActive: true, Permissions: []string{"read"}, RateLimit: 100})

	r := httptest.NewRequest(http.MethodGet, "/api/v1/products", nil)
	r.Header.Set(APIKeyHeader, "sk_good")
	r.Header.Set("User-Agent", "pos-terminal/2.1")
	r.Header.Set("X-Forwarded-For", "198.51.100.4")
	w := httptest.NewRecorder()
	g.handler.ServeHTTP(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"data":[]}`, w.Body.String())
	assert.NotEmpty(t, w.Header().Get("X-Response-Time"))
	assert.Equal(t, "99", w.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Same(t, key, seen)

	require.Len(t, g.store.logs, 1)
	entry := g.store.logs[0]
	require.NotNil(t, entry.APIKeyID)
	assert.Equal(t, key.ID, *entry.APIKeyID)
	assert.Equal(t, "198.51.100.4", entry.IPAddress)
	assert.Equal(t, "pos-terminal/2.1", entry.UserAgent)
	assert.Equal(t, []uuid.UUID{key.ID}, g.store.touched)
}

func TestGateway_PanicIsRecoveredAndLogged(t *testing.T) {
	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Cache", "MISS")
		w.Header().Set("Allow", "GET")
		_, _ = w.Write([]byte(`{"partial":`))
		panic("boom: postgres://user:secret@db")
	})
	g := newGateway(t, final, nil)
	g.addKey("sk_good", &models.APIKey{IsActive: true, Permissions: []string{"read"}, RateLimit: 100})

	w := g.do(http.MethodGet, "/api/v1/products", "sk_good")

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "INTERNAL_ERROR", body["code"])
	assert.NotContains(t, w.Body.String(), "secret")
	assert.NotContains(t, w.Body.String(), "partial")
	assert.Empty(t, w.Header().Get("X-Cache"))
	assert.Empty(t, w.Header().Get("Allow"))
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Equal(t, "100", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	require.Len(t, g.store.logs, 1)
	assert.Equal(t, http.StatusInternalServerError, g.store.logs[0].StatusCode)
	assert.Empty(t, g.store.touched)
}

func TestGateway_Preflight(t *testing.T) {
	g := newGateway(t, okHandler(), nil)

	w := g.do(http.MethodOptions, "/api/v1/orders", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Body.String())
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "X-API-Key")
	assert.Empty(t, g.store.logs)
}

func TestResourceLabel(t *testing.T) {
	assert.Equal(t, "products", resourceLabel("/api/v1/products/123"))
	assert.Equal(t, "admin", resourceLabel("/api/v1/admin/keys"))
	assert.Equal(t, "unknown", resourceLabel("/api/v1/widgets"))
	assert.Equal(t, "other", resourceLabel("/health"))
}
