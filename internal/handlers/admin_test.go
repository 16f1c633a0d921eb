package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/storefront-gateway/internal/auth"
	"github.com/yourusername/storefront-gateway/internal/database"
	"github.com/yourusername/storefront-gateway/internal/models"
	"github.com/yourusername/storefront-gateway/internal/services"
	"github.com/yourusername/storefront-gateway/internal/webhooks"
)

type fakeKeys struct {
	keys []models.APIKey
}

func (f *fakeKeys) ListAPIKeys(context.Context) ([]models.APIKey, error) {
	return f.keys, nil
}

func (f *fakeKeys) CreateAPIKey(_ context.Context, key *models.APIKey) error {
	f.keys = append(f.keys, *key)
	return nil
}

func (f *fakeKeys) DeactivateAPIKey(_ context.Context, id uuid.UUID) error {
	for i := range f.keys {
		if f.keys[i].ID == id {
			f.keys[i].IsActive = false
			return nil
		}
	}
	return database.ErrNotFound
}

type fakeWebhooks struct {
	hooks      []models.Webhook
	deliveries []models.WebhookDelivery
	lastLimit  int
}

func (f *fakeWebhooks) ListWebhooks(context.Context) ([]models.Webhook, error) {
	return f.hooks, nil
}

func (f *fakeWebhooks) CreateWebhook(_ context.Context, w *models.Webhook) error {
	f.hooks = append(f.hooks, *w)
	return nil
}

func (f *fakeWebhooks) SetWebhookActive(_ context.Context, id uuid.UUID, active bool) error {
	for i := range f.hooks {
		if f.hooks[i].ID == id {
			f.hooks[i].IsActive = active
			return nil
		}
	}
	return database.ErrNotFound
}

func (f *fakeWebhooks) ListDeliveries(_ context.Context, _ uuid.UUID, limit int) ([]models.WebhookDelivery, error) {
	f.lastLimit = limit
	return f.deliveries, nil
}

func newAdminRouter(keys *fakeKeys, hooks *fakeWebhooks, events EventDispatcher) (*APIHandler, *services.KeyHasher) {
	hasher := services.NewKeyHasher("pepper")
	admin := NewAdminHandler(keys, hooks, hasher, events)
	return NewAPIHandler(&fakeCatalog{}, &fakeOrders{}, admin), hasher
}

func send(h http.Handler, method, path string, body any, key *models.APIKey) *httptest.ResponseRecorder {
	b, _ := json.Marshal(body)
	return serve(h, httptest.NewRequest(method, path, bytes.NewReader(b)), key)
}

func TestAdmin_CreateAPIKey(t *testing.T) {
	keys := &fakeKeys{}
	h, hasher := newAdminRouter(keys, &fakeWebhooks{}, nil)

	owner := uuid.New()
	caller := &models.APIKey{ID: uuid.New(), UserID: &owner, Permissions: []string{"admin"}}

	w := send(h, http.MethodPost, "/api/v1/admin/keys", map[string]any{
		"name":        "POS terminal",
		"permissions": []string{"read", "write"},
		"rate_limit":  500,
	}, caller)

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	data := decode(t, w)["data"].(map[string]any)
	plaintext := data["key"].(string)
	assert.True(t, strings.HasPrefix(plaintext, "sk_"))
	assert.Equal(t, plaintext[:12], data["key_prefix"])
	assert.NotContains(t, data, "key_hash")
	assert.EqualValues(t, 500, data["rate_limit"])

	require.Len(t, keys.keys, 1)
	stored := keys.keys[0]
	assert.Equal(t, hasher.Hash(plaintext), stored.KeyHash)
	assert.NotContains(t, stored.KeyHash, plaintext)
	assert.Equal(t, &owner, stored.UserID)
	assert.True(t, stored.IsActive)

	// Listing never shows the plaintext or the hash.
	w = send(h, http.MethodGet, "/api/v1/admin/keys", nil, caller)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), plaintext)
	assert.NotContains(t, w.Body.String(), stored.KeyHash)
}

func TestAdmin_CreateAPIKeyValidation(t *testing.T) {
	h, _ := newAdminRouter(&fakeKeys{}, &fakeWebhooks{}, nil)

	w := send(h, http.MethodPost, "/api/v1/admin/keys", map[string]any{
		"permissions": []string{"superuser"},
		"rate_limit":  -1,
	}, nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Len(t, decode(t, w)["details"], 3)
}

func TestAdmin_DeactivateAPIKey(t *testing.T) {
	id := uuid.New()
	keys := &fakeKeys{keys: []models.APIKey{{ID: id, IsActive: true}}}
	h, _ := newAdminRouter(keys, &fakeWebhooks{}, nil)

	w := send(h, http.MethodDelete, "/api/v1/admin/keys/"+id.String(), nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, keys.keys[0].IsActive)
	assert.Len(t, keys.keys, 1)

	w = send(h, http.MethodDelete, "/api/v1/admin/keys/"+uuid.NewString(), nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, CodeAPIKeyNotFound, decode(t, w)["code"])
}

func TestAdmin_Webhooks(t *testing.T) {
	hooks := &fakeWebhooks{}
	h, _ := newAdminRouter(&fakeKeys{}, hooks, nil)

	w := send(h, http.MethodPost, "/api/v1/admin/webhooks", map[string]any{
		"name":   "ERP sync",
		"url":    "https://erp.example.com/hooks",
		"events": []string{"order.created"},
		"secret": "whsec_123",
	}, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.NotContains(t, w.Body.String(), "whsec_123")
	require.Len(t, hooks.hooks, 1)
	assert.Equal(t, "whsec_123", hooks.hooks[0].Secret)

	id := hooks.hooks[0].ID.String()

	w = send(h, http.MethodPut, "/api/v1/admin/webhooks/"+id, map[string]any{"active": false}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, hooks.hooks[0].IsActive)

	w = send(h, http.MethodPut, "/api/v1/admin/webhooks/"+id, map[string]any{}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = send(h, http.MethodPut, "/api/v1/admin/webhooks/"+uuid.NewString(), map[string]any{"active": true}, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = send(h, http.MethodGet, "/api/v1/admin/webhooks/"+id+"/deliveries?limit=1000", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, maxPageLimit, hooks.lastLimit)

	w = send(h, http.MethodPost, "/api/v1/admin/webhooks", map[string]any{
		"name": "bad", "url": "ftp://example.com", "events": []string{},
	}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Len(t, decode(t, w)["details"], 2)
}

func TestAdmin_Dispatch(t *testing.T) {
	events := newFakeDispatcher()
	events.result = &webhooks.DispatchResult{Delivered: 2, Failed: 1, Total: 3}
	h, _ := newAdminRouter(&fakeKeys{}, &fakeWebhooks{}, events)

	w := send(h, http.MethodPost, "/api/v1/admin/webhooks/dispatch", map[string]any{
		"event":  "inventory.low",
		"data":   map[string]any{"sku": "RING-01"},
		"source": "warehouse",
	}, nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"delivered":2,"failed":1,"total":3}`, w.Body.String())

	call := <-events.calls
	assert.Equal(t, "inventory.low", call.event)
	assert.Equal(t, "warehouse", call.source)
	assert.JSONEq(t, `{"sku":"RING-01"}`, string(call.data.(json.RawMessage)))

	w = send(h, http.MethodPost, "/api/v1/admin/webhooks/dispatch", map[string]any{}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAnalytics_Cached(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	orders := &fakeOrders{summary: models.AnalyticsSummary{TotalOrders: 1}}
	h := NewAPIHandler(&fakeCatalog{}, orders, nil)
	h.SetCache(services.NewCacheService(client, time.Minute))

	first := get(h, "/api/v1/analytics?days=7")
	require.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "MISS", first.Header().Get("X-Cache"))

	second := get(h, "/api/v1/analytics?days=7")
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "HIT", second.Header().Get("X-Cache"))
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, 1, orders.summaryHit)

	get(h, "/api/v1/analytics?days=8")
	assert.Equal(t, 2, orders.summaryHit)
}

type fakeAudit struct {
	entries []models.AuditLog
	err     error
}

func (f *fakeAudit) CreateAuditLog(_ context.Context, entry *models.AuditLog) error {
	if f.err != nil {
		return f.err
	}
	f.entries = append(f.entries, *entry)
	return nil
}

func TestAudit(t *testing.T) {
	store := &fakeAudit{}
	tokens := auth.NewTokenVerifier("jwt-secret")
	h := NewAuditHandler(store, tokens)

	userID := uuid.New()
	token, err := tokens.Issue(userID, time.Hour)
	require.NoError(t, err)

	body := `{"action":"price_override","resource_type":"order","resource_id":"ORD-1","details":{"from":10,"to":8},"severity":"critical"}`
	r := httptest.NewRequest(http.MethodPost, "/audit", strings.NewReader(body))
	r.Header.Set("Authorization", "Bearer "+token)
	r.Header.Set("User-Agent", "back-office")
	r.RemoteAddr = "192.0.2.10:4000"
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode(t, w)
	assert.Equal(t, true, resp["success"])
	require.Len(t, store.entries, 1)
	entry := store.entries[0]
	assert.Equal(t, entry.ID.String(), resp["audit_id"])
	assert.Equal(t, &userID, entry.UserID)
	assert.Equal(t, models.SeverityCritical, entry.Severity)
	assert.Equal(t, "192.0.2.10", entry.IPAddress)
	assert.Equal(t, "back-office", entry.UserAgent)
	assert.JSONEq(t, `{"from":10,"to":8}`, string(entry.Details))
}

func TestAudit_AnonymousAndDefaults(t *testing.T) {
	store := &fakeAudit{}
	h := NewAuditHandler(store, auth.NewTokenVerifier("jwt-secret"))

	r := httptest.NewRequest(http.MethodPost, "/audit", strings.NewReader(`{"action":"login","resource_type":"session"}`))
	r.Header.Set("Authorization", "Bearer forged")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, store.entries, 1)
	assert.Nil(t, store.entries[0].UserID)
	assert.Equal(t, models.SeverityInfo, store.entries[0].Severity)
}

func TestAudit_Failures(t *testing.T) {
	h := NewAuditHandler(&fakeAudit{}, nil)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/audit", strings.NewReader(`{"resource_type":"order"}`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/audit", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)

	h = NewAuditHandler(&fakeAudit{err: errors.New("db down")}, nil)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/audit", strings.NewReader(`{"action":"a","resource_type":"b"}`)))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, CodeInternalError, decode(t, w)["code"])
	assert.NotContains(t, w.Body.String(), "db down")
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

func TestHealthCheck(t *testing.T) {
	mc := services.NewMetricsCollector()

	w := httptest.NewRecorder()
	NewMetricsHandler(mc, fakePinger{}, nil).HealthCheck(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	assert.Equal(t, "healthy", resp["status"])
	assert.Equal(t, "disabled", resp["services"].(map[string]any)["redis"])

	w = httptest.NewRecorder()
	NewMetricsHandler(mc, fakePinger{err: errors.New("dial tcp: password=hunter2")}, nil).
		HealthCheck(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "degraded", decode(t, w)["status"])
	assert.NotContains(t, w.Body.String(), "hunter2")

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	w = httptest.NewRecorder()
	NewMetricsHandler(mc, fakePinger{}, client).HealthCheck(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", decode(t, w)["services"].(map[string]any)["redis"])
}

func TestMetricsSummary(t *testing.T) {
	mc := services.NewMetricsCollector()
	mc.RecordRequest(http.MethodGet, "products", 200, 5*time.Millisecond)

	w := httptest.NewRecorder()
	NewMetricsHandler(mc, fakePinger{}, nil).GetSummary(w, httptest.NewRequest(http.MethodGet, "/metrics/summary", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decode(t, w)["total_requests"])
}
