package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yourusername/storefront-gateway/internal/database"
	"github.com/yourusername/storefront-gateway/internal/models"
	"github.com/yourusername/storefront-gateway/internal/services"
	"github.com/yourusername/storefront-gateway/internal/webhooks"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 100
)

type CatalogStore interface {
	ListProducts(ctx context.Context, opts database.ListOptions) ([]models.Product, int, error)
	GetActiveProduct(ctx context.Context, id uuid.UUID) (*models.Product, error)
}

type OrderStore interface {
	ListOrders(ctx context.Context, opts database.ListOptions) ([]models.Order, int, error)
	CreateOrder(ctx context.Context, order *models.Order) error
	OrderSummary(ctx context.Context, since time.Time) (*models.AnalyticsSummary, error)
}

// EventDispatcher fans an internal event out to webhook subscribers.
type EventDispatcher interface {
	Dispatch(ctx context.Context, event string, data any, source string) (*webhooks.DispatchResult, error)
}

// APIHandler routes /api/v1/{resource}/... to the resource handlers. It runs
// behind the gateway middleware, so the caller is already authenticated,
// within quota and permitted.
type APIHandler struct {
	catalog CatalogStore
	orders  OrderStore
	admin   *AdminHandler
	cache   *services.CacheService
	events  EventDispatcher
	clock   services.Clock
}

func NewAPIHandler(catalog CatalogStore, orders OrderStore, admin *AdminHandler) *APIHandler {
	return &APIHandler{
		catalog: catalog,
		orders:  orders,
		admin:   admin,
		clock:   services.SystemClock{},
	}
}

// SetCache enables caching of analytics responses.
func (h *APIHandler) SetCache(cache *services.CacheService) {
	h.cache = cache
}

// SetEvents enables webhook events for resource changes.
func (h *APIHandler) SetEvents(events EventDispatcher) {
	h.events = events
}

func (h *APIHandler) SetClock(clock services.Clock) {
	h.clock = clock
}

func (h *APIHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rest, ok := strings.CutPrefix(r.URL.Path, services.APIPrefix)
	if !ok || (rest != "" && rest[0] != '/') {
		endpointNotFound(w, r)
		return
	}

	segments := splitPath(rest)
	if len(segments) == 0 {
		endpointNotFound(w, r)
		return
	}

	resource, params := segments[0], segments[1:]
	switch resource {
	case "products":
		h.routeProducts(w, r, params)
	case "orders":
		h.routeOrders(w, r, params)
	case "analytics":
		h.routeAnalytics(w, r, params)
	case "admin":
		if h.admin == nil {
			resourceNotFound(w, resource)
			return
		}
		h.admin.route(w, r, params)
	default:
		resourceNotFound(w, resource)
	}
}

func (h *APIHandler) routeProducts(w http.ResponseWriter, r *http.Request, params []string) {
	switch len(params) {
	case 0:
		if r.Method != http.MethodGet {
			methodNotAllowed(w, http.MethodGet)
			return
		}
		h.listProducts(w, r)
	case 1:
		if r.Method != http.MethodGet {
			methodNotAllowed(w, http.MethodGet)
			return
		}
		h.getProduct(w, r, params[0])
	default:
		endpointNotFound(w, r)
	}
}

func (h *APIHandler) routeOrders(w http.ResponseWriter, r *http.Request, params []string) {
	if len(params) != 0 {
		endpointNotFound(w, r)
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.listOrders(w, r)
	case http.MethodPost:
		h.createOrder(w, r)
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPost)
	}
}

func (h *APIHandler) routeAnalytics(w http.ResponseWriter, r *http.Request, params []string) {
	if len(params) != 0 {
		endpointNotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	h.getAnalytics(w, r)
}

func splitPath(p string) []string {
	var segments []string
	for _, s := range strings.Split(p, "/") {
		if s != "" {
			segments = append(segments, s)
		}
	}
	return segments
}

func endpointNotFound(w http.ResponseWriter, r *http.Request) {
	Error(w, http.StatusNotFound, CodeEndpointNotFound, fmt.Sprintf("Endpoint %s %s not found", r.Method, r.URL.Path))
}

func resourceNotFound(w http.ResponseWriter, resource string) {
	Error(w, http.StatusNotFound, CodeResourceNotFound, fmt.Sprintf("Resource '%s' not found", resource))
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	Error(w, http.StatusMethodNotAllowed, CodeMethodNotAllowed, "Method not allowed")
}

// parsePagination reads limit and offset. Bad values fall back to defaults
// rather than failing the request.
func parsePagination(r *http.Request) (limit, offset int) {
	q := r.URL.Query()

	limit = defaultPageLimit
	if v, err := strconv.Atoi(q.Get("limit")); err == nil {
		limit = v
	}
	limit = max(1, min(limit, maxPageLimit))

	if v, err := strconv.Atoi(q.Get("offset")); err == nil && v > 0 {
		offset = v
	}
	return limit, offset
}

func pageMeta(total, limit, offset int) *PageMeta {
	return &PageMeta{
		Total:   total,
		Limit:   limit,
		Offset:  offset,
		HasMore: offset+limit < total,
	}
}
