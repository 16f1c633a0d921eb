package requestctx

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/yourusername/storefront-gateway/internal/models"
	"github.com/yourusername/storefront-gateway/internal/services"
)

type contextKey string

const stateKey contextKey = "gateway_state"

// State collects what the gateway learns about a request as it moves through
// the middleware chain. The request logger owns it and reads it back after
// the chain returns, so inner stages write to it instead of deriving new
// contexts.
type State struct {
	APIKey    *models.APIKey
	RateLimit *services.RateLimitResult
}

// WithState attaches a fresh State to ctx.
func WithState(ctx context.Context) (context.Context, *State) {
	s := &State{}
	return context.WithValue(ctx, stateKey, s), s
}

// StateFrom returns the request's State, or nil outside the gateway chain.
func StateFrom(ctx context.Context) *State {
	if s, ok := ctx.Value(stateKey).(*State); ok {
		return s
	}
	return nil
}

// SetAPIKey records the authenticated key. It is a no-op outside the chain.
func SetAPIKey(ctx context.Context, key *models.APIKey) {
	if s := StateFrom(ctx); s != nil {
		s.APIKey = key
	}
}

func APIKey(ctx context.Context) *models.APIKey {
	if s := StateFrom(ctx); s != nil {
		return s.APIKey
	}
	return nil
}

// ClientIP prefers proxy headers over the socket address.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
