package middleware

import (
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/yourusername/storefront-gateway/internal/handlers"
	"github.com/yourusername/storefront-gateway/internal/requestctx"
	"github.com/yourusername/storefront-gateway/internal/services"
)

// RequirePermission rejects keys that lack the scope the route needs.
func RequirePermission(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		scope := services.RequiredScope(r.Method, r.URL.Path)
		if scope == "" {
			next.ServeHTTP(w, r)
			return
		}

		key := requestctx.APIKey(r.Context())
		if key == nil || !key.HasPermission(scope) {
			granted := []string{}
			if key != nil && key.Permissions != nil {
				granted = key.Permissions
			}

			log.Warn().Str("required", scope).Strs("granted", granted).Str("path", r.URL.Path).Msg("Insufficient permissions")
			handlers.ErrorWithExtra(w, http.StatusForbidden, handlers.CodeInsufficientPermissions,
				"Insufficient permissions for this operation",
				map[string]any{
					"required": scope,
					"granted":  granted,
				})
			return
		}

		next.ServeHTTP(w, r)
	})
}
