package services

import (
	"net/http"
	"strings"

	"github.com/yourusername/storefront-gateway/internal/models"
)

const (
	APIPrefix   = "/api/v1"
	AdminPrefix = "/api/v1/admin"
)

type permissionRule struct {
	match func(method, path string) bool
	scope string
}

// permissionRules is evaluated in order; the first match decides the scope.
var permissionRules = []permissionRule{
	{
		match: func(_, path string) bool { return hasPathPrefix(path, AdminPrefix) },
		scope: models.ScopeAdmin,
	},
	{
		match: func(method, path string) bool {
			return method == http.MethodGet && hasPathPrefix(path, APIPrefix)
		},
		scope: models.ScopeRead,
	},
	{
		match: func(method, path string) bool {
			switch method {
			case http.MethodPost, http.MethodPut, http.MethodDelete:
				return hasPathPrefix(path, APIPrefix)
			}
			return false
		},
		scope: models.ScopeWrite,
	},
}

// RequiredScope returns the scope a request needs, or "" when none is needed.
func RequiredScope(method, path string) string {
	for _, rule := range permissionRules {
		if rule.match(method, path) {
			return rule.scope
		}
	}
	return ""
}

// hasPathPrefix matches whole segments, so /api/v10 is not under /api/v1.
func hasPathPrefix(path, prefix string) bool {
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	return len(path) == len(prefix) || path[len(prefix)] == '/'
}
