package middleware

import (
	"context"
	"encoding/json"
	"net/http"

	pkgmw "github.com/Ai-Layer-Labs/breadcrumb-core/pkg/middleware"
)

// GetOwner retrieves the tenant id bound by AuthMiddleware.
// Delegates to pkg/middleware for cross-package compatibility.
func GetOwner(ctx context.Context) string {
	return pkgmw.GetOwner(ctx)
}

// GetAgent retrieves the acting agent id bound by AuthMiddleware.
func GetAgent(ctx context.Context) string {
	return pkgmw.GetAgent(ctx)
}

// RequireRole rejects requests whose bound identity lacks role. Mount
// after AuthMiddleware, since it reads the identity AuthMiddleware set.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := pkgmw.GetIdentity(r.Context())
			if identity == nil || !identity.HasRole(role) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)
				json.NewEncoder(w).Encode(map[string]string{
					"error":   "permission_denied",
					"message": "requires role: " + role,
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
