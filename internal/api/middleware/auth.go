package middleware

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/Ai-Layer-Labs/breadcrumb-core/pkg/contracts"
	pkgmw "github.com/Ai-Layer-Labs/breadcrumb-core/pkg/middleware"
	"github.com/rs/zerolog/log"
)

// AuthMiddleware authenticates every non-public request via the
// pluggable AuthProviderChain (spec §4.10) and binds the resulting
// (owner, agent) onto the request context for downstream handlers and
// the store's row-level-security session variables.
type AuthMiddleware struct {
	chain contracts.AuthProviderChain
}

// NewAuthMiddleware creates the auth middleware around chain.
func NewAuthMiddleware(chain contracts.AuthProviderChain) *AuthMiddleware {
	return &AuthMiddleware{chain: chain}
}

// Handler returns the HTTP middleware that authenticates requests.
func (am *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isAuthPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		identity, err := am.chain.Authenticate(r.Context(), r)
		if err != nil {
			writeAuthError(w, http.StatusUnauthorized, "authentication_failed", err.Error())
			return
		}
		if identity == nil {
			writeAuthError(w, http.StatusUnauthorized, "authentication_required",
				"Set Authorization: Bearer <token>, or ?token= on the SSE endpoint.")
			return
		}

		ctx := pkgmw.SetIdentity(r.Context(), identity)
		ctx = pkgmw.SetOwner(ctx, identity.Owner)
		ctx = pkgmw.SetAgent(ctx, identity.AgentID)

		log.Debug().Str("owner", identity.Owner).Str("agent_id", identity.AgentID).
			Str("path", r.URL.Path).Msg("request authenticated")

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func writeAuthError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="breadcrumb-core"`)
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": code, "message": message})
}

func isAuthPublicPath(path string) bool {
	switch path {
	case "/health", "/metrics", "/auth/token":
		return true
	}
	return strings.HasPrefix(path, "/.well-known/")
}
