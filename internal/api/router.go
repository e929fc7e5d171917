package api

import (
	"net/http"

	"github.com/Ai-Layer-Labs/breadcrumb-core/internal/api/handlers"
	"github.com/Ai-Layer-Labs/breadcrumb-core/internal/api/middleware"
	"github.com/Ai-Layer-Labs/breadcrumb-core/internal/config"
	"github.com/Ai-Layer-Labs/breadcrumb-core/internal/sse"
	"github.com/Ai-Layer-Labs/breadcrumb-core/pkg/contracts"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter mounts spec §6.1's HTTP surface over h, behind the ambient
// middleware stack: request id, real ip, recovery, compression, CORS,
// the pluggable auth chain, then structured logging and tracing.
func NewRouter(cfg *config.Config, h *handlers.Handlers, hub *sse.Hub, authChain contracts.AuthProviderChain) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Compress(5))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORS.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key", "If-Match", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id", "ETag"},
		AllowCredentials: !isWildcardOrigins(cfg.CORS.AllowedOrigins),
		MaxAge:           300,
	}))

	if authChain != nil {
		authMW := middleware.NewAuthMiddleware(authChain)
		r.Use(authMW.Handler)
	}

	// Mounted after auth so both see the bound owner/agent identity.
	r.Use(middleware.Logger)
	r.Use(middleware.Telemetry)

	r.Get("/health", h.Health)
	r.Get("/metrics", h.Metrics)
	r.Post("/auth/token", h.MintToken)

	r.Route("/breadcrumbs", func(r chi.Router) {
		r.Get("/", h.ListBreadcrumbs)
		r.Post("/", h.CreateBreadcrumb)
		r.Get("/search", h.SearchBreadcrumbs)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.GetBreadcrumbContext)
			r.Patch("/", h.UpdateBreadcrumb)
			r.Delete("/", h.DeleteBreadcrumb)
			r.Get("/full", h.GetBreadcrumbFull)
			r.Get("/history", h.GetBreadcrumbHistory)
		})
	})

	r.Route("/subscriptions", func(r chi.Router) {
		r.Get("/", h.ListSubscriptionsForAgent)
		r.Post("/selectors", h.CreateSelectorSubscription)
		r.Delete("/{id}", h.DeleteSubscription)
	})

	r.Get("/events/stream", sse.Handler(hub, cfg.SSE.PingInterval))

	r.Route("/agents", func(r chi.Router) {
		r.Route("/{id}", func(r chi.Router) {
			r.Post("/", h.UpsertAgent)
			r.Post("/webhooks", h.SetAgentWebhook)
		})
	})

	r.Route("/secrets", func(r chi.Router) {
		r.Get("/", h.ListSecrets)
		r.Post("/", h.CreateSecret)
		r.Route("/{id}", func(r chi.Router) {
			r.Put("/", h.UpdateSecret)
			r.Delete("/", h.DeleteSecret)
			r.Post("/decrypt", h.DecryptSecret)
		})
	})

	r.Route("/acl", func(r chi.Router) {
		r.Post("/grant", h.GrantACL)
		r.Post("/revoke", h.RevokeACL)
	})

	r.Route("/dlq", func(r chi.Router) {
		r.Get("/", h.ListDLQ)
		r.Post("/{id}/retry", h.RetryDLQ)
	})

	r.With(middleware.RequireRole("curator")).Post("/hygiene/run", h.RunHygiene)

	return r
}

func isWildcardOrigins(origins []string) bool {
	return len(origins) == 1 && origins[0] == "*"
}
