package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// Logger returns structured request logging middleware. Mounted after
// AuthMiddleware, so owner/agent_id reflect the identity that request
// actually authenticated as, not just its wire-level headers.
func Logger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := newResponseWriter(w)

		next.ServeHTTP(rw, r)

		duration := time.Since(start)

		event := log.Info()
		if rw.statusCode >= 400 {
			event = log.Warn()
		}
		if rw.statusCode >= 500 {
			event = log.Error()
		}

		event.
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rw.statusCode).
			Int("bytes", rw.bytes).
			Dur("duration", duration).
			Str("owner", GetOwner(r.Context())).
			Str("agent_id", GetAgent(r.Context())).
			Str("breadcrumb_id", chi.URLParam(r, "id")).
			Msg("request")
	})
}
