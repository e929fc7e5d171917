package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/Ai-Layer-Labs/breadcrumb-core/pkg/middleware"
)

// Handler returns an http.HandlerFunc streaming events for the identity
// bound to the request context. pingInterval sets the heartbeat cadence.
func Handler(hub *Hub, pingInterval time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := middleware.GetIdentity(r.Context())
		if identity == nil {
			http.Error(w, "unauthenticated", http.StatusUnauthorized)
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")

		frames, deregister := hub.Register(identity.Owner, identity.AgentID)
		defer deregister()

		fmt.Fprintf(w, "event: connected\ndata: {\"owner\":%q,\"agent_id\":%q}\n\n", identity.Owner, identity.AgentID)
		flusher.Flush()

		ping := time.NewTicker(pingInterval)
		defer ping.Stop()

		for {
			select {
			case frame, ok := <-frames:
				if !ok {
					return
				}
				data, err := json.Marshal(frame.Event)
				if err != nil {
					continue
				}
				name := frame.EventName
				if name == "" {
					name = string(frame.Event.Type)
				}
				fmt.Fprintf(w, "event: %s\nid: %d\ndata: %s\n\n", name, frame.LastEventID, data)
				flusher.Flush()

			case <-ping.C:
				fmt.Fprint(w, ": ping\n\n")
				flusher.Flush()

			case <-r.Context().Done():
				return
			}
		}
	}
}
