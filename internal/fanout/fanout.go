// Package fanout implements spec §4.7: for each committed event, publish
// to the durable bus, match selector subscriptions via the prefilter
// index, push to open SSE connections, and enqueue webhook deliveries.
package fanout

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/Ai-Layer-Labs/breadcrumb-core/internal/bus"
	"github.com/Ai-Layer-Labs/breadcrumb-core/internal/metrics"
	"github.com/Ai-Layer-Labs/breadcrumb-core/internal/selector"
	"github.com/Ai-Layer-Labs/breadcrumb-core/internal/sse"
	"github.com/Ai-Layer-Labs/breadcrumb-core/internal/store"
	"github.com/Ai-Layer-Labs/breadcrumb-core/pkg/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Engine wires the selector index, bus, SSE hub, and delivery queue
// together. One Engine is shared process-wide.
type Engine struct {
	Store         store.Store
	Bus           bus.Bus
	Hub           *sse.Hub
	SelectorIndex *selector.Index

	throttleMu   sync.Mutex
	lastDelivery map[string]time.Time
}

// Publish builds the canonical event payload and drives every fanout
// channel. Errors from individual channels are logged, not returned —
// the write path must never fail because fanout degraded (spec §7).
func (e *Engine) Publish(ctx context.Context, owner string, b *models.Breadcrumb, kind models.EventKind, rawContext []byte) {
	metrics.IncFanoutEvent()
	metrics.ObserveFanoutLag(time.Since(b.UpdatedAt).Milliseconds())

	event := models.Event{
		Type:         kind,
		BreadcrumbID: b.ID,
		Owner:        owner,
		Version:      b.Version,
		Tags:         b.Tags,
		SchemaName:   b.SchemaName,
		UpdatedAt:    b.UpdatedAt,
		Context:      rawContext,
	}

	for _, subject := range bus.Subjects(event) {
		if err := e.Bus.Publish(ctx, subject, event); err != nil {
			log.Warn().Err(err).Str("subject", subject).Msg("fanout: bus publish failed")
		}
	}

	e.matchSelectors(ctx, b, rawContext, event)
	e.matchDirect(ctx, owner, b, event)
}

func (e *Engine) matchSelectors(ctx context.Context, b *models.Breadcrumb, rawContext []byte, event models.Event) {
	candidate := selector.Candidate{Breadcrumb: b, RawContext: rawContext}
	for _, entry := range e.SelectorIndex.Candidates(b) {
		if !entry.Predicate.Matches(candidate) {
			continue
		}
		sub, err := e.Store.GetSubscription(ctx, entry.OwnerID, entry.SubscriptionID)
		if err != nil {
			log.Warn().Err(err).Str("subscription_id", entry.SubscriptionID).Msg("fanout: subscription lookup failed")
			continue
		}
		e.deliver(ctx, sub, event)
		if err := e.Store.TouchSubscription(ctx, sub.Owner, sub.ID, time.Now()); err != nil {
			log.Warn().Err(err).Str("subscription_id", sub.ID).Msg("fanout: touch subscription failed")
		}
	}
}

func (e *Engine) matchDirect(ctx context.Context, owner string, b *models.Breadcrumb, event models.Event) {
	subs, err := e.Store.DirectSubscriptions(ctx, owner, b.ID)
	if err != nil {
		log.Warn().Err(err).Str("breadcrumb_id", b.ID).Msg("fanout: direct subscription lookup failed")
		return
	}
	for _, sub := range subs {
		e.deliver(ctx, &sub, event)
	}
}

// throttled reports whether sub's delivery_throttle_ms coalescing window
// is still open for sub, and records this call as the latest delivery
// when it isn't. A zero throttle leaves every event through.
func (e *Engine) throttled(sub *models.Subscription) bool {
	if sub.DeliveryThrottleMs <= 0 {
		return false
	}
	e.throttleMu.Lock()
	defer e.throttleMu.Unlock()
	if e.lastDelivery == nil {
		e.lastDelivery = make(map[string]time.Time)
	}
	now := time.Now()
	if last, ok := e.lastDelivery[sub.ID]; ok {
		if now.Sub(last) < time.Duration(sub.DeliveryThrottleMs)*time.Millisecond {
			return true
		}
	}
	e.lastDelivery[sub.ID] = now
	return false
}

func (e *Engine) deliver(ctx context.Context, sub *models.Subscription, event models.Event) {
	if e.throttled(sub) {
		log.Debug().Str("subscription_id", sub.ID).Msg("fanout: delivery coalesced within throttle window")
		return
	}
	for _, channel := range sub.Channels {
		switch channel {
		case models.ChannelBus:
			// already published above; per-subscription consumer position
			// is tracked by the bus driver itself.
		case models.ChannelSSE:
			e.Hub.Push(sub.Owner, sub.AgentID, sse.Frame{
				EventName:   string(event.Type),
				LastEventID: event.Version,
				Event:       event,
			})
		case models.ChannelWebhook:
			e.enqueueWebhook(ctx, sub, event)
		}
	}
}

func (e *Engine) enqueueWebhook(ctx context.Context, sub *models.Subscription, event models.Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Msg("fanout: marshal webhook payload failed")
		return
	}
	delivery := &models.Delivery{
		ID:             uuid.New().String(),
		Owner:          sub.Owner,
		SubscriptionID: sub.ID,
		AgentID:        sub.AgentID,
		EventID:        fmt.Sprintf("%s:%d", event.BreadcrumbID, event.Version),
		Payload:        payload,
		Status:         models.DeliveryPending,
		NextAttemptAt:  time.Now(),
	}
	if err := e.Store.CreateDelivery(ctx, delivery); err != nil {
		log.Error().Err(err).Str("subscription_id", sub.ID).Msg("fanout: enqueue webhook delivery failed")
	}
}
