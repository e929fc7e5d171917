package fanout

import (
	"context"
	"testing"
	"time"

	"github.com/Ai-Layer-Labs/breadcrumb-core/internal/bus"
	"github.com/Ai-Layer-Labs/breadcrumb-core/internal/selector"
	"github.com/Ai-Layer-Labs/breadcrumb-core/internal/sse"
	"github.com/Ai-Layer-Labs/breadcrumb-core/internal/store"
	"github.com/Ai-Layer-Labs/breadcrumb-core/pkg/models"
	"github.com/stretchr/testify/require"
)

func newEngine(t *testing.T) (*Engine, store.Store) {
	t.Helper()
	s := store.NewMemoryStore()
	t.Cleanup(func() { s.Close() })
	return &Engine{
		Store:         s,
		Bus:           bus.NewMemoryBus(),
		Hub:           sse.NewHub(),
		SelectorIndex: selector.NewIndex(),
	}, s
}

func TestPublish_DeliversToDirectSSESubscription(t *testing.T) {
	eng, s := newEngine(t)
	ctx := context.Background()

	b := &models.Breadcrumb{ID: "bc-1", Owner: "owner-1", Version: 1, UpdatedAt: time.Now()}
	sub := &models.Subscription{
		ID: "sub-1", Owner: "owner-1", AgentID: "agent-1",
		Kind: models.SubscriptionDirect, BreadcrumbID: "bc-1",
		Channels: []models.DeliveryChannel{models.ChannelSSE},
	}
	require.NoError(t, s.CreateSubscription(ctx, sub))

	frames, unregister := eng.Hub.Register("owner-1", "agent-1")
	defer unregister()

	eng.Publish(ctx, "owner-1", b, models.EventCreated, []byte(`{}`))

	select {
	case f := <-frames:
		require.Equal(t, string(models.EventCreated), f.EventName)
	case <-time.After(time.Second):
		t.Fatal("expected an SSE frame to be pushed")
	}
}

func TestPublish_MatchingSelectorEnqueuesWebhookDelivery(t *testing.T) {
	eng, s := newEngine(t)
	ctx := context.Background()

	sub := &models.Subscription{
		ID: "sub-2", Owner: "owner-1", AgentID: "agent-2",
		Kind:     models.SubscriptionSelector,
		Selector: &models.Selector{AnyTags: []string{"urgent"}},
		Channels: []models.DeliveryChannel{models.ChannelWebhook},
	}
	require.NoError(t, s.CreateSubscription(ctx, sub))

	compiled, err := selector.Compile(sub.Selector)
	require.NoError(t, err)
	eng.SelectorIndex.Add(selector.Entry{
		SubscriptionID: sub.ID, OwnerID: sub.Owner, Predicate: compiled, CreatedAt: 1,
	})

	b := &models.Breadcrumb{ID: "bc-2", Owner: "owner-1", Version: 1, Tags: []string{"urgent"}, UpdatedAt: time.Now()}
	eng.Publish(ctx, "owner-1", b, models.EventCreated, []byte(`{}`))

	deliveries, err := s.ListDLQ(ctx, "owner-1", 10)
	require.NoError(t, err)
	require.Empty(t, deliveries) // not dead-lettered, still pending

	claimed, err := s.ClaimDueDeliveries(ctx, 10, time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.Equal(t, sub.ID, claimed[0].SubscriptionID)
}

func TestPublish_NonMatchingSelectorSkipsDelivery(t *testing.T) {
	eng, s := newEngine(t)
	ctx := context.Background()

	sub := &models.Subscription{
		ID: "sub-3", Owner: "owner-1", AgentID: "agent-2",
		Kind:     models.SubscriptionSelector,
		Selector: &models.Selector{AnyTags: []string{"urgent"}},
		Channels: []models.DeliveryChannel{models.ChannelWebhook},
	}
	require.NoError(t, s.CreateSubscription(ctx, sub))
	compiled, err := selector.Compile(sub.Selector)
	require.NoError(t, err)
	eng.SelectorIndex.Add(selector.Entry{
		SubscriptionID: sub.ID, OwnerID: sub.Owner, Predicate: compiled, CreatedAt: 1,
	})

	b := &models.Breadcrumb{ID: "bc-3", Owner: "owner-1", Version: 1, Tags: []string{"calm"}, UpdatedAt: time.Now()}
	eng.Publish(ctx, "owner-1", b, models.EventCreated, []byte(`{}`))

	claimed, err := s.ClaimDueDeliveries(ctx, 10, time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.Empty(t, claimed)
}
