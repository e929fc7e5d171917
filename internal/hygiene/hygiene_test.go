package hygiene

import (
	"context"
	"testing"
	"time"

	"github.com/Ai-Layer-Labs/breadcrumb-core/internal/store"
	"github.com/Ai-Layer-Labs/breadcrumb-core/pkg/models"
	"github.com/stretchr/testify/require"
)

func newTestLoop(t *testing.T) (*Loop, store.Store) {
	t.Helper()
	s := store.NewMemoryStore()
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.CreateTenant(context.Background(), &models.Tenant{ID: "owner-1"}))
	return NewLoop(s, time.Minute, time.Hour, time.Hour, 1), s
}

func TestSweepExpired_DeletesLapsedBreadcrumbs(t *testing.T) {
	l, s := newTestLoop(t)
	ctx := context.Background()

	past := time.Now().Add(-time.Hour)
	b := &models.Breadcrumb{
		ID: "bc-1", Owner: "owner-1", Context: []byte(`{}`),
		TTL: models.TTLPolicy{Source: models.TTLSourceAbsolute, ExpiresAt: &past},
	}
	_, err := s.CreateBreadcrumb(ctx, b, "agent-1", "")
	require.NoError(t, err)

	count := l.sweepExpired(ctx, "owner-1")
	require.Equal(t, 1, count)

	_, err = s.GetBreadcrumb(ctx, "owner-1", "bc-1", "agent-1")
	require.Error(t, err)
}

func TestSweepIdleSubscriptions_DropsAndCancelsDeliveries(t *testing.T) {
	l, s := newTestLoop(t)
	ctx := context.Background()

	sub := &models.Subscription{
		ID: "sub-1", Owner: "owner-1", AgentID: "agent-1",
		Kind: models.SubscriptionSelector, Selector: &models.Selector{AnyTags: []string{"x"}},
		CreatedAt: time.Now().Add(-2 * time.Hour),
	}
	require.NoError(t, s.CreateSubscription(ctx, sub))
	require.NoError(t, s.CreateDelivery(ctx, &models.Delivery{
		ID: "delivery-1", Owner: "owner-1", SubscriptionID: "sub-1", AgentID: "agent-1",
		Status: models.DeliveryPending, NextAttemptAt: time.Now(),
	}))

	count := l.sweepIdleSubscriptions(ctx, "owner-1")
	require.Equal(t, 1, count)

	subs, err := s.ListSubscriptions(ctx, "owner-1", "agent-1")
	require.NoError(t, err)
	require.Empty(t, subs)

	d, err := s.GetDelivery(ctx, "delivery-1")
	require.NoError(t, err)
	require.Equal(t, models.DeliveryCanceled, d.Status)
}

func TestCompactHistory_PrunesBeyondMaxVersions(t *testing.T) {
	l, s := newTestLoop(t)
	ctx := context.Background()

	b := &models.Breadcrumb{ID: "bc-2", Owner: "owner-1", Context: []byte(`{"n":0}`)}
	_, err := s.CreateBreadcrumb(ctx, b, "agent-1", "")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := s.UpdateBreadcrumb(ctx, "owner-1", "bc-2", b.Version, func(cur *models.Breadcrumb) error {
			cur.Context = []byte(`{"n":1}`)
			return nil
		})
		require.NoError(t, err)
		b.Version++
	}

	pruned := l.compactHistory(ctx, "owner-1")
	require.GreaterOrEqual(t, pruned, 1)
}

func TestResyncWatermark_AdvancesPastUpdatedBreadcrumbs(t *testing.T) {
	l, s := newTestLoop(t)
	ctx := context.Background()

	b := &models.Breadcrumb{ID: "bc-3", Owner: "owner-1", Context: []byte(`{}`)}
	_, err := s.CreateBreadcrumb(ctx, b, "agent-1", "")
	require.NoError(t, err)

	before, err := s.FanoutWatermark(ctx, "owner-1")
	require.NoError(t, err)
	require.True(t, before.IsZero())

	l.resyncWatermark(ctx, "owner-1")

	after, err := s.FanoutWatermark(ctx, "owner-1")
	require.NoError(t, err)
	require.False(t, after.IsZero())
}

func TestRunOnce_SweepsWithoutError(t *testing.T) {
	l, _ := newTestLoop(t)
	require.NotPanics(t, func() { l.RunOnce(context.Background()) })
}
