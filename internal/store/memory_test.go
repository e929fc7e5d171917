package store_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/Ai-Layer-Labs/breadcrumb-core/internal/store"
	"github.com/Ai-Layer-Labs/breadcrumb-core/pkg/models"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s := store.NewMemoryStore()
	t.Cleanup(func() { s.Close() })
	return s
}

func newBreadcrumb(owner string) *models.Breadcrumb {
	return &models.Breadcrumb{
		ID:          "bc-" + owner,
		Owner:       owner,
		Title:       "test breadcrumb",
		Context:     json.RawMessage(`{"k":"v"}`),
		Tags:        []string{"alpha"},
		Visibility:  models.VisibilityPrivate,
		Sensitivity: models.SensitivityLow,
		CreatedBy:   "agent-1",
		UpdatedBy:   "agent-1",
	}
}

// ─── Breadcrumb CRUD + CAS ───────────────────────────────────

func TestCreateAndGetBreadcrumb(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	b := newBreadcrumb("owner-1")
	created, err := s.CreateBreadcrumb(ctx, b, "agent-1", "")
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, int64(1), b.Version)

	got, err := s.GetBreadcrumb(ctx, "owner-1", b.ID, "agent-1")
	require.NoError(t, err)
	require.Equal(t, "test breadcrumb", got.Title)
}

func TestCreateBreadcrumb_IdempotentReplay(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	b := newBreadcrumb("owner-1")
	created, err := s.CreateBreadcrumb(ctx, b, "agent-1", "req-1")
	require.NoError(t, err)
	require.True(t, created)
	firstID := b.ID

	replay := newBreadcrumb("owner-1")
	replay.ID = "bc-different"
	created, err = s.CreateBreadcrumb(ctx, replay, "agent-1", "req-1")
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, firstID, replay.ID)
}

func TestUpdateBreadcrumb_VersionMismatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	b := newBreadcrumb("owner-1")
	_, err := s.CreateBreadcrumb(ctx, b, "agent-1", "")
	require.NoError(t, err)

	_, err = s.UpdateBreadcrumb(ctx, "owner-1", b.ID, 99, func(cur *models.Breadcrumb) error {
		cur.Title = "should not apply"
		return nil
	})
	require.Error(t, err)
	var mismatch *store.ErrVersionMismatch
	require.ErrorAs(t, err, &mismatch)
}

func TestUpdateBreadcrumb_AppendsHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	b := newBreadcrumb("owner-1")
	_, err := s.CreateBreadcrumb(ctx, b, "agent-1", "")
	require.NoError(t, err)

	updated, err := s.UpdateBreadcrumb(ctx, "owner-1", b.ID, b.Version, func(cur *models.Breadcrumb) error {
		cur.Title = "updated title"
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, int64(2), updated.Version)
	require.Equal(t, "updated title", updated.Title)

	history, err := s.ListHistory(ctx, "owner-1", b.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, int64(1), history[0].Version)
}

func TestDeleteBreadcrumb(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	b := newBreadcrumb("owner-1")
	_, err := s.CreateBreadcrumb(ctx, b, "agent-1", "")
	require.NoError(t, err)

	_, err = s.DeleteBreadcrumb(ctx, "owner-1", b.ID, 0)
	require.NoError(t, err)

	_, err = s.GetBreadcrumb(ctx, "owner-1", b.ID, "agent-1")
	require.Error(t, err)
}

func TestListBreadcrumbs_ScopedToOwner(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, owner := range []string{"owner-1", "owner-1", "owner-2"} {
		b := newBreadcrumb(owner)
		b.ID = owner + "-" + time.Now().Format("150405.000000000")
		_, err := s.CreateBreadcrumb(ctx, b, "agent-1", "")
		require.NoError(t, err)
	}

	page, err := s.ListBreadcrumbs(ctx, "owner-1", store.BreadcrumbFilter{Limit: 10})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
}

func TestExpiredBreadcrumbs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	past := time.Now().Add(-time.Hour)
	b := newBreadcrumb("owner-1")
	b.TTL = models.TTLPolicy{Source: models.TTLSourceAbsolute, ExpiresAt: &past}
	_, err := s.CreateBreadcrumb(ctx, b, "agent-1", "")
	require.NoError(t, err)

	ids, err := s.ExpiredBreadcrumbs(ctx, "owner-1", time.Now(), 10)
	require.NoError(t, err)
	require.Contains(t, ids, b.ID)
}

// ─── ACL ──────────────────────────────────────────────────────

func TestACLGrantAllowsCrossTenantRead(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	b := newBreadcrumb("owner-1")
	_, err := s.CreateBreadcrumb(ctx, b, "agent-1", "")
	require.NoError(t, err)

	err = s.CreateACLGrant(ctx, &models.ACLGrant{
		ID:             "grant-1",
		BreadcrumbID:   b.ID,
		GranteeAgentID: "agent-2",
		Actions:        []models.ACLAction{models.ActionReadContext},
	})
	require.NoError(t, err)

	got, err := s.GetBreadcrumb(ctx, "owner-1", b.ID, "agent-2")
	require.NoError(t, err)
	require.Equal(t, b.ID, got.ID)

	require.NoError(t, s.RevokeACLGrant(ctx, "grant-1"))
	_, err = s.GetBreadcrumb(ctx, "owner-1", b.ID, "agent-2")
	require.Error(t, err)
}

// ─── Subscriptions ──────────────────────────────────────────

func TestSubscriptionCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sub := &models.Subscription{
		ID:      "sub-1",
		Owner:   "owner-1",
		AgentID: "agent-1",
		Kind:    models.SubscriptionSelector,
		Selector: &models.Selector{
			AnyTags: []string{"alpha"},
		},
		Channels:  []models.DeliveryChannel{models.ChannelSSE},
		CreatedAt: time.Now(),
	}
	require.NoError(t, s.CreateSubscription(ctx, sub))

	subs, err := s.ListSubscriptions(ctx, "owner-1", "agent-1")
	require.NoError(t, err)
	require.Len(t, subs, 1)

	require.NoError(t, s.DeleteSubscription(ctx, "owner-1", "sub-1"))
	subs, _ = s.ListSubscriptions(ctx, "owner-1", "agent-1")
	require.Len(t, subs, 0)
}

// ─── Deliveries ──────────────────────────────────────────────

func TestClaimDueDeliveries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	d := &models.Delivery{
		ID:             "delivery-1",
		Owner:          "owner-1",
		SubscriptionID: "sub-1",
		AgentID:        "agent-1",
		EventID:        "bc-1:1",
		Payload:        []byte(`{}`),
		Status:         models.DeliveryPending,
		NextAttemptAt:  time.Now().Add(-time.Second),
	}
	require.NoError(t, s.CreateDelivery(ctx, d))

	claimed, err := s.ClaimDueDeliveries(ctx, 10, time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.Equal(t, "owner-1", claimed[0].Owner)
	require.Equal(t, models.DeliverySending, claimed[0].Status)

	// Claimed again before lease expires should not be redelivered.
	claimed2, err := s.ClaimDueDeliveries(ctx, 10, time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, claimed2, 0)
}

func TestDeadLetterAndDLQList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	d := &models.Delivery{
		ID:             "delivery-2",
		Owner:          "owner-1",
		SubscriptionID: "sub-1",
		AgentID:        "agent-1",
		EventID:        "bc-1:1",
		Payload:        []byte(`{}`),
		Status:         models.DeliveryDeadLettered,
		NextAttemptAt:  time.Now(),
	}
	require.NoError(t, s.CreateDelivery(ctx, d))

	dlq, err := s.ListDLQ(ctx, "owner-1", 10)
	require.NoError(t, err)
	require.Len(t, dlq, 1)
	require.Equal(t, "delivery-2", dlq[0].ID)
}

// ─── Idempotency ────────────────────────────────────────────

func TestIdempotencyPutGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutIdempotent(ctx, "owner-1", "agent-1", "key-1", "bc-1", time.Hour))

	id, ok, err := s.GetIdempotent(ctx, "owner-1", "agent-1", "key-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "bc-1", id)

	_, ok, err = s.GetIdempotent(ctx, "owner-1", "agent-1", "missing")
	require.NoError(t, err)
	require.False(t, ok)
}

// ─── Fanout watermark ───────────────────────────────────────

func TestFanoutWatermarkAdvance(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mark, err := s.FanoutWatermark(ctx, "owner-1")
	require.NoError(t, err)
	require.True(t, mark.IsZero())

	now := time.Now()
	require.NoError(t, s.AdvanceFanoutWatermark(ctx, "owner-1", now))

	mark, err = s.FanoutWatermark(ctx, "owner-1")
	require.NoError(t, err)
	require.WithinDuration(t, now, mark, time.Millisecond)
}
