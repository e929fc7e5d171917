package webhook

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Ai-Layer-Labs/breadcrumb-core/internal/store"
	"github.com/Ai-Layer-Labs/breadcrumb-core/pkg/models"
	"github.com/stretchr/testify/require"
)

type staticLookup struct {
	url, secret string
	err         error
}

func (l *staticLookup) WebhookEndpoint(_ context.Context, _, _ string) (string, string, error) {
	return l.url, l.secret, l.err
}

func newDelivery(id string) *models.Delivery {
	return &models.Delivery{
		ID: id, Owner: "owner-1", SubscriptionID: "sub-1", AgentID: "agent-1",
		EventID: "bc-1:1", Payload: []byte(`{"type":"breadcrumb.created"}`),
		Status: models.DeliveryPending, NextAttemptAt: time.Now(),
	}
}

func TestAttempt_SuccessMarksDelivered(t *testing.T) {
	var receivedSig string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedSig = r.Header.Get("X-RCRT-Signature")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := store.NewMemoryStore()
	defer s.Close()
	d := newDelivery("d-1")
	require.NoError(t, s.CreateDelivery(context.Background(), d))

	dispatcher := NewDispatcher(s, &staticLookup{url: srv.URL, secret: "whsec"}, 1, 5)
	dispatcher.attempt(context.Background(), d)

	require.Equal(t, models.DeliveryDelivered, d.Status)
	require.NotEmpty(t, receivedSig)

	stored, err := s.GetDelivery(context.Background(), "d-1")
	require.NoError(t, err)
	require.Equal(t, models.DeliveryDelivered, stored.Status)
}

func TestAttempt_NonSuccessStatusSchedulesRetry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := store.NewMemoryStore()
	defer s.Close()
	d := newDelivery("d-2")
	require.NoError(t, s.CreateDelivery(context.Background(), d))

	dispatcher := NewDispatcher(s, &staticLookup{url: srv.URL, secret: "whsec"}, 1, 5)
	dispatcher.attempt(context.Background(), d)

	require.Equal(t, models.DeliveryPending, d.Status)
	require.Equal(t, 1, d.AttemptCount)
	require.True(t, d.NextAttemptAt.After(time.Now()))
}

func TestAttempt_ExhaustedRetriesDeadLetters(t *testing.T) {
	s := store.NewMemoryStore()
	defer s.Close()
	d := newDelivery("d-3")
	d.AttemptCount = 4
	require.NoError(t, s.CreateDelivery(context.Background(), d))

	dispatcher := NewDispatcher(s, &staticLookup{err: nil, url: ""}, 1, 5)
	dispatcher.attempt(context.Background(), d)

	require.Equal(t, models.DeliveryDeadLettered, d.Status)

	dlq, err := s.ListDLQ(context.Background(), "owner-1", 10)
	require.NoError(t, err)
	require.Len(t, dlq, 1)
}

func TestNextBackoff_GrowsAndCaps(t *testing.T) {
	first := nextBackoff(1)
	require.True(t, first > 0)

	capped := nextBackoff(100)
	require.LessOrEqual(t, capped, 6*time.Minute) // 5 min cap + jitter headroom
}

func TestRetry_RequiresDeadLetteredStatus(t *testing.T) {
	s := store.NewMemoryStore()
	defer s.Close()
	d := newDelivery("d-4")
	d.Status = models.DeliveryPending
	require.NoError(t, s.CreateDelivery(context.Background(), d))

	err := Retry(context.Background(), s, "d-4")
	require.Error(t, err)
}

func TestRetry_RequeuesDeadLetteredDelivery(t *testing.T) {
	s := store.NewMemoryStore()
	defer s.Close()
	d := newDelivery("d-5")
	d.Status = models.DeliveryDeadLettered
	d.AttemptCount = 12
	require.NoError(t, s.CreateDelivery(context.Background(), d))

	require.NoError(t, Retry(context.Background(), s, "d-5"))

	got, err := s.GetDelivery(context.Background(), "d-5")
	require.NoError(t, err)
	require.Equal(t, models.DeliveryPending, got.Status)
	require.Equal(t, 0, got.AttemptCount)
}
