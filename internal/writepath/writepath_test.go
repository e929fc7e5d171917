package writepath

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/Ai-Layer-Labs/breadcrumb-core/internal/store"
	"github.com/Ai-Layer-Labs/breadcrumb-core/pkg/models"
	"github.com/stretchr/testify/require"
)

type recordingFanout struct {
	events []models.EventKind
}

func (f *recordingFanout) Publish(_ context.Context, _ string, _ *models.Breadcrumb, kind models.EventKind, _ []byte) {
	f.events = append(f.events, kind)
}

func newPath(t *testing.T) (*Path, *recordingFanout) {
	t.Helper()
	s := store.NewMemoryStore()
	t.Cleanup(func() { s.Close() })
	fo := &recordingFanout{}
	return &Path{Store: s, Fanout: fo, MaxContextBytes: 1024}, fo
}

func TestCreate_PersistsAndFansOut(t *testing.T) {
	p, fo := newPath(t)
	b, created, err := p.Create(context.Background(), CreateInput{
		Owner:   "owner-1",
		Title:   "incident",
		Context: json.RawMessage(`{"status":"open"}`),
		Actor:   "agent-1",
	})
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, int64(1), b.Version)
	require.NotEmpty(t, b.Checksum)
	require.Equal(t, []models.EventKind{models.EventCreated}, fo.events)
}

func TestCreate_RejectsOversizedContext(t *testing.T) {
	p, _ := newPath(t)
	big := make([]byte, 2048)
	for i := range big {
		big[i] = 'a'
	}
	_, _, err := p.Create(context.Background(), CreateInput{
		Owner: "owner-1", Context: json.RawMessage(big), Actor: "agent-1",
	})
	require.Error(t, err)
	var sizeErr *store.ErrSizeExceeded
	require.ErrorAs(t, err, &sizeErr)
}

func TestCreate_IdempotentReplayReturnsCreatedFalse(t *testing.T) {
	p, fo := newPath(t)
	in := CreateInput{Owner: "owner-1", Context: json.RawMessage(`{"a":1}`), Actor: "agent-1", IdempotencyKey: "req-1"}

	first, created, err := p.Create(context.Background(), in)
	require.NoError(t, err)
	require.True(t, created)

	second, created, err := p.Create(context.Background(), in)
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, first.ID, second.ID)
	require.Equal(t, []models.EventKind{models.EventCreated}, fo.events)
}

func TestCreate_AbsoluteTTLMustBeFuture(t *testing.T) {
	p, _ := newPath(t)
	past := time.Now().Add(-time.Hour)
	_, _, err := p.Create(context.Background(), CreateInput{
		Owner:   "owner-1",
		Context: json.RawMessage(`{}`),
		Actor:   "agent-1",
		TTL:     TTLInput{Source: models.TTLSourceAbsolute, ExpiresAt: &past},
	})
	require.Error(t, err)
}

func TestCreate_DurationTTLComputesExpiresAt(t *testing.T) {
	p, _ := newPath(t)
	b, _, err := p.Create(context.Background(), CreateInput{
		Owner:   "owner-1",
		Context: json.RawMessage(`{}`),
		Actor:   "agent-1",
		TTL:     TTLInput{Source: models.TTLSourceDuration, Duration: time.Hour},
	})
	require.NoError(t, err)
	require.NotNil(t, b.TTL.ExpiresAt)
	require.WithinDuration(t, time.Now().Add(time.Hour), *b.TTL.ExpiresAt, 2*time.Second)
}

func TestUpdate_MergesContextAndBumpsVersion(t *testing.T) {
	p, fo := newPath(t)
	created, _, err := p.Create(context.Background(), CreateInput{
		Owner: "owner-1", Context: json.RawMessage(`{"a":1,"b":2}`), Actor: "agent-1",
	})
	require.NoError(t, err)

	updated, err := p.Update(context.Background(), UpdateInput{
		Owner: "owner-1", ID: created.ID, ExpectedVersion: created.Version,
		Patch: json.RawMessage(`{"b":3,"c":4}`), Actor: "agent-1",
	})
	require.NoError(t, err)
	require.Equal(t, int64(2), updated.Version)

	var merged map[string]any
	require.NoError(t, json.Unmarshal(updated.Context, &merged))
	require.Equal(t, float64(1), merged["a"])
	require.Equal(t, float64(3), merged["b"])
	require.Equal(t, float64(4), merged["c"])
	require.Equal(t, []models.EventKind{models.EventCreated, models.EventUpdated}, fo.events)
}

func TestUpdate_VersionMismatchPropagates(t *testing.T) {
	p, _ := newPath(t)
	created, _, err := p.Create(context.Background(), CreateInput{
		Owner: "owner-1", Context: json.RawMessage(`{}`), Actor: "agent-1",
	})
	require.NoError(t, err)

	_, err = p.Update(context.Background(), UpdateInput{
		Owner: "owner-1", ID: created.ID, ExpectedVersion: 99, Patch: json.RawMessage(`{}`), Actor: "agent-1",
	})
	require.Error(t, err)
	var mismatch *store.ErrVersionMismatch
	require.ErrorAs(t, err, &mismatch)
}

func TestDelete_SoftDeletesAndFansOut(t *testing.T) {
	p, fo := newPath(t)
	created, _, err := p.Create(context.Background(), CreateInput{
		Owner: "owner-1", Context: json.RawMessage(`{}`), Actor: "agent-1",
	})
	require.NoError(t, err)

	err = p.Delete(context.Background(), "owner-1", created.ID, 0)
	require.NoError(t, err)
	require.Equal(t, []models.EventKind{models.EventCreated, models.EventDeleted}, fo.events)
}

func TestChecksum_StableAcrossKeyOrder(t *testing.T) {
	a := checksum([]byte(`{"a":1,"b":2}`))
	b := checksum([]byte(`{"b":2,"a":1}`))
	require.Equal(t, a, b)
}
