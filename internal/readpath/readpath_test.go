package readpath

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/Ai-Layer-Labs/breadcrumb-core/internal/store"
	"github.com/Ai-Layer-Labs/breadcrumb-core/pkg/models"
	"github.com/stretchr/testify/require"
)

type stubEmbedder struct {
	vec []float32
	err error
}

func (s *stubEmbedder) Kind() string { return "stub" }
func (s *stubEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = s.vec
	}
	return out, nil
}

func newReadPathFixture(t *testing.T) (*Path, string) {
	t.Helper()
	s := store.NewMemoryStore()
	t.Cleanup(func() { s.Close() })

	b := &models.Breadcrumb{
		ID: "bc-1", Owner: "owner-1", Title: "incident",
		Context:  json.RawMessage(`{"status":"open"}`),
		LLMHints: json.RawMessage(`{"transform":{"summary":{"template":"status={{status}}"}}}`),
	}
	_, err := s.CreateBreadcrumb(context.Background(), b, "agent-1", "")
	require.NoError(t, err)

	return &Path{Store: s}, b.ID
}

func TestGetContextView_AppliesTransform(t *testing.T) {
	p, id := newReadPathFixture(t)
	view, err := p.GetContextView(context.Background(), "owner-1", id, "agent-1")
	require.NoError(t, err)
	require.Equal(t, "status=open", view.Context["summary"])
}

func TestGetFull_ReturnsRawBreadcrumb(t *testing.T) {
	p, id := newReadPathFixture(t)
	full, err := p.GetFull(context.Background(), "owner-1", id, "agent-1")
	require.NoError(t, err)
	require.Equal(t, id, full.ID)
}

func TestList_ReturnsPage(t *testing.T) {
	p, _ := newReadPathFixture(t)
	page, err := p.List(context.Background(), "owner-1", store.BreadcrumbFilter{Limit: 10})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
}

func TestHistory_EmptyForFreshBreadcrumb(t *testing.T) {
	p, id := newReadPathFixture(t)
	entries, err := p.History(context.Background(), "owner-1", id)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestSearch_RequiresQueryTextOrVec(t *testing.T) {
	p, _ := newReadPathFixture(t)
	_, err := p.Search(context.Background(), "owner-1", SearchInput{})
	require.Error(t, err)
}

func TestSearch_NoEmbedderConfiguredErrorsOnTextQuery(t *testing.T) {
	p, _ := newReadPathFixture(t)
	_, err := p.Search(context.Background(), "owner-1", SearchInput{QueryText: "open incidents"})
	require.Error(t, err)
}

func TestSearch_EmbedsTextQueryThenSearches(t *testing.T) {
	p, _ := newReadPathFixture(t)
	p.Embedder = &stubEmbedder{vec: []float32{0.1, 0.2, 0.3}}

	results, err := p.Search(context.Background(), "owner-1", SearchInput{QueryText: "open incidents"})
	require.NoError(t, err)
	require.NotNil(t, results)
}

func TestSearch_UsesProvidedVecWithoutEmbedding(t *testing.T) {
	p, _ := newReadPathFixture(t)
	results, err := p.Search(context.Background(), "owner-1", SearchInput{QueryVec: []float32{0.1, 0.2}})
	require.NoError(t, err)
	require.NotNil(t, results)
}
