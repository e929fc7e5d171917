package selector

import (
	"testing"

	"github.com/Ai-Layer-Labs/breadcrumb-core/pkg/models"
	"github.com/stretchr/testify/require"
)

func mustCompile(t *testing.T, sel *models.Selector) *Compiled {
	t.Helper()
	p, err := Compile(sel)
	require.NoError(t, err)
	return p
}

func TestIndex_CandidatesBySchemaAndTag(t *testing.T) {
	idx := NewIndex()

	bySchema := mustCompile(t, &models.Selector{SchemaName: "incident.v1"})
	byTag := mustCompile(t, &models.Selector{AnyTags: []string{"urgent"}})
	unconstrained := mustCompile(t, &models.Selector{OwnerID: "owner-1"})

	idx.Add(Entry{SubscriptionID: "sub-schema", Predicate: bySchema, CreatedAt: 1})
	idx.Add(Entry{SubscriptionID: "sub-tag", Predicate: byTag, CreatedAt: 2})
	idx.Add(Entry{SubscriptionID: "sub-untagged", Predicate: unconstrained, CreatedAt: 3})

	b := &models.Breadcrumb{SchemaName: "incident.v1", Tags: []string{"calm"}}
	candidates := idx.Candidates(b)

	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.SubscriptionID
	}
	require.ElementsMatch(t, []string{"sub-schema", "sub-untagged"}, ids)
}

func TestIndex_CandidatesOrderedByCreatedAt(t *testing.T) {
	idx := NewIndex()
	p := mustCompile(t, &models.Selector{SchemaName: "x"})

	idx.Add(Entry{SubscriptionID: "third", Predicate: p, CreatedAt: 30})
	idx.Add(Entry{SubscriptionID: "first", Predicate: p, CreatedAt: 10})
	idx.Add(Entry{SubscriptionID: "second", Predicate: p, CreatedAt: 20})

	candidates := idx.Candidates(&models.Breadcrumb{SchemaName: "x"})
	require.Len(t, candidates, 3)
	require.Equal(t, "first", candidates[0].SubscriptionID)
	require.Equal(t, "second", candidates[1].SubscriptionID)
	require.Equal(t, "third", candidates[2].SubscriptionID)
}

func TestIndex_Remove(t *testing.T) {
	idx := NewIndex()
	p := mustCompile(t, &models.Selector{AnyTags: []string{"alpha"}})
	idx.Add(Entry{SubscriptionID: "sub-1", Predicate: p, CreatedAt: 1})

	b := &models.Breadcrumb{Tags: []string{"alpha"}}
	require.Len(t, idx.Candidates(b), 1)

	idx.Remove("sub-1")
	require.Len(t, idx.Candidates(b), 0)
}

func TestIndex_DeduplicatesMultiKeyMatch(t *testing.T) {
	idx := NewIndex()
	p := mustCompile(t, &models.Selector{SchemaName: "incident.v1", AnyTags: []string{"urgent"}})
	idx.Add(Entry{SubscriptionID: "sub-1", Predicate: p, CreatedAt: 1})

	b := &models.Breadcrumb{SchemaName: "incident.v1", Tags: []string{"urgent"}}
	candidates := idx.Candidates(b)
	require.Len(t, candidates, 1)
}
