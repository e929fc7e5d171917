package selector

import (
	"testing"

	"github.com/Ai-Layer-Labs/breadcrumb-core/pkg/models"
	"github.com/stretchr/testify/require"
)

func TestCompile_RejectsNilAndUnknownOperator(t *testing.T) {
	_, err := Compile(nil)
	require.Error(t, err)

	_, err = Compile(&models.Selector{
		ContextMatch: []models.ContextMatchClause{{Path: "foo", Op: "bogus"}},
	})
	require.Error(t, err)

	_, err = Compile(&models.Selector{
		ContextMatch: []models.ContextMatchClause{{Path: "", Op: "eq"}},
	})
	require.Error(t, err)
}

func TestCompile_TagsAndSchemaAndOwner(t *testing.T) {
	p, err := Compile(&models.Selector{
		AnyTags:    []string{"alpha", "beta"},
		SchemaName: "incident.v1",
		OwnerID:    "owner-1",
	})
	require.NoError(t, err)

	match := Candidate{Breadcrumb: &models.Breadcrumb{
		Tags: []string{"beta"}, SchemaName: "incident.v1", Owner: "owner-1",
	}}
	require.True(t, p.Matches(match))

	wrongOwner := Candidate{Breadcrumb: &models.Breadcrumb{
		Tags: []string{"beta"}, SchemaName: "incident.v1", Owner: "owner-2",
	}}
	require.False(t, p.Matches(wrongOwner))

	noTagOverlap := Candidate{Breadcrumb: &models.Breadcrumb{
		Tags: []string{"gamma"}, SchemaName: "incident.v1", Owner: "owner-1",
	}}
	require.False(t, p.Matches(noTagOverlap))
}

func TestCompile_AllTagsRequiresSuperset(t *testing.T) {
	p, err := Compile(&models.Selector{AllTags: []string{"alpha", "beta"}})
	require.NoError(t, err)

	require.True(t, p.Matches(Candidate{Breadcrumb: &models.Breadcrumb{Tags: []string{"alpha", "beta", "gamma"}}}))
	require.False(t, p.Matches(Candidate{Breadcrumb: &models.Breadcrumb{Tags: []string{"alpha"}}}))
}

func TestCompile_SensitivityAndVisibilityIn(t *testing.T) {
	p, err := Compile(&models.Selector{
		SensitivityIn: []models.Sensitivity{models.SensitivityPII},
		VisibilityIn:  []models.Visibility{models.VisibilityTeam, models.VisibilityPublic},
	})
	require.NoError(t, err)

	require.True(t, p.Matches(Candidate{Breadcrumb: &models.Breadcrumb{
		Sensitivity: models.SensitivityPII, Visibility: models.VisibilityTeam,
	}}))
	require.False(t, p.Matches(Candidate{Breadcrumb: &models.Breadcrumb{
		Sensitivity: models.SensitivityLow, Visibility: models.VisibilityTeam,
	}}))
	require.False(t, p.Matches(Candidate{Breadcrumb: &models.Breadcrumb{
		Sensitivity: models.SensitivityPII, Visibility: models.VisibilityPrivate,
	}}))
}

func TestCompile_ContextMatchOperators(t *testing.T) {
	ctx := []byte(`{"status":"open","priority":3,"labels":["p1","urgent"]}`)

	cases := []struct {
		name  string
		op    string
		path  string
		value any
		want  bool
	}{
		{"eq match", "eq", "status", "open", true},
		{"eq mismatch", "eq", "status", "closed", false},
		{"ne", "ne", "status", "closed", true},
		{"lt true", "lt", "priority", 5, true},
		{"gt false", "gt", "priority", 5, false},
		{"ge equal", "ge", "priority", 3, true},
		{"exists true", "exists", "status", nil, true},
		{"exists false", "exists", "missing", nil, false},
		{"contains_any true", "contains_any", "labels", []any{"urgent", "other"}, true},
		{"contains_any false", "contains_any", "labels", []any{"other"}, false},
		{"contains_all true", "contains_all", "labels", []any{"p1", "urgent"}, true},
		{"contains_all false", "contains_all", "labels", []any{"p1", "missing"}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p, err := Compile(&models.Selector{
				ContextMatch: []models.ContextMatchClause{{Path: tc.path, Op: tc.op, Value: tc.value}},
			})
			require.NoError(t, err)
			require.Equal(t, tc.want, p.Matches(Candidate{
				Breadcrumb: &models.Breadcrumb{},
				RawContext: ctx,
			}))
		})
	}
}

func TestCompile_ContextMatchMissingPathNeverMatches(t *testing.T) {
	p, err := Compile(&models.Selector{
		ContextMatch: []models.ContextMatchClause{{Path: "nested.deep.missing", Op: "eq", Value: "x"}},
	})
	require.NoError(t, err)
	require.False(t, p.Matches(Candidate{Breadcrumb: &models.Breadcrumb{}, RawContext: []byte(`{}`)}))
}
