package transform

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseSpec_EmptyIsNil(t *testing.T) {
	spec, err := ParseSpec(nil)
	require.NoError(t, err)
	require.Nil(t, spec)
}

func TestParseSpec_DefaultsModeToMerge(t *testing.T) {
	spec, err := ParseSpec([]byte(`{"exclude":["secret"]}`))
	require.NoError(t, err)
	require.Equal(t, "merge", spec.Mode)
}

func TestParseSpec_InvalidJSON(t *testing.T) {
	_, err := ParseSpec([]byte(`not json`))
	require.Error(t, err)
}

func TestApply_NilSpecReturnsRawUnchanged(t *testing.T) {
	result, err := Apply(nil, []byte(`{"a":1,"b":2}`))
	require.NoError(t, err)
	require.Equal(t, float64(1), result.Context["a"])
	require.Equal(t, float64(2), result.Context["b"])
	require.Empty(t, result.Audit)
}

func TestApply_ExcludeDropsKeys(t *testing.T) {
	spec, err := ParseSpec([]byte(`{"exclude":["secret"]}`))
	require.NoError(t, err)

	result, err := Apply(spec, []byte(`{"a":1,"secret":"shh"}`))
	require.NoError(t, err)
	require.Contains(t, result.Context, "a")
	require.NotContains(t, result.Context, "secret")
}

func TestApply_IncludeKeepsOnlyListed(t *testing.T) {
	spec, err := ParseSpec([]byte(`{"include":["a"]}`))
	require.NoError(t, err)

	result, err := Apply(spec, []byte(`{"a":1,"b":2}`))
	require.NoError(t, err)
	require.Equal(t, map[string]any{"a": float64(1)}, result.Context)
}

func TestApply_ExtractRule(t *testing.T) {
	spec, err := ParseSpec([]byte(`{"transform":{"status_code":{"extract":"status"}}}`))
	require.NoError(t, err)

	result, err := Apply(spec, []byte(`{"status":"open"}`))
	require.NoError(t, err)
	require.Equal(t, "open", result.Context["status_code"])
}

func TestApply_ExtractMissingPathAudited(t *testing.T) {
	spec, err := ParseSpec([]byte(`{"transform":{"x":{"extract":"missing.path"}}}`))
	require.NoError(t, err)

	result, err := Apply(spec, []byte(`{}`))
	require.NoError(t, err)
	require.Len(t, result.Audit, 1)
	require.Contains(t, result.Context, "_transform_audit")
}

func TestApply_TemplateRule(t *testing.T) {
	spec, err := ParseSpec([]byte(`{"transform":{"summary":{"template":"status={{status}}"}}}`))
	require.NoError(t, err)

	result, err := Apply(spec, []byte(`{"status":"open"}`))
	require.NoError(t, err)
	require.Equal(t, "status=open", result.Context["summary"])
}

func TestApply_TemplateEachBlock(t *testing.T) {
	spec, err := ParseSpec([]byte(`{"transform":{"list":{"template":"{{#each items}}[{{this}}]{{/each}}"}}}`))
	require.NoError(t, err)

	result, err := Apply(spec, []byte(`{"items":["a","b","c"]}`))
	require.NoError(t, err)
	require.Equal(t, "[a][b][c]", result.Context["list"])
}

func TestApply_ReplaceModeDropsOriginalFields(t *testing.T) {
	spec, err := ParseSpec([]byte(`{"mode":"replace","transform":{"only":{"literal":"x"}}}`))
	require.NoError(t, err)

	result, err := Apply(spec, []byte(`{"a":1,"b":2}`))
	require.NoError(t, err)
	require.Equal(t, map[string]any{"only": "x"}, result.Context)
}

func TestApply_LiteralNested(t *testing.T) {
	spec, err := ParseSpec([]byte(`{"transform":{"meta":{"literal":{"kind":"fixed","ref":"{{status}}"}}}}`))
	require.NoError(t, err)

	result, err := Apply(spec, []byte(`{"status":"closed"}`))
	require.NoError(t, err)
	meta := result.Context["meta"].(map[string]any)
	require.Equal(t, "fixed", meta["kind"])
	require.Equal(t, "closed", meta["ref"])
}
