package jsonpath

import (
	"testing"

	"github.com/stretchr/testify/require"
)

var doc = []byte(`{"status":"open","nested":{"count":3},"tags":["a","b"]}`)

func TestGet_PlainAndPrefixedPaths(t *testing.T) {
	cases := []string{"status", "$.status", "$status"}
	for _, p := range cases {
		v, ok := Get(doc, p)
		require.True(t, ok, p)
		require.Equal(t, "open", v.String())
	}
}

func TestGet_Nested(t *testing.T) {
	v, ok := Get(doc, "nested.count")
	require.True(t, ok)
	require.Equal(t, float64(3), v.Num)
}

func TestGet_MissingPathNeverPanics(t *testing.T) {
	v, ok := Get(doc, "nested.missing.deeper")
	require.False(t, ok)
	require.Equal(t, "", v.String())
}

func TestGet_EmptyPath(t *testing.T) {
	_, ok := Get(doc, "")
	require.False(t, ok)
	_, ok = Get(doc, "   ")
	require.False(t, ok)
}

func TestExists(t *testing.T) {
	require.True(t, Exists(doc, "tags"))
	require.False(t, Exists(doc, "absent"))
}

func TestString(t *testing.T) {
	require.Equal(t, "open", String(doc, "status"))
	require.Equal(t, "", String(doc, "absent"))
}
