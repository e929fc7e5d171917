package embeddings

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistry_RegisterGetList(t *testing.T) {
	r := NewRegistry()
	d := NewOllamaDriver("http://unused", "nomic-embed-text")
	r.Register("default", d)

	got, err := r.Get("default")
	require.NoError(t, err)
	require.Equal(t, "ollama", got.Kind())
	require.Equal(t, []string{"default"}, r.List())
}

func TestRegistry_GetUnknownNameErrors(t *testing.T) {
	r := NewRegistry()
	_, err := r.Get("missing")
	require.Error(t, err)
}

func TestRegistry_HealthCheckAllKeyedByName(t *testing.T) {
	r := NewRegistry()
	r.Register("broken", NewOllamaDriver("http://127.0.0.1:0", "nomic-embed-text"))

	results := r.HealthCheckAll(context.Background())
	require.Contains(t, results, "broken")
	require.Error(t, results["broken"])
}
