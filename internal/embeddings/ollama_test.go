package embeddings

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOllamaDriver_EmbedReturnsVectors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/embed", r.URL.Path)
		var req ollamaEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		json.NewEncoder(w).Encode(ollamaEmbedResponse{
			Embeddings: [][]float32{{0.1, 0.2}, {0.3, 0.4}},
		})
	}))
	defer srv.Close()

	d := NewOllamaDriver(srv.URL, "nomic-embed-text")
	require.Equal(t, 768, d.Dimensions())

	vecs, err := d.Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	require.Equal(t, float32(0.1), vecs[0][0])
}

func TestOllamaDriver_EmbedEmptyInputReturnsNil(t *testing.T) {
	d := NewOllamaDriver("http://unused", "nomic-embed-text")
	vecs, err := d.Embed(context.Background(), nil)
	require.NoError(t, err)
	require.Nil(t, vecs)
}

func TestOllamaDriver_BatchSizeExceededRejected(t *testing.T) {
	d := NewOllamaDriver("http://unused", "nomic-embed-text", WithOllamaBatchSize(1))
	_, err := d.Embed(context.Background(), []string{"a", "b"})
	require.Error(t, err)
}

func TestOllamaDriver_NonOKStatusReturnsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	d := NewOllamaDriver(srv.URL, "nomic-embed-text")
	_, err := d.Embed(context.Background(), []string{"a"})
	require.Error(t, err)
}

func TestOllamaDriver_DimensionsByModel(t *testing.T) {
	require.Equal(t, 1024, NewOllamaDriver("", "mxbai-embed-large").Dimensions())
	require.Equal(t, 384, NewOllamaDriver("", "all-minilm").Dimensions())
}
