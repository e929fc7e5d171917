package embeddings

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOpenAIDriver_EmbedReordersByIndex(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(openAIEmbedResponse{
			Data: []openAIEmbedData{
				{Embedding: []float32{1, 1}, Index: 1},
				{Embedding: []float32{0, 0}, Index: 0},
			},
		})
	}))
	defer srv.Close()

	d := NewOpenAIDriver("sk-test", "text-embedding-3-small", WithOpenAIEndpoint(srv.URL))
	require.Equal(t, 1536, d.Dimensions())

	vecs, err := d.Embed(context.Background(), []string{"first", "second"})
	require.NoError(t, err)
	require.Equal(t, "Bearer sk-test", gotAuth)
	require.Equal(t, []float32{0, 0}, vecs[0])
	require.Equal(t, []float32{1, 1}, vecs[1])
}

func TestOpenAIDriver_APIErrorSurfaced(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(openAIEmbedResponse{
			Error: &openAIError{Message: "invalid api key", Type: "auth_error"},
		})
	}))
	defer srv.Close()

	d := NewOpenAIDriver("bad-key", "text-embedding-3-small", WithOpenAIEndpoint(srv.URL))
	_, err := d.Embed(context.Background(), []string{"x"})
	require.Error(t, err)
}

func TestOpenAIDriver_DimensionsByModel(t *testing.T) {
	require.Equal(t, 3072, NewOpenAIDriver("k", "text-embedding-3-large").Dimensions())
	require.Equal(t, 1536, NewOpenAIDriver("k", "text-embedding-ada-002").Dimensions())
}

func TestOpenAIDriver_EmptyInputReturnsNil(t *testing.T) {
	d := NewOpenAIDriver("k", "text-embedding-3-small")
	vecs, err := d.Embed(context.Background(), nil)
	require.NoError(t, err)
	require.Nil(t, vecs)
}
