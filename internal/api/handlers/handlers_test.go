package handlers_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Ai-Layer-Labs/breadcrumb-core/internal/api"
	"github.com/Ai-Layer-Labs/breadcrumb-core/internal/api/handlers"
	"github.com/Ai-Layer-Labs/breadcrumb-core/internal/auth"
	"github.com/Ai-Layer-Labs/breadcrumb-core/internal/bus"
	"github.com/Ai-Layer-Labs/breadcrumb-core/internal/config"
	"github.com/Ai-Layer-Labs/breadcrumb-core/internal/fanout"
	"github.com/Ai-Layer-Labs/breadcrumb-core/internal/readpath"
	"github.com/Ai-Layer-Labs/breadcrumb-core/internal/selector"
	"github.com/Ai-Layer-Labs/breadcrumb-core/internal/sse"
	"github.com/Ai-Layer-Labs/breadcrumb-core/internal/store"
	"github.com/Ai-Layer-Labs/breadcrumb-core/internal/writepath"
	"github.com/Ai-Layer-Labs/breadcrumb-core/pkg/models"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) http.Handler {
	t.Helper()
	s := store.NewMemoryStore()
	t.Cleanup(func() { s.Close() })

	hub := sse.NewHub()
	memBus := bus.NewMemoryBus()
	t.Cleanup(func() { memBus.Close() })
	idx := selector.NewIndex()

	h := &handlers.Handlers{
		Store: s,
		Write: &writepath.Path{
			Store:           s,
			Fanout:          &fanout.Engine{Store: s, Bus: memBus, Hub: hub, SelectorIndex: idx},
			MaxContextBytes: 256 * 1024,
		},
		Read:          &readpath.Path{Store: s},
		Fanout:        &fanout.Engine{Store: s, Bus: memBus, Hub: hub, SelectorIndex: idx},
		SelectorIndex: idx,
		Config:        &config.Config{Version: "test"},
	}

	chain := auth.NewProviderChain()
	chain.RegisterProvider(auth.NewDisabledModeProvider("owner-1"))

	return api.NewRouter(h.Config, h, hub, chain)
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHealth_ReportsOK(t *testing.T) {
	h := newTestServer(t)
	rec := doJSON(t, h, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateBreadcrumb_ThenGetContextView(t *testing.T) {
	h := newTestServer(t)

	createRec := doJSON(t, h, http.MethodPost, "/breadcrumbs", map[string]any{
		"title":   "first",
		"context": map[string]any{"hello": "world"},
	})
	require.Equal(t, http.StatusCreated, createRec.Code)

	var created models.Breadcrumb
	require.NoError(t, json.Unmarshal(createRec.Body.Bytes(), &created))
	require.NotEmpty(t, created.ID)

	getRec := doJSON(t, h, http.MethodGet, "/breadcrumbs/"+created.ID, nil)
	require.Equal(t, http.StatusOK, getRec.Code)

	var view models.ContextView
	require.NoError(t, json.Unmarshal(getRec.Body.Bytes(), &view))
	require.Equal(t, "first", view.Title)
}

func TestCreateBreadcrumb_MissingContextRejected(t *testing.T) {
	h := newTestServer(t)
	rec := doJSON(t, h, http.MethodPost, "/breadcrumbs", map[string]any{"title": "no context"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateBreadcrumb_IdempotencyKeyReplaysSameBody(t *testing.T) {
	h := newTestServer(t)
	body := map[string]any{"title": "idem", "context": map[string]any{"n": 1}}

	req1 := httptest.NewRequest(http.MethodPost, "/breadcrumbs", jsonBody(t, body))
	req1.Header.Set("Content-Type", "application/json")
	req1.Header.Set("Idempotency-Key", "key-1")
	rec1 := httptest.NewRecorder()
	h.ServeHTTP(rec1, req1)
	require.Equal(t, http.StatusCreated, rec1.Code)

	req2 := httptest.NewRequest(http.MethodPost, "/breadcrumbs", jsonBody(t, body))
	req2.Header.Set("Content-Type", "application/json")
	req2.Header.Set("Idempotency-Key", "key-1")
	rec2 := httptest.NewRecorder()
	h.ServeHTTP(rec2, req2)
	require.Equal(t, http.StatusOK, rec2.Code)
}

func TestUpdateBreadcrumb_RequiresIfMatch(t *testing.T) {
	h := newTestServer(t)
	createRec := doJSON(t, h, http.MethodPost, "/breadcrumbs", map[string]any{
		"title": "t", "context": map[string]any{"n": 1},
	})
	var created models.Breadcrumb
	require.NoError(t, json.Unmarshal(createRec.Body.Bytes(), &created))

	req := httptest.NewRequest(http.MethodPatch, "/breadcrumbs/"+created.ID, jsonBody(t, map[string]any{
		"context": map[string]any{"n": 2},
	}))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteBreadcrumb_RemovesIt(t *testing.T) {
	h := newTestServer(t)
	createRec := doJSON(t, h, http.MethodPost, "/breadcrumbs", map[string]any{
		"title": "t", "context": map[string]any{"n": 1},
	})
	var created models.Breadcrumb
	require.NoError(t, json.Unmarshal(createRec.Body.Bytes(), &created))

	delRec := doJSON(t, h, http.MethodDelete, "/breadcrumbs/"+created.ID, nil)
	require.Equal(t, http.StatusNoContent, delRec.Code)

	getRec := doJSON(t, h, http.MethodGet, "/breadcrumbs/"+created.ID, nil)
	require.Equal(t, http.StatusNotFound, getRec.Code)
}

func TestListBreadcrumbs_ReturnsCreatedItems(t *testing.T) {
	h := newTestServer(t)
	doJSON(t, h, http.MethodPost, "/breadcrumbs", map[string]any{
		"title": "a", "context": map[string]any{"n": 1},
	})
	doJSON(t, h, http.MethodPost, "/breadcrumbs", map[string]any{
		"title": "b", "context": map[string]any{"n": 2},
	})

	rec := doJSON(t, h, http.MethodGet, "/breadcrumbs", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	items, _ := resp["items"].([]any)
	require.Len(t, items, 2)
}

func jsonBody(t *testing.T, v any) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(v))
	return &buf
}
