// Package readpath implements get/list/history/search (spec §4.6): ACL
// enforcement happens in the store layer, the Transform Engine runs here
// on every context-view read, and search composes the embedder with the
// store's nearest-neighbor query.
package readpath

import (
	"context"
	"fmt"

	"github.com/Ai-Layer-Labs/breadcrumb-core/internal/store"
	"github.com/Ai-Layer-Labs/breadcrumb-core/internal/transform"
	"github.com/Ai-Layer-Labs/breadcrumb-core/pkg/contracts"
	"github.com/Ai-Layer-Labs/breadcrumb-core/pkg/models"
)

// Path composes storage and the embedder for reads.
type Path struct {
	Store    store.Store
	Embedder contracts.EmbeddingDriver // nil disables text-query search
}

// GetContextView returns the transformed, LLM-friendly view of a
// breadcrumb (spec §4.6 get(view=context)).
func (p *Path) GetContextView(ctx context.Context, owner, id, requesterAgent string) (*models.ContextView, error) {
	b, err := p.Store.GetBreadcrumb(ctx, owner, id, requesterAgent)
	if err != nil {
		return nil, fmt.Errorf("readpath: get: %w", err)
	}

	spec, err := transform.ParseSpec(b.LLMHints)
	if err != nil {
		return nil, fmt.Errorf("readpath: parse llm_hints: %w", err)
	}
	result, err := transform.Apply(spec, b.Context)
	if err != nil {
		return nil, fmt.Errorf("readpath: apply transform: %w", err)
	}

	view := &models.ContextView{
		ID:         b.ID,
		Title:      b.Title,
		Context:    result.Context,
		Tags:       b.Tags,
		SchemaName: b.SchemaName,
		Version:    b.Version,
		UpdatedAt:  b.UpdatedAt,
	}
	if len(result.Audit) > 0 {
		view.Meta = map[string]any{"transform_audit": result.Audit}
	}
	return view, nil
}

// GetFull returns the privileged full view (spec §4.6 get(view=full)):
// caller is responsible for enforcing read_full before calling this.
func (p *Path) GetFull(ctx context.Context, owner, id, requesterAgent string) (*models.Breadcrumb, error) {
	b, err := p.Store.GetBreadcrumb(ctx, owner, id, requesterAgent)
	if err != nil {
		return nil, fmt.Errorf("readpath: get full: %w", err)
	}
	return b, nil
}

// List returns a page of list items.
func (p *Path) List(ctx context.Context, owner string, filter store.BreadcrumbFilter) (store.Page, error) {
	page, err := p.Store.ListBreadcrumbs(ctx, owner, filter)
	if err != nil {
		return store.Page{}, fmt.Errorf("readpath: list: %w", err)
	}
	return page, nil
}

// History returns a breadcrumb's versions, descending.
func (p *Path) History(ctx context.Context, owner, id string) ([]models.HistoryEntry, error) {
	entries, err := p.Store.ListHistory(ctx, owner, id)
	if err != nil {
		return nil, fmt.Errorf("readpath: history: %w", err)
	}
	return entries, nil
}

// SearchInput carries either QueryText (embedded with the configured
// embedder) or QueryVec (used as-is).
type SearchInput struct {
	QueryText string
	QueryVec  []float32
	Filter    store.SearchFilter
}

// Search embeds QueryText if QueryVec is absent, then runs the store's
// nearest-neighbor scan, best match first.
func (p *Path) Search(ctx context.Context, owner string, in SearchInput) ([]models.SearchResult, error) {
	query := in.QueryVec
	if len(query) == 0 {
		if in.QueryText == "" {
			return nil, fmt.Errorf("readpath: search requires query_text or query_vec")
		}
		if p.Embedder == nil {
			return nil, fmt.Errorf("readpath: no embedder configured for text search")
		}
		vectors, err := p.Embedder.Embed(ctx, []string{in.QueryText})
		if err != nil {
			return nil, fmt.Errorf("readpath: embed query: %w", err)
		}
		if len(vectors) == 0 {
			return nil, fmt.Errorf("readpath: embedder returned no vector")
		}
		query = vectors[0]
	}

	results, err := p.Store.NearestBreadcrumbs(ctx, owner, query, in.Filter)
	if err != nil {
		return nil, fmt.Errorf("readpath: search: %w", err)
	}
	return results, nil
}
