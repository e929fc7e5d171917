// Package writepath implements create/update/delete (spec §4.5): size and
// TTL validation, checksum derivation, best-effort embedding, and
// post-commit hand-off to the fanout engine.
package writepath

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Ai-Layer-Labs/breadcrumb-core/internal/metrics"
	"github.com/Ai-Layer-Labs/breadcrumb-core/internal/store"
	"github.com/Ai-Layer-Labs/breadcrumb-core/pkg/contracts"
	"github.com/Ai-Layer-Labs/breadcrumb-core/pkg/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Fanout is the subset of the fanout engine the write path needs: a
// post-commit hook. Defined here to avoid an import cycle with
// internal/fanout, which itself depends on internal/store.
type Fanout interface {
	Publish(ctx context.Context, owner string, b *models.Breadcrumb, kind models.EventKind, rawContext []byte)
}

// Path composes storage, checksum derivation, and best-effort embedding.
type Path struct {
	Store           store.Store
	Embedder        contracts.EmbeddingDriver // nil disables embedding
	Fanout          Fanout
	MaxContextBytes int
	EmbedExcluded   map[string]bool // schema_name values never embedded
}

// TTLInput is the wire-level TTL request: at most one of Duration,
// ExpiresAt, ReadLimit is set, selected by Source. normalizeTTL reduces
// it to the stored models.TTLPolicy shape (which has no duration field
// of its own — a duration policy's expires_at is computed once, here,
// at creation/update time).
type TTLInput struct {
	Source    models.TTLSource
	Duration  time.Duration
	ExpiresAt *time.Time
	ReadLimit *int64
}

// CreateInput is the validated payload for a create operation.
type CreateInput struct {
	Owner          string
	Title          string
	SchemaName     string
	Context        json.RawMessage
	Tags           []string
	Visibility     models.Visibility
	Sensitivity    models.Sensitivity
	TTL            TTLInput
	LLMHints       json.RawMessage
	Actor          string
	IdempotencyKey string
}

// Create validates and persists a new breadcrumb, then fans out a
// breadcrumb.created event. created reports false if IdempotencyKey
// matched a prior request — b is populated with the prior result either way.
func (p *Path) Create(ctx context.Context, in CreateInput) (b *models.Breadcrumb, created bool, err error) {
	if err := p.validateSize(in.Context); err != nil {
		return nil, false, err
	}
	ttl, err := normalizeTTL(in.TTL, time.Now())
	if err != nil {
		return nil, false, err
	}

	b = &models.Breadcrumb{
		ID:          uuid.New().String(),
		Owner:       in.Owner,
		Title:       in.Title,
		SchemaName:  in.SchemaName,
		Context:     []byte(in.Context),
		Tags:        in.Tags,
		Visibility:  in.Visibility,
		Sensitivity: in.Sensitivity,
		TTL:         ttl,
		LLMHints:    in.LLMHints,
		SizeBytes:   len(in.Context),
		Checksum:    checksum(in.Context),
		CreatedBy:   in.Actor,
		UpdatedBy:   in.Actor,
	}

	p.embed(ctx, b)

	created, err = p.Store.CreateBreadcrumb(ctx, b, in.Actor, in.IdempotencyKey)
	if err != nil {
		return nil, false, fmt.Errorf("writepath: create: %w", err)
	}

	if created && p.Fanout != nil {
		p.Fanout.Publish(ctx, b.Owner, b, models.EventCreated, b.Context)
	}
	return b, created, nil
}

// UpdateInput is the validated payload for a compare-and-set update.
type UpdateInput struct {
	Owner           string
	ID              string
	ExpectedVersion int64
	Patch           json.RawMessage // merged into existing context
	TTL             *TTLInput
	Tags            *[]string
	Actor           string
}

// Update merges Patch into the stored context (shallow JSON merge),
// bumps version, re-derives checksum/embedding, and fans out
// breadcrumb.updated.
func (p *Path) Update(ctx context.Context, in UpdateInput) (*models.Breadcrumb, error) {
	if err := p.validateSize(in.Patch); err != nil {
		return nil, err
	}

	b, err := p.Store.UpdateBreadcrumb(ctx, in.Owner, in.ID, in.ExpectedVersion, func(cur *models.Breadcrumb) error {
		merged, err := mergeJSON(cur.Context, in.Patch)
		if err != nil {
			return fmt.Errorf("writepath: merge context: %w", err)
		}
		cur.Context = merged
		cur.SizeBytes = len(merged)
		cur.Checksum = checksum(merged)
		cur.UpdatedBy = in.Actor
		if in.Tags != nil {
			cur.Tags = *in.Tags
		}
		if in.TTL != nil {
			ttl, err := normalizeTTL(*in.TTL, time.Now())
			if err != nil {
				return err
			}
			cur.TTL = ttl
		}
		cur.UpdatedAt = time.Now()
		p.embed(ctx, cur)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("writepath: update: %w", err)
	}

	if p.Fanout != nil {
		p.Fanout.Publish(ctx, b.Owner, b, models.EventUpdated, b.Context)
	}
	return b, nil
}

// Delete soft-deletes a breadcrumb and fans out breadcrumb.deleted.
func (p *Path) Delete(ctx context.Context, owner, id string, expectedVersion int64) error {
	b, err := p.Store.DeleteBreadcrumb(ctx, owner, id, expectedVersion)
	if err != nil {
		return fmt.Errorf("writepath: delete: %w", err)
	}
	if p.Fanout != nil {
		p.Fanout.Publish(ctx, owner, b, models.EventDeleted, b.Context)
	}
	return nil
}

func (p *Path) validateSize(raw []byte) error {
	if p.MaxContextBytes > 0 && len(raw) > p.MaxContextBytes {
		return &store.ErrSizeExceeded{Size: len(raw), Limit: p.MaxContextBytes}
	}
	return nil
}

// embed invokes the configured embedder unless the breadcrumb's schema
// is excluded. Failure policy is skip-don't-fail: log and move on, per
// spec §4.5.
func (p *Path) embed(ctx context.Context, b *models.Breadcrumb) {
	if p.Embedder == nil || p.EmbedExcluded[b.SchemaName] {
		return
	}
	text := textualExtract(b.Title, b.Context)
	vectors, err := p.Embedder.Embed(ctx, []string{text})
	if err != nil || len(vectors) == 0 {
		metrics.IncEmbeddingFailure()
		log.Warn().Err(err).Str("breadcrumb_id", b.ID).Msg("embedding skipped")
		return
	}
	b.Embedding = vectors[0]
}

// textualExtract flattens context values into a single string for
// embedding input. Deliberately shallow — schemas that need richer
// extraction ship their own llm_hints `extract` rule for the read path.
func textualExtract(title string, raw []byte) string {
	var parsed map[string]any
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return title
	}
	var sb strings.Builder
	sb.WriteString(title)
	for _, v := range parsed {
		if s, ok := v.(string); ok {
			sb.WriteString(" ")
			sb.WriteString(s)
		}
	}
	return sb.String()
}

func checksum(raw []byte) string {
	var canonical any
	if err := json.Unmarshal(raw, &canonical); err != nil {
		sum := sha256.Sum256(raw)
		return hex.EncodeToString(sum[:])
	}
	stable, _ := json.Marshal(canonical)
	sum := sha256.Sum256(stable)
	return hex.EncodeToString(sum[:])
}

func mergeJSON(base, patch []byte) ([]byte, error) {
	var baseMap, patchMap map[string]any
	if len(base) > 0 {
		if err := json.Unmarshal(base, &baseMap); err != nil {
			return nil, err
		}
	}
	if baseMap == nil {
		baseMap = map[string]any{}
	}
	if len(patch) > 0 {
		if err := json.Unmarshal(patch, &patchMap); err != nil {
			return nil, err
		}
	}
	for k, v := range patchMap {
		baseMap[k] = v
	}
	return json.Marshal(baseMap)
}

func normalizeTTL(in TTLInput, now time.Time) (models.TTLPolicy, error) {
	switch in.Source {
	case models.TTLSourceAbsolute:
		if in.ExpiresAt == nil || !in.ExpiresAt.After(now) {
			return models.TTLPolicy{}, fmt.Errorf("writepath: absolute ttl must be in the future")
		}
		return models.TTLPolicy{Source: in.Source, ExpiresAt: in.ExpiresAt}, nil
	case models.TTLSourceDuration:
		if in.Duration <= 0 {
			return models.TTLPolicy{}, fmt.Errorf("writepath: duration ttl must be positive")
		}
		expires := now.Add(in.Duration)
		return models.TTLPolicy{Source: in.Source, ExpiresAt: &expires}, nil
	case models.TTLSourceReadCount:
		if in.ReadLimit == nil || *in.ReadLimit <= 0 {
			return models.TTLPolicy{}, fmt.Errorf("writepath: read_limit ttl must be positive")
		}
		return models.TTLPolicy{Source: in.Source, ReadLimit: in.ReadLimit}, nil
	default:
		return models.TTLPolicy{Source: models.TTLSourceNone}, nil
	}
}
