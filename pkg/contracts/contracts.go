// Package contracts defines the service interfaces shared across the
// breadcrumb store: storage, embeddings, and history archival. Concrete
// implementations live under internal/; this package exists so alternate
// implementations can be wired in from outside internal/ without an import
// cycle.
package contracts

import (
	"context"

	"github.com/Ai-Layer-Labs/breadcrumb-core/internal/store"
)

// Store is a type alias for the internal Store interface.
type Store = store.Store

// ErrNotFound is a type alias for the internal ErrNotFound error.
type ErrNotFound = store.ErrNotFound

// ── Embedding Driver ─────────────────────────────────────────

// EmbeddingDriver generates vector embeddings from text. Exactly one is
// configured per deployment (EMBED_MODEL_PATH); the embedding model itself
// is an external collaborator — this interface is the pluggable function
// text → vector(D) the spec treats it as.
type EmbeddingDriver interface {
	// Kind returns a short identifier (e.g. "openai", "ollama").
	Kind() string

	// Embed generates vector embeddings for a batch of texts.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the vector dimensionality D for this model.
	Dimensions() int

	// MaxBatchSize returns the maximum texts per Embed call.
	MaxBatchSize() int

	// HealthCheck verifies the embedding service is reachable.
	HealthCheck(ctx context.Context) error
}

// ── Archive Driver ───────────────────────────────────────────

// ArchiveDriver writes pruned history snapshots to a durable archive
// backend. Nothing in this module implements or calls it: the hygiene
// loop archives through retention.HistoryArchiver, which
// LocalFileArchiver implements over models.HistoryEntry.
type ArchiveDriver interface {
	Kind() string
	ArchiveHistory(ctx context.Context, owner string, entries []HistorySnapshot) (uri string, err error)
	HealthCheck(ctx context.Context) error
}

// HistorySnapshot is the archived shape of a pruned history row, decoupled
// from models.HistoryEntry so the archive format is stable independent of
// the storage schema.
type HistorySnapshot struct {
	BreadcrumbID string `json:"breadcrumb_id"`
	Version      int64  `json:"version"`
	Context      []byte `json:"context"`
	Checksum     string `json:"checksum"`
	UpdatedAt    string `json:"updated_at"`
	UpdatedBy    string `json:"updated_by"`
}
