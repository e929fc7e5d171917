// Package store provides the storage interface and implementations for the
// breadcrumb core. MemoryStore backs tests and local dev; the postgres
// subpackage backs production, with row-level tenant isolation and a
// pgvector nearest-neighbor index.
package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Ai-Layer-Labs/breadcrumb-core/pkg/models"
)

// Store is the primary storage interface for the breadcrumb core. All
// write-path, read-path, fanout, and hygiene code depends on this
// interface, making it easy to swap in-memory (tests) for PostgreSQL
// (production).
type Store interface {
	TenantStore
	AgentStore
	BreadcrumbStore
	HistoryStore
	SubscriptionStore
	ACLStore
	SecretStore
	DeliveryStore
	IdempotencyStore

	// Ping checks if the store is reachable.
	Ping(ctx context.Context) error

	// Close releases all resources held by the store.
	Close() error

	// Migrate runs schema migrations. No-op on MemoryStore.
	Migrate(ctx context.Context) error
}

// ── Tenant Store ─────────────────────────────────────────────

type TenantStore interface {
	GetTenant(ctx context.Context, id string) (*models.Tenant, error)
	CreateTenant(ctx context.Context, tenant *models.Tenant) error
	ListTenants(ctx context.Context) ([]models.Tenant, error)
}

// ── Agent Store ──────────────────────────────────────────────

type AgentStore interface {
	GetAgent(ctx context.Context, owner, id string) (*models.Agent, error)
	UpsertAgent(ctx context.Context, agent *models.Agent) error
	DeleteAgent(ctx context.Context, owner, id string) error
	ListAgents(ctx context.Context, owner string) ([]models.Agent, error)
}

// ── Breadcrumb Store ─────────────────────────────────────────

// BreadcrumbFilter narrows a list or search query. Per spec.md §4.6,
// multi-tag intersection is not supported server-side: callers pass the
// single most selective tag; Tag holds that one value.
type BreadcrumbFilter struct {
	Tag           string
	SchemaName    string
	UpdatedSince  *time.Time
	Limit         int
	Cursor        string // opaque (updated_at, id) pagination cursor
}

// EncodeCursor and DecodeCursor implement the opaque (updated_at, id)
// pagination cursor named in BreadcrumbFilter.Cursor's doc comment.
// Both store backends share this format so a cursor minted by one is
// meaningless to pass to the other only because they order results
// the same way (most recently updated first), not because cursors are
// portable across backends.
func EncodeCursor(t time.Time, id string) string {
	return fmt.Sprintf("%d:%s", t.UnixNano(), id)
}

func DecodeCursor(cursor string) (time.Time, string, bool) {
	parts := strings.SplitN(cursor, ":", 2)
	if len(parts) != 2 {
		return time.Time{}, "", false
	}
	nanos, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return time.Time{}, "", false
	}
	return time.Unix(0, nanos), parts[1], true
}

// SearchFilter narrows a vector nearest-neighbor query.
type SearchFilter struct {
	SchemaName   string
	Tag          string
	SessionScope string
	TopK         int
}

// Page is a cursor-paginated result set of list items.
type Page struct {
	Items      []models.ListItem
	NextCursor string
}

// BreadcrumbStore is the core CRUD + search contract of §4.1.
type BreadcrumbStore interface {
	// CreateBreadcrumb inserts a new breadcrumb at version 1. If
	// idempotencyKey is non-empty and a prior record exists for
	// (owner, actor, idempotencyKey), that record's id is returned instead
	// of creating a new row and created reports false.
	CreateBreadcrumb(ctx context.Context, b *models.Breadcrumb, actor, idempotencyKey string) (created bool, err error)

	// UpdateBreadcrumb compare-and-sets on version. patch is applied to a
	// fresh copy of the stored row; the pre-update snapshot is appended to
	// history in the same transaction. Returns ErrVersionMismatch if
	// stored version != expectedVersion.
	UpdateBreadcrumb(ctx context.Context, owner, id string, expectedVersion int64, patch func(*models.Breadcrumb) error) (*models.Breadcrumb, error)

	// GetBreadcrumb fetches a row by id, scoped to owner plus any ACL
	// grants reachable by requesterAgent.
	GetBreadcrumb(ctx context.Context, owner, id, requesterAgent string) (*models.Breadcrumb, error)

	// ListBreadcrumbs returns a page of ListItems for owner.
	ListBreadcrumbs(ctx context.Context, owner string, filter BreadcrumbFilter) (Page, error)

	// DeleteBreadcrumb soft-deletes the row. expectedVersion, when
	// non-zero, compare-and-sets like UpdateBreadcrumb.
	DeleteBreadcrumb(ctx context.Context, owner, id string, expectedVersion int64) (*models.Breadcrumb, error)

	// IncrementReadCount bumps read_count for a TTL read-count policy.
	IncrementReadCount(ctx context.Context, owner, id string) error

	// NearestBreadcrumbs runs a cosine-similarity scan over the embedding
	// column/index, returning the closest k ids best-first.
	NearestBreadcrumbs(ctx context.Context, owner string, query []float32, filter SearchFilter) ([]models.SearchResult, error)

	// ExpiredBreadcrumbs returns ids of rows whose TTL policy has lapsed,
	// for the hygiene loop. Bounded to at most limit rows per call.
	ExpiredBreadcrumbs(ctx context.Context, owner string, now time.Time, limit int) ([]string, error)

	// BreadcrumbsUpdatedSince supports the hygiene loop's fanout-watermark
	// resync: rows whose updated_at is newer than since.
	BreadcrumbsUpdatedSince(ctx context.Context, owner string, since time.Time, limit int) ([]models.Breadcrumb, error)
}

// ── History Store ────────────────────────────────────────────

type HistoryStore interface {
	// AppendHistory is called inside the same transaction as an update or
	// a pre-delete snapshot.
	AppendHistory(ctx context.Context, entry *models.HistoryEntry) error

	// ListHistory returns versions in descending order.
	ListHistory(ctx context.Context, owner, breadcrumbID string) ([]models.HistoryEntry, error)

	// PruneHistory deletes entries older than olderThan or beyond the
	// newest keepVersions per breadcrumb, whichever the hygiene loop asks
	// for; either bound may be zero to disable it. Returns pruned entries
	// so the caller can archive them first.
	PruneHistory(ctx context.Context, owner string, olderThan time.Time, keepVersions int, limit int) ([]models.HistoryEntry, error)
}

// ── Subscription Store ───────────────────────────────────────

type SubscriptionStore interface {
	CreateSubscription(ctx context.Context, sub *models.Subscription) error
	GetSubscription(ctx context.Context, owner, id string) (*models.Subscription, error)
	ListSubscriptions(ctx context.Context, owner, agentID string) ([]models.Subscription, error)
	DeleteSubscription(ctx context.Context, owner, id string) error

	// SelectorSubscriptions returns all selector-form subscriptions for an
	// owner, for the fanout engine's prefilter + full evaluation.
	SelectorSubscriptions(ctx context.Context, owner string) ([]models.Subscription, error)

	// DirectSubscriptions returns direct (by-id) subscriptions for a
	// breadcrumb id.
	DirectSubscriptions(ctx context.Context, owner, breadcrumbID string) ([]models.Subscription, error)

	// TouchSubscription records a match, resetting its idle clock.
	TouchSubscription(ctx context.Context, owner, id string, at time.Time) error

	// IdleSubscriptions returns subscriptions whose last match (or
	// creation) is older than idleSince, for hygiene pruning.
	IdleSubscriptions(ctx context.Context, owner string, idleSince time.Time, limit int) ([]models.Subscription, error)
}

// ── ACL Store ─────────────────────────────────────────────────

type ACLStore interface {
	CreateACLGrant(ctx context.Context, grant *models.ACLGrant) error
	RevokeACLGrant(ctx context.Context, id string) error
	ListACLGrants(ctx context.Context, breadcrumbID string) ([]models.ACLGrant, error)
}

// ── Secret Store ──────────────────────────────────────────────

type SecretStore interface {
	CreateSecret(ctx context.Context, secret *models.Secret) error
	GetSecret(ctx context.Context, owner, id string) (*models.Secret, error)
	ListSecrets(ctx context.Context, owner string, scopeType models.SecretScope, scopeID string) ([]models.Secret, error)
	UpdateSecret(ctx context.Context, secret *models.Secret) error
	DeleteSecret(ctx context.Context, owner, id string) error
	RecordSecretAudit(ctx context.Context, entry *models.SecretAuditEntry) error

	// SecretsByKEK supports resumable KEK rotation: secrets still wrapped
	// under an old kek_id, paged.
	SecretsByKEK(ctx context.Context, kekID string, limit int) ([]models.Secret, error)
}

// ── Delivery Store (webhook + DLQ) ────────────────────────────

type DeliveryStore interface {
	CreateDelivery(ctx context.Context, d *models.Delivery) error
	UpdateDelivery(ctx context.Context, d *models.Delivery) error
	GetDelivery(ctx context.Context, id string) (*models.Delivery, error)

	// ClaimDueDeliveries leases up to limit Pending/Failing deliveries
	// whose next_attempt_at has passed, plus Sending deliveries whose lease
	// has expired, atomically marking them Sending with next_attempt_at set
	// to leaseUntil, so a crashed worker's lease is simply a short status
	// no other worker claims until it expires.
	ClaimDueDeliveries(ctx context.Context, limit int, leaseUntil time.Time) ([]models.Delivery, error)

	// ListDLQ returns dead-lettered deliveries for an owner.
	ListDLQ(ctx context.Context, owner string, limit int) ([]models.Delivery, error)

	// CancelDeliveriesForSubscription moves all pending/failing/sending deliveries
	// for a removed subscription to Canceled.
	CancelDeliveriesForSubscription(ctx context.Context, subscriptionID string) error
}

// ── Idempotency Store ─────────────────────────────────────────

// IdempotencyStore backs the write path's Idempotency-Key dedupe and the
// fanout watermark used by hygiene's crash-recovery resync.
type IdempotencyStore interface {
	// GetIdempotent returns the breadcrumb id previously created for
	// (owner, actor, key), if any and not yet expired.
	GetIdempotent(ctx context.Context, owner, actor, key string) (breadcrumbID string, found bool, err error)

	// PutIdempotent records (owner, actor, key) → breadcrumbID with a
	// fixed-duration TTL.
	PutIdempotent(ctx context.Context, owner, actor, key, breadcrumbID string, ttl time.Duration) error

	// FanoutWatermark returns the last-acknowledged fanout timestamp for
	// an owner, defaulting to the zero time.
	FanoutWatermark(ctx context.Context, owner string) (time.Time, error)

	// AdvanceFanoutWatermark records the new watermark after a
	// successful resync pass.
	AdvanceFanoutWatermark(ctx context.Context, owner string, at time.Time) error
}

// ── Errors ─────────────────────────────────────────────────────

// ErrNotFound is returned when a requested entity does not exist.
type ErrNotFound struct {
	Entity string
	Key    string
}

func (e *ErrNotFound) Error() string {
	return e.Entity + " not found: " + e.Key
}

// ErrVersionMismatch is returned by UpdateBreadcrumb/DeleteBreadcrumb on a
// failed compare-and-set.
type ErrVersionMismatch struct {
	Expected int64
	Actual   int64
}

func (e *ErrVersionMismatch) Error() string {
	return "version mismatch"
}

// ErrPermissionDenied is returned when an actor lacks the ACL action or
// role required for an operation.
type ErrPermissionDenied struct {
	Action string
}

func (e *ErrPermissionDenied) Error() string {
	return "permission denied: " + e.Action
}

// ErrSizeExceeded is returned when a breadcrumb's serialized context
// exceeds MAX_CONTEXT_BYTES.
type ErrSizeExceeded struct {
	Size  int
	Limit int
}

func (e *ErrSizeExceeded) Error() string {
	return "context size exceeds limit"
}

// ── Filter helpers ─────────────────────────────────────────────

// ListFilter provides common pagination/filter options for non-breadcrumb
// listings (agents, subscriptions, secrets).
type ListFilter struct {
	Limit  int
	Offset int
	Since  *time.Time
}
