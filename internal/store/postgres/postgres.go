// Package postgres implements internal/store.Store on PostgreSQL with the
// pgvector extension, following the teacher's pgvector.go pool/migrate/query
// style. Methods that take an owner filter on owner_id; ACL grant, delivery
// (get, claim, cancel) and SecretsByKEK queries take no owner and are not
// owner-scoped. Methods that run through withOwner also set the
// transaction-local app.current_owner_id variable checked by the RLS policy
// on the breadcrumbs table; other tables have no RLS policy.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Ai-Layer-Labs/breadcrumb-core/internal/store"
	"github.com/Ai-Layer-Labs/breadcrumb-core/pkg/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// Store is the PostgreSQL-backed implementation of store.Store.
type Store struct {
	pool       *pgxpool.Pool
	dimensions int
}

// New opens a pool and pings it; it does not run migrations (call Migrate
// for that). dimensions sizes the pgvector
// column and must match the configured embedding model.
func New(ctx context.Context, connURL string, dimensions int) (*Store, error) {
	pool, err := pgxpool.New(ctx, connURL)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	s := &Store{pool: pool, dimensions: dimensions}
	log.Info().Int("dims", dimensions).Msg("postgres store initialized")
	return s, nil
}

func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }
func (s *Store) Close() error                   { s.pool.Close(); return nil }

// withOwner runs fn inside a transaction with app.current_owner_id set for
// the duration, so row-level security policies (see Migrate's DDL) apply
// even if a query's own WHERE owner_id = $1 clause is ever dropped by
// accident in a future edit.
func (s *Store) withOwner(ctx context.Context, owner string, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "SELECT set_config('app.current_owner_id', $1, true)", owner); err != nil {
		return fmt.Errorf("postgres: set rls context: %w", err)
	}
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Migrate creates every table, index, and RLS policy used by the store.
// Idempotent: safe to call on every startup.
func (s *Store) Migrate(ctx context.Context) error {
	ddl := fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;
CREATE EXTENSION IF NOT EXISTS pgcrypto;

CREATE TABLE IF NOT EXISTS tenants (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS agents (
	id TEXT NOT NULL,
	owner_id TEXT NOT NULL REFERENCES tenants(id),
	roles TEXT[] NOT NULL DEFAULT '{}',
	webhook_url TEXT NOT NULL DEFAULT '',
	webhook_secret TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (owner_id, id)
);

CREATE TABLE IF NOT EXISTS breadcrumbs (
	id TEXT PRIMARY KEY,
	owner_id TEXT NOT NULL REFERENCES tenants(id),
	title TEXT NOT NULL DEFAULT '',
	schema_name TEXT NOT NULL DEFAULT '',
	context JSONB NOT NULL DEFAULT '{}',
	tags TEXT[] NOT NULL DEFAULT '{}',
	version BIGINT NOT NULL DEFAULT 1,
	checksum TEXT NOT NULL DEFAULT '',
	visibility TEXT NOT NULL DEFAULT 'private',
	sensitivity TEXT NOT NULL DEFAULT 'low',
	ttl_source TEXT NOT NULL DEFAULT 'none',
	expires_at TIMESTAMPTZ,
	read_limit BIGINT,
	read_count BIGINT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	created_by TEXT NOT NULL DEFAULT '',
	updated_by TEXT NOT NULL DEFAULT '',
	embedding vector(%d),
	size_bytes INT NOT NULL DEFAULT 0,
	llm_hints JSONB,
	deleted_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_breadcrumbs_owner ON breadcrumbs (owner_id) WHERE deleted_at IS NULL;
CREATE INDEX IF NOT EXISTS idx_breadcrumbs_schema ON breadcrumbs (owner_id, schema_name) WHERE deleted_at IS NULL;
CREATE INDEX IF NOT EXISTS idx_breadcrumbs_tags ON breadcrumbs USING GIN (tags);
CREATE INDEX IF NOT EXISTS idx_breadcrumbs_expiry ON breadcrumbs (expires_at) WHERE deleted_at IS NULL AND expires_at IS NOT NULL;

ALTER TABLE breadcrumbs ENABLE ROW LEVEL SECURITY;
DROP POLICY IF EXISTS breadcrumbs_owner_isolation ON breadcrumbs;
CREATE POLICY breadcrumbs_owner_isolation ON breadcrumbs
	USING (owner_id = current_setting('app.current_owner_id', true));

CREATE TABLE IF NOT EXISTS breadcrumb_history (
	breadcrumb_id TEXT NOT NULL,
	version BIGINT NOT NULL,
	context JSONB NOT NULL,
	checksum TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	updated_by TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (breadcrumb_id, version)
);

CREATE TABLE IF NOT EXISTS subscriptions (
	id TEXT PRIMARY KEY,
	owner_id TEXT NOT NULL REFERENCES tenants(id),
	agent_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	breadcrumb_id TEXT NOT NULL DEFAULT '',
	selector JSONB,
	channels TEXT[] NOT NULL DEFAULT '{}',
	delivery_throttle_ms INT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_matched_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_subscriptions_owner ON subscriptions (owner_id);
CREATE INDEX IF NOT EXISTS idx_subscriptions_direct ON subscriptions (owner_id, breadcrumb_id) WHERE kind = 'direct';

CREATE TABLE IF NOT EXISTS acl_grants (
	id TEXT PRIMARY KEY,
	breadcrumb_id TEXT NOT NULL,
	grantee_agent_id TEXT NOT NULL DEFAULT '',
	grantee_owner_id TEXT NOT NULL DEFAULT '',
	actions TEXT[] NOT NULL DEFAULT '{}',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_acl_breadcrumb ON acl_grants (breadcrumb_id);

CREATE TABLE IF NOT EXISTS secrets (
	id TEXT PRIMARY KEY,
	owner_id TEXT NOT NULL REFERENCES tenants(id),
	name TEXT NOT NULL,
	scope_type TEXT NOT NULL,
	scope_id TEXT NOT NULL DEFAULT '',
	enc_blob BYTEA NOT NULL,
	wrapped_dek BYTEA NOT NULL,
	kek_id TEXT NOT NULL,
	metadata JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_secrets_kek ON secrets (kek_id);

CREATE TABLE IF NOT EXISTS secret_audit (
	secret_id TEXT NOT NULL,
	actor_id TEXT NOT NULL,
	reason TEXT NOT NULL DEFAULT '',
	ts TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS deliveries (
	id TEXT PRIMARY KEY,
	owner_id TEXT NOT NULL,
	subscription_id TEXT NOT NULL,
	agent_id TEXT NOT NULL,
	event_id TEXT NOT NULL,
	payload JSONB NOT NULL,
	status TEXT NOT NULL,
	attempt_count INT NOT NULL DEFAULT 0,
	next_attempt_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_status INT NOT NULL DEFAULT 0,
	last_error TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_deliveries_due ON deliveries (status, next_attempt_at);
CREATE INDEX IF NOT EXISTS idx_deliveries_subscription ON deliveries (subscription_id);

CREATE TABLE IF NOT EXISTS idempotency_keys (
	owner_id TEXT NOT NULL,
	actor TEXT NOT NULL,
	key TEXT NOT NULL,
	breadcrumb_id TEXT NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (owner_id, actor, key)
);

CREATE TABLE IF NOT EXISTS fanout_watermarks (
	owner_id TEXT PRIMARY KEY,
	watermark TIMESTAMPTZ NOT NULL
);
`, s.dimensions)

	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}

// ── Tenant ───────────────────────────────────────────────────

func (s *Store) GetTenant(ctx context.Context, id string) (*models.Tenant, error) {
	var t models.Tenant
	err := s.pool.QueryRow(ctx, `SELECT id, name, created_at FROM tenants WHERE id = $1`, id).
		Scan(&t.ID, &t.Name, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &store.ErrNotFound{Entity: "tenant", Key: id}
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Store) CreateTenant(ctx context.Context, tenant *models.Tenant) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO tenants (id, name) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING`,
		tenant.ID, tenant.Name)
	return err
}

func (s *Store) ListTenants(ctx context.Context) ([]models.Tenant, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name, created_at FROM tenants ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Tenant
	for rows.Next() {
		var t models.Tenant
		if err := rows.Scan(&t.ID, &t.Name, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ── Agent ────────────────────────────────────────────────────

func (s *Store) GetAgent(ctx context.Context, owner, id string) (*models.Agent, error) {
	var a models.Agent
	var roles []string
	err := s.pool.QueryRow(ctx,
		`SELECT id, owner_id, roles, webhook_url, webhook_secret, created_at, updated_at
		 FROM agents WHERE owner_id = $1 AND id = $2`, owner, id).
		Scan(&a.ID, &a.Owner, &roles, &a.WebhookURL, &a.WebhookSecret, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &store.ErrNotFound{Entity: "agent", Key: id}
	}
	if err != nil {
		return nil, err
	}
	a.Roles = toAgentRoles(roles)
	return &a, nil
}

func (s *Store) UpsertAgent(ctx context.Context, agent *models.Agent) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO agents (id, owner_id, roles, webhook_url, webhook_secret, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, now(), now())
		ON CONFLICT (owner_id, id) DO UPDATE SET
			roles = EXCLUDED.roles,
			webhook_url = EXCLUDED.webhook_url,
			webhook_secret = EXCLUDED.webhook_secret,
			updated_at = now()`,
		agent.ID, agent.Owner, fromAgentRoles(agent.Roles), agent.WebhookURL, agent.WebhookSecret)
	return err
}

func (s *Store) DeleteAgent(ctx context.Context, owner, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM agents WHERE owner_id = $1 AND id = $2`, owner, id)
	return err
}

func (s *Store) ListAgents(ctx context.Context, owner string) ([]models.Agent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, owner_id, roles, webhook_url, webhook_secret, created_at, updated_at
		 FROM agents WHERE owner_id = $1 ORDER BY id`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Agent
	for rows.Next() {
		var a models.Agent
		var roles []string
		if err := rows.Scan(&a.ID, &a.Owner, &roles, &a.WebhookURL, &a.WebhookSecret, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		a.Roles = toAgentRoles(roles)
		out = append(out, a)
	}
	return out, rows.Err()
}

// ── Breadcrumb ───────────────────────────────────────────────

func (s *Store) CreateBreadcrumb(ctx context.Context, b *models.Breadcrumb, actor, idempotencyKey string) (bool, error) {
	if idempotencyKey != "" {
		existingID, found, err := s.GetIdempotent(ctx, b.Owner, actor, idempotencyKey)
		if err != nil {
			return false, err
		}
		if found {
			existing, err := s.GetBreadcrumb(ctx, b.Owner, existingID, actor)
			if err != nil {
				return false, err
			}
			*b = *existing
			return false, nil
		}
	}

	b.Version = 1
	err := s.withOwner(ctx, b.Owner, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO breadcrumbs (id, owner_id, title, schema_name, context, tags, version, checksum,
				visibility, sensitivity, ttl_source, expires_at, read_limit, read_count,
				created_at, updated_at, created_by, updated_by, embedding, size_bytes, llm_hints)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,0,now(),now(),$14,$15,$16,$17,$18)`,
			b.ID, b.Owner, b.Title, b.SchemaName, b.Context, b.Tags, b.Version, b.Checksum,
			string(b.Visibility), string(b.Sensitivity), string(b.TTL.Source), b.TTL.ExpiresAt, b.TTL.ReadLimit,
			actor, actor, vectorLiteral(b.Embedding), b.SizeBytes, nullableJSON(b.LLMHints))
		return err
	})
	if err != nil {
		return false, err
	}

	if idempotencyKey != "" {
		if err := s.PutIdempotent(ctx, b.Owner, actor, idempotencyKey, b.ID, 24*time.Hour); err != nil {
			log.Warn().Err(err).Str("breadcrumb_id", b.ID).Msg("postgres: record idempotency key failed")
		}
	}
	return true, nil
}

func (s *Store) UpdateBreadcrumb(ctx context.Context, owner, id string, expectedVersion int64, patch func(*models.Breadcrumb) error) (*models.Breadcrumb, error) {
	var result *models.Breadcrumb
	err := s.withOwner(ctx, owner, func(tx pgx.Tx) error {
		cur, err := scanBreadcrumbTx(ctx, tx, owner, id)
		if err != nil {
			return err
		}
		if cur.Version != expectedVersion {
			return &store.ErrVersionMismatch{Expected: expectedVersion, Actual: cur.Version}
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO breadcrumb_history (breadcrumb_id, version, context, checksum, updated_at, updated_by)
			VALUES ($1,$2,$3,$4,$5,$6)`,
			cur.ID, cur.Version, cur.Context, cur.Checksum, cur.UpdatedAt, cur.UpdatedBy); err != nil {
			return fmt.Errorf("append history: %w", err)
		}

		if err := patch(cur); err != nil {
			return err
		}
		cur.Version++

		_, err = tx.Exec(ctx, `
			UPDATE breadcrumbs SET title=$1, context=$2, tags=$3, version=$4, checksum=$5,
				visibility=$6, sensitivity=$7, ttl_source=$8, expires_at=$9, read_limit=$10,
				updated_at=$11, updated_by=$12, embedding=$13, size_bytes=$14, llm_hints=$15
			WHERE id=$16 AND owner_id=$17`,
			cur.Title, cur.Context, cur.Tags, cur.Version, cur.Checksum,
			string(cur.Visibility), string(cur.Sensitivity), string(cur.TTL.Source), cur.TTL.ExpiresAt, cur.TTL.ReadLimit,
			cur.UpdatedAt, cur.UpdatedBy, vectorLiteral(cur.Embedding), cur.SizeBytes, nullableJSON(cur.LLMHints),
			cur.ID, owner)
		if err != nil {
			return err
		}
		result = cur
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) GetBreadcrumb(ctx context.Context, owner, id, requesterAgent string) (*models.Breadcrumb, error) {
	var b *models.Breadcrumb
	err := s.withOwner(ctx, owner, func(tx pgx.Tx) error {
		var err error
		b, err = scanBreadcrumbTx(ctx, tx, owner, id)
		return err
	})
	if err != nil {
		if _, ok := asNotFound(err); ok {
			return s.getBreadcrumbViaACL(ctx, owner, id, requesterAgent)
		}
		return nil, err
	}
	return b, nil
}

// getBreadcrumbViaACL is reached when the owner-scoped lookup misses,
// covering the cross-owner case: a breadcrumb owned elsewhere but granted
// to this owner or agent via acl_grants.
func (s *Store) getBreadcrumbViaACL(ctx context.Context, owner, id, requesterAgent string) (*models.Breadcrumb, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT b.id FROM breadcrumbs b
		JOIN acl_grants g ON g.breadcrumb_id = b.id
		WHERE b.id = $1 AND b.deleted_at IS NULL
		  AND (g.grantee_owner_id = $2 OR g.grantee_agent_id = $3)
		LIMIT 1`, id, owner, requesterAgent)
	var found string
	if err := row.Scan(&found); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &store.ErrNotFound{Entity: "breadcrumb", Key: id}
		}
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)
	if _, err := tx.Exec(ctx, "SELECT set_config('app.current_owner_id', (SELECT owner_id FROM breadcrumbs WHERE id = $1), true)", id); err != nil {
		return nil, err
	}
	b, err := scanBreadcrumbByIDTx(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	return b, tx.Commit(ctx)
}

func (s *Store) IncrementReadCount(ctx context.Context, owner, id string) error {
	return s.withOwner(ctx, owner, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `UPDATE breadcrumbs SET read_count = read_count + 1 WHERE id = $1 AND owner_id = $2`, id, owner)
		return err
	})
}

func (s *Store) ListBreadcrumbs(ctx context.Context, owner string, filter store.BreadcrumbFilter) (store.Page, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT id, title, tags, schema_name, version, updated_at FROM breadcrumbs
		WHERE owner_id = $1 AND deleted_at IS NULL`)
	args := []any{owner}
	idx := 2

	if filter.Tag != "" {
		sb.WriteString(fmt.Sprintf(" AND $%d = ANY(tags)", idx))
		args = append(args, filter.Tag)
		idx++
	}
	if filter.SchemaName != "" {
		sb.WriteString(fmt.Sprintf(" AND schema_name = $%d", idx))
		args = append(args, filter.SchemaName)
		idx++
	}
	if filter.UpdatedSince != nil {
		sb.WriteString(fmt.Sprintf(" AND updated_at > $%d", idx))
		args = append(args, *filter.UpdatedSince)
		idx++
	}
	if filter.Cursor != "" {
		cursorTime, cursorID, ok := store.DecodeCursor(filter.Cursor)
		if ok {
			sb.WriteString(fmt.Sprintf(" AND (updated_at, id) < ($%d, $%d)", idx, idx+1))
			args = append(args, cursorTime, cursorID)
			idx += 2
		}
	}

	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	sb.WriteString(fmt.Sprintf(" ORDER BY updated_at DESC, id DESC LIMIT $%d", idx))
	args = append(args, limit+1)

	rows, err := s.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return store.Page{}, err
	}
	defer rows.Close()

	var items []models.ListItem
	for rows.Next() {
		var item models.ListItem
		if err := rows.Scan(&item.ID, &item.Title, &item.Tags, &item.SchemaName, &item.Version, &item.UpdatedAt); err != nil {
			return store.Page{}, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return store.Page{}, err
	}

	page := store.Page{Items: items}
	if len(items) > limit {
		last := items[limit-1]
		page.Items = items[:limit]
		page.NextCursor = store.EncodeCursor(last.UpdatedAt, last.ID)
	}
	return page, nil
}

func (s *Store) DeleteBreadcrumb(ctx context.Context, owner, id string, expectedVersion int64) (*models.Breadcrumb, error) {
	var result *models.Breadcrumb
	err := s.withOwner(ctx, owner, func(tx pgx.Tx) error {
		cur, err := scanBreadcrumbTx(ctx, tx, owner, id)
		if err != nil {
			return err
		}
		if expectedVersion != 0 && cur.Version != expectedVersion {
			return &store.ErrVersionMismatch{Expected: expectedVersion, Actual: cur.Version}
		}
		if _, err := tx.Exec(ctx, `UPDATE breadcrumbs SET deleted_at = now() WHERE id = $1 AND owner_id = $2`, id, owner); err != nil {
			return err
		}
		result = cur
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// NearestBreadcrumbs runs a pgvector cosine-distance scan, best match first.
func (s *Store) NearestBreadcrumbs(ctx context.Context, owner string, query []float32, filter store.SearchFilter) ([]models.SearchResult, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT id, 1 - (embedding <=> $1::vector) AS score FROM breadcrumbs
		WHERE owner_id = $2 AND deleted_at IS NULL AND embedding IS NOT NULL`)
	args := []any{vectorLiteral(query), owner}
	idx := 3

	if filter.SchemaName != "" {
		sb.WriteString(fmt.Sprintf(" AND schema_name = $%d", idx))
		args = append(args, filter.SchemaName)
		idx++
	}
	if filter.Tag != "" {
		sb.WriteString(fmt.Sprintf(" AND $%d = ANY(tags)", idx))
		args = append(args, filter.Tag)
		idx++
	}

	topK := filter.TopK
	if topK <= 0 {
		topK = 10
	}
	sb.WriteString(fmt.Sprintf(" ORDER BY embedding <=> $1::vector LIMIT $%d", idx))
	args = append(args, topK)

	rows, err := s.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.SearchResult
	for rows.Next() {
		var r models.SearchResult
		if err := rows.Scan(&r.ID, &r.Score); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) ExpiredBreadcrumbs(ctx context.Context, owner string, now time.Time, limit int) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id FROM breadcrumbs
		WHERE owner_id = $1 AND deleted_at IS NULL
		  AND ((ttl_source = 'absolute' OR ttl_source = 'duration') AND expires_at <= $2
		       OR (ttl_source = 'read_count' AND read_limit IS NOT NULL AND read_count >= read_limit))
		LIMIT $3`, owner, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) BreadcrumbsUpdatedSince(ctx context.Context, owner string, since time.Time, limit int) ([]models.Breadcrumb, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, owner_id, title, schema_name, context, tags, version, checksum, visibility,
		       sensitivity, ttl_source, expires_at, read_limit, read_count, created_at, updated_at,
		       created_by, updated_by, size_bytes, llm_hints
		FROM breadcrumbs WHERE owner_id = $1 AND updated_at > $2 AND deleted_at IS NULL
		ORDER BY updated_at ASC LIMIT $3`, owner, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Breadcrumb
	for rows.Next() {
		b, err := scanListedBreadcrumb(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

// ── History ──────────────────────────────────────────────────

func (s *Store) AppendHistory(ctx context.Context, entry *models.HistoryEntry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO breadcrumb_history (breadcrumb_id, version, context, checksum, updated_at, updated_by)
		VALUES ($1,$2,$3,$4,$5,$6) ON CONFLICT (breadcrumb_id, version) DO NOTHING`,
		entry.BreadcrumbID, entry.Version, entry.Context, entry.Checksum, entry.UpdatedAt, entry.UpdatedBy)
	return err
}

func (s *Store) ListHistory(ctx context.Context, owner, breadcrumbID string) ([]models.HistoryEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT h.breadcrumb_id, h.version, h.context, h.checksum, h.updated_at, h.updated_by
		FROM breadcrumb_history h JOIN breadcrumbs b ON b.id = h.breadcrumb_id
		WHERE h.breadcrumb_id = $1 AND b.owner_id = $2 ORDER BY h.version DESC`, breadcrumbID, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.HistoryEntry
	for rows.Next() {
		var h models.HistoryEntry
		if err := rows.Scan(&h.BreadcrumbID, &h.Version, &h.Context, &h.Checksum, &h.UpdatedAt, &h.UpdatedBy); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// PruneHistory deletes entries older than olderThan, then anything beyond
// the newest keepVersions per breadcrumb — age bound applied first, per
// the hygiene loop's precedence rule.
func (s *Store) PruneHistory(ctx context.Context, owner string, olderThan time.Time, keepVersions int, limit int) ([]models.HistoryEntry, error) {
	var victims []models.HistoryEntry

	if !olderThan.IsZero() {
		rows, err := s.pool.Query(ctx, `
			SELECT h.breadcrumb_id, h.version, h.context, h.checksum, h.updated_at, h.updated_by
			FROM breadcrumb_history h JOIN breadcrumbs b ON b.id = h.breadcrumb_id
			WHERE b.owner_id = $1 AND h.updated_at < $2`, owner, olderThan)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var h models.HistoryEntry
			if err := rows.Scan(&h.BreadcrumbID, &h.Version, &h.Context, &h.Checksum, &h.UpdatedAt, &h.UpdatedBy); err != nil {
				rows.Close()
				return nil, err
			}
			victims = append(victims, h)
		}
		rows.Close()
		if _, err := s.pool.Exec(ctx, `
			DELETE FROM breadcrumb_history h USING breadcrumbs b
			WHERE b.id = h.breadcrumb_id AND b.owner_id = $1 AND h.updated_at < $2`, owner, olderThan); err != nil {
			return nil, err
		}
	}

	if keepVersions > 0 {
		rows, err := s.pool.Query(ctx, `
			DELETE FROM breadcrumb_history h USING breadcrumbs b
			WHERE b.id = h.breadcrumb_id AND b.owner_id = $1 AND h.version <= (
				SELECT MAX(version) - $2 FROM breadcrumb_history WHERE breadcrumb_id = h.breadcrumb_id
			)
			RETURNING h.breadcrumb_id, h.version, h.context, h.checksum, h.updated_at, h.updated_by`, owner, keepVersions)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var h models.HistoryEntry
			if err := rows.Scan(&h.BreadcrumbID, &h.Version, &h.Context, &h.Checksum, &h.UpdatedAt, &h.UpdatedBy); err != nil {
				rows.Close()
				return nil, err
			}
			victims = append(victims, h)
		}
		rows.Close()
	}
	return victims, nil
}

// ── Subscription ─────────────────────────────────────────────

func (s *Store) CreateSubscription(ctx context.Context, sub *models.Subscription) error {
	selectorJSON, err := json.Marshal(sub.Selector)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO subscriptions (id, owner_id, agent_id, kind, breadcrumb_id, selector, channels,
			delivery_throttle_ms, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,now())`,
		sub.ID, sub.Owner, sub.AgentID, string(sub.Kind), sub.BreadcrumbID, nullableJSON(selectorJSON),
		fromChannels(sub.Channels), sub.DeliveryThrottleMs)
	return err
}

func (s *Store) GetSubscription(ctx context.Context, owner, id string) (*models.Subscription, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, owner_id, agent_id, kind, breadcrumb_id, selector, channels, delivery_throttle_ms,
		       created_at, last_matched_at
		FROM subscriptions WHERE owner_id = $1 AND id = $2`, owner, id)
	sub, err := scanSubscription(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &store.ErrNotFound{Entity: "subscription", Key: id}
	}
	return sub, err
}

func (s *Store) ListSubscriptions(ctx context.Context, owner, agentID string) ([]models.Subscription, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, owner_id, agent_id, kind, breadcrumb_id, selector, channels, delivery_throttle_ms,
		       created_at, last_matched_at
		FROM subscriptions WHERE owner_id = $1 AND agent_id = $2`, owner, agentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSubscriptions(rows)
}

func (s *Store) DeleteSubscription(ctx context.Context, owner, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM subscriptions WHERE owner_id = $1 AND id = $2`, owner, id)
	return err
}

func (s *Store) SelectorSubscriptions(ctx context.Context, owner string) ([]models.Subscription, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, owner_id, agent_id, kind, breadcrumb_id, selector, channels, delivery_throttle_ms,
		       created_at, last_matched_at
		FROM subscriptions WHERE owner_id = $1 AND kind = 'selector'`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSubscriptions(rows)
}

func (s *Store) DirectSubscriptions(ctx context.Context, owner, breadcrumbID string) ([]models.Subscription, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, owner_id, agent_id, kind, breadcrumb_id, selector, channels, delivery_throttle_ms,
		       created_at, last_matched_at
		FROM subscriptions WHERE owner_id = $1 AND kind = 'direct' AND breadcrumb_id = $2`, owner, breadcrumbID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSubscriptions(rows)
}

func (s *Store) TouchSubscription(ctx context.Context, owner, id string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `UPDATE subscriptions SET last_matched_at = $1 WHERE owner_id = $2 AND id = $3`, at, owner, id)
	return err
}

func (s *Store) IdleSubscriptions(ctx context.Context, owner string, idleSince time.Time, limit int) ([]models.Subscription, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, owner_id, agent_id, kind, breadcrumb_id, selector, channels, delivery_throttle_ms,
		       created_at, last_matched_at
		FROM subscriptions
		WHERE owner_id = $1 AND COALESCE(last_matched_at, created_at) < $2
		LIMIT $3`, owner, idleSince, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSubscriptions(rows)
}

// ── ACL ──────────────────────────────────────────────────────

func (s *Store) CreateACLGrant(ctx context.Context, grant *models.ACLGrant) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO acl_grants (id, breadcrumb_id, grantee_agent_id, grantee_owner_id, actions, created_at)
		VALUES ($1,$2,$3,$4,$5,now())`,
		grant.ID, grant.BreadcrumbID, grant.GranteeAgentID, grant.GranteeOwnerID, fromActions(grant.Actions))
	return err
}

func (s *Store) RevokeACLGrant(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM acl_grants WHERE id = $1`, id)
	return err
}

func (s *Store) ListACLGrants(ctx context.Context, breadcrumbID string) ([]models.ACLGrant, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, breadcrumb_id, grantee_agent_id, grantee_owner_id, actions, created_at
		FROM acl_grants WHERE breadcrumb_id = $1`, breadcrumbID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ACLGrant
	for rows.Next() {
		var g models.ACLGrant
		var actions []string
		if err := rows.Scan(&g.ID, &g.BreadcrumbID, &g.GranteeAgentID, &g.GranteeOwnerID, &actions, &g.CreatedAt); err != nil {
			return nil, err
		}
		g.Actions = toActions(actions)
		out = append(out, g)
	}
	return out, rows.Err()
}

// ── Secret ───────────────────────────────────────────────────

func (s *Store) CreateSecret(ctx context.Context, secret *models.Secret) error {
	metaJSON, err := json.Marshal(secret.Metadata)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO secrets (id, owner_id, name, scope_type, scope_id, enc_blob, wrapped_dek, kek_id,
			metadata, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,now(),now())`,
		secret.ID, secret.Owner, secret.Name, string(secret.ScopeType), secret.ScopeID,
		secret.EncBlob, secret.WrappedDEK, secret.KEKID, nullableJSON(metaJSON))
	return err
}

func (s *Store) GetSecret(ctx context.Context, owner, id string) (*models.Secret, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, owner_id, name, scope_type, scope_id, enc_blob, wrapped_dek, kek_id, metadata,
		       created_at, updated_at
		FROM secrets WHERE owner_id = $1 AND id = $2`, owner, id)
	sec, err := scanSecret(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &store.ErrNotFound{Entity: "secret", Key: id}
	}
	return sec, err
}

func (s *Store) ListSecrets(ctx context.Context, owner string, scopeType models.SecretScope, scopeID string) ([]models.Secret, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, owner_id, name, scope_type, scope_id, enc_blob, wrapped_dek, kek_id, metadata,
		       created_at, updated_at
		FROM secrets WHERE owner_id = $1 AND scope_type = $2 AND scope_id = $3`, owner, string(scopeType), scopeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Secret
	for rows.Next() {
		sec, err := scanSecret(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sec)
	}
	return out, rows.Err()
}

func (s *Store) UpdateSecret(ctx context.Context, secret *models.Secret) error {
	metaJSON, err := json.Marshal(secret.Metadata)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		UPDATE secrets SET enc_blob=$1, wrapped_dek=$2, kek_id=$3, metadata=$4, updated_at=now()
		WHERE owner_id = $5 AND id = $6`,
		secret.EncBlob, secret.WrappedDEK, secret.KEKID, nullableJSON(metaJSON), secret.Owner, secret.ID)
	return err
}

func (s *Store) DeleteSecret(ctx context.Context, owner, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM secrets WHERE owner_id = $1 AND id = $2`, owner, id)
	return err
}

func (s *Store) RecordSecretAudit(ctx context.Context, entry *models.SecretAuditEntry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO secret_audit (secret_id, actor_id, reason, ts) VALUES ($1,$2,$3,$4)`,
		entry.SecretID, entry.ActorID, entry.Reason, entry.Timestamp)
	return err
}

func (s *Store) SecretsByKEK(ctx context.Context, kekID string, limit int) ([]models.Secret, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, owner_id, name, scope_type, scope_id, enc_blob, wrapped_dek, kek_id, metadata,
		       created_at, updated_at
		FROM secrets WHERE kek_id = $1 LIMIT $2`, kekID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Secret
	for rows.Next() {
		sec, err := scanSecret(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sec)
	}
	return out, rows.Err()
}

// ── Delivery ─────────────────────────────────────────────────

func (s *Store) CreateDelivery(ctx context.Context, d *models.Delivery) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO deliveries (id, owner_id, subscription_id, agent_id, event_id, payload, status,
			attempt_count, next_attempt_at, last_status, last_error, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,now(),now())`,
		d.ID, d.Owner, d.SubscriptionID, d.AgentID, d.EventID, d.Payload, string(d.Status),
		d.AttemptCount, d.NextAttemptAt, d.LastStatus, d.LastError)
	return err
}

func (s *Store) UpdateDelivery(ctx context.Context, d *models.Delivery) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE deliveries SET status=$1, attempt_count=$2, next_attempt_at=$3, last_status=$4,
			last_error=$5, updated_at=now()
		WHERE id = $6`,
		string(d.Status), d.AttemptCount, d.NextAttemptAt, d.LastStatus, d.LastError, d.ID)
	return err
}

func (s *Store) GetDelivery(ctx context.Context, id string) (*models.Delivery, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, owner_id, subscription_id, agent_id, event_id, payload, status, attempt_count,
		       next_attempt_at, last_status, last_error, created_at, updated_at
		FROM deliveries WHERE id = $1`, id)
	d, err := scanDelivery(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &store.ErrNotFound{Entity: "delivery", Key: id}
	}
	return d, err
}

// ClaimDueDeliveries atomically leases due rows by flipping them to Sending
// with SELECT ... FOR UPDATE SKIP LOCKED, so concurrent dispatcher workers
// (in this process or another replica) never double-claim a row.
func (s *Store) ClaimDueDeliveries(ctx context.Context, limit int, leaseUntil time.Time) ([]models.Delivery, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT id FROM deliveries
		WHERE status IN ('pending', 'failing', 'sending') AND next_attempt_at <= now()
		ORDER BY next_attempt_at ASC LIMIT $1 FOR UPDATE SKIP LOCKED`, limit)
	if err != nil {
		return nil, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if len(ids) == 0 {
		return nil, tx.Commit(ctx)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE deliveries SET status = 'sending', next_attempt_at = $1 WHERE id = ANY($2)`,
		leaseUntil, ids); err != nil {
		return nil, err
	}

	claimed, err := tx.Query(ctx, `
		SELECT id, owner_id, subscription_id, agent_id, event_id, payload, status, attempt_count,
		       next_attempt_at, last_status, last_error, created_at, updated_at
		FROM deliveries WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer claimed.Close()

	var out []models.Delivery
	for claimed.Next() {
		d, err := scanDelivery(claimed)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	if err := claimed.Err(); err != nil {
		return nil, err
	}
	return out, tx.Commit(ctx)
}

func (s *Store) ListDLQ(ctx context.Context, owner string, limit int) ([]models.Delivery, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT d.id, d.owner_id, d.subscription_id, d.agent_id, d.event_id, d.payload, d.status, d.attempt_count,
		       d.next_attempt_at, d.last_status, d.last_error, d.created_at, d.updated_at
		FROM deliveries d
		WHERE d.owner_id = $1 AND d.status = 'dead_lettered'
		ORDER BY d.updated_at DESC LIMIT $2`, owner, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Delivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func (s *Store) CancelDeliveriesForSubscription(ctx context.Context, subscriptionID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE deliveries SET status = 'canceled', updated_at = now()
		WHERE subscription_id = $1 AND status IN ('pending', 'failing', 'sending')`, subscriptionID)
	return err
}

// ── Idempotency ───────────────────────────────────────────────

func (s *Store) GetIdempotent(ctx context.Context, owner, actor, key string) (string, bool, error) {
	var breadcrumbID string
	err := s.pool.QueryRow(ctx, `
		SELECT breadcrumb_id FROM idempotency_keys
		WHERE owner_id = $1 AND actor = $2 AND key = $3 AND expires_at > now()`, owner, actor, key).
		Scan(&breadcrumbID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return breadcrumbID, true, nil
}

func (s *Store) PutIdempotent(ctx context.Context, owner, actor, key, breadcrumbID string, ttl time.Duration) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO idempotency_keys (owner_id, actor, key, breadcrumb_id, expires_at)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (owner_id, actor, key) DO UPDATE SET breadcrumb_id = EXCLUDED.breadcrumb_id,
			expires_at = EXCLUDED.expires_at`,
		owner, actor, key, breadcrumbID, time.Now().Add(ttl))
	return err
}

func (s *Store) FanoutWatermark(ctx context.Context, owner string) (time.Time, error) {
	var mark time.Time
	err := s.pool.QueryRow(ctx, `SELECT watermark FROM fanout_watermarks WHERE owner_id = $1`, owner).Scan(&mark)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, nil
	}
	return mark, err
}

func (s *Store) AdvanceFanoutWatermark(ctx context.Context, owner string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO fanout_watermarks (owner_id, watermark) VALUES ($1, $2)
		ON CONFLICT (owner_id) DO UPDATE SET watermark = EXCLUDED.watermark`, owner, at)
	return err
}

// ── scan helpers ───────────────────────────────────────────────

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBreadcrumbTx(ctx context.Context, tx pgx.Tx, owner, id string) (*models.Breadcrumb, error) {
	row := tx.QueryRow(ctx, `
		SELECT id, owner_id, title, schema_name, context, tags, version, checksum, visibility,
		       sensitivity, ttl_source, expires_at, read_limit, read_count, created_at, updated_at,
		       created_by, updated_by, size_bytes, llm_hints
		FROM breadcrumbs WHERE owner_id = $1 AND id = $2 AND deleted_at IS NULL`, owner, id)
	b, err := scanListedBreadcrumb(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &store.ErrNotFound{Entity: "breadcrumb", Key: id}
	}
	return b, err
}

func scanBreadcrumbByIDTx(ctx context.Context, tx pgx.Tx, id string) (*models.Breadcrumb, error) {
	row := tx.QueryRow(ctx, `
		SELECT id, owner_id, title, schema_name, context, tags, version, checksum, visibility,
		       sensitivity, ttl_source, expires_at, read_limit, read_count, created_at, updated_at,
		       created_by, updated_by, size_bytes, llm_hints
		FROM breadcrumbs WHERE id = $1 AND deleted_at IS NULL`, id)
	b, err := scanListedBreadcrumb(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &store.ErrNotFound{Entity: "breadcrumb", Key: id}
	}
	return b, err
}

func scanListedBreadcrumb(row rowScanner) (*models.Breadcrumb, error) {
	var b models.Breadcrumb
	var visibility, sensitivity, ttlSource string
	if err := row.Scan(&b.ID, &b.Owner, &b.Title, &b.SchemaName, &b.Context, &b.Tags, &b.Version, &b.Checksum,
		&visibility, &sensitivity, &ttlSource, &b.TTL.ExpiresAt, &b.TTL.ReadLimit, &b.ReadCount,
		&b.CreatedAt, &b.UpdatedAt, &b.CreatedBy, &b.UpdatedBy, &b.SizeBytes, &b.LLMHints); err != nil {
		return nil, err
	}
	b.Visibility = models.Visibility(visibility)
	b.Sensitivity = models.Sensitivity(sensitivity)
	b.TTL.Source = models.TTLSource(ttlSource)
	return &b, nil
}

func scanSubscription(row rowScanner) (*models.Subscription, error) {
	var sub models.Subscription
	var kind string
	var channels []string
	var selectorJSON []byte
	if err := row.Scan(&sub.ID, &sub.Owner, &sub.AgentID, &kind, &sub.BreadcrumbID, &selectorJSON, &channels,
		&sub.DeliveryThrottleMs, &sub.CreatedAt, &sub.LastMatchedAt); err != nil {
		return nil, err
	}
	sub.Kind = models.SubscriptionKind(kind)
	sub.Channels = toChannels(channels)
	if len(selectorJSON) > 0 {
		var sel models.Selector
		if err := json.Unmarshal(selectorJSON, &sel); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal selector: %w", err)
		}
		sub.Selector = &sel
	}
	return &sub, nil
}

func scanSubscriptions(rows pgx.Rows) ([]models.Subscription, error) {
	var out []models.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sub)
	}
	return out, rows.Err()
}

func scanSecret(row rowScanner) (*models.Secret, error) {
	var sec models.Secret
	var scopeType string
	var metaJSON []byte
	if err := row.Scan(&sec.ID, &sec.Owner, &sec.Name, &scopeType, &sec.ScopeID, &sec.EncBlob, &sec.WrappedDEK,
		&sec.KEKID, &metaJSON, &sec.CreatedAt, &sec.UpdatedAt); err != nil {
		return nil, err
	}
	sec.ScopeType = models.SecretScope(scopeType)
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &sec.Metadata); err != nil {
			return nil, err
		}
	}
	return &sec, nil
}

func scanDelivery(row rowScanner) (*models.Delivery, error) {
	var d models.Delivery
	var status string
	if err := row.Scan(&d.ID, &d.Owner, &d.SubscriptionID, &d.AgentID, &d.EventID, &d.Payload, &status, &d.AttemptCount,
		&d.NextAttemptAt, &d.LastStatus, &d.LastError, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return nil, err
	}
	d.Status = models.DeliveryStatus(status)
	return &d, nil
}

func asNotFound(err error) (*store.ErrNotFound, bool) {
	var nf *store.ErrNotFound
	if errors.As(err, &nf) {
		return nf, true
	}
	return nil, false
}

// ── type conversions ─────────────────────────────────────────

func toAgentRoles(raw []string) []models.AgentRole {
	out := make([]models.AgentRole, len(raw))
	for i, r := range raw {
		out[i] = models.AgentRole(r)
	}
	return out
}

func fromAgentRoles(roles []models.AgentRole) []string {
	out := make([]string, len(roles))
	for i, r := range roles {
		out[i] = string(r)
	}
	return out
}

func toChannels(raw []string) []models.DeliveryChannel {
	out := make([]models.DeliveryChannel, len(raw))
	for i, c := range raw {
		out[i] = models.DeliveryChannel(c)
	}
	return out
}

func fromChannels(channels []models.DeliveryChannel) []string {
	out := make([]string, len(channels))
	for i, c := range channels {
		out[i] = string(c)
	}
	return out
}

func toActions(raw []string) []models.ACLAction {
	out := make([]models.ACLAction, len(raw))
	for i, a := range raw {
		out[i] = models.ACLAction(a)
	}
	return out
}

func fromActions(actions []models.ACLAction) []string {
	out := make([]string, len(actions))
	for i, a := range actions {
		out[i] = string(a)
	}
	return out
}

// vectorLiteral renders a float32 embedding as pgvector's text input
// format, following the teacher's pgvector.go formatting.
func vectorLiteral(v []float32) *string {
	if len(v) == 0 {
		return nil
	}
	var sb strings.Builder
	sb.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			sb.WriteByte(',')
		}
		fmt.Fprintf(&sb, "%g", f)
	}
	sb.WriteByte(']')
	s := sb.String()
	return &s
}

func nullableJSON(raw []byte) any {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return raw
}

