package store

import (
	"context"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/Ai-Layer-Labs/breadcrumb-core/pkg/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// snapshot is the JSON-serializable shape written to disk.
type snapshot struct {
	Tenants       map[string]*models.Tenant        `json:"tenants"`
	Agents        map[string]*models.Agent         `json:"agents"`
	Breadcrumbs   map[string]*models.Breadcrumb     `json:"breadcrumbs"`
	History       map[string][]*models.HistoryEntry `json:"history"`
	Subscriptions map[string]*models.Subscription  `json:"subscriptions"`
	ACL           map[string][]*models.ACLGrant     `json:"acl"`
	Secrets       map[string]*models.Secret        `json:"secrets"`
	Deliveries    map[string]*models.Delivery       `json:"deliveries"`
}

type idempotencyRecord struct {
	BreadcrumbID string
	ExpiresAt    time.Time
}

// MemoryStore implements Store with in-memory maps, guarded by a single
// RWMutex and optionally persisted to a debounced JSON snapshot on disk —
// suitable for local dev and tests, not for concurrent production traffic.
type MemoryStore struct {
	mu            sync.RWMutex
	tenants       map[string]*models.Tenant         // key: id
	agents        map[string]*models.Agent          // key: owner:id
	breadcrumbs   map[string]*models.Breadcrumb      // key: id
	history       map[string][]*models.HistoryEntry // key: breadcrumb id, ascending by version
	subscriptions map[string]*models.Subscription   // key: id
	acl           map[string][]*models.ACLGrant     // key: breadcrumb id
	secrets       map[string]*models.Secret         // key: id
	secretAudit   []*models.SecretAuditEntry
	deliveries    map[string]*models.Delivery // key: id
	idempotency   map[string]idempotencyRecord // key: owner:actor:key
	watermark     map[string]time.Time         // key: owner

	snapshotPath string
	saveMu       sync.Mutex
	saveCh       chan struct{}
	doneCh       chan struct{}
}

// NewMemoryStore creates an in-memory store. If BREADCRUMB_DATA_DIR is set,
// data is persisted to a JSON file in that directory; otherwise the store
// is purely in-process.
func NewMemoryStore() *MemoryStore {
	m := &MemoryStore{
		tenants:       make(map[string]*models.Tenant),
		agents:        make(map[string]*models.Agent),
		breadcrumbs:   make(map[string]*models.Breadcrumb),
		history:       make(map[string][]*models.HistoryEntry),
		subscriptions: make(map[string]*models.Subscription),
		acl:           make(map[string][]*models.ACLGrant),
		secrets:       make(map[string]*models.Secret),
		deliveries:    make(map[string]*models.Delivery),
		idempotency:   make(map[string]idempotencyRecord),
		watermark:     make(map[string]time.Time),
		saveCh:        make(chan struct{}, 1),
		doneCh:        make(chan struct{}),
	}

	if dataDir := os.Getenv("BREADCRUMB_DATA_DIR"); dataDir != "" {
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			log.Warn().Err(err).Str("dir", dataDir).Msg("Cannot create data dir, persistence disabled")
		} else {
			m.snapshotPath = filepath.Join(dataDir, "data.json")
			m.loadSnapshot()
			go m.saveLoop()
		}
	}

	log.Info().Str("snapshot", m.snapshotPath).Msg("Memory store configured")
	return m
}

func (m *MemoryStore) requestSave() {
	if m.snapshotPath == "" {
		return
	}
	select {
	case m.saveCh <- struct{}{}:
	default:
	}
}

func (m *MemoryStore) saveLoop() {
	for {
		select {
		case <-m.doneCh:
			return
		case <-m.saveCh:
			time.Sleep(500 * time.Millisecond)
			m.saveSnapshot()
		}
	}
}

func (m *MemoryStore) saveSnapshot() {
	m.mu.RLock()
	snap := snapshot{
		Tenants:       m.tenants,
		Agents:        m.agents,
		Breadcrumbs:   m.breadcrumbs,
		History:       m.history,
		Subscriptions: m.subscriptions,
		ACL:           m.acl,
		Secrets:       m.secrets,
		Deliveries:    m.deliveries,
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	m.mu.RUnlock()
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal snapshot")
		return
	}

	m.saveMu.Lock()
	defer m.saveMu.Unlock()
	tmp := m.snapshotPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		log.Error().Err(err).Str("path", tmp).Msg("Failed to write snapshot tmp")
		return
	}
	if err := os.Rename(tmp, m.snapshotPath); err != nil {
		log.Error().Err(err).Str("path", m.snapshotPath).Msg("Failed to rename snapshot")
	}
}

func (m *MemoryStore) loadSnapshot() {
	data, err := os.ReadFile(m.snapshotPath)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Str("path", m.snapshotPath).Msg("Failed to read snapshot")
		}
		return
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		log.Error().Err(err).Msg("Failed to unmarshal snapshot, starting fresh")
		return
	}
	if snap.Tenants != nil {
		m.tenants = snap.Tenants
	}
	if snap.Agents != nil {
		m.agents = snap.Agents
	}
	if snap.Breadcrumbs != nil {
		m.breadcrumbs = snap.Breadcrumbs
	}
	if snap.History != nil {
		m.history = snap.History
	}
	if snap.Subscriptions != nil {
		m.subscriptions = snap.Subscriptions
	}
	if snap.ACL != nil {
		m.acl = snap.ACL
	}
	if snap.Secrets != nil {
		m.secrets = snap.Secrets
	}
	if snap.Deliveries != nil {
		m.deliveries = snap.Deliveries
	}
}

func (m *MemoryStore) Ping(_ context.Context) error    { return nil }
func (m *MemoryStore) Migrate(_ context.Context) error { return nil }
func (m *MemoryStore) Close() error {
	if m.snapshotPath != "" {
		close(m.doneCh)
		m.saveSnapshot()
	}
	return nil
}

// ── Tenant ───────────────────────────────────────────────────

func agentKey(owner, id string) string { return owner + ":" + id }

func (m *MemoryStore) GetTenant(_ context.Context, id string) (*models.Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tenants[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "tenant", Key: id}
	}
	cp := *t
	return &cp, nil
}

func (m *MemoryStore) CreateTenant(_ context.Context, tenant *models.Tenant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tenant.ID == "" {
		tenant.ID = uuid.NewString()
	}
	if tenant.CreatedAt.IsZero() {
		tenant.CreatedAt = time.Now().UTC()
	}
	cp := *tenant
	m.tenants[tenant.ID] = &cp
	m.requestSave()
	return nil
}

func (m *MemoryStore) ListTenants(_ context.Context) ([]models.Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Tenant, 0, len(m.tenants))
	for _, t := range m.tenants {
		out = append(out, *t)
	}
	return out, nil
}

// ── Agent ────────────────────────────────────────────────────

func (m *MemoryStore) GetAgent(_ context.Context, owner, id string) (*models.Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.agents[agentKey(owner, id)]
	if !ok {
		return nil, &ErrNotFound{Entity: "agent", Key: id}
	}
	cp := *a
	return &cp, nil
}

func (m *MemoryStore) UpsertAgent(_ context.Context, agent *models.Agent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	if agent.CreatedAt.IsZero() {
		agent.CreatedAt = now
	}
	agent.UpdatedAt = now
	cp := *agent
	m.agents[agentKey(agent.Owner, agent.ID)] = &cp
	m.requestSave()
	return nil
}

func (m *MemoryStore) DeleteAgent(_ context.Context, owner, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.agents, agentKey(owner, id))
	m.requestSave()
	return nil
}

func (m *MemoryStore) ListAgents(_ context.Context, owner string) ([]models.Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Agent, 0)
	for _, a := range m.agents {
		if a.Owner == owner {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ── Breadcrumb ───────────────────────────────────────────────

func (m *MemoryStore) CreateBreadcrumb(_ context.Context, b *models.Breadcrumb, actor, idempotencyKey string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if idempotencyKey != "" {
		if rec, ok := m.idempotency[b.Owner+":"+actor+":"+idempotencyKey]; ok && time.Now().Before(rec.ExpiresAt) {
			b.ID = rec.BreadcrumbID
			if existing, ok := m.breadcrumbs[rec.BreadcrumbID]; ok {
				*b = *existing
			}
			return false, nil
		}
	}

	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	b.Version = 1
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = now
	cp := *b
	m.breadcrumbs[b.ID] = &cp

	if idempotencyKey != "" {
		m.idempotency[b.Owner+":"+actor+":"+idempotencyKey] = idempotencyRecord{
			BreadcrumbID: b.ID,
			ExpiresAt:    now.Add(24 * time.Hour),
		}
	}
	m.requestSave()
	return true, nil
}

func (m *MemoryStore) UpdateBreadcrumb(_ context.Context, owner, id string, expectedVersion int64, patch func(*models.Breadcrumb) error) (*models.Breadcrumb, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.breadcrumbs[id]
	if !ok || stored.Owner != owner || stored.DeletedAt != nil {
		return nil, &ErrNotFound{Entity: "breadcrumb", Key: id}
	}
	if stored.Version != expectedVersion {
		return nil, &ErrVersionMismatch{Expected: expectedVersion, Actual: stored.Version}
	}

	pre := *stored
	updated := *stored
	if err := patch(&updated); err != nil {
		return nil, err
	}
	updated.Version = stored.Version + 1
	updated.UpdatedAt = time.Now().UTC()

	m.history[id] = append(m.history[id], &models.HistoryEntry{
		BreadcrumbID: id,
		Version:      pre.Version,
		Context:      pre.Context,
		Checksum:     pre.Checksum,
		UpdatedAt:    pre.UpdatedAt,
		UpdatedBy:    pre.UpdatedBy,
	})

	cp := updated
	m.breadcrumbs[id] = &cp
	m.requestSave()
	out := cp
	return &out, nil
}

func (m *MemoryStore) hasACL(breadcrumbID, ownerOrAgent string, action models.ACLAction, asOwner bool) bool {
	for _, g := range m.acl[breadcrumbID] {
		match := (asOwner && g.GranteeOwnerID == ownerOrAgent) || (!asOwner && g.GranteeAgentID == ownerOrAgent)
		if !match {
			continue
		}
		for _, a := range g.Actions {
			if a == action {
				return true
			}
		}
	}
	return false
}

func (m *MemoryStore) GetBreadcrumb(_ context.Context, owner, id, requesterAgent string) (*models.Breadcrumb, error) {
	m.mu.RLock()
	b, ok := m.breadcrumbs[id]
	if !ok || b.DeletedAt != nil {
		m.mu.RUnlock()
		return nil, &ErrNotFound{Entity: "breadcrumb", Key: id}
	}
	if b.Owner != owner {
		allowed := m.hasACL(id, requesterAgent, models.ActionReadContext, false) ||
			m.hasACL(id, owner, models.ActionReadContext, true)
		if !allowed {
			m.mu.RUnlock()
			return nil, &ErrNotFound{Entity: "breadcrumb", Key: id}
		}
	}
	cp := *b
	m.mu.RUnlock()
	return &cp, nil
}

func (m *MemoryStore) IncrementReadCount(_ context.Context, owner, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.breadcrumbs[id]
	if !ok || b.Owner != owner {
		return &ErrNotFound{Entity: "breadcrumb", Key: id}
	}
	b.ReadCount++
	return nil
}

func (m *MemoryStore) ListBreadcrumbs(_ context.Context, owner string, filter BreadcrumbFilter) (Page, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []*models.Breadcrumb
	for _, b := range m.breadcrumbs {
		if b.Owner != owner || b.DeletedAt != nil {
			continue
		}
		if filter.Tag != "" && !containsStr(b.Tags, filter.Tag) {
			continue
		}
		if filter.SchemaName != "" && b.SchemaName != filter.SchemaName {
			continue
		}
		if filter.UpdatedSince != nil && !b.UpdatedAt.After(*filter.UpdatedSince) {
			continue
		}
		matched = append(matched, b)
	}
	// Most recently updated first, matching the postgres backend's
	// ORDER BY updated_at DESC, id DESC so ListBreadcrumbs returns the
	// same ordering regardless of which Store implementation is wired.
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].UpdatedAt.Equal(matched[j].UpdatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].UpdatedAt.After(matched[j].UpdatedAt)
	})

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	start := 0
	if filter.Cursor != "" {
		if cursorTime, cursorID, ok := DecodeCursor(filter.Cursor); ok {
			for i, b := range matched {
				if b.UpdatedAt.Before(cursorTime) || (b.UpdatedAt.Equal(cursorTime) && b.ID < cursorID) {
					start = i
					break
				}
				start = i + 1
			}
		}
	}
	end := start + limit
	if end > len(matched) {
		end = len(matched)
	}
	var page []models.ListItem
	var next string
	if start < len(matched) {
		for _, b := range matched[start:end] {
			page = append(page, models.ListItem{
				ID: b.ID, Title: b.Title, Tags: b.Tags,
				SchemaName: b.SchemaName, Version: b.Version, UpdatedAt: b.UpdatedAt,
			})
		}
		if end < len(matched) {
			last := matched[end-1]
			next = EncodeCursor(last.UpdatedAt, last.ID)
		}
	}
	return Page{Items: page, NextCursor: next}, nil
}

func (m *MemoryStore) DeleteBreadcrumb(_ context.Context, owner, id string, expectedVersion int64) (*models.Breadcrumb, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.breadcrumbs[id]
	if !ok || b.Owner != owner || b.DeletedAt != nil {
		return nil, &ErrNotFound{Entity: "breadcrumb", Key: id}
	}
	if expectedVersion != 0 && b.Version != expectedVersion {
		return nil, &ErrVersionMismatch{Expected: expectedVersion, Actual: b.Version}
	}
	now := time.Now().UTC()
	b.DeletedAt = &now
	b.UpdatedAt = now
	m.requestSave()
	cp := *b
	return &cp, nil
}

func (m *MemoryStore) NearestBreadcrumbs(_ context.Context, owner string, query []float32, filter SearchFilter) ([]models.SearchResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	type scored struct {
		id    string
		score float64
	}
	var candidates []scored
	for _, b := range m.breadcrumbs {
		if b.Owner != owner || b.DeletedAt != nil || len(b.Embedding) != len(query) {
			continue
		}
		if filter.SchemaName != "" && b.SchemaName != filter.SchemaName {
			continue
		}
		if filter.Tag != "" && !containsStr(b.Tags, filter.Tag) {
			continue
		}
		candidates = append(candidates, scored{id: b.ID, score: cosineSimilarity32(query, b.Embedding)})
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })

	k := filter.TopK
	if k <= 0 || k > len(candidates) {
		k = len(candidates)
	}
	out := make([]models.SearchResult, k)
	for i := 0; i < k; i++ {
		out[i] = models.SearchResult{ID: candidates[i].id, Score: candidates[i].score}
	}
	return out, nil
}

func (m *MemoryStore) ExpiredBreadcrumbs(_ context.Context, owner string, now time.Time, limit int) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for _, b := range m.breadcrumbs {
		if owner != "" && b.Owner != owner {
			continue
		}
		if b.DeletedAt != nil {
			continue
		}
		expired := false
		if b.TTL.ExpiresAt != nil && !b.TTL.ExpiresAt.After(now) {
			expired = true
		}
		if b.TTL.ReadLimit != nil && b.ReadCount >= *b.TTL.ReadLimit {
			expired = true
		}
		if expired {
			out = append(out, b.ID)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (m *MemoryStore) BreadcrumbsUpdatedSince(_ context.Context, owner string, since time.Time, limit int) ([]models.Breadcrumb, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Breadcrumb
	for _, b := range m.breadcrumbs {
		if owner != "" && b.Owner != owner {
			continue
		}
		if b.UpdatedAt.After(since) {
			out = append(out, *b)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out, nil
}

// ── History ──────────────────────────────────────────────────

func (m *MemoryStore) AppendHistory(_ context.Context, entry *models.HistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history[entry.BreadcrumbID] = append(m.history[entry.BreadcrumbID], entry)
	m.requestSave()
	return nil
}

func (m *MemoryStore) ListHistory(_ context.Context, owner, breadcrumbID string) ([]models.HistoryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if b, ok := m.breadcrumbs[breadcrumbID]; !ok || b.Owner != owner {
		return nil, &ErrNotFound{Entity: "breadcrumb", Key: breadcrumbID}
	}
	entries := m.history[breadcrumbID]
	out := make([]models.HistoryEntry, len(entries))
	for i, e := range entries {
		out[len(entries)-1-i] = *e
	}
	return out, nil
}

func (m *MemoryStore) PruneHistory(_ context.Context, owner string, olderThan time.Time, keepVersions int, limit int) ([]models.HistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var pruned []models.HistoryEntry
	for id, entries := range m.history {
		b, ok := m.breadcrumbs[id]
		if !ok || (owner != "" && b.Owner != owner) {
			continue
		}
		keep := entries
		if !olderThan.IsZero() {
			var filtered []*models.HistoryEntry
			for _, e := range keep {
				if e.UpdatedAt.Before(olderThan) {
					pruned = append(pruned, *e)
				} else {
					filtered = append(filtered, e)
				}
			}
			keep = filtered
		}
		if keepVersions > 0 && len(keep) > keepVersions {
			cut := len(keep) - keepVersions
			for _, e := range keep[:cut] {
				pruned = append(pruned, *e)
			}
			keep = keep[cut:]
		}
		m.history[id] = keep
		if limit > 0 && len(pruned) >= limit {
			break
		}
	}
	if len(pruned) > 0 {
		m.requestSave()
	}
	return pruned, nil
}

// ── Subscription ─────────────────────────────────────────────

func (m *MemoryStore) CreateSubscription(_ context.Context, sub *models.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now().UTC()
	}
	cp := *sub
	m.subscriptions[sub.ID] = &cp
	m.requestSave()
	return nil
}

func (m *MemoryStore) GetSubscription(_ context.Context, owner, id string) (*models.Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.subscriptions[id]
	if !ok || s.Owner != owner {
		return nil, &ErrNotFound{Entity: "subscription", Key: id}
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) ListSubscriptions(_ context.Context, owner, agentID string) ([]models.Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Subscription
	for _, s := range m.subscriptions {
		if s.Owner != owner {
			continue
		}
		if agentID != "" && s.AgentID != agentID {
			continue
		}
		out = append(out, *s)
	}
	return out, nil
}

func (m *MemoryStore) DeleteSubscription(_ context.Context, owner, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.subscriptions[id]; ok && s.Owner == owner {
		delete(m.subscriptions, id)
		m.requestSave()
	}
	return nil
}

func (m *MemoryStore) SelectorSubscriptions(_ context.Context, owner string) ([]models.Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Subscription
	for _, s := range m.subscriptions {
		if s.Owner == owner && s.Kind == models.SubscriptionSelector {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) DirectSubscriptions(_ context.Context, owner, breadcrumbID string) ([]models.Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Subscription
	for _, s := range m.subscriptions {
		if s.Owner == owner && s.Kind == models.SubscriptionDirect && s.BreadcrumbID == breadcrumbID {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (m *MemoryStore) TouchSubscription(_ context.Context, owner, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.subscriptions[id]; ok && s.Owner == owner {
		s.LastMatchedAt = &at
	}
	return nil
}

func (m *MemoryStore) IdleSubscriptions(_ context.Context, owner string, idleSince time.Time, limit int) ([]models.Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Subscription
	for _, s := range m.subscriptions {
		if s.Owner != owner {
			continue
		}
		last := s.CreatedAt
		if s.LastMatchedAt != nil {
			last = *s.LastMatchedAt
		}
		if last.Before(idleSince) {
			out = append(out, *s)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

// ── ACL ──────────────────────────────────────────────────────

func (m *MemoryStore) CreateACLGrant(_ context.Context, grant *models.ACLGrant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if grant.ID == "" {
		grant.ID = uuid.NewString()
	}
	if grant.CreatedAt.IsZero() {
		grant.CreatedAt = time.Now().UTC()
	}
	m.acl[grant.BreadcrumbID] = append(m.acl[grant.BreadcrumbID], grant)
	m.requestSave()
	return nil
}

func (m *MemoryStore) RevokeACLGrant(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for bID, grants := range m.acl {
		for i, g := range grants {
			if g.ID == id {
				m.acl[bID] = append(grants[:i], grants[i+1:]...)
				m.requestSave()
				return nil
			}
		}
	}
	return &ErrNotFound{Entity: "acl_grant", Key: id}
}

func (m *MemoryStore) ListACLGrants(_ context.Context, breadcrumbID string) ([]models.ACLGrant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	grants := m.acl[breadcrumbID]
	out := make([]models.ACLGrant, len(grants))
	for i, g := range grants {
		out[i] = *g
	}
	return out, nil
}

// ── Secret ───────────────────────────────────────────────────

func (m *MemoryStore) CreateSecret(_ context.Context, secret *models.Secret) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if secret.ID == "" {
		secret.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if secret.CreatedAt.IsZero() {
		secret.CreatedAt = now
	}
	secret.UpdatedAt = now
	cp := *secret
	m.secrets[secret.ID] = &cp
	m.requestSave()
	return nil
}

func (m *MemoryStore) GetSecret(_ context.Context, owner, id string) (*models.Secret, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.secrets[id]
	if !ok || s.Owner != owner {
		return nil, &ErrNotFound{Entity: "secret", Key: id}
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) ListSecrets(_ context.Context, owner string, scopeType models.SecretScope, scopeID string) ([]models.Secret, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Secret
	for _, s := range m.secrets {
		if s.Owner != owner {
			continue
		}
		if scopeType != "" && s.ScopeType != scopeType {
			continue
		}
		if scopeID != "" && s.ScopeID != scopeID {
			continue
		}
		out = append(out, *s)
	}
	return out, nil
}

func (m *MemoryStore) UpdateSecret(_ context.Context, secret *models.Secret) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.secrets[secret.ID]; !ok {
		return &ErrNotFound{Entity: "secret", Key: secret.ID}
	}
	secret.UpdatedAt = time.Now().UTC()
	cp := *secret
	m.secrets[secret.ID] = &cp
	m.requestSave()
	return nil
}

func (m *MemoryStore) DeleteSecret(_ context.Context, owner, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.secrets[id]; ok && s.Owner == owner {
		delete(m.secrets, id)
		m.requestSave()
	}
	return nil
}

func (m *MemoryStore) RecordSecretAudit(_ context.Context, entry *models.SecretAuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.secretAudit = append(m.secretAudit, entry)
	return nil
}

func (m *MemoryStore) SecretsByKEK(_ context.Context, kekID string, limit int) ([]models.Secret, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Secret
	for _, s := range m.secrets {
		if s.KEKID == kekID {
			out = append(out, *s)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

// ── Delivery ─────────────────────────────────────────────────

func (m *MemoryStore) CreateDelivery(_ context.Context, d *models.Delivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now
	cp := *d
	m.deliveries[d.ID] = &cp
	m.requestSave()
	return nil
}

func (m *MemoryStore) UpdateDelivery(_ context.Context, d *models.Delivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.deliveries[d.ID]; !ok {
		return &ErrNotFound{Entity: "delivery", Key: d.ID}
	}
	d.UpdatedAt = time.Now().UTC()
	cp := *d
	m.deliveries[d.ID] = &cp
	m.requestSave()
	return nil
}

func (m *MemoryStore) GetDelivery(_ context.Context, id string) (*models.Delivery, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.deliveries[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "delivery", Key: id}
	}
	cp := *d
	return &cp, nil
}

func (m *MemoryStore) ClaimDueDeliveries(_ context.Context, limit int, leaseUntil time.Time) ([]models.Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	var claimed []models.Delivery
	for _, d := range m.deliveries {
		if d.Status != models.DeliveryPending && d.Status != models.DeliveryFailing && d.Status != models.DeliverySending {
			continue
		}
		if d.NextAttemptAt.After(now) {
			continue
		}
		d.Status = models.DeliverySending
		d.NextAttemptAt = leaseUntil
		claimed = append(claimed, *d)
		if limit > 0 && len(claimed) >= limit {
			break
		}
	}
	if len(claimed) > 0 {
		m.requestSave()
	}
	return claimed, nil
}

func (m *MemoryStore) ListDLQ(_ context.Context, owner string, limit int) ([]models.Delivery, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Delivery
	for _, d := range m.deliveries {
		if d.Status != models.DeliveryDeadLettered {
			continue
		}
		if s, ok := m.subscriptions[d.SubscriptionID]; ok && owner != "" && s.Owner != owner {
			continue
		}
		out = append(out, *d)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryStore) CancelDeliveriesForSubscription(_ context.Context, subscriptionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.deliveries {
		if d.SubscriptionID == subscriptionID &&
			(d.Status == models.DeliveryPending || d.Status == models.DeliveryFailing || d.Status == models.DeliverySending) {
			d.Status = models.DeliveryCanceled
		}
	}
	m.requestSave()
	return nil
}

// ── Idempotency / watermark ────────────────────────────────────

func (m *MemoryStore) GetIdempotent(_ context.Context, owner, actor, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.idempotency[owner+":"+actor+":"+key]
	if !ok || time.Now().After(rec.ExpiresAt) {
		return "", false, nil
	}
	return rec.BreadcrumbID, true, nil
}

func (m *MemoryStore) PutIdempotent(_ context.Context, owner, actor, key, breadcrumbID string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.idempotency[owner+":"+actor+":"+key] = idempotencyRecord{
		BreadcrumbID: breadcrumbID,
		ExpiresAt:    time.Now().Add(ttl),
	}
	return nil
}

func (m *MemoryStore) FanoutWatermark(_ context.Context, owner string) (time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.watermark[owner], nil
}

func (m *MemoryStore) AdvanceFanoutWatermark(_ context.Context, owner string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.watermark[owner] = at
	return nil
}

// ── Helpers ──────────────────────────────────────────────────

func containsStr(xs []string, x string) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

func cosineSimilarity32(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
