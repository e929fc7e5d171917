// Package handlers implements the HTTP surface of spec §6.1 on top of the
// write path, read path, fanout engine, and SSE hub. Every handler reads
// its acting identity from the request context (bound by the auth
// middleware) and responds through apierr for anything but success.
package handlers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Ai-Layer-Labs/breadcrumb-core/internal/api/apierr"
	"github.com/Ai-Layer-Labs/breadcrumb-core/internal/auth"
	"github.com/Ai-Layer-Labs/breadcrumb-core/internal/config"
	"github.com/Ai-Layer-Labs/breadcrumb-core/internal/crypto"
	"github.com/Ai-Layer-Labs/breadcrumb-core/internal/embeddings"
	"github.com/Ai-Layer-Labs/breadcrumb-core/internal/fanout"
	"github.com/Ai-Layer-Labs/breadcrumb-core/internal/hygiene"
	"github.com/Ai-Layer-Labs/breadcrumb-core/internal/metrics"
	"github.com/Ai-Layer-Labs/breadcrumb-core/internal/readpath"
	"github.com/Ai-Layer-Labs/breadcrumb-core/internal/selector"
	"github.com/Ai-Layer-Labs/breadcrumb-core/internal/store"
	"github.com/Ai-Layer-Labs/breadcrumb-core/internal/webhook"
	"github.com/Ai-Layer-Labs/breadcrumb-core/internal/writepath"
	"github.com/Ai-Layer-Labs/breadcrumb-core/pkg/middleware"
	"github.com/Ai-Layer-Labs/breadcrumb-core/pkg/models"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// Handlers composes every collaborator a route needs. One instance is
// shared process-wide, built by pkg/server's composition root.
type Handlers struct {
	Store         store.Store
	Write         *writepath.Path
	Read          *readpath.Path
	Fanout        *fanout.Engine
	SelectorIndex *selector.Index
	Hygiene       *hygiene.Loop
	Minter        *auth.Minter
	KEK           crypto.KEKProvider
	Config        *config.Config
	Embeddings    *embeddings.Registry
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		apierr.Write(w, r, http.StatusBadRequest, apierr.CodeValidation, "malformed request body: "+err.Error())
		return false
	}
	return true
}

// ── Auth ─────────────────────────────────────────────────────

type mintTokenRequest struct {
	Owner   string   `json:"owner"`
	AgentID string   `json:"agent_id"`
	Roles   []string `json:"roles"`
	TTLSec  int      `json:"ttl_sec"`
}

// MintToken implements POST /auth/token: a dev/disabled-mode convenience
// for minting a bearer token without a full identity provider.
func (h *Handlers) MintToken(w http.ResponseWriter, r *http.Request) {
	var req mintTokenRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Owner == "" || req.AgentID == "" {
		apierr.Write(w, r, http.StatusBadRequest, apierr.CodeValidation, "owner and agent_id are required")
		return
	}
	if h.Minter == nil {
		apierr.Write(w, r, http.StatusServiceUnavailable, apierr.CodeInternal,
			"token minting is not configured: set JWT_PRIVATE_KEY_PEM")
		return
	}
	ttl := time.Duration(req.TTLSec) * time.Second
	if ttl <= 0 {
		ttl = time.Hour
	}
	token, err := h.Minter.Mint(req.Owner, req.AgentID, req.Roles, ttl)
	if err != nil {
		apierr.Write(w, r, http.StatusInternalServerError, apierr.CodeInternal, "failed to mint token")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"token":      token,
		"expires_in": int(ttl.Seconds()),
	})
}

// ── Breadcrumbs ──────────────────────────────────────────────

type ttlRequest struct {
	Source      models.TTLSource `json:"source"`
	DurationSec int64            `json:"duration_sec,omitempty"`
	ExpiresAt   *time.Time       `json:"expires_at,omitempty"`
	ReadLimit   *int64           `json:"read_limit,omitempty"`
}

func (t ttlRequest) toInput() writepath.TTLInput {
	return writepath.TTLInput{
		Source:    t.Source,
		Duration:  time.Duration(t.DurationSec) * time.Second,
		ExpiresAt: t.ExpiresAt,
		ReadLimit: t.ReadLimit,
	}
}

type createBreadcrumbRequest struct {
	Title       string             `json:"title"`
	SchemaName  string             `json:"schema_name,omitempty"`
	Context     json.RawMessage    `json:"context"`
	Tags        []string           `json:"tags,omitempty"`
	Visibility  models.Visibility  `json:"visibility,omitempty"`
	Sensitivity models.Sensitivity `json:"sensitivity,omitempty"`
	TTL         ttlRequest         `json:"ttl_policy,omitempty"`
	LLMHints    json.RawMessage    `json:"llm_hints,omitempty"`
}

// CreateBreadcrumb implements POST /breadcrumbs.
func (h *Handlers) CreateBreadcrumb(w http.ResponseWriter, r *http.Request) {
	owner := middleware.GetOwner(r.Context())
	agent := middleware.GetAgent(r.Context())

	var req createBreadcrumbRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.Context) == 0 {
		apierr.Write(w, r, http.StatusBadRequest, apierr.CodeValidation, "context is required")
		return
	}
	if req.Visibility == "" {
		req.Visibility = models.VisibilityPrivate
	}
	if req.Sensitivity == "" {
		req.Sensitivity = models.SensitivityLow
	}

	idempotencyKey := r.Header.Get("Idempotency-Key")

	b, created, err := h.Write.Create(r.Context(), writepath.CreateInput{
		Owner:          owner,
		Title:          req.Title,
		SchemaName:     req.SchemaName,
		Context:        req.Context,
		Tags:           req.Tags,
		Visibility:     req.Visibility,
		Sensitivity:    req.Sensitivity,
		TTL:            req.TTL.toInput(),
		LLMHints:       req.LLMHints,
		Actor:          agent,
		IdempotencyKey: idempotencyKey,
	})
	if err != nil {
		apierr.FromStoreError(w, r, err)
		return
	}

	if !created && idempotencyKey != "" && checksum(req.Context) != b.Checksum {
		apierr.Write(w, r, http.StatusConflict, apierr.CodeIdempotencyConflict,
			"Idempotency-Key was reused with a different request body")
		return
	}

	status := http.StatusCreated
	if !created {
		status = http.StatusOK
	}
	respondJSON(w, status, b)
}

// GetBreadcrumbContext implements GET /breadcrumbs/{id}.
func (h *Handlers) GetBreadcrumbContext(w http.ResponseWriter, r *http.Request) {
	owner := middleware.GetOwner(r.Context())
	agent := middleware.GetAgent(r.Context())
	id := chi.URLParam(r, "id")

	view, err := h.Read.GetContextView(r.Context(), owner, id, agent)
	if err != nil {
		apierr.FromStoreError(w, r, err)
		return
	}
	if err := h.Store.IncrementReadCount(r.Context(), owner, id); err != nil {
		apierr.FromStoreError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

// GetBreadcrumbFull implements GET /breadcrumbs/{id}/full, gated to the
// owning tenant or an explicit read_full ACL grant.
func (h *Handlers) GetBreadcrumbFull(w http.ResponseWriter, r *http.Request) {
	owner := middleware.GetOwner(r.Context())
	agent := middleware.GetAgent(r.Context())
	id := chi.URLParam(r, "id")

	b, err := h.Read.GetFull(r.Context(), owner, id, agent)
	if err != nil {
		apierr.FromStoreError(w, r, err)
		return
	}
	if !h.canAccess(r.Context(), owner, agent, b, models.ActionReadFull) {
		apierr.Write(w, r, http.StatusForbidden, apierr.CodePermissionDenied, "read_full not granted")
		return
	}
	respondJSON(w, http.StatusOK, b)
}

// canAccess allows same-tenant requesters unconditionally; a cross-tenant
// requester (reached only because an ACL grant let GetBreadcrumb resolve
// it in the first place) additionally needs an explicit grant of action
// on that breadcrumb. Shared by read_full, update, and delete gating.
func (h *Handlers) canAccess(ctx context.Context, owner, agent string, b *models.Breadcrumb, action models.ACLAction) bool {
	if b.Owner == owner {
		return true
	}
	grants, err := h.Store.ListACLGrants(ctx, b.ID)
	if err != nil {
		return false
	}
	for _, g := range grants {
		if g.GranteeOwnerID != owner && g.GranteeAgentID != agent {
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

// GetBreadcrumbHistory implements GET /breadcrumbs/{id}/history.
func (h *Handlers) GetBreadcrumbHistory(w http.ResponseWriter, r *http.Request) {
	owner := middleware.GetOwner(r.Context())
	id := chi.URLParam(r, "id")

	entries, err := h.Read.History(r.Context(), owner, id)
	if err != nil {
		apierr.FromStoreError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"history": entries})
}

type patchBreadcrumbRequest struct {
	Patch json.RawMessage `json:"context"`
	TTL   *ttlRequest      `json:"ttl_policy,omitempty"`
	Tags  *[]string        `json:"tags,omitempty"`
}

// UpdateBreadcrumb implements PATCH /breadcrumbs/{id}, requiring If-Match.
func (h *Handlers) UpdateBreadcrumb(w http.ResponseWriter, r *http.Request) {
	owner := middleware.GetOwner(r.Context())
	agent := middleware.GetAgent(r.Context())
	id := chi.URLParam(r, "id")

	version, ok := parseIfMatch(r.Header.Get("If-Match"))
	if !ok {
		apierr.Write(w, r, http.StatusBadRequest, apierr.CodeValidation, "If-Match header with the current version is required")
		return
	}

	var req patchBreadcrumbRequest
	if !decodeBody(w, r, &req) {
		return
	}

	existing, err := h.Store.GetBreadcrumb(r.Context(), owner, id, agent)
	if err != nil {
		apierr.FromStoreError(w, r, err)
		return
	}
	if !h.canAccess(r.Context(), owner, agent, existing, models.ActionUpdate) {
		apierr.Write(w, r, http.StatusForbidden, apierr.CodePermissionDenied, "update not granted")
		return
	}

	in := writepath.UpdateInput{
		Owner:           existing.Owner,
		ID:              id,
		ExpectedVersion: version,
		Patch:           req.Patch,
		Tags:            req.Tags,
		Actor:           agent,
	}
	if req.TTL != nil {
		ttl := req.TTL.toInput()
		in.TTL = &ttl
	}

	b, err := h.Write.Update(r.Context(), in)
	if err != nil {
		apierr.FromStoreError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, b)
}

// DeleteBreadcrumb implements DELETE /breadcrumbs/{id}, with an optional
// If-Match compare-and-set.
func (h *Handlers) DeleteBreadcrumb(w http.ResponseWriter, r *http.Request) {
	owner := middleware.GetOwner(r.Context())
	agent := middleware.GetAgent(r.Context())
	id := chi.URLParam(r, "id")

	var version int64
	if raw := r.Header.Get("If-Match"); raw != "" {
		v, ok := parseIfMatch(raw)
		if !ok {
			apierr.Write(w, r, http.StatusBadRequest, apierr.CodeValidation, "malformed If-Match header")
			return
		}
		version = v
	}

	existing, err := h.Store.GetBreadcrumb(r.Context(), owner, id, agent)
	if err != nil {
		apierr.FromStoreError(w, r, err)
		return
	}
	if !h.canAccess(r.Context(), owner, agent, existing, models.ActionDelete) {
		apierr.Write(w, r, http.StatusForbidden, apierr.CodePermissionDenied, "delete not granted")
		return
	}

	if err := h.Write.Delete(r.Context(), existing.Owner, id, version); err != nil {
		apierr.FromStoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListBreadcrumbs implements GET /breadcrumbs.
func (h *Handlers) ListBreadcrumbs(w http.ResponseWriter, r *http.Request) {
	owner := middleware.GetOwner(r.Context())
	q := r.URL.Query()

	filter := store.BreadcrumbFilter{
		SchemaName: q.Get("schema_name"),
		Limit:      queryInt(q, "limit", 50),
		Cursor:     q.Get("cursor"),
	}
	tags := q["tag"]
	var residual []string
	if len(tags) > 0 {
		filter.Tag = tags[0]
		residual = tags[1:]
	}
	if since := q.Get("updated_since"); since != "" {
		if t, err := time.Parse(time.RFC3339, since); err == nil {
			filter.UpdatedSince = &t
		}
	}

	page, err := h.Read.List(r.Context(), owner, filter)
	if err != nil {
		apierr.FromStoreError(w, r, err)
		return
	}
	resp := map[string]any{
		"items":       page.Items,
		"next_cursor": page.NextCursor,
	}
	if len(residual) > 0 {
		resp["residual_tags"] = residual
	}
	respondJSON(w, http.StatusOK, resp)
}

// SearchBreadcrumbs implements GET /breadcrumbs/search.
func (h *Handlers) SearchBreadcrumbs(w http.ResponseWriter, r *http.Request) {
	owner := middleware.GetOwner(r.Context())
	q := r.URL.Query()

	in := readpath.SearchInput{
		QueryText: q.Get("q"),
		Filter: store.SearchFilter{
			SchemaName: q.Get("schema_name"),
			Tag:        q.Get("tag"),
			TopK:       queryInt(q, "nn", 10),
		},
	}
	if raw := q.Get("qvec"); raw != "" {
		vec, err := parseVector(raw)
		if err != nil {
			apierr.Write(w, r, http.StatusBadRequest, apierr.CodeValidation, "qvec must be a comma-separated float list")
			return
		}
		in.QueryVec = vec
	}
	if in.QueryText == "" && len(in.QueryVec) == 0 {
		apierr.Write(w, r, http.StatusBadRequest, apierr.CodeValidation, "q or qvec is required")
		return
	}

	results, err := h.Read.Search(r.Context(), owner, in)
	if err != nil {
		apierr.Write(w, r, http.StatusBadRequest, apierr.CodeValidation, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"results": results})
}

// ── Subscriptions ────────────────────────────────────────────

type createSelectorSubscriptionRequest struct {
	Selector           models.Selector          `json:"selector"`
	Channels           []models.DeliveryChannel `json:"channels"`
	DeliveryThrottleMs int                      `json:"delivery_throttle_ms,omitempty"`
}

// CreateSelectorSubscription implements POST /subscriptions/selectors.
func (h *Handlers) CreateSelectorSubscription(w http.ResponseWriter, r *http.Request) {
	owner := middleware.GetOwner(r.Context())
	agent := middleware.GetAgent(r.Context())

	var req createSelectorSubscriptionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.Channels) == 0 {
		apierr.Write(w, r, http.StatusBadRequest, apierr.CodeValidation, "at least one channel is required")
		return
	}

	compiled, err := selector.Compile(&req.Selector)
	if err != nil {
		apierr.Write(w, r, http.StatusBadRequest, apierr.CodeValidation, "invalid selector: "+err.Error())
		return
	}

	sub := &models.Subscription{
		ID:                 uuid.New().String(),
		Owner:              owner,
		AgentID:            agent,
		Kind:               models.SubscriptionSelector,
		Selector:           &req.Selector,
		Channels:           req.Channels,
		DeliveryThrottleMs: req.DeliveryThrottleMs,
		CreatedAt:          time.Now(),
	}
	if err := h.Store.CreateSubscription(r.Context(), sub); err != nil {
		apierr.FromStoreError(w, r, err)
		return
	}

	h.SelectorIndex.Add(selector.Entry{
		SubscriptionID: sub.ID,
		OwnerID:        owner,
		Predicate:      compiled,
		CreatedAt:      sub.CreatedAt.UnixNano(),
	})

	respondJSON(w, http.StatusCreated, sub)
}

// ListSubscriptionsForAgent implements GET /subscriptions.
func (h *Handlers) ListSubscriptionsForAgent(w http.ResponseWriter, r *http.Request) {
	owner := middleware.GetOwner(r.Context())
	agent := middleware.GetAgent(r.Context())
	if v := r.URL.Query().Get("agent_id"); v != "" {
		agent = v
	}

	subs, err := h.Store.ListSubscriptions(r.Context(), owner, agent)
	if err != nil {
		apierr.FromStoreError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"subscriptions": subs})
}

// DeleteSubscription implements DELETE /subscriptions/{id}.
func (h *Handlers) DeleteSubscription(w http.ResponseWriter, r *http.Request) {
	owner := middleware.GetOwner(r.Context())
	id := chi.URLParam(r, "id")

	if err := h.Store.CancelDeliveriesForSubscription(r.Context(), id); err != nil {
		apierr.FromStoreError(w, r, err)
		return
	}
	if err := h.Store.DeleteSubscription(r.Context(), owner, id); err != nil {
		apierr.FromStoreError(w, r, err)
		return
	}
	h.SelectorIndex.Remove(id)
	w.WriteHeader(http.StatusNoContent)
}

// ── Agents ───────────────────────────────────────────────────

type upsertAgentRequest struct {
	Roles []models.AgentRole `json:"roles"`
}

// UpsertAgent implements POST /agents/{id}.
func (h *Handlers) UpsertAgent(w http.ResponseWriter, r *http.Request) {
	owner := middleware.GetOwner(r.Context())
	id := chi.URLParam(r, "id")

	var req upsertAgentRequest
	if !decodeBody(w, r, &req) {
		return
	}

	existing, err := h.Store.GetAgent(r.Context(), owner, id)
	if err != nil {
		if _, ok := err.(*store.ErrNotFound); !ok {
			apierr.FromStoreError(w, r, err)
			return
		}
		existing = &models.Agent{ID: id, Owner: owner, CreatedAt: time.Now()}
	}
	existing.Roles = req.Roles
	existing.UpdatedAt = time.Now()

	if err := h.Store.UpsertAgent(r.Context(), existing); err != nil {
		apierr.FromStoreError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, existing)
}

type setWebhookRequest struct {
	URL    string `json:"url"`
	Secret string `json:"secret,omitempty"`
}

// SetAgentWebhook implements POST /agents/{id}/webhooks.
func (h *Handlers) SetAgentWebhook(w http.ResponseWriter, r *http.Request) {
	owner := middleware.GetOwner(r.Context())
	id := chi.URLParam(r, "id")

	var req setWebhookRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.URL == "" {
		apierr.Write(w, r, http.StatusBadRequest, apierr.CodeValidation, "url is required")
		return
	}
	if req.Secret == "" {
		req.Secret = uuid.New().String()
	}

	agent, err := h.Store.GetAgent(r.Context(), owner, id)
	if err != nil {
		apierr.FromStoreError(w, r, err)
		return
	}
	agent.WebhookURL = req.URL
	agent.WebhookSecret = req.Secret
	agent.UpdatedAt = time.Now()

	if err := h.Store.UpsertAgent(r.Context(), agent); err != nil {
		apierr.FromStoreError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"url": agent.WebhookURL, "secret": req.Secret})
}

// ── Secrets ──────────────────────────────────────────────────

type createSecretRequest struct {
	Name      string             `json:"name"`
	ScopeType models.SecretScope `json:"scope_type"`
	ScopeID   string             `json:"scope_id,omitempty"`
	Value     string             `json:"value"`
	Metadata  map[string]string  `json:"metadata,omitempty"`
}

// CreateSecret implements POST /secrets.
func (h *Handlers) CreateSecret(w http.ResponseWriter, r *http.Request) {
	owner := middleware.GetOwner(r.Context())

	var req createSecretRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Name == "" || req.Value == "" {
		apierr.Write(w, r, http.StatusBadRequest, apierr.CodeValidation, "name and value are required")
		return
	}

	env, err := crypto.Seal(h.KEK, []byte(req.Value), secretAAD(owner, req.Name))
	if err != nil {
		apierr.Write(w, r, http.StatusInternalServerError, apierr.CodeInternal, "failed to seal secret")
		return
	}

	secret := &models.Secret{
		ID:         uuid.New().String(),
		Owner:      owner,
		Name:       req.Name,
		ScopeType:  req.ScopeType,
		ScopeID:    req.ScopeID,
		EncBlob:    env.Ciphertext,
		WrappedDEK: env.WrappedDEK,
		KEKID:      env.KEKID,
		Metadata:   req.Metadata,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
	if err := h.Store.CreateSecret(r.Context(), secret); err != nil {
		apierr.FromStoreError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, secret)
}

// ListSecrets implements GET /secrets.
func (h *Handlers) ListSecrets(w http.ResponseWriter, r *http.Request) {
	owner := middleware.GetOwner(r.Context())
	q := r.URL.Query()

	secrets, err := h.Store.ListSecrets(r.Context(), owner, models.SecretScope(q.Get("scope_type")), q.Get("scope_id"))
	if err != nil {
		apierr.FromStoreError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"secrets": secrets})
}

type decryptSecretRequest struct {
	Reason string `json:"reason"`
}

// DecryptSecret implements POST /secrets/{id}/decrypt.
func (h *Handlers) DecryptSecret(w http.ResponseWriter, r *http.Request) {
	owner := middleware.GetOwner(r.Context())
	agent := middleware.GetAgent(r.Context())
	id := chi.URLParam(r, "id")

	var req decryptSecretRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Reason == "" {
		apierr.Write(w, r, http.StatusBadRequest, apierr.CodeValidation, "reason is required")
		return
	}

	secret, err := h.Store.GetSecret(r.Context(), owner, id)
	if err != nil {
		apierr.FromStoreError(w, r, err)
		return
	}

	plaintext, err := crypto.Open(h.KEK, &crypto.Envelope{
		Ciphertext: secret.EncBlob,
		WrappedDEK: secret.WrappedDEK,
		KEKID:      secret.KEKID,
	}, secretAAD(owner, secret.Name))
	if err != nil {
		apierr.Write(w, r, http.StatusInternalServerError, apierr.CodeInternal, "failed to decrypt secret")
		return
	}

	if err := h.Store.RecordSecretAudit(r.Context(), &models.SecretAuditEntry{
		SecretID:  id,
		ActorID:   agent,
		Reason:    req.Reason,
		Timestamp: time.Now(),
	}); err != nil {
		apierr.FromStoreError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"value": string(plaintext)})
}

type updateSecretRequest struct {
	Value    *string           `json:"value,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// UpdateSecret implements PUT /secrets/{id}.
func (h *Handlers) UpdateSecret(w http.ResponseWriter, r *http.Request) {
	owner := middleware.GetOwner(r.Context())
	id := chi.URLParam(r, "id")

	var req updateSecretRequest
	if !decodeBody(w, r, &req) {
		return
	}

	secret, err := h.Store.GetSecret(r.Context(), owner, id)
	if err != nil {
		apierr.FromStoreError(w, r, err)
		return
	}
	if req.Value != nil {
		env, err := crypto.Seal(h.KEK, []byte(*req.Value), secretAAD(owner, secret.Name))
		if err != nil {
			apierr.Write(w, r, http.StatusInternalServerError, apierr.CodeInternal, "failed to seal secret")
			return
		}
		secret.EncBlob = env.Ciphertext
		secret.WrappedDEK = env.WrappedDEK
		secret.KEKID = env.KEKID
	}
	if req.Metadata != nil {
		secret.Metadata = req.Metadata
	}
	secret.UpdatedAt = time.Now()

	if err := h.Store.UpdateSecret(r.Context(), secret); err != nil {
		apierr.FromStoreError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, secret)
}

// DeleteSecret implements DELETE /secrets/{id}.
func (h *Handlers) DeleteSecret(w http.ResponseWriter, r *http.Request) {
	owner := middleware.GetOwner(r.Context())
	id := chi.URLParam(r, "id")

	if err := h.Store.DeleteSecret(r.Context(), owner, id); err != nil {
		apierr.FromStoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ── ACL ──────────────────────────────────────────────────────

type aclGrantRequest struct {
	BreadcrumbID   string             `json:"breadcrumb_id"`
	GranteeAgentID string             `json:"grantee_agent_id,omitempty"`
	GranteeOwnerID string             `json:"grantee_owner_id,omitempty"`
	Actions        []models.ACLAction `json:"actions"`
}

// GrantACL implements POST /acl/grant.
func (h *Handlers) GrantACL(w http.ResponseWriter, r *http.Request) {
	var req aclGrantRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.BreadcrumbID == "" || len(req.Actions) == 0 {
		apierr.Write(w, r, http.StatusBadRequest, apierr.CodeValidation, "breadcrumb_id and actions are required")
		return
	}
	if req.GranteeAgentID == "" && req.GranteeOwnerID == "" {
		apierr.Write(w, r, http.StatusBadRequest, apierr.CodeValidation, "grantee_agent_id or grantee_owner_id is required")
		return
	}

	grant := &models.ACLGrant{
		ID:             uuid.New().String(),
		BreadcrumbID:   req.BreadcrumbID,
		GranteeAgentID: req.GranteeAgentID,
		GranteeOwnerID: req.GranteeOwnerID,
		Actions:        req.Actions,
		CreatedAt:      time.Now(),
	}
	if err := h.Store.CreateACLGrant(r.Context(), grant); err != nil {
		apierr.FromStoreError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, grant)
}

type aclRevokeRequest struct {
	ID string `json:"id"`
}

// RevokeACL implements POST /acl/revoke.
func (h *Handlers) RevokeACL(w http.ResponseWriter, r *http.Request) {
	var req aclRevokeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ID == "" {
		apierr.Write(w, r, http.StatusBadRequest, apierr.CodeValidation, "id is required")
		return
	}
	if err := h.Store.RevokeACLGrant(r.Context(), req.ID); err != nil {
		apierr.FromStoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ── Hygiene / DLQ ────────────────────────────────────────────

// RunHygiene implements POST /hygiene/run (curator role).
func (h *Handlers) RunHygiene(w http.ResponseWriter, r *http.Request) {
	h.Hygiene.RunOnce(r.Context())
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ListDLQ implements GET /dlq.
func (h *Handlers) ListDLQ(w http.ResponseWriter, r *http.Request) {
	owner := middleware.GetOwner(r.Context())
	limit := queryInt(r.URL.Query(), "limit", 50)

	deliveries, err := h.Store.ListDLQ(r.Context(), owner, limit)
	if err != nil {
		apierr.FromStoreError(w, r, err)
		return
	}
	metrics.SetWebhookDLQDepth(int64(len(deliveries)))
	respondJSON(w, http.StatusOK, map[string]any{"deliveries": deliveries})
}

// RetryDLQ implements POST /dlq/{id}/retry.
func (h *Handlers) RetryDLQ(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := webhook.Retry(r.Context(), h.Store, id); err != nil {
		apierr.FromStoreError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "requeued"})
}

// ── Health ───────────────────────────────────────────────────

// Health implements GET /health.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Ping(r.Context()); err != nil {
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": err.Error()})
		return
	}

	embeddingHealth := map[string]string{}
	if h.Embeddings != nil {
		for name, err := range h.Embeddings.HealthCheckAll(r.Context()) {
			if err != nil {
				embeddingHealth[name] = err.Error()
			} else {
				embeddingHealth[name] = "ok"
			}
		}
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"version":   h.Config.Version,
		"embedding": embeddingHealth,
	})
}

// Metrics implements GET /metrics.
func (h *Handlers) Metrics(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, metrics.Current())
}

// ── helpers ──────────────────────────────────────────────────

func parseIfMatch(raw string) (int64, bool) {
	raw = strings.Trim(strings.TrimSpace(raw), `"`)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func queryInt(q map[string][]string, key string, fallback int) int {
	v := strings.Join(q[key], "")
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func parseVector(raw string) ([]float32, error) {
	parts := strings.Split(raw, ",")
	out := make([]float32, 0, len(parts))
	for _, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, err
		}
		out = append(out, float32(f))
	}
	return out, nil
}

func secretAAD(owner, name string) []byte {
	return []byte(owner + ":" + name)
}

// checksum mirrors writepath's canonical-JSON sha256 scheme, so a replayed
// Idempotency-Key request can be compared against the stored breadcrumb's
// checksum without re-exporting writepath's internal helper.
func checksum(raw json.RawMessage) string {
	var canonical any
	if err := json.Unmarshal(raw, &canonical); err != nil {
		sum := sha256.Sum256(raw)
		return hex.EncodeToString(sum[:])
	}
	stable, _ := json.Marshal(canonical)
	sum := sha256.Sum256(stable)
	return hex.EncodeToString(sum[:])
}
