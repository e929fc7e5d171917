// Package models defines the persistent entities of the breadcrumb store:
// tenants, agents, breadcrumbs, history, subscriptions, ACL grants, secrets,
// and webhook delivery records.
package models

import "time"

// ── Tenant ───────────────────────────────────────────────────

// Tenant is a top-level isolation domain. All other entities belong to
// exactly one owner. Created once; no deletion in scope.
type Tenant struct {
	ID        string    `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// ── Agent ────────────────────────────────────────────────────

// AgentRole is a capability an agent may hold within its owner.
type AgentRole string

const (
	RoleCurator    AgentRole = "curator"
	RoleEmitter    AgentRole = "emitter"
	RoleSubscriber AgentRole = "subscriber"
)

// Agent is an actor identified within a tenant. Created on first sight;
// lives until explicitly removed.
type Agent struct {
	ID            string      `json:"id" db:"id"`
	Owner         string      `json:"owner" db:"owner_id"`
	Roles         []AgentRole `json:"roles" db:"roles"`
	WebhookURL    string      `json:"webhook_url,omitempty" db:"webhook_url"`
	WebhookSecret string      `json:"-" db:"webhook_secret"`
	CreatedAt     time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at" db:"updated_at"`
}

// HasRole reports whether the agent carries the given capability role.
func (a *Agent) HasRole(r AgentRole) bool {
	for _, x := range a.Roles {
		if x == r {
			return true
		}
	}
	return false
}

// ── Breadcrumb ───────────────────────────────────────────────

// Visibility classifies who may discover a breadcrumb outside an explicit
// ACL grant.
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityTeam    Visibility = "team"
	VisibilityPrivate Visibility = "private"
)

// Sensitivity classifies the confidentiality of a breadcrumb's context.
type Sensitivity string

const (
	SensitivityLow    Sensitivity = "low"
	SensitivityPII    Sensitivity = "pii"
	SensitivitySecret Sensitivity = "secret"
)

// TTLSource records which policy field drove expiry, for diagnostics and
// for hygiene's age-before-count evaluation order.
type TTLSource string

const (
	TTLSourceNone      TTLSource = "none"
	TTLSourceAbsolute  TTLSource = "absolute"
	TTLSourceDuration  TTLSource = "duration"
	TTLSourceReadCount TTLSource = "read_count"
)

// TTLPolicy is the normalized expiry policy derived at write time from the
// caller's raw TTL request: absolute timestamp, duration-from-creation, or
// a read-count bound.
type TTLPolicy struct {
	Source    TTLSource  `json:"source" db:"ttl_source"`
	ExpiresAt *time.Time `json:"expires_at,omitempty" db:"expires_at"`
	ReadLimit *int64     `json:"read_limit,omitempty" db:"read_limit"`
}

// Breadcrumb is the central entity: a small, opaque, versioned JSON record
// published by an agent and routed to subscribers by selector.
type Breadcrumb struct {
	ID          string      `json:"id" db:"id"`
	Owner       string      `json:"owner" db:"owner_id"`
	Title       string      `json:"title" db:"title"`
	SchemaName  string      `json:"schema_name,omitempty" db:"schema_name"`
	Context     []byte      `json:"context" db:"context"`
	Tags        []string    `json:"tags" db:"tags"`
	Version     int64       `json:"version" db:"version"`
	Checksum    string      `json:"checksum" db:"checksum"`
	Visibility  Visibility  `json:"visibility" db:"visibility"`
	Sensitivity Sensitivity `json:"sensitivity" db:"sensitivity"`
	TTL         TTLPolicy   `json:"ttl_policy" db:"-"`
	ReadCount   int64       `json:"read_count" db:"read_count"`
	CreatedAt   time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at" db:"updated_at"`
	CreatedBy   string      `json:"created_by" db:"created_by"`
	UpdatedBy   string      `json:"updated_by" db:"updated_by"`
	Embedding   []float32   `json:"embedding,omitempty" db:"embedding"`
	SizeBytes   int         `json:"size_bytes" db:"size_bytes"`
	LLMHints    []byte      `json:"llm_hints,omitempty" db:"llm_hints"`
	DeletedAt   *time.Time  `json:"deleted_at,omitempty" db:"deleted_at"`
}

// ContextView is the shape returned by the context-view read path: the
// Transform Engine's output in place of raw context.
type ContextView struct {
	ID         string         `json:"id"`
	Title      string         `json:"title"`
	Context    map[string]any `json:"context"`
	Tags       []string       `json:"tags"`
	SchemaName string         `json:"schema_name,omitempty"`
	Version    int64          `json:"version"`
	UpdatedAt  time.Time      `json:"updated_at"`
	Meta       map[string]any `json:"_meta,omitempty"`
}

// ListItem is the projection returned by list queries.
type ListItem struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Tags       []string  `json:"tags"`
	SchemaName string    `json:"schema_name,omitempty"`
	Version    int64     `json:"version"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// SearchResult pairs a breadcrumb id with a nearest-neighbor score.
type SearchResult struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}

// ── History ──────────────────────────────────────────────────

// HistoryEntry is one immutable snapshot of a breadcrumb, written on every
// version increment with the pre-update payload.
type HistoryEntry struct {
	BreadcrumbID string    `json:"breadcrumb_id" db:"breadcrumb_id"`
	Version      int64     `json:"version" db:"version"`
	Context      []byte    `json:"context" db:"context"`
	Checksum     string    `json:"checksum" db:"checksum"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
	UpdatedBy    string    `json:"updated_by" db:"updated_by"`
}

// ── Subscription ─────────────────────────────────────────────

// DeliveryChannel is one of the modes a subscription may request.
type DeliveryChannel string

const (
	ChannelBus     DeliveryChannel = "bus"
	ChannelSSE     DeliveryChannel = "sse"
	ChannelWebhook DeliveryChannel = "webhook"
)

// SubscriptionKind distinguishes direct (by-id) from selector subscriptions.
type SubscriptionKind string

const (
	SubscriptionDirect   SubscriptionKind = "direct"
	SubscriptionSelector SubscriptionKind = "selector"
)

// Selector is a predicate document over breadcrumb metadata and context;
// see internal/selector for the compiler and evaluator.
type Selector struct {
	AnyTags       []string             `json:"any_tags,omitempty"`
	AllTags       []string             `json:"all_tags,omitempty"`
	SchemaName    string               `json:"schema_name,omitempty"`
	OwnerID       string               `json:"owner_id,omitempty"`
	SensitivityIn []Sensitivity        `json:"sensitivity_in,omitempty"`
	VisibilityIn  []Visibility         `json:"visibility_in,omitempty"`
	ContextMatch  []ContextMatchClause `json:"context_match,omitempty"`
}

// ContextMatchClause compares one JSON-path of a breadcrumb's context
// against a literal value using one of the §4.3 operators.
type ContextMatchClause struct {
	Path  string `json:"path"`
	Op    string `json:"op"`
	Value any    `json:"value,omitempty"`
}

// Subscription records an agent's interest in breadcrumb events, either by
// direct id or by selector predicate, and the channels it wants delivery on.
type Subscription struct {
	ID                 string            `json:"id" db:"id"`
	Owner               string           `json:"owner" db:"owner_id"`
	AgentID             string           `json:"agent_id" db:"agent_id"`
	Kind                SubscriptionKind `json:"kind" db:"kind"`
	BreadcrumbID        string           `json:"breadcrumb_id,omitempty" db:"breadcrumb_id"`
	Selector            *Selector        `json:"selector,omitempty" db:"selector"`
	Channels            []DeliveryChannel `json:"channels" db:"channels"`
	DeliveryThrottleMs  int              `json:"delivery_throttle_ms,omitempty" db:"delivery_throttle_ms"`
	CreatedAt           time.Time        `json:"created_at" db:"created_at"`
	LastMatchedAt       *time.Time       `json:"last_matched_at,omitempty" db:"last_matched_at"`
}

// ── ACL ──────────────────────────────────────────────────────

// ACLAction is one of the permissions an ACL grant may confer.
type ACLAction string

const (
	ActionReadContext ACLAction = "read_context"
	ActionReadFull    ACLAction = "read_full"
	ActionUpdate      ACLAction = "update"
	ActionDelete      ACLAction = "delete"
	ActionSubscribe   ACLAction = "subscribe"
)

// ACLGrant extends access to a breadcrumb beyond its owner, to either a
// specific agent or an entire owner. Absent grants mean tenant-default
// (owner-only).
type ACLGrant struct {
	ID             string      `json:"id" db:"id"`
	BreadcrumbID   string      `json:"breadcrumb_id" db:"breadcrumb_id"`
	GranteeAgentID string      `json:"grantee_agent_id,omitempty" db:"grantee_agent_id"`
	GranteeOwnerID string      `json:"grantee_owner_id,omitempty" db:"grantee_owner_id"`
	Actions        []ACLAction `json:"actions" db:"actions"`
	CreatedAt      time.Time   `json:"created_at" db:"created_at"`
}

// ── Secret ───────────────────────────────────────────────────

// SecretScope names the entity a secret is bound to.
type SecretScope string

const (
	ScopeGlobal     SecretScope = "global"
	ScopeOwner      SecretScope = "owner"
	ScopeAgent      SecretScope = "agent"
	ScopeBreadcrumb SecretScope = "breadcrumb"
)

// Secret is an envelope-encrypted value: plaintext is never stored, only
// the AEAD ciphertext and the KEK-wrapped data-encryption-key.
type Secret struct {
	ID         string            `json:"id" db:"id"`
	Owner      string            `json:"owner" db:"owner_id"`
	Name       string            `json:"name" db:"name"`
	ScopeType  SecretScope       `json:"scope_type" db:"scope_type"`
	ScopeID    string            `json:"scope_id,omitempty" db:"scope_id"`
	EncBlob    []byte            `json:"-" db:"enc_blob"`
	WrappedDEK []byte            `json:"-" db:"wrapped_dek"`
	KEKID      string            `json:"kek_id" db:"kek_id"`
	Metadata   map[string]string `json:"metadata,omitempty" db:"metadata"`
	CreatedAt  time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at" db:"updated_at"`
}

// SecretAuditEntry records one decrypt access to a secret.
type SecretAuditEntry struct {
	SecretID  string    `json:"secret_id" db:"secret_id"`
	ActorID   string    `json:"actor_id" db:"actor_id"`
	Reason    string    `json:"reason" db:"reason"`
	Timestamp time.Time `json:"timestamp" db:"timestamp"`
}

// ── Delivery (webhook + DLQ) ─────────────────────────────────

// DeliveryStatus is a webhook delivery's position in its state machine:
// Pending → Sending → {Delivered | Pending (retry after backoff) |
// DeadLettered}, cancelable to Canceled at any point before a terminal
// state. The dispatcher does not set Failing; the stores still claim and
// cancel deliveries in that status.
type DeliveryStatus string

const (
	DeliveryPending      DeliveryStatus = "pending"
	DeliverySending      DeliveryStatus = "sending"
	DeliveryDelivered    DeliveryStatus = "delivered"
	DeliveryFailing      DeliveryStatus = "failing"
	DeliveryDeadLettered DeliveryStatus = "dead_lettered"
	DeliveryCanceled     DeliveryStatus = "canceled"
)

// Delivery is one webhook delivery record for a subscription/event pair;
// exhausted deliveries move to the DLQ store with the same shape.
type Delivery struct {
	ID             string         `json:"id" db:"id"`
	Owner          string         `json:"-" db:"owner_id"`
	SubscriptionID string         `json:"subscription_id" db:"subscription_id"`
	AgentID        string         `json:"agent_id" db:"agent_id"`
	EventID        string         `json:"event_id" db:"event_id"`
	Payload        []byte         `json:"payload" db:"payload"`
	Status         DeliveryStatus `json:"status" db:"status"`
	AttemptCount   int            `json:"attempt_count" db:"attempt_count"`
	NextAttemptAt  time.Time      `json:"next_attempt_at" db:"next_attempt_at"`
	LastStatus     int            `json:"last_status,omitempty" db:"last_status"`
	LastError      string         `json:"last_error,omitempty" db:"last_error"`
	CreatedAt      time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at" db:"updated_at"`
}

// ── Event ────────────────────────────────────────────────────

// EventKind names the breadcrumb lifecycle transition an Event records.
type EventKind string

const (
	EventCreated EventKind = "breadcrumb.created"
	EventUpdated EventKind = "breadcrumb.updated"
	EventDeleted EventKind = "breadcrumb.deleted"
)

// Event is the canonical fanout payload built post-commit. It always
// carries raw context, never the transformed context view.
type Event struct {
	Type         EventKind `json:"type"`
	BreadcrumbID string    `json:"breadcrumb_id"`
	Owner        string    `json:"owner"`
	Version      int64     `json:"version"`
	Tags         []string  `json:"tags"`
	SchemaName   string    `json:"schema_name,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
	Context      []byte    `json:"context,omitempty"`
}
