// Package contracts — authentication interfaces for the pluggable auth layer.
//
// OSS ships JWT and disabled-mode providers. A deployment with enterprise
// identity needs (OIDC, SAML, mTLS) registers additional providers on the
// same chain without touching handler code.
package contracts

import (
	"context"
	"net/http"
	"time"
)

// ── Identity ─────────────────────────────────────────────────

// Identity represents an authenticated caller, produced by an AuthProvider
// and consumed by the tenant middleware and handlers. No handler ever knows
// whether the caller came from a JWT or the disabled-auth synthetic identity.
type Identity struct {
	// Owner is the tenant this identity belongs to.
	Owner string `json:"owner"`

	// AgentID is the actor identifier within Owner.
	AgentID string `json:"agent_id"`

	// Roles are the capability roles bound to this identity, from
	// {curator, emitter, subscriber}.
	Roles []string `json:"roles"`

	// Provider identifies which auth provider authenticated this identity.
	// Values: "jwt", "disabled".
	Provider string `json:"provider"`

	// Claims holds raw claims from the token, for diagnostics.
	Claims map[string]string `json:"claims,omitempty"`

	// ExpiresAt is when this identity's token expires.
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// HasRole reports whether the identity carries the named role.
func (id *Identity) HasRole(role string) bool {
	for _, r := range id.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// ── AuthProvider ─────────────────────────────────────────────

// AuthProvider authenticates an HTTP request and returns an Identity.
//
// The chain pattern:
//   - Return (*Identity, nil) → authenticated, stop chain
//   - Return (nil, nil) → this provider doesn't handle this request, try next
//   - Return (nil, error) → authentication was attempted but failed, reject
type AuthProvider interface {
	// Name returns the provider identifier (e.g. "jwt", "disabled").
	Name() string

	// Authenticate inspects the request and returns an Identity.
	Authenticate(ctx context.Context, r *http.Request) (*Identity, error)

	// Enabled returns whether this provider is configured and active.
	Enabled() bool
}

// ── AuthProviderChain ────────────────────────────────────────

// AuthProviderChain tries providers in priority order until one returns an
// Identity.
type AuthProviderChain interface {
	// Authenticate walks the chain of providers in order.
	// Returns the first successful Identity, or (nil, nil) if no provider matched.
	Authenticate(ctx context.Context, r *http.Request) (*Identity, error)

	// RegisterProvider adds a provider to the end of the chain.
	// Providers are tried in registration order.
	RegisterProvider(provider AuthProvider)
}
