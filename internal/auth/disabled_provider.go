package auth

import (
	"context"
	"net/http"
	"time"

	"github.com/Ai-Layer-Labs/breadcrumb-core/pkg/contracts"
)

// DisabledModeProvider mints a synthetic identity for every request, for
// local development and tests where standing up a JWT issuer is overkill.
// Never enable this in a deployment that handles real tenant data.
type DisabledModeProvider struct {
	owner   string
	enabled bool
}

// NewDisabledModeProvider returns a provider that authenticates every
// request as the given owner with full roles. Disabled if owner is empty.
func NewDisabledModeProvider(owner string) *DisabledModeProvider {
	return &DisabledModeProvider{owner: owner, enabled: owner != ""}
}

func (p *DisabledModeProvider) Name() string  { return "disabled" }
func (p *DisabledModeProvider) Enabled() bool { return p.enabled }

func (p *DisabledModeProvider) Authenticate(ctx context.Context, r *http.Request) (*contracts.Identity, error) {
	return &contracts.Identity{
		Owner:     p.owner,
		AgentID:   "local-dev",
		Roles:     []string{"curator", "emitter", "subscriber"},
		Provider:  p.Name(),
		ExpiresAt: time.Now().Add(24 * time.Hour),
	}, nil
}
