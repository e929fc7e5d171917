package auth

import (
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// Minter signs bearer tokens for the dev/disabled-mode token endpoint
// (spec §6.1 POST /auth/token). The server builds it in every auth mode;
// under AUTH_MODE=disabled, DisabledModeProvider authenticates requests
// without a token.
type Minter struct {
	key jwk.Key
}

// NewMinter parses a PEM-encoded private key for signing. Returns a nil
// Minter (not an error) when privateKeyPEM is empty, so callers can treat
// "no minting configured" as a 503 rather than a startup failure.
func NewMinter(privateKeyPEM string) (*Minter, error) {
	if privateKeyPEM == "" {
		return nil, nil
	}
	key, err := jwk.ParseKey([]byte(privateKeyPEM), jwk.WithPEM(true))
	if err != nil {
		return nil, fmt.Errorf("auth: parse jwt private key: %w", err)
	}
	return &Minter{key: key}, nil
}

// Mint issues a bearer token carrying (owner, agent, roles), expiring
// after ttl.
func (m *Minter) Mint(owner, agentID string, roles []string, ttl time.Duration) (string, error) {
	builder := jwt.NewBuilder().
		Issuer("breadcrumb-core").
		IssuedAt(time.Now()).
		Expiration(time.Now().Add(ttl)).
		Claim("owner", owner).
		Claim("agent", agentID).
		Claim("roles", roles)

	token, err := builder.Build()
	if err != nil {
		return "", fmt.Errorf("auth: build token: %w", err)
	}
	signed, err := jwt.Sign(token, jwt.WithKey(jwaFor(m.key), m.key))
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return string(signed), nil
}
