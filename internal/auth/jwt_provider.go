package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Ai-Layer-Labs/breadcrumb-core/pkg/contracts"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// JWTProvider verifies bearer tokens signed with an asymmetric key and
// maps their claims onto an Identity.
//
// Expected claims:
//
//	owner  (string, required) - tenant id
//	agent  (string, required) - agent id within the tenant
//	roles  ([]string)         - curator/emitter/subscriber
//	exp    (standard)         - expiration
//
// The raw token is also accepted as a "token" query parameter, since
// browser EventSource clients cannot set an Authorization header on the
// SSE stream endpoint.
type JWTProvider struct {
	key     jwk.Key
	enabled bool
}

// NewJWTProvider parses a PEM-encoded public key (RSA or EC) used to verify
// incoming tokens. Returns a disabled provider if publicKeyPEM is empty.
func NewJWTProvider(publicKeyPEM string) (*JWTProvider, error) {
	if strings.TrimSpace(publicKeyPEM) == "" {
		return &JWTProvider{enabled: false}, nil
	}

	key, err := jwk.ParseKey([]byte(publicKeyPEM), jwk.WithPEM(true))
	if err != nil {
		return nil, fmt.Errorf("parse jwt public key: %w", err)
	}

	return &JWTProvider{key: key, enabled: true}, nil
}

func (p *JWTProvider) Name() string   { return "jwt" }
func (p *JWTProvider) Enabled() bool  { return p.enabled }

func (p *JWTProvider) Authenticate(ctx context.Context, r *http.Request) (*contracts.Identity, error) {
	raw := bearerToken(r)
	if raw == "" {
		return nil, nil
	}

	token, err := jwt.Parse([]byte(raw), jwt.WithKey(jwaFor(p.key), p.key), jwt.WithValidate(true))
	if err != nil {
		return nil, fmt.Errorf("jwt: invalid token: %w", err)
	}

	owner, _ := token.Get("owner")
	agentID, _ := token.Get("agent")
	ownerStr, _ := owner.(string)
	agentStr, _ := agentID.(string)
	if ownerStr == "" {
		return nil, fmt.Errorf("jwt: missing owner claim")
	}

	var roles []string
	if raw, ok := token.Get("roles"); ok {
		switch v := raw.(type) {
		case []string:
			roles = v
		case []interface{}:
			for _, item := range v {
				if s, ok := item.(string); ok {
					roles = append(roles, s)
				}
			}
		}
	}

	claims := make(map[string]string)
	for key, val := range token.PrivateClaims() {
		if s, ok := val.(string); ok {
			claims[key] = s
		}
	}

	return &contracts.Identity{
		Owner:     ownerStr,
		AgentID:   agentStr,
		Roles:     roles,
		Provider:  p.Name(),
		Claims:    claims,
		ExpiresAt: token.Expiration(),
	}, nil
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if after, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(after)
		}
	}
	return r.URL.Query().Get("token")
}

func jwaFor(key jwk.Key) jwa.SignatureAlgorithm {
	if alg, ok := key.Algorithm(); ok {
		if sa, ok := alg.(jwa.SignatureAlgorithm); ok {
			return sa
		}
	}
	switch key.KeyType() {
	case jwa.EC:
		return jwa.ES256
	default:
		return jwa.RS256
	}
}
