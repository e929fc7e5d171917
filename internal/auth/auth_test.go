package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func generateKeyPair(t *testing.T) (privatePEM, publicPEM string) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	privBytes := x509.MarshalPKCS1PrivateKey(key)
	privPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: privBytes})

	pubBytes, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubBytes})

	return string(privPEM), string(pubPEM)
}

func TestMinterAndJWTProvider_RoundTrip(t *testing.T) {
	privPEM, pubPEM := generateKeyPair(t)

	minter, err := NewMinter(privPEM)
	require.NoError(t, err)
	require.NotNil(t, minter)

	token, err := minter.Mint("owner-1", "agent-1", []string{"curator"}, time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	provider, err := NewJWTProvider(pubPEM)
	require.NoError(t, err)
	require.True(t, provider.Enabled())

	req := httptest.NewRequest(http.MethodGet, "/breadcrumbs", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	identity, err := provider.Authenticate(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, "owner-1", identity.Owner)
	require.Equal(t, "agent-1", identity.AgentID)
	require.Contains(t, identity.Roles, "curator")
}

func TestJWTProvider_AcceptsQueryParamToken(t *testing.T) {
	privPEM, pubPEM := generateKeyPair(t)
	minter, err := NewMinter(privPEM)
	require.NoError(t, err)
	token, err := minter.Mint("owner-1", "agent-1", nil, time.Hour)
	require.NoError(t, err)

	provider, err := NewJWTProvider(pubPEM)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/events/stream?token="+token, nil)
	identity, err := provider.Authenticate(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, "owner-1", identity.Owner)
}

func TestJWTProvider_NoTokenReturnsNilNil(t *testing.T) {
	_, pubPEM := generateKeyPair(t)
	provider, err := NewJWTProvider(pubPEM)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/breadcrumbs", nil)
	identity, err := provider.Authenticate(context.Background(), req)
	require.NoError(t, err)
	require.Nil(t, identity)
}

func TestJWTProvider_EmptyPEMDisabled(t *testing.T) {
	provider, err := NewJWTProvider("")
	require.NoError(t, err)
	require.False(t, provider.Enabled())
}

func TestNewMinter_EmptyPEMReturnsNilWithoutError(t *testing.T) {
	minter, err := NewMinter("")
	require.NoError(t, err)
	require.Nil(t, minter)
}

func TestDisabledModeProvider_AuthenticatesEveryRequest(t *testing.T) {
	p := NewDisabledModeProvider("owner-1")
	require.True(t, p.Enabled())

	identity, err := p.Authenticate(context.Background(), httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	require.Equal(t, "owner-1", identity.Owner)
}

func TestDisabledModeProvider_EmptyOwnerDisabled(t *testing.T) {
	p := NewDisabledModeProvider("")
	require.False(t, p.Enabled())
}

func TestProviderChain_WalksInOrderAndStopsOnFirstIdentity(t *testing.T) {
	chain := NewProviderChain()
	chain.RegisterProvider(&JWTProvider{enabled: false})
	chain.RegisterProvider(NewDisabledModeProvider("owner-9"))

	identity, err := chain.Authenticate(context.Background(), httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	require.Equal(t, "owner-9", identity.Owner)
}

func TestProviderChain_NoProvidersReturnsNilNil(t *testing.T) {
	chain := NewProviderChain()
	identity, err := chain.Authenticate(context.Background(), httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	require.Nil(t, identity)
}
