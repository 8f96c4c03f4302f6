package token_test

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/grantforge/go-grant-server/clients"
	"github.com/grantforge/go-grant-server/grants"
	"github.com/grantforge/go-grant-server/token"
	"github.com/stretchr/testify/require"
)

const (
	testIssuer   = "https://issuer.example.com"
	testClientID = "test-client-1"
	testSubject  = "user-1"
)

func newTestManager(t *testing.T) (*token.Manager, token.Signer) {
	t.Helper()
	signer, err := token.NewHMACSigner("test-secret-0123456789", "HS256")
	require.NoError(t, err)
	mgr, err := token.New(signer, testIssuer)
	require.NoError(t, err)
	return mgr, signer
}

func parseClaims(t *testing.T, signer token.Signer, raw string) jwt.MapClaims {
	t.Helper()
	parsed, err := jwt.Parse(raw, signer.GetVerificationKey)
	require.NoError(t, err)
	require.True(t, parsed.Valid)
	claims, ok := parsed.Claims.(jwt.MapClaims)
	require.True(t, ok)
	return claims
}

func issuanceGrant() *grants.Grant {
	now := time.Now()
	return &grants.Grant{
		ID:                 grants.NewID(),
		Type:               grants.TypeCIBA,
		Client:             clients.Snapshot{ClientID: testClientID, ClientSecret: "secret"},
		Subject:            testSubject,
		Scopes:             []string{"openid", "profile"},
		ACR:                "urn:acr:basic",
		AuthenticationTime: now.Add(-time.Minute),
		Nonce:              "nonce-42",
		CreatedAt:          now,
		ExpiresAt:          now.Add(time.Minute),
	}
}

func TestTokenResponseIssuesBoundIDToken(t *testing.T) {
	mgr, signer := newTestManager(t)
	grant := issuanceGrant()

	resp, err := mgr.TokenResponse(grant, "")
	require.NoError(t, err)
	require.NotNil(t, resp.AccessToken)
	require.NotNil(t, resp.IdToken)
	require.Equal(t, "bearer", resp.TokenType)
	require.Equal(t, "openid profile", resp.Scope)
	require.Nil(t, resp.RefreshToken)

	claims := parseClaims(t, signer, *resp.IdToken)
	require.Equal(t, testIssuer, claims["iss"])
	require.Equal(t, testSubject, claims["sub"])
	require.Equal(t, testClientID, claims["aud"])
	require.Equal(t, "nonce-42", claims["nonce"])
	require.Equal(t, "urn:acr:basic", claims["acr"])
	require.Equal(t, float64(grant.AuthenticationTime.Unix()), claims["auth_time"])

	// The at_hash claim must match the hash binder output bit-for-bit.
	expectedAtHash, err := token.BindingHash(*resp.AccessToken, mgr.Algorithm())
	require.NoError(t, err)
	require.Equal(t, expectedAtHash, claims["at_hash"])
}

func TestTokenResponseWithoutOpenIDScope(t *testing.T) {
	mgr, _ := newTestManager(t)
	grant := issuanceGrant()
	grant.Scopes = []string{"api.read"}

	resp, err := mgr.TokenResponse(grant, "")
	require.NoError(t, err)
	require.NotNil(t, resp.AccessToken)
	require.Nil(t, resp.IdToken)
}

func TestTokenResponseClientCredentials(t *testing.T) {
	mgr, signer := newTestManager(t)
	grant := issuanceGrant()
	grant.Type = grants.TypeClientCredentials
	grant.Subject = ""
	grant.Scopes = []string{"api.read"}

	resp, err := mgr.TokenResponse(grant, "")
	require.NoError(t, err)
	require.Nil(t, resp.IdToken)

	claims := parseClaims(t, signer, *resp.AccessToken)
	require.Equal(t, testClientID, claims["sub"], "client credential tokens use the client as subject")
}

func TestTokenResponseIncludesRotatedRefreshToken(t *testing.T) {
	mgr, _ := newTestManager(t)
	grant := issuanceGrant()

	resp, err := mgr.TokenResponse(grant, "rotated-refresh-token")
	require.NoError(t, err)
	require.NotNil(t, resp.RefreshToken)
	require.Equal(t, "rotated-refresh-token", *resp.RefreshToken)
}

func TestCreateIDTokenCodeAndStateBindings(t *testing.T) {
	mgr, signer := newTestManager(t)
	grant := issuanceGrant()

	idToken, err := mgr.CreateIDToken(grant, token.Bindings{Code: "auth-code", State: "client-state"})
	require.NoError(t, err)

	claims := parseClaims(t, signer, *idToken)
	expectedCHash, err := token.BindingHash("auth-code", mgr.Algorithm())
	require.NoError(t, err)
	expectedSHash, err := token.BindingHash("client-state", mgr.Algorithm())
	require.NoError(t, err)
	require.Equal(t, expectedCHash, claims["c_hash"])
	require.Equal(t, expectedSHash, claims["s_hash"])
	_, hasAtHash := claims["at_hash"]
	require.False(t, hasAtHash)
}
