package token_test

import (
	"testing"

	"github.com/grantforge/go-grant-server/token"
	"github.com/stretchr/testify/require"
)

func TestKeySetResolveKeyID(t *testing.T) {
	rsaPair, err := token.GenerateRSAKeyPair("RS256", 2048)
	require.NoError(t, err)
	ecPair, err := token.GenerateECDSAKeyPair("ES256")
	require.NoError(t, err)

	keySet := token.NewKeySet(rsaPair, ecPair)

	kid, err := keySet.ResolveKeyID("RS256", token.SignatureUse)
	require.NoError(t, err)
	require.Equal(t, rsaPair.KeyID, kid)

	kid, err = keySet.ResolveKeyID("ES256", token.SignatureUse)
	require.NoError(t, err)
	require.Equal(t, ecPair.KeyID, kid)
}

func TestKeySetResolveKeyIDNoSuchKey(t *testing.T) {
	rsaPair, err := token.GenerateRSAKeyPair("RS256", 2048)
	require.NoError(t, err)
	keySet := token.NewKeySet(rsaPair)

	_, err = keySet.ResolveKeyID("ES384", token.SignatureUse)
	require.ErrorIs(t, err, token.ErrNoSuchKey)

	// Unknown usage must not resolve either; no silent fallback.
	_, err = keySet.ResolveKeyID("RS256", "enc")
	require.ErrorIs(t, err, token.ErrNoSuchKey)

	_, err = keySet.SignerFor("ES384")
	require.ErrorIs(t, err, token.ErrNoSuchKey)
}

func TestKeySetPublicJWKS(t *testing.T) {
	rsaPair, err := token.GenerateRSAKeyPair("RS256", 2048)
	require.NoError(t, err)
	keySet := token.NewKeySet(rsaPair)

	jwks := keySet.PublicJWKS()
	require.Len(t, jwks.Keys, 1)
	require.Equal(t, rsaPair.KeyID, jwks.Keys[0].KeyID)
	require.Equal(t, "RS256", jwks.Keys[0].Algorithm)
	require.Equal(t, token.SignatureUse, jwks.Keys[0].Use)
	require.True(t, jwks.Keys[0].IsPublic())
}

func TestGenerateKeyPairRejectsWrongFamily(t *testing.T) {
	_, err := token.GenerateRSAKeyPair("ES256", 2048)
	require.Error(t, err)

	_, err = token.GenerateECDSAKeyPair("RS256")
	require.Error(t, err)
}

func TestGetSigningMethodNeverSubstitutes(t *testing.T) {
	pair, err := token.GenerateRSAKeyPair("RS384", 2048)
	require.NoError(t, err)
	require.Equal(t, "RS384", pair.GetSigningMethod().Alg())

	pair.Algorithm = "XS512"
	require.Panics(t, func() { pair.GetSigningMethod() })
}
