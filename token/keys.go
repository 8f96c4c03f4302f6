package token

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"

	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

// ErrNoSuchKey is returned when no active key exists for a requested
// algorithm and usage. Fatal to the issuance attempt - issuance must never
// fall back to a different algorithm.
var ErrNoSuchKey = errors.New("no active key for algorithm")

// SignatureUse is the JWK "use" value for signing keys.
const SignatureUse = "sig"

// KeyPair represents a public/private key pair for signing tokens
type KeyPair struct {
	KeyID      string
	PrivateKey crypto.PrivateKey
	PublicKey  crypto.PublicKey
	Algorithm  string // RS256, RS384, RS512, ES256, ES384, ES512
}

// GenerateRSAKeyPair generates a new RSA key pair for the given RS* algorithm.
// The key id is derived from the public key via RFC 7638 JWK thumbprint.
func GenerateRSAKeyPair(algorithm string, bits int) (*KeyPair, error) {
	if bits < 2048 {
		bits = 2048
	}
	switch algorithm {
	case "RS256", "RS384", "RS512", "PS256", "PS384", "PS512":
	default:
		return nil, errors.Errorf("[GenerateRSAKeyPair] not an RSA algorithm: %q", algorithm)
	}

	privateKey, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, errors.Wrap(err, "failed to generate RSA key")
	}

	kid, err := deriveKeyID(&privateKey.PublicKey)
	if err != nil {
		return nil, err
	}
	return &KeyPair{
		KeyID:      kid,
		PrivateKey: privateKey,
		PublicKey:  &privateKey.PublicKey,
		Algorithm:  algorithm,
	}, nil
}

// GenerateECDSAKeyPair generates a new ECDSA key pair for the given ES*
// algorithm, on the curve that algorithm mandates.
func GenerateECDSAKeyPair(algorithm string) (*KeyPair, error) {
	var curve elliptic.Curve
	switch algorithm {
	case "ES256":
		curve = elliptic.P256()
	case "ES384":
		curve = elliptic.P384()
	case "ES512":
		curve = elliptic.P521()
	default:
		return nil, errors.Errorf("[GenerateECDSAKeyPair] not an ECDSA algorithm: %q", algorithm)
	}

	privateKey, err := ecdsa.GenerateKey(curve, rand.Reader)
	if err != nil {
		return nil, errors.Wrap(err, "failed to generate ECDSA key")
	}

	kid, err := deriveKeyID(&privateKey.PublicKey)
	if err != nil {
		return nil, err
	}
	return &KeyPair{
		KeyID:      kid,
		PrivateKey: privateKey,
		PublicKey:  &privateKey.PublicKey,
		Algorithm:  algorithm,
	}, nil
}

// deriveKeyID computes the RFC 7638 JWK thumbprint of the public key,
// base64url-encoded without padding.
func deriveKeyID(publicKey crypto.PublicKey) (string, error) {
	jwk := jose.JSONWebKey{Key: publicKey}
	thumbprint, err := jwk.Thumbprint(crypto.SHA256)
	if err != nil {
		return "", errors.Wrap(err, "failed to compute key thumbprint")
	}
	return base64.RawURLEncoding.EncodeToString(thumbprint), nil
}

// GetSigningMethod returns the JWT signing method for this key pair. The
// constructors only produce whitelisted algorithms; anything else is a
// construction bug and panics rather than sign with a substitute algorithm.
func (kp *KeyPair) GetSigningMethod() jwt.SigningMethod {
	switch kp.Algorithm {
	case "RS256":
		return jwt.SigningMethodRS256
	case "RS384":
		return jwt.SigningMethodRS384
	case "RS512":
		return jwt.SigningMethodRS512
	case "PS256":
		return jwt.SigningMethodPS256
	case "PS384":
		return jwt.SigningMethodPS384
	case "PS512":
		return jwt.SigningMethodPS512
	case "ES256":
		return jwt.SigningMethodES256
	case "ES384":
		return jwt.SigningMethodES384
	case "ES512":
		return jwt.SigningMethodES512
	default:
		panic(errors.Errorf("no signing method for algorithm %q", kp.Algorithm))
	}
}

// JWK returns the public half of the key pair as a JSON Web Key.
func (kp *KeyPair) JWK() jose.JSONWebKey {
	return jose.JSONWebKey{
		Key:       kp.PublicKey,
		KeyID:     kp.KeyID,
		Algorithm: kp.Algorithm,
		Use:       SignatureUse,
	}
}

// KeySet is the server's active key set. It answers key-id resolution by
// algorithm and usage, and exports the public JWKS document.
type KeySet struct {
	pairs map[string]*KeyPair // kid -> pair
	order []string            // insertion order; first match wins
}

// NewKeySet builds a key set from the given pairs.
func NewKeySet(pairs ...*KeyPair) *KeySet {
	ks := &KeySet{pairs: make(map[string]*KeyPair)}
	for _, p := range pairs {
		ks.Add(p)
	}
	return ks
}

// Add registers a key pair. A pair with a duplicate kid replaces the old one.
func (ks *KeySet) Add(pair *KeyPair) {
	if _, exists := ks.pairs[pair.KeyID]; !exists {
		ks.order = append(ks.order, pair.KeyID)
	}
	ks.pairs[pair.KeyID] = pair
}

// ResolveKeyID returns the key id of the first key matching algorithm and
// usage, or ErrNoSuchKey. Only SignatureUse keys are held here, so any other
// usage resolves to nothing.
func (ks *KeySet) ResolveKeyID(algorithm, use string) (string, error) {
	if use != SignatureUse {
		return "", errors.Wrapf(ErrNoSuchKey, "usage %q", use)
	}
	for _, kid := range ks.order {
		if ks.pairs[kid].Algorithm == algorithm {
			return kid, nil
		}
	}
	return "", errors.Wrapf(ErrNoSuchKey, "algorithm %q", algorithm)
}

// SignerFor resolves the active key for algorithm and wraps it in a Signer.
// Fails with ErrNoSuchKey rather than falling back to another algorithm.
func (ks *KeySet) SignerFor(algorithm string) (Signer, error) {
	kid, err := ks.ResolveKeyID(algorithm, SignatureUse)
	if err != nil {
		return nil, err
	}
	return NewKeyPairSigner(ks.pairs[kid]), nil
}

// PublicJWKS exports the public keys for the jwks_uri document.
func (ks *KeySet) PublicJWKS() jose.JSONWebKeySet {
	set := jose.JSONWebKeySet{}
	for _, kid := range ks.order {
		set.Keys = append(set.Keys, ks.pairs[kid].JWK())
	}
	return set
}
