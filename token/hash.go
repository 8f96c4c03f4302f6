package token

import (
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"strings"

	"github.com/pkg/errors"
)

// BindingHash computes an OIDC token-binding hash (at_hash, c_hash, s_hash)
// for input under the given signature algorithm. The digest is selected by
// algorithm family - SHA-256 for HS256/RS256/ES256/PS256, SHA-384 for the
// 384 family, SHA-512 for the 512 family - then the left half of the digest
// is base64url-encoded without padding.
//
// Pure function: same (input, algorithm) always yields the same output.
func BindingHash(input, signatureAlgorithm string) (string, error) {
	var digest []byte
	switch {
	case strings.HasSuffix(signatureAlgorithm, "256"):
		sum := sha256.Sum256([]byte(input))
		digest = sum[:]
	case strings.HasSuffix(signatureAlgorithm, "384"):
		sum := sha512.Sum384([]byte(input))
		digest = sum[:]
	case strings.HasSuffix(signatureAlgorithm, "512"):
		sum := sha512.Sum512([]byte(input))
		digest = sum[:]
	default:
		return "", errors.Errorf("[BindingHash] unsupported signature algorithm %q", signatureAlgorithm)
	}
	return base64.RawURLEncoding.EncodeToString(digest[:len(digest)/2]), nil
}
