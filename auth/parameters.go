package auth

import (
	"github.com/grantforge/go-grant-server/clients"
	"github.com/grantforge/go-grant-server/oauth2"
	"github.com/pkg/errors"
)

// AuthorizationParameters holds the parameters of an authorization request
// plus the resource owner credentials presented alongside it. There is no
// hosted login UI; the caller authenticates in the same request.
type AuthorizationParameters struct {
	ClientID            string
	RedirectURI         string
	ResponseType        string
	Scope               string
	State               string
	Nonce               string
	CodeChallenge       string
	CodeChallengeMethod oauth2.CodeMethodType

	Username string
	Password string
}

// ValidateWithClient checks the request parameters against the client's
// registration.
func (p *AuthorizationParameters) ValidateWithClient(client *clients.Client) error {
	if p.ResponseType != "code" {
		return errors.New("[ValidateWithClient] unsupported response_type")
	}
	if err := client.ValidateRedirectURI(p.RedirectURI); err != nil {
		return errors.Wrap(err, "[ValidateWithClient] redirect_uri")
	}
	if err := client.ValidateScopes(p.Scope); err != nil {
		return errors.Wrap(err, "[ValidateWithClient] scope")
	}
	if err := validatePKCE(p.CodeChallenge, p.CodeChallengeMethod, client.IsPublic()); err != nil {
		return err
	}
	return nil
}

// validatePKCE checks the challenge parameters come as a pair, the method is
// known, and the challenge length is inside the RFC 7636 bounds. Public
// clients must use PKCE.
func validatePKCE(codeChallenge string, method oauth2.CodeMethodType, required bool) error {
	if codeChallenge == "" && method == "" {
		if required {
			return errors.New("[validatePKCE] PKCE required for public clients")
		}
		return nil
	}
	if codeChallenge == "" || method == "" {
		return errors.New("[validatePKCE] code_challenge and code_challenge_method must be provided together")
	}
	if len(codeChallenge) < 43 || len(codeChallenge) > 128 {
		return errors.New("[validatePKCE] code_challenge length must be between 43 and 128 characters")
	}
	if method != oauth2.CodeMethodTypeS256 && method != oauth2.CodeMethodTypeNone {
		return errors.New("[validatePKCE] code_challenge_method must be 'S256' or 'plain'")
	}
	return nil
}
