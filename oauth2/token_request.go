package oauth2

// TokenRequest holds parameters for the OAuth2 token request.
// This represents the request body sent to the /token endpoint.
// Supports the authorization_code, refresh_token, client_credentials and
// CIBA grant types.
type TokenRequest struct {
	// GrantType selects the issuance path.
	// Required: Yes
	// Example: "urn:openid:params:grant-type:ciba"
	GrantType GrantType

	// ClientID identifies the OAuth2 client making the request.
	// Required: Yes (for all grant types)
	// Example: "web-app-client"
	ClientID string

	// ClientSecret is the secret credential for confidential clients.
	// Required: Yes for confidential clients, No for public clients
	// Security: Never log or expose this value
	ClientSecret string

	// Code is the authorization code received from the authorization endpoint.
	// Required: Yes (only for authorization_code grant)
	// Usage: Exchanged once for tokens, then becomes invalid
	Code string

	// CodeVerifier is the PKCE code verifier that matches the code_challenge.
	// Required: Yes (if PKCE was used in the authorization request)
	// Validation: Server compares SHA256(code_verifier) with the stored code_challenge
	CodeVerifier string

	// RefreshToken is used to obtain new access tokens without re-authentication.
	// Required: Yes (only for refresh_token grant)
	// Behavior: Rotated - old refresh token invalidated, new one issued
	RefreshToken string

	// AuthReqID identifies a backchannel authentication request.
	// Required: Yes (only for the CIBA grant)
	// Usage: Polled until the out-of-band authentication completes; the first
	// poll after completion consumes the grant.
	AuthReqID string

	// Scope is the space-separated list of requested scopes.
	// Required: No (client_credentials grant only; other grants carry the
	// scopes on the stored grant)
	Scope string
}
