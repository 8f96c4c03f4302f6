package oauth2

// TokenResponse represents the response from an OAuth2 token request.
// This is the standard OAuth2 token endpoint response format as defined in RFC 6749.
// Returned from the /token endpoint for all grant types, and delivered by the
// server itself to the client's notification endpoint in CIBA push mode.
type TokenResponse struct {
	// AccessToken is the JWT token used to access protected resources.
	// Usage: Include in Authorization header: "Bearer <access_token>"
	// Lifespan: Short-lived (typically 15 minutes - 1 hour)
	AccessToken *string `json:"access_token,omitempty"`

	// IdToken is the OpenID Connect ID token containing user identity information
	// and any requested hash bindings (at_hash, c_hash, s_hash).
	// Only present: When the "openid" scope was requested
	IdToken *string `json:"id_token,omitempty"`

	// TokenType indicates how to use the access token (always "bearer" here).
	TokenType string `json:"token_type,omitempty"`

	// ExpiresIn is the lifetime in seconds of the access token.
	// Note: This is a hint - actual expiration is in the JWT's "exp" claim
	ExpiresIn int `json:"expires_in,omitempty"`

	// RefreshToken is an opaque token used to obtain new access tokens.
	// Usage: Send to /token endpoint with grant_type=refresh_token
	// Security: Should be stored securely, rotates on each use
	RefreshToken *string `json:"refresh_token,omitempty"`

	// Scope indicates the access token's granted permissions.
	// Example: "openid profile email api.read"
	Scope string `json:"scope,omitempty"`
}
