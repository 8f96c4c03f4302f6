package oauth2

// GrantType represents the OAuth 2.0 grant type used at the token endpoint.
// Determines what credentials are required to obtain tokens.
type GrantType string

const (
	// AuthorizationCodeGrant exchanges an authorization code for tokens.
	// Used in: Standard Authorization Code Flow
	// Token request includes: code, client_id, client_secret, code_verifier (if PKCE)
	// Returns: access_token, id_token, refresh_token (if requested)
	AuthorizationCodeGrant GrantType = "authorization_code"

	// ClientCredentialsGrant allows machine-to-machine authentication.
	// Used in: Backend service authentication (no user context)
	// Token request includes: client_id, client_secret, scope
	// Returns: access_token (no refresh_token or id_token)
	ClientCredentialsGrant GrantType = "client_credentials"

	// RefreshTokenGrant exchanges a refresh token for new tokens.
	// Used in: Token refresh flow (new access token without re-authenticating the user)
	// Token request includes: refresh_token, client_id, client_secret
	// Returns: new access_token, id_token, and a rotated refresh_token
	RefreshTokenGrant GrantType = "refresh_token"

	// CIBAGrant retrieves tokens for a backchannel authentication request.
	// Used in: Client-Initiated Backchannel Authentication (poll and ping modes)
	// Token request includes: auth_req_id, client_id, client_secret
	// Returns: tokens once the out-of-band authentication completed,
	// authorization_pending or slow_down while it has not.
	CIBAGrant GrantType = "urn:openid:params:grant-type:ciba"
)

// CodeMethodType represents the PKCE (Proof Key for Code Exchange) challenge method.
// Used to prevent authorization code interception attacks (especially for public clients).
type CodeMethodType string

const (
	// CodeMethodTypeS256 indicates SHA-256 hashing is used for the code challenge.
	// Server validates: SHA256(provided code_verifier) == stored code_challenge
	CodeMethodTypeS256 CodeMethodType = "S256"

	// CodeMethodTypeNone (labeled "plain") means no hashing, the code_verifier is compared directly.
	CodeMethodTypeNone CodeMethodType = "plain"
)
