package oauth2

// BackchannelAuthenticationRequest represents a request to the backchannel
// authentication endpoint as defined in the CIBA specification section 7.1.
//
// Client authentication (client_secret, client_assertion) is handled
// separately, not in this struct.
type BackchannelAuthenticationRequest struct {
	// ClientID is the OAuth 2.0 client identifier.
	ClientID string

	// Scope is a space-delimited list of requested scopes.
	Scope string

	// LoginHint is a hint about the login identifier the end user might use.
	LoginHint string

	// ClientNotificationToken is the bearer value the server presents when
	// calling the client's notification endpoint. Required for ping and push
	// delivery modes.
	ClientNotificationToken string

	// ACRValues is a space-delimited list of requested authentication
	// context class references.
	ACRValues string

	// BindingMessage is a human-readable message displayed on both the
	// consumption device and the authentication device so the user can match
	// the two. Max 20 characters per CIBA spec section 7.1.
	BindingMessage string

	// RequestedExpiry lets the client ask for a specific expires_in value
	// for the auth_req_id, in seconds.
	RequestedExpiry int
}

// BackchannelAuthenticationResponse is the successful response from the
// backchannel authentication endpoint (CIBA spec section 7.3).
type BackchannelAuthenticationResponse struct {
	// AuthReqID uniquely identifies the authentication request made by the client.
	AuthReqID string `json:"auth_req_id"`

	// ExpiresIn is the lifetime of the auth_req_id in seconds.
	ExpiresIn int `json:"expires_in"`

	// Interval is the minimum number of seconds the client must wait between
	// polling requests to the token endpoint. Only set for poll mode.
	Interval int `json:"interval,omitempty"`
}
