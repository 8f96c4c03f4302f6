package clients

import (
	"errors"
	"strings"
)

var (
	ErrNotFound              = errors.New("client not found")
	ErrInvalidScope          = errors.New("scope not allowed for client")
	ErrMissingNotification   = errors.New("ping and push clients require a notification endpoint")
	ErrUnsupportedTokenModes = errors.New("unsupported token delivery mode")
	ErrInvalidRedirectURI    = errors.New("redirect uri not registered for client")
)

type ClientType string

const (
	ClientTypeConfidential ClientType = "confidential" // Can keep secrets (server-side apps)
	ClientTypePublic       ClientType = "public"       // Cannot keep secrets (SPAs, mobile apps)
)

// TokenDeliveryMode is how a client retrieves CIBA-issued tokens.
type TokenDeliveryMode string

const (
	// DeliveryModePoll - the client polls the token endpoint with the auth_req_id.
	DeliveryModePoll TokenDeliveryMode = "poll"
	// DeliveryModePing - the server notifies the client's endpoint that the
	// request is ready; the client then polls the token endpoint once.
	DeliveryModePing TokenDeliveryMode = "ping"
	// DeliveryModePush - the server delivers the tokens directly to the
	// client's notification endpoint.
	DeliveryModePush TokenDeliveryMode = "push"
)

type Client struct {
	ID          string     `json:"id"`
	Type        ClientType `json:"type"` // public or confidential
	Description string     `json:"description"`
	Secret      string     `json:"secret"`
	Scopes      []string   `json:"scopes"` // Allowed scopes for this client

	// TokenDeliveryMode is the CIBA delivery mode registered for this client.
	TokenDeliveryMode TokenDeliveryMode `json:"tokenDeliveryMode,omitempty"`

	// NotificationEndpoint is where ping notifications and push deliveries go.
	// Required when TokenDeliveryMode is ping or push.
	NotificationEndpoint string `json:"notificationEndpoint,omitempty"`

	// RedirectURIs are the exact-match allowed redirect targets for the
	// authorization-code flow.
	RedirectURIs []string `json:"redirectUris,omitempty"`

	// GrantTypes restricts which grant types the client may use at the token
	// endpoint. Empty means all grant types are allowed.
	GrantTypes []string `json:"grantTypes,omitempty"`
}

// IsPublic returns true if the client is a public client
func (c *Client) IsPublic() bool {
	return c.Type == ClientTypePublic
}

// HasScope checks if the client has permission for a specific scope
func (c *Client) HasScope(scope string) bool {
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// ValidateScopes checks if all requested scopes are allowed for this client
func (c *Client) ValidateScopes(requestedScopes string) error {
	if requestedScopes == "" {
		return nil
	}
	for _, scope := range strings.Fields(requestedScopes) {
		if !c.HasScope(scope) {
			return ErrInvalidScope
		}
	}
	return nil
}

// AllowsGrantType checks the client may use the given grant type at the
// token endpoint. An empty registration allows all grant types.
func (c *Client) AllowsGrantType(grantType string) bool {
	if len(c.GrantTypes) == 0 {
		return true
	}
	for _, gt := range c.GrantTypes {
		if gt == grantType {
			return true
		}
	}
	return false
}

// ValidateRedirectURI checks the redirect target against the registration.
// Exact string match only.
func (c *Client) ValidateRedirectURI(redirectURI string) error {
	for _, uri := range c.RedirectURIs {
		if uri == redirectURI {
			return nil
		}
	}
	return ErrInvalidRedirectURI
}

// ValidateDelivery checks the CIBA delivery registration is usable.
func (c *Client) ValidateDelivery() error {
	switch c.TokenDeliveryMode {
	case DeliveryModePoll:
		return nil
	case DeliveryModePing, DeliveryModePush:
		if c.NotificationEndpoint == "" {
			return ErrMissingNotification
		}
		return nil
	default:
		return ErrUnsupportedTokenModes
	}
}

// Snapshot is the value-type copy of client fields a grant carries. Grants
// hold this instead of a live client reference so their lifetime does not
// couple to the client entity's own store.
type Snapshot struct {
	ClientID                string            `json:"clientId"`
	ClientSecret            string            `json:"clientSecret"`
	TokenDeliveryMode       TokenDeliveryMode `json:"tokenDeliveryMode,omitempty"`
	NotificationEndpoint    string            `json:"notificationEndpoint,omitempty"`
	ClientNotificationToken string            `json:"clientNotificationToken,omitempty"`
}

// Snapshot captures the fields a grant needs from this client. The
// notification token comes from the backchannel request, not the registration.
func (c *Client) Snapshot(clientNotificationToken string) Snapshot {
	return Snapshot{
		ClientID:                c.ID,
		ClientSecret:            c.Secret,
		TokenDeliveryMode:       c.TokenDeliveryMode,
		NotificationEndpoint:    c.NotificationEndpoint,
		ClientNotificationToken: clientNotificationToken,
	}
}
