package grants

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/grantforge/go-grant-server/clients"
	"github.com/pkg/errors"
)

// Type identifies the authorization grant flow a Grant was created by.
type Type string

const (
	TypeAuthorizationCode Type = "authorization_code"
	TypeRefreshToken      Type = "refresh_token"
	TypeCIBA              Type = "ciba"
	TypeClientCredentials Type = "client_credentials"
)

// Grant is the server-side record of an authorization decision. It is
// addressed in the store by exactly one opaque key (authorization code,
// auth_req_id or refresh token value) at any point of its life. Keys are
// generated from crypto/rand and never reused across grants.
type Grant struct {
	// ID is the server-generated primary handle, independent of the store key.
	ID string `json:"id"`

	Type Type `json:"type"`

	// Client is a value snapshot, not a live reference (see clients.Snapshot).
	Client clients.Snapshot `json:"client"`

	// Subject is the authenticated user. Empty until out-of-band
	// authentication completes for CIBA grants.
	Subject string `json:"subject,omitempty"`

	Scopes []string `json:"scopes,omitempty"`

	// ACR and AuthenticationTime are set once the user authenticated and are
	// immutable thereafter.
	ACR                string    `json:"acr,omitempty"`
	AuthenticationTime time.Time `json:"authenticationTime,omitempty"`

	CreatedAt time.Time `json:"createdAt"`

	// ExpiresAt is the logical lifetime bound. The store evicts the record a
	// grace period after this so reads in between can still be classified as
	// expired rather than unknown.
	ExpiresAt time.Time `json:"expiresAt"`

	// CacheOnly marks ephemeral grants that must not reach a durable backend.
	CacheOnly bool `json:"cacheOnly,omitempty"`

	// Nonce, CodeChallenge and CodeChallengeMethod carry authorization-code
	// flow parameters through to token issuance.
	Nonce               string `json:"nonce,omitempty"`
	CodeChallenge       string `json:"codeChallenge,omitempty"`
	CodeChallengeMethod string `json:"codeChallengeMethod,omitempty"`

	// Backchannel is set only for CIBA grants.
	Backchannel *BackchannelSession `json:"backchannel,omitempty"`
}

// BackchannelSession is the CIBA-specific extension of a Grant.
type BackchannelSession struct {
	AuthReqID string `json:"authReqId"`

	State SessionState `json:"state"`

	// Interval is the minimum time between token-endpoint polls.
	Interval time.Duration `json:"interval"`

	BindingMessage string `json:"bindingMessage,omitempty"`

	// CallbackPayload is the raw out-of-band completion body, kept for auditing.
	CallbackPayload json.RawMessage `json:"callbackPayload,omitempty"`
}

// Expired reports whether the grant's logical lifetime has elapsed.
func (g *Grant) Expired(now time.Time) bool {
	return now.After(g.ExpiresAt)
}

// SessionState classifies the backchannel session as observed at time now.
// A session whose lifetime elapsed in a non-terminal state reads as EXPIRED;
// the stored record is never rewritten for it, eviction finishes the job.
func (g *Grant) SessionState(now time.Time) SessionState {
	if g.Backchannel == nil {
		return ""
	}
	if g.Expired(now) && !g.Backchannel.State.Terminal() {
		return StateExpired
	}
	return g.Backchannel.State
}

// Clone returns a deep copy. The store hands out clones so callers can never
// mutate a record another caller is reading.
func (g *Grant) Clone() *Grant {
	if g == nil {
		return nil
	}
	clone := *g
	if g.Scopes != nil {
		clone.Scopes = append([]string(nil), g.Scopes...)
	}
	if g.Backchannel != nil {
		bc := *g.Backchannel
		if g.Backchannel.CallbackPayload != nil {
			bc.CallbackPayload = append(json.RawMessage(nil), g.Backchannel.CallbackPayload...)
		}
		clone.Backchannel = &bc
	}
	return &clone
}

const opaqueKeyLength = 32 // 256 bits

// NewKey generates an opaque store key (authorization code, auth_req_id,
// refresh token value). Unguessable and unique for any practical purpose.
func NewKey() (string, error) {
	buf := make([]byte, opaqueKeyLength)
	if _, err := rand.Read(buf); err != nil {
		return "", errors.Wrap(err, "[grants.NewKey] rand.Read")
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// NewID generates a grant id.
func NewID() string {
	return uuid.New().String()
}
