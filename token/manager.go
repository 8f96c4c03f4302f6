package token

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/grantforge/go-grant-server/grants"
	"github.com/grantforge/go-grant-server/internal/utils"
	"github.com/grantforge/go-grant-server/oauth2"
	"github.com/pkg/errors"
)

// Bindings carries the companion artifacts an ID token should be
// cryptographically tied to. Empty fields produce no claim.
type Bindings struct {
	AccessToken string // becomes at_hash
	Code        string // becomes c_hash
	State       string // becomes s_hash
}

// Manager assembles and signs tokens for consumed grants. It is stateless
// with respect to any single grant: it holds only the injected signer and
// issuance policy, never grant records.
type Manager struct {
	signer             Signer
	issuer             string
	accessTokenExpiry  time.Duration
	idTokenExpiry      time.Duration
	refreshTokenExpiry time.Duration
	nowFunc            func() time.Time
}

type ManagerOption func(*Manager)

func WithTokenExpiry(accessTokenExpiry, idTokenExpiry, refreshTokenExpiry time.Duration) ManagerOption {
	return func(m *Manager) {
		m.accessTokenExpiry = accessTokenExpiry
		m.idTokenExpiry = idTokenExpiry
		m.refreshTokenExpiry = refreshTokenExpiry
	}
}

func WithNowFunc(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.nowFunc = now
	}
}

// New creates a token manager signing with the given signer on behalf of issuer.
func New(signer Signer, issuer string, options ...ManagerOption) (*Manager, error) {
	if signer == nil {
		return nil, errors.New("[token.New] signer is required")
	}
	if issuer == "" {
		return nil, errors.New("[token.New] issuer is required")
	}

	m := &Manager{
		signer:  signer,
		issuer:  issuer,
		nowFunc: time.Now,
	}
	for _, opt := range options {
		opt(m)
	}

	if m.accessTokenExpiry == 0 {
		m.accessTokenExpiry = 15 * time.Minute
	}
	if m.idTokenExpiry == 0 {
		m.idTokenExpiry = time.Hour
	}
	if m.refreshTokenExpiry == 0 {
		m.refreshTokenExpiry = 24 * time.Hour
	}
	return m, nil
}

// Algorithm is the signature algorithm tokens are issued under. The hash
// binder derives its digest family from this.
func (m *Manager) Algorithm() string {
	return m.signer.GetSigningMethod().Alg()
}

// AccessTokenExpiry returns the configured access token lifetime.
func (m *Manager) AccessTokenExpiry() time.Duration {
	return m.accessTokenExpiry
}

// RefreshTokenExpiry returns the configured refresh token lifetime.
func (m *Manager) RefreshTokenExpiry() time.Duration {
	return m.refreshTokenExpiry
}

// CreateIDToken builds and signs an ID token for the grant's subject,
// embedding the requested hash bindings.
func (m *Manager) CreateIDToken(grant *grants.Grant, bindings Bindings) (*string, error) {
	now := m.nowFunc()
	claims := jwt.MapClaims{
		"iss": m.issuer,
		"sub": grant.Subject,
		"aud": grant.Client.ClientID,
		"iat": now.Unix(),
		"exp": now.Add(m.idTokenExpiry).Unix(),
		"jti": uuid.New().String(),
	}
	if grant.Nonce != "" {
		claims["nonce"] = grant.Nonce
	}
	if !grant.AuthenticationTime.IsZero() {
		claims["auth_time"] = grant.AuthenticationTime.Unix()
	}
	if grant.ACR != "" {
		claims["acr"] = grant.ACR
	}

	if err := m.applyBindings(claims, bindings); err != nil {
		return nil, err
	}

	signed, err := m.signer.Sign(claims)
	if err != nil {
		return nil, errors.Wrap(err, "[Manager.CreateIDToken] sign")
	}
	return &signed, nil
}

func (m *Manager) applyBindings(claims jwt.MapClaims, bindings Bindings) error {
	alg := m.Algorithm()
	for claim, input := range map[string]string{
		"at_hash": bindings.AccessToken,
		"c_hash":  bindings.Code,
		"s_hash":  bindings.State,
	} {
		if input == "" {
			continue
		}
		hash, err := BindingHash(input, alg)
		if err != nil {
			return errors.Wrap(err, "[Manager.applyBindings] "+claim)
		}
		claims[claim] = hash
	}
	return nil
}

// CreateAccessToken builds and signs an access token for the grant. The
// subject is the authenticated user, or the client itself for
// client-credentials grants.
func (m *Manager) CreateAccessToken(grant *grants.Grant) (*string, error) {
	now := m.nowFunc()
	subject := grant.Subject
	if subject == "" {
		subject = grant.Client.ClientID
	}
	claims := jwt.MapClaims{
		"iss":   m.issuer,
		"sub":   subject,
		"aud":   grant.Client.ClientID,
		"scope": strings.Join(grant.Scopes, " "),
		"iat":   now.Unix(),
		"exp":   now.Add(m.accessTokenExpiry).Unix(),
		"jti":   uuid.New().String(),
	}

	signed, err := m.signer.Sign(claims)
	if err != nil {
		return nil, errors.Wrap(err, "[Manager.CreateAccessToken] sign")
	}
	return &signed, nil
}

// TokenResponse issues the full token set for a consumed grant: an access
// token always, an ID token when the grant carries an authenticated subject
// and the openid scope, and the given rotated refresh token if any.
func (m *Manager) TokenResponse(grant *grants.Grant, refreshToken string) (*oauth2.TokenResponse, error) {
	accessToken, err := m.CreateAccessToken(grant)
	if err != nil {
		return nil, errors.Wrap(err, "[Manager.TokenResponse] CreateAccessToken")
	}

	var idToken *string
	if grant.Subject != "" && hasScope(grant.Scopes, "openid") {
		idToken, err = m.CreateIDToken(grant, Bindings{AccessToken: *accessToken})
		if err != nil {
			return nil, errors.Wrap(err, "[Manager.TokenResponse] CreateIDToken")
		}
	}

	response := &oauth2.TokenResponse{
		AccessToken: accessToken,
		IdToken:     idToken,
		TokenType:   "bearer",
		ExpiresIn:   int(m.accessTokenExpiry.Seconds()),
		Scope:       strings.Join(grant.Scopes, " "),
	}
	if refreshToken != "" {
		response.RefreshToken = utils.Ptr(refreshToken)
	}
	return response, nil
}

func hasScope(scopes []string, want string) bool {
	for _, s := range scopes {
		if s == want {
			return true
		}
	}
	return false
}
