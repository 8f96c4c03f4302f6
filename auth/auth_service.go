package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"strings"
	"time"

	"github.com/grantforge/go-grant-server/authenticator"
	"github.com/grantforge/go-grant-server/clients"
	"github.com/grantforge/go-grant-server/grants"
	"github.com/grantforge/go-grant-server/oauth2"
	"github.com/grantforge/go-grant-server/token"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const defaultCodeTTL = 15 * time.Minute

// AuthorizationService drives the front-channel grant flows: code issuance
// at the authorize endpoint and the authorization_code, refresh_token and
// client_credentials paths at the token endpoint. The backchannel flow has
// its own coordinator; both share the grant store and token manager.
type AuthorizationService struct {
	clientRepo clients.Repo
	store      grants.Store
	tokens     *token.Manager
	users      authenticator.Authenticator

	codeTTL time.Duration
	nowFunc func() time.Time
}

// AuthorizationServiceOption modifies the AuthorizationService instance.
type AuthorizationServiceOption func(*AuthorizationService)

// WithCodeTTL sets the authorization code lifetime.
func WithCodeTTL(ttl time.Duration) AuthorizationServiceOption {
	return func(as *AuthorizationService) {
		as.codeTTL = ttl
	}
}

// WithNowFunc sets the clock (primarily for testing).
func WithNowFunc(now func() time.Time) AuthorizationServiceOption {
	return func(as *AuthorizationService) {
		as.nowFunc = now
	}
}

// NewAuthorizationService initializes a new AuthorizationService with
// required dependencies.
func NewAuthorizationService(
	clientRepo clients.Repo,
	store grants.Store,
	tokens *token.Manager,
	users authenticator.Authenticator,
	options ...AuthorizationServiceOption,
) (*AuthorizationService, error) {
	if clientRepo == nil {
		return nil, errors.New("[NewAuthorizationService] client repo is required")
	}
	if store == nil {
		return nil, errors.New("[NewAuthorizationService] grant store is required")
	}
	if tokens == nil {
		return nil, errors.New("[NewAuthorizationService] token manager is required")
	}
	if users == nil {
		return nil, errors.New("[NewAuthorizationService] authenticator is required")
	}

	as := &AuthorizationService{
		clientRepo: clientRepo,
		store:      store,
		tokens:     tokens,
		users:      users,
		codeTTL:    defaultCodeTTL,
		nowFunc:    time.Now,
	}
	for _, opt := range options {
		opt(as)
	}
	return as, nil
}

// Authorize validates the authorization request, authenticates the resource
// owner, and issues a single-use authorization code bound to the request's
// nonce and PKCE challenge.
func (as *AuthorizationService) Authorize(ctx context.Context, params *AuthorizationParameters) (string, error) {
	client, err := as.clientRepo.Get(params.ClientID)
	if err != nil {
		return "", oauth2.ErrInvalidClient
	}
	if err := params.ValidateWithClient(client); err != nil {
		log.Debug().Err(err).Str("client_id", params.ClientID).Msg("authorization request rejected")
		return "", oauth2.ErrInvalidRequest
	}
	if !client.AllowsGrantType(string(oauth2.AuthorizationCodeGrant)) {
		return "", oauth2.ErrUnsupportedGrantType
	}

	ok, err := as.users.Authenticate(ctx, params.Username, authenticator.StepPassword,
		map[string]string{"password": params.Password})
	if err != nil {
		return "", errors.Wrap(err, "[AuthorizationService.Authorize] authenticate")
	}
	if !ok {
		return "", oauth2.ErrAccessDenied
	}

	code, err := grants.NewKey()
	if err != nil {
		return "", errors.Wrap(err, "[AuthorizationService.Authorize] generate code")
	}

	now := as.nowFunc()
	grant := &grants.Grant{
		ID:                  grants.NewID(),
		Type:                grants.TypeAuthorizationCode,
		Client:              client.Snapshot(""),
		Subject:             params.Username,
		Scopes:              strings.Fields(params.Scope),
		AuthenticationTime:  now,
		CreatedAt:           now,
		ExpiresAt:           now.Add(as.codeTTL),
		Nonce:               params.Nonce,
		CodeChallenge:       params.CodeChallenge,
		CodeChallengeMethod: string(params.CodeChallengeMethod),
	}
	if err := as.store.Put(ctx, code, grant, as.codeTTL+grants.EvictionGrace); err != nil {
		return "", errors.Wrap(err, "[AuthorizationService.Authorize] store grant")
	}
	return code, nil
}

// Token handles the token endpoint for the front-channel grant types.
// Protocol failures come back as *oauth2.Error values.
func (as *AuthorizationService) Token(ctx context.Context, req oauth2.TokenRequest) (*oauth2.TokenResponse, error) {
	client, err := as.clientRepo.Get(req.ClientID)
	if err != nil {
		return nil, oauth2.ErrInvalidClient
	}
	if !client.IsPublic() && subtle.ConstantTimeCompare([]byte(req.ClientSecret), []byte(client.Secret)) != 1 {
		return nil, oauth2.ErrInvalidClient
	}
	if !client.AllowsGrantType(string(req.GrantType)) {
		return nil, oauth2.ErrUnsupportedGrantType
	}

	switch req.GrantType {
	case oauth2.AuthorizationCodeGrant:
		return as.exchangeCode(ctx, client, req)
	case oauth2.RefreshTokenGrant:
		return as.refresh(ctx, client, req)
	case oauth2.ClientCredentialsGrant:
		return as.clientCredentials(ctx, client, req)
	default:
		return nil, oauth2.ErrUnsupportedGrantType
	}
}

func (as *AuthorizationService) exchangeCode(ctx context.Context, client *clients.Client, req oauth2.TokenRequest) (*oauth2.TokenResponse, error) {
	if req.Code == "" {
		return nil, oauth2.ErrInvalidRequest
	}

	grant, err := as.store.Consume(ctx, req.Code)
	if err != nil {
		log.Info().Err(err).Str("client_id", req.ClientID).Msg("authorization code not consumable")
		return nil, oauth2.ErrInvalidGrant
	}
	if grant.Type != grants.TypeAuthorizationCode || grant.Client.ClientID != client.ID {
		return nil, oauth2.ErrInvalidGrant
	}
	if grant.Expired(as.nowFunc()) {
		return nil, oauth2.ErrInvalidGrant
	}
	if !checkCodeChallenge(grant.CodeChallenge, req.CodeVerifier, oauth2.CodeMethodType(grant.CodeChallengeMethod)) {
		return nil, oauth2.ErrInvalidGrant
	}

	return as.issueWithRefresh(ctx, grant)
}

func (as *AuthorizationService) refresh(ctx context.Context, client *clients.Client, req oauth2.TokenRequest) (*oauth2.TokenResponse, error) {
	if req.RefreshToken == "" {
		return nil, oauth2.ErrInvalidRequest
	}

	grant, err := as.store.Consume(ctx, req.RefreshToken)
	if err != nil {
		log.Info().Err(err).Str("client_id", req.ClientID).Msg("refresh token not consumable")
		return nil, oauth2.ErrInvalidGrant
	}
	if grant.Type != grants.TypeRefreshToken || grant.Client.ClientID != client.ID {
		return nil, oauth2.ErrInvalidGrant
	}
	if grant.Expired(as.nowFunc()) {
		return nil, oauth2.ErrInvalidGrant
	}

	return as.issueWithRefresh(ctx, grant)
}

func (as *AuthorizationService) clientCredentials(ctx context.Context, client *clients.Client, req oauth2.TokenRequest) (*oauth2.TokenResponse, error) {
	if client.IsPublic() {
		return nil, oauth2.ErrInvalidClient
	}
	if err := client.ValidateScopes(req.Scope); err != nil {
		return nil, oauth2.ErrInvalidScope
	}

	now := as.nowFunc()
	grant := &grants.Grant{
		ID:        grants.NewID(),
		Type:      grants.TypeClientCredentials,
		Client:    client.Snapshot(""),
		Scopes:    strings.Fields(req.Scope),
		CreatedAt: now,
		ExpiresAt: now.Add(as.tokens.AccessTokenExpiry()),
	}

	response, err := as.tokens.TokenResponse(grant, "")
	if err != nil {
		log.Error().Err(err).Str("client_id", req.ClientID).Msg("token issuance failed")
		return nil, oauth2.ErrServerError
	}
	return response, nil
}

// issueWithRefresh issues a token response from the consumed grant and
// rotates: a successor grant goes into the store under a fresh refresh token
// key with the full refresh lifetime.
func (as *AuthorizationService) issueWithRefresh(ctx context.Context, grant *grants.Grant) (*oauth2.TokenResponse, error) {
	refreshKey, err := grants.NewKey()
	if err != nil {
		log.Error().Err(err).Msg("refresh key generation failed")
		return nil, oauth2.ErrServerError
	}

	now := as.nowFunc()
	refreshTTL := as.tokens.RefreshTokenExpiry()
	successor := *grant
	successor.ID = grants.NewID()
	successor.Type = grants.TypeRefreshToken
	successor.CreatedAt = now
	successor.ExpiresAt = now.Add(refreshTTL)
	if err := as.store.Put(ctx, refreshKey, &successor, refreshTTL+grants.EvictionGrace); err != nil {
		log.Error().Err(err).Msg("failed to store refresh grant")
		return nil, oauth2.ErrServerError
	}

	response, err := as.tokens.TokenResponse(grant, refreshKey)
	if err != nil {
		// The successor must not outlive a failed issuance.
		_ = as.store.Remove(ctx, refreshKey)
		log.Error().Err(err).Str("client_id", grant.Client.ClientID).Msg("token issuance failed")
		return nil, oauth2.ErrServerError
	}
	return response, nil
}

func checkCodeChallenge(storedChallenge, verifier string, method oauth2.CodeMethodType) bool {
	if storedChallenge == "" && verifier == "" { // no PKCE on this grant
		return true
	}
	switch method {
	case oauth2.CodeMethodTypeS256:
		hash := sha256.Sum256([]byte(verifier))
		return base64.RawURLEncoding.EncodeToString(hash[:]) == storedChallenge
	case oauth2.CodeMethodTypeNone:
		return storedChallenge == verifier
	}
	return false
}
