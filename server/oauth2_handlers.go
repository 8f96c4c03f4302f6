package server

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/grantforge/go-grant-server/auth"
	"github.com/grantforge/go-grant-server/oauth2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const contentTypeJSON = "application/json; charset=utf-8"

// WellKnownOpenIDConfig serves the OIDC discovery document
func (s *Server) WellKnownOpenIDConfig() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		baseURL := s.config.GetBaseURL()

		resp := map[string]any{
			"issuer":                              s.config.GetIssuer(),
			"authorization_endpoint":              baseURL + RouteOAuth2Authorize,
			"token_endpoint":                      baseURL + RouteOAuth2Token,
			"backchannel_authentication_endpoint": baseURL + RouteBackchannelAuthorize,
			"jwks_uri":                            baseURL + RouteWellKnownJWKS,

			"response_types_supported": []string{"code"},
			"subject_types_supported":  []string{"public"},

			"id_token_signing_alg_values_supported": []string{s.algorithm},

			"scopes_supported": []string{"openid", "profile", "email", "offline_access"},

			"token_endpoint_auth_methods_supported": []string{
				"client_secret_basic",
				"client_secret_post",
				"none", // public clients with PKCE
			},

			"grant_types_supported": []string{
				string(oauth2.AuthorizationCodeGrant),
				string(oauth2.RefreshTokenGrant),
				string(oauth2.ClientCredentialsGrant),
				string(oauth2.CIBAGrant),
			},

			"code_challenge_methods_supported": []string{"S256", "plain"},

			"backchannel_token_delivery_modes_supported": []string{"poll", "ping", "push"},
			"backchannel_user_code_parameter_supported":  false,
		}

		w.Header().Set("Content-Type", contentTypeJSON)
		w.Header().Set("Cache-Control", "public, max-age=3600")
		_ = json.NewEncoder(w).Encode(resp)
	}
}

// JWKS returns the JSON Web Key Set used to validate tokens
func (s *Server) JWKS() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.keySet == nil {
			// Shared-secret deployments have no public keys to distribute.
			http.Error(w, "no key set configured", http.StatusNotFound)
			return
		}

		w.Header().Set("Content-Type", contentTypeJSON)
		w.Header().Set("Cache-Control", "public, max-age=3600")
		_ = json.NewEncoder(w).Encode(s.keySet.PublicJWKS())
	}
}

// Authorize authenticates the resource owner and issues an authorization
// code, answering with a redirect to the client's registered redirect_uri.
func (s *Server) Authorize() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			writeOAuthError(w, oauth2.ErrInvalidRequest)
			return
		}

		params := &auth.AuthorizationParameters{
			ClientID:            r.FormValue("client_id"),
			RedirectURI:         r.FormValue("redirect_uri"),
			ResponseType:        r.FormValue("response_type"),
			Scope:               r.FormValue("scope"),
			State:               r.FormValue("state"),
			Nonce:               r.FormValue("nonce"),
			CodeChallenge:       r.FormValue("code_challenge"),
			CodeChallengeMethod: oauth2.CodeMethodType(r.FormValue("code_challenge_method")),
			Username:            r.FormValue("username"),
			Password:            r.FormValue("password"),
		}

		code, err := s.auth.Authorize(r.Context(), params)
		if err != nil {
			writeOAuthError(w, err)
			return
		}

		redirect, err := url.Parse(params.RedirectURI)
		if err != nil {
			writeOAuthError(w, oauth2.ErrInvalidRequest)
			return
		}
		query := redirect.Query()
		query.Set("code", code)
		if params.State != "" {
			query.Set("state", params.State)
		}
		redirect.RawQuery = query.Encode()
		http.Redirect(w, r, redirect.String(), http.StatusSeeOther)
	}
}

// Token exchanges code/credentials for tokens
func (s *Server) Token() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			writeOAuthError(w, oauth2.ErrInvalidRequest)
			return
		}

		clientID, clientSecret := clientCredentials(r)
		tokenReq := oauth2.TokenRequest{
			GrantType:    oauth2.GrantType(r.FormValue("grant_type")),
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Code:         r.FormValue("code"),
			CodeVerifier: r.FormValue("code_verifier"),
			RefreshToken: r.FormValue("refresh_token"),
			AuthReqID:    r.FormValue("auth_req_id"),
			Scope:        r.FormValue("scope"),
		}

		var (
			tokenResponse *oauth2.TokenResponse
			err           error
		)
		if tokenReq.GrantType == oauth2.CIBAGrant {
			if err := s.authenticateClient(clientID, clientSecret); err != nil {
				writeOAuthError(w, err)
				return
			}
			tokenResponse, err = s.coordinator.Token(r.Context(), clientID, tokenReq.AuthReqID)
		} else {
			tokenResponse, err = s.auth.Token(r.Context(), tokenReq)
		}
		if err != nil {
			writeOAuthError(w, err)
			return
		}

		w.Header().Set("Content-Type", contentTypeJSON)
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Pragma", "no-cache")
		_ = json.NewEncoder(w).Encode(tokenResponse)
	}
}

// clientCredentials pulls client_id/client_secret from the Basic header or
// the form body, in that order.
func clientCredentials(r *http.Request) (string, string) {
	if id, secret, ok := r.BasicAuth(); ok {
		if unescapedID, err := url.QueryUnescape(id); err == nil {
			id = unescapedID
		}
		if unescapedSecret, err := url.QueryUnescape(secret); err == nil {
			secret = unescapedSecret
		}
		return id, secret
	}
	return r.FormValue("client_id"), r.FormValue("client_secret")
}

func (s *Server) authenticateClient(clientID, clientSecret string) error {
	client, err := s.clientRepo.Get(clientID)
	if err != nil {
		return oauth2.ErrInvalidClient
	}
	if !client.IsPublic() && subtle.ConstantTimeCompare([]byte(clientSecret), []byte(client.Secret)) != 1 {
		return oauth2.ErrInvalidClient
	}
	return nil
}

// writeOAuthError writes an RFC 6749 error response. Non-protocol errors
// degrade to server_error with details kept in the log.
func writeOAuthError(w http.ResponseWriter, err error) {
	var oauthErr *oauth2.Error
	if !errors.As(err, &oauthErr) {
		log.Error().Err(err).Msg("unclassified endpoint failure")
		oauthErr = oauth2.ErrServerError
	}

	w.Header().Set("Content-Type", contentTypeJSON)
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(oauthErr.Status)
	_ = json.NewEncoder(w).Encode(oauthErr)
}
