// Package cibaclient is the relying-party side of the backchannel flow: it
// starts an authentication request, polls the token endpoint honoring the
// server's pacing, and verifies the resulting ID token.
package cibaclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/grantforge/go-grant-server/oauth2"
	"github.com/pkg/errors"
	xoauth2 "golang.org/x/oauth2"
)

const slowDownIncrement = 5 * time.Second

// AuthenticationRequest holds the parameters of a backchannel authentication
// request.
type AuthenticationRequest struct {
	Scope                   string
	LoginHint               string
	BindingMessage          string
	ClientNotificationToken string
	ACRValues               string
	RequestedExpiry         int
}

// Client talks to one authorization server on behalf of one registered
// OAuth2 client.
type Client struct {
	clientID     string
	clientSecret string

	backchannelAuthURL string
	tokenURL           string

	httpClient *http.Client
	verifier   *oidc.IDTokenVerifier
	sleep      func(ctx context.Context, d time.Duration) error
}

type Option func(*Client)

// WithHTTPClient injects the HTTP client (primarily for testing).
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithIDTokenVerifier enables ID token verification on token retrieval.
// Build one with NewIDTokenVerifier or directly from an oidc.Provider.
func WithIDTokenVerifier(verifier *oidc.IDTokenVerifier) Option {
	return func(c *Client) {
		c.verifier = verifier
	}
}

// New creates a backchannel client for the given endpoints.
func New(clientID, clientSecret, backchannelAuthURL, tokenURL string, options ...Option) *Client {
	c := &Client{
		clientID:           clientID,
		clientSecret:       clientSecret,
		backchannelAuthURL: backchannelAuthURL,
		tokenURL:           tokenURL,
		httpClient:         &http.Client{},
		sleep:              sleepContext,
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

// NewIDTokenVerifier builds a verifier against the server's JWKS endpoint.
func NewIDTokenVerifier(ctx context.Context, issuer, jwksURL, clientID string) *oidc.IDTokenVerifier {
	keySet := oidc.NewRemoteKeySet(ctx, jwksURL)
	return oidc.NewVerifier(issuer, keySet, &oidc.Config{ClientID: clientID})
}

// Authenticate starts a backchannel authentication request and returns the
// server's auth_req_id handle.
func (c *Client) Authenticate(ctx context.Context, req AuthenticationRequest) (*oauth2.BackchannelAuthenticationResponse, error) {
	form := url.Values{}
	form.Set("scope", req.Scope)
	if req.LoginHint != "" {
		form.Set("login_hint", req.LoginHint)
	}
	if req.BindingMessage != "" {
		form.Set("binding_message", req.BindingMessage)
	}
	if req.ClientNotificationToken != "" {
		form.Set("client_notification_token", req.ClientNotificationToken)
	}
	if req.ACRValues != "" {
		form.Set("acr_values", req.ACRValues)
	}
	if req.RequestedExpiry > 0 {
		form.Set("requested_expiry", strconv.Itoa(req.RequestedExpiry))
	}

	body, status, err := c.postForm(ctx, c.backchannelAuthURL, form)
	if err != nil {
		return nil, errors.Wrap(err, "[Client.Authenticate] backchannel request")
	}
	if status != http.StatusOK {
		return nil, errors.Wrap(protocolError(body), "[Client.Authenticate] request rejected")
	}

	var response oauth2.BackchannelAuthenticationResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, errors.Wrap(err, "[Client.Authenticate] decode response")
	}
	if response.AuthReqID == "" {
		return nil, errors.New("[Client.Authenticate] response missing auth_req_id")
	}
	return &response, nil
}

// PollToken polls the token endpoint until the out-of-band authentication
// completes, honoring the server's interval and slow_down pacing. The
// returned token carries the raw ID token under the "id_token" extra; when a
// verifier is configured the ID token is verified before the token is
// returned. Cancel the context to bound the overall wait.
func (c *Client) PollToken(ctx context.Context, auth *oauth2.BackchannelAuthenticationResponse) (*xoauth2.Token, error) {
	interval := time.Duration(auth.Interval) * time.Second
	if interval <= 0 {
		interval = 5 * time.Second
	}

	for {
		token, retry, err := c.requestToken(ctx, auth.AuthReqID)
		if err == nil {
			return token, nil
		}
		if !retry {
			return nil, err
		}
		if errors.Is(err, errSlowDown) {
			interval += slowDownIncrement
		}
		if err := c.sleep(ctx, interval); err != nil {
			return nil, errors.Wrap(err, "[Client.PollToken] wait cancelled")
		}
	}
}

var (
	errPending  = errors.New("authorization_pending")
	errSlowDown = errors.New("slow_down")
)

func (c *Client) requestToken(ctx context.Context, authReqID string) (*xoauth2.Token, bool, error) {
	form := url.Values{}
	form.Set("grant_type", string(oauth2.CIBAGrant))
	form.Set("auth_req_id", authReqID)

	body, status, err := c.postForm(ctx, c.tokenURL, form)
	if err != nil {
		return nil, false, errors.Wrap(err, "[Client.requestToken] token request")
	}

	if status != http.StatusOK {
		protocol := protocolError(body)
		switch {
		case errors.Is(protocol, errPending):
			return nil, true, errPending
		case errors.Is(protocol, errSlowDown):
			return nil, true, errSlowDown
		default:
			return nil, false, errors.Wrap(protocol, "[Client.requestToken] token request failed")
		}
	}

	var payload struct {
		AccessToken  string `json:"access_token"`
		TokenType    string `json:"token_type"`
		ExpiresIn    int    `json:"expires_in"`
		RefreshToken string `json:"refresh_token"`
		IDToken      string `json:"id_token"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, false, errors.Wrap(err, "[Client.requestToken] decode token response")
	}

	token := &xoauth2.Token{
		AccessToken:  payload.AccessToken,
		TokenType:    payload.TokenType,
		RefreshToken: payload.RefreshToken,
	}
	if payload.ExpiresIn > 0 {
		token.Expiry = time.Now().Add(time.Duration(payload.ExpiresIn) * time.Second)
	}
	token = token.WithExtra(map[string]any{"id_token": payload.IDToken})

	if c.verifier != nil && payload.IDToken != "" {
		if _, err := c.verifier.Verify(ctx, payload.IDToken); err != nil {
			return nil, false, errors.Wrap(err, "[Client.requestToken] ID token verification failed")
		}
	}
	return token, false, nil
}

// VerifiedIDToken verifies and parses the ID token carried by a token
// obtained from PollToken.
func (c *Client) VerifiedIDToken(ctx context.Context, token *xoauth2.Token) (*oidc.IDToken, error) {
	if c.verifier == nil {
		return nil, errors.New("[Client.VerifiedIDToken] no verifier configured")
	}
	raw, ok := token.Extra("id_token").(string)
	if !ok || raw == "" {
		return nil, errors.New("[Client.VerifiedIDToken] token carries no id_token")
	}
	idToken, err := c.verifier.Verify(ctx, raw)
	if err != nil {
		return nil, errors.Wrap(err, "[Client.VerifiedIDToken] verification failed")
	}
	return idToken, nil
}

func (c *Client) postForm(ctx context.Context, endpoint string, form url.Values) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, 0, errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(url.QueryEscape(c.clientID), url.QueryEscape(c.clientSecret))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, errors.Wrap(err, "call endpoint")
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, 0, errors.Wrap(err, "read response")
	}
	return body, resp.StatusCode, nil
}

// protocolError turns an OAuth2 error body into a comparable error value.
func protocolError(body []byte) error {
	var payload struct {
		Error       string `json:"error"`
		Description string `json:"error_description"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || payload.Error == "" {
		return errors.New("unexpected error response")
	}
	switch payload.Error {
	case "authorization_pending":
		return errPending
	case "slow_down":
		return errSlowDown
	}
	if payload.Description != "" {
		return fmt.Errorf("%s: %s", payload.Error, payload.Description)
	}
	return errors.New(payload.Error)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
