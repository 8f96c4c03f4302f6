package ciba

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/grantforge/go-grant-server/clients"
	"github.com/grantforge/go-grant-server/grants"
	"github.com/grantforge/go-grant-server/oauth2"
	"github.com/grantforge/go-grant-server/token"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	defaultRequestExpiry = 2 * time.Minute
	maxRequestExpiry     = 20 * time.Minute
	defaultPollInterval  = 5 * time.Second
)

// CompletionResult is what the out-of-band authentication service reports
// back once the user interaction finished.
type CompletionResult struct {
	Subject            string
	ACR                string
	AuthenticationTime time.Time

	// RawPayload is the unparsed callback body, stored on the session for
	// auditing push deliveries.
	RawPayload json.RawMessage
}

// Coordinator orchestrates the CIBA flow: request intake, out-of-band
// completion, and poll/ping/push delivery. It is stateless with respect to
// any single session - the grant store exclusively owns session records, the
// coordinator holds only transient references during one call.
type Coordinator struct {
	store      grants.Store
	clientRepo clients.Repo
	tokens     *token.Manager
	notifier   *Notifier

	requestExpiry time.Duration
	pollInterval  time.Duration
	nowFunc       func() time.Time
}

type CoordinatorOption func(*Coordinator)

// WithRequestExpiry sets the default auth_req_id lifetime.
func WithRequestExpiry(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		c.requestExpiry = d
	}
}

// WithPollInterval sets the minimum time between token-endpoint polls.
func WithPollInterval(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		c.pollInterval = d
	}
}

// WithNowFunc sets the clock (primarily for testing).
func WithNowFunc(now func() time.Time) CoordinatorOption {
	return func(c *Coordinator) {
		c.nowFunc = now
	}
}

// NewCoordinator wires the backchannel coordinator with its collaborators.
func NewCoordinator(
	store grants.Store,
	clientRepo clients.Repo,
	tokens *token.Manager,
	notifier *Notifier,
	options ...CoordinatorOption,
) (*Coordinator, error) {
	if store == nil {
		return nil, errors.New("[NewCoordinator] grant store is required")
	}
	if clientRepo == nil {
		return nil, errors.New("[NewCoordinator] client repo is required")
	}
	if tokens == nil {
		return nil, errors.New("[NewCoordinator] token manager is required")
	}
	if notifier == nil {
		return nil, errors.New("[NewCoordinator] notifier is required")
	}

	c := &Coordinator{
		store:         store,
		clientRepo:    clientRepo,
		tokens:        tokens,
		notifier:      notifier,
		requestExpiry: defaultRequestExpiry,
		pollInterval:  defaultPollInterval,
		nowFunc:       time.Now,
	}
	for _, opt := range options {
		opt(c)
	}
	return c, nil
}

// Request handles backchannel authentication intake: it creates a session in
// REQUEST_SENT and hands the client the auth_req_id to retrieve tokens with.
// The caller has already authenticated the client; req.ClientID names it.
func (c *Coordinator) Request(ctx context.Context, req *oauth2.BackchannelAuthenticationRequest) (*oauth2.BackchannelAuthenticationResponse, error) {
	client, err := c.clientRepo.Get(req.ClientID)
	if err != nil {
		return nil, oauth2.ErrInvalidClient
	}
	if err := client.ValidateDelivery(); err != nil {
		return nil, oauth2.ErrInvalidRequest
	}
	if err := client.ValidateScopes(req.Scope); err != nil {
		return nil, oauth2.ErrInvalidScope
	}
	if client.TokenDeliveryMode != clients.DeliveryModePoll && req.ClientNotificationToken == "" {
		return nil, oauth2.ErrInvalidRequest
	}
	if len(req.BindingMessage) > 20 {
		return nil, oauth2.ErrInvalidRequest
	}

	expiry := c.requestExpiry
	if req.RequestedExpiry > 0 {
		expiry = time.Duration(req.RequestedExpiry) * time.Second
		if expiry > maxRequestExpiry {
			expiry = maxRequestExpiry
		}
	}

	authReqID, err := grants.NewKey()
	if err != nil {
		return nil, errors.Wrap(err, "[Coordinator.Request] generate auth_req_id")
	}

	now := c.nowFunc()
	session := &grants.Grant{
		ID:        grants.NewID(),
		Type:      grants.TypeCIBA,
		Client:    client.Snapshot(req.ClientNotificationToken),
		Scopes:    strings.Fields(req.Scope),
		CreatedAt: now,
		ExpiresAt: now.Add(expiry),
		CacheOnly: true,
		Backchannel: &grants.BackchannelSession{
			AuthReqID:      authReqID,
			State:          grants.StateRequestSent,
			Interval:       c.pollInterval,
			BindingMessage: req.BindingMessage,
		},
	}
	if err := c.store.Put(ctx, authReqID, session, expiry+grants.EvictionGrace); err != nil {
		return nil, errors.Wrap(err, "[Coordinator.Request] store session")
	}

	response := &oauth2.BackchannelAuthenticationResponse{
		AuthReqID: authReqID,
		ExpiresIn: int(expiry.Seconds()),
	}
	if client.TokenDeliveryMode == clients.DeliveryModePoll {
		response.Interval = int(c.pollInterval.Seconds())
	}
	return response, nil
}

// Complete records a successful out-of-band authentication: it binds the
// subject, flips the session to RESPONSE_GOTTEN, and dispatches delivery
// according to the session's mode. Fails with ErrUnknownRequest when the id
// does not resolve, grants.ErrAlreadyFinalized when the session already left
// REQUEST_SENT, ErrRequestExpired when its lifetime elapsed.
func (c *Coordinator) Complete(ctx context.Context, authReqID string, result CompletionResult) error {
	session, err := c.store.Get(ctx, authReqID)
	if err != nil {
		return ErrUnknownRequest
	}
	bc := session.Backchannel
	if bc == nil {
		return ErrUnknownRequest
	}

	now := c.nowFunc()
	if session.Expired(now) {
		return ErrRequestExpired
	}
	if !bc.State.CanTransition(grants.StateResponseGotten) {
		return grants.ErrAlreadyFinalized
	}

	session.Subject = result.Subject
	session.ACR = result.ACR
	session.AuthenticationTime = result.AuthenticationTime
	if session.AuthenticationTime.IsZero() {
		session.AuthenticationTime = now
	}
	bc.State = grants.StateResponseGotten
	bc.CallbackPayload = result.RawPayload

	if err := c.reput(ctx, authReqID, session, now); err != nil {
		return errors.Wrap(err, "[Coordinator.Complete] store session")
	}

	switch session.Client.TokenDeliveryMode {
	case clients.DeliveryModePing:
		if err := c.notifier.Ping(ctx, session.Client, authReqID); err != nil {
			// The session stays consumable at the token endpoint; a lost
			// ping is not fatal.
			log.Warn().Err(err).Str("client_id", session.Client.ClientID).Msg("ping notification failed")
		}
	case clients.DeliveryModePush:
		if err := c.deliverPush(ctx, authReqID); err != nil {
			log.Error().Err(err).Str("client_id", session.Client.ClientID).Msg("push delivery failed")
		}
	}
	return nil
}

// Deny records that the end user declined. The session stays in the store
// as DENIED until its TTL so the token endpoint can answer access_denied
// instead of conflating the outcome with "never existed".
func (c *Coordinator) Deny(ctx context.Context, authReqID string) error {
	session, err := c.store.Get(ctx, authReqID)
	if err != nil {
		return ErrUnknownRequest
	}
	bc := session.Backchannel
	if bc == nil {
		return ErrUnknownRequest
	}

	now := c.nowFunc()
	if session.Expired(now) {
		return ErrRequestExpired
	}
	if !bc.State.CanTransition(grants.StateDenied) {
		return grants.ErrAlreadyFinalized
	}

	bc.State = grants.StateDenied
	if err := c.reput(ctx, authReqID, session, now); err != nil {
		return errors.Wrap(err, "[Coordinator.Deny] store session")
	}
	return nil
}

// Token handles a token-endpoint request with grant_type=ciba for the given
// client. Protocol outcomes (authorization_pending, slow_down, access_denied,
// expired_token, invalid_grant) come back as *oauth2.Error values.
func (c *Coordinator) Token(ctx context.Context, clientID, authReqID string) (*oauth2.TokenResponse, error) {
	if authReqID == "" {
		return nil, oauth2.ErrInvalidRequest
	}

	session, err := c.store.Get(ctx, authReqID)
	if err != nil {
		// Unknown, evicted and consumed-then-evicted are indistinguishable.
		return nil, oauth2.ErrInvalidGrant
	}
	bc := session.Backchannel
	if bc == nil || session.Client.ClientID != clientID {
		return nil, oauth2.ErrInvalidGrant
	}
	if session.Client.TokenDeliveryMode == clients.DeliveryModePush {
		// Push clients receive tokens at their notification endpoint.
		return nil, oauth2.ErrInvalidRequest
	}

	now := c.nowFunc()
	remaining := session.ExpiresAt.Add(grants.EvictionGrace).Sub(now)
	if remaining <= 0 {
		return nil, oauth2.ErrInvalidGrant
	}

	// Interval enforcement runs before the state check so slow_down applies
	// even while pending. The timestamp swap is a store-side atomic and the
	// session record itself is never written back here, so a poll cannot
	// clobber a concurrent completion. The timestamp advances on slow_down
	// too, so the next interval is measured from this attempt.
	lastPolledAt, err := c.store.TouchPoll(ctx, authReqID, now, remaining)
	if err != nil {
		log.Error().Err(err).Msg("failed to record poll timestamp")
		return nil, oauth2.ErrServerError
	}
	if !lastPolledAt.IsZero() && now.Sub(lastPolledAt) < bc.Interval {
		return nil, oauth2.ErrSlowDown
	}

	switch session.SessionState(now) {
	case grants.StateRequestSent:
		return nil, oauth2.ErrAuthorizationPending
	case grants.StateDenied:
		return nil, oauth2.ErrAccessDenied
	case grants.StateExpired:
		return nil, oauth2.ErrExpiredToken
	case grants.StateResponseGotten:
		// fall through to consumption
	default:
		return nil, oauth2.ErrInvalidGrant
	}

	consumed, err := c.store.Consume(ctx, authReqID)
	if err != nil {
		// Both classifications map to invalid_grant externally; the log
		// keeps the distinction for auditing.
		log.Info().Err(err).Str("client_id", clientID).Msg("backchannel session not consumable")
		return nil, oauth2.ErrInvalidGrant
	}

	response, err := c.tokens.TokenResponse(consumed, "")
	if err != nil {
		log.Error().Err(err).Str("client_id", clientID).Msg("token issuance failed")
		return nil, oauth2.ErrServerError
	}
	return response, nil
}

// deliverPush consumes the session and delivers the tokens to the client's
// notification endpoint. Consumption happens exactly once, before the first
// delivery attempt; the notifier's retries re-send, never re-issue.
func (c *Coordinator) deliverPush(ctx context.Context, authReqID string) error {
	session, err := c.store.Consume(ctx, authReqID)
	if err != nil {
		return errors.Wrap(err, "[Coordinator.deliverPush] consume")
	}
	response, err := c.tokens.TokenResponse(session, "")
	if err != nil {
		return errors.Wrap(err, "[Coordinator.deliverPush] issue tokens")
	}
	if err := c.notifier.Push(ctx, session.Client, authReqID, response); err != nil {
		return errors.Wrap(err, "[Coordinator.deliverPush] push")
	}
	return nil
}

// ProcessCallback handles the inbound out-of-band completion call. The
// Authorization header must equal the session's expected credential. All
// failure modes are silent to the caller - the handler responds 204 either
// way - but come back as distinct errors for logging.
func (c *Coordinator) ProcessCallback(ctx context.Context, authorization string, body []byte) error {
	var payload struct {
		AuthReqID string `json:"auth_req_id"`
		Succeeded bool   `json:"succeeded"`
		Subject   string `json:"sub"`
		ACR       string `json:"acr"`
		AuthTime  int64  `json:"auth_time"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || payload.AuthReqID == "" {
		// Missing or unknown auth_req_id aborts silently: no response body,
		// no error surfaced to the wire.
		return ErrUnknownRequest
	}

	session, err := c.store.Get(ctx, payload.AuthReqID)
	if err != nil || session.Backchannel == nil {
		return ErrUnknownRequest
	}

	if !AuthenticateCallback(authorization, session.Client) {
		log.Warn().Str("client_id", session.Client.ClientID).Msg("callback authentication failed")
		return ErrUnauthorizedCallback
	}

	if !payload.Succeeded {
		return c.Deny(ctx, payload.AuthReqID)
	}

	result := CompletionResult{
		Subject:    payload.Subject,
		ACR:        payload.ACR,
		RawPayload: json.RawMessage(body),
	}
	if payload.AuthTime > 0 {
		result.AuthenticationTime = time.Unix(payload.AuthTime, 0)
	}
	return c.Complete(ctx, payload.AuthReqID, result)
}

// reput writes the finalized session back under its remaining store TTL.
func (c *Coordinator) reput(ctx context.Context, authReqID string, session *grants.Grant, now time.Time) error {
	remaining := session.ExpiresAt.Add(grants.EvictionGrace).Sub(now)
	if remaining <= 0 {
		return c.store.Remove(ctx, authReqID)
	}
	return c.store.Put(ctx, authReqID, session, remaining)
}
