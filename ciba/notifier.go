package ciba

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/grantforge/go-grant-server/clients"
	"github.com/grantforge/go-grant-server/oauth2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	defaultNotifyTimeout   = 10 * time.Second
	defaultMaxPushAttempts = 3

	// deliveryIDHeader carries the idempotency key a client can use to
	// deduplicate retried push deliveries. The session is consumed before
	// the first attempt; retries re-send the same tokens, never re-issue.
	deliveryIDHeader = "X-Delivery-Id"
)

// pingPayload is the ping-mode notification body: only the auth_req_id, per
// CIBA spec section 10.2. The client is expected to poll the token endpoint.
type pingPayload struct {
	AuthReqID string `json:"auth_req_id"`
}

// pushPayload is the push-mode delivery body: the token response plus the
// auth_req_id it belongs to (CIBA spec section 10.3.1).
type pushPayload struct {
	AuthReqID string `json:"auth_req_id"`
	oauth2.TokenResponse
}

// Notifier makes the outbound ping and push calls to client notification
// endpoints. It holds one shared HTTP client; every call carries a bounded
// timeout so a slow client endpoint cannot pin a request-handling unit.
type Notifier struct {
	httpClient      *http.Client
	timeout         time.Duration
	maxPushAttempts uint
}

type NotifierOption func(*Notifier)

// WithHTTPClient injects the shared HTTP client (primarily for testing).
func WithHTTPClient(client *http.Client) NotifierOption {
	return func(n *Notifier) {
		n.httpClient = client
	}
}

// WithNotifyTimeout bounds each outbound call.
func WithNotifyTimeout(timeout time.Duration) NotifierOption {
	return func(n *Notifier) {
		n.timeout = timeout
	}
}

// WithMaxPushAttempts sets the push delivery attempt budget, including the
// first attempt.
func WithMaxPushAttempts(attempts uint) NotifierOption {
	return func(n *Notifier) {
		n.maxPushAttempts = attempts
	}
}

func NewNotifier(options ...NotifierOption) *Notifier {
	n := &Notifier{
		httpClient:      &http.Client{},
		timeout:         defaultNotifyTimeout,
		maxPushAttempts: defaultMaxPushAttempts,
	}
	for _, opt := range options {
		opt(n)
	}
	return n
}

// Ping makes exactly one notification call to the client's endpoint carrying
// only the auth_req_id, presenting the client notification token the client
// shared at request time. Never retried: a lost ping degrades to poll-like
// behavior, the session stays consumable at the token endpoint.
func (n *Notifier) Ping(ctx context.Context, snapshot clients.Snapshot, authReqID string) error {
	body, err := json.Marshal(pingPayload{AuthReqID: authReqID})
	if err != nil {
		return errors.Wrap(err, "[Notifier.Ping] marshal payload")
	}

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, snapshot.NotificationEndpoint, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "[Notifier.Ping] build request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+snapshot.ClientNotificationToken)

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "[Notifier.Ping] notification call")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errors.Errorf("[Notifier.Ping] notification endpoint returned %d", resp.StatusCode)
	}
	return nil
}

// Push delivers a token response to the client's notification endpoint,
// authenticating with the session's expected Basic credential. Failed
// attempts are retried with exponential backoff up to the attempt budget;
// all attempts share one delivery id so the client can deduplicate. A 4xx
// from the endpoint is not retried - the client rejected the delivery.
func (n *Notifier) Push(ctx context.Context, snapshot clients.Snapshot, authReqID string, tokens *oauth2.TokenResponse) error {
	body, err := json.Marshal(pushPayload{AuthReqID: authReqID, TokenResponse: *tokens})
	if err != nil {
		return errors.Wrap(err, "[Notifier.Push] marshal payload")
	}
	deliveryID := uuid.New().String()

	operation := func() (struct{}, error) {
		return struct{}{}, n.pushOnce(ctx, snapshot, body, deliveryID)
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = 500 * time.Millisecond

	_, err = backoff.Retry(ctx, operation,
		backoff.WithBackOff(expBackoff),
		backoff.WithMaxTries(n.maxPushAttempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Warn().
				Err(err).
				Str("delivery_id", deliveryID).
				Dur("retry_in", next).
				Msg("push delivery attempt failed")
		}),
	)
	if err != nil {
		return errors.Wrap(err, "[Notifier.Push] delivery failed")
	}
	return nil
}

func (n *Notifier) pushOnce(ctx context.Context, snapshot clients.Snapshot, body []byte, deliveryID string) error {
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, snapshot.NotificationEndpoint, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(errors.Wrap(err, "build request"))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", BasicCredential(snapshot))
	req.Header.Set(deliveryIDHeader, deliveryID)

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "delivery call")
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode <= 299:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode <= 499:
		return backoff.Permanent(errors.Errorf("notification endpoint rejected delivery: %d", resp.StatusCode))
	default:
		return errors.Errorf("notification endpoint returned %d", resp.StatusCode)
	}
}
