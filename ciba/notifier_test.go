package ciba_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/grantforge/go-grant-server/ciba"
	"github.com/grantforge/go-grant-server/clients"
	"github.com/grantforge/go-grant-server/internal/utils"
	"github.com/grantforge/go-grant-server/oauth2"
	"github.com/stretchr/testify/require"
)

func testTokenResponse() *oauth2.TokenResponse {
	return &oauth2.TokenResponse{
		AccessToken: utils.Ptr("access-token-value"),
		TokenType:   "bearer",
		ExpiresIn:   3600,
	}
}

func TestNotifierPingIsNeverRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	notifier := ciba.NewNotifier()
	snapshot := clients.Snapshot{
		ClientID:                "client-1",
		NotificationEndpoint:    server.URL,
		ClientNotificationToken: "notify-me-753",
	}

	err := notifier.Ping(context.Background(), snapshot, "req-1")
	require.Error(t, err)
	require.Equal(t, int32(1), calls.Load())
}

func TestNotifierPushRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	deliveryIDs := map[string]struct{}{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		deliveryIDs[r.Header.Get("X-Delivery-Id")] = struct{}{}
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	notifier := ciba.NewNotifier(ciba.WithMaxPushAttempts(3))
	snapshot := clients.Snapshot{
		ClientID:             "client-1",
		ClientSecret:         "secret-1",
		NotificationEndpoint: server.URL,
	}

	err := notifier.Push(context.Background(), snapshot, "req-1", testTokenResponse())
	require.NoError(t, err)
	require.Equal(t, int32(3), calls.Load())
	// Every attempt carried the same idempotency key.
	require.Len(t, deliveryIDs, 1)
}

func TestNotifierPushGivesUpAfterAttemptBudget(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	notifier := ciba.NewNotifier(ciba.WithMaxPushAttempts(2))
	snapshot := clients.Snapshot{ClientID: "client-1", NotificationEndpoint: server.URL}

	err := notifier.Push(context.Background(), snapshot, "req-1", testTokenResponse())
	require.Error(t, err)
	require.Equal(t, int32(2), calls.Load())
}

func TestNotifierPushDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	notifier := ciba.NewNotifier(ciba.WithMaxPushAttempts(5))
	snapshot := clients.Snapshot{ClientID: "client-1", NotificationEndpoint: server.URL}

	err := notifier.Push(context.Background(), snapshot, "req-1", testTokenResponse())
	require.Error(t, err)
	require.Equal(t, int32(1), calls.Load())
}

func TestNotifierPushAuthenticatesWithBasicCredential(t *testing.T) {
	var authorization string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authorization = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	snapshot := clients.Snapshot{
		ClientID:             "client-1",
		ClientSecret:         "secret-1",
		NotificationEndpoint: server.URL,
	}
	notifier := ciba.NewNotifier(ciba.WithNotifyTimeout(time.Second))

	require.NoError(t, notifier.Push(context.Background(), snapshot, "req-1", testTokenResponse()))
	require.Equal(t, ciba.BasicCredential(snapshot), authorization)
}
