package cibaclient_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/grantforge/go-grant-server/cibaclient"
	"github.com/grantforge/go-grant-server/oauth2"
	"github.com/stretchr/testify/require"
)

func noSleep(waits *[]time.Duration) cibaclient.Option {
	return cibaclient.WithSleep(func(_ context.Context, d time.Duration) error {
		*waits = append(*waits, d)
		return nil
	})
}

func writeOAuthError(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code})
}

func TestAuthenticate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/bc-authorize", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		require.Equal(t, "rp-client", user)
		require.Equal(t, "rp-secret", pass)
		require.NoError(t, r.ParseForm())
		require.Equal(t, "openid", r.PostFormValue("scope"))
		require.Equal(t, "user-42", r.PostFormValue("login_hint"))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(oauth2.BackchannelAuthenticationResponse{
			AuthReqID: "req-1",
			ExpiresIn: 120,
			Interval:  5,
		})
	}))
	defer server.Close()

	client := cibaclient.New("rp-client", "rp-secret", server.URL+"/bc-authorize", server.URL+"/token")
	response, err := client.Authenticate(context.Background(), cibaclient.AuthenticationRequest{
		Scope:     "openid",
		LoginHint: "user-42",
	})
	require.NoError(t, err)
	require.Equal(t, "req-1", response.AuthReqID)
	require.Equal(t, 5, response.Interval)
}

func TestAuthenticateRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeOAuthError(w, http.StatusBadRequest, "invalid_scope")
	}))
	defer server.Close()

	client := cibaclient.New("rp-client", "rp-secret", server.URL, server.URL)
	_, err := client.Authenticate(context.Background(), cibaclient.AuthenticationRequest{Scope: "admin"})
	require.ErrorContains(t, err, "invalid_scope")
}

func TestPollTokenHonorsPacing(t *testing.T) {
	var polls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		require.Equal(t, string(oauth2.CIBAGrant), r.PostFormValue("grant_type"))
		require.Equal(t, "req-1", r.PostFormValue("auth_req_id"))

		switch polls.Add(1) {
		case 1:
			writeOAuthError(w, http.StatusBadRequest, "authorization_pending")
		case 2:
			writeOAuthError(w, http.StatusBadRequest, "slow_down")
		default:
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{
				"access_token":  "access-token-value",
				"token_type":    "bearer",
				"expires_in":    3600,
				"refresh_token": "refresh-token-value",
				"id_token":      "id-token-value",
			})
		}
	}))
	defer server.Close()

	var waits []time.Duration
	client := cibaclient.New("rp-client", "rp-secret", server.URL, server.URL, noSleep(&waits))

	token, err := client.PollToken(context.Background(), &oauth2.BackchannelAuthenticationResponse{
		AuthReqID: "req-1",
		Interval:  5,
	})
	require.NoError(t, err)
	require.Equal(t, int32(3), polls.Load())
	require.Equal(t, "access-token-value", token.AccessToken)
	require.Equal(t, "refresh-token-value", token.RefreshToken)
	require.Equal(t, "id-token-value", token.Extra("id_token"))

	// The slow_down answer stretched the interval for the next wait.
	require.Equal(t, []time.Duration{5 * time.Second, 10 * time.Second}, waits)
}

func TestPollTokenStopsOnDenial(t *testing.T) {
	var polls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		polls.Add(1)
		writeOAuthError(w, http.StatusForbidden, "access_denied")
	}))
	defer server.Close()

	var waits []time.Duration
	client := cibaclient.New("rp-client", "rp-secret", server.URL, server.URL, noSleep(&waits))

	_, err := client.PollToken(context.Background(), &oauth2.BackchannelAuthenticationResponse{AuthReqID: "req-1", Interval: 1})
	require.ErrorContains(t, err, "access_denied")
	require.Equal(t, int32(1), polls.Load())
	require.Empty(t, waits)
}

func TestPollTokenCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeOAuthError(w, http.StatusBadRequest, "authorization_pending")
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	client := cibaclient.New("rp-client", "rp-secret", server.URL, server.URL,
		cibaclient.WithSleep(func(ctx context.Context, _ time.Duration) error {
			cancel()
			return ctx.Err()
		}))

	_, err := client.PollToken(ctx, &oauth2.BackchannelAuthenticationResponse{AuthReqID: "req-1", Interval: 1})
	require.ErrorIs(t, err, context.Canceled)
}
