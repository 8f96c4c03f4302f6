package ciba

import "github.com/pkg/errors"

var (
	// ErrUnknownRequest - the auth_req_id does not resolve to a live session.
	// Covers never-existed, evicted and expired-then-evicted alike.
	ErrUnknownRequest = errors.New("unknown backchannel authentication request")

	// ErrUnauthorizedCallback - the inbound callback's Authorization header
	// did not match the session's expected credential. Logged and dropped;
	// never echoed to the caller.
	ErrUnauthorizedCallback = errors.New("callback authentication failed")

	// ErrRequestExpired - the session's lifetime elapsed before completion.
	ErrRequestExpired = errors.New("backchannel authentication request expired")
)
