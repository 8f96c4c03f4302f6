package grants

import "github.com/pkg/errors"

// SessionState is the CIBA request state. Transitions are forward-only:
//
//	REQUEST_SENT -> RESPONSE_GOTTEN -> (consumed, evicted)
//	REQUEST_SENT -> DENIED          -> (evicted after TTL)
//	either state -> EXPIRED once the lifetime elapses
//
// DENIED and EXPIRED are explicit so auditing can tell "explicitly declined"
// and "timed out" apart from "never existed".
type SessionState string

const (
	// StateRequestSent is the initial state after backchannel intake, while
	// the out-of-band authentication is still running.
	StateRequestSent SessionState = "REQUEST_SENT"

	// StateResponseGotten means the out-of-band authentication succeeded and
	// the session is ready for (exactly one) token issuance.
	StateResponseGotten SessionState = "RESPONSE_GOTTEN"

	// StateDenied means the end user declined. Terminal.
	StateDenied SessionState = "DENIED"

	// StateExpired is a read-time classification for sessions whose lifetime
	// elapsed before completion. Terminal.
	StateExpired SessionState = "EXPIRED"
)

// ErrAlreadyFinalized is returned when a completion or denial hits a session
// that already left REQUEST_SENT.
var ErrAlreadyFinalized = errors.New("backchannel session already finalized")

// CanTransition reports whether moving from s to next is legal. No transition
// is ever reversed.
func (s SessionState) CanTransition(next SessionState) bool {
	switch s {
	case StateRequestSent:
		return next == StateResponseGotten || next == StateDenied || next == StateExpired
	case StateResponseGotten:
		return next == StateExpired
	default:
		return false
	}
}

// Terminal reports whether the state admits no further transitions.
func (s SessionState) Terminal() bool {
	return s == StateDenied || s == StateExpired
}
