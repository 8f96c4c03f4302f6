package oauth2

import "net/http"

// Error is an OAuth 2.0 error response as defined in RFC 6749 section 5.2.
// The Code field is what goes on the wire; Status is the HTTP status the
// token endpoint responds with.
type Error struct {
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
	Status      int    `json:"-"`
}

func (e *Error) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return e.Code + ": " + e.Description
}

var (
	// ErrAuthorizationPending is the normal in-flight outcome while a CIBA
	// request awaits out-of-band authentication. Not a fault.
	ErrAuthorizationPending = &Error{
		Code:        "authorization_pending",
		Description: "The authorization request is still pending",
		Status:      http.StatusBadRequest,
	}

	// ErrSlowDown is returned when the client polls faster than the interval
	// the server handed out with the auth_req_id.
	ErrSlowDown = &Error{
		Code:        "slow_down",
		Description: "Client is polling too frequently",
		Status:      http.StatusBadRequest,
	}

	// ErrExpiredToken is returned when the auth_req_id or device code has
	// exceeded its lifetime while still present in the store.
	ErrExpiredToken = &Error{
		Code:        "expired_token",
		Description: "The authentication request has expired",
		Status:      http.StatusBadRequest,
	}

	// ErrAccessDenied is returned when the end user declined the request.
	ErrAccessDenied = &Error{
		Code:        "access_denied",
		Description: "The end user denied the authorization request",
		Status:      http.StatusBadRequest,
	}

	// ErrInvalidGrant covers unknown, consumed and evicted grant keys. Unknown
	// and expired-then-evicted are deliberately indistinguishable here.
	ErrInvalidGrant = &Error{
		Code:        "invalid_grant",
		Description: "The provided grant is invalid, expired or already used",
		Status:      http.StatusBadRequest,
	}

	ErrInvalidClient = &Error{
		Code:        "invalid_client",
		Description: "Client authentication failed",
		Status:      http.StatusUnauthorized,
	}

	ErrInvalidRequest = &Error{
		Code:        "invalid_request",
		Description: "The request is missing a required parameter",
		Status:      http.StatusBadRequest,
	}

	ErrInvalidScope = &Error{
		Code:        "invalid_scope",
		Description: "The requested scope is invalid or unknown",
		Status:      http.StatusBadRequest,
	}

	ErrUnsupportedGrantType = &Error{
		Code:        "unsupported_grant_type",
		Description: "The grant type is not supported by this server",
		Status:      http.StatusBadRequest,
	}

	// ErrServerError is the opaque fault surfaced for signing failures and
	// other internal errors. Details stay in the server log.
	ErrServerError = &Error{
		Code:        "server_error",
		Description: "The authorization server encountered an unexpected condition",
		Status:      http.StatusInternalServerError,
	}
)
