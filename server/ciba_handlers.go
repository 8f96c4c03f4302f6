package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/grantforge/go-grant-server/ciba"
	"github.com/grantforge/go-grant-server/grants"
	"github.com/grantforge/go-grant-server/oauth2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const maxCallbackBodySize = 64 << 10

// BackchannelAuthorize handles CIBA authentication request intake.
func (s *Server) BackchannelAuthorize() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			writeOAuthError(w, oauth2.ErrInvalidRequest)
			return
		}

		clientID, clientSecret := clientCredentials(r)
		if err := s.authenticateClient(clientID, clientSecret); err != nil {
			writeOAuthError(w, err)
			return
		}

		requestedExpiry := 0
		if raw := r.FormValue("requested_expiry"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed < 0 {
				writeOAuthError(w, oauth2.ErrInvalidRequest)
				return
			}
			requestedExpiry = parsed
		}

		response, err := s.coordinator.Request(r.Context(), &oauth2.BackchannelAuthenticationRequest{
			ClientID:                clientID,
			Scope:                   r.FormValue("scope"),
			LoginHint:               r.FormValue("login_hint"),
			ClientNotificationToken: r.FormValue("client_notification_token"),
			ACRValues:               r.FormValue("acr_values"),
			BindingMessage:          r.FormValue("binding_message"),
			RequestedExpiry:         requestedExpiry,
		})
		if err != nil {
			writeOAuthError(w, err)
			return
		}

		w.Header().Set("Content-Type", contentTypeJSON)
		w.Header().Set("Cache-Control", "no-store")
		_ = json.NewEncoder(w).Encode(response)
	}
}

// CIBACallback receives the out-of-band authentication outcome. The response
// is 204 with an empty body regardless of what the request contained: a
// probing caller learns nothing about which auth_req_ids exist or whose
// credentials are wrong.
func (s *Server) CIBACallback() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxCallbackBodySize))
		if err != nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		err = s.coordinator.ProcessCallback(r.Context(), r.Header.Get("Authorization"), body)
		switch {
		case err == nil:
		case errors.Is(err, ciba.ErrUnknownRequest),
			errors.Is(err, ciba.ErrUnauthorizedCallback):
			log.Warn().Err(err).Msg("callback dropped")
		case errors.Is(err, ciba.ErrRequestExpired),
			errors.Is(err, grants.ErrAlreadyFinalized):
			log.Info().Err(err).Msg("callback arrived too late")
		default:
			log.Error().Err(err).Msg("callback processing failed")
		}

		w.WriteHeader(http.StatusNoContent)
	}
}
