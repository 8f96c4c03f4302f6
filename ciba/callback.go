package ciba

import (
	"crypto/subtle"
	"encoding/base64"

	"github.com/grantforge/go-grant-server/clients"
)

// BasicCredential builds the Authorization header value the server expects
// on inbound callbacks for a session, and presents itself on outbound push
// deliveries: the Basic encoding of the client credentials captured in the
// grant's snapshot.
func BasicCredential(snapshot clients.Snapshot) string {
	raw := snapshot.ClientID + ":" + snapshot.ClientSecret
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(raw))
}

// AuthenticateCallback compares the inbound Authorization header against the
// session's expected credential. Constant-time; reveals nothing about which
// part mismatched.
func AuthenticateCallback(authorization string, snapshot clients.Snapshot) bool {
	expected := BasicCredential(snapshot)
	return subtle.ConstantTimeCompare([]byte(authorization), []byte(expected)) == 1
}
