package grants_test

import (
	"testing"

	"github.com/grantforge/go-grant-server/grants"
	"github.com/stretchr/testify/require"
)

func TestSessionStateTransitions(t *testing.T) {
	tests := []struct {
		name    string
		from    grants.SessionState
		to      grants.SessionState
		allowed bool
	}{
		{"request sent to response gotten", grants.StateRequestSent, grants.StateResponseGotten, true},
		{"request sent to denied", grants.StateRequestSent, grants.StateDenied, true},
		{"request sent to expired", grants.StateRequestSent, grants.StateExpired, true},
		{"response gotten to expired", grants.StateResponseGotten, grants.StateExpired, true},
		{"response gotten back to request sent", grants.StateResponseGotten, grants.StateRequestSent, false},
		{"response gotten to denied", grants.StateResponseGotten, grants.StateDenied, false},
		{"denied to response gotten", grants.StateDenied, grants.StateResponseGotten, false},
		{"expired to response gotten", grants.StateExpired, grants.StateResponseGotten, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.allowed, tt.from.CanTransition(tt.to))
		})
	}
}

func TestSessionStateTerminal(t *testing.T) {
	require.False(t, grants.StateRequestSent.Terminal())
	require.False(t, grants.StateResponseGotten.Terminal())
	require.True(t, grants.StateDenied.Terminal())
	require.True(t, grants.StateExpired.Terminal())
}

func TestNewKeyUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		key, err := grants.NewKey()
		require.NoError(t, err)
		require.False(t, seen[key], "generated keys must never collide")
		seen[key] = true
	}
}
