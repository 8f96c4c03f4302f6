package ciba_test

import (
	"testing"

	"github.com/grantforge/go-grant-server/ciba"
	"github.com/grantforge/go-grant-server/clients"
	"github.com/stretchr/testify/require"
)

func TestBasicCredential(t *testing.T) {
	snapshot := clients.Snapshot{ClientID: "s6BhdRkqt3", ClientSecret: "7Fjfp0ZBr1KtDRbnfVdmIw"}
	// base64("s6BhdRkqt3:7Fjfp0ZBr1KtDRbnfVdmIw")
	require.Equal(t, "Basic czZCaGRSa3F0Mzo3RmpmcDBaQnIxS3REUmJuZlZkbUl3", ciba.BasicCredential(snapshot))
}

func TestAuthenticateCallback(t *testing.T) {
	snapshot := clients.Snapshot{ClientID: "client-1", ClientSecret: "secret-1"}

	require.True(t, ciba.AuthenticateCallback(ciba.BasicCredential(snapshot), snapshot))
	require.False(t, ciba.AuthenticateCallback("", snapshot))
	require.False(t, ciba.AuthenticateCallback("Bearer something", snapshot))
	require.False(t, ciba.AuthenticateCallback(
		ciba.BasicCredential(clients.Snapshot{ClientID: "client-1", ClientSecret: "wrong"}), snapshot))
}
