package token_test

import (
	"testing"

	"github.com/grantforge/go-grant-server/token"
	"github.com/stretchr/testify/require"
)

func TestBindingHashVectors(t *testing.T) {
	const input = "a308bb8f-25b0-4b1f-85a6-778698a35a43"

	tests := []struct {
		alg      string
		expected string
	}{
		{"HS256", "hhNHO19gwnEguTE5SAK-GA"},
		{"RS256", "hhNHO19gwnEguTE5SAK-GA"},
		{"ES256", "hhNHO19gwnEguTE5SAK-GA"},
		{"PS256", "hhNHO19gwnEguTE5SAK-GA"},
		{"HS384", "W-f-EBbMtR-505d5wk4m78wd6qn1vQkZ"},
		{"RS384", "W-f-EBbMtR-505d5wk4m78wd6qn1vQkZ"},
		{"ES384", "W-f-EBbMtR-505d5wk4m78wd6qn1vQkZ"},
		{"PS384", "W-f-EBbMtR-505d5wk4m78wd6qn1vQkZ"},
		{"HS512", "CCmNwrkP_FbnPPpQ5f96xpXTDuzHSeGd3jGZ_JrPJo4"},
		{"RS512", "CCmNwrkP_FbnPPpQ5f96xpXTDuzHSeGd3jGZ_JrPJo4"},
		{"ES512", "CCmNwrkP_FbnPPpQ5f96xpXTDuzHSeGd3jGZ_JrPJo4"},
		{"PS512", "CCmNwrkP_FbnPPpQ5f96xpXTDuzHSeGd3jGZ_JrPJo4"},
	}

	for _, tt := range tests {
		t.Run(tt.alg, func(t *testing.T) {
			got, err := token.BindingHash(input, tt.alg)
			require.NoError(t, err)
			require.Equal(t, tt.expected, got)
		})
	}
}

func TestBindingHashDeterministic(t *testing.T) {
	first, err := token.BindingHash("some-access-token", "RS256")
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		again, err := token.BindingHash("some-access-token", "RS256")
		require.NoError(t, err)
		require.Equal(t, first, again)
	}
}

func TestBindingHashUnsupportedAlgorithm(t *testing.T) {
	_, err := token.BindingHash("input", "none")
	require.Error(t, err)
}
