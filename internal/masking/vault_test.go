package masking

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/GrupoUS/neonpro-sub010/internal/sentinel"
)

const testVaultKey = "0123456789abcdef0123456789abcdef"

func TestMemoryVaultRoundTrip(t *testing.T) {
	vault, err := NewMemoryVault(testVaultKey)
	require.NoError(t, err)

	ctx := context.Background()
	token, err := vault.Tokenize(ctx, "hipertensão arterial, uso de losartana")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(token, "tok_"))

	value, err := vault.Resolve(ctx, token)
	require.NoError(t, err)
	require.Equal(t, "hipertensão arterial, uso de losartana", value)
}

func TestMemoryVaultTokensAreDeterministic(t *testing.T) {
	vault, err := NewMemoryVault(testVaultKey)
	require.NoError(t, err)

	ctx := context.Background()
	first, err := vault.Tokenize(ctx, "same value")
	require.NoError(t, err)
	second, err := vault.Tokenize(ctx, "same value")
	require.NoError(t, err)
	require.Equal(t, first, second, "a value tokenizes to one token per vault")

	other, err := vault.Tokenize(ctx, "another value")
	require.NoError(t, err)
	require.NotEqual(t, first, other)
}

func TestMemoryVaultTokensAreOpaque(t *testing.T) {
	ctx := context.Background()
	vault, err := NewMemoryVault(testVaultKey)
	require.NoError(t, err)
	token, err := vault.Tokenize(ctx, "same value")
	require.NoError(t, err)
	require.NotContains(t, token, "same value")

	// A vault under a different key mints an unrelated token for the same
	// value, so tokens are not derivable from the value alone.
	otherVault, err := NewMemoryVault("fedcba9876543210fedcba9876543210")
	require.NoError(t, err)
	otherToken, err := otherVault.Tokenize(ctx, "same value")
	require.NoError(t, err)
	require.NotEqual(t, token, otherToken)
}

func TestMemoryVaultUnknownToken(t *testing.T) {
	vault, err := NewMemoryVault(testVaultKey)
	require.NoError(t, err)

	_, err = vault.Resolve(context.Background(), "tok_deadbeef")
	require.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestVaultRejectsShortKey(t *testing.T) {
	_, err := NewMemoryVault("too-short")
	require.Error(t, err)
}
