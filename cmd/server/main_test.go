package main

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/GrupoUS/neonpro-sub010/internal/masking"
	"github.com/GrupoUS/neonpro-sub010/internal/platform/config"
)

func TestDevVaultKeyBootsTheVault(t *testing.T) {
	require.Len(t, devVaultKey, chacha20poly1305.KeySize)

	vault, err := buildVault(config.Server{}, nil)
	require.NoError(t, err)
	require.IsType(t, &masking.MemoryVault{}, vault)
}
