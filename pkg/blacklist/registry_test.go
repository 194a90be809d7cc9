package blacklist

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistryAddAndCheckEachCategory(t *testing.T) {
	r, err := NewRegistry(filepath.Join(t.TempDir(), "blacklist.json"))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, r.AddEntity(ctx, "bE1"))
	require.NoError(t, r.AddContent(ctx, "bC1"))
	require.NoError(t, r.AddAddress(ctx, "0xabc"))
	require.NoError(t, r.AddPointer(ctx, "scene", "0,0"))

	require.True(t, r.IsEntityBlacklisted("bE1"))
	require.True(t, r.IsContentBlacklisted("bC1"))
	require.True(t, r.IsAddressBlacklisted("0xabc"))
	require.True(t, r.IsPointerBlacklisted("scene", "0,0"))

	require.False(t, r.IsEntityBlacklisted("bE2"))
	require.False(t, r.IsPointerBlacklisted("profile", "0,0"))
}

func TestRegistryRemoveClearsTheEntry(t *testing.T) {
	r, err := NewRegistry(filepath.Join(t.TempDir(), "blacklist.json"))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, r.AddEntity(ctx, "bE1"))
	require.True(t, r.IsEntityBlacklisted("bE1"))

	require.NoError(t, r.RemoveEntity(ctx, "bE1"))
	require.False(t, r.IsEntityBlacklisted("bE1"))
}

func TestRegistryPersistsAcrossReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blacklist.json")
	r, err := NewRegistry(path)
	require.NoError(t, err)
	require.NoError(t, r.AddContent(context.Background(), "bC1"))

	reloaded, err := NewRegistry(path)
	require.NoError(t, err)
	require.True(t, reloaded.IsContentBlacklisted("bC1"))
}

func TestRegistryBlacklistedOfFiltersToOnlyBlacklistedHashes(t *testing.T) {
	r, err := NewRegistry(filepath.Join(t.TempDir(), "blacklist.json"))
	require.NoError(t, err)
	require.NoError(t, r.AddContent(context.Background(), "bC1"))

	got := r.BlacklistedOf([]string{"bC1", "bC2", "bC3"})
	require.Equal(t, []string{"bC1"}, got)
}
