package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	clearEnv(t,
		"STORAGE_ROOT_FOLDER", "SERVER_PORT", "SERVER_NAME", "STORAGE_BACKEND",
		"SYNC_WITH_SERVERS_INTERVAL", "ALLOW_LEGACY_ENTITIES", "ETH_NETWORK",
		"HISTORY_BACKEND", "LOG_LEVEL", "IMMUTABLE_TIME_DELTA",
		"BLACKLIST_FILE", "PEER_LIST_FILE", "REDIS_ADDR", "REDIS_DB",
		"CLUSTER_SHARED_SECRET",
	)
	t.Setenv("SERVER_PORT", "6969")

	env, err := Load()
	require.NoError(t, err)

	require.Equal(t, "./data/storage", env.StorageRootFolder)
	require.Equal(t, "6969", env.ServerPort)
	require.Equal(t, "fs", env.StorageBackend)
	require.Equal(t, "mainnet", env.ETHNetwork)
	require.Equal(t, "file", env.HistoryBackend)
	require.Equal(t, "INFO", env.LogLevel)
	require.Equal(t, 10*time.Minute, env.ImmutableTimeDelta)
	require.Empty(t, env.BlacklistFile)
	require.Empty(t, env.PeerListFile)
	require.Empty(t, env.RedisAddr)
	require.Zero(t, env.RedisDB)
	require.Empty(t, env.ClusterSharedSecret)
}

func TestLoadRejectsEmptyServerPort(t *testing.T) {
	t.Setenv("SERVER_PORT", "")
	t.Setenv("STORAGE_ROOT_FOLDER", "/tmp/irrelevant")

	_, err := Load()
	require.Error(t, err)
}

func TestLoadReadsNewlyAddedVariables(t *testing.T) {
	t.Setenv("SERVER_PORT", "6969")
	t.Setenv("BLACKLIST_FILE", "/data/blacklist.json")
	t.Setenv("PEER_LIST_FILE", "/data/peers.yaml")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("REDIS_PASSWORD", "s3cret")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("CLUSTER_SHARED_SECRET", "top-secret")

	env, err := Load()
	require.NoError(t, err)

	require.Equal(t, "/data/blacklist.json", env.BlacklistFile)
	require.Equal(t, "/data/peers.yaml", env.PeerListFile)
	require.Equal(t, "localhost:6379", env.RedisAddr)
	require.Equal(t, "s3cret", env.RedisPassword)
	require.Equal(t, 3, env.RedisDB)
	require.Equal(t, "top-secret", env.ClusterSharedSecret)
}

func TestGetDurationAcceptsMillisecondsOrGoDuration(t *testing.T) {
	t.Setenv("SOME_DURATION", "1500")
	require.Equal(t, 1500*time.Millisecond, getDuration("SOME_DURATION", 0))

	t.Setenv("SOME_DURATION", "2s")
	require.Equal(t, 2*time.Second, getDuration("SOME_DURATION", 0))

	t.Setenv("SOME_DURATION", "not-a-duration")
	require.Equal(t, 7*time.Second, getDuration("SOME_DURATION", 7*time.Second))
}

func TestGetSizeMapParsesPerTypeBudgetsAndFallsBackToDefault(t *testing.T) {
	t.Setenv("SOME_SIZES", "scene:10,profile:5")
	sizes := getSizeMap("SOME_SIZES", 100)
	require.Equal(t, 10.0, sizes["scene"])
	require.Equal(t, 5.0, sizes["profile"])
	require.Equal(t, 100.0, sizes["*"])

	t.Setenv("SOME_SIZES", "")
	defaults := getSizeMap("SOME_SIZES", 42)
	require.Equal(t, map[string]float64{"*": 42}, defaults)
}

func TestMaxUploadSizeMBFallsBackToDefaultBucket(t *testing.T) {
	env := &Environment{MaxUploadSizePerTypeMB: map[string]float64{"*": 100, "scene": 10}}
	require.Equal(t, 10.0, env.MaxUploadSizeMB("scene"))
	require.Equal(t, 100.0, env.MaxUploadSizeMB("profile"))
}
