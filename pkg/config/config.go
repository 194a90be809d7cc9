// Package config loads the Environment the rest of the server is built
// from. Every constructor in this module takes an explicit Environment
// (or a slice of it) instead of reaching for package-level globals.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Environment holds every tunable the content server reads from its
// process environment (§6 of the specification).
type Environment struct {
	StorageRootFolder string
	ServerPort        string
	ServerName        string

	StorageBackend string // "fs" (default), "s3", or "gcs"
	S3Bucket       string
	S3Region       string
	S3Endpoint     string
	S3Prefix       string
	GCSBucket      string
	GCSPrefix      string

	SyncInterval time.Duration

	RequestTTLBackwards time.Duration
	RequestTTLForwards  time.Duration

	MaxUploadSizePerTypeMB map[string]float64

	AllowLegacyEntities bool

	ETHNetwork          string
	DCLAPIURL           string
	ENSOwnerProviderURL string

	DAOAddress string

	HistoryBackend string // "file", "sqlite", "postgres"
	DatabaseURL    string

	OTLPEndpoint string
	LogLevel     string

	ImmutableTimeDelta time.Duration

	// BlacklistFile, if non-empty, enables the blacklist overlay (§9)
	// backed by this JSON file. Empty disables it entirely.
	BlacklistFile string

	// PeerListFile is a YAML fallback peer list consulted when
	// DAOAddress is empty, for dev/test clusters with no DAO contract.
	PeerListFile string

	// RedisAddr, if non-empty, moves the per-IP rate limiter's state out
	// of process memory and into Redis, so a fleet of replicas behind the
	// same load balancer shares one limit instead of each enforcing its
	// own. Empty keeps the in-memory limiter (single-node/dev default).
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// ClusterSharedSecret, if non-empty, lets this node sign and verify
	// peer tokens (peerauth) so sync traffic from other cluster members
	// is exempt from the public rate limiter.
	ClusterSharedSecret string
}

// Load reads the Environment from process environment variables, applying
// the defaults called out in the specification.
func Load() (*Environment, error) {
	env := &Environment{
		StorageRootFolder:      getString("STORAGE_ROOT_FOLDER", "./data/storage"),
		ServerPort:             getString("SERVER_PORT", "6969"),
		ServerName:             getString("SERVER_NAME", hostnameOrDefault()),
		StorageBackend:         getString("STORAGE_BACKEND", "fs"),
		S3Bucket:               getString("S3_BUCKET", ""),
		S3Region:               getString("S3_REGION", "us-east-1"),
		S3Endpoint:             getString("S3_ENDPOINT", ""),
		S3Prefix:               getString("S3_PREFIX", ""),
		GCSBucket:              getString("GCS_BUCKET", ""),
		GCSPrefix:              getString("GCS_PREFIX", ""),
		SyncInterval:           getDuration("SYNC_WITH_SERVERS_INTERVAL", 5*time.Second),
		RequestTTLBackwards:    getDuration("REQUEST_TTL_BACKWARDS", 10*time.Minute),
		RequestTTLForwards:     getDuration("REQUEST_TTL_FORWARDS", 5*time.Minute),
		MaxUploadSizePerTypeMB: getSizeMap("MAX_UPLOAD_SIZE_PER_TYPE", 100),
		AllowLegacyEntities:    getBool("ALLOW_LEGACY_ENTITIES", false),
		ETHNetwork:             getString("ETH_NETWORK", "mainnet"),
		DCLAPIURL:              getString("DCL_API_URL", ""),
		ENSOwnerProviderURL:    getString("ENS_OWNER_PROVIDER_URL", ""),
		DAOAddress:             getString("DAO_ADDRESS", ""),
		HistoryBackend:         getString("HISTORY_BACKEND", "file"),
		DatabaseURL:            getString("DATABASE_URL", ""),
		OTLPEndpoint:           getString("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		LogLevel:               getString("LOG_LEVEL", "INFO"),
		ImmutableTimeDelta:     getDuration("IMMUTABLE_TIME_DELTA", 10*time.Minute),
		BlacklistFile:          getString("BLACKLIST_FILE", ""),
		PeerListFile:           getString("PEER_LIST_FILE", ""),
		RedisAddr:              getString("REDIS_ADDR", ""),
		RedisPassword:          getString("REDIS_PASSWORD", ""),
		RedisDB:                getInt("REDIS_DB", 0),
		ClusterSharedSecret:    getString("CLUSTER_SHARED_SECRET", ""),
	}

	// Unset SERVER_PORT takes the default; set but empty is rejected.
	if v, set := os.LookupEnv("SERVER_PORT"); set && v == "" {
		return nil, fmt.Errorf("config: SERVER_PORT must not be empty")
	}
	return env, nil
}

func hostnameOrDefault() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "content-server"
	}
	return h
}

func getString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if ms, err := strconv.Atoi(v); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	return def
}

// getSizeMap parses MAX_UPLOAD_SIZE_PER_TYPE as "type1:10,type2:50" and
// falls back to a single default bucket ("*") if unset.
func getSizeMap(key string, defaultMB float64) map[string]float64 {
	out := map[string]float64{"*": defaultMB}
	v := os.Getenv(key)
	if v == "" {
		return out
	}
	entries := splitNonEmpty(v, ',')
	for _, e := range entries {
		kv := splitNonEmpty(e, ':')
		if len(kv) != 2 {
			continue
		}
		if f, err := strconv.ParseFloat(kv[1], 64); err == nil {
			out[kv[0]] = f
		}
	}
	return out
}

func splitNonEmpty(s string, sep byte) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == sep {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	return out
}

// MaxUploadSizeMB returns the per-pointer upload budget for entity type t,
// falling back to the "*" bucket.
func (e *Environment) MaxUploadSizeMB(entityType string) float64 {
	if v, ok := e.MaxUploadSizePerTypeMB[entityType]; ok {
		return v
	}
	return e.MaxUploadSizePerTypeMB["*"]
}
