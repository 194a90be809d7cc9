package api

import (
	"log/slog"
	"net/http"

	"github.com/contentmesh/server/pkg/blacklist"
	"github.com/contentmesh/server/pkg/peerauth"
)

// Server wires blacklist.Service (which deploy.Service itself satisfies,
// and which blacklist.Overlay also satisfies by delegation — the handlers
// below never know which one they were given) to the HTTP surface of §6.
type Server struct {
	service blacklist.Service
	name    string
	version string
	logger  *slog.Logger
	limiter Limiter
	peers   *peerauth.Verifier
}

// Config bundles Server's dependencies.
type Config struct {
	Service blacklist.Service
	Name    string
	Version string
	Logger  *slog.Logger

	// RateLimiterRPS/Burst configure the per-IP limiter; both zero disables
	// rate limiting (used by tests that want to drive handlers directly).
	RateLimiterRPS   int
	RateLimiterBurst int

	// Limiter, if set, overrides the RateLimiterRPS/Burst in-memory
	// default — used to install a RedisRateLimiter for multi-replica
	// deployments.
	Limiter Limiter

	// PeerVerifier, if set, lets requests bearing a valid cluster peer
	// token skip the rate limiter entirely (peerauth).
	PeerVerifier *peerauth.Verifier
}

// New returns a Server from cfg.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	version := cfg.Version
	if version == "" {
		version = "0.0.0-dev"
	}
	limiter := cfg.Limiter
	if limiter == nil && cfg.RateLimiterRPS > 0 {
		limiter = NewRateLimiter(cfg.RateLimiterRPS, cfg.RateLimiterBurst)
	}
	return &Server{
		service: cfg.Service,
		name:    cfg.Name,
		version: version,
		logger:  logger,
		limiter: limiter,
		peers:   cfg.PeerVerifier,
	}
}

// Routes returns the full handler tree for §6's HTTP surface, using Go's
// 1.22+ ServeMux method+pattern matching instead of a third-party router:
// the teacher's own HTTP entrypoints are plain net/http HandleFunc trees
// with no router dependency anywhere in the corpus, so this follows suit.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /entities/{type}", s.handleGetEntities)
	mux.HandleFunc("POST /entities", s.handlePostEntity)
	mux.HandleFunc("GET /contents/{hashId}", s.handleGetContent)
	mux.HandleFunc("POST /available-content", s.handlePostAvailableContent)
	mux.HandleFunc("GET /pointers/{type}", s.handleGetPointers)
	mux.HandleFunc("GET /audit/{type}/{entityId}", s.handleGetAudit)
	mux.HandleFunc("GET /history", s.handleGetHistory)
	mux.HandleFunc("GET /status", s.handleGetStatus)

	var handler http.Handler = mux
	if s.limiter != nil || s.peers != nil {
		handler = peerAuthMiddleware(s.peers, s.limiter, s.logger)(handler)
	}
	handler = loggingMiddleware(s.logger, handler)
	return requestIDMiddleware(handler)
}
