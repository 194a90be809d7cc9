package api

import (
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/contentmesh/server/pkg/peerauth"
)

// rateLimitConfig holds one per-IP limiter's settings.
type rateLimitConfig struct {
	rps   rate.Limit
	burst int
}

// RateLimiter throttles requests per client IP. Synchronizer traffic from
// other cluster members lands on this same HTTP surface (it polls the
// plain GET endpoints like any client); peerAuthMiddleware exempts it
// when a cluster shared secret is configured, so sync polling from N
// peers doesn't compete with the public rate budget.
type RateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	config   rateLimitConfig
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter returns a RateLimiter allowing rps requests/second per IP,
// with burst capacity burst.
func NewRateLimiter(rps int, burst int) *RateLimiter {
	rl := &RateLimiter{
		visitors: make(map[string]*visitor),
		config:   rateLimitConfig{rps: rate.Limit(rps), burst: burst},
	}
	go rl.cleanupVisitors()
	return rl
}

func (rl *RateLimiter) getVisitor(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	v, ok := rl.visitors[ip]
	if !ok {
		limiter := rate.NewLimiter(rl.config.rps, rl.config.burst)
		rl.visitors[ip] = &visitor{limiter: limiter, lastSeen: time.Now()}
		return limiter
	}
	v.lastSeen = time.Now()
	return v.limiter
}

// cleanupVisitors evicts IPs idle for more than 3 minutes, checked once a
// minute, so the map doesn't grow without bound under churn.
func (rl *RateLimiter) cleanupVisitors() {
	for {
		time.Sleep(time.Minute)
		rl.mu.Lock()
		for ip, v := range rl.visitors {
			if time.Since(v.lastSeen) > 3*time.Minute {
				delete(rl.visitors, ip)
			}
		}
		rl.mu.Unlock()
	}
}

// Middleware wraps next with per-IP rate limiting.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.getVisitor(clientIP(r)).Allow() {
			writeTooManyRequests(w, r, 5)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Limiter is satisfied by both RateLimiter (in-memory) and
// RedisRateLimiter (shared across replicas); Server picks one in New.
type Limiter interface {
	Middleware(next http.Handler) http.Handler
}

// clientIP extracts the request's source IP, stripping the port
// net/http leaves on RemoteAddr.
func clientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return strings.Trim(r.RemoteAddr, "[]")
	}
	return ip
}

// peerAuthMiddleware wraps limiter so a request bearing a valid peer
// token (signed by peerauth.Signer, checked against verifier) skips rate
// limiting entirely instead of sharing the public per-IP budget. A nil
// verifier or limiter disables the corresponding behavior.
func peerAuthMiddleware(verifier *peerauth.Verifier, limiter Limiter, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		limited := next
		if limiter != nil {
			limited = limiter.Middleware(next)
		}
		if verifier == nil {
			return limited
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token := bearerToken(r); token != "" {
				if peerName, err := verifier.Verify(token); err == nil {
					logger.Debug("api: peer-authenticated request", "peer", peerName, "path", r.URL.Path)
					next.ServeHTTP(w, r)
					return
				}
			}
			limited.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, prefix) {
		return ""
	}
	return strings.TrimPrefix(h, prefix)
}

// statusRecorder captures the status code a handler wrote, for access
// logging that doesn't need a full response-body copy.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(status int) {
	sr.status = status
	sr.ResponseWriter.WriteHeader(status)
}

// loggingMiddleware emits one structured access-log line per request.
func loggingMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sr, r)
		logger.Info("api request",
			"method", r.Method, "path", r.URL.Path,
			"status", sr.status, "duration_ms", time.Since(start).Milliseconds())
	})
}
