// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Middleware wraps a handler.
type Middleware func(http.Handler) http.Handler

// reject writes the JSON error envelope for requests turned away before they
// reach the library. Such responses carry code 0.
func reject(w http.ResponseWriter, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorBody{Error: ErrorDetail{Message: http.StatusText(status)}})
}

// ============================================================================
// Auth
// ============================================================================

// AuthConfig restricts the API to a bearer token, a set of client networks,
// or both.
type AuthConfig struct {
	// BearerToken, when set, must be presented as "Authorization: Bearer".
	BearerToken string

	// AllowedIPs holds addresses or CIDR ranges. Empty allows every client.
	AllowedIPs []string

	prefixes []netip.Prefix
	once     sync.Once
}

// Enabled reports whether any check is configured.
func (c *AuthConfig) Enabled() bool {
	return c != nil && (c.BearerToken != "" || len(c.AllowedIPs) > 0)
}

// parsePrefix accepts "10.0.0.0/8" as well as a bare address.
func parsePrefix(s string) (netip.Prefix, error) {
	if strings.Contains(s, "/") {
		p, err := netip.ParsePrefix(s)
		return p.Masked(), err
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Prefix{}, err
	}
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

func (c *AuthConfig) allows(ip string, logger *slog.Logger) bool {
	if len(c.AllowedIPs) == 0 {
		return true
	}
	c.once.Do(func() {
		for _, entry := range c.AllowedIPs {
			p, err := parsePrefix(entry)
			if err != nil {
				logger.Warn("AUTH_CONFIG_INVALID", "entry", entry, "error", err)
				continue
			}
			c.prefixes = append(c.prefixes, p)
		}
	})

	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range c.prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// AuthMiddleware checks the client address against the allowlist, then the
// bearer token. Either failure is a 401.
func AuthMiddleware(cfg *AuthConfig, logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		if !cfg.Enabled() {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := GetClientIP(r)
			if !cfg.allows(ip, logger) {
				logger.Warn("AUTH_DENIED", "ip", ip, "reason", "ip_not_allowed")
				reject(w, http.StatusUnauthorized)
				return
			}
			if cfg.BearerToken != "" {
				token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
				if !ok || !ValidateBearerToken(token, cfg.BearerToken) {
					logger.Warn("AUTH_DENIED", "ip", ip, "reason", "invalid_token")
					w.Header().Set("WWW-Authenticate", `Bearer realm="gpuinfo"`)
					reject(w, http.StatusUnauthorized)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ValidateBearerToken compares tokens in constant time. Empty tokens never
// match.
func ValidateBearerToken(token, expected string) bool {
	if token == "" || expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(expected)) == 1
}

// ============================================================================
// Rate limiting
// ============================================================================

// limiterIdle is how long a client's bucket survives without requests.
const limiterIdle = 10 * time.Minute

// RateLimiter keeps a token bucket per client IP.
type RateLimiter struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	clients  map[string]*bucket
	lastScan time.Time
}

type bucket struct {
	*rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter allows perSecond requests per client with the given burst.
func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	return &RateLimiter{
		limit:    rate.Limit(perSecond),
		burst:    max(burst, 1),
		clients:  make(map[string]*bucket),
		lastScan: time.Now(),
	}
}

// Allow reports whether a request from ip may proceed now.
func (rl *RateLimiter) Allow(ip string) bool {
	now := time.Now()

	rl.mu.Lock()
	if now.Sub(rl.lastScan) > limiterIdle {
		for k, b := range rl.clients {
			if now.Sub(b.lastSeen) > limiterIdle {
				delete(rl.clients, k)
			}
		}
		rl.lastScan = now
	}
	b, ok := rl.clients[ip]
	if !ok {
		b = &bucket{Limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.clients[ip] = b
	}
	b.lastSeen = now
	rl.mu.Unlock()

	return b.AllowN(now, 1)
}

// RateLimitMiddleware answers 429 once a client's bucket is empty.
func RateLimitMiddleware(rl *RateLimiter, logger *slog.Logger) Middleware {
	limit := strconv.FormatFloat(float64(rl.limit), 'f', -1, 64)
	burst := strconv.Itoa(rl.burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-RateLimit-Limit", limit)
			w.Header().Set("X-RateLimit-Burst", burst)

			ip := GetClientIP(r)
			if !rl.Allow(ip) {
				logger.Warn("RATE_LIMIT_EXCEEDED", "ip", ip, "path", r.URL.Path)
				w.Header().Set("Retry-After", "1")
				reject(w, http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ============================================================================
// Logging, headers, recovery
// ============================================================================

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// LoggingMiddleware logs one HTTP_REQUEST line per request at debug level,
// raised to warn for server errors.
func LoggingMiddleware(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			level := slog.LevelDebug
			if rec.status >= http.StatusInternalServerError {
				level = slog.LevelWarn
			}
			logger.Log(r.Context(), level, "HTTP_REQUEST",
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"duration", time.Since(start),
				"ip", GetClientIP(r),
			)
		})
	}
}

// SecurityHeadersMiddleware marks every response as uncacheable, non-framable
// data.
func SecurityHeadersMiddleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Content-Security-Policy", "default-src 'none'")
			h.Set("Cache-Control", "no-store")
			h.Set("Referrer-Policy", "no-referrer")
			next.ServeHTTP(w, r)
		})
	}
}

// RecoveryMiddleware turns a handler panic into a 500 and logs the stack.
func RecoveryMiddleware(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if v := recover(); v != nil {
					if v == http.ErrAbortHandler {
						panic(v)
					}
					logger.Error("PANIC_RECOVERED", "path", r.URL.Path, "error", v, "stack", string(debug.Stack()))
					reject(w, http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// Chain applies middlewares so the first one listed runs first.
func Chain(middlewares ...Middleware) Middleware {
	return func(h http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			h = middlewares[i](h)
		}
		return h
	}
}

// ============================================================================
// Client address
// ============================================================================

// trustedProxies may set X-Forwarded-For and X-Real-IP.
var trustedProxies = []netip.Prefix{
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("::1/128"),
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("fc00::/7"),
}

func isTrustedProxy(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range trustedProxies {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func validIP(s string) bool {
	_, err := netip.ParseAddr(s)
	return err == nil
}

// GetClientIP returns the client address. Forwarding headers are honored
// only from a trusted proxy, and only when they hold a valid IP.
func GetClientIP(r *http.Request) string {
	conn := r.RemoteAddr
	if host, _, err := net.SplitHostPort(conn); err == nil {
		conn = host
	}
	if !isTrustedProxy(conn) {
		return conn
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); validIP(ip) {
			return ip
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); validIP(ip) {
		return ip
	}
	return conn
}
