// internal/app/system/ratelimit/ratelimit.go
package ratelimit

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Backend counts attempts per key. Limiter is the in-process backend;
// RedisLimiter shares counts across instances.
type Backend interface {
	Allow(ctx context.Context, key string) (bool, error)
	Reset(ctx context.Context, key string) error
}

// Limiter provides rate limiting using a sliding window algorithm.
// It is safe for concurrent use.
type Limiter struct {
	mu       sync.Mutex
	windows  map[string]*window
	limit    int           // max requests per window
	duration time.Duration // window duration
	cleanup  time.Duration // how often to clean old entries
	stop     chan struct{}
	once     sync.Once
}

type window struct {
	count     int
	expiresAt time.Time
}

// New creates a new rate limiter.
// limit: maximum requests allowed per duration
// duration: the time window for counting requests
func New(limit int, duration time.Duration) *Limiter {
	l := &Limiter{
		windows:  make(map[string]*window),
		limit:    limit,
		duration: duration,
		cleanup:  duration * 2, // cleanup entries older than 2x duration
		stop:     make(chan struct{}),
	}
	go l.cleanupLoop()
	return l
}

// Allow checks if a request from the given key should be allowed.
// The in-memory limiter never fails.
func (l *Limiter) Allow(_ context.Context, key string) (bool, error) {
	return l.allow(key), nil
}

// Reset clears the rate limit for a specific key.
// Useful after successful authentication to reward good behavior.
func (l *Limiter) Reset(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.windows, key)
	return nil
}

// Close stops the cleanup goroutine.
func (l *Limiter) Close() {
	l.once.Do(func() { close(l.stop) })
}

func (l *Limiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	w, exists := l.windows[key]

	// If no window exists or window expired, create new one
	if !exists || now.After(w.expiresAt) {
		l.windows[key] = &window{
			count:     1,
			expiresAt: now.Add(l.duration),
		}
		return true
	}

	// Window still active - check limit
	if w.count >= l.limit {
		return false
	}

	w.count++
	return true
}

// cleanupLoop periodically removes expired entries to prevent memory leaks.
func (l *Limiter) cleanupLoop() {
	ticker := time.NewTicker(l.cleanup)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
		}
		l.mu.Lock()
		now := time.Now()
		for key, w := range l.windows {
			if now.After(w.expiresAt) {
				delete(l.windows, key)
			}
		}
		l.mu.Unlock()
	}
}

// ClientIP extracts the client IP from an HTTP request.
// It checks X-Forwarded-For and X-Real-IP headers first (for proxied requests),
// then falls back to RemoteAddr.
func ClientIP(r *http.Request) string {
	// Check X-Forwarded-For header (comma-separated list, first is client)
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		if len(parts) > 0 {
			ip := strings.TrimSpace(parts[0])
			if ip != "" {
				return ip
			}
		}
	}

	// Check X-Real-IP header
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	// Fall back to RemoteAddr (strip port)
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		// RemoteAddr might not have a port
		return r.RemoteAddr
	}
	return ip
}

// LoginLimiter provides specialized rate limiting for login attempts.
// It tracks both IP-based and account-based limits to prevent:
// - Distributed attacks from multiple IPs
// - Targeted attacks on specific accounts
//
// If a backend errors (Redis unreachable) the attempt is allowed and the
// error logged; the login path must not depend on the limiter being up.
type LoginLimiter struct {
	ipLimiter      Backend
	accountLimiter Backend
	log            *zap.Logger
}

// Messages returned with a blocked attempt.
const (
	MsgTooManyFromIP     = "Too many login attempts. Please wait a minute before trying again."
	MsgTooManyForAccount = "Too many login attempts for this account. Please wait a few minutes."
)

// Default login limits.
const (
	DefaultIPLimit       = 10
	DefaultAccountLimit  = 5
	DefaultIPWindow      = time.Minute
	DefaultAccountWindow = 5 * time.Minute
)

// NewLoginLimiterWithConfig creates an in-memory login limiter with custom limits.
func NewLoginLimiterWithConfig(logger *zap.Logger, ipLimit int, ipDuration time.Duration, accountLimit int, accountDuration time.Duration) *LoginLimiter {
	return NewLoginLimiterWithBackends(logger, New(ipLimit, ipDuration), New(accountLimit, accountDuration))
}

// NewLoginLimiterWithBackends builds a login limiter over arbitrary backends.
func NewLoginLimiterWithBackends(logger *zap.Logger, ip, account Backend) *LoginLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LoginLimiter{ipLimiter: ip, accountLimiter: account, log: logger}
}

// Close stops the cleanup goroutines of in-process backends. Redis backends
// share the client, which is closed on its own.
func (ll *LoginLimiter) Close() {
	for _, b := range []Backend{ll.ipLimiter, ll.accountLimiter} {
		if c, ok := b.(interface{ Close() }); ok {
			c.Close()
		}
	}
}

// Check verifies if a login attempt should be allowed.
// Returns (allowed, reason) where reason explains why it was blocked.
func (ll *LoginLimiter) Check(r *http.Request, account string) (bool, string) {
	ctx := r.Context()
	ip := ClientIP(r)

	// Check IP limit first
	if !ll.allow(ctx, ll.ipLimiter, "ip:"+ip) {
		return false, MsgTooManyFromIP
	}

	// Check account limit (only if an identifier was provided)
	if key := accountKey(account); key != "" {
		if !ll.allow(ctx, ll.accountLimiter, "account:"+key) {
			return false, MsgTooManyForAccount
		}
	}

	return true, ""
}

// ResetAccount clears the rate limit for an account after successful login.
func (ll *LoginLimiter) ResetAccount(ctx context.Context, account string) {
	key := accountKey(account)
	if key == "" {
		return
	}
	if err := ll.accountLimiter.Reset(ctx, "account:"+key); err != nil {
		ll.log.Warn("rate limit reset failed", zap.String("key", key), zap.Error(err))
	}
}

func (ll *LoginLimiter) allow(ctx context.Context, b Backend, key string) bool {
	ok, err := b.Allow(ctx, key)
	if err != nil {
		ll.log.Warn("rate limit backend error; allowing attempt", zap.String("key", key), zap.Error(err))
		return true
	}
	return ok
}

func accountKey(account string) string {
	return strings.ToLower(strings.TrimSpace(account))
}
