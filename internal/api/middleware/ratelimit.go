package middleware

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/donatonuis/chatsync/internal/session"
	"github.com/donatonuis/chatsync/internal/store"
)

// RateLimiterConfig holds configuration for the rate limiter.
type RateLimiterConfig struct {
	Limit     int           // requests per window and caller
	Window    time.Duration // defaults to one minute
	Whitelist []string      // IPs or CIDRs exempt from rate limiting
}

// RateLimiter implements fixed window rate limiting of writes on Redis
// counters, keyed by user when known and by client IP otherwise.
type RateLimiter struct {
	store        *store.RedisStore
	limit        int
	window       time.Duration
	logger       zerolog.Logger
	whitelist    []*net.IPNet
	whitelistIPs map[string]bool
}

// NewRateLimiter creates a new rate limiter.
func NewRateLimiter(rs *store.RedisStore, logger zerolog.Logger, cfg RateLimiterConfig) *RateLimiter {
	rl := &RateLimiter{
		store:        rs,
		limit:        cfg.Limit,
		window:       cfg.Window,
		logger:       logger,
		whitelistIPs: make(map[string]bool),
	}
	if rl.limit < 1 {
		rl.limit = 60
	}
	if rl.window <= 0 {
		rl.window = time.Minute
	}

	for _, entry := range cfg.Whitelist {
		if strings.Contains(entry, "/") {
			_, ipNet, err := net.ParseCIDR(entry)
			if err != nil {
				logger.Warn().Str("entry", entry).Err(err).Msg("invalid CIDR in whitelist")
				continue
			}
			rl.whitelist = append(rl.whitelist, ipNet)
		} else {
			rl.whitelistIPs[entry] = true
		}
	}

	return rl
}

// isWhitelisted checks if an IP is in the whitelist.
func (rl *RateLimiter) isWhitelisted(ipStr string) bool {
	if rl.whitelistIPs[ipStr] {
		return true
	}
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}
	for _, ipNet := range rl.whitelist {
		if ipNet.Contains(ip) {
			return true
		}
	}
	return false
}

// RealIP extracts the real client IP from headers or connection.
func RealIP(r *http.Request) string {
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		return strings.TrimSpace(strings.Split(ip, ",")[0])
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// callerKey returns the counter key of the caller.
func callerKey(r *http.Request) string {
	if id, ok := session.FromContext(r.Context()); ok && id.Valid() {
		return "user:" + id.Username
	}
	return "ip:" + RealIP(r)
}

// Middleware returns the rate limiting middleware. Redis failures let the
// request through.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := RealIP(r)
		if rl.isWhitelisted(ip) {
			next.ServeHTTP(w, r)
			return
		}

		key := callerKey(r)
		allowed, err := rl.store.CheckRateLimit(r.Context(), "write", key, rl.limit)
		if err != nil {
			rl.logger.Warn().Err(err).Msg("rate limit check failed")
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.limit))
		if !allowed {
			w.Header().Set("X-RateLimit-Remaining", "0")
			w.Header().Set("Retry-After", strconv.Itoa(int(rl.window.Seconds())))
			rl.logger.Warn().
				Str("type", "security").
				Str("event", "rate_limit_exceeded").
				Str("ip", ip).
				Str("key", key).
				Str("endpoint", r.URL.Path).
				Msg("rate limit exceeded")
			jsonError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		count, err := rl.store.IncrementRateLimit(r.Context(), "write", key, rl.window)
		if err != nil {
			rl.logger.Warn().Err(err).Msg("rate limit increment failed")
		} else {
			remaining := rl.limit - int(count)
			if remaining < 0 {
				remaining = 0
			}
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		}

		next.ServeHTTP(w, r)
	})
}
