package middleware

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/teamgrid-app/teamgrid/internal/metrics"
)

// RateLimit defines a fixed-window limit for an endpoint class.
type RateLimit struct {
	Requests int
	Window   time.Duration
}

// rule binds an endpoint class to its limit. Rules are matched in order,
// first match wins.
type rule struct {
	name   string
	method string
	match  func(path string) bool
	limit  RateLimit
}

// RateLimiter implements fixed-window rate limiting on Redis. Without a
// Redis client it is a no-op, so development setups work unthrottled.
type RateLimiter struct {
	client       *redis.Client
	logger       zerolog.Logger
	rules        []rule
	whitelist    []*net.IPNet
	whitelistIPs map[string]bool
}

// NewRateLimiter creates a rate limiter. client may be nil.
func NewRateLimiter(client *redis.Client, logger zerolog.Logger, whitelist []string) *RateLimiter {
	rl := &RateLimiter{
		client:       client,
		logger:       logger,
		whitelistIPs: make(map[string]bool),
		rules: []rule{
			{"send", http.MethodPost, func(p string) bool {
				return strings.HasSuffix(p, "/messages")
			}, RateLimit{30, time.Minute}},
			{"status", http.MethodPost, func(p string) bool {
				return strings.HasSuffix(p, "/delivered") || strings.HasSuffix(p, "/read")
			}, RateLimit{240, time.Minute}},
			{"roster", http.MethodPost, func(p string) bool {
				return strings.HasSuffix(p, "/participants")
			}, RateLimit{30, time.Minute}},
			{"history", http.MethodGet, func(p string) bool {
				return strings.HasPrefix(p, "/api/chats")
			}, RateLimit{240, time.Minute}},
		},
	}

	for _, entry := range whitelist {
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

// Middleware enforces the limits. Redis failures fail open: throttling
// is protection, not correctness.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rl.client == nil {
			next.ServeHTTP(w, r)
			return
		}

		matched := rl.matchRule(r)
		if matched == nil {
			next.ServeHTTP(w, r)
			return
		}

		ip := clientIP(r)
		if rl.isWhitelisted(ip) {
			next.ServeHTTP(w, r)
			return
		}

		key := "ratelimit:" + matched.name + ":" + callerKey(r, ip)
		count, err := rl.client.Incr(r.Context(), key).Result()
		if err != nil {
			rl.logger.Warn().Err(err).Msg("rate limit check failed, allowing request")
			next.ServeHTTP(w, r)
			return
		}
		if count == 1 {
			rl.client.Expire(r.Context(), key, matched.limit.Window)
		}

		if count > int64(matched.limit.Requests) {
			metrics.RateLimitHits.WithLabelValues(matched.name).Inc()
			w.Header().Set("Retry-After", matched.limit.Window.String())
			jsonError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) matchRule(r *http.Request) *rule {
	for i := range rl.rules {
		ru := &rl.rules[i]
		if ru.method == r.Method && ru.match(r.URL.Path) {
			return ru
		}
	}
	return nil
}

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

// callerKey keys limits per authenticated user, falling back to IP for
// the rare unauthenticated path.
func callerKey(r *http.Request, ip string) string {
	if userID := UserFromContext(r.Context()); userID != uuid.Nil {
		return "user:" + userID.String()
	}
	return "ip:" + ip
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
