package ratelimit

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/render"
	twofaerrors "github.com/tendant/simple-twofa/pkg/errors"
)

// Config holds rate limiting configuration
type Config struct {
	GlobalEnabled    bool
	GlobalCapacity   int     // max burst
	GlobalRefillRate float64 // requests per second

	PerIPEnabled    bool
	PerIPCapacity   int
	PerIPRefillRate float64

	// RouteLimits are extra per-IP limits keyed by "METHOD /path"
	RouteLimits map[string]RouteLimit

	// BucketTTL is how long inactive buckets are kept in memory
	BucketTTL time.Duration
}

type RouteLimit struct {
	Capacity   int
	RefillRate float64
}

// DefaultConfig allows 1000 requests per minute overall and 100 per minute per client IP
func DefaultConfig() *Config {
	return &Config{
		GlobalEnabled:    true,
		GlobalCapacity:   1000,
		GlobalRefillRate: 1000.0 / 60.0,

		PerIPEnabled:    true,
		PerIPCapacity:   100,
		PerIPRefillRate: 100.0 / 60.0,

		RouteLimits: make(map[string]RouteLimit),
		BucketTTL:   1 * time.Hour,
	}
}

type Middleware struct {
	config        *Config
	globalLimiter *RateLimiter
	ipLimiter     *RateLimiter
	routeLimiters map[string]*RateLimiter
}

func NewMiddleware(config *Config) *Middleware {
	if config == nil {
		config = DefaultConfig()
	}

	m := &Middleware{
		config:        config,
		routeLimiters: make(map[string]*RateLimiter),
	}

	if config.GlobalEnabled {
		m.globalLimiter = NewRateLimiter(config.GlobalCapacity, config.GlobalRefillRate, config.BucketTTL)
	}
	if config.PerIPEnabled {
		m.ipLimiter = NewRateLimiter(config.PerIPCapacity, config.PerIPRefillRate, config.BucketTTL)
	}
	for route, limit := range config.RouteLimits {
		m.routeLimiters[route] = NewRateLimiter(limit.Capacity, limit.RefillRate, config.BucketTTL)
	}

	return m
}

// Handler rejects requests over any configured limit with 429
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.globalLimiter != nil && !m.globalLimiter.Allow("global") {
			m.rateLimitExceeded(w, r, "global", m.globalLimiter.RetryAfter("global"))
			return
		}

		ip := getClientIP(r)
		if m.ipLimiter != nil && ip != "" && !m.ipLimiter.Allow(ip) {
			m.rateLimitExceeded(w, r, "ip", m.ipLimiter.RetryAfter(ip))
			return
		}

		route := r.Method + " " + r.URL.Path
		if limiter, exists := m.routeLimiters[route]; exists {
			key := ip + ":" + route
			if !limiter.Allow(key) {
				m.rateLimitExceeded(w, r, "route", limiter.RetryAfter(key))
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

func (m *Middleware) rateLimitExceeded(w http.ResponseWriter, r *http.Request, limitType string, retryAfter time.Duration) {
	seconds := int(math.Ceil(retryAfter.Seconds()))
	if seconds < 1 {
		seconds = 1
	}

	slog.Warn("Rate limit exceeded",
		"type", limitType,
		"ip", getClientIP(r),
		"path", r.URL.Path,
		"method", r.Method,
		"retryAfter", seconds,
	)

	w.Header().Set("Retry-After", strconv.Itoa(seconds))
	render.Status(r, http.StatusTooManyRequests)
	render.JSON(w, r, map[string]string{
		"error":   string(twofaerrors.ErrCodeRateLimitExceeded),
		"message": "Too many requests. Please try again later.",
		"type":    limitType,
	})
}

// Close stops the bucket cleanup goroutines
func (m *Middleware) Close() {
	for _, limiter := range m.limiters() {
		limiter.Close()
	}
}

func (m *Middleware) limiters() map[string]*RateLimiter {
	limiters := make(map[string]*RateLimiter)
	if m.globalLimiter != nil {
		limiters["global"] = m.globalLimiter
	}
	if m.ipLimiter != nil {
		limiters["ip"] = m.ipLimiter
	}
	for route, limiter := range m.routeLimiters {
		limiters["route:"+route] = limiter
	}
	return limiters
}

func (m *Middleware) GetStats() map[string]Stats {
	stats := make(map[string]Stats)
	for name, limiter := range m.limiters() {
		stats[name] = limiter.GetStats()
	}
	return stats
}

// getClientIP keys buckets on RemoteAddr only. Forwarded headers are client controlled;
// behind a trusted proxy, chi's middleware.RealIP must run first to rewrite RemoteAddr.
func getClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
