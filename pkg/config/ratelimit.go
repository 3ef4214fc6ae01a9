package config

import (
	"github.com/tendant/simple-twofa/pkg/ratelimit"
)

// RateLimitConfig contains HTTP rate limiting settings. Refill rates are tokens per second.
type RateLimitConfig struct {
	GlobalEnabled    bool    `env:"RATELIMIT_GLOBAL_ENABLED" env-default:"true"`
	GlobalCapacity   int     `env:"RATELIMIT_GLOBAL_CAPACITY" env-default:"1000"`
	GlobalRefillRate float64 `env:"RATELIMIT_GLOBAL_REFILL_RATE" env-default:"16.67"`

	PerIPEnabled    bool    `env:"RATELIMIT_PER_IP_ENABLED" env-default:"true"`
	PerIPCapacity   int     `env:"RATELIMIT_PER_IP_CAPACITY" env-default:"100"`
	PerIPRefillRate float64 `env:"RATELIMIT_PER_IP_REFILL_RATE" env-default:"1.67"`

	// TrustProxy honors X-Forwarded-For / X-Real-IP. Only enable behind a proxy that overwrites them.
	TrustProxy bool `env:"RATELIMIT_TRUST_PROXY" env-default:"false"`

	// Code-guessing endpoints (verify, verify-backup): 10 per minute per IP
	VerifyEnabled    bool    `env:"RATELIMIT_VERIFY_ENABLED" env-default:"true"`
	VerifyCapacity   int     `env:"RATELIMIT_VERIFY_CAPACITY" env-default:"10"`
	VerifyRefillRate float64 `env:"RATELIMIT_VERIFY_REFILL_RATE" env-default:"0.167"`
}

// ToMiddlewareConfig builds the middleware config; verifyRoutes get the stricter verify limit
func (c RateLimitConfig) ToMiddlewareConfig(verifyRoutes ...string) *ratelimit.Config {
	rc := ratelimit.DefaultConfig()
	rc.GlobalEnabled = c.GlobalEnabled
	rc.GlobalCapacity = c.GlobalCapacity
	rc.GlobalRefillRate = c.GlobalRefillRate
	rc.PerIPEnabled = c.PerIPEnabled
	rc.PerIPCapacity = c.PerIPCapacity
	rc.PerIPRefillRate = c.PerIPRefillRate

	if c.VerifyEnabled {
		for _, route := range verifyRoutes {
			rc.RouteLimits[route] = ratelimit.RouteLimit{
				Capacity:   c.VerifyCapacity,
				RefillRate: c.VerifyRefillRate,
			}
		}
	}
	return rc
}
