package config

import "github.com/redis/go-redis/v9"

// RedisConfig configures the backup code attempt limiter. An empty Addr disables it.
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" env-default:""`
	Password string `env:"REDIS_PASSWORD" env-default:""`
	DB       int    `env:"REDIS_DB" env-default:"0"`
}

func (r RedisConfig) Enabled() bool {
	return r.Addr != ""
}

// NewClient returns nil when Redis is not configured
func (r RedisConfig) NewClient() redis.UniversalClient {
	if !r.Enabled() {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     r.Addr,
		Password: r.Password,
		DB:       r.DB,
	})
}
