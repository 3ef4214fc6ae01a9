package twofa

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrBackupCodeRateLimited = errors.New("backup code rate limited")
	ErrBackupCodeUnavailable = errors.New("backup code limiter unavailable")
)

// BackupCodeLimiter counts failed backup code attempts per principal in Redis.
// Once maxAttempts failures are recorded the principal is locked out until the cooldown expires.
// A nil limiter or nil client allows everything.
type BackupCodeLimiter struct {
	redis       redis.UniversalClient
	maxAttempts int
	cooldown    time.Duration
}

func NewBackupCodeLimiter(redisClient redis.UniversalClient, maxAttempts int, cooldown time.Duration) *BackupCodeLimiter {
	return &BackupCodeLimiter{
		redis:       redisClient,
		maxAttempts: maxAttempts,
		cooldown:    cooldown,
	}
}

func (l *BackupCodeLimiter) key(principalID string) string {
	return "twofa:backup:" + principalID
}

// Cooldown is the lockout duration
func (l *BackupCodeLimiter) Cooldown() time.Duration {
	if l == nil {
		return 0
	}
	return l.cooldown
}

func (l *BackupCodeLimiter) Check(ctx context.Context, principalID string) error {
	if l == nil || l.redis == nil {
		return nil
	}
	count, err := l.redis.Get(ctx, l.key(principalID)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrBackupCodeUnavailable, err)
	}
	if int(count) >= l.maxAttempts {
		return ErrBackupCodeRateLimited
	}
	return nil
}

func (l *BackupCodeLimiter) RecordFailure(ctx context.Context, principalID string) error {
	if l == nil || l.redis == nil {
		return nil
	}
	count, err := l.redis.Incr(ctx, l.key(principalID)).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackupCodeUnavailable, err)
	}
	if count == 1 {
		if err := l.redis.Expire(ctx, l.key(principalID), l.cooldown).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrBackupCodeUnavailable, err)
		}
	}
	return nil
}

func (l *BackupCodeLimiter) Reset(ctx context.Context, principalID string) error {
	if l == nil || l.redis == nil {
		return nil
	}
	if err := l.redis.Del(ctx, l.key(principalID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackupCodeUnavailable, err)
	}
	return nil
}
