package twofa

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestLimiter(t *testing.T, maxAttempts int, cooldown time.Duration) (*BackupCodeLimiter, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewBackupCodeLimiter(client, maxAttempts, cooldown), mr
}

func TestBackupCodeLimiter(t *testing.T) {
	ctx := context.Background()

	t.Run("Locks after max failures", func(t *testing.T) {
		limiter, mr := setupTestLimiter(t, 2, time.Minute)

		require.NoError(t, limiter.Check(ctx, "user-1"))
		require.NoError(t, limiter.RecordFailure(ctx, "user-1"))
		require.NoError(t, limiter.Check(ctx, "user-1"))
		require.NoError(t, limiter.RecordFailure(ctx, "user-1"))

		assert.ErrorIs(t, limiter.Check(ctx, "user-1"), ErrBackupCodeRateLimited)
		assert.NoError(t, limiter.Check(ctx, "user-2"))
		assert.Equal(t, time.Minute, mr.TTL("twofa:backup:user-1"))

		mr.FastForward(time.Minute)
		assert.NoError(t, limiter.Check(ctx, "user-1"))
	})

	t.Run("Reset", func(t *testing.T) {
		limiter, mr := setupTestLimiter(t, 1, time.Minute)

		require.NoError(t, limiter.RecordFailure(ctx, "user-1"))
		assert.ErrorIs(t, limiter.Check(ctx, "user-1"), ErrBackupCodeRateLimited)

		require.NoError(t, limiter.Reset(ctx, "user-1"))
		assert.NoError(t, limiter.Check(ctx, "user-1"))
		assert.False(t, mr.Exists("twofa:backup:user-1"))
	})

	t.Run("Redis unavailable", func(t *testing.T) {
		limiter, mr := setupTestLimiter(t, 1, time.Minute)
		mr.Close()

		assert.ErrorIs(t, limiter.Check(ctx, "user-1"), ErrBackupCodeUnavailable)
		assert.ErrorIs(t, limiter.RecordFailure(ctx, "user-1"), ErrBackupCodeUnavailable)
	})

	t.Run("Nil limiter allows everything", func(t *testing.T) {
		var limiter *BackupCodeLimiter
		assert.NoError(t, limiter.Check(ctx, "user-1"))
		assert.NoError(t, limiter.RecordFailure(ctx, "user-1"))
		assert.NoError(t, limiter.Reset(ctx, "user-1"))
		assert.Zero(t, limiter.Cooldown())
	})
}
