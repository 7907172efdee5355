package redisclient

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLocker(t *testing.T) (Locker, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewRedisBookingLocker(client, 5*time.Second), mr
}

func TestWithBookingLockRunsCriticalSection(t *testing.T) {
	locker, _ := newTestLocker(t)

	ran := false
	err := locker.WithBookingLock(context.Background(), uuid.New(), "2025-03-10", func(ctx context.Context) error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
}

func TestWithBookingLockContention(t *testing.T) {
	locker, _ := newTestLocker(t)
	providerID := uuid.New()

	err := locker.WithBookingLock(context.Background(), providerID, "2025-03-10", func(ctx context.Context) error {
		inner := locker.WithBookingLock(ctx, providerID, "2025-03-10", func(ctx context.Context) error {
			t.Fatal("critical section must not run while the lock is held")
			return nil
		})
		assert.ErrorIs(t, inner, ErrLockNotAcquired)
		return nil
	})
	require.NoError(t, err)
}

// Locks are scoped per provider-day: other providers and other days are not
// serialized against each other.
func TestWithBookingLockScope(t *testing.T) {
	locker, _ := newTestLocker(t)
	providerID := uuid.New()

	err := locker.WithBookingLock(context.Background(), providerID, "2025-03-10", func(ctx context.Context) error {
		if err := locker.WithBookingLock(ctx, uuid.New(), "2025-03-10", func(ctx context.Context) error {
			return nil
		}); err != nil {
			return err
		}
		return locker.WithBookingLock(ctx, providerID, "2025-03-11", func(ctx context.Context) error {
			return nil
		})
	})
	require.NoError(t, err)
}

func TestWithBookingLockReleasesAfterRun(t *testing.T) {
	locker, mr := newTestLocker(t)
	providerID := uuid.New()

	err := locker.WithBookingLock(context.Background(), providerID, "2025-03-10", func(ctx context.Context) error {
		return nil
	})
	require.NoError(t, err)

	key := "lock:booking:" + providerID.String() + ":2025-03-10"
	assert.False(t, mr.Exists(key))

	err = locker.WithBookingLock(context.Background(), providerID, "2025-03-10", func(ctx context.Context) error {
		return nil
	})
	assert.NoError(t, err)
}

func TestWithBookingLockReleasesOnError(t *testing.T) {
	locker, mr := newTestLocker(t)
	providerID := uuid.New()

	sentinel := errors.New("boom")
	err := locker.WithBookingLock(context.Background(), providerID, "2025-03-10", func(ctx context.Context) error {
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)

	key := "lock:booking:" + providerID.String() + ":2025-03-10"
	assert.False(t, mr.Exists(key))
}

func TestWithBookingLockExpiresViaTTL(t *testing.T) {
	locker, mr := newTestLocker(t)
	providerID := uuid.New()

	err := locker.WithBookingLock(context.Background(), providerID, "2025-03-10", func(ctx context.Context) error {
		// A crashed holder never deletes its key; the TTL cleans up.
		mr.FastForward(6 * time.Second)

		return locker.WithBookingLock(ctx, providerID, "2025-03-10", func(ctx context.Context) error {
			return nil
		})
	})
	assert.NoError(t, err)
}
