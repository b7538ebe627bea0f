package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Nicouicich/savium-backend-sub002/internal/store"
)

func setupDetector(t *testing.T) (*Detector, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client, err := store.NewClient(&store.Config{Address: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return NewDetector(client, quietLogger(t)), mr
}

func TestDetector_DetectAbuse_Escalation(t *testing.T) {
	detector, _ := setupDetector(t)
	ctx := context.Background()

	t.Run("below threshold no ban", func(t *testing.T) {
		for i := 0; i < 9; i++ {
			assert.Zero(t, detector.DetectAbuse(ctx, "user-a", "login"))
		}
		assert.False(t, detector.CheckSuspiciousActivity(ctx, "user-a").Banned)
	})

	t.Run("tenth violation bans for 15 minutes", func(t *testing.T) {
		ban := detector.DetectAbuse(ctx, "user-a", "login")
		assert.Equal(t, 15*time.Minute, ban)

		status := detector.CheckSuspiciousActivity(ctx, "user-a")
		assert.True(t, status.Banned)
		assert.WithinDuration(t, time.Now().Add(15*time.Minute), status.ExpiresAt, 5*time.Second)
	})

	t.Run("twentieth violation escalates to an hour", func(t *testing.T) {
		var ban time.Duration
		for i := 10; i < 20; i++ {
			ban = detector.DetectAbuse(ctx, "user-a", "login")
		}
		assert.Equal(t, time.Hour, ban)
	})

	t.Run("count 49 never yields the 4h ban", func(t *testing.T) {
		var ban time.Duration
		for i := 20; i < 49; i++ {
			ban = detector.DetectAbuse(ctx, "user-a", "login")
		}
		assert.Equal(t, time.Hour, ban)

		ban = detector.DetectAbuse(ctx, "user-a", "login") // 50th
		assert.Equal(t, 4*time.Hour, ban)
	})
}

func TestDetector_CountersArePerEndpoint(t *testing.T) {
	detector, _ := setupDetector(t)
	ctx := context.Background()

	for i := 0; i < 9; i++ {
		detector.DetectAbuse(ctx, "user-b", "login")
	}
	for i := 0; i < 9; i++ {
		detector.DetectAbuse(ctx, "user-b", "register")
	}

	// Neither endpoint counter reached 10 on its own
	assert.False(t, detector.CheckSuspiciousActivity(ctx, "user-b").Banned)
}

func TestDetector_CounterExpires(t *testing.T) {
	detector, mr := setupDetector(t)
	ctx := context.Background()

	for i := 0; i < 9; i++ {
		detector.DetectAbuse(ctx, "user-c", "login")
	}

	mr.FastForward(2 * time.Hour)

	// The hour rolled; the counter restarted, still no ban
	assert.Zero(t, detector.DetectAbuse(ctx, "user-c", "login"))
	assert.False(t, detector.CheckSuspiciousActivity(ctx, "user-c").Banned)
}

func TestDetector_TemporaryBan(t *testing.T) {
	detector, _ := setupDetector(t)
	ctx := context.Background()

	require.NoError(t, detector.TemporaryBan(ctx, "ip:10.0.0.1", 30*time.Minute))

	status := detector.CheckSuspiciousActivity(ctx, "ip:10.0.0.1")
	assert.True(t, status.Banned)
	assert.WithinDuration(t, time.Now().Add(30*time.Minute), status.ExpiresAt, 5*time.Second)
}

func TestDetector_LazyExpiry(t *testing.T) {
	detector, _ := setupDetector(t)
	ctx := context.Background()

	require.NoError(t, detector.TemporaryBan(ctx, "user-d", 15*time.Minute))

	// Move the detector clock past the deadline; the record is still in
	// the store, so this exercises the lazy delete-on-read path.
	detector.now = func() time.Time { return time.Now().Add(16 * time.Minute) }

	status := detector.CheckSuspiciousActivity(ctx, "user-d")
	assert.False(t, status.Banned)

	// Record is gone after the first check
	detector.now = time.Now
	assert.False(t, detector.CheckSuspiciousActivity(ctx, "user-d").Banned)
}

func TestDetector_Unban(t *testing.T) {
	detector, _ := setupDetector(t)
	ctx := context.Background()

	require.NoError(t, detector.TemporaryBan(ctx, "user-e", time.Hour))
	require.True(t, detector.CheckSuspiciousActivity(ctx, "user-e").Banned)

	require.NoError(t, detector.Unban(ctx, "user-e"))
	assert.False(t, detector.CheckSuspiciousActivity(ctx, "user-e").Banned)
}

func TestDetector_FailOpen(t *testing.T) {
	detector, mr := setupDetector(t)
	ctx := context.Background()

	mr.Close()

	assert.Zero(t, detector.DetectAbuse(ctx, "user-f", "login"))
	assert.False(t, detector.CheckSuspiciousActivity(ctx, "user-f").Banned)
}
