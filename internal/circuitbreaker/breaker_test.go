package circuitbreaker

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Nicouicich/savium-backend-sub002/internal/common/errors"
	"github.com/Nicouicich/savium-backend-sub002/internal/common/logging"
)

func quietLogger(t *testing.T) logging.Logger {
	t.Helper()
	logger, err := logging.NewZapLogger(logging.LogConfig{Level: logging.ErrorLevel, Output: io.Discard})
	require.NoError(t, err)
	return logger
}

func testConfig() Config {
	return Config{
		FailureThreshold: 2,
		RecoveryTimeout:  30 * time.Second,
		SuccessThreshold: 3,
		Timeout:          time.Second,
	}
}

var errBoom = fmt.Errorf("dependency exploded")

func failingOp(ctx context.Context) (interface{}, error) { return nil, errBoom }
func succeedingOp(ctx context.Context) (interface{}, error) {
	return "ok", nil
}

func TestBreaker_StartsClosed(t *testing.T) {
	b := New("database", testConfig(), quietLogger(t))
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b := New("database", testConfig(), quietLogger(t))
	ctx := context.Background()

	_, err := b.Execute(ctx, failingOp, nil)
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, StateClosed, b.State())

	_, err = b.Execute(ctx, failingOp, nil)
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, StateOpen, b.State())
}

func TestBreaker_FailsFastWhileOpen(t *testing.T) {
	b := New("database", testConfig(), quietLogger(t))
	ctx := context.Background()

	b.Execute(ctx, failingOp, nil)
	b.Execute(ctx, failingOp, nil)
	require.Equal(t, StateOpen, b.State())

	invoked := false
	_, err := b.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		invoked = true
		return nil, nil
	}, nil)

	assert.False(t, invoked, "operation must not run while the circuit is open")
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeCircuitOpen))
}

func TestBreaker_HalfOpenAfterRecoveryTimeout(t *testing.T) {
	b := New("database", testConfig(), quietLogger(t))
	ctx := context.Background()

	b.Execute(ctx, failingOp, nil)
	b.Execute(ctx, failingOp, nil)
	require.Equal(t, StateOpen, b.State())

	// Jump past the retry deadline; the next call is a trial call
	b.now = func() time.Time { return time.Now().Add(31 * time.Second) }

	invoked := false
	value, err := b.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		invoked = true
		return "recovered", nil
	}, nil)

	require.NoError(t, err)
	assert.True(t, invoked, "trial call must reach the operation")
	assert.Equal(t, "recovered", value)
	assert.Equal(t, StateHalfOpen, b.State())
}

func TestBreaker_ClosesAfterSuccessThreshold(t *testing.T) {
	b := New("database", testConfig(), quietLogger(t))
	ctx := context.Background()

	b.Execute(ctx, failingOp, nil)
	b.Execute(ctx, failingOp, nil)
	b.now = func() time.Time { return time.Now().Add(31 * time.Second) }

	for i := 0; i < 2; i++ {
		_, err := b.Execute(ctx, succeedingOp, nil)
		require.NoError(t, err)
		assert.Equal(t, StateHalfOpen, b.State(), "still probing after %d successes", i+1)
	}

	_, err := b.Execute(ctx, succeedingOp, nil)
	require.NoError(t, err)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b := New("database", testConfig(), quietLogger(t))
	ctx := context.Background()

	b.Execute(ctx, failingOp, nil)
	b.Execute(ctx, failingOp, nil)

	trialTime := time.Now().Add(31 * time.Second)
	b.now = func() time.Time { return trialTime }

	b.Execute(ctx, succeedingOp, nil)
	require.Equal(t, StateHalfOpen, b.State())

	b.Execute(ctx, failingOp, nil)
	assert.Equal(t, StateOpen, b.State())

	// The retry deadline was pushed out again
	stats := b.Stats()
	require.NotNil(t, stats.NextRetryTime)
	assert.Equal(t, trialTime.Add(30*time.Second), *stats.NextRetryTime)
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b := New("database", testConfig(), quietLogger(t))
	ctx := context.Background()

	b.Execute(ctx, failingOp, nil)
	assert.Equal(t, int64(1), b.Stats().FailureCount)

	b.Execute(ctx, succeedingOp, nil)
	stats := b.Stats()
	assert.Equal(t, int64(0), stats.FailureCount)
	// Successes keep counting in closed state; harmless but observable
	assert.Equal(t, int64(1), stats.SuccessCount)

	// Failures no longer add up across the reset
	b.Execute(ctx, failingOp, nil)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_TimeoutCountsAsFailure(t *testing.T) {
	config := testConfig()
	config.Timeout = 20 * time.Millisecond
	b := New("ai_service", config, quietLogger(t))
	ctx := context.Background()

	slowOp := func(ctx context.Context) (interface{}, error) {
		select {
		case <-time.After(time.Second):
			return "too late", nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	_, err := b.Execute(ctx, slowOp, nil)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeTimeout))

	stats := b.Stats()
	assert.Equal(t, int64(1), stats.FailureCount)
	assert.Equal(t, int64(1), stats.TimeoutCount)

	_, err = b.Execute(ctx, slowOp, nil)
	require.Error(t, err)
	assert.Equal(t, StateOpen, b.State(), "timeouts trip the breaker like thrown errors")
}

func TestBreaker_Fallback(t *testing.T) {
	ctx := context.Background()

	t.Run("fallback result on failure", func(t *testing.T) {
		b := New("email", testConfig(), quietLogger(t))

		value, err := b.Execute(ctx, failingOp, func(ctx context.Context) (interface{}, error) {
			return "queued for later", nil
		})

		require.NoError(t, err)
		assert.Equal(t, "queued for later", value)
		// The failure still counted against the breaker
		assert.Equal(t, int64(1), b.Stats().FailureCount)
	})

	t.Run("original error when fallback also fails", func(t *testing.T) {
		b := New("email", testConfig(), quietLogger(t))

		_, err := b.Execute(ctx, failingOp, func(ctx context.Context) (interface{}, error) {
			return nil, fmt.Errorf("fallback exploded too")
		})

		assert.ErrorIs(t, err, errBoom)
	})

	t.Run("fallback used while open", func(t *testing.T) {
		b := New("email", testConfig(), quietLogger(t))
		b.Execute(ctx, failingOp, nil)
		b.Execute(ctx, failingOp, nil)
		require.Equal(t, StateOpen, b.State())

		value, err := b.Execute(ctx, failingOp, func(ctx context.Context) (interface{}, error) {
			return "cached", nil
		})

		require.NoError(t, err)
		assert.Equal(t, "cached", value)
	})

	t.Run("circuit-open error when open and fallback fails", func(t *testing.T) {
		b := New("email", testConfig(), quietLogger(t))
		b.Execute(ctx, failingOp, nil)
		b.Execute(ctx, failingOp, nil)

		_, err := b.Execute(ctx, succeedingOp, func(ctx context.Context) (interface{}, error) {
			return nil, fmt.Errorf("no cache")
		})

		assert.True(t, apperrors.IsType(err, apperrors.ErrTypeCircuitOpen))
	})
}

func TestBreaker_ForceOpenAndReset(t *testing.T) {
	b := New("messaging", testConfig(), quietLogger(t))
	ctx := context.Background()

	b.ForceOpen()
	assert.Equal(t, StateOpen, b.State())

	_, err := b.Execute(ctx, succeedingOp, nil)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeCircuitOpen))

	b.Reset()
	assert.Equal(t, StateClosed, b.State())

	stats := b.Stats()
	assert.Zero(t, stats.FailureCount)
	assert.Zero(t, stats.TotalRequests)
	assert.Nil(t, stats.NextRetryTime)

	_, err = b.Execute(ctx, succeedingOp, nil)
	assert.NoError(t, err)
}

func TestBreaker_OnStateChange(t *testing.T) {
	b := New("database", testConfig(), quietLogger(t))
	ctx := context.Background()

	var mu sync.Mutex
	var transitions []string
	done := make(chan struct{}, 4)
	b.OnStateChange(func(name string, from, to State) {
		mu.Lock()
		transitions = append(transitions, from.String()+"->"+to.String())
		mu.Unlock()
		done <- struct{}{}
	})

	b.Execute(ctx, failingOp, nil)
	b.Execute(ctx, failingOp, nil)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("state change hook never fired")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, transitions, "closed->open")
}

func TestBreaker_OnFailure(t *testing.T) {
	b := New("database", testConfig(), quietLogger(t))
	ctx := context.Background()

	failures := make(chan string, 4)
	b.OnFailure(func(name string) {
		failures <- name
	})

	b.Execute(ctx, failingOp, nil)
	b.Execute(ctx, succeedingOp, nil)
	b.Execute(ctx, failingOp, nil)

	for i := 0; i < 2; i++ {
		select {
		case name := <-failures:
			assert.Equal(t, "database", name)
		case <-time.After(time.Second):
			t.Fatal("failure hook never fired")
		}
	}

	select {
	case <-failures:
		t.Fatal("failure hook fired for a successful call")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBreaker_ConcurrentExecutes(t *testing.T) {
	config := testConfig()
	config.FailureThreshold = 1000 // stay closed throughout
	b := New("database", config, quietLogger(t))
	ctx := context.Background()

	const workers = 50
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				b.Execute(ctx, succeedingOp, nil)
			} else {
				b.Execute(ctx, failingOp, nil)
			}
		}(i)
	}
	wg.Wait()

	stats := b.Stats()
	assert.Equal(t, int64(workers), stats.TotalRequests)
	assert.Equal(t, StateClosed, b.State())
}
