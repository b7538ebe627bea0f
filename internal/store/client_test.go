package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client, err := NewClient(&Config{Address: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return client, mr
}

func TestNewClient(t *testing.T) {
	t.Run("nil config", func(t *testing.T) {
		client, err := NewClient(nil)
		assert.Error(t, err)
		assert.Nil(t, client)
	})

	t.Run("defaults applied", func(t *testing.T) {
		mr, err := miniredis.Run()
		require.NoError(t, err)
		defer mr.Close()

		config := &Config{Address: mr.Addr(), PoolSize: 0}
		client, err := NewClient(config)
		require.NoError(t, err)
		defer client.Close()

		assert.Equal(t, 10, config.PoolSize)
	})

	t.Run("unreachable server", func(t *testing.T) {
		client, err := NewClient(&Config{Address: "127.0.0.1:1"})
		assert.Error(t, err)
		assert.Nil(t, client)
	})
}

func TestClient_IncrementWithTTL(t *testing.T) {
	client, mr := setupTestStore(t)
	ctx := context.Background()

	t.Run("counts up from one", func(t *testing.T) {
		for want := int64(1); want <= 3; want++ {
			got, err := client.IncrementWithTTL(ctx, "counter:a", time.Minute)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		}
	})

	t.Run("sets expiry", func(t *testing.T) {
		_, err := client.IncrementWithTTL(ctx, "counter:b", 30*time.Second)
		require.NoError(t, err)

		ttl := mr.TTL("counter:b")
		assert.Equal(t, 30*time.Second, ttl)
	})

	t.Run("key expires and restarts", func(t *testing.T) {
		_, err := client.IncrementWithTTL(ctx, "counter:c", time.Second)
		require.NoError(t, err)

		mr.FastForward(2 * time.Second)

		got, err := client.IncrementWithTTL(ctx, "counter:c", time.Second)
		require.NoError(t, err)
		assert.Equal(t, int64(1), got)
	})

	t.Run("no lost updates under concurrency", func(t *testing.T) {
		const workers = 20
		var wg sync.WaitGroup
		wg.Add(workers)
		for i := 0; i < workers; i++ {
			go func() {
				defer wg.Done()
				_, err := client.IncrementWithTTL(ctx, "counter:concurrent", time.Minute)
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		got, err := client.IncrementWithTTL(ctx, "counter:concurrent", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, int64(workers+1), got)
	})
}

func TestClient_GetSet(t *testing.T) {
	client, mr := setupTestStore(t)
	ctx := context.Background()

	t.Run("missing key", func(t *testing.T) {
		_, found, err := client.Get(ctx, "nope")
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("string round trip", func(t *testing.T) {
		require.NoError(t, client.Set(ctx, "k", "v", time.Minute))

		value, found, err := client.Get(ctx, "k")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, "v", value)
	})

	t.Run("struct round trip via JSON", func(t *testing.T) {
		type record struct {
			Identifier string `json:"identifier"`
			Count      int    `json:"count"`
		}

		require.NoError(t, client.Set(ctx, "rec", record{Identifier: "user-1", Count: 3}, time.Minute))

		var got record
		found, err := client.GetJSON(ctx, "rec", &got)
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, "user-1", got.Identifier)
		assert.Equal(t, 3, got.Count)
	})

	t.Run("GetJSON missing key", func(t *testing.T) {
		var got map[string]interface{}
		found, err := client.GetJSON(ctx, "absent", &got)
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("TTL honored", func(t *testing.T) {
		require.NoError(t, client.Set(ctx, "ephemeral", "x", time.Second))
		mr.FastForward(2 * time.Second)

		_, found, err := client.Get(ctx, "ephemeral")
		require.NoError(t, err)
		assert.False(t, found)
	})
}

func TestClient_DeleteExists(t *testing.T) {
	client, _ := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, client.Set(ctx, "gone", "soon", 0))

	exists, err := client.Exists(ctx, "gone")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, client.Delete(ctx, "gone"))

	exists, err = client.Exists(ctx, "gone")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestClient_DeletePattern(t *testing.T) {
	client, _ := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, client.Set(ctx, "rate:user-1:100", "1", 0))
	require.NoError(t, client.Set(ctx, "rate:user-1:200", "2", 0))
	require.NoError(t, client.Set(ctx, "rate:user-2:100", "3", 0))

	deleted, err := client.DeletePattern(ctx, "rate:user-1:*")
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	exists, err := client.Exists(ctx, "rate:user-2:100")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestClient_Health(t *testing.T) {
	client, mr := setupTestStore(t)
	assert.NoError(t, client.Health())

	mr.Close()
	assert.Error(t, client.Health())
}
