//go:build integration
// +build integration

package dedup

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupRedis(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	container, err := tcredis.Run(ctx,
		"redis:7-alpine",
		testcontainers.WithWaitStrategy(
			wait.ForLog("Ready to accept connections").
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate container: %v", err)
		}
	})

	url, err := container.ConnectionString(ctx)
	require.NoError(t, err)
	return url
}

func TestRedisStore_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	client, err := NewRedisClient(setupRedis(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	store := NewRedisStore(client, "vidstab:dedup:")

	exists, err := store.Exists(ctx, "1_a")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, store.Put(ctx, "1_a"))

	exists, err = store.Exists(ctx, "1_a")
	require.NoError(t, err)
	assert.True(t, exists)

	val, err := client.Get(ctx, "vidstab:dedup:1_a").Result()
	require.NoError(t, err)
	assert.Equal(t, Marker, val)

	ttl, err := client.TTL(ctx, "vidstab:dedup:1_a").Result()
	require.NoError(t, err)
	assert.Equal(t, time.Duration(-1), ttl, "markers never expire")

	created, err := store.PutIfAbsent(ctx, "2_b")
	require.NoError(t, err)
	assert.True(t, created)

	created, err = store.PutIfAbsent(ctx, "2_b")
	require.NoError(t, err)
	assert.False(t, created)
}

func TestNewRedisClient_InvalidURL(t *testing.T) {
	_, err := NewRedisClient("not-a-url")
	assert.Error(t, err)
}
