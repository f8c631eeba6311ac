//go:build integration

package redis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startRedis(t *testing.T) *Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	require.NoError(t, err, "failed to start container")
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	client, err := Connect(ctx, Config{Addr: fmt.Sprintf("%s:%s", host, port.Port())})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestClient_Integration(t *testing.T) {
	client := startRedis(t)
	ctx := context.Background()

	_, err := client.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrKeyNotFound)

	ok, err := client.SetNX(ctx, "bulkmail:lock:test", "run-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = client.SetNX(ctx, "bulkmail:lock:test", "run-2", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	val, err := client.Get(ctx, "bulkmail:lock:test")
	require.NoError(t, err)
	assert.Equal(t, "run-1", val)

	require.NoError(t, client.HSet(ctx, "bulkmail:progress:c1", map[string]string{"sent": "1", "total": "2"}))
	require.NoError(t, client.Expire(ctx, "bulkmail:progress:c1", time.Hour))
	all, err := client.HGetAll(ctx, "bulkmail:progress:c1")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"sent": "1", "total": "2"}, all)

	require.NoError(t, client.Delete(ctx, "bulkmail:lock:test", "bulkmail:progress:c1"))
	_, err = client.Get(ctx, "bulkmail:lock:test")
	assert.ErrorIs(t, err, ErrKeyNotFound)
}
