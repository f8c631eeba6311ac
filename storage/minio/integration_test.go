//go:build integration

package minio

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/pure-golang/bulkmail/storage"
)

func startMinio(t *testing.T) *Storage {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "minio/minio:latest",
			ExposedPorts: []string{"9000/tcp"},
			Env: map[string]string{
				"MINIO_ROOT_USER":     "minioadmin",
				"MINIO_ROOT_PASSWORD": "minioadmin",
			},
			Cmd:        []string{"server", "/data"},
			WaitingFor: wait.ForHTTP("/minio/health/live").WithPort("9000/tcp").WithStartupTimeout(time.Minute),
		},
		Started: true,
	})
	require.NoError(t, err, "failed to start container")
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "9000")
	require.NoError(t, err)

	s, err := Connect(ctx, Config{
		Endpoint:     fmt.Sprintf("%s:%s", host, port.Port()),
		AccessKey:    "minioadmin",
		SecretKey:    "minioadmin",
		Bucket:       "bulkmail-test",
		CreateBucket: true,
		Timeout:      30 * time.Second,
	})
	require.NoError(t, err)
	return s
}

func TestStorage_Integration(t *testing.T) {
	s := startMinio(t)
	ctx := context.Background()

	content := []byte("%PDF-1.4 brochure")
	key := storage.AttachmentsPrefix + "brochure.pdf"
	require.NoError(t, s.Put(ctx, key, bytes.NewReader(content), int64(len(content)),
		&storage.PutOptions{ContentType: "application/pdf"}))

	exists, err := s.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, exists)

	r, info, err := s.Get(ctx, key)
	require.NoError(t, err)
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	assert.Equal(t, content, got)
	assert.Equal(t, "application/pdf", info.ContentType)

	objects, err := s.List(ctx, storage.AttachmentsPrefix)
	require.NoError(t, err)
	require.Len(t, objects, 1)
	assert.Equal(t, key, objects[0].Key)

	atts, err := storage.NewAttachments(s, nil).Load(ctx, "brochure.pdf", "missing.pdf")
	require.NoError(t, err)
	require.Len(t, atts, 1)
	assert.Equal(t, "brochure.pdf", atts[0].Filename)

	_, _, err = s.Get(ctx, "nope")
	assert.True(t, storage.IsNotFound(err))

	require.NoError(t, s.Delete(ctx, key))
	exists, err = s.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, exists)
}
