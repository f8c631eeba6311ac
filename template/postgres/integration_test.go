//go:build integration

package postgres

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	dbsqlx "github.com/pure-golang/bulkmail/db/pg/sqlx"
	"github.com/pure-golang/bulkmail/template"
)

func startPostgres(t *testing.T) *dbsqlx.Connection {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "bulkmail",
				"POSTGRES_PASSWORD": "secret",
				"POSTGRES_DB":       "bulkmail",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).WithStartupTimeout(time.Minute),
		},
		Started: true,
	})
	require.NoError(t, err, "failed to start container")
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)
	p, err := strconv.Atoi(port.Port())
	require.NoError(t, err)

	conn, err := dbsqlx.Connect(ctx, dbsqlx.Config{
		Host:         host,
		Port:         p,
		User:         "bulkmail",
		Password:     "secret",
		Database:     "bulkmail",
		QueryTimeout: 5 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestRepository_Integration(t *testing.T) {
	conn := startPostgres(t)
	ctx := context.Background()

	repo := NewRepository(conn)
	require.NoError(t, repo.Migrate(ctx))

	n, err := repo.SeedDefaults(ctx)
	require.NoError(t, err)
	defaults, err := template.Defaults()
	require.NoError(t, err)
	assert.Equal(t, len(defaults), n)

	n, err = repo.SeedDefaults(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "seeding a populated table is a no-op")

	created, err := repo.Create(ctx, template.Template{
		Name:    "welcome",
		Subject: "Welcome {name}",
		HTML:    "<p>Hi {name}, your code is {code}</p>",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, []string{"code", "name"}, created.Variables)

	_, err = repo.Create(ctx, template.Template{Name: "welcome", HTML: "<p>x</p>"})
	assert.ErrorIs(t, err, template.ErrAlreadyExists)

	got, err := repo.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Welcome {name}", got.Subject)
	assert.Equal(t, created.Variables, got.Variables)

	got.HTML = "<p>Bye {name}</p>"
	updated, err := repo.Update(ctx, got)
	require.NoError(t, err)
	assert.Equal(t, []string{"name"}, updated.Variables)
	assert.False(t, updated.UpdatedAt.Before(created.UpdatedAt))

	list, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, len(defaults)+1)

	require.NoError(t, repo.Delete(ctx, created.ID))
	assert.ErrorIs(t, repo.Delete(ctx, created.ID), template.ErrNotFound)
	_, err = repo.Get(ctx, created.ID)
	assert.ErrorIs(t, err, template.ErrNotFound)

	_, err = repo.Update(ctx, template.Template{ID: "missing", Name: "x", HTML: "y"})
	assert.ErrorIs(t, err, template.ErrNotFound)
}
