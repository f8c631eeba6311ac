package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testClock struct{ t time.Time }

func (c *testClock) now() time.Time { return c.t }

func newTestStore() (*Store, *testClock) {
	clock := &testClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	return NewStore(&Options{Now: clock.now}), clock
}

func TestStore_GetSet(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, clock := newTestStore()

	_, err := s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrKeyNotFound)

	require.NoError(t, s.Set(ctx, "k", "v", time.Minute))
	v, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", v)

	clock.t = clock.t.Add(time.Minute)
	_, err = s.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestStore_SetNX(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, clock := newTestStore()

	ok, err := s.SetNX(ctx, "lock", "a", 10*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.SetNX(ctx, "lock", "b", 10*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	clock.t = clock.t.Add(11 * time.Second)
	ok, err = s.SetNX(ctx, "lock", "b", 0)
	require.NoError(t, err)
	assert.True(t, ok)

	v, err := s.Get(ctx, "lock")
	require.NoError(t, err)
	assert.Equal(t, "b", v)
}

func TestStore_Hash(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, clock := newTestStore()

	all, err := s.HGetAll(ctx, "h")
	require.NoError(t, err)
	assert.Empty(t, all)

	require.NoError(t, s.HSet(ctx, "h", map[string]string{"sent": "1", "total": "3"}))
	require.NoError(t, s.HSet(ctx, "h", map[string]string{"sent": "2"}))
	require.NoError(t, s.Expire(ctx, "h", time.Hour))

	all, err = s.HGetAll(ctx, "h")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"sent": "2", "total": "3"}, all)

	all["sent"] = "mutated"
	again, err := s.HGetAll(ctx, "h")
	require.NoError(t, err)
	assert.Equal(t, "2", again["sent"])

	require.NoError(t, s.Set(ctx, "plain", "v", 0))
	assert.Error(t, s.HSet(ctx, "plain", map[string]string{"a": "b"}))

	clock.t = clock.t.Add(time.Hour)
	all, err = s.HGetAll(ctx, "h")
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestStore_DeleteAndClose(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, _ := newTestStore()

	require.NoError(t, s.Set(ctx, "a", "1", 0))
	require.NoError(t, s.Set(ctx, "b", "2", 0))
	require.NoError(t, s.Delete(ctx, "a", "missing"))

	_, err := s.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrKeyNotFound)

	require.NoError(t, s.Ping(ctx))
	require.NoError(t, s.Close())
	_, err = s.Get(ctx, "b")
	assert.ErrorIs(t, err, ErrKeyNotFound)
}
