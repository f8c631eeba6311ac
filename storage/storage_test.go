package storage

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStorage is an in-memory Storage for tests.
type memStorage struct {
	objects map[string][]byte
	types   map[string]string
	getErr  error
}

func newMemStorage() *memStorage {
	return &memStorage{objects: map[string][]byte{}, types: map[string]string{}}
}

func (m *memStorage) Put(_ context.Context, key string, r io.Reader, _ int64, opts *PutOptions) error {
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.objects[key] = b
	if opts != nil {
		m.types[key] = opts.ContentType
	}
	return nil
}

func (m *memStorage) Get(_ context.Context, key string) (io.ReadCloser, *ObjectInfo, error) {
	if m.getErr != nil {
		return nil, nil, m.getErr
	}
	b, ok := m.objects[key]
	if !ok {
		return nil, nil, &StorageError{Code: CodeNotFound, Key: key}
	}
	return io.NopCloser(bytes.NewReader(b)), &ObjectInfo{Key: key, Size: int64(len(b)), ContentType: m.types[key]}, nil
}

func (m *memStorage) Exists(_ context.Context, key string) (bool, error) {
	_, ok := m.objects[key]
	return ok, nil
}

func (m *memStorage) Delete(_ context.Context, key string) error {
	delete(m.objects, key)
	return nil
}

func (m *memStorage) List(_ context.Context, prefix string) ([]ObjectInfo, error) {
	var out []ObjectInfo
	for k, b := range m.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, ObjectInfo{Key: k, Size: int64(len(b))})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *memStorage) Close() error { return nil }

func TestStorageError(t *testing.T) {
	t.Parallel()

	cause := errors.New("404")
	err := errors.Wrap(&StorageError{Code: CodeNotFound, Key: "a", Err: cause}, "get")

	assert.True(t, IsNotFound(err))
	assert.False(t, IsAccessDenied(err))
	assert.False(t, IsBucketNotFound(err))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "get: storage.NotFound (key=a): 404", err.Error())
	assert.Equal(t, "storage.AccessDenied (key=b)", (&StorageError{Code: CodeAccessDenied, Key: "b"}).Error())
	assert.False(t, IsNotFound(cause))
}

func TestAttachments_Load(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newMemStorage()
	require.NoError(t, store.Put(ctx, AttachmentsPrefix+"brochure.pdf", strings.NewReader("pdf"), 3,
		&PutOptions{ContentType: "application/pdf"}))
	require.NoError(t, store.Put(ctx, AttachmentsPrefix+"q3/prices.csv", strings.NewReader("a,b"), 3, nil))

	atts, err := NewAttachments(store, nil).Load(ctx, "brochure.pdf", "missing.txt", "q3/prices.csv")
	require.NoError(t, err)

	require.Len(t, atts, 2)
	assert.Equal(t, "brochure.pdf", atts[0].Filename)
	assert.Equal(t, "application/pdf", atts[0].ContentType)
	assert.Equal(t, []byte("pdf"), atts[0].Content)
	assert.Equal(t, "prices.csv", atts[1].Filename)
}

func TestAttachments_Load_Errors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("too large", func(t *testing.T) {
		t.Parallel()
		store := newMemStorage()
		require.NoError(t, store.Put(ctx, AttachmentsPrefix+"big.bin", strings.NewReader("0123456789"), 10, nil))

		_, err := NewAttachments(store, &AttachmentsOptions{MaxSize: 4}).Load(ctx, "big.bin")
		assert.ErrorContains(t, err, "limit is 4")
	})

	t.Run("backend failure", func(t *testing.T) {
		t.Parallel()
		store := newMemStorage()
		store.getErr = &StorageError{Code: CodeAccessDenied, Key: "x"}

		_, err := NewAttachments(store, nil).Load(ctx, "x")
		require.Error(t, err)
		assert.True(t, IsAccessDenied(err))
	})

	t.Run("no keys", func(t *testing.T) {
		t.Parallel()
		atts, err := NewAttachments(newMemStorage(), nil).Load(ctx)
		require.NoError(t, err)
		assert.Empty(t, atts)
	})
}
