package minio

import (
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/pure-golang/bulkmail/storage"
)

func TestToStorageError(t *testing.T) {
	t.Parallel()

	assert.NoError(t, toStorageError(nil, "k"))

	tests := []struct {
		code string
		is   func(error) bool
	}{
		{"NoSuchKey", storage.IsNotFound},
		{"NoSuchBucket", storage.IsBucketNotFound},
		{"AccessDenied", storage.IsAccessDenied},
		{"InvalidAccessKeyId", storage.IsAccessDenied},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			t.Parallel()
			err := toStorageError(minio.ErrorResponse{Code: tt.code, Message: "x"}, "attachments/a.pdf")
			assert.True(t, tt.is(err))
			assert.Contains(t, err.Error(), "attachments/a.pdf")
		})
	}

	err := toStorageError(errors.New("connection reset"), "k")
	var se *storage.StorageError
	assert.True(t, errors.As(err, &se))
	assert.Equal(t, storage.CodeInternalError, se.Code)
}

func TestConfig_Enabled(t *testing.T) {
	t.Parallel()

	assert.False(t, Config{}.Enabled())
	assert.False(t, Config{AccessKey: "a"}.Enabled())
	assert.True(t, Config{AccessKey: "a", SecretKey: "b"}.Enabled())
}
