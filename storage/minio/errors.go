package minio

import (
	"github.com/minio/minio-go/v7"

	"github.com/pure-golang/bulkmail/storage"
)

// toStorageError classifies a minio error by its S3 error code.
func toStorageError(err error, key string) error {
	if err == nil {
		return nil
	}

	code := storage.CodeInternalError
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NotFound":
		code = storage.CodeNotFound
	case "NoSuchBucket":
		code = storage.CodeBucketNotFound
	case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch":
		code = storage.CodeAccessDenied
	}

	return &storage.StorageError{Code: code, Key: key, Err: err}
}
