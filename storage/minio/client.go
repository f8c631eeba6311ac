package minio

import (
	"context"
	"log/slog"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/pkg/errors"

	"github.com/pure-golang/bulkmail/logger"
)

// Connect creates a minio client, checks the bucket and creates it when allowed.
func Connect(ctx context.Context, cfg Config) (*Storage, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Region: cfg.Region,
		Secure: cfg.Secure,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create S3 client")
	}

	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	log := logger.FromContext(ctx).WithGroup("s3")
	if err := ensureBucket(ctx, client, cfg, log); err != nil {
		return nil, err
	}

	log.Info("S3 storage initialized", "endpoint", cfg.Endpoint, "bucket", cfg.Bucket)
	return &Storage{client: client, bucket: cfg.Bucket}, nil
}

func ensureBucket(ctx context.Context, client *minio.Client, cfg Config, log *slog.Logger) error {
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return errors.Wrap(toStorageError(err, ""), "failed to connect to S3 storage")
	}
	if exists {
		return nil
	}
	if !cfg.CreateBucket {
		return errors.Errorf("bucket %q does not exist", cfg.Bucket)
	}

	if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
		return errors.Wrapf(err, "failed to create bucket %q", cfg.Bucket)
	}
	log.Info("bucket created", "bucket", cfg.Bucket)
	return nil
}
