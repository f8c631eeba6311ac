package minio

import (
	"context"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/pure-golang/bulkmail/storage"
)

var _ storage.Storage = (*Storage)(nil)

var tracer = otel.Tracer("github.com/pure-golang/bulkmail/storage/minio")

// Storage is one bucket of an S3-compatible store.
type Storage struct {
	client *minio.Client
	bucket string
}

func (s *Storage) startSpan(ctx context.Context, op, key string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "S3."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("bucket", s.bucket),
			attribute.String("key", key),
		),
	)
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// Put uploads an object.
func (s *Storage) Put(ctx context.Context, key string, reader io.Reader, size int64, opts *storage.PutOptions) error {
	ctx, span := s.startSpan(ctx, "Put", key)
	defer span.End()

	if opts == nil {
		opts = &storage.PutOptions{}
	}

	info, err := s.client.PutObject(ctx, s.bucket, key, reader, size, minio.PutObjectOptions{
		ContentType:  opts.ContentType,
		UserMetadata: opts.Metadata,
	})
	if err != nil {
		return fail(span, errors.Wrapf(toStorageError(err, key), "failed to put object %q", key))
	}

	span.SetAttributes(attribute.Int64("size", info.Size))
	span.SetStatus(codes.Ok, "")
	return nil
}

// Get opens an object and returns its metadata.
func (s *Storage) Get(ctx context.Context, key string) (io.ReadCloser, *storage.ObjectInfo, error) {
	ctx, span := s.startSpan(ctx, "Get", key)
	defer span.End()

	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, nil, fail(span, toStorageError(err, key))
	}

	// GetObject is lazy; Stat surfaces a missing key.
	stat, err := obj.Stat()
	if err != nil {
		_ = obj.Close()
		return nil, nil, fail(span, toStorageError(err, key))
	}

	span.SetAttributes(attribute.Int64("size", stat.Size))
	span.SetStatus(codes.Ok, "")
	return obj, objectInfo(stat), nil
}

// Exists reports whether key exists.
func (s *Storage) Exists(ctx context.Context, key string) (bool, error) {
	ctx, span := s.startSpan(ctx, "Exists", key)
	defer span.End()

	_, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		serr := toStorageError(err, key)
		if storage.IsNotFound(serr) {
			span.SetStatus(codes.Ok, "")
			return false, nil
		}
		return false, fail(span, serr)
	}

	span.SetStatus(codes.Ok, "")
	return true, nil
}

// Delete removes an object. Removing a missing key is not an error.
func (s *Storage) Delete(ctx context.Context, key string) error {
	ctx, span := s.startSpan(ctx, "Delete", key)
	defer span.End()

	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fail(span, toStorageError(err, key))
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// List returns the objects under prefix, skipping directory markers.
func (s *Storage) List(ctx context.Context, prefix string) ([]storage.ObjectInfo, error) {
	ctx, span := s.startSpan(ctx, "List", prefix)
	defer span.End()

	var objects []storage.ObjectInfo
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, fail(span, errors.Wrap(toStorageError(obj.Err, prefix), "failed to list objects"))
		}
		if strings.HasSuffix(obj.Key, "/") && obj.Size == 0 {
			continue
		}
		objects = append(objects, *objectInfo(obj))
	}

	span.SetAttributes(attribute.Int("object_count", len(objects)))
	span.SetStatus(codes.Ok, "")
	return objects, nil
}

// Close releases nothing: minio clients hold no connections of their own.
func (s *Storage) Close() error {
	return nil
}

func objectInfo(obj minio.ObjectInfo) *storage.ObjectInfo {
	return &storage.ObjectInfo{
		Key:          obj.Key,
		Size:         obj.Size,
		LastModified: obj.LastModified,
		ETag:         obj.ETag,
		ContentType:  obj.ContentType,
		Metadata:     obj.UserMetadata,
	}
}
