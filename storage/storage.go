// Package storage keeps campaign attachments and archived dispatch reports in object storage.
package storage

import (
	"context"
	"io"
	"time"
)

// Key prefixes.
const (
	AttachmentsPrefix = "attachments/"
	ReportsPrefix     = "reports/"
)

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
	ETag         string
	ContentType  string
	Metadata     map[string]string
}

// PutOptions contains optional parameters of Put.
type PutOptions struct {
	ContentType string
	Metadata    map[string]string
}

// Storage is a bucket of objects.
type Storage interface {
	// Put stores an object. size may be -1 when unknown.
	Put(ctx context.Context, key string, reader io.Reader, size int64, opts *PutOptions) error
	// Get opens an object. The caller closes the reader.
	Get(ctx context.Context, key string) (io.ReadCloser, *ObjectInfo, error)
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
	// List returns objects under prefix, recursively.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
	io.Closer
}
