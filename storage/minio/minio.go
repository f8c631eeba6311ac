// Package minio implements storage.Storage for S3-compatible object stores.
package minio

import (
	"time"
)

// Config is the S3 connection configuration.
type Config struct {
	Endpoint  string        `envconfig:"S3_ENDPOINT" default:"localhost:9000"`
	AccessKey string        `envconfig:"S3_ACCESS_KEY"`
	SecretKey string        `envconfig:"S3_SECRET_KEY"`
	Region    string        `envconfig:"S3_REGION" default:"us-east-1"`
	Bucket    string        `envconfig:"S3_BUCKET" default:"bulkmail"`
	Secure    bool          `envconfig:"S3_SECURE" default:"false"`
	Timeout   time.Duration `envconfig:"S3_TIMEOUT" default:"30s"`
	// CreateBucket creates Bucket on startup when it does not exist.
	CreateBucket bool `envconfig:"S3_CREATE_BUCKET" default:"true"`
}

// Enabled reports whether credentials are configured.
func (c Config) Enabled() bool {
	return c.AccessKey != "" && c.SecretKey != ""
}
