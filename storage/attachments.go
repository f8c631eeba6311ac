package storage

import (
	"context"
	"io"
	"path"

	"github.com/pkg/errors"

	"github.com/pure-golang/bulkmail/logger"
	"github.com/pure-golang/bulkmail/mail"
)

// DefaultMaxAttachmentSize bounds a single attachment.
const DefaultMaxAttachmentSize = 25 << 20

// Attachments loads mail attachments from a Storage.
type Attachments struct {
	store   Storage
	maxSize int64
}

// AttachmentsOptions configures Attachments.
type AttachmentsOptions struct {
	// MaxSize defaults to DefaultMaxAttachmentSize.
	MaxSize int64
}

// NewAttachments creates an attachment loader.
func NewAttachments(store Storage, options *AttachmentsOptions) *Attachments {
	a := &Attachments{store: store, maxSize: DefaultMaxAttachmentSize}
	if options != nil && options.MaxSize > 0 {
		a.maxSize = options.MaxSize
	}
	return a
}

// Load reads the objects under AttachmentsPrefix named by keys, in order.
// Missing objects are logged and skipped; any other failure aborts the load.
func (a *Attachments) Load(ctx context.Context, keys ...string) ([]mail.Attachment, error) {
	log := logger.FromContext(ctx).WithGroup("storage")

	out := make([]mail.Attachment, 0, len(keys))
	for _, key := range keys {
		att, err := a.load(ctx, AttachmentsPrefix+key)
		if IsNotFound(err) {
			log.Warn("attachment not found, skipping", "key", key)
			continue
		}
		if err != nil {
			return nil, errors.Wrapf(err, "failed to load attachment %q", key)
		}
		out = append(out, att)
	}
	return out, nil
}

func (a *Attachments) load(ctx context.Context, key string) (mail.Attachment, error) {
	r, info, err := a.store.Get(ctx, key)
	if err != nil {
		return mail.Attachment{}, err
	}
	defer func() { _ = r.Close() }()

	if info.Size > a.maxSize {
		return mail.Attachment{}, errors.Errorf("attachment is %d bytes, limit is %d", info.Size, a.maxSize)
	}

	content, err := io.ReadAll(io.LimitReader(r, a.maxSize+1))
	if err != nil {
		return mail.Attachment{}, errors.Wrap(err, "failed to read object")
	}
	if int64(len(content)) > a.maxSize {
		return mail.Attachment{}, errors.Errorf("attachment exceeds %d bytes", a.maxSize)
	}

	return mail.Attachment{
		Filename:    path.Base(key),
		ContentType: info.ContentType,
		Content:     content,
	}, nil
}
