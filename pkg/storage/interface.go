package storage

import (
	"context"
	"io"
	"time"
)

// Storage stores attachment blobs. Keys are slash-separated paths.
type Storage interface {
	// Write stores the reader's content under key. size is the expected
	// content length, -1 when unknown.
	Write(ctx context.Context, key string, r io.Reader, size int64, contentType string) error

	// Read opens the content stored under key. The caller closes the
	// returned reader.
	Read(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes the content under key. Deleting a missing key is not
	// an error.
	Delete(ctx context.Context, key string) error

	// Exists reports whether content is stored under key.
	Exists(ctx context.Context, key string) (bool, error)

	// GetURL returns a URL clients can fetch the content from: a presigned
	// URL for S3, a server-relative path for local storage.
	GetURL(ctx context.Context, key string, expires time.Duration) (string, error)
}
