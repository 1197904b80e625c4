package uploads

import (
	"context"
	"fmt"
	"io"
	"time"

	"cloud.google.com/go/storage"
)

const uploadTimeout = 2 * time.Minute

// GCSArchive is an Archive on a Google Cloud Storage bucket. It assumes
// Application Default Credentials are configured.
type GCSArchive struct {
	client *storage.Client
	bucket string
}

// NewGCSArchive creates a storage client for bucket.
func NewGCSArchive(ctx context.Context, bucket string) (*GCSArchive, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &GCSArchive{client: client, bucket: bucket}, nil
}

// Put implements Archive.
func (a *GCSArchive) Put(ctx context.Context, object string, r io.Reader, contentType string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	w := a.client.Bucket(a.bucket).Object(object).NewWriter(ctx)
	w.ContentType = contentType

	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("copy upload to GCS writer: %w", err)
	}
	// Close finalizes the upload
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalize upload: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", a.bucket, object), nil
}

// Open implements Archive.
func (a *GCSArchive) Open(ctx context.Context, uri string) (io.ReadCloser, error) {
	scheme, bucket, object, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}
	if scheme != "gs" {
		return nil, fmt.Errorf("invalid GCS URI: %s", uri)
	}
	rc, err := a.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading object %s/%s: %w", bucket, object, err)
	}
	return rc, nil
}

// Close releases the storage client.
func (a *GCSArchive) Close() error {
	return a.client.Close()
}

var _ Archive = (*GCSArchive)(nil)
