// Package uploads archives raw upload payloads so background jobs can fetch
// them after the request that received them has finished.
package uploads

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"
)

// Archive stores and retrieves raw uploads by URI.
type Archive interface {
	// Put stores r under object and returns its URI.
	Put(ctx context.Context, object string, r io.Reader, contentType string) (string, error)

	// Open returns a reader for a URI previously returned by Put.
	Open(ctx context.Context, uri string) (io.ReadCloser, error)
}

// ObjectName builds the archive path for an upload:
// <prefix>/<principal>/<yyyy>/<mm>/<dd>/<id>-<file name>.
func ObjectName(prefix, principal, id, fileName string, now time.Time) string {
	name := path.Base(strings.ReplaceAll(fileName, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		name = "upload"
	}
	parts := []string{principal, now.UTC().Format("2006/01/02"), id + "-" + name}
	if p := strings.Trim(prefix, "/"); p != "" {
		parts = append([]string{p}, parts...)
	}
	return strings.Join(parts, "/")
}

// ParseURI splits scheme://bucket/object into its parts.
func ParseURI(uri string) (scheme, bucket, object string, err error) {
	scheme, rest, ok := strings.Cut(uri, "://")
	if !ok || scheme == "" {
		return "", "", "", fmt.Errorf("invalid archive URI: %s", uri)
	}
	bucket, object, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || object == "" {
		return "", "", "", fmt.Errorf("invalid archive URI (no object path): %s", uri)
	}
	return scheme, bucket, object, nil
}

// FileName extracts the file name from an archive URI,
// e.g. "gs://bucket/uploads/7/2025/01/02/id-file.csv" → "id-file.csv".
func FileName(uri string) string {
	_, _, object, err := ParseURI(uri)
	if err != nil {
		return path.Base(uri)
	}
	return path.Base(object)
}
