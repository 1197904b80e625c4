package uploads

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
)

// MemoryArchive keeps uploads in process memory. It serves single-process
// deployments where no bucket is configured.
type MemoryArchive struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// NewMemoryArchive creates an empty MemoryArchive.
func NewMemoryArchive() *MemoryArchive {
	return &MemoryArchive{objects: make(map[string][]byte)}
}

// Put implements Archive.
func (a *MemoryArchive) Put(ctx context.Context, object string, r io.Reader, contentType string) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read upload: %w", err)
	}
	uri := "mem://local/" + object

	a.mu.Lock()
	a.objects[uri] = data
	a.mu.Unlock()
	return uri, nil
}

// Open implements Archive.
func (a *MemoryArchive) Open(ctx context.Context, uri string) (io.ReadCloser, error) {
	a.mu.RLock()
	data, ok := a.objects[uri]
	a.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("object not found: %s", uri)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

var _ Archive = (*MemoryArchive)(nil)
