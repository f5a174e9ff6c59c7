// Package memory stores blobs in-memory for tests and dry runs.
package memory

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/JakeFAU/license-resolver/internal/storage"
)

// BlobStore stores objects in-memory and returns pseudo URIs.
type BlobStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewBlobStore creates a new in-memory blob store.
func NewBlobStore() *BlobStore {
	return &BlobStore{data: make(map[string][]byte)}
}

// Create persists a copy of the content.
func (s *BlobStore) Create(_ context.Context, path string, _ string, r io.Reader) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("path is required")
	}
	byteData, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("failed to read data from reader: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[path]; ok {
		return "", fmt.Errorf("create %s: %w", path, storage.ErrObjectExists)
	}
	s.data[path] = byteData
	return "memory://" + path, nil
}

// Get returns a copy of the stored object.
func (s *BlobStore) Get(_ context.Context, path string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.data[path]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", path, storage.ErrObjectNotFound)
	}
	return append([]byte(nil), data...), nil
}

// List returns stored paths under prefix.
func (s *BlobStore) List(_ context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.data))
	for path := range s.data {
		if strings.HasPrefix(path, prefix) {
			out = append(out, path)
		}
	}
	sort.Strings(out)
	return out, nil
}

var _ storage.BlobStore = (*BlobStore)(nil)
