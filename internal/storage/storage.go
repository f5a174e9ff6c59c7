// Package storage defines the create-only blob store that holds run reports,
// with local directory, in-memory and Google Cloud Storage implementations in
// its subpackages.
package storage

import (
	"context"
	"errors"
	"io"
)

var (
	// ErrObjectExists is returned when a create would overwrite an object.
	ErrObjectExists = errors.New("object already exists")
	// ErrObjectNotFound is returned when a read targets a missing object.
	ErrObjectNotFound = errors.New("object not found")
)

// BlobStore persists immutable objects. Create never overwrites.
type BlobStore interface {
	// Create writes a new object and returns its URI, or ErrObjectExists.
	Create(ctx context.Context, path, contentType string, r io.Reader) (string, error)
	// Get returns the object's content, or ErrObjectNotFound.
	Get(ctx context.Context, path string) ([]byte, error)
	// List returns the object paths under prefix in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)
}
