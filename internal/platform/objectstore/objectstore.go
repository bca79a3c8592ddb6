package objectstore

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned when a key does not exist.
var ErrNotFound = errors.New("object not found")

// ErrNoBucket is returned by providers constructed without a bucket name.
var ErrNoBucket = errors.New("object store bucket not configured")

// Store is the read side of the document object store.
type Store interface {
	// OpenRange reads length bytes from offset. A negative length reads to the end.
	OpenRange(ctx context.Context, key string, offset, length int64) (io.ReadCloser, error)
	Size(ctx context.Context, key string) (int64, error)
}

// Writer uploads objects. Only tooling and tests write; the pipeline never does.
type Writer interface {
	Put(ctx context.Context, key string, r io.Reader, contentType string) error
}

// Deleter removes objects. Deleting a missing key is not an error.
type Deleter interface {
	Delete(ctx context.Context, key string) error
}

type ReadWriter interface {
	Store
	Writer
	Deleter
}
