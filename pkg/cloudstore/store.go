// Package cloudstore provides unified access to the telemetry data lake.
// One backend is selected at startup from configuration; the processing
// core never branches on provider identity.
package cloudstore

import (
	"context"
	"io"
	"time"
)

// ObjectInfo contains metadata about a stored object.
type ObjectInfo struct {
	Name     string
	Size     int64
	Modified time.Time
}

// Lister is the narrow listing capability the batch planner depends on.
// ListAll must page through listings transparently.
type Lister interface {
	ListAll(ctx context.Context, prefix string) ([]ObjectInfo, error)
}

// ObjectStore provides object storage operations for the data lake.
type ObjectStore interface {
	Lister

	// Download copies an object to a local file path, creating parent
	// directories as needed.
	Download(ctx context.Context, objectPath, localPath string) error

	// Upload copies a local file to an object path.
	Upload(ctx context.Context, localPath, objectPath string) error

	// Get returns a reader for an object.
	Get(ctx context.Context, objectPath string) (io.ReadCloser, error)

	// Put writes an object from a reader.
	Put(ctx context.Context, objectPath string, data io.Reader) error

	// Scheme returns the storage scheme (e.g. "s3", "file", "memory").
	Scheme() string
}
