// SPDX-License-Identifier: MIT

package storage

import (
	"context"
	"time"
)

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Path    string
	Size    int64
	ModTime time.Time
}

// Store is the object store port. Implementations surface failures as
// *errdefs.StorageError; callers retry only on the Transient kind.
type Store interface {
	// PutFile uploads a local file to the logical path and returns the
	// bucket-qualified URI.
	PutFile(ctx context.Context, localPath, logicalPath string) (string, error)
	// PutBytes uploads raw bytes with a MIME type.
	PutBytes(ctx context.Context, data []byte, logicalPath, contentType string) (string, error)
	// GetFile downloads the object at logicalPath to localPath.
	GetFile(ctx context.Context, logicalPath, localPath string) error
	// GetBytes downloads the object at logicalPath.
	GetBytes(ctx context.Context, logicalPath string) ([]byte, error)
	// Delete removes the object. Deleting a missing object is an error of
	// kind NotFound.
	Delete(ctx context.Context, logicalPath string) error
	// List returns objects under prefix. When recursive is false only the
	// immediate children are returned.
	List(ctx context.Context, prefix string, recursive bool) ([]ObjectInfo, error)
	// Exists reports whether the object exists.
	Exists(ctx context.Context, logicalPath string) (bool, error)
	// Presign returns a URL granting temporary read access.
	Presign(ctx context.Context, logicalPath string, ttl time.Duration) (string, error)
}
