// Package storage holds the primary media storage backends and the database-backed
// mirror and staging ledger that keep several nodes consistent.
package storage

import (
	"context"
	"errors"
	"io"
	"strings"
)

var (
	// ErrNotExist is returned when the requested file is absent.
	ErrNotExist = errors.New("storage: file does not exist")
	// ErrExist is returned by Create and Rename when the target is already taken.
	ErrExist = errors.New("storage: file already exists")
	// ErrOutsideRoot is returned for paths that would escape the storage root.
	ErrOutsideRoot = errors.New("storage: path escapes root")
)

// Storage is primary media storage addressed by forward-slash paths relative to its root.
type Storage interface {
	Exists(ctx context.Context, path string) (bool, error)
	// Write stores r at path, replacing any existing file.
	Write(ctx context.Context, path string, r io.Reader) (int64, error)
	// Create stores r at path and fails with ErrExist if path is taken.
	Create(ctx context.Context, path string, r io.Reader) (int64, error)
	Open(ctx context.Context, path string) (io.ReadCloser, error)
	// Rename relocates a file and fails with ErrExist if to is taken.
	// Local storage does this atomically.
	Rename(ctx context.Context, from, to string) error
	Copy(ctx context.Context, from, to string) error
	// Delete removes a file. Deleting a missing file is not an error.
	Delete(ctx context.Context, path string) error
	AbsolutePath(path string) string
}

func hasTraversal(p string) bool {
	for _, seg := range strings.Split(strings.ReplaceAll(p, "\\", "/"), "/") {
		if seg == ".." {
			return true
		}
	}
	return false
}
