package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Local stores media below a directory on the local filesystem.
type Local struct {
	root string
}

// NewLocal creates the root directory if needed.
func NewLocal(root string) (*Local, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve media root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create media root: %w", err)
	}
	return &Local{root: abs}, nil
}

// Root returns the absolute root directory.
func (l *Local) Root() string { return l.root }

func (l *Local) resolve(p string) (string, error) {
	if hasTraversal(p) {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, p)
	}
	abs := filepath.Join(l.root, filepath.FromSlash(strings.TrimLeft(p, "/")))
	rel, err := filepath.Rel(l.root, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, p)
	}
	return abs, nil
}

func (l *Local) Exists(_ context.Context, p string) (bool, error) {
	abs, err := l.resolve(p)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(abs)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return info.Mode().IsRegular(), nil
}

func (l *Local) Write(_ context.Context, p string, r io.Reader) (int64, error) {
	abs, err := l.resolve(p)
	if err != nil {
		return 0, err
	}
	return writeAtomic(abs, r, false)
}

func (l *Local) Create(_ context.Context, p string, r io.Reader) (int64, error) {
	abs, err := l.resolve(p)
	if err != nil {
		return 0, err
	}
	n, err := writeAtomic(abs, r, true)
	if errors.Is(err, fs.ErrExist) {
		return 0, fmt.Errorf("%w: %s", ErrExist, p)
	}
	return n, err
}

// Open returns a regular file. Directories are reported as ErrNotExist.
func (l *Local) Open(_ context.Context, p string) (io.ReadCloser, error) {
	abs, err := l.resolve(p)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(abs)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotExist, p)
	}
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if !info.Mode().IsRegular() {
		f.Close()
		return nil, fmt.Errorf("%w: %s", ErrNotExist, p)
	}
	return f, nil
}

func (l *Local) Rename(_ context.Context, from, to string) error {
	src, err := l.resolve(from)
	if err != nil {
		return err
	}
	dst, err := l.resolve(to)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	// link then unlink so an existing target is never replaced
	if err := os.Link(src, dst); err != nil {
		switch {
		case errors.Is(err, fs.ErrExist):
			return fmt.Errorf("%w: %s", ErrExist, to)
		case errors.Is(err, fs.ErrNotExist):
			return fmt.Errorf("%w: %s", ErrNotExist, from)
		}
		return err
	}
	return os.Remove(src)
}

func (l *Local) Copy(_ context.Context, from, to string) error {
	src, err := l.resolve(from)
	if err != nil {
		return err
	}
	dst, err := l.resolve(to)
	if err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotExist, from)
		}
		return err
	}
	defer in.Close()
	_, err = writeAtomic(dst, in, false)
	return err
}

func (l *Local) Delete(_ context.Context, p string) error {
	abs, err := l.resolve(p)
	if err != nil {
		return err
	}
	if err := os.Remove(abs); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (l *Local) AbsolutePath(p string) string {
	return filepath.Join(l.root, filepath.FromSlash(strings.TrimLeft(p, "/")))
}

// writeAtomic writes into a temp file next to dst and moves it into place, so readers
// never observe a partially written file. With exclusive set an existing dst is kept
// and fs.ErrExist returned.
func writeAtomic(dst string, r io.Reader, exclusive bool) (int64, error) {
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, err
	}
	tmp, err := os.CreateTemp(dir, ".part-*")
	if err != nil {
		return 0, err
	}
	written, err := io.Copy(tmp, r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Chmod(tmp.Name(), 0o644)
	}
	if err == nil {
		if exclusive {
			err = os.Link(tmp.Name(), dst)
		} else {
			err = os.Rename(tmp.Name(), dst)
		}
	}
	if exclusive || err != nil {
		_ = os.Remove(tmp.Name())
	}
	if err != nil {
		return 0, err
	}
	return written, nil
}
