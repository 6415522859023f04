package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
)

// Root is a directory that cache files are read from and written to.
// All names are slash-separated and relative to the root.
type Root struct {
	fs       billy.Filesystem
	location string
}

// NewOSRoot creates dir if needed and returns a root backed by the local
// filesystem.
func NewOSRoot(dir string) (*Root, error) {
	if dir == "" {
		return nil, fmt.Errorf("storage directory is required")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory %s: %w", dir, err)
	}
	return &Root{fs: osfs.New(dir), location: dir}, nil
}

// NewMemoryRoot returns a root backed by an in-memory filesystem.
func NewMemoryRoot() *Root {
	return &Root{fs: memfs.New(), location: "memory://"}
}

// NewRoot wraps an existing billy filesystem.
func NewRoot(fs billy.Filesystem) *Root {
	return &Root{fs: fs, location: fs.Root()}
}

// Sub returns a root for the directory name below r, creating it.
func (r *Root) Sub(name string) (*Root, error) {
	if err := r.fs.MkdirAll(name, 0755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", name, err)
	}
	sub, err := r.fs.Chroot(name)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", name, err)
	}
	return &Root{fs: sub, location: strings.TrimSuffix(r.location, "/") + "/" + name}, nil
}

// Filesystem exposes the underlying billy filesystem.
func (r *Root) Filesystem() billy.Filesystem { return r.fs }

// String returns a human-readable location for logs.
func (r *Root) String() string { return r.location }

// ReadFile reads the whole named file.
func (r *Root) ReadFile(name string) ([]byte, error) {
	return util.ReadFile(r.fs, name)
}

// Open opens the named file for reading.
func (r *Root) Open(name string) (io.ReadCloser, error) {
	return r.fs.Open(name)
}

// Exists reports whether name exists.
func (r *Root) Exists(name string) bool {
	_, err := r.fs.Stat(name)
	return err == nil
}

// Size returns the size of the named file.
func (r *Root) Size(name string) (int64, error) {
	info, err := r.fs.Stat(name)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// Remove deletes name. A missing file is not an error.
func (r *Root) Remove(name string) error {
	if err := r.fs.Remove(name); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// List returns the names of regular files directly below the root,
// sorted.
func (r *Root) List() ([]string, error) {
	infos, err := r.fs.ReadDir(".")
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		if !info.IsDir() {
			names = append(names, info.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// WriteFileAtomic writes data to a temporary file and renames it to name.
func (r *Root) WriteFileAtomic(name string, data []byte) error {
	tmpPath := name + ".tmp"
	tmpFile, err := r.fs.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}

	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		_ = r.fs.Remove(tmpPath)
		return fmt.Errorf("failed to write temporary file: %w", err)
	}

	if err := tmpFile.Close(); err != nil {
		_ = r.fs.Remove(tmpPath)
		return fmt.Errorf("failed to close temporary file: %w", err)
	}

	if err := r.fs.Rename(tmpPath, name); err != nil {
		_ = r.fs.Remove(tmpPath)
		return fmt.Errorf("failed to rename %s: %w", name, err)
	}

	return nil
}
