// Package sink provides destinations for recovered files: a go-billy
// filesystem (local directory or in memory) and an S3-compatible bucket.
package sink

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/osfs"

	"github.com/deploymenttheory/go-recovery/internal/interfaces"
	"github.com/deploymenttheory/go-recovery/internal/types"
)

// FilesystemSink writes recovered files below the root of a billy filesystem
type FilesystemSink struct {
	fs   billy.Filesystem
	root string
	// freeSpace reports the bytes available for new files; nil means unknown
	freeSpace func() (uint64, error)
}

// NewFilesystemSink wraps fs. root is only used to build locations.
func NewFilesystemSink(fs billy.Filesystem, root string) *FilesystemSink {
	return &FilesystemSink{fs: fs, root: root}
}

// NewDirectorySink writes into dir on the local disk, creating it if needed
func NewDirectorySink(dir string) (*FilesystemSink, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", dir, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create destination %s: %w", abs, err)
	}
	s := NewFilesystemSink(osfs.New(abs), abs)
	s.freeSpace = func() (uint64, error) { return freeSpace(abs) }
	return s, nil
}

// NewMemorySink keeps recovered files in memory
func NewMemorySink() *FilesystemSink {
	return NewFilesystemSink(memfs.New(), "memory:/")
}

// Filesystem returns the underlying filesystem
func (s *FilesystemSink) Filesystem() billy.Filesystem {
	return s.fs
}

// Create opens a new file. Parent directories are created as needed.
func (s *FilesystemSink) Create(name string, sizeHint uint64) (interfaces.WritableHandle, error) {
	name = normalize(name)
	if _, err := s.fs.Stat(name); err == nil {
		return nil, fmt.Errorf("%w: %s", types.ErrNameCollision, name)
	}
	if s.freeSpace != nil {
		free, err := s.freeSpace()
		if err == nil && sizeHint > free {
			return nil, fmt.Errorf("%w: %s needs %d bytes, %d available", types.ErrQuotaExceeded, name, sizeHint, free)
		}
	}
	if dir := path.Dir(name); dir != "." {
		if err := s.fs.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("%w: %v", types.ErrDestinationIO, err)
		}
	}

	f, err := s.fs.OpenFile(name, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("%w: %s", types.ErrNameCollision, name)
		}
		return nil, fmt.Errorf("%w: %v", types.ErrDestinationIO, err)
	}
	return &fileHandle{file: f}, nil
}

// Remove deletes name
func (s *FilesystemSink) Remove(name string) error {
	name = normalize(name)
	if err := s.fs.Remove(name); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: remove %s: %v", types.ErrDestinationIO, name, err)
	}
	return nil
}

// Location returns the path of name inside the destination
func (s *FilesystemSink) Location(name string) string {
	name = normalize(name)
	if strings.HasSuffix(s.root, ":/") {
		return s.root + name
	}
	return filepath.Join(s.root, filepath.FromSlash(name))
}

type fileHandle struct {
	file billy.File
}

func (h *fileHandle) Append(data []byte) error {
	if _, err := h.file.Write(data); err != nil {
		return fmt.Errorf("%w: %s: %v", types.ErrDestinationIO, h.file.Name(), err)
	}
	return nil
}

func (h *fileHandle) Close() error {
	if err := h.file.Close(); err != nil {
		return fmt.Errorf("%w: %s: %v", types.ErrDestinationIO, h.file.Name(), err)
	}
	return nil
}

// normalize converts a destination name to a clean relative slash path
func normalize(name string) string {
	name = path.Clean("/" + filepath.ToSlash(name))
	return strings.TrimPrefix(name, "/")
}
