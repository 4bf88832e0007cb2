// Package filecache stores finished downloads by name on a go-billy
// filesystem. It is the synchronous key/path store the transfer manager
// checks before starting a download.
package filecache

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
)

// Store is the file cache consumed by the transfer manager.
type Store interface {
	Exists(name string) bool
	// Move relocates the file at the OS path src into the cache under name
	// and returns the cached path.
	Move(src, name string) (string, error)
	Delete(name string) error
	Size(name string) (int64, error)
	Read(name string) ([]byte, error)
	Path(name string) string
	Dir() string
	Clear() error
}

// Cache is a [Store] backed by a go-billy filesystem.
type Cache struct {
	fs     billy.Filesystem
	root   string
	rename bool
}

// NewOS returns a cache rooted at dir on the OS filesystem, creating it if
// needed. Moves use a rename when src lives on the same volume.
func NewOS(dir string) (*Cache, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("filecache: resolving %q: %w", dir, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("filecache: mkdirall %q: %w", abs, err)
	}

	return &Cache{
		fs:     osfs.New(abs),
		root:   abs,
		rename: true,
	}, nil
}

// NewInMemory returns a cache whose files live in memory.
func NewInMemory() *Cache {
	return New(memfs.New())
}

// New wraps fs. Moves copy the source file into fs.
func New(fs billy.Filesystem) *Cache {
	return &Cache{
		fs:   fs,
		root: fs.Root(),
	}
}

// Raw returns the underlying go-billy filesystem.
//
//nolint:ireturn // exposes the adapter target.
func (c *Cache) Raw() billy.Filesystem {
	return c.fs
}

func (c *Cache) Dir() string { return c.root }

func (c *Cache) Path(name string) string {
	return filepath.Join(c.root, name)
}

func (c *Cache) Exists(name string) bool {
	_, err := c.fs.Stat(name)
	return err == nil
}

func (c *Cache) Size(name string) (int64, error) {
	info, err := c.fs.Stat(name)
	if err != nil {
		return 0, fmt.Errorf("filecache: stat %q: %w", name, err)
	}
	return info.Size(), nil
}

func (c *Cache) Read(name string) ([]byte, error) {
	b, err := util.ReadFile(c.fs, name)
	if err != nil {
		return nil, fmt.Errorf("filecache: readfile %q: %w", name, err)
	}
	return b, nil
}

func (c *Cache) Delete(name string) error {
	if err := c.fs.Remove(name); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("filecache: remove %q: %w", name, err)
	}
	return nil
}

func (c *Cache) Move(src, name string) (string, error) {
	if c.rename {
		if err := os.Rename(src, c.Path(name)); err == nil {
			return c.Path(name), nil
		}
	}

	if err := c.copyIn(src, name); err != nil {
		return "", err
	}
	if err := os.Remove(src); err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("filecache: removing source %q: %w", src, err)
	}

	return c.Path(name), nil
}

func (c *Cache) copyIn(src, name string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("filecache: open %q: %w", src, err)
	}
	defer in.Close()

	tmp, err := util.TempFile(c.fs, ".", ".xfer-move-")
	if err != nil {
		return fmt.Errorf("filecache: tempfile: %w", err)
	}

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		c.fs.Remove(tmp.Name())
		return fmt.Errorf("filecache: copy %q: %w", src, err)
	}
	if err := tmp.Close(); err != nil {
		c.fs.Remove(tmp.Name())
		return fmt.Errorf("filecache: close %q: %w", tmp.Name(), err)
	}

	if err := c.fs.Rename(tmp.Name(), name); err != nil {
		c.fs.Remove(tmp.Name())
		return fmt.Errorf("filecache: rename %q: %w", name, err)
	}
	return nil
}

// Clear removes every cached file, leaving an empty cache behind.
func (c *Cache) Clear() error {
	entries, err := c.fs.ReadDir("/")
	if err != nil {
		return fmt.Errorf("filecache: readdir: %w", err)
	}

	var errs []error
	for _, e := range entries {
		if err := util.RemoveAll(c.fs, e.Name()); err != nil {
			errs = append(errs, fmt.Errorf("filecache: removeall %q: %w", e.Name(), err))
		}
	}
	return errors.Join(errs...)
}
