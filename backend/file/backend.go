// Package file provides a local filesystem checkpoint backend.
//
// Writes go to a temporary file in the target directory that is renamed
// over the target on Close, so a crash mid-write leaves the previous
// checkpoint intact.
package file

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/grokify/drivemover"
)

func init() {
	drivemover.Register("file", NewFromConfig)
}

// Config holds configuration for the file backend.
type Config struct {
	// Root is the directory holding all objects.
	Root string

	// DirPermissions is the permission mode for created directories.
	// Default: 0700
	DirPermissions os.FileMode

	// FilePermissions is the permission mode for created files.
	// Default: 0600
	FilePermissions os.FileMode

	// Sync flushes each file to stable storage before it is renamed into place.
	// Default: true
	Sync bool
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Root:            ".",
		DirPermissions:  0700,
		FilePermissions: 0600,
		Sync:            true,
	}
}

// Backend implements drivemover.Backend on a local directory.
type Backend struct {
	config Config
	closed bool
	mu     sync.RWMutex
}

// New creates a new file backend with the given configuration.
func New(config Config) *Backend {
	if config.Root == "" {
		config.Root = "."
	}
	if config.DirPermissions == 0 {
		config.DirPermissions = 0700
	}
	if config.FilePermissions == 0 {
		config.FilePermissions = 0600
	}
	return &Backend{config: config}
}

// NewFromConfig creates a new file backend from a config map.
// Supported keys:
//   - root: root directory (default: ".")
//   - sync: "true" or "false" (default: "true")
//   - file_mode: octal permission bits for files (default: "0600")
func NewFromConfig(configMap map[string]string) (drivemover.Backend, error) {
	config := DefaultConfig()

	if root := configMap["root"]; root != "" {
		config.Root = root
	}
	if v, ok := configMap["sync"]; ok {
		config.Sync = v != "false"
	}
	if v := configMap["file_mode"]; v != "" {
		mode, err := strconv.ParseUint(v, 8, 32)
		if err != nil {
			return nil, fmt.Errorf("file: invalid file_mode %q: %w", v, err)
		}
		config.FilePermissions = os.FileMode(mode)
	}

	return New(config), nil
}

// NewWriter creates a writer for the given path. The object replaces any
// existing one atomically when the writer is closed.
func (b *Backend) NewWriter(ctx context.Context, path string, _ ...drivemover.WriterOption) (io.WriteCloser, error) {
	if err := b.begin(ctx, path); err != nil {
		return nil, err
	}

	fullPath := b.fullPath(path)
	dir := filepath.Dir(fullPath)
	if err := os.MkdirAll(dir, b.config.DirPermissions); err != nil {
		return nil, fmt.Errorf("creating directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(fullPath)+".*.tmp")
	if err != nil {
		return nil, fmt.Errorf("creating file %s: %w", path, err)
	}
	if err := tmp.Chmod(b.config.FilePermissions); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return nil, fmt.Errorf("setting mode of %s: %w", path, err)
	}

	return &atomicWriter{f: tmp, target: fullPath, sync: b.config.Sync}, nil
}

// NewReader creates a reader for the given path.
func (b *Backend) NewReader(ctx context.Context, path string) (io.ReadCloser, error) {
	if err := b.begin(ctx, path); err != nil {
		return nil, err
	}

	f, err := os.Open(b.fullPath(path))
	if err != nil {
		return nil, translateError(path, err)
	}
	return f, nil
}

// Exists checks if a path exists.
func (b *Backend) Exists(ctx context.Context, path string) (bool, error) {
	if err := b.begin(ctx, path); err != nil {
		return false, err
	}

	_, err := os.Stat(b.fullPath(path))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("checking existence of %s: %w", path, err)
}

// Delete removes a path. Deleting a missing path is not an error.
func (b *Backend) Delete(ctx context.Context, path string) error {
	if err := b.begin(ctx, path); err != nil {
		return err
	}

	err := os.Remove(b.fullPath(path))
	if err == nil || os.IsNotExist(err) {
		return nil
	}
	return translateError(path, err)
}

// List lists paths under prefix, relative to the root and "/"-separated.
// Temporary files of writers in progress are skipped.
func (b *Backend) List(ctx context.Context, prefix string) ([]string, error) {
	if err := b.checkClosed(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	root := b.config.Root
	if prefix != "" {
		root = b.fullPath(prefix)
	}

	paths := []string{}
	err := filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			if os.IsPermission(err) {
				return nil
			}
			return err
		}
		if d.IsDir() || strings.HasSuffix(d.Name(), ".tmp") {
			return nil
		}
		rel, err := filepath.Rel(b.config.Root, p)
		if err != nil {
			return err
		}
		paths = append(paths, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("listing %s: %w", prefix, err)
	}
	return paths, nil
}

// Close marks the backend closed.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// Root returns the root directory.
func (b *Backend) Root() string {
	return b.config.Root
}

func (b *Backend) begin(ctx context.Context, path string) error {
	if err := b.checkClosed(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return validatePath(path)
}

func (b *Backend) fullPath(path string) string {
	return filepath.Join(b.config.Root, filepath.FromSlash(path))
}

func (b *Backend) checkClosed() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return drivemover.ErrBackendClosed
	}
	return nil
}

// validatePath rejects empty paths and paths escaping the root.
func validatePath(path string) error {
	if path == "" {
		return drivemover.ErrInvalidPath
	}
	cleaned := filepath.ToSlash(filepath.Clean(path))
	if strings.HasPrefix(cleaned, "..") || strings.Contains(cleaned, "/../") {
		return drivemover.ErrInvalidPath
	}
	return nil
}

func translateError(path string, err error) error {
	switch {
	case os.IsNotExist(err):
		return drivemover.ErrNotFound
	case os.IsPermission(err):
		return drivemover.ErrPermissionDenied
	}
	return fmt.Errorf("file %s: %w", path, err)
}

// atomicWriter writes to a temporary file and renames it over target on Close.
type atomicWriter struct {
	f      *os.File
	target string
	sync   bool
	closed bool
	mu     sync.Mutex
}

func (w *atomicWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return 0, drivemover.ErrWriterClosed
	}
	return w.f.Write(p)
}

func (w *atomicWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true

	tmp := w.f.Name()
	if w.sync {
		if err := w.f.Sync(); err != nil {
			_ = w.f.Close()
			_ = os.Remove(tmp)
			return fmt.Errorf("syncing %s: %w", w.target, err)
		}
	}
	if err := w.f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("closing %s: %w", w.target, err)
	}
	if err := os.Rename(tmp, w.target); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("renaming into %s: %w", w.target, err)
	}
	return nil
}

var _ drivemover.Backend = (*Backend)(nil)
