// Package memory provides an in-memory checkpoint backend.
//
// Checkpoints kept in memory are lost when the process exits, so the
// backend is meant for tests and for one-shot runs that are never resumed.
package memory

import (
	"bytes"
	"context"
	"io"
	"maps"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/grokify/drivemover"
)

func init() {
	drivemover.Register("memory", NewFromConfig)
}

// object is one stored blob.
type object struct {
	data        []byte
	contentType string
	metadata    map[string]string
	modTime     time.Time
}

// Backend implements drivemover.Backend in memory.
type Backend struct {
	objects map[string]*object
	closed  bool
	mu      sync.RWMutex
}

// New creates a new memory backend.
func New() *Backend {
	return &Backend{
		objects: make(map[string]*object),
	}
}

// NewFromConfig creates a new memory backend. The configuration is ignored.
func NewFromConfig(_ map[string]string) (drivemover.Backend, error) {
	return New(), nil
}

// NewWriter creates a writer for the given path. The object becomes visible on Close.
func (b *Backend) NewWriter(ctx context.Context, p string, opts ...drivemover.WriterOption) (io.WriteCloser, error) {
	if err := b.begin(ctx, p); err != nil {
		return nil, err
	}

	config := drivemover.ApplyWriterOptions(opts...)
	return &memoryWriter{
		backend:     b,
		path:        normalizePath(p),
		contentType: config.ContentType,
		metadata:    maps.Clone(config.Metadata),
	}, nil
}

// NewReader creates a reader for the given path.
func (b *Backend) NewReader(ctx context.Context, p string) (io.ReadCloser, error) {
	if err := b.begin(ctx, p); err != nil {
		return nil, err
	}

	b.mu.RLock()
	obj, exists := b.objects[normalizePath(p)]
	var data []byte
	if exists {
		data = append([]byte(nil), obj.data...)
	}
	b.mu.RUnlock()

	if !exists {
		return nil, drivemover.ErrNotFound
	}
	return &memoryReader{reader: bytes.NewReader(data)}, nil
}

// Exists checks if a path exists.
func (b *Backend) Exists(ctx context.Context, p string) (bool, error) {
	if err := b.begin(ctx, p); err != nil {
		return false, err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	_, exists := b.objects[normalizePath(p)]
	return exists, nil
}

// Delete removes a path. Deleting a missing path is not an error.
func (b *Backend) Delete(ctx context.Context, p string) error {
	if err := b.begin(ctx, p); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, normalizePath(p))
	return nil
}

// List lists paths with the given prefix in sorted order.
func (b *Backend) List(ctx context.Context, prefix string) ([]string, error) {
	if err := b.checkClosed(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	normalPrefix := normalizePath(prefix)

	b.mu.RLock()
	defer b.mu.RUnlock()

	var paths []string
	for p := range b.objects {
		if normalPrefix == "" || strings.HasPrefix(p, normalPrefix) {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// Close releases the stored objects.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	b.objects = nil
	return nil
}

// ContentType returns the content type an object was written with.
func (b *Backend) ContentType(p string) (string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	obj, ok := b.objects[normalizePath(p)]
	if !ok {
		return "", false
	}
	return obj.contentType, true
}

// Metadata returns the metadata an object was written with.
func (b *Backend) Metadata(p string) (map[string]string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	obj, ok := b.objects[normalizePath(p)]
	if !ok {
		return nil, false
	}
	return maps.Clone(obj.metadata), true
}

// ModTime returns the time an object was last written.
func (b *Backend) ModTime(p string) (time.Time, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	obj, ok := b.objects[normalizePath(p)]
	if !ok {
		return time.Time{}, false
	}
	return obj.modTime, true
}

// Count returns the number of stored objects.
func (b *Backend) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.objects)
}

// begin runs the checks shared by all per-path operations.
func (b *Backend) begin(ctx context.Context, p string) error {
	if err := b.checkClosed(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return validatePath(p)
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
func validatePath(p string) error {
	if p == "" {
		return drivemover.ErrInvalidPath
	}
	cleaned := path.Clean(p)
	if strings.HasPrefix(cleaned, "..") || strings.Contains(cleaned, "/../") {
		return drivemover.ErrInvalidPath
	}
	return nil
}

// normalizePath cleans p and strips the leading slash.
func normalizePath(p string) string {
	if p == "" {
		return ""
	}
	p = strings.TrimPrefix(path.Clean(p), "/")
	if p == "." {
		return ""
	}
	return p
}

type memoryWriter struct {
	backend     *Backend
	path        string
	buffer      bytes.Buffer
	contentType string
	metadata    map[string]string
	closed      bool
	mu          sync.Mutex
}

func (w *memoryWriter) Write(p []byte) (n int, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return 0, drivemover.ErrWriterClosed
	}
	return w.buffer.Write(p)
}

func (w *memoryWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	w.backend.mu.Lock()
	defer w.backend.mu.Unlock()

	if w.backend.closed {
		return drivemover.ErrBackendClosed
	}
	w.backend.objects[w.path] = &object{
		data:        w.buffer.Bytes(),
		contentType: w.contentType,
		metadata:    w.metadata,
		modTime:     time.Now(),
	}
	return nil
}

type memoryReader struct {
	reader *bytes.Reader
	closed bool
	mu     sync.Mutex
}

func (r *memoryReader) Read(p []byte) (n int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return 0, drivemover.ErrReaderClosed
	}
	return r.reader.Read(p)
}

func (r *memoryReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true
	return nil
}

var _ drivemover.Backend = (*Backend)(nil)
