package drivemover

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"

	"github.com/grokify/drivemover/compress/gzip"
	"github.com/grokify/drivemover/compress/zstd"
)

// Store persists checkpoint records by key.
type Store interface {
	// Load returns the record stored under key, or ErrNotFound.
	Load(ctx context.Context, key string) ([]byte, error)

	// Save replaces the record stored under key.
	Save(ctx context.Context, key string, data []byte) error

	// Delete removes the record. Deleting a missing record is not an error.
	Delete(ctx context.Context, key string) error
}

// Compression selects how checkpoints are encoded on the backend.
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionGzip Compression = "gzip"
	CompressionZstd Compression = "zstd"
)

// ParseCompression parses a compression name. The empty string means none.
func ParseCompression(s string) (Compression, error) {
	switch c := Compression(strings.ToLower(strings.TrimSpace(s))); c {
	case "", CompressionNone:
		return CompressionNone, nil
	case CompressionGzip, CompressionZstd:
		return c, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownCompression, s)
}

// Extension returns the file suffix added after ".json".
func (c Compression) Extension() string {
	switch c {
	case CompressionGzip:
		return gzip.Extension
	case CompressionZstd:
		return zstd.Extension
	}
	return ""
}

// WrapWriter returns a writer compressing into w. Closing it closes w.
func (c Compression) WrapWriter(w io.WriteCloser) (io.WriteCloser, error) {
	switch c {
	case CompressionGzip:
		return gzip.NewWriter(w)
	case CompressionZstd:
		return zstd.NewWriter(w)
	}
	return w, nil
}

// WrapReader returns a reader decompressing r. Closing it closes r.
func (c Compression) WrapReader(r io.ReadCloser) (io.ReadCloser, error) {
	switch c {
	case CompressionGzip:
		return gzip.NewReader(r)
	case CompressionZstd:
		return zstd.NewReader(r)
	}
	return r, nil
}

// ContentType returns the MIME type of an encoded object, or fallback
// when c is CompressionNone.
func (c Compression) ContentType(fallback string) string {
	switch c {
	case CompressionGzip:
		return gzip.ContentType
	case CompressionZstd:
		return zstd.ContentType
	}
	return fallback
}

// Metadata keys attached to stored checkpoints. Backends that keep object
// metadata (S3) make checkpoints identifiable without decoding them.
const (
	MetadataCheckpointKey = "drivemover-checkpoint"
	MetadataCompression   = "drivemover-compression"
)

// CompressionOf returns the compression implied by the suffix of p.
func CompressionOf(p string) Compression {
	switch {
	case strings.HasSuffix(p, gzip.Extension):
		return CompressionGzip
	case strings.HasSuffix(p, zstd.Extension):
		return CompressionZstd
	}
	return CompressionNone
}

// ContentTypeOf returns the MIME type implied by the suffix of p, as
// written for checkpoints and error reports.
func ContentTypeOf(p string) string {
	if c := CompressionOf(p); c != CompressionNone {
		return c.ContentType("")
	}
	switch path.Ext(p) {
	case ".json":
		return "application/json"
	case ".ndjson":
		return "application/x-ndjson"
	}
	return "application/octet-stream"
}

// DefaultCheckpointPrefix is the backend directory holding checkpoints.
const DefaultCheckpointPrefix = "checkpoints"

// StoreOption configures a BackendStore.
type StoreOption func(*BackendStore)

// WithCompression sets the checkpoint encoding for writes.
func WithCompression(c Compression) StoreOption {
	return func(s *BackendStore) {
		s.compression = c
	}
}

// WithPrefix sets the backend directory holding checkpoints.
func WithPrefix(prefix string) StoreOption {
	return func(s *BackendStore) {
		s.prefix = strings.Trim(prefix, "/")
	}
}

// BackendStore is a Store that keeps each checkpoint as one object
// "<prefix>/<key>.json[.gz|.zst]" on a Backend.
//
// Reads try the configured encoding first and then the others, so changing
// the compression setting does not orphan an existing checkpoint. The first
// Save of a key and every Delete remove the other encodings.
type BackendStore struct {
	backend     Backend
	prefix      string
	compression Compression

	mu      sync.Mutex
	cleaned map[string]bool
}

// NewBackendStore returns a Store writing to b.
func NewBackendStore(b Backend, opts ...StoreOption) *BackendStore {
	s := &BackendStore{
		backend:     b,
		prefix:      DefaultCheckpointPrefix,
		compression: CompressionNone,
		cleaned:     make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Backend returns the underlying backend.
func (s *BackendStore) Backend() Backend { return s.backend }

// Path returns the object path written for key.
func (s *BackendStore) Path(key string) string {
	return s.path(key, s.compression)
}

func (s *BackendStore) path(key string, c Compression) string {
	return path.Join(s.prefix, key+".json"+c.Extension())
}

// encodings returns the configured compression first, then the others.
func (s *BackendStore) encodings() []Compression {
	out := []Compression{s.compression}
	for _, c := range []Compression{CompressionNone, CompressionGzip, CompressionZstd} {
		if c != s.compression {
			out = append(out, c)
		}
	}
	return out
}

// Load implements Store.
func (s *BackendStore) Load(ctx context.Context, key string) ([]byte, error) {
	for _, c := range s.encodings() {
		data, err := s.load(ctx, key, c)
		if IsNotFound(err) {
			continue
		}
		return data, err
	}
	return nil, ErrNotFound
}

func (s *BackendStore) load(ctx context.Context, key string, c Compression) ([]byte, error) {
	r, err := s.backend.NewReader(ctx, s.path(key, c))
	if err != nil {
		return nil, err
	}
	dr, err := c.WrapReader(r)
	if err != nil {
		_ = r.Close()
		return nil, fmt.Errorf("opening %s checkpoint: %w", c, err)
	}
	defer func() { _ = dr.Close() }()

	return io.ReadAll(dr)
}

// Save implements Store.
func (s *BackendStore) Save(ctx context.Context, key string, data []byte) error {
	w, err := s.backend.NewWriter(ctx, s.Path(key),
		WithContentType(s.compression.ContentType("application/json")),
		WithMetadata(map[string]string{
			MetadataCheckpointKey: key,
			MetadataCompression:   string(s.compression),
		}))
	if err != nil {
		return err
	}
	cw, err := s.compression.WrapWriter(w)
	if err != nil {
		_ = w.Close()
		return err
	}
	if _, err := io.Copy(cw, bytes.NewReader(data)); err != nil {
		_ = cw.Close()
		return err
	}
	if err := cw.Close(); err != nil {
		return err
	}
	return s.dropOtherEncodings(ctx, key)
}

// dropOtherEncodings removes copies of key written under another encoding.
// It runs once per key for the lifetime of the store.
func (s *BackendStore) dropOtherEncodings(ctx context.Context, key string) error {
	s.mu.Lock()
	done := s.cleaned[key]
	s.mu.Unlock()
	if done {
		return nil
	}
	for _, c := range s.encodings()[1:] {
		if err := s.backend.Delete(ctx, s.path(key, c)); err != nil {
			return err
		}
	}
	s.mu.Lock()
	s.cleaned[key] = true
	s.mu.Unlock()
	return nil
}

// Delete implements Store.
func (s *BackendStore) Delete(ctx context.Context, key string) error {
	for _, c := range s.encodings() {
		if err := s.backend.Delete(ctx, s.path(key, c)); err != nil {
			return err
		}
	}
	return nil
}

// Keys lists the keys of all stored checkpoints.
func (s *BackendStore) Keys(ctx context.Context) ([]string, error) {
	paths, err := s.backend.List(ctx, s.prefix)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var keys []string
	for _, p := range paths {
		name := path.Base(p)
		i := strings.Index(name, ".json")
		if i <= 0 || seen[name[:i]] {
			continue
		}
		seen[name[:i]] = true
		keys = append(keys, name[:i])
	}
	return keys, nil
}
