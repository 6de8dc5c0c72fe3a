// Package gzip wraps checkpoint and report streams in gzip framing.
//
// Writers and readers own the stream they wrap: closing them closes the
// underlying backend writer or reader too, so a single Close commits a
// compressed checkpoint.
package gzip

import (
	"io"
	"sync"

	"github.com/klauspost/compress/gzip"
)

// Extension is the file suffix for gzip-compressed objects.
const Extension = ".gz"

// ContentType is the MIME type stored alongside gzip objects.
const ContentType = "application/gzip"

// Level is a gzip compression level.
type Level int

const (
	BestSpeed          Level = gzip.BestSpeed
	BestCompression    Level = gzip.BestCompression
	DefaultCompression Level = gzip.DefaultCompression
)

// Writer compresses into an io.WriteCloser.
type Writer struct {
	gw     *gzip.Writer
	dst    io.Closer
	closed bool
	mu     sync.Mutex
}

// NewWriter creates a writer at DefaultCompression.
func NewWriter(w io.WriteCloser) (*Writer, error) {
	return NewWriterLevel(w, DefaultCompression)
}

// NewWriterLevel creates a writer at the given level.
func NewWriterLevel(w io.WriteCloser, level Level) (*Writer, error) {
	gw, err := gzip.NewWriterLevel(w, int(level))
	if err != nil {
		return nil, err
	}
	return &Writer{gw: gw, dst: w}, nil
}

func (w *Writer) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return 0, io.ErrClosedPipe
	}
	return w.gw.Write(p)
}

// Close writes the gzip trailer and closes the destination.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.gw.Close(); err != nil {
		_ = w.dst.Close()
		return err
	}
	return w.dst.Close()
}

// Reader decompresses from an io.ReadCloser.
type Reader struct {
	gr     *gzip.Reader
	src    io.Closer
	closed bool
	mu     sync.Mutex
}

// NewReader reads the gzip header from r and returns a decompressing reader.
// It fails if r does not start with a gzip header.
func NewReader(r io.ReadCloser) (*Reader, error) {
	gr, err := gzip.NewReader(r)
	if err != nil {
		return nil, err
	}
	return &Reader{gr: gr, src: r}, nil
}

func (r *Reader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return 0, io.ErrClosedPipe
	}
	return r.gr.Read(p)
}

// Close closes the decompressor and the source.
func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	if err := r.gr.Close(); err != nil {
		_ = r.src.Close()
		return err
	}
	return r.src.Close()
}

var (
	_ io.WriteCloser = (*Writer)(nil)
	_ io.ReadCloser  = (*Reader)(nil)
)
