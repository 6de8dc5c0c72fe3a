// Package zstd wraps checkpoint and report streams in Zstandard frames.
//
// Large trees produce checkpoints with long lists of near-identical
// folder paths, which zstd shrinks well and decodes fast on resume.
package zstd

import (
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// Extension is the file suffix for zstd-compressed objects.
const Extension = ".zst"

// ContentType is the MIME type stored alongside zstd objects.
const ContentType = "application/zstd"

// Level is a zstd encoder speed setting.
type Level = zstd.EncoderLevel

const (
	SpeedFastest           = zstd.SpeedFastest
	SpeedDefault           = zstd.SpeedDefault
	SpeedBetterCompression = zstd.SpeedBetterCompression
	SpeedBestCompression   = zstd.SpeedBestCompression
)

// Writer compresses into an io.WriteCloser.
type Writer struct {
	zw     *zstd.Encoder
	dst    io.Closer
	closed bool
	mu     sync.Mutex
}

// NewWriter creates a writer at SpeedDefault.
func NewWriter(w io.WriteCloser) (*Writer, error) {
	return NewWriterLevel(w, SpeedDefault)
}

// NewWriterLevel creates a writer at the given level.
func NewWriterLevel(w io.WriteCloser, level Level) (*Writer, error) {
	zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(level), zstd.WithEncoderConcurrency(1))
	if err != nil {
		return nil, err
	}
	return &Writer{zw: zw, dst: w}, nil
}

func (w *Writer) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return 0, io.ErrClosedPipe
	}
	return w.zw.Write(p)
}

// Close ends the frame and closes the destination.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.zw.Close(); err != nil {
		_ = w.dst.Close()
		return err
	}
	return w.dst.Close()
}

// Reader decompresses from an io.ReadCloser.
type Reader struct {
	zr     *zstd.Decoder
	src    io.Closer
	closed bool
	mu     sync.Mutex
}

// NewReader returns a decompressing reader over r.
func NewReader(r io.ReadCloser) (*Reader, error) {
	zr, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, err
	}
	return &Reader{zr: zr, src: r}, nil
}

func (r *Reader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return 0, io.ErrClosedPipe
	}
	return r.zr.Read(p)
}

// Close releases the decoder and closes the source.
func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	r.zr.Close()
	return r.src.Close()
}

var (
	_ io.WriteCloser = (*Writer)(nil)
	_ io.ReadCloser  = (*Reader)(nil)
)
