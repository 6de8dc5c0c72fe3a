// Package multi mirrors checkpoints to several backends.
//
// A Backend has one primary and any number of mirrors. Writes and deletes
// go to all of them. Reads, existence checks and listings are served by the
// primary; a read that fails on the primary falls back to the mirrors in
// order, so a lost local checkpoint can be recovered from a remote copy.
//
//	local := file.New(file.Config{Root: "/var/lib/drivemover"})
//	remote, _ := s3.New(s3.Config{Bucket: "drivemover-state"})
//	b, _ := multi.New(local, []drivemover.Backend{remote})
package multi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/grokify/mogo/log/slogutil"

	"github.com/grokify/drivemover"
)

// Mode determines how mirror failures are handled.
type Mode int

const (
	// BestEffort fails only when the primary fails. Mirror failures are logged.
	BestEffort Mode = iota

	// Strict fails when any backend fails.
	Strict
)

// ErrNoPrimary is returned by New when the primary backend is nil.
var ErrNoPrimary = errors.New("multi: primary backend is required")

// Option configures a Backend.
type Option func(*Backend)

// WithMode sets how mirror failures are handled.
func WithMode(mode Mode) Option {
	return func(b *Backend) {
		b.mode = mode
	}
}

// WithLogger sets the logger for mirror failures.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Backend) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// Backend implements drivemover.Backend over a primary and its mirrors.
type Backend struct {
	primary drivemover.Backend
	mirrors []drivemover.Backend
	mode    Mode
	logger  *slog.Logger
}

// New creates a mirrored backend. Nil mirrors are ignored.
func New(primary drivemover.Backend, mirrors []drivemover.Backend, opts ...Option) (*Backend, error) {
	if primary == nil {
		return nil, ErrNoPrimary
	}
	b := &Backend{primary: primary, logger: slogutil.Null()}
	for _, m := range mirrors {
		if m != nil {
			b.mirrors = append(b.mirrors, m)
		}
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Mirrors returns the number of mirrors.
func (b *Backend) Mirrors() int {
	return len(b.mirrors)
}

// mirrorFailed logs err in BestEffort mode and returns it in Strict mode.
func (b *Backend) mirrorFailed(i int, op, p string, err error) error {
	if b.mode == Strict {
		return fmt.Errorf("multi: mirror %d: %s %s: %w", i, op, p, err)
	}
	b.logger.Warn("mirror failed", "mirror", i, "op", op, "path", p, "error", err)
	return nil
}

// NewWriter buffers the object and stores it on every backend on Close.
// The primary is written first and must succeed.
func (b *Backend) NewWriter(ctx context.Context, p string, opts ...drivemover.WriterOption) (io.WriteCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &mirroredWriter{backend: b, ctx: ctx, path: p, opts: opts}, nil
}

// NewReader reads from the primary, falling back to the mirrors in order
// when the primary fails. An object missing from the primary is missing:
// a mirror that missed a delete never brings it back.
func (b *Backend) NewReader(ctx context.Context, p string) (io.ReadCloser, error) {
	r, primaryErr := b.primary.NewReader(ctx, p)
	if primaryErr == nil {
		return r, nil
	}
	if ctx.Err() != nil || drivemover.IsNotFound(primaryErr) {
		return nil, primaryErr
	}
	for i, m := range b.mirrors {
		r, err := m.NewReader(ctx, p)
		if err == nil {
			b.logger.Info("read served by mirror", "mirror", i, "path", p, "primaryError", primaryErr)
			return r, nil
		}
	}
	return nil, primaryErr
}

// Exists checks the primary.
func (b *Backend) Exists(ctx context.Context, p string) (bool, error) {
	return b.primary.Exists(ctx, p)
}

// Delete removes p from every backend.
func (b *Backend) Delete(ctx context.Context, p string) error {
	if err := b.primary.Delete(ctx, p); err != nil {
		return err
	}
	var errs []error
	for i, m := range b.mirrors {
		if err := m.Delete(ctx, p); err != nil {
			errs = append(errs, b.mirrorFailed(i, "delete", p, err))
		}
	}
	return errors.Join(errs...)
}

// List lists the primary.
func (b *Backend) List(ctx context.Context, prefix string) ([]string, error) {
	return b.primary.List(ctx, prefix)
}

// Close closes every backend and joins their errors.
func (b *Backend) Close() error {
	errs := []error{b.primary.Close()}
	for _, m := range b.mirrors {
		errs = append(errs, m.Close())
	}
	return errors.Join(errs...)
}

// mirroredWriter buffers an object so that a failure on one backend never
// leaves a truncated copy behind on another.
type mirroredWriter struct {
	backend *Backend
	ctx     context.Context
	path    string
	opts    []drivemover.WriterOption
	buf     bytes.Buffer
	closed  bool
	mu      sync.Mutex
}

func (w *mirroredWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return 0, drivemover.ErrWriterClosed
	}
	return w.buf.Write(p)
}

func (w *mirroredWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	b := w.backend
	if err := put(w.ctx, b.primary, w.path, w.buf.Bytes(), w.opts); err != nil {
		return err
	}
	var errs []error
	for i, m := range b.mirrors {
		if err := put(w.ctx, m, w.path, w.buf.Bytes(), w.opts); err != nil {
			errs = append(errs, b.mirrorFailed(i, "write", w.path, err))
		}
	}
	return errors.Join(errs...)
}

func put(ctx context.Context, b drivemover.Backend, p string, data []byte, opts []drivemover.WriterOption) error {
	w, err := b.NewWriter(ctx, p, opts...)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

var _ drivemover.Backend = (*Backend)(nil)
