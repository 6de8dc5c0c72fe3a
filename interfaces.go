// Package drivemover moves the contents of a folder tree into another folder
// tree on a remote drive service, one bounded invocation at a time.
//
// A move is driven by Start. Each invocation loads a checkpoint keyed by the
// move parameters, processes pending folders depth first until the work is
// done or the time budget runs out, and saves the checkpoint again. Items
// that fail are recorded in the checkpoint's error log instead of aborting
// the run.
//
// Checkpoints are stored through a Backend (local files, S3, SFTP, SQLite,
// memory), optionally compressed.
//
// Basic usage:
//
//	svc, _ := gdrive.New(ctx, option.WithCredentialsFile("creds.json"))
//	store := drivemover.NewBackendStore(file.New(file.Config{Root: "/var/lib/drivemover"}))
//	res, err := drivemover.Start(ctx, svc, store, drivemover.Request{
//	    SourceID:      "0Bx...",
//	    DestinationID: "0AF...",
//	}, drivemover.WithBudget(5*time.Minute))
package drivemover

import (
	"context"
	"io"
)

// Backend represents a blob storage backend (S3, SFTP, local file, etc.)
// used to persist checkpoints and reports.
//
// Backends are safe for concurrent use by multiple goroutines.
// All methods accept a context.Context for cancellation and timeouts.
type Backend interface {
	// NewWriter creates a writer for the given path/key.
	// The returned writer must be closed after use to ensure
	// all data is flushed and resources are released.
	NewWriter(ctx context.Context, path string, opts ...WriterOption) (io.WriteCloser, error)

	// NewReader creates a reader for the given path/key.
	// Returns ErrNotFound if the path does not exist.
	// The returned reader must be closed after use.
	NewReader(ctx context.Context, path string) (io.ReadCloser, error)

	// Exists checks if a path exists.
	Exists(ctx context.Context, path string) (bool, error)

	// Delete removes a path.
	// Returns nil if the path does not exist (idempotent).
	Delete(ctx context.Context, path string) error

	// List lists paths with the given prefix.
	// Returns an empty slice if no paths match.
	List(ctx context.Context, prefix string) ([]string, error)

	// Close releases any resources held by the backend.
	// After Close, all other methods return ErrBackendClosed.
	Close() error
}

// RecordWriter writes framed records (byte slices) to an underlying writer.
type RecordWriter interface {
	// Write writes a single record.
	// The record should not contain the delimiter (e.g., no trailing newline for NDJSON).
	Write(data []byte) error

	// Flush flushes any buffered data to the underlying writer.
	Flush() error

	// Close flushes any remaining data and closes the writer.
	Close() error
}

// RecordReader reads framed records from an underlying reader.
type RecordReader interface {
	// Read reads the next record.
	// Returns io.EOF when no more records are available.
	Read() ([]byte, error)

	// Close releases any resources held by the reader.
	Close() error
}
