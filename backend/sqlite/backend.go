// Package sqlite provides a checkpoint backend stored in a single SQLite
// database file. Each object is one row, so a checkpoint is replaced in a
// single transaction.
package sqlite

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver for database/sql

	"github.com/grokify/drivemover"
)

func init() {
	drivemover.Register("sqlite", NewFromConfig)
}

// ErrPathRequired is returned when no database path is configured.
var ErrPathRequired = errors.New("sqlite: path is required")

// Backend implements drivemover.Backend on a SQLite table.
type Backend struct {
	db     *sql.DB
	closed bool
	mu     sync.RWMutex
}

// New opens the database at dbPath and creates the schema if needed.
// Use ":memory:" for a throwaway database.
func New(dbPath string) (*Backend, error) {
	if dbPath == "" {
		return nil, ErrPathRequired
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open database: %w", err)
	}
	// A :memory: database exists per connection.
	db.SetMaxOpenConns(1)

	b := &Backend{db: db}
	if err := b.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: migrate: %w", err)
	}
	return b, nil
}

// NewFromConfig creates a backend from a config map.
// Supported keys:
//   - path: database file (required)
func NewFromConfig(configMap map[string]string) (drivemover.Backend, error) {
	return New(configMap["path"])
}

func (b *Backend) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS objects (
		path         TEXT PRIMARY KEY,
		data         BLOB NOT NULL,
		content_type TEXT NOT NULL DEFAULT '',
		updated_at   TEXT NOT NULL
	);
	`
	_, err := b.db.Exec(schema)
	return err
}

// NewWriter creates a writer for the given path. The row is upserted on Close.
func (b *Backend) NewWriter(ctx context.Context, p string, opts ...drivemover.WriterOption) (io.WriteCloser, error) {
	if err := b.begin(ctx, p); err != nil {
		return nil, err
	}
	cfg := drivemover.ApplyWriterOptions(opts...)
	return &rowWriter{backend: b, ctx: ctx, path: p, contentType: cfg.ContentType}, nil
}

// NewReader creates a reader for the given path.
func (b *Backend) NewReader(ctx context.Context, p string) (io.ReadCloser, error) {
	if err := b.begin(ctx, p); err != nil {
		return nil, err
	}

	var data []byte
	err := b.db.QueryRowContext(ctx, `SELECT data FROM objects WHERE path = ?`, p).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, drivemover.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get %s: %w", p, err)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Exists checks if a path exists.
func (b *Backend) Exists(ctx context.Context, p string) (bool, error) {
	if err := b.begin(ctx, p); err != nil {
		return false, err
	}

	var n int
	err := b.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM objects WHERE path = ?`, p).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("sqlite: exists %s: %w", p, err)
	}
	return n > 0, nil
}

// Delete removes a path. No error is returned if the path does not exist.
func (b *Backend) Delete(ctx context.Context, p string) error {
	if err := b.begin(ctx, p); err != nil {
		return err
	}

	if _, err := b.db.ExecContext(ctx, `DELETE FROM objects WHERE path = ?`, p); err != nil {
		return fmt.Errorf("sqlite: delete %s: %w", p, err)
	}
	return nil
}

// List returns the paths starting with prefix, sorted.
func (b *Backend) List(ctx context.Context, prefix string) ([]string, error) {
	if err := b.checkClosed(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rows, err := b.db.QueryContext(ctx,
		`SELECT path FROM objects WHERE substr(path, 1, length(?1)) = ?1 ORDER BY path`,
		prefix,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list %s: %w", prefix, err)
	}
	defer rows.Close()

	paths := []string{}
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("sqlite: scan: %w", err)
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

// Close closes the database.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	return b.db.Close()
}

// UpdatedAt returns when the object at p was last written.
func (b *Backend) UpdatedAt(ctx context.Context, p string) (time.Time, error) {
	if err := b.begin(ctx, p); err != nil {
		return time.Time{}, err
	}

	var ts string
	err := b.db.QueryRowContext(ctx, `SELECT updated_at FROM objects WHERE path = ?`, p).Scan(&ts)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, drivemover.ErrNotFound
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("sqlite: get %s: %w", p, err)
	}
	return time.Parse(time.RFC3339Nano, ts)
}

func (b *Backend) begin(ctx context.Context, p string) error {
	if err := b.checkClosed(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if p == "" || strings.HasPrefix(p, "/") {
		return drivemover.ErrInvalidPath
	}
	return nil
}

func (b *Backend) checkClosed() error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return drivemover.ErrBackendClosed
	}
	return nil
}

// rowWriter buffers the object and upserts it on Close.
type rowWriter struct {
	backend     *Backend
	ctx         context.Context
	path        string
	contentType string
	buf         bytes.Buffer
	closed      bool
	mu          sync.Mutex
}

func (w *rowWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return 0, drivemover.ErrWriterClosed
	}
	return w.buf.Write(p)
}

func (w *rowWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.backend.checkClosed(); err != nil {
		return err
	}
	data := w.buf.Bytes()
	if data == nil {
		data = []byte{}
	}
	_, err := w.backend.db.ExecContext(w.ctx,
		`INSERT INTO objects (path, data, content_type, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (path) DO UPDATE
		 SET data = excluded.data, content_type = excluded.content_type, updated_at = excluded.updated_at`,
		w.path, data, w.contentType, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("sqlite: set %s: %w", w.path, err)
	}
	return nil
}

var _ drivemover.Backend = (*Backend)(nil)
