// Package ndjson frames records as newline-delimited JSON.
//
// The error report of a move is written one MoveError per line, so a
// partially written report is still readable up to the last full line.
package ndjson

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/grokify/drivemover"
)

// Extension is the file suffix for NDJSON objects.
const Extension = ".ndjson"

// ContentType is the MIME type of NDJSON objects.
const ContentType = "application/x-ndjson"

// MaxLineSize bounds a single record when reading.
const MaxLineSize = 1 << 20

// Writer implements drivemover.RecordWriter.
type Writer struct {
	w      *bufio.Writer
	dst    io.Closer
	closed bool
	mu     sync.Mutex
}

// NewWriter creates a writer that owns w.
func NewWriter(w io.WriteCloser) *Writer {
	return &Writer{w: bufio.NewWriter(w), dst: w}
}

// Write writes one record. Trailing whitespace is dropped and the record
// must not contain a newline.
func (w *Writer) Write(data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return drivemover.ErrWriterClosed
	}
	data = bytes.TrimRight(data, " \t\r\n")
	if bytes.IndexByte(data, '\n') >= 0 {
		return errors.New("ndjson: record contains a newline")
	}
	if _, err := w.w.Write(data); err != nil {
		return err
	}
	return w.w.WriteByte('\n')
}

// Encode marshals v and writes it as one record.
func (w *Writer) Encode(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("ndjson: encode: %w", err)
	}
	return w.Write(data)
}

// Flush writes buffered records to the destination.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return drivemover.ErrWriterClosed
	}
	return w.w.Flush()
}

// Close flushes and closes the destination.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.w.Flush(); err != nil {
		_ = w.dst.Close()
		return err
	}
	return w.dst.Close()
}

// Reader implements drivemover.RecordReader. Blank lines are skipped.
type Reader struct {
	scanner *bufio.Scanner
	src     io.Closer
	line    int
	closed  bool
	mu      sync.Mutex
}

// NewReader creates a reader that owns r.
func NewReader(r io.ReadCloser) *Reader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), MaxLineSize)
	return &Reader{scanner: scanner, src: r}
}

// Read returns the next record, or io.EOF.
func (r *Reader) Read() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, drivemover.ErrReaderClosed
	}
	for r.scanner.Scan() {
		r.line++
		line := bytes.TrimSpace(r.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		return bytes.Clone(line), nil
	}
	if err := r.scanner.Err(); err != nil {
		return nil, fmt.Errorf("ndjson: line %d: %w", r.line+1, err)
	}
	return nil, io.EOF
}

// Decode reads the next record into v.
func (r *Reader) Decode(v any) error {
	data, err := r.Read()
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("ndjson: line %d: %w", r.Line(), err)
	}
	return nil
}

// Line returns the number of the last line read.
func (r *Reader) Line() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.line
}

// Close closes the source.
func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	return r.src.Close()
}

// DecodeAll reads every remaining record of r as a T.
func DecodeAll[T any](r *Reader) ([]T, error) {
	var out []T
	for {
		var v T
		err := r.Decode(&v)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, v)
	}
}

var (
	_ drivemover.RecordWriter = (*Writer)(nil)
	_ drivemover.RecordReader = (*Reader)(nil)
)
