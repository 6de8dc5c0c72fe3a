// Package report exports the error log of a move as NDJSON, one
// MoveError per line, optionally compressed.
package report

import (
	"context"
	"fmt"
	"io"
	"path"

	"github.com/grokify/drivemover"
	"github.com/grokify/drivemover/format/ndjson"
)

// DefaultPrefix is the backend directory holding reports.
const DefaultPrefix = "reports"

// Path returns the object path of the report for a checkpoint key.
func Path(key string, c drivemover.Compression) string {
	return path.Join(DefaultPrefix, key+ndjson.Extension+c.Extension())
}

// Encode writes errs to w as NDJSON and closes w.
func Encode(w io.WriteCloser, errs []drivemover.MoveError) error {
	nw := ndjson.NewWriter(w)
	for _, e := range errs {
		if err := nw.Encode(e); err != nil {
			_ = nw.Close()
			return err
		}
	}
	return nw.Close()
}

// Decode reads every MoveError from r and closes r.
func Decode(r io.ReadCloser) ([]drivemover.MoveError, error) {
	nr := ndjson.NewReader(r)
	defer nr.Close()
	return ndjson.DecodeAll[drivemover.MoveError](nr)
}

// WriteErrors stores errs under p on b. The compression is picked from
// the path suffix.
func WriteErrors(ctx context.Context, b drivemover.Backend, p string, errs []drivemover.MoveError) error {
	c := drivemover.CompressionOf(p)
	w, err := b.NewWriter(ctx, p, drivemover.WithContentType(c.ContentType(ndjson.ContentType)))
	if err != nil {
		return fmt.Errorf("report: %s: %w", p, err)
	}
	cw, err := c.WrapWriter(w)
	if err != nil {
		_ = w.Close()
		return fmt.Errorf("report: %s: %w", p, err)
	}
	if err := Encode(cw, errs); err != nil {
		return fmt.Errorf("report: %s: %w", p, err)
	}
	return nil
}

// ReadErrors loads the report stored under p on b.
func ReadErrors(ctx context.Context, b drivemover.Backend, p string) ([]drivemover.MoveError, error) {
	r, err := b.NewReader(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("report: %s: %w", p, err)
	}
	cr, err := drivemover.CompressionOf(p).WrapReader(r)
	if err != nil {
		_ = r.Close()
		return nil, fmt.Errorf("report: %s: %w", p, err)
	}
	errs, err := Decode(cr)
	if err != nil {
		return errs, fmt.Errorf("report: %s: %w", p, err)
	}
	return errs, nil
}
