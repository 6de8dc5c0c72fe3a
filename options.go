package drivemover

import (
	"log/slog"
	"time"

	"github.com/grokify/mogo/log/slogutil"

	"github.com/grokify/drivemover/filter"
)

// WriterOption configures a writer created by Backend.NewWriter.
type WriterOption func(*WriterConfig)

// WriterConfig holds configuration for creating a writer.
type WriterConfig struct {
	// ContentType is a MIME type hint for the content.
	// Some backends (S3) use this for Content-Type headers.
	ContentType string

	// Metadata is backend-specific metadata.
	// For S3, these become object metadata.
	// For file backend, this is ignored.
	Metadata map[string]string
}

// WithContentType sets the content type hint.
func WithContentType(contentType string) WriterOption {
	return func(c *WriterConfig) {
		c.ContentType = contentType
	}
}

// WithMetadata sets backend-specific metadata.
func WithMetadata(metadata map[string]string) WriterOption {
	return func(c *WriterConfig) {
		c.Metadata = metadata
	}
}

// ApplyWriterOptions applies options to a WriterConfig.
func ApplyWriterOptions(opts ...WriterOption) *WriterConfig {
	config := &WriterConfig{}
	for _, opt := range opts {
		opt(config)
	}
	return config
}

// DefaultPageSize is the number of items requested per listing page.
const DefaultPageSize = 1000

// Option configures Start and Mover.
type Option func(*options)

type options struct {
	logger   *slog.Logger
	budget   time.Duration
	filter   *filter.Filter
	pageSize int64
	now      func() time.Time
}

func newOptions(opts ...Option) options {
	o := options{
		pageSize: DefaultPageSize,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slogutil.Null()
	}
	return o
}

// WithLogger sets the structured logger. A nil logger discards output.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithBudget bounds how long one invocation keeps picking up new folders.
// The folder in flight when the budget runs out is finished first, and
// every invocation processes at least one folder.
// Zero means no budget; the invocation runs until the move is complete.
func WithBudget(d time.Duration) Option {
	return func(o *options) {
		o.budget = d
	}
}

// WithFilter leaves files and folders that do not pass f in the source.
func WithFilter(f *filter.Filter) Option {
	return func(o *options) {
		o.filter = f
	}
}

// WithPageSize sets the number of items requested per listing page.
func WithPageSize(n int64) Option {
	return func(o *options) {
		if n > 0 {
			o.pageSize = n
		}
	}
}

// WithClock replaces time.Now. It is meant for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}
