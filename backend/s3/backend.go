// Package s3 provides an S3-compatible checkpoint backend.
//
// It works with AWS S3 and S3-compatible services (MinIO, Cloudflare R2,
// Wasabi). Checkpoints are small, so each one is a single PutObject with a
// Content-MD5 check rather than a multipart upload.
//
// Basic usage:
//
//	backend, err := s3.New(s3.Config{
//	    Bucket: "drivemover-state",
//	    Region: "us-east-1",
//	})
package s3

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/grokify/drivemover"
)

func init() {
	drivemover.Register("s3", NewFromConfig)
}

// Errors specific to the S3 backend.
var (
	ErrBucketRequired    = errors.New("s3: bucket is required")
	ErrInvalidEncryption = errors.New("s3: unsupported server-side encryption")
)

// API is the subset of the S3 client used by the backend.
type API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Backend implements drivemover.Backend for S3-compatible storage.
type Backend struct {
	client API
	config Config
	closed bool
	mu     sync.RWMutex
}

// New creates a new S3 backend with the given configuration.
func New(cfg Config) (*Backend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var optFns []func(*config.LoadOptions) error
	if cfg.Region != "" {
		optFns = append(optFns, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		creds := credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)
		optFns = append(optFns, config.WithCredentialsProvider(creds))
	}

	awsCfg, err := config.LoadDefaultConfig(context.Background(), optFns...)
	if err != nil {
		return nil, fmt.Errorf("s3: loading AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return NewWithClient(client, cfg)
}

// NewWithClient creates a backend on an existing client.
func NewWithClient(client API, cfg Config) (*Backend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Backend{client: client, config: cfg}, nil
}

// NewFromConfig creates a new S3 backend from a config map.
func NewFromConfig(configMap map[string]string) (drivemover.Backend, error) {
	return New(ConfigFromMap(configMap))
}

// NewWriter creates a writer for the given path. The object is uploaded on Close.
func (b *Backend) NewWriter(ctx context.Context, p string, opts ...drivemover.WriterOption) (io.WriteCloser, error) {
	if err := b.begin(ctx); err != nil {
		return nil, err
	}

	cfg := drivemover.ApplyWriterOptions(opts...)
	return &s3Writer{
		backend:     b,
		ctx:         ctx,
		key:         b.fullKey(p),
		contentType: cfg.ContentType,
		metadata:    cfg.Metadata,
	}, nil
}

// NewReader creates a reader for the given path.
func (b *Backend) NewReader(ctx context.Context, p string) (io.ReadCloser, error) {
	if err := b.begin(ctx); err != nil {
		return nil, err
	}

	result, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.config.Bucket),
		Key:    aws.String(b.fullKey(p)),
	})
	if err != nil {
		return nil, b.translateError(err, p)
	}
	return result.Body, nil
}

// Exists checks if a path exists.
func (b *Backend) Exists(ctx context.Context, p string) (bool, error) {
	if err := b.begin(ctx); err != nil {
		return false, err
	}

	_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.config.Bucket),
		Key:    aws.String(b.fullKey(p)),
	})
	if err == nil {
		return true, nil
	}
	if err := b.translateError(err, p); !errors.Is(err, drivemover.ErrNotFound) {
		return false, err
	}
	return false, nil
}

// Delete removes a path. S3 deletes are idempotent.
func (b *Backend) Delete(ctx context.Context, p string) error {
	if err := b.begin(ctx); err != nil {
		return err
	}

	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.config.Bucket),
		Key:    aws.String(b.fullKey(p)),
	})
	if err != nil {
		if err := b.translateError(err, p); !errors.Is(err, drivemover.ErrNotFound) {
			return err
		}
	}
	return nil
}

// List lists paths with the given prefix, relative to the configured key prefix.
func (b *Backend) List(ctx context.Context, prefix string) ([]string, error) {
	if err := b.begin(ctx); err != nil {
		return nil, err
	}

	var paths []string
	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.config.Bucket),
		Prefix: aws.String(b.fullKey(prefix)),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3: listing objects: %w", b.translateError(err, prefix))
		}
		for _, obj := range page.Contents {
			if obj.Key == nil {
				continue
			}
			rel := strings.TrimPrefix(strings.TrimPrefix(*obj.Key, b.config.Prefix), "/")
			if rel != "" {
				paths = append(paths, rel)
			}
		}
	}
	return paths, nil
}

// Close marks the backend closed.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	return nil
}

func (b *Backend) begin(ctx context.Context) error {
	if err := b.checkClosed(); err != nil {
		return err
	}
	return ctx.Err()
}

// fullKey returns the full S3 key for a path.
func (b *Backend) fullKey(p string) string {
	if b.config.Prefix == "" {
		return p
	}
	return path.Join(b.config.Prefix, p)
}

func (b *Backend) checkClosed() error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return drivemover.ErrBackendClosed
	}
	return nil
}

// translateError converts S3 errors to drivemover errors.
func (b *Backend) translateError(err error, p string) error {
	if err == nil {
		return nil
	}

	var nf *types.NotFound
	var nsk *types.NoSuchKey
	if errors.As(err, &nf) || errors.As(err, &nsk) {
		return drivemover.ErrNotFound
	}

	var nsb *types.NoSuchBucket
	if errors.As(err, &nsb) {
		return fmt.Errorf("s3: bucket not found: %s", b.config.Bucket)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return drivemover.ErrNotFound
		case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch":
			return drivemover.ErrPermissionDenied
		}
	}

	// HeadObject errors carry no body, only the status code.
	var respErr interface{ HTTPStatusCode() int }
	if errors.As(err, &respErr) {
		switch respErr.HTTPStatusCode() {
		case http.StatusNotFound:
			return drivemover.ErrNotFound
		case http.StatusForbidden:
			return drivemover.ErrPermissionDenied
		}
	}

	return fmt.Errorf("s3: %s: %w", p, err)
}

// s3Writer buffers the object and uploads it on Close.
type s3Writer struct {
	backend     *Backend
	ctx         context.Context
	key         string
	buffer      bytes.Buffer
	contentType string
	metadata    map[string]string
	closed      bool
	mu          sync.Mutex
}

func (w *s3Writer) Write(p []byte) (n int, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return 0, drivemover.ErrWriterClosed
	}
	return w.buffer.Write(p)
}

func (w *s3Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	data := w.buffer.Bytes()
	input := &s3.PutObjectInput{
		Bucket:        aws.String(w.backend.config.Bucket),
		Key:           aws.String(w.key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentMD5:    aws.String(base64.StdEncoding.EncodeToString(drivemover.SumBytes(data, drivemover.HashMD5))),
	}
	if w.contentType != "" {
		input.ContentType = aws.String(w.contentType)
	}
	if len(w.metadata) > 0 {
		input.Metadata = w.metadata
	}
	if sse := w.backend.config.ServerSideEncryption; sse != "" {
		input.ServerSideEncryption = types.ServerSideEncryption(sse)
	}

	if _, err := w.backend.client.PutObject(w.ctx, input); err != nil {
		return fmt.Errorf("s3: uploading object: %w", w.backend.translateError(err, w.key))
	}
	return nil
}

var _ drivemover.Backend = (*Backend)(nil)
