package drivemover

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"io"
)

// CopyObject copies one object from src to dst, potentially across backends,
// and checks that what dst returns matches what was read. It returns the
// hex SHA-256 of the object.
func CopyObject(ctx context.Context, src Backend, srcPath string, dst Backend, dstPath string, opts ...WriterOption) (string, error) {
	r, err := src.NewReader(ctx, srcPath)
	if err != nil {
		return "", err
	}
	defer func() { _ = r.Close() }()

	w, err := dst.NewWriter(ctx, dstPath, opts...)
	if err != nil {
		return "", err
	}
	h := NewHash(HashSHA256)
	if _, err := io.Copy(io.MultiWriter(w, h), r); err != nil {
		_ = w.Close()
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}
	want := h.Sum(nil)

	got, err := hashObject(ctx, dst, dstPath)
	if err != nil {
		return "", fmt.Errorf("verifying %s: %w", dstPath, err)
	}
	if !bytes.Equal(got, want) {
		return "", fmt.Errorf("verifying %s: content differs after copy", dstPath)
	}
	return hex.EncodeToString(want), nil
}

func hashObject(ctx context.Context, b Backend, p string) ([]byte, error) {
	r, err := b.NewReader(ctx, p)
	if err != nil {
		return nil, err
	}
	defer func() { _ = r.Close() }()

	h := NewHash(HashSHA256)
	if _, err := io.Copy(h, r); err != nil {
		return nil, err
	}
	return h.Sum(nil), nil
}

// CopyPrefix copies every object under prefix from src to dst, keeping
// paths, and returns the copied paths. Content types follow the path
// suffixes. It stops at the first failure.
func CopyPrefix(ctx context.Context, src, dst Backend, prefix string) ([]string, error) {
	paths, err := src.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	var copied []string
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		if _, err := CopyObject(ctx, src, p, dst, p, WithContentType(ContentTypeOf(p))); err != nil {
			return copied, fmt.Errorf("copying %s: %w", p, err)
		}
		copied = append(copied, p)
	}
	return copied, nil
}
