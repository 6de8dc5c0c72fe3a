package drivemover

import (
	"context"
	"errors"
	"fmt"
)

// Common errors returned by drivemover backends and utilities.
var (
	// ErrNotFound is returned when a path or checkpoint does not exist.
	ErrNotFound = errors.New("drivemover: not found")

	// ErrPermissionDenied is returned when access to a path is denied.
	ErrPermissionDenied = errors.New("drivemover: permission denied")

	// ErrBackendClosed is returned when operating on a closed backend.
	ErrBackendClosed = errors.New("drivemover: backend closed")

	// ErrWriterClosed is returned when writing to a closed writer.
	ErrWriterClosed = errors.New("drivemover: writer closed")

	// ErrReaderClosed is returned when reading from a closed reader.
	ErrReaderClosed = errors.New("drivemover: reader closed")

	// ErrInvalidPath is returned when a path is invalid (e.g., contains forbidden characters).
	ErrInvalidPath = errors.New("drivemover: invalid path")

	// ErrNotSupported is returned when an operation is not supported by the backend.
	ErrNotSupported = errors.New("drivemover: operation not supported")

	// ErrUnknownBackend is returned by Open when the backend name is not registered.
	ErrUnknownBackend = errors.New("drivemover: unknown backend")

	// ErrUnknownCompression is returned for an unrecognized checkpoint compression name.
	ErrUnknownCompression = errors.New("drivemover: unknown compression")
)

// IsNotFound returns true if the error indicates a path was not found.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsPermissionDenied returns true if the error indicates permission was denied.
func IsPermissionDenied(err error) bool {
	return errors.Is(err, ErrPermissionDenied)
}

// APIError is a failure reported by the remote storage service.
// Drive implementations translate their transport errors into APIError
// so callers can classify failures without importing the service SDK.
type APIError struct {
	// Code is the HTTP status code, or 0 if unknown.
	Code int

	// Reason is the service's machine-readable reason, e.g. "rateLimitExceeded".
	Reason string

	// Message is the human-readable message.
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Reason != "" {
		return fmt.Sprintf("drive api error %d: %s", e.Code, e.Reason)
	}
	return fmt.Sprintf("drive api error %d", e.Code)
}

// Is matches ErrNotFound for 404 responses and ErrPermissionDenied for 403
// responses that are not rate limits.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Code == 404
	case ErrPermissionDenied:
		return e.Code == 403 && e.Reason != "rateLimitExceeded" && e.Reason != "userRateLimitExceeded"
	}
	return false
}

// Kind returns the error kind reported to callers of Start.
func (e *APIError) Kind() string {
	if e.Reason != "" {
		return e.Reason
	}
	switch {
	case e.Code == 404:
		return "notFound"
	case e.Code == 403:
		return "forbidden"
	case e.Code == 429:
		return "rateLimitExceeded"
	case e.Code >= 500:
		return "backendError"
	}
	return "unknown"
}

// ErrorKind classifies err into the "type" string of an error Result.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind()
	}
	switch {
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "deadlineExceeded"
	case errors.Is(err, ErrNotFound):
		return "notFound"
	case errors.Is(err, ErrPermissionDenied):
		return "forbidden"
	}
	return "unknown"
}
