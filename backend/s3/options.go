package s3

import (
	"os"
)

// Config holds configuration for the S3 backend.
type Config struct {
	// Bucket is the S3 bucket name (required).
	Bucket string

	// Region is the AWS region (e.g., "us-east-1").
	// If empty, uses AWS_REGION or AWS_DEFAULT_REGION environment variable.
	Region string

	// Endpoint is a custom endpoint URL for S3-compatible services
	// such as MinIO ("http://localhost:9000") or Cloudflare R2.
	// Leave empty for AWS S3.
	Endpoint string

	// Prefix is an optional prefix for all keys.
	Prefix string

	// AccessKeyID is the AWS access key ID.
	// If empty, the SDK's default credential chain is used.
	AccessKeyID string

	// SecretAccessKey is the AWS secret access key.
	SecretAccessKey string

	// SessionToken is an optional session token for temporary credentials.
	SessionToken string

	// UsePathStyle forces path-style addressing. MinIO needs it.
	UsePathStyle bool

	// ServerSideEncryption is sent with every upload, e.g. "AES256" or "aws:kms".
	ServerSideEncryption string
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{}
}

// ConfigFromEnv creates a Config from environment variables.
// Environment variables:
//   - DRIVEMOVER_S3_BUCKET or AWS_S3_BUCKET: bucket name
//   - DRIVEMOVER_S3_REGION or AWS_REGION or AWS_DEFAULT_REGION: region
//   - DRIVEMOVER_S3_ENDPOINT: custom endpoint
//   - DRIVEMOVER_S3_PREFIX: key prefix
//   - AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY, AWS_SESSION_TOKEN: credentials
//   - DRIVEMOVER_S3_USE_PATH_STYLE: "true" for path-style addressing
//   - DRIVEMOVER_S3_SSE: server-side encryption algorithm
func ConfigFromEnv() Config {
	config := DefaultConfig()

	config.Bucket = firstEnv("DRIVEMOVER_S3_BUCKET", "AWS_S3_BUCKET")
	config.Region = firstEnv("DRIVEMOVER_S3_REGION", "AWS_REGION", "AWS_DEFAULT_REGION")
	config.Endpoint = os.Getenv("DRIVEMOVER_S3_ENDPOINT")
	config.Prefix = os.Getenv("DRIVEMOVER_S3_PREFIX")
	config.AccessKeyID = os.Getenv("AWS_ACCESS_KEY_ID")
	config.SecretAccessKey = os.Getenv("AWS_SECRET_ACCESS_KEY")
	config.SessionToken = os.Getenv("AWS_SESSION_TOKEN")
	config.UsePathStyle = isTrue(os.Getenv("DRIVEMOVER_S3_USE_PATH_STYLE"))
	config.ServerSideEncryption = os.Getenv("DRIVEMOVER_S3_SSE")

	return config
}

// ConfigFromMap creates a Config from a string map.
// Supported keys:
//   - bucket: bucket name (required)
//   - region: AWS region
//   - endpoint: custom endpoint URL
//   - prefix: key prefix
//   - access_key_id, secret_access_key, session_token: credentials
//   - use_path_style: "true" for path-style addressing
//   - sse: server-side encryption algorithm
func ConfigFromMap(m map[string]string) Config {
	config := DefaultConfig()

	config.Bucket = m["bucket"]
	config.Region = m["region"]
	config.Endpoint = m["endpoint"]
	config.Prefix = m["prefix"]
	config.AccessKeyID = m["access_key_id"]
	config.SecretAccessKey = m["secret_access_key"]
	config.SessionToken = m["session_token"]
	config.UsePathStyle = isTrue(m["use_path_style"])
	config.ServerSideEncryption = m["sse"]

	return config
}

// Validate checks if the configuration is valid.
func (c Config) Validate() error {
	if c.Bucket == "" {
		return ErrBucketRequired
	}
	switch c.ServerSideEncryption {
	case "", "AES256", "aws:kms", "aws:kms:dsse":
	default:
		return ErrInvalidEncryption
	}
	return nil
}

func firstEnv(names ...string) string {
	for _, n := range names {
		if v := os.Getenv(n); v != "" {
			return v
		}
	}
	return ""
}

func isTrue(v string) bool {
	return v == "true" || v == "1"
}
