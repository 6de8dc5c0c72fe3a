package drivemover

import (
	"crypto/md5" //nolint:gosec // MD5 is only an upload integrity check
	"crypto/sha256"
	"encoding/hex"
	"hash"
)

// HashType names a digest algorithm.
type HashType string

const (
	// HashSHA256 keys checkpoints.
	HashSHA256 HashType = "sha256"

	// HashMD5 is sent as Content-MD5 by backends that verify uploads (S3).
	HashMD5 HashType = "md5"
)

// NewHash creates a new hash.Hash for the given hash type.
// Returns nil if the hash type is not supported.
func NewHash(t HashType) hash.Hash {
	switch t {
	case HashSHA256:
		return sha256.New()
	case HashMD5:
		return md5.New() //nolint:gosec // upload integrity check
	default:
		return nil
	}
}

// HashBytes computes the hex-encoded digest of data.
// Returns "" for an unsupported hash type.
func HashBytes(data []byte, t HashType) string {
	sum := SumBytes(data, t)
	if sum == nil {
		return ""
	}
	return hex.EncodeToString(sum)
}

// SumBytes computes the raw digest of data, or nil for an unsupported hash type.
func SumBytes(data []byte, t HashType) []byte {
	h := NewHash(t)
	if h == nil {
		return nil
	}
	h.Write(data)
	return h.Sum(nil)
}
