package sftp

import (
	"errors"
	"os"
	"strconv"
	"time"
)

// Errors specific to the SFTP backend.
var (
	ErrHostRequired = errors.New("sftp: host is required")
	ErrUserRequired = errors.New("sftp: user is required")
	ErrNoAuth       = errors.New("sftp: password or key_file is required")
)

// Config holds configuration for the SFTP backend.
type Config struct {
	// Host is the SFTP server hostname or IP address (required).
	Host string

	// Port is the SSH port. Default: 22.
	Port int

	// User is the SSH username (required).
	User string

	// Password is the SSH password.
	// Either Password or KeyFile must be provided.
	Password string

	// KeyFile is the path to an SSH private key file.
	KeyFile string

	// KeyPassphrase is the passphrase for encrypted private keys.
	KeyPassphrase string

	// Root is the base directory on the remote server.
	// Checkpoint paths are relative to it.
	Root string

	// KnownHostsFile is the path to a known_hosts file used to verify the
	// server's host key. Empty means host keys are not verified.
	KnownHostsFile string

	// Timeout is the connection timeout.
	// Default: 30s.
	Timeout time.Duration
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		Port:    22,
		Timeout: 30 * time.Second,
	}
}

// ConfigFromEnv creates a Config from environment variables.
// Environment variables:
//   - DRIVEMOVER_SFTP_HOST: server hostname
//   - DRIVEMOVER_SFTP_PORT: SSH port (default: 22)
//   - DRIVEMOVER_SFTP_USER: username
//   - DRIVEMOVER_SFTP_PASSWORD: password
//   - DRIVEMOVER_SFTP_KEY_FILE: path to private key
//   - DRIVEMOVER_SFTP_KEY_PASSPHRASE: passphrase for encrypted key
//   - DRIVEMOVER_SFTP_ROOT: base directory
//   - DRIVEMOVER_SFTP_KNOWN_HOSTS: path to known_hosts file
//   - DRIVEMOVER_SFTP_TIMEOUT: connection timeout ("10s", or seconds)
func ConfigFromEnv() Config {
	return fromLookup(func(key string) string {
		return os.Getenv("DRIVEMOVER_SFTP_" + key)
	})
}

// ConfigFromMap creates a Config from a string map.
// Supported keys:
//   - host: server hostname (required)
//   - port: SSH port (default: 22)
//   - user: username (required)
//   - password: password
//   - key_file: path to private key
//   - key_passphrase: passphrase for encrypted key
//   - root: base directory
//   - known_hosts: path to known_hosts file
//   - timeout: connection timeout ("10s", or seconds)
func ConfigFromMap(m map[string]string) Config {
	keys := map[string]string{
		"HOST":           "host",
		"PORT":           "port",
		"USER":           "user",
		"PASSWORD":       "password",
		"KEY_FILE":       "key_file",
		"KEY_PASSPHRASE": "key_passphrase",
		"ROOT":           "root",
		"KNOWN_HOSTS":    "known_hosts",
		"TIMEOUT":        "timeout",
	}
	return fromLookup(func(key string) string {
		return m[keys[key]]
	})
}

func fromLookup(get func(key string) string) Config {
	config := DefaultConfig()

	config.Host = get("HOST")
	if port, err := strconv.Atoi(get("PORT")); err == nil && port > 0 {
		config.Port = port
	}
	config.User = get("USER")
	config.Password = get("PASSWORD")
	config.KeyFile = get("KEY_FILE")
	config.KeyPassphrase = get("KEY_PASSPHRASE")
	config.Root = get("ROOT")
	config.KnownHostsFile = get("KNOWN_HOSTS")
	if d := parseTimeout(get("TIMEOUT")); d > 0 {
		config.Timeout = d
	}

	return config
}

func parseTimeout(v string) time.Duration {
	if v == "" {
		return 0
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return 0
}

// Validate checks if the configuration is valid.
func (c Config) Validate() error {
	if c.Host == "" {
		return ErrHostRequired
	}
	if c.User == "" {
		return ErrUserRequired
	}
	if c.Password == "" && c.KeyFile == "" {
		return ErrNoAuth
	}
	return nil
}
