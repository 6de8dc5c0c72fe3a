// Package sftp provides a checkpoint backend on a remote host over SFTP.
//
// Basic usage with key authentication:
//
//	backend, err := sftp.New(sftp.Config{
//	    Host:           "backup.example.com",
//	    User:           "drivemover",
//	    KeyFile:        "/home/me/.ssh/id_ed25519",
//	    KnownHostsFile: "/home/me/.ssh/known_hosts",
//	    Root:           "/var/lib/drivemover",
//	})
package sftp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"os"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/grokify/drivemover"
)

func init() {
	drivemover.Register("sftp", NewFromConfig)
}

// Backend implements drivemover.Backend over SFTP.
type Backend struct {
	sshClient  *ssh.Client
	sftpClient *sftp.Client
	config     Config
	closed     bool
	mu         sync.RWMutex
}

// New connects to the server and creates a backend.
func New(cfg Config) (*Backend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	sshConfig, err := clientConfig(cfg)
	if err != nil {
		return nil, err
	}

	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	sshClient, err := ssh.Dial("tcp", addr, sshConfig)
	if err != nil {
		return nil, fmt.Errorf("sftp: SSH connection failed: %w", err)
	}

	sftpClient, err := sftp.NewClient(sshClient)
	if err != nil {
		_ = sshClient.Close()
		return nil, fmt.Errorf("sftp: SFTP session failed: %w", err)
	}

	return &Backend{sshClient: sshClient, sftpClient: sftpClient, config: cfg}, nil
}

// NewFromConfig creates a new SFTP backend from a config map.
func NewFromConfig(configMap map[string]string) (drivemover.Backend, error) {
	return New(ConfigFromMap(configMap))
}

func clientConfig(cfg Config) (*ssh.ClientConfig, error) {
	var auth []ssh.AuthMethod
	if cfg.Password != "" {
		auth = append(auth, ssh.Password(cfg.Password))
	}
	if cfg.KeyFile != "" {
		keyAuth, err := keyFileAuth(cfg.KeyFile, cfg.KeyPassphrase)
		if err != nil {
			return nil, fmt.Errorf("sftp: loading key file: %w", err)
		}
		auth = append(auth, keyAuth)
	}

	hostKey, err := hostKeyCallback(cfg.KnownHostsFile)
	if err != nil {
		return nil, err
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            auth,
		Timeout:         timeout,
		HostKeyCallback: hostKey,
	}, nil
}

func hostKeyCallback(knownHostsFile string) (ssh.HostKeyCallback, error) {
	if knownHostsFile == "" {
		return ssh.InsecureIgnoreHostKey(), nil //nolint:gosec // G106: opt-in via known_hosts
	}
	cb, err := knownhosts.New(knownHostsFile)
	if err != nil {
		return nil, fmt.Errorf("sftp: loading known_hosts: %w", err)
	}
	return cb, nil
}

// keyFileAuth creates an SSH auth method from a private key file.
func keyFileAuth(keyFile, passphrase string) (ssh.AuthMethod, error) {
	keyData, err := os.ReadFile(keyFile)
	if err != nil {
		return nil, fmt.Errorf("reading key file: %w", err)
	}

	var signer ssh.Signer
	if passphrase != "" {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(keyData, []byte(passphrase))
	} else {
		signer, err = ssh.ParsePrivateKey(keyData)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}
	return ssh.PublicKeys(signer), nil
}

// NewWriter creates a writer for the given path. Data goes to a temporary
// file next to the target that is renamed over it on Close.
func (b *Backend) NewWriter(ctx context.Context, p string, _ ...drivemover.WriterOption) (io.WriteCloser, error) {
	if err := b.begin(ctx); err != nil {
		return nil, err
	}

	target := b.fullPath(p)
	if err := b.sftpClient.MkdirAll(path.Dir(target)); err != nil {
		return nil, fmt.Errorf("sftp: creating directory: %w", err)
	}

	tmp := path.Join(path.Dir(target), "."+path.Base(target)+".tmp")
	f, err := b.sftpClient.Create(tmp)
	if err != nil {
		return nil, b.translateError(err, p)
	}
	return &renameWriter{backend: b, f: f, tmp: tmp, target: target}, nil
}

// NewReader creates a reader for the given path.
func (b *Backend) NewReader(ctx context.Context, p string) (io.ReadCloser, error) {
	if err := b.begin(ctx); err != nil {
		return nil, err
	}

	f, err := b.sftpClient.Open(b.fullPath(p))
	if err != nil {
		return nil, b.translateError(err, p)
	}
	return f, nil
}

// Exists checks if a path exists.
func (b *Backend) Exists(ctx context.Context, p string) (bool, error) {
	if err := b.begin(ctx); err != nil {
		return false, err
	}

	_, err := b.sftpClient.Stat(b.fullPath(p))
	if err == nil {
		return true, nil
	}
	if err := b.translateError(err, p); !errors.Is(err, drivemover.ErrNotFound) {
		return false, err
	}
	return false, nil
}

// Delete removes a path. Deleting a missing path is not an error.
func (b *Backend) Delete(ctx context.Context, p string) error {
	if err := b.begin(ctx); err != nil {
		return err
	}

	err := b.sftpClient.Remove(b.fullPath(p))
	if err == nil {
		return nil
	}
	if err := b.translateError(err, p); !errors.Is(err, drivemover.ErrNotFound) {
		return err
	}
	return nil
}

// List lists paths under prefix, relative to Root.
func (b *Backend) List(ctx context.Context, prefix string) ([]string, error) {
	if err := b.begin(ctx); err != nil {
		return nil, err
	}

	fullPrefix := b.fullPath(prefix)
	dir, namePrefix := fullPrefix, ""
	if info, err := b.sftpClient.Stat(fullPrefix); err != nil || !info.IsDir() {
		dir, namePrefix = path.Dir(fullPrefix), path.Base(fullPrefix)
	}

	paths := []string{}
	if err := b.walkDir(ctx, dir, namePrefix, &paths); err != nil {
		return nil, err
	}
	return paths, nil
}

func (b *Backend) walkDir(ctx context.Context, dir, namePrefix string, paths *[]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	entries, err := b.sftpClient.ReadDir(dir)
	if err != nil {
		if errors.Is(b.translateError(err, dir), drivemover.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("sftp: listing directory: %w", err)
	}

	for _, entry := range entries {
		name := entry.Name()
		if namePrefix != "" && !strings.HasPrefix(name, namePrefix) {
			continue
		}
		entryPath := path.Join(dir, name)
		if entry.IsDir() {
			if err := b.walkDir(ctx, entryPath, "", paths); err != nil {
				return err
			}
			continue
		}
		if strings.HasPrefix(name, ".") && strings.HasSuffix(name, ".tmp") {
			continue
		}
		*paths = append(*paths, b.relPath(entryPath))
	}
	return nil
}

// Close closes the SFTP session and the SSH connection.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	var errs []error
	if b.sftpClient != nil {
		errs = append(errs, b.sftpClient.Close())
	}
	if b.sshClient != nil {
		errs = append(errs, b.sshClient.Close())
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("sftp: close: %w", err)
	}
	return nil
}

func (b *Backend) begin(ctx context.Context) error {
	if err := b.checkClosed(); err != nil {
		return err
	}
	return ctx.Err()
}

func (b *Backend) fullPath(p string) string {
	if b.config.Root == "" {
		return p
	}
	return path.Join(b.config.Root, p)
}

func (b *Backend) relPath(full string) string {
	if b.config.Root == "" {
		return full
	}
	return strings.TrimPrefix(strings.TrimPrefix(full, b.config.Root), "/")
}

func (b *Backend) checkClosed() error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return drivemover.ErrBackendClosed
	}
	return nil
}

// translateError converts SFTP errors to drivemover errors.
func (b *Backend) translateError(err error, p string) error {
	if err == nil {
		return nil
	}

	var statusErr *sftp.StatusError
	if errors.As(err, &statusErr) {
		switch statusErr.FxCode() {
		case sftp.ErrSSHFxNoSuchFile:
			return drivemover.ErrNotFound
		case sftp.ErrSSHFxPermissionDenied:
			return drivemover.ErrPermissionDenied
		}
	}
	if errors.Is(err, fs.ErrNotExist) {
		return drivemover.ErrNotFound
	}
	if errors.Is(err, fs.ErrPermission) {
		return drivemover.ErrPermissionDenied
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("sftp: network error for %q: %w", p, err)
	}
	return fmt.Errorf("sftp: %q: %w", p, err)
}

// renameWriter uploads to a temporary file and renames it into place on Close.
type renameWriter struct {
	backend *Backend
	f       *sftp.File
	tmp     string
	target  string
	closed  bool
	mu      sync.Mutex
}

func (w *renameWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return 0, drivemover.ErrWriterClosed
	}
	return w.f.Write(p)
}

func (w *renameWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	client := w.backend.sftpClient
	if err := w.f.Close(); err != nil {
		_ = client.Remove(w.tmp)
		return fmt.Errorf("sftp: closing %s: %w", w.target, err)
	}
	// posix-rename@openssh.com replaces the target; plain SFTP rename refuses to.
	if err := client.PosixRename(w.tmp, w.target); err != nil {
		_ = client.Remove(w.target)
		if err := client.Rename(w.tmp, w.target); err != nil {
			_ = client.Remove(w.tmp)
			return fmt.Errorf("sftp: renaming into %s: %w", w.target, err)
		}
	}
	return nil
}

var _ drivemover.Backend = (*Backend)(nil)
