// Package sftp provides an SFTP backend for objectdal.
//
// Basic usage with password authentication:
//
//	backend, err := sftp.New(sftp.Config{
//	    Host:     "example.com",
//	    User:     "username",
//	    Password: "password",
//	})
//
// With SSH key authentication:
//
//	backend, err := sftp.New(sftp.Config{
//	    Host:    "example.com",
//	    User:    "username",
//	    KeyFile: "/path/to/id_rsa",
//	})
package sftp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"sync"
	"time"

	"github.com/grokify/mogo/log/slogutil"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/grokify/objectdal"
)

func init() {
	objectdal.Register(objectdal.SchemeSftp, NewFromConfig)
}

// pageSize is the number of entries returned per list page.
const pageSize = 256

// Backend is an Accessor over an SFTP server.
type Backend struct {
	objectdal.UnimplementedAccessor

	sshClient  *ssh.Client
	sftpClient *sftp.Client
	name       string
	root       string
	closed     bool
	mu         sync.RWMutex
}

// New dials the server and returns the backend.
func New(cfg Config) (*Backend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slogutil.Null()
	}

	var authMethods []ssh.AuthMethod
	if cfg.Password != "" {
		authMethods = append(authMethods, ssh.Password(cfg.Password))
	}
	if cfg.KeyFile != "" {
		keyAuth, err := keyFileAuth(cfg.KeyFile, cfg.KeyPassphrase)
		if err != nil {
			return nil, configError("load key file", err)
		}
		authMethods = append(authMethods, keyAuth)
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey() //nolint:gosec // G106: opt in to verification with KnownHostsFile
	if cfg.KnownHostsFile != "" {
		cb, err := knownhosts.New(cfg.KnownHostsFile)
		if err != nil {
			return nil, configError("load known hosts", err)
		}
		hostKeyCallback = cb
	} else {
		logger.Warn("sftp host key verification disabled", slog.String("host", cfg.Host))
	}

	sshConfig := &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            authMethods,
		Timeout:         time.Duration(cfg.Timeout) * time.Second,
		HostKeyCallback: hostKeyCallback,
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	sshClient, err := ssh.Dial("tcp", addr, sshConfig)
	if err != nil {
		return nil, objectdal.NewError(objectdal.ErrorKindUnexpected, "ssh connection failed").
			WithContext("service", objectdal.SchemeSftp).WithContext("addr", addr).
			WithSource(err).SetTemporary()
	}

	sftpClient, err := sftp.NewClient(sshClient)
	if err != nil {
		_ = sshClient.Close()
		return nil, objectdal.NewError(objectdal.ErrorKindUnexpected, "sftp session failed").
			WithContext("service", objectdal.SchemeSftp).WithContext("addr", addr).WithSource(err)
	}

	b, err := NewWithClient(sftpClient, cfg.Root)
	if err != nil {
		_ = sftpClient.Close()
		_ = sshClient.Close()
		return nil, err
	}
	b.sshClient = sshClient
	b.name = addr
	logger.Debug("sftp backend ready", slog.String("addr", addr), slog.String("root", b.root))
	return b, nil
}

// NewWithClient wraps an established SFTP session. A relative root is
// resolved against the session's working directory. Close closes client.
func NewWithClient(client *sftp.Client, root string) (*Backend, error) {
	if !path.IsAbs(root) {
		wd, err := client.Getwd()
		if err != nil {
			return nil, objectdal.NewError(objectdal.ErrorKindUnexpected, "resolve working directory").
				WithContext("service", objectdal.SchemeSftp).WithSource(err)
		}
		root = path.Join(wd, root)
	}
	return &Backend{
		sftpClient: client,
		root:       objectdal.NormalizeRoot(root),
	}, nil
}

// NewFromConfig creates a new SFTP backend from a config map.
// This is used by the objectdal registry.
func NewFromConfig(configMap map[string]string) (objectdal.Accessor, error) {
	return New(ConfigFromMap(configMap))
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

// Metadata describes the backend.
func (b *Backend) Metadata() objectdal.AccessorMetadata {
	return objectdal.AccessorMetadata{
		Scheme:       objectdal.SchemeSftp,
		Root:         b.root,
		Name:         b.name,
		Capabilities: objectdal.CapabilityRead | objectdal.CapabilityWrite | objectdal.CapabilityList,
		Hints:        objectdal.HintReadIsSeekable,
	}
}

func (b *Backend) fullPath(p string) string {
	return objectdal.BuildRootedAbsPath(b.root, p)
}

// Create creates an empty file or a directory, with any missing parents.
func (b *Backend) Create(ctx context.Context, p string, args objectdal.OpCreate) error {
	if err := b.check(ctx, objectdal.OperationCreate); err != nil {
		return err
	}
	full := b.fullPath(p)
	if args.Mode == objectdal.ObjectModeDir {
		if err := b.sftpClient.MkdirAll(full); err != nil {
			return translateError(err, objectdal.OperationCreate, p)
		}
		return nil
	}
	if err := b.sftpClient.MkdirAll(path.Dir(full)); err != nil {
		return translateError(err, objectdal.OperationCreate, p)
	}
	f, err := b.sftpClient.Create(full)
	if err != nil {
		return translateError(err, objectdal.OperationCreate, p)
	}
	return f.Close()
}

// Read opens p and serves the selected range. Suffix ranges are resolved
// against the file size. The reader is seekable within the range.
func (b *Backend) Read(ctx context.Context, p string, args objectdal.OpRead) (objectdal.RpRead, io.ReadCloser, error) {
	if err := b.check(ctx, objectdal.OperationRead); err != nil {
		return objectdal.RpRead{}, nil, err
	}
	f, err := b.sftpClient.Open(b.fullPath(p))
	if err != nil {
		return objectdal.RpRead{}, nil, translateError(err, objectdal.OperationRead, p)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return objectdal.RpRead{}, nil, translateError(err, objectdal.OperationRead, p)
	}
	if info.IsDir() {
		_ = f.Close()
		return objectdal.RpRead{}, nil, objectdal.NewError(objectdal.ErrorKindObjectIsADirectory, "path is a directory").
			WithOperation(objectdal.OperationRead).WithContext("service", objectdal.SchemeSftp).WithContext("path", p)
	}

	total := info.Size()
	rng := args.Range.Resolve(total)
	offset, size := rng.Apply(total)
	meta := objectdal.NewObjectMetadata(objectdal.ObjectModeFile).WithContentLength(size)
	meta.LastModified = info.ModTime()
	if !rng.IsFull() {
		cr := objectdal.NewBytesContentRange(offset, size, total)
		meta.ContentRange = &cr
	}
	return objectdal.RpRead{Metadata: meta}, objectdal.NewRangeReader(f, offset, size, f), nil
}

// Write stores the body at p, creating missing parents.
func (b *Backend) Write(ctx context.Context, p string, args objectdal.OpWrite, r io.Reader) (objectdal.RpWrite, error) {
	if err := b.check(ctx, objectdal.OperationWrite); err != nil {
		return objectdal.RpWrite{}, err
	}
	full := b.fullPath(p)
	if err := b.sftpClient.MkdirAll(path.Dir(full)); err != nil {
		return objectdal.RpWrite{}, translateError(err, objectdal.OperationWrite, p)
	}
	f, err := b.sftpClient.Create(full)
	if err != nil {
		return objectdal.RpWrite{}, translateError(err, objectdal.OperationWrite, p)
	}
	if args.Size >= 0 {
		r = io.LimitReader(r, args.Size)
	}
	n, err := io.Copy(f, r)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return objectdal.RpWrite{}, translateError(err, objectdal.OperationWrite, p)
	}
	return objectdal.RpWrite{Written: n}, nil
}

// Stat returns the metadata of p. A file asked for as a directory, or the
// other way round, is not found.
func (b *Backend) Stat(ctx context.Context, p string, _ objectdal.OpStat) (objectdal.ObjectMetadata, error) {
	if err := b.check(ctx, objectdal.OperationStat); err != nil {
		return objectdal.ObjectMetadata{}, err
	}
	info, err := b.sftpClient.Stat(b.fullPath(p))
	if err != nil {
		return objectdal.ObjectMetadata{}, translateError(err, objectdal.OperationStat, p)
	}
	meta := metadataOf(info)
	if p != "/" && meta.Mode != objectdal.ModeOfPath(p) {
		return objectdal.ObjectMetadata{}, objectdal.NewError(objectdal.ErrorKindObjectNotFound, "object mode mismatch").
			WithOperation(objectdal.OperationStat).WithContext("service", objectdal.SchemeSftp).WithContext("path", p)
	}
	return meta, nil
}

func metadataOf(info fs.FileInfo) objectdal.ObjectMetadata {
	switch {
	case info.IsDir():
		meta := objectdal.NewObjectMetadata(objectdal.ObjectModeDir)
		meta.LastModified = info.ModTime()
		return meta.WithComplete()
	case info.Mode().IsRegular():
		meta := objectdal.NewObjectMetadata(objectdal.ObjectModeFile).WithContentLength(info.Size())
		meta.LastModified = info.ModTime()
		return meta.WithComplete()
	default:
		return objectdal.NewObjectMetadata(objectdal.ObjectModeUnknown)
	}
}

// Delete removes a file or an empty directory. Missing paths are ignored.
func (b *Backend) Delete(ctx context.Context, p string, _ objectdal.OpDelete) error {
	if err := b.check(ctx, objectdal.OperationDelete); err != nil {
		return err
	}
	full := b.fullPath(p)
	info, err := b.sftpClient.Stat(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return translateError(err, objectdal.OperationDelete, p)
	}
	if info.IsDir() {
		err = b.sftpClient.RemoveDirectory(full)
	} else {
		err = b.sftpClient.Remove(full)
	}
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return translateError(err, objectdal.OperationDelete, p)
	}
	return nil
}

// List returns the direct children of p. A missing directory lists nothing.
func (b *Backend) List(ctx context.Context, p string, _ objectdal.OpList) (objectdal.Pager, error) {
	if err := b.check(ctx, objectdal.OperationList); err != nil {
		return nil, err
	}
	if !objectdal.ModeOfPath(p).IsDir() {
		return nil, objectdal.NewError(objectdal.ErrorKindObjectNotADirectory, "list requires a directory").
			WithOperation(objectdal.OperationList).WithContext("service", objectdal.SchemeSftp).WithContext("path", p)
	}
	infos, err := b.sftpClient.ReadDir(b.fullPath(p))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return objectdal.EmptyPager(), nil
		}
		return nil, translateError(err, objectdal.OperationList, p)
	}

	dir := p
	if dir == "/" {
		dir = ""
	}
	entries := make([]objectdal.ObjectEntry, 0, len(infos))
	for _, info := range infos {
		meta := metadataOf(info)
		rel := dir + info.Name()
		if meta.Mode.IsDir() {
			rel += "/"
		}
		entries = append(entries, objectdal.NewObjectEntry(rel, meta))
	}
	return objectdal.NewSlicePager(entries, pageSize), nil
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
		if err := b.sftpClient.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if b.sshClient != nil {
		if err := b.sshClient.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (b *Backend) check(ctx context.Context, op objectdal.Operation) error {
	if err := ctx.Err(); err != nil {
		return objectdal.AsError(err).WithOperation(op)
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return objectdal.NewError(objectdal.ErrorKindUnexpected, "backend is closed").
			WithOperation(op).WithContext("service", objectdal.SchemeSftp)
	}
	return nil
}

// translateError maps SFTP and OS errors onto objectdal error kinds.
func translateError(err error, op objectdal.Operation, p string) error {
	kind := objectdal.ErrorKindUnexpected
	switch {
	case errors.Is(err, fs.ErrNotExist):
		kind = objectdal.ErrorKindObjectNotFound
	case errors.Is(err, fs.ErrPermission):
		kind = objectdal.ErrorKindObjectPermissionDenied
	case errors.Is(err, fs.ErrExist):
		kind = objectdal.ErrorKindObjectAlreadyExists
	}
	e := objectdal.NewError(kind, "sftp request failed").
		WithOperation(op).
		WithContext("service", objectdal.SchemeSftp).
		WithContext("path", p).
		WithSource(err)
	var statusErr *sftp.StatusError
	if errors.As(err, &statusErr) {
		e = e.WithContext("status", statusErr.Code)
	}
	return e
}

var _ objectdal.Accessor = (*Backend)(nil)
