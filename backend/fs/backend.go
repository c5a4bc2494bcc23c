// Package fs provides a local filesystem backend for objectdal.
//
// Writes can be made atomic by pointing AtomicWriteDir at a scratch
// directory on the same filesystem as Root: data lands in a scratch file
// named "<basename>.<uuid>" and is renamed into place once complete.
package fs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/google/uuid"
	"github.com/grokify/mogo/log/slogutil"

	"github.com/grokify/objectdal"
)

func init() {
	objectdal.Register(objectdal.SchemeFs, NewFromConfig)
}

// pageSize is the number of directory entries returned per page.
const pageSize = 256

// Config holds configuration for the fs backend.
type Config struct {
	// Root is the root directory for all operations. It is created if missing.
	Root string

	// AtomicWriteDir enables atomic writes through a scratch directory.
	// It must live on the same filesystem as Root.
	AtomicWriteDir string

	// DirPermissions is the permission mode for created directories.
	// Default: 0755
	DirPermissions os.FileMode

	// FilePermissions is the permission mode for created files.
	// Default: 0644
	FilePermissions os.FileMode

	// Logger receives debug records from the builder. Default: discard.
	Logger *slog.Logger
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Root:            ".",
		DirPermissions:  0755,
		FilePermissions: 0644,
	}
}

// ConfigFromMap creates a Config from a string map.
// Supported keys:
//   - root: root directory (default: ".")
//   - atomic_write_dir: scratch directory for atomic writes
func ConfigFromMap(m map[string]string) Config {
	cfg := DefaultConfig()
	if v := m["root"]; v != "" {
		cfg.Root = v
	}
	cfg.AtomicWriteDir = m["atomic_write_dir"]
	return cfg
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Root) == "" {
		return objectdal.NewError(objectdal.ErrorKindBackendConfigInvalid, "root is empty").
			WithContext("service", objectdal.SchemeFs)
	}
	return nil
}

// Backend is an Accessor over a local directory tree.
type Backend struct {
	objectdal.UnimplementedAccessor

	config    Config
	root      string
	atomicDir string
	closed    bool
	mu        sync.RWMutex
}

// New creates the root (and the atomic write directory) and returns the backend.
func New(config Config) (*Backend, error) {
	if config.Root == "" {
		config.Root = "."
	}
	if config.DirPermissions == 0 {
		config.DirPermissions = 0755
	}
	if config.FilePermissions == 0 {
		config.FilePermissions = 0644
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	logger := config.Logger
	if logger == nil {
		logger = slogutil.Null()
	}

	root, err := filepath.Abs(config.Root)
	if err != nil {
		return nil, configError("resolve root", config.Root, err)
	}
	if err := os.MkdirAll(root, config.DirPermissions); err != nil {
		return nil, configError("create root", root, err)
	}

	b := &Backend{config: config, root: root}
	if config.AtomicWriteDir != "" {
		dir, err := filepath.Abs(config.AtomicWriteDir)
		if err != nil {
			return nil, configError("resolve atomic write dir", config.AtomicWriteDir, err)
		}
		if err := os.MkdirAll(dir, config.DirPermissions); err != nil {
			return nil, configError("create atomic write dir", dir, err)
		}
		if err := probeRename(dir, root); err != nil {
			return nil, configError("atomic write dir must share a filesystem with root", dir, err)
		}
		b.atomicDir = dir
	}
	logger.Debug("fs backend ready",
		slog.String("root", root),
		slog.String("atomic_write_dir", b.atomicDir))
	return b, nil
}

// NewFromConfig creates an fs backend from a config map.
func NewFromConfig(m map[string]string) (objectdal.Accessor, error) {
	return New(ConfigFromMap(m))
}

// probeRename checks that a file can be renamed from dir into root.
func probeRename(dir, root string) error {
	name := ".objectdal-probe." + uuid.NewString()
	src := filepath.Join(dir, name)
	if err := os.WriteFile(src, nil, 0600); err != nil {
		return err
	}
	dst := filepath.Join(root, name)
	if err := os.Rename(src, dst); err != nil {
		_ = os.Remove(src)
		return err
	}
	return os.Remove(dst)
}

func configError(msg, path string, err error) error {
	return objectdal.NewError(objectdal.ErrorKindBackendConfigInvalid, msg).
		WithContext("service", objectdal.SchemeFs).WithContext("path", path).WithSource(err)
}

// Metadata describes the backend.
func (b *Backend) Metadata() objectdal.AccessorMetadata {
	return objectdal.AccessorMetadata{
		Scheme: objectdal.SchemeFs,
		Root:   objectdal.NormalizeRoot(filepath.ToSlash(b.root)),
		Capabilities: objectdal.CapabilityRead | objectdal.CapabilityWrite |
			objectdal.CapabilityList | objectdal.CapabilityBlocking,
		Hints: objectdal.HintReadIsSeekable,
	}
}

// Create creates an empty file or a directory, with any missing parents.
func (b *Backend) Create(ctx context.Context, p string, args objectdal.OpCreate) error {
	if err := b.check(ctx, objectdal.OperationCreate, p); err != nil {
		return err
	}
	full := b.fullPath(p)
	if args.Mode == objectdal.ObjectModeDir {
		if err := os.MkdirAll(full, b.config.DirPermissions); err != nil {
			return parseIOError(err, objectdal.OperationCreate, p)
		}
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(full), b.config.DirPermissions); err != nil {
		return parseIOError(err, objectdal.OperationCreate, p)
	}
	f, err := os.OpenFile(full, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, b.config.FilePermissions)
	if err != nil {
		return parseIOError(err, objectdal.OperationCreate, p)
	}
	return f.Close()
}

// Read opens the file and serves the selected range. The reader is seekable
// within the range.
func (b *Backend) Read(ctx context.Context, p string, args objectdal.OpRead) (objectdal.RpRead, io.ReadCloser, error) {
	if err := b.check(ctx, objectdal.OperationRead, p); err != nil {
		return objectdal.RpRead{}, nil, err
	}
	f, err := os.Open(b.fullPath(p))
	if err != nil {
		return objectdal.RpRead{}, nil, parseIOError(err, objectdal.OperationRead, p)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return objectdal.RpRead{}, nil, parseIOError(err, objectdal.OperationRead, p)
	}
	if err := checkMode(info, objectdal.OperationRead, p); err != nil {
		_ = f.Close()
		return objectdal.RpRead{}, nil, err
	}
	if info.IsDir() {
		_ = f.Close()
		return objectdal.RpRead{}, nil, objectdal.NewError(objectdal.ErrorKindObjectIsADirectory, "path is a directory").
			WithOperation(objectdal.OperationRead).WithContext("service", objectdal.SchemeFs).WithContext("path", p)
	}

	total := info.Size()
	offset, size := args.Range.Apply(total)
	meta := objectdal.NewObjectMetadata(objectdal.ObjectModeFile).WithContentLength(size)
	meta.LastModified = info.ModTime()
	if !args.Range.IsFull() {
		cr := objectdal.NewBytesContentRange(offset, size, total)
		meta.ContentRange = &cr
	}
	return objectdal.RpRead{Metadata: meta}, objectdal.NewRangeReader(f, offset, size, f), nil
}

// Write stores the body at p, creating parent directories. With an atomic
// write directory the file appears only once fully written.
func (b *Backend) Write(ctx context.Context, p string, args objectdal.OpWrite, r io.Reader) (objectdal.RpWrite, error) {
	if err := b.check(ctx, objectdal.OperationWrite, p); err != nil {
		return objectdal.RpWrite{}, err
	}
	if objectdal.ModeOfPath(p).IsDir() {
		return objectdal.RpWrite{}, objectdal.NewError(objectdal.ErrorKindObjectIsADirectory, "write requires a file path").
			WithOperation(objectdal.OperationWrite).WithContext("service", objectdal.SchemeFs).WithContext("path", p)
	}
	full := b.fullPath(p)
	if err := os.MkdirAll(filepath.Dir(full), b.config.DirPermissions); err != nil {
		return objectdal.RpWrite{}, parseIOError(err, objectdal.OperationWrite, p)
	}

	target := full
	if b.atomicDir != "" {
		// Orphaned scratch files are left for external cleanup.
		target = filepath.Join(b.atomicDir, filepath.Base(full)+"."+uuid.NewString())
	}
	f, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, b.config.FilePermissions)
	if err != nil {
		return objectdal.RpWrite{}, parseIOError(err, objectdal.OperationWrite, p)
	}
	n, err := io.Copy(f, r)
	if err != nil {
		_ = f.Close()
		return objectdal.RpWrite{}, objectdal.AsError(err).
			WithOperation(objectdal.OperationWrite).WithContext("service", objectdal.SchemeFs).WithContext("path", p)
	}
	if err := f.Close(); err != nil {
		return objectdal.RpWrite{}, parseIOError(err, objectdal.OperationWrite, p)
	}
	if target != full {
		if err := os.Rename(target, full); err != nil {
			return objectdal.RpWrite{}, parseIOError(err, objectdal.OperationWrite, p)
		}
	}
	return objectdal.RpWrite{Written: n}, nil
}

// Stat returns the metadata of p. A path whose trailing slash disagrees with
// what is on disk is reported as not found.
func (b *Backend) Stat(ctx context.Context, p string, _ objectdal.OpStat) (objectdal.ObjectMetadata, error) {
	if err := b.check(ctx, objectdal.OperationStat, p); err != nil {
		return objectdal.ObjectMetadata{}, err
	}
	info, err := b.statChecked(b.fullPath(p), objectdal.OperationStat, p)
	if err != nil {
		return objectdal.ObjectMetadata{}, err
	}
	return metadataOf(info), nil
}

// statChecked stats full and rejects entries whose kind disagrees with the
// trailing slash of p: "a/" never names a file and "a" never a directory.
func (b *Backend) statChecked(full string, op objectdal.Operation, p string) (fs.FileInfo, error) {
	info, err := os.Stat(full)
	if err != nil {
		return nil, parseIOError(err, op, p)
	}
	if err := checkMode(info, op, p); err != nil {
		return nil, err
	}
	return info, nil
}

func checkMode(info fs.FileInfo, op objectdal.Operation, p string) error {
	if p == "/" || info.IsDir() == strings.HasSuffix(p, "/") {
		return nil
	}
	return objectdal.NewError(objectdal.ErrorKindObjectNotFound, "object mode does not match path").
		WithOperation(op).WithContext("service", objectdal.SchemeFs).WithContext("path", p)
}

func metadataOf(info fs.FileInfo) objectdal.ObjectMetadata {
	var meta objectdal.ObjectMetadata
	switch {
	case info.IsDir():
		meta = objectdal.NewObjectMetadata(objectdal.ObjectModeDir)
	case info.Mode().IsRegular():
		meta = objectdal.NewObjectMetadata(objectdal.ObjectModeFile).WithContentLength(info.Size())
	default:
		meta = objectdal.NewObjectMetadata(objectdal.ObjectModeUnknown)
	}
	meta.LastModified = info.ModTime()
	return meta.WithComplete()
}

// Delete removes a file or an empty directory. A missing path is not an error.
func (b *Backend) Delete(ctx context.Context, p string, _ objectdal.OpDelete) error {
	if err := b.check(ctx, objectdal.OperationDelete, p); err != nil {
		return err
	}
	full := b.fullPath(p)
	info, err := b.statChecked(full, objectdal.OperationDelete, p)
	if objectdal.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if info.IsDir() {
		err = syscall.Rmdir(full)
	} else {
		err = syscall.Unlink(full)
	}
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return parseIOError(&os.PathError{Op: "remove", Path: full, Err: err}, objectdal.OperationDelete, p)
	}
	return nil
}

// List pages through a directory. A missing directory lists nothing.
func (b *Backend) List(ctx context.Context, p string, _ objectdal.OpList) (objectdal.Pager, error) {
	if err := b.check(ctx, objectdal.OperationList, p); err != nil {
		return nil, err
	}
	f, err := os.Open(b.fullPath(p))
	if errors.Is(err, fs.ErrNotExist) {
		return objectdal.EmptyPager(), nil
	}
	if err != nil {
		return nil, parseIOError(err, objectdal.OperationList, p)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, parseIOError(err, objectdal.OperationList, p)
	}
	if !info.IsDir() {
		_ = f.Close()
		return nil, objectdal.NewError(objectdal.ErrorKindObjectNotADirectory, "list requires a directory").
			WithOperation(objectdal.OperationList).WithContext("service", objectdal.SchemeFs).WithContext("path", p)
	}
	dir := p
	if dir == "/" {
		dir = ""
	}
	return &dirPager{f: f, dir: dir}, nil
}

type dirPager struct {
	f   *os.File
	dir string
}

func (d *dirPager) NextPage(ctx context.Context) ([]objectdal.ObjectEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d.f == nil {
		return nil, io.EOF
	}
	des, err := d.f.ReadDir(pageSize)
	if err == io.EOF || (err == nil && len(des) == 0) {
		return nil, io.EOF
	}
	if err != nil {
		return nil, parseIOError(err, objectdal.OperationPagerNext, d.dir)
	}
	entries := make([]objectdal.ObjectEntry, 0, len(des))
	for _, de := range des {
		info, err := de.Info()
		if errors.Is(err, fs.ErrNotExist) {
			// Removed between ReadDir and Info.
			continue
		}
		if err != nil {
			return nil, parseIOError(err, objectdal.OperationPagerNext, d.dir+de.Name())
		}
		meta := metadataOf(info)
		path := d.dir + de.Name()
		if meta.Mode.IsDir() {
			path += "/"
		}
		entries = append(entries, objectdal.NewObjectEntry(path, meta))
	}
	return entries, nil
}

func (d *dirPager) Close() error {
	if d.f == nil {
		return nil
	}
	err := d.f.Close()
	d.f = nil
	return err
}

// Close marks the backend closed. Later calls fail.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// fullPath returns the filesystem path for a relative path.
func (b *Backend) fullPath(p string) string {
	if p == "/" {
		return b.root
	}
	return filepath.Join(b.root, filepath.FromSlash(p))
}

// check rejects calls on a closed backend, canceled contexts and paths
// escaping the root.
func (b *Backend) check(ctx context.Context, op objectdal.Operation, p string) error {
	if err := ctx.Err(); err != nil {
		return objectdal.AsError(err).WithOperation(op)
	}
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return objectdal.NewError(objectdal.ErrorKindUnexpected, "backend is closed").
			WithOperation(op).WithContext("service", objectdal.SchemeFs)
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return objectdal.NewError(objectdal.ErrorKindObjectPermissionDenied, "path escapes root").
				WithOperation(op).WithContext("service", objectdal.SchemeFs).WithContext("path", p)
		}
	}
	return nil
}

// parseIOError maps an OS error onto an error kind.
func parseIOError(err error, op objectdal.Operation, p string) error {
	kind := objectdal.ErrorKindUnexpected
	switch {
	case errors.Is(err, fs.ErrNotExist):
		kind = objectdal.ErrorKindObjectNotFound
	case errors.Is(err, fs.ErrPermission):
		kind = objectdal.ErrorKindObjectPermissionDenied
	case errors.Is(err, fs.ErrExist):
		kind = objectdal.ErrorKindObjectAlreadyExists
	case errors.Is(err, syscall.EISDIR):
		kind = objectdal.ErrorKindObjectIsADirectory
	case errors.Is(err, syscall.ENOTDIR):
		kind = objectdal.ErrorKindObjectNotADirectory
	}
	return objectdal.NewError(kind, fmt.Sprintf("%s failed", op)).
		WithOperation(op).WithContext("service", objectdal.SchemeFs).WithContext("path", p).WithSource(err)
}

var _ objectdal.Accessor = (*Backend)(nil)
