// Package hdfs provides an HDFS backend for objectdal, talking to the
// namenode over its native RPC protocol.
package hdfs

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"strings"

	"github.com/colinmarc/hdfs/v2"
	"github.com/grokify/mogo/log/slogutil"

	"github.com/grokify/objectdal"
)

func init() {
	objectdal.Register(objectdal.SchemeHdfs, NewFromConfig)
}

const pageSize = 256

// Backend is an Accessor over an HDFS cluster.
type Backend struct {
	objectdal.UnimplementedAccessor

	client   *hdfs.Client
	nameNode string
	root     string
}

// New connects to the namenode and ensures the root exists.
func New(cfg Config) (*Backend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slogutil.Null()
	}
	user := cfg.User
	if user == "" {
		user = os.Getenv("HADOOP_USER_NAME")
	}
	client, err := hdfs.NewClient(hdfs.ClientOptions{
		Addresses:           cfg.addresses(),
		User:                user,
		UseDatanodeHostname: cfg.UseDatanodeHostname,
	})
	if err != nil {
		return nil, objectdal.NewError(objectdal.ErrorKindUnexpected, "connect to namenode").
			WithContext("service", objectdal.SchemeHdfs).WithContext("name_node", cfg.NameNode).
			WithSource(err).SetTemporary()
	}
	b := &Backend{
		client:   client,
		nameNode: cfg.NameNode,
		root:     objectdal.NormalizeRoot(cfg.Root),
	}
	if err := client.MkdirAll(b.root, 0o755); err != nil {
		_ = client.Close()
		return nil, translateError(err, objectdal.OperationMetadata, "/")
	}
	logger.Debug("hdfs backend ready", slog.String("name_node", cfg.NameNode), slog.String("root", b.root))
	return b, nil
}

// NewFromConfig creates a new HDFS backend from a config map.
// This is used by the objectdal registry.
func NewFromConfig(configMap map[string]string) (objectdal.Accessor, error) {
	return New(ConfigFromMap(configMap))
}

// Metadata describes the backend.
func (b *Backend) Metadata() objectdal.AccessorMetadata {
	return objectdal.AccessorMetadata{
		Scheme:       objectdal.SchemeHdfs,
		Root:         b.root,
		Name:         b.nameNode,
		Capabilities: objectdal.CapabilityRead | objectdal.CapabilityWrite | objectdal.CapabilityList,
		Hints:        objectdal.HintReadIsSeekable,
	}
}

// Close closes the namenode connection.
func (b *Backend) Close() error {
	return b.client.Close()
}

func (b *Backend) fullPath(p string) string {
	return objectdal.BuildRootedAbsPath(b.root, p)
}

// Create creates a directory, or an empty file with its parents.
func (b *Backend) Create(ctx context.Context, p string, args objectdal.OpCreate) error {
	if err := ctx.Err(); err != nil {
		return objectdal.AsError(err).WithOperation(objectdal.OperationCreate)
	}
	full := b.fullPath(p)
	if args.Mode == objectdal.ObjectModeDir {
		if err := b.client.MkdirAll(full, 0o755); err != nil {
			return translateError(err, objectdal.OperationCreate, p)
		}
		return nil
	}
	w, err := b.create(full)
	if err != nil {
		return translateError(err, objectdal.OperationCreate, p)
	}
	if err := w.Close(); err != nil {
		return translateError(err, objectdal.OperationCreate, p)
	}
	return nil
}

// create opens full for writing, replacing an existing file.
func (b *Backend) create(full string) (*hdfs.FileWriter, error) {
	if err := b.client.MkdirAll(path.Dir(full), 0o755); err != nil {
		return nil, err
	}
	if err := b.client.Remove(full); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	return b.client.Create(full)
}

// Read opens p and serves the selected range. Suffix ranges are resolved
// against the file size.
func (b *Backend) Read(ctx context.Context, p string, args objectdal.OpRead) (objectdal.RpRead, io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return objectdal.RpRead{}, nil, objectdal.AsError(err).WithOperation(objectdal.OperationRead)
	}
	f, err := b.client.Open(b.fullPath(p))
	if err != nil {
		return objectdal.RpRead{}, nil, translateError(err, objectdal.OperationRead, p)
	}
	info := f.Stat()
	if info.IsDir() {
		_ = f.Close()
		return objectdal.RpRead{}, nil, objectdal.NewError(objectdal.ErrorKindObjectIsADirectory, "path is a directory").
			WithOperation(objectdal.OperationRead).WithContext("service", objectdal.SchemeHdfs).WithContext("path", p)
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

// Write stores the body at p, replacing any existing file.
func (b *Backend) Write(ctx context.Context, p string, args objectdal.OpWrite, r io.Reader) (objectdal.RpWrite, error) {
	if err := ctx.Err(); err != nil {
		return objectdal.RpWrite{}, objectdal.AsError(err).WithOperation(objectdal.OperationWrite)
	}
	w, err := b.create(b.fullPath(p))
	if err != nil {
		return objectdal.RpWrite{}, translateError(err, objectdal.OperationWrite, p)
	}
	if args.Size >= 0 {
		r = io.LimitReader(r, args.Size)
	}
	n, err := io.Copy(w, r)
	if closeErr := w.Close(); err == nil {
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
	if err := ctx.Err(); err != nil {
		return objectdal.ObjectMetadata{}, objectdal.AsError(err).WithOperation(objectdal.OperationStat)
	}
	info, err := b.client.Stat(b.fullPath(p))
	if err != nil {
		return objectdal.ObjectMetadata{}, translateError(err, objectdal.OperationStat, p)
	}
	meta := metadataOf(info)
	if p != "/" && meta.Mode != objectdal.ModeOfPath(p) {
		return objectdal.ObjectMetadata{}, objectdal.NewError(objectdal.ErrorKindObjectNotFound, "object mode mismatch").
			WithOperation(objectdal.OperationStat).WithContext("service", objectdal.SchemeHdfs).WithContext("path", p)
	}
	return meta, nil
}

func metadataOf(info fs.FileInfo) objectdal.ObjectMetadata {
	var meta objectdal.ObjectMetadata
	if info.IsDir() {
		meta = objectdal.NewObjectMetadata(objectdal.ObjectModeDir)
	} else {
		meta = objectdal.NewObjectMetadata(objectdal.ObjectModeFile).WithContentLength(info.Size())
	}
	meta.LastModified = info.ModTime()
	return meta.WithComplete()
}

// Delete removes a file or an empty directory. Missing paths are ignored.
func (b *Backend) Delete(ctx context.Context, p string, _ objectdal.OpDelete) error {
	if err := ctx.Err(); err != nil {
		return objectdal.AsError(err).WithOperation(objectdal.OperationDelete)
	}
	full := strings.TrimSuffix(b.fullPath(p), "/")
	if err := b.client.Remove(full); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return translateError(err, objectdal.OperationDelete, p)
	}
	return nil
}

// List returns the direct children of p. A missing directory lists nothing.
func (b *Backend) List(ctx context.Context, p string, _ objectdal.OpList) (objectdal.Pager, error) {
	if err := ctx.Err(); err != nil {
		return nil, objectdal.AsError(err).WithOperation(objectdal.OperationList)
	}
	if !objectdal.ModeOfPath(p).IsDir() {
		return nil, objectdal.NewError(objectdal.ErrorKindObjectNotADirectory, "list requires a directory").
			WithOperation(objectdal.OperationList).WithContext("service", objectdal.SchemeHdfs).WithContext("path", p)
	}
	infos, err := b.client.ReadDir(b.fullPath(p))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return objectdal.EmptyPager(), nil
		}
		return nil, translateError(err, objectdal.OperationList, p)
	}
	return objectdal.NewSlicePager(entriesOf(p, infos), pageSize), nil
}

func entriesOf(dir string, infos []fs.FileInfo) []objectdal.ObjectEntry {
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
	return entries
}

// translateError maps HDFS errors, which wrap os errors, onto objectdal kinds.
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
	e := objectdal.NewError(kind, "hdfs request failed").
		WithOperation(op).
		WithContext("service", objectdal.SchemeHdfs).
		WithContext("path", p).
		WithSource(err)
	if kind == objectdal.ErrorKindUnexpected && !errors.As(err, new(*fs.PathError)) {
		e = e.SetTemporary()
	}
	return e
}

var _ objectdal.Accessor = (*Backend)(nil)
