// Package ftp provides an FTP backend for objectdal.
//
// FTP has no ranged read with an end, so ranged reads start the transfer at
// the offset and stop after the requested size. Suffix ranges are resolved
// from the size reported by a directory listing.
package ftp

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"log/slog"
	"net/textproto"
	"path"
	"strings"

	"github.com/grokify/mogo/log/slogutil"
	"github.com/jlaffaye/ftp"

	"github.com/grokify/objectdal"
)

func init() {
	objectdal.Register(objectdal.SchemeFtp, NewFromConfig)
}

const pageSize = 256

// Backend is an Accessor over an FTP server.
type Backend struct {
	objectdal.UnimplementedAccessor

	addr string
	root string
	pool *pool
}

// New returns an FTP backend. Connections are dialed lazily.
func New(cfg Config) (*Backend, error) {
	addr, secure, err := cfg.address()
	if err != nil {
		return nil, err
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = DefaultConfig().PoolSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slogutil.Null()
	}
	user, password := cfg.User, cfg.Password
	if user == "" {
		user, password = "anonymous", "anonymous"
	}

	dial := func(ctx context.Context) (*ftp.ServerConn, error) {
		opts := []ftp.DialOption{
			ftp.DialWithContext(ctx),
			ftp.DialWithTimeout(cfg.Timeout),
		}
		if secure {
			host, _, _ := strings.Cut(addr, ":")
			opts = append(opts, ftp.DialWithExplicitTLS(&tls.Config{ServerName: host, MinVersion: tls.VersionTLS12}))
		}
		c, err := ftp.Dial(addr, opts...)
		if err != nil {
			return nil, err
		}
		if err := c.Login(user, password); err != nil {
			_ = c.Quit()
			return nil, err
		}
		return c, nil
	}

	b := &Backend{
		addr: addr,
		root: objectdal.NormalizeRoot(cfg.Root),
		pool: newPool(cfg.PoolSize, dial),
	}
	logger.Debug("ftp backend ready", slog.String("addr", addr), slog.String("root", b.root), slog.Bool("tls", secure))
	return b, nil
}

// NewFromConfig creates a new FTP backend from a config map.
// This is used by the objectdal registry.
func NewFromConfig(configMap map[string]string) (objectdal.Accessor, error) {
	return New(ConfigFromMap(configMap))
}

// Metadata describes the backend.
func (b *Backend) Metadata() objectdal.AccessorMetadata {
	return objectdal.AccessorMetadata{
		Scheme:       objectdal.SchemeFtp,
		Root:         b.root,
		Name:         b.addr,
		Capabilities: objectdal.CapabilityRead | objectdal.CapabilityWrite | objectdal.CapabilityList,
		Hints:        objectdal.HintReadIsStreamable,
	}
}

// Close closes idle connections.
func (b *Backend) Close() error {
	b.pool.close()
	return nil
}

func (b *Backend) fullPath(p string) string {
	return objectdal.BuildRootedAbsPath(b.root, p)
}

func (b *Backend) conn(ctx context.Context, op objectdal.Operation, p string) (*ftp.ServerConn, error) {
	if err := ctx.Err(); err != nil {
		return nil, objectdal.AsError(err).WithOperation(op)
	}
	c, err := b.pool.get(ctx)
	if err != nil {
		return nil, translateError(err, op, p)
	}
	return c, nil
}

// mkdirAll creates dir and its parents. Existing directories answer 550.
func mkdirAll(c *ftp.ServerConn, dir string) error {
	var cur string
	for _, seg := range strings.Split(strings.Trim(dir, "/"), "/") {
		if seg == "" {
			continue
		}
		cur += "/" + seg
		if err := c.MakeDir(cur); err != nil && !isUnavailable(err) {
			return err
		}
	}
	return nil
}

// Create creates a directory, or an empty file with its parents.
func (b *Backend) Create(ctx context.Context, p string, args objectdal.OpCreate) (err error) {
	c, err := b.conn(ctx, objectdal.OperationCreate, p)
	if err != nil {
		return err
	}
	defer func() { b.pool.put(c, err) }()

	full := b.fullPath(p)
	if args.Mode == objectdal.ObjectModeDir {
		if err = mkdirAll(c, full); err != nil {
			return translateError(err, objectdal.OperationCreate, p)
		}
		return nil
	}
	if err = mkdirAll(c, path.Dir(full)); err != nil {
		return translateError(err, objectdal.OperationCreate, p)
	}
	if err = c.Stor(full, strings.NewReader("")); err != nil {
		return translateError(err, objectdal.OperationCreate, p)
	}
	return nil
}

// Read starts a transfer at the range offset. The connection goes back to
// the pool when the reader is closed.
func (b *Backend) Read(ctx context.Context, p string, args objectdal.OpRead) (objectdal.RpRead, io.ReadCloser, error) {
	if objectdal.ModeOfPath(p).IsDir() {
		return objectdal.RpRead{}, nil, objectdal.NewError(objectdal.ErrorKindObjectIsADirectory, "path is a directory").
			WithOperation(objectdal.OperationRead).WithContext("service", objectdal.SchemeFtp).WithContext("path", p)
	}
	rng := args.Range
	total := int64(-1)
	if rng.IsSuffix() {
		meta, err := b.Stat(ctx, p, objectdal.OpStat{})
		if err != nil {
			return objectdal.RpRead{}, nil, objectdal.AsError(err).WithOperation(objectdal.OperationRead)
		}
		total = meta.ContentLength
		rng = rng.Resolve(total)
	}
	offset, _ := rng.Offset()
	size, bounded := rng.Size()

	c, err := b.conn(ctx, objectdal.OperationRead, p)
	if err != nil {
		return objectdal.RpRead{}, nil, err
	}
	resp, err := c.RetrFrom(b.fullPath(p), uint64(offset))
	if err != nil {
		b.pool.put(c, err)
		return objectdal.RpRead{}, nil, translateError(err, objectdal.OperationRead, p)
	}

	meta := objectdal.NewObjectMetadata(objectdal.ObjectModeFile)
	var body io.Reader = resp
	if bounded {
		body = io.LimitReader(resp, size)
		if total >= 0 {
			meta = meta.WithContentLength(min(size, total-offset))
			cr := objectdal.NewBytesContentRange(offset, meta.ContentLength, total)
			meta.ContentRange = &cr
		}
	}
	closer := func() error {
		err := resp.Close()
		b.pool.put(c, err)
		return err
	}
	return objectdal.RpRead{Metadata: meta}, objectdal.NewReadCloser(body, closer), nil
}

// Write stores the body at p, creating missing parents.
func (b *Backend) Write(ctx context.Context, p string, args objectdal.OpWrite, r io.Reader) (rp objectdal.RpWrite, err error) {
	c, err := b.conn(ctx, objectdal.OperationWrite, p)
	if err != nil {
		return objectdal.RpWrite{}, err
	}
	defer func() { b.pool.put(c, err) }()

	full := b.fullPath(p)
	if err = mkdirAll(c, path.Dir(full)); err != nil {
		return objectdal.RpWrite{}, translateError(err, objectdal.OperationWrite, p)
	}
	if args.Size >= 0 {
		r = io.LimitReader(r, args.Size)
	}
	cr := &countingReader{r: r}
	if err = c.Stor(full, cr); err != nil {
		return objectdal.RpWrite{}, translateError(err, objectdal.OperationWrite, p)
	}
	return objectdal.RpWrite{Written: cr.n}, nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// Stat finds p in the listing of its parent directory.
func (b *Backend) Stat(ctx context.Context, p string, _ objectdal.OpStat) (meta objectdal.ObjectMetadata, err error) {
	if p == "/" {
		return objectdal.NewObjectMetadata(objectdal.ObjectModeDir).WithComplete(), nil
	}
	c, err := b.conn(ctx, objectdal.OperationStat, p)
	if err != nil {
		return objectdal.ObjectMetadata{}, err
	}
	defer func() { b.pool.put(c, err) }()

	entries, err := c.List(b.fullPath(objectdal.GetParent(p)))
	if err != nil {
		if isUnavailable(err) {
			return objectdal.ObjectMetadata{}, notFound(objectdal.OperationStat, p)
		}
		return objectdal.ObjectMetadata{}, translateError(err, objectdal.OperationStat, p)
	}
	name := strings.TrimSuffix(objectdal.GetBasename(p), "/")
	want := objectdal.ModeOfPath(p)
	for _, e := range entries {
		if e.Name != name {
			continue
		}
		meta := entryMetadata(e)
		if meta.Mode == want {
			return meta, nil
		}
	}
	return objectdal.ObjectMetadata{}, notFound(objectdal.OperationStat, p)
}

func entryMetadata(e *ftp.Entry) objectdal.ObjectMetadata {
	var meta objectdal.ObjectMetadata
	switch e.Type {
	case ftp.EntryTypeFolder:
		meta = objectdal.NewObjectMetadata(objectdal.ObjectModeDir)
	case ftp.EntryTypeFile:
		meta = objectdal.NewObjectMetadata(objectdal.ObjectModeFile).WithContentLength(int64(e.Size))
	default:
		meta = objectdal.NewObjectMetadata(objectdal.ObjectModeUnknown)
	}
	meta.LastModified = e.Time
	return meta.WithComplete()
}

// Delete removes a file or an empty directory. Missing paths are ignored.
func (b *Backend) Delete(ctx context.Context, p string, _ objectdal.OpDelete) (err error) {
	c, err := b.conn(ctx, objectdal.OperationDelete, p)
	if err != nil {
		return err
	}
	defer func() { b.pool.put(c, err) }()

	full := b.fullPath(p)
	if objectdal.ModeOfPath(p).IsDir() {
		err = c.RemoveDir(full)
	} else {
		err = c.Delete(full)
	}
	if err != nil {
		if isUnavailable(err) {
			return nil
		}
		return translateError(err, objectdal.OperationDelete, p)
	}
	return nil
}

// List returns the direct children of p. A missing directory lists nothing.
func (b *Backend) List(ctx context.Context, p string, _ objectdal.OpList) (objectdal.Pager, error) {
	if !objectdal.ModeOfPath(p).IsDir() {
		return nil, objectdal.NewError(objectdal.ErrorKindObjectNotADirectory, "list requires a directory").
			WithOperation(objectdal.OperationList).WithContext("service", objectdal.SchemeFtp).WithContext("path", p)
	}
	c, err := b.conn(ctx, objectdal.OperationList, p)
	if err != nil {
		return nil, err
	}
	entries, err := c.List(b.fullPath(p))
	b.pool.put(c, err)
	if err != nil {
		if isUnavailable(err) {
			return objectdal.EmptyPager(), nil
		}
		return nil, translateError(err, objectdal.OperationList, p)
	}

	dir := p
	if dir == "/" {
		dir = ""
	}
	out := make([]objectdal.ObjectEntry, 0, len(entries))
	for _, e := range entries {
		if e.Name == "." || e.Name == ".." {
			continue
		}
		meta := entryMetadata(e)
		rel := dir + e.Name
		if meta.Mode.IsDir() {
			rel += "/"
		}
		out = append(out, objectdal.NewObjectEntry(rel, meta))
	}
	return objectdal.NewSlicePager(out, pageSize), nil
}

func notFound(op objectdal.Operation, p string) error {
	return objectdal.NewError(objectdal.ErrorKindObjectNotFound, "object not found").
		WithOperation(op).WithContext("service", objectdal.SchemeFtp).WithContext("path", p)
}

// isUnavailable reports a 550 reply: missing file, or an existing directory
// on MKD.
func isUnavailable(err error) bool {
	var protoErr *textproto.Error
	return errors.As(err, &protoErr) && protoErr.Code == ftp.StatusFileUnavailable
}

// translateError maps FTP replies onto objectdal error kinds. Transient 4xx
// replies and connection failures are temporary.
func translateError(err error, op objectdal.Operation, p string) error {
	e := objectdal.NewError(objectdal.ErrorKindUnexpected, "ftp request failed").
		WithOperation(op).
		WithContext("service", objectdal.SchemeFtp).
		WithContext("path", p).
		WithSource(err)

	var protoErr *textproto.Error
	if !errors.As(err, &protoErr) {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return e
		}
		return e.SetTemporary()
	}
	e = e.WithContext("code", protoErr.Code)
	switch {
	case protoErr.Code == ftp.StatusFileUnavailable:
		return objectdal.NewError(objectdal.ErrorKindObjectNotFound, protoErr.Msg).
			WithOperation(op).WithContext("service", objectdal.SchemeFtp).
			WithContext("path", p).WithSource(err)
	case protoErr.Code == ftp.StatusNotLoggedIn:
		return objectdal.NewError(objectdal.ErrorKindObjectPermissionDenied, protoErr.Msg).
			WithOperation(op).WithContext("service", objectdal.SchemeFtp).
			WithContext("path", p).WithSource(err)
	case protoErr.Code >= 400 && protoErr.Code < 500:
		return e.SetTemporary()
	}
	return e
}

var _ objectdal.Accessor = (*Backend)(nil)
