// Package objectdal provides uniform object access over many storage services.
//
// Every backend implements Accessor; layers wrap an Accessor with
// cross-cutting behavior (logging, metrics, retry, ...) and implement it
// again. Users work through an Operator, which vends Object handles.
//
// Basic usage:
//
//	acc, _ := fs.New(fs.Config{Root: "/data"})
//	op := objectdal.NewOperator(acc).Layer(logging.New())
//	o := op.Object("logs/app.log")
//	_ = o.Write(ctx, []byte("hello"))
//	data, _ := o.Read(ctx)
package objectdal

import (
	"context"
	"io"
)

// Accessor is the operation surface every backend and every layer serves.
// Paths are relative to the accessor's root and normalized; directories end
// with "/". Accessors are safe for concurrent use.
//
// Operations an accessor does not declare in its Capabilities return an
// error of kind ErrorKindUnsupported.
type Accessor interface {
	// Metadata describes the accessor. It never fails.
	Metadata() AccessorMetadata

	// Create creates an empty file or a directory. Creating an existing
	// directory succeeds.
	Create(ctx context.Context, path string, args OpCreate) error

	// Read opens path for reading the selected range. Range errors are
	// reported here, never mid-stream.
	Read(ctx context.Context, path string, args OpRead) (RpRead, io.ReadCloser, error)

	// Write stores the body read from r at path.
	Write(ctx context.Context, path string, args OpWrite, r io.Reader) (RpWrite, error)

	// Stat returns the metadata of path. The root always is a directory.
	Stat(ctx context.Context, path string, args OpStat) (ObjectMetadata, error)

	// Delete removes path. A missing path is not an error.
	Delete(ctx context.Context, path string, args OpDelete) error

	// List returns a pager over the direct children of the directory path.
	List(ctx context.Context, path string, args OpList) (Pager, error)

	// Presign returns a request authorized without credentials.
	Presign(ctx context.Context, path string, args OpPresign) (PresignedRequest, error)

	CreateMultipart(ctx context.Context, path string, args OpCreateMultipart) (RpCreateMultipart, error)
	WriteMultipart(ctx context.Context, path string, args OpWriteMultipart, r io.Reader) (ObjectPart, error)
	CompleteMultipart(ctx context.Context, path string, args OpCompleteMultipart) error
	AbortMultipart(ctx context.Context, path string, args OpAbortMultipart) error
}

// Layer wraps an accessor with extra behavior.
type Layer interface {
	Layer(inner Accessor) Accessor
}

// LayerFunc adapts a function to Layer.
type LayerFunc func(inner Accessor) Accessor

// Layer calls f(inner).
func (f LayerFunc) Layer(inner Accessor) Accessor { return f(inner) }

// UnimplementedAccessor answers every operation with ErrorKindUnsupported.
// Embed it and override the operations a backend serves.
type UnimplementedAccessor struct{}

func unsupported(op Operation, path string) error {
	return NewError(ErrorKindUnsupported, "operation is not supported").
		WithOperation(op).WithContext("path", path)
}

func (UnimplementedAccessor) Metadata() AccessorMetadata {
	return AccessorMetadata{Root: "/"}
}

func (UnimplementedAccessor) Create(_ context.Context, path string, _ OpCreate) error {
	return unsupported(OperationCreate, path)
}

func (UnimplementedAccessor) Read(_ context.Context, path string, _ OpRead) (RpRead, io.ReadCloser, error) {
	return RpRead{}, nil, unsupported(OperationRead, path)
}

func (UnimplementedAccessor) Write(_ context.Context, path string, _ OpWrite, _ io.Reader) (RpWrite, error) {
	return RpWrite{}, unsupported(OperationWrite, path)
}

func (UnimplementedAccessor) Stat(_ context.Context, path string, _ OpStat) (ObjectMetadata, error) {
	return ObjectMetadata{}, unsupported(OperationStat, path)
}

func (UnimplementedAccessor) Delete(_ context.Context, path string, _ OpDelete) error {
	return unsupported(OperationDelete, path)
}

func (UnimplementedAccessor) List(_ context.Context, path string, _ OpList) (Pager, error) {
	return nil, unsupported(OperationList, path)
}

func (UnimplementedAccessor) Presign(_ context.Context, path string, _ OpPresign) (PresignedRequest, error) {
	return PresignedRequest{}, unsupported(OperationPresign, path)
}

func (UnimplementedAccessor) CreateMultipart(_ context.Context, path string, _ OpCreateMultipart) (RpCreateMultipart, error) {
	return RpCreateMultipart{}, unsupported(OperationCreateMultipart, path)
}

func (UnimplementedAccessor) WriteMultipart(_ context.Context, path string, _ OpWriteMultipart, _ io.Reader) (ObjectPart, error) {
	return ObjectPart{}, unsupported(OperationWriteMultipart, path)
}

func (UnimplementedAccessor) CompleteMultipart(_ context.Context, path string, _ OpCompleteMultipart) error {
	return unsupported(OperationCompleteMultipart, path)
}

func (UnimplementedAccessor) AbortMultipart(_ context.Context, path string, _ OpAbortMultipart) error {
	return unsupported(OperationAbortMultipart, path)
}

// ForwardAccessor forwards every operation to Inner. Layers embed it and
// override what they intercept.
type ForwardAccessor struct {
	Inner Accessor
}

func (f ForwardAccessor) Metadata() AccessorMetadata { return f.Inner.Metadata() }

func (f ForwardAccessor) Create(ctx context.Context, path string, args OpCreate) error {
	return f.Inner.Create(ctx, path, args)
}

func (f ForwardAccessor) Read(ctx context.Context, path string, args OpRead) (RpRead, io.ReadCloser, error) {
	return f.Inner.Read(ctx, path, args)
}

func (f ForwardAccessor) Write(ctx context.Context, path string, args OpWrite, r io.Reader) (RpWrite, error) {
	return f.Inner.Write(ctx, path, args, r)
}

func (f ForwardAccessor) Stat(ctx context.Context, path string, args OpStat) (ObjectMetadata, error) {
	return f.Inner.Stat(ctx, path, args)
}

func (f ForwardAccessor) Delete(ctx context.Context, path string, args OpDelete) error {
	return f.Inner.Delete(ctx, path, args)
}

func (f ForwardAccessor) List(ctx context.Context, path string, args OpList) (Pager, error) {
	return f.Inner.List(ctx, path, args)
}

func (f ForwardAccessor) Presign(ctx context.Context, path string, args OpPresign) (PresignedRequest, error) {
	return f.Inner.Presign(ctx, path, args)
}

func (f ForwardAccessor) CreateMultipart(ctx context.Context, path string, args OpCreateMultipart) (RpCreateMultipart, error) {
	return f.Inner.CreateMultipart(ctx, path, args)
}

func (f ForwardAccessor) WriteMultipart(ctx context.Context, path string, args OpWriteMultipart, r io.Reader) (ObjectPart, error) {
	return f.Inner.WriteMultipart(ctx, path, args, r)
}

func (f ForwardAccessor) CompleteMultipart(ctx context.Context, path string, args OpCompleteMultipart) error {
	return f.Inner.CompleteMultipart(ctx, path, args)
}

func (f ForwardAccessor) AbortMultipart(ctx context.Context, path string, args OpAbortMultipart) error {
	return f.Inner.AbortMultipart(ctx, path, args)
}

var (
	_ Accessor = UnimplementedAccessor{}
	_ Accessor = ForwardAccessor{}
)
