package objectdal

import (
	"bytes"
	"context"
	"io"
	"sync"
	"time"

	"github.com/grokify/objectdal/compress"
)

// Object is a handle on one path of one accessor stack. It caches the
// metadata it learns; the cache is guarded so readers created from the
// handle can refine it.
type Object struct {
	acc  Accessor
	path string

	mu   sync.Mutex
	meta ObjectMetadata
}

func newObject(acc Accessor, path string) *Object {
	return &Object{acc: acc, path: path, meta: NewObjectMetadata(ObjectModeUnknown)}
}

func newObjectWithMetadata(acc Accessor, path string, meta ObjectMetadata) *Object {
	return &Object{acc: acc, path: path, meta: meta}
}

// ID returns the absolute path including the root, for example "/root/a/b".
func (o *Object) ID() string {
	return BuildRootedAbsPath(o.acc.Metadata().Root, o.path)
}

// Path returns the path relative to the root.
func (o *Object) Path() string { return o.path }

// Name returns the last segment of the path, keeping a trailing slash.
func (o *Object) Name() string { return GetBasename(o.path) }

// Accessor returns the accessor stack the object belongs to.
func (o *Object) Accessor() Accessor { return o.acc }

func (o *Object) cached() ObjectMetadata {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.meta
}

func (o *Object) refine(meta ObjectMetadata) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.meta.Update(meta)
}

func (o *Object) replace(meta ObjectMetadata) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.meta = meta
}

// Create creates an empty file, or a directory when the path ends with "/".
func (o *Object) Create(ctx context.Context) error {
	return o.acc.Create(ctx, o.path, OpCreate{Mode: ModeOfPath(o.path)})
}

// Read reads the whole object.
func (o *Object) Read(ctx context.Context) ([]byte, error) {
	return o.RangeRead(ctx, FullRange())
}

// RangeRead reads the selected bytes.
func (o *Object) RangeRead(ctx context.Context, rng BytesRange) ([]byte, error) {
	r, err := o.RangeReader(ctx, rng)
	if err != nil {
		return nil, err
	}
	data, err := ReadAll(r)
	if err != nil {
		return nil, AsError(err).WithOperation(OperationReaderRead).WithContext("path", o.path)
	}
	return data, nil
}

// Reader opens the whole object for streaming.
func (o *Object) Reader(ctx context.Context) (io.ReadCloser, error) {
	return o.RangeReader(ctx, FullRange())
}

// RangeReader opens the selected bytes for streaming.
func (o *Object) RangeReader(ctx context.Context, rng BytesRange) (io.ReadCloser, error) {
	if err := o.checkFile(OperationRead); err != nil {
		return nil, err
	}
	rp, r, err := o.acc.Read(ctx, o.path, OpRead{Range: rng})
	if err != nil {
		return nil, err
	}
	if rng.IsFull() && rp.Metadata.HasContentLength() {
		o.refine(ObjectMetadata{Mode: ObjectModeFile, ContentLength: rp.Metadata.ContentLength, ContentLengthRaw: -1})
	}
	return r, nil
}

// Stream opens the whole object as chunks of at most chunkSize bytes.
func (o *Object) Stream(ctx context.Context, chunkSize int) (ChunkReader, error) {
	r, err := o.Reader(ctx)
	if err != nil {
		return nil, err
	}
	return IntoStream(r, chunkSize), nil
}

// SeekableReader opens the object for random access. Backends whose readers
// can't seek are served by reopening at the wanted offset.
func (o *Object) SeekableReader(ctx context.Context) (io.ReadSeekCloser, error) {
	if err := o.checkFile(OperationRead); err != nil {
		return nil, err
	}
	if o.acc.Metadata().Hints.Has(HintReadIsSeekable) {
		_, r, err := o.acc.Read(ctx, o.path, OpRead{})
		if err != nil {
			return nil, err
		}
		if rs, ok := r.(io.ReadSeekCloser); ok {
			return rs, nil
		}
		_ = r.Close()
	}
	return NewOffsetReader(ctx, o.acc, o.path, 0), nil
}

// DecompressReader opens the object and decompresses it with the algorithm
// its extension names. Paths without a known extension are unsupported.
func (o *Object) DecompressReader(ctx context.Context) (io.ReadCloser, error) {
	algo, ok := compress.FromPath(o.path)
	if !ok {
		return nil, NewError(ErrorKindUnsupported, "no compression algorithm detected").
			WithOperation(OperationRead).WithContext("path", o.path)
	}
	return o.DecompressReaderWith(ctx, algo)
}

// DecompressReaderWith opens the object and decompresses it with algo.
func (o *Object) DecompressReaderWith(ctx context.Context, algo compress.Algorithm) (io.ReadCloser, error) {
	r, err := o.Reader(ctx)
	if err != nil {
		return nil, err
	}
	dr, err := compress.NewReader(algo, r)
	if err != nil {
		_ = r.Close()
		return nil, NewError(ErrorKindUnexpected, "open decompressor").
			WithOperation(OperationRead).WithContext("path", o.path).
			WithContext("algorithm", algo).WithSource(err)
	}
	return dr, nil
}

// DecompressRead reads and decompresses the whole object.
func (o *Object) DecompressRead(ctx context.Context) ([]byte, error) {
	r, err := o.DecompressReader(ctx)
	if err != nil {
		return nil, err
	}
	data, err := ReadAll(r)
	if err != nil {
		return nil, AsError(err).WithOperation(OperationReaderRead).WithContext("path", o.path)
	}
	return data, nil
}

// Write replaces the object with data.
func (o *Object) Write(ctx context.Context, data []byte) error {
	return o.write(ctx, OpWrite{Size: int64(len(data))}, bytes.NewReader(data))
}

// WriteWithContentType replaces the object with data and sets its content type.
func (o *Object) WriteWithContentType(ctx context.Context, data []byte, contentType string) error {
	return o.write(ctx, OpWrite{Size: int64(len(data)), ContentType: contentType}, bytes.NewReader(data))
}

// WriteFrom replaces the object with the body read from r. A negative size
// means unknown.
func (o *Object) WriteFrom(ctx context.Context, size int64, r io.Reader) error {
	return o.write(ctx, OpWrite{Size: size}, r)
}

func (o *Object) write(ctx context.Context, args OpWrite, r io.Reader) error {
	if err := o.checkFile(OperationWrite); err != nil {
		return err
	}
	rp, err := o.acc.Write(ctx, o.path, args, r)
	if err != nil {
		return err
	}
	o.replace(NewObjectMetadata(ObjectModeFile).WithContentLength(rp.Written))
	return nil
}

// Delete removes the object. Deleting a missing object succeeds.
func (o *Object) Delete(ctx context.Context) error {
	if err := o.acc.Delete(ctx, o.path, OpDelete{}); err != nil {
		return err
	}
	o.replace(NewObjectMetadata(ObjectModeUnknown))
	return nil
}

// List returns the direct children of the directory.
func (o *Object) List(ctx context.Context) (*ObjectLister, error) {
	if !ModeOfPath(o.path).IsDir() {
		return nil, NewError(ErrorKindObjectNotADirectory, "list requires a directory path").
			WithOperation(OperationList).WithContext("path", o.path)
	}
	p, err := o.acc.List(ctx, o.path, OpList{})
	if err != nil {
		return nil, err
	}
	return newObjectLister(o.acc, p), nil
}

// Stat fetches fresh metadata and caches it.
func (o *Object) Stat(ctx context.Context) (ObjectMetadata, error) {
	meta, err := o.acc.Stat(ctx, o.path, OpStat{})
	if err != nil {
		return ObjectMetadata{}, err
	}
	meta.Complete = true
	o.replace(meta)
	return meta, nil
}

// Metadata returns the cached metadata, calling Stat only when the cache is
// not complete.
func (o *Object) Metadata(ctx context.Context) (ObjectMetadata, error) {
	if meta := o.cached(); meta.Complete {
		return meta, nil
	}
	return o.Stat(ctx)
}

// Mode returns the object's mode.
func (o *Object) Mode(ctx context.Context) (ObjectMode, error) {
	if meta := o.cached(); meta.Mode != ObjectModeUnknown {
		return meta.Mode, nil
	}
	meta, err := o.Metadata(ctx)
	if err != nil {
		return ObjectModeUnknown, err
	}
	return meta.Mode, nil
}

// ContentLength returns the object's length in bytes.
func (o *Object) ContentLength(ctx context.Context) (int64, error) {
	if meta := o.cached(); meta.HasContentLength() {
		return meta.ContentLength, nil
	}
	meta, err := o.Metadata(ctx)
	if err != nil {
		return 0, err
	}
	return meta.ContentLength, nil
}

// IsExist reports whether the object exists.
func (o *Object) IsExist(ctx context.Context) (bool, error) {
	_, err := o.Stat(ctx)
	if err == nil {
		return true, nil
	}
	if IsNotFound(err) {
		return false, nil
	}
	return false, err
}

// PresignStat returns a presigned HEAD request.
func (o *Object) PresignStat(ctx context.Context, expire time.Duration) (PresignedRequest, error) {
	return o.acc.Presign(ctx, o.path, OpPresign{Operation: PresignStat, Expire: expire})
}

// PresignRead returns a presigned GET request.
func (o *Object) PresignRead(ctx context.Context, expire time.Duration) (PresignedRequest, error) {
	return o.acc.Presign(ctx, o.path, OpPresign{Operation: PresignRead, Expire: expire})
}

// PresignWrite returns a presigned PUT request.
func (o *Object) PresignWrite(ctx context.Context, expire time.Duration) (PresignedRequest, error) {
	return o.acc.Presign(ctx, o.path, OpPresign{Operation: PresignWrite, Expire: expire})
}

// CreateMultipart starts a multipart upload.
func (o *Object) CreateMultipart(ctx context.Context) (*ObjectMultipart, error) {
	if err := o.checkFile(OperationCreateMultipart); err != nil {
		return nil, err
	}
	rp, err := o.acc.CreateMultipart(ctx, o.path, OpCreateMultipart{})
	if err != nil {
		return nil, err
	}
	return o.ToMultipart(rp.UploadID), nil
}

// ToMultipart resumes an existing multipart upload.
func (o *Object) ToMultipart(uploadID string) *ObjectMultipart {
	return &ObjectMultipart{acc: o.acc, path: o.path, uploadID: uploadID}
}

func (o *Object) checkFile(op Operation) error {
	if ModeOfPath(o.path).IsDir() {
		return NewError(ErrorKindObjectIsADirectory, "operation requires a file path").
			WithOperation(op).WithContext("path", o.path)
	}
	return nil
}
