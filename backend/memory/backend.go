// Package memory provides an in-memory backend for objectdal.
//
// The memory backend is useful for:
//   - Unit testing without filesystem access
//   - Temporary storage and caching
//   - Fast ephemeral storage
//
// Directories are encoded in keys the way object stores do it: a directory
// exists when its "dir/" key was created or when any key lives beneath it.
// Data is stored in RAM and lost when the backend is closed or the process exits.
package memory

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"io"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/grokify/objectdal"
	"github.com/grokify/objectdal/internal/keyset"
)

func init() {
	objectdal.Register(objectdal.SchemeMemory, NewFromConfig)
}

// Config holds configuration for the memory backend.
type Config struct {
	// Root is the prefix every key is stored under.
	Root string
}

// ConfigFromMap creates a Config from a string map.
func ConfigFromMap(m map[string]string) Config {
	return Config{Root: m["root"]}
}

type object struct {
	data        []byte
	contentType string
	modTime     time.Time
}

type upload struct {
	path  string
	parts map[int][]byte
}

// Backend is an in-memory Accessor.
type Backend struct {
	objectdal.UnimplementedAccessor

	root    string
	objects map[string]*object
	uploads map[string]*upload
	nextID  int
	closed  bool
	mu      sync.RWMutex
}

// New creates a new memory backend.
func New(cfg Config) *Backend {
	return &Backend{
		root:    objectdal.NormalizeRoot(cfg.Root),
		objects: make(map[string]*object),
		uploads: make(map[string]*upload),
	}
}

// NewFromConfig creates a memory backend from a config map.
func NewFromConfig(m map[string]string) (objectdal.Accessor, error) {
	return New(ConfigFromMap(m)), nil
}

// Metadata describes the backend.
func (b *Backend) Metadata() objectdal.AccessorMetadata {
	return objectdal.AccessorMetadata{
		Scheme: objectdal.SchemeMemory,
		Root:   b.root,
		Capabilities: objectdal.CapabilityRead | objectdal.CapabilityWrite |
			objectdal.CapabilityList | objectdal.CapabilityMultipart | objectdal.CapabilityBlocking,
		Hints: objectdal.HintReadIsSeekable | objectdal.HintReadIsStreamable,
	}
}

func (b *Backend) abs(p string) string {
	return objectdal.BuildAbsPath(b.root, p)
}

// Create stores an empty file or a directory key.
func (b *Backend) Create(ctx context.Context, p string, args objectdal.OpCreate) error {
	if err := b.check(ctx, objectdal.OperationCreate); err != nil {
		return err
	}
	if p == "/" {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	key := b.abs(p)
	if args.Mode == objectdal.ObjectModeDir {
		if _, ok := b.objects[key]; !ok {
			b.objects[key] = &object{modTime: time.Now()}
		}
		return nil
	}
	b.objects[key] = &object{modTime: time.Now()}
	return nil
}

// Read serves a byte range of a stored object. The reader is seekable.
func (b *Backend) Read(ctx context.Context, p string, args objectdal.OpRead) (objectdal.RpRead, io.ReadCloser, error) {
	if err := b.check(ctx, objectdal.OperationRead); err != nil {
		return objectdal.RpRead{}, nil, err
	}
	if objectdal.ModeOfPath(p).IsDir() {
		return objectdal.RpRead{}, nil, isDirError(objectdal.OperationRead, p)
	}
	b.mu.RLock()
	obj, ok := b.objects[b.abs(p)]
	b.mu.RUnlock()
	if !ok {
		return objectdal.RpRead{}, nil, notFound(objectdal.OperationRead, p)
	}

	total := int64(len(obj.data))
	offset, size := args.Range.Apply(total)
	meta := objectdal.NewObjectMetadata(objectdal.ObjectModeFile).WithContentLength(size)
	if !args.Range.IsFull() {
		cr := objectdal.NewBytesContentRange(offset, size, total)
		meta.ContentRange = &cr
	}
	return objectdal.RpRead{Metadata: meta},
		objectdal.NewRangeReader(bytes.NewReader(obj.data), offset, size, nil), nil
}

// Write stores the body at p, replacing any previous content.
func (b *Backend) Write(ctx context.Context, p string, args objectdal.OpWrite, r io.Reader) (objectdal.RpWrite, error) {
	if err := b.check(ctx, objectdal.OperationWrite); err != nil {
		return objectdal.RpWrite{}, err
	}
	if objectdal.ModeOfPath(p).IsDir() {
		return objectdal.RpWrite{}, isDirError(objectdal.OperationWrite, p)
	}
	var buf bytes.Buffer
	if args.Size > 0 {
		buf.Grow(int(args.Size))
	}
	n, err := io.Copy(&buf, r)
	if err != nil {
		return objectdal.RpWrite{}, objectdal.AsError(err).
			WithOperation(objectdal.OperationWrite).WithContext("path", p)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return objectdal.RpWrite{}, closedError(objectdal.OperationWrite)
	}
	b.objects[b.abs(p)] = &object{data: buf.Bytes(), contentType: args.ContentType, modTime: time.Now()}
	return objectdal.RpWrite{Written: n}, nil
}

// Stat returns the metadata of a stored object or directory.
func (b *Backend) Stat(ctx context.Context, p string, _ objectdal.OpStat) (objectdal.ObjectMetadata, error) {
	if err := b.check(ctx, objectdal.OperationStat); err != nil {
		return objectdal.ObjectMetadata{}, err
	}
	if p == "/" {
		return objectdal.NewObjectMetadata(objectdal.ObjectModeDir), nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	key := b.abs(p)
	if obj, ok := b.objects[key]; ok {
		return metadataOf(p, obj), nil
	}
	if objectdal.ModeOfPath(p).IsDir() {
		for k := range b.objects {
			if len(k) > len(key) && k[:len(key)] == key {
				return objectdal.NewObjectMetadata(objectdal.ObjectModeDir), nil
			}
		}
	}
	return objectdal.ObjectMetadata{}, notFound(objectdal.OperationStat, p)
}

func metadataOf(p string, obj *object) objectdal.ObjectMetadata {
	mode := objectdal.ModeOfPath(p)
	meta := objectdal.NewObjectMetadata(mode)
	meta.LastModified = obj.modTime
	if mode.IsFile() {
		sum := md5.Sum(obj.data)
		meta = meta.WithContentLength(int64(len(obj.data)))
		meta.ContentType = obj.contentType
		meta.ContentMD5 = hex.EncodeToString(sum[:])
	}
	return meta.WithComplete()
}

// Delete removes a key. Missing keys are ignored.
func (b *Backend) Delete(ctx context.Context, p string, _ objectdal.OpDelete) error {
	if err := b.check(ctx, objectdal.OperationDelete); err != nil {
		return err
	}
	b.mu.Lock()
	delete(b.objects, b.abs(p))
	b.mu.Unlock()
	return nil
}

// List returns the direct children of a directory. A missing directory lists
// nothing.
func (b *Backend) List(ctx context.Context, p string, _ objectdal.OpList) (objectdal.Pager, error) {
	if err := b.check(ctx, objectdal.OperationList); err != nil {
		return nil, err
	}
	if !objectdal.ModeOfPath(p).IsDir() {
		return nil, objectdal.NewError(objectdal.ErrorKindObjectNotADirectory, "list requires a directory").
			WithOperation(objectdal.OperationList).WithContext("service", objectdal.SchemeMemory).
			WithContext("path", p)
	}

	b.mu.RLock()
	keys := make([]string, 0, len(b.objects))
	for k := range b.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	children := keyset.Children(keys, b.abs(p))
	entries := make([]objectdal.ObjectEntry, 0, len(children))
	for _, k := range children {
		rel := objectdal.BuildRelPath(b.root, k)
		if obj, ok := b.objects[k]; ok {
			entries = append(entries, objectdal.NewObjectEntry(rel, metadataOf(rel, obj)))
			continue
		}
		entries = append(entries, objectdal.NewObjectEntry(rel, objectdal.NewObjectMetadata(objectdal.ObjectModeDir)))
	}
	b.mu.RUnlock()

	return objectdal.NewSlicePager(entries, 256), nil
}

// CreateMultipart starts an upload.
func (b *Backend) CreateMultipart(ctx context.Context, p string, _ objectdal.OpCreateMultipart) (objectdal.RpCreateMultipart, error) {
	if err := b.check(ctx, objectdal.OperationCreateMultipart); err != nil {
		return objectdal.RpCreateMultipart{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := strconv.Itoa(b.nextID)
	b.uploads[id] = &upload{path: p, parts: make(map[int][]byte)}
	return objectdal.RpCreateMultipart{UploadID: id}, nil
}

// WriteMultipart stores one part of an upload.
func (b *Backend) WriteMultipart(ctx context.Context, p string, args objectdal.OpWriteMultipart, r io.Reader) (objectdal.ObjectPart, error) {
	if err := b.check(ctx, objectdal.OperationWriteMultipart); err != nil {
		return objectdal.ObjectPart{}, err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return objectdal.ObjectPart{}, objectdal.AsError(err).
			WithOperation(objectdal.OperationWriteMultipart).WithContext("path", p)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	up, err := b.upload(objectdal.OperationWriteMultipart, p, args.UploadID)
	if err != nil {
		return objectdal.ObjectPart{}, err
	}
	up.parts[args.PartNumber] = data
	sum := md5.Sum(data)
	return objectdal.ObjectPart{PartNumber: args.PartNumber, ETag: hex.EncodeToString(sum[:])}, nil
}

// CompleteMultipart joins the listed parts, in the listed order, into the object.
func (b *Backend) CompleteMultipart(ctx context.Context, p string, args objectdal.OpCompleteMultipart) error {
	if err := b.check(ctx, objectdal.OperationCompleteMultipart); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	up, err := b.upload(objectdal.OperationCompleteMultipart, p, args.UploadID)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	for _, part := range args.Parts {
		data, ok := up.parts[part.PartNumber]
		if !ok {
			return objectdal.NewError(objectdal.ErrorKindUnexpected, "part was never uploaded").
				WithOperation(objectdal.OperationCompleteMultipart).WithContext("path", p).
				WithContext("part_number", part.PartNumber)
		}
		buf.Write(data)
	}
	b.objects[b.abs(p)] = &object{data: buf.Bytes(), modTime: time.Now()}
	delete(b.uploads, args.UploadID)
	return nil
}

// AbortMultipart discards an upload.
func (b *Backend) AbortMultipart(ctx context.Context, p string, args objectdal.OpAbortMultipart) error {
	if err := b.check(ctx, objectdal.OperationAbortMultipart); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, err := b.upload(objectdal.OperationAbortMultipart, p, args.UploadID); err != nil {
		return err
	}
	delete(b.uploads, args.UploadID)
	return nil
}

func (b *Backend) upload(op objectdal.Operation, p, id string) (*upload, error) {
	up, ok := b.uploads[id]
	if !ok || up.path != p {
		return nil, objectdal.NewError(objectdal.ErrorKindObjectNotFound, "upload does not exist").
			WithOperation(op).WithContext("path", p).WithContext("upload_id", id)
	}
	return up, nil
}

// Close releases all stored data. Later calls fail.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.objects = make(map[string]*object)
	b.uploads = make(map[string]*upload)
	return nil
}

// Size returns the total bytes stored.
func (b *Backend) Size() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var total int64
	for _, obj := range b.objects {
		total += int64(len(obj.data))
	}
	return total
}

// Count returns the number of stored keys, directories included.
func (b *Backend) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.objects)
}

// check returns an error if the backend is closed or ctx is done.
func (b *Backend) check(ctx context.Context, op objectdal.Operation) error {
	if err := ctx.Err(); err != nil {
		return objectdal.AsError(err).WithOperation(op)
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return closedError(op)
	}
	return nil
}

func closedError(op objectdal.Operation) error {
	return objectdal.NewError(objectdal.ErrorKindUnexpected, "backend is closed").
		WithOperation(op).WithContext("service", objectdal.SchemeMemory)
}

func notFound(op objectdal.Operation, p string) error {
	return objectdal.NewError(objectdal.ErrorKindObjectNotFound, "object not found").
		WithOperation(op).WithContext("service", objectdal.SchemeMemory).WithContext("path", p)
}

func isDirError(op objectdal.Operation, p string) error {
	return objectdal.NewError(objectdal.ErrorKindObjectIsADirectory, "path is a directory").
		WithOperation(op).WithContext("service", objectdal.SchemeMemory).WithContext("path", p)
}

var _ objectdal.Accessor = (*Backend)(nil)
