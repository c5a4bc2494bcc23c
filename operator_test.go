package objectdal_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"slices"
	"strings"
	"testing"

	"github.com/grokify/objectdal"
	"github.com/grokify/objectdal/backend/memory"
	"github.com/grokify/objectdal/compress"
)

func newMemoryOperator(t *testing.T) *objectdal.Operator {
	t.Helper()
	b := memory.New(memory.Config{Root: "/test"})
	t.Cleanup(func() { _ = b.Close() })
	return objectdal.NewOperator(b)
}

func TestObjectRoundTrip(t *testing.T) {
	op := newMemoryOperator(t)
	ctx := context.Background()
	o := op.Object("hello")

	if err := o.Write(ctx, []byte("Hello, World!")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	data, err := o.Read(ctx)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if string(data) != "Hello, World!" {
		t.Errorf("Read = %q, want %q", data, "Hello, World!")
	}
	meta, err := o.Stat(ctx)
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if meta.ContentLength != 13 {
		t.Errorf("ContentLength = %d, want 13", meta.ContentLength)
	}
	if err := o.Delete(ctx); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := o.Stat(ctx); !objectdal.IsNotFound(err) {
		t.Errorf("Stat after Delete = %v, want not found", err)
	}
	ok, err := o.IsExist(ctx)
	if err != nil || ok {
		t.Errorf("IsExist = %v, %v, want false", ok, err)
	}
}

func TestObjectNames(t *testing.T) {
	op := newMemoryOperator(t)
	o := op.Object("/a//b/c.txt")
	if o.Path() != "a/b/c.txt" {
		t.Errorf("Path() = %q", o.Path())
	}
	if o.Name() != "c.txt" {
		t.Errorf("Name() = %q", o.Name())
	}
	if o.ID() != "/test/a/b/c.txt" {
		t.Errorf("ID() = %q", o.ID())
	}
	if d := op.Object("a/b/"); d.Name() != "b/" {
		t.Errorf("dir Name() = %q", d.Name())
	}
}

func TestObjectMetadataCache(t *testing.T) {
	op := newMemoryOperator(t)
	ctx := context.Background()
	o := op.Object("cached")
	if err := o.WriteWithContentType(ctx, []byte("abc"), "text/plain"); err != nil {
		t.Fatalf("WriteWithContentType failed: %v", err)
	}
	n, err := o.ContentLength(ctx)
	if err != nil || n != 3 {
		t.Errorf("ContentLength = %d, %v", n, err)
	}
	mode, err := o.Mode(ctx)
	if err != nil || mode != objectdal.ObjectModeFile {
		t.Errorf("Mode = %v, %v", mode, err)
	}
	meta, err := o.Metadata(ctx)
	if err != nil {
		t.Fatalf("Metadata failed: %v", err)
	}
	if meta.ContentType != "text/plain" || !meta.Complete {
		t.Errorf("Metadata = %+v", meta)
	}
}

func TestObjectRangeRead(t *testing.T) {
	op := newMemoryOperator(t)
	ctx := context.Background()
	o := op.Object("range")
	_ = o.Write(ctx, []byte("Hello, World!"))

	got, err := o.RangeRead(ctx, objectdal.RangeBounded(0, 5))
	if err != nil || string(got) != "Hello" {
		t.Errorf("RangeRead = %q, %v", got, err)
	}
	got, err = o.RangeRead(ctx, objectdal.RangeSuffix(6))
	if err != nil || string(got) != "World!" {
		t.Errorf("RangeRead suffix = %q, %v", got, err)
	}

	r, err := o.SeekableReader(ctx)
	if err != nil {
		t.Fatalf("SeekableReader failed: %v", err)
	}
	defer func() { _ = r.Close() }()
	if _, err := r.Seek(7, io.SeekStart); err != nil {
		t.Fatalf("Seek failed: %v", err)
	}
	rest, _ := io.ReadAll(r)
	if string(rest) != "World!" {
		t.Errorf("after Seek = %q", rest)
	}
}

func TestObjectDirectoryErrors(t *testing.T) {
	op := newMemoryOperator(t)
	ctx := context.Background()

	if _, err := op.Object("dir/").Read(ctx); objectdal.KindOf(err) != objectdal.ErrorKindObjectIsADirectory {
		t.Errorf("Read(dir/) kind = %v", objectdal.KindOf(err))
	}
	if _, err := op.Object("file").List(ctx); objectdal.KindOf(err) != objectdal.ErrorKindObjectNotADirectory {
		t.Errorf("List(file) kind = %v", objectdal.KindOf(err))
	}
}

func TestObjectList(t *testing.T) {
	op := newMemoryOperator(t)
	ctx := context.Background()
	for _, p := range []string{"dir/a", "dir/b", "dir/sub/c"} {
		if err := op.Object(p).Write(ctx, []byte(p)); err != nil {
			t.Fatalf("Write(%q) failed: %v", p, err)
		}
	}
	l, err := op.Object("dir/").List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	objs, err := l.Collect(ctx)
	if err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	var paths []string
	for _, o := range objs {
		mode, _ := o.Mode(ctx)
		if mode != objectdal.ModeOfPath(o.Path()) {
			t.Errorf("%q mode = %v", o.Path(), mode)
		}
		paths = append(paths, o.Path())
	}
	slices.Sort(paths)
	want := []string{"dir/a", "dir/b", "dir/sub/"}
	if !slices.Equal(paths, want) {
		t.Errorf("List = %q, want %q", paths, want)
	}
}

func TestObjectMultipart(t *testing.T) {
	op := newMemoryOperator(t)
	ctx := context.Background()
	o := op.Object("multi")

	mp, err := o.CreateMultipart(ctx)
	if err != nil {
		t.Fatalf("CreateMultipart failed: %v", err)
	}
	if _, err := mp.WritePart(ctx, 0, []byte("x")); err == nil {
		t.Error("WritePart(0) should fail")
	}
	p1, err := mp.WritePart(ctx, 1, []byte("foo"))
	if err != nil {
		t.Fatalf("WritePart failed: %v", err)
	}
	p2, err := mp.WritePart(ctx, 2, []byte("bar"))
	if err != nil {
		t.Fatalf("WritePart failed: %v", err)
	}
	done, err := mp.Complete(ctx, []objectdal.ObjectPart{p1, p2})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	data, _ := done.Read(ctx)
	if string(data) != "foobar" {
		t.Errorf("Read = %q, want %q", data, "foobar")
	}

	mp2, _ := o.CreateMultipart(ctx)
	if err := mp2.Abort(ctx); err != nil {
		t.Errorf("Abort failed: %v", err)
	}
}

func TestObjectDecompressRead(t *testing.T) {
	op := newMemoryOperator(t)
	ctx := context.Background()

	var buf bytes.Buffer
	w, _ := compress.NewWriter(compress.Zstd, nopWriteCloser{&buf})
	_, _ = w.Write([]byte("compressed payload"))
	_ = w.Close()

	o := op.Object("data.txt.zst")
	if err := o.Write(ctx, buf.Bytes()); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	got, err := o.DecompressRead(ctx)
	if err != nil {
		t.Fatalf("DecompressRead failed: %v", err)
	}
	if string(got) != "compressed payload" {
		t.Errorf("DecompressRead = %q", got)
	}

	plain := op.Object("plain.txt")
	_ = plain.Write(ctx, []byte("x"))
	if _, err := plain.DecompressRead(ctx); !objectdal.IsNotSupported(err) {
		t.Errorf("DecompressRead(plain) = %v, want unsupported", err)
	}
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

func TestPresignUnsupported(t *testing.T) {
	op := newMemoryOperator(t)
	if _, err := op.Object("x").PresignRead(context.Background(), 0); !objectdal.IsNotSupported(err) {
		t.Errorf("PresignRead = %v, want unsupported", err)
	}
}

func TestOperatorCheck(t *testing.T) {
	op := newMemoryOperator(t)
	if err := op.Check(context.Background()); err != nil {
		t.Errorf("Check failed: %v", err)
	}
}

func TestOperatorLayer(t *testing.T) {
	op := newMemoryOperator(t)
	var calls int
	layered := op.Layer(objectdal.LayerFunc(func(inner objectdal.Accessor) objectdal.Accessor {
		return &countingAccessor{ForwardAccessor: objectdal.ForwardAccessor{Inner: inner}, calls: &calls}
	}))
	if _, err := layered.Object("x").IsExist(context.Background()); err != nil {
		t.Fatalf("IsExist failed: %v", err)
	}
	if calls != 1 {
		t.Errorf("layer saw %d stat calls, want 1", calls)
	}
	if _, err := op.Object("x").IsExist(context.Background()); err != nil {
		t.Fatalf("IsExist failed: %v", err)
	}
	if calls != 1 {
		t.Error("Layer must not modify the original operator")
	}
}

type countingAccessor struct {
	objectdal.ForwardAccessor
	calls *int
}

func (c *countingAccessor) Stat(ctx context.Context, p string, args objectdal.OpStat) (objectdal.ObjectMetadata, error) {
	*c.calls++
	return c.Inner.Stat(ctx, p, args)
}

func TestCopyMoveObject(t *testing.T) {
	src := newMemoryOperator(t)
	dst := newMemoryOperator(t)
	ctx := context.Background()

	s := src.Object("src.txt")
	_ = s.Write(ctx, []byte("copy me please"))

	n, err := objectdal.CopyObject(ctx, s, dst.Object("dst.txt"))
	if err != nil {
		t.Fatalf("CopyObject failed: %v", err)
	}
	if n != 14 {
		t.Errorf("copied %d bytes, want 14", n)
	}
	got, _ := dst.Object("dst.txt").Read(ctx)
	if string(got) != "copy me please" {
		t.Errorf("dst = %q", got)
	}

	sum, err := objectdal.CopyObjectWithHash(ctx, s, dst.Object("hashed.txt"))
	if err != nil {
		t.Fatalf("CopyObjectWithHash failed: %v", err)
	}
	if len(sum) != 64 {
		t.Errorf("hash %q is not hex sha256", sum)
	}

	if err := objectdal.MoveObject(ctx, s, dst.Object("moved.txt")); err != nil {
		t.Fatalf("MoveObject failed: %v", err)
	}
	if ok, _ := src.Object("src.txt").IsExist(ctx); ok {
		t.Error("source still exists after MoveObject")
	}

	err = objectdal.MoveObject(ctx, src.Object("missing"), dst.Object("x"))
	if !objectdal.IsNotFound(err) {
		t.Errorf("MoveObject(missing) = %v, want not found", err)
	}
}

func TestOpenUnknownScheme(t *testing.T) {
	_, err := objectdal.Open("nope", nil)
	if !errors.Is(err, objectdal.ErrUnknownScheme) {
		t.Errorf("Open(nope) = %v, want ErrUnknownScheme", err)
	}
	if !objectdal.IsRegistered(objectdal.SchemeMemory) {
		t.Error("memory scheme not registered")
	}
	if !slices.Contains(objectdal.Schemes(), objectdal.SchemeMemory) {
		t.Error("Schemes() misses memory")
	}
}

func TestRegisterDuplicatePanics(t *testing.T) {
	defer func() {
		if r := recover(); r == nil || !strings.Contains(r.(string), "twice") {
			t.Errorf("recover() = %v, want duplicate panic", r)
		}
	}()
	objectdal.Register(objectdal.SchemeMemory, memory.NewFromConfig)
}
