package memory

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/grokify/objectdal"
)

func TestWriteRead(t *testing.T) {
	b := New(Config{})
	defer func() { _ = b.Close() }()
	ctx := context.Background()

	rp, err := b.Write(ctx, "test.txt", objectdal.OpWrite{Size: 11, ContentType: "text/plain"}, bytes.NewReader([]byte("hello world")))
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if rp.Written != 11 {
		t.Errorf("Written = %d, want 11", rp.Written)
	}

	_, r, err := b.Read(ctx, "test.txt", objectdal.OpRead{})
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	data, err := objectdal.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if string(data) != "hello world" {
		t.Errorf("Read data = %q, want %q", data, "hello world")
	}

	meta, err := b.Stat(ctx, "test.txt", objectdal.OpStat{})
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if meta.ContentLength != 11 || meta.ContentType != "text/plain" || !meta.Mode.IsFile() {
		t.Errorf("Stat = %+v", meta)
	}
}

func TestReadRange(t *testing.T) {
	b := New(Config{Root: "/prefix"})
	ctx := context.Background()
	if _, err := b.Write(ctx, "f", objectdal.OpWrite{Size: 13}, bytes.NewReader([]byte("Hello, World!"))); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	tests := []struct {
		rng  objectdal.BytesRange
		want string
	}{
		{objectdal.RangeBounded(0, 5), "Hello"},
		{objectdal.RangeFrom(7), "World!"},
		{objectdal.RangeSuffix(6), "World!"},
		{objectdal.RangeBounded(7, 100), "World!"},
	}
	for _, tt := range tests {
		rp, r, err := b.Read(ctx, "f", objectdal.OpRead{Range: tt.rng})
		if err != nil {
			t.Fatalf("Read(%s) failed: %v", tt.rng, err)
		}
		data, _ := objectdal.ReadAll(r)
		if string(data) != tt.want {
			t.Errorf("Read(%s) = %q, want %q", tt.rng, data, tt.want)
		}
		if rp.Metadata.ContentLength != int64(len(tt.want)) {
			t.Errorf("Read(%s) length = %d, want %d", tt.rng, rp.Metadata.ContentLength, len(tt.want))
		}
	}
}

func TestReadSeekable(t *testing.T) {
	b := New(Config{})
	ctx := context.Background()
	_, _ = b.Write(ctx, "f", objectdal.OpWrite{Size: 10}, bytes.NewReader([]byte("0123456789")))

	_, r, err := b.Read(ctx, "f", objectdal.OpRead{})
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	rs, ok := r.(io.ReadSeekCloser)
	if !ok {
		t.Fatalf("reader %T is not seekable", r)
	}
	if _, err := rs.Seek(-3, io.SeekEnd); err != nil {
		t.Fatalf("Seek failed: %v", err)
	}
	data, _ := io.ReadAll(rs)
	if string(data) != "789" {
		t.Errorf("after Seek read %q, want %q", data, "789")
	}
}

func TestNotFound(t *testing.T) {
	b := New(Config{})
	ctx := context.Background()

	if _, _, err := b.Read(ctx, "missing", objectdal.OpRead{}); !objectdal.IsNotFound(err) {
		t.Errorf("Read error = %v, want not found", err)
	}
	if _, err := b.Stat(ctx, "missing", objectdal.OpStat{}); !objectdal.IsNotFound(err) {
		t.Errorf("Stat error = %v, want not found", err)
	}
	if err := b.Delete(ctx, "missing", objectdal.OpDelete{}); err != nil {
		t.Errorf("Delete of missing = %v, want nil", err)
	}
	if _, _, err := b.Read(ctx, "dir/", objectdal.OpRead{}); objectdal.KindOf(err) != objectdal.ErrorKindObjectIsADirectory {
		t.Errorf("Read(dir/) kind = %v, want %v", objectdal.KindOf(err), objectdal.ErrorKindObjectIsADirectory)
	}
}

func TestStatDirectories(t *testing.T) {
	b := New(Config{})
	ctx := context.Background()
	_, _ = b.Write(ctx, "a/b/c", objectdal.OpWrite{}, bytes.NewReader(nil))

	for _, p := range []string{"/", "a/", "a/b/"} {
		meta, err := b.Stat(ctx, p, objectdal.OpStat{})
		if err != nil {
			t.Fatalf("Stat(%q) failed: %v", p, err)
		}
		if !meta.Mode.IsDir() {
			t.Errorf("Stat(%q) mode = %v, want dir", p, meta.Mode)
		}
	}
	if _, err := b.Stat(ctx, "a", objectdal.OpStat{}); !objectdal.IsNotFound(err) {
		t.Errorf("Stat(a) error = %v, want not found", err)
	}
}

func TestList(t *testing.T) {
	b := New(Config{})
	ctx := context.Background()
	for _, p := range []string{"dir/", "dir/file", "dir/sub/deep", "top"} {
		if objectdal.ModeOfPath(p).IsDir() {
			_ = b.Create(ctx, p, objectdal.OpCreate{Mode: objectdal.ObjectModeDir})
			continue
		}
		_, _ = b.Write(ctx, p, objectdal.OpWrite{}, bytes.NewReader([]byte(p)))
	}

	p, err := b.List(ctx, "dir/", objectdal.OpList{})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	entries, err := objectdal.CollectPager(ctx, p)
	if err != nil {
		t.Fatalf("CollectPager failed: %v", err)
	}
	want := map[string]objectdal.ObjectMode{
		"dir/file": objectdal.ObjectModeFile,
		"dir/sub/": objectdal.ObjectModeDir,
	}
	if len(entries) != len(want) {
		t.Fatalf("List returned %d entries, want %d: %+v", len(entries), len(want), entries)
	}
	for _, e := range entries {
		if want[e.Path] != e.Mode() {
			t.Errorf("entry %q mode = %v, want %v", e.Path, e.Mode(), want[e.Path])
		}
	}

	if _, err := b.List(ctx, "top", objectdal.OpList{}); objectdal.KindOf(err) != objectdal.ErrorKindObjectNotADirectory {
		t.Errorf("List(top) kind = %v, want not a directory", objectdal.KindOf(err))
	}
}

func TestMultipart(t *testing.T) {
	b := New(Config{})
	ctx := context.Background()

	rp, err := b.CreateMultipart(ctx, "big", objectdal.OpCreateMultipart{})
	if err != nil {
		t.Fatalf("CreateMultipart failed: %v", err)
	}
	p2, err := b.WriteMultipart(ctx, "big", objectdal.OpWriteMultipart{UploadID: rp.UploadID, PartNumber: 2}, bytes.NewReader([]byte("world")))
	if err != nil {
		t.Fatalf("WriteMultipart failed: %v", err)
	}
	p1, err := b.WriteMultipart(ctx, "big", objectdal.OpWriteMultipart{UploadID: rp.UploadID, PartNumber: 1}, bytes.NewReader([]byte("hello ")))
	if err != nil {
		t.Fatalf("WriteMultipart failed: %v", err)
	}
	if _, err := b.Stat(ctx, "big", objectdal.OpStat{}); !objectdal.IsNotFound(err) {
		t.Errorf("object visible before complete: %v", err)
	}
	if err := b.CompleteMultipart(ctx, "big", objectdal.OpCompleteMultipart{UploadID: rp.UploadID, Parts: []objectdal.ObjectPart{p1, p2}}); err != nil {
		t.Fatalf("CompleteMultipart failed: %v", err)
	}
	_, r, err := b.Read(ctx, "big", objectdal.OpRead{})
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	data, _ := objectdal.ReadAll(r)
	if string(data) != "hello world" {
		t.Errorf("Read = %q, want %q", data, "hello world")
	}

	if err := b.AbortMultipart(ctx, "big", objectdal.OpAbortMultipart{UploadID: rp.UploadID}); !objectdal.IsNotFound(err) {
		t.Errorf("Abort of completed upload = %v, want not found", err)
	}
}

func TestClosed(t *testing.T) {
	b := New(Config{})
	_ = b.Close()
	if _, err := b.Stat(context.Background(), "x", objectdal.OpStat{}); err == nil {
		t.Error("Stat after Close should fail")
	}
}

func TestCanceledContext(t *testing.T) {
	b := New(Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := b.Stat(ctx, "x", objectdal.OpStat{}); err == nil {
		t.Error("Stat with canceled context should fail")
	}
}

func TestOpen(t *testing.T) {
	op, err := objectdal.Open(objectdal.SchemeMemory, map[string]string{"root": "/data"})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if got := op.Metadata().Root; got != "/data/" {
		t.Errorf("Root = %q, want %q", got, "/data/")
	}
}
