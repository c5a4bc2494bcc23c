package http

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/grokify/objectdal"
)

var modTime = time.Date(2022, 11, 8, 12, 0, 0, 0, time.UTC)

func newServer(t *testing.T, files map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, ok := files[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		http.ServeContent(w, r, r.URL.Path, modTime, strings.NewReader(data))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestReadRange(t *testing.T) {
	srv := newServer(t, map[string]string{"/hello.txt": "Hello, World!"})
	b, err := New(Config{Endpoint: srv.URL})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	rp, r, err := b.Read(context.Background(), "hello.txt", objectdal.OpRead{Range: objectdal.RangeBounded(0, 5)})
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	data, err := objectdal.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if string(data) != "Hello" {
		t.Errorf("Read = %q, want %q", data, "Hello")
	}
	if rp.Metadata.ContentLength != 5 {
		t.Errorf("ContentLength = %d, want 5", rp.Metadata.ContentLength)
	}
	if rp.Metadata.ContentRange == nil || rp.Metadata.ContentRange.Total != 13 {
		t.Errorf("ContentRange = %v, want total 13", rp.Metadata.ContentRange)
	}
}

func TestReadFull(t *testing.T) {
	srv := newServer(t, map[string]string{"/data/a b.txt": "Hello, World!"})
	b, err := New(Config{Endpoint: srv.URL, Root: "/data"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	_, r, err := b.Read(context.Background(), "a b.txt", objectdal.OpRead{})
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	data, _ := objectdal.ReadAll(r)
	if string(data) != "Hello, World!" {
		t.Errorf("Read = %q, want %q", data, "Hello, World!")
	}
}

func TestReadEmptyRange(t *testing.T) {
	var (
		mu     sync.Mutex
		ranges []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		ranges = append(ranges, r.Header.Get("Range"))
		mu.Unlock()
		if r.URL.Path != "/hello.txt" {
			http.NotFound(w, r)
			return
		}
		http.ServeContent(w, r, r.URL.Path, modTime, strings.NewReader("Hello, World!"))
	}))
	t.Cleanup(srv.Close)
	b, err := New(Config{Endpoint: srv.URL})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	ctx := context.Background()

	rp, r, err := b.Read(ctx, "hello.txt", objectdal.OpRead{Range: objectdal.RangeBounded(5, 0)})
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	data, _ := objectdal.ReadAll(r)
	if len(data) != 0 || rp.Metadata.ContentLength != 0 {
		t.Errorf("Read = %q (length %d), want empty", data, rp.Metadata.ContentLength)
	}
	mu.Lock()
	for _, h := range ranges {
		if h != "" {
			t.Errorf("sent Range %q, want none", h)
		}
	}
	mu.Unlock()

	if _, _, err := b.Read(ctx, "missing.txt", objectdal.OpRead{Range: objectdal.RangeBounded(0, 0)}); !objectdal.IsNotFound(err) {
		t.Errorf("Read(missing) = %v, want not found", err)
	}
}

func TestStat(t *testing.T) {
	srv := newServer(t, map[string]string{"/hello.txt": "Hello, World!"})
	b, _ := New(Config{Endpoint: srv.URL})
	ctx := context.Background()

	meta, err := b.Stat(ctx, "hello.txt", objectdal.OpStat{})
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if meta.ContentLength != 13 {
		t.Errorf("ContentLength = %d, want 13", meta.ContentLength)
	}
	if meta.ETag != `"v1"` {
		t.Errorf("ETag = %q, want %q", meta.ETag, `"v1"`)
	}
	if !meta.LastModified.Equal(modTime) {
		t.Errorf("LastModified = %v, want %v", meta.LastModified, modTime)
	}

	for _, p := range []string{"/", "dir/"} {
		meta, err := b.Stat(ctx, p, objectdal.OpStat{})
		if err != nil {
			t.Fatalf("Stat(%q) failed: %v", p, err)
		}
		if !meta.Mode.IsDir() {
			t.Errorf("Stat(%q) mode = %v, want dir", p, meta.Mode)
		}
	}

	if _, err := b.Stat(ctx, "missing", objectdal.OpStat{}); !objectdal.IsNotFound(err) {
		t.Errorf("Stat(missing) error = %v, want not found", err)
	}
}

func TestAuth(t *testing.T) {
	var got []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = append(got, r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()
	ctx := context.Background()

	b, _ := New(Config{Endpoint: srv.URL, Token: "secret"})
	if _, err := b.Stat(ctx, "x", objectdal.OpStat{}); !objectdal.IsPermissionDenied(err) {
		t.Errorf("Stat error = %v, want permission denied", err)
	}
	b, _ = New(Config{Endpoint: srv.URL, Username: "user", Password: "pass"})
	_, _ = b.Stat(ctx, "x", objectdal.OpStat{})

	if len(got) != 2 || got[0] != "Bearer secret" || !strings.HasPrefix(got[1], "Basic ") {
		t.Errorf("Authorization headers = %q", got)
	}
}

func TestServerErrorIsTemporary(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "busy", http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	b, _ := New(Config{Endpoint: srv.URL})
	_, _, err := b.Read(context.Background(), "x", objectdal.OpRead{})
	if !objectdal.IsTemporary(err) {
		t.Errorf("Read error = %v, want temporary", err)
	}
}

func TestUnsupported(t *testing.T) {
	srv := newServer(t, nil)
	b, _ := New(Config{Endpoint: srv.URL})
	_, err := b.Write(context.Background(), "x", objectdal.OpWrite{Size: 1}, bytes.NewReader([]byte("x")))
	if !objectdal.IsNotSupported(err) {
		t.Errorf("Write error = %v, want unsupported", err)
	}
}

func TestSeekableReader(t *testing.T) {
	srv := newServer(t, map[string]string{"/hello.txt": "Hello, World!"})
	op, err := objectdal.Open(objectdal.SchemeHTTP, map[string]string{"endpoint": srv.URL})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	ctx := context.Background()
	r, err := op.Object("hello.txt").SeekableReader(ctx)
	if err != nil {
		t.Fatalf("SeekableReader failed: %v", err)
	}
	defer func() { _ = r.Close() }()
	if _, err := r.Seek(-6, io.SeekEnd); err != nil {
		t.Fatalf("Seek failed: %v", err)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if string(data) != "World!" {
		t.Errorf("read after Seek = %q, want %q", data, "World!")
	}
}

func TestConfigValidate(t *testing.T) {
	for _, endpoint := range []string{"", "not a url", "/relative"} {
		if _, err := New(Config{Endpoint: endpoint}); objectdal.KindOf(err) != objectdal.ErrorKindBackendConfigInvalid {
			t.Errorf("New(%q) kind = %v, want config invalid", endpoint, objectdal.KindOf(err))
		}
	}
}
