package sftp

import (
	"bytes"
	"context"
	"net"
	"os"
	"testing"

	"github.com/pkg/sftp"

	"github.com/grokify/objectdal"
)

// newTestBackend serves an in-memory SFTP filesystem over a pipe.
func newTestBackend(t *testing.T, root string) *Backend {
	t.Helper()
	serverConn, clientConn := net.Pipe()
	server := sftp.NewRequestServer(serverConn, sftp.InMemHandler())
	go func() { _ = server.Serve() }()

	client, err := sftp.NewClientPipe(clientConn, clientConn)
	if err != nil {
		t.Fatalf("NewClientPipe failed: %v", err)
	}
	b, err := NewWithClient(client, root)
	if err != nil {
		t.Fatalf("NewWithClient failed: %v", err)
	}
	t.Cleanup(func() {
		_ = b.Close()
		_ = server.Close()
	})
	return b
}

func TestWriteReadStat(t *testing.T) {
	b := newTestBackend(t, "/data")
	ctx := context.Background()

	rp, err := b.Write(ctx, "a/b/hello.txt", objectdal.OpWrite{Size: 13}, bytes.NewReader([]byte("Hello, World!")))
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if rp.Written != 13 {
		t.Errorf("Written = %d, want 13", rp.Written)
	}

	_, r, err := b.Read(ctx, "a/b/hello.txt", objectdal.OpRead{})
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	data, err := objectdal.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if string(data) != "Hello, World!" {
		t.Errorf("Read = %q, want %q", data, "Hello, World!")
	}

	meta, err := b.Stat(ctx, "a/b/hello.txt", objectdal.OpStat{})
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if !meta.Mode.IsFile() || meta.ContentLength != 13 {
		t.Errorf("Stat = %+v, want file of 13 bytes", meta)
	}

	meta, err = b.Stat(ctx, "a/", objectdal.OpStat{})
	if err != nil {
		t.Fatalf("Stat(a/) failed: %v", err)
	}
	if !meta.Mode.IsDir() {
		t.Errorf("Stat(a/) mode = %v, want dir", meta.Mode)
	}
	if _, err := b.Stat(ctx, "a", objectdal.OpStat{}); !objectdal.IsNotFound(err) {
		t.Errorf("Stat(a) error = %v, want not found", err)
	}
}

func TestReadRange(t *testing.T) {
	b := newTestBackend(t, "/")
	ctx := context.Background()
	if _, err := b.Write(ctx, "f", objectdal.OpWrite{Size: -1}, bytes.NewReader([]byte("Hello, World!"))); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	tests := []struct {
		rng  objectdal.BytesRange
		want string
	}{
		{objectdal.RangeBounded(0, 5), "Hello"},
		{objectdal.RangeFrom(7), "World!"},
		{objectdal.RangeSuffix(6), "World!"},
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
		if rp.Metadata.ContentRange == nil || rp.Metadata.ContentRange.Total != 13 {
			t.Errorf("Read(%s) content range = %v, want total 13", tt.rng, rp.Metadata.ContentRange)
		}
	}
}

func TestListAndDelete(t *testing.T) {
	b := newTestBackend(t, "/root")
	ctx := context.Background()

	if err := b.Create(ctx, "dir/sub/", objectdal.OpCreate{Mode: objectdal.ObjectModeDir}); err != nil {
		t.Fatalf("Create(dir/sub/) failed: %v", err)
	}
	if err := b.Create(ctx, "dir/empty", objectdal.OpCreate{Mode: objectdal.ObjectModeFile}); err != nil {
		t.Fatalf("Create(dir/empty) failed: %v", err)
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
		"dir/empty": objectdal.ObjectModeFile,
		"dir/sub/":  objectdal.ObjectModeDir,
	}
	if len(entries) != len(want) {
		t.Fatalf("List returned %d entries, want %d: %+v", len(entries), len(want), entries)
	}
	for _, e := range entries {
		if want[e.Path] != e.Mode() {
			t.Errorf("entry %q mode = %v, want %v", e.Path, e.Mode(), want[e.Path])
		}
	}

	p, err = b.List(ctx, "missing/", objectdal.OpList{})
	if err != nil {
		t.Fatalf("List(missing/) failed: %v", err)
	}
	if entries, _ := objectdal.CollectPager(ctx, p); len(entries) != 0 {
		t.Errorf("List(missing/) = %+v, want empty", entries)
	}

	for _, path := range []string{"dir/empty", "dir/sub/", "dir/missing"} {
		if err := b.Delete(ctx, path, objectdal.OpDelete{}); err != nil {
			t.Errorf("Delete(%q) failed: %v", path, err)
		}
	}
	if _, err := b.Stat(ctx, "dir/sub/", objectdal.OpStat{}); !objectdal.IsNotFound(err) {
		t.Errorf("Stat after Delete = %v, want not found", err)
	}
}

func TestReadErrors(t *testing.T) {
	b := newTestBackend(t, "/")
	ctx := context.Background()

	if _, _, err := b.Read(ctx, "nope", objectdal.OpRead{}); !objectdal.IsNotFound(err) {
		t.Errorf("Read(nope) error = %v, want not found", err)
	}
	if _, err := b.List(ctx, "file", objectdal.OpList{}); objectdal.KindOf(err) != objectdal.ErrorKindObjectNotADirectory {
		t.Errorf("List(file) kind = %v, want not a directory", objectdal.KindOf(err))
	}
	if _, err := b.Presign(ctx, "file", objectdal.OpPresign{}); !objectdal.IsNotSupported(err) {
		t.Errorf("Presign error = %v, want unsupported", err)
	}
}

func TestClosed(t *testing.T) {
	b := newTestBackend(t, "/")
	if err := b.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, err := b.Stat(context.Background(), "x", objectdal.OpStat{}); err == nil {
		t.Error("Stat after Close should fail")
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"valid password", Config{Host: "h", User: "u", Password: "p"}, false},
		{"valid key", Config{Host: "h", User: "u", KeyFile: "/k"}, false},
		{"no host", Config{User: "u", Password: "p"}, true},
		{"no user", Config{Host: "h", Password: "p"}, true},
		{"no auth", Config{Host: "h", User: "u"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && objectdal.KindOf(err) != objectdal.ErrorKindBackendConfigInvalid {
				t.Errorf("Validate() kind = %v, want config invalid", objectdal.KindOf(err))
			}
		})
	}
}

func TestConfigFromMap(t *testing.T) {
	cfg := ConfigFromMap(map[string]string{
		"host":     "example.com",
		"port":     "2222",
		"user":     "me",
		"password": "secret",
		"root":     "upload",
	})
	if cfg.Host != "example.com" || cfg.Port != 2222 || cfg.User != "me" || cfg.Password != "secret" || cfg.Root != "upload" {
		t.Errorf("ConfigFromMap = %+v", cfg)
	}
	if cfg.Timeout != 30 {
		t.Errorf("Timeout = %d, want default 30", cfg.Timeout)
	}
}

// TestIntegration runs against a real server when OBJECTDAL_SFTP_HOST is set.
func TestIntegration(t *testing.T) {
	if os.Getenv("OBJECTDAL_SFTP_HOST") == "" {
		t.Skip("OBJECTDAL_SFTP_HOST not set")
	}
	b, err := New(ConfigFromEnv())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer func() { _ = b.Close() }()
	ctx := context.Background()

	if _, err := b.Write(ctx, "objectdal-it.txt", objectdal.OpWrite{Size: 2}, bytes.NewReader([]byte("ok"))); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	meta, err := b.Stat(ctx, "objectdal-it.txt", objectdal.OpStat{})
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if meta.ContentLength != 2 {
		t.Errorf("ContentLength = %d, want 2", meta.ContentLength)
	}
	if err := b.Delete(ctx, "objectdal-it.txt", objectdal.OpDelete{}); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
}
