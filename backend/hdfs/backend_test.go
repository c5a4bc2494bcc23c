package hdfs

import (
	"bytes"
	"context"
	"io"
	"io/fs"
	"os"
	"testing"
	"time"

	"github.com/grokify/objectdal"
)

type fileInfo struct {
	name  string
	size  int64
	dir   bool
	mtime time.Time
}

func (f fileInfo) Name() string       { return f.name }
func (f fileInfo) Size() int64        { return f.size }
func (f fileInfo) ModTime() time.Time { return f.mtime }
func (f fileInfo) IsDir() bool        { return f.dir }
func (f fileInfo) Sys() any           { return nil }
func (f fileInfo) Mode() fs.FileMode {
	if f.dir {
		return fs.ModeDir | 0o755
	}
	return 0o644
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"valid", Config{NameNode: "nn:8020", Root: "/data"}, false},
		{"ha pair", Config{NameNode: "nn1:8020, nn2:8020"}, false},
		{"no namenode", Config{NameNode: " , "}, true},
		{"relative root", Config{NameNode: "nn:8020", Root: "data"}, true},
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
		"name_node":             "nn1:8020,nn2:8020",
		"root":                  "/warehouse",
		"user":                  "hive",
		"use_datanode_hostname": "true",
	})
	if got := cfg.addresses(); len(got) != 2 || got[1] != "nn2:8020" {
		t.Errorf("addresses = %v, want two namenodes", got)
	}
	if cfg.Root != "/warehouse" || cfg.User != "hive" || !cfg.UseDatanodeHostname {
		t.Errorf("ConfigFromMap = %+v", cfg)
	}
}

func TestEntriesOf(t *testing.T) {
	mtime := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	entries := entriesOf("dir/", []fs.FileInfo{
		fileInfo{name: "a.txt", size: 3, mtime: mtime},
		fileInfo{name: "sub", dir: true},
	})
	if len(entries) != 2 {
		t.Fatalf("entriesOf returned %d entries, want 2", len(entries))
	}
	if entries[0].Path != "dir/a.txt" || entries[0].Metadata.ContentLength != 3 || !entries[0].Metadata.LastModified.Equal(mtime) {
		t.Errorf("entries[0] = %+v", entries[0])
	}
	if entries[1].Path != "dir/sub/" || !entries[1].Mode().IsDir() {
		t.Errorf("entries[1] = %+v", entries[1])
	}

	entries = entriesOf("/", []fs.FileInfo{fileInfo{name: "top"}})
	if entries[0].Path != "top" {
		t.Errorf("root entry path = %q, want %q", entries[0].Path, "top")
	}
}

func TestTranslateError(t *testing.T) {
	tests := []struct {
		err           error
		wantKind      objectdal.ErrorKind
		wantTemporary bool
	}{
		{&fs.PathError{Op: "open", Path: "/x", Err: os.ErrNotExist}, objectdal.ErrorKindObjectNotFound, false},
		{&fs.PathError{Op: "open", Path: "/x", Err: os.ErrPermission}, objectdal.ErrorKindObjectPermissionDenied, false},
		{&fs.PathError{Op: "create", Path: "/x", Err: os.ErrExist}, objectdal.ErrorKindObjectAlreadyExists, false},
		{io.ErrUnexpectedEOF, objectdal.ErrorKindUnexpected, true},
	}
	for _, tt := range tests {
		err := translateError(tt.err, objectdal.OperationStat, "x")
		if got := objectdal.KindOf(err); got != tt.wantKind {
			t.Errorf("translateError(%v) kind = %v, want %v", tt.err, got, tt.wantKind)
		}
		if got := objectdal.IsTemporary(err); got != tt.wantTemporary {
			t.Errorf("translateError(%v) temporary = %v, want %v", tt.err, got, tt.wantTemporary)
		}
	}
}

// TestIntegration runs against a real cluster when OBJECTDAL_HDFS_NAME_NODE is set.
func TestIntegration(t *testing.T) {
	if os.Getenv("OBJECTDAL_HDFS_NAME_NODE") == "" {
		t.Skip("OBJECTDAL_HDFS_NAME_NODE not set")
	}
	b, err := New(ConfigFromEnv())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer func() { _ = b.Close() }()
	ctx := context.Background()

	if _, err := b.Write(ctx, "it/hello.txt", objectdal.OpWrite{Size: 13}, bytes.NewReader([]byte("Hello, World!"))); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	_, r, err := b.Read(ctx, "it/hello.txt", objectdal.OpRead{Range: objectdal.RangeSuffix(6)})
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	data, _ := objectdal.ReadAll(r)
	if string(data) != "World!" {
		t.Errorf("Read = %q, want %q", data, "World!")
	}
	p, err := b.List(ctx, "it/", objectdal.OpList{})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	entries, err := objectdal.CollectPager(ctx, p)
	if err != nil || len(entries) != 1 {
		t.Errorf("List = %+v, %v, want one entry", entries, err)
	}
	for _, path := range []string{"it/hello.txt", "it/"} {
		if err := b.Delete(ctx, path, objectdal.OpDelete{}); err != nil {
			t.Fatalf("Delete(%q) failed: %v", path, err)
		}
	}
}
