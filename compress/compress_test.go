package compress

import (
	"bytes"
	"io"
	"strings"
	"testing"
)

type nopWriteCloser struct {
	*bytes.Buffer
	closed bool
}

func (w *nopWriteCloser) Close() error {
	w.closed = true
	return nil
}

type nopReadCloser struct {
	*bytes.Reader
	closed bool
}

func (r *nopReadCloser) Close() error {
	r.closed = true
	return nil
}

func TestFromPath(t *testing.T) {
	tests := []struct {
		path string
		want Algorithm
		ok   bool
	}{
		{"logs/app.log.gz", Gzip, true},
		{"data.ndjson.zst", Zstd, true},
		{"a.ZST", Zstd, true},
		{"plain.txt", None, false},
		{"noext", None, false},
		{"dir.gz/file", None, false},
	}
	for _, tt := range tests {
		got, ok := FromPath(tt.path)
		if got != tt.want || ok != tt.ok {
			t.Errorf("FromPath(%q) = %v, %v, want %v, %v", tt.path, got, ok, tt.want, tt.ok)
		}
	}
}

func TestParse(t *testing.T) {
	if _, err := Parse("lz4"); err != ErrUnknownAlgorithm {
		t.Errorf("Parse(lz4) error = %v, want %v", err, ErrUnknownAlgorithm)
	}
	algo, err := Parse(".gzip")
	if err != nil || algo != Gzip {
		t.Errorf("Parse(.gzip) = %v, %v", algo, err)
	}
}

func TestRoundTrip(t *testing.T) {
	data := []byte(strings.Repeat("hello compression world\n", 200))
	for _, algo := range []Algorithm{None, Gzip, Zstd} {
		t.Run(algo.String(), func(t *testing.T) {
			buf := &nopWriteCloser{Buffer: &bytes.Buffer{}}
			w, err := NewWriter(algo, buf)
			if err != nil {
				t.Fatalf("NewWriter failed: %v", err)
			}
			if _, err := w.Write(data); err != nil {
				t.Fatalf("Write failed: %v", err)
			}
			if err := w.Close(); err != nil {
				t.Fatalf("Close failed: %v", err)
			}
			if algo != None && buf.Len() >= len(data) {
				t.Errorf("compressed size %d not smaller than %d", buf.Len(), len(data))
			}

			src := &nopReadCloser{Reader: bytes.NewReader(buf.Bytes())}
			r, err := NewReader(algo, src)
			if err != nil {
				t.Fatalf("NewReader failed: %v", err)
			}
			got, err := io.ReadAll(r)
			if err != nil {
				t.Fatalf("ReadAll failed: %v", err)
			}
			if err := r.Close(); err != nil {
				t.Fatalf("Close failed: %v", err)
			}
			if !bytes.Equal(got, data) {
				t.Errorf("round trip mismatch: got %d bytes, want %d", len(got), len(data))
			}
			if !src.closed {
				t.Error("source reader not closed")
			}
		})
	}
}

func TestWriterClosed(t *testing.T) {
	buf := &nopWriteCloser{Buffer: &bytes.Buffer{}}
	w, err := NewZstdWriterLevel(buf, ZstdSpeedBestCompression)
	if err != nil {
		t.Fatalf("NewZstdWriterLevel failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("second Close = %v, want nil", err)
	}
	if _, err := w.Write([]byte("x")); err != io.ErrClosedPipe {
		t.Errorf("Write after Close = %v, want %v", err, io.ErrClosedPipe)
	}
	if !buf.closed {
		t.Error("destination not closed")
	}
}

func TestGzipLevel(t *testing.T) {
	for _, level := range []GzipLevel{GzipBestSpeed, GzipBestCompression, GzipHuffmanOnly} {
		buf := &nopWriteCloser{Buffer: &bytes.Buffer{}}
		w, err := NewGzipWriterLevel(buf, level)
		if err != nil {
			t.Fatalf("NewGzipWriterLevel(%d) failed: %v", level, err)
		}
		if _, err := w.Write([]byte("abc")); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
		if err := w.Flush(); err != nil {
			t.Fatalf("Flush failed: %v", err)
		}
		if err := w.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	}
	if _, err := NewGzipWriterLevel(&nopWriteCloser{Buffer: &bytes.Buffer{}}, GzipLevel(42)); err == nil {
		t.Error("NewGzipWriterLevel(42) should fail")
	}
}
