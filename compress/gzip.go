package compress

import (
	"io"
	"sync"

	"github.com/klauspost/compress/gzip"
)

// GzipLevel represents gzip compression levels.
type GzipLevel int

const (
	GzipNoCompression      GzipLevel = gzip.NoCompression
	GzipBestSpeed          GzipLevel = gzip.BestSpeed
	GzipBestCompression    GzipLevel = gzip.BestCompression
	GzipDefaultCompression GzipLevel = gzip.DefaultCompression
	GzipHuffmanOnly        GzipLevel = gzip.HuffmanOnly
)

// GzipReader decompresses a gzip stream and closes the source on Close.
type GzipReader struct {
	gr     *gzip.Reader
	closer io.Closer
	closed bool
	mu     sync.Mutex
}

// NewGzipReader reads the gzip header from r and returns the reader.
func NewGzipReader(r io.ReadCloser) (*GzipReader, error) {
	gr, err := gzip.NewReader(r)
	if err != nil {
		return nil, err
	}
	return &GzipReader{gr: gr, closer: r}, nil
}

func (r *GzipReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0, io.ErrClosedPipe
	}
	return r.gr.Read(p)
}

// Close closes the decompressor and the source. It is idempotent.
func (r *GzipReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	if err := r.gr.Close(); err != nil {
		_ = r.closer.Close()
		return err
	}
	return r.closer.Close()
}

// Header returns the gzip header.
func (r *GzipReader) Header() gzip.Header {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gr.Header
}

// GzipWriter compresses into an io.WriteCloser.
type GzipWriter struct {
	gw     *gzip.Writer
	closer io.Closer
	closed bool
	mu     sync.Mutex
}

// NewGzipWriter creates a gzip writer with the default level.
func NewGzipWriter(w io.WriteCloser) (*GzipWriter, error) {
	return NewGzipWriterLevel(w, GzipDefaultCompression)
}

// NewGzipWriterLevel creates a gzip writer with the given level.
func NewGzipWriterLevel(w io.WriteCloser, level GzipLevel) (*GzipWriter, error) {
	gw, err := gzip.NewWriterLevel(w, int(level))
	if err != nil {
		return nil, err
	}
	return &GzipWriter{gw: gw, closer: w}, nil
}

func (w *GzipWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return 0, io.ErrClosedPipe
	}
	return w.gw.Write(p)
}

// Flush flushes pending compressed data.
func (w *GzipWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return io.ErrClosedPipe
	}
	return w.gw.Flush()
}

// Close writes the gzip footer and closes the destination. It is idempotent.
func (w *GzipWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	if err := w.gw.Close(); err != nil {
		_ = w.closer.Close()
		return err
	}
	return w.closer.Close()
}

var (
	_ io.ReadCloser  = (*GzipReader)(nil)
	_ io.WriteCloser = (*GzipWriter)(nil)
)
