package compress

import (
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// ZstdLevel represents zstd compression levels.
type ZstdLevel int

const (
	ZstdSpeedFastest ZstdLevel = iota + 1
	ZstdSpeedDefault
	ZstdSpeedBetterCompression
	ZstdSpeedBestCompression
)

func (l ZstdLevel) encoderLevel() zstd.EncoderLevel {
	switch l {
	case ZstdSpeedFastest:
		return zstd.SpeedFastest
	case ZstdSpeedBetterCompression:
		return zstd.SpeedBetterCompression
	case ZstdSpeedBestCompression:
		return zstd.SpeedBestCompression
	default:
		return zstd.SpeedDefault
	}
}

// ZstdReader decompresses a Zstandard stream and closes the source on Close.
type ZstdReader struct {
	zr     *zstd.Decoder
	closer io.Closer
	closed bool
	mu     sync.Mutex
}

// NewZstdReader creates a zstd reader with optional decoder options.
func NewZstdReader(r io.ReadCloser, opts ...zstd.DOption) (*ZstdReader, error) {
	zr, err := zstd.NewReader(r, opts...)
	if err != nil {
		return nil, err
	}
	return &ZstdReader{zr: zr, closer: r}, nil
}

func (r *ZstdReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0, io.ErrClosedPipe
	}
	return r.zr.Read(p)
}

// Close releases the decoder and closes the source. It is idempotent.
func (r *ZstdReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	r.zr.Close()
	return r.closer.Close()
}

// ZstdWriter compresses into an io.WriteCloser.
type ZstdWriter struct {
	zw     *zstd.Encoder
	closer io.Closer
	closed bool
	mu     sync.Mutex
}

// NewZstdWriter creates a zstd writer with the default level.
func NewZstdWriter(w io.WriteCloser) (*ZstdWriter, error) {
	return NewZstdWriterLevel(w, ZstdSpeedDefault)
}

// NewZstdWriterLevel creates a zstd writer with the given level and options.
func NewZstdWriterLevel(w io.WriteCloser, level ZstdLevel, opts ...zstd.EOption) (*ZstdWriter, error) {
	opts = append([]zstd.EOption{zstd.WithEncoderLevel(level.encoderLevel())}, opts...)
	zw, err := zstd.NewWriter(w, opts...)
	if err != nil {
		return nil, err
	}
	return &ZstdWriter{zw: zw, closer: w}, nil
}

func (w *ZstdWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return 0, io.ErrClosedPipe
	}
	return w.zw.Write(p)
}

// Flush flushes pending compressed data.
func (w *ZstdWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return io.ErrClosedPipe
	}
	return w.zw.Flush()
}

// Close finishes the frame and closes the destination. It is idempotent.
func (w *ZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	if err := w.zw.Close(); err != nil {
		_ = w.closer.Close()
		return err
	}
	return w.closer.Close()
}

var (
	_ io.ReadCloser  = (*ZstdReader)(nil)
	_ io.WriteCloser = (*ZstdWriter)(nil)
)
