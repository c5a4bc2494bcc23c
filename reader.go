package objectdal

import (
	"bytes"
	"context"
	"errors"
	"io"
)

// DefaultChunkSize is the chunk size used by IntoStream when none is given.
const DefaultChunkSize = 256 * 1024

// ChunkReader yields an object as a sequence of byte chunks.
// NextChunk returns io.EOF once the object is exhausted.
type ChunkReader interface {
	NextChunk() ([]byte, error)
	Close() error
}

type streamReader struct {
	r    io.ReadCloser
	buf  []byte
	done bool
}

// IntoStream turns a reader into a ChunkReader producing chunks of at most
// chunkSize bytes. Each chunk is valid until the next call to NextChunk.
func IntoStream(r io.ReadCloser, chunkSize int) ChunkReader {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &streamReader{r: r, buf: make([]byte, chunkSize)}
}

func (s *streamReader) NextChunk() ([]byte, error) {
	if s.done {
		return nil, io.EOF
	}
	for {
		n, err := s.r.Read(s.buf)
		if n > 0 {
			if errors.Is(err, io.EOF) {
				s.done = true
			}
			return s.buf[:n], nil
		}
		if err != nil {
			s.done = true
			return nil, err
		}
	}
}

func (s *streamReader) Close() error { return s.r.Close() }

type chunkedReader struct {
	s   ChunkReader
	cur []byte
	err error
}

// IntoReader turns a ChunkReader back into an io.ReadCloser.
func IntoReader(s ChunkReader) io.ReadCloser {
	return &chunkedReader{s: s}
}

func (c *chunkedReader) Read(p []byte) (int, error) {
	for len(c.cur) == 0 {
		if c.err != nil {
			return 0, c.err
		}
		c.cur, c.err = c.s.NextChunk()
	}
	n := copy(p, c.cur)
	c.cur = c.cur[n:]
	return n, nil
}

func (c *chunkedReader) Close() error { return c.s.Close() }

// RangeReader serves a window of an io.ReaderAt as a seekable reader.
type RangeReader struct {
	*io.SectionReader
	closer io.Closer
}

// NewRangeReader returns a reader over size bytes of r starting at offset.
// Close calls closer when it is not nil.
func NewRangeReader(r io.ReaderAt, offset, size int64, closer io.Closer) *RangeReader {
	return &RangeReader{SectionReader: io.NewSectionReader(r, offset, size), closer: closer}
}

// Close releases the underlying resource.
func (r *RangeReader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

// EmptyRead answers a read of an empty range: p must name an existing file,
// and the body is empty. Backends speaking HTTP use it since a zero length
// Range header can't be sent.
func EmptyRead(ctx context.Context, acc Accessor, p string) (RpRead, io.ReadCloser, error) {
	meta, err := acc.Stat(ctx, p, OpStat{})
	if err != nil {
		return RpRead{}, nil, err
	}
	if meta.Mode.IsDir() {
		return RpRead{}, nil, NewError(ErrorKindObjectIsADirectory, "read requires a file path").
			WithOperation(OperationRead).WithContext("service", acc.Metadata().Scheme).WithContext("path", p)
	}
	return RpRead{Metadata: NewObjectMetadata(ObjectModeFile).WithContentLength(0)}, io.NopCloser(bytes.NewReader(nil)), nil
}

// ReadAll drains r and closes it.
func ReadAll(r io.ReadCloser) ([]byte, error) {
	defer func() { _ = r.Close() }()
	return io.ReadAll(r)
}

type readCloser struct {
	io.Reader
	close func() error
}

func (r readCloser) Close() error {
	if r.close == nil {
		return nil
	}
	return r.close()
}

// NewReadCloser pairs a reader with a close function. A nil close is a no-op.
func NewReadCloser(r io.Reader, close func() error) io.ReadCloser {
	return readCloser{Reader: r, close: close}
}

var _ io.ReadSeekCloser = (*RangeReader)(nil)
