package objectdal

import (
	"context"
	"errors"
	"io"
)

const (
	// Forward seeks shorter than this consume the open stream instead of
	// reopening it.
	discardWindow = 1024 * 1024

	// Upper bound of bytes discarded per read call while skipping.
	discardStep = 212992
)

type offsetState int

const (
	stateIdle offsetState = iota
	stateSending
	stateReading
	stateStating
)

func (s offsetState) String() string {
	switch s {
	case stateSending:
		return "sending"
	case stateReading:
		return "reading"
	case stateStating:
		return "stating"
	default:
		return "idle"
	}
}

// OffsetReader makes a non-seekable backend readable with Seek by reopening
// the object at the wanted position. Position 0 of the reader is byte offset
// of the object.
//
// Small forward seeks on an open stream discard bytes instead of reopening.
type OffsetReader struct {
	ctx    context.Context
	acc    Accessor
	path   string
	offset int64

	state offsetState
	body  io.ReadCloser

	// cur is the logical position; size is the logical length or -1.
	cur  int64
	size int64
}

// NewOffsetReader returns a seekable reader over path starting at offset.
// The context is used for every request the reader issues.
func NewOffsetReader(ctx context.Context, acc Accessor, path string, offset int64) *OffsetReader {
	return &OffsetReader{ctx: ctx, acc: acc, path: path, offset: offset, size: -1}
}

func (r *OffsetReader) open() error {
	r.state = stateSending
	rp, body, err := r.acc.Read(r.ctx, r.path, OpRead{Range: RangeFrom(r.offset + r.cur)})
	if err != nil {
		r.state = stateIdle
		return err
	}
	if rp.Metadata.HasContentLength() {
		r.size = rp.Metadata.ContentLength + r.cur
	}
	r.body = body
	r.state = stateReading
	return nil
}

func (r *OffsetReader) drop() {
	if r.body != nil {
		_ = r.body.Close()
		r.body = nil
	}
	r.state = stateIdle
}

// Read implements io.Reader.
func (r *OffsetReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if r.size >= 0 && r.cur >= r.size {
		return 0, io.EOF
	}
	if r.state != stateReading {
		if err := r.open(); err != nil {
			return 0, err
		}
	}
	n, err := r.body.Read(p)
	r.cur += int64(n)
	if errors.Is(err, io.EOF) {
		r.drop()
		if n > 0 {
			return n, nil
		}
		return 0, io.EOF
	}
	if err != nil {
		r.drop()
	}
	return n, err
}

// Seek implements io.Seeker. Seeking from the end without a known length
// stats the object first.
func (r *OffsetReader) Seek(offset int64, whence int) (int64, error) {
	target, err := r.seekTarget(offset, whence)
	if err != nil {
		return r.cur, err
	}

	if target == r.cur {
		return r.cur, nil
	}
	if r.state == stateReading && target > r.cur && target-r.cur < discardWindow {
		if r.discard(target - r.cur) {
			return r.cur, nil
		}
	}
	r.drop()
	r.cur = target
	return r.cur, nil
}

func (r *OffsetReader) seekTarget(offset int64, whence int) (int64, error) {
	var base int64
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		base = r.cur
	case io.SeekEnd:
		if r.size < 0 {
			if err := r.stat(); err != nil {
				return 0, err
			}
		}
		base = r.size
	default:
		return 0, NewError(ErrorKindUnexpected, "invalid whence").
			WithOperation(OperationReaderSeek).WithContext("whence", whence)
	}
	target := base + offset
	if target < 0 {
		return 0, NewError(ErrorKindUnexpected, "seek to a negative position").
			WithOperation(OperationReaderSeek).WithContext("position", target)
	}
	return target, nil
}

func (r *OffsetReader) stat() error {
	prev := r.state
	r.state = stateStating
	meta, err := r.acc.Stat(r.ctx, r.path, OpStat{})
	r.state = prev
	if err != nil {
		return err
	}
	if !meta.HasContentLength() {
		return NewError(ErrorKindUnexpected, "object length is unknown").
			WithOperation(OperationReaderSeek).WithContext("path", r.path)
	}
	r.size = max(meta.ContentLength-r.offset, 0)
	return nil
}

// discard skips n bytes on the open stream. It returns false when the stream
// ended or failed before n bytes, leaving the reader idle.
func (r *OffsetReader) discard(n int64) bool {
	for n > 0 {
		step := min(n, discardStep)
		m, err := io.CopyN(io.Discard, r.body, step)
		r.cur += m
		n -= m
		if err != nil {
			r.drop()
			return false
		}
	}
	return true
}

// Close releases the open stream, if any.
func (r *OffsetReader) Close() error {
	if r.body == nil {
		return nil
	}
	err := r.body.Close()
	r.body = nil
	r.state = stateIdle
	return err
}

var _ io.ReadSeekCloser = (*OffsetReader)(nil)
