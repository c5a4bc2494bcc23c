// Package throttle provides a layer that limits the bandwidth of reads and
// writes with a token bucket shared by every operation of the accessor.
package throttle

import (
	"context"
	"io"

	"golang.org/x/time/rate"

	"github.com/grokify/objectdal"
)

// chunkSize caps a single read so the limiter paces transfers smoothly.
const chunkSize = 64 * 1024

// Layer limits bandwidth of the accessor it wraps.
type Layer struct {
	limiter *rate.Limiter
}

// New limits transfers to bytesPerSecond. burst is the largest amount moved
// at once; zero means one second worth of bytes. A non positive
// bytesPerSecond disables limiting.
func New(bytesPerSecond int64, burst int) *Layer {
	if bytesPerSecond <= 0 {
		return &Layer{}
	}
	if burst <= 0 {
		burst = int(bytesPerSecond)
	}
	return &Layer{limiter: rate.NewLimiter(rate.Limit(bytesPerSecond), burst)}
}

// Layer implements objectdal.Layer.
func (l *Layer) Layer(inner objectdal.Accessor) objectdal.Accessor {
	if l.limiter == nil {
		return inner
	}
	return &accessor{ForwardAccessor: objectdal.ForwardAccessor{Inner: inner}, limiter: l.limiter}
}

type accessor struct {
	objectdal.ForwardAccessor
	limiter *rate.Limiter
}

func (a *accessor) Read(ctx context.Context, path string, args objectdal.OpRead) (objectdal.RpRead, io.ReadCloser, error) {
	rp, r, err := a.Inner.Read(ctx, path, args)
	if err != nil {
		return rp, nil, err
	}
	lr := &limitedReader{ctx: ctx, r: r, limiter: a.limiter, path: path}
	if _, ok := r.(io.Seeker); ok {
		return rp, seekReader{lr}, nil
	}
	return rp, readCloser{lr}, nil
}

func (a *accessor) Write(ctx context.Context, path string, args objectdal.OpWrite, r io.Reader) (objectdal.RpWrite, error) {
	return a.Inner.Write(ctx, path, args, &limitedReader{ctx: ctx, r: r, limiter: a.limiter, path: path})
}

func (a *accessor) WriteMultipart(ctx context.Context, path string, args objectdal.OpWriteMultipart, r io.Reader) (objectdal.ObjectPart, error) {
	return a.Inner.WriteMultipart(ctx, path, args, &limitedReader{ctx: ctx, r: r, limiter: a.limiter, path: path})
}

// limitedReader waits for tokens before every read.
type limitedReader struct {
	ctx     context.Context
	r       io.Reader
	limiter *rate.Limiter
	path    string
}

func (r *limitedReader) Read(p []byte) (int, error) {
	n := min(len(p), chunkSize, r.limiter.Burst())
	if n == 0 {
		return r.r.Read(p)
	}
	if err := r.limiter.WaitN(r.ctx, n); err != nil {
		return 0, objectdal.AsError(err).WithOperation(objectdal.OperationReaderRead).WithContext("path", r.path)
	}
	return r.r.Read(p[:n])
}

type readCloser struct {
	*limitedReader
}

func (r readCloser) Close() error { return r.r.(io.Closer).Close() }

type seekReader struct {
	*limitedReader
}

func (r seekReader) Seek(offset int64, whence int) (int64, error) {
	return r.r.(io.Seeker).Seek(offset, whence)
}

func (r seekReader) Close() error { return r.r.(io.Closer).Close() }
