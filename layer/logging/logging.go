// Package logging provides a layer that logs every accessor operation with
// log/slog.
//
// Each operation logs "started" and "finished" at debug level. Failures log
// "errored" when the error kind is expected (not found, permission denied,
// ...) and "failed" when it is unexpected, each at its own level. Readers and
// pagers log a terminal record on Close telling whether they were consumed.
package logging

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/grokify/mogo/log/slogutil"

	"github.com/grokify/objectdal"
)

// Layer logs operations of the accessor it wraps.
type Layer struct {
	logger       *slog.Logger
	errorLevel   slog.Level
	failureLevel slog.Level
	errorLog     bool
	failureLog   bool
}

// Option configures a Layer.
type Option func(*Layer)

// WithLogger sets the logger. Default: discard.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Layer) { l.logger = logger }
}

// WithErrorLevel sets the level of "errored" records. Default: warn.
func WithErrorLevel(level slog.Level) Option {
	return func(l *Layer) { l.errorLevel = level }
}

// WithFailureLevel sets the level of "failed" records. Default: error.
func WithFailureLevel(level slog.Level) Option {
	return func(l *Layer) { l.failureLevel = level }
}

// WithoutErrorLog drops "errored" records.
func WithoutErrorLog() Option {
	return func(l *Layer) { l.errorLog = false }
}

// WithoutFailureLog drops "failed" records.
func WithoutFailureLog() Option {
	return func(l *Layer) { l.failureLog = false }
}

// New returns a logging layer.
func New(opts ...Option) *Layer {
	l := &Layer{
		logger:       slogutil.Null(),
		errorLevel:   slog.LevelWarn,
		failureLevel: slog.LevelError,
		errorLog:     true,
		failureLog:   true,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.logger == nil {
		l.logger = slogutil.Null()
	}
	return l
}

// Layer implements objectdal.Layer.
func (l *Layer) Layer(inner objectdal.Accessor) objectdal.Accessor {
	return &accessor{
		ForwardAccessor: objectdal.ForwardAccessor{Inner: inner},
		layer:           l,
		service:         inner.Metadata().Scheme.String(),
	}
}

type accessor struct {
	objectdal.ForwardAccessor
	layer   *Layer
	service string
}

func (a *accessor) attrs(op objectdal.Operation, path string, extra ...slog.Attr) []slog.Attr {
	return append([]slog.Attr{
		slog.String("service", a.service),
		slog.String("operation", op.String()),
		slog.String("path", path),
	}, extra...)
}

func (a *accessor) started(ctx context.Context, op objectdal.Operation, path string, extra ...slog.Attr) {
	a.layer.logger.LogAttrs(ctx, slog.LevelDebug, "started", a.attrs(op, path, extra...)...)
}

func (a *accessor) finished(ctx context.Context, op objectdal.Operation, path string, extra ...slog.Attr) {
	a.layer.logger.LogAttrs(ctx, slog.LevelDebug, "finished", a.attrs(op, path, extra...)...)
}

// done logs the outcome of op and returns err unchanged.
func (a *accessor) done(ctx context.Context, op objectdal.Operation, path string, err error, extra ...slog.Attr) error {
	if err == nil {
		a.finished(ctx, op, path, extra...)
		return nil
	}
	a.layer.logError(ctx, a.attrs(op, path, extra...), err)
	return err
}

func (l *Layer) logError(ctx context.Context, attrs []slog.Attr, err error) {
	attrs = append(attrs, slog.String("error", err.Error()))
	if objectdal.KindOf(err) == objectdal.ErrorKindUnexpected {
		if l.failureLog {
			l.logger.LogAttrs(ctx, l.failureLevel, "failed", attrs...)
		}
		return
	}
	if l.errorLog {
		l.logger.LogAttrs(ctx, l.errorLevel, "errored", attrs...)
	}
}

func (a *accessor) Create(ctx context.Context, path string, args objectdal.OpCreate) error {
	a.started(ctx, objectdal.OperationCreate, path)
	return a.done(ctx, objectdal.OperationCreate, path, a.Inner.Create(ctx, path, args))
}

func (a *accessor) Read(ctx context.Context, path string, args objectdal.OpRead) (objectdal.RpRead, io.ReadCloser, error) {
	rng := slog.String("range", args.Range.String())
	a.started(ctx, objectdal.OperationRead, path, rng)
	rp, r, err := a.Inner.Read(ctx, path, args)
	if err != nil {
		return rp, nil, a.done(ctx, objectdal.OperationRead, path, err, rng)
	}
	a.finished(ctx, objectdal.OperationRead, path, rng, slog.Int64("size", rp.Metadata.ContentLength))
	return rp, wrapReader(ctx, a, path, r), nil
}

func (a *accessor) Write(ctx context.Context, path string, args objectdal.OpWrite, r io.Reader) (objectdal.RpWrite, error) {
	size := slog.Int64("size", args.Size)
	a.started(ctx, objectdal.OperationWrite, path, size)
	rp, err := a.Inner.Write(ctx, path, args, r)
	if err != nil {
		return rp, a.done(ctx, objectdal.OperationWrite, path, err, size)
	}
	a.finished(ctx, objectdal.OperationWrite, path, size, slog.Int64("written", rp.Written))
	return rp, nil
}

func (a *accessor) Stat(ctx context.Context, path string, args objectdal.OpStat) (objectdal.ObjectMetadata, error) {
	a.started(ctx, objectdal.OperationStat, path)
	meta, err := a.Inner.Stat(ctx, path, args)
	if err != nil {
		return meta, a.done(ctx, objectdal.OperationStat, path, err)
	}
	a.finished(ctx, objectdal.OperationStat, path, slog.String("mode", meta.Mode.String()))
	return meta, nil
}

func (a *accessor) Delete(ctx context.Context, path string, args objectdal.OpDelete) error {
	a.started(ctx, objectdal.OperationDelete, path)
	return a.done(ctx, objectdal.OperationDelete, path, a.Inner.Delete(ctx, path, args))
}

func (a *accessor) List(ctx context.Context, path string, args objectdal.OpList) (objectdal.Pager, error) {
	a.started(ctx, objectdal.OperationList, path)
	p, err := a.Inner.List(ctx, path, args)
	if err != nil {
		return nil, a.done(ctx, objectdal.OperationList, path, err)
	}
	a.finished(ctx, objectdal.OperationList, path)
	return &pager{inner: p, acc: a, path: path, ctx: ctx}, nil
}

func (a *accessor) Presign(ctx context.Context, path string, args objectdal.OpPresign) (objectdal.PresignedRequest, error) {
	kind := slog.String("presign", args.Operation.String())
	a.started(ctx, objectdal.OperationPresign, path, kind)
	req, err := a.Inner.Presign(ctx, path, args)
	return req, a.done(ctx, objectdal.OperationPresign, path, err, kind)
}

func (a *accessor) CreateMultipart(ctx context.Context, path string, args objectdal.OpCreateMultipart) (objectdal.RpCreateMultipart, error) {
	a.started(ctx, objectdal.OperationCreateMultipart, path)
	rp, err := a.Inner.CreateMultipart(ctx, path, args)
	if err != nil {
		return rp, a.done(ctx, objectdal.OperationCreateMultipart, path, err)
	}
	a.finished(ctx, objectdal.OperationCreateMultipart, path, slog.String("upload_id", rp.UploadID))
	return rp, nil
}

func (a *accessor) WriteMultipart(ctx context.Context, path string, args objectdal.OpWriteMultipart, r io.Reader) (objectdal.ObjectPart, error) {
	extra := []slog.Attr{
		slog.String("upload_id", args.UploadID),
		slog.Int("part_number", args.PartNumber),
		slog.Int64("size", args.Size),
	}
	a.started(ctx, objectdal.OperationWriteMultipart, path, extra...)
	part, err := a.Inner.WriteMultipart(ctx, path, args, r)
	return part, a.done(ctx, objectdal.OperationWriteMultipart, path, err, extra...)
}

func (a *accessor) CompleteMultipart(ctx context.Context, path string, args objectdal.OpCompleteMultipart) error {
	extra := []slog.Attr{slog.String("upload_id", args.UploadID), slog.Int("parts", len(args.Parts))}
	a.started(ctx, objectdal.OperationCompleteMultipart, path, extra...)
	return a.done(ctx, objectdal.OperationCompleteMultipart, path, a.Inner.CompleteMultipart(ctx, path, args), extra...)
}

func (a *accessor) AbortMultipart(ctx context.Context, path string, args objectdal.OpAbortMultipart) error {
	id := slog.String("upload_id", args.UploadID)
	a.started(ctx, objectdal.OperationAbortMultipart, path, id)
	return a.done(ctx, objectdal.OperationAbortMultipart, path, a.Inner.AbortMultipart(ctx, path, args), id)
}

// reader counts bytes and logs how it ended.
type reader struct {
	inner   io.ReadCloser
	acc     *accessor
	path    string
	ctx     context.Context
	hasRead int64
	eof     bool
}

type seekReader struct {
	*reader
}

func wrapReader(ctx context.Context, a *accessor, path string, r io.ReadCloser) io.ReadCloser {
	lr := &reader{inner: r, acc: a, path: path, ctx: ctx}
	if _, ok := r.(io.Seeker); ok {
		return seekReader{lr}
	}
	return lr
}

func (r *reader) Read(p []byte) (int, error) {
	n, err := r.inner.Read(p)
	r.hasRead += int64(n)
	switch {
	case err == io.EOF:
		r.eof = true
	case err != nil:
		r.acc.layer.logError(r.ctx, r.acc.attrs(objectdal.OperationReaderRead, r.path, slog.Int64("has_read", r.hasRead)), err)
	}
	return n, err
}

func (r seekReader) Seek(offset int64, whence int) (int64, error) {
	pos, err := r.inner.(io.Seeker).Seek(offset, whence)
	if err != nil {
		r.acc.layer.logError(r.ctx, r.acc.attrs(objectdal.OperationReaderSeek, r.path, slog.Int64("offset", offset)), err)
		return pos, err
	}
	r.eof = false
	return pos, nil
}

func (r *reader) Close() error {
	msg := "dropped reader"
	if r.eof {
		msg = "consumed reader fully"
	}
	r.acc.layer.logger.LogAttrs(r.ctx, slog.LevelDebug, msg,
		r.acc.attrs(objectdal.OperationReaderRead, r.path, slog.Int64("has_read", r.hasRead))...)
	return r.inner.Close()
}

// pager counts entries and logs how it ended.
type pager struct {
	inner   objectdal.Pager
	acc     *accessor
	path    string
	ctx     context.Context
	entries int
	done    bool
}

func (p *pager) NextPage(ctx context.Context) ([]objectdal.ObjectEntry, error) {
	page, err := p.inner.NextPage(ctx)
	p.entries += len(page)
	switch {
	case errors.Is(err, io.EOF):
		p.done = true
	case err != nil:
		p.acc.layer.logError(ctx, p.acc.attrs(objectdal.OperationPagerNext, p.path, slog.Int("entries", p.entries)), err)
	}
	return page, err
}

func (p *pager) Close() error {
	msg := "dropped pager"
	if p.done {
		msg = "listed all pages"
	}
	p.acc.layer.logger.LogAttrs(p.ctx, slog.LevelDebug, msg,
		p.acc.attrs(objectdal.OperationPagerNext, p.path, slog.Int("entries", p.entries))...)
	return p.inner.Close()
}
