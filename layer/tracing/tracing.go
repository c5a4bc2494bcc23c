// Package tracing provides a layer that records an OpenTelemetry span for
// every accessor operation. Read and List spans stay open until the returned
// reader or pager is closed.
package tracing

import (
	"context"
	"errors"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/grokify/objectdal"
)

const instrumentationName = "github.com/grokify/objectdal/layer/tracing"

// Layer traces the accessor it wraps.
type Layer struct {
	provider trace.TracerProvider
}

// Option configures a Layer.
type Option func(*Layer)

// WithTracerProvider sets the provider. Default: the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(l *Layer) { l.provider = tp }
}

// New returns a tracing layer.
func New(opts ...Option) *Layer {
	l := &Layer{}
	for _, opt := range opts {
		opt(l)
	}
	if l.provider == nil {
		l.provider = otel.GetTracerProvider()
	}
	return l
}

// Layer implements objectdal.Layer.
func (l *Layer) Layer(inner objectdal.Accessor) objectdal.Accessor {
	meta := inner.Metadata()
	return &accessor{
		ForwardAccessor: objectdal.ForwardAccessor{Inner: inner},
		tracer:          l.provider.Tracer(instrumentationName, trace.WithInstrumentationVersion(objectdal.Version)),
		attrs: []attribute.KeyValue{
			attribute.String("objectdal.service", meta.Scheme.String()),
			attribute.String("objectdal.root", meta.Root),
		},
	}
}

type accessor struct {
	objectdal.ForwardAccessor
	tracer trace.Tracer
	attrs  []attribute.KeyValue
}

func (a *accessor) start(ctx context.Context, op objectdal.Operation, path string, extra ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs := append(append([]attribute.KeyValue{}, a.attrs...), attribute.String("objectdal.path", path))
	attrs = append(attrs, extra...)
	return a.tracer.Start(ctx, op.String(), trace.WithAttributes(attrs...), trace.WithSpanKind(trace.SpanKindClient))
}

// end finishes span, recording err when set.
func end(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.String("objectdal.error_kind", objectdal.KindOf(err).String()))
	}
	span.End()
}

func (a *accessor) Create(ctx context.Context, path string, args objectdal.OpCreate) error {
	ctx, span := a.start(ctx, objectdal.OperationCreate, path)
	err := a.Inner.Create(ctx, path, args)
	end(span, err)
	return err
}

func (a *accessor) Read(ctx context.Context, path string, args objectdal.OpRead) (objectdal.RpRead, io.ReadCloser, error) {
	ctx, span := a.start(ctx, objectdal.OperationRead, path, attribute.String("objectdal.range", args.Range.String()))
	rp, r, err := a.Inner.Read(ctx, path, args)
	if err != nil {
		end(span, err)
		return rp, nil, err
	}
	tr := &reader{inner: r, span: span}
	if _, ok := r.(io.Seeker); ok {
		return rp, seekReader{tr}, nil
	}
	return rp, tr, nil
}

func (a *accessor) Write(ctx context.Context, path string, args objectdal.OpWrite, r io.Reader) (objectdal.RpWrite, error) {
	ctx, span := a.start(ctx, objectdal.OperationWrite, path, attribute.Int64("objectdal.size", args.Size))
	rp, err := a.Inner.Write(ctx, path, args, r)
	if err == nil {
		span.SetAttributes(attribute.Int64("objectdal.written", rp.Written))
	}
	end(span, err)
	return rp, err
}

func (a *accessor) Stat(ctx context.Context, path string, args objectdal.OpStat) (objectdal.ObjectMetadata, error) {
	ctx, span := a.start(ctx, objectdal.OperationStat, path)
	meta, err := a.Inner.Stat(ctx, path, args)
	end(span, err)
	return meta, err
}

func (a *accessor) Delete(ctx context.Context, path string, args objectdal.OpDelete) error {
	ctx, span := a.start(ctx, objectdal.OperationDelete, path)
	err := a.Inner.Delete(ctx, path, args)
	end(span, err)
	return err
}

func (a *accessor) List(ctx context.Context, path string, args objectdal.OpList) (objectdal.Pager, error) {
	ctx, span := a.start(ctx, objectdal.OperationList, path)
	p, err := a.Inner.List(ctx, path, args)
	if err != nil {
		end(span, err)
		return nil, err
	}
	return &pager{inner: p, span: span}, nil
}

func (a *accessor) Presign(ctx context.Context, path string, args objectdal.OpPresign) (objectdal.PresignedRequest, error) {
	ctx, span := a.start(ctx, objectdal.OperationPresign, path, attribute.String("objectdal.presign", args.Operation.String()))
	req, err := a.Inner.Presign(ctx, path, args)
	end(span, err)
	return req, err
}

func (a *accessor) CreateMultipart(ctx context.Context, path string, args objectdal.OpCreateMultipart) (objectdal.RpCreateMultipart, error) {
	ctx, span := a.start(ctx, objectdal.OperationCreateMultipart, path)
	rp, err := a.Inner.CreateMultipart(ctx, path, args)
	end(span, err)
	return rp, err
}

func (a *accessor) WriteMultipart(ctx context.Context, path string, args objectdal.OpWriteMultipart, r io.Reader) (objectdal.ObjectPart, error) {
	ctx, span := a.start(ctx, objectdal.OperationWriteMultipart, path,
		attribute.String("objectdal.upload_id", args.UploadID),
		attribute.Int("objectdal.part_number", args.PartNumber))
	part, err := a.Inner.WriteMultipart(ctx, path, args, r)
	end(span, err)
	return part, err
}

func (a *accessor) CompleteMultipart(ctx context.Context, path string, args objectdal.OpCompleteMultipart) error {
	ctx, span := a.start(ctx, objectdal.OperationCompleteMultipart, path, attribute.String("objectdal.upload_id", args.UploadID))
	err := a.Inner.CompleteMultipart(ctx, path, args)
	end(span, err)
	return err
}

func (a *accessor) AbortMultipart(ctx context.Context, path string, args objectdal.OpAbortMultipart) error {
	ctx, span := a.start(ctx, objectdal.OperationAbortMultipart, path, attribute.String("objectdal.upload_id", args.UploadID))
	err := a.Inner.AbortMultipart(ctx, path, args)
	end(span, err)
	return err
}

// reader ends the read span on Close.
type reader struct {
	inner   io.ReadCloser
	span    trace.Span
	hasRead int64
	err     error
}

type seekReader struct {
	*reader
}

func (r *reader) Read(p []byte) (int, error) {
	n, err := r.inner.Read(p)
	r.hasRead += int64(n)
	if err != nil && err != io.EOF && r.err == nil {
		r.err = err
	}
	return n, err
}

func (r seekReader) Seek(offset int64, whence int) (int64, error) {
	pos, err := r.inner.(io.Seeker).Seek(offset, whence)
	if err == nil {
		r.span.AddEvent("seek", trace.WithAttributes(attribute.Int64("objectdal.offset", pos)))
	}
	return pos, err
}

func (r *reader) Close() error {
	err := r.inner.Close()
	r.span.SetAttributes(attribute.Int64("objectdal.has_read", r.hasRead))
	end(r.span, errors.Join(r.err, err))
	return err
}

// pager ends the list span on Close.
type pager struct {
	inner   objectdal.Pager
	span    trace.Span
	entries int
	err     error
}

func (p *pager) NextPage(ctx context.Context) ([]objectdal.ObjectEntry, error) {
	page, err := p.inner.NextPage(ctx)
	p.entries += len(page)
	if err != nil && !errors.Is(err, io.EOF) && p.err == nil {
		p.err = err
	}
	return page, err
}

func (p *pager) Close() error {
	err := p.inner.Close()
	p.span.SetAttributes(attribute.Int("objectdal.entries", p.entries))
	end(p.span, errors.Join(p.err, err))
	return err
}
