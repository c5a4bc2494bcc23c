// Package metrics provides a layer that records Prometheus metrics for every
// accessor operation.
//
// All series carry the labels service and operation; error counters add
// error_kind.
package metrics

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/grokify/objectdal"
)

const namespace = "objectdal"

// Layer records metrics of the accessor it wraps. One Layer can wrap several
// accessors; series are told apart by the service label.
type Layer struct {
	requests *prometheus.CounterVec
	errors   *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	bytes    *prometheus.CounterVec
}

// New registers the collectors on reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) (*Layer, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "requests_total",
		Help:      "Total number of accessor operations.",
	}, []string{"service", "operation"})
	errs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "errors_total",
		Help:      "Total number of failed accessor operations by error kind.",
	}, []string{"service", "operation", "error_kind"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "request_duration_seconds",
		Help:      "Histogram of accessor operation durations in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"service", "operation"})
	bytes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "bytes_total",
		Help:      "Total bytes moved by readers and writes.",
	}, []string{"service", "operation"})

	l := &Layer{}
	var err error
	if l.requests, err = register(reg, requests); err != nil {
		return nil, err
	}
	if l.errors, err = register(reg, errs); err != nil {
		return nil, err
	}
	if l.latency, err = register(reg, latency); err != nil {
		return nil, err
	}
	if l.bytes, err = register(reg, bytes); err != nil {
		return nil, err
	}
	return l, nil
}

// register registers c, or returns the collector registered before it.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
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

// observe records one finished operation that started at start.
func (a *accessor) observe(op objectdal.Operation, start time.Time, err error) {
	name := op.String()
	a.layer.requests.WithLabelValues(a.service, name).Inc()
	a.layer.latency.WithLabelValues(a.service, name).Observe(time.Since(start).Seconds())
	if err != nil {
		a.layer.errors.WithLabelValues(a.service, name, objectdal.KindOf(err).String()).Inc()
	}
}

func (a *accessor) addBytes(op objectdal.Operation, n int64) {
	if n > 0 {
		a.layer.bytes.WithLabelValues(a.service, op.String()).Add(float64(n))
	}
}

func (a *accessor) Create(ctx context.Context, path string, args objectdal.OpCreate) error {
	start := time.Now()
	err := a.Inner.Create(ctx, path, args)
	a.observe(objectdal.OperationCreate, start, err)
	return err
}

func (a *accessor) Read(ctx context.Context, path string, args objectdal.OpRead) (objectdal.RpRead, io.ReadCloser, error) {
	start := time.Now()
	rp, r, err := a.Inner.Read(ctx, path, args)
	a.observe(objectdal.OperationRead, start, err)
	if err != nil {
		return rp, nil, err
	}
	return rp, wrapReader(a, r), nil
}

func (a *accessor) Write(ctx context.Context, path string, args objectdal.OpWrite, r io.Reader) (objectdal.RpWrite, error) {
	start := time.Now()
	rp, err := a.Inner.Write(ctx, path, args, r)
	a.observe(objectdal.OperationWrite, start, err)
	if err == nil {
		a.addBytes(objectdal.OperationWrite, rp.Written)
	}
	return rp, err
}

func (a *accessor) Stat(ctx context.Context, path string, args objectdal.OpStat) (objectdal.ObjectMetadata, error) {
	start := time.Now()
	meta, err := a.Inner.Stat(ctx, path, args)
	a.observe(objectdal.OperationStat, start, err)
	return meta, err
}

func (a *accessor) Delete(ctx context.Context, path string, args objectdal.OpDelete) error {
	start := time.Now()
	err := a.Inner.Delete(ctx, path, args)
	a.observe(objectdal.OperationDelete, start, err)
	return err
}

func (a *accessor) List(ctx context.Context, path string, args objectdal.OpList) (objectdal.Pager, error) {
	start := time.Now()
	p, err := a.Inner.List(ctx, path, args)
	a.observe(objectdal.OperationList, start, err)
	if err != nil {
		return nil, err
	}
	return &pager{inner: p, acc: a}, nil
}

func (a *accessor) Presign(ctx context.Context, path string, args objectdal.OpPresign) (objectdal.PresignedRequest, error) {
	start := time.Now()
	req, err := a.Inner.Presign(ctx, path, args)
	a.observe(objectdal.OperationPresign, start, err)
	return req, err
}

func (a *accessor) CreateMultipart(ctx context.Context, path string, args objectdal.OpCreateMultipart) (objectdal.RpCreateMultipart, error) {
	start := time.Now()
	rp, err := a.Inner.CreateMultipart(ctx, path, args)
	a.observe(objectdal.OperationCreateMultipart, start, err)
	return rp, err
}

func (a *accessor) WriteMultipart(ctx context.Context, path string, args objectdal.OpWriteMultipart, r io.Reader) (objectdal.ObjectPart, error) {
	start := time.Now()
	cr := &countingReader{r: r}
	part, err := a.Inner.WriteMultipart(ctx, path, args, cr)
	a.observe(objectdal.OperationWriteMultipart, start, err)
	if err == nil {
		a.addBytes(objectdal.OperationWriteMultipart, cr.n)
	}
	return part, err
}

func (a *accessor) CompleteMultipart(ctx context.Context, path string, args objectdal.OpCompleteMultipart) error {
	start := time.Now()
	err := a.Inner.CompleteMultipart(ctx, path, args)
	a.observe(objectdal.OperationCompleteMultipart, start, err)
	return err
}

func (a *accessor) AbortMultipart(ctx context.Context, path string, args objectdal.OpAbortMultipart) error {
	start := time.Now()
	err := a.Inner.AbortMultipart(ctx, path, args)
	a.observe(objectdal.OperationAbortMultipart, start, err)
	return err
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// reader counts bytes read and reader errors.
type reader struct {
	inner io.ReadCloser
	acc   *accessor
}

type seekReader struct {
	*reader
}

func wrapReader(a *accessor, r io.ReadCloser) io.ReadCloser {
	mr := &reader{inner: r, acc: a}
	if _, ok := r.(io.Seeker); ok {
		return seekReader{mr}
	}
	return mr
}

func (r *reader) Read(p []byte) (int, error) {
	n, err := r.inner.Read(p)
	r.acc.addBytes(objectdal.OperationReaderRead, int64(n))
	if err != nil && err != io.EOF {
		r.acc.layer.errors.WithLabelValues(r.acc.service, objectdal.OperationReaderRead.String(), objectdal.KindOf(err).String()).Inc()
	}
	return n, err
}

func (r seekReader) Seek(offset int64, whence int) (int64, error) {
	start := time.Now()
	pos, err := r.inner.(io.Seeker).Seek(offset, whence)
	r.acc.observe(objectdal.OperationReaderSeek, start, err)
	return pos, err
}

func (r *reader) Close() error { return r.inner.Close() }

type pager struct {
	inner objectdal.Pager
	acc   *accessor
}

func (p *pager) NextPage(ctx context.Context) ([]objectdal.ObjectEntry, error) {
	start := time.Now()
	page, err := p.inner.NextPage(ctx)
	if errors.Is(err, io.EOF) {
		p.acc.observe(objectdal.OperationPagerNext, start, nil)
	} else {
		p.acc.observe(objectdal.OperationPagerNext, start, err)
	}
	return page, err
}

func (p *pager) Close() error { return p.inner.Close() }
