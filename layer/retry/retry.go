// Package retry provides a layer that retries temporary errors with
// exponential backoff.
//
// Only errors marked temporary are retried. Once attempts are exhausted the
// last error is marked persistent and gets a retry_attempts context entry.
// Writes are retried only when the body is an io.Seeker, so it can be
// rewound. Open readers are not retried mid-stream.
package retry

import (
	"context"
	"io"
	"log/slog"
	"math/rand"
	"time"

	"github.com/grokify/mogo/log/slogutil"

	"github.com/grokify/objectdal"
)

// Config configures retry behavior for failed operations.
type Config struct {
	// MaxRetries is the maximum number of retry attempts.
	// 0 means no retries (fail on first error).
	MaxRetries int

	// InitialDelay is the delay before the first retry.
	// Default is 1 second.
	InitialDelay time.Duration

	// MaxDelay is the maximum delay between retries.
	// Default is 30 seconds.
	MaxDelay time.Duration

	// Multiplier is the factor by which delay increases after each retry.
	// Default is 2.0 (exponential backoff).
	Multiplier float64

	// Jitter adds randomness to delays to prevent thundering herd.
	// 0.1 means +/- 10% random variation. Default is 0.1.
	Jitter float64

	// Logger receives a warn record before every retry. Default: discard.
	Logger *slog.Logger
}

// DefaultConfig returns retry config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxRetries:   3,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.1,
	}
}

// Layer retries temporary failures of the accessor it wraps.
type Layer struct {
	config Config
}

// New returns a retry layer. Zero fields of config take their defaults,
// except MaxRetries.
func New(config Config) *Layer {
	def := DefaultConfig()
	if config.InitialDelay <= 0 {
		config.InitialDelay = def.InitialDelay
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = def.MaxDelay
	}
	if config.Multiplier <= 0 {
		config.Multiplier = def.Multiplier
	}
	if config.Logger == nil {
		config.Logger = slogutil.Null()
	}
	return &Layer{config: config}
}

// Layer implements objectdal.Layer.
func (l *Layer) Layer(inner objectdal.Accessor) objectdal.Accessor {
	return &accessor{ForwardAccessor: objectdal.ForwardAccessor{Inner: inner}, config: l.config}
}

type accessor struct {
	objectdal.ForwardAccessor
	config Config
}

// do runs fn until it succeeds, fails with a non temporary error, or the
// retries are used up.
func (c Config) do(ctx context.Context, op objectdal.Operation, path string, fn func() error) error {
	delay := c.InitialDelay
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if !objectdal.IsTemporary(err) {
			return err
		}
		if attempt == c.MaxRetries {
			return objectdal.AsError(err).SetPersistent().WithContext("retry_attempts", attempt)
		}

		// Using math/rand is intentional - jitter only spreads retry timing.
		wait := delay
		if c.Jitter > 0 {
			jitter := float64(delay) * c.Jitter
			wait = delay + time.Duration((rand.Float64()*2-1)*jitter) //nolint:gosec // G404: math/rand is appropriate for timing jitter
		}
		c.Logger.LogAttrs(ctx, slog.LevelWarn, "retrying",
			slog.String("operation", op.String()),
			slog.String("path", path),
			slog.Int("attempt", attempt+1),
			slog.Duration("delay", wait),
			slog.String("error", err.Error()))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return objectdal.AsError(err).SetPersistent().
				WithContext("retry_attempts", attempt).
				WithContext("interrupted", ctx.Err())
		case <-timer.C:
		}

		delay = time.Duration(float64(delay) * c.Multiplier)
		if delay > c.MaxDelay {
			delay = c.MaxDelay
		}
	}
}

func (a *accessor) Create(ctx context.Context, path string, args objectdal.OpCreate) error {
	return a.config.do(ctx, objectdal.OperationCreate, path, func() error {
		return a.Inner.Create(ctx, path, args)
	})
}

func (a *accessor) Read(ctx context.Context, path string, args objectdal.OpRead) (rp objectdal.RpRead, r io.ReadCloser, err error) {
	err = a.config.do(ctx, objectdal.OperationRead, path, func() error {
		var e error
		rp, r, e = a.Inner.Read(ctx, path, args)
		return e
	})
	return rp, r, err
}

// Write retries only when r can be rewound.
func (a *accessor) Write(ctx context.Context, path string, args objectdal.OpWrite, r io.Reader) (rp objectdal.RpWrite, err error) {
	rewind, ok := rewinder(r)
	if !ok {
		return a.Inner.Write(ctx, path, args, r)
	}
	first := true
	err = a.config.do(ctx, objectdal.OperationWrite, path, func() error {
		if !first {
			if e := rewind(); e != nil {
				return objectdal.AsError(e).WithOperation(objectdal.OperationWrite)
			}
		}
		first = false
		var e error
		rp, e = a.Inner.Write(ctx, path, args, r)
		return e
	})
	return rp, err
}

// rewinder returns a func seeking r back to its current position.
func rewinder(r io.Reader) (func() error, bool) {
	s, ok := r.(io.Seeker)
	if !ok {
		return nil, false
	}
	pos, err := s.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, false
	}
	return func() error {
		_, err := s.Seek(pos, io.SeekStart)
		return err
	}, true
}

func (a *accessor) Stat(ctx context.Context, path string, args objectdal.OpStat) (meta objectdal.ObjectMetadata, err error) {
	err = a.config.do(ctx, objectdal.OperationStat, path, func() error {
		var e error
		meta, e = a.Inner.Stat(ctx, path, args)
		return e
	})
	return meta, err
}

func (a *accessor) Delete(ctx context.Context, path string, args objectdal.OpDelete) error {
	return a.config.do(ctx, objectdal.OperationDelete, path, func() error {
		return a.Inner.Delete(ctx, path, args)
	})
}

func (a *accessor) List(ctx context.Context, path string, args objectdal.OpList) (objectdal.Pager, error) {
	var p objectdal.Pager
	err := a.config.do(ctx, objectdal.OperationList, path, func() error {
		var e error
		p, e = a.Inner.List(ctx, path, args)
		return e
	})
	if err != nil {
		return nil, err
	}
	return &pager{inner: p, config: a.config, path: path}, nil
}

func (a *accessor) Presign(ctx context.Context, path string, args objectdal.OpPresign) (req objectdal.PresignedRequest, err error) {
	err = a.config.do(ctx, objectdal.OperationPresign, path, func() error {
		var e error
		req, e = a.Inner.Presign(ctx, path, args)
		return e
	})
	return req, err
}

func (a *accessor) CreateMultipart(ctx context.Context, path string, args objectdal.OpCreateMultipart) (rp objectdal.RpCreateMultipart, err error) {
	err = a.config.do(ctx, objectdal.OperationCreateMultipart, path, func() error {
		var e error
		rp, e = a.Inner.CreateMultipart(ctx, path, args)
		return e
	})
	return rp, err
}

// WriteMultipart retries only when r can be rewound.
func (a *accessor) WriteMultipart(ctx context.Context, path string, args objectdal.OpWriteMultipart, r io.Reader) (part objectdal.ObjectPart, err error) {
	rewind, ok := rewinder(r)
	if !ok {
		return a.Inner.WriteMultipart(ctx, path, args, r)
	}
	first := true
	err = a.config.do(ctx, objectdal.OperationWriteMultipart, path, func() error {
		if !first {
			if e := rewind(); e != nil {
				return objectdal.AsError(e).WithOperation(objectdal.OperationWriteMultipart)
			}
		}
		first = false
		var e error
		part, e = a.Inner.WriteMultipart(ctx, path, args, r)
		return e
	})
	return part, err
}

func (a *accessor) CompleteMultipart(ctx context.Context, path string, args objectdal.OpCompleteMultipart) error {
	return a.config.do(ctx, objectdal.OperationCompleteMultipart, path, func() error {
		return a.Inner.CompleteMultipart(ctx, path, args)
	})
}

func (a *accessor) AbortMultipart(ctx context.Context, path string, args objectdal.OpAbortMultipart) error {
	return a.config.do(ctx, objectdal.OperationAbortMultipart, path, func() error {
		return a.Inner.AbortMultipart(ctx, path, args)
	})
}

// pager retries failed pages.
type pager struct {
	inner  objectdal.Pager
	config Config
	path   string
}

func (p *pager) NextPage(ctx context.Context) (page []objectdal.ObjectEntry, err error) {
	err = p.config.do(ctx, objectdal.OperationPagerNext, p.path, func() error {
		var e error
		page, e = p.inner.NextPage(ctx)
		return e
	})
	return page, err
}

func (p *pager) Close() error { return p.inner.Close() }
