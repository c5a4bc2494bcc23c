package retry

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grokify/objectdal"
	"github.com/grokify/objectdal/backend/memory"
)

// flaky fails the first failures calls of Stat and Write with err.
type flaky struct {
	objectdal.ForwardAccessor
	failures int
	err      func() error
	calls    int
	bodies   []string
}

func (f *flaky) Stat(ctx context.Context, path string, args objectdal.OpStat) (objectdal.ObjectMetadata, error) {
	f.calls++
	if f.calls <= f.failures {
		return objectdal.ObjectMetadata{}, f.err()
	}
	return f.Inner.Stat(ctx, path, args)
}

func (f *flaky) Write(ctx context.Context, path string, args objectdal.OpWrite, r io.Reader) (objectdal.RpWrite, error) {
	f.calls++
	if f.calls <= f.failures {
		data, _ := io.ReadAll(r)
		f.bodies = append(f.bodies, string(data))
		return objectdal.RpWrite{}, f.err()
	}
	return f.Inner.Write(ctx, path, args, r)
}

func temporary() error {
	return objectdal.NewError(objectdal.ErrorKindUnexpected, "service unavailable").SetTemporary()
}

func newFlaky(failures int, err func() error) *flaky {
	return &flaky{
		ForwardAccessor: objectdal.ForwardAccessor{Inner: memory.New(memory.Config{})},
		failures:        failures,
		err:             err,
	}
}

func fastConfig(maxRetries int) Config {
	return Config{MaxRetries: maxRetries, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func TestRetryEventualSuccess(t *testing.T) {
	inner := newFlaky(2, temporary)
	acc := New(fastConfig(3)).Layer(inner)

	_, err := acc.Stat(context.Background(), "/", objectdal.OpStat{})
	require.NoError(t, err)
	assert.Equal(t, 3, inner.calls)
}

func TestRetryExhausted(t *testing.T) {
	inner := newFlaky(10, temporary)
	acc := New(fastConfig(2)).Layer(inner)

	_, err := acc.Stat(context.Background(), "/", objectdal.OpStat{})
	require.Error(t, err)
	assert.Equal(t, 3, inner.calls, "initial call plus two retries")
	assert.False(t, objectdal.IsTemporary(err), "exhausted error is persistent")
	assert.Equal(t, "2", objectdal.AsError(err).Context("retry_attempts"))
}

func TestPermanentErrorNotRetried(t *testing.T) {
	inner := newFlaky(10, func() error {
		return objectdal.NewError(objectdal.ErrorKindObjectPermissionDenied, "denied")
	})
	acc := New(fastConfig(3)).Layer(inner)

	_, err := acc.Stat(context.Background(), "x", objectdal.OpStat{})
	assert.True(t, objectdal.IsPermissionDenied(err))
	assert.Equal(t, 1, inner.calls)
}

func TestNoRetries(t *testing.T) {
	inner := newFlaky(10, temporary)
	acc := New(fastConfig(0)).Layer(inner)

	_, err := acc.Stat(context.Background(), "/", objectdal.OpStat{})
	require.Error(t, err)
	assert.Equal(t, 1, inner.calls)
}

func TestWriteRewindsSeekableBody(t *testing.T) {
	ctx := context.Background()
	inner := newFlaky(1, temporary)
	acc := New(fastConfig(3)).Layer(inner)

	_, err := acc.Write(ctx, "f", objectdal.OpWrite{Size: 5}, bytes.NewReader([]byte("hello")))
	require.NoError(t, err)
	assert.Equal(t, []string{"hello"}, inner.bodies)

	_, r, err := acc.Read(ctx, "f", objectdal.OpRead{})
	require.NoError(t, err)
	data, err := objectdal.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data), "second attempt sends the whole body")
}

func TestWriteStreamNotRetried(t *testing.T) {
	inner := newFlaky(1, temporary)
	acc := New(fastConfig(3)).Layer(inner)

	body := io.MultiReader(strings.NewReader("hello"))
	_, err := acc.Write(context.Background(), "f", objectdal.OpWrite{Size: -1}, body)
	require.Error(t, err)
	assert.True(t, objectdal.IsTemporary(err), "unretried error keeps its status")
	assert.Equal(t, 1, inner.calls)
}

func TestCanceledWhileWaiting(t *testing.T) {
	inner := newFlaky(10, temporary)
	acc := New(Config{MaxRetries: 5, InitialDelay: time.Hour}).Layer(inner)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := acc.Stat(ctx, "/", objectdal.OpStat{})
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Minute)
	assert.False(t, objectdal.IsTemporary(err))
	assert.Equal(t, 1, inner.calls)
}

func TestPagerEOFPassesThrough(t *testing.T) {
	ctx := context.Background()
	mem := memory.New(memory.Config{})
	_, err := mem.Write(ctx, "d/a", objectdal.OpWrite{Size: 1}, strings.NewReader("a"))
	require.NoError(t, err)

	acc := New(fastConfig(3)).Layer(mem)
	p, err := acc.List(ctx, "d/", objectdal.OpList{})
	require.NoError(t, err)
	entries, err := objectdal.CollectPager(ctx, p)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
