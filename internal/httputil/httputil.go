// Package httputil holds the HTTP plumbing shared by HTTP based backends:
// status mapping, header parsing, path encoding and body handling.
package httputil

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/hashicorp/go-cleanhttp"

	"github.com/grokify/objectdal"
)

// maxErrorBody caps how much of an error response body is kept.
const maxErrorBody = 4 * 1024

// NewClient returns a pooled client suited to one backend instance.
func NewClient() *http.Client {
	return cleanhttp.DefaultPooledClient()
}

// KindOfStatus maps an HTTP status code onto an error kind.
func KindOfStatus(code int) objectdal.ErrorKind {
	switch code {
	case http.StatusNotFound:
		return objectdal.ErrorKindObjectNotFound
	case http.StatusForbidden, http.StatusUnauthorized:
		return objectdal.ErrorKindObjectPermissionDenied
	case http.StatusRequestedRangeNotSatisfiable:
		return objectdal.ErrorKindUnsupported
	default:
		return objectdal.ErrorKindUnexpected
	}
}

// IsTemporaryStatus reports whether retrying a request that got code may succeed.
func IsTemporaryStatus(code int) bool {
	return code == http.StatusTooManyRequests || code == http.StatusRequestTimeout || code >= 500
}

// ParseError turns an unexpected response into an error and closes its body.
func ParseError(resp *http.Response, op objectdal.Operation, service objectdal.Scheme, path string) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	_ = resp.Body.Close()

	e := objectdal.NewError(KindOfStatus(resp.StatusCode), fmt.Sprintf("unexpected status %s", resp.Status)).
		WithOperation(op).
		WithContext("service", service).
		WithContext("path", path).
		WithContext("status", resp.StatusCode)
	if len(body) > 0 {
		e = e.WithContext("response", strings.TrimSpace(string(body)))
	}
	if IsTemporaryStatus(resp.StatusCode) {
		e = e.SetTemporary()
	}
	return e
}

// SendError wraps a transport failure. Failures other than cancellation are
// temporary.
func SendError(err error, op objectdal.Operation, service objectdal.Scheme, path string) error {
	e := objectdal.NewError(objectdal.ErrorKindUnexpected, "send http request").
		WithOperation(op).
		WithContext("service", service).
		WithContext("path", path).
		WithSource(err)
	if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		e = e.SetTemporary()
	}
	return e
}

// Send runs req on client and wraps transport failures.
func Send(client *http.Client, req *http.Request, op objectdal.Operation, service objectdal.Scheme, path string) (*http.Response, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, SendError(err, op, service, path)
	}
	return resp, nil
}

// Drain discards the rest of body so the connection can be reused, then closes it.
func Drain(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 64*1024))
	_ = body.Close()
}

// ParseMetadata reads the standard object headers into metadata of the given mode.
func ParseMetadata(h http.Header, mode objectdal.ObjectMode) (objectdal.ObjectMetadata, error) {
	meta := objectdal.NewObjectMetadata(mode)
	if v := h.Get("Content-Length"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			return meta, objectdal.NewError(objectdal.ErrorKindUnexpected, "header content length is invalid").
				WithContext("value", v)
		}
		meta = meta.WithContentLength(n)
	}
	meta.ContentType = h.Get("Content-Type")
	meta.ContentMD5 = h.Get("Content-MD5")
	meta.ETag = h.Get("ETag")
	if v := h.Get("Last-Modified"); v != "" {
		t, err := objectdal.ParseLastModified(v)
		if err != nil {
			return meta, err
		}
		meta.LastModified = t
	}
	if v := h.Get("Content-Range"); v != "" {
		cr, err := objectdal.ParseBytesContentRange(v)
		if err != nil {
			return meta, err
		}
		meta.ContentRange = &cr
		if !meta.HasContentLength() && cr.Len() >= 0 {
			meta = meta.WithContentLength(cr.Len())
		}
	}
	return meta, nil
}

// EncodePath percent-encodes each segment of p, keeping the separators.
func EncodePath(p string) string {
	segs := strings.Split(p, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.Join(segs, "/")
}

// SizedBody returns a body with a known length. An unknown (negative) size
// buffers r in memory first.
func SizedBody(r io.Reader, size int64) (io.Reader, int64, error) {
	if size >= 0 {
		return io.LimitReader(r, size), size, nil
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, 0, err
	}
	return bytes.NewReader(data), int64(len(data)), nil
}

// RangeHeader sets the Range header unless rng selects the whole object. An
// empty range has no header form and is rejected; callers answer it with
// objectdal.EmptyRead instead.
func RangeHeader(req *http.Request, rng objectdal.BytesRange) error {
	if rng.IsEmpty() {
		return objectdal.NewError(objectdal.ErrorKindUnsupported, "empty range has no Range header").
			WithContext("range", rng)
	}
	if !rng.IsFull() {
		req.Header.Set("Range", rng.String())
	}
	return nil
}
