package ghac

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/grokify/objectdal"
	"github.com/grokify/objectdal/internal/httputil"
)

type queryResponse struct {
	ArchiveLocation string `json:"archiveLocation"`
}

type reserveRequest struct {
	Key       string `json:"key"`
	Version   string `json:"version"`
	CacheSize int64  `json:"cacheSize"`
}

type reserveResponse struct {
	CacheID int64 `json:"cacheId"`
}

type commitRequest struct {
	Size int64 `json:"size"`
}

// uploadStep is the position of a write in the reserve, upload, commit
// sequence. Errors carry it as the "step" context.
type uploadStep int

const (
	stepReserve uploadStep = iota
	stepUpload
	stepCommit
)

func (s uploadStep) String() string {
	switch s {
	case stepReserve:
		return "reserve"
	case stepUpload:
		return "upload"
	default:
		return "commit"
	}
}

// cacheRequest builds a request against the cache service.
func (b *Backend) cacheRequest(ctx context.Context, method, rel string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, b.cacheURL+cacheURLBase+rel, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+b.config.RuntimeToken)
	req.Header.Set("Accept", cacheHeaderAccept)
	return req, nil
}

func jsonRequest(req *http.Request, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	req.Body = io.NopCloser(bytes.NewReader(data))
	req.ContentLength = int64(len(data))
	req.Header.Set("Content-Type", "application/json")
	return nil
}

func decodeJSON(resp *http.Response, v any, op objectdal.Operation, p string) error {
	defer httputil.Drain(resp.Body)
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return objectdal.NewError(objectdal.ErrorKindUnexpected, "deserialize json").
			WithOperation(op).WithContext("service", objectdal.SchemeGhac).
			WithContext("path", p).WithSource(err)
	}
	return nil
}

// query looks up the archive location of the entry for p. A missing entry
// (204 No Content) is reported as not found.
func (b *Backend) query(ctx context.Context, op objectdal.Operation, p string) (string, error) {
	q := url.Values{}
	q.Set("keys", b.key(p))
	q.Set("version", b.config.Version)
	req, err := b.cacheRequest(ctx, http.MethodGet, "/cache?"+q.Encode(), nil)
	if err != nil {
		return "", buildError(op, p, err)
	}
	resp, err := httputil.Send(b.client, req, op, objectdal.SchemeGhac, p)
	if err != nil {
		return "", err
	}
	switch resp.StatusCode {
	case http.StatusOK:
		var out queryResponse
		if err := decodeJSON(resp, &out, op, p); err != nil {
			return "", err
		}
		return out.ArchiveLocation, nil
	case http.StatusNoContent:
		httputil.Drain(resp.Body)
		return "", objectdal.NewError(objectdal.ErrorKindObjectNotFound, "cache entry not found").
			WithOperation(op).WithContext("service", objectdal.SchemeGhac).WithContext("path", p)
	default:
		return "", httputil.ParseError(resp, op, objectdal.SchemeGhac, p)
	}
}

// upload runs the reserve, upload and commit steps for size bytes of body.
// A reservation conflict means the entry exists and fails with
// ErrorKindObjectAlreadyExists.
func (b *Backend) upload(ctx context.Context, op objectdal.Operation, p string, body io.Reader, size int64) error {
	id, err := b.reserve(ctx, op, p, size)
	if err != nil {
		return err
	}

	cacheID := "/caches/" + strconv.FormatInt(id, 10)
	req, err := b.cacheRequest(ctx, http.MethodPatch, cacheID, io.NopCloser(body))
	if err != nil {
		return stepError(buildError(op, p, err), stepUpload)
	}
	req.ContentLength = size
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("Content-Range", objectdal.BytesContentRange{Start: 0, End: size - 1, Total: -1}.String())
	if err := b.expectSuccess(req, op, p, stepUpload); err != nil {
		return err
	}

	req, err = b.cacheRequest(ctx, http.MethodPost, cacheID, nil)
	if err == nil {
		err = jsonRequest(req, commitRequest{Size: size})
	}
	if err != nil {
		return stepError(buildError(op, p, err), stepCommit)
	}
	return b.expectSuccess(req, op, p, stepCommit)
}

func (b *Backend) reserve(ctx context.Context, op objectdal.Operation, p string, size int64) (int64, error) {
	req, err := b.cacheRequest(ctx, http.MethodPost, "/caches", nil)
	if err == nil {
		err = jsonRequest(req, reserveRequest{Key: b.key(p), Version: b.config.Version, CacheSize: size})
	}
	if err != nil {
		return 0, stepError(buildError(op, p, err), stepReserve)
	}
	resp, err := httputil.Send(b.client, req, op, objectdal.SchemeGhac, p)
	if err != nil {
		return 0, stepError(err, stepReserve)
	}
	switch {
	case resp.StatusCode/100 == 2:
		var out reserveResponse
		if err := decodeJSON(resp, &out, op, p); err != nil {
			return 0, stepError(err, stepReserve)
		}
		return out.CacheID, nil
	case resp.StatusCode == http.StatusConflict:
		httputil.Drain(resp.Body)
		return 0, objectdal.NewError(objectdal.ErrorKindObjectAlreadyExists, "cache entry already exists").
			WithOperation(op).WithContext("service", objectdal.SchemeGhac).
			WithContext("path", p).WithContext("step", stepReserve)
	default:
		return 0, stepError(httputil.ParseError(resp, op, objectdal.SchemeGhac, p), stepReserve)
	}
}

func (b *Backend) expectSuccess(req *http.Request, op objectdal.Operation, p string, step uploadStep) error {
	resp, err := httputil.Send(b.client, req, op, objectdal.SchemeGhac, p)
	if err != nil {
		return stepError(err, step)
	}
	if resp.StatusCode/100 != 2 {
		return stepError(httputil.ParseError(resp, op, objectdal.SchemeGhac, p), step)
	}
	httputil.Drain(resp.Body)
	return nil
}

func stepError(err error, step uploadStep) error {
	return objectdal.AsError(err).WithContext("step", step)
}
