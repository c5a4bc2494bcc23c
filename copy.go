package objectdal

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
)

// CopyObject copies src to dst, which may belong to different operators.
// The data streams through the caller. It returns the number of bytes copied.
func CopyObject(ctx context.Context, src, dst *Object) (int64, error) {
	size, err := src.ContentLength(ctx)
	if err != nil {
		return 0, err
	}
	r, err := src.Reader(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = r.Close() }()

	meta := src.cached()
	rp, err := dst.acc.Write(ctx, dst.path, OpWrite{Size: size, ContentType: meta.ContentType}, r)
	if err != nil {
		return 0, err
	}
	dst.replace(NewObjectMetadata(ObjectModeFile).WithContentLength(rp.Written))
	return rp.Written, nil
}

// CopyObjectWithHash copies src to dst and returns the hex SHA-256 of the
// bytes that were copied.
func CopyObjectWithHash(ctx context.Context, src, dst *Object) (string, error) {
	size, err := src.ContentLength(ctx)
	if err != nil {
		return "", err
	}
	r, err := src.Reader(ctx)
	if err != nil {
		return "", err
	}
	defer func() { _ = r.Close() }()

	h := sha256.New()
	if _, err := dst.acc.Write(ctx, dst.path, OpWrite{Size: size}, io.TeeReader(r, h)); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
