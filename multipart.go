package objectdal

import (
	"bytes"
	"context"
	"io"
)

// ObjectMultipart is an in-progress multipart upload. Parts may be written
// concurrently; the upload becomes visible only after Complete. Call Abort
// to release an upload that won't be completed.
type ObjectMultipart struct {
	acc      Accessor
	path     string
	uploadID string
}

// UploadID returns the backend's identifier of the upload.
func (m *ObjectMultipart) UploadID() string { return m.uploadID }

// Path returns the object path the upload targets.
func (m *ObjectMultipart) Path() string { return m.path }

// WritePart uploads one part. Part numbers start at 1.
func (m *ObjectMultipart) WritePart(ctx context.Context, partNumber int, data []byte) (ObjectPart, error) {
	return m.WritePartFrom(ctx, partNumber, int64(len(data)), bytes.NewReader(data))
}

// WritePartFrom uploads one part read from r.
func (m *ObjectMultipart) WritePartFrom(ctx context.Context, partNumber int, size int64, r io.Reader) (ObjectPart, error) {
	if partNumber < 1 {
		return ObjectPart{}, NewError(ErrorKindUnexpected, "part number must be at least 1").
			WithOperation(OperationWriteMultipart).WithContext("path", m.path).
			WithContext("part_number", partNumber)
	}
	return m.acc.WriteMultipart(ctx, m.path, OpWriteMultipart{
		UploadID:   m.uploadID,
		PartNumber: partNumber,
		Size:       size,
	}, r)
}

// Complete assembles the parts into the object and returns a handle to it.
func (m *ObjectMultipart) Complete(ctx context.Context, parts []ObjectPart) (*Object, error) {
	err := m.acc.CompleteMultipart(ctx, m.path, OpCompleteMultipart{UploadID: m.uploadID, Parts: parts})
	if err != nil {
		return nil, err
	}
	return newObject(m.acc, m.path), nil
}

// Abort discards the upload and its parts.
func (m *ObjectMultipart) Abort(ctx context.Context) error {
	return m.acc.AbortMultipart(ctx, m.path, OpAbortMultipart{UploadID: m.uploadID})
}
