package objectdal

import (
	"net/http"
	"time"
)

// OpCreate is the argument of Accessor.Create.
type OpCreate struct {
	Mode ObjectMode
}

// OpRead is the argument of Accessor.Read.
type OpRead struct {
	Range BytesRange
}

// RpRead is the reply of Accessor.Read. Metadata carries at least the length
// of the returned body when the backend knows it.
type RpRead struct {
	Metadata ObjectMetadata
}

// OpWrite is the argument of Accessor.Write.
type OpWrite struct {
	// Size of the body in bytes. Negative means unknown; backends that need
	// a length up front buffer the body.
	Size int64

	// ContentType is sent as the Content-Type of the object when supported.
	ContentType string
}

// RpWrite is the reply of Accessor.Write.
type RpWrite struct {
	Written int64
}

// OpStat is the argument of Accessor.Stat.
type OpStat struct{}

// OpDelete is the argument of Accessor.Delete.
type OpDelete struct{}

// OpList is the argument of Accessor.List.
type OpList struct{}

// PresignOperation is the request a presigned URL authorizes.
type PresignOperation int

const (
	PresignStat PresignOperation = iota
	PresignRead
	PresignWrite
)

func (p PresignOperation) String() string {
	switch p {
	case PresignRead:
		return "read"
	case PresignWrite:
		return "write"
	default:
		return "stat"
	}
}

// OpPresign is the argument of Accessor.Presign.
type OpPresign struct {
	Operation   PresignOperation
	Range       BytesRange
	ContentType string
	Expire      time.Duration
}

// PresignedRequest is a request anyone holding it can send without credentials.
type PresignedRequest struct {
	Method string
	URL    string
	Header http.Header
}

// OpCreateMultipart is the argument of Accessor.CreateMultipart.
type OpCreateMultipart struct{}

// RpCreateMultipart is the reply of Accessor.CreateMultipart.
type RpCreateMultipart struct {
	UploadID string
}

// OpWriteMultipart is the argument of Accessor.WriteMultipart.
// Part numbers start at 1.
type OpWriteMultipart struct {
	UploadID   string
	PartNumber int
	Size       int64
}

// ObjectPart identifies an uploaded part.
type ObjectPart struct {
	PartNumber int
	ETag       string
}

// OpCompleteMultipart is the argument of Accessor.CompleteMultipart.
type OpCompleteMultipart struct {
	UploadID string
	Parts    []ObjectPart
}

// OpAbortMultipart is the argument of Accessor.AbortMultipart.
type OpAbortMultipart struct {
	UploadID string
}
