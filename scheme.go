package objectdal

import (
	"fmt"
	"strings"
)

// Scheme names a backend type.
type Scheme string

const (
	SchemeFs     Scheme = "fs"
	SchemeMemory Scheme = "memory"
	SchemeHTTP   Scheme = "http"
	SchemeS3     Scheme = "s3"
	SchemeObs    Scheme = "obs"
	SchemeGhac   Scheme = "ghac"
	SchemeFtp    Scheme = "ftp"
	SchemeHdfs   Scheme = "hdfs"
	SchemeSftp   Scheme = "sftp"
)

// ParseScheme parses a case insensitive scheme name. Unknown names are
// accepted as custom schemes as long as they are not empty.
func ParseScheme(s string) (Scheme, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "", fmt.Errorf("%w: empty scheme", ErrUnknownScheme)
	}
	return Scheme(s), nil
}

func (s Scheme) String() string { return string(s) }

// Operation identifies an accessor operation. It tags errors, log records
// and metric labels.
type Operation int

const (
	OperationMetadata Operation = iota
	OperationCreate
	OperationRead
	OperationWrite
	OperationStat
	OperationDelete
	OperationList
	OperationPresign
	OperationCreateMultipart
	OperationWriteMultipart
	OperationCompleteMultipart
	OperationAbortMultipart

	// Reader, pager and batch operations, used by layers and the facade.
	OperationReaderRead
	OperationReaderSeek
	OperationPagerNext
	OperationBatch
)

var operationNames = [...]string{
	OperationMetadata:          "metadata",
	OperationCreate:            "create",
	OperationRead:              "read",
	OperationWrite:             "write",
	OperationStat:              "stat",
	OperationDelete:            "delete",
	OperationList:              "list",
	OperationPresign:           "presign",
	OperationCreateMultipart:   "create_multipart",
	OperationWriteMultipart:    "write_multipart",
	OperationCompleteMultipart: "complete_multipart",
	OperationAbortMultipart:    "abort_multipart",
	OperationReaderRead:        "Reader::read",
	OperationReaderSeek:        "Reader::seek",
	OperationPagerNext:         "Pager::next_page",
	OperationBatch:             "batch",
}

func (o Operation) String() string {
	if o >= 0 && int(o) < len(operationNames) {
		return operationNames[o]
	}
	return fmt.Sprintf("operation(%d)", int(o))
}

// Version is the library version reported in user agents.
const Version = "0.1.0"
