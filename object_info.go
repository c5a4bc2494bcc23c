package objectdal

import (
	"net/http"
	"strings"
	"time"
)

// ObjectMode is the kind of an object.
type ObjectMode int

const (
	ObjectModeUnknown ObjectMode = iota
	ObjectModeFile
	ObjectModeDir
)

func (m ObjectMode) String() string {
	switch m {
	case ObjectModeFile:
		return "file"
	case ObjectModeDir:
		return "dir"
	default:
		return "unknown"
	}
}

// IsFile returns true for ObjectModeFile.
func (m ObjectMode) IsFile() bool { return m == ObjectModeFile }

// IsDir returns true for ObjectModeDir.
func (m ObjectMode) IsDir() bool { return m == ObjectModeDir }

// ModeOfPath returns the mode implied by a path: directories end with "/".
func ModeOfPath(path string) ObjectMode {
	if strings.HasSuffix(path, "/") {
		return ObjectModeDir
	}
	return ObjectModeFile
}

// ObjectMetadata holds the attributes of an object.
// Not all backends fill every field; a length of -1 means unknown.
type ObjectMetadata struct {
	Mode ObjectMode

	// ContentLength is the length callers see.
	ContentLength int64

	// ContentLengthRaw is the length the backend reported. It differs from
	// ContentLength only when a backend simulates empty files.
	ContentLengthRaw int64

	ContentType  string
	ContentMD5   string
	ETag         string
	LastModified time.Time

	// ContentRange is set when the metadata came from a ranged read.
	ContentRange *BytesContentRange

	// Complete means every field the backend can provide is filled and no
	// further Stat is needed.
	Complete bool
}

// NewObjectMetadata returns metadata of the given mode with unknown length.
func NewObjectMetadata(mode ObjectMode) ObjectMetadata {
	return ObjectMetadata{Mode: mode, ContentLength: -1, ContentLengthRaw: -1}
}

// WithContentLength sets both the raw and the effective length.
func (m ObjectMetadata) WithContentLength(n int64) ObjectMetadata {
	m.ContentLength = n
	m.ContentLengthRaw = n
	return m
}

// WithComplete marks the metadata complete.
func (m ObjectMetadata) WithComplete() ObjectMetadata {
	m.Complete = true
	return m
}

// HasContentLength reports whether the length is known.
func (m ObjectMetadata) HasContentLength() bool { return m.ContentLength >= 0 }

// Update overwrites m with every field other knows about.
func (m *ObjectMetadata) Update(other ObjectMetadata) {
	if other.Mode != ObjectModeUnknown {
		m.Mode = other.Mode
	}
	if other.ContentLength >= 0 {
		m.ContentLength = other.ContentLength
	}
	if other.ContentLengthRaw >= 0 {
		m.ContentLengthRaw = other.ContentLengthRaw
	}
	if other.ContentType != "" {
		m.ContentType = other.ContentType
	}
	if other.ContentMD5 != "" {
		m.ContentMD5 = other.ContentMD5
	}
	if other.ETag != "" {
		m.ETag = other.ETag
	}
	if !other.LastModified.IsZero() {
		m.LastModified = other.LastModified
	}
	if other.ContentRange != nil {
		m.ContentRange = other.ContentRange
	}
	m.Complete = m.Complete || other.Complete
}

// FormatLastModified renders a time in the RFC 2822 form used by HTTP headers.
func FormatLastModified(t time.Time) string {
	return t.UTC().Format(http.TimeFormat)
}

// ParseLastModified parses an RFC 2822 / HTTP date.
func ParseLastModified(s string) (time.Time, error) {
	t, err := http.ParseTime(s)
	if err != nil {
		return time.Time{}, NewError(ErrorKindUnexpected, "header value is not valid http date").
			WithContext("value", s).WithSource(err)
	}
	return t, nil
}

// ObjectEntry is one listed object: its path relative to the root and what
// the listing already learned about it.
type ObjectEntry struct {
	Path     string
	Metadata ObjectMetadata
}

// NewObjectEntry builds an entry. An unknown mode in meta is taken from the
// path's trailing slash.
func NewObjectEntry(path string, meta ObjectMetadata) ObjectEntry {
	if meta.Mode == ObjectModeUnknown {
		meta.Mode = ModeOfPath(path)
	}
	return ObjectEntry{Path: path, Metadata: meta}
}

// Mode returns the entry's mode.
func (e ObjectEntry) Mode() ObjectMode { return e.Metadata.Mode }
