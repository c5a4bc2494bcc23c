// Package compress detects compression algorithms from object paths and
// wraps readers and writers with gzip or Zstandard codecs.
//
// Basic usage:
//
//	algo, ok := compress.FromPath("logs/app.log.zst")
//	r, _ := compress.NewReader(algo, body)
package compress

import (
	"errors"
	"io"
	"strings"
)

// Algorithm is a supported compression algorithm.
type Algorithm int

const (
	// None means no compression.
	None Algorithm = iota
	Gzip
	Zstd
)

// ErrUnknownAlgorithm is returned for algorithms this package can't handle.
var ErrUnknownAlgorithm = errors.New("compress: unknown algorithm")

func (a Algorithm) String() string {
	switch a {
	case Gzip:
		return "gzip"
	case Zstd:
		return "zstd"
	default:
		return "none"
	}
}

// Extension returns the file extension of the algorithm, without the dot.
func (a Algorithm) Extension() string {
	switch a {
	case Gzip:
		return "gz"
	case Zstd:
		return "zst"
	default:
		return ""
	}
}

// Parse parses an algorithm name or extension.
func Parse(s string) (Algorithm, error) {
	switch strings.ToLower(strings.TrimPrefix(s, ".")) {
	case "", "none":
		return None, nil
	case "gz", "gzip":
		return Gzip, nil
	case "zst", "zstd":
		return Zstd, nil
	}
	return None, ErrUnknownAlgorithm
}

// FromPath detects the algorithm from a path's extension.
// It returns false when the path carries no known extension.
func FromPath(path string) (Algorithm, bool) {
	idx := strings.LastIndex(path, ".")
	if idx < 0 || strings.Contains(path[idx:], "/") {
		return None, false
	}
	algo, err := Parse(path[idx+1:])
	if err != nil || algo == None {
		return None, false
	}
	return algo, true
}

// NewReader wraps r with a decompressor for algo. None returns r unchanged.
func NewReader(algo Algorithm, r io.ReadCloser) (io.ReadCloser, error) {
	switch algo {
	case None:
		return r, nil
	case Gzip:
		return NewGzipReader(r)
	case Zstd:
		return NewZstdReader(r)
	}
	return nil, ErrUnknownAlgorithm
}

// NewWriter wraps w with a compressor for algo at its default level.
// None returns w unchanged.
func NewWriter(algo Algorithm, w io.WriteCloser) (io.WriteCloser, error) {
	switch algo {
	case None:
		return w, nil
	case Gzip:
		return NewGzipWriter(w)
	case Zstd:
		return NewZstdWriter(w)
	}
	return nil, ErrUnknownAlgorithm
}
