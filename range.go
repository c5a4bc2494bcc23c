package objectdal

import (
	"fmt"
	"strconv"
	"strings"
)

// BytesRange selects bytes of an object. The zero value selects everything.
//
//	prefix:  offset only      "bytes=10-"
//	bounded: offset and size  "bytes=10-19"
//	suffix:  size only        "bytes=-10"
type BytesRange struct {
	offset    int64
	size      int64
	hasOffset bool
	hasSize   bool
}

// FullRange selects the whole object.
func FullRange() BytesRange { return BytesRange{} }

// RangeFrom selects everything from offset on.
func RangeFrom(offset int64) BytesRange {
	return BytesRange{offset: offset, hasOffset: true}
}

// RangeBounded selects size bytes starting at offset.
func RangeBounded(offset, size int64) BytesRange {
	return BytesRange{offset: offset, size: size, hasOffset: true, hasSize: true}
}

// RangeSuffix selects the last size bytes.
func RangeSuffix(size int64) BytesRange {
	return BytesRange{size: size, hasSize: true}
}

// Offset returns the offset and whether it is set.
func (r BytesRange) Offset() (int64, bool) { return r.offset, r.hasOffset }

// Size returns the size and whether it is set.
func (r BytesRange) Size() (int64, bool) { return r.size, r.hasSize }

// IsFull reports whether the range selects the whole object.
func (r BytesRange) IsFull() bool {
	return (!r.hasOffset || r.offset == 0) && !r.hasSize
}

// IsEmpty reports whether the range selects no bytes. It has no valid
// Range header form.
func (r BytesRange) IsEmpty() bool { return r.hasSize && r.size == 0 }

// IsSuffix reports whether the range counts from the end.
func (r BytesRange) IsSuffix() bool { return !r.hasOffset && r.hasSize }

// String renders the range as an HTTP Range header value.
func (r BytesRange) String() string {
	switch {
	case r.hasOffset && r.hasSize:
		return fmt.Sprintf("bytes=%d-%d", r.offset, r.offset+r.size-1)
	case r.hasOffset:
		return fmt.Sprintf("bytes=%d-", r.offset)
	case r.hasSize:
		return fmt.Sprintf("bytes=-%d", r.size)
	default:
		return "bytes=0-"
	}
}

// Apply resolves the range against an object of total bytes and returns the
// absolute offset and the number of bytes selected. The end is clipped at total.
func (r BytesRange) Apply(total int64) (offset, size int64) {
	switch {
	case r.hasOffset && r.hasSize:
		offset = min(r.offset, total)
		return offset, min(r.size, total-offset)
	case r.hasOffset:
		offset = min(r.offset, total)
		return offset, total - offset
	case r.hasSize:
		size = min(r.size, total)
		return total - size, size
	default:
		return 0, total
	}
}

// Resolve rewrites a suffix range into a bounded one using the known total.
// Other forms are returned unchanged.
func (r BytesRange) Resolve(total int64) BytesRange {
	if !r.IsSuffix() {
		return r
	}
	offset, size := r.Apply(total)
	return RangeBounded(offset, size)
}

// ParseBytesRange parses an HTTP Range header value such as "bytes=0-4".
// Multi-range values are rejected.
func ParseBytesRange(s string) (BytesRange, error) {
	invalid := func() (BytesRange, error) {
		return BytesRange{}, NewError(ErrorKindUnexpected, "header range is invalid").
			WithContext("value", s)
	}
	v, ok := strings.CutPrefix(strings.TrimSpace(s), "bytes=")
	if !ok || strings.Contains(v, ",") {
		return invalid()
	}
	start, end, ok := strings.Cut(v, "-")
	if !ok {
		return invalid()
	}
	switch {
	case start == "" && end == "":
		return invalid()
	case start == "":
		n, err := strconv.ParseInt(end, 10, 64)
		if err != nil || n < 0 {
			return invalid()
		}
		return RangeSuffix(n), nil
	case end == "":
		n, err := strconv.ParseInt(start, 10, 64)
		if err != nil || n < 0 {
			return invalid()
		}
		return RangeFrom(n), nil
	default:
		a, err1 := strconv.ParseInt(start, 10, 64)
		b, err2 := strconv.ParseInt(end, 10, 64)
		if err1 != nil || err2 != nil || a < 0 || b < a {
			return invalid()
		}
		return RangeBounded(a, b-a+1), nil
	}
}

// BytesContentRange is a parsed Content-Range header: "bytes start-end/total".
// Start and End are inclusive. Total is -1 when the server sent "*"; Start
// and End are -1 for an unsatisfied range ("bytes */total").
type BytesContentRange struct {
	Start int64
	End   int64
	Total int64
}

// NewBytesContentRange builds a content range covering size bytes at offset.
func NewBytesContentRange(offset, size, total int64) BytesContentRange {
	return BytesContentRange{Start: offset, End: offset + size - 1, Total: total}
}

// Len returns the number of bytes covered, or -1 for an unsatisfied range.
func (r BytesContentRange) Len() int64 {
	if r.Start < 0 || r.End < 0 {
		return -1
	}
	return r.End - r.Start + 1
}

// Range converts the content range back into the range that selects it.
func (r BytesContentRange) Range() BytesRange {
	if r.Len() < 0 {
		return FullRange()
	}
	return RangeBounded(r.Start, r.Len())
}

func (r BytesContentRange) String() string {
	total := "*"
	if r.Total >= 0 {
		total = strconv.FormatInt(r.Total, 10)
	}
	if r.Start < 0 || r.End < 0 {
		return "bytes */" + total
	}
	return fmt.Sprintf("bytes %d-%d/%s", r.Start, r.End, total)
}

// ParseBytesContentRange parses a Content-Range header value.
func ParseBytesContentRange(s string) (BytesContentRange, error) {
	invalid := func() (BytesContentRange, error) {
		return BytesContentRange{}, NewError(ErrorKindUnexpected, "header content range is invalid").
			WithContext("value", s)
	}
	v, ok := strings.CutPrefix(strings.TrimSpace(s), "bytes ")
	if !ok {
		return invalid()
	}
	rng, total, ok := strings.Cut(v, "/")
	if !ok {
		return invalid()
	}
	out := BytesContentRange{Start: -1, End: -1, Total: -1}
	if total != "*" {
		n, err := strconv.ParseInt(total, 10, 64)
		if err != nil || n < 0 {
			return invalid()
		}
		out.Total = n
	}
	if rng == "*" {
		if out.Total < 0 {
			return invalid()
		}
		return out, nil
	}
	start, end, ok := strings.Cut(rng, "-")
	if !ok {
		return invalid()
	}
	a, err1 := strconv.ParseInt(start, 10, 64)
	b, err2 := strconv.ParseInt(end, 10, 64)
	if err1 != nil || err2 != nil || a < 0 || b < a {
		return invalid()
	}
	out.Start, out.End = a, b
	return out, nil
}
