package objectdal

import (
	"context"
	"io"
)

// Pager produces listing entries page by page. NextPage returns io.EOF when
// no page is left; an empty page without error is legal and means the caller
// should ask again.
type Pager interface {
	NextPage(ctx context.Context) ([]ObjectEntry, error)
	Close() error
}

type emptyPager struct{}

// EmptyPager returns a pager that has nothing to list.
func EmptyPager() Pager { return emptyPager{} }

func (emptyPager) NextPage(context.Context) ([]ObjectEntry, error) { return nil, io.EOF }
func (emptyPager) Close() error                                    { return nil }

type slicePager struct {
	entries  []ObjectEntry
	pageSize int
}

// NewSlicePager serves entries in pages of at most pageSize.
func NewSlicePager(entries []ObjectEntry, pageSize int) Pager {
	if pageSize <= 0 {
		pageSize = len(entries)
	}
	return &slicePager{entries: entries, pageSize: max(pageSize, 1)}
}

func (p *slicePager) NextPage(ctx context.Context) ([]ObjectEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(p.entries) == 0 {
		return nil, io.EOF
	}
	n := min(p.pageSize, len(p.entries))
	page := p.entries[:n]
	p.entries = p.entries[n:]
	return page, nil
}

func (p *slicePager) Close() error {
	p.entries = nil
	return nil
}

// PagerFunc adapts a function to Pager with a no-op Close.
type PagerFunc func(ctx context.Context) ([]ObjectEntry, error)

func (f PagerFunc) NextPage(ctx context.Context) ([]ObjectEntry, error) { return f(ctx) }
func (f PagerFunc) Close() error                                        { return nil }

// CollectPager drains p and closes it.
func CollectPager(ctx context.Context, p Pager) ([]ObjectEntry, error) {
	defer func() { _ = p.Close() }()
	var out []ObjectEntry
	for {
		page, err := p.NextPage(ctx)
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, page...)
	}
}
