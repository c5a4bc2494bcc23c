package objectdal

import (
	"context"
	"io"
)

// ObjectLister yields the objects of a listing one at a time.
// Next returns io.EOF when the listing is exhausted.
type ObjectLister struct {
	acc   Accessor
	pager Pager
	buf   []ObjectEntry
	done  bool
}

func newObjectLister(acc Accessor, p Pager) *ObjectLister {
	return &ObjectLister{acc: acc, pager: p}
}

// Next returns the next object.
func (l *ObjectLister) Next(ctx context.Context) (*Object, error) {
	for len(l.buf) == 0 {
		if l.done {
			return nil, io.EOF
		}
		page, err := l.pager.NextPage(ctx)
		if err == io.EOF {
			l.done = true
			return nil, io.EOF
		}
		if err != nil {
			return nil, err
		}
		l.buf = page
	}
	e := l.buf[0]
	l.buf = l.buf[1:]
	return newObjectWithMetadata(l.acc, e.Path, e.Metadata), nil
}

// Collect drains the lister and closes it.
func (l *ObjectLister) Collect(ctx context.Context) ([]*Object, error) {
	defer func() { _ = l.Close() }()
	var out []*Object
	for {
		o, err := l.Next(ctx)
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, o)
	}
}

// Close releases the pager.
func (l *ObjectLister) Close() error {
	l.buf = nil
	return l.pager.Close()
}
