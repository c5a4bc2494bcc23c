package objectdal

import (
	"context"
	"io"
	"strings"

	"golang.org/x/sync/errgroup"
)

const defaultBatchLimit = 16

// BatchOperator runs recursive operations built on List.
type BatchOperator struct {
	op    *Operator
	limit int
}

// WithLimit sets how many deletes RemoveAll runs at once.
func (b *BatchOperator) WithLimit(n int) *BatchOperator {
	return &BatchOperator{op: b.op, limit: max(n, 1)}
}

func checkDir(path string) error {
	if !ModeOfPath(path).IsDir() {
		return NewError(ErrorKindObjectNotADirectory, "walk requires a directory path").
			WithOperation(OperationBatch).WithContext("path", path)
	}
	return nil
}

// childOnWay returns the direct child of dir that path lives in: path itself
// when it is a direct child, or the intermediate directory otherwise.
func childOnWay(dir, path string) string {
	prefix := dir
	if dir == "/" {
		prefix = ""
	}
	rel := strings.TrimPrefix(path, prefix)
	idx := strings.Index(rel, "/")
	if idx < 0 || idx == len(rel)-1 {
		return path
	}
	return prefix + rel[:idx+1]
}

// TopDownWalker yields a directory before anything beneath it. The starting
// directory comes first.
type TopDownWalker struct {
	acc     Accessor
	root    string
	started bool
	queue   []string
	current string
	lister  *ObjectLister
	seen    map[string]struct{}
}

// WalkTopDown walks path, which must be a directory.
func (b *BatchOperator) WalkTopDown(path string) (*TopDownWalker, error) {
	path = NormalizePath(path)
	if err := checkDir(path); err != nil {
		return nil, err
	}
	return &TopDownWalker{acc: b.op.acc, root: path, seen: map[string]struct{}{path: {}}}, nil
}

// Next returns the next object, or io.EOF when the walk is done.
func (w *TopDownWalker) Next(ctx context.Context) (*Object, error) {
	if !w.started {
		w.started = true
		w.queue = append(w.queue, w.root)
		return newObjectWithMetadata(w.acc, w.root, NewObjectMetadata(ObjectModeDir)), nil
	}
	for {
		if w.lister == nil {
			if len(w.queue) == 0 {
				return nil, io.EOF
			}
			w.current = w.queue[0]
			w.queue = w.queue[1:]
			p, err := w.acc.List(ctx, w.current, OpList{})
			if err != nil {
				return nil, err
			}
			w.lister = newObjectLister(w.acc, p)
		}
		o, err := w.lister.Next(ctx)
		if err == io.EOF {
			_ = w.lister.Close()
			w.lister = nil
			continue
		}
		if err != nil {
			return nil, err
		}
		if o.path == w.current {
			continue
		}
		child := childOnWay(w.current, o.path)
		if _, ok := w.seen[child]; ok {
			continue
		}
		w.seen[child] = struct{}{}
		if child != o.path {
			// The backend elided the intermediate directory.
			o = newObjectWithMetadata(w.acc, child, NewObjectMetadata(ObjectModeDir))
		}
		if ModeOfPath(child).IsDir() {
			w.queue = append(w.queue, child)
		}
		return o, nil
	}
}

// Close releases the open listing, if any.
func (w *TopDownWalker) Close() error {
	if w.lister == nil {
		return nil
	}
	err := w.lister.Close()
	w.lister = nil
	return err
}

type walkFrame struct {
	dir    *Object
	lister *ObjectLister
}

// BottomUpWalker yields everything beneath a directory before the directory
// itself. The starting directory comes last.
type BottomUpWalker struct {
	acc     Accessor
	root    string
	started bool
	stack   []walkFrame
	seen    map[string]struct{}
}

// WalkBottomUp walks path, which must be a directory.
func (b *BatchOperator) WalkBottomUp(path string) (*BottomUpWalker, error) {
	path = NormalizePath(path)
	if err := checkDir(path); err != nil {
		return nil, err
	}
	return &BottomUpWalker{acc: b.op.acc, root: path, seen: map[string]struct{}{path: {}}}, nil
}

func (w *BottomUpWalker) push(ctx context.Context, dir *Object) error {
	p, err := w.acc.List(ctx, dir.path, OpList{})
	if err != nil {
		return err
	}
	w.stack = append(w.stack, walkFrame{dir: dir, lister: newObjectLister(w.acc, p)})
	return nil
}

// Next returns the next object, or io.EOF when the walk is done.
func (w *BottomUpWalker) Next(ctx context.Context) (*Object, error) {
	if !w.started {
		w.started = true
		root := newObjectWithMetadata(w.acc, w.root, NewObjectMetadata(ObjectModeDir))
		if err := w.push(ctx, root); err != nil {
			return nil, err
		}
	}
	for len(w.stack) > 0 {
		top := w.stack[len(w.stack)-1]
		o, err := top.lister.Next(ctx)
		if err == io.EOF {
			_ = top.lister.Close()
			w.stack = w.stack[:len(w.stack)-1]
			return top.dir, nil
		}
		if err != nil {
			return nil, err
		}
		if o.path == top.dir.path {
			continue
		}
		child := childOnWay(top.dir.path, o.path)
		if _, ok := w.seen[child]; ok {
			continue
		}
		w.seen[child] = struct{}{}
		if child != o.path {
			o = newObjectWithMetadata(w.acc, child, NewObjectMetadata(ObjectModeDir))
		}
		if ModeOfPath(child).IsDir() {
			if err := w.push(ctx, o); err != nil {
				return nil, err
			}
			continue
		}
		return o, nil
	}
	return nil, io.EOF
}

// Close releases every open listing.
func (w *BottomUpWalker) Close() error {
	var first error
	for _, f := range w.stack {
		if err := f.lister.Close(); err != nil && first == nil {
			first = err
		}
	}
	w.stack = nil
	return first
}

// RemoveAll deletes path and, for a directory, everything beneath it.
// Files of a directory are deleted concurrently; a directory is deleted
// only after all of its entries are gone. The root "/" itself is kept.
func (b *BatchOperator) RemoveAll(ctx context.Context, path string) error {
	path = NormalizePath(path)
	if !ModeOfPath(path).IsDir() {
		return b.op.Object(path).Delete(ctx)
	}
	w, err := b.WalkBottomUp(path)
	if err != nil {
		return err
	}
	defer func() { _ = w.Close() }()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.limit)
	for {
		o, err := w.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			_ = g.Wait()
			return err
		}
		if !ModeOfPath(o.path).IsDir() {
			dctx := gctx
			g.Go(func() error {
				return b.op.acc.Delete(dctx, o.path, OpDelete{})
			})
			continue
		}
		if err := g.Wait(); err != nil {
			return err
		}
		if o.path != "/" {
			if err := b.op.acc.Delete(ctx, o.path, OpDelete{}); err != nil {
				return err
			}
		}
		g, gctx = errgroup.WithContext(ctx)
		g.SetLimit(b.limit)
	}
	return g.Wait()
}
