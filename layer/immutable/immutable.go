// Package immutable adds listing to accessors that cannot list, such as the
// HTTP backend, from a key set known up front.
package immutable

import (
	"context"

	"github.com/grokify/objectdal"
	"github.com/grokify/objectdal/internal/keyset"
)

const pageSize = 1000

// Layer serves List from a fixed key set. Keys are relative to the root;
// directory keys end with "/".
type Layer struct {
	set *keyset.Set
}

// New returns a layer over keys. keys is copied.
func New(keys []string) *Layer {
	return &Layer{set: keyset.New(keys)}
}

// Layer implements objectdal.Layer.
func (l *Layer) Layer(inner objectdal.Accessor) objectdal.Accessor {
	return &accessor{ForwardAccessor: objectdal.ForwardAccessor{Inner: inner}, set: l.set}
}

type accessor struct {
	objectdal.ForwardAccessor
	set *keyset.Set
}

func (a *accessor) Metadata() objectdal.AccessorMetadata {
	meta := a.Inner.Metadata()
	meta.Capabilities |= objectdal.CapabilityList
	return meta
}

// List returns the direct children of p within the key set. Keys deeper than
// one level show up as their intermediate directory.
func (a *accessor) List(ctx context.Context, p string, _ objectdal.OpList) (objectdal.Pager, error) {
	if err := ctx.Err(); err != nil {
		return nil, objectdal.AsError(err).WithOperation(objectdal.OperationList)
	}
	if !objectdal.ModeOfPath(p).IsDir() {
		return nil, objectdal.NewError(objectdal.ErrorKindObjectNotADirectory, "list requires a directory").
			WithOperation(objectdal.OperationList).
			WithContext("service", a.Inner.Metadata().Scheme).
			WithContext("path", p)
	}
	children := a.set.Children(p)
	entries := make([]objectdal.ObjectEntry, 0, len(children))
	for _, k := range children {
		entries = append(entries, objectdal.NewObjectEntry(k, objectdal.NewObjectMetadata(objectdal.ModeOfPath(k))))
	}
	return objectdal.NewSlicePager(entries, pageSize), nil
}
