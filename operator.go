package objectdal

import (
	"context"
	"io"
)

// Operator is the user facing handle over an accessor stack.
// It is cheap to copy around and safe for concurrent use.
type Operator struct {
	acc Accessor
}

// NewOperator creates an Operator over acc.
func NewOperator(acc Accessor) *Operator {
	return &Operator{acc: acc}
}

// Layer returns a new Operator whose accessor is l wrapped around op's.
// op itself is unchanged.
func (op *Operator) Layer(l Layer) *Operator {
	return &Operator{acc: l.Layer(op.acc)}
}

// Inner returns the accessor stack.
func (op *Operator) Inner() Accessor { return op.acc }

// Metadata describes the accessor stack.
func (op *Operator) Metadata() AccessorMetadata { return op.acc.Metadata() }

// Object returns a handle for path. The path is normalized; directories must
// end with "/". No I/O happens until a method is called.
func (op *Operator) Object(path string) *Object {
	return newObject(op.acc, NormalizePath(path))
}

// Batch returns the batch operator for recursive operations.
func (op *Operator) Batch() *BatchOperator {
	return &BatchOperator{op: op, limit: defaultBatchLimit}
}

// Check verifies the backend is usable: the root must stat as a directory
// and, when listing is supported, the first page of the root must load.
func (op *Operator) Check(ctx context.Context) error {
	meta, err := op.acc.Stat(ctx, "/", OpStat{})
	if err != nil {
		return err
	}
	if meta.Mode != ObjectModeDir {
		return NewError(ErrorKindBackendConfigInvalid, "root is not a directory").
			WithContext("service", op.acc.Metadata().Scheme).
			WithContext("mode", meta.Mode)
	}
	if !op.acc.Metadata().Can(CapabilityList) {
		return nil
	}
	p, err := op.acc.List(ctx, "/", OpList{})
	if err != nil {
		return err
	}
	defer func() { _ = p.Close() }()
	if _, err := p.NextPage(ctx); err != nil && err != io.EOF {
		return err
	}
	return nil
}
