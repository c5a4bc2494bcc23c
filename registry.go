package objectdal

import (
	"fmt"
	"sort"
	"sync"
)

var (
	buildersMu sync.RWMutex
	builders   = make(map[Scheme]Builder)
)

// Builder creates an Accessor from a key/value configuration.
// The keys are backend specific, for example "root" or "bucket".
type Builder func(config map[string]string) (Accessor, error)

// Register registers a builder for scheme. Backend packages call it from init().
//
// Register panics if builder is nil or the scheme is already registered.
//
//	func init() {
//	    objectdal.Register(objectdal.SchemeFs, NewFromConfig)
//	}
func Register(scheme Scheme, builder Builder) {
	buildersMu.Lock()
	defer buildersMu.Unlock()

	if builder == nil {
		panic("objectdal: Register builder is nil")
	}
	if _, dup := builders[scheme]; dup {
		panic("objectdal: Register called twice for scheme " + string(scheme))
	}
	builders[scheme] = builder
}

// Open builds the accessor registered for scheme and returns an Operator
// over it. The backend package must be imported for its init() to run.
//
//	op, err := objectdal.Open(objectdal.SchemeS3, map[string]string{
//	    "bucket": "my-bucket",
//	    "region": "us-west-2",
//	})
func Open(scheme Scheme, config map[string]string) (*Operator, error) {
	buildersMu.RLock()
	builder, ok := builders[scheme]
	buildersMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownScheme, scheme)
	}
	acc, err := builder(config)
	if err != nil {
		return nil, err
	}
	return NewOperator(acc), nil
}

// Schemes returns the registered schemes, sorted.
func Schemes() []Scheme {
	buildersMu.RLock()
	defer buildersMu.RUnlock()

	out := make([]Scheme, 0, len(builders))
	for s := range builders {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// IsRegistered reports whether a builder is registered for scheme.
func IsRegistered(scheme Scheme) bool {
	buildersMu.RLock()
	defer buildersMu.RUnlock()
	_, ok := builders[scheme]
	return ok
}

// Unregister removes a builder. It is mostly useful in tests.
func Unregister(scheme Scheme) bool {
	buildersMu.Lock()
	defer buildersMu.Unlock()

	if _, ok := builders[scheme]; ok {
		delete(builders, scheme)
		return true
	}
	return false
}
