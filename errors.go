package objectdal

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies an Error. Callers branch on the kind, never on the message.
type ErrorKind int

const (
	// ErrorKindUnexpected is anything network or OS level that is not otherwise classified.
	ErrorKindUnexpected ErrorKind = iota

	// ErrorKindUnsupported is returned when the backend can't serve the operation
	// or one of its arguments (for example a suffix range).
	ErrorKindUnsupported

	// ErrorKindBackendConfigInvalid is returned by builders for bad configuration.
	ErrorKindBackendConfigInvalid

	// ErrorKindObjectNotFound is returned when a path does not exist.
	ErrorKindObjectNotFound

	// ErrorKindObjectPermissionDenied is returned when access to a path is denied.
	ErrorKindObjectPermissionDenied

	// ErrorKindObjectIsADirectory is returned when a file operation targets a directory.
	ErrorKindObjectIsADirectory

	// ErrorKindObjectNotADirectory is returned when a directory operation targets a file.
	ErrorKindObjectNotADirectory

	// ErrorKindObjectAlreadyExists is returned when creating a path that already exists.
	ErrorKindObjectAlreadyExists
)

// String returns the stable name of the kind, used in logs and metric labels.
func (k ErrorKind) String() string {
	switch k {
	case ErrorKindUnsupported:
		return "unsupported"
	case ErrorKindBackendConfigInvalid:
		return "backend_config_invalid"
	case ErrorKindObjectNotFound:
		return "object_not_found"
	case ErrorKindObjectPermissionDenied:
		return "object_permission_denied"
	case ErrorKindObjectIsADirectory:
		return "object_is_a_directory"
	case ErrorKindObjectNotADirectory:
		return "object_not_a_directory"
	case ErrorKindObjectAlreadyExists:
		return "object_already_exists"
	default:
		return "unexpected"
	}
}

// Sentinel errors, one per kind. Every *Error matches the sentinel of its kind
// with errors.Is.
var (
	ErrUnexpected             = errors.New("objectdal: unexpected")
	ErrUnsupported            = errors.New("objectdal: operation not supported")
	ErrBackendConfigInvalid   = errors.New("objectdal: backend config invalid")
	ErrObjectNotFound         = errors.New("objectdal: object not found")
	ErrObjectPermissionDenied = errors.New("objectdal: object permission denied")
	ErrObjectIsADirectory     = errors.New("objectdal: object is a directory")
	ErrObjectNotADirectory    = errors.New("objectdal: object is not a directory")
	ErrObjectAlreadyExists    = errors.New("objectdal: object already exists")

	// ErrUnknownScheme is returned by Open when no builder is registered for the scheme.
	ErrUnknownScheme = errors.New("objectdal: unknown scheme")
)

func (k ErrorKind) sentinel() error {
	switch k {
	case ErrorKindUnsupported:
		return ErrUnsupported
	case ErrorKindBackendConfigInvalid:
		return ErrBackendConfigInvalid
	case ErrorKindObjectNotFound:
		return ErrObjectNotFound
	case ErrorKindObjectPermissionDenied:
		return ErrObjectPermissionDenied
	case ErrorKindObjectIsADirectory:
		return ErrObjectIsADirectory
	case ErrorKindObjectNotADirectory:
		return ErrObjectNotADirectory
	case ErrorKindObjectAlreadyExists:
		return ErrObjectAlreadyExists
	default:
		return ErrUnexpected
	}
}

type errorStatus int

const (
	statusPermanent errorStatus = iota
	statusTemporary
	statusPersistent
)

func (s errorStatus) String() string {
	switch s {
	case statusTemporary:
		return "temporary"
	case statusPersistent:
		return "persistent"
	default:
		return "permanent"
	}
}

type contextEntry struct {
	key   string
	value string
}

// Error is the structured error returned by every fallible operation.
//
// An Error carries its kind, a short message, the operation that produced it,
// ordered key/value context (path, service, range, ...) and an optional source.
type Error struct {
	kind      ErrorKind
	message   string
	status    errorStatus
	operation string
	context   []contextEntry
	source    error
}

// NewError creates an Error of the given kind.
func NewError(kind ErrorKind, message string) *Error {
	return &Error{kind: kind, message: message}
}

// Kind returns the kind of the error.
func (e *Error) Kind() ErrorKind { return e.kind }

// Message returns the short message without context.
func (e *Error) Message() string { return e.message }

// Operation returns the operation tag, or "" when unset.
func (e *Error) Operation() string { return e.operation }

// Context returns the value for key, or "" when absent.
func (e *Error) Context(key string) string {
	for _, c := range e.context {
		if c.key == key {
			return c.value
		}
	}
	return ""
}

// WithOperation tags the error with an operation. An existing tag is kept
// as the "called" context entry so the innermost operation is never lost.
func (e *Error) WithOperation(op fmt.Stringer) *Error {
	name := op.String()
	if e.operation != "" && e.operation != name {
		e.context = append(e.context, contextEntry{key: "called", value: e.operation})
	}
	e.operation = name
	return e
}

// WithContext appends a key/value context entry.
func (e *Error) WithContext(key string, value any) *Error {
	e.context = append(e.context, contextEntry{key: key, value: fmt.Sprint(value)})
	return e
}

// WithSource sets the underlying cause.
func (e *Error) WithSource(err error) *Error {
	e.source = err
	return e
}

// SetTemporary marks the error as worth retrying.
func (e *Error) SetTemporary() *Error {
	e.status = statusTemporary
	return e
}

// SetPersistent marks a temporary error as given up on after retries.
func (e *Error) SetPersistent() *Error {
	e.status = statusPersistent
	return e
}

// IsTemporary reports whether retrying the operation may succeed.
func (e *Error) IsTemporary() bool { return e.status == statusTemporary }

// Error implements error.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.kind.String())
	if e.status != statusPermanent {
		fmt.Fprintf(&b, " (%s)", e.status)
	}
	if e.operation != "" {
		fmt.Fprintf(&b, " at %s", e.operation)
	}
	if len(e.context) > 0 {
		b.WriteString(", context: { ")
		for i, c := range e.context {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s: %s", c.key, c.value)
		}
		b.WriteString(" }")
	}
	fmt.Fprintf(&b, " => %s", e.message)
	if e.source != nil {
		fmt.Fprintf(&b, ", source: %v", e.source)
	}
	return b.String()
}

// Unwrap returns the source error.
func (e *Error) Unwrap() error { return e.source }

// Is matches the sentinel error of e's kind.
func (e *Error) Is(target error) bool {
	return target == e.kind.sentinel()
}

// KindOf returns the kind of err. Errors that are not *Error are unexpected.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.kind
	}
	return ErrorKindUnexpected
}

// AsError converts err into an *Error, wrapping foreign errors as unexpected.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return NewError(ErrorKindUnexpected, err.Error()).WithSource(err)
}

// IsNotFound returns true if the error indicates a path was not found.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrObjectNotFound)
}

// IsPermissionDenied returns true if the error indicates permission was denied.
func IsPermissionDenied(err error) bool {
	return errors.Is(err, ErrObjectPermissionDenied)
}

// IsNotSupported returns true if the error indicates an unsupported operation.
func IsNotSupported(err error) bool {
	return errors.Is(err, ErrUnsupported)
}

// IsTemporary returns true if err is an *Error marked temporary.
func IsTemporary(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.IsTemporary()
}
