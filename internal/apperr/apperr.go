// Package apperr defines the error kinds shared by the server control
// workflows and the surfaces that report them.
package apperr

import (
	"errors"
	"fmt"
)

type Kind int

const (
	Unknown Kind = iota
	// ProcessControl means the service supervisor could not be invoked or
	// reported a failed transition.
	ProcessControl
	// Filesystem covers copy/remove/create failures other than "path absent".
	Filesystem
	// Lookup means remote metadata could not be fetched, parsed, or had no
	// qualifying artifact.
	Lookup
	// ConfigFieldMissing means an expected field was absent from a parsed
	// configuration document.
	ConfigFieldMissing
	Validation
	// Busy means another workflow currently holds the server directory.
	Busy
)

func (k Kind) String() string {
	switch k {
	case ProcessControl:
		return "process control"
	case Filesystem:
		return "filesystem"
	case Lookup:
		return "lookup"
	case ConfigFieldMissing:
		return "config field missing"
	case Validation:
		return "validation"
	case Busy:
		return "busy"
	default:
		return "unknown"
	}
}

// Error is a classified failure. Op names the operation ("copy", "stop",
// "list files") and Path the file or resource it acted on, if any.
type Error struct {
	Kind Kind
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Op
	if e.Path != "" {
		msg += " " + e.Path
	}
	if e.Err != nil {
		if msg != "" {
			return msg + ": " + e.Err.Error()
		}
		return e.Err.Error()
	}
	if msg == "" {
		return e.Kind.String()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New returns a classified error.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// WithPath returns a classified error that refers to path.
func WithPath(kind Kind, op, path string, err error) *Error {
	return &Error{Kind: kind, Op: op, Path: path, Err: err}
}

// Errorf returns a classified error with a formatted cause.
func Errorf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the first classified error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
