// Package runtimeerr carries stable machine-readable error kinds across
// subsystem boundaries. Tool results and events report the kind string;
// the wrapped cause stays available for logs.
package runtimeerr

import (
	"errors"
	"fmt"
)

// Error pairs a snake_case kind with a human-readable message and an
// optional underlying cause.
type Error struct {
	Kind    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return e.Kind
	}
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error with a formatted message.
func New(kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to an underlying cause.
func Wrap(kind string, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// KindOf extracts the stable kind from any error. Sentinel errors whose
// whole text is a bare snake_case token (the bus and org stores define
// these) are their own kind; anything unclassified is internal_error.
func KindOf(err error) string {
	if err == nil {
		return ""
	}
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	root := err
	for {
		u := errors.Unwrap(root)
		if u == nil {
			break
		}
		root = u
	}
	if s := root.Error(); isKindToken(s) {
		return s
	}
	return "internal_error"
}

// HasKind reports whether the error resolves to the given kind.
func HasKind(err error, kind string) bool {
	return err != nil && KindOf(err) == kind
}

func isKindToken(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			continue
		}
		return false
	}
	return true
}
