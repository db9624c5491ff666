package storage

import (
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"
)

// ErrorKind categorizes storage failures.
type ErrorKind string

const (
	// KindEngineUnavailable indicates the database could not be opened or reached.
	KindEngineUnavailable ErrorKind = "ENGINE_UNAVAILABLE"

	// KindQueryFailed indicates a statement failed: bad SQL, constraint
	// conflict or I/O fault.
	KindQueryFailed ErrorKind = "QUERY_FAILED"

	// KindMalformedBulkPayload indicates a bulk import payload could not be
	// split into well-typed 8-field sample tuples.
	KindMalformedBulkPayload ErrorKind = "MALFORMED_BULK_PAYLOAD"
)

// Sentinel errors for errors.Is matching against an *Error of the same kind.
var (
	ErrEngineUnavailable    = &Error{Kind: KindEngineUnavailable}
	ErrQueryFailed          = &Error{Kind: KindQueryFailed}
	ErrMalformedBulkPayload = &Error{Kind: KindMalformedBulkPayload}
)

// Error is returned by every repository operation that fails.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Op)
	}
	return string(e.Kind)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same Kind, so the sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) ErrorKind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}

// IsConstraint reports whether err was caused by a SQLite constraint violation.
func IsConstraint(err error) bool {
	var sqlErr sqlite3.Error
	if errors.As(err, &sqlErr) {
		return sqlErr.Code == sqlite3.ErrConstraint
	}
	return false
}

func unavailable(op string, err error) error {
	return &Error{Kind: KindEngineUnavailable, Op: op, Err: err}
}

func queryFailed(op string, err error) error {
	return &Error{Kind: KindQueryFailed, Op: op, Err: err}
}

func malformed(format string, args ...any) error {
	return &Error{Kind: KindMalformedBulkPayload, Op: "bulk insert", Err: fmt.Errorf(format, args...)}
}
