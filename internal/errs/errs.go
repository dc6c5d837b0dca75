// Package errs defines the error taxonomy shared by the execution layer.
//
// Every failure surfaced by the binder, the row encoder or the driver is one
// of three kinds: a client error (bad parameters from the caller), an engine
// error (text reported by the SQL engine) or an out-of-memory condition from
// the statement pool or the output region. None of them is retried here.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error by who has to act on it.
type Kind int

const (
	// KindClient is a malformed or unsupported request from the caller.
	KindClient Kind = iota
	// KindEngine carries a diagnostic produced by the SQL engine.
	KindEngine
	// KindOutOfMemory reports allocator exhaustion.
	KindOutOfMemory
)

func (k Kind) String() string {
	switch k {
	case KindClient:
		return "client"
	case KindEngine:
		return "engine"
	case KindOutOfMemory:
		return "out of memory"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Error codes attached to client errors.
const (
	CodeNone = iota
	CodeIllegalBind
	CodeUnsupported
	CodeMalformed
	CodeUsage
)

// Error is the concrete error type returned by the execution layer.
type Error struct {
	Kind Kind
	Code int
	Msg  string
}

// Error returns the message without decoration; engine messages are passed
// through verbatim.
func (e *Error) Error() string {
	return e.Msg
}

// Is matches against the sentinel values below by kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Msg != "" || t.Code != CodeNone {
		return t.Kind == e.Kind && t.Code == e.Code && t.Msg == e.Msg
	}
	return t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrClient      = &Error{Kind: KindClient}
	ErrEngine      = &Error{Kind: KindEngine}
	ErrOutOfMemory = &Error{Kind: KindOutOfMemory}
)

// Client returns a client error with the given code.
func Client(code int, format string, args ...any) *Error {
	return &Error{Kind: KindClient, Code: code, Msg: fmt.Sprintf(format, args...)}
}

// IllegalBind reports a parameter that cannot be bound at the 1-based position pos.
func IllegalBind(pos int) *Error {
	return Client(CodeIllegalBind, "illegal bind target at position %d", pos)
}

// Engine wraps an engine diagnostic.
func Engine(msg string) *Error {
	return &Error{Kind: KindEngine, Msg: msg}
}

// OutOfMemory reports that size bytes could not be allocated for what.
func OutOfMemory(size int, what string) *Error {
	return &Error{Kind: KindOutOfMemory, Msg: fmt.Sprintf("out of memory: cannot allocate %d bytes for %s", size, what)}
}

// IsClient reports whether err is a client error.
func IsClient(err error) bool { return errors.Is(err, ErrClient) }

// IsEngine reports whether err carries an engine diagnostic.
func IsEngine(err error) bool { return errors.Is(err, ErrEngine) }

// IsOutOfMemory reports whether err is an allocation failure.
func IsOutOfMemory(err error) bool { return errors.Is(err, ErrOutOfMemory) }

// KindOf returns the kind of err, or false if err is not from this package.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}
