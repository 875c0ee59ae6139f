// Package engine implements the asynchronous dependency-dispatch engine
// described in the framework's scheduling layer: variables, operators,
// version chains, and the worker pools that execute operators once their
// declared read/write dependencies clear.
package engine

import (
	"errors"
	"fmt"

	"github.com/tinydl/engine/internal/logging"
)

// Error is a structured engine error with enough context to diagnose a
// scheduling fault without re-deriving it from logs.
type Error struct {
	Op     string    // operation that failed (e.g. "Push", "DeleteVariable")
	Code   ErrorCode // high-level error category
	VarID  uint64    // variable id, 0 if not applicable
	OprID  uint64    // operator id, 0 if not applicable
	Device int       // device id, CPUDevice if not applicable
	Msg    string    // human-readable message
	Inner  error     // wrapped error
	Fatal  bool      // true for programmer errors that abort the process
}

func (e *Error) Error() string {
	var parts []string
	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}
	if e.VarID != 0 {
		parts = append(parts, fmt.Sprintf("var=%d", e.VarID))
	}
	if e.OprID != 0 {
		parts = append(parts, fmt.Sprintf("opr=%d", e.OprID))
	}

	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}
	if len(parts) > 0 {
		return fmt.Sprintf("engine: %s (%s)", msg, parts[0])
	}
	return fmt.Sprintf("engine: %s", msg)
}

// Unwrap returns the wrapped error for errors.Is/As support.
func (e *Error) Unwrap() error { return e.Inner }

// Is provides errors.Is support, comparing by error code.
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	if se, ok := target.(Sentinel); ok {
		return e.Code == ErrorCode(se)
	}
	if te, ok := target.(*Error); ok {
		return e.Code == te.Code
	}
	return false
}

// ErrorCode represents high-level error categories.
type ErrorCode string

const (
	ErrCodeDoubleDelete           ErrorCode = "double delete of variable"
	ErrCodeUseAfterDelete         ErrorCode = "push referencing deleted variable"
	ErrCodeCompletionNotSignalled ErrorCode = "callable failed to signal completion"
	ErrCodeNonDisjointSets        ErrorCode = "internal: read/write sets not disjoint after dedup"
	ErrCodeShutdownWithPending    ErrorCode = "shutdown requested with operators still pending"
	ErrCodePoolSpawnFailed        ErrorCode = "failed to spawn worker pool"
	ErrCodeInvalidConfig          ErrorCode = "invalid engine configuration"
	ErrCodeUnknownOperator        ErrorCode = "unknown operator handle"
	ErrCodeUnknownVariable        ErrorCode = "unknown variable handle"
)

// Sentinel is a comparable error code usable with errors.Is against a *Error.
type Sentinel ErrorCode

func (s Sentinel) Error() string { return string(s) }

// Sentinels for simple comparisons, e.g. errors.Is(err, ErrInvalidConfig).
var (
	ErrInvalidConfig   = Sentinel(ErrCodeInvalidConfig)
	ErrPoolSpawnFailed = Sentinel(ErrCodePoolSpawnFailed)
	ErrUnknownOperator = Sentinel(ErrCodeUnknownOperator)
	ErrUnknownVariable = Sentinel(ErrCodeUnknownVariable)
)

// NewError creates a new structured error.
func NewError(op string, code ErrorCode, msg string) *Error {
	return &Error{Op: op, Code: code, Msg: msg}
}

// wrap attaches context to an inner error without discarding it.
func wrap(op string, code ErrorCode, inner error) *Error {
	return &Error{Op: op, Code: code, Inner: inner, Msg: code.String()}
}

func (c ErrorCode) String() string { return string(c) }

// fatalErr is the concrete panic value used for programmer errors: double
// delete, use-after-delete, a callable that never signals completion, and
// shutdown with pending operators. fatal logs it on the default logger
// before panicking. One raised inside a callable is recovered like any other
// callable panic (a pool worker wraps it with fmt.Errorf, the naive
// inlineEnqueuer unwraps it via recoverFatal) and forwarded on the error
// sink; callers who trip one of these invariants from their own goroutine
// see it propagate as a genuine panic.
type fatalErr struct{ *Error }

func fatal(op string, code ErrorCode, msg string) {
	e := &Error{Op: op, Code: code, Msg: msg, Fatal: true}
	logging.Default().Error("fatal engine error", "op", op, "code", string(code), "msg", msg)
	panic(fatalErr{e})
}

// recoverFatal converts a recovered panic value into an error: a fatalErr
// unwraps to its *Error, anything else (a callable's own panic) is wrapped
// as a plain error so the naive inlineEnqueuer can still fire completion
// and forward it.
func recoverFatal(r any) error {
	if fe, ok := r.(fatalErr); ok {
		return fe.Error
	}
	if e, ok := r.(error); ok {
		return e
	}
	return fmt.Errorf("panic: %v", r)
}

// AsError unwraps err to its *Error, if it is (or wraps) one, for callers
// that want to pattern-match on the structured fields without importing
// "errors" directly.
func AsError(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}
