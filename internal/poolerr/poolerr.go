// Package poolerr defines the structured error kinds the pool core surfaces
// to callers (spec §7). Every fallible pool/connection/statement/result-set
// operation returns either nil or an *Error whose Kind can be inspected with
// KindOf, or compared directly via errors.Is against the Kind sentinels.
package poolerr

import (
	"errors"
	"fmt"
)

// Kind classifies a pool-level error.
type Kind int

const (
	// SqlError is a dialect-reported error during a statement,
	// transaction, or cursor call.
	SqlError Kind = iota
	// DriverOpen means a new session could not be established.
	DriverOpen
	// PoolFull means no idle connection was usable and the pool is at
	// capacity.
	PoolFull
	// PoolStart means start-up could not create the first connection.
	PoolStart
	// ValidationExhausted is reserved for implementations that add
	// retry loops around acquire; this core's single-pass acquire
	// never produces it itself, but callers may build one on top.
	ValidationExhausted
	// ApiMisuse means the caller violated a contract: bad parameter
	// index, wrong bind arity, nested transaction, use after release.
	ApiMisuse
	// Fatal is unrecoverable and is delivered to the abort handler.
	Fatal
)

func (k Kind) String() string {
	switch k {
	case SqlError:
		return "sql_error"
	case DriverOpen:
		return "driver_open"
	case PoolFull:
		return "pool_full"
	case PoolStart:
		return "pool_start"
	case ValidationExhausted:
		return "validation_exhausted"
	case ApiMisuse:
		return "api_misuse"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error is the concrete error type every pool operation returns on failure.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is lets errors.Is(err, SomeKindSentinel) work by comparing Kind, so
// callers can write errors.Is(err, poolerr.ErrPoolFull) without a type
// assertion.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

// New constructs an *Error of the given kind wrapping cause (which may be
// nil).
func New(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Sql wraps a dialect-reported failure.
func Sql(message string, cause error) *Error { return New(SqlError, message, cause) }

// Open wraps a failure to establish a new session.
func Open(message string, cause error) *Error { return New(DriverOpen, message, cause) }

// Full reports a pool at capacity with no idle connection available.
func Full(message string) *Error { return New(PoolFull, message, nil) }

// Start wraps a failure to create the pool's first connection.
func Start(message string, cause error) *Error { return New(PoolStart, message, cause) }

// Misuse reports a caller contract violation.
func Misuse(message string) *Error { return New(ApiMisuse, message, nil) }

// FatalErr wraps an unrecoverable error destined for the abort handler.
func FatalErr(message string, cause error) *Error { return New(Fatal, message, cause) }

// Sentinels usable with errors.Is(err, poolerr.ErrPoolFull) etc. Each
// carries only a Kind; the Is method above compares on Kind alone so the
// Message/Cause fields of the sentinel are irrelevant.
var (
	ErrSqlError            = &Error{Kind: SqlError}
	ErrDriverOpen          = &Error{Kind: DriverOpen}
	ErrPoolFull            = &Error{Kind: PoolFull}
	ErrPoolStart           = &Error{Kind: PoolStart}
	ErrValidationExhausted = &Error{Kind: ValidationExhausted}
	ErrApiMisuse           = &Error{Kind: ApiMisuse}
	ErrFatal               = &Error{Kind: Fatal}
)

// KindOf extracts the Kind of err if it is (or wraps) a *Error, along with
// whether one was found.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}
