// Package errors provides a structured error type carrying the error kinds
// that git-warp's operations propagate to callers.
package errors

import (
	"fmt"
	"runtime"
	"strings"
)

// Kind identifies the category of error. The string values are literal
// codes, so callers can match on them directly (e.g. in CLI exit-code
// mapping or sync-response error bodies) without a lookup table.
type Kind string

const (
	InvalidArgument    Kind = "INVALID_ARGUMENT"
	NotFound           Kind = "NOT_FOUND"
	EmptyPatch         Kind = "EMPTY_PATCH"
	WriterCASConflict  Kind = "WRITER_CAS_CONFLICT"
	PersistWriteFailed Kind = "PERSIST_WRITE_FAILED"
	NoState            Kind = "E_NO_STATE"
	StaleState         Kind = "E_STALE_STATE"
	SchemaUnsupported  Kind = "E_SCHEMA_UNSUPPORTED"
	SyncRemoteURL      Kind = "E_SYNC_REMOTE_URL"
	SyncNetwork        Kind = "E_SYNC_NETWORK"
	SyncTimeout        Kind = "E_SYNC_TIMEOUT"
	SyncRemote         Kind = "E_SYNC_REMOTE"
	SyncProtocol       Kind = "E_SYNC_PROTOCOL"
	CommitInProgress   Kind = "COMMIT_IN_PROGRESS"
	OperationAborted   Kind = "OPERATION_ABORTED"
	Internal           Kind = "INTERNAL"
)

// Severity represents how critical an error is, kept verbatim from the
// teacher: propagation policy needs exactly this distinction
// between "return to caller" and "count and log, keep going."
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

// Error represents a structured error with context.
type Error struct {
	Kind       Kind
	Severity   Severity
	Message    string
	Cause      error
	Context    map[string]interface{}
	StackTrace string
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// WithContext attaches a key/value pair, returning the same *Error for chaining.
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// Is reports whether target is an *Error with the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// IsFatal returns true if this error should stop execution.
func (e *Error) IsFatal() bool {
	return e.Severity == SeverityCritical
}

// DetailedString returns a detailed error message with context, for CLI
// --verbose output and audit logs.
func (e *Error) DetailedString() string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("[%s] [%s] %s\n", severityString(e.Severity), e.Kind, e.Message))

	if e.Cause != nil {
		sb.WriteString(fmt.Sprintf("Caused by: %v\n", e.Cause))
	}

	if len(e.Context) > 0 {
		sb.WriteString("Context:\n")
		for k, v := range e.Context {
			sb.WriteString(fmt.Sprintf("  %s: %v\n", k, v))
		}
	}

	if e.StackTrace != "" {
		sb.WriteString(fmt.Sprintf("Stack trace:\n%s\n", e.StackTrace))
	}

	return sb.String()
}

func severityString(s Severity) string {
	switch s {
	case SeverityLow:
		return "LOW"
	case SeverityMedium:
		return "MEDIUM"
	case SeverityHigh:
		return "HIGH"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

func captureStackTrace(skip int) string {
	var sb strings.Builder
	for i := skip; i < skip+10; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}
		fn := runtime.FuncForPC(pc)
		if fn == nil {
			break
		}
		sb.WriteString(fmt.Sprintf("  %s:%d %s\n", file, line, fn.Name()))
	}
	return sb.String()
}

// New creates a new error with the given kind, severity, and message.
func New(kind Kind, severity Severity, message string) *Error {
	return &Error{
		Kind:       kind,
		Severity:   severity,
		Message:    message,
		Context:    make(map[string]interface{}),
		StackTrace: captureStackTrace(2),
	}
}

// Newf is New with a formatted message.
func Newf(kind Kind, severity Severity, format string, args ...interface{}) *Error {
	return New(kind, severity, fmt.Sprintf(format, args...))
}

// Wrap wraps an existing error with a kind, severity, and message.
func Wrap(err error, kind Kind, severity Severity, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Kind:       kind,
		Severity:   severity,
		Message:    message,
		Cause:      err,
		Context:    make(map[string]interface{}),
		StackTrace: captureStackTrace(2),
	}
}

// Convenience constructors, one error kind actually raised
// by the domain packages.

func InvalidArgumentf(format string, args ...interface{}) *Error {
	return Newf(InvalidArgument, SeverityHigh, format, args...)
}

func NotFoundf(format string, args ...interface{}) *Error {
	return Newf(NotFound, SeverityMedium, format, args...)
}

func EmptyPatchf(format string, args ...interface{}) *Error {
	return Newf(EmptyPatch, SeverityLow, format, args...)
}

// CASConflict builds a WRITER_CAS_CONFLICT error carrying the expected and
// actual ref SHAs, for concurrent commit attempts on the same writer chain.
func CASConflict(ref, expectedSha, actualSha string) *Error {
	return New(WriterCASConflict, SeverityMedium,
		fmt.Sprintf("ref %s: expected %s, found %s", ref, expectedSha, actualSha)).
		WithContext("ref", ref).
		WithContext("expectedSha", expectedSha).
		WithContext("actualSha", actualSha)
}

// WrapPersistWriteFailed wraps a Persistence-port write failure.
func WrapPersistWriteFailed(err error, message string) *Error {
	return Wrap(err, PersistWriteFailed, SeverityHigh, message)
}

// RequireMaterialized builds an E_NO_STATE error for an operation attempted
// before any materialization has run.
func RequireMaterialized(operation string) *Error {
	return New(NoState, SeverityMedium,
		fmt.Sprintf("%s requires a materialized state; run materialize first", operation)).
		WithContext("operation", operation)
}

// StaleStatef builds an E_STALE_STATE error, hinting that a fresh
// materialization would resolve it.
func StaleStatef(format string, args ...interface{}) *Error {
	e := Newf(StaleState, SeverityLow, format, args...)
	e.Message += " (state is stale; re-materialize)"
	return e
}

func SchemaUnsupportedf(format string, args ...interface{}) *Error {
	return Newf(SchemaUnsupported, SeverityCritical, format, args...)
}

// Aborted builds an OPERATION_ABORTED error cancellation
// semantics for sync and materialization.
func Aborted(operation, reason string) *Error {
	return New(OperationAborted, SeverityLow,
		fmt.Sprintf("%s aborted: %s", operation, reason)).
		WithContext("operation", operation).
		WithContext("reason", reason)
}

// IsFatal reports whether err is an *Error with critical severity.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if e, ok := err.(*Error); ok {
		return e.IsFatal()
	}
	return false
}

// GetKind returns the Kind of err: "" for a nil err, and Internal for an err
// that is not itself an *Error (a wrapped *Error is not unwrapped).
func GetKind(err error) Kind {
	if err == nil {
		return ""
	}
	if e, ok := err.(*Error); ok {
		return e.Kind
	}
	return Internal
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	return GetKind(err) == kind
}
