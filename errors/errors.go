package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseParse    Phase = "parse"    // encoding parsing
	PhaseAdmit    Phase = "admit"    // callable admission
	PhaseArgument Phase = "argument" // argument frame access
	PhaseInvoke   Phase = "invoke"   // frame lowering and dispatch
	PhaseResult   Phase = "result"   // return value access
	PhaseRuntime  Phase = "runtime"  // runtime operations
	PhaseLoad     Phase = "load"     // module loading
)

// Kind categorizes the error
type Kind string

const (
	KindMalformedEncoding Kind = "malformed_encoding"
	KindSignatureMismatch Kind = "signature_mismatch"
	KindReservedIndex     Kind = "reserved_index"
	KindOutOfBounds       Kind = "out_of_bounds"
	KindNotYetInvoked     Kind = "not_yet_invoked"
	KindNotInitialized    Kind = "not_initialized"
	KindUnsupported       Kind = "unsupported"
	KindInvalidInput      Kind = "invalid_input"
	KindAllocation        Kind = "allocation"
	KindOverflow          Kind = "overflow"
	KindNotFound          Kind = "not_found"
	KindInstantiation     Kind = "instantiation"
)

// Sentinels for errors.Is. They match any phase.
var (
	ErrMalformedEncoding = &Error{Kind: KindMalformedEncoding}
	ErrSignatureMismatch = &Error{Kind: KindSignatureMismatch}
	ErrReservedIndex     = &Error{Kind: KindReservedIndex}
	ErrIndexOutOfRange   = &Error{Kind: KindOutOfBounds}
	ErrNotYetInvoked     = &Error{Kind: KindNotYetInvoked}
	ErrNotInitialized    = &Error{Kind: KindNotInitialized}
	ErrUnsupported       = &Error{Kind: KindUnsupported}
)

// Error is the structured error type used throughout the module
type Error struct {
	Value    any
	Cause    error
	Phase    Phase
	Kind     Kind
	GoType   string
	Encoding string
	Detail   string
	Path     []string
	// Offset is the byte position in the encoding for malformed encodings.
	Offset int
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Kind == KindMalformedEncoding {
		fmt.Fprintf(&b, " at offset %d", e.Offset)
	}

	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, "."))
	}

	if e.GoType != "" || e.Encoding != "" {
		b.WriteString(": ")
		if e.GoType != "" && e.Encoding != "" {
			b.WriteString("Go type ")
			b.WriteString(e.GoType)
			b.WriteString(", encoding ")
			b.WriteString(e.Encoding)
		} else if e.GoType != "" {
			b.WriteString("Go type ")
			b.WriteString(e.GoType)
		} else {
			b.WriteString("encoding ")
			b.WriteString(e.Encoding)
		}
	}

	if e.Detail != "" {
		if e.GoType != "" || e.Encoding != "" {
			b.WriteString(" - ")
		} else {
			b.WriteString(": ")
		}
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error.
// A target without a phase matches on kind alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Phase == "" {
		return e.Kind == t.Kind
	}
	return e.Phase == t.Phase && e.Kind == t.Kind
}

// Is is errors.Is from the standard library.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As is errors.As from the standard library.
func As(err error, target any) bool {
	return stderrors.As(err, target)
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Path sets the field path
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

// GoType sets the Go type name
func (b *Builder) GoType(t string) *Builder {
	b.err.GoType = t
	return b
}

// Encoding sets the type encoding involved
func (b *Builder) Encoding(enc string) *Builder {
	b.err.Encoding = enc
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Offset sets the encoding byte offset
func (b *Builder) Offset(off int) *Builder {
	b.err.Offset = off
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// MalformedEncoding creates a parse error pointing at a byte offset of enc
func MalformedEncoding(enc string, offset int, detail string, args ...any) *Error {
	if len(args) > 0 {
		detail = fmt.Sprintf(detail, args...)
	}
	return &Error{
		Phase:    PhaseParse,
		Kind:     KindMalformedEncoding,
		Encoding: enc,
		Offset:   offset,
		Detail:   detail,
	}
}

// SignatureMismatch creates an admission error for a structurally different callable
func SignatureMismatch(detail string, args ...any) *Error {
	if len(args) > 0 {
		detail = fmt.Sprintf(detail, args...)
	}
	return &Error{
		Phase:  PhaseAdmit,
		Kind:   KindSignatureMismatch,
		Detail: detail,
	}
}

// ReservedIndex creates an error for touching argument index 0
func ReservedIndex(phase Phase) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindReservedIndex,
		Detail: "argument index 0 is reserved for the callable",
		Value:  0,
	}
}

// OutOfBounds creates an out of bounds error
func OutOfBounds(phase Phase, path []string, index, length int) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOutOfBounds,
		Path:   path,
		Detail: fmt.Sprintf("index %d out of bounds (length %d)", index, length),
		Value:  index,
	}
}

// NotYetInvoked creates an error for reading results before a successful invoke
func NotYetInvoked(index int) *Error {
	return &Error{
		Phase:  PhaseResult,
		Kind:   KindNotYetInvoked,
		Detail: fmt.Sprintf("no return value for callable %d before a successful invoke", index),
		Value:  index,
	}
}

// NotInitialized creates a not-initialized error
func NotInitialized(phase Phase, component string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotInitialized,
		Detail: fmt.Sprintf("%s not initialized", component),
	}
}

// Unsupported creates an unsupported operation error
func Unsupported(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnsupported,
		Detail: what,
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// ShortBuffer creates an invalid input error for a buffer smaller than a slot
func ShortBuffer(phase Phase, index, have, want int) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Path:   []string{fmt.Sprintf("%d", index)},
		Detail: fmt.Sprintf("buffer holds %d bytes, slot needs %d", have, want),
		Value:  have,
	}
}

// AllocationFailed creates an allocation failure error
func AllocationFailed(phase Phase, size, align uint32) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindAllocation,
		Detail: fmt.Sprintf("failed to allocate %d bytes (align %d)", size, align),
	}
}

// Overflow creates an overflow error
func Overflow(phase Phase, path []string, value any, target string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOverflow,
		Path:   path,
		Detail: fmt.Sprintf("value %v overflows %s", value, target),
		Value:  value,
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// Instantiation creates an instantiation error
func Instantiation(cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindInstantiation,
		Detail: "instantiate module",
		Cause:  cause,
	}
}
