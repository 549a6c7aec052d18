package errors

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseLoad     Phase = "load"     // cartridge and archive loading
	PhaseDecode   Phase = "decode"   // bytes to records
	PhaseEncode   Phase = "encode"   // records to bytes
	PhaseVerify   Phase = "verify"   // checksum comparison
	PhaseAllocate Phase = "allocate" // free-space management
	PhasePatch    Phase = "patch"    // code/data patching
	PhaseLayout   Phase = "layout"   // layout table loading
	PhaseSave     Phase = "save"     // cartridge rebuild
	PhaseRuntime  Phase = "runtime"  // plugin execution
)

// Kind categorizes the error
type Kind string

const (
	KindFormat        Kind = "format"
	KindIntegrity     Kind = "integrity"
	KindOutOfSpace    Kind = "out_of_space"
	KindPatchMismatch Kind = "patch_mismatch"
	KindFatalPatch    Kind = "fatal_patch"
	KindNotVerified   Kind = "not_verified"
	KindOutOfBounds   Kind = "out_of_bounds"
	KindInvalidData   Kind = "invalid_data"
	KindInvalidInput  Kind = "invalid_input"
	KindNotFound      Kind = "not_found"
	KindUnsupported   Kind = "unsupported"
	KindOverflow      Kind = "overflow"
)

// Kind-only sentinels for errors.Is. A sentinel without a phase matches
// every error of its kind.
var (
	ErrFormat        = &Error{Kind: KindFormat}
	ErrIntegrity     = &Error{Kind: KindIntegrity}
	ErrOutOfSpace    = &Error{Kind: KindOutOfSpace}
	ErrPatchMismatch = &Error{Kind: KindPatchMismatch}
	ErrFatalPatch    = &Error{Kind: KindFatalPatch}
	ErrNotVerified   = &Error{Kind: KindNotVerified}
	ErrNotFound      = &Error{Kind: KindNotFound}
)

// Error is the structured error type used throughout romkit
type Error struct {
	Value  any
	Cause  error
	Phase  Phase
	Kind   Kind
	Detail string
	Path   []string
	Offset int
	// HasOffset distinguishes offset 0 from "no offset"
	HasOffset bool
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, "."))
	}

	if e.HasOffset {
		fmt.Fprintf(&b, " @0x%x", e.Offset)
	}

	if e.Detail != "" {
		b.WriteString(": ")
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

// Is reports whether target matches this error. An empty phase on the
// target matches any phase.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		if t.Phase != "" && t.Phase != e.Phase {
			return false
		}
		return e.Kind == t.Kind
	}
	return false
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

// Path sets the component path
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

// Offset sets the byte offset the error refers to
func (b *Builder) Offset(off int) *Builder {
	b.err.Offset = off
	b.err.HasOffset = true
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
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

// Format creates a malformed-container error
func Format(phase Phase, container, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindFormat,
		Path:   []string{container},
		Detail: detail,
	}
}

// FormatAt creates a malformed-container error anchored at an offset
func FormatAt(phase Phase, container string, offset int, detail string) *Error {
	return &Error{
		Phase:     phase,
		Kind:      KindFormat,
		Path:      []string{container},
		Detail:    detail,
		Offset:    offset,
		HasOffset: true,
	}
}

// Integrity creates a checksum mismatch error
func Integrity(build string, cause error) *Error {
	return &Error{
		Phase:  PhaseVerify,
		Kind:   KindIntegrity,
		Path:   []string{build},
		Detail: "checksum mismatch: unsupported build or corrupted image",
		Cause:  cause,
	}
}

// NotVerified creates an error for structural operations attempted before a
// successful integrity check
func NotVerified(phase Phase, op string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotVerified,
		Detail: fmt.Sprintf("%s refused: image has not passed integrity verification", op),
	}
}

// FatalPatch creates an unrecoverable patching error
func FatalPatch(patch string, offset int, detail string) *Error {
	return &Error{
		Phase:     PhasePatch,
		Kind:      KindFatalPatch,
		Path:      []string{patch},
		Detail:    detail,
		Offset:    offset,
		HasOffset: true,
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

// InvalidData creates an invalid data error
func InvalidData(phase Phase, path []string, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidData,
		Path:   path,
		Detail: detail,
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

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
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

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// Span is a free byte range reported by OutOfSpaceError
type Span struct {
	Offset int
	Length int
}

// OutOfSpaceError is returned when an allocation cannot be satisfied. It
// carries the request and the free regions that were too small so the caller
// can pick a different size or extend the image.
type OutOfSpaceError struct {
	Free      []Span
	Requested int
	Aligned   int
	Capacity  int
}

func (e *OutOfSpaceError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s: cannot allocate %d bytes (%d aligned) in %d-byte image",
		PhaseAllocate, KindOutOfSpace, e.Requested, e.Aligned, e.Capacity)
	if len(e.Free) == 0 {
		b.WriteString("; no free regions")
		return b.String()
	}
	largest := 0
	for _, s := range e.Free {
		if s.Length > largest {
			largest = s.Length
		}
	}
	fmt.Fprintf(&b, "; %d free region(s), largest %d bytes", len(e.Free), largest)
	return b.String()
}

// Is reports whether target matches this error type
func (e *OutOfSpaceError) Is(target error) bool {
	switch t := target.(type) {
	case *OutOfSpaceError:
		return true
	case *Error:
		return t.Kind == KindOutOfSpace && (t.Phase == "" || t.Phase == PhaseAllocate)
	}
	return false
}

// MismatchError is returned when the bytes at a patch site match neither the
// declared pre-image nor the post-image.
type MismatchError struct {
	Patch    string
	Expected []byte
	Post     []byte
	Actual   []byte
	Offset   int
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("[%s] %s at %s @0x%x: expected %s (or post-image %s), found %s",
		PhasePatch, KindPatchMismatch, e.Patch, e.Offset,
		hexOrDash(e.Expected), hexOrDash(e.Post), hexOrDash(e.Actual))
}

// Is reports whether target matches this error type
func (e *MismatchError) Is(target error) bool {
	switch t := target.(type) {
	case *MismatchError:
		return true
	case *Error:
		return t.Kind == KindPatchMismatch && (t.Phase == "" || t.Phase == PhasePatch)
	}
	return false
}

func hexOrDash(b []byte) string {
	if len(b) == 0 {
		return "-"
	}
	if len(b) > 32 {
		return hex.EncodeToString(b[:32]) + "..."
	}
	return hex.EncodeToString(b)
}
