package errors

import (
	"fmt"
	"strings"
)

// Phase indicates where in the pipeline the error occurred
type Phase string

const (
	PhaseParse    Phase = "parse"    // template decoding
	PhaseLayout   Phase = "layout"   // address location, stack reservation
	PhaseEncode   Phase = "encode"   // entries to blob
	PhaseDecode   Phase = "decode"   // blob to entries
	PhaseEmbed    Phase = "embed"    // splicing into the template
	PhaseMetadata Phase = "metadata" // component-type re-attachment
	PhaseFinalize Phase = "finalize" // re-serialization and wrapping
	PhaseInput    Phase = "input"    // caller supplied arguments
	PhaseRuntime  Phase = "runtime"  // inspecting a produced artifact
)

// Kind categorizes the error
type Kind string

const (
	KindFormat   Kind = "format_error"   // unparseable template, missing structural element
	KindLayout   Kind = "layout_error"   // address unlocatable, stack precondition violated
	KindEncoding Kind = "encoding_error" // re-serialization or wrapping failed validation
	KindInput    Kind = "input_error"    // malformed caller input
)

// Sentinels for errors.Is. They match any *Error of the same Kind.
var (
	ErrFormat   = &Error{Kind: KindFormat}
	ErrLayout   = &Error{Kind: KindLayout}
	ErrEncoding = &Error{Kind: KindEncoding}
	ErrInput    = &Error{Kind: KindInput}
)

// Error is the structured error type used throughout the module
type Error struct {
	Cause   error
	Segment *uint32
	Address *uint32
	Phase   Phase
	Kind    Kind
	Global  string
	Detail  string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	if e.Phase != "" {
		b.WriteByte('[')
		b.WriteString(string(e.Phase))
		b.WriteString("] ")
	}
	b.WriteString(string(e.Kind))

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	var ctx []string
	if e.Segment != nil {
		ctx = append(ctx, fmt.Sprintf("segment %d", *e.Segment))
	}
	if e.Global != "" {
		ctx = append(ctx, "global "+e.Global)
	}
	if e.Address != nil {
		ctx = append(ctx, fmt.Sprintf("address 0x%x", *e.Address))
	}
	if len(ctx) > 0 {
		b.WriteString(" (")
		b.WriteString(strings.Join(ctx, ", "))
		b.WriteByte(')')
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

// Segment records the data segment involved
func (b *Builder) Segment(id uint32) *Builder {
	b.err.Segment = &id
	return b
}

// Address records the linear memory address involved
func (b *Builder) Address(addr uint32) *Builder {
	b.err.Address = &addr
	return b
}

// Global records the global involved
func (b *Builder) Global(name string) *Builder {
	b.err.Global = name
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

// Format creates a template format error
func Format(phase Phase, detail string, args ...any) *Error {
	return New(phase, KindFormat).Detail(detail, args...).Build()
}

// Layout creates a memory layout error
func Layout(detail string, args ...any) *Error {
	return New(PhaseLayout, KindLayout).Detail(detail, args...).Build()
}

// Encoding creates an encoding error wrapping cause
func Encoding(phase Phase, cause error, detail string, args ...any) *Error {
	return New(phase, KindEncoding).Detail(detail, args...).Cause(cause).Build()
}

// InvalidInput creates an input error
func InvalidInput(detail string, args ...any) *Error {
	return New(PhaseInput, KindInput).Detail(detail, args...).Build()
}

// ParseFailed creates a format error for a template that could not be decoded
func ParseFailed(what string, cause error) *Error {
	return &Error{
		Phase:  PhaseParse,
		Kind:   KindFormat,
		Detail: fmt.Sprintf("parse %s", what),
		Cause:  cause,
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
