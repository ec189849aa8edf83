// Package errors provides structured error types for the static-config engine.
//
// Errors are categorized by Phase (where in the pipeline the error occurred) and
// Kind (format, layout, encoding, input). The Error type carries the context
// needed to diagnose a malformed template without inspecting the binary by hand:
// the data segment id, the global name and the linear memory address involved.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseLayout, errors.KindLayout).
//		Global("__stack_pointer").
//		Detail("stack size %d is smaller than the reservation %d", sp, n).
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.Layout("no data segment covers address")
//	err := errors.InvalidInput("property must take form key=value")
//
// Match on kind with the standard library:
//
//	if errors.Is(err, staticerrors.ErrLayout) { ... }
package errors
