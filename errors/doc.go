// Package errors provides structured error types for the romkit library.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error category).
// The Error type includes rich context: the component path, offset, and cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseDecode, errors.KindFormat).
//		Path("narc", "BTAF").
//		Offset(0x1c).
//		Detail("file %d extends past end of image", 7).
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.Format(errors.PhaseDecode, "narc", "bad magic")
//	err := errors.OutOfBounds(errors.PhaseDecode, path, 10, 5)
//
// All errors implement the standard error interface and support errors.Is/As.
// Kind-only sentinels (ErrFormat, ErrIntegrity, ErrOutOfSpace, ErrPatchMismatch,
// ErrFatalPatch, ...) match any error of that kind regardless of phase:
//
//	if errors.Is(err, errors.ErrOutOfSpace) {
//		// extend the image and retry
//	}
package errors
