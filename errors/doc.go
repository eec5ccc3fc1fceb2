// Package errors provides structured error types for multicall.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error category).
// The Error type carries the offending encoding, a byte offset for parse failures,
// an index path and a cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseAdmit, errors.KindSignatureMismatch).
//		Path("args", "2").
//		Encoding("^v").
//		Detail("want pointer, have int").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.MalformedEncoding(enc, 7, "unterminated struct")
//	err := errors.OutOfBounds(errors.PhaseArgument, nil, 4, 3)
//
// The exported sentinels match on Kind regardless of Phase:
//
//	if errors.Is(err, errors.ErrReservedIndex) { ... }
//
// Errors returned by a dispatched callable are never converted into this type.
package errors
