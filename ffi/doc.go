// Package ffi calls native C functions through packed argument frames using
// libffi.
//
// The package is only compiled with cgo and the libffi build tag:
//
//	go build -tags libffi ./...
//
// A Library wraps a dlopen handle and resolves symbols into callables. The
// context value in slot 0 is passed as the function's first argument, so a
// native function called with the signature "i@?i" has the C type
// int (*)(void *ctx, int x). Struct, union and array arguments and returns
// are described to libffi as custom aggregate types; libffi then applies the
// platform's rules for register classes, stack spill and hidden return
// pointers.
//
// Only signatures parsed under the host data model can be called.
package ffi
