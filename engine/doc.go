// Package engine calls WebAssembly exports through packed argument frames.
//
// It wraps wazero and provides the wasm32 calling convention: a signature is
// lowered to a core function type the way clang lowers C calls for wasm32,
// arguments are read out of the frame into core values or copied into guest
// memory, and the result is written back into the caller's return buffer.
//
// # Architecture
//
//	WazeroEngine   - Owns a wazero runtime, compiles modules
//	WazeroModule   - A compiled module, creates instances
//	WazeroInstance - A running module, resolves exports
//	Export         - One exported function, the entry point type
//	Convention     - dispatch.Convention for Export entry points
//
// # Lowering
//
//	C type                         Core representation
//	─────────────────────────────────────────────────
//	char .. int, bool, long        i32
//	long long                      i64
//	float                          f32
//	double                         f64
//	pointer, char *, object        i32 (truncated from the host width)
//	struct {T} / T[1]              as T
//	other struct, union, array     i32 address of a wasm32-layout copy
//	long double                    unsupported
//
// Aggregate returns that are not a single scalar come back through a hidden
// return pointer passed as the first parameter. The context value in slot 0
// follows it as an i32.
//
// # Guest Memory
//
// Aggregate arguments and return buffers are allocated with the module's
// cabi_realloc export (or a legacy alloc export) when it has one. Otherwise
// the engine grows linear memory and bump-allocates from the new pages,
// rewinding after every call.
//
// # Thread Safety
//
// WazeroEngine, WazeroModule and Convention are safe for concurrent use.
// WazeroInstance is NOT thread-safe and should be used by a single goroutine.
package engine
