// Package encoding parses compiler-emitted type encodings of block and method
// signatures.
//
// A full-signature encoding is a return type token, an optional frame size,
// and one token per argument, each optionally followed by its frame offset:
//
//	i12@?0i8        int (^)(int)
//	v20@?0i8^v12    void (^)(int, void *)
//	{CGPoint=dd}8@?0
//
// Index 0 is always the callable itself. Types are classified into a small
// set of kinds and laid out under a data Model so the same encoding can be
// sized for the host, for wasm32 guests, or for another C ABI.
//
// Input may come from untrusted sources. The parser never reads past the end
// of its input, caps nesting depth, and reports every failure as a
// MalformedEncoding error carrying the byte offset of the problem.
package encoding
