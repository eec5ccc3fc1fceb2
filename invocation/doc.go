// Package invocation calls a list of callables that share one signature
// with one set of arguments.
//
// An Invocation owns a signature, an argument frame laid out for it and an
// ordered list of callables. Invoke calls every callable in order with the
// same arguments and keeps a separate return buffer for each of them:
//
//	inv, _ := invocation.NewWithEncoding("i@?i", invocation.Config{})
//	inv.AddCallable(double)
//	inv.AddCallable(square)
//	invocation.SetValue(inv, 1, int32(3))
//	inv.Invoke(ctx)
//	d, _ := invocation.ReturnAs[int32](inv, 0) // 6
//	s, _ := invocation.ReturnAs[int32](inv, 1) // 9
//
// Callables may be Go functions (host.Func), WebAssembly exports
// (engine.Export) or other invocations through AsCallable. Every callable
// must match the invocation's signature structurally: the same argument
// count, and the same kind and size for the return and every argument.
// Field names and pointee types are not compared.
//
// # States
//
//	Unconfigured - no signature; the first callable added supplies one
//	Armed        - signature known, arguments and callables may change
//	Invoked      - at least one invoke succeeded, return values readable
//
// A failed invoke leaves the state alone. Callables that ran before the
// failure have fresh return values; the failing one and any callable added
// since the last successful invoke report NotYetInvoked.
//
// An Invocation is not safe for concurrent use.
package invocation
