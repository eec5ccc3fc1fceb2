// Package multicall calls many functions that share one signature with a
// single argument frame, keeping every return value.
//
// Signatures are written as block type encodings: a return type, then one
// type per argument, with the context argument "@?" first. "i@?i" is a
// function of one int returning an int. Encodings are parsed against a data
// model (host, LP64, ILP32 or wasm32) that fixes sizes and alignment.
//
// # Architecture Overview
//
//	multicall/         Root package with the guest Memory and Allocator interfaces
//	├── encoding/      Type encoding grammar, layout per data model
//	├── signature/     Parsed signatures with frame offsets and shape equality
//	├── frame/         Argument frame storage and retained object arguments
//	├── resource/      Handle table for object arguments
//	├── dispatch/      Callables, calling conventions and the dispatcher
//	├── host/          Go functions as callables
//	├── engine/        wazero instances and the wasm32 calling convention
//	├── ffi/           C functions through libffi (build tag libffi)
//	├── invocation/    The multi-call invocation itself
//	├── errors/        Structured errors with phase and kind
//	└── cmd/multicall  Command line tool
//
// # Quick Start
//
//	inv, err := invocation.NewWithEncoding("i@?i", invocation.Config{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer inv.Close()
//
//	inv.AddCallable(double)
//	inv.AddCallable(square)
//	invocation.SetValue(inv, 1, int32(3))
//	if err := inv.Invoke(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	d, _ := invocation.ReturnAs[int32](inv, 0) // 6
//	s, _ := invocation.ReturnAs[int32](inv, 1) // 9
package multicall
