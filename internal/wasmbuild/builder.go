// Package wasmbuild assembles small WebAssembly modules in memory so tests
// and examples need no checked-in binaries.
package wasmbuild

import (
	"github.com/tetratelabs/wazero/api"
)

var (
	I32 = api.ValueTypeI32
	I64 = api.ValueTypeI64
	F32 = api.ValueTypeF32
	F64 = api.ValueTypeF64
)

// Builder collects functions, one memory and mutable i32 globals. Every
// named function is exported under its name; the memory is exported as
// "memory".
type Builder struct {
	funcs       []function
	globals     []int32
	memoryPages uint32
	hasMemory   bool
}

type function struct {
	name    string
	params  []api.ValueType
	results []api.ValueType
	locals  []api.ValueType
	body    []byte
}

// New creates an empty builder.
func New() *Builder {
	return &Builder{}
}

// Memory declares a linear memory of the given initial size with no maximum.
func (b *Builder) Memory(pages uint32) *Builder {
	b.memoryPages = pages
	b.hasMemory = true
	return b
}

// Global adds a mutable i32 global and returns its index.
func (b *Builder) Global(init int32) uint32 {
	b.globals = append(b.globals, init)
	return uint32(len(b.globals) - 1)
}

// Func adds a function. body holds the instructions without the final end.
func (b *Builder) Func(name string, params, results []api.ValueType, body []byte) *Builder {
	return b.FuncWithLocals(name, params, results, nil, body)
}

// FuncWithLocals is like Func with extra locals numbered after the params.
func (b *Builder) FuncWithLocals(name string, params, results, locals []api.ValueType, body []byte) *Builder {
	b.funcs = append(b.funcs, function{
		name:    name,
		params:  params,
		results: results,
		locals:  locals,
		body:    body,
	})
	return b
}

// Build generates the module bytes.
func (b *Builder) Build() []byte {
	wasm := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

	if len(b.funcs) > 0 {
		wasm = append(wasm, section(0x01, b.buildTypeSection())...)
		wasm = append(wasm, section(0x03, b.buildFuncSection())...)
	}
	if b.hasMemory {
		mem := []byte{0x01, 0x00}
		mem = append(mem, EncodeULEB128(b.memoryPages)...)
		wasm = append(wasm, section(0x05, mem)...)
	}
	if len(b.globals) > 0 {
		wasm = append(wasm, section(0x06, b.buildGlobalSection())...)
	}
	wasm = append(wasm, section(0x07, b.buildExportSection())...)
	if len(b.funcs) > 0 {
		wasm = append(wasm, section(0x0a, b.buildCodeSection())...)
	}
	return wasm
}

// Each function gets its own type; duplicates are legal.
func (b *Builder) buildTypeSection() []byte {
	out := EncodeULEB128(uint32(len(b.funcs)))
	for _, f := range b.funcs {
		out = append(out, 0x60)
		out = append(out, EncodeULEB128(uint32(len(f.params)))...)
		for _, t := range f.params {
			out = append(out, ValType(t))
		}
		out = append(out, EncodeULEB128(uint32(len(f.results)))...)
		for _, t := range f.results {
			out = append(out, ValType(t))
		}
	}
	return out
}

func (b *Builder) buildFuncSection() []byte {
	out := EncodeULEB128(uint32(len(b.funcs)))
	for i := range b.funcs {
		out = append(out, EncodeULEB128(uint32(i))...)
	}
	return out
}

func (b *Builder) buildGlobalSection() []byte {
	out := EncodeULEB128(uint32(len(b.globals)))
	for _, init := range b.globals {
		out = append(out, ValType(I32), 0x01)
		out = append(out, I32Const(init)...)
		out = append(out, opEnd)
	}
	return out
}

func (b *Builder) buildExportSection() []byte {
	var entries []byte
	count := 0
	if b.hasMemory {
		entries = append(entries, name("memory")...)
		entries = append(entries, 0x02, 0x00)
		count++
	}
	for i, f := range b.funcs {
		if f.name == "" {
			continue
		}
		entries = append(entries, name(f.name)...)
		entries = append(entries, 0x00)
		entries = append(entries, EncodeULEB128(uint32(i))...)
		count++
	}
	return append(EncodeULEB128(uint32(count)), entries...)
}

func (b *Builder) buildCodeSection() []byte {
	out := EncodeULEB128(uint32(len(b.funcs)))
	for _, f := range b.funcs {
		var body []byte
		body = append(body, EncodeULEB128(uint32(len(f.locals)))...)
		for _, t := range f.locals {
			body = append(body, 0x01, ValType(t))
		}
		body = append(body, f.body...)
		body = append(body, opEnd)

		out = append(out, EncodeULEB128(uint32(len(body)))...)
		out = append(out, body...)
	}
	return out
}
