package wasmbuild

import "math"

// Instruction helpers. Each returns the encoded bytes of one instruction;
// Body concatenates them.

const (
	opUnreachable = 0x00
	opEnd         = 0x0b
	opLocalGet    = 0x20
	opLocalSet    = 0x21
	opLocalTee    = 0x22
	opGlobalGet   = 0x23
	opGlobalSet   = 0x24
	opI32Load     = 0x28
	opI64Load     = 0x29
	opF32Load     = 0x2a
	opF64Load     = 0x2b
	opI32Store    = 0x36
	opI64Store    = 0x37
	opF32Store    = 0x38
	opF64Store    = 0x39
	opI32Const    = 0x41
	opI64Const    = 0x42
	opF64Const    = 0x44
	opI32Add      = 0x6a
	opI32Sub      = 0x6b
	opI32Mul      = 0x6c
	opI32And      = 0x71
	opI64Add      = 0x7c
	opI64Mul      = 0x7e
	opF32Add      = 0x92
	opF64Add      = 0xa0
	opF64Mul      = 0xa2
	opF64FromI64  = 0xb9
)

func Body(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func Unreachable() []byte { return []byte{opUnreachable} }

func LocalGet(i uint32) []byte { return append([]byte{opLocalGet}, EncodeULEB128(i)...) }
func LocalSet(i uint32) []byte { return append([]byte{opLocalSet}, EncodeULEB128(i)...) }
func LocalTee(i uint32) []byte { return append([]byte{opLocalTee}, EncodeULEB128(i)...) }

func GlobalGet(i uint32) []byte { return append([]byte{opGlobalGet}, EncodeULEB128(i)...) }
func GlobalSet(i uint32) []byte { return append([]byte{opGlobalSet}, EncodeULEB128(i)...) }

func I32Const(v int32) []byte { return append([]byte{opI32Const}, EncodeSLEB128(v)...) }
func I64Const(v int64) []byte { return append([]byte{opI64Const}, EncodeSLEB128(v)...) }

func F64Const(v float64) []byte {
	bits := math.Float64bits(v)
	out := []byte{opF64Const}
	for i := 0; i < 8; i++ {
		out = append(out, byte(bits>>(8*i)))
	}
	return out
}

// Memory instructions take the natural alignment of the access as a power
// of two and a static offset.

func I32Load(offset uint32) []byte  { return memarg(opI32Load, 2, offset) }
func I64Load(offset uint32) []byte  { return memarg(opI64Load, 3, offset) }
func F32Load(offset uint32) []byte  { return memarg(opF32Load, 2, offset) }
func F64Load(offset uint32) []byte  { return memarg(opF64Load, 3, offset) }
func I32Store(offset uint32) []byte { return memarg(opI32Store, 2, offset) }
func I64Store(offset uint32) []byte { return memarg(opI64Store, 3, offset) }
func F32Store(offset uint32) []byte { return memarg(opF32Store, 2, offset) }
func F64Store(offset uint32) []byte { return memarg(opF64Store, 3, offset) }

func memarg(op byte, align, offset uint32) []byte {
	out := []byte{op}
	out = append(out, EncodeULEB128(align)...)
	return append(out, EncodeULEB128(offset)...)
}

func I32Add() []byte     { return []byte{opI32Add} }
func I32Sub() []byte     { return []byte{opI32Sub} }
func I32Mul() []byte     { return []byte{opI32Mul} }
func I32And() []byte     { return []byte{opI32And} }
func I64Add() []byte     { return []byte{opI64Add} }
func I64Mul() []byte     { return []byte{opI64Mul} }
func F32Add() []byte     { return []byte{opF32Add} }
func F64Add() []byte     { return []byte{opF64Add} }
func F64Mul() []byte     { return []byte{opF64Mul} }
func F64FromI64() []byte { return []byte{opF64FromI64} }
