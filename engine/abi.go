package engine

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/multicall/encoding"
	"github.com/wippyai/multicall/errors"
	"github.com/wippyai/multicall/signature"
)

const (
	CabiRealloc = "cabi_realloc"
	CabiFree    = "cabi_free"

	// Legacy names from pre-standardization toolchains
	legacyRealloc = "canonical_abi_realloc"
	legacyAlloc   = "allocate"
	simpleAlloc   = "alloc"
	legacyDealloc = "deallocate"
	simpleFree    = "free"
)

// lowering describes how one argument or the return value crosses into
// the wasm32 core ABI.
type lowering struct {
	typ *encoding.Type
	// scalar is the value actually passed: typ itself, or the scalar a
	// single-member aggregate wraps.
	scalar *encoding.Type
	index  int
	vt     api.ValueType
	// indirect aggregates live in guest memory and are passed by address.
	indirect bool
	// empty aggregates are not passed at all.
	empty bool
}

// plan is the core function type a signature lowers to.
type plan struct {
	args    []lowering
	ret     lowering
	params  []api.ValueType
	results []api.ValueType
	// retptr is set when the return value comes back through a hidden
	// first parameter.
	retptr   bool
	retSize  uint32
	retAlign uint32
	// memory is set when any value has to be placed in guest memory.
	memory bool
}

func buildPlan(sig *signature.Signature) (*plan, error) {
	p := &plan{}

	ret := sig.Return()
	if ret.Kind() != encoding.KindVoid {
		l, err := lower(ret, -1)
		if err != nil {
			return nil, err
		}
		p.ret = l
		switch {
		case l.empty:
		case l.indirect:
			p.retptr = true
			p.memory = true
			p.retSize = uint32(ret.SizeIn(encoding.Wasm32))
			p.retAlign = uint32(ret.AlignIn(encoding.Wasm32))
			p.params = append(p.params, api.ValueTypeI32)
		default:
			p.results = append(p.results, l.vt)
		}
	}

	for i := 0; i < sig.ArgumentCount(); i++ {
		t, _ := sig.Argument(i)
		l, err := lower(t, i)
		if err != nil {
			return nil, err
		}
		p.args = append(p.args, l)
		switch {
		case l.empty:
		case l.indirect:
			p.memory = true
			p.params = append(p.params, api.ValueTypeI32)
		default:
			p.params = append(p.params, l.vt)
		}
	}
	return p, nil
}

func lower(t *encoding.Type, index int) (lowering, error) {
	l := lowering{typ: t, index: index}
	if err := lowerable(t, index); err != nil {
		return l, err
	}
	if t.IsAggregate() {
		if t.SizeIn(encoding.Wasm32) == 0 {
			l.empty = true
			return l, nil
		}
		if s := singleScalar(t); s != nil {
			l.scalar = s
			l.vt = coreType(s)
			return l, nil
		}
		l.indirect = true
		l.vt = api.ValueTypeI32
		return l, nil
	}
	l.scalar = t
	l.vt = coreType(t)
	return l, nil
}

// lowerable rejects types with no wasm32 representation anywhere inside.
func lowerable(t *encoding.Type, index int) error {
	switch t.Kind() {
	case encoding.KindFloat:
		if t.Code() == 'D' {
			return unsupportedType(t, index, "long double has no wasm32 core type")
		}
	case encoding.KindStruct, encoding.KindUnion:
		if t.IsOpaque() {
			return unsupportedType(t, index, "opaque aggregate passed by value")
		}
		for i := 0; i < t.NumFields(); i++ {
			if err := lowerable(t.Field(i).Type, index); err != nil {
				return err
			}
		}
	case encoding.KindArray:
		return lowerable(t.Elem(), index)
	case encoding.KindUnknown, encoding.KindVoid:
		return unsupportedType(t, index, "no value representation")
	}
	return nil
}

func unsupportedType(t *encoding.Type, index int, detail string) error {
	path := "return"
	if index >= 0 {
		path = fmt.Sprintf("args.%d", index)
	}
	return errors.New(errors.PhaseAdmit, errors.KindUnsupported).
		Path(path).
		Encoding(t.String()).
		Detail("%s", detail).
		Build()
}

// singleScalar returns the scalar an aggregate wraps when it has exactly
// one, through any depth of one-member structs and one-element arrays.
func singleScalar(t *encoding.Type) *encoding.Type {
	for {
		switch t.Kind() {
		case encoding.KindStruct:
			if t.NumFields() != 1 {
				return nil
			}
			t = t.Field(0).Type
		case encoding.KindArray:
			if t.Len() != 1 {
				return nil
			}
			t = t.Elem()
		default:
			if t.IsScalar() {
				return t
			}
			return nil
		}
	}
}

func coreType(t *encoding.Type) api.ValueType {
	switch t.Kind() {
	case encoding.KindFloat:
		if t.Code() == 'f' {
			return api.ValueTypeF32
		}
		return api.ValueTypeF64
	case encoding.KindInt, encoding.KindUint:
		if t.Size() == 8 {
			return api.ValueTypeI64
		}
	}
	return api.ValueTypeI32
}

// lowerScalar reads a scalar slot into a core stack value. Narrow signed
// integers are sign extended, pointers and references truncated to 32 bits.
func lowerScalar(t *encoding.Type, src []byte) uint64 {
	switch t.Kind() {
	case encoding.KindFloat:
		if t.Code() == 'f' {
			return uint64(binary.NativeEndian.Uint32(src))
		}
		return binary.NativeEndian.Uint64(src)
	case encoding.KindInt:
		v := getUint(src[:t.Size()], binary.NativeEndian)
		switch t.Size() {
		case 1:
			return api.EncodeI32(int32(int8(v)))
		case 2:
			return api.EncodeI32(int32(int16(v)))
		case 4:
			return api.EncodeI32(int32(v))
		}
		return v
	case encoding.KindUint:
		v := getUint(src[:t.Size()], binary.NativeEndian)
		if t.Size() == 8 {
			return v
		}
		return api.EncodeU32(uint32(v))
	}
	return api.EncodeU32(uint32(getUint(src[:t.Size()], binary.NativeEndian)))
}

// liftScalar writes a core stack value into a slot of type t.
func liftScalar(t *encoding.Type, v uint64, dst []byte) {
	switch t.Kind() {
	case encoding.KindFloat:
		if t.Code() == 'f' {
			binary.NativeEndian.PutUint32(dst, uint32(v))
			return
		}
		binary.NativeEndian.PutUint64(dst, v)
	case encoding.KindInt, encoding.KindUint:
		putUint(dst[:t.Size()], binary.NativeEndian, v)
	default:
		putUint(dst[:t.Size()], binary.NativeEndian, uint64(uint32(v)))
	}
}

// relayout copies a value of type t between two data models and byte
// orders, moving every member to its offset in the destination layout.
// Unions are copied as raw bytes.
func relayout(t *encoding.Type, src []byte, from encoding.Model, srcOrder binary.ByteOrder,
	dst []byte, to encoding.Model, dstOrder binary.ByteOrder) {
	switch t.Kind() {
	case encoding.KindInt, encoding.KindUint, encoding.KindFloat:
		n := t.SizeIn(from)
		putUint(dst[:n], dstOrder, getUint(src[:n], srcOrder))
	case encoding.KindPointer, encoding.KindCString, encoding.KindObject:
		v := getUint(src[:from.PointerSize], srcOrder)
		putUint(dst[:to.PointerSize], dstOrder, v)
	case encoding.KindStruct:
		srcOffs := t.FieldOffsetsIn(from)
		dstOffs := t.FieldOffsetsIn(to)
		for i := 0; i < t.NumFields(); i++ {
			relayout(t.Field(i).Type, src[srcOffs[i]:], from, srcOrder, dst[dstOffs[i]:], to, dstOrder)
		}
	case encoding.KindArray:
		elem := t.Elem()
		ss, ds := elem.SizeIn(from), elem.SizeIn(to)
		for i := 0; i < t.Len(); i++ {
			relayout(elem, src[i*ss:], from, srcOrder, dst[i*ds:], to, dstOrder)
		}
	case encoding.KindUnion:
		n := min(t.SizeIn(from), t.SizeIn(to))
		copy(dst[:n], src[:n])
	}
}

// getUint reads an unsigned integer of len(b) bytes. Sizes other than 2, 4
// and 8 read the first byte only.
func getUint(b []byte, order binary.ByteOrder) uint64 {
	switch len(b) {
	case 8:
		return order.Uint64(b)
	case 4:
		return uint64(order.Uint32(b))
	case 2:
		return uint64(order.Uint16(b))
	case 0:
		return 0
	}
	return uint64(b[0])
}

// putUint writes the low len(b) bytes of v.
func putUint(b []byte, order binary.ByteOrder, v uint64) {
	switch len(b) {
	case 8:
		order.PutUint64(b, v)
	case 4:
		order.PutUint32(b, uint32(v))
	case 2:
		order.PutUint16(b, uint16(v))
	case 0:
	default:
		b[0] = byte(v)
	}
}

func valueTypes(ts []api.ValueType) string {
	names := make([]string, len(ts))
	for i, t := range ts {
		names[i] = api.ValueTypeName(t)
	}
	return "(" + strings.Join(names, ", ") + ")"
}
