package host

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"unsafe"

	"github.com/wippyai/multicall/encoding"
	"github.com/wippyai/multicall/errors"
	"github.com/wippyai/multicall/resource"
)

var (
	handleType  = reflect.TypeOf(resource.Handle(0))
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
	bytePtrType = reflect.TypeOf((*byte)(nil))
)

// EncodingOf returns the type token for a Go type. The Go layout of every
// supported type matches the C layout the token describes on the same host.
func EncodingOf(t reflect.Type) (string, error) {
	var b strings.Builder
	if err := writeEncoding(&b, t, 0); err != nil {
		return "", err
	}
	return b.String(), nil
}

func writeEncoding(b *strings.Builder, t reflect.Type, depth int) error {
	if depth > 32 {
		return errors.Unsupported(errors.PhaseLoad, fmt.Sprintf("type %s nests too deeply", t))
	}

	switch {
	case t == handleType:
		b.WriteByte('@')
		return nil
	case t == bytePtrType:
		b.WriteByte('*')
		return nil
	}

	switch t.Kind() {
	case reflect.Bool:
		b.WriteByte('B')
	case reflect.Int8:
		b.WriteByte('c')
	case reflect.Uint8:
		b.WriteByte('C')
	case reflect.Int16:
		b.WriteByte('s')
	case reflect.Uint16:
		b.WriteByte('S')
	case reflect.Int32:
		b.WriteByte('i')
	case reflect.Uint32:
		b.WriteByte('I')
	case reflect.Int64:
		b.WriteByte('q')
	case reflect.Uint64:
		b.WriteByte('Q')
	case reflect.Int:
		b.WriteByte(pick(t.Size() == 8, 'q', 'i'))
	case reflect.Uint:
		b.WriteByte(pick(t.Size() == 8, 'Q', 'I'))
	case reflect.Float32:
		b.WriteByte('f')
	case reflect.Float64:
		b.WriteByte('d')
	case reflect.Uintptr, reflect.UnsafePointer:
		b.WriteString("^v")
	case reflect.Pointer:
		b.WriteByte('^')
		var inner strings.Builder
		if err := writeEncoding(&inner, t.Elem(), depth+1); err != nil {
			b.WriteByte('v')
			return nil
		}
		b.WriteString(inner.String())
	case reflect.Array:
		b.WriteByte('[')
		b.WriteString(strconv.Itoa(t.Len()))
		if err := writeEncoding(b, t.Elem(), depth+1); err != nil {
			return err
		}
		b.WriteByte(']')
	case reflect.Struct:
		name := t.Name()
		if name == "" {
			name = "?"
		}
		b.WriteByte('{')
		b.WriteString(name)
		b.WriteByte('=')
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if f.Name == "_" {
				return errors.Unsupported(errors.PhaseLoad, fmt.Sprintf("struct %s has blank fields", t))
			}
			if err := writeEncoding(b, f.Type, depth+1); err != nil {
				return err
			}
		}
		b.WriteByte('}')
	default:
		return errors.New(errors.PhaseLoad, errors.KindUnsupported).
			GoType(t.String()).
			Detail("no encoding for Go kind %s", t.Kind()).
			Build()
	}
	return nil
}

func pick(cond bool, a, b byte) byte {
	if cond {
		return a
	}
	return b
}

// compatible reports whether values of Go type rt can be copied byte for
// byte to and from slots of type t.
func compatible(rt reflect.Type, t *encoding.Type) bool {
	if rt.Size() != uintptr(t.Size()) {
		return false
	}
	k := rt.Kind()
	switch t.Kind() {
	case encoding.KindInt:
		return k >= reflect.Int && k <= reflect.Int64
	case encoding.KindUint:
		return k == reflect.Bool || (k >= reflect.Uint && k <= reflect.Uint64)
	case encoding.KindFloat:
		return k == reflect.Float32 || k == reflect.Float64
	case encoding.KindPointer, encoding.KindCString:
		return k == reflect.Pointer || k == reflect.UnsafePointer || k == reflect.Uintptr
	case encoding.KindObject:
		return k == reflect.Uintptr || k == reflect.UnsafePointer || k == reflect.Pointer ||
			(k >= reflect.Uint && k <= reflect.Uint64)
	case encoding.KindStruct, encoding.KindUnion, encoding.KindArray:
		return k == reflect.Struct || k == reflect.Array
	}
	return false
}

// load copies b into a new value of type rt.
func load(rt reflect.Type, b []byte) reflect.Value {
	v := reflect.New(rt)
	copy(unsafe.Slice((*byte)(v.UnsafePointer()), rt.Size()), b)
	return v.Elem()
}

// store copies the bytes of v into dst.
func store(v reflect.Value, dst []byte) {
	p := reflect.New(v.Type())
	p.Elem().Set(v)
	copy(dst, unsafe.Slice((*byte)(p.UnsafePointer()), v.Type().Size()))
}
