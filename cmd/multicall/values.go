package main

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/wippyai/multicall/encoding"
)

// parseValue converts text into the bytes of a t slot. Scalars take a
// single number; structs and arrays take their scalar leaves in order,
// separated by commas. Unions take raw hex.
func parseValue(t *encoding.Type, text string) ([]byte, error) {
	buf := make([]byte, t.Size())
	if t.Kind() == encoding.KindUnion {
		b, err := hex.DecodeString(strings.TrimPrefix(text, "0x"))
		if err != nil {
			return nil, fmt.Errorf("union %s: %w", t, err)
		}
		if len(b) > len(buf) {
			return nil, fmt.Errorf("union %s holds %d bytes, got %d", t, len(buf), len(b))
		}
		copy(buf, b)
		return buf, nil
	}

	leaves := strings.Split(text, ",")
	n, err := fill(t, buf, leaves)
	if err != nil {
		return nil, err
	}
	if n != len(leaves) {
		return nil, fmt.Errorf("%s takes %d values, got %d", t, n, len(leaves))
	}
	return buf, nil
}

// fill parses leaves into dst and returns how many it consumed.
func fill(t *encoding.Type, dst []byte, leaves []string) (int, error) {
	switch t.Kind() {
	case encoding.KindStruct:
		used := 0
		for i := 0; i < t.NumFields(); i++ {
			f := t.Field(i)
			n, err := fill(f.Type, dst[f.Offset:f.Offset+f.Type.Size()], leaves[used:])
			if err != nil {
				return 0, err
			}
			used += n
		}
		return used, nil
	case encoding.KindArray:
		used := 0
		size := t.Elem().Size()
		for i := 0; i < t.Len(); i++ {
			n, err := fill(t.Elem(), dst[i*size:(i+1)*size], leaves[used:])
			if err != nil {
				return 0, err
			}
			used += n
		}
		return used, nil
	}
	if len(leaves) == 0 {
		return 0, fmt.Errorf("missing value for %s", t)
	}
	return 1, parseScalar(t, dst, strings.TrimSpace(leaves[0]))
}

func parseScalar(t *encoding.Type, dst []byte, s string) error {
	switch t.Kind() {
	case encoding.KindInt:
		v, err := strconv.ParseInt(s, 0, t.Size()*8)
		if err != nil {
			return fmt.Errorf("%s: %w", t, err)
		}
		putUint(dst, uint64(v))
	case encoding.KindUint:
		if t.Code() == 'B' {
			b, err := strconv.ParseBool(s)
			if err != nil {
				return fmt.Errorf("%s: %w", t, err)
			}
			if b {
				dst[0] = 1
			}
			return nil
		}
		v, err := strconv.ParseUint(s, 0, t.Size()*8)
		if err != nil {
			return fmt.Errorf("%s: %w", t, err)
		}
		putUint(dst, v)
	case encoding.KindFloat:
		switch t.Size() {
		case 4:
			v, err := strconv.ParseFloat(s, 32)
			if err != nil {
				return fmt.Errorf("%s: %w", t, err)
			}
			binary.NativeEndian.PutUint32(dst, math.Float32bits(float32(v)))
		case 8:
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return fmt.Errorf("%s: %w", t, err)
			}
			binary.NativeEndian.PutUint64(dst, math.Float64bits(v))
		default:
			return fmt.Errorf("long double %s cannot be entered", t)
		}
	case encoding.KindPointer, encoding.KindCString, encoding.KindObject:
		v, err := strconv.ParseUint(s, 0, t.Size()*8)
		if err != nil {
			return fmt.Errorf("%s: %w", t, err)
		}
		putUint(dst, v)
	default:
		return fmt.Errorf("cannot parse a %s value", t.Kind())
	}
	return nil
}

// formatValue renders the bytes of a t slot the way parseValue reads them.
func formatValue(t *encoding.Type, b []byte) string {
	switch t.Kind() {
	case encoding.KindVoid:
		return "void"
	case encoding.KindUnion:
		return "0x" + hex.EncodeToString(b)
	case encoding.KindStruct:
		parts := make([]string, t.NumFields())
		for i := range parts {
			f := t.Field(i)
			parts[i] = formatValue(f.Type, b[f.Offset:f.Offset+f.Type.Size()])
		}
		return strings.Join(parts, ",")
	case encoding.KindArray:
		size := t.Elem().Size()
		parts := make([]string, t.Len())
		for i := range parts {
			parts[i] = formatValue(t.Elem(), b[i*size:(i+1)*size])
		}
		return strings.Join(parts, ",")
	case encoding.KindInt:
		v := getUint(b)
		shift := 64 - 8*len(b)
		return strconv.FormatInt(int64(v<<shift)>>shift, 10)
	case encoding.KindUint:
		if t.Code() == 'B' {
			return strconv.FormatBool(b[0] != 0)
		}
		return strconv.FormatUint(getUint(b), 10)
	case encoding.KindFloat:
		switch len(b) {
		case 4:
			return strconv.FormatFloat(float64(math.Float32frombits(binary.NativeEndian.Uint32(b))), 'g', -1, 32)
		case 8:
			return strconv.FormatFloat(math.Float64frombits(binary.NativeEndian.Uint64(b)), 'g', -1, 64)
		}
		return "0x" + hex.EncodeToString(b)
	case encoding.KindPointer, encoding.KindCString, encoding.KindObject:
		return fmt.Sprintf("%#x", getUint(b))
	}
	return "0x" + hex.EncodeToString(b)
}

func putUint(dst []byte, v uint64) {
	switch len(dst) {
	case 1:
		dst[0] = byte(v)
	case 2:
		binary.NativeEndian.PutUint16(dst, uint16(v))
	case 4:
		binary.NativeEndian.PutUint32(dst, uint32(v))
	case 8:
		binary.NativeEndian.PutUint64(dst, v)
	}
}

func getUint(b []byte) uint64 {
	switch len(b) {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(binary.NativeEndian.Uint16(b))
	case 4:
		return uint64(binary.NativeEndian.Uint32(b))
	case 8:
		return binary.NativeEndian.Uint64(b)
	}
	return 0
}
