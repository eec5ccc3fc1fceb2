//go:build cgo && libffi && linux

package ffi

import (
	"context"
	"encoding/binary"
	"math"
	"os"
	"testing"
	"unsafe"

	"github.com/wippyai/multicall/dispatch"
	"github.com/wippyai/multicall/encoding"
	"github.com/wippyai/multicall/errors"
	"github.com/wippyai/multicall/signature"
)

func openLib(t *testing.T, path string) *Library {
	t.Helper()
	lib, err := Open(path)
	if err != nil {
		t.Skipf("cannot open %q: %v", path, err)
	}
	t.Cleanup(func() { lib.Close() })
	return lib
}

func call(t *testing.T, conv *Convention, c dispatch.Callable, args ...[]byte) []byte {
	t.Helper()
	if err := conv.Check(c); err != nil {
		t.Fatalf("Check(%s): %v", c.Entry, err)
	}
	sig := c.Signature
	frame := make([]byte, sig.FrameLength())
	dispatch.PutContext(frame[:sig.ArgumentSize(0)], c.Context)
	for i, a := range args {
		copy(frame[sig.ArgumentOffset(i+1):], a)
	}
	ret := make([]byte, sig.ReturnSize())
	if err := conv.PerformCall(context.Background(), c.Entry, frame, sig, ret); err != nil {
		t.Fatalf("PerformCall(%s): %v", c.Entry, err)
	}
	return ret
}

func f64(v float64) []byte {
	return binary.NativeEndian.AppendUint64(nil, math.Float64bits(v))
}

func i64(v int64) []byte {
	return binary.NativeEndian.AppendUint64(nil, uint64(v))
}

func TestConvention_ContextIsFirstArgument(t *testing.T) {
	conv := NewConvention()
	defer conv.Close()
	libc := openLib(t, "libc.so.6")

	// labs(long) sees the context value.
	neg := int64(-42)
	c, err := libc.Callable("labs", "q@?", uint64(neg))
	if err != nil {
		t.Fatal(err)
	}
	if got := int64(binary.NativeEndian.Uint64(call(t, conv, c))); got != 42 {
		t.Errorf("labs(ctx) = %d, want 42", got)
	}

	pid, err := libc.Callable("getpid", "i@?", 0)
	if err != nil {
		t.Fatal(err)
	}
	if got := int32(binary.NativeEndian.Uint32(call(t, conv, pid))); int(got) != os.Getpid() {
		t.Errorf("getpid = %d, want %d", got, os.Getpid())
	}
}

func TestConvention_FloatArguments(t *testing.T) {
	conv := NewConvention()
	defer conv.Close()
	libm := openLib(t, "libm.so.6")

	// Floating point arguments travel in their own registers, so the
	// context in the first integer register does not disturb them.
	c, err := libm.Callable("sqrt", "d@?d", 0)
	if err != nil {
		t.Fatal(err)
	}
	got := math.Float64frombits(binary.NativeEndian.Uint64(call(t, conv, c, f64(6.25))))
	if got != 2.5 {
		t.Errorf("sqrt(6.25) = %v", got)
	}
}

func TestConvention_StructReturn(t *testing.T) {
	conv := NewConvention()
	defer conv.Close()
	libc := openLib(t, "libc.so.6")

	// ldiv(numer, denom) returns ldiv_t{quot, rem}; the context is numer.
	c, err := libc.Callable("ldiv", "{?=qq}@?q", 17)
	if err != nil {
		t.Fatal(err)
	}
	ret := call(t, conv, c, i64(5))
	quot := int64(binary.NativeEndian.Uint64(ret[0:]))
	rem := int64(binary.NativeEndian.Uint64(ret[8:]))
	if quot != 3 || rem != 2 {
		t.Errorf("ldiv(17, 5) = {%d, %d}, want {3, 2}", quot, rem)
	}
}

func TestConvention_SmallIntegerReturn(t *testing.T) {
	conv := NewConvention()
	defer conv.Close()
	libc := openLib(t, "libc.so.6")

	// toupper(int) with the character as the context.
	c, err := libc.Callable("toupper", "C@?", 'a')
	if err != nil {
		t.Fatal(err)
	}
	if got := call(t, conv, c); got[0] != 'A' {
		t.Errorf("toupper('a') = %q", got[0])
	}
}

// abc lives in a package variable so its address stays put while C reads it.
var abc = [4]byte{'a', 'b', 'c', 0}

func TestConvention_ArrayArgumentByAddress(t *testing.T) {
	conv := NewConvention()
	defer conv.Close()
	libc := openLib(t, "libc.so.6")

	// strcmp(ctx, arr): a char[4] parameter is a pointer to its first
	// element, so both sides compare the same text.
	c, err := libc.Callable("strcmp", "i@?[4c]", uint64(uintptr(unsafe.Pointer(&abc[0]))))
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		arr  []byte
		sign int
	}{
		{[]byte("abc\x00"), 0},
		{[]byte("abd\x00"), -1},
		{[]byte("ab\x00\x00"), 1},
	}
	for _, tt := range tests {
		got := int32(binary.NativeEndian.Uint32(call(t, conv, c, tt.arr)))
		sign := 0
		switch {
		case got < 0:
			sign = -1
		case got > 0:
			sign = 1
		}
		if sign != tt.sign {
			t.Errorf("strcmp(%q, %q) = %d, want sign %d", abc[:3], tt.arr, got, tt.sign)
		}
	}
}

func TestUnsupported_DetailVerbatim(t *testing.T) {
	typ, err := encoding.Classify("i")
	if err != nil {
		t.Fatal(err)
	}
	err = unsupported(typ, []string{"args", "1"}, "100% opaque %d")
	var e *errors.Error
	if !errors.As(err, &e) {
		t.Fatalf("error %T is not *errors.Error", err)
	}
	if e.Detail != "100% opaque %d" {
		t.Errorf("detail = %q", e.Detail)
	}
}

func TestLibrary_Errors(t *testing.T) {
	if _, err := Open("/nonexistent/libnothing.so"); !errors.Is(err, &errors.Error{Kind: errors.KindNotFound}) {
		t.Errorf("Open err = %v", err)
	}

	lib := openLib(t, "libc.so.6")
	if _, err := lib.Symbol("no_such_symbol_here"); !errors.Is(err, &errors.Error{Kind: errors.KindNotFound}) {
		t.Errorf("Symbol err = %v", err)
	}

	s, err := lib.Symbol("getpid")
	if err != nil {
		t.Fatal(err)
	}
	if s.String() != "c:getpid" || s.Name() != "getpid" {
		t.Errorf("symbol metadata %s %s", s, s.Name())
	}

	lib.Close()
	if _, err := lib.Symbol("getpid"); !errors.Is(err, errors.ErrNotInitialized) {
		t.Errorf("Symbol after Close err = %v", err)
	}
	c, _ := dispatch.NewCallable(s, 0, "i@?")
	conv := NewConvention()
	defer conv.Close()
	frame := make([]byte, c.Signature.FrameLength())
	if err := conv.PerformCall(context.Background(), s, frame, c.Signature, make([]byte, 4)); !errors.Is(err, errors.ErrNotInitialized) {
		t.Errorf("call after Close err = %v", err)
	}
}

func TestConvention_Check(t *testing.T) {
	conv := NewConvention()
	defer conv.Close()
	lib := openLib(t, "libc.so.6")
	s, err := lib.Symbol("getpid")
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		enc string
		ok  bool
	}{
		{"i@?", true},
		{"v@?{?=ci}[4s](U=id)", true},
		{"D@?D", true},
		{"v@?{?=[2d]i}", true},
	}
	for _, tt := range tests {
		t.Run(tt.enc, func(t *testing.T) {
			c, err := dispatch.NewCallable(s, 0, tt.enc)
			if err != nil {
				t.Fatal(err)
			}
			err = conv.Check(c)
			if (err == nil) != tt.ok {
				t.Errorf("Check(%q) = %v, want ok=%v", tt.enc, err, tt.ok)
			}
		})
	}

	wasm, err := signature.ParseModel("i@?", encoding.Wasm32)
	if err != nil {
		t.Fatal(err)
	}
	err = conv.Check(dispatch.Callable{Entry: s, Signature: wasm})
	if !errors.Is(err, errors.ErrUnsupported) {
		t.Errorf("Check with a wasm32 signature err = %v", err)
	}
}
