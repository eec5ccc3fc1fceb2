package host

import (
	"context"
	"encoding/binary"
	stderrors "errors"
	"math"
	"reflect"
	"testing"
	"unsafe"

	"github.com/wippyai/multicall/dispatch"
	"github.com/wippyai/multicall/errors"
	"github.com/wippyai/multicall/resource"
	"github.com/wippyai/multicall/signature"
)

type Point struct {
	X, Y float64
}

type Mixed struct {
	Tag   int8
	Count int32
	Big   int64
}

func TestEncodingOf(t *testing.T) {
	intTok := "i"
	if unsafe.Sizeof(int(0)) == 8 {
		intTok = "q"
	}
	tests := []struct {
		value any
		want  string
	}{
		{true, "B"},
		{int8(0), "c"},
		{uint8(0), "C"},
		{int16(0), "s"},
		{uint16(0), "S"},
		{int32(0), "i"},
		{uint32(0), "I"},
		{int64(0), "q"},
		{uint64(0), "Q"},
		{int(0), intTok},
		{float32(0), "f"},
		{float64(0), "d"},
		{uintptr(0), "^v"},
		{unsafe.Pointer(nil), "^v"},
		{resource.Handle(0), "@"},
		{(*byte)(nil), "*"},
		{(*int32)(nil), "^i"},
		{(*func())(nil), "^v"},
		{[4]int16{}, "[4s]"},
		{Point{}, "{Point=dd}"},
		{struct{ A, B int32 }{}, "{?=ii}"},
		{Mixed{}, "{Mixed=ciq}"},
	}
	for _, tt := range tests {
		t.Run(reflect.TypeOf(tt.value).String(), func(t *testing.T) {
			got, err := EncodingOf(reflect.TypeOf(tt.value))
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("EncodingOf = %q, want %q", got, tt.want)
			}
		})
	}

	for _, bad := range []any{"s", []int{}, map[string]int{}, func() {}, complex64(0), struct{ _ int32 }{}} {
		if _, err := EncodingOf(reflect.TypeOf(bad)); !errors.Is(err, errors.ErrUnsupported) {
			t.Errorf("EncodingOf(%T) err = %v, want Unsupported", bad, err)
		}
	}
}

func TestWrap_Rejects(t *testing.T) {
	tests := []struct {
		name string
		fn   any
		ctx  bool
	}{
		{name: "not a function", fn: 42},
		{name: "nil function", fn: (func())(nil)},
		{name: "variadic", fn: func(xs ...int32) {}},
		{name: "two results", fn: func() (int32, int32) { return 0, 0 }},
		{name: "context without params", fn: func() {}, ctx: true},
		{name: "context wrong type", fn: func(x float64) {}, ctx: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var err error
			if tt.ctx {
				_, err = WrapWithContext(tt.name, tt.fn)
			} else {
				_, err = Wrap(tt.name, tt.fn)
			}
			if err == nil {
				t.Fatal("Wrap succeeded")
			}
		})
	}
}

func TestFunc_Encoding(t *testing.T) {
	tests := []struct {
		fn   any
		ctx  bool
		want string
	}{
		{fn: func(x int32) int32 { return x }, want: "i12@?0i8"},
		{fn: func() {}, want: "v8@?0"},
		{fn: func(p Point) (Point, error) { return p, nil }, want: "{Point=dd}24@?0{Point=dd}8"},
		{fn: func() error { return nil }, want: "v8@?0"},
		{fn: func(self uintptr, x float64) float64 { return x }, ctx: true, want: "d16@?0d8"},
	}
	if unsafe.Sizeof(uintptr(0)) != 8 {
		t.Skip("expected offsets assume a 64-bit host")
	}
	for _, tt := range tests {
		var f *Func
		var err error
		if tt.ctx {
			f, err = WrapWithContext("f", tt.fn)
		} else {
			f, err = Wrap("f", tt.fn)
		}
		if err != nil {
			t.Fatal(err)
		}
		got, err := f.Encoding()
		if err != nil {
			t.Fatal(err)
		}
		if got != tt.want {
			t.Errorf("Encoding(%s) = %q, want %q", f.Type(), got, tt.want)
		}
	}
}

func TestConvention_Check(t *testing.T) {
	conv := NewConvention()
	sig := mustSig(t, "i@?i")

	tests := []struct {
		name string
		fn   any
		ok   bool
	}{
		{name: "exact", fn: func(x int32) int32 { return x }, ok: true},
		{name: "with error", fn: func(x int32) (int32, error) { return x, nil }, ok: true},
		{name: "unsigned param", fn: func(x uint32) int32 { return 0 }},
		{name: "wide param", fn: func(x int64) int32 { return 0 }},
		{name: "float param", fn: func(x float32) int32 { return 0 }},
		{name: "extra param", fn: func(x, y int32) int32 { return 0 }},
		{name: "void result", fn: func(x int32) {}},
		{name: "wrong result", fn: func(x int32) uint32 { return 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := MustWrap(tt.name, tt.fn)
			err := conv.Check(dispatch.Callable{Entry: f, Signature: sig})
			if tt.ok && err != nil {
				t.Fatalf("Check: %v", err)
			}
			if !tt.ok && !errors.Is(err, errors.ErrSignatureMismatch) {
				t.Fatalf("Check err = %v, want SignatureMismatch", err)
			}
		})
	}

	voidSig := mustSig(t, "v@?i")
	if err := conv.Check(dispatch.Callable{Entry: MustWrap("v", func(int32) error { return nil }), Signature: voidSig}); err != nil {
		t.Errorf("void with error result: %v", err)
	}
	if err := conv.Check(dispatch.Callable{Entry: MustWrap("r", func(int32) int32 { return 0 }), Signature: voidSig}); err == nil {
		t.Error("result accepted for a void signature")
	}
}

func TestConvention_DoubleAndSquare(t *testing.T) {
	conv := NewConvention()
	sig := mustSig(t, "i@?i")
	double := MustWrap("double", func(x int32) int32 { return 2 * x })
	square := MustWrap("square", func(x int32) int32 { return x * x })

	frame := make([]byte, sig.FrameLength())
	binary.NativeEndian.PutUint32(frame[sig.ArgumentOffset(1):], 3)

	for _, tt := range []struct {
		f    *Func
		want int32
	}{{double, 6}, {square, 9}} {
		ret := make([]byte, sig.ReturnSize())
		if err := conv.PerformCall(context.Background(), tt.f, frame, sig, ret); err != nil {
			t.Fatal(err)
		}
		if got := int32(binary.NativeEndian.Uint32(ret)); got != tt.want {
			t.Errorf("%s(3) = %d, want %d", tt.f, got, tt.want)
		}
	}
}

func TestConvention_Aggregates(t *testing.T) {
	conv := NewConvention()
	f := MustWrap("mirror", func(p Point, scale float64) Point {
		return Point{X: p.Y * scale, Y: p.X * scale}
	})
	c, err := f.Callable(0)
	if err != nil {
		t.Fatal(err)
	}
	if err := conv.Check(c); err != nil {
		t.Fatal(err)
	}
	sig := c.Signature

	frame := make([]byte, sig.FrameLength())
	off := sig.ArgumentOffset(1)
	binary.NativeEndian.PutUint64(frame[off:], math.Float64bits(1.5))
	binary.NativeEndian.PutUint64(frame[off+8:], math.Float64bits(-2))
	binary.NativeEndian.PutUint64(frame[sig.ArgumentOffset(2):], math.Float64bits(2))

	ret := make([]byte, sig.ReturnSize())
	if err := conv.PerformCall(context.Background(), f, frame, sig, ret); err != nil {
		t.Fatal(err)
	}
	x := math.Float64frombits(binary.NativeEndian.Uint64(ret))
	y := math.Float64frombits(binary.NativeEndian.Uint64(ret[8:]))
	if x != -4 || y != 3 {
		t.Errorf("mirror = (%v, %v), want (-4, 3)", x, y)
	}
}

func TestConvention_ContextAndErrors(t *testing.T) {
	conv := NewConvention()
	sig := mustSig(t, "Q@?i")
	boom := stderrors.New("boom")

	f, err := WrapWithContext("ctx", func(self uintptr, x int32) (uint64, error) {
		if x < 0 {
			return 0, boom
		}
		return uint64(self) + uint64(x), nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := conv.Check(dispatch.Callable{Entry: f, Signature: sig}); err != nil {
		t.Fatal(err)
	}

	frame := make([]byte, sig.FrameLength())
	dispatch.PutContext(frame[:sig.ArgumentSize(0)], 1000)
	binary.NativeEndian.PutUint32(frame[sig.ArgumentOffset(1):], 7)

	ret := make([]byte, 8)
	if err := conv.PerformCall(context.Background(), f, frame, sig, ret); err != nil {
		t.Fatal(err)
	}
	if got := binary.NativeEndian.Uint64(ret); got != 1007 {
		t.Errorf("result = %d, want 1007", got)
	}

	binary.NativeEndian.PutUint32(frame[sig.ArgumentOffset(1):], uint32(0xffffffff))
	if err := conv.PerformCall(context.Background(), f, frame, sig, ret); err != boom {
		t.Errorf("err = %v, want the function's error unchanged", err)
	}
}

func TestConvention_PanicPropagates(t *testing.T) {
	conv := NewConvention()
	sig := mustSig(t, "v@?")
	f := MustWrap("panics", func() { panic("kaboom") })

	defer func() {
		if r := recover(); r != "kaboom" {
			t.Errorf("recovered %v, want kaboom", r)
		}
	}()
	conv.PerformCall(context.Background(), f, make([]byte, sig.FrameLength()), sig, nil)
	t.Fatal("panic was swallowed")
}

func TestIntrospector(t *testing.T) {
	c, err := Introspector{}.Introspect(func(a, b int32) int32 { return a + b })
	if err != nil {
		t.Fatal(err)
	}
	if c.Signature.ArgumentCount() != 3 || c.Signature.ReturnSize() != 4 {
		t.Errorf("derived signature %s", c.Signature)
	}
	if _, ok := c.Entry.(*Func); !ok {
		t.Errorf("entry is %T", c.Entry)
	}

	if _, err := (Introspector{}).Introspect("nope"); err == nil {
		t.Error("string handle introspected")
	}
	if _, err := (Introspector{}).Introspect(nil); err == nil {
		t.Error("nil handle introspected")
	}
}

func mustSig(t *testing.T, enc string) *signature.Signature {
	t.Helper()
	sig, err := signature.Parse(enc)
	if err != nil {
		t.Fatal(err)
	}
	return sig
}
