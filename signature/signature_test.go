package signature

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/wippyai/multicall/encoding"
	"github.com/wippyai/multicall/errors"
)

func mustParse(t *testing.T, enc string) *Signature {
	t.Helper()
	sig, err := ParseModel(enc, encoding.LP64)
	if err != nil {
		t.Fatalf("ParseModel(%q): %v", enc, err)
	}
	return sig
}

func TestSignature_Accessors(t *testing.T) {
	sig := mustParse(t, "{P=dd}36@?0c8^v12{P=dd}20")

	if sig.ArgumentCount() != 4 {
		t.Fatalf("ArgumentCount = %d, want 4", sig.ArgumentCount())
	}

	var sizes, offsets []int
	var encs []string
	for i := 0; i < sig.ArgumentCount(); i++ {
		sizes = append(sizes, sig.ArgumentSize(i))
		offsets = append(offsets, sig.ArgumentOffset(i))
		encs = append(encs, sig.ArgumentEncoding(i))
	}
	if diff := cmp.Diff([]int{8, 1, 8, 16}, sizes); diff != "" {
		t.Errorf("sizes (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{0, 8, 9, 17}, offsets); diff != "" {
		t.Errorf("offsets (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"@?", "c", "^v", "{P=dd}"}, encs); diff != "" {
		t.Errorf("encodings (-want +got):\n%s", diff)
	}

	if got := sig.FrameLength(); got != 33 {
		t.Errorf("FrameLength = %d, want 33", got)
	}
	if got := sig.StackSize(); got != 36 {
		t.Errorf("StackSize = %d, want 36", got)
	}
	if got := sig.ReturnSize(); got != 16 {
		t.Errorf("ReturnSize = %d, want 16", got)
	}
	if sig.ReturnIsObject() {
		t.Error("ReturnIsObject = true for a struct")
	}
	if !sig.ArgumentIsObject(0) || sig.ArgumentIsObject(1) {
		t.Error("ArgumentIsObject wrong for self or char")
	}
	if !sig.ArgumentIsPointer(2) || sig.ArgumentIsPointer(3) {
		t.Error("ArgumentIsPointer wrong")
	}
	if sig.Model().Name != encoding.LP64.Name {
		t.Errorf("Model = %s", sig.Model().Name)
	}
	if sig.String() != sig.Encoding() {
		t.Errorf("String %q != Encoding %q", sig.String(), sig.Encoding())
	}
}

func TestSignature_ArgumentBounds(t *testing.T) {
	sig := mustParse(t, "i12@?0i8")
	for _, i := range []int{-1, 2, 100} {
		if _, err := sig.Argument(i); !errors.Is(err, errors.ErrIndexOutOfRange) {
			t.Errorf("Argument(%d) err = %v, want IndexOutOfRange", i, err)
		}
	}
	arg, err := sig.Argument(1)
	if err != nil {
		t.Fatal(err)
	}
	if arg.Kind() != encoding.KindInt {
		t.Errorf("Argument(1) kind = %s", arg.Kind())
	}
}

func TestSignature_PointerWidthAtIndexTwo(t *testing.T) {
	sig, err := Parse("v@?i^v")
	if err != nil {
		t.Fatal(err)
	}
	arg, err := sig.Argument(2)
	if err != nil {
		t.Fatal(err)
	}
	if arg.Kind() != encoding.KindPointer {
		t.Errorf("kind = %s, want pointer", arg.Kind())
	}
	if sig.ArgumentSize(2) != encoding.Host.PointerSize {
		t.Errorf("size = %d, want %d", sig.ArgumentSize(2), encoding.Host.PointerSize)
	}
}

func TestSignature_Equal(t *testing.T) {
	base := mustParse(t, "i12@?0i8")
	tests := []struct {
		name     string
		enc      string
		equal    bool
		contains string
	}{
		{name: "identical", enc: "i12@?0i8", equal: true},
		{name: "qualifiers and no offsets", enc: "ri@?ri", equal: true},
		{name: "object vs block self", enc: "i12@0i8", equal: true},
		{name: "extra argument", enc: "i16@?0i8i12", contains: "argument count"},
		{name: "return size", enc: "q12@?0i8", contains: "return"},
		{name: "return signedness", enc: "I12@?0i8", contains: "return"},
		{name: "argument kind", enc: "i12@?0f8", contains: "argument 1"},
		{name: "argument size", enc: "i16@?0q8", contains: "argument 1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			other := mustParse(t, tt.enc)
			if got := base.Equal(other); got != tt.equal {
				t.Errorf("Equal = %v, want %v", got, tt.equal)
			}
			if got := other.Equal(base); got != tt.equal {
				t.Errorf("Equal is not symmetric")
			}
			msg := base.Mismatch(other)
			if tt.equal && msg != "" {
				t.Errorf("Mismatch = %q for equal signatures", msg)
			}
			if !tt.equal && !strings.Contains(msg, tt.contains) {
				t.Errorf("Mismatch = %q, want it to mention %q", msg, tt.contains)
			}
		})
	}
	if base.Equal(nil) {
		t.Error("Equal(nil) = true")
	}
}

func TestSignature_Malformed(t *testing.T) {
	if _, err := Parse("i12@?0i9"); !errors.Is(err, errors.ErrMalformedEncoding) {
		t.Errorf("err = %v, want MalformedEncoding", err)
	}
}
