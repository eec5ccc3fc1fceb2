package gen

import (
	"bytes"
	"go/parser"
	"go/token"
	"strings"
	"testing"

	"github.com/wippyai/multicall/errors"
)

func render(t *testing.T, opts Options) string {
	t.Helper()
	var buf bytes.Buffer
	if err := Render(&buf, opts); err != nil {
		t.Fatalf("Render(%+v): %v", opts, err)
	}
	src := buf.String()
	if _, err := parser.ParseFile(token.NewFileSet(), "gen.go", src, 0); err != nil {
		t.Fatalf("generated code does not parse: %v\n%s", err, src)
	}
	return src
}

func TestRender(t *testing.T) {
	tests := []struct {
		name string
		opts Options
		want []string
	}{
		{
			name: "scalar",
			opts: Options{Package: "calc", Name: "Adder", Encoding: "i@?i"},
			want: []string{
				"// Code generated by multicall gen. DO NOT EDIT.",
				"package calc",
				`const AdderEncoding = "i@?i"`,
				"type AdderFunc func(a1 int32) int32",
				"func NewAdder(name string, fn AdderFunc) (dispatch.Callable, error) {",
				"host.Wrap(name, fn)",
				"func NewAdderInvocation(cfg invocation.Config) (Adder, error) {",
				"func (x Adder) Call(ctx context.Context, a1 int32) ([]int32, error) {",
				"invocation.SetValue(x.Invocation, 1, a1)",
				"invocation.ReturnAs[int32](x.Invocation, i)",
			},
		},
		{
			name: "void",
			opts: Options{Name: "Notify", Encoding: "v@?@Bq"},
			want: []string{
				"package main",
				"type NotifyFunc func(a1 resource.Handle, a2 bool, a3 int64)",
				"func (x Notify) Call(ctx context.Context, a1 resource.Handle, a2 bool, a3 int64) error {",
			},
		},
		{
			name: "struct",
			opts: Options{Name: "Mirror", Encoding: `{Point="x"d"y"d}@?{Point="x"d"y"d}`},
			want: []string{
				"type MirrorPoint struct {",
				"X float64",
				"type MirrorFunc func(a1 MirrorPoint) MirrorPoint",
				"invocation.ReturnAs[MirrorPoint]",
			},
		},
		{
			name: "anonymous struct and array",
			opts: Options{Name: "Pack", Encoding: "v@?{?=ci}[4S]*"},
			want: []string{
				"type PackStruct1 struct {",
				"F0 int8",
				"F1 int32",
				"type PackFunc func(a1 PackStruct1, a2 [4]uint16, a3 uintptr)",
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := render(t, tt.opts)
			for _, w := range tt.want {
				if !strings.Contains(src, w) {
					t.Errorf("output lacks %q:\n%s", w, src)
				}
			}
		})
	}
}

func TestRender_SharedStructDeclaredOnce(t *testing.T) {
	src := render(t, Options{Name: "Mirror", Encoding: "{P=ff}@?{P=ff}{P=ff}"})
	if n := strings.Count(src, "type MirrorP struct"); n != 1 {
		t.Errorf("struct declared %d times:\n%s", n, src)
	}
}

func TestGenerate_Rejects(t *testing.T) {
	tests := []struct {
		name string
		opts Options
		want error
	}{
		{"unexported name", Options{Name: "adder", Encoding: "i@?i"}, &errors.Error{Kind: errors.KindInvalidInput}},
		{"empty name", Options{Encoding: "i@?i"}, &errors.Error{Kind: errors.KindInvalidInput}},
		{"malformed", Options{Name: "Bad", Encoding: "i@?{"}, errors.ErrMalformedEncoding},
		{"union", Options{Name: "U", Encoding: "v@?(U=id)"}, errors.ErrUnsupported},
		{"long double", Options{Name: "L", Encoding: "D@?"}, errors.ErrUnsupported},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Generate(tt.opts); !errors.Is(err, tt.want) {
				t.Errorf("Generate err = %v, want %v", err, tt.want)
			}
		})
	}
}
