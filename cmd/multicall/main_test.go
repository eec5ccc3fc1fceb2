package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/wippyai/multicall/encoding"
	"github.com/wippyai/multicall/internal/wasmbuild"
)

func classify(t *testing.T, tok string) *encoding.Type {
	t.Helper()
	typ, err := encoding.NewParser(encoding.Host).Classify(tok)
	if err != nil {
		t.Fatalf("Classify(%q): %v", tok, err)
	}
	return typ
}

func TestParseValue(t *testing.T) {
	tests := []struct {
		tok  string
		text string
		want string
	}{
		{"i", "-7", "-7"},
		{"c", "0x7f", "127"},
		{"S", "65535", "65535"},
		{"B", "true", "true"},
		{"f", "1.5", "1.5"},
		{"d", "-0.25", "-0.25"},
		{"^v", "0x1000", "0x1000"},
		{"{Point=dd}", "1, 2.5", "1,2.5"},
		{"{?=c[2s]}", "1,2,3", "1,2,3"},
		{"(U=id)", "0x0102", "0x0102000000000000"},
	}
	for _, tt := range tests {
		t.Run(tt.tok, func(t *testing.T) {
			typ := classify(t, tt.tok)
			b, err := parseValue(typ, tt.text)
			if err != nil {
				t.Fatal(err)
			}
			if len(b) != typ.Size() {
				t.Fatalf("%d bytes for a %d-byte type", len(b), typ.Size())
			}
			if got := formatValue(typ, b); got != tt.want {
				t.Errorf("formatValue = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseValue_Rejects(t *testing.T) {
	tests := []struct {
		tok  string
		text string
	}{
		{"c", "300"},
		{"I", "-1"},
		{"B", "maybe"},
		{"{Point=dd}", "1"},
		{"{Point=dd}", "1,2,3"},
		{"D", "1"},
		{"(U=ii)", "0x0102030405"},
	}
	for _, tt := range tests {
		t.Run(tt.tok+"/"+tt.text, func(t *testing.T) {
			if _, err := parseValue(classify(t, tt.tok), tt.text); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestNewInvocation(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "demo.wasm")
	if err := os.WriteFile(path, wasmbuild.Demo(true), 0o644); err != nil {
		t.Fatal(err)
	}
	inst, done, err := loadInstance(ctx, path, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer done()

	tests := []struct {
		name string
		enc  string
		args []string
		want []string
	}{
		{"core types", "", []string{"3"}, []string{"6", "9"}},
		{"explicit encoding", "i@?i", []string{"-4"}, []string{"-8", "16"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv, err := newInvocation(inst, []string{"double", "square"}, tt.enc)
			if err != nil {
				t.Fatal(err)
			}
			defer inv.Close()
			if err := setArguments(inv, tt.args); err != nil {
				t.Fatal(err)
			}
			if err := inv.Invoke(ctx); err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(tt.want, formatReturns(inv)); diff != "" {
				t.Errorf("returns (-want +got):\n%s", diff)
			}
		})
	}

	inv, err := newInvocation(inst, []string{"double"}, "")
	if err != nil {
		t.Fatal(err)
	}
	if err := setArguments(inv, nil); err == nil {
		t.Error("missing arguments accepted")
	}
	if _, err := newInvocation(inst, []string{"double", "addWide"}, ""); err == nil {
		t.Error("exports with different shapes combined")
	}
	if _, err := newInvocation(inst, []string{"missing"}, ""); err == nil {
		t.Error("missing export accepted")
	}
}

func TestInspectCommand(t *testing.T) {
	cmd := &inspectCommand{Model: "wasm32", Selector: true}
	cmd.Args.Encodings = []string{"i@?i", "{P=dd}@?{P=dd}"}
	if err := cmd.Execute(nil); err != nil {
		t.Fatal(err)
	}
	cmd.Args.Encodings = []string{"i@?{"}
	if err := cmd.Execute(nil); err == nil {
		t.Error("malformed encoding accepted")
	}
}
