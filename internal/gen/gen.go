// Package gen emits typed Go wrappers for one signature encoding.
//
// For a signature named Adder with encoding "i@?i" it writes:
//
//	const AdderEncoding = "i@?i"
//	type AdderFunc func(a1 int32) int32
//	func NewAdder(name string, fn AdderFunc) (dispatch.Callable, error)
//	type Adder struct{ *invocation.Invocation }
//	func NewAdderInvocation(cfg invocation.Config) (Adder, error)
//	func (x Adder) Call(ctx context.Context, a1 int32) ([]int32, error)
//
// Structs become named types; unions and long double have no Go
// equivalent and are rejected.
package gen

import (
	"fmt"
	"io"
	"strings"
	"unicode"

	"github.com/dave/jennifer/jen"

	"github.com/wippyai/multicall/encoding"
	"github.com/wippyai/multicall/errors"
	"github.com/wippyai/multicall/signature"
)

const (
	modPath         = "github.com/wippyai/multicall"
	dispatchPkg     = modPath + "/dispatch"
	hostPkg         = modPath + "/host"
	invocationPkg   = modPath + "/invocation"
	resourcePkg     = modPath + "/resource"
	generatedNotice = "Code generated by multicall gen. DO NOT EDIT."
)

// Options selects what to generate.
type Options struct {
	// Package is the package clause of the output file.
	Package string
	// Name is the exported base name of the generated declarations.
	Name string
	// Encoding is the full-signature encoding, self argument included.
	Encoding string
}

type generator struct {
	name    string
	sig     *signature.Signature
	structs map[string]string
	decls   []jen.Code
}

// Generate builds the wrapper file.
func Generate(opts Options) (*jen.File, error) {
	if opts.Package == "" {
		opts.Package = "main"
	}
	if !isIdent(opts.Name) || !unicode.IsUpper([]rune(opts.Name)[0]) {
		return nil, errors.InvalidInput(errors.PhaseLoad, fmt.Sprintf("%q is not an exported Go identifier", opts.Name))
	}
	sig, err := signature.Parse(opts.Encoding)
	if err != nil {
		return nil, err
	}
	g := &generator{name: opts.Name, sig: sig, structs: map[string]string{}}

	params := make([]jen.Code, 0, sig.ArgumentCount()-1)
	sets := make([]jen.Code, 0, sig.ArgumentCount()-1)
	for i := 1; i < sig.ArgumentCount(); i++ {
		t, _ := sig.Argument(i)
		gt, err := g.goType(t, []string{"args", fmt.Sprint(i)})
		if err != nil {
			return nil, err
		}
		arg := fmt.Sprintf("a%d", i)
		params = append(params, jen.Id(arg).Add(gt))
		sets = append(sets, jen.If(
			jen.Err().Op(":=").Qual(invocationPkg, "SetValue").Call(jen.Id("x").Dot("Invocation"), jen.Lit(i), jen.Id(arg)),
			jen.Err().Op("!=").Nil(),
		).Block(jen.Return(g.zeroResults()...)))
	}
	var ret *jen.Statement
	if sig.Return().Kind() != encoding.KindVoid {
		if ret, err = g.goType(sig.Return(), []string{"return"}); err != nil {
			return nil, err
		}
	}

	f := jen.NewFile(opts.Package)
	f.HeaderComment(generatedNotice)

	f.Commentf("%sEncoding is the signature encoding of %s callables.", g.name, g.name)
	f.Const().Id(g.name + "Encoding").Op("=").Lit(opts.Encoding)
	for _, d := range g.decls {
		f.Add(d)
	}

	funcType := jen.Func().Params(params...)
	if ret != nil {
		funcType.Add(ret.Clone())
	}
	f.Commentf("%sFunc is the Go shape of %s callables.", g.name, g.name)
	f.Type().Id(g.name + "Func").Add(funcType)

	f.Commentf("New%s wraps fn as a callable with the %s signature.", g.name, g.name)
	f.Func().Id("New"+g.name).Params(jen.Id("name").String(), jen.Id("fn").Id(g.name+"Func")).
		Params(jen.Qual(dispatchPkg, "Callable"), jen.Error()).
		Block(
			jen.List(jen.Id("f"), jen.Err()).Op(":=").Qual(hostPkg, "Wrap").Call(jen.Id("name"), jen.Id("fn")),
			jen.If(jen.Err().Op("!=").Nil()).Block(jen.Return(jen.Qual(dispatchPkg, "Callable").Values(), jen.Err())),
			jen.Return(jen.Qual(dispatchPkg, "NewCallable").Call(jen.Id("f"), jen.Lit(0), jen.Id(g.name+"Encoding"))),
		)

	f.Commentf("%s is an invocation of %s callables with typed arguments and results.", g.name, g.name)
	f.Type().Id(g.name).Struct(jen.Op("*").Qual(invocationPkg, "Invocation"))

	f.Commentf("New%sInvocation creates an empty %s invocation.", g.name, g.name)
	f.Func().Id("New"+g.name+"Invocation").Params(jen.Id("cfg").Qual(invocationPkg, "Config")).
		Params(jen.Id(g.name), jen.Error()).
		Block(
			jen.List(jen.Id("inv"), jen.Err()).Op(":=").Qual(invocationPkg, "NewWithEncoding").Call(jen.Id(g.name+"Encoding"), jen.Id("cfg")),
			jen.If(jen.Err().Op("!=").Nil()).Block(jen.Return(jen.Id(g.name).Values(), jen.Err())),
			jen.Return(jen.Id(g.name).Values(jen.Id("inv")), jen.Nil()),
		)

	if err := g.call(f, params, sets, ret); err != nil {
		return nil, err
	}
	return f, nil
}

func (g *generator) zeroResults() []jen.Code {
	if g.sig.Return().Kind() == encoding.KindVoid {
		return []jen.Code{jen.Err()}
	}
	return []jen.Code{jen.Nil(), jen.Err()}
}

func (g *generator) call(f *jen.File, params, sets []jen.Code, ret *jen.Statement) error {
	body := []jen.Code{}
	body = append(body, sets...)
	body = append(body, jen.If(
		jen.Err().Op(":=").Id("x").Dot("Invoke").Call(jen.Id("ctx")),
		jen.Err().Op("!=").Nil(),
	).Block(jen.Return(g.zeroResults()...)))

	allParams := append([]jen.Code{jen.Id("ctx").Qual("context", "Context")}, params...)
	if ret == nil {
		f.Comment("Call sets the arguments and invokes every callable.")
		body = append(body, jen.Return(jen.Nil()))
		f.Func().Params(jen.Id("x").Id(g.name)).Id("Call").Params(allParams...).Error().Block(body...)
		return nil
	}

	body = append(body,
		jen.Id("out").Op(":=").Make(jen.Index().Add(ret.Clone()), jen.Id("x").Dot("CallableCount").Call()),
		jen.For(jen.Id("i").Op(":=").Range().Id("out")).Block(
			jen.List(jen.Id("v"), jen.Err()).Op(":=").Qual(invocationPkg, "ReturnAs").Types(ret.Clone()).Call(jen.Id("x").Dot("Invocation"), jen.Id("i")),
			jen.If(jen.Err().Op("!=").Nil()).Block(jen.Return(jen.Nil(), jen.Err())),
			jen.Id("out").Index(jen.Id("i")).Op("=").Id("v"),
		),
		jen.Return(jen.Id("out"), jen.Nil()),
	)
	f.Comment("Call sets the arguments, invokes every callable and returns their results in call order.")
	f.Func().Params(jen.Id("x").Id(g.name)).Id("Call").Params(allParams...).
		Params(jen.Index().Add(ret.Clone()), jen.Error()).
		Block(body...)
	return nil
}

func (g *generator) goType(t *encoding.Type, path []string) (*jen.Statement, error) {
	switch t.Kind() {
	case encoding.KindInt:
		return jen.Id(fmt.Sprintf("int%d", t.Size()*8)), nil
	case encoding.KindUint:
		if t.Code() == 'B' {
			return jen.Bool(), nil
		}
		return jen.Id(fmt.Sprintf("uint%d", t.Size()*8)), nil
	case encoding.KindFloat:
		switch t.Size() {
		case 4:
			return jen.Float32(), nil
		case 8:
			return jen.Float64(), nil
		}
	case encoding.KindPointer, encoding.KindCString:
		return jen.Uintptr(), nil
	case encoding.KindObject:
		return jen.Qual(resourcePkg, "Handle"), nil
	case encoding.KindArray:
		elem, err := g.goType(t.Elem(), path)
		if err != nil {
			return nil, err
		}
		return jen.Index(jen.Lit(t.Len())).Add(elem), nil
	case encoding.KindStruct:
		return g.structType(t, path)
	}
	return nil, errors.New(errors.PhaseLoad, errors.KindUnsupported).
		Path(path...).
		Encoding(t.String()).
		Detail("no Go type for %s", t.Kind()).
		Build()
}

// structType declares a named Go struct for t once and refers to it.
func (g *generator) structType(t *encoding.Type, path []string) (*jen.Statement, error) {
	if name, ok := g.structs[t.String()]; ok {
		return jen.Id(name), nil
	}
	if t.NumFields() == 0 {
		return nil, errors.New(errors.PhaseLoad, errors.KindUnsupported).
			Path(path...).
			Encoding(t.String()).
			Detail("struct without members").
			Build()
	}
	name := g.name + exported(t.Name())
	if name == g.name {
		name = fmt.Sprintf("%sStruct%d", g.name, len(g.structs)+1)
	}
	g.structs[t.String()] = name

	fields := make([]jen.Code, t.NumFields())
	for i := range fields {
		f := t.Field(i)
		ft, err := g.goType(f.Type, append(path, fmt.Sprint(i)))
		if err != nil {
			return nil, err
		}
		fname := exported(f.Name)
		if fname == "" {
			fname = fmt.Sprintf("F%d", i)
		}
		fields[i] = jen.Id(fname).Add(ft)
	}
	g.decls = append(g.decls,
		jen.Commentf("%s mirrors the C struct %s.", name, t),
		jen.Type().Id(name).Struct(fields...),
	)
	return jen.Id(name), nil
}

// Render writes the generated file to w.
func Render(w io.Writer, opts Options) error {
	f, err := Generate(opts)
	if err != nil {
		return err
	}
	return f.Render(w)
}

func exported(s string) string {
	if !isIdent(s) {
		return ""
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func isIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if r == '_' || unicode.IsLetter(r) || (i > 0 && unicode.IsDigit(r)) {
			continue
		}
		return false
	}
	return true
}
