package engine

import (
	"fmt"

	"github.com/tetratelabs/wazero/api"
	"go.bytecodealliance.org/wit"

	"github.com/wippyai/multicall/dispatch"
	"github.com/wippyai/multicall/encoding"
	"github.com/wippyai/multicall/errors"
	"github.com/wippyai/multicall/signature"
)

// EncodingForCore derives a signature encoding from an export's core type.
// The first parameter must be the i32 context; i32 maps to int, i64 to
// long long, f32 to float and f64 to double. Signedness is not part of a
// core type, so all integers come out signed.
func EncodingForCore(def api.FunctionDefinition) (string, error) {
	params := def.ParamTypes()
	if len(params) == 0 || params[0] != api.ValueTypeI32 {
		return "", errors.New(errors.PhaseAdmit, errors.KindSignatureMismatch).
			Detail("export %s does not take an i32 context as its first parameter", def.Name()).
			Build()
	}

	ret := "v"
	switch results := def.ResultTypes(); len(results) {
	case 0:
	case 1:
		tok, err := coreToken(results[0])
		if err != nil {
			return "", err
		}
		ret = tok
	default:
		return "", errors.Unsupported(errors.PhaseAdmit,
			fmt.Sprintf("export %s returns %d values", def.Name(), len(results)))
	}

	args := []string{"@?"}
	for _, p := range params[1:] {
		tok, err := coreToken(p)
		if err != nil {
			return "", err
		}
		args = append(args, tok)
	}
	return encoding.Build(ret, args...)
}

func coreToken(t api.ValueType) (string, error) {
	switch t {
	case api.ValueTypeI32:
		return "i", nil
	case api.ValueTypeI64:
		return "q", nil
	case api.ValueTypeF32:
		return "f", nil
	case api.ValueTypeF64:
		return "d", nil
	}
	return "", errors.Unsupported(errors.PhaseAdmit, fmt.Sprintf("no encoding for core type %s", api.ValueTypeName(t)))
}

// EncodingForWIT derives a signature encoding from WIT parameter and result
// types. Only types whose canonical ABI lowering is a single core value are
// accepted: primitives, char, enum, flags up to 32 members and resource
// handles. A leading context argument is added.
func EncodingForWIT(params, results []wit.Type) (string, error) {
	ret := "v"
	switch len(results) {
	case 0:
	case 1:
		tok, err := witToken(results[0], []string{"return"})
		if err != nil {
			return "", err
		}
		ret = tok
	default:
		return "", errors.Unsupported(errors.PhaseAdmit, fmt.Sprintf("%d results", len(results)))
	}

	args := []string{"@?"}
	for i, p := range params {
		tok, err := witToken(p, []string{"args", fmt.Sprint(i + 1)})
		if err != nil {
			return "", err
		}
		args = append(args, tok)
	}
	return encoding.Build(ret, args...)
}

func witToken(t wit.Type, path []string) (string, error) {
	switch v := t.(type) {
	case wit.Bool:
		return "B", nil
	case wit.U8:
		return "C", nil
	case wit.S8:
		return "c", nil
	case wit.U16:
		return "S", nil
	case wit.S16:
		return "s", nil
	case wit.U32, wit.Char:
		return "I", nil
	case wit.S32:
		return "i", nil
	case wit.U64:
		return "Q", nil
	case wit.S64:
		return "q", nil
	case wit.F32:
		return "f", nil
	case wit.F64:
		return "d", nil
	case *wit.TypeDef:
		return witTypeDefToken(v, path)
	}
	return "", errors.New(errors.PhaseAdmit, errors.KindUnsupported).
		Path(path...).
		Detail("WIT type %T does not lower to a single core value", t).
		Build()
}

func witTypeDefToken(t *wit.TypeDef, path []string) (string, error) {
	switch kind := t.Kind.(type) {
	case *wit.Enum:
		switch n := len(kind.Cases); {
		case n <= 1<<8:
			return "C", nil
		case n <= 1<<16:
			return "S", nil
		default:
			return "I", nil
		}
	case *wit.Flags:
		switch n := len(kind.Flags); {
		case n <= 8:
			return "C", nil
		case n <= 16:
			return "S", nil
		case n <= 32:
			return "I", nil
		}
	case *wit.Own, *wit.Borrow:
		return "@", nil
	case wit.Type:
		// alias
		return witToken(kind, path)
	}
	return "", errors.New(errors.PhaseAdmit, errors.KindUnsupported).
		Path(path...).
		Detail("WIT type %T does not lower to a single core value", t.Kind).
		Build()
}

// WITExport names an export together with its WIT function type.
type WITExport struct {
	Name    string
	Params  []wit.Type
	Results []wit.Type
}

// Introspector resolves export handles of one instance into callables.
// Handles may be an export name (typed from the core signature), a
// WITExport (typed from WIT) or an *Export.
type Introspector struct {
	Instance *WazeroInstance
	// Context is the context value given to every callable.
	Context uint64
}

var _ dispatch.Introspector = Introspector{}

func (in Introspector) Introspect(handle any) (dispatch.Callable, error) {
	if in.Instance == nil {
		return dispatch.Callable{}, errors.NotInitialized(errors.PhaseAdmit, "introspector instance")
	}
	switch h := handle.(type) {
	case string:
		return in.Instance.Callable(h, "", in.Context)
	case *Export:
		enc, err := EncodingForCore(h.def)
		if err != nil {
			return dispatch.Callable{}, err
		}
		sig, err := signature.Parse(enc)
		if err != nil {
			return dispatch.Callable{}, err
		}
		return dispatch.Callable{Entry: h, Context: in.Context, Signature: sig}, nil
	case WITExport:
		enc, err := EncodingForWIT(h.Params, h.Results)
		if err != nil {
			return dispatch.Callable{}, err
		}
		return in.Instance.Callable(h.Name, enc, in.Context)
	}
	return dispatch.Callable{}, errors.New(errors.PhaseAdmit, errors.KindInvalidInput).
		GoType(fmt.Sprintf("%T", handle)).
		Detail("not a wasm export handle").
		Build()
}
