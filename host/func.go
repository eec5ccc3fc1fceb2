package host

import (
	"fmt"
	"reflect"
	"runtime"

	"github.com/wippyai/multicall/dispatch"
	"github.com/wippyai/multicall/encoding"
	"github.com/wippyai/multicall/errors"
	"github.com/wippyai/multicall/signature"
)

// Func is an entry point backed by a Go function. Parameters receive
// arguments 1..n in order. When built with WrapWithContext the first
// parameter receives the callable's context from slot 0 instead.
//
// A trailing error result is returned from the call as is. Panics are not
// recovered.
type Func struct {
	fn          reflect.Value
	typ         reflect.Type
	name        string
	withContext bool
	errorResult bool
	hasResult   bool
}

var _ dispatch.EntryPoint = (*Func)(nil)

// Wrap builds an entry point for fn, which must be a non-variadic function
// with at most one result besides a trailing error.
func Wrap(name string, fn any) (*Func, error) {
	return wrap(name, fn, false)
}

// WrapWithContext is like Wrap but passes the context value to the first
// parameter, which must be pointer sized.
func WrapWithContext(name string, fn any) (*Func, error) {
	return wrap(name, fn, true)
}

// MustWrap is like Wrap but panics on error.
func MustWrap(name string, fn any) *Func {
	f, err := Wrap(name, fn)
	if err != nil {
		panic(err)
	}
	return f
}

func wrap(name string, fn any, withContext bool) (*Func, error) {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func || v.IsNil() {
		return nil, errors.New(errors.PhaseLoad, errors.KindInvalidInput).
			GoType(fmt.Sprintf("%T", fn)).
			Detail("expected a function").
			Build()
	}
	t := v.Type()
	if t.IsVariadic() {
		return nil, errors.Unsupported(errors.PhaseLoad, fmt.Sprintf("variadic function %s", t))
	}

	f := &Func{fn: v, typ: t, name: name, withContext: withContext}
	if name == "" {
		f.name = funcName(v)
	}

	outs := t.NumOut()
	if outs > 0 && t.Out(outs-1) == errorType {
		f.errorResult = true
		outs--
	}
	if outs > 1 {
		return nil, errors.Unsupported(errors.PhaseLoad, fmt.Sprintf("function %s has %d results", t, outs))
	}
	f.hasResult = outs == 1

	if withContext {
		if t.NumIn() == 0 {
			return nil, errors.InvalidInput(errors.PhaseLoad, "context function needs a context parameter")
		}
		k := t.In(0).Kind()
		if t.In(0).Size() != uintptr(encoding.Host.PointerSize) ||
			(k != reflect.Uintptr && k != reflect.Uint64 && k != reflect.Uint32 && k != reflect.UnsafePointer) {
			return nil, errors.New(errors.PhaseLoad, errors.KindInvalidInput).
				GoType(t.In(0).String()).
				Detail("context parameter must be a pointer-sized integer").
				Build()
		}
	}
	return f, nil
}

func funcName(v reflect.Value) string {
	if rf := runtime.FuncForPC(v.Pointer()); rf != nil {
		return rf.Name()
	}
	return "func"
}

func (f *Func) String() string { return f.name }

// Type returns the Go type of the wrapped function.
func (f *Func) Type() reflect.Type { return f.typ }

// params returns the parameter types that receive arguments 1..n.
func (f *Func) params() []reflect.Type {
	start := 0
	if f.withContext {
		start = 1
	}
	out := make([]reflect.Type, 0, f.typ.NumIn()-start)
	for i := start; i < f.typ.NumIn(); i++ {
		out = append(out, f.typ.In(i))
	}
	return out
}

func (f *Func) result() reflect.Type {
	if !f.hasResult {
		return nil
	}
	return f.typ.Out(0)
}

// Encoding derives the full-signature encoding from the Go types.
func (f *Func) Encoding() (string, error) {
	ret := "v"
	if rt := f.result(); rt != nil {
		var err error
		if ret, err = EncodingOf(rt); err != nil {
			return "", err
		}
	}
	args := []string{"@?"}
	for _, p := range f.params() {
		enc, err := EncodingOf(p)
		if err != nil {
			return "", err
		}
		args = append(args, enc)
	}
	return encoding.Build(ret, args...)
}

// Callable derives the signature and pairs it with ctx.
func (f *Func) Callable(ctx uint64) (dispatch.Callable, error) {
	enc, err := f.Encoding()
	if err != nil {
		return dispatch.Callable{}, err
	}
	sig, err := signature.Parse(enc)
	if err != nil {
		return dispatch.Callable{}, err
	}
	return dispatch.Callable{Entry: f, Context: ctx, Signature: sig}, nil
}

// check verifies that sig can be mapped onto the function's parameters.
func (f *Func) check(sig *signature.Signature) error {
	params := f.params()
	if len(params) != sig.ArgumentCount()-1 {
		return errors.SignatureMismatch("%s takes %d arguments, signature %s has %d",
			f.name, len(params), sig, sig.ArgumentCount()-1)
	}
	for i, p := range params {
		t, _ := sig.Argument(i + 1)
		if !compatible(p, t) {
			return errors.New(errors.PhaseAdmit, errors.KindSignatureMismatch).
				Path("args", fmt.Sprint(i+1)).
				GoType(p.String()).
				Encoding(t.String()).
				Detail("%s parameter does not match", f.name).
				Build()
		}
	}

	ret := sig.Return()
	rt := f.result()
	switch {
	case ret.Kind() == encoding.KindVoid && rt == nil:
	case ret.Kind() == encoding.KindVoid || rt == nil:
		return errors.SignatureMismatch("%s result does not match return %s", f.name, ret)
	case !compatible(rt, ret):
		return errors.New(errors.PhaseAdmit, errors.KindSignatureMismatch).
			Path("return").
			GoType(rt.String()).
			Encoding(ret.String()).
			Detail("%s result does not match", f.name).
			Build()
	}
	return nil
}

// call unpacks frame into Go values, calls the function and packs the
// result into ret.
func (f *Func) call(frame []byte, sig *signature.Signature, ret []byte) error {
	in := make([]reflect.Value, f.typ.NumIn())
	p := 0
	if f.withContext {
		in[0] = load(f.typ.In(0), frame[:sig.ArgumentSize(0)])
		p = 1
	}
	for i := 1; i < sig.ArgumentCount(); i++ {
		off := sig.ArgumentOffset(i)
		in[p] = load(f.typ.In(p), frame[off:off+sig.ArgumentSize(i)])
		p++
	}

	out := f.fn.Call(in)
	if f.errorResult {
		if e := out[len(out)-1]; !e.IsNil() {
			return e.Interface().(error)
		}
		out = out[:len(out)-1]
	}
	if len(out) == 1 {
		store(out[0], ret[:sig.ReturnSize()])
	}
	return nil
}
