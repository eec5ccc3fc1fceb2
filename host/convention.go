// Package host calls Go functions through packed argument frames.
//
// Each frame slot is copied into a freshly allocated value of the matching
// parameter type, the function is called through reflect, and its result is
// copied back out byte for byte. Go and C agree on the layout of every type
// EncodingOf accepts, so no conversion is needed beyond the copy.
//
// Pointer and object slots are plain integers in the frame. Functions that
// take Go pointers must only be handed memory the Go runtime does not move
// or collect, exactly as with cgo.
package host

import (
	"context"
	"fmt"
	"reflect"

	"github.com/wippyai/multicall/dispatch"
	"github.com/wippyai/multicall/errors"
	"github.com/wippyai/multicall/signature"
)

// Convention dispatches to *Func entry points.
type Convention struct{}

var _ dispatch.Convention = (*Convention)(nil)

// NewConvention creates the Go function convention.
func NewConvention() *Convention {
	return &Convention{}
}

func (*Convention) Name() string { return "host" }

func (*Convention) Accepts(e dispatch.EntryPoint) bool {
	_, ok := e.(*Func)
	return ok
}

func (*Convention) Check(c dispatch.Callable) error {
	f, ok := c.Entry.(*Func)
	if !ok {
		return errors.Unsupported(errors.PhaseAdmit, fmt.Sprintf("entry point %T is not a Go function", c.Entry))
	}
	return f.check(c.Signature)
}

func (*Convention) PerformCall(ctx context.Context, entry dispatch.EntryPoint, frame []byte, sig *signature.Signature, ret []byte) error {
	f, ok := entry.(*Func)
	if !ok {
		return errors.Unsupported(errors.PhaseInvoke, fmt.Sprintf("entry point %T is not a Go function", entry))
	}
	return f.call(frame, sig, ret)
}

// Introspector turns Go functions into callables with derived signatures.
// It accepts *Func values and plain functions, which are wrapped under
// their runtime name.
type Introspector struct{}

var _ dispatch.Introspector = Introspector{}

func (Introspector) Introspect(handle any) (dispatch.Callable, error) {
	switch h := handle.(type) {
	case *Func:
		return h.Callable(0)
	case dispatch.Callable:
		return h, nil
	}
	if reflect.TypeOf(handle) == nil || reflect.TypeOf(handle).Kind() != reflect.Func {
		return dispatch.Callable{}, errors.New(errors.PhaseAdmit, errors.KindInvalidInput).
			GoType(fmt.Sprintf("%T", handle)).
			Detail("not a function").
			Build()
	}
	f, err := Wrap("", handle)
	if err != nil {
		return dispatch.Callable{}, err
	}
	return f.Callable(0)
}
