package invocation

import (
	"context"
	"fmt"

	"github.com/wippyai/multicall/dispatch"
	"github.com/wippyai/multicall/errors"
	"github.com/wippyai/multicall/signature"
)

// nested is an invocation seen as a single entry point.
type nested struct {
	inv *Invocation
}

var _ dispatch.Direct = (*nested)(nil)

func (n *nested) String() string {
	return fmt.Sprintf("invocation(%s, %d callables)", n.inv.sig, len(n.inv.calls))
}

// CallFrame calls every member with the arguments in frame and writes the
// last member's return value into ret. The invocation's own arguments and
// return values are left alone.
func (n *nested) CallFrame(ctx context.Context, frame []byte, sig *signature.Signature, ret []byte) error {
	inv := n.inv
	if inv.sig == nil {
		return errors.NotInitialized(errors.PhaseInvoke, "nested invocation")
	}
	if diff := inv.sig.Mismatch(sig); diff != "" {
		return errors.New(errors.PhaseInvoke, errors.KindSignatureMismatch).
			Encoding(sig.Encoding()).
			Detail("nested invocation %s called as %s: %s", inv.sig, sig, diff).
			Build()
	}
	if len(frame) < sig.FrameLength() {
		return errors.ShortBuffer(errors.PhaseInvoke, 0, len(frame), sig.FrameLength())
	}

	// Same shape does not imply same offsets once alignment differs, so
	// arguments are repacked into this invocation's layout.
	args := make([]byte, inv.sig.FrameLength())
	for i := 0; i < sig.ArgumentCount(); i++ {
		from, to, size := sig.ArgumentOffset(i), inv.sig.ArgumentOffset(i), sig.ArgumentSize(i)
		copy(args[to:to+size], frame[from:from+size])
	}

	size := inv.sig.ReturnSize()
	rets := make([][]byte, len(inv.calls))
	for i := range rets {
		rets[i] = make([]byte, size)
	}
	if err := inv.dispatcher.Invoke(ctx, inv.calls, args, inv.sig, rets); err != nil {
		return err
	}
	if len(ret) > size {
		ret = ret[:size]
	}
	clear(ret)
	if len(rets) > 0 {
		copy(ret, rets[len(rets)-1])
	}
	return nil
}

// AsCallable returns the invocation as a callable with its own signature.
// Calling it fans out to every member with the caller's arguments and
// returns the last member's value, so invocations can be nested in one
// another. Members are read at call time.
func (inv *Invocation) AsCallable() (dispatch.Callable, error) {
	if inv.sig == nil {
		return dispatch.Callable{}, errors.NotInitialized(errors.PhaseAdmit, "invocation signature")
	}
	return dispatch.Callable{Entry: &nested{inv: inv}, Signature: inv.sig}, nil
}

// contains reports whether c reaches inv through nested invocations.
func contains(c dispatch.Callable, inv *Invocation) bool {
	n, ok := c.Entry.(*nested)
	if !ok {
		return false
	}
	if n.inv == inv {
		return true
	}
	for _, b := range n.inv.calls {
		if contains(b.Callable, inv) {
			return true
		}
	}
	return false
}
