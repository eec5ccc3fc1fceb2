// Package dispatch calls an ordered list of callables with one shared
// argument frame.
//
// Each callable is bound to the Convention that knows how to reach its
// entry point. The dispatcher copies the shared frame, writes the
// callable's own context into slot 0 and hands the frame to the
// convention, which lowers it to whatever the target ABI expects and writes
// the raw result into that callable's return buffer.
package dispatch

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/wippyai/multicall/errors"
	"github.com/wippyai/multicall/signature"
)

// EntryPoint identifies code a convention can transfer control to.
type EntryPoint interface {
	fmt.Stringer
}

// Callable is an entry point, the context value passed as its implicit
// first argument, and the signature it was compiled for.
type Callable struct {
	Entry     EntryPoint
	Signature *signature.Signature
	Context   uint64
}

// NewCallable parses enc and builds a callable.
func NewCallable(entry EntryPoint, ctx uint64, enc string) (Callable, error) {
	sig, err := signature.Parse(enc)
	if err != nil {
		return Callable{}, err
	}
	return Callable{Entry: entry, Context: ctx, Signature: sig}, nil
}

// Introspector extracts a callable from a host value.
type Introspector interface {
	Introspect(handle any) (Callable, error)
}

// Convention performs calls for one kind of entry point.
type Convention interface {
	// Name identifies the convention in errors and logs.
	Name() string

	// Accepts reports whether the entry point belongs to this convention.
	Accepts(EntryPoint) bool

	// Check verifies that the entry point can be called with the
	// callable's signature.
	Check(Callable) error

	// PerformCall calls entry with the packed frame, slot 0 included, and
	// writes ReturnSize bytes into ret. Errors raised by the callee are
	// returned unchanged.
	PerformCall(ctx context.Context, entry EntryPoint, frame []byte, sig *signature.Signature, ret []byte) error
}

// Direct entry points consume packed frames themselves and need no
// convention.
type Direct interface {
	EntryPoint
	CallFrame(ctx context.Context, frame []byte, sig *signature.Signature, ret []byte) error
}

// Bound is a callable paired with the convention that reaches it.
type Bound struct {
	Callable
	Convention Convention
}

// Call performs one call with a frame whose slot 0 is already filled.
func (b Bound) Call(ctx context.Context, frame []byte, sig *signature.Signature, ret []byte) error {
	if d, ok := b.Entry.(Direct); ok {
		return d.CallFrame(ctx, frame, sig, ret)
	}
	return b.Convention.PerformCall(ctx, b.Entry, frame, sig, ret)
}

// Dispatcher picks conventions for callables and runs them in order.
type Dispatcher struct {
	conventions []Convention
}

// New creates a dispatcher that tries conventions in the given order.
func New(conventions ...Convention) *Dispatcher {
	return &Dispatcher{conventions: conventions}
}

// Conventions returns the configured conventions.
func (d *Dispatcher) Conventions() []Convention {
	return d.conventions
}

// Bind finds the first convention that accepts the callable's entry point
// and lets it check the signature.
func (d *Dispatcher) Bind(c Callable) (Bound, error) {
	if c.Entry == nil {
		return Bound{}, errors.InvalidInput(errors.PhaseAdmit, "callable has no entry point")
	}
	if c.Signature == nil {
		return Bound{}, errors.InvalidInput(errors.PhaseAdmit, "callable has no signature")
	}
	if _, ok := c.Entry.(Direct); ok {
		return Bound{Callable: c}, nil
	}
	for _, conv := range d.conventions {
		if !conv.Accepts(c.Entry) {
			continue
		}
		if err := conv.Check(c); err != nil {
			return Bound{}, err
		}
		return Bound{Callable: c, Convention: conv}, nil
	}
	return Bound{}, errors.Unsupported(errors.PhaseAdmit,
		fmt.Sprintf("no calling convention accepts entry point %s (%T)", c.Entry, c.Entry))
}

// Invoke calls every bound callable in order. Each call gets its own copy
// of frame with its context written to slot 0, and writes into rets[i].
// The first error stops the loop and is returned as the callee produced it.
func (d *Dispatcher) Invoke(ctx context.Context, calls []Bound, frame []byte, sig *signature.Signature, rets [][]byte) error {
	if len(rets) < len(calls) {
		return errors.InvalidInput(errors.PhaseInvoke,
			fmt.Sprintf("%d return buffers for %d callables", len(rets), len(calls)))
	}

	scratch := make([]byte, len(frame))
	self := sig.ArgumentSize(0)
	for i, b := range calls {
		copy(scratch, frame)
		PutContext(scratch[:self], b.Context)
		if err := b.Call(ctx, scratch, sig, rets[i]); err != nil {
			return err
		}
	}
	return nil
}

// PutContext writes a context value at the width of dst in host byte order.
func PutContext(dst []byte, v uint64) {
	switch len(dst) {
	case 8:
		binary.NativeEndian.PutUint64(dst, v)
	case 4:
		binary.NativeEndian.PutUint32(dst, uint32(v))
	}
}

// ContextFrom reads a context value written by PutContext.
func ContextFrom(src []byte) uint64 {
	switch len(src) {
	case 8:
		return binary.NativeEndian.Uint64(src)
	case 4:
		return uint64(binary.NativeEndian.Uint32(src))
	}
	return 0
}
