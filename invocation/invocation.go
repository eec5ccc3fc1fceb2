package invocation

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/wippyai/multicall/dispatch"
	"github.com/wippyai/multicall/engine"
	"github.com/wippyai/multicall/errors"
	"github.com/wippyai/multicall/frame"
	"github.com/wippyai/multicall/host"
	"github.com/wippyai/multicall/signature"
)

// State is the lifecycle state of an Invocation.
type State uint8

const (
	Unconfigured State = iota
	Armed
	Invoked
)

func (s State) String() string {
	switch s {
	case Unconfigured:
		return "unconfigured"
	case Armed:
		return "armed"
	case Invoked:
		return "invoked"
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// Config configures an Invocation. The zero value is ready to use.
type Config struct {
	// Conventions are tried in order when a callable is added. Defaults to
	// the host convention followed by the wasm32 convention.
	Conventions []dispatch.Convention

	// Introspector resolves the handles given to AddHandle. Defaults to
	// host.Introspector.
	Introspector dispatch.Introspector

	// Retainer takes references to object arguments stored while
	// RetainsArguments is on. *resource.HandleTable implements it.
	Retainer frame.Retainer

	// RetainsArguments stores object arguments as held from the start.
	RetainsArguments bool
}

// Invocation calls an ordered list of callables with one shared set of
// arguments.
type Invocation struct {
	dispatcher   *dispatch.Dispatcher
	introspector dispatch.Introspector
	retainer     frame.Retainer
	retains      bool

	sig   *signature.Signature
	frame *frame.Frame

	calls   []dispatch.Bound
	rets    [][]byte
	fresh   []bool
	invoked bool
}

// New creates an unconfigured invocation. The first callable added
// supplies the signature.
func New(cfg Config) *Invocation {
	conventions := cfg.Conventions
	if len(conventions) == 0 {
		conventions = []dispatch.Convention{host.NewConvention(), engine.NewConvention()}
	}
	introspector := cfg.Introspector
	if introspector == nil {
		introspector = host.Introspector{}
	}
	return &Invocation{
		dispatcher:   dispatch.New(conventions...),
		introspector: introspector,
		retainer:     cfg.Retainer,
		retains:      cfg.RetainsArguments,
	}
}

// NewWithEncoding creates an armed invocation for a full-signature
// encoding such as "i@?i".
func NewWithEncoding(enc string, cfg Config) (*Invocation, error) {
	sig, err := signature.Parse(enc)
	if err != nil {
		return nil, err
	}
	return NewWithSignature(sig, cfg), nil
}

// NewWithSignature creates an armed invocation for sig.
func NewWithSignature(sig *signature.Signature, cfg Config) *Invocation {
	inv := New(cfg)
	inv.configure(sig)
	return inv
}

// NewWithCallable creates an invocation that adopts c's signature and
// calls c.
func NewWithCallable(c dispatch.Callable, cfg Config) (*Invocation, error) {
	return NewWithCallables([]dispatch.Callable{c}, cfg)
}

// NewWithCallables creates an invocation that adopts the first callable's
// signature and calls every callable in order.
func NewWithCallables(cs []dispatch.Callable, cfg Config) (*Invocation, error) {
	if len(cs) == 0 {
		return nil, errors.InvalidInput(errors.PhaseAdmit, "no callables given")
	}
	inv := New(cfg)
	if err := inv.SetCallables(cs); err != nil {
		return nil, err
	}
	return inv, nil
}

func (inv *Invocation) configure(sig *signature.Signature) {
	inv.sig = sig
	inv.frame = frame.New(sig, inv.retainer)
	// A fresh frame holds nothing, so turning retention on cannot fail.
	_ = inv.frame.SetRetainsArguments(inv.retains)
}

// Signature returns the invocation's signature, nil while unconfigured.
func (inv *Invocation) Signature() *signature.Signature { return inv.sig }

// State reports the lifecycle state.
func (inv *Invocation) State() State {
	switch {
	case inv.sig == nil:
		return Unconfigured
	case inv.invoked:
		return Invoked
	}
	return Armed
}

// bind admits c against sig, or against c's own signature when sig is nil.
func (inv *Invocation) bind(sig *signature.Signature, c dispatch.Callable) (dispatch.Bound, error) {
	if c.Signature == nil {
		return dispatch.Bound{}, errors.InvalidInput(errors.PhaseAdmit, "callable has no signature")
	}
	if contains(c, inv) {
		return dispatch.Bound{}, errors.InvalidInput(errors.PhaseAdmit, "invocation cannot call itself")
	}
	if sig != nil {
		if diff := sig.Mismatch(c.Signature); diff != "" {
			return dispatch.Bound{}, errors.New(errors.PhaseAdmit, errors.KindSignatureMismatch).
				Encoding(c.Signature.Encoding()).
				Detail("callable %s does not match %s: %s", c.Entry, sig, diff).
				Build()
		}
	}
	return inv.dispatcher.Bind(c)
}

// AddCallable appends c. An unconfigured invocation adopts c's signature;
// otherwise c must match the signature. On error nothing changes.
func (inv *Invocation) AddCallable(c dispatch.Callable) error {
	b, err := inv.bind(inv.sig, c)
	if err != nil {
		return err
	}
	if inv.sig == nil {
		inv.configure(c.Signature)
	}
	inv.calls = append(inv.calls, b)
	inv.rets = append(inv.rets, nil)
	inv.fresh = append(inv.fresh, false)
	return nil
}

// AddHandle resolves handle with the configured introspector and adds the
// resulting callable.
func (inv *Invocation) AddHandle(handle any) error {
	c, err := inv.introspector.Introspect(handle)
	if err != nil {
		return err
	}
	return inv.AddCallable(c)
}

// SetCallable replaces every callable with c.
func (inv *Invocation) SetCallable(c dispatch.Callable) error {
	return inv.SetCallables([]dispatch.Callable{c})
}

// SetCallables replaces every callable with cs. Either all of cs are
// admitted or nothing changes. An unconfigured invocation adopts the first
// callable's signature; an empty list leaves it unconfigured.
func (inv *Invocation) SetCallables(cs []dispatch.Callable) error {
	sig := inv.sig
	if sig == nil && len(cs) > 0 {
		sig = cs[0].Signature
	}
	bound := make([]dispatch.Bound, len(cs))
	for i, c := range cs {
		b, err := inv.bind(sig, c)
		if err != nil {
			return err
		}
		bound[i] = b
	}
	if inv.sig == nil && sig != nil {
		inv.configure(sig)
	}
	inv.calls = bound
	inv.rets = make([][]byte, len(bound))
	inv.fresh = make([]bool, len(bound))
	return nil
}

func (inv *Invocation) checkCallable(phase errors.Phase, index int) error {
	if index < 0 || index >= len(inv.calls) {
		return errors.OutOfBounds(phase, []string{"callables"}, index, len(inv.calls))
	}
	return nil
}

// RemoveCallable removes the callable at index together with its return
// value.
func (inv *Invocation) RemoveCallable(index int) error {
	if err := inv.checkCallable(errors.PhaseAdmit, index); err != nil {
		return err
	}
	inv.calls = append(inv.calls[:index], inv.calls[index+1:]...)
	inv.rets = append(inv.rets[:index], inv.rets[index+1:]...)
	inv.fresh = append(inv.fresh[:index], inv.fresh[index+1:]...)
	return nil
}

// CallableAt returns the callable at index.
func (inv *Invocation) CallableAt(index int) (dispatch.Callable, error) {
	if err := inv.checkCallable(errors.PhaseAdmit, index); err != nil {
		return dispatch.Callable{}, err
	}
	return inv.calls[index].Callable, nil
}

// Callables returns the callables in call order.
func (inv *Invocation) Callables() []dispatch.Callable {
	cs := make([]dispatch.Callable, len(inv.calls))
	for i, b := range inv.calls {
		cs[i] = b.Callable
	}
	return cs
}

// CallableCount returns the number of callables.
func (inv *Invocation) CallableCount() int { return len(inv.calls) }

// SetArgument copies value into argument index. Index 0 is reserved for
// each callable's context.
func (inv *Invocation) SetArgument(index int, value []byte) error {
	if inv.frame == nil {
		return errors.NotInitialized(errors.PhaseArgument, "invocation signature")
	}
	return inv.frame.Set(index, value)
}

// GetArgument copies argument index into dst. Unset arguments read as zero.
func (inv *Invocation) GetArgument(index int, dst []byte) error {
	if inv.frame == nil {
		return errors.NotInitialized(errors.PhaseArgument, "invocation signature")
	}
	return inv.frame.Get(index, dst)
}

// SetRetainsArguments switches held storage for object arguments. Turning
// it on retains objects already stored; turning it off keeps existing holds
// until their slots are overwritten or the invocation is closed. Without a
// retainer for stored objects the setting is left unchanged.
func (inv *Invocation) SetRetainsArguments(on bool) error {
	if inv.frame == nil {
		inv.retains = on
		return nil
	}
	err := inv.frame.SetRetainsArguments(on)
	inv.retains = inv.frame.RetainsArguments()
	return err
}

// RetainsArguments reports whether object arguments are stored as held.
func (inv *Invocation) RetainsArguments() bool { return inv.retains }

// Invoke calls every callable in order with the current arguments. The
// first error stops the loop and is returned as the callee produced it.
func (inv *Invocation) Invoke(ctx context.Context) error {
	if inv.sig == nil {
		return errors.NotInitialized(errors.PhaseInvoke, "invocation signature")
	}
	size := inv.sig.ReturnSize()
	for i := range inv.rets {
		if len(inv.rets[i]) != size {
			inv.rets[i] = make([]byte, size)
		}
	}

	Logger().Debug("invoke",
		zap.String("signature", inv.sig.Encoding()),
		zap.Int("callables", len(inv.calls)))

	// Run callables one at a time so a failure leaves earlier results fresh.
	args := inv.frame.Bytes()
	for i := range inv.calls {
		inv.fresh[i] = false
		if err := inv.dispatcher.Invoke(ctx, inv.calls[i:i+1], args, inv.sig, inv.rets[i:i+1]); err != nil {
			Logger().Debug("invoke failed",
				zap.Int("callable", i),
				zap.Stringer("entry", inv.calls[i].Entry),
				zap.Error(err))
			return err
		}
		inv.fresh[i] = true
	}
	inv.invoked = true
	return nil
}

func (inv *Invocation) checkReturn(index int) error {
	if err := inv.checkCallable(errors.PhaseResult, index); err != nil {
		return err
	}
	if !inv.invoked || !inv.fresh[index] {
		return errors.NotYetInvoked(index)
	}
	return nil
}

// ReturnValue copies the return value of callable index into dst, which
// must hold Signature().ReturnSize() bytes.
func (inv *Invocation) ReturnValue(index int, dst []byte) error {
	if err := inv.checkReturn(index); err != nil {
		return err
	}
	if size := inv.sig.ReturnSize(); len(dst) < size {
		return errors.ShortBuffer(errors.PhaseResult, index, len(dst), size)
	}
	copy(dst, inv.rets[index])
	return nil
}

// ReturnValues returns a copy of every return value in call order. It fails
// unless every callable has a return value from a successful invoke.
func (inv *Invocation) ReturnValues() ([][]byte, error) {
	if !inv.invoked {
		return nil, errors.New(errors.PhaseResult, errors.KindNotYetInvoked).
			Detail("no return values before a successful invoke").
			Build()
	}
	out := make([][]byte, len(inv.rets))
	for i := range inv.rets {
		if err := inv.checkReturn(i); err != nil {
			return nil, err
		}
		out[i] = append([]byte(nil), inv.rets[i]...)
	}
	return out, nil
}

// Close releases every held argument and forgets the signature, callables
// and return values. The invocation is unconfigured afterwards.
func (inv *Invocation) Close() {
	if inv.frame != nil {
		inv.frame.Release()
	}
	inv.sig = nil
	inv.frame = nil
	inv.calls = nil
	inv.rets = nil
	inv.fresh = nil
	inv.invoked = false
}
