package engine

import (
	"context"
	"encoding/binary"
	"fmt"
	"slices"

	"github.com/puzpuzpuz/xsync/v2"
	"go.uber.org/zap"

	"github.com/wippyai/multicall/dispatch"
	"github.com/wippyai/multicall/encoding"
	"github.com/wippyai/multicall/errors"
	"github.com/wippyai/multicall/signature"
)

// Convention calls *Export entry points through the wasm32 core ABI, the
// way clang lowers C calls for wasm32:
//
//	integers up to 32 bits, bool, pointers, references  i32
//	64-bit integers                                     i64
//	float / double                                      f32 / f64
//	aggregate wrapping one scalar                       that scalar
//	other aggregates                                    i32 address in guest memory
//	other aggregate returns                             hidden i32 first parameter
//
// The context in slot 0 is passed as an ordinary i32 parameter after the
// hidden return pointer, if any. Lowering plans are cached per signature
// encoding and data model.
type Convention struct {
	plans *xsync.MapOf[string, *plan]
}

var _ dispatch.Convention = (*Convention)(nil)

// NewConvention creates the wasm32 convention.
func NewConvention() *Convention {
	return &Convention{plans: xsync.NewMapOf[*plan]()}
}

func (*Convention) Name() string { return "wasm32" }

func (*Convention) Accepts(e dispatch.EntryPoint) bool {
	_, ok := e.(*Export)
	return ok
}

func (c *Convention) planFor(sig *signature.Signature) (*plan, error) {
	key := sig.Model().Name + ":" + sig.Encoding()
	if p, ok := c.plans.Load(key); ok {
		return p, nil
	}
	p, err := buildPlan(sig)
	if err != nil {
		return nil, err
	}
	Logger().Debug("lowering plan built",
		zap.String("signature", sig.Encoding()),
		zap.String("params", valueTypes(p.params)),
		zap.String("results", valueTypes(p.results)),
		zap.Bool("retptr", p.retptr))
	p, _ = c.plans.LoadOrStore(key, p)
	return p, nil
}

// Check verifies that the export's core type is what the signature lowers to.
func (c *Convention) Check(call dispatch.Callable) error {
	e, ok := call.Entry.(*Export)
	if !ok {
		return errors.Unsupported(errors.PhaseAdmit, fmt.Sprintf("entry point %T is not a wasm export", call.Entry))
	}
	p, err := c.planFor(call.Signature)
	if err != nil {
		return err
	}
	if !slices.Equal(p.params, e.def.ParamTypes()) || !slices.Equal(p.results, e.def.ResultTypes()) {
		return errors.New(errors.PhaseAdmit, errors.KindSignatureMismatch).
			Encoding(call.Signature.Encoding()).
			Detail("export %s has type %s -> %s, signature lowers to %s -> %s",
				e.name,
				valueTypes(e.def.ParamTypes()), valueTypes(e.def.ResultTypes()),
				valueTypes(p.params), valueTypes(p.results)).
			Build()
	}
	if p.memory && e.inst.memory == nil {
		return errors.Unsupported(errors.PhaseAdmit,
			fmt.Sprintf("export %s needs guest memory for aggregates but the module has none", e.name))
	}
	return nil
}

func (c *Convention) PerformCall(ctx context.Context, entry dispatch.EntryPoint, frame []byte, sig *signature.Signature, ret []byte) error {
	e, ok := entry.(*Export)
	if !ok {
		return errors.Unsupported(errors.PhaseInvoke, fmt.Sprintf("entry point %T is not a wasm export", entry))
	}
	inst := e.inst
	if inst.instance == nil {
		return errors.NotInitialized(errors.PhaseInvoke, "wasm instance")
	}
	p, err := c.planFor(sig)
	if err != nil {
		return err
	}

	alloc := inst.allocator(ctx)
	var allocs []allocation
	defer func() { release(alloc, allocs) }()

	place := func(size, align uint32, data []byte) (uint32, error) {
		if inst.memory == nil {
			return 0, errors.Unsupported(errors.PhaseInvoke, "module has no linear memory")
		}
		ptr, err := alloc.Alloc(size, align)
		if err != nil {
			return 0, err
		}
		allocs = append(allocs, allocation{ptr: ptr, size: size, align: align})
		if data != nil {
			if err := inst.memory.Write(ptr, data); err != nil {
				return 0, errors.Wrap(errors.PhaseInvoke, errors.KindAllocation, err, "write argument")
			}
		}
		return ptr, nil
	}

	stack := make([]uint64, max(len(p.params), len(p.results)))
	j := 0
	var retPtr uint32
	if p.retptr {
		if retPtr, err = place(p.retSize, p.retAlign, nil); err != nil {
			return err
		}
		stack[j] = uint64(retPtr)
		j++
	}

	model := sig.Model()
	for _, l := range p.args {
		if l.empty {
			continue
		}
		off := sig.ArgumentOffset(l.index)
		src := frame[off : off+l.typ.Size()]
		if l.indirect {
			buf := make([]byte, l.typ.SizeIn(encoding.Wasm32))
			relayout(l.typ, src, model, binary.NativeEndian, buf, encoding.Wasm32, binary.LittleEndian)
			ptr, err := place(uint32(len(buf)), uint32(l.typ.AlignIn(encoding.Wasm32)), buf)
			if err != nil {
				return err
			}
			stack[j] = uint64(ptr)
		} else {
			stack[j] = lowerScalar(l.scalar, src)
		}
		j++
	}

	// Traps and guest errors go back to the caller untouched.
	if err := e.fn.CallWithStack(ctx, stack); err != nil {
		return err
	}

	if len(ret) > sig.ReturnSize() {
		ret = ret[:sig.ReturnSize()]
	}
	clear(ret)
	switch {
	case p.retptr:
		data, err := inst.memory.Read(retPtr, p.retSize)
		if err != nil {
			return errors.Wrap(errors.PhaseResult, errors.KindOutOfBounds, err, "read return value")
		}
		relayout(sig.Return(), data, encoding.Wasm32, binary.LittleEndian, ret, model, binary.NativeEndian)
	case len(p.results) == 1:
		liftScalar(p.ret.scalar, stack[0], ret)
	}
	return nil
}

type allocation struct {
	ptr, size, align uint32
}

func release(a allocator, allocs []allocation) {
	for i := len(allocs) - 1; i >= 0; i-- {
		a.Free(allocs[i].ptr, allocs[i].size, allocs[i].align)
	}
	a.reset()
}
