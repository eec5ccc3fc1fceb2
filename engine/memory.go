package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/multicall"
	"github.com/wippyai/multicall/errors"
)

const pageSize = 65536

// allocator is a guest allocator that can be rewound once a call is done.
type allocator interface {
	multicall.Allocator
	reset()
}

type wazeroAllocator struct {
	allocFn       api.Function
	freeFn        api.Function
	currentCtx    context.Context
	stackBuf      []uint64
	stackMutex    sync.Mutex
	isSimpleAlloc bool
}

func (a *wazeroAllocator) setContext(ctx context.Context) {
	a.stackMutex.Lock()
	defer a.stackMutex.Unlock()
	a.currentCtx = ctx
}

func (a *wazeroAllocator) Alloc(size, align uint32) (uint32, error) {
	if a.allocFn == nil {
		return 0, errors.AllocationFailed(errors.PhaseInvoke, size, align)
	}

	a.stackMutex.Lock()
	defer a.stackMutex.Unlock()

	ctx := a.currentCtx
	if ctx == nil {
		ctx = context.Background()
	}

	if a.isSimpleAlloc {
		a.stackBuf[0] = uint64(size)
		if err := a.allocFn.CallWithStack(ctx, a.stackBuf[:1]); err != nil {
			return 0, errors.Wrap(errors.PhaseInvoke, errors.KindAllocation, err, "guest alloc failed")
		}
		return uint32(a.stackBuf[0]), nil
	}
	a.stackBuf[0] = 0
	a.stackBuf[1] = 0
	a.stackBuf[2] = uint64(align)
	a.stackBuf[3] = uint64(size)
	if err := a.allocFn.CallWithStack(ctx, a.stackBuf[:4]); err != nil {
		return 0, errors.Wrap(errors.PhaseInvoke, errors.KindAllocation, err, "cabi_realloc failed")
	}
	ptr := uint32(a.stackBuf[0])
	if ptr == 0 && size > 0 {
		return 0, errors.AllocationFailed(errors.PhaseInvoke, size, align)
	}
	return ptr, nil
}

func (a *wazeroAllocator) Free(ptr, size, align uint32) {
	if a.freeFn != nil && ptr != 0 {
		a.stackMutex.Lock()
		defer a.stackMutex.Unlock()

		ctx := a.currentCtx
		if ctx == nil {
			ctx = context.Background()
		}

		a.stackBuf[0] = uint64(ptr)
		a.stackBuf[1] = uint64(size)
		a.stackBuf[2] = uint64(align)
		if err := a.freeFn.CallWithStack(ctx, a.stackBuf[:3]); err != nil {
			Logger().Warn("Free: failed to release guest memory",
				zap.Uint32("ptr", ptr),
				zap.Uint32("size", size),
				zap.Error(err))
		}
	}
}

// Allocations without a free export belong to the guest heap.
func (a *wazeroAllocator) reset() {}

// scratchAllocator bump-allocates from pages grown at the top of linear
// memory. The region is rewound after every call, so it only ever holds
// the arguments and return buffer of the call in flight.
type scratchAllocator struct {
	memory *WazeroMemory
	pages  uint32
	base   uint64
	next   uint64
	end    uint64
}

func (s *scratchAllocator) Alloc(size, align uint32) (uint32, error) {
	if s.memory == nil {
		return 0, errors.Unsupported(errors.PhaseInvoke, "module has no linear memory for aggregate arguments")
	}
	if align == 0 {
		align = 1
	}
	ptr := alignUp64(s.next, uint64(align))
	if s.end == 0 || ptr+uint64(size) > s.end {
		if err := s.grow(uint64(size) + uint64(align)); err != nil {
			return 0, err
		}
		ptr = alignUp64(s.next, uint64(align))
	}
	s.next = ptr + uint64(size)
	return uint32(ptr), nil
}

// Free is a no-op; reset rewinds the whole region.
func (s *scratchAllocator) Free(ptr, size, align uint32) {}

func (s *scratchAllocator) reset() {
	s.next = s.base
}

func (s *scratchAllocator) grow(need uint64) error {
	pages := uint64(s.pages)
	if n := (need + pageSize - 1) / pageSize; n > pages {
		pages = n
	}
	prev, ok := s.memory.mem.Grow(uint32(pages))
	if !ok || (uint64(prev)+pages)*pageSize > 1<<32 {
		return errors.AllocationFailed(errors.PhaseInvoke, uint32(need), 1)
	}
	s.base = uint64(prev) * pageSize
	s.next = s.base
	s.end = s.base + pages*pageSize
	Logger().Debug("scratch region grown",
		zap.Uint64("base", s.base),
		zap.Uint64("pages", pages))
	return nil
}

func alignUp64(x, a uint64) uint64 {
	if a <= 1 {
		return x
	}
	return (x + a - 1) / a * a
}

// WazeroMemory wraps wazero memory to implement multicall.Memory
type WazeroMemory struct {
	mem api.Memory
}

func (m *WazeroMemory) Read(offset uint32, length uint32) ([]byte, error) {
	data, ok := m.mem.Read(offset, length)
	if !ok {
		return nil, fmt.Errorf("read out of bounds: offset=%d, length=%d", offset, length)
	}
	return data, nil
}

func (m *WazeroMemory) Write(offset uint32, data []byte) error {
	ok := m.mem.Write(offset, data)
	if !ok {
		return fmt.Errorf("write out of bounds: offset=%d, length=%d", offset, len(data))
	}
	return nil
}

func (m *WazeroMemory) ReadU32(offset uint32) (uint32, error) {
	val, ok := m.mem.ReadUint32Le(offset)
	if !ok {
		return 0, fmt.Errorf("read out of bounds")
	}
	return val, nil
}

func (m *WazeroMemory) ReadU64(offset uint32) (uint64, error) {
	val, ok := m.mem.ReadUint64Le(offset)
	if !ok {
		return 0, fmt.Errorf("read out of bounds")
	}
	return val, nil
}

func (m *WazeroMemory) WriteU32(offset uint32, value uint32) error {
	ok := m.mem.WriteUint32Le(offset, value)
	if !ok {
		return fmt.Errorf("write out of bounds")
	}
	return nil
}

func (m *WazeroMemory) WriteU64(offset uint32, value uint64) error {
	ok := m.mem.WriteUint64Le(offset, value)
	if !ok {
		return fmt.Errorf("write out of bounds")
	}
	return nil
}

func (m *WazeroMemory) Size() uint32 {
	if m.mem == nil {
		return 0
	}
	return m.mem.Size()
}

// Compile-time check that WazeroMemory implements multicall.Memory and MemorySizer
var _ multicall.Memory = (*WazeroMemory)(nil)
var _ multicall.MemorySizer = (*WazeroMemory)(nil)

// Compile-time check that both allocators implement multicall.Allocator
var (
	_ multicall.Allocator = (*wazeroAllocator)(nil)
	_ multicall.Allocator = (*scratchAllocator)(nil)
)
