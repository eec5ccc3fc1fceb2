package engine

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/multicall/errors"
	"github.com/wippyai/multicall/internal/wasmbuild"
)

func TestConfig_Defaults(t *testing.T) {
	cfg := Config{}
	if cfg.MemoryLimitPages != 0 {
		t.Errorf("expected default MemoryLimitPages 0, got %d", cfg.MemoryLimitPages)
	}
	if cfg.scratchPages() != 1 {
		t.Errorf("expected default scratch pages 1, got %d", cfg.scratchPages())
	}
	if (Config{ScratchPages: 4}).scratchPages() != 4 {
		t.Error("ScratchPages not honoured")
	}
}

func TestNewWazeroEngineWithConfig(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		cfg  *Config
		name string
	}{
		{nil, "nil config"},
		{&Config{}, "default config"},
		{&Config{MemoryLimitPages: 256}, "16MB limit"},
		{&Config{CloseOnContextDone: true}, "close on context done"},
		{&Config{ScratchPages: 2}, "scratch pages"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			engine, err := NewWazeroEngineWithConfig(ctx, tc.cfg)
			if err != nil {
				t.Fatalf("NewWazeroEngineWithConfig failed: %v", err)
			}
			defer engine.Close(ctx)

			if engine.runtime == nil {
				t.Error("engine runtime should not be nil")
			}
		})
	}
}

func TestWazeroEngine_LoadModuleRejectsGarbage(t *testing.T) {
	ctx := context.Background()
	engine, err := NewWazeroEngine(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer engine.Close(ctx)

	if _, err := engine.LoadModule(ctx, []byte("not wasm")); err == nil {
		t.Fatal("LoadModule accepted garbage")
	}
}

func TestWazeroEngine_MemoryLimit(t *testing.T) {
	ctx := context.Background()

	// Create engine with 1 page limit (64KB)
	engine, err := NewWazeroEngineWithConfig(ctx, &Config{MemoryLimitPages: 1})
	if err != nil {
		t.Fatalf("NewWazeroEngineWithConfig failed: %v", err)
	}
	defer engine.Close(ctx)

	inst := instantiate(t, engine, wasmbuild.Demo(false))
	conv := NewConvention()

	// The scratch region cannot grow past the limit.
	c, err := inst.Callable("sumPoint", "d@?{Point=dd}", 0)
	if err != nil {
		t.Fatal(err)
	}
	frame := make([]byte, c.Signature.FrameLength())
	err = conv.PerformCall(ctx, c.Entry, frame, c.Signature, make([]byte, 8))
	if !errors.Is(err, &errors.Error{Kind: errors.KindAllocation}) {
		t.Errorf("err = %v, want an allocation failure", err)
	}
}

func TestWazeroModule_ExportNames(t *testing.T) {
	ctx := context.Background()
	engine, err := NewWazeroEngine(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer engine.Close(ctx)

	mod, err := engine.LoadModule(ctx, wasmbuild.Demo(true))
	if err != nil {
		t.Fatal(err)
	}
	want := []string{
		"addContext", "addWide", "answer", "cabi_realloc", "double", "makePair",
		"mirror", "scale", "square", "sumPoint", "trap", "wrapInc",
	}
	if diff := cmp.Diff(want, mod.ExportNames()); diff != "" {
		t.Errorf("ExportNames (-want +got):\n%s", diff)
	}
}

func TestWazeroInstance_AllocatorDiscovery(t *testing.T) {
	ctx := context.Background()
	engine, err := NewWazeroEngine(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer engine.Close(ctx)

	withRealloc := instantiate(t, engine, wasmbuild.Demo(true))
	if withRealloc.guest == nil || withRealloc.guest.isSimpleAlloc {
		t.Error("cabi_realloc not discovered")
	}
	if _, ok := withRealloc.allocator(ctx).(*wazeroAllocator); !ok {
		t.Error("guest allocator not preferred")
	}

	without := instantiate(t, engine, wasmbuild.Demo(false))
	if without.guest != nil {
		t.Error("guest allocator found in a module without one")
	}
	if _, ok := without.allocator(ctx).(*scratchAllocator); !ok {
		t.Error("scratch allocator not used as fallback")
	}
}

func TestScratchAllocator(t *testing.T) {
	ctx := context.Background()
	engine, err := NewWazeroEngine(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer engine.Close(ctx)

	inst := instantiate(t, engine, wasmbuild.Demo(false))
	s := inst.scratch

	a, err := s.Alloc(3, 1)
	if err != nil {
		t.Fatal(err)
	}
	if a != pageSize {
		t.Errorf("first allocation at %d, want %d (top of the original memory)", a, pageSize)
	}
	b, err := s.Alloc(8, 8)
	if err != nil {
		t.Fatal(err)
	}
	if b != pageSize+8 {
		t.Errorf("aligned allocation at %d, want %d", b, pageSize+8)
	}
	if inst.MemorySize() != 2*pageSize {
		t.Errorf("memory size %d, want two pages", inst.MemorySize())
	}

	s.reset()
	c, _ := s.Alloc(4, 4)
	if c != a {
		t.Errorf("allocation after reset at %d, want %d", c, a)
	}

	// Requests larger than the region grow a fresh one.
	big, err := s.Alloc(2*pageSize, 8)
	if err != nil {
		t.Fatal(err)
	}
	if big < 2*pageSize {
		t.Errorf("large allocation at %d overlaps the first region", big)
	}
}

func TestScratchAllocator_NoMemory(t *testing.T) {
	s := &scratchAllocator{pages: 1}
	if _, err := s.Alloc(4, 4); !errors.Is(err, errors.ErrUnsupported) {
		t.Errorf("err = %v, want Unsupported", err)
	}
}

func TestWazeroInstance_Export(t *testing.T) {
	ctx := context.Background()
	engine, err := NewWazeroEngine(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer engine.Close(ctx)
	inst := instantiate(t, engine, wasmbuild.Demo(true))

	e, err := inst.Export("double")
	if err != nil {
		t.Fatal(err)
	}
	if e.Name() != "double" || e.String() != "wasm:double" || e.Instance() != inst {
		t.Errorf("export metadata: %s %s", e.Name(), e)
	}
	if diff := cmp.Diff([]api.ValueType{api.ValueTypeI32, api.ValueTypeI32}, e.Definition().ParamTypes()); diff != "" {
		t.Errorf("params (-want +got):\n%s", diff)
	}
	again, _ := inst.Export("double")
	if again != e {
		t.Error("export not cached")
	}

	if _, err := inst.Export("missing"); !errors.Is(err, &errors.Error{Kind: errors.KindNotFound}) {
		t.Errorf("missing export err = %v", err)
	}

	if err := inst.Close(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := inst.Export("double"); !errors.Is(err, errors.ErrNotInitialized) {
		t.Errorf("export after close err = %v", err)
	}
}

func instantiate(t *testing.T, engine *WazeroEngine, wasm []byte) *WazeroInstance {
	t.Helper()
	ctx := context.Background()
	mod, err := engine.LoadModule(ctx, wasm)
	if err != nil {
		t.Fatalf("LoadModule: %v", err)
	}
	inst, err := mod.Instantiate(ctx)
	if err != nil {
		t.Fatalf("Instantiate: %v", err)
	}
	t.Cleanup(func() { inst.Close(ctx) })
	return inst
}

func newEngine(t *testing.T) *WazeroEngine {
	t.Helper()
	ctx := context.Background()
	engine, err := NewWazeroEngine(ctx)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { engine.Close(ctx) })
	return engine
}
