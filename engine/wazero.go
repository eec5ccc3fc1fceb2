package engine

import (
	"context"
	"fmt"
	"sort"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/experimental"
	"go.uber.org/zap"

	"github.com/wippyai/multicall/dispatch"
	"github.com/wippyai/multicall/errors"
	"github.com/wippyai/multicall/signature"
)

// WazeroEngine owns a wazero runtime that compiles and instantiates modules.
type WazeroEngine struct {
	runtime wazero.Runtime
	cfg     Config
}

// Config holds configuration for engine creation
type Config struct {
	// MemoryLimitPages sets the maximum memory per instance in pages (64KB each).
	// 0 means default (65536 pages = 4GB).
	// 256 = 16MB, 1024 = 64MB, 4096 = 256MB
	MemoryLimitPages uint32

	// ScratchPages is how many pages the scratch region grows by when a
	// module has no cabi_realloc export. 0 means 1.
	ScratchPages uint32

	// CloseOnContextDone makes running calls abort when their context is
	// cancelled or times out.
	CloseOnContextDone bool

	// EnableThreads enables the WebAssembly threads proposal (experimental).
	EnableThreads bool
}

func (c Config) scratchPages() uint32 {
	if c.ScratchPages == 0 {
		return 1
	}
	return c.ScratchPages
}

// NewWazeroEngine creates a new wazero-based engine
func NewWazeroEngine(ctx context.Context) (*WazeroEngine, error) {
	return NewWazeroEngineWithConfig(ctx, nil)
}

// NewWazeroEngineWithConfig creates a new engine with custom configuration
func NewWazeroEngineWithConfig(ctx context.Context, cfg *Config) (*WazeroEngine, error) {
	runtimeCfg := wazero.NewRuntimeConfig()

	e := &WazeroEngine{}
	if cfg != nil {
		e.cfg = *cfg
		if cfg.MemoryLimitPages > 0 {
			runtimeCfg = runtimeCfg.WithMemoryLimitPages(cfg.MemoryLimitPages)
		}
		if cfg.CloseOnContextDone {
			runtimeCfg = runtimeCfg.WithCloseOnContextDone(true)
		}
		if cfg.EnableThreads {
			runtimeCfg = runtimeCfg.WithCoreFeatures(api.CoreFeaturesV2 | experimental.CoreFeaturesThreads)
		}
	}

	e.runtime = wazero.NewRuntimeWithConfig(ctx, runtimeCfg)
	return e, nil
}

// LoadModule compiles a core WebAssembly module.
func (e *WazeroEngine) LoadModule(ctx context.Context, wasmBytes []byte) (*WazeroModule, error) {
	compiled, err := e.runtime.CompileModule(ctx, wasmBytes)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseLoad, errors.KindInvalidInput, err, "compile failed")
	}
	return &WazeroModule{engine: e, compiled: compiled}, nil
}

func (e *WazeroEngine) Close(ctx context.Context) error {
	return e.runtime.Close(ctx)
}

// WazeroModule is a compiled WASM module
type WazeroModule struct {
	engine   *WazeroEngine
	compiled wazero.CompiledModule
}

// ExportNames returns the names of the exported functions, sorted.
func (m *WazeroModule) ExportNames() []string {
	defs := m.compiled.ExportedFunctions()
	names := make([]string, 0, len(defs))
	for name := range defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Instantiate creates an anonymous instance of the module.
func (m *WazeroModule) Instantiate(ctx context.Context) (*WazeroInstance, error) {
	// anonymous so the same module can be instantiated more than once
	modConfig := wazero.NewModuleConfig().WithName("")

	instance, err := m.engine.runtime.InstantiateModule(ctx, m.compiled, modConfig)
	if err != nil {
		return nil, errors.Instantiation(err)
	}

	inst := &WazeroInstance{
		module:   m,
		instance: instance,
		exports:  make(map[string]*Export),
		stackBuf: make([]uint64, 4),
	}

	if mem := instance.Memory(); mem != nil {
		inst.memory = &WazeroMemory{mem: mem}
	}
	inst.scratch = &scratchAllocator{memory: inst.memory, pages: m.engine.cfg.scratchPages()}

	// Allocator discovery: standard cabi_realloc first, then legacy names
	defs := instance.ExportedFunctionDefinitions()
	allocDef := defs[CabiRealloc]
	if allocDef == nil {
		allocDef = defs[legacyRealloc]
	}
	if allocDef == nil {
		allocDef = defs[legacyAlloc]
	}
	if allocDef == nil {
		allocDef = defs[simpleAlloc]
	}

	guest := &wazeroAllocator{stackBuf: inst.stackBuf}
	if allocDef != nil {
		guest.allocFn = instance.ExportedFunction(allocDef.Name())
		guest.isSimpleAlloc = len(allocDef.ParamTypes()) < 4
	}
	if freeFn := instance.ExportedFunction(CabiFree); freeFn != nil {
		guest.freeFn = freeFn
	} else if freeFn := instance.ExportedFunction(legacyDealloc); freeFn != nil {
		guest.freeFn = freeFn
	} else if freeFn := instance.ExportedFunction(simpleFree); freeFn != nil {
		guest.freeFn = freeFn
	}
	if guest.allocFn != nil {
		inst.guest = guest
	}

	Logger().Debug("module instantiated",
		zap.Int("exports", len(defs)),
		zap.Bool("memory", inst.memory != nil),
		zap.Bool("guest_allocator", inst.guest != nil))
	return inst, nil
}

// WazeroInstance is a running module whose exports can be called through
// the wasm32 convention.
//
// WazeroInstance is NOT thread-safe and should be used by a single goroutine.
type WazeroInstance struct {
	module   *WazeroModule
	instance api.Module
	memory   *WazeroMemory
	guest    *wazeroAllocator
	scratch  *scratchAllocator
	exports  map[string]*Export
	stackBuf []uint64
}

// Memory returns the instance's linear memory, or nil if it has none.
func (i *WazeroInstance) Memory() *WazeroMemory {
	return i.memory
}

// MemorySize returns the linear memory size in bytes.
func (i *WazeroInstance) MemorySize() uint32 {
	if i.memory == nil {
		return 0
	}
	return i.memory.Size()
}

// ExportNames returns the names of the exported functions, sorted.
func (i *WazeroInstance) ExportNames() []string {
	return i.module.ExportNames()
}

// Export resolves an exported function into an entry point.
func (i *WazeroInstance) Export(name string) (*Export, error) {
	if i.instance == nil {
		return nil, errors.NotInitialized(errors.PhaseLoad, "wasm instance")
	}
	if e, ok := i.exports[name]; ok {
		return e, nil
	}
	fn := i.instance.ExportedFunction(name)
	if fn == nil {
		return nil, errors.NotFound(errors.PhaseLoad, "export", name)
	}
	e := &Export{inst: i, fn: fn, def: fn.Definition(), name: name}
	i.exports[name] = e
	return e, nil
}

// Callable pairs an export with ctx and a signature. An empty enc derives
// the signature from the export's core types.
func (i *WazeroInstance) Callable(name, enc string, ctx uint64) (dispatch.Callable, error) {
	e, err := i.Export(name)
	if err != nil {
		return dispatch.Callable{}, err
	}
	if enc == "" {
		if enc, err = EncodingForCore(e.def); err != nil {
			return dispatch.Callable{}, err
		}
	}
	sig, err := signature.Parse(enc)
	if err != nil {
		return dispatch.Callable{}, err
	}
	return dispatch.Callable{Entry: e, Context: ctx, Signature: sig}, nil
}

// allocator returns the guest allocator bound to ctx, or the scratch
// region when the module exports none.
func (i *WazeroInstance) allocator(ctx context.Context) allocator {
	if i.guest != nil {
		i.guest.setContext(ctx)
		return i.guest
	}
	return i.scratch
}

func (i *WazeroInstance) Close(ctx context.Context) error {
	var err error
	if i.instance != nil {
		err = i.instance.Close(ctx)
		i.instance = nil
	}
	// Clear references to help GC
	i.exports = nil
	i.memory = nil
	i.guest = nil
	i.scratch = nil
	i.stackBuf = nil
	return err
}

// Export is an exported function of a live instance. It is the entry point
// type the wasm32 convention accepts.
type Export struct {
	inst *WazeroInstance
	fn   api.Function
	def  api.FunctionDefinition
	name string
}

func (e *Export) String() string {
	return fmt.Sprintf("wasm:%s", e.name)
}

// Name returns the export name.
func (e *Export) Name() string { return e.name }

// Definition returns the export's core function type.
func (e *Export) Definition() api.FunctionDefinition { return e.def }

// Instance returns the instance the export belongs to.
func (e *Export) Instance() *WazeroInstance { return e.inst }
