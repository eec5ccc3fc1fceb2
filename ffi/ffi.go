//go:build cgo && libffi

package ffi

/*
#cgo pkg-config: libffi
#cgo LDFLAGS: -ldl
#include <ffi.h>
#include <dlfcn.h>
#include <stdlib.h>

static void mc_ffi_call(ffi_cif* cif, void* fn, void* rvalue, void** avalue) {
	ffi_call(cif, (void (*)(void))fn, rvalue, avalue);
}

static int mc_default_abi(void) {
	return FFI_DEFAULT_ABI;
}

static void* mc_dlopen(const char* path) {
	return dlopen(path, RTLD_LAZY | RTLD_LOCAL);
}

static const char* mc_dlerror(void) {
	return dlerror();
}

static void* mc_dlsym(void* h, const char* name, char** err) {
	dlerror();
	void* p = dlsym(h, name);
	char* e = dlerror();
	if (e) { *err = e; return NULL; }
	*err = NULL;
	return p;
}

static int mc_dlclose(void* h) {
	return dlclose(h);
}
*/
import "C"

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"unsafe"

	"github.com/puzpuzpuz/xsync/v2"

	"github.com/wippyai/multicall/dispatch"
	"github.com/wippyai/multicall/encoding"
	"github.com/wippyai/multicall/errors"
	"github.com/wippyai/multicall/signature"
)

func dlerr() string {
	if e := C.mc_dlerror(); e != nil {
		return C.GoString(e)
	}
	return "unknown dlerror"
}

// Library is an open shared object.
type Library struct {
	mu     sync.Mutex
	handle unsafe.Pointer
	path   string
}

// Open loads the shared object at path. An empty path opens the running
// program and the libraries it was linked with.
func Open(path string) (*Library, error) {
	var cpath *C.char
	if path != "" {
		cpath = C.CString(path)
		defer C.free(unsafe.Pointer(cpath))
	}
	h := C.mc_dlopen(cpath)
	if h == nil {
		return nil, errors.New(errors.PhaseLoad, errors.KindNotFound).
			Detail("dlopen(%q): %s", path, dlerr()).
			Build()
	}
	return &Library{handle: h, path: path}, nil
}

// Close unloads the library. Symbols resolved from it must not be called
// afterwards.
func (l *Library) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.handle == nil {
		return nil
	}
	rc := C.mc_dlclose(l.handle)
	l.handle = nil
	if rc != 0 {
		return errors.New(errors.PhaseRuntime, errors.KindInvalidInput).
			Detail("dlclose(%q): %s", l.path, dlerr()).
			Build()
	}
	return nil
}

// Symbol resolves name to a function entry point.
func (l *Library) Symbol(name string) (*Symbol, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.handle == nil {
		return nil, errors.NotInitialized(errors.PhaseLoad, "library")
	}
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))
	var cerr *C.char
	p := C.mc_dlsym(l.handle, cname, &cerr)
	if cerr != nil || p == nil {
		detail := "symbol is NULL"
		if cerr != nil {
			detail = C.GoString(cerr)
		}
		return nil, errors.New(errors.PhaseLoad, errors.KindNotFound).
			Detail("dlsym(%q): %s", name, detail).
			Build()
	}
	return &Symbol{lib: l, name: name, ptr: p}, nil
}

// Callable resolves name and pairs it with the signature enc and context
// ctx.
func (l *Library) Callable(name, enc string, ctx uint64) (dispatch.Callable, error) {
	s, err := l.Symbol(name)
	if err != nil {
		return dispatch.Callable{}, err
	}
	return dispatch.NewCallable(s, ctx, enc)
}

// Symbol is a native function entry point.
type Symbol struct {
	lib  *Library
	name string
	ptr  unsafe.Pointer
}

var _ dispatch.EntryPoint = (*Symbol)(nil)

func (s *Symbol) String() string { return "c:" + s.name }

// Name returns the symbol name.
func (s *Symbol) Name() string { return s.name }

// Convention calls *Symbol entry points through libffi. Prepared call
// interfaces are cached per signature encoding and live until Close.
type Convention struct {
	cifs *xsync.MapOf[string, *cif]
}

var _ dispatch.Convention = (*Convention)(nil)

// NewConvention creates the native C convention.
func NewConvention() *Convention {
	return &Convention{cifs: xsync.NewMapOf[*cif]()}
}

func (*Convention) Name() string { return "c" }

func (*Convention) Accepts(e dispatch.EntryPoint) bool {
	_, ok := e.(*Symbol)
	return ok
}

// Check verifies that libffi can describe every type of the signature.
func (c *Convention) Check(call dispatch.Callable) error {
	if _, ok := call.Entry.(*Symbol); !ok {
		return errors.Unsupported(errors.PhaseAdmit, fmt.Sprintf("entry point %T is not a native symbol", call.Entry))
	}
	_, err := c.cifFor(call.Signature)
	return err
}

func (c *Convention) PerformCall(_ context.Context, entry dispatch.EntryPoint, frame []byte, sig *signature.Signature, ret []byte) error {
	s, ok := entry.(*Symbol)
	if !ok {
		return errors.Unsupported(errors.PhaseInvoke, fmt.Sprintf("entry point %T is not a native symbol", entry))
	}
	s.lib.mu.Lock()
	open := s.lib.handle != nil
	s.lib.mu.Unlock()
	if !open {
		return errors.NotInitialized(errors.PhaseInvoke, "library")
	}
	p, err := c.cifFor(sig)
	if err != nil {
		return err
	}

	// Arguments, the argument vector, the cells holding the address of each
	// array argument and the return slot live in one C block; libffi must
	// not see Go pointers.
	n := sig.ArgumentCount()
	ptrSize := int(unsafe.Sizeof(uintptr(0)))
	retSize := max(sig.ReturnSize(), int(unsafe.Sizeof(C.ffi_arg(0))))
	argsLen := alignUp(len(frame), ptrSize)
	vecLen := n * ptrSize
	total := argsLen + 2*vecLen + alignUp(retSize, 16) + 16
	block := C.calloc(1, C.size_t(total))
	if block == nil {
		return errors.AllocationFailed(errors.PhaseInvoke, uint32(total), 16)
	}
	defer C.free(block)

	mem := unsafe.Slice((*byte)(block), total)
	copy(mem, frame)
	avalue := unsafe.Slice((*unsafe.Pointer)(unsafe.Pointer(&mem[argsLen])), n)
	cells := unsafe.Slice((*unsafe.Pointer)(unsafe.Pointer(&mem[argsLen+vecLen])), n)
	for i := range avalue {
		arg := unsafe.Pointer(&mem[sig.ArgumentOffset(i)])
		if p.byRef[i] {
			// C array parameters decay to a pointer to their first element.
			cells[i] = arg
			arg = unsafe.Pointer(&cells[i])
		}
		avalue[i] = arg
	}
	rstart := alignUp(int(uintptr(block))+argsLen+2*vecLen, 16) - int(uintptr(block))
	rvalue := unsafe.Pointer(&mem[rstart])

	C.mc_ffi_call(p.c, s.ptr, rvalue, (*unsafe.Pointer)(unsafe.Pointer(&avalue[0])))

	size := sig.ReturnSize()
	if len(ret) > size {
		ret = ret[:size]
	}
	clear(ret)
	if size == 0 {
		return nil
	}
	rt := sig.Return()
	if (rt.Kind() == encoding.KindInt || rt.Kind() == encoding.KindUint) && size < int(unsafe.Sizeof(C.ffi_arg(0))) {
		// Small integer results are widened to a full ffi_arg.
		v := uint64(*(*C.ffi_arg)(rvalue))
		putUint(ret, v)
		return nil
	}
	copy(ret, mem[rstart:rstart+size])
	return nil
}

// Close frees every prepared call interface.
func (c *Convention) Close() {
	c.cifs.Range(func(key string, p *cif) bool {
		p.free()
		c.cifs.Delete(key)
		return true
	})
}

func (c *Convention) cifFor(sig *signature.Signature) (*cif, error) {
	if sig.Model() != encoding.Host {
		return nil, errors.Unsupported(errors.PhaseAdmit,
			fmt.Sprintf("native calls need the host data model, signature uses %s", sig.Model().Name))
	}
	key := sig.Encoding()
	if p, ok := c.cifs.Load(key); ok {
		return p, nil
	}
	p, err := prepare(sig)
	if err != nil {
		return nil, err
	}
	if prev, loaded := c.cifs.LoadOrStore(key, p); loaded {
		p.free()
		return prev, nil
	}
	return p, nil
}

// cif is a prepared call interface and the C memory describing its types.
type cif struct {
	c      *C.ffi_cif
	allocs []unsafe.Pointer
	// byRef marks array arguments, which are passed by address.
	byRef []bool
}

func (p *cif) alloc(size uintptr) unsafe.Pointer {
	m := C.calloc(1, C.size_t(size))
	p.allocs = append(p.allocs, m)
	return m
}

func (p *cif) free() {
	for _, m := range p.allocs {
		C.free(m)
	}
	p.allocs = nil
	p.c = nil
}

func prepare(sig *signature.Signature) (*cif, error) {
	n := sig.ArgumentCount()
	p := &cif{byRef: make([]bool, n)}
	argv := unsafe.Slice((**C.ffi_type)(p.alloc(uintptr(n)*unsafe.Sizeof((*C.ffi_type)(nil)))), n)
	for i := range argv {
		t, _ := sig.Argument(i)
		if t.Kind() == encoding.KindArray {
			argv[i] = &C.ffi_type_pointer
			p.byRef[i] = true
			continue
		}
		ft, err := p.typeOf(t, []string{"args", fmt.Sprint(i)})
		if err != nil {
			p.free()
			return nil, err
		}
		argv[i] = ft
	}
	rt, err := p.typeOf(sig.Return(), []string{"return"})
	if err != nil {
		p.free()
		return nil, err
	}

	p.c = (*C.ffi_cif)(p.alloc(unsafe.Sizeof(C.ffi_cif{})))
	status := C.ffi_prep_cif(p.c, C.ffi_abi(C.mc_default_abi()), C.uint(n), rt, &argv[0])
	if status != C.FFI_OK {
		p.free()
		return nil, errors.New(errors.PhaseAdmit, errors.KindUnsupported).
			Encoding(sig.Encoding()).
			Detail("ffi_prep_cif failed with status %d", int(status)).
			Build()
	}
	return p, nil
}

func (p *cif) typeOf(t *encoding.Type, path []string) (*C.ffi_type, error) {
	switch t.Kind() {
	case encoding.KindVoid:
		return &C.ffi_type_void, nil
	case encoding.KindInt:
		switch t.Size() {
		case 1:
			return &C.ffi_type_sint8, nil
		case 2:
			return &C.ffi_type_sint16, nil
		case 4:
			return &C.ffi_type_sint32, nil
		case 8:
			return &C.ffi_type_sint64, nil
		}
	case encoding.KindUint:
		switch t.Size() {
		case 1:
			return &C.ffi_type_uint8, nil
		case 2:
			return &C.ffi_type_uint16, nil
		case 4:
			return &C.ffi_type_uint32, nil
		case 8:
			return &C.ffi_type_uint64, nil
		}
	case encoding.KindFloat:
		switch t.Size() {
		case 4:
			return &C.ffi_type_float, nil
		case 8:
			return &C.ffi_type_double, nil
		default:
			return &C.ffi_type_longdouble, nil
		}
	case encoding.KindPointer, encoding.KindCString, encoding.KindObject:
		return &C.ffi_type_pointer, nil
	case encoding.KindStruct:
		elems := make([]*C.ffi_type, t.NumFields())
		for i := range elems {
			f := t.Field(i)
			ft, err := p.typeOf(f.Type, append(path, fmt.Sprint(i)))
			if err != nil {
				return nil, err
			}
			elems[i] = ft
		}
		return p.aggregate(elems, t, path)
	case encoding.KindArray:
		if t.Len() == 0 {
			return nil, unsupported(t, path, "zero-length array")
		}
		et, err := p.typeOf(t.Elem(), path)
		if err != nil {
			return nil, err
		}
		elems := make([]*C.ffi_type, t.Len())
		for i := range elems {
			elems[i] = et
		}
		return p.aggregate(elems, t, path)
	case encoding.KindUnion:
		// Described as the most aligned member padded with bytes to the
		// union's size.
		var widest *encoding.Type
		for i := 0; i < t.NumFields(); i++ {
			m := t.Field(i).Type
			if widest == nil || m.Align() > widest.Align() || (m.Align() == widest.Align() && m.Size() > widest.Size()) {
				widest = m
			}
		}
		if widest == nil {
			return nil, unsupported(t, path, "empty union")
		}
		wt, err := p.typeOf(widest, path)
		if err != nil {
			return nil, err
		}
		elems := []*C.ffi_type{wt}
		for pad := widest.Size(); pad < t.Size(); pad++ {
			elems = append(elems, &C.ffi_type_uint8)
		}
		return p.aggregate(elems, t, path)
	}
	return nil, unsupported(t, path, "no libffi type")
}

func (p *cif) aggregate(elems []*C.ffi_type, t *encoding.Type, path []string) (*C.ffi_type, error) {
	if len(elems) == 0 {
		return nil, unsupported(t, path, "empty aggregate")
	}
	ptrs := unsafe.Slice((**C.ffi_type)(p.alloc(uintptr(len(elems)+1)*unsafe.Sizeof((*C.ffi_type)(nil)))), len(elems)+1)
	copy(ptrs, elems)
	ft := (*C.ffi_type)(p.alloc(unsafe.Sizeof(C.ffi_type{})))
	ft._type = C.FFI_TYPE_STRUCT
	ft.elements = &ptrs[0]
	return ft, nil
}

func unsupported(t *encoding.Type, path []string, detail string) error {
	return errors.New(errors.PhaseAdmit, errors.KindUnsupported).
		Path(path...).
		Encoding(t.String()).
		Detail("%s", detail).
		Build()
}

func alignUp(n, align int) int {
	return (n + align - 1) &^ (align - 1)
}

func putUint(dst []byte, v uint64) {
	switch len(dst) {
	case 1:
		dst[0] = byte(v)
	case 2:
		binary.NativeEndian.PutUint16(dst, uint16(v))
	case 4:
		binary.NativeEndian.PutUint32(dst, uint32(v))
	case 8:
		binary.NativeEndian.PutUint64(dst, v)
	}
}
