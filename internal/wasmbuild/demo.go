package wasmbuild

import "github.com/tetratelabs/wazero/api"

// HeapBase is where the demo module's bump allocator starts.
const HeapBase = 1024

func vt(ts ...api.ValueType) []api.ValueType { return ts }

// Demo builds the module used by tests and the basic example. Every export
// except answer and cabi_realloc takes the callable's context as its first
// i32 parameter (after the hidden return pointer, when there is one):
//
//	double(self, x i32) i32            x+x
//	square(self, x i32) i32            x*x
//	addContext(self, x i32) i32        self+x
//	wrapInc(self, w i32) i32           w+1, w is a one-field struct
//	addWide(self, a i64, b f64) f64    float64(a)+b
//	scale(self, x f32) f32             x+x
//	sumPoint(self, p i32) f64          p.x+p.y, p points at two f64
//	makePair(ret, self, a i32, b f64)  *ret = {a, b}
//	mirror(ret, self, p i32)           *ret = {p.y, p.x}
//	trap(self)                         unreachable
//	answer() i32                       42
//
// When withRealloc is set the module also exports a bump cabi_realloc.
func Demo(withRealloc bool) []byte {
	b := New().Memory(1)

	b.Func("double", vt(I32, I32), vt(I32), Body(LocalGet(1), LocalGet(1), I32Add()))
	b.Func("square", vt(I32, I32), vt(I32), Body(LocalGet(1), LocalGet(1), I32Mul()))
	b.Func("addContext", vt(I32, I32), vt(I32), Body(LocalGet(0), LocalGet(1), I32Add()))
	b.Func("wrapInc", vt(I32, I32), vt(I32), Body(LocalGet(1), I32Const(1), I32Add()))
	b.Func("addWide", vt(I32, I64, F64), vt(F64), Body(LocalGet(1), F64FromI64(), LocalGet(2), F64Add()))
	b.Func("scale", vt(I32, F32), vt(F32), Body(LocalGet(1), LocalGet(1), F32Add()))
	b.Func("sumPoint", vt(I32, I32), vt(F64), Body(
		LocalGet(1), F64Load(0),
		LocalGet(1), F64Load(8),
		F64Add(),
	))
	b.Func("makePair", vt(I32, I32, I32, F64), nil, Body(
		LocalGet(0), LocalGet(2), I32Store(0),
		LocalGet(0), LocalGet(3), F64Store(8),
	))
	b.Func("mirror", vt(I32, I32, I32), nil, Body(
		LocalGet(0), LocalGet(2), F64Load(8), F64Store(0),
		LocalGet(0), LocalGet(2), F64Load(0), F64Store(8),
	))
	b.Func("trap", vt(I32), nil, Unreachable())
	b.Func("answer", nil, vt(I32), I32Const(42))

	if withRealloc {
		heap := b.Global(HeapBase)
		// (old, oldSize, align, newSize) -> ptr; never frees.
		b.FuncWithLocals("cabi_realloc", vt(I32, I32, I32, I32), vt(I32), vt(I32), Body(
			GlobalGet(heap), LocalGet(2), I32Add(), I32Const(1), I32Sub(),
			I32Const(0), LocalGet(2), I32Sub(), I32And(),
			LocalTee(4),
			LocalGet(3), I32Add(), GlobalSet(heap),
			LocalGet(4),
		))
	}
	return b.Build()
}
