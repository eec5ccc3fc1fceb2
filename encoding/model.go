package encoding

import "unsafe"

// Model fixes the sizes the grammar leaves to the platform.
type Model struct {
	Name            string
	PointerSize     int
	Int64Align      int
	Float64Align    int
	LongDoubleSize  int
	LongDoubleAlign int
}

var (
	// LP64 is the 64-bit Unix data model (x86-64, arm64 Linux).
	LP64 = Model{Name: "lp64", PointerSize: 8, Int64Align: 8, Float64Align: 8, LongDoubleSize: 16, LongDoubleAlign: 16}

	// ILP32 is the 32-bit x86 System V data model.
	ILP32 = Model{Name: "ilp32", PointerSize: 4, Int64Align: 4, Float64Align: 4, LongDoubleSize: 12, LongDoubleAlign: 4}

	// Wasm32 is the clang wasm32 data model.
	Wasm32 = Model{Name: "wasm32", PointerSize: 4, Int64Align: 8, Float64Align: 8, LongDoubleSize: 16, LongDoubleAlign: 16}

	// Host is the data model of the running process.
	Host = hostModel()
)

func hostModel() Model {
	if unsafe.Sizeof(uintptr(0)) == 8 {
		m := LP64
		m.Name = "host"
		return m
	}
	m := ILP32
	m.Name = "host"
	return m
}
