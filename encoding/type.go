package encoding

import "fmt"

// Kind classifies a type for calling-convention purposes.
type Kind uint8

const (
	KindVoid    Kind = iota
	KindInt          // signed integer
	KindUint         // unsigned integer and C99 bool
	KindFloat        // float, double, long double
	KindPointer      // raw pointer, selector, function pointer
	KindCString      // char *
	KindObject       // object, class and block references
	KindStruct
	KindUnion
	KindArray
	KindUnknown // only legal behind a pointer
)

var kindNames = [...]string{
	KindVoid:    "void",
	KindInt:     "int",
	KindUint:    "uint",
	KindFloat:   "float",
	KindPointer: "pointer",
	KindCString: "cstring",
	KindObject:  "object",
	KindStruct:  "struct",
	KindUnion:   "union",
	KindArray:   "array",
	KindUnknown: "unknown",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Field is one member of a struct or union.
type Field struct {
	Type   *Type
	Name   string
	Offset int
}

// Type describes one argument or return slot. Types are built by the parser
// and never change afterwards, so they can be shared freely.
type Type struct {
	elem   *Type
	name   string
	text   string
	fields []Field
	size   int
	align  int
	count  int
	kind   Kind
	code   byte
	block  bool
	opaque bool
}

// Kind returns the classification of the type.
func (t *Type) Kind() Kind { return t.kind }

// Code returns the type character of the token with qualifiers stripped.
func (t *Type) Code() byte { return t.code }

// Size returns the byte size under the model the type was parsed with.
func (t *Type) Size() int { return t.size }

// Align returns the alignment under the model the type was parsed with.
func (t *Type) Align() int { return t.align }

// Name returns the struct or union tag, or the class name of an object reference.
func (t *Type) Name() string { return t.name }

// Len returns the element count of an array.
func (t *Type) Len() int { return t.count }

// Elem returns the element type of an array or the pointee of a pointer.
// The pointee of a function pointer is nil.
func (t *Type) Elem() *Type { return t.elem }

// NumFields returns the number of struct or union members.
func (t *Type) NumFields() int { return len(t.fields) }

// Field returns the i-th struct or union member.
func (t *Type) Field(i int) Field { return t.fields[i] }

// IsBlock reports whether the type is a block reference (@?).
func (t *Type) IsBlock() bool { return t.block }

// IsOpaque reports whether the type is a struct or union declared without members.
func (t *Type) IsOpaque() bool { return t.opaque }

// IsObject reports whether the type is an object, class or block reference.
func (t *Type) IsObject() bool { return t.kind == KindObject }

// IsPointer reports whether the type is a raw pointer or C string.
func (t *Type) IsPointer() bool { return t.kind == KindPointer || t.kind == KindCString }

// IsAggregate reports whether the type is a struct, union or array.
func (t *Type) IsAggregate() bool {
	return t.kind == KindStruct || t.kind == KindUnion || t.kind == KindArray
}

// IsScalar reports whether the type fits a single integer or float register.
func (t *Type) IsScalar() bool {
	switch t.kind {
	case KindInt, KindUint, KindFloat, KindPointer, KindCString, KindObject:
		return true
	}
	return false
}

// String returns the token text the type was parsed from, qualifiers included.
func (t *Type) String() string { return t.text }

// SameShape reports whether a and b agree on kind and size, the structural
// equality used for signatures.
func SameShape(a, b *Type) bool {
	return a.kind == b.kind && a.size == b.size
}

// SizeIn returns the byte size of t under model m.
func (t *Type) SizeIn(m Model) int {
	size, _ := t.layout(m)
	return size
}

// AlignIn returns the alignment of t under model m.
func (t *Type) AlignIn(m Model) int {
	_, align := t.layout(m)
	return align
}

// FieldOffsetsIn returns member offsets of a struct under model m.
// Union members all start at offset zero.
func (t *Type) FieldOffsetsIn(m Model) []int {
	offsets := make([]int, len(t.fields))
	if t.kind != KindStruct {
		return offsets
	}
	off := 0
	for i, f := range t.fields {
		size, align := f.Type.layout(m)
		off = alignUp(off, align)
		offsets[i] = off
		off += size
	}
	return offsets
}

func (t *Type) layout(m Model) (size, align int) {
	switch t.kind {
	case KindVoid, KindUnknown:
		return 0, 1
	case KindInt, KindUint:
		if t.size == 8 {
			return 8, m.Int64Align
		}
		return t.size, t.size
	case KindFloat:
		switch t.code {
		case 'f':
			return 4, 4
		case 'd':
			return 8, m.Float64Align
		default:
			return m.LongDoubleSize, m.LongDoubleAlign
		}
	case KindPointer, KindCString, KindObject:
		return m.PointerSize, m.PointerSize
	case KindArray:
		size, align := t.elem.layout(m)
		return size * t.count, align
	case KindStruct:
		off, maxAlign := 0, 1
		for _, f := range t.fields {
			size, align := f.Type.layout(m)
			off = alignUp(off, align) + size
			if align > maxAlign {
				maxAlign = align
			}
		}
		return alignUp(off, maxAlign), maxAlign
	case KindUnion:
		maxSize, maxAlign := 0, 1
		for _, f := range t.fields {
			size, align := f.Type.layout(m)
			if size > maxSize {
				maxSize = size
			}
			if align > maxAlign {
				maxAlign = align
			}
		}
		return alignUp(maxSize, maxAlign), maxAlign
	}
	return 0, 1
}

// frameAdvance is how far a compiler moves the encoded offset past an
// argument of type t: integers are promoted to int and arrays decay.
func (t *Type) frameAdvance(m Model) int {
	switch t.kind {
	case KindInt, KindUint:
		if t.size < 4 {
			return 4
		}
	case KindArray:
		return m.PointerSize
	}
	return t.SizeIn(m)
}

func alignUp(x, a int) int {
	if a <= 1 {
		return x
	}
	return (x + a - 1) / a * a
}
