// Package signature holds the immutable call shape shared by every callable
// in an invocation.
package signature

import (
	"fmt"

	"github.com/wippyai/multicall/encoding"
	"github.com/wippyai/multicall/errors"
)

// Signature is a parsed encoding with argument storage offsets precomputed.
// It never changes after construction and is safe to share.
//
// Index 0 is the callable itself. Accessors that take an index panic when it
// is out of range, like reflect.Type.In; Argument is the checked variant.
type Signature struct {
	method   *encoding.MethodType
	offsets  []int
	frameLen int
}

// Parse parses enc under the host data model.
func Parse(enc string) (*Signature, error) {
	return ParseModel(enc, encoding.Host)
}

// ParseModel parses enc under data model m.
func ParseModel(enc string, m encoding.Model) (*Signature, error) {
	mt, err := encoding.NewParser(m).ParseMethod(enc)
	if err != nil {
		return nil, err
	}
	return New(mt), nil
}

// New wraps an already parsed method type.
func New(mt *encoding.MethodType) *Signature {
	s := &Signature{
		method:  mt,
		offsets: make([]int, len(mt.Args)),
	}
	for i, t := range mt.Args {
		s.offsets[i] = s.frameLen
		s.frameLen += t.Size()
	}
	return s
}

// ArgumentCount returns the number of arguments, self included.
func (s *Signature) ArgumentCount() int { return len(s.method.Args) }

// Argument returns the type of argument i.
func (s *Signature) Argument(i int) (*encoding.Type, error) {
	if i < 0 || i >= len(s.method.Args) {
		return nil, errors.OutOfBounds(errors.PhaseArgument, []string{"args"}, i, len(s.method.Args))
	}
	return s.method.Args[i], nil
}

// ArgumentSize returns the storage size of argument i.
func (s *Signature) ArgumentSize(i int) int { return s.method.Args[i].Size() }

// ArgumentEncoding returns the token text of argument i.
func (s *Signature) ArgumentEncoding(i int) string { return s.method.Args[i].String() }

// ArgumentOffset returns where argument i starts in frame storage. Arguments
// are packed back to back in index order.
func (s *Signature) ArgumentOffset(i int) int { return s.offsets[i] }

// ArgumentIsObject reports whether argument i is an object reference.
func (s *Signature) ArgumentIsObject(i int) bool { return s.method.Args[i].IsObject() }

// ArgumentIsPointer reports whether argument i is a raw pointer or C string.
func (s *Signature) ArgumentIsPointer(i int) bool { return s.method.Args[i].IsPointer() }

// Return returns the return type.
func (s *Signature) Return() *encoding.Type { return s.method.Return }

// ReturnSize returns the size of one return buffer.
func (s *Signature) ReturnSize() int { return s.method.Return.Size() }

// ReturnIsObject reports whether the callable returns an object reference.
func (s *Signature) ReturnIsObject() bool { return s.method.Return.IsObject() }

// FrameLength returns the storage size of all arguments, self included.
func (s *Signature) FrameLength() int { return s.frameLen }

// StackSize returns the frame size carried by, or computed for, the encoding.
func (s *Signature) StackSize() int { return s.method.FrameSize }

// Encoding returns the source text.
func (s *Signature) Encoding() string { return s.method.Source }

// Model returns the data model the signature was laid out in.
func (s *Signature) Model() encoding.Model { return s.method.Model }

// Method returns the underlying parse result.
func (s *Signature) Method() *encoding.MethodType { return s.method }

func (s *Signature) String() string { return s.method.Source }

// Equal reports structural equality: same argument count, and the same kind
// and size for the return and for every argument.
func (s *Signature) Equal(o *Signature) bool {
	return s.Mismatch(o) == ""
}

// Mismatch describes the first structural difference between s and o, or
// returns "" when they are equal.
func (s *Signature) Mismatch(o *Signature) string {
	if o == nil {
		return "missing signature"
	}
	if s == o {
		return ""
	}
	if n, m := s.ArgumentCount(), o.ArgumentCount(); n != m {
		return fmt.Sprintf("argument count %d, want %d", m, n)
	}
	if !encoding.SameShape(s.Return(), o.Return()) {
		return fmt.Sprintf("return %s (%s/%d), want %s (%s/%d)",
			o.Return(), o.Return().Kind(), o.Return().Size(),
			s.Return(), s.Return().Kind(), s.Return().Size())
	}
	for i := range s.method.Args {
		a, b := s.method.Args[i], o.method.Args[i]
		if !encoding.SameShape(a, b) {
			return fmt.Sprintf("argument %d is %s (%s/%d), want %s (%s/%d)",
				i, b, b.Kind(), b.Size(), a, a.Kind(), a.Size())
		}
	}
	return ""
}
