// Package frame stores the shared argument values of an invocation.
package frame

import (
	"encoding/binary"
	"fmt"

	"github.com/bits-and-blooms/bitset"

	"github.com/wippyai/multicall/errors"
	"github.com/wippyai/multicall/resource"
	"github.com/wippyai/multicall/signature"
)

// Ownership says whether a frame slot holds a reference of its own to the
// object stored in it.
type Ownership uint8

const (
	// Borrowed slots store raw bytes; the caller keeps the object alive.
	Borrowed Ownership = iota
	// Held slots retained the object when it was stored.
	Held
)

func (o Ownership) String() string {
	if o == Held {
		return "held"
	}
	return "borrowed"
}

// Retainer takes and drops references to objects stored in held slots.
// *resource.HandleTable implements it.
type Retainer interface {
	Retain(resource.Handle) bool
	Release(resource.Handle) bool
}

// Frame is packed storage for every argument of a signature. Slot 0 belongs
// to the callable and is never accessible. A Frame is not safe for
// concurrent use.
type Frame struct {
	sig      *signature.Signature
	retainer Retainer
	data     []byte
	set      *bitset.BitSet
	held     *bitset.BitSet
	retains  bool
}

// New creates zeroed storage for sig. retainer may be nil when held slots
// are never requested.
func New(sig *signature.Signature, retainer Retainer) *Frame {
	n := uint(sig.ArgumentCount())
	return &Frame{
		sig:      sig,
		retainer: retainer,
		data:     make([]byte, sig.FrameLength()),
		set:      bitset.New(n),
		held:     bitset.New(n),
	}
}

// Signature returns the signature the frame was laid out for.
func (f *Frame) Signature() *signature.Signature { return f.sig }

func (f *Frame) check(index int) error {
	if index == 0 {
		return errors.ReservedIndex(errors.PhaseArgument)
	}
	if index < 0 || index >= f.sig.ArgumentCount() {
		return errors.OutOfBounds(errors.PhaseArgument, []string{"args"}, index, f.sig.ArgumentCount())
	}
	return nil
}

func (f *Frame) slot(index int) []byte {
	off := f.sig.ArgumentOffset(index)
	return f.data[off : off+f.sig.ArgumentSize(index)]
}

// Set copies ArgumentSize(index) bytes from value into the slot. Longer
// values are truncated.
//
// For object slots of a retaining frame the new reference is retained before
// the previous one is released, so storing the same object twice is safe. A
// reference the retainer refuses leaves the slot untouched.
func (f *Frame) Set(index int, value []byte) error {
	if err := f.check(index); err != nil {
		return err
	}
	size := f.sig.ArgumentSize(index)
	if len(value) < size {
		return errors.ShortBuffer(errors.PhaseArgument, index, len(value), size)
	}
	value = value[:size]

	if !f.sig.ArgumentIsObject(index) {
		copy(f.slot(index), value)
		f.set.Set(uint(index))
		return nil
	}

	ref := handleFrom(value)
	hold := f.retains && ref != 0
	if hold {
		if f.retainer == nil {
			return errors.NotInitialized(errors.PhaseArgument, "retainer")
		}
		if !f.retainer.Retain(ref) {
			return errors.New(errors.PhaseArgument, errors.KindInvalidInput).
				Path("args", fmt.Sprint(index)).
				Value(ref).
				Detail("object reference %#x cannot be retained", uintptr(ref)).
				Build()
		}
	}

	f.releaseSlot(index)
	copy(f.slot(index), value)
	f.set.Set(uint(index))
	if hold {
		f.held.Set(uint(index))
	}
	return nil
}

// Get copies the slot into dst, which must hold ArgumentSize(index) bytes.
// Unset slots read as zero.
func (f *Frame) Get(index int, dst []byte) error {
	if err := f.check(index); err != nil {
		return err
	}
	size := f.sig.ArgumentSize(index)
	if len(dst) < size {
		return errors.ShortBuffer(errors.PhaseArgument, index, len(dst), size)
	}
	copy(dst, f.slot(index))
	return nil
}

// SetRetainsArguments switches held ownership for object slots. Turning it
// on retains every object already stored; references the retainer refuses
// stay borrowed and the first such slot is reported, with retention left on.
// Without a retainer for stored objects nothing changes. Turning it off
// keeps existing holds until the slot is overwritten or the frame released.
func (f *Frame) SetRetainsArguments(on bool) error {
	if on == f.retains {
		return nil
	}
	if !on {
		f.retains = false
		return nil
	}

	var pending []int
	for i := 1; i < f.sig.ArgumentCount(); i++ {
		if f.sig.ArgumentIsObject(i) && !f.held.Test(uint(i)) && handleFrom(f.slot(i)) != 0 {
			pending = append(pending, i)
		}
	}
	if len(pending) > 0 && f.retainer == nil {
		return errors.NotInitialized(errors.PhaseArgument, "retainer")
	}
	f.retains = true

	var firstErr error
	for _, i := range pending {
		ref := handleFrom(f.slot(i))
		if !f.retainer.Retain(ref) {
			if firstErr == nil {
				firstErr = errors.New(errors.PhaseArgument, errors.KindInvalidInput).
					Path("args", fmt.Sprint(i)).
					Value(ref).
					Detail("object reference %#x cannot be retained", uintptr(ref)).
					Build()
			}
			continue
		}
		f.held.Set(uint(i))
	}
	return firstErr
}

// RetainsArguments reports whether object slots are stored as held.
func (f *Frame) RetainsArguments() bool { return f.retains }

// Ownership reports how the slot owns its object. Non-object slots are
// always borrowed.
func (f *Frame) Ownership(index int) (Ownership, error) {
	if err := f.check(index); err != nil {
		return Borrowed, err
	}
	if f.held.Test(uint(index)) {
		return Held, nil
	}
	return Borrowed, nil
}

// IsSet reports whether the slot was ever written.
func (f *Frame) IsSet(index int) bool {
	if index <= 0 || index >= f.sig.ArgumentCount() {
		return false
	}
	return f.set.Test(uint(index))
}

// Bytes returns the packed storage, slot 0 included. The slice aliases the
// frame and must not be modified.
func (f *Frame) Bytes() []byte { return f.data }

// Release drops every hold the frame has. Stored bytes are kept and the
// slots become borrowed.
func (f *Frame) Release() {
	for i, ok := f.held.NextSet(0); ok; i, ok = f.held.NextSet(i + 1) {
		f.releaseSlot(int(i))
	}
}

func (f *Frame) releaseSlot(index int) {
	if !f.held.Test(uint(index)) {
		return
	}
	f.held.Clear(uint(index))
	if ref := handleFrom(f.slot(index)); ref != 0 {
		f.retainer.Release(ref)
	}
}

// handleFrom reads a pointer-width object reference in host byte order.
func handleFrom(b []byte) resource.Handle {
	switch len(b) {
	case 8:
		return resource.Handle(binary.NativeEndian.Uint64(b))
	case 4:
		return resource.Handle(binary.NativeEndian.Uint32(b))
	}
	return 0
}

// PutHandle writes h at the width of dst in host byte order.
func PutHandle(dst []byte, h resource.Handle) {
	switch len(dst) {
	case 8:
		binary.NativeEndian.PutUint64(dst, uint64(h))
	case 4:
		binary.NativeEndian.PutUint32(dst, uint32(h))
	}
}

// HandleFrom reads an object reference stored by PutHandle.
func HandleFrom(b []byte) resource.Handle { return handleFrom(b) }
