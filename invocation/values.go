package invocation

import (
	"fmt"
	"unsafe"

	"github.com/wippyai/multicall/errors"
)

func bytesOf[T any](v *T) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(v)), unsafe.Sizeof(*v))
}

func sizeCheck[T any](phase errors.Phase, path []string, want int) error {
	var zero T
	if got := int(unsafe.Sizeof(zero)); got != want {
		return errors.New(phase, errors.KindInvalidInput).
			Path(path...).
			GoType(fmt.Sprintf("%T", zero)).
			Detail("%d-byte Go value for a %d-byte slot", got, want).
			Build()
	}
	return nil
}

// SetValue stores v as argument index. T must have the slot's size; its
// bytes are copied as is.
func SetValue[T any](inv *Invocation, index int, v T) error {
	if inv.sig == nil {
		return errors.NotInitialized(errors.PhaseArgument, "invocation signature")
	}
	if index > 0 && index < inv.sig.ArgumentCount() {
		if err := sizeCheck[T](errors.PhaseArgument, []string{"args", fmt.Sprint(index)}, inv.sig.ArgumentSize(index)); err != nil {
			return err
		}
	}
	return inv.SetArgument(index, bytesOf(&v))
}

// ArgumentValue reads argument index as a T.
func ArgumentValue[T any](inv *Invocation, index int) (T, error) {
	var v T
	if inv.sig == nil {
		return v, errors.NotInitialized(errors.PhaseArgument, "invocation signature")
	}
	if index > 0 && index < inv.sig.ArgumentCount() {
		if err := sizeCheck[T](errors.PhaseArgument, []string{"args", fmt.Sprint(index)}, inv.sig.ArgumentSize(index)); err != nil {
			return v, err
		}
	}
	err := inv.GetArgument(index, bytesOf(&v))
	return v, err
}

// ReturnAs reads the return value of callable index as a T.
func ReturnAs[T any](inv *Invocation, index int) (T, error) {
	var v T
	if err := inv.checkReturn(index); err != nil {
		return v, err
	}
	if err := sizeCheck[T](errors.PhaseResult, []string{"return"}, inv.sig.ReturnSize()); err != nil {
		return v, err
	}
	err := inv.ReturnValue(index, bytesOf(&v))
	return v, err
}
