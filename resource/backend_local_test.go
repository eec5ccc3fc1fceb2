package resource

import (
	"errors"
	"sync"
	"testing"
)

var _ Backend = (*LocalBackend)(nil)

func TestLocalBackend_Basic(t *testing.T) {
	b := NewLocalBackend()

	handle, err := b.Create(1, "test value")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if handle == 0 {
		t.Fatal("Expected non-zero handle")
	}

	val, ok := b.Get(handle)
	if !ok {
		t.Fatal("Get failed")
	}
	if val != "test value" {
		t.Fatalf("Expected 'test value', got %v", val)
	}

	refs, ok := b.RefCount(handle)
	if !ok || refs != 1 {
		t.Fatalf("RefCount = %d, %v; want 1", refs, ok)
	}

	val, dropped, ok := b.Release(handle)
	if !ok || !dropped {
		t.Fatalf("Release = %v, %v; want last reference dropped", dropped, ok)
	}
	if val != "test value" {
		t.Fatalf("Expected 'test value', got %v", val)
	}

	if _, ok := b.Get(handle); ok {
		t.Fatal("Expected Get to fail after last Release")
	}
}

func TestLocalBackend_RetainRelease(t *testing.T) {
	b := NewLocalBackend()
	handle, _ := b.Create(1, "obj")

	for i := 0; i < 3; i++ {
		if !b.Retain(handle) {
			t.Fatalf("Retain %d failed", i)
		}
	}
	if refs, _ := b.RefCount(handle); refs != 4 {
		t.Fatalf("RefCount = %d, want 4", refs)
	}

	for i := 0; i < 3; i++ {
		_, dropped, ok := b.Release(handle)
		if !ok || dropped {
			t.Fatalf("Release %d = dropped %v ok %v", i, dropped, ok)
		}
	}

	// The creator's reference keeps the value alive.
	if _, ok := b.Get(handle); !ok {
		t.Fatal("value should survive until the last release")
	}

	if _, dropped, _ := b.Release(handle); !dropped {
		t.Fatal("last Release should drop")
	}
	if b.Retain(handle) {
		t.Fatal("Retain of a dropped handle should fail")
	}
	if _, _, ok := b.Release(handle); ok {
		t.Fatal("Release of a dropped handle should fail")
	}
}

func TestLocalBackend_Remove(t *testing.T) {
	b := NewLocalBackend()
	handle, _ := b.Create(1, "obj")
	b.Retain(handle)

	if _, _, err := b.Remove(handle); !errors.Is(err, ErrOutstandingReferences) {
		t.Fatalf("Remove with a second reference: err = %v", err)
	}

	b.Release(handle)
	val, ok, err := b.Remove(handle)
	if err != nil || !ok || val != "obj" {
		t.Fatalf("Remove = %v, %v, %v", val, ok, err)
	}

	if _, ok, err := b.Remove(handle); ok || err != nil {
		t.Fatalf("second Remove = %v, %v", ok, err)
	}
}

func TestLocalBackend_HandleReuse(t *testing.T) {
	b := NewLocalBackend()

	h1, _ := b.Create(1, 1)
	h2, _ := b.Create(1, 2)
	h3, _ := b.Create(1, 3)

	b.Drop(h2)
	b.Drop(h1)

	h4, _ := b.Create(1, 4)
	h5, _ := b.Create(1, 5)

	if h4 != h1 || h5 != h2 {
		t.Fatalf("expected freed slots to be reused, got %d and %d", h4, h5)
	}

	for _, h := range []Handle{h3, h4, h5} {
		if _, ok := b.Get(h); !ok {
			t.Fatalf("handle %d should be valid", h)
		}
	}
	if refs, _ := b.RefCount(h4); refs != 1 {
		t.Fatalf("reused handle starts with %d references", refs)
	}
}

func TestLocalBackend_Close(t *testing.T) {
	b := NewLocalBackend()
	d := &dropCounter{}

	h, _ := b.Create(1, d)
	b.Retain(h)

	if err := b.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if d.count != 1 {
		t.Fatalf("Close called Drop %d times, want 1", d.count)
	}

	_, err := b.Create(1, "test")
	if !errors.Is(err, ErrClosed) {
		t.Fatal("Expected ErrClosed after Close")
	}
}

func TestLocalBackend_Concurrent(t *testing.T) {
	b := NewLocalBackend()
	var wg sync.WaitGroup

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			h, _ := b.Create(1, id)
			b.Retain(h)
			b.Release(h)
			b.Release(h)
		}(i)
	}

	wg.Wait()

	if b.Len() != 0 {
		t.Fatalf("Len = %d after balanced retain/release", b.Len())
	}
}

func TestLocalBackend_Len(t *testing.T) {
	b := NewLocalBackend()

	if b.Len() != 0 {
		t.Fatal("Expected Len() == 0 initially")
	}

	h1, _ := b.Create(1, "a")
	h2, _ := b.Create(1, "b")
	b.Create(1, "c")

	if b.Len() != 3 {
		t.Fatalf("Expected Len() == 3, got %d", b.Len())
	}

	b.Release(h1)
	if b.Len() != 2 {
		t.Fatalf("Expected Len() == 2, got %d", b.Len())
	}

	b.Drop(h2)
	if b.Len() != 1 {
		t.Fatalf("Expected Len() == 1, got %d", b.Len())
	}
}

func TestLocalBackend_Each(t *testing.T) {
	b := NewLocalBackend()

	b.Create(1, "a")
	b.Create(2, "b")
	b.Create(1, "c")

	count := 0
	b.Each(func(h Handle, typeID uint32, value any) bool {
		count++
		return true
	})
	if count != 3 {
		t.Fatalf("Expected to iterate over 3 items, got %d", count)
	}

	count = 0
	b.Each(func(h Handle, typeID uint32, value any) bool {
		count++
		return false
	})
	if count != 1 {
		t.Fatalf("Expected to iterate over 1 item (early term), got %d", count)
	}
}

func TestLocalBackend_InvalidHandle(t *testing.T) {
	b := NewLocalBackend()

	if _, ok := b.Get(0); ok {
		t.Fatal("Handle 0 should be invalid")
	}
	if b.Retain(0) {
		t.Fatal("Handle 0 should fail Retain")
	}
	if _, _, ok := b.Release(0); ok {
		t.Fatal("Handle 0 should fail Release")
	}
	if _, ok := b.Drop(0); ok {
		t.Fatal("Handle 0 should fail Drop")
	}
	if _, ok := b.TypeID(0); ok {
		t.Fatal("Handle 0 should have no type")
	}

	if _, ok := b.Get(999); ok {
		t.Fatal("Non-existent handle should be invalid")
	}
	if b.Retain(^Handle(0)) {
		t.Fatal("Max handle should fail Retain")
	}
}
