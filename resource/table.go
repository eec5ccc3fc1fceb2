package resource

import (
	"sync"
)

// HandleTable implements Table on a LocalBackend. It is safe for concurrent
// use and satisfies the retainer interface argument frames use for held
// object slots.
type HandleTable struct {
	backend   *LocalBackend
	observers []Observer
	obsMu     sync.RWMutex
	closed    bool
	closeMu   sync.RWMutex
}

var _ Table = (*HandleTable)(nil)

// NewTable creates a new handle table with a LocalBackend.
func NewTable() *HandleTable {
	return &HandleTable{
		backend: NewLocalBackend(),
	}
}

func (t *HandleTable) isClosed() bool {
	t.closeMu.RLock()
	defer t.closeMu.RUnlock()
	return t.closed
}

// Insert adds a value with one reference and returns its handle, or 0 once
// the table is closed.
func (t *HandleTable) Insert(typeID uint32, value any) Handle {
	if t.isClosed() {
		return 0
	}

	handle, err := t.backend.Create(typeID, value)
	if err != nil {
		return 0
	}

	t.notify(Event{
		Type:   EventCreated,
		Handle: handle,
		TypeID: typeID,
		Value:  value,
		Refs:   1,
	})

	return handle
}

// Get retrieves a value by handle.
func (t *HandleTable) Get(handle Handle) (any, bool) {
	return t.backend.Get(handle)
}

// GetTyped retrieves a value only if it matches the expected type.
func (t *HandleTable) GetTyped(handle Handle, typeID uint32) (any, bool) {
	actualTypeID, ok := t.backend.TypeID(handle)
	if !ok || actualTypeID != typeID {
		return nil, false
	}
	return t.backend.Get(handle)
}

// Retain adds a reference to a live handle.
func (t *HandleTable) Retain(handle Handle) bool {
	if t.isClosed() || !t.backend.Retain(handle) {
		return false
	}
	if t.hasObservers() {
		typeID, _ := t.backend.TypeID(handle)
		refs, _ := t.backend.RefCount(handle)
		t.notify(Event{Type: EventRetained, Handle: handle, TypeID: typeID, Refs: refs})
	}
	return true
}

// Release drops a reference. The value is destroyed with the last one.
func (t *HandleTable) Release(handle Handle) bool {
	typeID, _ := t.backend.TypeID(handle)
	value, dropped, ok := t.backend.Release(handle)
	if !ok {
		return false
	}
	if !dropped {
		if t.hasObservers() {
			refs, _ := t.backend.RefCount(handle)
			t.notify(Event{Type: EventReleased, Handle: handle, TypeID: typeID, Refs: refs})
		}
		return true
	}
	t.dropped(handle, typeID, value)
	return true
}

// Remove destroys a value whose only reference is the caller's. Values that
// are still retained elsewhere are left alone.
func (t *HandleTable) Remove(handle Handle) (any, bool) {
	typeID, _ := t.backend.TypeID(handle)
	value, ok, err := t.backend.Remove(handle)
	if err != nil || !ok {
		return nil, false
	}
	t.dropped(handle, typeID, value)
	return value, true
}

// RefCount returns the number of live references to handle.
func (t *HandleTable) RefCount(handle Handle) uint32 {
	refs, _ := t.backend.RefCount(handle)
	return refs
}

func (t *HandleTable) dropped(handle Handle, typeID uint32, value any) {
	if d, ok := value.(Dropper); ok {
		d.Drop()
	}
	t.notify(Event{
		Type:   EventDropped,
		Handle: handle,
		TypeID: typeID,
		Value:  value,
	})
}

// Subscribe adds an observer for lifecycle events.
func (t *HandleTable) Subscribe(o Observer) {
	t.obsMu.Lock()
	defer t.obsMu.Unlock()
	t.observers = append(t.observers, o)
}

// Unsubscribe removes an observer.
func (t *HandleTable) Unsubscribe(o Observer) {
	t.obsMu.Lock()
	defer t.obsMu.Unlock()
	for i, obs := range t.observers {
		if obs == o {
			t.observers = append(t.observers[:i], t.observers[i+1:]...)
			return
		}
	}
}

// Len returns the number of live values.
func (t *HandleTable) Len() int {
	return t.backend.Len()
}

// Clear drops all values regardless of outstanding references.
func (t *HandleTable) Clear() {
	// Collect handles first to avoid holding the backend lock during Drop.
	var handles []Handle
	t.backend.Each(func(h Handle, typeID uint32, value any) bool {
		handles = append(handles, h)
		return true
	})
	for _, h := range handles {
		typeID, _ := t.backend.TypeID(h)
		if value, ok := t.backend.Drop(h); ok {
			t.dropped(h, typeID, value)
		}
	}
}

// Close releases all values and stops accepting operations.
func (t *HandleTable) Close() error {
	t.closeMu.Lock()
	t.closed = true
	t.closeMu.Unlock()

	return t.backend.Close()
}

func (t *HandleTable) hasObservers() bool {
	t.obsMu.RLock()
	defer t.obsMu.RUnlock()
	return len(t.observers) > 0
}

func (t *HandleTable) notify(e Event) {
	t.obsMu.RLock()
	defer t.obsMu.RUnlock()
	for _, o := range t.observers {
		o.OnResourceEvent(e)
	}
}
