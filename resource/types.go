package resource

// Handle is an opaque object reference stored in argument frames and
// return buffers at pointer width. Handle 0 is reserved and always invalid.
type Handle uintptr

// EventType identifies a reference lifecycle notification.
type EventType uint8

const (
	EventCreated EventType = iota
	EventRetained
	EventReleased
	EventDropped
)

func (t EventType) String() string {
	switch t {
	case EventCreated:
		return "created"
	case EventRetained:
		return "retained"
	case EventReleased:
		return "released"
	case EventDropped:
		return "dropped"
	}
	return "unknown"
}

// Event represents a reference lifecycle event. Refs is the count after the
// operation.
type Event struct {
	Value  any
	Handle Handle
	TypeID uint32
	Refs   uint32
	Type   EventType
}

// Observer receives notifications about reference lifecycle events.
type Observer interface {
	OnResourceEvent(Event)
}

// Backend provides the underlying storage for referenced values.
type Backend interface {
	// Create stores a value with one reference and returns its handle.
	Create(typeID uint32, value any) (Handle, error)

	// Get retrieves a value by handle.
	Get(handle Handle) (any, bool)

	// Retain adds a reference. It fails for dead handles.
	Retain(handle Handle) bool

	// Release drops a reference. dropped reports that it was the last one
	// and value is no longer stored.
	Release(handle Handle) (value any, dropped, ok bool)

	// RefCount returns the number of live references.
	RefCount(handle Handle) (uint32, bool)

	// Close drops every value regardless of references.
	Close() error
}

// Table manages referenced values with type information and observer support.
type Table interface {
	// Insert adds a value with one reference and returns its handle.
	Insert(typeID uint32, value any) Handle

	// Get retrieves a value by handle.
	Get(handle Handle) (any, bool)

	// GetTyped retrieves a value only if it matches the expected type.
	GetTyped(handle Handle, typeID uint32) (any, bool)

	// Retain adds a reference to a live handle.
	Retain(handle Handle) bool

	// Release drops a reference, destroying the value with the last one.
	Release(handle Handle) bool

	// Remove drops a value held only by the caller.
	Remove(handle Handle) (any, bool)

	// Subscribe adds an observer for lifecycle events.
	Subscribe(Observer)

	// Unsubscribe removes an observer.
	Unsubscribe(Observer)

	// Len returns the number of live values.
	Len() int

	// Clear drops all values.
	Clear()

	// Close releases all values and stops accepting operations.
	Close() error
}

// Dropper is optionally implemented by values that need cleanup when their
// last reference goes away.
type Dropper interface {
	Drop()
}
