// Package resource provides reference-counted object handles.
//
// Object references travel through argument frames and return buffers as
// pointer-width Handle values. The HandleTable maps those integers to Go
// values and counts references to them, so an argument frame can hold a
// value independently of whoever created it.
//
// # Reference Lifecycle
//
//	table := resource.NewTable()
//
//	// Insert a value; the caller owns the first reference
//	h := table.Insert(typeID, value)
//
//	// Take another reference, for example from an argument frame
//	table.Retain(h)
//
//	// Each owner releases its reference; the last release drops the value
//	table.Release(h)
//
// Values implementing Dropper have Drop called when the last reference goes
// away, or when the table is cleared or closed.
//
// # Type Safety
//
// Each value carries a type ID chosen by the embedder:
//
//	value, ok := table.GetTyped(h, FileTypeID)
//
// # Observers
//
// Observers see every lifecycle transition:
//
//	table.Subscribe(observer) // EventCreated, EventRetained, EventReleased, EventDropped
//
// Handle 0 is never issued.
package resource
