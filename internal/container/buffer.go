package container

import (
	"sync"

	"github.com/TomKopp/KP-WME-sub000/internal/ir"
)

// EventBuffer is the per-container ledger of component-bound events that
// are not fully processed yet.
//
// The buffer is append-only in arrival order; entries leave it when the
// component acknowledges them, when they are taken for replay or
// forwarding, or when the buffer is cleared. Iteration always follows
// arrival order.
type EventBuffer struct {
	mu      sync.Mutex
	entries []ir.BufferedEvent
}

// NewEventBuffer creates an empty buffer.
func NewEventBuffer() *EventBuffer {
	return &EventBuffer{entries: make([]ir.BufferedEvent, 0, 8)}
}

// Append adds an entry at the back. An entry with an id already present
// replaces nothing and is ignored; ids are unique per container.
func (b *EventBuffer) Append(ev ir.BufferedEvent) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.indexOf(ev.ID) >= 0 {
		return false
	}
	b.entries = append(b.entries, ev)
	return true
}

// Remove drops the entry with the given id. Returns false if absent.
func (b *EventBuffer) Remove(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	i := b.indexOf(id)
	if i < 0 {
		return false
	}
	b.entries = append(b.entries[:i], b.entries[i+1:]...)
	return true
}

// SetKind reclassifies an entry.
func (b *EventBuffer) SetKind(id string, kind ir.EventKind) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	i := b.indexOf(id)
	if i < 0 {
		return false
	}
	b.entries[i].Kind = kind
	return true
}

// Activity returns a copy of the activity entries in arrival order.
func (b *EventBuffer) Activity() []ir.BufferedEvent {
	return b.filter(ir.EventActivity, false)
}

// Downstream returns a copy of the downstream entries in arrival order.
func (b *EventBuffer) Downstream() []ir.BufferedEvent {
	return b.filter(ir.EventDownstream, false)
}

// TakeDownstream removes and returns the downstream entries in arrival order.
func (b *EventBuffer) TakeDownstream() []ir.BufferedEvent {
	return b.filter(ir.EventDownstream, true)
}

// TakeAll removes and returns every entry: activity entries first, then
// downstream entries, each group in arrival order.
func (b *EventBuffer) TakeAll() []ir.BufferedEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]ir.BufferedEvent, 0, len(b.entries))
	for _, kind := range []ir.EventKind{ir.EventActivity, ir.EventDownstream} {
		for _, ev := range b.entries {
			if ev.Kind == kind {
				out = append(out, ev)
			}
		}
	}
	b.entries = b.entries[:0]
	return out
}

// Snapshot returns a copy of every entry in arrival order.
func (b *EventBuffer) Snapshot() []ir.BufferedEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]ir.BufferedEvent, len(b.entries))
	copy(out, b.entries)
	return out
}

// Clear discards every entry and returns how many were dropped.
func (b *EventBuffer) Clear() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(b.entries)
	clear(b.entries)
	b.entries = b.entries[:0]
	return n
}

// Len returns the number of entries.
func (b *EventBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

func (b *EventBuffer) filter(kind ir.EventKind, take bool) []ir.BufferedEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := []ir.BufferedEvent{}
	kept := b.entries[:0]
	for _, ev := range b.entries {
		if ev.Kind == kind {
			out = append(out, ev)
			if take {
				continue
			}
		}
		kept = append(kept, ev)
	}
	if take {
		// Zero the tail so dropped payloads can be collected.
		clear(b.entries[len(kept):])
		b.entries = kept
	}
	return out
}

func (b *EventBuffer) indexOf(id string) int {
	for i := range b.entries {
		if b.entries[i].ID == id {
			return i
		}
	}
	return -1
}
