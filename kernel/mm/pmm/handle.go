package pmm

import "sync/atomic"

// ArenaID uniquely identifies an Arena instance. The zero value is never
// assigned to an arena.
type ArenaID uint32

var (
	// lastArenaID tracks the last ArenaID handed out by NewArena.
	lastArenaID uint32
)

func nextArenaID() ArenaID {
	return ArenaID(atomic.AddUint32(&lastArenaID, 1))
}

// Handle is an arena-relative reference to a physical page. Handles do not
// own the page they refer to; the arena validates them on every access.
type Handle struct {
	// Arena is the ID of the arena that owns the page.
	Arena ArenaID

	// Index is the page's position in the arena's page array.
	Index uint32
}

// InvalidHandle is the zero Handle. It never refers to a page.
var InvalidHandle = Handle{}

// Valid returns true if the handle may refer to a page. A valid handle still
// needs to be checked against its arena before use.
func (h Handle) Valid() bool {
	return h.Arena != 0
}
