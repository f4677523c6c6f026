// Package mm contains the types shared by the physical and virtual memory
// managers: page-granular address helpers, the physical page metadata record
// and the hook for the platform page-zeroing primitive.
package mm

import "soliloquy/kernel"

// Page describes a virtual memory page index.
type Page uintptr

// Address returns a pointer to the virtual memory address pointed to by this Page.
func (p Page) Address() uintptr {
	return uintptr(p << PageShift)
}

// PageFromAddress returns a Page that corresponds to the given virtual
// address. This function can handle both page-aligned and not aligned virtual
// addresses. in the latter case, the input address will be rounded down to the
// page that contains it.
func PageFromAddress(virtAddr uintptr) Page {
	return Page((virtAddr & ^(PageSize - 1)) >> PageShift)
}

// PageState describes the lifecycle state of a physical page.
type PageState uint8

// The supported page states. Arenas only move pages between PageStateFree
// and PageStateAllocated; the remaining states are reserved for pages owned
// by other subsystems.
const (
	PageStateFree PageState = iota
	PageStateAllocated
	PageStateWired
	PageStateObject
)

// String implements fmt.Stringer for PageState.
func (s PageState) String() string {
	switch s {
	case PageStateFree:
		return "free"
	case PageStateAllocated:
		return "allocated"
	case PageStateWired:
		return "wired"
	case PageStateObject:
		return "object"
	default:
		return "unknown"
	}
}

// PageFlag is a bitmask of per-page attributes.
type PageFlag uint32

const (
	// PageFlagZeroed is set once the contents of an allocated page have
	// been cleared. Allocating a page resets all flags.
	PageFlagZeroed PageFlag = 1 << iota
)

// VmPage describes a single physical page.
type VmPage struct {
	// PhysAddr is the physical address of the first byte in the page.
	PhysAddr uintptr

	// State tracks the page lifecycle. RefCount > 0 iff State is
	// PageStateAllocated.
	State PageState

	// RefCount tracks the number of owners sharing this page.
	RefCount uint32

	Flags PageFlag
}

// HasFlags returns true if all of the supplied flags are set for this page.
func (p VmPage) HasFlags(flags PageFlag) bool {
	return p.Flags&flags == flags
}

var (
	// pageZeroer points to the page zeroing function registered using
	// SetPageZeroer.
	pageZeroer PageZeroerFn
)

// PageZeroerFn is a function that clears the physical contents of a page.
type PageZeroerFn func(page VmPage) *kernel.Error

// SetPageZeroer registers the function that will be used for zeroing newly
// committed pages. Passing nil turns ZeroPage into a no-op.
func SetPageZeroer(zeroFn PageZeroerFn) { pageZeroer = zeroFn }

// ZeroPage clears the contents of page using the currently registered page
// zeroer.
func ZeroPage(page VmPage) *kernel.Error {
	if pageZeroer == nil {
		return nil
	}
	return pageZeroer(page)
}
