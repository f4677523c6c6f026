// Package pmm contains code that manages physical page allocations.
package pmm

import (
	"io"

	"soliloquy/kernel"
	"soliloquy/kernel/kfmt"
	"soliloquy/kernel/mm"
	"soliloquy/kernel/sync"
)

const (
	// invalidIndex terminates the intrusive free list.
	invalidIndex = ^uint32(0)

	// maxArenaPages is the largest number of pages that can be indexed
	// by a uint32 without colliding with invalidIndex.
	maxArenaPages = uint64(invalidIndex) - 1
)

var (
	errInvalidSize       = &kernel.Error{Module: "pmm", Message: "arena size must be a non-zero multiple of the page size", Kind: kernel.InvalidArgument}
	errArenaTooLarge     = &kernel.Error{Module: "pmm", Message: "arena range overflows the address space or exceeds the page limit", Kind: kernel.InvalidArgument}
	errInvalidCount      = &kernel.Error{Module: "pmm", Message: "page count must be positive", Kind: kernel.InvalidArgument}
	errForeignPage       = &kernel.Error{Module: "pmm", Message: "page does not belong to this arena", Kind: kernel.InvalidArgument}
	errPageNotAllocated  = &kernel.Error{Module: "pmm", Message: "page is not allocated", Kind: kernel.BadState}
	errArenaExhausted    = &kernel.Error{Module: "pmm", Message: "out of memory", Kind: kernel.NoMemory}
	errNoContiguousRun   = &kernel.Error{Module: "pmm", Message: "no contiguous run of free pages is large enough", Kind: kernel.NoMemory}
	errFreeListCorrupted = &kernel.Error{Module: "pmm", Message: "free list does not match the page array", Kind: kernel.Internal}
)

// freeLink is the intrusive free list node for a page. Links are indices into
// the arena's page array.
type freeLink struct {
	prev, next uint32
}

// Arena implements a physical page allocator for a contiguous physical
// address range. The arena owns the metadata for every page in the range and
// tracks free pages using a doubly-linked list of page indices.
//
// All methods are safe for concurrent use; every mutation of the free list
// and of the page metadata happens while holding the arena lock.
type Arena struct {
	id   ArenaID
	lock sync.Spinlock

	base uintptr
	size uintptr

	// pages holds the metadata for each page in the arena. The page at
	// index i starts at physical address base + i*mm.PageSize.
	pages []mm.VmPage

	// links holds the free list node for each page in pages.
	links []freeLink

	freeHead  uint32
	freeCount uint64
}

// NewArena creates an arena that manages the physical range [base, base+size).
// The base need not be page-aligned; page i starts at base + i*PageSize.
// All pages start out free. Pages are pushed to the head of the free list in
// address order so the first allocation returns the highest page.
func NewArena(base, size uintptr) (*Arena, *kernel.Error) {
	switch {
	case size == 0 || !mm.Size(size).PageAligned():
		return nil, errInvalidSize
	case base+size < base || uint64(size>>mm.PageShift) > maxArenaPages:
		return nil, errArenaTooLarge
	}

	pageCount := size >> mm.PageShift
	arena := &Arena{
		id:       nextArenaID(),
		base:     base,
		size:     size,
		pages:    make([]mm.VmPage, pageCount),
		links:    make([]freeLink, pageCount),
		freeHead: invalidIndex,
	}

	for index := range arena.pages {
		arena.pages[index] = mm.VmPage{
			PhysAddr: base + uintptr(index)<<mm.PageShift,
			State:    mm.PageStateFree,
		}
		arena.pushFree(uint32(index))
	}

	return arena, nil
}

// ID returns the unique identifier for this arena.
func (a *Arena) ID() ArenaID { return a.id }

// Base returns the physical address of the first page in the arena.
func (a *Arena) Base() uintptr { return a.base }

// Size returns the size of the arena in bytes.
func (a *Arena) Size() uintptr { return a.size }

// TotalPages returns the number of pages managed by the arena.
func (a *Arena) TotalPages() uint64 { return uint64(len(a.pages)) }

// FreeCount returns the number of pages currently in the free list.
func (a *Arena) FreeCount() uint64 {
	a.lock.Acquire()
	defer a.lock.Release()
	return a.freeCount
}

// Contains returns true if paddr lies within the arena's physical range.
func (a *Arena) Contains(paddr uintptr) bool {
	return paddr >= a.base && paddr-a.base < a.size
}

// HandleFor returns the handle for the page that contains paddr. The handle
// is returned regardless of the page's state.
func (a *Arena) HandleFor(paddr uintptr) (Handle, bool) {
	if !a.Contains(paddr) {
		return InvalidHandle, false
	}
	return Handle{Arena: a.id, Index: uint32((paddr - a.base) >> mm.PageShift)}, true
}

// Page returns a snapshot of the metadata for the page that contains paddr.
func (a *Arena) Page(paddr uintptr) (mm.VmPage, bool) {
	h, ok := a.HandleFor(paddr)
	if !ok {
		return mm.VmPage{}, false
	}
	return a.PageByHandle(h)
}

// PageByHandle returns a snapshot of the metadata for the page referenced by h.
func (a *Arena) PageByHandle(h Handle) (mm.VmPage, bool) {
	if !a.owns(h) {
		return mm.VmPage{}, false
	}

	a.lock.Acquire()
	defer a.lock.Release()
	return a.pages[h.Index], true
}

// IsAllocated returns true if h refers to a currently allocated page of this
// arena.
func (a *Arena) IsAllocated(h Handle) bool {
	if !a.owns(h) {
		return false
	}

	a.lock.Acquire()
	defer a.lock.Release()
	return a.pages[h.Index].State == mm.PageStateAllocated
}

// AllocPage reserves a single page. The returned page has a reference count
// of 1 and no flags set.
func (a *Arena) AllocPage() (Handle, *kernel.Error) {
	a.lock.Acquire()
	defer a.lock.Release()

	if a.freeHead == invalidIndex {
		return InvalidHandle, errArenaExhausted
	}

	index := a.freeHead
	a.unlinkFree(index)
	a.markAllocated(index)
	return Handle{Arena: a.id, Index: index}, nil
}

// AllocPages reserves count pages using repeated single-page allocations.
// The returned pages are NOT guaranteed to be physically contiguous; callers
// that need adjacent pages must use AllocContiguous. If the arena runs out
// of pages midway, all pages reserved by this call are returned to the free
// list before the error is reported.
func (a *Arena) AllocPages(count int) ([]Handle, *kernel.Error) {
	if count <= 0 {
		return nil, errInvalidCount
	}

	handles := make([]Handle, 0, count)

	a.lock.Acquire()
	for len(handles) < count {
		if a.freeHead == invalidIndex {
			for _, h := range handles {
				_ = a.releaseLocked(h.Index)
			}
			a.lock.Release()

			kfmt.Printf("[pmm] arena %d: batch allocation of %d pages failed after %d pages; rolled back\n", a.id, count, len(handles))
			return nil, errArenaExhausted
		}

		index := a.freeHead
		a.unlinkFree(index)
		a.markAllocated(index)
		handles = append(handles, Handle{Arena: a.id, Index: index})
	}
	a.lock.Release()

	return handles, nil
}

// AllocContiguous reserves count physically adjacent pages using a first-fit
// scan of the page array. The returned handles are sorted by ascending
// physical address. On failure the arena state is not modified.
func (a *Arena) AllocContiguous(count int) ([]Handle, *kernel.Error) {
	if count <= 0 {
		return nil, errInvalidCount
	}

	a.lock.Acquire()
	defer a.lock.Release()

	if uint64(count) > a.freeCount {
		return nil, errNoContiguousRun
	}

	runLen := 0
	for index := range a.pages {
		if a.pages[index].State != mm.PageStateFree {
			runLen = 0
			continue
		}

		if runLen++; runLen < count {
			continue
		}

		first := uint32(index + 1 - count)
		handles := make([]Handle, count)
		for i := range handles {
			pageIndex := first + uint32(i)
			a.unlinkFree(pageIndex)
			a.markAllocated(pageIndex)
			handles[i] = Handle{Arena: a.id, Index: pageIndex}
		}
		return handles, nil
	}

	return nil, errNoContiguousRun
}

// RefPage adds a reference to an allocated page. Each additional reference
// requires an extra call to FreePage before the page returns to the free list.
func (a *Arena) RefPage(h Handle) *kernel.Error {
	if !a.owns(h) {
		return errForeignPage
	}

	a.lock.Acquire()
	defer a.lock.Release()

	page := &a.pages[h.Index]
	if page.State != mm.PageStateAllocated {
		return errPageNotAllocated
	}
	page.RefCount++
	return nil
}

// SetPageFlags sets the supplied flags on an allocated page.
func (a *Arena) SetPageFlags(h Handle, flags mm.PageFlag) *kernel.Error {
	if !a.owns(h) {
		return errForeignPage
	}

	a.lock.Acquire()
	defer a.lock.Release()

	page := &a.pages[h.Index]
	if page.State != mm.PageStateAllocated {
		return errPageNotAllocated
	}
	page.Flags |= flags
	return nil
}

// FreePage drops a reference to the page referenced by h. The page returns to
// the free list once its reference count reaches zero.
//
// FreePage returns an InvalidArgument error if h does not refer to a page of
// this arena and a BadState error if the page is not allocated.
func (a *Arena) FreePage(h Handle) *kernel.Error {
	if !a.owns(h) {
		return errForeignPage
	}

	a.lock.Acquire()
	defer a.lock.Release()
	return a.releaseLocked(h.Index)
}

// FreePageAddr behaves like FreePage but looks up the page by its physical
// address.
func (a *Arena) FreePageAddr(paddr uintptr) *kernel.Error {
	h, ok := a.HandleFor(paddr)
	if !ok {
		return errForeignPage
	}
	return a.FreePage(h)
}

// CheckInvariants walks the free list and verifies that it contains exactly
// the free pages of the arena, that its length matches the free count and
// that every allocated page holds at least one reference.
func (a *Arena) CheckInvariants() *kernel.Error {
	a.lock.Acquire()
	defer a.lock.Release()

	var (
		visited uint64
		prev    = invalidIndex
	)

	for index := a.freeHead; index != invalidIndex; index = a.links[index].next {
		if visited++; visited > uint64(len(a.pages)) {
			return errFreeListCorrupted
		}

		if a.links[index].prev != prev || a.pages[index].State != mm.PageStateFree || a.pages[index].RefCount != 0 {
			return errFreeListCorrupted
		}
		prev = index
	}

	if visited != a.freeCount {
		return errFreeListCorrupted
	}

	var free uint64
	for index := range a.pages {
		switch page := &a.pages[index]; page.State {
		case mm.PageStateFree:
			free++
		case mm.PageStateAllocated:
			if page.RefCount == 0 {
				return errFreeListCorrupted
			}
		}
	}

	if free != a.freeCount {
		return errFreeListCorrupted
	}

	return nil
}

// Dump writes a summary of the arena state to w.
func (a *Arena) Dump(w io.Writer) {
	pw := &kfmt.PrefixWriter{Sink: w, Prefix: []byte("[pmm] ")}

	kfmt.Fprintf(pw, "arena %d: [0x%x - 0x%x]\n", a.id, a.base, a.base+a.size)
	kfmt.Fprintf(pw, "pages: %d, free: %d, allocated: %d\n", a.TotalPages(), a.FreeCount(), a.TotalPages()-a.FreeCount())
}

// owns returns true if h refers to a page slot of this arena.
func (a *Arena) owns(h Handle) bool {
	return h.Arena == a.id && uint64(h.Index) < uint64(len(a.pages))
}

// releaseLocked drops a reference to the page at index. It must be invoked
// while holding the arena lock.
func (a *Arena) releaseLocked(index uint32) *kernel.Error {
	page := &a.pages[index]
	if page.State != mm.PageStateAllocated || page.RefCount == 0 {
		return errPageNotAllocated
	}

	if page.RefCount--; page.RefCount > 0 {
		return nil
	}

	page.State = mm.PageStateFree
	page.Flags = 0
	a.pushFree(index)
	return nil
}

func (a *Arena) markAllocated(index uint32) {
	page := &a.pages[index]
	page.State = mm.PageStateAllocated
	page.RefCount = 1
	page.Flags = 0
}

// pushFree prepends the page at index to the free list.
func (a *Arena) pushFree(index uint32) {
	a.links[index] = freeLink{prev: invalidIndex, next: a.freeHead}
	if a.freeHead != invalidIndex {
		a.links[a.freeHead].prev = index
	}
	a.freeHead = index
	a.freeCount++
}

// unlinkFree removes the page at index from the free list and clears its
// list link.
func (a *Arena) unlinkFree(index uint32) {
	link := a.links[index]
	if link.prev != invalidIndex {
		a.links[link.prev].next = link.next
	} else {
		a.freeHead = link.next
	}

	if link.next != invalidIndex {
		a.links[link.next].prev = link.prev
	}

	a.links[index] = freeLink{prev: invalidIndex, next: invalidIndex}
	a.freeCount--
}
