// Package vmo implements virtual memory objects: logical memory regions whose
// pages are bound to physical pages on demand.
package vmo

import (
	"soliloquy/kernel"
	"soliloquy/kernel/kfmt"
	"soliloquy/kernel/mm"
	"soliloquy/kernel/mm/pmm"
	"soliloquy/kernel/sync"
)

var (
	errNoArena          = &kernel.Error{Module: "vmo", Message: "no backing arena specified", Kind: kernel.InvalidArgument}
	errZeroSize         = &kernel.Error{Module: "vmo", Message: "object size must be non-zero", Kind: kernel.InvalidArgument}
	errIndexOutOfBounds = &kernel.Error{Module: "vmo", Message: "page index out of bounds", Kind: kernel.InvalidArgument}
	errRangeOutOfBounds = &kernel.Error{Module: "vmo", Message: "page range out of bounds", Kind: kernel.InvalidArgument}
)

// Vmo is a sparse, demand-committed array of physical page bindings that
// covers a logical region of Size bytes. Slots start out empty and are filled
// by CommitPage and CommitRange.
//
// The Vmo keeps arena-relative page handles rather than owning the pages.
// All methods are safe for concurrent use.
type Vmo struct {
	lock sync.Spinlock

	arena *pmm.Arena
	name  string
	size  uint64

	// pages holds one slot per page in the object; empty slots contain
	// pmm.InvalidHandle.
	pages []pmm.Handle

	// committed tracks the number of non-empty slots in pages.
	committed uint64
}

// Create returns a Vmo of the requested size that allocates its pages from
// arena. No pages are committed until they are needed.
func Create(arena *pmm.Arena, size uint64, name string) (*Vmo, *kernel.Error) {
	switch {
	case arena == nil:
		return nil, errNoArena
	case size == 0:
		return nil, errZeroSize
	}

	return &Vmo{
		arena: arena,
		name:  name,
		size:  size,
		pages: make([]pmm.Handle, mm.Size(size).Pages()),
	}, nil
}

// Name returns the name the object was created with.
func (v *Vmo) Name() string { return v.name }

// Arena returns the arena that backs this object.
func (v *Vmo) Arena() *pmm.Arena { return v.arena }

// Size returns the size of the object in bytes. It returns 0 after Destroy.
func (v *Vmo) Size() uint64 {
	v.lock.Acquire()
	defer v.lock.Release()
	return v.size
}

// PageCount returns the number of page slots in the object.
func (v *Vmo) PageCount() uint64 {
	v.lock.Acquire()
	defer v.lock.Release()
	return uint64(len(v.pages))
}

// CommitPage binds a physical page to the slot at index. Committing an
// already committed slot is a no-op. If the arena is out of memory, its
// error is returned unchanged and the object is not modified.
func (v *Vmo) CommitPage(index uint64) *kernel.Error {
	v.lock.Acquire()
	defer v.lock.Release()

	if index >= uint64(len(v.pages)) {
		return errIndexOutOfBounds
	}
	return v.commitLocked(index)
}

// FaultIn binds a physical page to the slot at index and hands it to prepare
// without releasing the object lock, so no other caller observes the slot
// until prepare returns. If prepare fails the page is returned to the arena
// and the error is passed through. The returned flag reports whether this
// call bound the page; for an already committed slot the existing handle is
// returned and prepare is not invoked.
func (v *Vmo) FaultIn(index uint64, prepare func(pmm.Handle) *kernel.Error) (pmm.Handle, bool, *kernel.Error) {
	v.lock.Acquire()
	defer v.lock.Release()

	if index >= uint64(len(v.pages)) {
		return pmm.InvalidHandle, false, errIndexOutOfBounds
	}

	if h := v.pages[index]; h.Valid() {
		return h, false, nil
	}

	if err := v.commitLocked(index); err != nil {
		return pmm.InvalidHandle, false, err
	}

	h := v.pages[index]
	if prepare != nil {
		if err := prepare(h); err != nil {
			_ = v.decommitLocked(index)
			return pmm.InvalidHandle, false, err
		}
	}

	return h, true, nil
}

// CommitRange commits count pages starting at start, in order. It stops at
// the first failure and returns its error; pages committed before the
// failure stay committed. Callers that need all-or-nothing semantics can
// undo a partial commit with DecommitRange.
func (v *Vmo) CommitRange(start, count uint64) *kernel.Error {
	v.lock.Acquire()
	defer v.lock.Release()

	if start+count < start || start+count > uint64(len(v.pages)) {
		return errRangeOutOfBounds
	}

	for index := start; index < start+count; index++ {
		if err := v.commitLocked(index); err != nil {
			return err
		}
	}
	return nil
}

// CommitAll commits every page in the object.
func (v *Vmo) CommitAll() *kernel.Error {
	return v.CommitRange(0, v.PageCount())
}

// DecommitPage returns the page bound at index to its arena and empties the
// slot. Decommitting an empty slot is a no-op.
func (v *Vmo) DecommitPage(index uint64) *kernel.Error {
	v.lock.Acquire()
	defer v.lock.Release()

	if index >= uint64(len(v.pages)) {
		return errIndexOutOfBounds
	}
	return v.decommitLocked(index)
}

// DecommitRange decommits count pages starting at start. It stops at the
// first failure.
func (v *Vmo) DecommitRange(start, count uint64) *kernel.Error {
	v.lock.Acquire()
	defer v.lock.Release()

	if start+count < start || start+count > uint64(len(v.pages)) {
		return errRangeOutOfBounds
	}

	for index := start; index < start+count; index++ {
		if err := v.decommitLocked(index); err != nil {
			return err
		}
	}
	return nil
}

// IsCommitted returns true if the slot at index is bound to a page.
func (v *Vmo) IsCommitted(index uint64) bool {
	v.lock.Acquire()
	defer v.lock.Release()
	return index < uint64(len(v.pages)) && v.pages[index].Valid()
}

// CommittedCount returns the number of committed pages.
func (v *Vmo) CommittedCount() uint64 {
	v.lock.Acquire()
	defer v.lock.Release()
	return v.committed
}

// CommittedBytes returns the number of bytes backed by committed pages.
func (v *Vmo) CommittedBytes() uint64 {
	return v.CommittedCount() << mm.PageShift
}

// Handle returns the arena handle bound to the slot at index. The second
// return value is false if the slot is out of bounds or empty.
func (v *Vmo) Handle(index uint64) (pmm.Handle, bool) {
	v.lock.Acquire()
	defer v.lock.Release()

	if index >= uint64(len(v.pages)) || !v.pages[index].Valid() {
		return pmm.InvalidHandle, false
	}
	return v.pages[index], true
}

// Page returns the metadata of the page committed at index. The page is
// reported as not present if the index is out of bounds, the slot has not
// been committed yet or the arena no longer considers the page allocated;
// callers must fault it in first.
func (v *Vmo) Page(index uint64) (mm.VmPage, bool) {
	h, ok := v.Handle(index)
	if !ok {
		return mm.VmPage{}, false
	}

	page, ok := v.arena.PageByHandle(h)
	if !ok || page.State != mm.PageStateAllocated {
		return mm.VmPage{}, false
	}
	return page, true
}

// PhysAddr translates a byte offset within the object to the physical
// address that backs it. The same presence rules as Page apply.
func (v *Vmo) PhysAddr(offset uint64) (uintptr, bool) {
	page, ok := v.Page(offset >> mm.PageShift)
	if !ok {
		return 0, false
	}
	return page.PhysAddr + uintptr(offset&uint64(mm.PageSize-1)), true
}

// Destroy returns every committed page to the arena and resets the object
// to an empty, zero-sized state. Pages the arena refuses to take back are
// logged and dropped. Calling Destroy again has no effect.
func (v *Vmo) Destroy() {
	v.lock.Acquire()
	defer v.lock.Release()

	for index := range v.pages {
		if v.pages[index].Valid() {
			if err := v.arena.FreePage(v.pages[index]); err != nil {
				kfmt.Printf("[vmo] %s: unable to release page %d: [%s] %s\n", v.name, index, err.Module, err.Message)
			}
			v.pages[index] = pmm.InvalidHandle
		}
	}

	v.pages = nil
	v.size = 0
	v.committed = 0
}

func (v *Vmo) commitLocked(index uint64) *kernel.Error {
	if v.pages[index].Valid() {
		return nil
	}

	h, err := v.arena.AllocPage()
	if err != nil {
		return err
	}

	v.pages[index] = h
	v.committed++
	return nil
}

func (v *Vmo) decommitLocked(index uint64) *kernel.Error {
	if !v.pages[index].Valid() {
		return nil
	}

	if err := v.arena.FreePage(v.pages[index]); err != nil {
		return err
	}

	v.pages[index] = pmm.InvalidHandle
	v.committed--
	return nil
}
