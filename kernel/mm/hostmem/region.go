// Package hostmem backs a simulated physical address range with anonymous
// host memory so that the contents of physical pages can be inspected and
// cleared.
package hostmem

import (
	"golang.org/x/sys/unix"

	"soliloquy/kernel"
	"soliloquy/kernel/mm"
	"soliloquy/kernel/sync"
)

var (
	// mmapFn and munmapFn are mocked by tests.
	mmapFn   = unix.Mmap
	munmapFn = unix.Munmap

	errInvalidRegion = &kernel.Error{Module: "hostmem", Message: "region size must be a non-zero multiple of the page size", Kind: kernel.InvalidArgument}
	errMapFailed     = &kernel.Error{Module: "hostmem", Message: "unable to map host memory", Kind: kernel.NoMemory}
	errUnmapFailed   = &kernel.Error{Module: "hostmem", Message: "unable to unmap host memory", Kind: kernel.Internal}
	errNotMapped     = &kernel.Error{Module: "hostmem", Message: "region is not mapped", Kind: kernel.BadState}
	errOutOfRange    = &kernel.Error{Module: "hostmem", Message: "address outside of region", Kind: kernel.InvalidArgument}
)

// Region maps the physical range [base, base+size) to a private anonymous
// host mapping. Byte i of the mapping holds the contents of physical address
// base+i.
type Region struct {
	lock sync.Spinlock
	base uintptr
	mem  []byte
}

// Map reserves host memory for the physical range [base, base+size).
func Map(base, size uintptr) (*Region, *kernel.Error) {
	if size == 0 || !mm.Size(size).PageAligned() {
		return nil, errInvalidRegion
	}

	mem, err := mmapFn(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, errMapFailed
	}

	return &Region{base: base, mem: mem}, nil
}

// Base returns the first physical address covered by the region.
func (r *Region) Base() uintptr { return r.base }

// Size returns the size of the region in bytes or 0 if it has been unmapped.
func (r *Region) Size() uintptr {
	r.lock.Acquire()
	defer r.lock.Release()
	return uintptr(len(r.mem))
}

// Contains returns true if paddr is backed by the region.
func (r *Region) Contains(paddr uintptr) bool {
	r.lock.Acquire()
	defer r.lock.Release()
	return r.containsLocked(paddr)
}

// Bytes returns the host memory that backs the page containing paddr,
// starting at paddr and ending at the page boundary. Pages are counted from
// the region base, which need not be page-aligned.
func (r *Region) Bytes(paddr uintptr) ([]byte, *kernel.Error) {
	r.lock.Acquire()
	defer r.lock.Release()

	if r.mem == nil {
		return nil, errNotMapped
	}

	if !r.containsLocked(paddr) {
		return nil, errOutOfRange
	}

	offset := paddr - r.base
	pageEnd := offset&^(mm.PageSize-1) + mm.PageSize
	return r.mem[offset:pageEnd:pageEnd], nil
}

// ZeroPage clears the PageSize bytes starting at page.PhysAddr. Its signature
// matches mm.PageZeroerFn so it can be registered via mm.SetPageZeroer.
func (r *Region) ZeroPage(page mm.VmPage) *kernel.Error {
	buf, err := r.Bytes(page.PhysAddr)
	if err != nil {
		return err
	}

	kernel.Memset(buf, 0)
	return nil
}

// Unmap releases the host memory. Any further access to the region fails.
func (r *Region) Unmap() *kernel.Error {
	r.lock.Acquire()
	defer r.lock.Release()

	if r.mem == nil {
		return errNotMapped
	}

	if err := munmapFn(r.mem); err != nil {
		return errUnmapFailed
	}

	r.mem = nil
	return nil
}

func (r *Region) containsLocked(paddr uintptr) bool {
	return paddr >= r.base && paddr-r.base < uintptr(len(r.mem))
}
