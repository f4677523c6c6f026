// Package vmm bridges page faults into demand commits of virtual memory
// objects.
package vmm

import (
	"sync/atomic"

	"soliloquy/kernel"
	"soliloquy/kernel/kfmt"
	"soliloquy/kernel/mm"
	"soliloquy/kernel/mm/pmm"
	"soliloquy/kernel/mm/vmo"
)

// FaultFlag describes the access that triggered a page fault.
type FaultFlag uint32

// The supported fault flags.
const (
	FaultRead FaultFlag = 1 << iota
	FaultWrite
	FaultExec
	FaultUser
)

// String implements fmt.Stringer for FaultFlag. Set flags are rendered using
// the letters r, w, x and u; clear flags are rendered as '-'.
func (f FaultFlag) String() string {
	var buf = []byte("----")
	for i, ch := range []byte("rwxu") {
		if f&(1<<uint(i)) != 0 {
			buf[i] = ch
		}
	}
	return string(buf)
}

var (
	// panicFn and faultInFn are mocked by tests.
	panicFn   = func(err *kernel.Error) { panic(err) }
	faultInFn = (*vmo.Vmo).FaultIn

	errMissingVmo       = &kernel.Error{Module: "vmm", Message: "no virtual memory object specified", Kind: kernel.InvalidArgument}
	errMissingArena     = &kernel.Error{Module: "vmm", Message: "no arena specified", Kind: kernel.InvalidArgument}
	errArenaMismatch    = &kernel.Error{Module: "vmm", Message: "virtual memory object is not backed by the specified arena", Kind: kernel.InvalidArgument}
	errKernelWrite      = &kernel.Error{Module: "vmm", Message: "write fault without user context", Kind: kernel.InvalidArgument}
	errFaultOutOfBounds = &kernel.Error{Module: "vmm", Message: "fault address beyond object bounds", Kind: kernel.NotFound}
	errCommitLeftNoPage = &kernel.Error{Module: "vmm", Message: "commit succeeded but no page is bound", Kind: kernel.Internal}
)

// Stats holds the fault handler counters.
type Stats struct {
	// Handled counts faults that committed a new page.
	Handled uint64

	// Failed counts faults that could not be resolved.
	Failed uint64
}

// FaultHandler resolves page faults against a single virtual memory object by
// committing the missing page from the object's arena and zeroing it.
//
// The counters are updated atomically so a FaultHandler may be shared by
// multiple fault delivery paths.
type FaultHandler struct {
	vmo   *vmo.Vmo
	arena *pmm.Arena

	handled uint64
	failed  uint64
}

// NewFaultHandler returns a fault handler for v. The arena must be the one
// that backs v.
func NewFaultHandler(v *vmo.Vmo, arena *pmm.Arena) (*FaultHandler, *kernel.Error) {
	switch {
	case v == nil:
		return nil, errMissingVmo
	case arena == nil:
		return nil, errMissingArena
	case v.Arena() != arena:
		return nil, errArenaMismatch
	}

	return &FaultHandler{vmo: v, arena: arena}, nil
}

// HandleFault resolves a fault at faultAddr, an offset into the object.
//
// Write faults without FaultUser are rejected with an InvalidArgument error
// and are not counted. Faults past the end of the object return a NotFound
// error. A fault on an already committed page returns nil without being
// counted as handled; the caller is expected to retry the access. All other
// faults commit and zero the page while holding the object lock, so a
// concurrent fault on the same page only returns once the page is zeroed.
//
// The returned error is never swallowed: the caller decides whether to
// retry, terminate the faulting context or escalate.
func (h *FaultHandler) HandleFault(faultAddr uintptr, flags FaultFlag) *kernel.Error {
	if flags&FaultWrite != 0 && flags&FaultUser == 0 {
		return errKernelWrite
	}

	pageIndex := uint64(mm.PageFromAddress(faultAddr))
	if pageIndex >= h.vmo.PageCount() {
		atomic.AddUint64(&h.failed, 1)
		return errFaultOutOfBounds
	}

	pageHandle, committed, err := faultInFn(h.vmo, pageIndex, h.zeroPage)
	switch {
	case err == errCommitLeftNoPage, committed && !pageHandle.Valid():
		panicFn(errCommitLeftNoPage)
		return errCommitLeftNoPage
	case err != nil:
		return h.fail(faultAddr, flags, err)
	case !committed:
		return nil
	}

	atomic.AddUint64(&h.handled, 1)
	return nil
}

// zeroPage clears a freshly committed page unless it is already marked as
// zeroed. It runs with the object lock held.
func (h *FaultHandler) zeroPage(pageHandle pmm.Handle) *kernel.Error {
	page, ok := h.arena.PageByHandle(pageHandle)
	if !ok || page.State != mm.PageStateAllocated {
		return errCommitLeftNoPage
	}

	if page.HasFlags(mm.PageFlagZeroed) {
		return nil
	}

	// Never expose a page with stale contents; a failure here makes
	// FaultIn decommit the page.
	if err := mm.ZeroPage(page); err != nil {
		return err
	}

	return h.arena.SetPageFlags(pageHandle, mm.PageFlagZeroed)
}

// HandleRangeFault faults in every page that overlaps the byte range
// [startAddr, startAddr+size). Pages past the end of the object are skipped;
// any other error aborts the loop and is returned.
func (h *FaultHandler) HandleRangeFault(startAddr, size uintptr, flags FaultFlag) *kernel.Error {
	if size == 0 {
		return nil
	}

	first := mm.PageFromAddress(startAddr)
	last := mm.PageFromAddress(startAddr + size - 1)
	if last < first {
		// The range wraps around the address space; clamp it.
		last = mm.PageFromAddress(^uintptr(0))
	}

	for page := first; ; page++ {
		if err := h.HandleFault(page.Address(), flags); err != nil && err.Kind != kernel.NotFound {
			return err
		}

		if page == last {
			return nil
		}
	}
}

// Stats returns a snapshot of the fault counters.
func (h *FaultHandler) Stats() Stats {
	return Stats{
		Handled: atomic.LoadUint64(&h.handled),
		Failed:  atomic.LoadUint64(&h.failed),
	}
}

// ResetStats clears the fault counters.
func (h *FaultHandler) ResetStats() {
	atomic.StoreUint64(&h.handled, 0)
	atomic.StoreUint64(&h.failed, 0)
}

func (h *FaultHandler) fail(faultAddr uintptr, flags FaultFlag, err *kernel.Error) *kernel.Error {
	atomic.AddUint64(&h.failed, 1)
	kfmt.Printf("[vmm] %s: unable to resolve fault at 0x%x (%s): [%s] %s\n", h.vmo.Name(), faultAddr, flags, err.Module, err.Message)
	return err
}
