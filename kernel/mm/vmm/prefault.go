package vmm

import "soliloquy/kernel"

// Prefaulter commits ranges of a virtual memory object ahead of use so that
// later accesses do not take the fault path.
type Prefaulter struct {
	handler *FaultHandler
}

// NewPrefaulter returns a Prefaulter that commits pages through handler.
func NewPrefaulter(handler *FaultHandler) *Prefaulter {
	return &Prefaulter{handler: handler}
}

// Prefault faults in the byte range [startAddr, startAddr+size) as a read
// access.
func (p *Prefaulter) Prefault(startAddr, size uintptr) *kernel.Error {
	return p.handler.HandleRangeFault(startAddr, size, FaultRead)
}
