package native

import (
	"github.com/wippyai/scriptbridge/errors"
)

// Heap allocates through the host's operator new and operator delete.
type Heap struct {
	Calls  Caller
	New    Func
	Delete Func
}

// Alloc implements scriptbridge.Allocator.
func (h *Heap) Alloc(size uintptr) (uintptr, error) {
	addr, err := h.Calls.Call(h.New, size)
	if err != nil {
		return 0, err
	}
	if addr == 0 {
		return 0, errors.AllocationFailed(errors.PhaseHost, size)
	}
	return addr, nil
}

// Free implements scriptbridge.Allocator.
func (h *Heap) Free(addr uintptr) {
	if addr == 0 {
		return
	}
	_, _ = h.Calls.Call(h.Delete, addr)
}

// CRTFree releases buffers the host allocated with malloc.
type CRTFree struct {
	Calls Caller
	Fn    Func
}

// Free releases addr.
func (f *CRTFree) Free(addr uintptr) {
	if addr == 0 {
		return
	}
	_, _ = f.Calls.Call(f.Fn, addr)
}
