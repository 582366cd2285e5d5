package vtable

import (
	"sync"

	"github.com/wippyai/scriptbridge"
	"github.com/wippyai/scriptbridge/errors"
)

// Template is a shimmed table ready to be cloned per object.
type Template struct {
	words   []uintptr
	entries int
	slot    int
}

// Build copies the table at table, with entries virtual functions, and
// replaces entry slot with trampoline.
func Build(mem scriptbridge.Memory, table uintptr, entries, slot int, trampoline uintptr) (*Template, error) {
	if table == 0 {
		return nil, errors.NotInitialized(errors.PhaseShim, "source table")
	}
	if entries <= 0 || slot < 0 || slot >= entries {
		return nil, errors.New(errors.PhaseShim, errors.KindInvalidInput).
			Value(slot).
			Detail("slot %d outside a table of %d entries", slot, entries).
			Build()
	}
	if trampoline == 0 {
		return nil, errors.InvalidInput(errors.PhaseShim, "nil trampoline")
	}

	words, err := scriptbridge.ReadPtrs(mem, table-scriptbridge.PtrSize, entries+1)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseShim, errors.KindOutOfBounds, err, "copy source table")
	}
	words[1+slot] = trampoline
	words = append(words, 0)
	return &Template{words: words, entries: entries, slot: slot}, nil
}

// Entries returns the number of virtual functions in the table.
func (t *Template) Entries() int { return t.entries }

// Entry returns entry i of the shimmed table.
func (t *Template) Entry(i int) uintptr { return t.words[1+i] }

// Instance is one allocated copy of a template.
type Instance struct {
	addr    uintptr
	entries int
	alloc   scriptbridge.Allocator
}

// Instantiate writes a copy of the template into host memory with ctx in
// the context slot.
func (t *Template) Instantiate(mem scriptbridge.Memory, alloc scriptbridge.Allocator, ctx uintptr) (*Instance, error) {
	size := uintptr(len(t.words)) * scriptbridge.PtrSize
	addr, err := alloc.Alloc(size)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseShim, errors.KindAllocation, err, "allocate table copy")
	}
	words := append([]uintptr(nil), t.words...)
	words[len(words)-1] = ctx
	if err := scriptbridge.WritePtrs(mem, addr, words); err != nil {
		alloc.Free(addr)
		return nil, errors.Wrap(errors.PhaseShim, errors.KindOutOfBounds, err, "write table copy")
	}
	return &Instance{addr: addr, entries: t.entries, alloc: alloc}, nil
}

// VPtr returns the value to store in an object's vtable pointer.
func (i *Instance) VPtr() uintptr { return i.addr + scriptbridge.PtrSize }

// Clear zeroes the context slot.
func (i *Instance) Clear(mem scriptbridge.Memory) error {
	return scriptbridge.WritePtr(mem, contextSlot(i.VPtr(), i.entries), 0)
}

// Free releases the copy.
func (i *Instance) Free() {
	i.alloc.Free(i.addr)
}

func contextSlot(vptr uintptr, entries int) uintptr {
	return vptr + uintptr(entries)*scriptbridge.PtrSize
}

// ReadContext reads the context slot of the table an object points at.
func ReadContext(mem scriptbridge.Memory, vptr uintptr, entries int) (uintptr, error) {
	return scriptbridge.ReadPtr(mem, contextSlot(vptr, entries))
}

// Retired holds consumed instances until limit newer ones have been retired.
// The host may still dispatch through a table copy after the call that
// consumed its context returns, so copies are not freed immediately.
type Retired struct {
	mu    sync.Mutex
	limit int
	queue []*Instance
}

// NewRetired creates a retirement queue.
func NewRetired(limit int) *Retired {
	if limit < 1 {
		limit = 1
	}
	return &Retired{limit: limit}
}

// Retire queues inst and frees the oldest instances past the limit.
func (r *Retired) Retire(inst *Instance) {
	r.mu.Lock()
	r.queue = append(r.queue, inst)
	var evict []*Instance
	if over := len(r.queue) - r.limit; over > 0 {
		evict = append(evict, r.queue[:over]...)
		r.queue = append(r.queue[:0], r.queue[over:]...)
	}
	r.mu.Unlock()
	for _, i := range evict {
		i.Free()
	}
}

// Len reports how many instances are held.
func (r *Retired) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue)
}

// Drain frees every held instance.
func (r *Retired) Drain() {
	r.mu.Lock()
	q := r.queue
	r.queue = nil
	r.mu.Unlock()
	for _, i := range q {
		i.Free()
	}
}
