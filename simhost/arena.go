package simhost

import (
	"encoding/binary"
	"sort"
	"sync"

	"github.com/wippyai/scriptbridge/errors"
)

const (
	arenaBase = 0x7ff600000000
	pageSize  = 0x1000
)

type region struct {
	base uintptr
	data []byte
	heap bool
}

func (r *region) end() uintptr { return r.base + uintptr(len(r.data)) }

// Arena is a sparse simulated address space. Regions never overlap and
// addresses are never reused, so a stale pointer always faults.
type Arena struct {
	mu        sync.Mutex
	regions   []*region
	next      uintptr
	codeFault map[uintptr]error
	frees     int
	badFrees  int
}

// NewArena creates an empty address space.
func NewArena() *Arena {
	return &Arena{next: arenaBase, codeFault: make(map[uintptr]error)}
}

// Map reserves a zeroed region of at least size bytes.
func (a *Arena) Map(size uintptr) uintptr {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.mapLocked(size, false).base
}

func (a *Arena) mapLocked(size uintptr, heap bool) *region {
	if size == 0 {
		size = 1
	}
	// A guard page between regions.
	span := (size + pageSize - 1) &^ (pageSize - 1)
	r := &region{base: a.next, data: make([]byte, size), heap: heap}
	a.next += span + pageSize
	a.regions = append(a.regions, r)
	return r
}

func (a *Arena) find(addr uintptr, n int) ([]byte, error) {
	i := sort.Search(len(a.regions), func(i int) bool { return a.regions[i].end() > addr })
	if i < len(a.regions) {
		r := a.regions[i]
		if addr >= r.base && addr+uintptr(n) <= r.end() && n >= 0 {
			off := addr - r.base
			return r.data[off : off+uintptr(n)], nil
		}
	}
	return nil, errors.OutOfBounds(errors.PhaseHost, addr, n)
}

// Alloc implements scriptbridge.Allocator.
func (a *Arena) Alloc(size uintptr) (uintptr, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.mapLocked(size, true).base, nil
}

// Free implements scriptbridge.Allocator. Freeing an address that is not the
// start of a live heap block is counted, not fatal.
func (a *Arena) Free(addr uintptr) {
	if addr == 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	for i, r := range a.regions {
		if r.base == addr && r.heap {
			a.regions = append(a.regions[:i], a.regions[i+1:]...)
			a.frees++
			return
		}
	}
	a.badFrees++
}

// Live reports the number of heap blocks not yet freed.
func (a *Arena) Live() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, r := range a.regions {
		if r.heap {
			n++
		}
	}
	return n
}

// Frees reports successful and invalid frees.
func (a *Arena) Frees() (ok, bad int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.frees, a.badFrees
}

// Read implements scriptbridge.Memory.
func (a *Arena) Read(addr uintptr, length int) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	b, err := a.find(addr, length)
	if err != nil {
		return nil, err
	}
	out := make([]byte, length)
	copy(out, b)
	return out, nil
}

// Write implements scriptbridge.Memory.
func (a *Arena) Write(addr uintptr, data []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	b, err := a.find(addr, len(data))
	if err != nil {
		return err
	}
	copy(b, data)
	return nil
}

// ReadU8 implements scriptbridge.Memory.
func (a *Arena) ReadU8(addr uintptr) (uint8, error) {
	b, err := a.Read(addr, 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// ReadU32 implements scriptbridge.Memory.
func (a *Arena) ReadU32(addr uintptr) (uint32, error) {
	b, err := a.Read(addr, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// ReadU64 implements scriptbridge.Memory.
func (a *Arena) ReadU64(addr uintptr) (uint64, error) {
	b, err := a.Read(addr, 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// WriteU8 implements scriptbridge.Memory.
func (a *Arena) WriteU8(addr uintptr, value uint8) error {
	return a.Write(addr, []byte{value})
}

// WriteU32 implements scriptbridge.Memory.
func (a *Arena) WriteU32(addr uintptr, value uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], value)
	return a.Write(addr, b[:])
}

// WriteU64 implements scriptbridge.Memory.
func (a *Arena) WriteU64(addr uintptr, value uint64) error {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], value)
	return a.Write(addr, b[:])
}

// WriteCode implements hook.CodeMemory.
func (a *Arena) WriteCode(addr uintptr, code []byte) error {
	a.mu.Lock()
	err, faulty := a.codeFault[addr]
	a.mu.Unlock()
	if faulty {
		return err
	}
	return a.Write(addr, code)
}

// AllocCode implements hook.CodeMemory. The whole arena lies within rel32
// reach of itself.
func (a *Arena) AllocCode(near, size uintptr) (uintptr, error) {
	return a.Alloc(size)
}

// FreeCode implements hook.CodeMemory.
func (a *Arena) FreeCode(addr uintptr) {
	a.Free(addr)
}

// FailCodeWrites makes every later code write at addr fail with err. A nil
// err clears the fault.
func (a *Arena) FailCodeWrites(addr uintptr, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err == nil {
		delete(a.codeFault, addr)
		return
	}
	a.codeFault[addr] = err
}
