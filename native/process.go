package native

import (
	"encoding/binary"
	"unsafe"

	"github.com/wippyai/scriptbridge/errors"
)

// Process is the address space of the current process. Every address handed to
// it must come from resolved symbols or host allocations.
type Process struct{}

func (Process) bytes(addr uintptr, n int) ([]byte, error) {
	if addr == 0 || n < 0 {
		return nil, errors.OutOfBounds(errors.PhaseHost, addr, n)
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), n), nil
}

// Read copies length bytes at addr.
func (p Process) Read(addr uintptr, length int) ([]byte, error) {
	src, err := p.bytes(addr, length)
	if err != nil {
		return nil, err
	}
	out := make([]byte, length)
	copy(out, src)
	return out, nil
}

// Write copies data to addr.
func (p Process) Write(addr uintptr, data []byte) error {
	dst, err := p.bytes(addr, len(data))
	if err != nil {
		return err
	}
	copy(dst, data)
	return nil
}

// ReadU8 reads an unsigned 8-bit value.
func (p Process) ReadU8(addr uintptr) (uint8, error) {
	b, err := p.bytes(addr, 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// ReadU32 reads an unsigned 32-bit little-endian value.
func (p Process) ReadU32(addr uintptr) (uint32, error) {
	b, err := p.bytes(addr, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// ReadU64 reads an unsigned 64-bit little-endian value.
func (p Process) ReadU64(addr uintptr) (uint64, error) {
	b, err := p.bytes(addr, 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// WriteU8 writes an unsigned 8-bit value.
func (p Process) WriteU8(addr uintptr, value uint8) error {
	b, err := p.bytes(addr, 1)
	if err != nil {
		return err
	}
	b[0] = value
	return nil
}

// WriteU32 writes an unsigned 32-bit little-endian value.
func (p Process) WriteU32(addr uintptr, value uint32) error {
	b, err := p.bytes(addr, 4)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(b, value)
	return nil
}

// WriteU64 writes an unsigned 64-bit little-endian value.
func (p Process) WriteU64(addr uintptr, value uint64) error {
	b, err := p.bytes(addr, 8)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(b, value)
	return nil
}
