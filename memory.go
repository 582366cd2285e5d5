package scriptbridge

import (
	"encoding/binary"
	"errors"
	"fmt"
	"unicode/utf8"
)

// PtrSize is the size of a native pointer in the host process.
const PtrSize = 8

// Memory represents the host's address space.
type Memory interface {
	Read(addr uintptr, length int) ([]byte, error)
	Write(addr uintptr, data []byte) error
	ReadU8(addr uintptr) (uint8, error)
	ReadU32(addr uintptr) (uint32, error)
	ReadU64(addr uintptr) (uint64, error)
	WriteU8(addr uintptr, value uint8) error
	WriteU32(addr uintptr, value uint32) error
	WriteU64(addr uintptr, value uint64) error
}

// Allocator allocates memory the host can own.
type Allocator interface {
	Alloc(size uintptr) (uintptr, error)
	Free(addr uintptr)
}

// ReadBool reads a one-byte C++ bool.
func ReadBool(mem Memory, addr uintptr) (bool, error) {
	v, err := mem.ReadU8(addr)
	return v != 0, err
}

// ReadI32 reads a signed 32-bit little-endian value.
func ReadI32(mem Memory, addr uintptr) (int32, error) {
	v, err := mem.ReadU32(addr)
	return int32(v), err
}

// ReadPtr reads a pointer-sized value.
func ReadPtr(mem Memory, addr uintptr) (uintptr, error) {
	v, err := mem.ReadU64(addr)
	return uintptr(v), err
}

// WritePtr writes a pointer-sized value.
func WritePtr(mem Memory, addr, value uintptr) error {
	return mem.WriteU64(addr, uint64(value))
}

// WritePtrs writes consecutive pointer-sized values starting at addr.
func WritePtrs(mem Memory, addr uintptr, values []uintptr) error {
	buf := make([]byte, len(values)*PtrSize)
	for i, v := range values {
		binary.LittleEndian.PutUint64(buf[i*PtrSize:], uint64(v))
	}
	return mem.Write(addr, buf)
}

// ReadPtrs reads n consecutive pointer-sized values starting at addr.
func ReadPtrs(mem Memory, addr uintptr, n int) ([]uintptr, error) {
	buf, err := mem.Read(addr, n*PtrSize)
	if err != nil {
		return nil, err
	}
	out := make([]uintptr, n)
	for i := range out {
		out[i] = uintptr(binary.LittleEndian.Uint64(buf[i*PtrSize:]))
	}
	return out, nil
}

// Zero clears n bytes at addr.
func Zero(mem Memory, addr uintptr, n int) error {
	return mem.Write(addr, make([]byte, n))
}

// maxCString bounds ReadCString when the host hands back an unterminated buffer.
const maxCString = 1 << 20

// ReadCString reads a NUL-terminated string. It fails if the bytes are not
// valid UTF-8.
func ReadCString(mem Memory, addr uintptr) (string, error) {
	if addr == 0 {
		return "", fmt.Errorf("read string: nil pointer")
	}
	var out []byte
	for len(out) < maxCString {
		chunk, err := mem.Read(addr+uintptr(len(out)), 1)
		if err != nil {
			return "", err
		}
		if chunk[0] == 0 {
			if !utf8.Valid(out) {
				return "", fmt.Errorf("read string at %#x: %w", addr, ErrInvalidUTF8)
			}
			return string(out), nil
		}
		out = append(out, chunk[0])
	}
	return "", fmt.Errorf("read string at %#x: no terminator within %d bytes", addr, maxCString)
}

// WriteCString writes s followed by a NUL terminator.
func WriteCString(mem Memory, addr uintptr, s string) error {
	buf := make([]byte, len(s)+1)
	copy(buf, s)
	return mem.Write(addr, buf)
}

// AllocCString allocates len(s)+1 bytes from alloc and writes s into them.
func AllocCString(mem Memory, alloc Allocator, s string) (uintptr, error) {
	addr, err := alloc.Alloc(uintptr(len(s) + 1))
	if err != nil {
		return 0, err
	}
	if err := WriteCString(mem, addr, s); err != nil {
		alloc.Free(addr)
		return 0, err
	}
	return addr, nil
}

// ErrInvalidUTF8 is returned when host text is not valid UTF-8.
var ErrInvalidUTF8 = errors.New("invalid UTF-8")
