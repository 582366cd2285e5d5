package hook

import (
	"encoding/binary"
	"math"

	"golang.org/x/arch/x86/x86asm"

	"github.com/wippyai/scriptbridge/errors"
)

const (
	// patchSize is the length of "jmp qword ptr [rip+0]; dq target".
	patchSize = 14
	// maxInstLen is the longest x86 instruction.
	maxInstLen = 15
	// prologueWindow is how many target bytes are read for relocation.
	prologueWindow = patchSize + maxInstLen
	int3           = 0xcc
)

// absJump encodes jmp qword ptr [rip+0] followed by the destination.
func absJump(dest uintptr) []byte {
	b := make([]byte, patchSize)
	b[0], b[1] = 0xff, 0x25
	binary.LittleEndian.PutUint64(b[6:], uint64(dest))
	return b
}

// patchBytes is the redirect written over a prologue of n bytes.
func patchBytes(dest uintptr, n int) []byte {
	b := absJump(dest)
	for len(b) < n {
		b = append(b, int3)
	}
	return b
}

// boundary maps an instruction start in the target to its copy in the
// trampoline.
type boundary struct {
	from, to int
}

// relocation is a decoded prologue copied to a new address.
type relocation struct {
	code       []byte
	consumed   int
	boundaries []boundary
}

// relocate copies whole instructions from code, located at from, until at
// least patchSize bytes are covered, re-basing rel32 displacements for
// placement at to.
func relocate(code []byte, from, to uintptr) (*relocation, error) {
	r := &relocation{}
	for r.consumed < patchSize {
		inst, err := x86asm.Decode(code[r.consumed:], 64)
		if err != nil {
			return nil, errors.New(errors.PhaseHook, errors.KindUnsupported).
				Value(from + uintptr(r.consumed)).
				Detail("decode prologue at +%d", r.consumed).
				Cause(err).
				Build()
		}
		if inst.Len == 1 && code[r.consumed] == int3 {
			return nil, errors.New(errors.PhaseHook, errors.KindUnsupported).
				Value(from).
				Detail("int3 inside the patch window at +%d", r.consumed).
				Build()
		}
		switch inst.Op {
		case x86asm.RET, x86asm.INT, x86asm.UD2:
			return nil, errors.New(errors.PhaseHook, errors.KindUnsupported).
				Value(from).
				Detail("function ends %d bytes in, shorter than the %d byte patch", r.consumed, patchSize).
				Build()
		}

		buf := append([]byte(nil), code[r.consumed:r.consumed+inst.Len]...)
		switch inst.PCRel {
		case 0:
		case 4:
			disp := int64(int32(binary.LittleEndian.Uint32(buf[inst.PCRelOff:])))
			target := int64(from) + int64(r.consumed+inst.Len) + disp
			moved := target - (int64(to) + int64(len(r.code)+inst.Len))
			if moved < math.MinInt32 || moved > math.MaxInt32 {
				return nil, errors.New(errors.PhaseHook, errors.KindUnsupported).
					Value(from + uintptr(r.consumed)).
					Detail("relative operand out of reach from trampoline").
					Build()
			}
			binary.LittleEndian.PutUint32(buf[inst.PCRelOff:], uint32(int32(moved)))
		default:
			return nil, errors.New(errors.PhaseHook, errors.KindUnsupported).
				Value(from + uintptr(r.consumed)).
				Detail("%d-byte relative operand in %s cannot be relocated", inst.PCRel, inst.Op).
				Build()
		}

		r.boundaries = append(r.boundaries, boundary{from: r.consumed, to: len(r.code)})
		r.code = append(r.code, buf...)
		r.consumed += inst.Len
	}
	r.code = append(r.code, absJump(from+uintptr(r.consumed))...)
	return r, nil
}

// forward maps a pc inside the patched prologue to the trampoline.
func (r *relocation) forward(pc, target, trampoline uintptr) (uintptr, bool) {
	if pc < target || pc >= target+uintptr(r.consumed) {
		return 0, false
	}
	off := int(pc - target)
	for _, b := range r.boundaries {
		if b.from == off {
			return trampoline + uintptr(b.to), true
		}
	}
	return 0, false
}

// back maps a pc inside the trampoline's relocated body to the target.
func (r *relocation) back(pc, target, trampoline uintptr) (uintptr, bool) {
	if pc < trampoline || pc >= trampoline+uintptr(len(r.code)) {
		return 0, false
	}
	off := int(pc - trampoline)
	for _, b := range r.boundaries {
		if b.to == off {
			return target + uintptr(b.from), true
		}
	}
	if off >= len(r.code)-patchSize {
		// Parked on the jump back.
		return target + uintptr(r.consumed), true
	}
	return 0, false
}
