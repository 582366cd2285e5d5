package native

import (
	"errors"
	"runtime"
	"testing"
	"unsafe"

	bridgeerrors "github.com/wippyai/scriptbridge/errors"
)

func TestProcess_ReadWrite(t *testing.T) {
	buf := make([]byte, 32)
	addr := uintptr(unsafe.Pointer(&buf[0]))
	var p Process

	if err := p.WriteU64(addr, 0x1122334455667788); err != nil {
		t.Fatalf("WriteU64: %v", err)
	}
	if err := p.WriteU32(addr+8, 0xdeadbeef); err != nil {
		t.Fatalf("WriteU32: %v", err)
	}
	if err := p.WriteU8(addr+12, 7); err != nil {
		t.Fatalf("WriteU8: %v", err)
	}

	v64, _ := p.ReadU64(addr)
	v32, _ := p.ReadU32(addr + 8)
	v8, _ := p.ReadU8(addr + 12)
	if v64 != 0x1122334455667788 || v32 != 0xdeadbeef || v8 != 7 {
		t.Errorf("read back %#x %#x %d", v64, v32, v8)
	}
	if buf[0] != 0x88 {
		t.Errorf("not little-endian: first byte %#x", buf[0])
	}

	got, err := p.Read(addr+8, 4)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	got[0] = 0
	if buf[8] == 0 {
		t.Error("Read must return a copy")
	}
	runtime.KeepAlive(buf)
}

func TestProcess_NilAddress(t *testing.T) {
	var p Process
	_, err := p.ReadU32(0)
	if !errors.Is(err, &bridgeerrors.Error{Phase: bridgeerrors.PhaseHost, Kind: bridgeerrors.KindOutOfBounds}) {
		t.Errorf("ReadU32(0) error = %v, want out_of_bounds", err)
	}
}

type recordingCaller struct {
	calls []Func
	args  [][]uintptr
	ret   uintptr
}

func (c *recordingCaller) Call(fn Func, args ...uintptr) (uintptr, error) {
	if err := checkCallable(fn); err != nil {
		return 0, err
	}
	c.calls = append(c.calls, fn)
	c.args = append(c.args, args)
	return c.ret, nil
}

func TestHeap(t *testing.T) {
	calls := &recordingCaller{ret: 0x5000}
	h := &Heap{
		Calls:  calls,
		New:    Func{Name: "operator new", Addr: 0x10},
		Delete: Func{Name: "operator delete", Addr: 0x20},
	}

	addr, err := h.Alloc(48)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if addr != 0x5000 {
		t.Errorf("Alloc = %#x, want 0x5000", addr)
	}
	h.Free(addr)
	h.Free(0)

	if len(calls.calls) != 2 {
		t.Fatalf("calls = %d, want 2 (nil free must be skipped)", len(calls.calls))
	}
	if calls.calls[1].Name != "operator delete" || calls.args[1][0] != 0x5000 {
		t.Errorf("free call = %v %v", calls.calls[1], calls.args[1])
	}

	calls.ret = 0
	if _, err := h.Alloc(16); !errors.Is(err, &bridgeerrors.Error{Phase: bridgeerrors.PhaseHost, Kind: bridgeerrors.KindAllocation}) {
		t.Errorf("Alloc returning nil: error = %v, want allocation", err)
	}
}

func TestCheckCallable(t *testing.T) {
	tests := []struct {
		name string
		fn   Func
		kind bridgeerrors.Kind
	}{
		{"unresolved", Func{Name: "Log"}, bridgeerrors.KindNotInitialized},
		{"cdecl", Func{Name: "Log", Addr: 1, Conv: ConvCdecl}, bridgeerrors.KindUnsupported},
		{"member", Func{Name: "StdStrBuf::Copy", Addr: 1, Conv: ConvMember}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkCallable(tt.fn)
			if tt.kind == "" {
				if err != nil {
					t.Errorf("unexpected error %v", err)
				}
				return
			}
			var e *bridgeerrors.Error
			if !errors.As(err, &e) || e.Kind != tt.kind {
				t.Errorf("error = %v, want kind %s", err, tt.kind)
			}
		})
	}
}

func TestBool(t *testing.T) {
	if Bool(true) != 1 || Bool(false) != 0 {
		t.Error("Bool conversion")
	}
}
