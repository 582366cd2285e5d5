package simhost

import (
	"encoding/binary"
	"reflect"
	"sync"
	"sync/atomic"

	"golang.org/x/arch/x86/x86asm"

	"github.com/wippyai/scriptbridge/errors"
	"github.com/wippyai/scriptbridge/native"
)

// Impl is the Go body of a simulated native function.
type Impl func(args []uintptr) uintptr

// stubPrologue is the entry sequence of every hookable host function.
var stubPrologue = []byte{
	0x48, 0x89, 0x5c, 0x24, 0x08, // mov [rsp+8], rbx
	0x48, 0x89, 0x74, 0x24, 0x10, // mov [rsp+16], rsi
	0x57,                   // push rdi
	0x48, 0x83, 0xec, 0x20, // sub rsp, 32
}

const (
	stubSize     = 64
	callbackSize = 16
	maxSteps     = 256
)

// Machine executes calls into simulated code. Control starts at the called
// address and follows jumps through patches and trampolines; every other
// instruction is stepped over until an address with a Go body is reached.
type Machine struct {
	mem *Arena

	mu        sync.RWMutex
	impls     map[uintptr]Impl
	names     map[uintptr]string
	cbRegion  uintptr
	cbNext    uintptr
	callCount atomic.Int64
}

// NewMachine creates a machine executing code in mem.
func NewMachine(mem *Arena) *Machine {
	return &Machine{
		mem:   mem,
		impls: make(map[uintptr]Impl),
		names: make(map[uintptr]string),
	}
}

// Define maps a hookable function: a standard prologue followed by the body.
func (m *Machine) Define(name string, impl Impl) uintptr {
	entry := m.mem.Map(stubSize)
	code := make([]byte, stubSize)
	for i := range code {
		code[i] = 0xcc
	}
	copy(code, stubPrologue)
	_ = m.mem.Write(entry, code)
	m.bind(entry+uintptr(len(stubPrologue)), name, impl)
	m.mu.Lock()
	m.names[entry] = name
	m.mu.Unlock()
	return entry
}

// DefineLeaf maps a function too short to redirect: its body starts at the
// entry and the first instruction is a return.
func (m *Machine) DefineLeaf(name string, impl Impl) uintptr {
	entry := m.mem.Map(stubSize)
	code := make([]byte, stubSize)
	for i := range code {
		code[i] = 0xcc
	}
	code[0] = 0xc3
	_ = m.mem.Write(entry, code)
	m.bind(entry, name, impl)
	return entry
}

func (m *Machine) bind(addr uintptr, name string, impl Impl) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.impls[addr] = impl
	m.names[addr] = name
}

// Calls reports how many native calls the machine has executed.
func (m *Machine) Calls() int { return int(m.callCount.Load()) }

// Call implements native.Caller.
func (m *Machine) Call(fn native.Func, args ...uintptr) (uintptr, error) {
	if !fn.Valid() {
		return 0, errors.New(errors.PhaseHost, errors.KindNotInitialized).
			Symbol(fn.Name).
			Detail("call through unresolved function").
			Build()
	}
	if fn.Conv == native.ConvCdecl {
		return 0, errors.Unsupported(errors.PhaseHost, "cdecl call on x64 host")
	}
	m.callCount.Add(1)

	pc := fn.Addr
	for step := 0; step < maxSteps; step++ {
		m.mu.RLock()
		impl, ok := m.impls[pc]
		m.mu.RUnlock()
		if ok {
			return impl(args), nil
		}
		next, err := m.step(pc)
		if err != nil {
			return 0, errors.New(errors.PhaseHost, errors.KindDefect).
				Symbol(fn.Name).
				Value(pc).
				Detail("execution fault at %#x", pc).
				Cause(err).
				Build()
		}
		pc = next
	}
	return 0, errors.New(errors.PhaseHost, errors.KindDefect).
		Symbol(fn.Name).
		Detail("no function body reached after %d instructions", maxSteps).
		Build()
}

// fetch reads up to one instruction's worth of bytes at pc.
func (m *Machine) fetch(pc uintptr) ([]byte, error) {
	var err error
	for n := 15; n > 0; n-- {
		var b []byte
		if b, err = m.mem.Read(pc, n); err == nil {
			return b, nil
		}
	}
	return nil, err
}

func (m *Machine) step(pc uintptr) (uintptr, error) {
	code, err := m.fetch(pc)
	if err != nil {
		return 0, err
	}
	switch {
	case len(code) >= 6 && code[0] == 0xff && code[1] == 0x25:
		disp := int32(binary.LittleEndian.Uint32(code[2:]))
		return m.readPtr(uintptr(int64(pc) + 6 + int64(disp)))
	case len(code) >= 5 && code[0] == 0xe9:
		return uintptr(int64(pc) + 5 + int64(int32(binary.LittleEndian.Uint32(code[1:])))), nil
	case len(code) >= 2 && code[0] == 0xeb:
		return uintptr(int64(pc) + 2 + int64(int8(code[1]))), nil
	}
	inst, err := x86asm.Decode(code, 64)
	if err != nil {
		return 0, err
	}
	switch inst.Op {
	case x86asm.RET, x86asm.INT, x86asm.UD2:
		return 0, errors.InvalidData(errors.PhaseHost, inst.Op.String()+" reached before a function body")
	}
	return pc + uintptr(inst.Len), nil
}

func (m *Machine) readPtr(addr uintptr) (uintptr, error) {
	v, err := m.mem.ReadU64(addr)
	return uintptr(v), err
}

var uintptrType = reflect.TypeOf(uintptr(0))

// NewCallback implements native.Callbacks.
func (m *Machine) NewCallback(fn any) (uintptr, error) {
	v := reflect.ValueOf(fn)
	t := v.Type()
	if t.Kind() != reflect.Func || t.NumOut() != 1 || t.Out(0) != uintptrType || t.IsVariadic() {
		return 0, errors.InvalidInput(errors.PhaseHost, "callback must be a func of uintptr arguments returning uintptr")
	}
	for i := 0; i < t.NumIn(); i++ {
		if t.In(i) != uintptrType {
			return 0, errors.InvalidInput(errors.PhaseHost, "callback arguments must be uintptr")
		}
	}
	arity := t.NumIn()
	impl := func(args []uintptr) uintptr {
		in := make([]reflect.Value, arity)
		for i := range in {
			var a uintptr
			if i < len(args) {
				a = args[i]
			}
			in[i] = reflect.ValueOf(a)
		}
		return uintptr(v.Call(in)[0].Uint())
	}

	m.mu.Lock()
	if m.cbRegion == 0 || m.cbNext+callbackSize > m.cbRegion+pageSize {
		m.mu.Unlock()
		region := m.mem.Map(pageSize)
		m.mu.Lock()
		m.cbRegion, m.cbNext = region, region
	}
	addr := m.cbNext
	m.cbNext += callbackSize
	m.impls[addr] = impl
	m.names[addr] = "callback"
	m.mu.Unlock()
	return addr, nil
}
