package simhost

import (
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/scriptbridge"
	"github.com/wippyai/scriptbridge/native"
)

const (
	slotDestructor = 0
	slotExecute    = 3
)

var scriptTableSlots = [controlScriptVTables]string{
	"C4ControlScript::`scalar deleting destructor'",
	"C4ControlScript::Sync",
	"C4ControlScript::PreExecute",
	"C4ControlScript::Execute",
	"C4ControlScript::PreRec",
	"C4ControlScript::CompileFunc",
	"C4ControlScript::Lobby",
}

func (h *Host) defineControl(leafReporter bool) {
	noop := func([]uintptr) uintptr { return 0 }

	slots := make([]uintptr, controlScriptVTables)
	for i, name := range scriptTableSlots {
		switch i {
		case slotDestructor:
			slots[i] = h.define(ModuleName, name, h.destroyPacket)
		case slotExecute:
			slots[i] = h.define(ModuleName, name, h.executePacket)
		default:
			slots[i] = h.define(ModuleName, name, noop)
		}
	}
	locator := h.Arena.Map(0x20)
	h.scriptTable = h.mapTable(locator, slots)
	h.packetTable = h.mapTable(locator, slots)
	h.Image.define(ModuleName, "C4ControlScript::`vftable'", h.scriptTable)

	h.define(ModuleName, "C4ControlPacket::C4ControlPacket", func(args []uintptr) uintptr {
		this := args[0]
		_ = scriptbridge.WritePtr(h.Arena, this, h.packetTable)
		_ = h.Arena.WriteU8(this+0x08, 0)
		return this
	})
	h.define(ModuleName, "C4GameControl::DoInput", h.doInput)
	h.define(ModuleName, "C4AulScript::DirectExec", h.directExec)

	report := func(args []uintptr) uintptr {
		h.errorsShown.Add(1)
		data, _ := scriptbridge.ReadPtr(h.Arena, args[0]+aulErrorMessage+strBufData)
		msg, _ := readRaw(h.Arena, data)
		h.log("ERROR: " + msg)
		return 0
	}
	if leafReporter {
		h.showError = h.Machine.DefineLeaf("C4AulError::show", report)
		h.Image.define(ModuleName, "C4AulError::show", h.showError)
	} else {
		h.showError = h.define(ModuleName, "C4AulError::show", report)
	}
}

// mapTable writes a header word and the entries, returning the address of
// entry 0.
func (h *Host) mapTable(header uintptr, entries []uintptr) uintptr {
	base := h.Arena.Map(uintptr(len(entries)+1) * scriptbridge.PtrSize)
	_ = scriptbridge.WritePtrs(h.Arena, base, append([]uintptr{header}, entries...))
	return base + scriptbridge.PtrSize
}

// doInput queues a packet for the next frame. Packets with an unexpected
// type or delivery are destroyed right away.
func (h *Host) doInput(args []uintptr) uintptr {
	h.inputs.Add(1)
	ctrl, kind, pkt, delivery := args[0], args[1], args[2], args[3]
	if ctrl != h.game+gameControl || kind != packetScript || delivery != deliveryDecide {
		Logger().Warn("rejected control input",
			zap.Uintptr("control", ctrl),
			zap.Uintptr("type", kind),
			zap.Uintptr("delivery", delivery))
		h.destroy(pkt)
		return 0
	}
	h.mu.Lock()
	h.pending = append(h.pending, pkt)
	h.mu.Unlock()
	return 0
}

// frame executes and destroys every queued packet through its own vtable.
func (h *Host) frame() {
	h.mu.Lock()
	queued := h.pending
	h.pending = nil
	h.mu.Unlock()

	for _, pkt := range queued {
		vptr, err := scriptbridge.ReadPtr(h.Arena, pkt)
		if err != nil {
			Logger().Error("packet without vtable", zap.Uintptr("packet", pkt), zap.Error(err))
			continue
		}
		exec, err := scriptbridge.ReadPtr(h.Arena, vptr+slotExecute*scriptbridge.PtrSize)
		if err != nil {
			Logger().Error("vtable unreadable", zap.Uintptr("vtable", vptr), zap.Error(err))
			continue
		}
		if _, err := h.Machine.Call(native.Func{Name: "Execute", Addr: exec, Conv: native.ConvMember}, pkt); err != nil {
			Logger().Error("packet execute failed", zap.Error(err))
		}
		h.destroy(pkt)
	}

	counter, _ := h.Arena.ReadU32(h.game + gameFrameCounter)
	_ = h.Arena.WriteU32(h.game+gameFrameCounter, counter+1)
}

func (h *Host) destroy(pkt uintptr) {
	vptr, err := scriptbridge.ReadPtr(h.Arena, pkt)
	if err != nil {
		return
	}
	dtor, err := scriptbridge.ReadPtr(h.Arena, vptr+slotDestructor*scriptbridge.PtrSize)
	if err != nil {
		return
	}
	if _, err := h.Machine.Call(native.Func{Name: "destructor", Addr: dtor, Conv: native.ConvMember}, pkt, 1); err != nil {
		Logger().Error("packet destructor failed", zap.Error(err))
	}
}

func (h *Host) destroyPacket(args []uintptr) uintptr {
	this, flags := args[0], args[1]
	h.deletes.Add(1)
	h.freeStrBuf(this + controlScriptText)
	if flags&1 != 0 {
		h.Arena.Free(this)
	}
	return this
}

// executePacket is the host's own Execute: it runs the script and logs the
// result.
func (h *Host) executePacket(args []uintptr) uintptr {
	this := args[0]
	text, _ := scriptbridge.ReadPtr(h.Arena, this+controlScriptText+strBufData)
	ret := h.alloc(valueSize)
	h.directExec([]uintptr{h.game + gameScriptEngine, ret, 0, text, 0, 0, 3})
	str := h.alloc(strBufSize)
	h.Machine.Call(native.Func{Name: "C4Value::GetDataString", Addr: h.mustLocate("C4Value::GetDataString")}, ret, str)
	data, _ := scriptbridge.ReadPtr(h.Arena, str+strBufData)
	result, _ := readRaw(h.Arena, data)
	h.log("-> " + result)
	h.freeStrBuf(str)
	h.Arena.Free(str)
	h.Machine.Call(native.Func{Name: "C4Value::~C4Value", Addr: h.mustLocate("C4Value::~C4Value")}, ret)
	h.Arena.Free(ret)
	return 0
}

func (h *Host) mustLocate(name string) uintptr {
	addr, _ := h.Image.Locate(ModuleName, name)
	return addr
}

// directExec evaluates script text and stores the value at ret. Errors go to
// C4AulError::show through the machine, so a redirect on the reporter sees
// them.
func (h *Host) directExec(args []uintptr) uintptr {
	h.directExecs.Add(1)
	engine, ret, script := args[0], args[1], args[3]
	if engine != h.game+gameScriptEngine {
		Logger().Warn("DirectExec on unknown engine", zap.Uintptr("engine", engine))
	}

	_ = scriptbridge.Zero(h.Arena, ret, valueSize)
	text, err := readRaw(h.Arena, script)
	if err != nil {
		h.reportError(err.Error())
		return ret
	}
	result, err := h.engine.Eval(text)
	if err != nil {
		h.reportError(err.Error())
		return ret
	}
	data := h.alloc(uintptr(len(result) + 1))
	_ = scriptbridge.WriteCString(h.Arena, data, result)
	_ = scriptbridge.WritePtr(h.Arena, ret+valueData, data)
	_ = h.Arena.WriteU8(ret+valueType, valueTypeString)
	return ret
}

func (h *Host) reportError(msg string) {
	obj := h.alloc(aulErrorSize)
	h.writeStrBuf(obj+aulErrorMessage, msg)
	if _, err := h.Machine.Call(native.Func{Name: "C4AulError::show", Addr: h.showError, Conv: native.ConvMember}, obj); err != nil {
		Logger().Error("error reporter failed", zap.Error(err))
	}
	h.freeStrBuf(obj + aulErrorMessage)
	h.Arena.Free(obj)
}

// Thread is the simulated main thread as seen by the hook installer.
type Thread struct {
	mu       sync.Mutex
	id       uint32
	pc       uintptr
	suspends int
}

// ID implements hook.Thread.
func (t *Thread) ID() uint32 { return t.id }

// IsCurrent implements hook.Thread.
func (t *Thread) IsCurrent() bool { return false }

// Suspend implements hook.Thread.
func (t *Thread) Suspend() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.suspends++
	return nil
}

// Resume implements hook.Thread.
func (t *Thread) Resume() error { return nil }

// PC implements hook.Thread.
func (t *Thread) PC() (uintptr, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pc, nil
}

// SetPC implements hook.Thread.
func (t *Thread) SetPC(pc uintptr) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pc = pc
	return nil
}

// Suspends reports how many times the thread was suspended.
func (t *Thread) Suspends() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.suspends
}
