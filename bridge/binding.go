package bridge

import (
	"go.uber.org/zap"

	"github.com/wippyai/scriptbridge/errors"
	"github.com/wippyai/scriptbridge/locate"
	"github.com/wippyai/scriptbridge/native"
	"github.com/wippyai/scriptbridge/symbols"
)

// Host ABI constants.
const (
	// VTableEntries is the number of virtual functions of C4ControlScript.
	VTableEntries = 7
	// ExecuteSlot is the index of C4ControlScript::Execute.
	ExecuteSlot = 3

	packetScript   = 0x80 | 0x08 // CID_Script
	deliveryDecide = 4           // CDT_Decide
	noTargetObject = -2          // NO_OWNER target sentinel
	replayMode     = 3           // CM_Replay
	strictness     = 3
)

// StrBufLayout is the layout of the host's StdStrBuf.
type StrBufLayout struct {
	Size uintptr
	Ref  uintptr
	Data uintptr
	Len  uintptr
}

// Binding is every address, offset and entry point the bridge uses. It is
// resolved once and never changes.
type Binding struct {
	Module native.Module

	// Host state read by validation.
	IsRunning            uintptr
	NetworkState         uintptr
	IsHost               uintptr
	ControlMode          uintptr
	AllowReplayScripting uintptr
	LeagueAddress        uintptr

	GameControl  uintptr
	ScriptEngine uintptr
	ScriptVTable uintptr

	ControlScriptSize uintptr
	TargetObjOffset   uintptr
	ScriptOffset      uintptr
	ValueSize         uintptr
	StrBuf            StrBufLayout

	// ErrorMessageOffset locates C4AulError::sMessage. Zero unless error
	// capture was requested.
	ErrorMessageOffset uintptr

	Construct     native.Func
	Copy          native.Func
	DoInput       native.Func
	DirectExec    native.Func
	GetDataString native.Func
	ValueDtor     native.Func
	StrBufDtor    native.Func
	GrabPointer   native.Func
	New           native.Func
	Delete        native.Func
	Free          native.Func
	Log           native.Func
	ShowError     native.Func
}

// ResolveOptions selects optional bindings.
type ResolveOptions struct {
	// CRTModule exports free, which releases detached host strings.
	CRTModule string
	// CaptureErrors resolves the host's script error reporter.
	CaptureErrors bool
}

// binder resolves names in order and keeps the first failure.
type binder struct {
	syms   *symbols.Resolver
	loc    locate.Locator
	module string
	types  map[string]*symbols.Type
	err    error
}

func (b *binder) typ(name string) *symbols.Type {
	if b.err != nil {
		return nil
	}
	if t, ok := b.types[name]; ok {
		return t
	}
	t, err := b.syms.Lookup(name)
	if err != nil {
		b.err = err
		return nil
	}
	b.types[name] = t
	return t
}

func (b *binder) size(typeName string) uintptr {
	t := b.typ(typeName)
	if t == nil {
		return 0
	}
	return t.Size
}

func (b *binder) offset(typeName, member string) uintptr {
	t := b.typ(typeName)
	if t == nil {
		return 0
	}
	off, err := t.Offset(member)
	if err != nil {
		b.err = err
		return 0
	}
	return off
}

func (b *binder) addr(module, name string) uintptr {
	if b.err != nil {
		return 0
	}
	addr, err := b.loc.Locate(module, name)
	if err != nil {
		b.err = err
		return 0
	}
	return addr
}

func (b *binder) fn(name string, conv native.Conv) native.Func {
	return native.Func{Name: name, Addr: b.addr(b.module, name), Conv: conv}
}

// Resolve looks up every binding. The first name that cannot be resolved
// aborts the whole resolution; its error names the type, member or symbol.
func Resolve(syms *symbols.Resolver, loc locate.Locator, module native.Module, opts ResolveOptions) (*Binding, error) {
	b := &binder{syms: syms, loc: loc, module: module.Name, types: make(map[string]*symbols.Type)}
	out := &Binding{Module: module}

	out.ControlScriptSize = b.size("C4ControlScript")
	out.TargetObjOffset = b.offset("C4ControlScript", "iTargetObj")
	out.ScriptOffset = b.offset("C4ControlScript", "Script")

	game := b.addr(module.Name, "Game")
	out.IsRunning = game + b.offset("C4Game", "IsRunning")
	out.GameControl = game + b.offset("C4Game", "Control")
	network := game + b.offset("C4Game", "Network")
	parameters := game + b.offset("C4Game", "Parameters")
	out.ScriptEngine = game + b.offset("C4Game", "ScriptEngine")

	out.ControlMode = out.GameControl + b.offset("C4GameControl", "eMode")
	out.LeagueAddress = parameters + b.offset("C4GameParameters", "LeagueAddress")

	config := b.addr(module.Name, "Config")
	general := config + b.offset("C4Config", "General")
	out.AllowReplayScripting = general + b.offset("C4ConfigGeneral", "AllowScriptingInReplays")

	out.IsHost = network + b.offset("C4Network2", "fHost")
	status := network + b.offset("C4Network2", "Status")
	out.NetworkState = status + b.offset("C4Network2Status", "eState")

	out.StrBuf = StrBufLayout{
		Size: b.size("StdStrBuf"),
		Ref:  b.offset("StdStrBuf", "fRef"),
		Data: b.offset("StdStrBuf", "pData"),
		Len:  b.offset("StdStrBuf", "iSize"),
	}
	out.ValueSize = b.size("C4Value")

	out.Construct = b.fn("C4ControlPacket::C4ControlPacket", native.ConvMember)
	out.Copy = b.fn("StdStrBuf::Copy", native.ConvMember)
	out.DoInput = b.fn("C4GameControl::DoInput", native.ConvMember)
	out.ScriptVTable = b.addr(module.Name, "C4ControlScript::`vftable'")
	out.DirectExec = b.fn("C4AulScript::DirectExec", native.ConvMember)
	out.GetDataString = b.fn("C4Value::GetDataString", native.ConvMember)
	out.ValueDtor = b.fn("C4Value::~C4Value", native.ConvMember)
	out.StrBufDtor = b.fn("StdStrBuf::~StdStrBuf", native.ConvMember)
	out.GrabPointer = b.fn("StdStrBuf::GrabPointer", native.ConvMember)
	out.New = b.fn("operator new", native.ConvWin64)
	out.Delete = b.fn("operator delete", native.ConvWin64)
	out.Free = native.Func{Name: "free", Addr: b.addr(opts.CRTModule, "free"), Conv: native.ConvWin64}

	if opts.CaptureErrors {
		out.ShowError = b.fn("C4AulError::show", native.ConvMember)
		out.ErrorMessageOffset = b.offset("C4AulError", "sMessage")
	}

	if b.err != nil {
		Logger().Error("binding resolution failed", zap.Error(b.err))
		return nil, b.err
	}

	// Optional: the host console.
	if addr, err := loc.Locate(module.Name, "Log"); err == nil {
		out.Log = native.Func{Name: "Log", Addr: addr, Conv: native.ConvWin64}
	} else {
		Logger().Debug("host log sink not found", zap.Error(err))
	}

	if out.StrBuf.Size == 0 || out.ControlScriptSize == 0 || out.ValueSize == 0 {
		return nil, errors.InvalidData(errors.PhaseBridge, "debug data reports a zero-sized type")
	}
	return out, nil
}
