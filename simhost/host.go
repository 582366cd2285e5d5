package simhost

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/wippyai/scriptbridge"
	"github.com/wippyai/scriptbridge/mainthread"
	"github.com/wippyai/scriptbridge/native"
)

// Options configures a simulated host.
type Options struct {
	// Engine evaluates scripts. Defaults to a CUE engine.
	Engine Engine
	// LeafErrorReporter maps C4AulError::show as a function too short to
	// redirect, so attaching a hook to it fails.
	LeafErrorReporter bool
}

// Host is a running simulated game.
type Host struct {
	Arena   *Arena
	Image   *Image
	Machine *Machine
	Loop    *mainthread.Loop

	engine Engine
	thread *Thread

	game        uintptr
	config      uintptr
	packetTable uintptr
	scriptTable uintptr
	showError   uintptr

	mu      sync.Mutex
	pending []uintptr
	logged  []string

	directExecs atomic.Int64
	inputs      atomic.Int64
	deletes     atomic.Int64
	errorsShown atomic.Int64
}

// New lays out a host with a running scenario, networking off, no replay and
// no league, and starts its main loop.
func New(opts Options) *Host {
	if opts.Engine == nil {
		opts.Engine = NewCUEEngine()
	}
	a := NewArena()
	h := &Host{
		Arena:   a,
		Machine: NewMachine(a),
		engine:  opts.Engine,
		thread:  &Thread{id: 1},
	}
	h.Image = newImage(a.Map(pageSize))
	h.game = a.Map(gameSize)
	h.config = a.Map(configSize)
	h.Image.define(ModuleName, "Game", h.game)
	h.Image.define(ModuleName, "Config", h.config)

	h.defineRuntime()
	h.defineControl(opts.LeafErrorReporter)
	h.SetRunning(true)

	h.Loop = mainthread.NewLoop(h.frame)
	return h
}

// Close stops the main loop.
func (h *Host) Close() {
	h.Loop.Stop()
}

// Module describes the host executable.
func (h *Host) Module() native.Module {
	return native.Module{
		Name: ModuleName,
		Path: `C:\Games\LegacyClonk\Clonk.exe`,
		Base: h.Image.Base(),
	}
}

// MainThread returns the thread that runs the main loop.
func (h *Host) MainThread() *Thread { return h.thread }

func (h *Host) define(module, name string, impl Impl) uintptr {
	addr := h.Machine.Define(name, impl)
	h.Image.define(module, name, addr)
	return addr
}

func (h *Host) alloc(size uintptr) uintptr {
	addr, err := h.Arena.Alloc(size)
	if err != nil {
		return 0
	}
	return addr
}

func (h *Host) defineRuntime() {
	h.define(ModuleName, "operator new", func(args []uintptr) uintptr {
		return h.alloc(args[0])
	})
	h.define(ModuleName, "operator delete", func(args []uintptr) uintptr {
		h.Arena.Free(args[0])
		return 0
	})
	h.define(CRTModule, "free", func(args []uintptr) uintptr {
		h.Arena.Free(args[0])
		return 0
	})
	h.define(ModuleName, "Log", func(args []uintptr) uintptr {
		text, err := readRaw(h.Arena, args[0])
		if err != nil {
			return 0
		}
		h.log(text)
		return 1
	})

	h.define(ModuleName, "StdStrBuf::Copy", func(args []uintptr) uintptr {
		h.copyStrBuf(args[0])
		return 0
	})
	h.define(ModuleName, "StdStrBuf::GrabPointer", func(args []uintptr) uintptr {
		buf := args[0]
		data, _ := scriptbridge.ReadPtr(h.Arena, buf+strBufData)
		_ = scriptbridge.WritePtr(h.Arena, buf+strBufData, 0)
		_ = h.Arena.WriteU64(buf+strBufBytes, 0)
		return data
	})
	h.define(ModuleName, "StdStrBuf::~StdStrBuf", func(args []uintptr) uintptr {
		h.freeStrBuf(args[0])
		return 0
	})

	h.define(ModuleName, "C4Value::GetDataString", func(args []uintptr) uintptr {
		value, ret := args[0], args[1]
		text := "nil"
		if kind, _ := h.Arena.ReadU8(value + valueType); kind == valueTypeString {
			data, _ := scriptbridge.ReadPtr(h.Arena, value+valueData)
			text, _ = readRaw(h.Arena, data)
		}
		h.writeStrBuf(ret, text)
		return ret
	})
	h.define(ModuleName, "C4Value::~C4Value", func(args []uintptr) uintptr {
		value := args[0]
		if kind, _ := h.Arena.ReadU8(value + valueType); kind == valueTypeString {
			data, _ := scriptbridge.ReadPtr(h.Arena, value+valueData)
			h.Arena.Free(data)
		}
		_ = scriptbridge.Zero(h.Arena, value, valueSize)
		return 0
	})
}

func (h *Host) log(text string) {
	h.mu.Lock()
	h.logged = append(h.logged, text)
	h.mu.Unlock()
	Logger().Info("host log", zap.String("text", text))
}

// readRaw reads a NUL-terminated string without validating its encoding.
func readRaw(mem scriptbridge.Memory, addr uintptr) (string, error) {
	var out []byte
	for {
		b, err := mem.ReadU8(addr + uintptr(len(out)))
		if err != nil {
			return "", err
		}
		if b == 0 {
			return string(out), nil
		}
		out = append(out, b)
	}
}

// writeStrBuf stores an owned copy of text in the buffer at buf.
func (h *Host) writeStrBuf(buf uintptr, text string) {
	data := h.alloc(uintptr(len(text) + 1))
	_ = scriptbridge.WriteCString(h.Arena, data, text)
	_ = h.Arena.WriteU8(buf+strBufRef, 0)
	_ = scriptbridge.WritePtr(h.Arena, buf+strBufData, data)
	_ = h.Arena.WriteU64(buf+strBufBytes, uint64(len(text)+1))
}

func (h *Host) copyStrBuf(buf uintptr) {
	src, _ := scriptbridge.ReadPtr(h.Arena, buf+strBufData)
	size, _ := h.Arena.ReadU64(buf + strBufBytes)
	if src == 0 || size == 0 {
		return
	}
	raw, err := h.Arena.Read(src, int(size))
	if err != nil {
		Logger().Warn("StdStrBuf::Copy read failed", zap.Error(err))
		return
	}
	dst := h.alloc(uintptr(size))
	_ = h.Arena.Write(dst, raw)
	_ = h.Arena.WriteU8(buf+strBufRef, 0)
	_ = scriptbridge.WritePtr(h.Arena, buf+strBufData, dst)
}

func (h *Host) freeStrBuf(buf uintptr) {
	ref, _ := h.Arena.ReadU8(buf + strBufRef)
	data, _ := scriptbridge.ReadPtr(h.Arena, buf+strBufData)
	if ref == 0 && data != 0 {
		h.Arena.Free(data)
	}
	_ = scriptbridge.Zero(h.Arena, buf, strBufSize)
}

// Log returns the lines written to the host console.
func (h *Host) Log() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.logged...)
}

// DirectExecs reports how many times the script engine's entry point ran.
func (h *Host) DirectExecs() int { return int(h.directExecs.Load()) }

// Inputs reports how many control packets were submitted.
func (h *Host) Inputs() int { return int(h.inputs.Load()) }

// Deletes reports how many control packets the host destroyed.
func (h *Host) Deletes() int { return int(h.deletes.Load()) }

// ErrorsShown reports how many script errors reached the reporter.
func (h *Host) ErrorsShown() int { return int(h.errorsShown.Load()) }

// Posts reports how many work items were posted to the main loop.
func (h *Host) Posts() int { return h.Loop.Posts() }

// SetRunning sets whether a scenario is running.
func (h *Host) SetRunning(running bool) {
	_ = h.Arena.WriteU8(h.game+gameIsRunning, uint8(native.Bool(running)))
}

// SetNetwork sets the network state and whether this instance is the host.
func (h *Host) SetNetwork(enabled, isHost bool) {
	_ = h.Arena.WriteU32(h.game+gameNetwork+networkStatus+statusState, uint32(native.Bool(enabled)))
	_ = h.Arena.WriteU8(h.game+gameNetwork+networkHost, uint8(native.Bool(isHost)))
}

// SetControlMode sets the game control mode; 3 is replay playback.
func (h *Host) SetControlMode(mode int32) {
	_ = h.Arena.WriteU32(h.game+gameControl+controlMode, uint32(mode))
}

// SetReplay switches replay playback on or off.
func (h *Host) SetReplay(replay bool) {
	mode := int32(1)
	if replay {
		mode = replayMode
	}
	h.SetControlMode(mode)
}

// SetAllowReplayScripting sets the configuration flag allowing scripts in
// replays.
func (h *Host) SetAllowReplayScripting(allow bool) {
	_ = h.Arena.WriteU8(h.config+configGeneral+generalReplay, uint8(native.Bool(allow)))
}

// SetLeagueAddress sets the league server address; "" means no league.
func (h *Host) SetLeagueAddress(addr string) {
	buf := h.game + gameParameters + parametersLeague
	h.freeStrBuf(buf)
	if addr != "" {
		h.writeStrBuf(buf, addr)
	}
}
